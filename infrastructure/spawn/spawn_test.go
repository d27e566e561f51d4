package spawn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoroutineProcess_Lifecycle(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	p := NewGoroutineSpawner().Spawn(3, func(ctx context.Context) error {
		<-release
		return nil
	})

	if p.Index() != 3 {
		t.Errorf("Index() = %d, want 3", p.Index())
	}
	if p.IsAlive() {
		t.Error("IsAlive() should be false before Start")
	}
	if err := p.Wait(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Wait() before Start error = %v, want ErrNotStarted", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if !p.IsAlive() {
		t.Error("IsAlive() should be true while running")
	}

	close(release)
	if err := p.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if p.IsAlive() {
		t.Error("IsAlive() should be false after exit")
	}
}

func TestGoroutineProcess_Error(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := NewGoroutineSpawner().Spawn(0, func(ctx context.Context) error {
		return boom
	})
	_ = p.Start(context.Background())

	if err := p.Wait(); !errors.Is(err, boom) {
		t.Errorf("Wait() error = %v, want boom", err)
	}
	if !errors.Is(p.Err(), boom) {
		t.Errorf("Err() = %v, want boom", p.Err())
	}
}

func TestGoroutineProcess_Panic(t *testing.T) {
	t.Parallel()

	p := NewGoroutineSpawner().Spawn(1, func(ctx context.Context) error {
		panic("kaboom")
	})
	_ = p.Start(context.Background())

	if err := p.Wait(); !errors.Is(err, ErrProcessPanic) {
		t.Errorf("Wait() error = %v, want ErrProcessPanic", err)
	}
}

func TestStartAllWaitAll(t *testing.T) {
	t.Parallel()

	var ran atomic.Int32
	boom := errors.New("worker 2 failed")

	procs, err := StartAll(context.Background(), NewGoroutineSpawner(), 4, func(index int) Func {
		return func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			if index == 2 {
				return boom
			}
			return nil
		}
	})
	if err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if len(procs) != 4 {
		t.Fatalf("StartAll() returned %d processes, want 4", len(procs))
	}

	errs := WaitAll(procs)
	if ran.Load() != 4 {
		t.Errorf("ran %d workers, want 4", ran.Load())
	}
	for i, err := range errs {
		if i == 2 {
			if !errors.Is(err, boom) {
				t.Errorf("worker 2 error = %v, want boom", err)
			}
			continue
		}
		if err != nil {
			t.Errorf("worker %d error = %v", i, err)
		}
	}
}
