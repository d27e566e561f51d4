package shared

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCounter_ConcurrentIncrement(t *testing.T) {
	t.Parallel()

	c := NewCounter(0)
	const workers, perWorker = 8, 1000

	var wg sync.WaitGroup
	seen := make([]map[int64]bool, workers)
	for w := 0; w < workers; w++ {
		seen[w] = make(map[int64]bool)
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				seen[w][c.Increment()] = true
			}
		}(w)
	}
	wg.Wait()

	if got := c.Load(); got != workers*perWorker {
		t.Fatalf("Load() = %d, want %d", got, workers*perWorker)
	}

	// Every value handed out must be unique.
	all := make(map[int64]bool)
	for _, m := range seen {
		for v := range m {
			if all[v] {
				t.Fatalf("value %d returned twice", v)
			}
			all[v] = true
		}
	}
	if len(all) != workers*perWorker {
		t.Errorf("got %d distinct values, want %d", len(all), workers*perWorker)
	}
}

func TestNewCounters_StepOffset(t *testing.T) {
	t.Parallel()

	c := NewCounters(100)
	if c.GlobalStep.Load() != 100 {
		t.Errorf("GlobalStep = %d, want 100", c.GlobalStep.Load())
	}
	if c.Episodes.Load() != 0 {
		t.Errorf("Episodes = %d, want 0", c.Episodes.Load())
	}
	if c.GlobalStep.Increment() != 101 {
		t.Error("Increment() should return 101")
	}
}

func TestSignal_SetIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewSignal("stop")
	if s.IsSet() {
		t.Fatal("new signal should be unset")
	}
	if !s.Set() {
		t.Error("first Set() should report true")
	}
	if s.Set() {
		t.Error("second Set() should report false")
	}
	if !s.IsSet() {
		t.Error("signal should be set")
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done() should be closed after Set()")
	}
	if s.Name() != "stop" {
		t.Errorf("Name() = %s, want stop", s.Name())
	}
}

func TestSignal_ConcurrentSet(t *testing.T) {
	t.Parallel()

	s := NewSignal("exception")
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Set() {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firsts != 1 {
		t.Errorf("Set() reported first %d times, want 1", firsts)
	}
}

func TestSignal_Wait(t *testing.T) {
	t.Parallel()

	t.Run("returns when set", func(t *testing.T) {
		t.Parallel()
		s := NewSignal("process0_done")
		go func() {
			time.Sleep(5 * time.Millisecond)
			s.Set()
		}()
		if err := s.Wait(context.Background()); err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	})

	t.Run("returns on context cancel", func(t *testing.T) {
		t.Parallel()
		s := NewSignal("process0_done")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		if err := s.Wait(ctx); err == nil {
			t.Error("Wait() should fail when the context expires")
		}
	})
}

func TestSignals_Halted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		set  func(*Signals)
		want bool
	}{
		{"none", func(*Signals) {}, false},
		{"stop", func(s *Signals) { s.Stop.Set() }, true},
		{"exception", func(s *Signals) { s.Exception.Set() }, true},
		{"process0 done only", func(s *Signals) { s.Process0Done.Set() }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSignals()
			tt.set(s)
			if got := s.Halted(); got != tt.want {
				t.Errorf("Halted() = %v, want %v", got, tt.want)
			}
		})
	}
}
