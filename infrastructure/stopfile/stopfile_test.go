package stopfile

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatch_FiresOnCreate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var fired atomic.Int32

	w, err := Watch(filepath.Join(dir, DefaultName), func() { fired.Add(1) })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if fired.Load() != 0 {
		t.Fatal("fired before the file existed")
	}

	if err := os.WriteFile(filepath.Join(dir, DefaultName), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return fired.Load() == 1 })

	// Further writes do not fire again.
	if err := os.WriteFile(filepath.Join(dir, DefaultName), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("fired %d times, want 1", got)
	}
}

func TestWatch_ExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, DefaultName)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	var fired atomic.Int32
	w, err := Watch(path, func() { fired.Add(1) })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if fired.Load() != 1 {
		t.Errorf("fired = %d, want 1 for a pre-existing file", fired.Load())
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var fired atomic.Int32
	w, err := Watch(filepath.Join(dir, DefaultName), func() { fired.Add(1) })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "other"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("fired for an unrelated file")
	}
}

func TestWatch_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Watch(filepath.Join(t.TempDir(), DefaultName), nil); err == nil {
		t.Error("expected error for nil callback")
	}
	if _, err := Watch(filepath.Join(t.TempDir(), "missing", DefaultName), func() {}); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	t.Parallel()

	w, err := Watch(filepath.Join(t.TempDir(), DefaultName), func() {})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
