package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type countingReloader struct{ n atomic.Int32 }

func (c *countingReloader) Reload() error {
	c.n.Add(1)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_ReloadsEngineOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policies.yaml", packA)
	e := NewEngine(path)
	if e.State() != StateLoaded || e.Policies()[0].Name != "pack-a-block" {
		t.Fatalf("initial load: %+v", e.Status())
	}

	w, err := NewWatcher(e, path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher goroutine a moment to start draining events.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(packB), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		ps := e.Policies()
		return len(ps) == 1 && ps[0].Name == "pack-b-warn"
	})

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policies.yaml", packA)
	target := &countingReloader{}

	w, err := NewWatcher(target, path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(packA), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, func() bool { return target.n.Load() >= 1 })
	time.Sleep(400 * time.Millisecond)
	if n := target.n.Load(); n != 1 {
		t.Errorf("reloads = %d, want 1", n)
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policies.yaml", packA)
	target := &countingReloader{}

	w, err := NewWatcher(target, path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	writeFile(t, dir, "notes.txt", "hello")
	time.Sleep(200 * time.Millisecond)
	if n := target.n.Load(); n != 0 {
		t.Errorf("reloads = %d, want 0", n)
	}
}

func TestNewWatcher_MissingPath(t *testing.T) {
	if _, err := NewWatcher(&countingReloader{}, filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("expected error for missing path")
	}
}
