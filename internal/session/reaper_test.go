package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestReaperClosesOnlyIdleSessions(t *testing.T) {
	r := NewRegistry()
	stale := r.Create()
	fresh := r.Create()

	r.Update(stale.ID, func(s *Session) {
		s.LastActivityAt = time.Now().UTC().Add(-10 * time.Minute)
	})

	var mu sync.Mutex
	closed := map[string]int{}
	reaper := NewReaper(r, 5*time.Minute, time.Minute, func(id string) {
		mu.Lock()
		defer mu.Unlock()
		closed[id]++
	}, testLogger())

	reaper.sweep(time.Now().UTC())

	mu.Lock()
	defer mu.Unlock()
	if closed[stale.ID] != 1 {
		t.Fatalf("stale session closed %d times, want 1", closed[stale.ID])
	}
	if closed[fresh.ID] != 0 {
		t.Fatalf("fresh session should not be closed, got %d", closed[fresh.ID])
	}
}

func TestReaperDoesNotMutateRegistry(t *testing.T) {
	r := NewRegistry()
	stale := r.Create()
	r.Update(stale.ID, func(s *Session) {
		s.LastActivityAt = time.Now().UTC().Add(-time.Hour)
	})

	reaper := NewReaper(r, time.Minute, time.Minute, func(string) {}, testLogger())
	reaper.sweep(time.Now().UTC())

	if _, ok := r.Get(stale.ID); !ok {
		t.Fatalf("reaper must leave registry mutation to the close path")
	}
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := NewRegistry()
	reaper := NewReaper(r, time.Minute, 5*time.Millisecond, func(string) {}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reaper.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("reaper did not stop after cancel")
	}
}
