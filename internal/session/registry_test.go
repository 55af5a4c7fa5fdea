package session

import (
	"testing"
	"time"
)

func TestRegistryCreateGetRemove(t *testing.T) {
	r := NewRegistry()
	s := r.Create()
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if s.State != StateConnecting {
		t.Fatalf("State = %q, want %q", s.State, StateConnecting)
	}

	got, ok := r.Get(s.ID)
	if !ok {
		t.Fatalf("Get() should find the session")
	}
	if got.ID != s.ID {
		t.Fatalf("ID = %q, want %q", got.ID, s.ID)
	}

	if !r.Remove(s.ID) {
		t.Fatalf("Remove() should report the entry existed")
	}
	if _, ok := r.Get(s.ID); ok {
		t.Fatalf("Get() should not find a removed session")
	}
	if r.Remove(s.ID) {
		t.Fatalf("Remove() on a removed session should be a no-op")
	}
}

func TestRegistryUpdateMissingIsNoOp(t *testing.T) {
	r := NewRegistry()
	called := false
	if r.Update("ghost", func(*Session) { called = true }) {
		t.Fatalf("Update() on missing id should return false")
	}
	if called {
		t.Fatalf("mutator should not run for a missing session")
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	s := r.Create()

	got, _ := r.Get(s.ID)
	got.UserID = "scribbled"

	fresh, _ := r.Get(s.ID)
	if fresh.UserID != "" {
		t.Fatalf("mutating a Get() result must not affect the registry")
	}
}

func TestRegistryTransition(t *testing.T) {
	r := NewRegistry()
	s := r.Create()

	if _, err := r.Transition(s.ID, StateConnecting, StateIdle); err != nil {
		t.Fatalf("Transition(connecting->idle) error = %v", err)
	}

	current, err := r.Transition(s.ID, StateIdle, StateSpeaking)
	if err != ErrInvalidState {
		t.Fatalf("Transition(idle->speaking) error = %v, want ErrInvalidState", err)
	}
	if current != StateIdle {
		t.Fatalf("state after rejected transition = %q, want unchanged %q", current, StateIdle)
	}

	// Stale from-state is rejected even if from->to would be legal.
	if _, err := r.Transition(s.ID, StateProcessing, StateSpeaking); err != ErrInvalidState {
		t.Fatalf("Transition with stale from = %v, want ErrInvalidState", err)
	}

	if _, err := r.Transition("ghost", StateIdle, StateProcessing); err != ErrNotFound {
		t.Fatalf("Transition on missing id = %v, want ErrNotFound", err)
	}
}

func TestRegistrySnapshotIsDetached(t *testing.T) {
	r := NewRegistry()
	a := r.Create()
	b := r.Create()

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() len = %d, want 2", len(snap))
	}
	r.Remove(a.ID)
	r.Remove(b.ID)
	if len(snap) != 2 {
		t.Fatalf("snapshot must not shrink after removals")
	}
}

func TestValidTransitionTable(t *testing.T) {
	all := []State{StateConnecting, StateIdle, StateListening, StateProcessing, StateSpeaking, StateDisconnected}

	allowed := map[State][]State{
		StateConnecting:   {StateIdle, StateDisconnected},
		StateIdle:         {StateListening, StateProcessing, StateDisconnected},
		StateListening:    {StateProcessing, StateDisconnected},
		StateProcessing:   {StateSpeaking, StateIdle, StateDisconnected},
		StateSpeaking:     {StateIdle, StateDisconnected},
		StateDisconnected: nil,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			if got := ValidTransition(from, to); got != want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestRegistryTouchBumpsActivity(t *testing.T) {
	r := NewRegistry()
	s := r.Create()

	r.Update(s.ID, func(in *Session) {
		in.LastActivityAt = time.Now().UTC().Add(-time.Hour)
	})
	r.Touch(s.ID)

	got, _ := r.Get(s.ID)
	if time.Since(got.LastActivityAt) > time.Minute {
		t.Fatalf("Touch() should refresh LastActivityAt, got %v", got.LastActivityAt)
	}
}
