package latest

import (
	"errors"
	"testing"
)

// These tests reach inside the cell to pin its lock, which cannot be
// done through the public surface because no channel operation holds
// the lock across a call boundary.

func TestTryContention(t *testing.T) {
	s, r := New[int]()

	s.c.μ.Lock()

	if err := s.TrySend(1); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("TrySend while contended: got %v, want ErrWouldBlock", err)
	}
	if got, err := r.TryRecv(); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("TryRecv while contended: got %v, %v; want ErrWouldBlock", got, err)
	}

	s.c.μ.Unlock()

	if err := s.TrySend(1); err != nil {
		t.Errorf("TrySend: unexpected error: %v", err)
	}
	if got, err := r.TryRecv(); got != 1 || err != nil {
		t.Errorf("TryRecv: got %v, %v; want 1, nil", got, err)
	}
	if got, err := r.TryRecv(); !errors.Is(err, ErrNoValue) {
		t.Errorf("TryRecv when drained: got %v, %v; want ErrNoValue", got, err)
	}
}

func TestCloneContended(t *testing.T) {
	s, _ := New[int]()

	// Cloning must not touch the channel lock.
	s.c.μ.Lock()
	defer s.c.μ.Unlock()

	s2 := s.Clone()
	if s2.c != s.c {
		t.Error("Clone does not share the original's cell")
	}
	if got := s.c.senders.Load(); got != 2 {
		t.Errorf("Sender count: got %d, want 2", got)
	}
}
