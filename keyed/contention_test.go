package keyed

import (
	"errors"
	"testing"

	"github.com/creachadair/latest"
)

// Pins the cell lock directly; no public operation holds it across a
// call boundary.

func TestTryContention(t *testing.T) {
	s, r := New[string, int]()

	s.c.mu.Lock()

	if err := s.TrySend("a", 1); !errors.Is(err, latest.ErrWouldBlock) {
		t.Errorf("TrySend while contended: got %v, want ErrWouldBlock", err)
	}
	if got, err := r.TryRecv(); !errors.Is(err, latest.ErrWouldBlock) {
		t.Errorf("TryRecv while contended: got %+v, %v; want ErrWouldBlock", got, err)
	}

	s.c.mu.Unlock()

	if err := s.TrySend("a", 1); err != nil {
		t.Errorf("TrySend: unexpected error: %v", err)
	}
	batch, err := r.TryRecv()
	if err != nil || len(batch) != 1 || batch[0].Key != "a" || batch[0].Value != 1 {
		t.Errorf("TryRecv: got %+v, %v; want [{a 1}], nil", batch, err)
	}
	if got, err := r.TryRecv(); !errors.Is(err, latest.ErrNoValue) {
		t.Errorf("TryRecv when drained: got %+v, %v; want ErrNoValue", got, err)
	}
}

func TestDrainKeepsKeys(t *testing.T) {
	s, r := New[string, int]()

	s.Send("a", 1)
	if _, err := r.Recv(); err != nil {
		t.Fatalf("Recv: unexpected error: %v", err)
	}

	// A drained key stays in the mapping with no pending value.
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	mv, ok := s.c.m["a"]
	if !ok {
		t.Error("Drained key was removed from the mapping")
	}
	if mv.Present() {
		t.Errorf("Drained key still pending: %v", mv)
	}
}
