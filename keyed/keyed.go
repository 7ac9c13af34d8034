// Package keyed implements a latest-value channel carrying a mapping
// from keys to values. Each key behaves as an independent latest-value
// slot: a send replaces the unread value for that key only, and a
// single receive atomically drains every key with a pending update.
//
// A keyed channel is equivalent to one scalar channel per key (see the
// parent package), except that all keys share one lock and one receive
// observes a consistent snapshot across them instead of racing
// key by key.
package keyed

import (
	"sync"
	"sync/atomic"

	"github.com/creachadair/latest"
	"github.com/creachadair/mds/value"
)

// An Entry is a key together with the most recent value sent for it.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// New constructs a new keyed channel and returns its sender and
// receiver halves. Additional senders are made by cloning the first; a
// channel has exactly one receiver.
//
// Failures are reported with the sentinel errors of the parent
// package: latest.ErrClosed, latest.ErrWouldBlock, latest.ErrNoValue.
func New[K comparable, V any]() (*Sender[K, V], *Receiver[K, V]) {
	c := &cell[K, V]{m: make(map[K]value.Maybe[V])}
	c.senders.Store(1)
	return &Sender[K, V]{c: c}, &Receiver[K, V]{c: c}
}

// A cell is the storage shared by all handles of a channel. The mutex
// guards m, noRecv, and broken; the sender count lives outside the
// lock so that cloning a sender never contends with channel
// operations.
//
// A drained key stays in m with no pending value. Keys are never
// removed once sent.
type cell[K comparable, V any] struct {
	senders atomic.Int32 // live (unclosed) senders

	mu     sync.Mutex
	m      map[K]value.Maybe[V]
	noRecv bool // the receiver was closed
	broken bool // an update panicked while holding mu
}

// put replaces the pending value for key. The caller must hold mu.
//
// Inserting into m can panic if K is an interface type and key holds
// an uncomparable dynamic value; that breaks the cell before the panic
// continues.
func (c *cell[K, V]) put(key K, val V) error {
	if c.broken || c.noRecv {
		return latest.ErrClosed
	}
	defer c.poison()
	c.m[key] = value.Just(val)
	return nil
}

// update replaces the pending value for key with f applied to the
// key's current pending state. The caller must hold mu.
func (c *cell[K, V]) update(key K, f func(value.Maybe[V]) V) error {
	if c.broken || c.noRecv {
		return latest.ErrClosed
	}
	defer c.poison()
	c.m[key] = value.Just(f(c.m[key]))
	return nil
}

// drain removes and returns all pending entries. The caller must hold
// mu.
func (c *cell[K, V]) drain() ([]Entry[K, V], error) {
	if c.broken || c.senders.Load() == 0 {
		clear(c.m)
		return nil, latest.ErrClosed
	}
	var batch []Entry[K, V]
	for key, mv := range c.m {
		if v, ok := mv.GetOK(); ok {
			batch = append(batch, Entry[K, V]{Key: key, Value: v})
			c.m[key] = value.Absent[V]()
		}
	}
	if len(batch) == 0 {
		return nil, latest.ErrNoValue
	}
	return batch, nil
}

// poison marks the cell broken if the calling goroutine is panicking,
// then allows the panic to continue. It must be deferred with mu held.
func (c *cell[K, V]) poison() {
	if x := recover(); x != nil {
		c.broken = true
		panic(x)
	}
}

// A Sender is the writing half of a keyed channel. Each send replaces
// the unread value for its key and leaves every other key untouched; a
// send blocks only while the channel lock is contended, never waiting
// for the receiver.
//
// A Sender may be cloned to give each producer its own handle; all
// clones write to the same channel.
type Sender[K comparable, V any] struct {
	c      *cell[K, V]
	closed atomic.Bool
}

// Send delivers val under key, replacing any unread value for that
// key. It blocks only while the channel lock is held by a concurrent
// operation. If the channel is closed, Send reports latest.ErrClosed
// and the pair is not delivered.
func (s *Sender[K, V]) Send(key K, val V) error {
	if s.closed.Load() {
		return latest.ErrClosed
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.put(key, val)
}

// TrySend is like Send but never blocks: if the channel lock is held
// by a concurrent operation it reports latest.ErrWouldBlock
// immediately.
func (s *Sender[K, V]) TrySend(key K, val V) error {
	if s.closed.Load() {
		return latest.ErrClosed
	}
	if !s.c.mu.TryLock() {
		return latest.ErrWouldBlock
	}
	defer s.c.mu.Unlock()
	return s.c.put(key, val)
}

// Update calls f with the pending state for key and replaces that
// state with the value f returns, all under the channel lock. The
// argument to f is absent if key has no unread value.
//
// If f panics, the channel becomes broken: the panic propagates to the
// caller of Update, and every further operation on either half of the
// channel reports latest.ErrClosed.
func (s *Sender[K, V]) Update(key K, f func(value.Maybe[V]) V) error {
	if s.closed.Load() {
		return latest.ErrClosed
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.update(key, f)
}

// Clone returns a new Sender that writes to the same channel as s.
// Clone adjusts the sender count without touching the channel lock, so
// it never blocks. Clone panics if s is already closed.
func (s *Sender[K, V]) Clone() *Sender[K, V] {
	if s.closed.Load() {
		panic("clone of a closed Sender")
	}
	s.c.senders.Add(1)
	return &Sender[K, V]{c: s.c}
}

// Close marks s closed and removes it from the channel's live senders.
// Once the last sender is closed, all further receiver operations
// report latest.ErrClosed. If s is already closed, Close reports
// latest.ErrClosed.
func (s *Sender[K, V]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return latest.ErrClosed
	}
	s.c.senders.Add(-1)
	return nil
}

// A Receiver is the reading half of a keyed channel. A receive drains
// every key with an unread value into one batch; it blocks only while
// the channel lock is contended, never waiting for a value to arrive.
//
// A channel has exactly one Receiver.
type Receiver[K comparable, V any] struct {
	c      *cell[K, V]
	closed atomic.Bool
}

// Recv takes every pending entry of the channel in one atomic batch,
// in unspecified order, leaving no key pending. It reports
// latest.ErrNoValue if no key has an unread value, and
// latest.ErrClosed if every sender has been closed or the channel is
// broken. Recv blocks only while the channel lock is held by a
// concurrent operation.
func (r *Receiver[K, V]) Recv() ([]Entry[K, V], error) {
	if r.closed.Load() {
		return nil, latest.ErrClosed
	}
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.c.drain()
}

// TryRecv is like Recv but never blocks: if the channel lock is held
// by a concurrent operation it reports latest.ErrWouldBlock
// immediately.
func (r *Receiver[K, V]) TryRecv() ([]Entry[K, V], error) {
	if r.closed.Load() {
		return nil, latest.ErrClosed
	}
	if !r.c.mu.TryLock() {
		return nil, latest.ErrWouldBlock
	}
	defer r.c.mu.Unlock()
	return r.c.drain()
}

// Close marks r closed. Every further operation on any sender reports
// latest.ErrClosed, and all undrained entries are discarded. If r is
// already closed, Close reports latest.ErrClosed.
func (r *Receiver[K, V]) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return latest.ErrClosed
	}
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	r.c.noRecv = true
	clear(r.c.m)
	return nil
}
