// Package latest implements a pair of channel-like handles that carry
// only the most recently sent value. Unlike a Go channel, a send never
// queues behind unread values: it overwrites whatever the receiver has
// not yet taken, so the receiver always observes the freshest state and
// never anything older.
//
// Senders and receivers block only while the channel lock is contended,
// never waiting for the other side. Callers that want a bounded wait
// should poll with TrySend and TryRecv.
//
// The subpackage keyed provides the same contract for a set of
// independent per-key values, drained in one atomic batch.
package latest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/creachadair/mds/value"
)

var (
	// ErrClosed is the sentinel error reported when the counterpart
	// handles of a channel are gone, or the channel is broken, and the
	// operation can never succeed.
	ErrClosed = errors.New("channel is closed")

	// ErrWouldBlock is the sentinel error reported by TrySend and
	// TryRecv when the channel lock is held by a concurrent operation.
	ErrWouldBlock = errors.New("operation would block")

	// ErrNoValue is the sentinel error reported by Recv and TryRecv
	// when nothing has been sent since the last receive. It is a normal
	// outcome for a poller, not a failure of the channel.
	ErrNoValue = errors.New("no new value")
)

// New constructs a new channel and returns its sender and receiver
// halves. Additional senders are made by cloning the first; a channel
// has exactly one receiver.
func New[T any]() (*Sender[T], *Receiver[T]) {
	c := new(cell[T])
	c.senders.Store(1)
	return &Sender[T]{c: c}, &Receiver[T]{c: c}
}

// A cell is the storage shared by all handles of a channel.
//
// The mutex guards cur, noRecv, and broken. The sender count lives
// outside the lock so that cloning a sender never contends with
// channel operations.
type cell[T any] struct {
	senders atomic.Int32 // live (unclosed) senders

	μ      sync.Mutex
	cur    value.Maybe[T] // the pending update, if any
	noRecv bool           // the receiver was closed
	broken bool           // an update panicked while holding μ
}

// put replaces the pending value. The caller must hold μ.
func (c *cell[T]) put(v T) error {
	if c.broken || c.noRecv {
		return ErrClosed
	}
	c.cur = value.Just(v)
	return nil
}

// update replaces the pending value with f applied to the current
// pending state. A panic out of f marks the cell broken before it
// continues to propagate. The caller must hold μ.
func (c *cell[T]) update(f func(value.Maybe[T]) T) error {
	if c.broken || c.noRecv {
		return ErrClosed
	}
	defer c.poison()
	c.cur = value.Just(f(c.cur))
	return nil
}

// take removes and returns the pending value. The caller must hold μ.
func (c *cell[T]) take() (T, error) {
	var zero T
	if c.broken || c.senders.Load() == 0 {
		c.cur = value.Absent[T]()
		return zero, ErrClosed
	}
	v, ok := c.cur.GetOK()
	if !ok {
		return zero, ErrNoValue
	}
	c.cur = value.Absent[T]()
	return v, nil
}

// poison marks the cell broken if the calling goroutine is panicking,
// then allows the panic to continue. It must be deferred with μ held.
func (c *cell[T]) poison() {
	if x := recover(); x != nil {
		c.broken = true
		panic(x)
	}
}

// A Sender is the writing half of a channel. Each value sent replaces
// any value the receiver has not yet taken; a send blocks only while
// the channel lock is contended, never waiting for the receiver.
//
// A Sender may be cloned to give each producer its own handle; all
// clones write to the same channel. A Sender is safe to hand off to
// another goroutine, but a single handle must not be used from several
// goroutines at once without synchronization.
type Sender[T any] struct {
	c      *cell[T]
	closed atomic.Bool
}

// Send delivers v to the channel, replacing any value not yet
// received. It blocks only while the channel lock is held by a
// concurrent operation. If the channel is closed, Send reports
// ErrClosed and v is not delivered; the caller still holds v.
func (s *Sender[T]) Send(v T) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.c.μ.Lock()
	defer s.c.μ.Unlock()
	return s.c.put(v)
}

// TrySend is like Send but never blocks: if the channel lock is held
// by a concurrent operation it reports ErrWouldBlock immediately.
func (s *Sender[T]) TrySend(v T) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.c.μ.TryLock() {
		return ErrWouldBlock
	}
	defer s.c.μ.Unlock()
	return s.c.put(v)
}

// Update calls f with the pending state of the channel and replaces
// that state with the value f returns, all under the channel lock. The
// argument to f is absent if the receiver has taken everything sent so
// far.
//
// If f panics, the channel becomes broken: the panic propagates to the
// caller of Update, and every further operation on either half of the
// channel reports ErrClosed.
func (s *Sender[T]) Update(f func(value.Maybe[T]) T) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.c.μ.Lock()
	defer s.c.μ.Unlock()
	return s.c.update(f)
}

// Clone returns a new Sender that writes to the same channel as s.
// Clone adjusts the sender count without touching the channel lock, so
// it never blocks. Clone panics if s is already closed, since that
// could revive a channel the receiver has already seen close.
func (s *Sender[T]) Clone() *Sender[T] {
	if s.closed.Load() {
		panic("clone of a closed Sender")
	}
	s.c.senders.Add(1)
	return &Sender[T]{c: s.c}
}

// Close marks s closed and removes it from the channel's live senders.
// Once the last sender is closed, all further receiver operations
// report ErrClosed. If s is already closed, Close reports ErrClosed.
func (s *Sender[T]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	s.c.senders.Add(-1)
	return nil
}

// A Receiver is the reading half of a channel. A receive takes and
// clears the pending value if one exists; it blocks only while the
// channel lock is contended, never waiting for a value to arrive.
//
// A channel has exactly one Receiver. It is safe to hand off to
// another goroutine, but must not be used from several goroutines at
// once; distribute clones of the Sender instead.
type Receiver[T any] struct {
	c      *cell[T]
	closed atomic.Bool
}

// Recv takes the pending value, leaving the channel empty. It reports
// ErrNoValue if nothing has been sent since the last receive, and
// ErrClosed if every sender has been closed or the channel is broken.
// Recv blocks only while the channel lock is held by a concurrent
// operation.
func (r *Receiver[T]) Recv() (T, error) {
	if r.closed.Load() {
		var zero T
		return zero, ErrClosed
	}
	r.c.μ.Lock()
	defer r.c.μ.Unlock()
	return r.c.take()
}

// TryRecv is like Recv but never blocks: if the channel lock is held
// by a concurrent operation it reports ErrWouldBlock immediately.
func (r *Receiver[T]) TryRecv() (T, error) {
	var zero T
	if r.closed.Load() {
		return zero, ErrClosed
	}
	if !r.c.μ.TryLock() {
		return zero, ErrWouldBlock
	}
	defer r.c.μ.Unlock()
	return r.c.take()
}

// Close marks r closed. Every further operation on any sender reports
// ErrClosed, and any value not yet received is discarded, since
// nothing can ever take it. If r is already closed, Close reports
// ErrClosed.
func (r *Receiver[T]) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	r.c.μ.Lock()
	defer r.c.μ.Unlock()
	r.c.noRecv = true
	r.c.cur = value.Absent[T]()
	return nil
}
