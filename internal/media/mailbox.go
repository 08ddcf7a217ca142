package media

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot, keep-only-latest handoff between one producer
// and one consumer goroutine.
//
// Put never blocks: a frame that was not taken before the next Put is
// dropped and counted. Frames that are taken keep their Put order.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	closed bool

	puts  atomic.Uint64
	drops atomic.Uint64
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put stores f, replacing any frame not yet taken. It reports whether a
// previous frame was overwritten. Put after Close drops the frame.
func (m *Mailbox) Put(f Frame) (replaced bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.drops.Add(1)
		return false
	}
	m.puts.Add(1)
	if m.frame != nil {
		m.drops.Add(1)
		replaced = true
	}
	m.frame = &f
	m.cond.Signal()
	m.mu.Unlock()
	return replaced
}

// Take blocks until a frame is available, the mailbox is closed, or ctx is
// done. ok is false when no frame will ever be delivered.
func (m *Mailbox) Take(ctx context.Context) (f Frame, ok bool) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.frame == nil {
		if m.closed || ctx.Err() != nil {
			return Frame{}, false
		}
		m.cond.Wait()
	}
	f = *m.frame
	m.frame = nil
	return f, true
}

// TryTake returns the pending frame without blocking.
func (m *Mailbox) TryTake() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frame == nil {
		return Frame{}, false
	}
	f := *m.frame
	m.frame = nil
	return f, true
}

// Close wakes any waiting consumer and rejects further frames. A pending
// frame is discarded and counted as dropped.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		if m.frame != nil {
			m.frame = nil
			m.drops.Add(1)
		}
	}
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Puts returns the number of frames accepted by Put.
func (m *Mailbox) Puts() uint64 { return m.puts.Load() }

// Drops returns the number of frames overwritten or rejected.
func (m *Mailbox) Drops() uint64 { return m.drops.Load() }
