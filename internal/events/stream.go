package events

import (
	"sync/atomic"

	"github.com/kelindar/event"
)

// Stream gathers events of several types into one channel for a single
// slow consumer such as an SSE client. The dispatcher never waits on it:
// events that do not fit are dropped and counted.
type Stream struct {
	ch      chan any
	dropped atomic.Uint64
	unsubs  []func()
}

// NewStream returns a stream buffering up to size events.
func NewStream(size int) *Stream {
	return &Stream{ch: make(chan any, size)}
}

// Forward subscribes s to events of type T published on bus. Call it
// before handing the stream to its consumer.
func Forward[T Event](s *Stream, bus *Bus) {
	s.unsubs = append(s.unsubs, event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}))
}

// C returns the channel events arrive on.
func (s *Stream) C() <-chan any { return s.ch }

// Dropped reports how many events did not fit.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes from every forwarded type. The channel stays open.
func (s *Stream) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}
