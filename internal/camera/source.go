// Package camera delivers raw frames from capture devices.
//
// A Source calls its registered callback on its own capture goroutine, in
// capture order. The callback must not block: the pipeline runs plane
// extraction inline and hands off through a keep-only-latest mailbox.
package camera

import (
	"context"
	"sync/atomic"

	"github.com/smazurov/livenode/internal/media"
)

// FrameCallback receives one captured frame. Ownership of the frame's
// buffers passes to the callee.
type FrameCallback func(media.Frame)

// Source is a camera.
type Source interface {
	Name() string
	// SetCallback replaces the frame callback; nil discards frames.
	SetCallback(cb FrameCallback)
	// SetErrorCallback registers cb, called once from the capture
	// goroutine when capture ends on its own. It must not block.
	SetErrorCallback(cb func(error))
	// Start begins capturing. Frames flow until Stop or ctx is done.
	Start(ctx context.Context) error
	// Stop ends capture and waits for the capture goroutine. Idempotent.
	Stop() error
}

// callbackSlot holds a swappable callback readable from the capture goroutine.
type callbackSlot struct {
	cb atomic.Pointer[FrameCallback]
}

func (s *callbackSlot) set(cb FrameCallback) {
	if cb == nil {
		s.cb.Store(nil)
		return
	}
	s.cb.Store(&cb)
}

// errorSlot holds the callback for capture that ends without Stop.
type errorSlot struct {
	cb atomic.Pointer[func(error)]
}

func (s *errorSlot) set(cb func(error)) {
	if cb == nil {
		s.cb.Store(nil)
		return
	}
	s.cb.Store(&cb)
}

func (s *errorSlot) report(err error) {
	if p := s.cb.Load(); p != nil {
		(*p)(err)
	}
}

func (s *callbackSlot) deliver(f media.Frame) bool {
	p := s.cb.Load()
	if p == nil {
		return false
	}
	(*p)(f)
	return true
}
