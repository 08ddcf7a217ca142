package encoder

import (
	"errors"
	"time"

	"github.com/smazurov/livenode/internal/codec"
	"github.com/smazurov/livenode/internal/media"
)

// InputStrategy is how raw frames reach the codec.
type InputStrategy interface {
	// Kind is InputSurface or InputBuffer.
	Kind() media.InputStrategy
	// Surface returns the encoder-owned surface (surface strategy only).
	Surface() media.Surface
	// Submit queues a packed I420 frame (buffer strategy only).
	Submit(buf []byte, ts time.Duration) error
	release()
}

// surfaceInput renders through the GPU into an encoder surface. Frames are
// presented by the compositor, never submitted.
type surfaceInput struct {
	surface media.Surface
}

func (s *surfaceInput) Kind() media.InputStrategy { return media.InputSurface }
func (s *surfaceInput) Surface() media.Surface    { return s.surface }

func (s *surfaceInput) Submit([]byte, time.Duration) error {
	return media.NewError(media.KindStateViolation, "submit", media.ErrWrongInputMode)
}

func (s *surfaceInput) release() {
	_ = s.surface.Release()
}

// bufferInput submits CPU-packed frames straight to the codec.
type bufferInput struct {
	codec codec.Codec
	limit int
}

func (b *bufferInput) Kind() media.InputStrategy { return media.InputBuffer }
func (b *bufferInput) Surface() media.Surface    { return nil }

func (b *bufferInput) Submit(buf []byte, ts time.Duration) error {
	if len(buf) > b.limit {
		return media.NewError(media.KindFrame, "submit", media.ErrInputTooLarge)
	}
	return b.codec.QueueInput(buf, ts)
}

func (b *bufferInput) release() {}

// chooseInput creates the strategy after Configure and before Start.
func chooseInput(c codec.Codec, want media.InputStrategy) (InputStrategy, error) {
	if want == media.InputBuffer {
		return &bufferInput{codec: c, limit: c.InputBufferSize()}, nil
	}

	surface, err := c.CreateInputSurface()
	switch {
	case err == nil:
		return &surfaceInput{surface: surface}, nil
	case errors.Is(err, codec.ErrSurfaceUnsupported) && want == media.InputAuto:
		return &bufferInput{codec: c, limit: c.InputBufferSize()}, nil
	case errors.Is(err, codec.ErrSurfaceUnsupported):
		return nil, media.NewError(media.KindConfiguration, "create input surface", err)
	default:
		return nil, err
	}
}
