package codec

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/planes"
)

// rawSurface is an input surface for codecs that consume raw frames: each
// presented image is converted to I420 and queued as input.
type rawSurface struct {
	width, height int
	queue         func(buf []byte, pts time.Duration) error

	mu       sync.Mutex
	buf      []byte
	released bool
}

func newRawSurface(width, height int, queue func([]byte, time.Duration) error) *rawSurface {
	return &rawSurface{width: width, height: height, queue: queue}
}

func (s *rawSurface) Size() (int, int) { return s.width, s.height }

func (s *rawSurface) Present(img image.Image, pts time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return media.NewError(media.KindStateViolation, "present", media.ErrSessionClosed)
	}
	b := img.Bounds()
	if b.Dx() != s.width || b.Dy() != s.height {
		return media.NewError(media.KindFrame, "present", fmt.Errorf("image %dx%d does not match surface %dx%d", b.Dx(), b.Dy(), s.width, s.height))
	}
	s.buf = planes.FromImage(img, s.buf)
	return s.queue(s.buf, pts)
}

func (s *rawSurface) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.buf = nil
	return nil
}
