package camera

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
)

// SyntheticConfig shapes generated frames.
type SyntheticConfig struct {
	Width  int
	Height int
	FPS    int
	// RowPadding adds bytes at the end of every row, like camera HALs that
	// align strides.
	RowPadding int
	// SemiPlanar delivers chroma interleaved (pixel stride 2) as
	// YUV420Flexible, exercising the slow extraction path.
	SemiPlanar bool
	// UnsupportedAt delivers frame number N (1-based) as RGBA, which the
	// extractor rejects. 0 disables.
	UnsupportedAt int
	// Limit stops capture after this many frames. 0 means unlimited.
	Limit int
	// FailAfter ends capture with ErrCaptureFailed after this many frames,
	// like a camera that is unplugged. 0 disables.
	FailAfter int
}

// ErrCaptureFailed is reported by a synthetic camera configured to fail.
var ErrCaptureFailed = errors.New("synthetic capture failure")

// Synthetic generates a moving test pattern at a fixed rate.
type Synthetic struct {
	cfg    SyntheticConfig
	logger logging.Logger
	slot   callbackSlot
	errs   errorSlot

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	done    chan struct{}
}

// NewSynthetic creates a synthetic camera.
func NewSynthetic(cfg SyntheticConfig, logger logging.Logger) *Synthetic {
	if cfg.FPS <= 0 {
		cfg.FPS = media.DefaultFPS
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = media.DefaultWidth, media.DefaultHeight
	}
	return &Synthetic{cfg: cfg, logger: logger}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) SetCallback(cb FrameCallback) { s.slot.set(cb) }

func (s *Synthetic) SetErrorCallback(cb func(error)) { s.errs.set(cb) }

// Done is closed when the capture goroutine exits, including after Limit.
func (s *Synthetic) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Synthetic) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("camera already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.capture(ctx, s.done)
	s.logger.Info("Camera started", "source", s.Name(), "width", s.cfg.Width, "height", s.cfg.Height, "fps", s.cfg.FPS)
	return nil
}

func (s *Synthetic) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("Camera stopped", "source", s.Name())
	return nil
}

func (s *Synthetic) capture(ctx context.Context, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	start := time.Now()
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		seq++
		f := s.frame(seq, time.Since(start))
		s.slot.deliver(f)
		if s.cfg.Limit > 0 && int(seq) >= s.cfg.Limit {
			return
		}
		if s.cfg.FailAfter > 0 && int(seq) >= s.cfg.FailAfter {
			s.logger.Warn("Camera stream ended", "source", s.Name(), "frames", seq)
			s.errs.report(ErrCaptureFailed)
			return
		}
	}
}

// frame renders frame n. Luma is a diagonal gradient that moves one pixel
// per frame; chroma slowly cycles.
func (s *Synthetic) frame(n uint64, ts time.Duration) media.Frame {
	w, h := s.cfg.Width, s.cfg.Height
	if s.cfg.UnsupportedAt > 0 && int(n) == s.cfg.UnsupportedAt {
		return media.Frame{
			Planes:    []media.Plane{{Data: make([]byte, w*h*4), RowStride: w * 4, PixelStride: 4}},
			Width:     w,
			Height:    h,
			Format:    media.PixelFormatRGBA,
			Timestamp: ts,
			Seq:       n,
		}
	}

	cw, ch := media.ChromaWidth(w), media.ChromaHeight(h)
	yStride := w + s.cfg.RowPadding
	luma := make([]byte, yStride*h)
	for y := 0; y < h; y++ {
		row := luma[y*yStride:]
		for x := 0; x < w; x++ {
			row[x] = byte(x + y + int(n))
		}
	}
	u := byte(128 + int(n)%64)
	v := byte(128 - int(n)%64)

	f := media.Frame{Width: w, Height: h, Timestamp: ts, Seq: n, Format: media.PixelFormatYUV420Flexible}
	if s.cfg.SemiPlanar {
		cStride := 2*cw + s.cfg.RowPadding
		uv := make([]byte, cStride*ch)
		for y := 0; y < ch; y++ {
			for x := 0; x < cw; x++ {
				uv[y*cStride+2*x] = u
				uv[y*cStride+2*x+1] = v
			}
		}
		f.Planes = []media.Plane{
			{Data: luma, RowStride: yStride, PixelStride: 1},
			{Data: uv, RowStride: cStride, PixelStride: 2},
			{Data: uv[1:], RowStride: cStride, PixelStride: 2},
		}
		return f
	}

	cStride := cw + s.cfg.RowPadding
	up := make([]byte, cStride*ch)
	vp := make([]byte, cStride*ch)
	for i := range up {
		up[i], vp[i] = u, v
	}
	f.Planes = []media.Plane{
		{Data: luma, RowStride: yStride, PixelStride: 1},
		{Data: up, RowStride: cStride, PixelStride: 1},
		{Data: vp, RowStride: cStride, PixelStride: 1},
	}
	return f
}
