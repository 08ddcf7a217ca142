package codec

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/livenode/internal/media"
)

// SyntheticOptions shape the behavior of a Synthetic codec.
type SyntheticOptions struct {
	// NoSurface makes CreateInputSurface fail with ErrSurfaceUnsupported.
	NoSurface bool
	// LeadingDeltas emits this many non-IDR pictures before the first IDR.
	LeadingDeltas int
	// FailAfter makes DequeueOutput report a codec failure once this many
	// frames were queued (0 disables).
	FailAfter int
	// OutputSlots bounds outputs waiting to be dequeued (default 64).
	OutputSlots int
}

// Synthetic is an in-process codec producing a structurally valid H.264
// Annex-B stream (SPS, PPS, IDR and non-IDR slices) without encoding any
// pixels. It behaves like a hardware codec for tests and diagnostics.
type Synthetic struct {
	opts SyntheticOptions

	mu         sync.Mutex
	cfg        media.Config
	configured bool
	started    bool
	stopped    bool
	surface    *rawSurface
	outputs    chan Output
	frames     int
	sentFormat bool

	keyframeRequested atomic.Bool
	keyframeRequests  atomic.Int64
	released          atomic.Int64
	outstanding       atomic.Int64
}

// NewSynthetic creates a synthetic codec.
func NewSynthetic(opts SyntheticOptions) *Synthetic {
	if opts.OutputSlots <= 0 {
		opts.OutputSlots = 64
	}
	return &Synthetic{opts: opts}
}

// SyntheticFactory returns a factory creating fresh synthetic codecs. Each
// created codec is passed to created when it is non-nil.
func SyntheticFactory(opts SyntheticOptions, created func(*Synthetic)) Factory {
	return func(context.Context, media.Config) (Codec, error) {
		c := NewSynthetic(opts)
		if created != nil {
			created(c)
		}
		return c, nil
	}
}

// Synthetic parameter sets: constrained baseline, level 3.1.
var (
	syntheticSPS = []byte{0x67, ProfileBaseline, 0xE0, 31, 0xDA, 0x01, 0x40, 0x16, 0xE8, 0x40}
	syntheticPPS = []byte{0x68, 0xCE, 0x38, 0x80}
)

func (c *Synthetic) Name() string { return "synthetic" }

func (c *Synthetic) Configure(cfg media.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return media.NewError(media.KindStateViolation, "configure", fmt.Errorf("codec already started"))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.configured = true
	c.outputs = make(chan Output, c.opts.OutputSlots)
	return nil
}

func (c *Synthetic) CreateInputSurface() (media.Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.configured || c.started {
		return nil, media.NewError(media.KindStateViolation, "create input surface", fmt.Errorf("surface must be created after configure and before start"))
	}
	if c.opts.NoSurface {
		return nil, ErrSurfaceUnsupported
	}
	c.surface = newRawSurface(c.cfg.Width, c.cfg.Height, c.QueueInput)
	return c.surface, nil
}

func (c *Synthetic) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.configured {
		return media.NewError(media.KindStateViolation, "start", fmt.Errorf("codec not configured"))
	}
	c.started = true
	return nil
}

func (c *Synthetic) InputBufferSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return media.I420Size(c.cfg.Width, c.cfg.Height)
}

// QueueInput turns one raw frame into outputs: the format and parameter
// sets before the first picture, then one picture per frame.
func (c *Synthetic) QueueInput(buf []byte, pts time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.stopped {
		return media.NewError(media.KindStateViolation, "queue input", media.ErrSessionClosed)
	}
	if size := media.I420Size(c.cfg.Width, c.cfg.Height); len(buf) > size {
		return media.NewError(media.KindFrame, "queue input", fmt.Errorf("%w: %d > %d", media.ErrInputTooLarge, len(buf), size))
	}
	// Room for a picture plus format and config on the first frame
	if cap(c.outputs)-len(c.outputs) < 3 {
		return media.NewError(media.KindFrame, "queue input", media.ErrNoInputBuffer)
	}

	if !c.sentFormat {
		c.sentFormat = true
		c.outputs <- Output{Kind: OutputFormatChanged, Format: c.format()}
		c.emit(JoinAnnexB(syntheticSPS, syntheticPPS), pts, media.FlagConfig)
	}

	n := c.frames
	c.frames++

	idr := false
	if n >= c.opts.LeadingDeltas {
		idr = (n-c.opts.LeadingDeltas)%c.cfg.GOP() == 0 || c.keyframeRequested.Swap(false)
	}
	c.emit(JoinAnnexB(slice(idr, uint32(n), checksum(buf))), pts, pictureFlags(idr))
	return nil
}

func (c *Synthetic) emit(payload []byte, pts time.Duration, flags media.UnitFlags) {
	c.outstanding.Add(1)
	c.outputs <- Output{Kind: OutputBuffer, Payload: payload, PTS: pts, Flags: flags}
}

func (c *Synthetic) format() media.Format {
	profile, level := SPSProfileLevel(syntheticSPS)
	return media.Format{
		Codec:   media.CodecH264,
		Width:   c.cfg.Width,
		Height:  c.cfg.Height,
		FPS:     c.cfg.FPS,
		Bitrate: c.cfg.Bitrate,
		Profile: profile,
		Level:   level,
		SPS:     syntheticSPS,
		PPS:     syntheticPPS,
		Encoder: c.Name(),
	}
}

func (c *Synthetic) DequeueOutput(timeout time.Duration) (Output, error) {
	c.mu.Lock()
	outputs := c.outputs
	failed := c.opts.FailAfter > 0 && c.frames >= c.opts.FailAfter
	c.mu.Unlock()

	if outputs == nil {
		return Output{}, media.NewError(media.KindStateViolation, "dequeue output", fmt.Errorf("codec not configured"))
	}
	if failed {
		return Output{}, media.NewError(media.KindCodecFailed, "dequeue output", fmt.Errorf("synthetic failure after %d frames", c.opts.FailAfter))
	}

	select {
	case out := <-outputs:
		return out, nil
	default:
	}
	if timeout <= 0 {
		return Output{}, nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case out := <-outputs:
		return out, nil
	case <-t.C:
		return Output{}, nil
	}
}

func (c *Synthetic) ReleaseOutput(out Output) {
	if out.Kind == OutputBuffer {
		c.outstanding.Add(-1)
	}
}

func (c *Synthetic) RequestKeyframe() error {
	c.keyframeRequests.Add(1)
	c.keyframeRequested.Store(true)
	return nil
}

func (c *Synthetic) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

func (c *Synthetic) Release() error {
	c.mu.Lock()
	c.stopped = true
	surface := c.surface
	c.surface = nil
	c.mu.Unlock()

	// The surface calls back into the codec, so release it unlocked
	if surface != nil {
		_ = surface.Release()
	}
	c.released.Add(1)
	return nil
}

// Frames returns the number of frames queued so far.
func (c *Synthetic) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// KeyframeRequests returns how often RequestKeyframe was called.
func (c *Synthetic) KeyframeRequests() int64 { return c.keyframeRequests.Load() }

// Released returns how often Release was called.
func (c *Synthetic) Released() int64 { return c.released.Load() }

// Outstanding returns buffers dequeued but not yet released.
func (c *Synthetic) Outstanding() int64 { return c.outstanding.Load() }

func pictureFlags(idr bool) media.UnitFlags {
	if idr {
		return media.FlagKeyframe
	}
	return media.FlagDelta
}

// slice builds a single-slice picture. The byte after the NAL header has
// its top bit set so first_mb_in_slice decodes as 0; the counters are spread
// over 7-bit groups with the top bit set so no start code can appear.
func slice(idr bool, n uint32, sum uint32) []byte {
	nal := make([]byte, 0, 12)
	if idr {
		nal = append(nal, 0x65)
	} else {
		nal = append(nal, 0x41)
	}
	nal = append(nal, 0x88)
	nal = appendSeptets(nal, n)
	nal = appendSeptets(nal, sum)
	return nal
}

func appendSeptets(b []byte, v uint32) []byte {
	for shift := 28; shift >= 0; shift -= 7 {
		b = append(b, 0x80|byte(v>>uint(shift))&0x7F)
	}
	return b
}

// checksum folds the frame into the payload so different content yields
// different pictures.
func checksum(buf []byte) uint32 {
	var sum uint32
	for i := 0; i < len(buf); i += 64 {
		sum = sum*31 + uint32(buf[i])
	}
	return sum
}
