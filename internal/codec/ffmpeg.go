package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/livenode/internal/encoders"
	"github.com/smazurov/livenode/internal/ffmpeg"
	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/metrics/collectors"
	"github.com/smazurov/livenode/internal/planes"
	"github.com/smazurov/livenode/internal/process"
)

const ffmpegOutputSlots = 64

// FFmpegOptions tune FFmpeg codecs.
type FFmpegOptions struct {
	// ProgressDir, when set, holds a unix socket per encoder process that
	// collects FFmpeg progress reports into metrics.
	ProgressDir string
}

// FFmpeg is a hardware codec backed by an FFmpeg subprocess: raw frames are
// written to stdin and an Annex-B H.264 stream is read from stdout.
//
// IDR pictures are forced on the GOP grid with -force_key_frames. FFmpeg
// offers no way to force one mid-stream through a pipe, so RequestKeyframe
// is honored at the next GOP boundary.
type FFmpeg struct {
	ctx       context.Context
	selection *encoders.Selection
	logger    logging.Logger
	opts      FFmpegOptions

	mu         sync.Mutex
	cfg        media.Config
	params     *ffmpeg.EncodeParams
	proc       *process.Process
	progress   *collectors.ProgressCollector
	surface    *rawSurface
	configured bool
	started    bool
	stopped    bool

	// PTS of queued frames; without B-frames output order matches input order
	ptsMu  sync.Mutex
	ptsQ   []time.Duration
	lastPT time.Duration

	outputs    chan Output
	quit       chan struct{}
	quitOnce   sync.Once
	readerDone chan struct{}
	readerErr  atomic.Pointer[error]

	keyframeRequests atomic.Int64
}

// NewFFmpeg creates a codec for an already selected encoder.
func NewFFmpeg(ctx context.Context, selection *encoders.Selection, logger logging.Logger, opts ...FFmpegOptions) *FFmpeg {
	c := &FFmpeg{ctx: ctx, selection: selection, logger: logger}
	if len(opts) > 0 {
		c.opts = opts[0]
	}
	return c
}

// NewFFmpegFactory selects an encoder with selector for every new session.
func NewFFmpegFactory(selector *encoders.Selector, logger logging.Logger, opts ...FFmpegOptions) Factory {
	return func(ctx context.Context, cfg media.Config) (Codec, error) {
		sel, err := selector.Select(ctx, cfg.Encoder)
		if err != nil {
			return nil, err
		}
		return NewFFmpeg(ctx, sel, logger, opts...), nil
	}
}

func (c *FFmpeg) Name() string { return c.selection.Encoder }

func (c *FFmpeg) Configure(cfg media.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return media.NewError(media.KindStateViolation, "configure", fmt.Errorf("codec already started"))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	_, level := LevelFor(cfg.Width, cfg.Height, cfg.FPS)
	s := c.selection.Settings
	c.params = &ffmpeg.EncodeParams{
		Width:        cfg.Width,
		Height:       cfg.Height,
		FPS:          cfg.FPS,
		PixelFormat:  s.PixelFormat,
		Encoder:      c.selection.Encoder,
		Profile:      s.Profile,
		Level:        level,
		Bitrate:      cfg.Bitrate,
		GOP:          cfg.GOP(),
		GlobalArgs:   s.GlobalArgs,
		VideoFilters: s.VideoFilters,
		OutputParams: s.OutputParams,
		Options:      []ffmpeg.OptionType{ffmpeg.OptionLowLatency},
	}
	if _, err := ffmpeg.BuildEncodeCommand(c.params); err != nil {
		return media.NewError(media.KindConfiguration, "configure", err)
	}
	c.cfg = cfg
	c.configured = true
	return nil
}

func (c *FFmpeg) CreateInputSurface() (media.Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.configured || c.started {
		return nil, media.NewError(media.KindStateViolation, "create input surface", fmt.Errorf("surface must be created after configure and before start"))
	}
	c.surface = newRawSurface(c.cfg.Width, c.cfg.Height, c.QueueInput)
	return c.surface, nil
}

func (c *FFmpeg) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.configured {
		return media.NewError(media.KindStateViolation, "start", fmt.Errorf("codec not configured"))
	}
	if c.started {
		return nil
	}

	if c.opts.ProgressDir != "" {
		socket := filepath.Join(c.opts.ProgressDir, "encoder-"+c.selection.Encoder+".sock")
		collector := collectors.NewProgressCollector(socket, c.selection.Encoder, c.logger)
		if err := collector.Start(c.ctx); err != nil {
			c.logger.Warn("Encoder progress unavailable", "socket", socket, "error", err)
		} else {
			c.progress = collector
			c.params.ProgressSocket = socket
		}
	}

	cmd, err := ffmpeg.BuildEncodeCommand(c.params)
	if err != nil {
		c.stopProgress()
		return media.NewError(media.KindConfiguration, "start", err)
	}
	proc, err := process.Start(c.ctx, cmd, c.logger, process.Options{LogParser: ffmpeg.ParseLogLevel})
	if err != nil {
		c.stopProgress()
		return media.NewError(media.KindResourceExhaustion, "start", err)
	}
	c.logger.Info("Encoder process started", "encoder", c.selection.Encoder, "pid", proc.Pid())

	c.proc = proc
	c.outputs = make(chan Output, ffmpegOutputSlots)
	c.quit = make(chan struct{})
	c.readerDone = make(chan struct{})
	c.started = true
	go c.readOutput(proc.Stdout())
	return nil
}

func (c *FFmpeg) InputBufferSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return media.I420Size(c.cfg.Width, c.cfg.Height)
}

// QueueInput writes one packed I420 frame. The write blocks while FFmpeg
// is busy, which is the backpressure the submit loop relies on.
func (c *FFmpeg) QueueInput(buf []byte, pts time.Duration) error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return media.NewError(media.KindStateViolation, "queue input", media.ErrSessionClosed)
	}
	proc, cfg, pixFmt := c.proc, c.cfg, c.params.PixelFormat
	c.mu.Unlock()

	size := media.I420Size(cfg.Width, cfg.Height)
	if len(buf) > size {
		return media.NewError(media.KindFrame, "queue input", fmt.Errorf("%w: %d > %d", media.ErrInputTooLarge, len(buf), size))
	}
	if len(buf) < size {
		return media.NewError(media.KindFrame, "queue input", fmt.Errorf("%w: %d < %d", media.ErrFrameTooSmall, len(buf), size))
	}

	data := buf
	if pixFmt == "nv12" {
		var err error
		if data, err = planes.ToNV12(buf, cfg.Width, cfg.Height); err != nil {
			return media.NewError(media.KindFrame, "queue input", err)
		}
	}

	c.ptsMu.Lock()
	c.ptsQ = append(c.ptsQ, pts)
	c.ptsMu.Unlock()

	if _, err := proc.Stdin().Write(data); err != nil {
		select {
		case <-proc.Done():
			return media.NewError(media.KindCodecFailed, "queue input", fmt.Errorf("encoder exited: %w", err))
		default:
			return media.NewError(media.KindTransientIO, "queue input", err)
		}
	}
	return nil
}

func (c *FFmpeg) DequeueOutput(timeout time.Duration) (Output, error) {
	c.mu.Lock()
	outputs, done := c.outputs, c.readerDone
	c.mu.Unlock()

	if outputs == nil {
		return Output{}, media.NewError(media.KindStateViolation, "dequeue output", fmt.Errorf("codec not started"))
	}

	select {
	case out := <-outputs:
		return out, nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case out := <-outputs:
		return out, nil
	case <-done:
		// Drain what the reader produced before it stopped
		select {
		case out := <-outputs:
			return out, nil
		default:
		}
		if errp := c.readerErr.Load(); errp != nil {
			return Output{}, media.NewError(media.KindCodecFailed, "dequeue output", *errp)
		}
		return Output{}, nil
	case <-t.C:
		return Output{}, nil
	}
}

// ReleaseOutput is a no-op: payloads are freshly allocated per unit.
func (c *FFmpeg) ReleaseOutput(Output) {}

func (c *FFmpeg) RequestKeyframe() error {
	if c.keyframeRequests.Add(1) == 1 {
		c.mu.Lock()
		gop := c.cfg.GOP()
		c.mu.Unlock()
		c.logger.Debug("Keyframe requests are served at the next GOP boundary", "gop", gop)
	}
	return nil
}

// Stop closes stdin so FFmpeg flushes and exits, then waits for it.
func (c *FFmpeg) Stop() error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	proc := c.proc
	c.mu.Unlock()

	_ = proc.CloseStdin()
	if code := proc.Stop(); code != 0 {
		c.logger.Debug("Encoder process exited", "code", code)
	}
	c.mu.Lock()
	c.stopProgress()
	c.mu.Unlock()
	return nil
}

// stopProgress requires c.mu.
func (c *FFmpeg) stopProgress() {
	if c.progress != nil {
		_ = c.progress.Stop()
		c.progress = nil
		c.params.ProgressSocket = ""
	}
}

func (c *FFmpeg) Release() error {
	_ = c.Stop()

	c.mu.Lock()
	proc, surface, quit := c.proc, c.surface, c.quit
	c.surface = nil
	c.mu.Unlock()

	if quit != nil {
		c.quitOnce.Do(func() { close(quit) })
	}
	if surface != nil {
		_ = surface.Release()
	}
	if proc != nil {
		_ = proc.CloseStdout()
	}
	return nil
}

// readOutput turns the stdout stream into outputs until EOF.
func (c *FFmpeg) readOutput(r io.Reader) {
	defer close(c.readerDone)

	splitter := NewAnnexBSplitter(r)
	var lastSPS []byte
	for {
		u, err := splitter.Next()
		if err != nil {
			c.mu.Lock()
			stopping := c.stopped
			c.mu.Unlock()
			if errors.Is(err, io.EOF) && stopping {
				return
			}
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("encoder output ended unexpectedly")
			}
			c.readerErr.Store(&err)
			return
		}

		if u.Flags.Has(media.FlagConfig) {
			if sps := u.NALUs[0]; !bytes.Equal(sps, lastSPS) {
				lastSPS = sps
				if !c.send(Output{Kind: OutputFormatChanged, Format: c.format(sps, u.NALUs[1])}) {
					return
				}
			}
			if !c.send(Output{Kind: OutputBuffer, Payload: u.Payload(), PTS: c.peekPTS(), Flags: u.Flags}) {
				return
			}
			continue
		}
		if !c.send(Output{Kind: OutputBuffer, Payload: u.Payload(), PTS: c.popPTS(), Flags: u.Flags}) {
			return
		}
	}
}

// send blocks until the output is taken or the codec is released.
func (c *FFmpeg) send(out Output) bool {
	select {
	case c.outputs <- out:
		return true
	case <-c.quit:
		return false
	}
}

func (c *FFmpeg) format(sps, pps []byte) media.Format {
	profile, level := SPSProfileLevel(sps)
	return media.Format{
		Codec:   media.CodecH264,
		Width:   c.cfg.Width,
		Height:  c.cfg.Height,
		FPS:     c.cfg.FPS,
		Bitrate: c.cfg.Bitrate,
		Profile: profile,
		Level:   level,
		SPS:     sps,
		PPS:     pps,
		Encoder: c.selection.Encoder,
	}
}

func (c *FFmpeg) peekPTS() time.Duration {
	c.ptsMu.Lock()
	defer c.ptsMu.Unlock()
	if len(c.ptsQ) > 0 {
		return c.ptsQ[0]
	}
	return c.lastPT
}

func (c *FFmpeg) popPTS() time.Duration {
	c.ptsMu.Lock()
	defer c.ptsMu.Unlock()
	if len(c.ptsQ) == 0 {
		// Encoder produced more pictures than frames; extrapolate
		c.lastPT += c.cfg.FrameDuration()
		return c.lastPT
	}
	c.lastPT = c.ptsQ[0]
	c.ptsQ = c.ptsQ[1:]
	return c.lastPT
}
