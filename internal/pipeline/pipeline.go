// Package pipeline coordinates camera capture, plane extraction, the GPU
// compositor or buffer submission, the encoder session and the drain loop.
//
// A Pipeline owns at most one encoder session at a time. Lifecycle changes
// go through a small state machine:
//
//	idle -> starting -> running -> stopping -> idle
//	starting -> error -> idle (construction failure)
//
// The camera has its own switch: while enabled but not streaming it runs in
// preview-only mode, feeding the detector but not the encoder.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/livenode/internal/camera"
	"github.com/smazurov/livenode/internal/codec"
	"github.com/smazurov/livenode/internal/detect"
	"github.com/smazurov/livenode/internal/encoder"
	"github.com/smazurov/livenode/internal/events"
	"github.com/smazurov/livenode/internal/gpu"
	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/metrics"
	"github.com/smazurov/livenode/internal/planes"
	"github.com/smazurov/livenode/internal/transmit"
)

// Timing defaults.
const (
	DefaultDrainTimeout = 10 * time.Millisecond
	DefaultJoinTimeout  = 2 * time.Second
)

// frameLogInterval is how often captured frames are logged.
const frameLogInterval = 30

var (
	// ErrClosed is returned by operations on a closed pipeline.
	ErrClosed = errors.New("pipeline closed")
	// ErrDrainLoop is returned by lifecycle calls a sink makes that would
	// have to wait for the drain loop it is running on.
	ErrDrainLoop = errors.New("called from the drain loop")
)

// EventPublisher publishes pipeline events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SourceFactory creates the camera for a session configuration.
type SourceFactory func(cfg media.Config) (camera.Source, error)

// Options wires a Pipeline to its collaborators.
type Options struct {
	NewSource SourceFactory
	Codec     codec.Factory
	// Backend renders the surface path. Defaults to the software backend.
	Backend gpu.Backend
	// Sink receives the encoded stream. Defaults to transmit.Discard.
	Sink transmit.Sink
	// Detector receives every extracted frame when set.
	Detector *detect.Runner
	Bus      EventPublisher
	Logger   logging.Logger

	DrainTimeout time.Duration
	JoinTimeout  time.Duration
}

// Stats is a snapshot of the pipeline.
type Stats struct {
	State     State        `json:"state"`
	Enabled   bool         `json:"enabled"`
	Streaming bool         `json:"streaming"`
	Config    media.Config `json:"config"`

	Codec  string              `json:"codec,omitempty"`
	Input  media.InputStrategy `json:"input,omitempty"`
	Shader string              `json:"shader,omitempty"`
	Format *media.Format       `json:"format,omitempty"`

	FramesCaptured  uint64 `json:"frames_captured"`
	FramesDropped   uint64 `json:"frames_dropped"`
	FramesReplaced  uint64 `json:"frames_replaced"`
	SlowPathFrames  uint64 `json:"slow_path_frames"`
	FramesSubmitted uint64 `json:"frames_submitted"`
	Units           uint64 `json:"units"`
	Keyframes       uint64 `json:"keyframes"`
	Bytes           uint64 `json:"bytes"`
	Sessions        uint64 `json:"sessions"`

	StartedAt time.Time `json:"started_at,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Pipeline is one camera-to-encoder pipeline. It is safe for concurrent use.
type Pipeline struct {
	opts      Options
	logger    logging.Logger
	extractor *planes.Extractor

	baseCtx    context.Context
	cancelBase context.CancelFunc

	state atomic.Int32
	// active is the running session as seen by the capture callback.
	active   atomic.Pointer[run]
	captured atomic.Uint64
	replaced atomic.Uint64

	// transition serializes lifecycle changes. The fields below it are
	// only touched while it is held.
	transition sync.Mutex
	current    *run
	gen        uint64
	source     camera.Source
	sourceCfg  media.Config
	closed     bool

	mu        sync.RWMutex
	cfg       media.Config
	enabled   bool
	streaming bool
	lastErr   error
	format    *media.Format
	past      encoder.Stats
	sessions  uint64
	startedAt time.Time
}

// New creates an idle pipeline. The configuration is normalized and
// validated.
func New(cfg media.Config, opts Options) (*Pipeline, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.NewSource == nil || opts.Codec == nil {
		return nil, media.NewError(media.KindConfiguration, "new pipeline", errors.New("source and codec factories are required"))
	}
	if opts.Backend == nil {
		opts.Backend = gpu.NewSoftware()
	}
	if opts.Sink == nil {
		opts.Sink = transmit.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("pipeline")
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		opts:       opts,
		logger:     opts.Logger,
		extractor:  planes.NewExtractor(),
		baseCtx:    ctx,
		cancelBase: cancel,
		cfg:        cfg,
	}
	metrics.SetPipelineState(int(StateIdle))
	return p, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Config returns the configuration the next session will use.
func (p *Pipeline) Config() media.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Enabled reports whether the camera is switched on.
func (p *Pipeline) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Streaming reports whether the encoder should be attached.
func (p *Pipeline) Streaming() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.streaming
}

// Start binds the camera, starts an encoder session and the loops feeding
// and draining it. Start while starting or running logs a warning and
// returns nil. A failed start releases everything it acquired, passes
// through the error state back to idle and returns the cause.
func (p *Pipeline) Start(ctx context.Context) error {
	p.transition.Lock()
	defer p.transition.Unlock()
	return p.startLocked(ctx)
}

func (p *Pipeline) startLocked(ctx context.Context) error {
	if p.closed {
		return media.NewError(media.KindStateViolation, "start", ErrClosed)
	}
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		p.logger.Warn("Start ignored", "state", p.State())
		return nil
	}
	p.announce(StateIdle, StateStarting, nil)

	r, err := p.startRun(ctx, p.Config())
	if err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		p.setState(StateStarting, StateError, err)
		p.logger.Error("Pipeline start failed", "error", err)
		p.settleCamera()
		p.setState(StateError, StateIdle, nil)
		return err
	}

	p.current = r
	p.active.Store(r)
	p.mu.Lock()
	p.lastErr = nil
	p.sessions++
	p.startedAt = time.Now()
	p.mu.Unlock()
	p.setState(StateStarting, StateRunning, nil)
	return nil
}

// Stop signals and joins the loops, then releases the compositor and the
// encoder session in that order. The camera keeps running in preview-only
// mode while the pipeline is enabled. Stop while idle or stopping is a no-op.
//
// A sink may call Stop from its callbacks. The drain loop cannot join
// itself, so the stop then runs once the callback returns and Stop returns
// nil immediately.
func (p *Pipeline) Stop() error {
	if r := p.active.Load(); r != nil && r.onDrainLoop() {
		go p.stopGeneration(r.gen, nil, false)
		return nil
	}
	p.transition.Lock()
	defer p.transition.Unlock()
	return p.stopLocked(nil)
}

func (p *Pipeline) stopLocked(cause error) error {
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}
	p.announce(StateRunning, StateStopping, cause)

	r := p.current
	p.current = nil
	p.active.Store(nil)
	err := p.teardown(r)

	p.mu.Lock()
	p.past = addStats(p.past, r.session.Stats())
	p.startedAt = time.Time{}
	if cause != nil {
		p.lastErr = cause
	}
	p.mu.Unlock()

	p.settleCamera()
	p.setState(StateStopping, StateIdle, nil)
	return err
}

// stopGeneration stops session gen from outside its loops. It is a no-op
// when that session is no longer current. A failed session also clears
// the streaming request so it is not restarted.
func (p *Pipeline) stopGeneration(gen uint64, cause error, failed bool) {
	p.transition.Lock()
	defer p.transition.Unlock()
	if p.current == nil || p.current.gen != gen {
		return
	}
	if failed {
		p.mu.Lock()
		p.streaming = false
		p.mu.Unlock()
	}
	if err := p.stopLocked(cause); err != nil {
		p.logger.Warn("Asynchronous stop returned error", "error", err)
	}
}

// rejectOnDrainLoop guards the lifecycle calls that must wait for the
// running session to stop.
func (p *Pipeline) rejectOnDrainLoop(op string) error {
	if r := p.active.Load(); r != nil && r.onDrainLoop() {
		return media.NewError(media.KindStateViolation, op, ErrDrainLoop)
	}
	return nil
}

// Reconfigure replaces the session configuration. A running session is
// stopped and started again with cfg; the camera is recreated when its
// geometry or rate changes.
func (p *Pipeline) Reconfigure(ctx context.Context, cfg media.Config) error {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := p.rejectOnDrainLoop("reconfigure"); err != nil {
		return err
	}

	p.transition.Lock()
	defer p.transition.Unlock()
	if p.closed {
		return media.NewError(media.KindStateViolation, "reconfigure", ErrClosed)
	}

	if cfg == p.Config() {
		return nil
	}

	wasRunning := p.State() == StateRunning
	if err := p.stopLocked(nil); err != nil {
		p.logger.Warn("Stop during reconfigure returned error", "error", err)
	}

	p.mu.Lock()
	p.cfg = cfg
	enabled := p.enabled
	p.mu.Unlock()
	p.logger.Info("Pipeline reconfigured",
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
		"bitrate", cfg.Bitrate,
		"keyframe_interval", cfg.KeyframeInterval,
		"input", cfg.Input)

	if wasRunning {
		return p.startLocked(ctx)
	}
	if enabled {
		return p.ensureCamera(cfg)
	}
	return nil
}

// SetEnabled switches the camera. Enabling starts preview and, when
// streaming is requested, the encoder. Disabling stops both.
func (p *Pipeline) SetEnabled(ctx context.Context, enabled bool) error {
	if err := p.rejectOnDrainLoop("set enabled"); err != nil {
		return err
	}
	p.transition.Lock()
	defer p.transition.Unlock()
	if p.closed {
		return media.NewError(media.KindStateViolation, "set enabled", ErrClosed)
	}

	p.mu.Lock()
	p.enabled = enabled
	streaming := p.streaming
	p.mu.Unlock()
	p.logger.Info("Pipeline enabled changed", "enabled", enabled)

	if !enabled {
		err := p.stopLocked(nil)
		p.settleCamera()
		p.announce(p.State(), p.State(), nil)
		return err
	}

	if err := p.ensureCamera(p.Config()); err != nil {
		return err
	}
	if streaming {
		return p.startLocked(ctx)
	}
	p.announce(p.State(), p.State(), nil)
	return nil
}

// StartStreaming attaches the encoder. While the camera is disabled the
// request is remembered and honoured on the next enable.
func (p *Pipeline) StartStreaming(ctx context.Context) error {
	if r := p.active.Load(); r != nil && r.onDrainLoop() {
		// Already streaming: the calling sink is fed by a running session.
		p.mu.Lock()
		p.streaming = true
		p.mu.Unlock()
		return nil
	}
	p.transition.Lock()
	defer p.transition.Unlock()

	p.mu.Lock()
	p.streaming = true
	enabled := p.enabled
	p.mu.Unlock()

	if !enabled {
		p.logger.Warn("Streaming requested while disabled; waiting for enable")
		p.announce(p.State(), p.State(), nil)
		return nil
	}
	return p.startLocked(ctx)
}

// StopStreaming detaches the encoder and leaves the camera in preview.
// Like Stop it may be called from a sink.
func (p *Pipeline) StopStreaming() error {
	if r := p.active.Load(); r != nil && r.onDrainLoop() {
		p.mu.Lock()
		p.streaming = false
		p.mu.Unlock()
		go p.stopGeneration(r.gen, nil, false)
		return nil
	}
	p.transition.Lock()
	defer p.transition.Unlock()

	p.mu.Lock()
	p.streaming = false
	p.mu.Unlock()

	if p.State() == StateIdle {
		p.announce(StateIdle, StateIdle, nil)
		return nil
	}
	return p.stopLocked(nil)
}

// RequestKeyframe asks the running encoder for an IDR picture. It is a
// no-op when no session is running.
func (p *Pipeline) RequestKeyframe() error {
	r := p.active.Load()
	if r == nil {
		return nil
	}
	return r.session.RequestKeyframe()
}

// Close stops the encoder and the camera and closes the sink. The pipeline
// cannot be started again.
func (p *Pipeline) Close() error {
	if err := p.rejectOnDrainLoop("close"); err != nil {
		return err
	}
	p.transition.Lock()
	defer p.transition.Unlock()
	if p.closed {
		return nil
	}

	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()

	errs := []error{p.stopLocked(nil)}
	p.settleCamera()
	p.closed = true
	p.cancelBase()
	errs = append(errs, p.opts.Sink.Close())
	return errors.Join(errs...)
}

// Stats returns a snapshot of the pipeline counters. It never waits for a
// lifecycle transition.
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	s := Stats{
		State:     p.State(),
		Enabled:   p.enabled,
		Streaming: p.streaming,
		Config:    p.cfg,
		Format:    p.format,
		Sessions:  p.sessions,
		StartedAt: p.startedAt,
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	total := p.past
	p.mu.RUnlock()

	if r := p.active.Load(); r != nil {
		total = addStats(total, r.session.Stats())
		s.Codec = r.session.CodecName()
		s.Input = r.session.Input().Kind()
		if r.shader != "" {
			s.Shader = r.shader
		}
	}

	s.FramesCaptured = p.captured.Load()
	s.FramesDropped = p.extractor.Dropped()
	s.FramesReplaced = p.replaced.Load()
	s.SlowPathFrames = p.extractor.SlowPath()
	s.FramesSubmitted = total.Submitted
	s.Units = total.Units
	s.Keyframes = total.Keyframes
	s.Bytes = total.Bytes
	return s
}

func addStats(a, b encoder.Stats) encoder.Stats {
	return encoder.Stats{
		Submitted:      a.Submitted + b.Submitted,
		Units:          a.Units + b.Units,
		Keyframes:      a.Keyframes + b.Keyframes,
		Bytes:          a.Bytes + b.Bytes,
		DroppedLeading: a.DroppedLeading + b.DroppedLeading,
	}
}

// setState stores to and announces the transition.
func (p *Pipeline) setState(from, to State, cause error) {
	p.state.Store(int32(to))
	p.announce(from, to, cause)
}

func (p *Pipeline) announce(from, to State, cause error) {
	metrics.SetPipelineState(int(to))
	if from != to {
		p.logger.Info("Pipeline state changed", "from", from, "to", to)
	}
	if p.opts.Bus == nil {
		return
	}
	p.mu.RLock()
	ev := events.PipelineStateChangedEvent{
		State:     to.String(),
		Previous:  from.String(),
		Enabled:   p.enabled,
		Streaming: p.streaming,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	p.mu.RUnlock()
	if cause != nil {
		ev.Error = cause.Error()
	}
	p.opts.Bus.Publish(ev)
}
