package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/smazurov/livenode/internal/camera"
	"github.com/smazurov/livenode/internal/codec"
	"github.com/smazurov/livenode/internal/config"
	"github.com/smazurov/livenode/internal/detect"
	"github.com/smazurov/livenode/internal/encoders"
	encval "github.com/smazurov/livenode/internal/encoders/validation"
	"github.com/smazurov/livenode/internal/events"
	"github.com/smazurov/livenode/internal/led"
	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
	"github.com/smazurov/livenode/internal/metrics/collectors"
	"github.com/smazurov/livenode/internal/metrics/exporters"
	"github.com/smazurov/livenode/internal/pipeline"
	"github.com/smazurov/livenode/internal/transmit"
	"github.com/smazurov/livenode/internal/validation"
)

// RuntimeOptions are the process-level settings that do not live in the
// [pipeline]/[camera]/[transmit]/[detect] tables.
type RuntimeOptions struct {
	// ConfigPath is watched for [pipeline] changes when Watch is set.
	ConfigPath string
	Watch      bool
	// ValidationFile stores encoder validation results.
	ValidationFile string
	// ProgressDir holds FFmpeg progress sockets; empty disables them.
	ProgressDir string
	// SyntheticCodec replaces the hardware encoder with the in-process
	// synthetic codec, for dry runs on machines without one.
	SyntheticCodec bool
	// MetricsEvents publishes metric snapshots on the event bus.
	MetricsEvents bool
	// StatusLED mirrors the pipeline state on the board LED.
	StatusLED bool
}

// Runtime is the assembled pipeline with its sinks and side services.
type Runtime struct {
	File       config.File
	Bus        *events.Bus
	Pipeline   *pipeline.Pipeline
	Fanout     *transmit.Fanout
	WebRTC     *transmit.WebRTCSink
	Detector   *detect.Runner
	Validation *validation.Manager

	opts    RuntimeOptions
	logger  *slog.Logger
	mpp     *collectors.MPPCollector
	sse     *exporters.SSEExporter
	led     *led.Indicator
	watcher *config.Watcher[config.PipelineSection]
	cancel  context.CancelFunc
}

// NewRuntime builds every component from the loaded file. Nothing runs
// until Start.
func NewRuntime(file config.File, opts RuntimeOptions) (*Runtime, error) {
	r := &Runtime{
		File:   file,
		Bus:    events.New(),
		opts:   opts,
		logger: logging.GetLogger("main"),
	}

	logging.SetLogCallback(func(entry logging.LogEntry) {
		r.Bus.Publish(events.LogEntryEvent{
			Seq:        entry.Seq,
			Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
			Level:      entry.Level,
			Module:     entry.Module,
			Message:    entry.Message,
			Attributes: entry.Attributes,
		})
	})

	r.Validation = validation.NewManager(validation.NewTOMLStorage(opts.ValidationFile))
	if err := r.Validation.Load(); err != nil {
		r.logger.Warn("No encoder validation results, encoders are tested on first use", "file", opts.ValidationFile, "error", err)
	}

	if file.Detect.Enabled {
		cfg := file.Detect.Config()
		r.Detector = detect.NewRunner(detect.NewLuma(cfg), cfg, r.Bus, logging.GetLogger("detect"))
	}

	fanout, err := r.buildSinks()
	if err != nil {
		return nil, err
	}
	r.Fanout = fanout

	p, err := pipeline.New(file.Pipeline.Media(), pipeline.Options{
		NewSource: sourceFactory(file.Camera, logging.GetLogger("camera")),
		Codec:     r.codecFactory(),
		Sink:      fanout,
		Detector:  r.Detector,
		Bus:       r.Bus,
		Logger:    logging.GetLogger("pipeline"),
	})
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	r.Pipeline = p

	requestKeyframe := func() {
		if err := p.RequestKeyframe(); err != nil {
			r.logger.Debug("Keyframe request failed", "error", err)
		}
	}
	fanout.SetKeyframeRequester(requestKeyframe)
	if r.WebRTC != nil {
		r.WebRTC.SetKeyframeRequester(requestKeyframe)
	}
	return r, nil
}

func (r *Runtime) buildSinks() (*transmit.Fanout, error) {
	t := r.File.Transmit
	fanout := transmit.NewFanout(logging.GetLogger("transmit"))

	if t.LogEvery > 0 {
		fanout.Add("log", transmit.NewLogSink(logging.GetLogger("transmit"), t.LogEvery))
	}
	if t.AnnexBFile != "" {
		w, err := transmit.CreateAnnexBFile(t.AnnexBFile)
		if err != nil {
			_ = fanout.Close()
			return nil, err
		}
		fanout.Add("annexb", w)
	}
	for _, cfg := range t.RTPConfigs() {
		sink, err := transmit.NewRTPSink(cfg)
		if err != nil {
			_ = fanout.Close()
			return nil, fmt.Errorf("rtp sink %s: %w", cfg.Address, err)
		}
		fanout.Add("rtp:"+cfg.Address, sink)
	}
	if t.WebRTC {
		sink, err := transmit.NewWebRTCSink(t.WebRTCConfig(), logging.GetLogger("webrtc"))
		if err != nil {
			_ = fanout.Close()
			return nil, err
		}
		r.WebRTC = sink
		fanout.Add("webrtc", sink)
	}

	r.logger.Info("Transmission sinks ready", "sinks", strings.Join(fanout.Sinks(), ","))
	return fanout, nil
}

func (r *Runtime) codecFactory() codec.Factory {
	if r.opts.SyntheticCodec {
		r.logger.Warn("Using synthetic codec; output is not decodable video")
		return codec.SyntheticFactory(codec.SyntheticOptions{}, nil)
	}
	selector := encoders.NewSelector(
		encval.NewDefaultRegistry(encval.ExecRunner),
		r.Validation,
		nil,
		logging.GetLogger("encoders"),
	)
	return codec.NewFFmpegFactory(selector, logging.GetLogger("encoder"), codec.FFmpegOptions{ProgressDir: r.opts.ProgressDir})
}

func sourceFactory(cam config.CameraSection, logger logging.Logger) pipeline.SourceFactory {
	return func(cfg media.Config) (camera.Source, error) {
		switch cam.Source {
		case config.SourceDevice:
			return camera.NewFFmpeg(cam.DeviceConfig(cfg), logger), nil
		case config.SourceSynthetic:
			return camera.NewSynthetic(camera.SyntheticConfig{Width: cfg.Width, Height: cfg.Height, FPS: cfg.FPS}, logger), nil
		default:
			return nil, media.NewError(media.KindConfiguration, "camera", fmt.Errorf("unknown source %q", cam.Source))
		}
	}
}

// Start launches the side services and brings the pipeline to the state
// the file asks for.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	if r.Detector != nil {
		r.Detector.Start(ctx)
	}

	r.mpp = collectors.NewMPPCollector("", 0)
	if r.mpp.Available() {
		if err := r.mpp.Start(ctx); err != nil {
			r.logger.Warn("Failed to start MPP collector", "error", err)
		}
	} else {
		r.mpp = nil
	}

	if r.opts.MetricsEvents {
		r.sse = exporters.NewSSEExporter(r.Bus)
		r.sse.Start(ctx)
	}

	if r.opts.StatusLED {
		ledLogger := logging.GetLogger("led")
		r.led = led.NewIndicator(led.Detect(ledLogger), r.Bus, ledLogger)
		r.led.Start()
	}

	if r.opts.Watch && r.opts.ConfigPath != "" {
		r.watcher = config.NewWatcher(r.opts.ConfigPath, config.LoadPipeline, func(sec config.PipelineSection) {
			if err := r.Pipeline.Apply(ctx, desired(sec)); err != nil {
				r.logger.Error("Failed to apply reloaded pipeline config", "error", err)
			}
		}, logging.GetLogger("config"), config.WithEqual(func(a, b config.PipelineSection) bool { return a == b }))
		r.watcher.Prime(r.File.Pipeline)
		if err := r.watcher.Start(); err != nil {
			r.logger.Warn("Config hot reload disabled", "path", r.opts.ConfigPath, "error", err)
			r.watcher = nil
		}
	}

	return r.Pipeline.Apply(ctx, desired(r.File.Pipeline))
}

func desired(sec config.PipelineSection) pipeline.Desired {
	return pipeline.Desired{Config: sec.Media(), Enabled: sec.Enabled, Streaming: sec.Streaming}
}

// Close stops the pipeline first so no unit reaches a closed sink, then
// the side services.
func (r *Runtime) Close() error {
	var errs []error
	if r.watcher != nil {
		errs = append(errs, r.watcher.Stop())
	}
	errs = append(errs, r.Pipeline.Close())
	if r.Detector != nil {
		r.Detector.Stop()
	}
	if r.sse != nil {
		r.sse.Stop()
	}
	if r.led != nil {
		r.led.Stop()
	}
	if r.mpp != nil {
		errs = append(errs, r.mpp.Stop())
	}
	if r.cancel != nil {
		r.cancel()
	}
	logging.SetLogCallback(nil)
	return errors.Join(errs...)
}
