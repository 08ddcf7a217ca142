package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/livenode/cmd"
	"github.com/smazurov/livenode/internal/api"
	"github.com/smazurov/livenode/internal/config"
	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/metrics/exporters"
	"github.com/smazurov/livenode/internal/version"
)

// Options for the CLI - flat structure with toml mapping. The pipeline,
// camera, transmit and detect tables of the same file are read by
// config.LoadFile.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"livenode.toml"`

	// Server settings
	Port        string `help:"Address to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	WatchConfig bool   `help:"Hot-reload the [pipeline] table" default:"true" toml:"server.watch_config" env:"SERVER_WATCH_CONFIG"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Encoder settings
	ValidationFile string `help:"Encoder validation results" default:"validated_encoders.toml" toml:"encoders.validation_file" env:"ENCODERS_VALIDATION_FILE"`
	ProgressDir    string `help:"Directory for FFmpeg progress sockets (empty disables)" default:"" toml:"encoders.progress_dir" env:"ENCODERS_PROGRESS_DIR"`
	SyntheticCodec bool   `help:"Use the synthetic codec instead of FFmpeg" default:"false" toml:"encoders.synthetic" env:"ENCODERS_SYNTHETIC"`

	// Metrics settings
	MetricsPrometheus bool `help:"Serve Prometheus metrics at /metrics" default:"true" toml:"metrics.prometheus" env:"METRICS_PROMETHEUS"`
	MetricsSSE        bool `help:"Publish metric snapshots on /api/events" default:"true" toml:"metrics.sse" env:"METRICS_SSE"`

	// Board settings
	StatusLED bool `help:"Mirror the pipeline state on the board status LED" default:"true" toml:"board.status_led" env:"BOARD_STATUS_LED"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		var (
			rt     *cmd.Runtime
			server *api.Server
			cancel context.CancelFunc
		)

		hooks.OnStart(func() {
			file, err := config.LoadFile(opts.Config)
			if err != nil {
				slog.Error("Invalid configuration", "path", opts.Config, "error", err)
				os.Exit(1)
			}
			file.Logging.Level = opts.LoggingLevel
			file.Logging.Format = opts.LoggingFormat
			logging.Initialize(file.Logging)
			logger := logging.GetLogger("main")
			logger.Info("Starting livenode", "version", version.String(), "config", opts.Config)

			rt, err = cmd.NewRuntime(file, cmd.RuntimeOptions{
				ConfigPath:     opts.Config,
				Watch:          opts.WatchConfig,
				ValidationFile: opts.ValidationFile,
				ProgressDir:    opts.ProgressDir,
				SyntheticCodec: opts.SyntheticCodec,
				MetricsEvents:  opts.MetricsSSE,
				StatusLED:      opts.StatusLED,
			})
			if err != nil {
				logger.Error("Failed to build pipeline", "error", err)
				os.Exit(1)
			}

			apiOpts := &api.Options{
				AuthUsername: opts.AuthUsername,
				AuthPassword: opts.AuthPassword,
				Pipeline:     rt.Pipeline,
				EventBus:     rt.Bus,
				ConfigPath:   opts.Config,
				WebRTC:       rt.WebRTC,
				Detector:     rt.Detector,
				Validation:   rt.Validation,
			}
			if opts.MetricsPrometheus {
				apiOpts.PrometheusHandler = exporters.HTTPHandler(logging.GetLogger("metrics"))
			}
			server = api.NewServer(apiOpts)

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			// A pipeline that fails to start is reported and retried through
			// the API; the server still comes up.
			if startErr := rt.Start(ctx); startErr != nil {
				logger.Error("Pipeline failed to start", "error", startErr)
			}

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("sd_notify failed", "error", notifyErr)
			}
			go watchdog(ctx, logger)

			if startErr := server.Start(opts.Port); startErr != nil {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger := logging.GetLogger("main")
			logger.Info("Shutting down")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			if server != nil {
				if stopErr := server.Stop(); stopErr != nil {
					logger.Error("Error stopping HTTP server", "error", stopErr)
				}
			}
			if rt != nil {
				if closeErr := rt.Close(); closeErr != nil {
					logger.Error("Error stopping pipeline", "error", closeErr)
				}
			}
			if cancel != nil {
				cancel()
			}
		})
	})

	cli.Root().Version = version.String()
	cli.Root().AddCommand(cmd.CreateValidateEncodersCmd())
	cli.Root().AddCommand(cmd.CreateStreamCmd())

	cli.Run()
}

// watchdog pings systemd at half the configured WatchdogSec.
func watchdog(ctx context.Context, logger *slog.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	logger.Debug("Systemd watchdog enabled", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
