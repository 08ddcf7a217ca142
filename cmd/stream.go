package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/smazurov/livenode/internal/config"
	"github.com/smazurov/livenode/internal/logging"
)

// CreateStreamCmd creates the stream command: the pipeline without the HTTP
// server, stopped by a signal or after --duration.
func CreateStreamCmd() *cobra.Command {
	var configFile string
	var encoderOverride string
	var annexbFile string
	var duration time.Duration
	var syntheticCodec bool
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Run the pipeline headless",
		Long: `Captures, encodes and transmits according to the config file without the control API. ` +
			`Streaming is forced on at start; later [pipeline] edits are hot-reloaded as written.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := config.LoadFile(configFile)
			if err != nil {
				return err
			}
			if logJSON {
				file.Logging.Format = "json"
			}
			logging.Initialize(file.Logging)
			logger := logging.GetLogger("stream")

			file.Pipeline.Enabled = true
			file.Pipeline.Streaming = true
			if encoderOverride != "" {
				file.Pipeline.Encoder = encoderOverride
			}
			if annexbFile != "" {
				file.Transmit.AnnexBFile = annexbFile
			}
			file.Transmit.WebRTC = false

			rt, err := NewRuntime(file, RuntimeOptions{
				ConfigPath:     configFile,
				Watch:          true,
				ValidationFile: "validated_encoders.toml",
				SyntheticCodec: syntheticCodec,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			logger.Info("Starting stream command", "config", configFile, "duration", duration)
			startErr := rt.Start(ctx)
			if startErr != nil {
				logger.Error("Pipeline failed to start", "error", startErr)
			} else {
				_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
				<-ctx.Done()
			}

			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			st := rt.Pipeline.Stats()
			closeErr := rt.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "frames captured=%d dropped=%d submitted=%d units=%d keyframes=%d bytes=%d\n",
				st.FramesCaptured, st.FramesDropped, st.FramesSubmitted, st.Units, st.Keyframes, st.Bytes)
			if startErr != nil {
				return startErr
			}
			return closeErr
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "livenode.toml", "Path to configuration file")
	cmd.Flags().StringVar(&encoderOverride, "encoder-override", "", "Override encoder selection (e.g., h264_vaapi)")
	cmd.Flags().StringVar(&annexbFile, "annexb", "", "Record the stream to this raw .h264 file")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&syntheticCodec, "synthetic-codec", false, "Use the synthetic codec instead of FFmpeg")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")
	return cmd
}
