package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smazurov/livenode/internal/encoders"
	encval "github.com/smazurov/livenode/internal/encoders/validation"
	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/validation"
)

// CreateValidateEncodersCmd creates the validate-encoders command.
func CreateValidateEncodersCmd() *cobra.Command {
	var output string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "validate-encoders",
		Short: "Validate hardware encoder availability",
		Long: `Test-encodes a short clip with every H.264 encoder compiled into FFmpeg and ` +
			`stores which ones work. The server picks the first working hardware encoder.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := "info"
			if quiet {
				level = "warn"
			}
			logging.Initialize(logging.Config{Level: level, Format: "text"})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runValidation(ctx, output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "validated_encoders.toml", "Output file for validation results")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress detailed validation progress output")
	return cmd
}

func runValidation(ctx context.Context, output string, out interface{ Write([]byte) (int, error) }) error {
	manager := validation.NewManager(validation.NewTOMLStorage(output))
	selector := encoders.NewSelector(
		encval.NewDefaultRegistry(encval.ExecRunner),
		manager,
		nil,
		logging.GetLogger("encoders"),
	)

	results, err := selector.ValidateAll(ctx)
	if err != nil && results == nil {
		return fmt.Errorf("encoder validation failed: %w", err)
	}

	fmt.Fprintf(out, "FFmpeg:  %s\n", results.FFmpegVersion)
	fmt.Fprintf(out, "Working: %s\n", orNone(results.H264.Working))
	fmt.Fprintf(out, "Failed:  %s\n", orNone(results.H264.Failed))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Results saved to %s\n", output)
	return nil
}

func orNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
