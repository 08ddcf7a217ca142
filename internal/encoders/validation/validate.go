package validation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/smazurov/livenode/internal/ffmpeg"
)

const (
	testWidth  = 640
	testHeight = 480
	testFPS    = 30
	testFrames = 30

	validateTimeout = 10 * time.Second
)

// TestResolution describes the geometry used for test encodes.
func TestResolution() string {
	return fmt.Sprintf("%dx%d", testWidth, testHeight)
}

// ValidateWithSettings runs a short test encode of encoderName with the
// settings production would use.
func ValidateWithSettings(ctx context.Context, v EncoderValidator, encoderName string, run Runner) error {
	settings, err := v.Settings(encoderName)
	if err != nil {
		return fmt.Errorf("failed to get production settings: %w", err)
	}

	cmd, err := ffmpeg.BuildValidationCommand(&ffmpeg.EncodeParams{
		Width:        testWidth,
		Height:       testHeight,
		FPS:          testFPS,
		Encoder:      encoderName,
		Profile:      settings.Profile,
		GlobalArgs:   settings.GlobalArgs,
		VideoFilters: settings.VideoFilters,
		OutputParams: settings.OutputParams,
	}, testFrames)
	if err != nil {
		return err
	}

	if run == nil {
		run = ExecRunner
	}
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	return run(ctx, cmd)
}

// ExecRunner runs command directly (no shell) and includes stderr in the error.
func ExecRunner(ctx context.Context, command string) error {
	args, err := splitArgs(command)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("validation command timed out: %w", ctx.Err())
		}
		return fmt.Errorf("%w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

// splitArgs splits on spaces, honoring double quotes.
func splitArgs(command string) ([]string, error) {
	var args []string
	var cur strings.Builder
	inQuote := false
	for _, r := range command {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
