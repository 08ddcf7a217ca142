// Package encoders discovers, validates and selects the FFmpeg H.264 encoder
// backing the hardware codec.
package encoders

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/smazurov/livenode/internal/ffmpeg"
)

// Encoder is one line of `ffmpeg -encoders`.
type Encoder struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Video       bool   `json:"video"`
	HWAccel     bool   `json:"hwaccel"`
}

// Lister returns the encoders compiled into ffmpeg.
type Lister func(ctx context.Context) ([]Encoder, error)

var encoderLine = regexp.MustCompile(`^\s*([VASFXBD.]{6})\s+(\S+)\s+(.+)$`)

// ListFFmpegEncoders runs `ffmpeg -encoders` and parses its output.
func ListFFmpegEncoders(ctx context.Context) ([]Encoder, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg is not installed or not in PATH")
	}
	args := strings.Fields(ffmpeg.BuildEncodersListCommand())
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list encoders: %w", err)
	}
	return ParseEncoderList(string(out)), nil
}

// ParseEncoderList parses `ffmpeg -encoders` output.
func ParseEncoderList(output string) []Encoder {
	var result []Encoder
	started := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !started {
			// The flag legend ends with a dashed separator
			if strings.HasPrefix(strings.TrimSpace(line), "------") {
				started = true
			}
			continue
		}
		m := encoderLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		result = append(result, Encoder{
			Name:        m[2],
			Description: strings.TrimSpace(m[3]),
			Video:       m[1][0] == 'V',
			HWAccel:     ffmpeg.IsHardwareEncoder(m[2]),
		})
	}
	return result
}

func names(list []Encoder) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		if e.Video {
			out = append(out, e.Name)
		}
	}
	return out
}

// Version returns the first line of `ffmpeg -version`.
func Version(ctx context.Context) string {
	args := strings.Fields(ffmpeg.BuildVersionCommand())
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).Output()
	if err != nil {
		return "unknown"
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line)
}
