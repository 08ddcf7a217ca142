package ffmpeg

import (
	"fmt"
	"maps"
	"runtime"
	"slices"
	"strconv"
	"strings"
)

// Base returns the ffmpeg invocation with standard flags. Log lines carry
// their level so ParseLogLevel can route them.
func Base() string {
	return "ffmpeg -hide_banner -nostats -loglevel level+info"
}

// BuildCaptureCommand builds a command that writes raw yuv420p frames of the
// requested size to stdout.
func BuildCaptureCommand(p *CaptureParams) (string, error) {
	if p.Width <= 0 || p.Height <= 0 || p.FPS <= 0 {
		return "", fmt.Errorf("invalid capture geometry %dx%d@%d", p.Width, p.Height, p.FPS)
	}
	if err := ValidateOptions(p.Options); err != nil {
		return "", err
	}

	var cmd strings.Builder
	cmd.WriteString(Base())

	size := fmt.Sprintf("%dx%d", p.Width, p.Height)

	if p.IsTestSource {
		// Test sources run at native rate, otherwise lavfi floods the pipe
		cmd.WriteString(" -re -f lavfi")
		cmd.WriteString(fmt.Sprintf(" -i \"testsrc2=size=%s:rate=%d\"", size, p.FPS))
	} else {
		if p.DevicePath == "" {
			return "", fmt.Errorf("device path required")
		}
		cmd.WriteString(" -f " + inputDriver(p))
		applyInputOptions(p.Options, &cmd)
		if p.InputFormat != "" {
			cmd.WriteString(" -input_format " + p.InputFormat)
		}
		cmd.WriteString(" -video_size " + size)
		cmd.WriteString(" -framerate " + strconv.Itoa(p.FPS))
		cmd.WriteString(" -i " + p.DevicePath)
	}

	var filters []string
	if p.TestOverlay != "" {
		filters = append(filters, fmt.Sprintf("drawtext=text='%s':x=(w-text_w)/2:y=(h-text_h)/2:fontsize=48:fontcolor=white:box=1:boxcolor=black@0.5:boxborderw=5", p.TestOverlay))
	}
	// Devices may ignore -video_size; force the geometry the reader expects
	filters = append(filters, "scale="+fmt.Sprintf("%d:%d", p.Width, p.Height))
	cmd.WriteString(" -vf \"" + strings.Join(filters, ",") + "\"")

	cmd.WriteString(" -an -f rawvideo -pix_fmt yuv420p pipe:1")
	return cmd.String(), nil
}

// BuildEncodeCommand builds a command reading raw frames from stdin and
// writing an Annex-B H.264 elementary stream to stdout.
func BuildEncodeCommand(p *EncodeParams) (string, error) {
	if p.Width <= 0 || p.Height <= 0 || p.FPS <= 0 {
		return "", fmt.Errorf("invalid encode geometry %dx%d@%d", p.Width, p.Height, p.FPS)
	}
	if p.Encoder == "" {
		return "", fmt.Errorf("encoder required")
	}
	pixFmt := p.PixelFormat
	if pixFmt == "" {
		pixFmt = "yuv420p"
	}

	var cmd strings.Builder
	cmd.WriteString(Base())
	if p.ProgressSocket != "" {
		cmd.WriteString(" -progress unix://" + p.ProgressSocket)
	}

	for _, arg := range p.GlobalArgs {
		cmd.WriteString(" " + arg)
	}

	cmd.WriteString(" -f rawvideo")
	cmd.WriteString(" -pix_fmt " + pixFmt)
	cmd.WriteString(fmt.Sprintf(" -video_size %dx%d", p.Width, p.Height))
	cmd.WriteString(" -framerate " + strconv.Itoa(p.FPS))
	applyInputOptions(p.Options, &cmd)
	cmd.WriteString(" -i pipe:0")

	writeEncoder(p, &cmd)

	if hasOption(p.Options, OptionLowLatency) {
		cmd.WriteString(" -flush_packets 1")
	}
	cmd.WriteString(" -an -f h264 pipe:1")
	return cmd.String(), nil
}

// BuildValidationCommand builds a short test encode: frames of the lavfi
// testsrc2 pattern through the encoder with production settings, output
// discarded.
func BuildValidationCommand(p *EncodeParams, frames int) (string, error) {
	if p.Width <= 0 || p.Height <= 0 || p.FPS <= 0 {
		return "", fmt.Errorf("invalid encode geometry %dx%d@%d", p.Width, p.Height, p.FPS)
	}
	if p.Encoder == "" {
		return "", fmt.Errorf("encoder required")
	}
	if frames <= 0 {
		return "", fmt.Errorf("frame count must be positive, got %d", frames)
	}

	var cmd strings.Builder
	cmd.WriteString(Base())
	for _, arg := range p.GlobalArgs {
		cmd.WriteString(" " + arg)
	}
	cmd.WriteString(fmt.Sprintf(" -f lavfi -i \"testsrc2=size=%dx%d:rate=%d\"", p.Width, p.Height, p.FPS))
	writeEncoder(p, &cmd)
	cmd.WriteString(" -frames:v " + strconv.Itoa(frames))
	cmd.WriteString(" -an -f null -")
	return cmd.String(), nil
}

// writeEncoder writes everything after the input: filters, codec, rate
// control and keyframe placement.
func writeEncoder(p *EncodeParams, cmd *strings.Builder) {
	if p.VideoFilters != "" {
		cmd.WriteString(" -vf " + p.VideoFilters)
	}

	cmd.WriteString(" -c:v " + p.Encoder)
	if p.Profile != "" {
		cmd.WriteString(" -profile:v " + p.Profile)
	}
	if p.Level != "" {
		cmd.WriteString(" -level:v " + p.Level)
	}

	if p.Bitrate > 0 {
		cmd.WriteString(fmt.Sprintf(" -b:v %d -maxrate %d -bufsize %d", p.Bitrate, p.Bitrate, p.Bitrate))
	}
	gop := p.GOP
	if gop <= 0 {
		gop = 2 * p.FPS
	}
	cmd.WriteString(fmt.Sprintf(" -g %d", gop))
	// Some hardware encoders ignore -g; force IDR pictures on the same grid
	cmd.WriteString(fmt.Sprintf(" -force_key_frames \"expr:gte(n,n_forced*%d)\"", gop))
	// B-frames break the strictly increasing PTS order downstream
	cmd.WriteString(" -bf 0")

	// Deterministic order keeps commands comparable in logs and tests
	for _, key := range slices.Sorted(maps.Keys(p.OutputParams)) {
		cmd.WriteString(fmt.Sprintf(" -%s %s", key, p.OutputParams[key]))
	}

	if !IsHardwareEncoder(p.Encoder) {
		cmd.WriteString(" -preset ultrafast -tune zerolatency -sc_threshold 0")
	}
}

// BuildEncodersListCommand lists the encoders compiled into ffmpeg.
func BuildEncodersListCommand() string {
	return "ffmpeg -hide_banner -nostats -encoders"
}

// BuildVersionCommand prints the ffmpeg version banner.
func BuildVersionCommand() string {
	return "ffmpeg -hide_banner -version"
}

func inputDriver(p *CaptureParams) string {
	if p.InputDriver != "" {
		return p.InputDriver
	}
	if runtime.GOOS == "darwin" {
		return "avfoundation"
	}
	return "v4l2"
}
