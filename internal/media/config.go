package media

import (
	"fmt"
	"time"
)

// InputStrategy selects how raw frames reach the encoder.
type InputStrategy string

// Input strategies.
const (
	// InputSurface renders frames through the GPU compositor into an
	// encoder-owned surface.
	InputSurface InputStrategy = "surface"
	// InputBuffer submits CPU-packed buffers to the encoder.
	InputBuffer InputStrategy = "buffer"
	// InputAuto prefers the surface path and falls back to buffers when the
	// codec cannot create an input surface.
	InputAuto InputStrategy = "auto"
)

// Codec names.
const (
	CodecH264 = "h264"
)

// Default pipeline settings.
const (
	DefaultWidth            = 1280
	DefaultHeight           = 720
	DefaultFPS              = 30
	DefaultBitrate          = 2_000_000
	DefaultKeyframeInterval = 2 * time.Second
	DefaultShader           = "passthrough"
)

// Config is the configuration of one encoder session. It is immutable for
// the lifetime of the session; changing it means stopping and starting.
type Config struct {
	Width            int           `toml:"width" json:"width"`
	Height           int           `toml:"height" json:"height"`
	FPS              int           `toml:"fps" json:"fps"`
	Bitrate          int           `toml:"bitrate" json:"bitrate"`
	KeyframeInterval time.Duration `toml:"keyframe_interval" json:"keyframe_interval"`
	Input            InputStrategy `toml:"input" json:"input"`
	Codec            string        `toml:"codec" json:"codec"`
	// Encoder forces a specific encoder implementation (e.g. h264_vaapi).
	// Empty means auto-select the best validated hardware encoder.
	Encoder string `toml:"encoder" json:"encoder,omitempty"`
	// Shader is the compositor program used on the surface path.
	Shader string `toml:"shader" json:"shader,omitempty"`
}

// DefaultConfig returns the recognized defaults.
func DefaultConfig() Config {
	return Config{
		Width:            DefaultWidth,
		Height:           DefaultHeight,
		FPS:              DefaultFPS,
		Bitrate:          DefaultBitrate,
		KeyframeInterval: DefaultKeyframeInterval,
		Input:            InputAuto,
		Codec:            CodecH264,
		Shader:           DefaultShader,
	}
}

// Normalize fills zero fields with defaults and rounds the frame size up to
// even dimensions, which every 4:2:0 hardware encoder requires.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.Width == 0 {
		c.Width = d.Width
	}
	if c.Height == 0 {
		c.Height = d.Height
	}
	if c.FPS == 0 {
		c.FPS = d.FPS
	}
	if c.Bitrate == 0 {
		c.Bitrate = d.Bitrate
	}
	if c.KeyframeInterval == 0 {
		c.KeyframeInterval = d.KeyframeInterval
	}
	if c.Input == "" {
		c.Input = d.Input
	}
	if c.Codec == "" {
		c.Codec = d.Codec
	}
	if c.Shader == "" {
		c.Shader = d.Shader
	}
	c.Width = (c.Width + 1) &^ 1
	c.Height = (c.Height + 1) &^ 1
	return c
}

// Validate checks the configuration and returns a ConfigurationError
// describing the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return NewError(KindConfiguration, "validate", fmt.Errorf("invalid size %dx%d", c.Width, c.Height))
	case c.Width > 7680 || c.Height > 4320:
		return NewError(KindConfiguration, "validate", fmt.Errorf("size %dx%d exceeds 8K", c.Width, c.Height))
	case c.FPS <= 0 || c.FPS > 240:
		return NewError(KindConfiguration, "validate", fmt.Errorf("invalid frame rate %d", c.FPS))
	case c.Bitrate < 64_000:
		return NewError(KindConfiguration, "validate", fmt.Errorf("bitrate %d below 64kbps", c.Bitrate))
	case c.KeyframeInterval < 0:
		return NewError(KindConfiguration, "validate", fmt.Errorf("negative keyframe interval %s", c.KeyframeInterval))
	case c.Codec != CodecH264:
		return NewError(KindConfiguration, "validate", fmt.Errorf("unsupported codec %q", c.Codec))
	}
	switch c.Input {
	case InputSurface, InputBuffer, InputAuto:
	default:
		return NewError(KindConfiguration, "validate", fmt.Errorf("unknown input strategy %q", c.Input))
	}
	return nil
}

// GOP returns the keyframe interval expressed in frames, at least 1.
func (c Config) GOP() int {
	if c.KeyframeInterval <= 0 {
		return 1
	}
	n := int(c.KeyframeInterval.Seconds()*float64(c.FPS) + 0.5)
	if n < 1 {
		return 1
	}
	return n
}

// FrameDuration is the nominal interval between two frames.
func (c Config) FrameDuration() time.Duration {
	if c.FPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.FPS)
}

// Format describes the encoder output stream. It is reported once per
// session and again whenever the encoder changes its output parameters.
type Format struct {
	Codec   string `json:"codec"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	FPS     int    `json:"fps"`
	Bitrate int    `json:"bitrate"`
	// Profile and Level follow the H.264 profile_idc / level_idc values.
	Profile int `json:"profile"`
	Level   int `json:"level"`
	// SPS and PPS carry the parameter sets when known.
	SPS []byte `json:"-"`
	PPS []byte `json:"-"`
	// Encoder names the implementation producing the stream.
	Encoder string `json:"encoder"`
}
