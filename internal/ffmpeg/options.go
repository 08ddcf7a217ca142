package ffmpeg

import (
	"fmt"
	"slices"
	"strings"
)

// OptionType is a typed FFmpeg behavior flag.
type OptionType string

const (
	OptionLowLatency         OptionType = "low_latency"
	OptionWallclockTimestamp OptionType = "wallclock_ts"
	OptionThreadQueue1024    OptionType = "thread_queue_1024"
	OptionThreadQueue4096    OptionType = "thread_queue_4096"
	OptionIgnoreErrors       OptionType = "ignore_err"
	OptionRealtime           OptionType = "realtime"
)

// Option describes a flag for listings and validation.
type Option struct {
	Key         OptionType `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Exclusive   string     `json:"exclusive_group,omitempty"`
}

// AllOptions lists every supported flag.
var AllOptions = []Option{
	{Key: OptionLowLatency, Name: "Low Latency", Description: "Disable input buffering and flush packets immediately"},
	{Key: OptionWallclockTimestamp, Name: "Wallclock Timestamps", Description: "Stamp captured frames with wallclock time"},
	{Key: OptionThreadQueue1024, Name: "Thread Queue 1024", Description: "Input thread queue of 1024 packets", Exclusive: "thread_queue"},
	{Key: OptionThreadQueue4096, Name: "Thread Queue 4096", Description: "Input thread queue of 4096 packets", Exclusive: "thread_queue"},
	{Key: OptionIgnoreErrors, Name: "Ignore Errors", Description: "Keep decoding past corrupt input packets"},
	{Key: OptionRealtime, Name: "Realtime", Description: "Read input at its native frame rate"},
}

// DefaultOptions are applied when the caller sets none.
func DefaultOptions() []OptionType {
	return []OptionType{OptionLowLatency, OptionThreadQueue1024}
}

// GetOptionByKey returns an option by its key.
func GetOptionByKey(key OptionType) *Option {
	for i := range AllOptions {
		if AllOptions[i].Key == key {
			return &AllOptions[i]
		}
	}
	return nil
}

// ValidateOptions rejects unknown flags and more than one flag per exclusive group.
func ValidateOptions(selected []OptionType) error {
	groups := make(map[string][]string)
	for _, key := range selected {
		opt := GetOptionByKey(key)
		if opt == nil {
			return fmt.Errorf("unknown ffmpeg option %q", key)
		}
		if opt.Exclusive != "" {
			groups[opt.Exclusive] = append(groups[opt.Exclusive], opt.Name)
		}
	}
	for group, names := range groups {
		if len(names) > 1 {
			return fmt.Errorf("multiple options from exclusive group '%s' selected: %s", group, strings.Join(names, ", "))
		}
	}
	return nil
}

// applyInputOptions writes the flags that belong before -i.
func applyInputOptions(options []OptionType, cmd *strings.Builder) {
	var fflags []string
	for _, option := range options {
		switch option {
		case OptionLowLatency:
			fflags = append(fflags, "nobuffer")
		case OptionIgnoreErrors:
			fflags = append(fflags, "discardcorrupt")
		case OptionWallclockTimestamp:
			cmd.WriteString(" -use_wallclock_as_timestamps 1")
		case OptionThreadQueue1024:
			cmd.WriteString(" -thread_queue_size 1024")
		case OptionThreadQueue4096:
			cmd.WriteString(" -thread_queue_size 4096")
		case OptionRealtime:
			cmd.WriteString(" -re")
		}
	}
	if len(fflags) > 0 {
		cmd.WriteString(" -fflags +" + strings.Join(fflags, "+"))
	}
}

func hasOption(options []OptionType, opt OptionType) bool {
	return slices.Contains(options, opt)
}

// IsHardwareEncoder reports whether an FFmpeg encoder name is hardware backed.
func IsHardwareEncoder(encoder string) bool {
	for _, hw := range []string{"nvenc", "amf", "vaapi", "qsv", "videotoolbox", "rkmpp", "v4l2m2m", "vulkan", "mediacodec"} {
		if strings.Contains(encoder, hw) {
			return true
		}
	}
	return false
}
