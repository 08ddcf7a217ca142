package ffmpeg

import (
	"log/slog"
	"strings"
)

// ffmpegLevels maps the tags printed by -loglevel level+... to slog levels.
var ffmpegLevels = map[string]slog.Level{
	"quiet":   slog.LevelError,
	"panic":   slog.LevelError,
	"fatal":   slog.LevelError,
	"error":   slog.LevelError,
	"warning": slog.LevelWarn,
	"info":    slog.LevelInfo,
	"verbose": slog.LevelDebug,
	"debug":   slog.LevelDebug,
	"trace":   slog.LevelDebug,
}

// ParseLogLevel reads the level tag of an FFmpeg stderr line, either
// "[warning] msg" or "[h264_vaapi @ 0x55d] [warning] msg". The tag is
// removed and a component prefix kept. Untagged lines are info.
func ParseLogLevel(line string) (slog.Level, string) {
	prefix, rest := "", line
	for range 2 {
		tag, after, ok := cutBracket(rest)
		if !ok {
			break
		}
		if level, known := ffmpegLevels[tag]; known {
			return level, prefix + after
		}
		prefix += "[" + tag + "] "
		rest = after
	}
	return slog.LevelInfo, line
}

// cutBracket splits "[tag] rest" into tag and rest.
func cutBracket(s string) (tag, rest string, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", s, false
	}
	tag, rest, ok = strings.Cut(s[1:], "] ")
	return tag, rest, ok
}
