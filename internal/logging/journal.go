package logging

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

const journalIdentifier = "livenode"

// journalHandler writes records to the systemd journal with every
// attribute as an upper-case journal field, so
// `journalctl -t livenode MODULE=drain` filters by module.
type journalHandler struct {
	level slog.Leveler
	scope
	send func(message string, priority journal.Priority, fields map[string]string) error
}

func newJournalHandler(level slog.Leveler) *journalHandler {
	return &journalHandler{level: level, send: journal.Send}
}

func (h *journalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *journalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := map[string]string{"SYSLOG_IDENTIFIER": journalIdentifier}
	h.walk(r, func(path []string, a slog.Attr) {
		if key := journalKey(path, a.Key); key != "" {
			fields[key] = journalValue(a.Value)
		}
	})
	return h.send(r.Message, journalPriority(r.Level), fields)
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &journalHandler{level: h.level, scope: h.withAttrs(attrs), send: h.send}
}

func (h *journalHandler) WithGroup(name string) slog.Handler {
	return &journalHandler{level: h.level, scope: h.withGroup(name), send: h.send}
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalKey builds a field name journald accepts: upper-case letters,
// digits and underscores, not starting with an underscore.
func journalKey(path []string, key string) string {
	name := strings.Join(slices.Concat(path, []string{key}), "_")
	b := make([]byte, 0, len(name))
	for _, c := range []byte(strings.ToUpper(name)) {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b = append(b, c)
		default:
			b = append(b, '_')
		}
	}
	return strings.TrimLeft(string(b), "_0123456789")
}

func journalValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	default:
		return v.String()
	}
}

// journalAvailable reports whether journald's socket is reachable.
func journalAvailable() bool {
	return journal.Enabled()
}
