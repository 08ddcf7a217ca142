package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEntry is a single log line kept in the ring buffer.
type LogEntry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LogCallback receives every entry after it is buffered.
type LogCallback func(entry LogEntry)

// RingBuffer keeps the newest entries for /api/logs. Sequence numbers
// start at 1 and never repeat, so clients resume with Since.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int
	full    bool
	seq     uint64
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &RingBuffer{entries: make([]LogEntry, size)}
}

// Write stores entry over the oldest one and returns it with its Seq set.
func (rb *RingBuffer) Write(entry LogEntry) LogEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.seq++
	entry.Seq = rb.seq
	rb.entries[rb.next] = entry
	rb.next++
	if rb.next == len(rb.entries) {
		rb.next, rb.full = 0, true
	}
	return entry
}

// ReadAll returns the buffered entries, oldest first.
func (rb *RingBuffer) ReadAll() []LogEntry {
	return rb.Since(0)
}

// Since returns the buffered entries with Seq greater than seq, oldest first.
func (rb *RingBuffer) Since(seq uint64) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if seq >= rb.seq {
		return nil
	}
	ordered := rb.entries[:rb.next]
	if rb.full {
		ordered = append(append([]LogEntry{}, rb.entries[rb.next:]...), ordered...)
	}
	// Seq is contiguous, so the first wanted entry sits at a fixed offset.
	skip := int(seq) - int(ordered[0].Seq) + 1
	if skip < 0 {
		skip = 0
	}
	out := make([]LogEntry, len(ordered)-skip)
	copy(out, ordered[skip:])
	return out
}

// bufferHandler stores records in the package ring buffer and forwards
// them to the log callback. The "module" attribute becomes LogEntry.Module;
// grouped keys are dotted.
type bufferHandler struct {
	level slog.Leveler
	scope
}

func newBufferHandler(level slog.Leveler) *bufferHandler {
	return &bufferHandler{level: level}
}

func (h *bufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *bufferHandler) Handle(_ context.Context, r slog.Record) error {
	buffer, callback := std.sink()
	if buffer == nil {
		return nil
	}

	entry := LogEntry{
		Timestamp:  r.Time,
		Level:      levelName(r.Level),
		Module:     "app",
		Message:    r.Message,
		Attributes: map[string]any{},
	}
	h.walk(r, func(path []string, a slog.Attr) {
		if len(path) == 0 && a.Key == "module" {
			entry.Module = a.Value.String()
			return
		}
		key := a.Key
		if len(path) > 0 {
			key = strings.Join(path, ".") + "." + key
		}
		entry.Attributes[key] = entryValue(a.Value)
	})
	if len(entry.Attributes) == 0 {
		entry.Attributes = nil
	}

	entry = buffer.Write(entry)
	if callback != nil {
		callback(entry)
	}
	return nil
}

func (h *bufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &bufferHandler{level: h.level, scope: h.withAttrs(attrs)}
}

func (h *bufferHandler) WithGroup(name string) slog.Handler {
	return &bufferHandler{level: h.level, scope: h.withGroup(name)}
}

// entryValue converts a value to something that marshals to readable JSON.
func entryValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.Any()
	}
}
