package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const defaultBufferSize = 1000

// Logger is the subset of *slog.Logger the pipeline packages depend on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config is the [logging] section of the configuration file.
type Config struct {
	Level      string            `toml:"level" json:"level"`
	Format     string            `toml:"format" json:"format"`
	BufferSize int               `toml:"buffer_size" json:"buffer_size"`
	Modules    map[string]string `toml:"modules" json:"modules"`
}

// registry owns the module loggers. Each module has its own LevelVar so
// levels change at runtime without replacing the logger.
type registry struct {
	mu       sync.RWMutex
	cfg      Config
	ready    bool
	loggers  map[string]*slog.Logger
	levels   map[string]*slog.LevelVar
	global   slog.LevelVar
	buffer   *RingBuffer
	callback LogCallback
}

func newRegistry() *registry {
	return &registry{
		loggers: make(map[string]*slog.Logger),
		levels:  make(map[string]*slog.LevelVar),
	}
}

var std = newRegistry()

// Initialize applies cfg. Loggers handed out earlier keep their identity
// and pick up the new levels and handler chain.
func Initialize(cfg Config) {
	std.mu.Lock()
	defer std.mu.Unlock()

	std.cfg = cfg
	std.ready = true
	std.buffer = NewRingBuffer(cfg.BufferSize)
	std.global.Set(std.levelFor(""))

	for module, lv := range std.levels {
		lv.Set(std.levelFor(module))
		*std.loggers[module] = *slog.New(newHandler(cfg.Format, lv)).With("module", module)
	}
	slog.SetDefault(slog.New(newHandler(cfg.Format, &std.global)))
}

// GetLogger returns the logger of module, creating it on first use. Before
// Initialize it logs text at info.
func GetLogger(module string) *slog.Logger {
	std.mu.RLock()
	logger, ok := std.loggers[module]
	std.mu.RUnlock()
	if ok {
		return logger
	}

	std.mu.Lock()
	defer std.mu.Unlock()
	if logger, ok := std.loggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	format := "text"
	if std.ready {
		lv.Set(std.levelFor(module))
		format = std.cfg.Format
	}
	logger = slog.New(newHandler(format, lv)).With("module", module)
	std.loggers[module] = logger
	std.levels[module] = lv
	return logger
}

// SetModuleLevel changes the level of module at runtime.
func SetModuleLevel(module, level string) error {
	parsed, ok := parseLevel(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}
	GetLogger(module)

	std.mu.Lock()
	defer std.mu.Unlock()
	std.levels[module].Set(parsed)
	if std.cfg.Modules == nil {
		std.cfg.Modules = make(map[string]string)
	}
	std.cfg.Modules[module] = levelName(parsed)
	return nil
}

// ModuleLevels reports the effective level of every module logger.
func ModuleLevels() map[string]string {
	std.mu.RLock()
	defer std.mu.RUnlock()

	out := make(map[string]string, len(std.levels))
	for module, lv := range std.levels {
		out[module] = levelName(lv.Level())
	}
	return out
}

// GetBuffer returns the log ring buffer, or nil before Initialize.
func GetBuffer() *RingBuffer {
	buffer, _ := std.sink()
	return buffer
}

// SetLogCallback installs a callback invoked for every buffered entry.
func SetLogCallback(callback LogCallback) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.callback = callback
}

func (r *registry) sink() (*RingBuffer, LogCallback) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buffer, r.callback
}

// levelFor resolves the configured level of module, "" for the global
// level. Caller holds mu.
func (r *registry) levelFor(module string) slog.Level {
	level, ok := parseLevel(r.cfg.Level)
	if !ok {
		level = slog.LevelInfo
	}
	if s, found := r.cfg.Modules[module]; found && module != "" {
		if l, ok := parseLevel(s); ok {
			level = l
		}
	}
	return level
}

// newHandler builds the stdout, journal and ring buffer chain.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var handlers fanoutHandler
	if stdoutUsable() {
		if format == "json" {
			handlers = append(handlers, slog.NewJSONHandler(os.Stdout, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stdout, opts))
		}
	}
	if journalAvailable() {
		handlers = append(handlers, newJournalHandler(level))
	}
	// The buffer handler looks the ring buffer up per record, so it can be
	// installed before Initialize.
	handlers = append(handlers, newBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return handlers
}

// stdoutUsable reports whether stdout goes somewhere: a terminal, pipe,
// socket or file. Under systemd without a TTY it may be closed.
func stdoutUsable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

// parseLevel accepts the slog level names in any case plus "warning".
func parseLevel(s string) (slog.Level, bool) {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn, true
	}
	var l slog.Level
	if s == "" || l.UnmarshalText([]byte(s)) != nil {
		return 0, false
	}
	return l, true
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
