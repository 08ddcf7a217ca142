package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 1500 * time.Millisecond

// Watcher reloads one section of the configuration file whenever the file
// changes on disk and hands it to a single apply callback. The parent
// directory is watched so replace-by-rename saves are seen. A reload equal
// to the last applied value is skipped.
type Watcher[T any] struct {
	path     string
	load     func(path string) (T, error)
	apply    func(T)
	equal    func(a, b T) bool
	onError  func(error)
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	last    T
	hasLast bool

	fsw  *fsnotify.Watcher
	stop chan struct{}
	done chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets how long writes must settle before a reload.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) { w.debounce = d }
}

// WithEqual sets the comparison used to skip unchanged reloads. Without
// it every reload is applied.
func WithEqual[T any](equal func(a, b T) bool) WatcherOption[T] {
	return func(w *Watcher[T]) { w.equal = equal }
}

// WithErrorHandler is called when a reload fails to load or validate.
func WithErrorHandler[T any](fn func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) { w.onError = fn }
}

func NewWatcher[T any](path string, load func(string) (T, error), apply func(T), logger *slog.Logger, opts ...WatcherOption[T]) *Watcher[T] {
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		load:     load,
		apply:    apply,
		debounce: defaultDebounce,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Prime records v as already applied, so a reload that yields v is skipped.
func (w *Watcher[T]) Prime(v T) {
	w.mu.Lock()
	w.last, w.hasLast = v, true
	w.mu.Unlock()
}

func (w *Watcher[T]) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	w.logger.Info("Config watcher started", "path", w.path, "debounce", w.debounce)
	go w.run()
	return nil
}

// Stop ends the watch loop and waits for an in-flight apply to return.
func (w *Watcher[T]) Stop() error {
	if w.fsw == nil {
		return nil
	}
	close(w.stop)
	err := w.fsw.Close()
	<-w.done
	w.fsw = nil
	return err
}

func (w *Watcher[T]) run() {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("Config file change detected", "op", ev.Op.String())
			timer.Reset(w.debounce)
		case <-timer.C:
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher[T]) reload() {
	v, err := w.load(w.path)
	if err != nil {
		w.logger.Warn("Ignoring invalid config change", "path", w.path, "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.Lock()
	unchanged := w.hasLast && w.equal != nil && w.equal(w.last, v)
	w.last, w.hasLast = v, true
	w.mu.Unlock()

	if unchanged {
		w.logger.Debug("Config file rewritten without changes")
		return
	}
	w.logger.Info("Config file changed, applying")
	w.apply(v)
}
