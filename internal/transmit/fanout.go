package transmit

import (
	"errors"
	"sort"
	"sync"

	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/media"
)

// Fanout distributes the stream to several sinks. Sinks added mid-stream
// receive the current format and then wait for the next keyframe; adding
// one requests a keyframe so they do not wait a whole GOP.
type Fanout struct {
	mu       sync.RWMutex
	sinks    map[string]*fanoutEntry
	format   *media.Format
	ps       paramSets
	onKey    KeyframeRequester
	logger   logging.Logger
	failures map[string]uint64
	closed   bool
}

type fanoutEntry struct {
	sink     Sink
	needsKey bool
}

// NewFanout creates an empty fanout.
func NewFanout(logger logging.Logger) *Fanout {
	return &Fanout{
		sinks:    make(map[string]*fanoutEntry),
		failures: make(map[string]uint64),
		logger:   logger,
	}
}

// SetKeyframeRequester sets the callback used when a sink joins late.
func (f *Fanout) SetKeyframeRequester(fn KeyframeRequester) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onKey = fn
}

// Add registers sink under id, replacing and closing any previous sink
// with that id.
func (f *Fanout) Add(id string, sink Sink) {
	f.mu.Lock()
	existing := f.sinks[id]
	f.sinks[id] = &fanoutEntry{sink: sink, needsKey: f.format != nil}
	format := f.format
	request := f.onKey
	f.mu.Unlock()

	if existing != nil {
		f.logger.Info("Replacing sink", "sink", id)
		_ = existing.sink.Close()
	}
	f.logger.Info("Sink added", "sink", id)

	if format != nil {
		sink.OnFormat(*format)
		if request != nil {
			request()
		}
	}
}

// Remove closes and removes the sink registered under id.
func (f *Fanout) Remove(id string) bool {
	f.mu.Lock()
	e, ok := f.sinks[id]
	delete(f.sinks, id)
	f.mu.Unlock()

	if !ok {
		return false
	}
	_ = e.sink.Close()
	f.logger.Info("Sink removed", "sink", id)
	return true
}

// Sinks lists registered sink ids.
func (f *Fanout) Sinks() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.sinks))
	for id := range f.sinks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Failures returns delivery errors per sink.
func (f *Fanout) Failures() map[string]uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]uint64, len(f.failures))
	for k, v := range f.failures {
		out[k] = v
	}
	return out
}

func (f *Fanout) OnFormat(format media.Format) {
	f.mu.Lock()
	f.format = &format
	f.ps.fromFormat(format)
	entries := f.snapshot()
	f.mu.Unlock()

	for _, e := range entries {
		e.sink.OnFormat(format)
	}
}

func (f *Fanout) OnAccessUnit(u media.AccessUnit) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	out := media.AccessUnit{
		Payload: f.ps.prepare(u),
		PTS:     u.PTS,
		Flags:   u.Flags,
		Seq:     u.Seq,
	}
	entries := make(map[string]*fanoutEntry, len(f.sinks))
	for id, e := range f.sinks {
		if e.needsKey {
			if !u.IsKeyframe() {
				continue
			}
			e.needsKey = false
		}
		entries[id] = e
	}
	f.mu.Unlock()

	var dead []string
	for id, e := range entries {
		if err := e.sink.OnAccessUnit(out); err != nil {
			f.mu.Lock()
			f.failures[id]++
			f.mu.Unlock()
			if errors.Is(err, ErrClosed) {
				dead = append(dead, id)
				continue
			}
			f.logger.Warn("Sink delivery failed", "sink", id, "seq", u.Seq, "error", err)
		}
	}
	for _, id := range dead {
		f.mu.Lock()
		delete(f.sinks, id)
		f.mu.Unlock()
		f.logger.Info("Sink closed itself, removed", "sink", id)
	}
	return nil
}

// Close closes every sink.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	entries := f.snapshot()
	f.sinks = make(map[string]*fanoutEntry)
	f.mu.Unlock()

	var errs []error
	for _, e := range entries {
		errs = append(errs, e.sink.Close())
	}
	return errors.Join(errs...)
}

func (f *Fanout) snapshot() []*fanoutEntry {
	out := make([]*fanoutEntry, 0, len(f.sinks))
	for _, e := range f.sinks {
		out = append(out, e)
	}
	return out
}
