package validation

import (
	"errors"
	"sync"
)

// ErrNoStorage is returned when the manager has no storage backend.
var ErrNoStorage = errors.New("no storage backend configured")

// Storage persists validation results.
type Storage interface {
	Save(results *Results) error
	Load() (*Results, error)
}

// Manager caches validation results in memory and persists them.
type Manager struct {
	mu      sync.RWMutex
	results *Results
	storage Storage
}

// NewManager creates a manager backed by storage (nil keeps results in memory only).
func NewManager(storage Storage) *Manager {
	return &Manager{storage: storage}
}

// Load reads results from storage. A missing file leaves the cache empty.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.storage == nil {
		return ErrNoStorage
	}
	results, err := m.storage.Load()
	if err != nil {
		return err
	}
	m.results = results
	return nil
}

// Save persists results and replaces the cache.
func (m *Manager) Save(results *Results) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.storage != nil {
		if err := m.storage.Save(results); err != nil {
			return err
		}
	}
	m.results = results
	return nil
}

// Results returns the cached results, nil when none are known.
func (m *Manager) Results() *Results {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.results
}

// IsEncoderWorking reports whether encoder passed the last validation.
func (m *Manager) IsEncoderWorking(encoder string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.results.IsWorking(encoder)
}

// WorkingEncoders returns the encoders that passed, in validation order.
func (m *Manager) WorkingEncoders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.results == nil {
		return nil
	}
	return append([]string(nil), m.results.H264.Working...)
}
