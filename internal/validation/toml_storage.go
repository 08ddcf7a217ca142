package validation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

type file struct {
	Version    int      `toml:"version"`
	Validation *Results `toml:"validation,omitempty"`
}

// TOMLStorage keeps results in a TOML file.
type TOMLStorage struct {
	path string
}

// NewTOMLStorage creates storage at path (default "encoders.toml").
func NewTOMLStorage(path string) *TOMLStorage {
	if path == "" {
		path = "encoders.toml"
	}
	return &TOMLStorage{path: path}
}

// Load returns nil results when the file does not exist.
func (s *TOMLStorage) Load() (*Results, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read validation results: %w", err)
	}

	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse validation results: %w", err)
	}
	return f.Validation, nil
}

// Save writes results atomically through a temp file.
func (s *TOMLStorage) Save(results *Results) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := toml.Marshal(file{Version: 1, Validation: results})
	if err != nil {
		return fmt.Errorf("failed to marshal validation results: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write validation results: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace validation results: %w", err)
	}
	return nil
}
