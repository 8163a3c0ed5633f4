package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Store is the configuration persistence surface: load returns a validated
// snapshot, save writes one back.
type Store interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// FileStore persists the configuration as a single YAML file.
// DefaultErrorPath fills settings.default_error_path when the file leaves
// it empty.
type FileStore struct {
	Path             string
	DefaultErrorPath string
}

func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

func (f *FileStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", f.Path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", f.Path, err)
	}
	if s.Settings.DefaultErrorPath == "" {
		s.Settings.DefaultErrorPath = f.DefaultErrorPath
	}
	s.Source = f.Path
	return s, nil
}

// Save writes to a temporary sibling and renames it into place.
func (f *FileStore) Save(s *Snapshot) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".hotfolders-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Parse decodes and normalizes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Snapshot, error) {
	var s Snapshot
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Normalize(&s); err != nil {
		return nil, err
	}
	s.LoadedAt = time.Now()
	return &s, nil
}
