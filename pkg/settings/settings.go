// Package settings persists values the operator can change at runtime.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Values is the on-disk settings document.
type Values struct {
	CameraPort uint32 `json:"camera_port"`
}

// Store keeps Values in a JSON file. A missing or corrupted file reads as
// empty values.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a store backed by settings.json in dataDir.
func New(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, "settings.json")}
}

func (s *Store) read() (Values, error) {
	var v Values
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return v, nil
		}
		return v, err
	}
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		// Corrupted file, the next write replaces it.
		return Values{}, nil
	}
	return v, nil
}

func (s *Store) write(v Values) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// CameraPort returns the stored stream port, 0 when none was saved.
func (s *Store) CameraPort() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.read()
	return v.CameraPort, err
}

func (s *Store) SetCameraPort(port uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.read()
	if err != nil {
		return err
	}
	v.CameraPort = port
	return s.write(v)
}
