// Package pairing persists the single-slot pairing state: the platform id
// of the last successfully connected ring, read back at auto-reconnect time.
package pairing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store remembers at most one paired device. A new successful connect
// overwrites the slot.
type Store interface {
	// Save records deviceID as the remembered device.
	Save(deviceID string) error
	// Load returns the remembered device id, or "" if none is stored.
	Load() (string, error)
	// Clear forgets the remembered device. Idempotent.
	Clear() error
}

// pairedDevice is the on-disk record.
type pairedDevice struct {
	DeviceID string `json:"device_id"`
	PairedAt int64  `json:"paired_at"`
}

// fileStore is the default Store: one small JSON file under the user config
// directory.
type fileStore struct {
	mu   sync.Mutex
	path string
}

// DefaultPath returns the conventional location of the pairing file.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config dir: %w", err)
	}
	return filepath.Join(dir, "ringlink", "paired_device.json"), nil
}

// NewFileStore creates a file-backed store at path. The parent directory is
// created on first Save.
func NewFileStore(path string) Store {
	return &fileStore{path: path}
}

func (s *fileStore) Save(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create pairing dir: %w", err)
	}

	data, err := json.Marshal(pairedDevice{
		DeviceID: deviceID,
		PairedAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a torn pairing file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write pairing file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read pairing file: %w", err)
	}

	var rec pairedDevice
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt slot behaves like an empty one; auto-reconnect must
		// never fail application startup over it.
		return "", nil
	}
	return rec.DeviceID, nil
}

func (s *fileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MemStore is an in-memory Store for tests and embedded wrappers that manage
// persistence themselves.
type MemStore struct {
	mu sync.Mutex
	id string
}

func (m *MemStore) Save(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if deviceID == "" {
		return fmt.Errorf("device id cannot be empty")
	}
	m.id = deviceID
	return nil
}

func (m *MemStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

func (m *MemStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
	return nil
}
