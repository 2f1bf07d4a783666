// internal/state/probe.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/chatstream/internal/types"
)

// Probe is a named prompt streamed into a session on a cron schedule. Its
// replies are routed to a delivery sink by session key prefix.
type Probe struct {
	Name       string           `json:"name"`
	Prompt     string           `json:"prompt"`
	Schedule   string           `json:"schedule"`
	SessionKey types.SessionKey `json:"session_key"`
	Enabled    bool             `json:"enabled"`
	LastRun    *time.Time       `json:"last_run,omitempty"`
	LastStatus string           `json:"last_status,omitempty"`
}

// ProbeStore is a JSON-file-backed store for probes.
type ProbeStore struct {
	path string
	mu   sync.RWMutex
}

// NewProbeStore creates a new file-backed ProbeStore at the given file path.
func NewProbeStore(path string) *ProbeStore {
	return &ProbeStore{path: path}
}

// Path returns the file path used by this store.
func (s *ProbeStore) Path() string {
	return s.path
}

// List returns all probes. Returns an empty slice if the file doesn't exist.
func (s *ProbeStore) List() ([]*Probe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	probes, err := s.load()
	if err != nil {
		return nil, err
	}
	if probes == nil {
		return []*Probe{}, nil
	}
	return probes, nil
}

// Get finds a probe by name. Returns an error if not found.
func (s *ProbeStore) Get(name string) (*Probe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	probes, err := s.load()
	if err != nil {
		return nil, err
	}

	for _, p := range probes {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("probe not found: %s", name)
}

// Add appends a probe. Returns an error if a probe with the same name
// already exists or the probe is incomplete.
func (s *ProbeStore) Add(probe *Probe) error {
	if probe.Name == "" || probe.Prompt == "" || probe.SessionKey == "" {
		return fmt.Errorf("probe needs a name, a prompt and a session key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	probes, err := s.load()
	if err != nil {
		return err
	}

	for _, existing := range probes {
		if existing.Name == probe.Name {
			return fmt.Errorf("probe already exists: %s", probe.Name)
		}
	}

	probes = append(probes, probe)
	return s.save(probes)
}

// Remove deletes a probe by name. Returns an error if not found.
func (s *ProbeStore) Remove(name string) error {
	return s.modify(name, func(probes []*Probe, i int) []*Probe {
		return append(probes[:i], probes[i+1:]...)
	})
}

// SetEnabled toggles the enabled flag for a probe. Returns an error if not found.
func (s *ProbeStore) SetEnabled(name string, enabled bool) error {
	return s.modify(name, func(probes []*Probe, i int) []*Probe {
		probes[i].Enabled = enabled
		return probes
	})
}

// RecordRun stores the time and final message status of a probe run.
func (s *ProbeStore) RecordRun(name string, at time.Time, status string) error {
	return s.modify(name, func(probes []*Probe, i int) []*Probe {
		probes[i].LastRun = &at
		probes[i].LastStatus = status
		return probes
	})
}

// modify applies fn to the probe named name and saves the result.
func (s *ProbeStore) modify(name string, fn func(probes []*Probe, i int) []*Probe) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	probes, err := s.load()
	if err != nil {
		return err
	}

	for i, p := range probes {
		if p.Name == name {
			return s.save(fn(probes, i))
		}
	}
	return fmt.Errorf("probe not found: %s", name)
}

// load reads the JSON file and returns the probe list. Returns nil if the file doesn't exist.
func (s *ProbeStore) load() ([]*Probe, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read probes file: %w", err)
	}

	var probes []*Probe
	if err := json.Unmarshal(data, &probes); err != nil {
		return nil, fmt.Errorf("unmarshal probes: %w", err)
	}
	return probes, nil
}

// save writes the probe list to disk using atomic write (temp file + rename).
func (s *ProbeStore) save(probes []*Probe) error {
	data, err := json.MarshalIndent(probes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal probes: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create probes dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp probes file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp probes file: %w", err)
	}
	return nil
}
