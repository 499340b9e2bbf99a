// Package identity persists the per-installation state that never leaves
// the device: the identifier minted on first run, the selected role, and
// the surveillance device this installation is linked to.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yashwanth-gh/overlook/internal/models"
)

const filePerms = 0600

type state struct {
	DeviceID             string `json:"device_id"`
	Mode                 string `json:"mode,omitempty"`
	LinkedSurveillanceID string `json:"linked_surveillance_id,omitempty"`
}

// Manager owns the identity file. The device identifier is minted exactly
// once, on first load, and never reused.
type Manager struct {
	path string

	mu    sync.Mutex
	state state
}

// Load reads the identity file, creating it with a fresh device identifier
// when absent.
func Load(path string) (*Manager, error) {
	m := &Manager{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		m.state.DeviceID = models.NewDeviceID()
		if err := m.persist(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("reading identity file: %w", err)
	default:
		if err := json.Unmarshal(data, &m.state); err != nil {
			return nil, fmt.Errorf("parsing identity file: %w", err)
		}
		if m.state.DeviceID == "" {
			m.state.DeviceID = models.NewDeviceID()
			if err := m.persist(); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// DeviceID returns this installation's identifier.
func (m *Manager) DeviceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeviceID
}

// Mode returns the selected role, empty until SetMode.
func (m *Manager) Mode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Mode
}

// SetMode records the selected role ("surveillance" or "overlooker").
func (m *Manager) SetMode(mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Mode = mode
	return m.persist()
}

// LinkedSurveillanceID returns the surveillance device this installation
// paired with, empty until a pairing succeeds.
func (m *Manager) LinkedSurveillanceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.LinkedSurveillanceID
}

// SaveLinkedSurveillanceID persists the resolved surveillance identifier.
// Satisfies the pairing service's LinkKeeper.
func (m *Manager) SaveLinkedSurveillanceID(surveillanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LinkedSurveillanceID = surveillanceID
	return m.persist()
}

func (m *Manager) persist() error {
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding identity: %w", err)
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating identity dir: %w", err)
		}
	}
	if err := os.WriteFile(m.path, data, filePerms); err != nil {
		return fmt.Errorf("writing identity file: %w", err)
	}
	return nil
}
