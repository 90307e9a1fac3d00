package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	sessionFile = "session.json"
)

// ActiveSession is the session the CLI operates on when none is named
// explicitly.
type ActiveSession struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadActiveSession reads .recall/session.json.
// Returns nil, nil when no session has been selected yet.
func (m *Manager) LoadActiveSession(overrideDir string) (*ActiveSession, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, sessionFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading active session: %w", err)
	}

	state := &ActiveSession{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing active session: %w", err)
	}
	if state.SessionID == "" {
		return nil, nil
	}

	return state, nil
}

// SaveActiveSession persists the selected session.
func (m *Manager) SaveActiveSession(state *ActiveSession, overrideDir string) error {
	if state == nil || state.SessionID == "" {
		return errors.New("cannot save active session without a session id")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling active session: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, sessionFile), data, 0o600); err != nil {
		return fmt.Errorf("writing active session: %w", err)
	}

	return nil
}

// ClearActiveSession removes the session pointer. Missing files are not an error.
func (m *Manager) ClearActiveSession(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, sessionFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing active session: %w", err)
	}

	return nil
}
