// Package dotdir resolves recall's state directory and the files kept in it.
//
// A .recall/ directory in the working directory scopes memory to one
// project. Without one the CLI shares ~/.recall/ across projects. Either
// holds config.toml, the SQLite memory store, the serve log and
// session.json, the pointer to the session that compress, context and the
// session subcommands use when no --session is given.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirName = ".recall"

	// LogFile is the JSON log written by recall serve.
	LogFile = "recall.log"
)

// Manager locates the state directory. It is stateless; every call
// re-resolves so a .recall/ created mid-process is picked up.
type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the absolute state directory, creating it when missing.
// --config-dir wins, then ./.recall/, then ~/.recall/.
func (m *Manager) Target(overrideDir string) (string, error) {
	dir := overrideDir
	if dir == "" {
		base, err := m.base()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(base, dirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating recall directory %s: %w", dir, err)
	}
	return filepath.Abs(dir)
}

// OpenLog opens the serve log for appending.
func (m *Manager) OpenLog(overrideDir string) (*os.File, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening recall log: %w", err)
	}
	return f, nil
}

// base is the working directory when it has a project-local .recall/,
// else the home directory.
func (m *Manager) base() (string, error) {
	cwd, err := os.Getwd()
	if err == nil {
		if info, statErr := os.Stat(filepath.Join(cwd, dirName)); statErr == nil && info.IsDir() {
			return cwd, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return home, nil
}
