// Package store holds filesystem helpers and schema migrations for the
// local database.
package store

import (
	"os"
	"path/filepath"
)

// DefaultDataRoot returns the root directory for local data.
// Defaults to ~/.livra, falls back to ./.livra if home dir unavailable.
func DefaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".livra")
	}
	return filepath.Join(home, ".livra")
}

// DefaultDBPath returns the full path to the local database file.
func DefaultDBPath() string {
	return filepath.Join(DefaultDataRoot(), "livra.db")
}
