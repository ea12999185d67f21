package utils

import (
	"os"
	"path/filepath"
)

// ConfigDir returns $HOME/.config/contactbook, or ".contactbook" when the
// home directory is unknown.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".contactbook"
	}
	return filepath.Join(home, ".config", "contactbook")
}

// DefaultSessionFile is where the terminal client keeps its token.
func DefaultSessionFile() string {
	return filepath.Join(ConfigDir(), "session.json")
}

// EnsureParentDir creates the directory holding path.
func EnsureParentDir(path string, perm os.FileMode) error {
	return os.MkdirAll(filepath.Dir(path), perm)
}
