package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/harrylevesque/contactbook/internal/utils"
)

// Session is what the terminal client remembers between runs.
type Session struct {
	ServerURL string    `json:"server_url"`
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoadSession reads the session file. A missing file is an empty session.
func LoadSession(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, nil
		}
		return Session{}, fmt.Errorf("client: reading session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("client: parsing session %s: %w", path, err)
	}
	return s, nil
}

// SaveSession writes s with owner-only permissions.
func SaveSession(path string, s Session) error {
	if err := utils.EnsureParentDir(path, 0o700); err != nil {
		return fmt.Errorf("client: creating session dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("client: writing session: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, 0o600)
}

// ClearSession removes the session file.
func ClearSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("client: removing session: %w", err)
	}
	return nil
}

// Valid reports whether s holds a token for serverURL that has not expired.
func (s Session) Valid(serverURL string, now time.Time) bool {
	return s.Token != "" && s.ServerURL == serverURL && now.Before(s.ExpiresAt)
}
