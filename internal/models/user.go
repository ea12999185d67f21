package models

import "time"

// User is an email/password account. UID is the owner identifier used to
// scope contacts.
type User struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is a bearer token issued at sign-in.
type Session struct {
	Token     string    `json:"token"`
	UID       string    `json:"uid"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether s is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
