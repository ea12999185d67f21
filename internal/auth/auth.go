// Package auth implements email/password accounts and bearer sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/harrylevesque/contactbook/internal/models"
)

var (
	// ErrInvalidCredentials is returned when the email or password is wrong.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrUserNotFound is returned when no account matches.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrEmailTaken is returned when signing up with a registered email.
	ErrEmailTaken = errors.New("auth: email already registered")
	// ErrInvalidEmail is returned for an empty or malformed email.
	ErrInvalidEmail = errors.New("auth: invalid email")
	// ErrWeakPassword is returned when the password is too short.
	ErrWeakPassword = errors.New("auth: password too short")
	// ErrSessionNotFound is returned for an unknown token.
	ErrSessionNotFound = errors.New("auth: session not found")
	// ErrSessionExpired is returned for a token past its expiry.
	ErrSessionExpired = errors.New("auth: session expired")
)

// Repository persists accounts and sessions.
type Repository interface {
	CreateUser(ctx context.Context, u models.User) error
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, uid string) (models.User, error)
	UpdatePassword(ctx context.Context, uid, hash string) error
	CreateSession(ctx context.Context, s models.Session) error
	Session(ctx context.Context, token string) (models.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteUserSessions(ctx context.Context, uid, except string) error
}

// Config tunes an Auth.
type Config struct {
	SessionTTL        time.Duration
	MinPasswordLength int
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

// Auth provides sign-up, sign-in and session checks.
type Auth struct {
	repo   Repository
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Auth. Zero config fields get defaults: 30 day sessions,
// six character passwords.
func New(repo Repository, cfg Config, logger *slog.Logger) *Auth {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 6
	}
	if cfg.Cost == 0 {
		cfg.Cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Auth{repo: repo, cfg: cfg, now: time.Now, logger: logger}
}

// SetClock overrides the time source. Tests only.
func (a *Auth) SetClock(now func() time.Time) { a.now = now }

// NormalizeEmail trims and lower-cases email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp registers a new account and signs it in.
func (a *Auth) SignUp(ctx context.Context, email, password string) (models.User, models.Session, error) {
	email = NormalizeEmail(email)
	if !validEmail(email) {
		return models.User{}, models.Session{}, ErrInvalidEmail
	}
	if len(password) < a.cfg.MinPasswordLength {
		return models.User{}, models.Session{}, fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, a.cfg.MinPasswordLength)
	}
	hash, err := HashPassword(password, a.cfg.Cost)
	if err != nil {
		return models.User{}, models.Session{}, err
	}
	u := models.User{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.repo.CreateUser(ctx, u); err != nil {
		return models.User{}, models.Session{}, err
	}
	a.logger.Info("account created", "uid", u.UID)
	s, err := a.newSession(ctx, u.UID)
	if err != nil {
		return models.User{}, models.Session{}, err
	}
	return u, s, nil
}

// SignIn checks the credentials and issues a session.
func (a *Auth) SignIn(ctx context.Context, email, password string) (models.User, models.Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	u, err := a.repo.UserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, models.Session{}, err
	}
	if !CheckPasswordHash(password, u.PasswordHash) {
		a.logger.Warn("sign-in rejected", "uid", u.UID)
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	s, err := a.newSession(ctx, u.UID)
	if err != nil {
		return models.User{}, models.Session{}, err
	}
	return u, s, nil
}

// SignOut revokes token.
func (a *Auth) SignOut(ctx context.Context, token string) error {
	return a.repo.DeleteSession(ctx, token)
}

// ChangePassword replaces the password of uid after checking the current
// one. Every other session of the account is revoked.
func (a *Auth) ChangePassword(ctx context.Context, uid, keepToken, current, next string) error {
	u, err := a.repo.UserByID(ctx, uid)
	if err != nil {
		return err
	}
	if !CheckPasswordHash(current, u.PasswordHash) {
		return ErrInvalidCredentials
	}
	if len(next) < a.cfg.MinPasswordLength {
		return fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, a.cfg.MinPasswordLength)
	}
	hash, err := HashPassword(next, a.cfg.Cost)
	if err != nil {
		return err
	}
	if err := a.repo.UpdatePassword(ctx, uid, hash); err != nil {
		return err
	}
	if err := a.repo.DeleteUserSessions(ctx, uid, keepToken); err != nil {
		return err
	}
	a.logger.Info("password changed", "uid", uid)
	return nil
}

// Authenticate resolves token to its account.
func (a *Auth) Authenticate(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrSessionNotFound
	}
	s, err := a.repo.Session(ctx, token)
	if err != nil {
		return models.User{}, err
	}
	if s.Expired(a.now()) {
		_ = a.repo.DeleteSession(ctx, token)
		return models.User{}, ErrSessionExpired
	}
	return a.repo.UserByID(ctx, s.UID)
}

func (a *Auth) newSession(ctx context.Context, uid string) (models.Session, error) {
	now := a.now().UTC()
	s := models.Session{
		Token:     uuid.NewString(),
		UID:       uid,
		CreatedAt: now,
		ExpiresAt: now.Add(a.cfg.SessionTTL),
	}
	if err := a.repo.CreateSession(ctx, s); err != nil {
		return models.Session{}, err
	}
	return s, nil
}

// HashPassword hashes a password with bcrypt.
func HashPassword(password string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(b), nil
}

// CheckPasswordHash reports whether password matches hash.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
