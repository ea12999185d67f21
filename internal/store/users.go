package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/harrylevesque/contactbook/internal/auth"
	"github.com/harrylevesque/contactbook/internal/models"
)

// UserStore implements auth.Repository.
type UserStore struct {
	s *Store
}

var _ auth.Repository = (*UserStore)(nil)

// CreateUser inserts u, failing with auth.ErrEmailTaken if the email is
// registered.
func (us *UserStore) CreateUser(ctx context.Context, u models.User) (err error) {
	conn, err := us.s.take(ctx)
	if err != nil {
		return err
	}
	defer us.s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	taken := false
	err = sqlitex.Execute(conn, `SELECT 1 FROM users WHERE email = ?`, &sqlitex.ExecOptions{
		Args:       []any{u.Email},
		ResultFunc: func(*sqlite.Stmt) error { taken = true; return nil },
	})
	if err != nil {
		return fmt.Errorf("store: lookup email: %w", err)
	}
	if taken {
		return auth.ErrEmailTaken
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO users (uid, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{u.UID, u.Email, u.PasswordHash, u.CreatedAt.UnixMilli()}})
	if err != nil {
		return fmt.Errorf("store: insert user: %w", err)
	}
	return nil
}

// UserByEmail looks an account up by normalized email.
func (us *UserStore) UserByEmail(ctx context.Context, email string) (models.User, error) {
	return us.user(ctx, `email = ?`, email)
}

// UserByID looks an account up by uid.
func (us *UserStore) UserByID(ctx context.Context, uid string) (models.User, error) {
	return us.user(ctx, `uid = ?`, uid)
}

func (us *UserStore) user(ctx context.Context, where string, arg string) (models.User, error) {
	conn, err := us.s.take(ctx)
	if err != nil {
		return models.User{}, err
	}
	defer us.s.pool.Put(conn)

	var (
		found bool
		u     models.User
	)
	err = sqlitex.Execute(conn,
		`SELECT uid, email, password_hash, created_at FROM users WHERE `+where,
		&sqlitex.ExecOptions{
			Args: []any{arg},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				u = models.User{
					UID:          stmt.ColumnText(0),
					Email:        stmt.ColumnText(1),
					PasswordHash: stmt.ColumnText(2),
					CreatedAt:    time.UnixMilli(stmt.ColumnInt64(3)).UTC(),
				}
				return nil
			},
		})
	if err != nil {
		return models.User{}, fmt.Errorf("store: get user: %w", err)
	}
	if !found {
		return models.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

// UpdatePassword replaces the password hash of uid.
func (us *UserStore) UpdatePassword(ctx context.Context, uid, hash string) error {
	conn, err := us.s.take(ctx)
	if err != nil {
		return err
	}
	defer us.s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE users SET password_hash = ? WHERE uid = ?`,
		&sqlitex.ExecOptions{Args: []any{hash, uid}})
	if err != nil {
		return fmt.Errorf("store: update password: %w", err)
	}
	if conn.Changes() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// CreateSession stores s.
func (us *UserStore) CreateSession(ctx context.Context, s models.Session) error {
	conn, err := us.s.take(ctx)
	if err != nil {
		return err
	}
	defer us.s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO sessions (token, uid, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{s.Token, s.UID, s.CreatedAt.UnixMilli(), s.ExpiresAt.UnixMilli()}})
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

// Session returns the session for token.
func (us *UserStore) Session(ctx context.Context, token string) (models.Session, error) {
	conn, err := us.s.take(ctx)
	if err != nil {
		return models.Session{}, err
	}
	defer us.s.pool.Put(conn)

	var (
		found bool
		s     models.Session
	)
	err = sqlitex.Execute(conn,
		`SELECT token, uid, created_at, expires_at FROM sessions WHERE token = ?`,
		&sqlitex.ExecOptions{
			Args: []any{token},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				s = models.Session{
					Token:     stmt.ColumnText(0),
					UID:       stmt.ColumnText(1),
					CreatedAt: time.UnixMilli(stmt.ColumnInt64(2)).UTC(),
					ExpiresAt: time.UnixMilli(stmt.ColumnInt64(3)).UTC(),
				}
				return nil
			},
		})
	if err != nil {
		return models.Session{}, fmt.Errorf("store: get session: %w", err)
	}
	if !found {
		return models.Session{}, auth.ErrSessionNotFound
	}
	return s, nil
}

// DeleteSession removes token. Unknown tokens are ignored.
func (us *UserStore) DeleteSession(ctx context.Context, token string) error {
	conn, err := us.s.take(ctx)
	if err != nil {
		return err
	}
	defer us.s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM sessions WHERE token = ?`,
		&sqlitex.ExecOptions{Args: []any{token}}); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions removes every session of uid except the one named.
func (us *UserStore) DeleteUserSessions(ctx context.Context, uid, except string) error {
	conn, err := us.s.take(ctx)
	if err != nil {
		return err
	}
	defer us.s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM sessions WHERE uid = ? AND token != ?`,
		&sqlitex.ExecOptions{Args: []any{uid, except}}); err != nil {
		return fmt.Errorf("store: delete sessions of %s: %w", uid, err)
	}
	return nil
}

// PurgeExpiredSessions deletes sessions that expired before now and
// returns how many were removed.
func (us *UserStore) PurgeExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	conn, err := us.s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer us.s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM sessions WHERE expires_at <= ?`,
		&sqlitex.ExecOptions{Args: []any{now.UnixMilli()}}); err != nil {
		return 0, fmt.Errorf("store: purge sessions: %w", err)
	}
	return conn.Changes(), nil
}
