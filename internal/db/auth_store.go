package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type AuthUser struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

type AuthSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateUser stores u, stamping CreatedAt when zero. A taken email yields ErrDuplicate.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *AuthUser) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, strings.TrimSpace(u.Email), u.PasswordHash, u.CreatedAt.UTC().Format(TimeLayout))
	return mapError("auth_users", err)
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*AuthUser, error) {
	var (
		u       AuthUser
		created string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		s.logErr("scan user", err)
		return nil, mapError("auth_users", err)
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// UserByEmail matches case-insensitively; nil when absent.
func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (*AuthUser, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM auth_users WHERE email = ? COLLATE NOCASE`,
		strings.TrimSpace(email)))
}

func (s *SQLiteStore) UserByID(ctx context.Context, id string) (*AuthUser, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM auth_users WHERE id = ?`, id))
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess AuthSession) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.CreatedAt.UTC().Format(TimeLayout), sess.ExpiresAt.UTC().Format(TimeLayout))
	return mapError("auth_sessions", err)
}

// Session returns the live session with id; expired or revoked sessions are nil.
func (s *SQLiteStore) Session(ctx context.Context, id string) (*AuthSession, error) {
	var (
		sess             AuthSession
		created, expires string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.UserID, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logErr("load session", err)
		return nil, mapError("auth_sessions", err)
	}
	sess.CreatedAt = parseTime(created)
	sess.ExpiresAt = parseTime(expires)
	if !sess.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return &sess, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id = ?`, id)
	return mapError("auth_sessions", err)
}

// PurgeExpiredSessions removes sessions past their expiry and reports how many.
func (s *SQLiteStore) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at <= ?`, s.stamp())
	if err != nil {
		return 0, mapError("auth_sessions", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CreateRecovery(ctx context.Context, token, userID, redirectTo string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_recovery (token, user_id, redirect_to, created_at) VALUES (?, ?, ?, ?)`,
		token, userID, redirectTo, s.stamp())
	return mapError("auth_recovery", err)
}

// RecoveryUser returns the user a recovery token was issued for, "" when unknown.
func (s *SQLiteStore) RecoveryUser(ctx context.Context, token string) (string, error) {
	var uid string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM auth_recovery WHERE token = ?`, token).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return uid, mapError("auth_recovery", err)
}
