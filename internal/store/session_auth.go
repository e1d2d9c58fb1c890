package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/LMDG1/v2-scoringThesis/internal/model"
)

// AuthSessionTTL is how long a login stays valid without use.
const AuthSessionTTL = 12 * time.Hour

// CreateAuthSession logs a user in and returns the cookie token.
func (s *Store) CreateAuthSession(ctx context.Context, userID int64) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(b)

	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(AuthSessionTTL),
	); err != nil {
		return "", fmt.Errorf("create auth session for user %d: %w", userID, err)
	}
	return token, nil
}

// GetAuthSession looks up a token. Unknown and expired tokens yield nil; an
// expired one is removed. A session past half its lifetime is renewed.
func (s *Store) GetAuthSession(ctx context.Context, token string) (*model.AuthSession, error) {
	var as model.AuthSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token,
	).Scan(&as.ID, &as.UserID, &as.CreatedAt, &as.ExpiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}

	now := time.Now()
	if now.After(as.ExpiresAt) {
		return nil, s.DeleteAuthSession(ctx, token)
	}
	if as.ExpiresAt.Sub(now) < AuthSessionTTL/2 {
		as.ExpiresAt = now.Add(AuthSessionTTL)
		if _, err := s.db.ExecContext(ctx,
			`UPDATE auth_sessions SET expires_at = ? WHERE id = ?`, as.ExpiresAt, token,
		); err != nil {
			return nil, fmt.Errorf("renew auth session: %w", err)
		}
	}
	return &as, nil
}

// DeleteAuthSession logs a token out.
func (s *Store) DeleteAuthSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// CleanupExpiredSessions deletes expired logins and reports how many there were.
func (s *Store) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
