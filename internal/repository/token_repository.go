package repository

import (
	"context"
	"database/sql"
	"time"
)

// TokenRepo persists/validates refresh tokens (single 'token_hash' column).
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// StoreRefresh inserts a refresh token hash row.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID string, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at_us) VALUES (?,?,?)",
		userID, tokenHash, toMicros(exp))
	return err
}

// ValidateRefresh returns userID if a non-revoked, non-expired token exists.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string) (string, error) {
	var (
		userID    string
		expiresAt int64
		revokedAt sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT user_id, expires_at_us, revoked_at_us FROM refresh_tokens WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&userID, &expiresAt, &revokedAt)
	if err != nil {
		return "", err
	}
	if nullMicros(revokedAt) != nil {
		return "", sql.ErrNoRows
	}
	if time.Now().UTC().After(fromMicros(expiresAt)) {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

// RevokeByHash marks a token as revoked.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at_us=? WHERE token_hash=? AND revoked_at_us IS NULL",
		toMicros(time.Now()), tokenHash)
	return err
}

// RevokeAllForUser revokes all user's active tokens.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at_us=? WHERE user_id=? AND revoked_at_us IS NULL",
		toMicros(time.Now()), userID)
	return err
}
