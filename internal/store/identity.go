package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/geoshift/geoshift/internal/engine"
)

const backgroundUserKey = "background_user_id"

// BackgroundUserID implements engine.IdentityStore.
func (s *Store) BackgroundUserID(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM identity WHERE key = ?
	`, backgroundUserKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && value == "") {
		return "", engine.ErrNoIdentity
	}
	if err != nil {
		return "", fmt.Errorf("background user id: %w", err)
	}
	return value, nil
}

// SetBackgroundUserID implements engine.IdentityStore.
func (s *Store) SetBackgroundUserID(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, backgroundUserKey, userID, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set background user id: %w", err)
	}
	return nil
}

// ClearBackgroundUserID implements engine.IdentityStore.
func (s *Store) ClearBackgroundUserID(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM identity WHERE key = ?
	`, backgroundUserKey)
	if err != nil {
		return fmt.Errorf("clear background user id: %w", err)
	}
	return nil
}
