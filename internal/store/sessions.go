package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/geoshift/geoshift/internal/engine"
)

// ErrNoOpenSession is returned by CloseSession when the user has no open
// session at the named fence.
var ErrNoOpenSession = errors.New("no open session at fence")

// OpenSession inserts a new open session and returns its id.
//
// The partial unique index on (user_id) WHERE exit_time IS NULL makes a
// concurrent double-open fail here rather than persist; the engine treats
// that like any other storage failure and abandons the cycle.
func (s *Store) OpenSession(ctx context.Context, userID, fenceID, fenceName string, kind engine.SessionKind) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, fence_id, fence_name, entry_time, source_kind)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		id,
		userID,
		fenceID,
		fenceName,
		s.now().UnixMilli(),
		string(kind),
	)
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}

	return id, nil
}

// CloseSession closes the user's open session at the fence, backdating the
// exit by minuteAdjustment. The exit never lands before the entry: an
// adjustment can only shrink a session to zero, not make it negative.
func (s *Store) CloseSession(ctx context.Context, userID, fenceID string, minuteAdjustment int) error {
	exit := s.now().Add(-time.Duration(minuteAdjustment) * time.Minute)

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET exit_time = MAX(entry_time, ?), minute_adjustment = ?
		WHERE user_id = ? AND fence_id = ? AND exit_time IS NULL
	`,
		exit.UnixMilli(),
		minuteAdjustment,
		userID,
		fenceID,
	)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("close session %s/%s: %w", userID, fenceID, ErrNoOpenSession)
	}
	return nil
}

// OpenSessionFor returns the user's open session, or nil if none.
func (s *Store) OpenSessionFor(ctx context.Context, userID string) (*engine.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, fence_id, fence_name, entry_time, exit_time, minute_adjustment, source_kind
		FROM sessions
		WHERE user_id = ? AND exit_time IS NULL
	`, userID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open session for %s: %w", userID, err)
	}
	return sess, nil
}

// RecentSessions returns the user's sessions newest-first, up to limit.
func (s *Store) RecentSessions(ctx context.Context, userID string, limit int) ([]engine.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, fence_id, fence_name, entry_time, exit_time, minute_adjustment, source_kind
		FROM sessions
		WHERE user_id = ?
		ORDER BY entry_time DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	defer rows.Close()

	var out []engine.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("recent sessions: %w", err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*engine.Session, error) {
	var (
		sess     engine.Session
		entryMS  int64
		exitMS   sql.NullInt64
		kindText string
	)
	if err := r.Scan(
		&sess.ID, &sess.UserID, &sess.FenceID, &sess.FenceName,
		&entryMS, &exitMS, &sess.MinuteAdjustment, &kindText,
	); err != nil {
		return nil, err
	}

	sess.EntryTime = time.UnixMilli(entryMS).UTC()
	if exitMS.Valid {
		exit := time.UnixMilli(exitMS.Int64).UTC()
		sess.ExitTime = &exit
	}
	sess.Kind = engine.SessionKind(kindText)
	return &sess, nil
}
