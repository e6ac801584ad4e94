package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/geoshift/geoshift/internal/engine"
)

// Record implements engine.AuditLog. The engine calls it on the event path,
// so a write failure is logged here rather than propagated.
func (s *Store) Record(ctx context.Context, e engine.AuditEntry) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, kind, user_id, fence_id, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		ulid.Make().String(),
		s.now().UnixMilli(),
		e.Kind,
		e.UserID,
		e.FenceID,
		e.Detail,
	)
	if err != nil {
		slog.Warn("audit write failed", "kind", e.Kind, "error", err)
	}
}

// AuditRecord is one persisted audit entry.
type AuditRecord struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	UserID  string    `json:"userId,omitempty"`
	FenceID string    `json:"fenceId,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// RecentAudit returns the newest audit entries, up to limit.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, kind, user_id, fence_id, detail
		FROM audit_log
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			rec  AuditRecord
			atMS int64
		)
		if err := rows.Scan(&rec.ID, &atMS, &rec.Kind, &rec.UserID, &rec.FenceID, &rec.Detail); err != nil {
			return nil, fmt.Errorf("recent audit: %w", err)
		}
		rec.At = time.UnixMilli(atMS).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	return out, nil
}
