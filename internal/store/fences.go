package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/geoshift/geoshift/internal/geo"
)

// ErrFenceOverlap is returned when a new fence's circle intersects an
// existing active fence. Overlapping fences make enter/exit signals
// ambiguous, so they are refused at write time.
var ErrFenceOverlap = errors.New("fence overlaps an existing fence")

// ErrFenceNotFound is returned when a delete names an unknown fence.
var ErrFenceNotFound = errors.New("fence not found")

// CreateFence validates and inserts a fence, returning its id. An empty
// incoming id gets a generated one.
func (s *Store) CreateFence(ctx context.Context, userID string, fence geo.Fence) (string, error) {
	if fence.ID == "" {
		fence.ID = uuid.Must(uuid.NewV7()).String()
	}
	if err := fence.Validate(); err != nil {
		return "", fmt.Errorf("create fence: %w", err)
	}

	existing, err := s.ListActiveFences(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("create fence: %w", err)
	}
	for _, other := range existing {
		if geo.Overlaps(fence, other) {
			return "", fmt.Errorf("create fence %s: %w (with %s)", fence.ID, ErrFenceOverlap, other.ID)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fences (id, user_id, name, lat, lng, radius_m, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		fence.ID,
		userID,
		fence.Name,
		fence.Lat,
		fence.Lng,
		fence.RadiusMeters,
		boolToInt(fence.Active),
		s.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("create fence: %w", err)
	}

	return fence.ID, nil
}

// DeleteFence removes a fence. Sessions recorded against it are history and
// stay untouched.
func (s *Store) DeleteFence(ctx context.Context, userID, fenceID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM fences WHERE user_id = ? AND id = ?
	`, userID, fenceID)
	if err != nil {
		return fmt.Errorf("delete fence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete fence: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete fence %s: %w", fenceID, ErrFenceNotFound)
	}
	return nil
}

// SetFenceActive toggles a fence without losing its definition.
func (s *Store) SetFenceActive(ctx context.Context, userID, fenceID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fences SET active = ? WHERE user_id = ? AND id = ?
	`, boolToInt(active), userID, fenceID)
	if err != nil {
		return fmt.Errorf("set fence active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set fence active: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set fence active %s: %w", fenceID, ErrFenceNotFound)
	}
	return nil
}

// ListActiveFences implements engine.FenceRegistry.
func (s *Store) ListActiveFences(ctx context.Context, userID string) ([]geo.Fence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, lat, lng, radius_m, active
		FROM fences
		WHERE user_id = ? AND active = 1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list active fences: %w", err)
	}
	defer rows.Close()

	var out []geo.Fence
	for rows.Next() {
		var (
			f      geo.Fence
			active int
		)
		if err := rows.Scan(&f.ID, &f.Name, &f.Lat, &f.Lng, &f.RadiusMeters, &active); err != nil {
			return nil, fmt.Errorf("list active fences: %w", err)
		}
		f.Active = active != 0
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active fences: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
