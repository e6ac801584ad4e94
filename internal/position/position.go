// Package position bridges external location reports into the engine's
// PositionSource. The process has no GPS of its own: a mobile client or
// simulator pushes samples in, and the engine samples the cache.
package position

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geoshift/geoshift/internal/engine"
	"github.com/geoshift/geoshift/internal/geo"
)

// DefaultMaxSampleAge bounds how old a cached sample may be before
// CurrentPosition reports unavailable instead of serving it. Hysteresis and
// reconcile decisions made on a stale fix are worse than decisions made on
// none.
const DefaultMaxSampleAge = 2 * time.Minute

// Bridge is a cache-backed engine.PositionSource fed by Report.
//
// Thread-safety: all methods are safe for concurrent use.
type Bridge struct {
	now          func() time.Time
	maxSampleAge time.Duration

	mu         sync.Mutex
	sample     geo.Position
	sampledAt  time.Time
	monitoring []geo.Fence
}

// New creates a Bridge stamping samples from now. A zero maxSampleAge gets
// the default.
func New(now func() time.Time, maxSampleAge time.Duration) *Bridge {
	if maxSampleAge <= 0 {
		maxSampleAge = DefaultMaxSampleAge
	}
	return &Bridge{now: now, maxSampleAge: maxSampleAge}
}

// Report caches a fresh position sample.
func (b *Bridge) Report(p geo.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sample = p
	b.sampledAt = b.now()
}

// CurrentPosition implements engine.PositionSource. It returns the cached
// sample, or ErrPositionUnavailable when none was reported within the age
// bound.
func (b *Bridge) CurrentPosition(context.Context) (geo.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sampledAt.IsZero() {
		return geo.Position{}, engine.ErrPositionUnavailable
	}
	if age := b.now().Sub(b.sampledAt); age > b.maxSampleAge {
		slog.Debug("cached position too old", "age", age)
		return geo.Position{}, engine.ErrPositionUnavailable
	}
	return b.sample, nil
}

// StartRegionMonitoring implements engine.PositionSource. The bridge has no
// native region callbacks to register; it records the set so status
// surfaces and tests can see what the engine believes is monitored.
func (b *Bridge) StartRegionMonitoring(fences []geo.Fence) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.monitoring = append([]geo.Fence(nil), fences...)
	slog.Info("region monitoring started", "fences", len(fences))
	return nil
}

// StopRegionMonitoring implements engine.PositionSource.
func (b *Bridge) StopRegionMonitoring() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.monitoring = nil
	slog.Info("region monitoring stopped")
	return nil
}

// Monitoring returns the fences the engine registered.
func (b *Bridge) Monitoring() []geo.Fence {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]geo.Fence(nil), b.monitoring...)
}
