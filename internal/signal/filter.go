package signal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geoshift/geoshift/internal/config"
	"github.com/geoshift/geoshift/internal/geo"
)

// VerdictCode categorizes a filter decision.
type VerdictCode string

const (
	// VerdictAccept passes the signal through to the engine.
	VerdictAccept VerdictCode = "ACCEPT"

	// VerdictDuplicate suppresses a repeat of a recently seen signal.
	VerdictDuplicate VerdictCode = "DUPLICATE"

	// VerdictReconfigure suppresses a signal arriving while the fence
	// list is being torn down and rebuilt.
	VerdictReconfigure VerdictCode = "RECONFIGURE"

	// VerdictHysteresis suppresses an exit still within the expanded
	// radius: boundary noise, not a departure.
	VerdictHysteresis VerdictCode = "HYSTERESIS"
)

// Verdict is the outcome of filtering one signal.
type Verdict struct {
	Code   VerdictCode
	Detail string
}

// Accepted reports whether the signal survived the filter.
func (v Verdict) Accepted() bool { return v.Code == VerdictAccept }

// Counters tracks suppression totals for status reporting.
type Counters struct {
	Accepted    int `json:"accepted"`
	Duplicate   int `json:"duplicate"`
	Reconfigure int `json:"reconfigure"`
	Hysteresis  int `json:"hysteresis"`
}

// PositionFunc samples the current position. It is consulted only for exit
// hysteresis; entry detection never needs a live sample.
type PositionFunc func(ctx context.Context) (geo.Position, error)

type dedupeKey struct {
	kind    Kind
	fenceID string
	bucket  int64
}

// Filter deduplicates and hysteresis-filters raw signals and suppresses
// everything inside a reconfiguration window.
//
// The filter never touches committed session state; its only side effect
// is its own dedup table. Safe for concurrent use.
type Filter struct {
	now      func() time.Time
	timings  *config.Store
	position PositionFunc

	mu               sync.Mutex
	seen             map[dedupeKey]time.Time
	reconfigureUntil time.Time
	stats            Counters
}

// NewFilter creates a Filter. position may be nil, in which case exit
// hysteresis is skipped (exits are honored as-is).
func NewFilter(now func() time.Time, timings *config.Store, position PositionFunc) *Filter {
	return &Filter{
		now:      now,
		timings:  timings,
		position: position,
		seen:     make(map[dedupeKey]time.Time),
	}
}

// Check filters one raw signal against the fence it names. fence may be nil
// when the registry snapshot is not yet available (pre-boot); dedup and
// reconfigure suppression still apply, hysteresis cannot.
func (f *Filter) Check(ctx context.Context, sig Signal, fence *geo.Fence) Verdict {
	t := f.timings.Get()
	now := f.now()

	f.mu.Lock()

	if now.Before(f.reconfigureUntil) {
		f.stats.Reconfigure++
		f.mu.Unlock()
		return Verdict{Code: VerdictReconfigure, Detail: "fence list reconfiguring"}
	}

	key := dedupeKey{
		kind:    sig.Kind,
		fenceID: sig.FenceID,
		bucket:  now.UnixMilli() / t.DedupeWindow.Milliseconds(),
	}
	horizon := 2 * t.DedupeWindow

	// Lazy GC: drop entries past the suppression horizon.
	for k, seenAt := range f.seen {
		if now.Sub(seenAt) > horizon {
			delete(f.seen, k)
		}
	}

	if seenAt, ok := f.seen[key]; ok && now.Sub(seenAt) <= horizon {
		f.stats.Duplicate++
		f.mu.Unlock()
		return Verdict{Code: VerdictDuplicate, Detail: "repeat within dedupe window"}
	}
	f.seen[key] = now
	f.mu.Unlock()

	if sig.Kind == KindExit {
		if v, suppressed := f.checkHysteresis(ctx, sig, fence, t.ExitHysteresisFactor); suppressed {
			return v
		}
	}

	f.mu.Lock()
	f.stats.Accepted++
	f.mu.Unlock()
	return Verdict{Code: VerdictAccept}
}

// checkHysteresis honors an exit only when the measured distance exceeds
// the expanded radius. Entry uses the nominal radius: a false entry is
// self-correcting (the user can skip), a false exit silently truncates
// paid time.
func (f *Filter) checkHysteresis(ctx context.Context, sig Signal, fence *geo.Fence, factor float64) (Verdict, bool) {
	if fence == nil || f.position == nil {
		return Verdict{}, false
	}
	pos, err := f.position(ctx)
	if err != nil {
		// No sample to contradict the exit; honor it. Degrading toward
		// "session ends" never double-charges time.
		slog.Warn("exit hysteresis check skipped, position unavailable",
			"fence", sig.FenceID, "error", err)
		return Verdict{}, false
	}
	if fence.ContainsExpanded(pos, factor) {
		f.mu.Lock()
		f.stats.Hysteresis++
		f.mu.Unlock()
		slog.Debug("exit suppressed by hysteresis",
			"fence", sig.FenceID,
			"distance_m", fence.DistanceTo(pos),
			"expanded_radius_m", fence.RadiusMeters*factor)
		return Verdict{Code: VerdictHysteresis, Detail: "still within expanded radius"}, true
	}
	return Verdict{}, false
}

// BeginReconfigure raises the suppression flag for the configured window.
// Call immediately before tearing down and rebuilding the native region
// list. The flag clears itself by time; the engine is responsible for
// running a reconcile pass at window close instead of trusting whatever
// signals were missed.
func (f *Filter) BeginReconfigure() time.Time {
	until := f.now().Add(f.timings.Get().ReconfigureWindow)
	f.mu.Lock()
	f.reconfigureUntil = until
	f.mu.Unlock()
	slog.Debug("signal suppression window opened", "until", until)
	return until
}

// Reconfiguring reports whether the suppression window is currently open.
func (f *Filter) Reconfiguring() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Before(f.reconfigureUntil)
}

// Stats returns a copy of the suppression counters.
func (f *Filter) Stats() Counters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}
