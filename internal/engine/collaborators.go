package engine

import (
	"context"
	"errors"
	"time"

	"github.com/geoshift/geoshift/internal/geo"
)

// ErrPositionUnavailable is returned by a PositionSource when no usable
// sample can be produced.
var ErrPositionUnavailable = errors.New("position unavailable")

// ErrNoIdentity is returned by an IdentityStore when no background user id
// has been persisted.
var ErrNoIdentity = errors.New("no background user identity")

// SessionKind records how a session came to exist.
type SessionKind string

const (
	// SessionAutomatic was opened by a deadline expiry or the heartbeat
	// reconciler, with no explicit user action.
	SessionAutomatic SessionKind = "automatic"
	// SessionManual was opened by an explicit user decision.
	SessionManual SessionKind = "manual"
	// SessionEdited was adjusted after the fact.
	SessionEdited SessionKind = "edited"
)

// Session is a work-session record owned by the session store. A session
// with a nil ExitTime is open; at most one session may be open per user,
// the core invariant this engine exists to protect.
type Session struct {
	ID               string      `json:"id"`
	UserID           string      `json:"userId"`
	FenceID          string      `json:"fenceId"`
	FenceName        string      `json:"fenceName"`
	EntryTime        time.Time   `json:"entryTime"`
	ExitTime         *time.Time  `json:"exitTime,omitempty"`
	MinuteAdjustment int         `json:"minuteAdjustment"`
	Kind             SessionKind `json:"sourceKind"`
}

// SessionStore persists work sessions. The single-open-session invariant is
// enforced by the engine, not assumed of the store.
type SessionStore interface {
	OpenSession(ctx context.Context, userID, fenceID, fenceName string, kind SessionKind) (string, error)
	CloseSession(ctx context.Context, userID, fenceID string, minuteAdjustment int) error
	// OpenSessionFor returns the user's open session, or nil if none.
	OpenSessionFor(ctx context.Context, userID string) (*Session, error)
}

// FenceRegistry is the single authoritative source of fence definitions.
// The engine caches the result and must be explicitly told to refresh after
// any registry mutation.
type FenceRegistry interface {
	ListActiveFences(ctx context.Context, userID string) ([]geo.Fence, error)
}

// PositionSource abstracts the positioning capability. Signal delivery is
// best-effort: the engine's correctness must not depend on every region
// callback arriving, which is what the heartbeat reconciler compensates for.
type PositionSource interface {
	CurrentPosition(ctx context.Context) (geo.Position, error)
	StartRegionMonitoring(fences []geo.Fence) error
	StopRegionMonitoring() error
}

// PendingView is the notification payload for an in-flight decision.
type PendingView struct {
	Kind      PendingKind `json:"kind"`
	FenceID   string      `json:"fenceId"`
	FenceName string      `json:"fenceName"`
	CreatedAt time.Time   `json:"createdAt"`
	Deadline  time.Time   `json:"deadline"`
}

// PauseView is the notification payload for an active pause.
type PauseView struct {
	FenceID   string    `json:"fenceId"`
	FenceName string    `json:"fenceName"`
	StartedAt time.Time `json:"startedAt"`
	Deadline  time.Time `json:"deadline"`
	Urgent    bool      `json:"urgent"`
}

// Notifier receives intents for the UI layer. The engine never renders
// anything itself; implementations may log, push, or stream over a socket.
type Notifier interface {
	EnterPrompt(v PendingView)
	ExitPrompt(v PendingView)
	ReturnPrompt(v PendingView)
	PauseCountdown(v PauseView)
	PauseExpired(v PauseView)
	// Clear removes any ephemeral prompt currently shown.
	Clear()
}

// IdentityStore persists the durable background user id, so the engine can
// operate after a background process restart with no live user session.
type IdentityStore interface {
	BackgroundUserID(ctx context.Context) (string, error)
	SetBackgroundUserID(ctx context.Context, userID string) error
	ClearBackgroundUserID(ctx context.Context) error
}

// AuditEntry records an engine correction or drop for later inspection.
type AuditEntry struct {
	Kind    string `json:"kind"`
	UserID  string `json:"userId,omitempty"`
	FenceID string `json:"fenceId,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// AuditLog receives audit entries. Implementations must not block the
// event-processing path; failures are their own to log.
type AuditLog interface {
	Record(ctx context.Context, e AuditEntry)
}

// nopNotifier and nopAudit keep nil collaborators out of the hot path.
type nopNotifier struct{}

func (nopNotifier) EnterPrompt(PendingView)  {}
func (nopNotifier) ExitPrompt(PendingView)   {}
func (nopNotifier) ReturnPrompt(PendingView) {}
func (nopNotifier) PauseCountdown(PauseView) {}
func (nopNotifier) PauseExpired(PauseView)   {}
func (nopNotifier) Clear()                   {}

type nopAudit struct{}

func (nopAudit) Record(context.Context, AuditEntry) {}
