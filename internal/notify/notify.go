// Package notify carries engine notification intents to their consumers.
// The engine decides WHAT to prompt; this package decides WHERE it goes:
// the structured log, a websocket stream, or both.
package notify

import (
	"log/slog"
	"time"

	"github.com/geoshift/geoshift/internal/engine"
)

// Event types on the notification stream.
const (
	EventEnterPrompt    = "enter_prompt"
	EventExitPrompt     = "exit_prompt"
	EventReturnPrompt   = "return_prompt"
	EventPauseCountdown = "pause_countdown"
	EventPauseExpired   = "pause_expired"
	EventClear          = "clear"
)

// Event is one notification intent on the wire.
type Event struct {
	Type    string              `json:"type"`
	At      time.Time           `json:"at"`
	Pending *engine.PendingView `json:"pending,omitempty"`
	Pause   *engine.PauseView   `json:"pause,omitempty"`
}

// LogNotifier writes every intent to the structured log. It is the default
// sink when no client stream is connected.
type LogNotifier struct{}

// EnterPrompt implements engine.Notifier.
func (LogNotifier) EnterPrompt(v engine.PendingView) {
	slog.Info("prompt: start session?", "fence", v.FenceID, "name", v.FenceName, "deadline", v.Deadline)
}

// ExitPrompt implements engine.Notifier.
func (LogNotifier) ExitPrompt(v engine.PendingView) {
	slog.Info("prompt: end session?", "fence", v.FenceID, "name", v.FenceName, "deadline", v.Deadline)
}

// ReturnPrompt implements engine.Notifier.
func (LogNotifier) ReturnPrompt(v engine.PendingView) {
	slog.Info("prompt: resume session?", "fence", v.FenceID, "name", v.FenceName, "deadline", v.Deadline)
}

// PauseCountdown implements engine.Notifier.
func (LogNotifier) PauseCountdown(v engine.PauseView) {
	slog.Info("pause countdown running", "fence", v.FenceID, "deadline", v.Deadline)
}

// PauseExpired implements engine.Notifier.
func (LogNotifier) PauseExpired(v engine.PauseView) {
	slog.Warn("pause expired, respond now", "fence", v.FenceID, "respond_by", v.Deadline)
}

// Clear implements engine.Notifier.
func (LogNotifier) Clear() {
	slog.Debug("prompt cleared")
}

// Multi fans one intent out to several notifiers.
type Multi []engine.Notifier

// EnterPrompt implements engine.Notifier.
func (m Multi) EnterPrompt(v engine.PendingView) {
	for _, n := range m {
		n.EnterPrompt(v)
	}
}

// ExitPrompt implements engine.Notifier.
func (m Multi) ExitPrompt(v engine.PendingView) {
	for _, n := range m {
		n.ExitPrompt(v)
	}
}

// ReturnPrompt implements engine.Notifier.
func (m Multi) ReturnPrompt(v engine.PendingView) {
	for _, n := range m {
		n.ReturnPrompt(v)
	}
}

// PauseCountdown implements engine.Notifier.
func (m Multi) PauseCountdown(v engine.PauseView) {
	for _, n := range m {
		n.PauseCountdown(v)
	}
}

// PauseExpired implements engine.Notifier.
func (m Multi) PauseExpired(v engine.PauseView) {
	for _, n := range m {
		n.PauseExpired(v)
	}
}

// Clear implements engine.Notifier.
func (m Multi) Clear() {
	for _, n := range m {
		n.Clear()
	}
}
