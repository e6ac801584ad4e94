// Package signal normalizes raw geofence transitions into a clean
// enter/exit stream.
//
// Raw region-transition callbacks are unreliable: the OS may deliver the
// same transition twice, deliver transitions queued during a fence-list
// rebuild, or report boundary flapping as rapid exit/enter pairs. The
// Filter suppresses all three before anything reaches the session engine.
package signal

import "time"

// Kind is the direction of a geofence transition.
type Kind int

const (
	// KindEnter is a transition into a fence.
	KindEnter Kind = iota + 1
	// KindExit is a transition out of a fence.
	KindExit
)

// String returns the wire/log name of the kind.
func (k Kind) String() string {
	switch k {
	case KindEnter:
		return "enter"
	case KindExit:
		return "exit"
	default:
		return "unknown"
	}
}

// ParseKind parses the wire name of a kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "enter":
		return KindEnter, true
	case "exit":
		return KindExit, true
	default:
		return 0, false
	}
}

// Signal is a raw enter/exit transition for a fence, from any source
// (native OS callback or derived from continuous position samples).
// Signals may be duplicated or reordered within a short window.
type Signal struct {
	Kind      Kind
	FenceID   string
	FenceName string
	At        time.Time
}
