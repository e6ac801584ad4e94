package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/geoshift/geoshift/internal/engine"
	"github.com/geoshift/geoshift/internal/signal"
)

// Scenario defines a deterministic conformance scenario: a fence layout,
// a sequence of steps driven on a manual clock, and a golden transcript
// of everything the engine did in response.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// User is the pinned user identity. Defaults to "worker-1".
	User string `yaml:"user,omitempty"`

	// ManualBoot leaves the boot gate closed at scenario start; a
	// boot_ready step opens it. Default is booting before the first step.
	ManualBoot bool `yaml:"manual_boot,omitempty"`

	// HeartbeatInterval overrides the periodic reconcile tick, as a Go
	// duration string. Defaults to 24h so the tick stays outside the
	// scenario horizon unless a scenario is about heartbeats.
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty"`

	// Fences lays out the geofences. Geometry is expressed as meters
	// north of a fixed anchor point, which keeps scenario files free of
	// raw coordinates.
	Fences []FenceDef `yaml:"fences"`

	// Steps is the main flow.
	Steps []Step `yaml:"steps"`
}

// FenceDef places one fence relative to the scenario anchor.
type FenceDef struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	MetersNorth float64 `yaml:"meters_north"`
	// RadiusMeters defaults to 200.
	RadiusMeters float64 `yaml:"radius_meters,omitempty"`
}

// Step is one scenario action. Exactly one field must be set.
type Step struct {
	Signal    *SignalStep   `yaml:"signal,omitempty"`
	Decide    *DecideStep   `yaml:"decide,omitempty"`
	Advance   string        `yaml:"advance,omitempty"`
	Position  *PositionStep `yaml:"position,omitempty"`
	Heartbeat bool          `yaml:"heartbeat,omitempty"`
	BootReady bool          `yaml:"boot_ready,omitempty"`
}

// SignalStep submits a raw geofence signal.
type SignalStep struct {
	Kind  string `yaml:"kind"`
	Fence string `yaml:"fence"`
}

// DecideStep submits a user decision for the current prompt.
type DecideStep struct {
	Decision          string `yaml:"decision"`
	AdjustmentMinutes int    `yaml:"adjustment_minutes,omitempty"`
}

// PositionStep moves the simulated device. Either a fence-relative offset
// or unavailable.
type PositionStep struct {
	Fence       string  `yaml:"fence,omitempty"`
	MetersNorth float64 `yaml:"meters_north,omitempty"`
	Unavailable bool    `yaml:"unavailable,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently skipping a step.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario YAML: %w", err)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Fences) == 0 {
		return fmt.Errorf("fences list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.HeartbeatInterval != "" {
		if _, err := time.ParseDuration(s.HeartbeatInterval); err != nil {
			return fmt.Errorf("heartbeat_interval: %w", err)
		}
	}

	ids := make(map[string]bool, len(s.Fences))
	for i, f := range s.Fences {
		if f.ID == "" {
			return fmt.Errorf("fences[%d]: id is required", i)
		}
		if f.Name == "" {
			return fmt.Errorf("fences[%d]: name is required", i)
		}
		if ids[f.ID] {
			return fmt.Errorf("fences[%d]: duplicate fence id %q", i, f.ID)
		}
		ids[f.ID] = true
	}

	for i, st := range s.Steps {
		if err := validateStep(ids, &st); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(fences map[string]bool, st *Step) error {
	set := 0
	if st.Signal != nil {
		set++
	}
	if st.Decide != nil {
		set++
	}
	if st.Advance != "" {
		set++
	}
	if st.Position != nil {
		set++
	}
	if st.Heartbeat {
		set++
	}
	if st.BootReady {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of signal, decide, advance, position, heartbeat, boot_ready must be set")
	}

	switch {
	case st.Signal != nil:
		if _, ok := signal.ParseKind(st.Signal.Kind); !ok {
			return fmt.Errorf("unknown signal kind %q", st.Signal.Kind)
		}
		if !fences[st.Signal.Fence] {
			return fmt.Errorf("signal references unknown fence %q", st.Signal.Fence)
		}
	case st.Decide != nil:
		if _, ok := engine.ParseDecisionKind(st.Decide.Decision); !ok {
			return fmt.Errorf("unknown decision %q", st.Decide.Decision)
		}
	case st.Advance != "":
		if _, err := time.ParseDuration(st.Advance); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
	case st.Position != nil:
		if st.Position.Unavailable {
			if st.Position.Fence != "" {
				return fmt.Errorf("position cannot be both unavailable and fence-relative")
			}
		} else if !fences[st.Position.Fence] {
			return fmt.Errorf("position references unknown fence %q", st.Position.Fence)
		}
	}
	return nil
}
