// Package config holds the engine's timing constants and the daemon
// configuration file format.
//
// Timing constants are configuration, not protocol: every value here must be
// adjustable at runtime without restarting the engine, which is why consumers
// read them through a Store snapshot instead of capturing them at
// construction time.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Timings are the engine's tunable windows and deadlines.
//
// A Timings value is an immutable snapshot; mutate through Store.Update so
// in-flight readers never observe a half-written set.
type Timings struct {
	// EntryTimeout is the pending-enter deadline before a session opens
	// automatically.
	EntryTimeout time.Duration

	// ExitTimeout is the pending-exit deadline before the session closes
	// automatically.
	ExitTimeout time.Duration

	// ReturnTimeout is the pending-return deadline after re-entering a
	// fence while paused.
	ReturnTimeout time.Duration

	// PauseLimit is how long a pause may run before the urgent
	// confirmation prompt fires.
	PauseLimit time.Duration

	// AlarmResponseTimeout is the confirmation sub-timer after a pause
	// expires; unanswered, the engine falls back to a live position check.
	AlarmResponseTimeout time.Duration

	// ExitAdjustmentMinutes is subtracted from the close time of a session
	// ended by exit detection, approximating the true departure time.
	// A heuristic, not a measured correction.
	ExitAdjustmentMinutes int

	// DedupeWindow buckets duplicate signals; a repeated (kind, fence)
	// within 2× this window is suppressed.
	DedupeWindow time.Duration

	// ReconfigureWindow suppresses all signals around a fence-list
	// re-registration, then forces a reconcile pass.
	ReconfigureWindow time.Duration

	// ExitHysteresisFactor expands the fence radius for exit detection.
	ExitHysteresisFactor float64

	// HeartbeatInterval is the reconciler's tick. Foreground/Background
	// are the presets applied when the app surface reports its state.
	HeartbeatInterval   time.Duration
	HeartbeatForeground time.Duration
	HeartbeatBackground time.Duration

	// BootQueueCapacity bounds the pre-boot signal queue; MaxEventAge is
	// the staleness cutoff applied when the queue drains.
	BootQueueCapacity int
	MaxEventAge       time.Duration

	// ProcessingGuardWindow is how long the raw-signal re-entrancy guard
	// holds before self-releasing.
	ProcessingGuardWindow time.Duration
}

// DefaultTimings returns the production defaults.
func DefaultTimings() Timings {
	return Timings{
		EntryTimeout:          5 * time.Minute,
		ExitTimeout:           90 * time.Second,
		ReturnTimeout:         5 * time.Minute,
		PauseLimit:            30 * time.Minute,
		AlarmResponseTimeout:  60 * time.Second,
		ExitAdjustmentMinutes: 5,
		DedupeWindow:          10 * time.Second,
		ReconfigureWindow:     5 * time.Second,
		ExitHysteresisFactor:  1.5,
		HeartbeatInterval:     15 * time.Minute,
		HeartbeatForeground:   5 * time.Minute,
		HeartbeatBackground:   30 * time.Minute,
		BootQueueCapacity:     10,
		MaxEventAge:           30 * time.Second,
		ProcessingGuardWindow: time.Second,
	}
}

// Validate rejects values the engine cannot run with.
func (t Timings) Validate() error {
	type window struct {
		name string
		d    time.Duration
	}
	for _, w := range []window{
		{"entry_timeout", t.EntryTimeout},
		{"exit_timeout", t.ExitTimeout},
		{"return_timeout", t.ReturnTimeout},
		{"pause_limit", t.PauseLimit},
		{"alarm_response_timeout", t.AlarmResponseTimeout},
		{"dedupe_window", t.DedupeWindow},
		{"reconfigure_window", t.ReconfigureWindow},
		{"heartbeat_interval", t.HeartbeatInterval},
		{"max_event_age", t.MaxEventAge},
		{"processing_guard_window", t.ProcessingGuardWindow},
	} {
		if w.d <= 0 {
			return fmt.Errorf("timing %s must be positive, got %v", w.name, w.d)
		}
	}
	if t.ExitAdjustmentMinutes < 0 {
		return fmt.Errorf("exit_adjustment_minutes must be >= 0, got %d", t.ExitAdjustmentMinutes)
	}
	if t.ExitHysteresisFactor < 1 {
		return fmt.Errorf("exit_hysteresis_factor must be >= 1, got %v", t.ExitHysteresisFactor)
	}
	if t.BootQueueCapacity <= 0 {
		return fmt.Errorf("boot_queue_capacity must be positive, got %d", t.BootQueueCapacity)
	}
	return nil
}

// Store holds the current Timings snapshot. Reads and swaps are atomic;
// every engine cycle reads a fresh snapshot so updates take effect without
// a restart.
type Store struct {
	v atomic.Pointer[Timings]
}

// NewStore creates a Store seeded with t.
func NewStore(t Timings) *Store {
	s := &Store{}
	s.v.Store(&t)
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() Timings {
	return *s.v.Load()
}

// Set replaces the snapshot after validation.
func (s *Store) Set(t Timings) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.v.Store(&t)
	return nil
}

// Update applies fn to a copy of the current snapshot and swaps it in.
func (s *Store) Update(fn func(*Timings)) error {
	t := s.Get()
	fn(&t)
	return s.Set(t)
}

// Duration wraps time.Duration for YAML round-tripping in "5m30s" form.
// Bare integers are accepted as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(time.Duration(asInt) * time.Second)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds: %w", err)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// TimingsFile is the YAML shape of the timings section. Zero-valued fields
// fall back to DefaultTimings, so a config file only states overrides.
type TimingsFile struct {
	EntryTimeout          Duration `yaml:"entry_timeout,omitempty"`
	ExitTimeout           Duration `yaml:"exit_timeout,omitempty"`
	ReturnTimeout         Duration `yaml:"return_timeout,omitempty"`
	PauseLimit            Duration `yaml:"pause_limit,omitempty"`
	AlarmResponseTimeout  Duration `yaml:"alarm_response_timeout,omitempty"`
	ExitAdjustmentMinutes int      `yaml:"exit_adjustment_minutes,omitempty"`
	DedupeWindow          Duration `yaml:"dedupe_window,omitempty"`
	ReconfigureWindow     Duration `yaml:"reconfigure_window,omitempty"`
	ExitHysteresisFactor  float64  `yaml:"exit_hysteresis_factor,omitempty"`
	HeartbeatInterval     Duration `yaml:"heartbeat_interval,omitempty"`
	HeartbeatForeground   Duration `yaml:"heartbeat_foreground,omitempty"`
	HeartbeatBackground   Duration `yaml:"heartbeat_background,omitempty"`
	BootQueueCapacity     int      `yaml:"boot_queue_capacity,omitempty"`
	MaxEventAge           Duration `yaml:"max_event_age,omitempty"`
	ProcessingGuardWindow Duration `yaml:"processing_guard_window,omitempty"`
}

// Resolve merges the file values over the defaults.
func (f TimingsFile) Resolve() Timings {
	t := DefaultTimings()
	if f.EntryTimeout != 0 {
		t.EntryTimeout = time.Duration(f.EntryTimeout)
	}
	if f.ExitTimeout != 0 {
		t.ExitTimeout = time.Duration(f.ExitTimeout)
	}
	if f.ReturnTimeout != 0 {
		t.ReturnTimeout = time.Duration(f.ReturnTimeout)
	}
	if f.PauseLimit != 0 {
		t.PauseLimit = time.Duration(f.PauseLimit)
	}
	if f.AlarmResponseTimeout != 0 {
		t.AlarmResponseTimeout = time.Duration(f.AlarmResponseTimeout)
	}
	if f.ExitAdjustmentMinutes != 0 {
		t.ExitAdjustmentMinutes = f.ExitAdjustmentMinutes
	}
	if f.DedupeWindow != 0 {
		t.DedupeWindow = time.Duration(f.DedupeWindow)
	}
	if f.ReconfigureWindow != 0 {
		t.ReconfigureWindow = time.Duration(f.ReconfigureWindow)
	}
	if f.ExitHysteresisFactor != 0 {
		t.ExitHysteresisFactor = f.ExitHysteresisFactor
	}
	if f.HeartbeatInterval != 0 {
		t.HeartbeatInterval = time.Duration(f.HeartbeatInterval)
	}
	if f.HeartbeatForeground != 0 {
		t.HeartbeatForeground = time.Duration(f.HeartbeatForeground)
	}
	if f.HeartbeatBackground != 0 {
		t.HeartbeatBackground = time.Duration(f.HeartbeatBackground)
	}
	if f.BootQueueCapacity != 0 {
		t.BootQueueCapacity = f.BootQueueCapacity
	}
	if f.MaxEventAge != 0 {
		t.MaxEventAge = time.Duration(f.MaxEventAge)
	}
	if f.ProcessingGuardWindow != 0 {
		t.ProcessingGuardWindow = time.Duration(f.ProcessingGuardWindow)
	}
	return t
}

// Config is the daemon configuration file.
type Config struct {
	// ListenAddr is the HTTP adapter bind address.
	ListenAddr string `yaml:"listen_addr"`

	// DBPath is the SQLite database path.
	DBPath string `yaml:"db_path"`

	// UserID optionally pins the engine to a user; when empty the engine
	// resolves identity through the durable background-identity store.
	UserID string `yaml:"user_id,omitempty"`

	Timings TimingsFile `yaml:"timings,omitempty"`
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "127.0.0.1:8347",
		DBPath:     "geoshift.db",
	}
}

// Load reads and validates a YAML config file. A missing path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultConfig().DBPath
	}
	if err := cfg.Timings.Resolve().Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
