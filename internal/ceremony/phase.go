// Package ceremony holds the server-authoritative session state: the fixed
// phase sequence and its timing, per-room rosters and readiness, and the
// merge handshake. The server is the single source of truth for phase
// boundaries; clients are only ever told about transitions, they never
// decide them locally.
package ceremony

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Phase is a named stage in the ceremony arc.
type Phase string

const (
	// PhaseLobby is the initial state, waiting for participants.
	PhaseLobby Phase = "lobby"
	// PhaseArrival is solo settling into the space.
	PhaseArrival Phase = "arrival"
	// PhaseSensing is perceiving distant presences.
	PhaseSensing Phase = "sensing"
	// PhaseApproach is moving toward resonance.
	PhaseApproach Phase = "approach"
	// PhaseEncounter is merging and shared experience.
	PhaseEncounter Phase = "encounter"
	// PhaseRelease is separation.
	PhaseRelease Phase = "release"
	// PhaseReflection is solo integration.
	PhaseReflection Phase = "reflection"
	// PhaseComplete is terminal; no timer is ever scheduled from it.
	PhaseComplete Phase = "complete"
)

// Sequence is the ordered ceremony arc between lobby and complete. Rooms
// advance strictly forward through it, one timer expiry at a time.
var Sequence = []Phase{
	PhaseArrival,
	PhaseSensing,
	PhaseApproach,
	PhaseEncounter,
	PhaseRelease,
	PhaseReflection,
}

// Durations maps each timed phase to its nominal length. Read-only after
// startup; lobby and complete are unbounded and have no entry.
type Durations map[Phase]time.Duration

// DefaultDurations returns the standard ceremony timing.
func DefaultDurations() Durations {
	return Durations{
		PhaseArrival:    3 * time.Minute,
		PhaseSensing:    3 * time.Minute,
		PhaseApproach:   5 * time.Minute,
		PhaseEncounter:  10 * time.Minute,
		PhaseRelease:    3 * time.Minute,
		PhaseReflection: 2 * time.Minute,
	}
}

// Total returns the full ceremony length, lobby and complete excluded.
func (d Durations) Total() time.Duration {
	var sum time.Duration
	for _, p := range Sequence {
		sum += d[p]
	}
	return sum
}

// Validate checks that every timed phase has a positive duration and that
// no unknown phases are present.
func (d Durations) Validate() error {
	for _, p := range Sequence {
		if d[p] <= 0 {
			return fmt.Errorf("phase %q: duration must be positive", p)
		}
	}
	for p := range d {
		if _, ok := d.indexOf(p); !ok {
			return fmt.Errorf("phase %q: not a timed phase", p)
		}
	}
	return nil
}

func (d Durations) indexOf(p Phase) (int, bool) {
	for i, s := range Sequence {
		if s == p {
			return i, true
		}
	}
	return 0, false
}

// LoadDurations reads per-phase overrides from a YAML file mapping phase
// name to a Go duration string (e.g. "arrival: 90s") and applies them on
// top of the defaults.
func LoadDurations(path string) (Durations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phase config: %w", err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse phase config: %w", err)
	}

	durations := DefaultDurations()
	for name, val := range raw {
		dur, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("phase %q: %w", name, err)
		}
		durations[Phase(name)] = dur
	}

	if err := durations.Validate(); err != nil {
		return nil, err
	}
	return durations, nil
}
