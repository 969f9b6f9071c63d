// Package domain holds the core swarm trading types: decaying signals,
// ledger positions, and the boundary interfaces to market gateways and
// scorers. It has no dependencies on the rest of the module.
package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// SignalKind classifies a signal deposited in the environment.
type SignalKind string

const (
	// SignalOpportunity marks a potential trade discovered by a scout.
	SignalOpportunity SignalKind = "opportunity"
	// SignalDanger marks a risk condition raised by the drone or queen.
	SignalDanger SignalKind = "danger"
	// SignalResources announces a capital allocation made by the queen.
	SignalResources SignalKind = "resources"
	// SignalCoordination carries swarm-wide directives from the queen.
	SignalCoordination SignalKind = "coordination"
)

const (
	// DefaultDecayRate is the per-minute exponential decay applied to every
	// signal's strength.
	DefaultDecayRate = 0.05

	// MaxSignalAge is the hard horizon past which a signal is expired
	// regardless of its remaining strength.
	MaxSignalAge = 30 * time.Minute

	// MinSignalStrength is the floor below which a decayed signal no longer
	// carries information and is treated as expired.
	MinSignalStrength = 0.01
)

// Signal is a decaying pheromone-style marker in the shared environment.
// Signals are immutable after creation; freshness is always computed from
// the deposit time, never stored.
type Signal struct {
	ID          string            `json:"id"`
	Kind        SignalKind        `json:"kind"`
	Symbol      string            `json:"symbol"`
	PriceLevel  float64           `json:"price_level"`
	Strength    float64           `json:"strength"`
	CreatedAt   time.Time         `json:"created_at"`
	SourceAgent string            `json:"source_agent"`
	DecayRate   float64           `json:"decay_rate"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewSignal validates and constructs a signal stamped with the current
// time. The metadata map is copied so later mutation by the caller cannot
// change a deposited signal.
func NewSignal(kind SignalKind, symbol string, priceLevel, strength float64, sourceAgent string, metadata map[string]string) (*Signal, error) {
	switch kind {
	case SignalOpportunity, SignalDanger, SignalResources, SignalCoordination:
	default:
		return nil, fmt.Errorf("unknown signal kind %q", kind)
	}
	if symbol == "" {
		return nil, fmt.Errorf("signal symbol must not be empty")
	}
	if sourceAgent == "" {
		return nil, fmt.Errorf("signal source agent must not be empty")
	}
	if math.IsNaN(strength) || strength < 0 || strength > 1 {
		return nil, fmt.Errorf("signal strength must be in [0,1], got %v", strength)
	}
	if math.IsNaN(priceLevel) || math.IsInf(priceLevel, 0) || priceLevel < 0 {
		return nil, fmt.Errorf("signal price level must be finite and non-negative, got %v", priceLevel)
	}

	var meta map[string]string
	if len(metadata) > 0 {
		meta = make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}

	return &Signal{
		ID:          uuid.New().String(),
		Kind:        kind,
		Symbol:      symbol,
		PriceLevel:  priceLevel,
		Strength:    strength,
		CreatedAt:   time.Now(),
		SourceAgent: sourceAgent,
		DecayRate:   DefaultDecayRate,
		Metadata:    meta,
	}, nil
}

// Age returns how long the signal has existed at the given instant.
func (s *Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// CurrentStrength returns the exponentially decayed strength at the given
// instant: strength * e^(-decayRate * ageMinutes).
func (s *Signal) CurrentStrength(now time.Time) float64 {
	age := s.Age(now)
	if age <= 0 {
		return s.Strength
	}
	return s.Strength * math.Exp(-s.DecayRate*age.Minutes())
}

// IsExpired reports whether the signal is past the age horizon or has
// decayed below the strength floor.
func (s *Signal) IsExpired(now time.Time) bool {
	return s.Age(now) > MaxSignalAge || s.CurrentStrength(now) < MinSignalStrength
}
