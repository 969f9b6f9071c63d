// Package agent implements the swarm role hierarchy: queen (strategy and
// capital allocation), scouts (opportunity discovery), workers (execution
// and position management) and the drone (risk monitoring). Roles never
// call each other; all coordination flows through the shared environment.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmlab/apiary/internal/domain"
	"github.com/swarmlab/apiary/internal/environment"
)

// Kind identifies an agent's role.
type Kind string

const (
	KindQueen  Kind = "queen"
	KindScout  Kind = "scout"
	KindWorker Kind = "worker"
	KindDrone  Kind = "drone"
)

// Synthetic symbols for portfolio-wide and system-wide signals.
const (
	SymbolPortfolio = "PORTFOLIO"
	SymbolSystem    = "SYSTEM"
	SymbolMarket    = "MARKET"
)

// Energy model constants. Energy throttles a role under sustained load and
// recovers while resting.
const (
	// RestThreshold is the energy level below which an agent rests.
	RestThreshold = 0.3
	// RestRecovery is the energy regained per resting cycle.
	RestRecovery = 0.05

	queenEnergyCost  = 0.01
	scoutEnergyCost  = 0.02
	workerEnergyCost = 0.03
	droneEnergyCost  = 0.01
)

// Agent is the common contract every role satisfies. RunCycle is invoked
// once per scheduling tick by the orchestrator; it must return normally
// even when external calls fail.
type Agent interface {
	ID() string
	Kind() Kind
	RunCycle(ctx context.Context)
	Interval() time.Duration
	Active() bool
	Deactivate()
	Stats() Stats
}

// Stats is a point-in-time snapshot of an agent's counters.
type Stats struct {
	ID        string  `json:"id"`
	Kind      Kind    `json:"kind"`
	Energy    float64 `json:"energy"`
	Attempted uint64  `json:"actions_attempted"`
	Succeeded uint64  `json:"actions_succeeded"`
	PnL       float64 `json:"pnl_contribution"`
	Active    bool    `json:"active"`
}

// SuccessRate returns succeeded/attempted, zero when nothing was attempted.
func (s Stats) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Attempted)
}

// base carries the lifecycle state shared by every role: identity, energy,
// counters and the environment reference. Embedded by each role struct.
type base struct {
	id   string
	kind Kind
	env  *environment.Environment
	log  zerolog.Logger

	interval time.Duration

	mu        sync.Mutex
	active    bool
	energy    float64
	attempted uint64
	succeeded uint64
	pnl       float64
}

func newBase(id string, kind Kind, env *environment.Environment, interval time.Duration, log zerolog.Logger) base {
	return base{
		id:       id,
		kind:     kind,
		env:      env,
		interval: interval,
		log:      log.With().Str("agent", id).Str("role", string(kind)).Logger(),
		active:   true,
		energy:   1.0,
	}
}

func (b *base) ID() string              { return b.id }
func (b *base) Kind() Kind              { return b.kind }
func (b *base) Interval() time.Duration { return b.interval }

// Active reports whether the orchestrator still wants this agent running.
func (b *base) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Deactivate flips the active flag. The agent finishes its in-flight cycle;
// the flag is only checked at the top of the scheduling loop.
func (b *base) Deactivate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
}

// Stats returns a snapshot of the agent's counters.
func (b *base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		ID:        b.id,
		Kind:      b.kind,
		Energy:    b.energy,
		Attempted: b.attempted,
		Succeeded: b.succeeded,
		PnL:       b.pnl,
		Active:    b.active,
	}
}

// adjustEnergy moves the energy level by delta, clamped to [0,1].
func (b *base) adjustEnergy(delta float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.energy += delta
	if b.energy < 0 {
		b.energy = 0
	}
	if b.energy > 1 {
		b.energy = 1
	}
	if b.energy < 0.1 {
		b.log.Warn().Float64("energy", b.energy).Msg("Agent energy critically low")
	}
}

// ShouldRest reports whether the agent is too fatigued to act this cycle.
func (b *base) ShouldRest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.energy < RestThreshold
}

// rest is the no-op cycle: the agent only recovers energy.
func (b *base) rest() {
	b.adjustEnergy(RestRecovery)
}

// recordAttempt bumps the attempt counter, and the success counter when ok.
func (b *base) recordAttempt(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempted++
	if ok {
		b.succeeded++
	}
}

// addPnL accumulates realized profit/loss attributed to this agent.
func (b *base) addPnL(delta float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pnl += delta
}

// emit validates and deposits a signal. Construction failures are data
// errors: logged, counted against nothing, and the cycle continues.
func (b *base) emit(kind domain.SignalKind, symbol string, priceLevel, strength float64, metadata map[string]string) {
	sig, err := domain.NewSignal(kind, symbol, priceLevel, strength, b.id, metadata)
	if err != nil {
		b.log.Error().Err(err).Str("kind", string(kind)).Str("symbol", symbol).Msg("Rejected invalid signal")
		return
	}
	b.env.Deposit(sig)
	b.log.Debug().
		Str("kind", string(kind)).
		Str("symbol", symbol).
		Float64("strength", strength).
		Msg("Signal deposited")
}

// sense reads non-expired signals of a kind from the environment,
// strongest first. Empty symbol matches all symbols.
func (b *base) sense(kind domain.SignalKind, symbol string) []*domain.Signal {
	return b.env.Query(kind, symbol)
}
