// Package environment implements the shared store through which swarm
// agents coordinate indirectly: a decaying signal collection, a market
// price cache, the ledger of open positions, and the per-symbol resource
// table. All mutation goes through narrow lock-guarded methods; readers get
// copies, never the internal collections.
package environment

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/swarmlab/apiary/internal/domain"
)

const (
	// PriceToleranceUnits controls gradient sensing: signals within a few
	// price units of the probed level still reinforce it, weighted by
	// exp(-|distance|/tolerance).
	PriceToleranceUnits = 5.0

	// priceHistoryWindow bounds the per-symbol history kept for scoring and
	// regime estimation.
	priceHistoryWindow = 120
)

// Environment is the single shared instance per orchestrator run.
// Each collection has its own mutex; contention is low so this is enough.
type Environment struct {
	nowFn func() time.Time

	signalsMu sync.RWMutex
	signals   []*domain.Signal

	marketMu sync.RWMutex
	prices   map[string]float64
	history  map[string][]float64

	ledgerMu  sync.RWMutex
	positions map[string]*domain.Position

	resourcesMu sync.RWMutex
	resources   map[string]float64
}

// New creates an empty environment using the wall clock.
func New() *Environment {
	return &Environment{
		nowFn:     time.Now,
		prices:    make(map[string]float64),
		history:   make(map[string][]float64),
		positions: make(map[string]*domain.Position),
		resources: make(map[string]float64),
	}
}

// SetClock overrides the clock used for decay and expiry. Test hook.
func (e *Environment) SetClock(now func() time.Time) {
	e.nowFn = now
}

// Now returns the environment's current time. Agents use this for decay
// math so one pinned clock drives the whole swarm.
func (e *Environment) Now() time.Time {
	return e.nowFn()
}

// Deposit appends a signal to the collection and prunes expired entries.
// Pruning on every deposit keeps the collection small; it never removes an
// unexpired signal.
func (e *Environment) Deposit(sig *domain.Signal) {
	if sig == nil {
		return
	}
	now := e.nowFn()

	e.signalsMu.Lock()
	defer e.signalsMu.Unlock()

	e.signals = append(e.signals, sig)
	e.pruneLocked(now)
}

// Prune removes expired signals. Called from the maintenance sweep so an
// idle swarm does not accumulate dead signals between deposits.
func (e *Environment) Prune() int {
	now := e.nowFn()

	e.signalsMu.Lock()
	defer e.signalsMu.Unlock()

	before := len(e.signals)
	e.pruneLocked(now)
	return before - len(e.signals)
}

// pruneLocked removes expired signals in place. Caller holds signalsMu.
func (e *Environment) pruneLocked(now time.Time) {
	live := e.signals[:0]
	for _, s := range e.signals {
		if !s.IsExpired(now) {
			live = append(live, s)
		}
	}
	// Drop references so pruned signals can be collected.
	for i := len(live); i < len(e.signals); i++ {
		e.signals[i] = nil
	}
	e.signals = live
}

// Query returns all non-expired signals of the given kind, optionally
// filtered by symbol (empty symbol matches all), ordered by descending
// current strength. Consumers treat index 0 as the strongest current
// belief. An empty result is a normal outcome.
func (e *Environment) Query(kind domain.SignalKind, symbol string) []*domain.Signal {
	now := e.nowFn()

	// Snapshot under the read lock, filter and sort outside it.
	e.signalsMu.RLock()
	snapshot := make([]*domain.Signal, len(e.signals))
	copy(snapshot, e.signals)
	e.signalsMu.RUnlock()

	matched := make([]*domain.Signal, 0, len(snapshot))
	for _, s := range snapshot {
		if s.Kind != kind || s.IsExpired(now) {
			continue
		}
		if symbol != "" && s.Symbol != symbol {
			continue
		}
		matched = append(matched, s)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CurrentStrength(now) > matched[j].CurrentStrength(now)
	})

	return matched
}

// SignalStrength returns the distance-weighted sum of current strengths of
// matching signals around a price level. Nearby-but-not-identical levels
// reinforce each other, approximating pheromone-gradient sensing.
func (e *Environment) SignalStrength(kind domain.SignalKind, symbol string, priceLevel float64) float64 {
	now := e.nowFn()
	total := 0.0
	for _, s := range e.Query(kind, symbol) {
		distance := math.Abs(s.PriceLevel - priceLevel)
		weight := math.Exp(-distance / PriceToleranceUnits)
		total += s.CurrentStrength(now) * weight
	}
	return total
}

// SignalCount returns the number of live signals, optionally restricted to
// one kind (empty kind counts everything).
func (e *Environment) SignalCount(kind domain.SignalKind) int {
	now := e.nowFn()

	e.signalsMu.RLock()
	defer e.signalsMu.RUnlock()

	n := 0
	for _, s := range e.signals {
		if s.IsExpired(now) {
			continue
		}
		if kind != "" && s.Kind != kind {
			continue
		}
		n++
	}
	return n
}

// ObservePrice records the latest observed price for a symbol and appends
// it to the bounded history window. Prices reach the environment through
// agents, never through the environment itself.
func (e *Environment) ObservePrice(symbol string, price float64) {
	if symbol == "" || price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}

	e.marketMu.Lock()
	defer e.marketMu.Unlock()

	e.prices[symbol] = price
	h := append(e.history[symbol], price)
	if len(h) > priceHistoryWindow {
		h = h[len(h)-priceHistoryWindow:]
	}
	e.history[symbol] = h
}

// LastPrice returns the most recent observed price for a symbol.
func (e *Environment) LastPrice(symbol string) (float64, bool) {
	e.marketMu.RLock()
	defer e.marketMu.RUnlock()

	p, ok := e.prices[symbol]
	return p, ok
}

// PriceHistory returns a copy of the recent price window for a symbol.
func (e *Environment) PriceHistory(symbol string) []float64 {
	e.marketMu.RLock()
	defer e.marketMu.RUnlock()

	h := e.history[symbol]
	out := make([]float64, len(h))
	copy(out, h)
	return out
}

// AddPosition inserts a ledger entry keyed by order ID.
func (e *Environment) AddPosition(pos *domain.Position) {
	if pos == nil {
		return
	}

	e.ledgerMu.Lock()
	defer e.ledgerMu.Unlock()

	e.positions[pos.OrderID] = pos
}

// RemovePosition removes and returns the ledger entry for an order ID.
// The second return is false if the entry was already removed, which makes
// position closing naturally idempotent.
func (e *Environment) RemovePosition(orderID string) (*domain.Position, bool) {
	e.ledgerMu.Lock()
	defer e.ledgerMu.Unlock()

	pos, ok := e.positions[orderID]
	if !ok {
		return nil, false
	}
	delete(e.positions, orderID)
	return pos, true
}

// Position returns the ledger entry for an order ID without removing it.
func (e *Environment) Position(orderID string) (*domain.Position, bool) {
	e.ledgerMu.RLock()
	defer e.ledgerMu.RUnlock()

	pos, ok := e.positions[orderID]
	return pos, ok
}

// Positions returns a copy of all open ledger entries.
func (e *Environment) Positions() []*domain.Position {
	e.ledgerMu.RLock()
	defer e.ledgerMu.RUnlock()

	out := make([]*domain.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, pos)
	}
	return out
}

// PositionCount returns the number of open positions.
func (e *Environment) PositionCount() int {
	e.ledgerMu.RLock()
	defer e.ledgerMu.RUnlock()

	return len(e.positions)
}

// TotalExposure sums absolute exposure across all open positions.
func (e *Environment) TotalExposure() float64 {
	e.ledgerMu.RLock()
	defer e.ledgerMu.RUnlock()

	total := 0.0
	for _, pos := range e.positions {
		total += pos.Exposure()
	}
	return total
}

// ExposureBySymbol returns per-symbol absolute exposure.
func (e *Environment) ExposureBySymbol() map[string]float64 {
	e.ledgerMu.RLock()
	defer e.ledgerMu.RUnlock()

	out := make(map[string]float64, len(e.positions))
	for _, pos := range e.positions {
		out[pos.Symbol] += pos.Exposure()
	}
	return out
}

// SetAllocation writes the capital allocated to a symbol. Negative values
// are clamped to zero so the resource table invariant holds no matter what
// a caller computes.
func (e *Environment) SetAllocation(symbol string, capital float64) {
	if symbol == "" || math.IsNaN(capital) || math.IsInf(capital, 0) {
		return
	}
	if capital < 0 {
		capital = 0
	}

	e.resourcesMu.Lock()
	defer e.resourcesMu.Unlock()

	e.resources[symbol] = capital
}

// Allocation returns the capital allocated to a symbol (zero when unset).
func (e *Environment) Allocation(symbol string) float64 {
	e.resourcesMu.RLock()
	defer e.resourcesMu.RUnlock()

	return e.resources[symbol]
}

// Allocations returns a copy of the whole resource table.
func (e *Environment) Allocations() map[string]float64 {
	e.resourcesMu.RLock()
	defer e.resourcesMu.RUnlock()

	out := make(map[string]float64, len(e.resources))
	for k, v := range e.resources {
		out[k] = v
	}
	return out
}

// TotalAllocated sums the resource table.
func (e *Environment) TotalAllocated() float64 {
	e.resourcesMu.RLock()
	defer e.resourcesMu.RUnlock()

	total := 0.0
	for _, v := range e.resources {
		total += v
	}
	return total
}
