package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/swarmlab/apiary/internal/domain"
	"github.com/swarmlab/apiary/internal/environment"
)

// Queen strategy constants.
const (
	// AllocationFraction caps how much of the capital budget the queen
	// distributes across symbols per allocation pass.
	AllocationFraction = 0.10

	// RiskTolerance is the exposure/budget ratio above which the queen
	// raises a portfolio danger signal.
	RiskTolerance = 0.02

	// Volatility proxy thresholds on the dispersion of recent
	// per-observation returns. Coarse by design; the regime signal is a
	// directive, not a forecast.
	HighVolatilityThreshold = 0.020
	LowVolatilityThreshold  = 0.005
)

// Regime labels carried in coordination signal metadata.
const (
	RegimeHighVolatility = "high_volatility"
	RegimeLowVolatility  = "low_volatility"
	RegimeNormal         = "normal"
)

// Queen is the singleton strategic agent. It aggregates signal density,
// allocates capital across symbols, broadcasts regime directives, and
// watches portfolio-level exposure. It never executes trades.
type Queen struct {
	base
	symbols []string
	budget  float64
}

// NewQueen creates the queen for a swarm.
func NewQueen(id string, env *environment.Environment, symbols []string, budget float64, interval time.Duration, log zerolog.Logger) (*Queen, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("queen capital budget must be positive, got %v", budget)
	}
	return &Queen{
		base:    newBase(id, KindQueen, env, interval, log),
		symbols: symbols,
		budget:  budget,
	}, nil
}

// RunCycle performs one strategic pass: swarm assessment, resource
// allocation, regime coordination, and portfolio risk monitoring.
func (q *Queen) RunCycle(ctx context.Context) {
	if q.ShouldRest() {
		q.rest()
		return
	}

	q.assessSwarm()
	q.allocateResources()
	q.coordinateRegime()
	q.monitorRisk()

	q.adjustEnergy(-queenEnergyCost)
	q.recordAttempt(true)
}

// assessSwarm compares danger density against opportunity density and asks
// the swarm to slow down when risk dominates. Advisory: workers check this
// before opening new trades, other roles may ignore it.
func (q *Queen) assessSwarm() {
	opportunities := q.env.SignalCount(domain.SignalOpportunity)
	dangers := q.env.SignalCount(domain.SignalDanger)

	if dangers > opportunities*2 {
		q.emit(domain.SignalCoordination, SymbolSystem, 0, 0.8, map[string]string{
			"action": "reduce_activity",
			"reason": "high_risk_environment",
		})
		q.log.Warn().
			Int("dangers", dangers).
			Int("opportunities", opportunities).
			Msg("High risk environment, signaling activity reduction")
	}
}

// allocateResources distributes a fixed fraction of the budget across
// symbols proportionally to each symbol's share of total opportunity
// strength, then announces each allocation with a resources signal.
// Allocations written in earlier passes persist for symbols that have
// since dropped out of the opportunity set, so the budget-fraction cap
// holds per pass, not cumulatively across passes.
func (q *Queen) allocateResources() {
	now := q.env.Now()

	bySymbol := make(map[string]float64)
	total := 0.0
	for _, opp := range q.sense(domain.SignalOpportunity, "") {
		s := opp.CurrentStrength(now)
		bySymbol[opp.Symbol] += s
		total += s
	}
	if total <= 0 {
		return
	}

	for symbol, strength := range bySymbol {
		share := strength / total
		capital := q.budget * AllocationFraction * share
		q.env.SetAllocation(symbol, capital)

		q.emit(domain.SignalResources, symbol, 0, share, map[string]string{
			"allocated_capital": fmt.Sprintf("%.2f", capital),
		})
	}
}

// coordinateRegime estimates a coarse volatility proxy from cached price
// history and broadcasts the corresponding strategy directive.
func (q *Queen) coordinateRegime() {
	volatility := q.estimateVolatility()

	regime := RegimeNormal
	action := "balanced"
	switch {
	case volatility > HighVolatilityThreshold:
		regime = RegimeHighVolatility
		action = "defensive"
	case volatility < LowVolatilityThreshold:
		regime = RegimeLowVolatility
		action = "opportunistic"
	}

	q.emit(domain.SignalCoordination, SymbolMarket, volatility, 0.7, map[string]string{
		"regime":             regime,
		"recommended_action": action,
	})
}

// estimateVolatility returns the average dispersion of per-observation
// returns across symbols with enough cached history. Zero when no symbol
// has history yet, which maps to the low-volatility regime: a cold-started
// swarm is told to be opportunistic rather than defensive.
func (q *Queen) estimateVolatility() float64 {
	sum := 0.0
	n := 0
	for _, symbol := range q.symbols {
		prices := q.env.PriceHistory(symbol)
		if len(prices) < 3 {
			continue
		}
		returns := make([]float64, 0, len(prices)-1)
		for i := 1; i < len(prices); i++ {
			if prices[i-1] > 0 {
				returns = append(returns, prices[i]/prices[i-1]-1)
			}
		}
		if len(returns) < 2 {
			continue
		}
		sum += stat.StdDev(returns, nil)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// monitorRisk raises a portfolio-wide danger signal when total absolute
// exposure exceeds the risk tolerance relative to the budget.
func (q *Queen) monitorRisk() {
	exposure := q.env.TotalExposure()
	ratio := exposure / q.budget

	if ratio > RiskTolerance {
		q.emit(domain.SignalDanger, SymbolPortfolio, ratio, 0.9, map[string]string{
			"risk_type":     "portfolio_overexposure",
			"current_ratio": fmt.Sprintf("%.4f", ratio),
		})
		q.log.Warn().Float64("ratio", ratio).Msg("Portfolio risk tolerance exceeded")
	}
}
