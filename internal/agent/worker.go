package agent

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmlab/apiary/internal/domain"
	"github.com/swarmlab/apiary/internal/environment"
)

// Worker trading constants.
const (
	// TopOpportunities is how many of the strongest opportunity signals a
	// worker considers per cycle.
	TopOpportunities = 3

	// MinTradeSize is the smallest allocation a worker will trade against.
	MinTradeSize = 1000.0

	// RiskPerTrade is the fraction of a symbol's allocation committed to a
	// single trade.
	RiskPerTrade = 0.02

	// MaxPositionSize is the hard cap on any single position.
	MaxPositionSize = 10000.0

	// MaxHoldingPeriod is the age at which a position is closed regardless
	// of signals.
	MaxHoldingPeriod = 24 * time.Hour

	// HighRiskThreshold is the danger strength that forces an exit on an
	// open position's symbol.
	HighRiskThreshold = 0.7

	// ReinforcementFactor scales the reinforcement signal a worker deposits
	// after a fill. Strictly below 1 so reinforcement can only decay, never
	// amplify.
	ReinforcementFactor = 0.8

	// reduceActivityFloor is the coordination strength above which a worker
	// honours the queen's reduce-activity directive.
	reduceActivityFloor = 0.5
)

// Worker consumes opportunity signals and executes trades through the
// gateway. Each worker owns the positions it opens and is the only writer
// permitted to close them.
type Worker struct {
	base
	gateway  domain.MarketGateway
	recorder domain.TradeRecorder
}

// NewWorker creates an execution agent.
func NewWorker(id string, env *environment.Environment, gateway domain.MarketGateway, interval time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		base:    newBase(id, KindWorker, env, interval, log),
		gateway: gateway,
	}
}

// SetRecorder attaches an optional closed-trade recorder. Must be called
// before the worker starts cycling.
func (w *Worker) SetRecorder(r domain.TradeRecorder) {
	w.recorder = r
}

// RunCycle processes the strongest opportunities, then manages this
// worker's open positions. Resting workers recover energy and do nothing
// else; position management still runs when the queen advises reduced
// activity, only new trades are suppressed.
func (w *Worker) RunCycle(ctx context.Context) {
	if w.ShouldRest() {
		w.rest()
		return
	}

	if w.reduceActivityAdvised() {
		w.log.Debug().Msg("Coordination signal advises reduced activity, skipping new trades")
	} else {
		w.processOpportunities(ctx)
	}
	w.managePositions(ctx)

	w.adjustEnergy(-workerEnergyCost)
}

// reduceActivityAdvised checks the queen's advisory coordination signals.
func (w *Worker) reduceActivityAdvised() bool {
	now := w.env.Now()
	for _, sig := range w.sense(domain.SignalCoordination, SymbolSystem) {
		if sig.Metadata["action"] == "reduce_activity" && sig.CurrentStrength(now) > reduceActivityFloor {
			return true
		}
	}
	return false
}

// processOpportunities walks the top opportunities and opens positions
// where risk signals and allocations permit. Every considered opportunity
// counts as an attempt; only a confirmed fill counts as a success.
func (w *Worker) processOpportunities(ctx context.Context) {
	now := w.env.Now()

	opportunities := w.sense(domain.SignalOpportunity, "")
	if len(opportunities) > TopOpportunities {
		opportunities = opportunities[:TopOpportunities]
	}

	for _, opp := range opportunities {
		oppStrength := opp.CurrentStrength(now)

		// Skip when any single competing danger signal is stronger than the
		// opportunity. The rule is max, not sum: one strong warning beats
		// many weak ones, many weak ones do not add up to a veto.
		if w.maxDangerStrength(opp.Symbol, now) > oppStrength {
			w.log.Info().Str("symbol", opp.Symbol).Msg("Skipping opportunity due to stronger risk signal")
			w.recordAttempt(false)
			continue
		}

		allocation := w.env.Allocation(opp.Symbol)
		if allocation < MinTradeSize {
			w.log.Debug().
				Str("symbol", opp.Symbol).
				Float64("allocation", allocation).
				Msg("Allocation below minimum trade size, skipping")
			w.recordAttempt(false)
			continue
		}

		w.recordAttempt(w.executeTrade(ctx, opp, allocation, oppStrength))
	}
}

// maxDangerStrength returns the strongest current danger signal on a
// symbol, zero when there is none.
func (w *Worker) maxDangerStrength(symbol string, now time.Time) float64 {
	max := 0.0
	for _, d := range w.sense(domain.SignalDanger, symbol) {
		if s := d.CurrentStrength(now); s > max {
			max = s
		}
	}
	return max
}

// executeTrade submits an order sized from the symbol's allocation, and on
// a confirmed fill records the ledger entry and reinforces the originating
// signal downward.
func (w *Worker) executeTrade(ctx context.Context, opp *domain.Signal, allocation, oppStrength float64) bool {
	size := allocation * RiskPerTrade
	if size > MaxPositionSize {
		size = MaxPositionSize
	}

	direction := domain.DirectionLong
	if opp.Metadata["direction"] == string(domain.DirectionShort) {
		direction = domain.DirectionShort
	}

	fill, err := w.gateway.SubmitOrder(ctx, domain.OrderRequest{
		Symbol:     opp.Symbol,
		Direction:  direction,
		Size:       size,
		LimitPrice: opp.PriceLevel,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			w.log.Debug().Str("symbol", opp.Symbol).Msg("Gateway unavailable, skipping trade this cycle")
		} else {
			w.log.Warn().Err(err).Str("symbol", opp.Symbol).Msg("Order submission failed")
		}
		return false
	}
	if !fill.Filled {
		w.log.Warn().Str("symbol", opp.Symbol).Str("order_id", fill.OrderID).Msg("Order not filled")
		return false
	}

	entryPrice := fill.Price
	if entryPrice <= 0 {
		entryPrice = opp.PriceLevel
	}

	pos, err := domain.NewPosition(fill.OrderID, opp.Symbol, size, entryPrice, direction, w.id)
	if err != nil {
		// Data error: the fill produced an entry the ledger must not hold.
		w.log.Error().Err(err).Str("symbol", opp.Symbol).Msg("Rejected invalid ledger entry")
		return false
	}
	w.env.AddPosition(pos)

	// Reinforce the trail from its already-decayed strength, scaled down.
	// Reinforcement never amplifies; trails strengthen only through fresh
	// discoveries by scouts.
	w.emit(domain.SignalOpportunity, opp.Symbol, opp.PriceLevel, oppStrength*ReinforcementFactor, map[string]string{
		"reinforcement": "true",
		"worker_id":     w.id,
	})

	w.log.Info().
		Str("symbol", opp.Symbol).
		Str("direction", string(direction)).
		Float64("size", size).
		Float64("price", entryPrice).
		Str("order_id", fill.OrderID).
		Msg("Trade executed")
	return true
}

// managePositions walks this worker's open positions and closes the ones
// past the holding period or under a high-risk danger signal.
func (w *Worker) managePositions(ctx context.Context) {
	now := w.env.Now()

	for _, pos := range w.env.Positions() {
		if pos.OwnerAgent != w.id {
			continue
		}

		highRisk := w.maxDangerStrength(pos.Symbol, now) > HighRiskThreshold
		tooOld := pos.Age(now) > MaxHoldingPeriod
		if !highRisk && !tooOld {
			continue
		}

		w.closePosition(ctx, pos, highRisk)
	}
}

// closePosition closes one position through the gateway. The ledger entry
// is removed only after the gateway confirms, and removal happens exactly
// once even if a concurrent path already closed it.
func (w *Worker) closePosition(ctx context.Context, pos *domain.Position, highRisk bool) {
	res, err := w.gateway.ClosePosition(ctx, pos.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			w.log.Debug().Str("order_id", pos.OrderID).Msg("Gateway unavailable, deferring close")
		} else {
			w.log.Warn().Err(err).Str("order_id", pos.OrderID).Msg("Failed to close position")
		}
		w.recordAttempt(false)
		return
	}

	if _, ok := w.env.RemovePosition(pos.OrderID); !ok {
		// Already removed; nothing to record twice.
		return
	}

	w.addPnL(res.RealizedPnL)
	w.recordAttempt(true)
	if w.recorder != nil {
		if err := w.recorder.RecordClosedTrade(ctx, pos, res.RealizedPnL, w.env.Now()); err != nil {
			w.log.Warn().Err(err).Str("order_id", pos.OrderID).Msg("Failed to journal closed trade")
		}
	}
	w.log.Info().
		Str("symbol", pos.Symbol).
		Str("order_id", pos.OrderID).
		Bool("high_risk", highRisk).
		Float64("pnl", res.RealizedPnL).
		Msg("Position closed")
}
