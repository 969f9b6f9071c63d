package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmlab/apiary/internal/domain"
	"github.com/swarmlab/apiary/internal/environment"
)

// Drone risk thresholds.
const (
	// ConcentrationThreshold is the maximum fraction of total exposure any
	// single symbol may carry before the drone raises a warning.
	ConcentrationThreshold = 0.3

	// MinDistinctSymbols is the diversification floor: at or below this
	// many distinct symbols in the ledger, the drone flags correlation
	// risk.
	MinDistinctSymbols = 5
)

// Drone is the monitoring agent. It scans the position ledger on a longer
// interval than the trading roles and deposits danger signals for
// concentration and diversification risk. It never trades.
type Drone struct {
	base
}

// NewDrone creates the swarm's monitoring agent.
func NewDrone(id string, env *environment.Environment, interval time.Duration, log zerolog.Logger) *Drone {
	return &Drone{base: newBase(id, KindDrone, env, interval, log)}
}

// RunCycle performs one monitoring pass over the ledger.
func (d *Drone) RunCycle(ctx context.Context) {
	if d.ShouldRest() {
		d.rest()
		return
	}

	d.monitorConcentration()
	d.monitorDiversification()

	d.adjustEnergy(-droneEnergyCost)
	d.recordAttempt(true)
}

// monitorConcentration deposits a danger signal for every symbol whose
// share of total exposure exceeds the concentration threshold.
func (d *Drone) monitorConcentration() {
	exposures := d.env.ExposureBySymbol()

	total := 0.0
	for _, e := range exposures {
		total += e
	}
	if total <= 0 {
		return
	}

	for symbol, exposure := range exposures {
		fraction := exposure / total
		if fraction <= ConcentrationThreshold {
			continue
		}
		d.emit(domain.SignalDanger, symbol, 0, fraction, map[string]string{
			"risk_type":      "concentration",
			"exposure_ratio": fmt.Sprintf("%.4f", fraction),
		})
		d.log.Warn().
			Str("symbol", symbol).
			Float64("fraction", fraction).
			Msg("Concentration risk detected")
	}
}

// monitorDiversification flags a portfolio holding positions in too few
// distinct symbols. A single position is a sizing question, not a
// correlation one, so the check needs at least two open positions.
func (d *Drone) monitorDiversification() {
	positions := d.env.Positions()
	if len(positions) < 2 {
		return
	}

	distinct := make(map[string]struct{})
	for _, pos := range positions {
		distinct[pos.Symbol] = struct{}{}
	}
	if len(distinct) > MinDistinctSymbols {
		return
	}

	d.emit(domain.SignalDanger, SymbolPortfolio, 0, 0.8, map[string]string{
		"risk_type":   "correlation",
		"num_symbols": fmt.Sprintf("%d", len(distinct)),
	})
	d.log.Warn().
		Int("distinct_symbols", len(distinct)).
		Msg("Low diversification detected")
}
