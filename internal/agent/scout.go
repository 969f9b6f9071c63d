package agent

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmlab/apiary/internal/domain"
	"github.com/swarmlab/apiary/internal/environment"
)

// OpportunityThreshold is the minimum score a scout requires before it
// deposits an opportunity signal.
const OpportunityThreshold = 0.6

// Scout discovers trading opportunities on its owned symbols. Symbols are
// partitioned at startup so every symbol has exactly one owning scout.
// Scouting is the most energy-intensive role; a fatigued scout stops
// scouting until it recovers.
type Scout struct {
	base
	symbols []string
	gateway domain.MarketGateway
	scorer  domain.Scorer
}

// NewScout creates a scout owning the given symbol partition.
func NewScout(id string, env *environment.Environment, symbols []string, gateway domain.MarketGateway, scorer domain.Scorer, interval time.Duration, log zerolog.Logger) *Scout {
	return &Scout{
		base:    newBase(id, KindScout, env, interval, log),
		symbols: symbols,
		gateway: gateway,
		scorer:  scorer,
	}
}

// Symbols returns the scout's owned partition.
func (s *Scout) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// RunCycle scans every owned symbol once. Gateway failures degrade the
// affected symbol's scan only, never the cycle or the swarm.
func (s *Scout) RunCycle(ctx context.Context) {
	if s.ShouldRest() {
		s.rest()
		return
	}

	for _, symbol := range s.symbols {
		s.scoutSymbol(ctx, symbol)
	}

	s.adjustEnergy(-scoutEnergyCost)
}

func (s *Scout) scoutSymbol(ctx context.Context, symbol string) {
	price, err := s.gateway.CurrentPrice(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			s.log.Debug().Str("symbol", symbol).Msg("Price unavailable, skipping symbol this cycle")
		} else {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to get price")
		}
		s.recordAttempt(false)
		return
	}

	// Market data reaches the environment through agents only.
	s.env.ObservePrice(symbol, price)

	score, err := s.scorer.Score(ctx, symbol, price)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Scoring failed")
		s.recordAttempt(false)
		return
	}
	score = clampScore(score)

	if score > OpportunityThreshold {
		s.emit(domain.SignalOpportunity, symbol, price, score, map[string]string{
			"basis":    "technical_pattern",
			"scout_id": s.id,
		})
		s.log.Info().
			Str("symbol", symbol).
			Float64("price", price).
			Float64("score", score).
			Msg("Opportunity detected")
		s.recordAttempt(true)
		return
	}

	s.recordAttempt(false)
}
