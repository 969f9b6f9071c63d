package agent

import (
	"context"
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/swarmlab/apiary/internal/domain"
	"github.com/swarmlab/apiary/internal/environment"
)

// clampScore bounds a score to [0,1]. Scorers are pluggable and untrusted
// beyond the interface contract.
func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Min(1, math.Max(0, s))
}

// StaticScorer returns a fixed score for every symbol. Used in tests and
// as a dead-simple baseline.
type StaticScorer struct {
	Value float64
}

// Score implements domain.Scorer.
func (s StaticScorer) Score(_ context.Context, _ string, _ float64) (float64, error) {
	return clampScore(s.Value), nil
}

// TechnicalScorer scores opportunities from the cached price window using
// RSI, an EMA trend check and return dispersion, optionally blended with an
// option-chain skew factor when a gateway is provided. The weights and
// thresholds are illustrative placeholders, not a tested trading signal.
type TechnicalScorer struct {
	Env     *environment.Environment
	Gateway domain.MarketGateway // optional; enables the chain blend

	// Indicator periods. Zero values fall back to defaults.
	RSIPeriod     int
	FastEMAPeriod int
	SlowEMAPeriod int
}

const (
	defaultRSIPeriod = 14
	defaultFastEMA   = 10
	defaultSlowEMA   = 30

	// Blend weights when option-chain data is available (chain / technical).
	chainWeight     = 0.4
	technicalWeight = 0.6
)

// Score implements domain.Scorer.
func (t *TechnicalScorer) Score(ctx context.Context, symbol string, price float64) (float64, error) {
	technical := t.technicalScore(symbol)

	if t.Gateway == nil {
		return clampScore(technical), nil
	}

	chain, err := t.Gateway.OptionChain(ctx, symbol)
	if err != nil || chain == nil || len(chain.Strikes) < 3 {
		// Chain data is an enhancement; its absence degrades to the
		// technical score alone.
		return clampScore(technical), nil
	}

	skew := chainSkewScore(chain.Strikes, price)
	return clampScore(chainWeight*skew + technicalWeight*technical), nil
}

// technicalScore builds a score from the cached price window: neutral 0.5
// base, adjusted by RSI extremes, EMA trend direction and return
// dispersion.
func (t *TechnicalScorer) technicalScore(symbol string) float64 {
	prices := t.Env.PriceHistory(symbol)

	score := 0.5

	rsiPeriod := t.RSIPeriod
	if rsiPeriod == 0 {
		rsiPeriod = defaultRSIPeriod
	}
	if len(prices) > rsiPeriod {
		rsi := talib.Rsi(prices, rsiPeriod)
		last := rsi[len(rsi)-1]
		switch {
		case last < 30:
			score += 0.2 // oversold
		case last > 70:
			score -= 0.2 // overbought
		}
	}

	fast := t.FastEMAPeriod
	slow := t.SlowEMAPeriod
	if fast == 0 {
		fast = defaultFastEMA
	}
	if slow == 0 {
		slow = defaultSlowEMA
	}
	if len(prices) >= slow {
		fastEMA := talib.Ema(prices, fast)
		slowEMA := talib.Ema(prices, slow)
		if fastEMA[len(fastEMA)-1] > slowEMA[len(slowEMA)-1] {
			score += 0.15
		}
	}

	if vol := returnDispersion(prices); vol > HighVolatilityThreshold {
		score += 0.1
	}

	return score
}

// returnDispersion is the standard deviation of per-observation returns.
func returnDispersion(prices []float64) float64 {
	if len(prices) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 {
			returns = append(returns, prices[i]/prices[i-1]-1)
		}
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

// chainSkewScore derives a score from how far the at-the-money strike sits
// from the centre of the listed strikes. A strongly one-sided chain hints
// at directional positioning around the current price.
func chainSkewScore(strikes []float64, price float64) float64 {
	atmIndex := 0
	best := math.Inf(1)
	for i, strike := range strikes {
		if d := math.Abs(strike - price); d < best {
			best = d
			atmIndex = i
		}
	}

	if atmIndex == 0 || atmIndex == len(strikes)-1 {
		return 0.5
	}

	skew := math.Abs(float64(atmIndex)/float64(len(strikes)) - 0.5)
	return 0.6 + 0.3*skew
}
