// Package sim implements a simulated market gateway: random-walk prices,
// probabilistic fills and synthetic option chains. It exists for dev mode
// and orchestrator tests; nothing about it resembles a real market.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/swarmlab/apiary/internal/domain"
)

const (
	// stepVolatility is the stddev of one random-walk step.
	stepVolatility = 0.002

	// fillProbability is the chance a submitted order fills.
	fillProbability = 0.95

	defaultStartPrice = 100.0
)

// Gateway is a concurrency-safe simulated domain.MarketGateway.
type Gateway struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	orders map[string]domain.OrderRequest
}

// New creates a simulator seeded with starting prices for the given
// symbols. Unknown symbols get a default starting price on first access.
func New(symbols []string, seed int64) *Gateway {
	g := &Gateway{
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]float64, len(symbols)),
		orders: make(map[string]domain.OrderRequest),
	}
	for i, sym := range symbols {
		// Spread the universe out so symbols are distinguishable in logs.
		g.prices[sym] = defaultStartPrice + float64(i)*50
	}
	return g
}

// CurrentPrice advances the symbol's random walk one step and returns the
// new price.
func (g *Gateway) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.ErrUnavailable
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	price, ok := g.prices[symbol]
	if !ok {
		price = defaultStartPrice
	}
	price *= 1 + g.rng.NormFloat64()*stepVolatility
	if price < 1 {
		price = 1
	}
	g.prices[symbol] = price
	return price, nil
}

// OptionChain synthesizes a strike ladder around the current price.
func (g *Gateway) OptionChain(ctx context.Context, symbol string) (*domain.OptionChain, error) {
	price, err := g.CurrentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	base := math.Round(price/5) * 5
	strikes := make([]float64, 0, 11)
	for i := -5; i <= 5; i++ {
		strikes = append(strikes, base+float64(i)*5)
	}
	return &domain.OptionChain{
		Symbol:      symbol,
		Strikes:     strikes,
		Expirations: []string{"20260918", "20261016", "20261120"},
	}, nil
}

// SubmitOrder fills with a fixed probability at the limit price, or at the
// simulated market price for market orders.
func (g *Gateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderFill, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrUnavailable
	}
	if req.Symbol == "" || req.Size <= 0 {
		return nil, fmt.Errorf("invalid order: symbol=%q size=%v", req.Symbol, req.Size)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := uuid.New().String()
	if g.rng.Float64() > fillProbability {
		return &domain.OrderFill{OrderID: id, Filled: false}, nil
	}

	price := req.LimitPrice
	if price <= 0 {
		if p, ok := g.prices[req.Symbol]; ok {
			price = p
		} else {
			price = defaultStartPrice
		}
	}

	g.orders[id] = req
	return &domain.OrderFill{OrderID: id, Filled: true, Price: price}, nil
}

// ClosePosition closes a previously filled order with a random PnL
// proportional to its size. Unknown order IDs are treated as already
// closed, with zero PnL, so close retries stay harmless.
func (g *Gateway) ClosePosition(ctx context.Context, orderID string) (*domain.CloseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrUnavailable
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.orders[orderID]
	if !ok {
		return &domain.CloseResult{OrderID: orderID}, nil
	}
	delete(g.orders, orderID)

	// Roughly +-2% of committed size.
	pnl := req.Size * g.rng.NormFloat64() * 0.02
	return &domain.CloseResult{OrderID: orderID, RealizedPnL: pnl}, nil
}

// OpenOrderCount reports how many filled orders have not been closed.
func (g *Gateway) OpenOrderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}
