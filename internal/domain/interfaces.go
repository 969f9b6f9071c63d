package domain

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by gateway implementations when market data or
// execution is temporarily unavailable (timeout, connectivity, market
// closed). Agents treat it as a skip-this-cycle condition, never fatal.
var ErrUnavailable = errors.New("gateway unavailable")

// OrderRequest describes an order submitted to the market gateway.
type OrderRequest struct {
	Symbol     string
	Direction  Direction
	Size       float64
	LimitPrice float64 // 0 means market order
}

// OrderFill is the gateway's response to a submitted order.
type OrderFill struct {
	OrderID string
	Filled  bool
	Price   float64
}

// CloseResult is the gateway's response to closing a position.
type CloseResult struct {
	OrderID     string
	RealizedPnL float64
}

// OptionChain is the strike/expiration surface for a symbol, used by
// enhanced scouts for chain-aware scoring.
type OptionChain struct {
	Symbol      string
	Strikes     []float64
	Expirations []string
}

// MarketGateway is the boundary to the external market collaborator
// (broker API, simulator). Implementations must be safe for concurrent use
// by many agents, and must honour the context deadline on every call.
type MarketGateway interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	OptionChain(ctx context.Context, symbol string) (*OptionChain, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderFill, error)
	ClosePosition(ctx context.Context, orderID string) (*CloseResult, error)
}

// TradeRecorder receives closed trades for downstream persistence. The
// swarm works identically without one; recorder failures are logged and
// never fail the closing cycle.
type TradeRecorder interface {
	RecordClosedTrade(ctx context.Context, pos *Position, realizedPnL float64, closedAt time.Time) error
}

// Scorer evaluates a trading opportunity for a symbol at the current price,
// returning a score in [0,1]. Scoring strategies are pluggable; the
// implementations shipped here are illustrative, not a tested edge.
type Scorer interface {
	Score(ctx context.Context, symbol string, price float64) (float64, error)
}
