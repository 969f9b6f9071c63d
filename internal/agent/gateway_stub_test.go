package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/swarmlab/apiary/internal/domain"
)

// stubGateway is a controllable MarketGateway for agent tests.
type stubGateway struct {
	mu           sync.Mutex
	priceFn      func(symbol string) (float64, error)
	chainFn      func(symbol string) (*domain.OptionChain, error)
	submitFn     func(req domain.OrderRequest) (*domain.OrderFill, error)
	closeFn      func(orderID string) (*domain.CloseResult, error)
	submitted    []domain.OrderRequest
	closedOrders []string
	orderSeq     int
}

func (g *stubGateway) CurrentPrice(_ context.Context, symbol string) (float64, error) {
	if g.priceFn != nil {
		return g.priceFn(symbol)
	}
	return 100.0, nil
}

func (g *stubGateway) OptionChain(_ context.Context, symbol string) (*domain.OptionChain, error) {
	if g.chainFn != nil {
		return g.chainFn(symbol)
	}
	return nil, domain.ErrUnavailable
}

func (g *stubGateway) SubmitOrder(_ context.Context, req domain.OrderRequest) (*domain.OrderFill, error) {
	g.mu.Lock()
	g.submitted = append(g.submitted, req)
	g.orderSeq++
	seq := g.orderSeq
	g.mu.Unlock()

	if g.submitFn != nil {
		return g.submitFn(req)
	}
	return &domain.OrderFill{OrderID: orderID(seq), Filled: true, Price: req.LimitPrice}, nil
}

func (g *stubGateway) ClosePosition(_ context.Context, id string) (*domain.CloseResult, error) {
	g.mu.Lock()
	g.closedOrders = append(g.closedOrders, id)
	g.mu.Unlock()

	if g.closeFn != nil {
		return g.closeFn(id)
	}
	return &domain.CloseResult{OrderID: id, RealizedPnL: 42.0}, nil
}

func (g *stubGateway) submittedOrders() []domain.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.OrderRequest, len(g.submitted))
	copy(out, g.submitted)
	return out
}

func orderID(seq int) string {
	return fmt.Sprintf("stub-order-%d", seq)
}
