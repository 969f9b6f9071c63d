package domain

import (
	"fmt"
	"time"
)

// Direction is the side of a position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Position is an open ledger entry, keyed by the gateway order ID that
// opened it. The owning agent is the only writer permitted to close it.
type Position struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	Direction  Direction `json:"direction"`
	OwnerAgent string    `json:"owner_agent"`
	OpenedAt   time.Time `json:"opened_at"`
}

// NewPosition validates and constructs a ledger entry stamped with the
// current time.
func NewPosition(orderID, symbol string, size, entryPrice float64, direction Direction, ownerAgent string) (*Position, error) {
	if orderID == "" {
		return nil, fmt.Errorf("position order ID must not be empty")
	}
	if symbol == "" {
		return nil, fmt.Errorf("position symbol must not be empty")
	}
	if size <= 0 {
		return nil, fmt.Errorf("position size must be positive, got %v", size)
	}
	if entryPrice <= 0 {
		return nil, fmt.Errorf("position entry price must be positive, got %v", entryPrice)
	}
	if direction != DirectionLong && direction != DirectionShort {
		return nil, fmt.Errorf("unknown position direction %q", direction)
	}
	if ownerAgent == "" {
		return nil, fmt.Errorf("position owner agent must not be empty")
	}

	return &Position{
		OrderID:    orderID,
		Symbol:     symbol,
		Size:       size,
		EntryPrice: entryPrice,
		Direction:  direction,
		OwnerAgent: ownerAgent,
		OpenedAt:   time.Now(),
	}, nil
}

// Age returns how long the position has been open at the given instant.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// Exposure returns the capital committed to this position.
func (p *Position) Exposure() float64 {
	return p.Size
}
