package ibkr

// snapshotResponse is the market data snapshot payload.
type snapshotResponse struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
}

// chainResponse is the option chain payload.
type chainResponse struct {
	Symbol      string    `json:"symbol"`
	Strikes     []float64 `json:"strikes"`
	Expirations []string  `json:"expirations"`
}

// orderPayload is the order submission request body.
type orderPayload struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	LimitPrice float64 `json:"limit_price,omitempty"`
}

// orderResponse is the order submission reply.
type orderResponse struct {
	OrderID  string  `json:"order_id"`
	Status   string  `json:"status"`
	AvgPrice float64 `json:"avg_price"`
}

// closeResponse is the position close reply.
type closeResponse struct {
	OrderID     string  `json:"order_id"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// streamTick is one price update on the market data websocket.
type streamTick struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
}
