package httpapi

import (
	"time"

	"tradeease/internal/autotrade"
	"tradeease/internal/domain"
)

// SessionRequest carries the access token obtained from the broker's login
// flow.
type SessionRequest struct {
	AccessToken string `json:"access_token"`
}

// SessionResponse reports the current session state.
type SessionResponse struct {
	Authenticated bool            `json:"authenticated"`
	Profile       *domain.Profile `json:"profile,omitempty"`
}

// PlaceOrderRequest is the body of POST /api/orders.
type PlaceOrderRequest struct {
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	Side         string  `json:"side"`
	Quantity     int64   `json:"quantity"`
	OrderType    string  `json:"order_type"`
	Price        float64 `json:"price,omitempty"`
	TriggerPrice float64 `json:"trigger_price,omitempty"`
	Product      string  `json:"product,omitempty"`
	Validity     string  `json:"validity,omitempty"`

	// AutoOpposite arms an automatic opposite-side order once this one
	// fills. AutoOffset overrides the configured default offset.
	AutoOpposite bool    `json:"auto_opposite,omitempty"`
	AutoOffset   float64 `json:"auto_offset,omitempty"`
}

// PlaceOrderResponse returns the broker order ID.
type PlaceOrderResponse struct {
	OrderID string `json:"order_id"`
}

// ModifyOrderRequest is the body of PUT /api/orders/{id}. Zero-valued fields
// are left unchanged.
type ModifyOrderRequest struct {
	Quantity  int64   `json:"quantity,omitempty"`
	Price     float64 `json:"price,omitempty"`
	OrderType string  `json:"order_type,omitempty"`
}

// OrderJSON is the wire shape of a tracked order.
type OrderJSON struct {
	OrderID       string    `json:"order_id"`
	Symbol        string    `json:"symbol"`
	Exchange      string    `json:"exchange"`
	Side          string    `json:"side"`
	Quantity      int64     `json:"quantity"`
	FilledQty     int64     `json:"filled_quantity"`
	PendingQty    int64     `json:"pending_quantity"`
	Price         float64   `json:"price"`
	AveragePrice  float64   `json:"average_price"`
	Status        string    `json:"status"`
	StatusMessage string    `json:"status_message"`
	IsAutoOrder   bool      `json:"is_auto_order"`
	CreatedAt     time.Time `json:"created_at"`
}

func toOrderJSON(o domain.Order) OrderJSON {
	return OrderJSON{
		OrderID:       o.OrderID,
		Symbol:        o.Symbol,
		Exchange:      o.Exchange,
		Side:          string(o.Side),
		Quantity:      o.Quantity,
		FilledQty:     o.FilledQty,
		PendingQty:    o.PendingQty,
		Price:         o.Price,
		AveragePrice:  o.AveragePrice,
		Status:        string(o.Status),
		StatusMessage: o.StatusMessage,
		IsAutoOrder:   o.IsAutoOrder,
		CreatedAt:     o.CreatedAt,
	}
}

// OrdersResponse lists tracked orders.
type OrdersResponse struct {
	Orders []OrderJSON `json:"orders"`
}

// PositionJSON is the wire shape of one position, with mark-to-market P&L
// resolved at response time.
type PositionJSON struct {
	Symbol       string  `json:"symbol"`
	NetQuantity  int64   `json:"net_quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
	RealizedPL   float64 `json:"realized_pl"`
	UnrealizedPL float64 `json:"unrealized_pl"`
	TotalPL      float64 `json:"total_pl"`
}

// PositionsResponse lists positions and portfolio totals.
type PositionsResponse struct {
	Positions       []PositionJSON `json:"positions"`
	TotalRealized   float64        `json:"total_realized"`
	TotalUnrealized float64        `json:"total_unrealized"`
}

// ResetPositionsRequest names a symbol to reset, or all when empty.
type ResetPositionsRequest struct {
	Symbol string `json:"symbol,omitempty"`
}

// AutoTradeResponse reports the auto-opposite engine's state.
type AutoTradeResponse struct {
	Pending []string         `json:"pending"`
	Pairs   []autotrade.Pair `json:"pairs"`
}

// InstrumentsResponse lists catalog matches.
type InstrumentsResponse struct {
	Instruments []domain.Instrument `json:"instruments"`
}

// ExpiriesResponse lists option expiry dates for an underlying.
type ExpiriesResponse struct {
	Name     string   `json:"name"`
	Expiries []string `json:"expiries"`
}
