// Package domain defines the core types shared across the trading console:
// orders, order lifecycle statuses, positions, instruments, and ticks.
package domain

import "time"

// Market segments and exchanges handled by the console.
const (
	ExchangeNSE = "NSE"
	ExchangeNFO = "NFO"

	SegmentOptions = "NFO-OPT"
	SegmentFutures = "NFO-FUT"
)

// Side is the transaction side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the opposing transaction side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the broker order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeSL     OrderType = "SL"   // stoploss limit
	OrderTypeSLM    OrderType = "SL-M" // stoploss market
)

// ---------------------------------------------------------------------------
// Order lifecycle
// ---------------------------------------------------------------------------

// OrderStatus is the broker-reported lifecycle state of an order. The broker
// reports statuses as free-form strings; the constants below cover the
// documented set. Anything else is treated as transitional so monitoring is
// never silently abandoned on an unrecognised value.
type OrderStatus string

const (
	// Terminal states.
	StatusComplete  OrderStatus = "COMPLETE"
	StatusRejected  OrderStatus = "REJECTED"
	StatusCancelled OrderStatus = "CANCELLED"

	// Active at the exchange, possibly partially filled.
	StatusOpen OrderStatus = "OPEN"

	// Transitional states.
	StatusPutOrderReqReceived     OrderStatus = "PUT ORDER REQ RECEIVED"
	StatusValidationPending       OrderStatus = "VALIDATION PENDING"
	StatusOpenPending             OrderStatus = "OPEN PENDING"
	StatusModifyValidationPending OrderStatus = "MODIFY VALIDATION PENDING"
	StatusModifyPending           OrderStatus = "MODIFY PENDING"
	StatusTriggerPending          OrderStatus = "TRIGGER PENDING"
	StatusCancelPending           OrderStatus = "CANCEL PENDING"
	StatusAMOReqReceived          OrderStatus = "AMO REQ RECEIVED"
)

// IsTerminal reports whether the status is final: no further transitions are
// applied and polling stops.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// IsOpen reports whether the order is resting at the exchange.
func (s OrderStatus) IsOpen() bool { return s == StatusOpen }

// IsTransitional reports whether the order is still moving through the
// broker's pipeline. Unknown statuses are transitional by definition.
func (s OrderStatus) IsTransitional() bool {
	return !s.IsTerminal() && !s.IsOpen()
}

// statusMessages maps known statuses to operator-friendly descriptions.
var statusMessages = map[OrderStatus]string{
	StatusPutOrderReqReceived:     "Order request received",
	StatusValidationPending:       "Validating order with risk management",
	StatusOpenPending:             "Sending order to exchange",
	StatusOpen:                    "Order active at exchange",
	StatusComplete:                "Order fully executed",
	StatusCancelled:               "Order cancelled",
	StatusModifyValidationPending: "Validating modification request",
	StatusModifyPending:           "Sending modification to exchange",
	StatusTriggerPending:          "Waiting for trigger price",
	StatusCancelPending:           "Cancellation request sent to exchange",
	StatusAMOReqReceived:          "After market order received",
}

// StatusInfo returns the message to show a user for a status snapshot. The
// broker's own message wins when present; REJECTED falls back to the raw
// exchange/RMS text so the rejection reason is never lost.
func StatusInfo(status OrderStatus, message, rawMessage string) string {
	if message != "" {
		return message
	}
	if status == StatusRejected {
		if rawMessage != "" {
			return rawMessage
		}
		return "Order rejected by exchange/RMS"
	}
	if m, ok := statusMessages[status]; ok {
		return m
	}
	return "Status: " + string(status)
}

// OrderRequest is a new-order submission to the gateway.
type OrderRequest struct {
	Symbol       string    `json:"tradingsymbol"`
	Exchange     string    `json:"exchange"`
	Side         Side      `json:"transaction_type"`
	Quantity     int64     `json:"quantity"`
	OrderType    OrderType `json:"order_type"`
	Price        float64   `json:"price,omitempty"`
	TriggerPrice float64   `json:"trigger_price,omitempty"`
	Product      string    `json:"product"`
	Validity     string    `json:"validity,omitempty"`
	Tag          string    `json:"tag,omitempty"`
}

// OrderModification carries the fields of an open order a user may change.
// Zero values mean "leave unchanged".
type OrderModification struct {
	Quantity  int64     `json:"quantity,omitempty"`
	Price     float64   `json:"price,omitempty"`
	OrderType OrderType `json:"order_type,omitempty"`
}

// OrderSnapshot is one broker status report for an order, either from a
// single status query or from the bulk open-order list.
type OrderSnapshot struct {
	OrderID          string      `json:"order_id"`
	Status           OrderStatus `json:"status"`
	Quantity         int64       `json:"quantity"`
	FilledQuantity   int64       `json:"filled_quantity"`
	PendingQuantity  int64       `json:"pending_quantity"`
	AveragePrice     float64     `json:"average_price"`
	Price            float64     `json:"price"`
	StatusMessage    string      `json:"status_message"`
	StatusMessageRaw string      `json:"status_message_raw"`
}

// Order is a tracked order as the console sees it. It is owned by the order
// tracker and mutated only by snapshot application.
type Order struct {
	OrderID       string      `json:"order_id"`
	Symbol        string      `json:"tradingsymbol"`
	Exchange      string      `json:"exchange"`
	Side          Side        `json:"transaction_type"`
	Quantity      int64       `json:"quantity"`
	FilledQty     int64       `json:"filled_quantity"`
	PendingQty    int64       `json:"pending_quantity"`
	Price         float64     `json:"price"`
	AveragePrice  float64     `json:"average_price"`
	Status        OrderStatus `json:"status"`
	StatusMessage string      `json:"status_message"`
	IsAutoOrder   bool        `json:"is_auto_order"`
	CreatedAt     time.Time   `json:"created_at"`
	LastCheckedAt time.Time   `json:"last_checked_at"`
}

// FullyFilled reports whether the broker executed the entire requested
// quantity.
func (o *Order) FullyFilled() bool {
	return o.Status == StatusComplete && o.FilledQty == o.Quantity
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// Position is the local per-symbol view of net exposure built from fills.
// NetQuantity is signed: positive long, negative short, zero flat.
type Position struct {
	Symbol         string    `json:"symbol"`
	NetQuantity    int64     `json:"net_quantity"`
	TotalBuyQty    int64     `json:"total_buy_qty"`
	TotalSellQty   int64     `json:"total_sell_qty"`
	TotalBuyValue  float64   `json:"total_buy_value"`
	TotalSellValue float64   `json:"total_sell_value"`
	AvgPrice       float64   `json:"avg_price"`
	CurrentPrice   float64   `json:"current_price"`
	RealizedPL     float64   `json:"realized_pl"`
	LastUpdated    time.Time `json:"last_updated"`
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Instrument is one row of the broker instrument dump.
type Instrument struct {
	Token          uint32  `json:"instrument_token"`
	Symbol         string  `json:"tradingsymbol"`
	Name           string  `json:"name"`
	Exchange       string  `json:"exchange"`
	Segment        string  `json:"segment"`
	Expiry         string  `json:"expiry"` // YYYY-MM-DD, empty for non-derivatives
	Strike         float64 `json:"strike"`
	LotSize        int64   `json:"lot_size"`
	TickSize       float64 `json:"tick_size"`
	InstrumentType string  `json:"instrument_type"` // CE, PE, FUT, EQ
}

// Tick is one live price update from the feed.
type Tick struct {
	InstrumentToken uint32    `json:"instrument_token"`
	LastPrice       float64   `json:"last_price"`
	Volume          int64     `json:"volume,omitempty"`
	OpenInterest    int64     `json:"oi,omitempty"`
	Timestamp       time.Time `json:"timestamp,omitempty"`
}

// Profile is the authenticated broker account identity.
type Profile struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Email    string `json:"email"`
}
