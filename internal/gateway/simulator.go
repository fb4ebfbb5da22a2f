package gateway

import (
	"context"
	"fmt"
	"sync"

	"tradeease/internal/domain"
)

// Compile-time interface check.
var _ Gateway = (*SimGateway)(nil)

// SimGateway implements the Gateway interface for paper trading. Orders are
// kept in memory and walk a fixed lifecycle: one step per status poll, from
// receipt through OPEN to COMPLETE. That makes every run deterministic while
// still exercising the transitional states a live broker produces.
type SimGateway struct {
	mu            sync.Mutex
	nextID        int
	orders        map[string]*simOrder
	prices        map[string]float64
	rejections    map[string]string // symbol -> RMS rejection reason
	authenticated bool
}

type simOrder struct {
	req  domain.OrderRequest
	snap domain.OrderSnapshot
}

// NewSimGateway creates a SimGateway with no orders. It starts
// authenticated; paper trading has no login flow.
func NewSimGateway() *SimGateway {
	return &SimGateway{
		nextID:        100000,
		orders:        make(map[string]*simOrder),
		prices:        make(map[string]float64),
		rejections:    make(map[string]string),
		authenticated: true,
	}
}

// Name returns "sim".
func (g *SimGateway) Name() string { return "sim" }

// SetAccessToken toggles the simulated session: any non-empty token
// authenticates, an empty one de-authenticates.
func (g *SimGateway) SetAccessToken(token string) {
	g.mu.Lock()
	g.authenticated = token != ""
	g.mu.Unlock()
}

// Authenticated reports the simulated session state.
func (g *SimGateway) Authenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authenticated
}

// SetPrice sets the simulated last traded price used to fill MARKET orders
// in the given symbol.
func (g *SimGateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	g.prices[symbol] = price
	g.mu.Unlock()
}

// RejectSymbol makes every subsequent order in symbol end REJECTED with the
// given reason, mimicking an RMS block.
func (g *SimGateway) RejectSymbol(symbol, reason string) {
	g.mu.Lock()
	g.rejections[symbol] = reason
	g.mu.Unlock()
}

// SubmitOrder validates and records the order. The order is accepted in the
// "PUT ORDER REQ RECEIVED" state and advances on subsequent polls.
func (g *SimGateway) SubmitOrder(_ context.Context, req domain.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.authenticated {
		return "", ErrNotAuthenticated
	}

	if req.Quantity <= 0 {
		return "", &RejectionError{Code: "InputException", Message: "quantity must be positive"}
	}
	if req.OrderType == domain.OrderTypeLimit && req.Price <= 0 {
		return "", &RejectionError{Code: "InputException", Message: "limit orders require a price"}
	}

	g.nextID++
	id := fmt.Sprintf("SIM%d", g.nextID)
	g.orders[id] = &simOrder{
		req: req,
		snap: domain.OrderSnapshot{
			OrderID:         id,
			Status:          domain.StatusPutOrderReqReceived,
			Quantity:        req.Quantity,
			PendingQuantity: req.Quantity,
			Price:           req.Price,
		},
	}
	return id, nil
}

// ModifyOrder updates price, quantity, or order type of a pending order.
func (g *SimGateway) ModifyOrder(_ context.Context, orderID string, mod domain.OrderModification) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.authenticated {
		return ErrNotAuthenticated
	}

	o, ok := g.orders[orderID]
	if !ok {
		return ErrUnknownOrder
	}
	if o.snap.Status.IsTerminal() {
		return &RejectionError{Code: "OrderException", Message: "order is not open"}
	}

	if mod.Quantity > 0 {
		o.snap.Quantity = mod.Quantity
		o.snap.PendingQuantity = mod.Quantity - o.snap.FilledQuantity
		o.req.Quantity = mod.Quantity
	}
	if mod.Price > 0 {
		o.snap.Price = mod.Price
		o.req.Price = mod.Price
	}
	if mod.OrderType != "" {
		o.req.OrderType = mod.OrderType
	}
	return nil
}

// CancelOrder cancels a pending order.
func (g *SimGateway) CancelOrder(_ context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.authenticated {
		return ErrNotAuthenticated
	}

	o, ok := g.orders[orderID]
	if !ok {
		return ErrUnknownOrder
	}
	if o.snap.Status.IsTerminal() {
		return &RejectionError{Code: "OrderException", Message: "order is not open"}
	}

	o.snap.Status = domain.StatusCancelled
	o.snap.PendingQuantity = 0
	return nil
}

// OrderStatus advances the order one lifecycle step and returns its
// snapshot.
func (g *SimGateway) OrderStatus(_ context.Context, orderID string) (*domain.OrderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.authenticated {
		return nil, ErrNotAuthenticated
	}

	o, ok := g.orders[orderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	g.advance(o)
	snap := o.snap
	return &snap, nil
}

// ListOrders advances every order one lifecycle step and returns all
// snapshots.
func (g *SimGateway) ListOrders(_ context.Context) ([]domain.OrderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.authenticated {
		return nil, ErrNotAuthenticated
	}

	out := make([]domain.OrderSnapshot, 0, len(g.orders))
	for _, o := range g.orders {
		g.advance(o)
		out = append(out, o.snap)
	}
	return out, nil
}

// Profile returns a fixed paper-trading profile.
func (g *SimGateway) Profile(_ context.Context) (*domain.Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.authenticated {
		return nil, ErrNotAuthenticated
	}
	return &domain.Profile{UserID: "SIM001", UserName: "Paper Trader", Email: "paper@localhost"}, nil
}

// advance moves one order a single lifecycle step. Callers hold g.mu.
func (g *SimGateway) advance(o *simOrder) {
	switch o.snap.Status {
	case domain.StatusPutOrderReqReceived:
		if reason, blocked := g.rejections[o.req.Symbol]; blocked {
			o.snap.Status = domain.StatusRejected
			o.snap.StatusMessageRaw = reason
			o.snap.PendingQuantity = 0
			return
		}
		o.snap.Status = domain.StatusOpen
	case domain.StatusOpen:
		o.snap.Status = domain.StatusComplete
		o.snap.FilledQuantity = o.snap.Quantity
		o.snap.PendingQuantity = 0
		o.snap.AveragePrice = g.fillPrice(o)
	}
	// Terminal states never move again.
}

func (g *SimGateway) fillPrice(o *simOrder) float64 {
	if o.req.OrderType == domain.OrderTypeLimit && o.req.Price > 0 {
		return o.req.Price
	}
	if p, ok := g.prices[o.req.Symbol]; ok {
		return p
	}
	if o.req.Price > 0 {
		return o.req.Price
	}
	return 100.0
}
