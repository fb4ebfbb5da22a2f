package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"tradeease/internal/domain"
	"tradeease/internal/util"
)

// Compile-time interface check.
var _ Gateway = (*KiteGateway)(nil)

// KiteGateway implements the Gateway interface on the official Kite Connect
// client. All console orders use the regular variety; Kite also supports
// "amo", "co", and "iceberg".
type KiteGateway struct {
	kc      *kiteconnect.Client
	limiter *util.RateLimiter

	mu          sync.RWMutex
	accessToken string
}

// NewKiteGateway creates a KiteGateway for the given API key. baseURL
// overrides the client's endpoint when non-empty, which is how tests point it
// at a local server. The gateway is unauthenticated until SetAccessToken is
// called.
func NewKiteGateway(apiKey, baseURL string) *KiteGateway {
	kc := kiteconnect.New(apiKey)
	kc.SetTimeout(10 * time.Second)
	if baseURL != "" {
		kc.SetBaseURI(strings.TrimRight(baseURL, "/"))
	}
	return &KiteGateway{
		kc: kc,
		// Kite Connect caps order APIs at roughly 3 requests per second.
		limiter: util.NewRateLimiter(3, 3),
	}
}

// Name returns "kite".
func (g *KiteGateway) Name() string { return "kite" }

// SetAccessToken installs the session token obtained from the Kite login
// flow. An empty token de-authenticates the gateway.
func (g *KiteGateway) SetAccessToken(token string) {
	g.mu.Lock()
	g.accessToken = token
	g.mu.Unlock()
	g.kc.SetAccessToken(token)
}

// Authenticated reports whether a session token is installed.
func (g *KiteGateway) Authenticated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.accessToken != ""
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// SubmitOrder places a regular-variety order and returns the broker order ID.
func (g *KiteGateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := g.acquire(ctx, "submit order"); err != nil {
		return "", err
	}

	params := kiteconnect.OrderParams{
		Exchange:        req.Exchange,
		Tradingsymbol:   req.Symbol,
		TransactionType: string(req.Side),
		Quantity:        int(req.Quantity),
		OrderType:       string(req.OrderType),
		Product:         req.Product,
		Validity:        req.Validity,
		Tag:             req.Tag,
	}
	if req.OrderType == domain.OrderTypeLimit || req.OrderType == domain.OrderTypeSL {
		params.Price = req.Price
	}
	if req.OrderType == domain.OrderTypeSL || req.OrderType == domain.OrderTypeSLM {
		params.TriggerPrice = req.TriggerPrice
	}

	resp, err := g.kc.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return "", g.mapError("submit order", err)
	}
	if resp.OrderID == "" {
		return "", &TransportError{Op: "submit order", Err: fmt.Errorf("no order_id in response")}
	}
	return resp.OrderID, nil
}

// ModifyOrder changes price, quantity, or order type of a pending order.
func (g *KiteGateway) ModifyOrder(ctx context.Context, orderID string, mod domain.OrderModification) error {
	if mod.Quantity <= 0 && mod.Price <= 0 && mod.OrderType == "" {
		return nil
	}
	params := kiteconnect.OrderParams{
		OrderType: string(mod.OrderType),
	}
	if mod.Quantity > 0 {
		params.Quantity = int(mod.Quantity)
	}
	if mod.Price > 0 {
		params.Price = mod.Price
	}

	if err := g.acquire(ctx, "modify order"); err != nil {
		return err
	}
	if _, err := g.kc.ModifyOrder(kiteconnect.VarietyRegular, orderID, params); err != nil {
		return g.mapError("modify order", err)
	}
	return nil
}

// CancelOrder requests cancellation of a pending order.
func (g *KiteGateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := g.acquire(ctx, "cancel order"); err != nil {
		return err
	}
	if _, err := g.kc.CancelOrder(kiteconnect.VarietyRegular, orderID, nil); err != nil {
		return g.mapError("cancel order", err)
	}
	return nil
}

// OrderStatus returns the latest snapshot of one order. Kite has no
// single-order status endpoint that fits polling budgets, so the full order
// book is fetched and filtered, matching how its order history behaves.
func (g *KiteGateway) OrderStatus(ctx context.Context, orderID string) (*domain.OrderSnapshot, error) {
	orders, err := g.listOrders(ctx)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].OrderID == orderID {
			return snapshot(&orders[i]), nil
		}
	}
	return nil, ErrUnknownOrder
}

// ListOrders returns snapshots of all orders in the current session.
func (g *KiteGateway) ListOrders(ctx context.Context) ([]domain.OrderSnapshot, error) {
	orders, err := g.listOrders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderSnapshot, 0, len(orders))
	for i := range orders {
		out = append(out, *snapshot(&orders[i]))
	}
	return out, nil
}

func (g *KiteGateway) listOrders(ctx context.Context) (kiteconnect.Orders, error) {
	if err := g.acquire(ctx, "list orders"); err != nil {
		return nil, err
	}
	orders, err := g.kc.GetOrders()
	if err != nil {
		return nil, g.mapError("list orders", err)
	}
	return orders, nil
}

// Profile returns the authenticated user's profile.
func (g *KiteGateway) Profile(ctx context.Context) (*domain.Profile, error) {
	if err := g.acquire(ctx, "profile"); err != nil {
		return nil, err
	}
	up, err := g.kc.GetUserProfile()
	if err != nil {
		return nil, g.mapError("profile", err)
	}
	return &domain.Profile{UserID: up.UserID, UserName: up.UserName, Email: up.Email}, nil
}

// ---------------------------------------------------------------------------
// Plumbing
// ---------------------------------------------------------------------------

// acquire gates a broker call on authentication and the rate limit.
func (g *KiteGateway) acquire(ctx context.Context, op string) error {
	if !g.Authenticated() {
		return ErrNotAuthenticated
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return nil
}

// mapError folds Kite client errors into the gateway taxonomy.
func (g *KiteGateway) mapError(op string, err error) error {
	var kerr kiteconnect.Error
	if !errors.As(err, &kerr) {
		// Connection-level failures surface as plain errors.
		return &TransportError{Op: op, Err: err}
	}

	switch kerr.ErrorType {
	case kiteconnect.TokenError:
		// The session died out from under us. Drop the token so callers
		// stop polling until a fresh one is installed.
		g.SetAccessToken("")
		return fmt.Errorf("%w: %s", ErrNotAuthenticated, kerr.Message)
	case kiteconnect.NetworkError, kiteconnect.GeneralError:
		return &TransportError{Op: op, Err: err}
	default:
		return &RejectionError{Code: kerr.ErrorType, Message: kerr.Message}
	}
}

// snapshot maps a Kite order book entry onto the domain snapshot. Kite
// reports quantities as floats; they are whole contract counts in practice.
func snapshot(o *kiteconnect.Order) *domain.OrderSnapshot {
	return &domain.OrderSnapshot{
		OrderID:          o.OrderID,
		Status:           domain.OrderStatus(o.Status),
		Quantity:         int64(o.Quantity),
		FilledQuantity:   int64(o.FilledQuantity),
		PendingQuantity:  int64(o.PendingQuantity),
		Price:            o.Price,
		AveragePrice:     o.AveragePrice,
		StatusMessage:    o.StatusMessage,
		StatusMessageRaw: o.StatusMessageRaw,
	}
}
