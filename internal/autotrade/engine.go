// Package autotrade turns a filled order into an automatic opposite-side
// limit order at a configured profit offset, squaring the position off
// without the trader touching the console.
package autotrade

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tradeease/internal/domain"
	"tradeease/internal/gateway"
	"tradeease/internal/tracker"
)

// AutoOrderTag marks engine-placed orders in the broker order book.
const AutoOrderTag = "TradeEase-Auto"

// Pair records a parent order and the child the engine placed for it.
type Pair struct {
	ParentID string    `json:"parent_id"`
	ChildID  string    `json:"child_id"`
	Offset   float64   `json:"offset"`
	PlacedAt time.Time `json:"placed_at"`
}

// Engine watches fills and places the opposite order for parents that were
// scheduled. Child orders are never themselves given children, so one manual
// order produces at most one automatic one.
type Engine struct {
	gw       gateway.Gateway
	tracker  *tracker.Tracker
	product  string
	validity string
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]float64 // parent order ID -> price offset
	pairs   map[string]Pair    // parent order ID -> placed pair
}

// New creates an Engine placing child orders through gw and handing them to
// tr for monitoring. product and validity are applied to every child order.
// The returned engine must be registered with tr.OnFill.
func New(gw gateway.Gateway, tr *tracker.Tracker, product, validity string, log *slog.Logger) *Engine {
	return &Engine{
		gw:       gw,
		tracker:  tr,
		product:  product,
		validity: validity,
		log:      log.With("component", "autotrade"),
		pending:  make(map[string]float64),
		pairs:    make(map[string]Pair),
	}
}

// Schedule arms an auto-opposite order for the given parent. The child is
// placed when the parent completes fully filled. Offsets at or below zero
// are rejected by being ignored; a second Schedule for the same parent
// replaces the offset.
func (e *Engine) Schedule(parentID string, offset float64) {
	if parentID == "" || offset <= 0 {
		return
	}
	e.mu.Lock()
	e.pending[parentID] = offset
	e.mu.Unlock()
	e.log.Info("auto-opposite scheduled", "parent_id", parentID, "offset", offset)
}

// Unschedule disarms a pending auto-opposite, typically because the parent
// was cancelled.
func (e *Engine) Unschedule(parentID string) {
	e.mu.Lock()
	_, ok := e.pending[parentID]
	delete(e.pending, parentID)
	e.mu.Unlock()
	if ok {
		e.log.Info("auto-opposite unscheduled", "parent_id", parentID)
	}
}

// PendingParents returns the parent order IDs still waiting for a fill,
// sorted for stable output.
func (e *Engine) PendingParents() []string {
	e.mu.Lock()
	out := make([]string, 0, len(e.pending))
	for id := range e.pending {
		out = append(out, id)
	}
	e.mu.Unlock()
	sort.Strings(out)
	return out
}

// Pairs returns all parent/child pairs placed so far.
func (e *Engine) Pairs() []Pair {
	e.mu.Lock()
	out := make([]Pair, 0, len(e.pairs))
	for _, p := range e.pairs {
		out = append(out, p)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ParentID < out[j].ParentID })
	return out
}

// HandleFill is the tracker fill hook. It fires once per completed order.
// The pending link is consumed on that single shot whether or not the child
// could be placed: a parent never gets a second chance, so a flaky placement
// is reported rather than silently retried into a double position.
func (e *Engine) HandleFill(order domain.Order) {
	if order.IsAutoOrder {
		// A filled child squares the position; it never spawns another.
		e.log.Info("auto order filled", "order_id", order.OrderID, "symbol", order.Symbol)
		return
	}

	e.mu.Lock()
	offset, armed := e.pending[order.OrderID]
	delete(e.pending, order.OrderID)
	e.mu.Unlock()
	if !armed {
		return
	}

	if !order.FullyFilled() {
		e.log.Warn("auto-opposite skipped, parent only partially filled",
			"parent_id", order.OrderID, "filled", order.FilledQty, "quantity", order.Quantity)
		return
	}

	// The broker's average fill price anchors the target; a zero average
	// (some back ends omit it on instant fills) falls back to the order's
	// requested price.
	base := order.AveragePrice
	if base <= 0 {
		base = order.Price
	}

	target := base + offset
	if order.Side == domain.SideSell {
		target = base - offset
	}

	req := domain.OrderRequest{
		Symbol:    order.Symbol,
		Exchange:  order.Exchange,
		Side:      order.Side.Opposite(),
		Quantity:  order.FilledQty,
		OrderType: domain.OrderTypeLimit,
		Price:     target,
		Product:   e.product,
		Validity:  e.validity,
		Tag:       AutoOrderTag,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	childID, err := e.gw.SubmitOrder(ctx, req)
	if err != nil {
		e.log.Error("auto-opposite placement failed",
			"parent_id", order.OrderID, "symbol", order.Symbol, "target", target, "error", err)
		return
	}

	e.mu.Lock()
	e.pairs[order.OrderID] = Pair{
		ParentID: order.OrderID,
		ChildID:  childID,
		Offset:   offset,
		PlacedAt: time.Now(),
	}
	e.mu.Unlock()

	e.tracker.Track(domain.Order{
		OrderID:     childID,
		Symbol:      order.Symbol,
		Exchange:    order.Exchange,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Price:       target,
		IsAutoOrder: true,
	})

	e.log.Info("auto-opposite placed",
		"parent_id", order.OrderID, "child_id", childID,
		"symbol", order.Symbol, "side", req.Side, "target", target)
}
