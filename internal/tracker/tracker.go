// Package tracker monitors broker orders through their lifecycle. It polls
// transitional orders hard, open orders gently, stops at terminal states, and
// evicts finished orders after a grace period so the console stays tidy.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tradeease/internal/bus"
	"tradeease/internal/domain"
	"tradeease/internal/gateway"
)

// Config holds the tracker's polling and eviction intervals.
type Config struct {
	// PollTransitional is the poll interval while an order is in flight
	// between the broker and the exchange.
	PollTransitional time.Duration
	// PollOpen is the poll interval for orders resting on the exchange.
	PollOpen time.Duration
	// PollRetry is the backoff after a transport failure.
	PollRetry time.Duration
	// ReconcileEvery is the interval of the full order-book sweep that
	// catches anything per-order polling missed.
	ReconcileEvery time.Duration
	// EvictComplete is how long a COMPLETE order stays visible.
	EvictComplete time.Duration
	// EvictTerminal is how long a REJECTED or CANCELLED order stays visible.
	EvictTerminal time.Duration
}

// FillHandler receives a copy of an order exactly once, on its transition
// into COMPLETE.
type FillHandler func(domain.Order)

type trackedOrder struct {
	order      domain.Order
	nextPoll   time.Time
	terminalAt time.Time
}

// Tracker owns the set of monitored orders. All methods are safe for
// concurrent use. Run starts the polling loops; ApplySnapshot can also be
// driven directly, which is how the reconcile sweep and the tests feed it.
type Tracker struct {
	gw  gateway.Gateway
	cfg Config
	log *slog.Logger
	bus *bus.Bus

	mu           sync.Mutex
	orders       map[string]*trackedOrder
	fillHandlers []FillHandler
}

// New creates a Tracker polling the given gateway. Events are published to b
// when it is non-nil.
func New(gw gateway.Gateway, cfg Config, log *slog.Logger, b *bus.Bus) *Tracker {
	return &Tracker{
		gw:     gw,
		cfg:    cfg,
		log:    log.With("component", "tracker"),
		bus:    b,
		orders: make(map[string]*trackedOrder),
	}
}

// OnFill registers a handler invoked exactly once per order, on the
// transition into COMPLETE. Handlers run synchronously in snapshot
// application order, so registration must finish before Run starts.
func (t *Tracker) OnFill(h FillHandler) {
	t.mu.Lock()
	t.fillHandlers = append(t.fillHandlers, h)
	t.mu.Unlock()
}

// Track begins monitoring an order. Re-tracking a known order ID is a no-op,
// so duplicate submissions from retried HTTP requests are harmless. Orders
// arrive with whatever status the submit path knew; an empty status means
// the broker only returned an ID and the first poll will fill in the rest.
func (t *Tracker) Track(order domain.Order) {
	if order.OrderID == "" {
		return
	}
	if order.Status == "" {
		order.Status = domain.StatusPutOrderReqReceived
		order.StatusMessage = domain.StatusInfo(order.Status, "", "")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	t.mu.Lock()
	if _, exists := t.orders[order.OrderID]; exists {
		t.mu.Unlock()
		return
	}
	to := &trackedOrder{order: order, nextPoll: time.Now()}
	if order.Status.IsTerminal() {
		to.terminalAt = time.Now()
	}
	t.orders[order.OrderID] = to
	t.mu.Unlock()

	t.log.Info("tracking order",
		"order_id", order.OrderID, "symbol", order.Symbol,
		"side", order.Side, "quantity", order.Quantity, "auto", order.IsAutoOrder)
	t.publish(bus.EventOrderUpdated, order)
}

// Untrack stops monitoring an order immediately.
func (t *Tracker) Untrack(orderID string) {
	t.mu.Lock()
	delete(t.orders, orderID)
	t.mu.Unlock()
}

// Get returns a copy of one tracked order.
func (t *Tracker) Get(orderID string) (domain.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	to, ok := t.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return to.order, true
}

// Snapshot returns copies of all tracked orders, oldest first.
func (t *Tracker) Snapshot() []domain.Order {
	t.mu.Lock()
	out := make([]domain.Order, 0, len(t.orders))
	for _, to := range t.orders {
		out = append(out, to.order)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ---------------------------------------------------------------------------
// Snapshot application
// ---------------------------------------------------------------------------

// ApplySnapshot folds a broker snapshot into the tracked order. Snapshots
// for unknown IDs are dropped: a late poll response for an evicted order
// must not resurrect it. Terminal orders never transition again, so a stale
// in-flight response arriving after COMPLETE is also a no-op.
func (t *Tracker) ApplySnapshot(snap *domain.OrderSnapshot) {
	now := time.Now()

	t.mu.Lock()
	to, ok := t.orders[snap.OrderID]
	if !ok {
		t.mu.Unlock()
		t.log.Debug("snapshot for unknown order dropped", "order_id", snap.OrderID)
		return
	}

	prev := to.order.Status
	if prev.IsTerminal() {
		to.order.LastCheckedAt = now
		t.mu.Unlock()
		return
	}

	to.order.Status = snap.Status
	to.order.FilledQty = snap.FilledQuantity
	to.order.PendingQty = snap.PendingQuantity
	if snap.Quantity > 0 {
		to.order.Quantity = snap.Quantity
	}
	if snap.Price > 0 {
		to.order.Price = snap.Price
	}
	if snap.AveragePrice > 0 {
		to.order.AveragePrice = snap.AveragePrice
	}
	to.order.StatusMessage = domain.StatusInfo(snap.Status, snap.StatusMessage, snap.StatusMessageRaw)
	to.order.LastCheckedAt = now

	if snap.Status.IsTerminal() {
		to.terminalAt = now
		to.nextPoll = time.Time{}
	} else {
		to.nextPoll = now.Add(t.pollInterval(snap.Status))
	}

	changed := prev != snap.Status
	filled := changed && snap.Status == domain.StatusComplete
	order := to.order
	handlers := t.fillHandlers
	t.mu.Unlock()

	if changed {
		t.log.Info("order status changed",
			"order_id", order.OrderID, "symbol", order.Symbol,
			"from", prev, "to", order.Status,
			"filled", order.FilledQty, "avg", order.AveragePrice)
		t.publish(bus.EventOrderUpdated, order)
	}

	if filled {
		t.publish(bus.EventOrderFilled, order)
		for _, h := range handlers {
			h(order)
		}
	}
}

func (t *Tracker) pollInterval(status domain.OrderStatus) time.Duration {
	if status.IsOpen() {
		return t.cfg.PollOpen
	}
	return t.cfg.PollTransitional
}

// ---------------------------------------------------------------------------
// Polling loops
// ---------------------------------------------------------------------------

// Run drives per-order polling, the reconcile sweep, and eviction until ctx
// is cancelled. When the gateway loses its session, polling freezes with all
// state intact and resumes once a new token is installed.
func (t *Tracker) Run(ctx context.Context) {
	scan := time.NewTicker(200 * time.Millisecond)
	defer scan.Stop()
	reconcile := time.NewTicker(t.cfg.ReconcileEvery)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scan.C:
			t.evictExpired(time.Now())
			if t.gw.Authenticated() {
				t.pollDue(ctx, time.Now())
			}
		case <-reconcile.C:
			if t.gw.Authenticated() {
				t.reconcile(ctx)
			}
		}
	}
}

// pollDue polls every order whose next-poll time has passed.
func (t *Tracker) pollDue(ctx context.Context, now time.Time) {
	t.mu.Lock()
	due := make([]string, 0)
	for id, to := range t.orders {
		if to.terminalAt.IsZero() && !to.nextPoll.IsZero() && !to.nextPoll.After(now) {
			// Push the next attempt out so a slow response is not polled twice.
			to.nextPoll = now.Add(t.cfg.PollRetry)
			due = append(due, id)
		}
	}
	t.mu.Unlock()

	for _, id := range due {
		snap, err := t.gw.OrderStatus(ctx, id)
		if err != nil {
			t.handlePollError(id, err)
			continue
		}
		t.ApplySnapshot(snap)
	}
}

func (t *Tracker) handlePollError(orderID string, err error) {
	switch {
	case errors.Is(err, gateway.ErrNotAuthenticated):
		// The gateway dropped its token; Run freezes on the next scan.
		t.log.Warn("session expired while polling", "order_id", orderID)
	case errors.Is(err, gateway.ErrUnknownOrder):
		// The broker may not have propagated a fresh order to its order
		// book yet. Keep retrying on the error cadence.
		t.log.Warn("order not in broker order book yet", "order_id", orderID)
	default:
		t.log.Warn("order poll failed", "order_id", orderID, "error", err)
	}
}

// reconcile sweeps the full broker order book and folds in every snapshot
// for a tracked order. It catches fills whose per-order poll responses were
// lost.
func (t *Tracker) reconcile(ctx context.Context) {
	t.mu.Lock()
	tracked := len(t.orders)
	t.mu.Unlock()
	if tracked == 0 {
		// Nothing to reconcile; skip the order book fetch. Pending
		// auto-opposite links need no separate check here: a link can
		// only trigger through a fill event on a tracked parent, so an
		// empty tracked set means no link can fire either.
		return
	}

	snaps, err := t.gw.ListOrders(ctx)
	if err != nil {
		t.log.Warn("reconcile sweep failed", "error", err)
		return
	}
	for i := range snaps {
		t.mu.Lock()
		_, known := t.orders[snaps[i].OrderID]
		t.mu.Unlock()
		if known {
			t.ApplySnapshot(&snaps[i])
		}
	}
}

// evictExpired drops terminal orders whose grace period has run out.
func (t *Tracker) evictExpired(now time.Time) {
	t.mu.Lock()
	var evicted []domain.Order
	for id, to := range t.orders {
		if to.terminalAt.IsZero() {
			continue
		}
		grace := t.cfg.EvictTerminal
		if to.order.Status == domain.StatusComplete {
			grace = t.cfg.EvictComplete
		}
		if now.Sub(to.terminalAt) >= grace {
			evicted = append(evicted, to.order)
			delete(t.orders, id)
		}
	}
	t.mu.Unlock()

	for _, o := range evicted {
		t.log.Info("order evicted", "order_id", o.OrderID, "status", o.Status)
	}
}

func (t *Tracker) publish(typ bus.EventType, order domain.Order) {
	if t.bus != nil {
		t.bus.Publish(typ, order)
	}
}
