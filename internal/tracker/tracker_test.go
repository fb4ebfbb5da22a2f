package tracker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tradeease/internal/bus"
	"tradeease/internal/domain"
	"tradeease/internal/gateway"
)

// stubGateway serves scripted snapshots so lifecycle transitions can be
// driven deterministically.
type stubGateway struct {
	mu        sync.Mutex
	snaps     map[string]*domain.OrderSnapshot
	statusErr error
	listErr   error
	auth      bool
}

var _ gateway.Gateway = (*stubGateway)(nil)

func newStubGateway() *stubGateway {
	return &stubGateway{snaps: make(map[string]*domain.OrderSnapshot), auth: true}
}

func (s *stubGateway) set(snap domain.OrderSnapshot) {
	s.mu.Lock()
	s.snaps[snap.OrderID] = &snap
	s.mu.Unlock()
}

func (s *stubGateway) Name() string            { return "stub" }
func (s *stubGateway) SetAccessToken(t string) { s.mu.Lock(); s.auth = t != ""; s.mu.Unlock() }
func (s *stubGateway) Authenticated() bool     { s.mu.Lock(); defer s.mu.Unlock(); return s.auth }

func (s *stubGateway) SubmitOrder(context.Context, domain.OrderRequest) (string, error) {
	return "", nil
}
func (s *stubGateway) ModifyOrder(context.Context, string, domain.OrderModification) error {
	return nil
}
func (s *stubGateway) CancelOrder(context.Context, string) error { return nil }
func (s *stubGateway) Profile(context.Context) (*domain.Profile, error) {
	return &domain.Profile{}, nil
}

func (s *stubGateway) OrderStatus(_ context.Context, id string) (*domain.OrderSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	snap, ok := s.snaps[id]
	if !ok {
		return nil, gateway.ErrUnknownOrder
	}
	copied := *snap
	return &copied, nil
}

func (s *stubGateway) ListOrders(context.Context) ([]domain.OrderSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.OrderSnapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, *snap)
	}
	return out, nil
}

func testConfig() Config {
	return Config{
		PollTransitional: 2 * time.Second,
		PollOpen:         5 * time.Second,
		PollRetry:        10 * time.Second,
		ReconcileEvery:   5 * time.Second,
		EvictComplete:    10 * time.Second,
		EvictTerminal:    5 * time.Second,
	}
}

func newTestTracker(gw gateway.Gateway) *Tracker {
	return New(gw, testConfig(), slog.Default(), nil)
}

func TestTrackIsIdempotent(t *testing.T) {
	tr := newTestTracker(newStubGateway())

	tr.Track(domain.Order{OrderID: "1001", Symbol: "NIFTY2590224500CE", Quantity: 75})
	tr.ApplySnapshot(&domain.OrderSnapshot{OrderID: "1001", Status: domain.StatusOpen})

	// A duplicate Track must not reset the order's state.
	tr.Track(domain.Order{OrderID: "1001", Symbol: "NIFTY2590224500CE", Quantity: 75})

	o, ok := tr.Get("1001")
	if !ok {
		t.Fatal("order missing")
	}
	if o.Status != domain.StatusOpen {
		t.Errorf("status after duplicate Track = %s, want OPEN", o.Status)
	}
	if len(tr.Snapshot()) != 1 {
		t.Errorf("tracked orders = %d, want 1", len(tr.Snapshot()))
	}
}

func TestTrackDefaultsToReceivedStatus(t *testing.T) {
	tr := newTestTracker(newStubGateway())
	tr.Track(domain.Order{OrderID: "1001"})

	o, _ := tr.Get("1001")
	if o.Status != domain.StatusPutOrderReqReceived {
		t.Errorf("initial status = %s, want PUT ORDER REQ RECEIVED", o.Status)
	}
	if o.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped")
	}
}

func TestSnapshotForUnknownOrderIsDropped(t *testing.T) {
	tr := newTestTracker(newStubGateway())

	// A late poll response for an order that was never tracked (or already
	// evicted) must not create an entry.
	tr.ApplySnapshot(&domain.OrderSnapshot{OrderID: "ghost", Status: domain.StatusComplete})

	if len(tr.Snapshot()) != 0 {
		t.Error("unknown-order snapshot must not resurrect anything")
	}
}

func TestTerminalStatesAreMonotonic(t *testing.T) {
	tr := newTestTracker(newStubGateway())
	tr.Track(domain.Order{OrderID: "1001", Quantity: 75})

	tr.ApplySnapshot(&domain.OrderSnapshot{
		OrderID: "1001", Status: domain.StatusComplete,
		Quantity: 75, FilledQuantity: 75, AveragePrice: 12.45,
	})

	// A stale in-flight response arriving after COMPLETE changes nothing.
	tr.ApplySnapshot(&domain.OrderSnapshot{OrderID: "1001", Status: domain.StatusOpen})

	o, _ := tr.Get("1001")
	if o.Status != domain.StatusComplete {
		t.Errorf("status after stale snapshot = %s, want COMPLETE", o.Status)
	}
	if o.FilledQty != 75 || o.AveragePrice != 12.45 {
		t.Errorf("fill details lost: %d @ %f", o.FilledQty, o.AveragePrice)
	}
}

func TestFillHandlerFiresExactlyOnce(t *testing.T) {
	tr := newTestTracker(newStubGateway())

	var fills []domain.Order
	tr.OnFill(func(o domain.Order) { fills = append(fills, o) })

	tr.Track(domain.Order{OrderID: "1001", Symbol: "NIFTY2590224500CE", Side: domain.SideBuy, Quantity: 75})

	complete := &domain.OrderSnapshot{
		OrderID: "1001", Status: domain.StatusComplete,
		Quantity: 75, FilledQuantity: 75, AveragePrice: 12.45,
	}
	tr.ApplySnapshot(complete)
	// The reconcile sweep will see the same snapshot again.
	tr.ApplySnapshot(complete)

	if len(fills) != 1 {
		t.Fatalf("fill handler fired %d times, want 1", len(fills))
	}
	if fills[0].AveragePrice != 12.45 || fills[0].FilledQty != 75 {
		t.Errorf("fill = %d @ %f, want 75 @ 12.45", fills[0].FilledQty, fills[0].AveragePrice)
	}
}

func TestFillHandlerFiresOnShortFill(t *testing.T) {
	tr := newTestTracker(newStubGateway())

	var fills []domain.Order
	tr.OnFill(func(o domain.Order) { fills = append(fills, o) })

	tr.Track(domain.Order{OrderID: "1001", Quantity: 75})

	// The broker can mark an order COMPLETE with fewer lots than requested.
	// The handler still fires; consumers gate on filled vs requested quantity.
	tr.ApplySnapshot(&domain.OrderSnapshot{
		OrderID: "1001", Status: domain.StatusComplete,
		Quantity: 75, FilledQuantity: 50, AveragePrice: 12.10,
	})

	if len(fills) != 1 {
		t.Fatalf("fill handler fired %d times, want 1", len(fills))
	}
	if fills[0].FilledQty != 50 || fills[0].Quantity != 75 {
		t.Errorf("fill = %d of %d, want 50 of 75", fills[0].FilledQty, fills[0].Quantity)
	}
}

func TestRejectionDoesNotFireFillHandler(t *testing.T) {
	tr := newTestTracker(newStubGateway())

	fired := 0
	tr.OnFill(func(domain.Order) { fired++ })

	tr.Track(domain.Order{OrderID: "1001", Quantity: 75})
	tr.ApplySnapshot(&domain.OrderSnapshot{
		OrderID: "1001", Status: domain.StatusRejected,
		StatusMessageRaw: "RMS:Margin Exceeds",
	})

	if fired != 0 {
		t.Errorf("fill handler fired %d times on rejection, want 0", fired)
	}
	o, _ := tr.Get("1001")
	if o.StatusMessage != "RMS:Margin Exceeds" {
		t.Errorf("status message = %q, want raw RMS reason", o.StatusMessage)
	}
}

func TestUnknownStatusKeepsOrderUnderWatch(t *testing.T) {
	tr := newTestTracker(newStubGateway())
	tr.Track(domain.Order{OrderID: "1001", Quantity: 75})

	tr.ApplySnapshot(&domain.OrderSnapshot{OrderID: "1001", Status: domain.OrderStatus("SOME NEW STATE")})

	tr.mu.Lock()
	to := tr.orders["1001"]
	scheduled := !to.nextPoll.IsZero() && to.terminalAt.IsZero()
	tr.mu.Unlock()

	if !scheduled {
		t.Error("an unknown status must keep the order scheduled for polling")
	}
}

func TestPollIntervalByStatus(t *testing.T) {
	tr := newTestTracker(newStubGateway())
	if got := tr.pollInterval(domain.StatusOpen); got != 5*time.Second {
		t.Errorf("OPEN interval = %v, want 5s", got)
	}
	if got := tr.pollInterval(domain.StatusValidationPending); got != 2*time.Second {
		t.Errorf("transitional interval = %v, want 2s", got)
	}
}

func TestPollDueAppliesGatewaySnapshot(t *testing.T) {
	gw := newStubGateway()
	tr := newTestTracker(gw)

	tr.Track(domain.Order{OrderID: "1001", Quantity: 75})
	gw.set(domain.OrderSnapshot{OrderID: "1001", Status: domain.StatusOpen, PendingQuantity: 75})

	tr.pollDue(context.Background(), time.Now())

	o, _ := tr.Get("1001")
	if o.Status != domain.StatusOpen {
		t.Errorf("status after poll = %s, want OPEN", o.Status)
	}
}

func TestPollErrorBacksOff(t *testing.T) {
	gw := newStubGateway()
	gw.statusErr = &gateway.TransportError{Op: "test", Err: context.DeadlineExceeded}
	tr := newTestTracker(gw)

	tr.Track(domain.Order{OrderID: "1001", Quantity: 75})
	before, _ := tr.Get("1001")

	now := time.Now()
	tr.pollDue(context.Background(), now)

	// The order's state must be untouched and its next attempt pushed out.
	after, _ := tr.Get("1001")
	if after.Status != before.Status {
		t.Errorf("status changed on transport error: %s -> %s", before.Status, after.Status)
	}

	tr.mu.Lock()
	next := tr.orders["1001"].nextPoll
	tr.mu.Unlock()
	if next.Before(now.Add(tr.cfg.PollRetry)) {
		t.Errorf("nextPoll = %v, want at least retry interval after %v", next, now)
	}
}

func TestReconcileOnlyTouchesTrackedOrders(t *testing.T) {
	gw := newStubGateway()
	tr := newTestTracker(gw)

	tr.Track(domain.Order{OrderID: "1001", Quantity: 75})
	gw.set(domain.OrderSnapshot{OrderID: "1001", Status: domain.StatusComplete, Quantity: 75, FilledQuantity: 75})
	// An order placed outside the console shows up in the broker book but
	// must not be adopted.
	gw.set(domain.OrderSnapshot{OrderID: "foreign", Status: domain.StatusOpen})

	tr.reconcile(context.Background())

	o, _ := tr.Get("1001")
	if o.Status != domain.StatusComplete {
		t.Errorf("tracked order status = %s, want COMPLETE", o.Status)
	}
	if _, ok := tr.Get("foreign"); ok {
		t.Error("reconcile adopted an order the console never placed")
	}
	if len(tr.Snapshot()) != 1 {
		t.Errorf("tracked orders = %d, want 1", len(tr.Snapshot()))
	}
}

func TestEvictionGracePeriods(t *testing.T) {
	tr := newTestTracker(newStubGateway())

	tr.Track(domain.Order{OrderID: "done", Quantity: 75})
	tr.ApplySnapshot(&domain.OrderSnapshot{OrderID: "done", Status: domain.StatusComplete, FilledQuantity: 75})

	tr.Track(domain.Order{OrderID: "dead", Quantity: 75})
	tr.ApplySnapshot(&domain.OrderSnapshot{OrderID: "dead", Status: domain.StatusRejected})

	now := time.Now()

	// Before either grace period, both stay visible.
	tr.evictExpired(now.Add(4 * time.Second))
	if len(tr.Snapshot()) != 2 {
		t.Fatalf("orders after 4s = %d, want 2", len(tr.Snapshot()))
	}

	// REJECTED goes first (5s), COMPLETE lingers (10s).
	tr.evictExpired(now.Add(6 * time.Second))
	if _, ok := tr.Get("dead"); ok {
		t.Error("rejected order should be evicted after its grace period")
	}
	if _, ok := tr.Get("done"); !ok {
		t.Error("complete order evicted too early")
	}

	tr.evictExpired(now.Add(11 * time.Second))
	if len(tr.Snapshot()) != 0 {
		t.Errorf("orders after 11s = %d, want 0", len(tr.Snapshot()))
	}
}

func TestOpenOrdersAreNeverEvicted(t *testing.T) {
	tr := newTestTracker(newStubGateway())
	tr.Track(domain.Order{OrderID: "1001", Quantity: 75})
	tr.ApplySnapshot(&domain.OrderSnapshot{OrderID: "1001", Status: domain.StatusOpen})

	tr.evictExpired(time.Now().Add(time.Hour))
	if _, ok := tr.Get("1001"); !ok {
		t.Error("open order must not be evicted")
	}
}

func TestFilledEventPublishedOnce(t *testing.T) {
	b := bus.New()
	id, ch := b.Subscribe(8)
	defer b.Unsubscribe(id)

	tr := New(newStubGateway(), testConfig(), slog.Default(), b)
	tr.Track(domain.Order{OrderID: "1001", Quantity: 75})

	complete := &domain.OrderSnapshot{OrderID: "1001", Status: domain.StatusComplete, Quantity: 75, FilledQuantity: 75}
	tr.ApplySnapshot(complete)
	tr.ApplySnapshot(complete)

	filled := 0
	for {
		select {
		case evt := <-ch:
			if evt.Type == bus.EventOrderFilled {
				filled++
			}
			continue
		default:
		}
		break
	}
	if filled != 1 {
		t.Errorf("order_filled events = %d, want 1", filled)
	}
}
