package gateway

import (
	"context"
	"errors"
	"testing"

	"tradeease/internal/domain"
)

func TestSimGatewayLifecycle(t *testing.T) {
	g := NewSimGateway()
	ctx := context.Background()

	id, err := g.SubmitOrder(ctx, domain.OrderRequest{
		Symbol: "NIFTY2590224500CE", Exchange: domain.ExchangeNFO,
		Side: domain.SideBuy, Quantity: 75,
		OrderType: domain.OrderTypeLimit, Price: 12.50,
	})
	if err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}

	// First poll: the order reaches the exchange.
	snap, err := g.OrderStatus(ctx, id)
	if err != nil {
		t.Fatalf("OrderStatus returned error: %v", err)
	}
	if snap.Status != domain.StatusOpen {
		t.Errorf("after first poll status = %s, want OPEN", snap.Status)
	}

	// Second poll: the order fills at the limit price.
	snap, err = g.OrderStatus(ctx, id)
	if err != nil {
		t.Fatalf("OrderStatus returned error: %v", err)
	}
	if snap.Status != domain.StatusComplete {
		t.Errorf("after second poll status = %s, want COMPLETE", snap.Status)
	}
	if snap.FilledQuantity != 75 || snap.PendingQuantity != 0 {
		t.Errorf("fill = %d/%d pending, want 75/0", snap.FilledQuantity, snap.PendingQuantity)
	}
	if snap.AveragePrice != 12.50 {
		t.Errorf("average price = %f, want limit price 12.50", snap.AveragePrice)
	}

	// Terminal orders never move again.
	snap, _ = g.OrderStatus(ctx, id)
	if snap.Status != domain.StatusComplete {
		t.Errorf("terminal order moved to %s", snap.Status)
	}
}

func TestSimGatewayMarketFillUsesLastPrice(t *testing.T) {
	g := NewSimGateway()
	g.SetPrice("SENSEX2590281000PE", 417.80)
	ctx := context.Background()

	id, _ := g.SubmitOrder(ctx, domain.OrderRequest{
		Symbol: "SENSEX2590281000PE", Side: domain.SideSell, Quantity: 30,
		OrderType: domain.OrderTypeMarket,
	})

	g.OrderStatus(ctx, id) // OPEN
	snap, _ := g.OrderStatus(ctx, id)
	if snap.AveragePrice != 417.80 {
		t.Errorf("market fill price = %f, want 417.80", snap.AveragePrice)
	}
}

func TestSimGatewayRejection(t *testing.T) {
	g := NewSimGateway()
	g.RejectSymbol("NIFTY2590224500CE", "RMS:Margin Exceeds")
	ctx := context.Background()

	id, err := g.SubmitOrder(ctx, domain.OrderRequest{
		Symbol: "NIFTY2590224500CE", Side: domain.SideBuy, Quantity: 75,
		OrderType: domain.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}

	snap, _ := g.OrderStatus(ctx, id)
	if snap.Status != domain.StatusRejected {
		t.Fatalf("status = %s, want REJECTED", snap.Status)
	}
	if snap.StatusMessageRaw != "RMS:Margin Exceeds" {
		t.Errorf("raw message = %q", snap.StatusMessageRaw)
	}
}

func TestSimGatewayValidation(t *testing.T) {
	g := NewSimGateway()
	ctx := context.Background()

	var rej *RejectionError
	_, err := g.SubmitOrder(ctx, domain.OrderRequest{Symbol: "X", Side: domain.SideBuy, OrderType: domain.OrderTypeMarket})
	if !errors.As(err, &rej) {
		t.Errorf("zero quantity error = %v, want RejectionError", err)
	}

	_, err = g.SubmitOrder(ctx, domain.OrderRequest{Symbol: "X", Side: domain.SideBuy, Quantity: 1, OrderType: domain.OrderTypeLimit})
	if !errors.As(err, &rej) {
		t.Errorf("priceless limit error = %v, want RejectionError", err)
	}
}

func TestSimGatewayCancelAndModify(t *testing.T) {
	g := NewSimGateway()
	ctx := context.Background()

	id, _ := g.SubmitOrder(ctx, domain.OrderRequest{
		Symbol: "NIFTY2590224500CE", Side: domain.SideBuy, Quantity: 75,
		OrderType: domain.OrderTypeLimit, Price: 12.50,
	})

	if err := g.ModifyOrder(ctx, id, domain.OrderModification{Price: 13.00, Quantity: 150}); err != nil {
		t.Fatalf("ModifyOrder returned error: %v", err)
	}
	snap, _ := g.OrderStatus(ctx, id)
	if snap.Price != 13.00 || snap.Quantity != 150 {
		t.Errorf("modified order = qty %d @ %f, want 150 @ 13.00", snap.Quantity, snap.Price)
	}

	if err := g.CancelOrder(ctx, id); err != nil {
		t.Fatalf("CancelOrder returned error: %v", err)
	}
	snap, _ = g.OrderStatus(ctx, id)
	if snap.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", snap.Status)
	}

	// Terminal orders refuse further changes.
	var rej *RejectionError
	if err := g.ModifyOrder(ctx, id, domain.OrderModification{Price: 14.00}); !errors.As(err, &rej) {
		t.Errorf("modify after cancel = %v, want RejectionError", err)
	}
	if err := g.CancelOrder(ctx, id); !errors.As(err, &rej) {
		t.Errorf("cancel after cancel = %v, want RejectionError", err)
	}
}

func TestSimGatewayUnknownOrder(t *testing.T) {
	g := NewSimGateway()
	if _, err := g.OrderStatus(context.Background(), "SIM999999"); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("error = %v, want ErrUnknownOrder", err)
	}
}

func TestSimGatewaySessionToggle(t *testing.T) {
	g := NewSimGateway()
	if !g.Authenticated() {
		t.Fatal("sim gateway should start authenticated")
	}

	g.SetAccessToken("")
	if g.Authenticated() {
		t.Error("empty token should de-authenticate")
	}
	if _, err := g.ListOrders(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}

	g.SetAccessToken("tok")
	if !g.Authenticated() {
		t.Error("non-empty token should re-authenticate")
	}
}
