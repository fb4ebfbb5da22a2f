// Package ledger aggregates order fills into net positions and computes
// realized and unrealized profit and loss per trading symbol.
package ledger

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"tradeease/internal/domain"
)

// Ledger tracks positions built from fills. All methods are safe for
// concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
	log       *slog.Logger
	onChange  func(domain.Position)
}

// New creates an empty Ledger. onChange, when non-nil, is invoked with a
// copy of the position after every fill, price update, or reset that touches
// it. It is called without the ledger lock held.
func New(log *slog.Logger, onChange func(domain.Position)) *Ledger {
	return &Ledger{
		positions: make(map[string]*domain.Position),
		log:       log.With("component", "ledger"),
		onChange:  onChange,
	}
}

// ApplyFill records a completed fill against the symbol's position. Quantity
// is the filled quantity and price the broker's average fill price.
//
// The running buy/sell totals are cumulative for the session. Average price
// is the volume-weighted open-side average; when a fill brings the net
// quantity to zero the position is flat, its average price drops to zero,
// and realized P&L becomes sell proceeds minus buy cost over the session.
func (l *Ledger) ApplyFill(symbol string, side domain.Side, quantity int64, price float64) {
	if quantity <= 0 {
		return
	}

	l.mu.Lock()
	p, ok := l.positions[symbol]
	if !ok {
		p = &domain.Position{Symbol: symbol}
		l.positions[symbol] = p
	}

	value := float64(quantity) * price
	switch side {
	case domain.SideBuy:
		p.TotalBuyQty += quantity
		p.TotalBuyValue += value
	case domain.SideSell:
		p.TotalSellQty += quantity
		p.TotalSellValue += value
	}

	p.NetQuantity = p.TotalBuyQty - p.TotalSellQty
	switch {
	case p.NetQuantity > 0:
		p.AvgPrice = p.TotalBuyValue / float64(p.TotalBuyQty)
	case p.NetQuantity < 0:
		p.AvgPrice = p.TotalSellValue / float64(p.TotalSellQty)
	default:
		p.AvgPrice = 0
		p.RealizedPL = p.TotalSellValue - p.TotalBuyValue
	}
	p.LastUpdated = time.Now()
	snap := *p
	l.mu.Unlock()

	l.log.Info("fill applied",
		"symbol", symbol, "side", side, "quantity", quantity, "price", price,
		"net", snap.NetQuantity, "avg", snap.AvgPrice)
	l.notify(snap)
}

// UpdatePrice records the latest traded price for a symbol. Prices for
// symbols with no position are ignored.
func (l *Ledger) UpdatePrice(symbol string, price float64) {
	l.mu.Lock()
	p, ok := l.positions[symbol]
	if !ok {
		l.mu.Unlock()
		return
	}
	p.CurrentPrice = price
	p.LastUpdated = time.Now()
	snap := *p
	l.mu.Unlock()

	l.notify(snap)
}

// UnrealizedPL returns mark-to-market profit for the symbol's open quantity
// at its last known price. A flat position, or one with no price yet, has
// zero unrealized P&L.
func (l *Ledger) UnrealizedPL(symbol string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return 0
	}
	return unrealized(p)
}

func unrealized(p *domain.Position) float64 {
	if p.NetQuantity == 0 || p.CurrentPrice == 0 {
		return 0
	}
	if p.NetQuantity > 0 {
		return (p.CurrentPrice - p.AvgPrice) * float64(p.NetQuantity)
	}
	return (p.AvgPrice - p.CurrentPrice) * float64(-p.NetQuantity)
}

// Get returns a copy of one position and whether it exists.
func (l *Ledger) Get(symbol string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Snapshot returns copies of all positions, sorted by symbol.
func (l *Ledger) Snapshot() []domain.Position {
	l.mu.RLock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Reset removes one symbol's position entirely.
func (l *Ledger) Reset(symbol string) {
	l.mu.Lock()
	_, ok := l.positions[symbol]
	delete(l.positions, symbol)
	l.mu.Unlock()

	if ok {
		l.log.Info("position reset", "symbol", symbol)
		l.notify(domain.Position{Symbol: symbol})
	}
}

// ResetAll removes every position.
func (l *Ledger) ResetAll() {
	l.mu.Lock()
	symbols := make([]string, 0, len(l.positions))
	for s := range l.positions {
		symbols = append(symbols, s)
	}
	l.positions = make(map[string]*domain.Position)
	l.mu.Unlock()

	l.log.Info("all positions reset", "count", len(symbols))
	for _, s := range symbols {
		l.notify(domain.Position{Symbol: s})
	}
}

func (l *Ledger) notify(p domain.Position) {
	if l.onChange != nil {
		l.onChange(p)
	}
}
