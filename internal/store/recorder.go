package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tradeease/internal/domain"
)

// Recorder buffers live ticks in memory and flushes them to a TickStore in
// batches, keeping Parquet rewrites off the feed's hot path.
type Recorder struct {
	store    *TickStore
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	pending []TickRecord
}

// NewRecorder creates a Recorder flushing to store every interval.
func NewRecorder(store *TickStore, interval time.Duration, log *slog.Logger) *Recorder {
	return &Recorder{
		store:    store,
		interval: interval,
		log:      log.With("component", "recorder"),
	}
}

// Record buffers one tick. symbol is the resolved trading symbol for the
// tick's instrument token.
func (r *Recorder) Record(symbol string, tick domain.Tick) {
	ts := tick.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	r.mu.Lock()
	r.pending = append(r.pending, TickRecord{
		Token:        tick.InstrumentToken,
		Symbol:       symbol,
		Price:        tick.LastPrice,
		Volume:       tick.Volume,
		OpenInterest: tick.OpenInterest,
		Timestamp:    ts.UnixMilli(),
	})
	r.mu.Unlock()
}

// Flush writes all buffered ticks to the store.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := r.store.WriteTicks(ctx, batch); err != nil {
		// Put the batch back so the next flush retries it.
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return err
	}
	return nil
}

// Run flushes on the configured interval until ctx is cancelled, then
// performs a final flush.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(context.Background()); err != nil {
				r.log.Error("final tick flush failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.log.Error("tick flush failed", "error", err)
			}
		}
	}
}
