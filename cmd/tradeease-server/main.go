package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradeease/internal/autotrade"
	"tradeease/internal/bus"
	"tradeease/internal/config"
	"tradeease/internal/domain"
	"tradeease/internal/feed"
	"tradeease/internal/gateway"
	"tradeease/internal/httpapi"
	"tradeease/internal/instruments"
	"tradeease/internal/ledger"
	"tradeease/internal/store"
	"tradeease/internal/tracker"
	"tradeease/internal/util"
)

func main() {
	// .env is optional; env vars also override YAML values in config.Load.
	_ = godotenv.Load()

	cfgPath := "config/tradeease.yaml"
	if p := os.Getenv("TRADEEASE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Broker gateway: paper fills in memory, live talks Kite Connect.
	var gw gateway.Gateway
	if cfg.Trading.PaperMode {
		gw = gateway.NewSimGateway()
	} else {
		kite := gateway.NewKiteGateway(cfg.Kite.APIKey, cfg.Kite.BaseURL)
		if cfg.Kite.AccessToken != "" {
			kite.SetAccessToken(cfg.Kite.AccessToken)
		}
		gw = kite
	}
	logger.Info("gateway ready", "name", gw.Name(), "paper_mode", cfg.Trading.PaperMode)

	b := bus.New()

	catalog, err := instruments.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening instrument catalog: %v", err)
	}
	defer catalog.Close()

	led := ledger.New(logger, func(p domain.Position) {
		b.Publish(bus.EventPositionChanged, p)
	})

	tr := tracker.New(gw, tracker.Config{
		PollTransitional: cfg.Tracker.PollTransitional.Std(),
		PollOpen:         cfg.Tracker.PollOpen.Std(),
		PollRetry:        cfg.Tracker.PollRetry.Std(),
		ReconcileEvery:   cfg.Tracker.ReconcileEvery.Std(),
		EvictComplete:    cfg.Tracker.EvictComplete.Std(),
		EvictTerminal:    cfg.Tracker.EvictTerminal.Std(),
	}, logger, b)

	eng := autotrade.New(gw, tr, "NRML", "DAY", logger)

	// Fill order matters: the ledger books the fill before the engine
	// places the opposite leg.
	tr.OnFill(func(o domain.Order) {
		led.ApplyFill(o.Symbol, o.Side, o.FilledQty, o.AveragePrice)
	})
	tr.OnFill(eng.HandleFill)

	recorder := store.NewRecorder(store.NewTickStore(cfg.Storage.DataDir), 30*time.Second, logger)

	// Live ticks mark positions to market and land in the tick archive.
	// Token to symbol resolutions are cached; the catalog rarely changes
	// while the server runs.
	feedClient := feed.NewClient(feedURL(cfg), logger)
	symbols := newSymbolCache(catalog)
	feedClient.OnTick(func(t domain.Tick) {
		b.Publish(bus.EventTick, t)
		symbol, ok := symbols.resolve(t.InstrumentToken)
		if !ok {
			return
		}
		led.UpdatePrice(symbol, t.LastPrice)
		recorder.Record(symbol, t)
	})

	api := httpapi.NewServer(gw, tr, eng, led, catalog, b, feedClient, cfg.Trading.DefaultOffset, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go tr.Run(ctx)
	go feedClient.Run(ctx)
	go recorder.Run(ctx)
	go api.TickHub().Run(ctx)

	go func() {
		logger.Info("tradeease server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// feedURL appends the API key and access token the Kite ticker expects as
// query parameters. Paper mode still dials the configured URL so the console
// can run against a local tick generator.
func feedURL(cfg *config.Config) string {
	u := cfg.Kite.FeedURL
	if cfg.Kite.APIKey != "" && cfg.Kite.AccessToken != "" {
		u = fmt.Sprintf("%s?api_key=%s&access_token=%s", u, cfg.Kite.APIKey, cfg.Kite.AccessToken)
	}
	return u
}

// symbolCache memoizes instrument token lookups against the catalog.
type symbolCache struct {
	catalog *instruments.Catalog

	mu       sync.Mutex
	bySymbol map[uint32]string
}

func newSymbolCache(c *instruments.Catalog) *symbolCache {
	return &symbolCache{catalog: c, bySymbol: make(map[uint32]string)}
}

func (s *symbolCache) resolve(token uint32) (string, bool) {
	s.mu.Lock()
	if sym, ok := s.bySymbol[token]; ok {
		s.mu.Unlock()
		return sym, sym != ""
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inst, err := s.catalog.ByToken(ctx, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// Negative result is cached too; unknown tokens stay unknown.
		s.bySymbol[token] = ""
		return "", false
	}
	s.bySymbol[token] = inst.Symbol
	return inst.Symbol, true
}
