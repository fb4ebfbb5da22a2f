// Package httpapi serves the browser console's REST API, the server-sent
// event stream, and the tick relay websocket.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"tradeease/internal/autotrade"
	"tradeease/internal/bus"
	"tradeease/internal/domain"
	"tradeease/internal/gateway"
	"tradeease/internal/instruments"
	"tradeease/internal/ledger"
	"tradeease/internal/tracker"
)

// TokenSubscriber manages the upstream feed subscription set. The websocket
// relay forwards browser subscriptions to it so the feed only streams tokens
// somebody is watching.
type TokenSubscriber interface {
	Subscribe(tokens ...uint32)
	Unsubscribe(tokens ...uint32)
}

// Server serves the trading console API.
type Server struct {
	gw      gateway.Gateway
	tracker *tracker.Tracker
	engine  *autotrade.Engine
	ledger  *ledger.Ledger
	catalog *instruments.Catalog
	bus     *bus.Bus
	ticks   *TickHub
	log     *slog.Logger

	defaultOffset  float64
	defaultProduct string
}

// NewServer creates a Server. catalog and feed may be nil; the instrument
// and tick endpoints degrade gracefully without them.
func NewServer(
	gw gateway.Gateway,
	tr *tracker.Tracker,
	eng *autotrade.Engine,
	led *ledger.Ledger,
	catalog *instruments.Catalog,
	b *bus.Bus,
	feed TokenSubscriber,
	defaultOffset float64,
	log *slog.Logger,
) *Server {
	return &Server{
		gw:             gw,
		tracker:        tr,
		engine:         eng,
		ledger:         led,
		catalog:        catalog,
		bus:            b,
		ticks:          NewTickHub(b, feed, log),
		log:            log.With("component", "httpapi"),
		defaultOffset:  defaultOffset,
		defaultProduct: "NRML",
	}
}

// TickHub exposes the relay so callers can start its Run loop.
func (s *Server) TickHub() *TickHub { return s.ticks }

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	s.ticks.ServeWS(w, r)
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", s.handleGetSession)
	mux.HandleFunc("POST /api/session", s.handleSetSession)
	mux.HandleFunc("DELETE /api/session", s.handleClearSession)

	mux.HandleFunc("POST /api/orders", s.handlePlaceOrder)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("PUT /api/orders/{id}", s.handleModifyOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)

	mux.HandleFunc("GET /api/autotrade", s.handleAutoTrade)

	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("POST /api/positions/reset", s.handleResetPositions)

	mux.HandleFunc("GET /api/instruments/search", s.handleSearchInstruments)
	mux.HandleFunc("GET /api/instruments/expiries", s.handleExpiries)
	mux.HandleFunc("GET /api/instruments/chain", s.handleOptionChain)

	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /ws/ticks", s.handleTicks)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeGatewayError maps gateway error classes to HTTP statuses.
func writeGatewayError(w http.ResponseWriter, err error) {
	var rej *gateway.RejectionError
	switch {
	case errors.Is(err, gateway.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "session expired, set a new access token")
	case errors.Is(err, gateway.ErrUnknownOrder):
		writeError(w, http.StatusNotFound, "order not found at broker")
	case errors.As(err, &rej):
		writeError(w, http.StatusUnprocessableEntity, rej.Message)
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	resp := SessionResponse{Authenticated: s.gw.Authenticated()}
	if resp.Authenticated {
		if profile, err := s.gw.Profile(r.Context()); err == nil {
			resp.Profile = profile
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleSetSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "access_token required")
		return
	}

	s.gw.SetAccessToken(req.AccessToken)

	// Validate the token immediately so the browser learns about a bad
	// token now rather than on its first order.
	profile, err := s.gw.Profile(r.Context())
	if err != nil {
		s.gw.SetAccessToken("")
		writeGatewayError(w, err)
		return
	}

	s.log.Info("session established", "user_id", profile.UserID)
	writeJSON(w, SessionResponse{Authenticated: true, Profile: profile})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	s.gw.SetAccessToken("")
	s.log.Info("session cleared")
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	side := domain.Side(strings.ToUpper(req.Side))
	if side != domain.SideBuy && side != domain.SideSell {
		writeError(w, http.StatusBadRequest, "side must be BUY or SELL")
		return
	}
	if req.Symbol == "" || req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "symbol and a positive quantity are required")
		return
	}

	orderType := domain.OrderType(strings.ToUpper(req.OrderType))
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}
	product := req.Product
	if product == "" {
		product = s.defaultProduct
	}
	validity := req.Validity
	if validity == "" {
		validity = "DAY"
	}
	exchange := req.Exchange
	if exchange == "" {
		exchange = domain.ExchangeNFO
	}

	orderID, err := s.gw.SubmitOrder(r.Context(), domain.OrderRequest{
		Symbol:       req.Symbol,
		Exchange:     exchange,
		Side:         side,
		Quantity:     req.Quantity,
		OrderType:    orderType,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		Product:      product,
		Validity:     validity,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	s.tracker.Track(domain.Order{
		OrderID:  orderID,
		Symbol:   req.Symbol,
		Exchange: exchange,
		Side:     side,
		Quantity: req.Quantity,
		Price:    req.Price,
	})

	if req.AutoOpposite {
		offset := req.AutoOffset
		if offset <= 0 {
			offset = s.defaultOffset
		}
		s.engine.Schedule(orderID, offset)
	}

	writeJSON(w, PlaceOrderResponse{OrderID: orderID})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.tracker.Snapshot()
	out := make([]OrderJSON, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderJSON(o))
	}
	writeJSON(w, OrdersResponse{Orders: out})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.tracker.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "order not tracked")
		return
	}
	writeJSON(w, toOrderJSON(o))
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.tracker.Get(id); !ok {
		writeError(w, http.StatusNotFound, "order not tracked")
		return
	}

	var req ModifyOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.gw.ModifyOrder(r.Context(), id, domain.OrderModification{
		Quantity:  req.Quantity,
		Price:     req.Price,
		OrderType: domain.OrderType(strings.ToUpper(req.OrderType)),
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.tracker.Get(id); !ok {
		writeError(w, http.StatusNotFound, "order not tracked")
		return
	}

	if err := s.gw.CancelOrder(r.Context(), id); err != nil {
		writeGatewayError(w, err)
		return
	}
	// A cancelled parent can never fill, so its auto-opposite is dead too.
	s.engine.Unschedule(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAutoTrade(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, AutoTradeResponse{
		Pending: s.engine.PendingParents(),
		Pairs:   s.engine.Pairs(),
	})
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.ledger.Snapshot()
	resp := PositionsResponse{Positions: make([]PositionJSON, 0, len(positions))}
	for _, p := range positions {
		upl := s.ledger.UnrealizedPL(p.Symbol)
		resp.Positions = append(resp.Positions, PositionJSON{
			Symbol:       p.Symbol,
			NetQuantity:  p.NetQuantity,
			AvgPrice:     p.AvgPrice,
			CurrentPrice: p.CurrentPrice,
			RealizedPL:   p.RealizedPL,
			UnrealizedPL: upl,
			TotalPL:      p.RealizedPL + upl,
		})
		resp.TotalRealized += p.RealizedPL
		resp.TotalUnrealized += upl
	}
	writeJSON(w, resp)
}

func (s *Server) handleResetPositions(w http.ResponseWriter, r *http.Request) {
	var req ResetPositionsRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Symbol != "" {
		s.ledger.Reset(req.Symbol)
	} else {
		s.ledger.ResetAll()
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Instruments
// ---------------------------------------------------------------------------

func (s *Server) handleSearchInstruments(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "instrument catalog not configured")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	found, err := s.catalog.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "instrument search failed")
		return
	}
	if found == nil {
		found = []domain.Instrument{}
	}
	writeJSON(w, InstrumentsResponse{Instruments: found})
}

func (s *Server) handleExpiries(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "instrument catalog not configured")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}

	expiries, err := s.catalog.Expiries(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "expiry lookup failed")
		return
	}
	if expiries == nil {
		expiries = []string{}
	}
	writeJSON(w, ExpiriesResponse{Name: strings.ToUpper(name), Expiries: expiries})
}

func (s *Server) handleOptionChain(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "instrument catalog not configured")
		return
	}
	q := r.URL.Query()
	name := q.Get("name")
	expiry := q.Get("expiry")
	if name == "" || expiry == "" {
		writeError(w, http.StatusBadRequest, "name and expiry required")
		return
	}
	spot, _ := strconv.ParseFloat(q.Get("spot"), 64)
	window, err := strconv.ParseFloat(q.Get("window"), 64)
	if err != nil {
		// Strikes far from spot are rarely interesting; default to a
		// thousand-point band around it.
		window = 1000
	}
	if spot <= 0 {
		// Without a spot there is nothing to center the band on.
		window = 0
	}

	chain, err := s.catalog.OptionChain(r.Context(), name, expiry, spot, window)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			chain = nil
		} else {
			writeError(w, http.StatusInternalServerError, "option chain lookup failed")
			return
		}
	}
	if chain == nil {
		chain = []instruments.ChainRow{}
	}
	writeJSON(w, chain)
}
