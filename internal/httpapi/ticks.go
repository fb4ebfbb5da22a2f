package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradeease/internal/bus"
	"tradeease/internal/domain"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	// The console may be served from a different origin than the API.
	CheckOrigin: func(*http.Request) bool { return true },
}

// tickFrame is the websocket wire format in both directions. The browser
// sends action frames; the server sends type frames.
type tickFrame struct {
	Action string   `json:"action,omitempty"`
	Tokens []uint32 `json:"tokens,omitempty"`

	Type            string  `json:"type,omitempty"`
	InstrumentToken uint32  `json:"instrument_token,omitempty"`
	LastPrice       float64 `json:"last_price,omitempty"`
	Volume          int64   `json:"volume,omitempty"`
	OpenInterest    int64   `json:"oi,omitempty"`
}

// tickClient is one browser connection on the tick relay.
type tickClient struct {
	hub  *TickHub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	tokens map[uint32]bool
}

func (c *tickClient) wants(token uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[token]
}

// TickHub relays ticks from the event bus to websocket clients, forwarding
// each browser's token subscriptions upstream so the feed streams only what
// somebody is watching.
type TickHub struct {
	bus  *bus.Bus
	feed TokenSubscriber // nil when no upstream feed is wired
	log  *slog.Logger

	mu       sync.Mutex
	clients  map[*tickClient]bool
	refcount map[uint32]int // upstream token refcounts across clients
}

// NewTickHub creates a TickHub relaying tick events from b. feed may be nil.
func NewTickHub(b *bus.Bus, feed TokenSubscriber, log *slog.Logger) *TickHub {
	return &TickHub{
		bus:      b,
		feed:     feed,
		log:      log.With("component", "tickhub"),
		clients:  make(map[*tickClient]bool),
		refcount: make(map[uint32]int),
	}
}

// Run consumes tick events from the bus and fans them out to clients until
// ctx is cancelled. It should be launched as a goroutine.
func (h *TickHub) Run(ctx context.Context) {
	id, ch := h.bus.Subscribe(1024)
	defer h.bus.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			if evt.Type != bus.EventTick {
				continue
			}
			tick, ok := evt.Payload.(domain.Tick)
			if !ok {
				continue
			}
			h.broadcast(tick)
		}
	}
}

func (h *TickHub) broadcast(tick domain.Tick) {
	frame, err := json.Marshal(tickFrame{
		Type:            "tick",
		InstrumentToken: tick.InstrumentToken,
		LastPrice:       tick.LastPrice,
		Volume:          tick.Volume,
		OpenInterest:    tick.OpenInterest,
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	for c := range h.clients {
		if !c.wants(tick.InstrumentToken) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			// Slow client, drop the frame.
		}
	}
	h.mu.Unlock()
}

func (h *TickHub) register(c *tickClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *TickHub) unregister(c *tickClient) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()

	c.mu.Lock()
	tokens := make([]uint32, 0, len(c.tokens))
	for tok := range c.tokens {
		tokens = append(tokens, tok)
	}
	c.tokens = make(map[uint32]bool)
	c.mu.Unlock()
	h.release(tokens)
}

// retain bumps token refcounts, subscribing upstream on 0 -> 1.
func (h *TickHub) retain(tokens []uint32) {
	h.mu.Lock()
	var fresh []uint32
	for _, tok := range tokens {
		h.refcount[tok]++
		if h.refcount[tok] == 1 {
			fresh = append(fresh, tok)
		}
	}
	h.mu.Unlock()
	if len(fresh) > 0 && h.feed != nil {
		h.feed.Subscribe(fresh...)
	}
}

// release drops token refcounts, unsubscribing upstream on 1 -> 0.
func (h *TickHub) release(tokens []uint32) {
	h.mu.Lock()
	var dead []uint32
	for _, tok := range tokens {
		if h.refcount[tok] == 0 {
			continue
		}
		h.refcount[tok]--
		if h.refcount[tok] == 0 {
			delete(h.refcount, tok)
			dead = append(dead, tok)
		}
	}
	h.mu.Unlock()
	if len(dead) > 0 && h.feed != nil {
		h.feed.Unsubscribe(dead...)
	}
}

// ServeWS upgrades the request and runs the client's pumps until it
// disconnects.
func (h *TickHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &tickClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		tokens: make(map[uint32]bool),
	}
	h.register(c)

	// Matches what the browser expects before it (re)sends subscriptions.
	if frame, err := json.Marshal(tickFrame{Type: "connection_established"}); err == nil {
		c.send <- frame
	}

	go c.writePump()
	c.readPump()
}

func (c *tickClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	for {
		var frame tickFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Action {
		case "subscribe":
			c.mu.Lock()
			var fresh []uint32
			for _, tok := range frame.Tokens {
				if !c.tokens[tok] {
					c.tokens[tok] = true
					fresh = append(fresh, tok)
				}
			}
			c.mu.Unlock()
			c.hub.retain(fresh)
		case "unsubscribe":
			c.mu.Lock()
			var dropped []uint32
			for _, tok := range frame.Tokens {
				if c.tokens[tok] {
					delete(c.tokens, tok)
					dropped = append(dropped, tok)
				}
			}
			c.mu.Unlock()
			c.hub.release(dropped)
		}
	}
}

func (c *tickClient) writePump() {
	defer c.conn.Close()
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
