// Package feed maintains the market-data websocket: it subscribes to
// instrument tokens, fans incoming ticks out to handlers, and reconnects
// with backoff, replaying the subscription set after every reconnect.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradeease/internal/domain"
)

// TickHandler receives every tick read off the feed.
type TickHandler func(domain.Tick)

// message is the JSON frame format in both directions. Outbound frames carry
// an action and tokens; inbound frames carry a type plus tick fields.
type message struct {
	Action string   `json:"action,omitempty"`
	Tokens []uint32 `json:"tokens,omitempty"`

	Type            string  `json:"type,omitempty"`
	InstrumentToken uint32  `json:"instrument_token,omitempty"`
	LastPrice       float64 `json:"last_price,omitempty"`
	Volume          int64   `json:"volume,omitempty"`
	OpenInterest    int64   `json:"oi,omitempty"`
}

// Client is a reconnecting websocket feed client. Subscriptions survive
// reconnects: the full token set is replayed whenever the server confirms a
// fresh connection.
type Client struct {
	url string
	log *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	tokens   map[uint32]bool
	handlers []TickHandler

	// wmu serialises writes; gorilla connections allow one writer at a time.
	wmu sync.Mutex
}

// NewClient creates a Client for the given websocket URL.
func NewClient(url string, log *slog.Logger) *Client {
	return &Client{
		url:    url,
		log:    log.With("component", "feed"),
		tokens: make(map[uint32]bool),
	}
}

// OnTick registers a handler. Handlers run on the read loop goroutine, so
// they must not block. Registration must finish before Run starts.
func (c *Client) OnTick(h TickHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

// Subscribe starts streaming the given instrument tokens. Tokens already
// subscribed are not re-sent.
func (c *Client) Subscribe(tokens ...uint32) {
	c.mu.Lock()
	fresh := make([]uint32, 0, len(tokens))
	for _, tok := range tokens {
		if !c.tokens[tok] {
			c.tokens[tok] = true
			fresh = append(fresh, tok)
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if len(fresh) > 0 && conn != nil {
		c.send(conn, message{Action: "subscribe", Tokens: fresh})
	}
}

// Unsubscribe stops streaming the given tokens.
func (c *Client) Unsubscribe(tokens ...uint32) {
	c.mu.Lock()
	dropped := make([]uint32, 0, len(tokens))
	for _, tok := range tokens {
		if c.tokens[tok] {
			delete(c.tokens, tok)
			dropped = append(dropped, tok)
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if len(dropped) > 0 && conn != nil {
		c.send(conn, message{Action: "unsubscribe", Tokens: dropped})
	}
}

// Subscriptions returns the currently subscribed tokens.
func (c *Client) Subscriptions() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint32, 0, len(c.tokens))
	for tok := range c.tokens {
		out = append(out, tok)
	}
	return out
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff capped at 30 seconds. A connection that held for a
// while resets the backoff, so a drop after hours of uptime reconnects fast.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	for {
		start := time.Now()
		if err := c.connectAndRead(ctx); err != nil {
			c.log.Warn("feed connection lost", "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, time.Since(start))
	}
}

// nextBackoff doubles the delay up to 30s while connections fail quickly,
// and starts over at 1s once a connection has stayed up past the cap.
func nextBackoff(current, uptime time.Duration) time.Duration {
	if uptime > 30*time.Second {
		return time.Second
	}
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}

func (c *Client) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.log.Info("feed connected", "url", c.url)
	c.resubscribe(conn)

	// Close the socket when ctx ends so the blocking read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch msg.Type {
		case "connection_established":
			// The server rebuilt its state; replay the subscription set.
			c.resubscribe(conn)
		case "tick", "":
			if msg.InstrumentToken == 0 {
				continue
			}
			tick := domain.Tick{
				InstrumentToken: msg.InstrumentToken,
				LastPrice:       msg.LastPrice,
				Volume:          msg.Volume,
				OpenInterest:    msg.OpenInterest,
				Timestamp:       time.Now(),
			}
			c.mu.Lock()
			handlers := c.handlers
			c.mu.Unlock()
			for _, h := range handlers {
				h(tick)
			}
		}
	}
}

func (c *Client) resubscribe(conn *websocket.Conn) {
	tokens := c.Subscriptions()
	if len(tokens) == 0 {
		return
	}
	c.send(conn, message{Action: "subscribe", Tokens: tokens})
}

func (c *Client) send(conn *websocket.Conn, msg message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encoding feed message", "error", err)
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("writing feed message", "error", err)
	}
}
