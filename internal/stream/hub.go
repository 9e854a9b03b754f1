package stream

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aspire/market-engine/internal/metrics"
	"github.com/aspire/market-engine/internal/symbol"
)

// Client is one registered viewer. The hub owns it from Register until
// Unregister; after that Done is closed and nothing more is queued.
type Client struct {
	ID     string
	UserID string
	Role   string

	send chan []byte
	done chan struct{}
	once sync.Once

	mu   sync.RWMutex
	subs map[string]struct{}
}

// NewClient creates a client with an outbound buffer of size buf.
func NewClient(userID, role string, buf int) *Client {
	if buf <= 0 {
		buf = 64
	}
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Role:   role,
		send:   make(chan []byte, buf),
		done:   make(chan struct{}),
		subs:   make(map[string]struct{}),
	}
}

// Send returns the outbound queue drained by the write pump.
func (c *Client) Send() <-chan []byte { return c.send }

// Done is closed once the client has been unregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

// Subscribe replaces the subscription set and returns it normalized. An
// empty list means every STOCK_UPDATE is delivered.
func (c *Client) Subscribe(tickers []string) []string {
	norm := symbol.NormalizeTickers(tickers)
	subs := make(map[string]struct{}, len(norm))
	for _, t := range norm {
		subs[t] = struct{}{}
	}
	c.mu.Lock()
	c.subs = subs
	c.mu.Unlock()
	return norm
}

// Wants reports whether ev passes the client's subscription filter. Only
// STOCK_UPDATE is filtered.
func (c *Client) Wants(ev Event) bool {
	su, ok := ev.(StockUpdate)
	if !ok {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	_, ok = c.subs[su.Ticker]
	return ok
}

// enqueue queues data without blocking. It reports false when the client
// is closed or its buffer is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub is the per-process registry of connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	log     *zap.Logger
}

// NewHub creates an empty registry.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     log,
	}
}

// Register adds c to the registry.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Inc()
	h.log.Info("ws client connected",
		zap.String("client", c.ID),
		zap.String("user", c.UserID),
		zap.Int("total", n),
	)
}

// Unregister removes c and closes it. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	if !ok {
		return
	}
	metrics.WebSocketClients.Dec()
	h.log.Info("ws client disconnected",
		zap.String("client", c.ID),
		zap.String("user", c.UserID),
		zap.Int("total", n),
	)
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver sends m to every client whose filter accepts it. A client that
// cannot take the message is removed; the rest still receive it.
func (h *Hub) Deliver(m Message) {
	data, err := Encode(m)
	if err != nil {
		h.log.Error("failed to encode event", zap.Error(err))
		return
	}

	var dead []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.Wants(m.Event) {
			continue
		}
		if !c.enqueue(data) {
			dead = append(dead, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dead {
		metrics.EventsDropped.WithLabelValues("client_buffer_full").Inc()
		h.log.Warn("dropping slow ws client", zap.String("client", c.ID), zap.String("user", c.UserID))
		h.Unregister(c)
	}
}

// CloseAll unregisters every client.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.Unregister(c)
	}
}
