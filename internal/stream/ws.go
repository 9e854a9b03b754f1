package stream

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aspire/market-engine/internal/identity"
)

// ServerOptions tunes WebSocket connections.
type ServerOptions struct {
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

func (o *ServerOptions) defaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
}

// Server upgrades HTTP requests to WebSocket connections registered on a Hub.
type Server struct {
	hub      *Hub
	opts     ServerOptions
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates the WebSocket endpoint.
func NewServer(hub *Hub, opts ServerOptions, log *zap.Logger) *Server {
	opts.defaults()
	return &Server{
		hub:  hub,
		opts: opts,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers connect from the web frontend's origin.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// welcome is the payload of the WELCOME message.
type welcome struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	Role    string `json:"role"`
}

// ServeWS handles GET /api/v1/ws.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	id := identity.ForWebSocket(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := NewClient(id.UserID, id.Role, s.opts.SendBuffer)
	s.hub.Register(c)
	c.enqueue(control(TypeWelcome, welcome{
		Message: "Connected to Aspire Market",
		UserID:  id.UserID,
		Role:    id.Role,
	}, ""))

	go s.writePump(conn, c)
	go s.readPump(conn, c)
}

// readPump handles client frames until the connection fails.
func (s *Server) readPump(conn *websocket.Conn, c *Client) {
	defer func() {
		s.hub.Unregister(c)
		conn.Close()
	}()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("ws read failed", zap.String("client", c.ID), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		s.handleFrame(c, data)
	}
}

func (s *Server) handleFrame(c *Client, data []byte) {
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.enqueue(control(TypeError, nil, "Invalid message format"))
		return
	}
	switch f.Type {
	case TypePing:
		c.enqueue(control(TypePong, nil, ""))
	case TypeSubscribe:
		tickers := c.Subscribe(f.Tickers)
		c.enqueue(control(TypeSubscribed, map[string][]string{"tickers": tickers}, ""))
	default:
		c.enqueue(control(TypeError, nil, "Unknown message type"))
	}
}

// writePump owns all writes to conn: queued messages and keepalive pings.
func (s *Server) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-c.Send():
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.Debug("ws write failed", zap.String("client", c.ID), zap.Error(err))
				s.hub.Unregister(c)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Unregister(c)
				return
			}
		case <-c.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.opts.WriteWait))
			return
		}
	}
}
