package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type wireMsg struct {
	Type  MessageType     `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wireMsg {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m wireMsg
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func newWSServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ws := NewServer(hub, ServerOptions{SendBuffer: 16}, zap.NewNop())
	r := chi.NewRouter()
	r.Get("/ws", ws.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func TestServeWS_WelcomeAnonymous(t *testing.T) {
	_, srv := newWSServer(t)
	conn := dial(t, srv, "")

	m := read(t, conn)
	assert.Equal(t, TypeWelcome, m.Type)
	var w welcome
	require.NoError(t, json.Unmarshal(m.Data, &w))
	assert.Equal(t, "anonymous", w.UserID)
	assert.Equal(t, "GUEST", w.Role)
}

func TestServeWS_PingSubscribeAndErrors(t *testing.T) {
	hub, srv := newWSServer(t)
	conn := dial(t, srv, "?user_id=u1&role=user")
	require.Equal(t, TypeWelcome, read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "PING"}))
	assert.Equal(t, TypePong, read(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	m := read(t, conn)
	assert.Equal(t, TypeError, m.Type)
	assert.Equal(t, "Invalid message format", m.Error)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SUBSCRIBE", "tickers": []string{"aapl"}}))
	m = read(t, conn)
	require.Equal(t, TypeSubscribed, m.Type)
	assert.JSONEq(t, `{"tickers":["AAPL"]}`, string(m.Data))

	hub.Deliver(stockUpdate("MSFT", 1))
	hub.Deliver(stockUpdate("AAPL", 2))
	m = read(t, conn)
	assert.Equal(t, TypeStockUpdate, m.Type)
	assert.Contains(t, string(m.Data), `"ticker":"AAPL"`)
}

func TestServeWS_DisconnectUnregisters(t *testing.T) {
	hub, srv := newWSServer(t)
	conn := dial(t, srv, "")
	read(t, conn)
	require.Equal(t, 1, hub.Len())

	conn.Close()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
