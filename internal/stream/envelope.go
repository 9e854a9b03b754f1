// Package stream fans domain events out to WebSocket clients, locally and
// across processes through a shared pub/sub bus.
//
// Events are typed values implementing Event; JSON only appears at the
// transport edges (Encode/Decode), where every message travels in the
// same {type, data, timestamp} envelope on the socket and on the bus.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aspire/market-engine/internal/model"
)

// MessageType is the envelope discriminator.
type MessageType string

const (
	TypeMarketUpdate  MessageType = "MARKET_UPDATE"
	TypeStockUpdate   MessageType = "STOCK_UPDATE"
	TypeTradeExecuted MessageType = "TRADE_EXECUTED"
	TypePriceChange   MessageType = "PRICE_CHANGE"

	TypeWelcome    MessageType = "WELCOME"
	TypeError      MessageType = "ERROR"
	TypePing       MessageType = "PING"
	TypePong       MessageType = "PONG"
	TypeSubscribe  MessageType = "SUBSCRIBE"
	TypeSubscribed MessageType = "SUBSCRIBED"
)

// Bus channels, one per domain event kind.
var channels = map[MessageType]string{
	TypeMarketUpdate:  "market:update",
	TypeStockUpdate:   "stock:update",
	TypeTradeExecuted: "trade:executed",
	TypePriceChange:   "price:change",
}

// Channel returns the bus channel for a domain event kind.
func Channel(t MessageType) (string, bool) {
	ch, ok := channels[t]
	return ch, ok
}

// Channels lists every bus channel a process subscribes to.
func Channels() []string {
	return []string{"market:update", "stock:update", "trade:executed", "price:change"}
}

// Event is one of MarketUpdate, StockUpdate, TradeExecuted or PriceChange.
type Event interface {
	Kind() MessageType
}

// Quote is the public snapshot of an instrument.
type Quote struct {
	Ticker        string          `json:"ticker"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	Volume        int64           `json:"volume"`
	LastTradeDate *time.Time      `json:"lastTradeDate"`
}

// QuoteOf snapshots an instrument.
func QuoteOf(inst model.Instrument) Quote {
	return Quote{
		Ticker:        inst.Ticker,
		Price:         inst.Price,
		Change:        inst.Change,
		Volume:        inst.Volume,
		LastTradeDate: inst.LastTradeAt,
	}
}

// MarketUpdate lists every active instrument after a simulator tick.
type MarketUpdate struct {
	Stocks []Quote `json:"stocks"`
}

// StockUpdate is the refreshed state of one instrument.
type StockUpdate struct {
	Quote
}

// TradeExecuted describes a committed trade.
type TradeExecuted struct {
	UserID    string          `json:"userId"`
	Ticker    string          `json:"ticker"`
	Type      model.Side      `json:"type"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Timestamp time.Time       `json:"timestamp"`
}

// TradeExecutedOf builds the event for a committed transaction.
func TradeExecutedOf(t model.Transaction) TradeExecuted {
	return TradeExecuted{
		UserID:    t.UserID,
		Ticker:    t.Ticker,
		Type:      t.Side,
		Quantity:  t.Quantity,
		Price:     t.Price,
		Total:     t.Total,
		Timestamp: t.ExecutedAt,
	}
}

// PriceChange reports a single instrument's price move.
type PriceChange struct {
	Ticker        string          `json:"ticker"`
	OldPrice      decimal.Decimal `json:"oldPrice"`
	NewPrice      decimal.Decimal `json:"newPrice"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
}

// NewPriceChange computes change and percentage from the two prices.
func NewPriceChange(ticker string, oldPrice, newPrice decimal.Decimal) PriceChange {
	change := newPrice.Sub(oldPrice)
	pct := decimal.Zero
	if !oldPrice.IsZero() {
		pct = change.Div(oldPrice).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return PriceChange{
		Ticker:        ticker,
		OldPrice:      oldPrice,
		NewPrice:      newPrice,
		Change:        change,
		ChangePercent: pct,
	}
}

func (MarketUpdate) Kind() MessageType  { return TypeMarketUpdate }
func (StockUpdate) Kind() MessageType   { return TypeStockUpdate }
func (TradeExecuted) Kind() MessageType { return TypeTradeExecuted }
func (PriceChange) Kind() MessageType   { return TypePriceChange }

// Message is an Event stamped when it was accepted.
type Message struct {
	Event     Event
	Timestamp time.Time
	// Origin identifies the process that produced the event.
	Origin string
}

// envelope is the wire shape shared by socket and bus payloads.
type envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
	Origin    string          `json:"origin,omitempty"`
}

// Encode renders m for the socket. The origin is omitted.
func Encode(m Message) ([]byte, error) {
	return encode(m, false)
}

// EncodeBus renders m for the bus, origin included.
func EncodeBus(m Message) ([]byte, error) {
	return encode(m, true)
}

func encode(m Message, withOrigin bool) ([]byte, error) {
	data, err := json.Marshal(m.Event)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Event.Kind(), err)
	}
	env := envelope{Type: m.Event.Kind(), Data: data, Timestamp: m.Timestamp}
	if withOrigin {
		env.Origin = m.Origin
	}
	return json.Marshal(env)
}

// Decode parses a bus payload back into a typed Message.
func Decode(payload []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}

	var ev Event
	var err error
	switch env.Type {
	case TypeMarketUpdate:
		var v MarketUpdate
		err = json.Unmarshal(env.Data, &v)
		ev = v
	case TypeStockUpdate:
		var v StockUpdate
		err = json.Unmarshal(env.Data, &v)
		ev = v
	case TypeTradeExecuted:
		var v TradeExecuted
		err = json.Unmarshal(env.Data, &v)
		ev = v
	case TypePriceChange:
		var v PriceChange
		err = json.Unmarshal(env.Data, &v)
		ev = v
	default:
		return Message{}, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return Message{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return Message{Event: ev, Timestamp: env.Timestamp, Origin: env.Origin}, nil
}

// control renders a non-domain message sent to a single client.
func control(t MessageType, data any, errText string) []byte {
	env := envelope{Type: t, Timestamp: time.Now().UTC(), Error: errText}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			env.Data = raw
		}
	}
	out, _ := json.Marshal(env)
	return out
}

// clientFrame is what clients send: PING or SUBSCRIBE.
type clientFrame struct {
	Type    MessageType `json:"type"`
	Tickers []string    `json:"tickers"`
}
