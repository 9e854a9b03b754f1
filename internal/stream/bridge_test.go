package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBus records publishes and lets tests inject inbound payloads.
type fakeBus struct {
	mu         sync.Mutex
	published  map[string][][]byte
	publishErr error
	inbound    chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		inbound:   make(chan []byte, 16),
	}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, _ ...string) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-b.inbound:
				out <- p
			}
		}
	}()
	return out, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

func runBridge(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestBridge_DeliversLocallyAndPublishes(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := NewClient("u1", "USER", 16)
	hub.Register(c)
	bus := newFakeBus()
	b := NewBridge(hub, bus, zap.NewNop())
	runBridge(t, b)

	b.Notify(
		StockUpdate{Quote{Ticker: "AAPL", Price: decimal.NewFromInt(10)}},
		TradeExecuted{UserID: "u1", Ticker: "AAPL"},
	)

	require.Eventually(t, func() bool {
		return bus.count("stock:update") == 1 && bus.count("trade:executed") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"STOCK_UPDATE:AAPL", "TRADE_EXECUTED:AAPL"}, drain(c))
}

func TestBridge_PublishFailureIsSwallowed(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := NewClient("u1", "USER", 16)
	hub.Register(c)
	bus := newFakeBus()
	bus.publishErr = errors.New("connection refused")
	b := NewBridge(hub, bus, zap.NewNop())
	runBridge(t, b)

	b.Notify(StockUpdate{Quote{Ticker: "AAPL"}})
	b.Notify(StockUpdate{Quote{Ticker: "MSFT"}})

	var got []string
	require.Eventually(t, func() bool {
		got = append(got, drain(c)...)
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"STOCK_UPDATE:AAPL", "STOCK_UPDATE:MSFT"}, got)
}

func TestBridge_RelaysForeignEventsAndSkipsOwn(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := NewClient("u1", "USER", 16)
	hub.Register(c)
	bus := newFakeBus()
	b := NewBridge(hub, bus, zap.NewNop())
	runBridge(t, b)

	own, err := EncodeBus(Message{Event: StockUpdate{Quote{Ticker: "OWN"}}, Timestamp: time.Now(), Origin: b.Origin()})
	require.NoError(t, err)
	foreign, err := EncodeBus(Message{Event: StockUpdate{Quote{Ticker: "PEER"}}, Timestamp: time.Now(), Origin: "other-process"})
	require.NoError(t, err)

	bus.inbound <- own
	bus.inbound <- []byte("garbage")
	bus.inbound <- foreign

	var got []string
	require.Eventually(t, func() bool {
		got = append(got, drain(c)...)
		return len(got) >= 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"STOCK_UPDATE:PEER"}, got)
}

func TestBridge_WithoutBus(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := NewClient("u1", "USER", 16)
	hub.Register(c)
	b := NewBridge(hub, nil, zap.NewNop())
	runBridge(t, b)

	b.Notify(MarketUpdate{Stocks: []Quote{{Ticker: "AAPL"}}})
	var got []string
	require.Eventually(t, func() bool {
		got = append(got, drain(c)...)
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBridge_NotifyNeverBlocks(t *testing.T) {
	hub := NewHub(zap.NewNop())
	b := NewBridge(hub, nil, zap.NewNop(), WithQueueSize(1))

	done := make(chan struct{})
	go func() {
		// No Run loop: the queue fills after one event and the rest drop.
		for i := 0; i < 10; i++ {
			b.Notify(StockUpdate{Quote{Ticker: "AAPL"}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	assert.Len(t, b.queue, 1)
}

// stalledBus never completes a publish before its context expires.
type stalledBus struct{}

func (stalledBus) Publish(ctx context.Context, _ string, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledBus) Subscribe(ctx context.Context, _ ...string) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func TestBridge_StalledBusDoesNotDelayLocalDelivery(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := NewClient("u1", "USER", 16)
	hub.Register(c)
	bus := stalledBus{}
	b := NewBridge(hub, bus, zap.NewNop(), WithPublishTimeout(2*time.Second))
	runBridge(t, b)

	start := time.Now()
	for _, ticker := range []string{"A1", "A2", "A3", "A4"} {
		b.Notify(StockUpdate{Quote{Ticker: ticker}})
	}

	var got []string
	require.Eventually(t, func() bool {
		got = append(got, drain(c)...)
		return len(got) == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"STOCK_UPDATE:A1", "STOCK_UPDATE:A2", "STOCK_UPDATE:A3", "STOCK_UPDATE:A4"}, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBridge_FullOutboxDropsOnlyBusCopies(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := NewClient("u1", "USER", 16)
	hub.Register(c)
	bus := stalledBus{}
	b := NewBridge(hub, bus, zap.NewNop(), WithQueueSize(2), WithPublishTimeout(time.Minute))
	runBridge(t, b)

	var got []string
	for i := 0; i < 6; i++ {
		b.Notify(StockUpdate{Quote{Ticker: "AAPL"}})
		require.Eventually(t, func() bool {
			got = append(got, drain(c)...)
			return len(got) == i+1
		}, time.Second, 5*time.Millisecond)
	}
	assert.Len(t, got, 6)
}
