package simulator_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aspire/market-engine/internal/model"
	"github.com/aspire/market-engine/internal/simulator"
	"github.com/aspire/market-engine/internal/store"
	"github.com/aspire/market-engine/internal/stream"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fixedSource makes rand.Float64 return the same value on every call.
type fixedSource int64

func (s fixedSource) Int63() int64 { return int64(s) }
func (fixedSource) Seed(int64)     {}

// drawOf builds a source whose Float64 yields f (f in [0,1)).
func drawOf(f float64) *rand.Rand {
	return rand.New(fixedSource(int64(f * (1 << 63))))
}

type recorder struct {
	mu     sync.Mutex
	events []stream.Event
}

func (r *recorder) Notify(events ...stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) all() []stream.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stream.Event(nil), r.events...)
}

func seed(t *testing.T, ms *store.MemoryStore, ticker string, price, vol float64, active bool) {
	t.Helper()
	require.NoError(t, ms.CreateInstrument(context.Background(), &model.Instrument{
		Ticker:     ticker,
		Name:       ticker + " Corp",
		Sector:     "TECH",
		Price:      d(price),
		Volatility: d(vol),
		Active:     active,
		CreatedAt:  time.Now().UTC(),
	}))
}

func TestNextPrice(t *testing.T) {
	tests := []struct {
		name       string
		price, vol float64
		draw       float64
		want       float64
		ok         bool
	}{
		{"midpoint draw keeps price", 100, 0.2, 0.5, 100, true},
		{"top of range", 100, 0.2, 0.75, 105, true},
		{"bottom of range", 100, 0.2, 0, 90, true},
		{"rounds to cents", 33.33, 0.1, 0.6, 33.66, true},
		{"floor rejects draw", 0.11, 1, 0, 0.11, false},
		{"exactly at floor rejects", 0.2, 1, 0, 0.2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := simulator.NextPrice(d(tt.price), d(tt.vol), tt.draw)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, got.Equal(d(tt.want)), "got %s, want %v", got, tt.want)
		})
	}
}

func TestTick_MovesActiveInstrumentsAsOneBatch(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, "AAA", 100, 0.2, true)
	seed(t, ms, "BBB", 50, 0.2, true)
	seed(t, ms, "OFF", 10, 0.2, false)
	rec := &recorder{}
	sim := simulator.New(ms, rec, zap.NewNop(), time.Second, simulator.WithRand(drawOf(0.75)))

	require.NoError(t, sim.Tick(context.Background()))

	ctx := context.Background()
	a, _ := ms.GetInstrument(ctx, "AAA")
	assert.True(t, a.Price.Equal(d(105)), "AAA = %s", a.Price)
	assert.True(t, a.Change.Equal(d(5)))
	b, _ := ms.GetInstrument(ctx, "BBB")
	assert.True(t, b.Price.Equal(d(52.5)), "BBB = %s", b.Price)
	off, _ := ms.GetInstrument(ctx, "OFF")
	assert.True(t, off.Price.Equal(d(10)))
	assert.Equal(t, 2, ms.HistoryLen())

	events := rec.all()
	require.Len(t, events, 5)
	mu, ok := events[0].(stream.MarketUpdate)
	require.True(t, ok)
	assert.Len(t, mu.Stocks, 2)
	assert.Equal(t, stream.TypeStockUpdate, events[1].Kind())
	pc, ok := events[2].(stream.PriceChange)
	require.True(t, ok)
	assert.Equal(t, "AAA", pc.Ticker)
	assert.True(t, pc.OldPrice.Equal(d(100)))
	assert.True(t, pc.ChangePercent.Equal(d(5)))
}

func TestTick_FloorKeepsPrice(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, "PENNY", 0.11, 1, true)
	rec := &recorder{}
	sim := simulator.New(ms, rec, zap.NewNop(), time.Second, simulator.WithRand(drawOf(0)))

	require.NoError(t, sim.Tick(context.Background()))

	inst, _ := ms.GetInstrument(context.Background(), "PENNY")
	assert.True(t, inst.Price.Equal(d(0.11)))
	assert.True(t, inst.Change.IsZero())
	assert.Equal(t, 0, ms.HistoryLen())

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, stream.TypeMarketUpdate, events[0].Kind())
}

type failingStore struct {
	store.Store
}

func (failingStore) InTx(context.Context, func(store.Tx) error) error {
	return errors.New("database is locked")
}

func TestTick_StoreErrorEmitsNothing(t *testing.T) {
	rec := &recorder{}
	sim := simulator.New(failingStore{store.NewMemoryStore()}, rec, zap.NewNop(), time.Second)
	assert.Error(t, sim.Tick(context.Background()))
	assert.Empty(t, rec.all())
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, "AAA", 100, 0.2, true)
	sim := simulator.New(ms, nil, zap.NewNop(), 5*time.Millisecond, simulator.WithRand(drawOf(0.9)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ms.HistoryLen() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRetention_Prune(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, "AAA", 100, 0.2, true)
	now := time.Now().UTC()
	ctx := context.Background()
	require.NoError(t, ms.InTx(ctx, func(tx store.Tx) error {
		return tx.AppendPriceHistory(ctx,
			model.PricePoint{Ticker: "AAA", Price: d(1), RecordedAt: now.Add(-30 * time.Hour)},
			model.PricePoint{Ticker: "AAA", Price: d(2), RecordedAt: now.Add(-2 * time.Hour)},
		)
	}))

	r := simulator.NewRetention(ms, zap.NewNop(), time.Hour, 24*time.Hour)
	n, err := r.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, ms.HistoryLen())
}
