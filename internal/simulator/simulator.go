// Package simulator drives instrument prices with a bounded random walk
// and prunes old price history.
package simulator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aspire/market-engine/internal/metrics"
	"github.com/aspire/market-engine/internal/model"
	"github.com/aspire/market-engine/internal/store"
	"github.com/aspire/market-engine/internal/stream"
)

// Floor is the price at or below which a draw is discarded.
var Floor = decimal.NewFromFloat(0.1)

var half = decimal.NewFromFloat(0.5)

// Notifier receives post-commit events. Implementations must not block.
type Notifier interface {
	Notify(events ...stream.Event)
}

// Simulator recomputes every active instrument's price once per interval.
type Simulator struct {
	store    store.Store
	notifier Notifier
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithRand replaces the random source. Tests use a seeded one.
func WithRand(r *rand.Rand) Option {
	return func(s *Simulator) { s.rng = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// New creates a simulator ticking every interval. notifier may be nil.
func New(st store.Store, notifier Notifier, log *zap.Logger, interval time.Duration, opts ...Option) *Simulator {
	s := &Simulator{
		store:    st,
		notifier: notifier,
		log:      log,
		interval: interval,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextPrice applies draw, a uniform value in [0,1), to price:
// round2(price * (1 + (draw-0.5)*volatility)). ok is false when the
// result is at or below Floor; the caller then keeps the old price.
func NextPrice(price, volatility decimal.Decimal, draw float64) (next decimal.Decimal, ok bool) {
	delta := decimal.NewFromFloat(draw).Sub(half).Mul(volatility)
	next = price.Mul(decimal.NewFromInt(1).Add(delta)).Round(2)
	if next.LessThanOrEqual(Floor) {
		return price, false
	}
	return next, true
}

// Run ticks until ctx is cancelled. A failed tick is logged and the next
// one runs on schedule.
func (s *Simulator) Run(ctx context.Context) {
	s.log.Info("market simulation started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("market simulation stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Error("price tick failed", zap.Error(err))
			}
		}
	}
}

// Tick moves every active instrument once and commits the whole batch in
// one unit. Events are emitted only after the commit.
func (s *Simulator) Tick(ctx context.Context) error {
	var quotes []stream.Quote
	var moves []stream.Event

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		quotes, moves = nil, nil

		list, err := tx.ListActiveInstruments(ctx, "")
		if err != nil {
			return err
		}
		now := s.now().UTC()
		var points []model.PricePoint

		for i := range list {
			inst := &list[i]
			old := inst.Price
			next, ok := NextPrice(old, inst.Volatility, s.draw())
			if !ok {
				metrics.SimulatorFloorRejections.Inc()
			}
			inst.Price = next
			inst.Change = next.Sub(old).Round(2)
			if err := tx.UpdateInstrument(ctx, inst); err != nil {
				return err
			}
			quotes = append(quotes, stream.QuoteOf(*inst))

			if next.Equal(old) {
				continue
			}
			points = append(points, model.PricePoint{Ticker: inst.Ticker, Price: next, RecordedAt: now})
			moves = append(moves,
				stream.StockUpdate{Quote: stream.QuoteOf(*inst)},
				stream.NewPriceChange(inst.Ticker, old, next),
			)
		}
		return tx.AppendPriceHistory(ctx, points...)
	})
	if err != nil {
		metrics.SimulatorTicks.WithLabelValues("error").Inc()
		return err
	}

	metrics.SimulatorTicks.WithLabelValues("ok").Inc()
	metrics.ActiveInstruments.Set(float64(len(quotes)))
	s.log.Debug("price tick committed",
		zap.Int("instruments", len(quotes)),
		zap.Int("moved", len(moves)/2),
	)

	if s.notifier != nil && len(quotes) > 0 {
		events := append([]stream.Event{stream.MarketUpdate{Stocks: quotes}}, moves...)
		s.notifier.Notify(events...)
	}
	return nil
}

func (s *Simulator) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
