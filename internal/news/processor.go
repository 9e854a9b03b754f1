// Package news applies administrator-submitted sector shocks: one
// multiplicative price adjustment to every active instrument in a sector,
// recorded together with the event that caused it.
package news

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aspire/market-engine/internal/apperr"
	"github.com/aspire/market-engine/internal/metrics"
	"github.com/aspire/market-engine/internal/model"
	"github.com/aspire/market-engine/internal/store"
	"github.com/aspire/market-engine/internal/stream"
	"github.com/aspire/market-engine/internal/symbol"
)

var one = decimal.NewFromInt(1)

// Notifier receives post-commit events. Implementations must not block.
type Notifier interface {
	Notify(events ...stream.Event)
}

// Shock is an event submission.
type Shock struct {
	Headline  string
	Summary   string
	Sector    string
	Magnitude decimal.Decimal
	Duration  int
	Sentiment model.Sentiment
}

// Validate normalizes sector and sentiment and checks every field.
func (s *Shock) Validate() error {
	s.Headline = strings.TrimSpace(s.Headline)
	s.Summary = strings.TrimSpace(s.Summary)
	if len(s.Headline) < 5 {
		return apperr.Validation("headline must be at least 5 characters long")
	}
	if len(s.Summary) < 10 {
		return apperr.Validation("summary must be at least 10 characters long")
	}
	sector, err := symbol.NormalizeSector(s.Sector)
	if err != nil {
		return apperr.Validation("%v", err)
	}
	s.Sector = sector
	if s.Magnitude.LessThan(one.Neg()) || s.Magnitude.GreaterThan(one) {
		return apperr.Validation("magnitude must be between -1.0 and 1.0")
	}
	if s.Duration <= 0 {
		return apperr.Validation("duration must be a positive integer")
	}
	s.Sentiment = model.Sentiment(strings.ToUpper(strings.TrimSpace(string(s.Sentiment))))
	if !s.Sentiment.Valid() {
		return apperr.Validation("sentiment must be POSITIVE, NEGATIVE, or NEUTRAL")
	}
	return nil
}

// Result reports the created event and how many instruments it touched.
type Result struct {
	EventID       string `json:"eventId"`
	AffectedCount int    `json:"affectedCount"`
}

// Processor applies shocks.
type Processor struct {
	store    store.Store
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewProcessor creates a shock processor. notifier may be nil.
func NewProcessor(st store.Store, notifier Notifier, log *zap.Logger) *Processor {
	return &Processor{
		store:    st,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Shocked returns round2(price * (1+magnitude)), never below the minimum
// listed price.
func Shocked(price, magnitude decimal.Decimal) decimal.Decimal {
	next := price.Mul(one.Add(magnitude)).Round(2)
	if next.LessThan(symbol.MinPrice) {
		return symbol.MinPrice
	}
	return next
}

// ApplyShock records the event and rescales every active instrument in
// its sector in one atomic unit. Every affected instrument gets a history
// point at its new price, even when the magnitude is zero.
func (p *Processor) ApplyShock(ctx context.Context, s Shock) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	event := model.NewsEvent{
		ID:        uuid.New().String(),
		Headline:  s.Headline,
		Summary:   s.Summary,
		Sector:    s.Sector,
		Magnitude: s.Magnitude,
		Duration:  s.Duration,
		Sentiment: s.Sentiment,
	}
	var events []stream.Event
	affected := 0

	err := p.store.InTx(ctx, func(tx store.Tx) error {
		events, affected = nil, 0
		now := p.now().UTC()
		event.CreatedAt = now
		if err := tx.InsertNewsEvent(ctx, &event); err != nil {
			return err
		}

		list, err := tx.ListActiveInstruments(ctx, s.Sector)
		if err != nil {
			return err
		}
		points := make([]model.PricePoint, 0, len(list))
		for i := range list {
			inst := &list[i]
			old := inst.Price
			inst.Price = Shocked(old, s.Magnitude)
			inst.Change = inst.Price.Sub(old)
			if err := tx.UpdateInstrument(ctx, inst); err != nil {
				return err
			}
			points = append(points, model.PricePoint{Ticker: inst.Ticker, Price: inst.Price, RecordedAt: now})

			events = append(events, stream.StockUpdate{Quote: stream.QuoteOf(*inst)})
			if !inst.Price.Equal(old) {
				events = append(events, stream.NewPriceChange(inst.Ticker, old, inst.Price))
			}
		}
		affected = len(list)
		return tx.AppendPriceHistory(ctx, points...)
	})
	if err != nil {
		err = apperr.Commit(err)
		if !apperr.IsBusiness(err) {
			p.log.Error("news shock commit failed", zap.String("sector", s.Sector), zap.Error(err))
		}
		return nil, err
	}

	metrics.NewsShocks.WithLabelValues(s.Sector).Inc()
	p.log.Info("news event applied",
		zap.String("event_id", event.ID),
		zap.String("headline", event.Headline),
		zap.String("sector", event.Sector),
		zap.String("magnitude", event.Magnitude.String()),
		zap.Int("affected", affected),
	)

	if p.notifier != nil && len(events) > 0 {
		p.notifier.Notify(events...)
	}
	return &Result{EventID: event.ID, AffectedCount: affected}, nil
}
