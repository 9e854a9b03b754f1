// Package trade executes buy and sell orders against the server-quoted
// instrument price and serves the portfolio and transaction-history
// queries.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"fmt"
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

// Notifier receives post-commit events. Implementations must not block.
type Notifier interface {
	Notify(events ...stream.Event)
}

// Service is the trade execution engine. Trades for the same instrument
// or user are serialized by the store's row locks inside InTx, so the
// service itself holds no lock.
type Service struct {
	store    store.Store
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates a trade service. notifier may be nil.
func NewService(st store.Store, notifier Notifier, log *zap.Logger) *Service {
	return &Service{
		store:    st,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Request is a validated-on-entry trade order.
type Request struct {
	UserID   string
	Ticker   string
	Side     model.Side
	Quantity int64
}

func (r *Request) normalize() error {
	if strings.TrimSpace(r.UserID) == "" {
		return apperr.Validation("user id is required")
	}
	ticker, err := symbol.NormalizeTicker(r.Ticker)
	if err != nil {
		return apperr.Validation("%v", err)
	}
	r.Ticker = ticker
	r.Side = model.Side(strings.ToUpper(strings.TrimSpace(string(r.Side))))
	if !r.Side.Valid() {
		return apperr.Validation("action must be BUY or SELL")
	}
	if r.Quantity <= 0 {
		return apperr.Validation("quantity must be a positive integer")
	}
	return nil
}

// Execute runs one trade as a single atomic unit. On any error nothing is
// changed. After commit a TRADE_EXECUTED and a STOCK_UPDATE event are
// handed to the notifier without waiting for delivery.
func (s *Service) Execute(ctx context.Context, req Request) (*model.Transaction, error) {
	if err := req.normalize(); err != nil {
		metrics.TradesTotal.WithLabelValues("invalid", "rejected").Inc()
		return nil, err
	}

	start := time.Now()
	var txn model.Transaction
	var traded model.Instrument

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		inst, err := tx.GetInstrument(ctx, req.Ticker)
		if err != nil {
			return err
		}
		if !inst.Active {
			return fmt.Errorf("%w: %s", apperr.ErrInstrumentInactive, inst.Ticker)
		}

		acct, err := tx.GetAccount(ctx, req.UserID)
		if err != nil {
			return err
		}
		if !acct.Active {
			return apperr.ErrAccountInactive
		}

		now := s.now().UTC()
		price := inst.Price
		total := price.Mul(decimal.NewFromInt(req.Quantity)).Round(2)

		pos, err := tx.GetPosition(ctx, req.UserID, req.Ticker)
		if err != nil {
			return err
		}

		balance := acct.Balance
		switch req.Side {
		case model.SideBuy:
			if balance.LessThan(total) {
				return fmt.Errorf("%w: need %s, available %s",
					apperr.ErrInsufficientFunds, total.StringFixed(2), balance.StringFixed(2))
			}
			balance = balance.Sub(total)
			pos = applyBuy(pos, req, price, now)
			if err := tx.SavePosition(ctx, pos); err != nil {
				return err
			}

		case model.SideSell:
			held := int64(0)
			if pos != nil {
				held = pos.Quantity
			}
			if held < req.Quantity {
				return fmt.Errorf("%w: holding %d, selling %d",
					apperr.ErrInsufficientShares, held, req.Quantity)
			}
			balance = balance.Add(total)
			pos.Quantity -= req.Quantity
			pos.UpdatedAt = now
			if pos.Quantity == 0 {
				err = tx.DeletePosition(ctx, req.UserID, req.Ticker)
			} else {
				err = tx.SavePosition(ctx, pos)
			}
			if err != nil {
				return err
			}
		}

		if err := tx.SetBalance(ctx, req.UserID, balance); err != nil {
			return err
		}

		inst.Volume += req.Quantity
		inst.LastTradeAt = &now
		if err := tx.UpdateInstrument(ctx, inst); err != nil {
			return err
		}
		if err := tx.AppendPriceHistory(ctx, model.PricePoint{
			Ticker:     inst.Ticker,
			Price:      price,
			RecordedAt: now,
		}); err != nil {
			return err
		}

		txn = model.Transaction{
			ID:         uuid.New().String(),
			UserID:     req.UserID,
			Ticker:     inst.Ticker,
			Side:       req.Side,
			Quantity:   req.Quantity,
			Price:      price,
			Total:      total,
			ExecutedAt: now,
		}
		if err := tx.InsertTransaction(ctx, &txn); err != nil {
			return err
		}
		traded = *inst
		return nil
	})
	if err != nil {
		err = apperr.Commit(err)
		if apperr.IsBusiness(err) {
			metrics.TradesTotal.WithLabelValues(string(req.Side), "rejected").Inc()
		} else {
			metrics.TradesTotal.WithLabelValues(string(req.Side), "failed").Inc()
			s.log.Error("trade commit failed",
				zap.String("user", req.UserID),
				zap.String("ticker", req.Ticker),
				zap.Error(err),
			)
		}
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(req.Side), "executed").Inc()
	metrics.TradeLatency.WithLabelValues(string(req.Side)).Observe(time.Since(start).Seconds())
	metrics.TradeVolume.WithLabelValues(txn.Ticker, string(txn.Side)).Add(float64(txn.Quantity))

	s.log.Info("trade executed",
		zap.String("trade_id", txn.ID),
		zap.String("user", txn.UserID),
		zap.String("ticker", txn.Ticker),
		zap.String("side", string(txn.Side)),
		zap.Int64("qty", txn.Quantity),
		zap.String("price", txn.Price.String()),
		zap.String("total", txn.Total.String()),
	)

	if s.notifier != nil {
		s.notifier.Notify(
			stream.TradeExecutedOf(txn),
			stream.StockUpdate{Quote: stream.QuoteOf(traded)},
		)
	}
	return &txn, nil
}

// applyBuy opens a position or folds a new lot into it at the
// quantity-weighted average cost.
func applyBuy(pos *model.Position, req Request, price decimal.Decimal, now time.Time) *model.Position {
	if pos == nil {
		return &model.Position{
			UserID:    req.UserID,
			Ticker:    req.Ticker,
			Quantity:  req.Quantity,
			AvgCost:   price,
			UpdatedAt: now,
		}
	}
	pos.AvgCost = WeightedAverage(pos.AvgCost, pos.Quantity, price, req.Quantity)
	pos.Quantity += req.Quantity
	pos.UpdatedAt = now
	return pos
}

// WeightedAverage returns (oldAvg*oldQty + price*qty) / (oldQty+qty),
// rounded to four decimal places.
func WeightedAverage(oldAvg decimal.Decimal, oldQty int64, price decimal.Decimal, qty int64) decimal.Decimal {
	total := oldQty + qty
	if total == 0 {
		return decimal.Zero
	}
	cost := oldAvg.Mul(decimal.NewFromInt(oldQty)).Add(price.Mul(decimal.NewFromInt(qty)))
	return cost.Div(decimal.NewFromInt(total)).Round(4)
}

// Portfolio marks a user's positions to the current instrument prices.
func (s *Service) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	acct, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := &model.Portfolio{
		UserID:        userID,
		Balance:       acct.Balance,
		Positions:     make([]model.PortfolioItem, 0, len(positions)),
		HoldingsValue: decimal.Zero,
		TotalPnL:      decimal.Zero,
	}
	for _, pos := range positions {
		inst, err := s.store.GetInstrument(ctx, pos.Ticker)
		if err != nil {
			return nil, err
		}
		qty := decimal.NewFromInt(pos.Quantity)
		item := model.PortfolioItem{
			Position:     pos,
			CurrentPrice: inst.Price,
			MarketValue:  inst.Price.Mul(qty).Round(2),
			CostBasis:    pos.AvgCost.Mul(qty).Round(2),
		}
		item.UnrealizedPnL = item.MarketValue.Sub(item.CostBasis)
		p.Positions = append(p.Positions, item)
		p.HoldingsValue = p.HoldingsValue.Add(item.MarketValue)
		p.TotalPnL = p.TotalPnL.Add(item.UnrealizedPnL)
	}
	p.TotalValue = p.Balance.Add(p.HoldingsValue)
	return p, nil
}

// Transactions returns the user's trades, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	txns, err := s.store.GetTransactionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	return txns, nil
}
