// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), SQLite via gorm
// (single-node deployments), Redis (read-through cache), and in-memory
// (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aspire/market-engine/internal/model"
)

// Store is the persistence interface. Every mutation of instruments,
// balances, positions or the logs goes through InTx; the read methods
// are snapshot queries used by the HTTP layer.
type Store interface {
	// InTx runs fn inside one atomic unit. If fn returns an error nothing
	// it wrote is visible afterwards; otherwise everything commits together.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Catalog ---

	// CreateInstrument persists a new instrument. Duplicate tickers fail.
	CreateInstrument(ctx context.Context, inst *model.Instrument) error

	// GetInstrument retrieves an instrument by its (normalized) ticker.
	GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error)

	// ListInstruments returns instruments with the given active flag, by ticker.
	ListInstruments(ctx context.Context, active bool) ([]model.Instrument, error)

	// GetPriceHistory returns points for ticker recorded after since, oldest first.
	GetPriceHistory(ctx context.Context, ticker string, since time.Time) ([]model.PricePoint, error)

	// PrunePriceHistory deletes points recorded before cutoff.
	PrunePriceHistory(ctx context.Context, cutoff time.Time) (int64, error)

	// --- Ledger ---

	// CreateAccount provisions a user's balance. Existing accounts fail.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount retrieves a user's account.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// GetPositions returns a user's open positions, by ticker.
	GetPositions(ctx context.Context, userID string) ([]model.Position, error)

	// GetTransactionsByUser returns a user's trades, newest first.
	GetTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error)

	// TopAccounts returns up to limit active accounts by balance, richest
	// first; ties go to the lower user id.
	TopAccounts(ctx context.Context, limit int) ([]model.Account, error)

	Close() error
}

// Tx is the read-modify-write view handed to InTx callbacks. Reads of
// instruments and accounts lock the rows they return until the unit ends,
// so a simulator tick, a trade and a shock can never interleave on the
// same instrument.
type Tx interface {
	// GetInstrument locks and returns one instrument (apperr.ErrNotFound if absent).
	GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error)

	// ListActiveInstruments locks and returns active instruments in ticker
	// order. An empty sector selects every sector.
	ListActiveInstruments(ctx context.Context, sector string) ([]model.Instrument, error)

	// UpdateInstrument writes price, change, volume and last-trade time.
	UpdateInstrument(ctx context.Context, inst *model.Instrument) error

	// UpdateListing writes the admin-editable fields: name, description,
	// volatility and the active flag.
	UpdateListing(ctx context.Context, inst *model.Instrument) error

	// GetAccount locks and returns a user's account (apperr.ErrNotFound if absent).
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// SetBalance overwrites a user's balance.
	SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error

	// SetAccountActive enables or disables trading for a user.
	SetAccountActive(ctx context.Context, userID string, active bool) error

	// GetPosition returns the position or nil when the user holds none.
	GetPosition(ctx context.Context, userID, ticker string) (*model.Position, error)

	// SavePosition inserts or replaces the (user, ticker) position.
	SavePosition(ctx context.Context, pos *model.Position) error

	// DeletePosition removes the (user, ticker) position.
	DeletePosition(ctx context.Context, userID, ticker string) error

	// AppendPriceHistory appends price points.
	AppendPriceHistory(ctx context.Context, points ...model.PricePoint) error

	// InsertTransaction appends an immutable trade record.
	InsertTransaction(ctx context.Context, t *model.Transaction) error

	// InsertNewsEvent appends an immutable news event.
	InsertNewsEvent(ctx context.Context, e *model.NewsEvent) error
}
