package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/aspire/market-engine/internal/apperr"
	"github.com/aspire/market-engine/internal/model"
)

// SQLiteStore implements Store on SQLite through gorm. The pool is capped
// at one connection, so every InTx unit runs alone: SQLite has no row
// locks and this gives the same single-writer guarantee as FOR UPDATE.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and migrates it.
// Use "file::memory:" for a throwaway database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates the tables for every model.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&model.Instrument{},
		&model.PricePoint{},
		&model.Account{},
		&model.Position{},
		&model.Transaction{},
		&model.NewsEvent{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *SQLiteStore) CreateInstrument(ctx context.Context, inst *model.Instrument) error {
	if err := s.db.WithContext(ctx).Create(inst).Error; err != nil {
		return fmt.Errorf("create instrument %s: %w", inst.Ticker, err)
	}
	return nil
}

func (s *SQLiteStore) GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error) {
	return firstInstrument(s.db.WithContext(ctx), ticker)
}

func (s *SQLiteStore) ListInstruments(ctx context.Context, active bool) ([]model.Instrument, error) {
	var out []model.Instrument
	err := s.db.WithContext(ctx).Where("is_active = ?", active).Order("ticker").Find(&out).Error
	return out, err
}

func (s *SQLiteStore) GetPriceHistory(ctx context.Context, ticker string, since time.Time) ([]model.PricePoint, error) {
	var out []model.PricePoint
	err := s.db.WithContext(ctx).
		Where("ticker = ? AND recorded_at > ?", ticker, since).
		Order("recorded_at, id").
		Find(&out).Error
	return out, err
}

func (s *SQLiteStore) PrunePriceHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("recorded_at < ?", cutoff).Delete(&model.PricePoint{})
	return res.RowsAffected, res.Error
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	if err := s.db.WithContext(ctx).Create(acct).Error; err != nil {
		return fmt.Errorf("create account %s: %w", acct.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return firstAccount(s.db.WithContext(ctx), userID)
}

func (s *SQLiteStore) GetPositions(ctx context.Context, userID string) ([]model.Position, error) {
	var out []model.Position
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("ticker").Find(&out).Error
	return out, err
}

// TopAccounts casts balance for ordering since decimals are stored as text.
func (s *SQLiteStore) TopAccounts(ctx context.Context, limit int) ([]model.Account, error) {
	var out []model.Account
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("CAST(balance AS REAL) DESC, user_id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *SQLiteStore) GetTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.Transaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("executed_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormTx implements Tx on a gorm transaction handle.
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error) {
	return firstInstrument(t.db.WithContext(ctx), ticker)
}

func (t *gormTx) ListActiveInstruments(ctx context.Context, sector string) ([]model.Instrument, error) {
	q := t.db.WithContext(ctx).Where("is_active = ?", true)
	if sector != "" {
		q = q.Where("sector = ?", sector)
	}
	var out []model.Instrument
	err := q.Order("ticker").Find(&out).Error
	return out, err
}

func (t *gormTx) UpdateInstrument(ctx context.Context, inst *model.Instrument) error {
	res := t.db.WithContext(ctx).Model(&model.Instrument{}).
		Where("ticker = ?", inst.Ticker).
		Updates(map[string]any{
			"price":         inst.Price,
			"change":        inst.Change,
			"volume":        inst.Volume,
			"last_trade_at": inst.LastTradeAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: stock %s", apperr.ErrNotFound, inst.Ticker)
	}
	return nil
}

func (t *gormTx) UpdateListing(ctx context.Context, inst *model.Instrument) error {
	res := t.db.WithContext(ctx).Model(&model.Instrument{}).
		Where("ticker = ?", inst.Ticker).
		Updates(map[string]any{
			"name":        inst.Name,
			"description": inst.Description,
			"volatility":  inst.Volatility,
			"is_active":   inst.Active,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: stock %s", apperr.ErrNotFound, inst.Ticker)
	}
	return nil
}

func (t *gormTx) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return firstAccount(t.db.WithContext(ctx), userID)
}

func (t *gormTx) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	return t.db.WithContext(ctx).Model(&model.Account{}).
		Where("user_id = ?", userID).
		Update("balance", balance).Error
}

func (t *gormTx) SetAccountActive(ctx context.Context, userID string, active bool) error {
	res := t.db.WithContext(ctx).Model(&model.Account{}).
		Where("user_id = ?", userID).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	return nil
}

func (t *gormTx) GetPosition(ctx context.Context, userID, ticker string) (*model.Position, error) {
	var pos model.Position
	err := t.db.WithContext(ctx).Where("user_id = ? AND ticker = ?", userID, ticker).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (t *gormTx) SavePosition(ctx context.Context, pos *model.Position) error {
	return t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "avg_cost", "updated_at"}),
	}).Create(pos).Error
}

func (t *gormTx) DeletePosition(ctx context.Context, userID, ticker string) error {
	return t.db.WithContext(ctx).
		Where("user_id = ? AND ticker = ?", userID, ticker).
		Delete(&model.Position{}).Error
}

func (t *gormTx) AppendPriceHistory(ctx context.Context, points ...model.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	return t.db.WithContext(ctx).Create(&points).Error
}

func (t *gormTx) InsertTransaction(ctx context.Context, txn *model.Transaction) error {
	return t.db.WithContext(ctx).Create(txn).Error
}

func (t *gormTx) InsertNewsEvent(ctx context.Context, e *model.NewsEvent) error {
	return t.db.WithContext(ctx).Create(e).Error
}

func firstInstrument(db *gorm.DB, ticker string) (*model.Instrument, error) {
	var inst model.Instrument
	err := db.Where("ticker = ?", ticker).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: stock %s", apperr.ErrNotFound, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("get instrument %s: %w", ticker, err)
	}
	return &inst, nil
}

func firstAccount(db *gorm.DB, userID string) (*model.Account, error) {
	var acct model.Account
	err := db.Where("user_id = ?", userID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	return &acct, nil
}
