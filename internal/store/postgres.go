package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aspire/market-engine/internal/apperr"
	"github.com/aspire/market-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Row locks (SELECT ... FOR UPDATE) taken inside InTx serialize the
// simulator, the trade engine and the shock processor per instrument.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

const instrumentColumns = `ticker, name, sector, description,
	price::TEXT, change::TEXT, volume, volatility::TEXT,
	is_active, last_trade_at, created_at`

func (s *PostgresStore) CreateInstrument(ctx context.Context, m *model.Instrument) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO instruments (ticker, name, sector, description, price, change, volume, volatility, is_active, last_trade_at, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9, $10, $11)`,
		m.Ticker, m.Name, m.Sector, m.Description,
		m.Price.String(), m.Change.String(), m.Volume, m.Volatility.String(),
		m.Active, m.LastTradeAt, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create instrument %s: %w", m.Ticker, err)
	}
	return nil
}

func (s *PostgresStore) GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instrumentColumns+` FROM instruments WHERE ticker = $1`, ticker)
	return scanInstrument(row, ticker)
}

func (s *PostgresStore) ListInstruments(ctx context.Context, active bool) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+instrumentColumns+` FROM instruments WHERE is_active = $1 ORDER BY ticker`, active)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstruments(rows)
}

func (s *PostgresStore) GetPriceHistory(ctx context.Context, ticker string, since time.Time) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ticker, price::TEXT, recorded_at
		 FROM price_history WHERE ticker = $1 AND recorded_at > $2
		 ORDER BY recorded_at, id`, ticker, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var priceS string
		if err := rows.Scan(&p.ID, &p.Ticker, &priceS, &p.RecordedAt); err != nil {
			return nil, err
		}
		p.Price, _ = decimal.NewFromString(priceS)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *PostgresStore) PrunePriceHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM price_history WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, is_active, created_at)
		 VALUES ($1, $2::NUMERIC, $3, $4)`,
		a.UserID, a.Balance.String(), a.Active, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create account %s: %w", a.UserID, err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, balance::TEXT, is_active, created_at FROM accounts WHERE user_id = $1`, userID)
	return scanAccount(row, userID)
}

func (s *PostgresStore) GetPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, ticker, quantity, avg_cost::TEXT, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY ticker`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var avgS string
		if err := rows.Scan(&p.UserID, &p.Ticker, &p.Quantity, &avgS, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.AvgCost, _ = decimal.NewFromString(avgS)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) TopAccounts(ctx context.Context, limit int) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, balance::TEXT, is_active, created_at
		 FROM accounts WHERE is_active
		 ORDER BY balance DESC, user_id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, user_id, ticker, side, quantity, price::TEXT, total::TEXT, executed_at
		 FROM transactions WHERE user_id = $1
		 ORDER BY executed_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var side, priceS, totalS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Ticker, &side, &t.Quantity, &priceS, &totalS, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Total, _ = decimal.NewFromString(totalS)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// pgTx implements Tx on one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+instrumentColumns+` FROM instruments WHERE ticker = $1 FOR UPDATE`, ticker)
	return scanInstrument(row, ticker)
}

func (t *pgTx) ListActiveInstruments(ctx context.Context, sector string) ([]model.Instrument, error) {
	// Locks are taken in ticker order so concurrent units never deadlock.
	rows, err := t.tx.Query(ctx,
		`SELECT `+instrumentColumns+` FROM instruments
		 WHERE is_active AND ($1::TEXT = '' OR sector = $1::TEXT)
		 ORDER BY ticker FOR UPDATE`, sector)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstruments(rows)
}

func (t *pgTx) UpdateInstrument(ctx context.Context, m *model.Instrument) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE instruments
		 SET price = $2::NUMERIC, change = $3::NUMERIC, volume = $4, last_trade_at = $5
		 WHERE ticker = $1`,
		m.Ticker, m.Price.String(), m.Change.String(), m.Volume, m.LastTradeAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: stock %s", apperr.ErrNotFound, m.Ticker)
	}
	return nil
}

func (t *pgTx) UpdateListing(ctx context.Context, m *model.Instrument) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE instruments
		 SET name = $2, description = $3, volatility = $4::NUMERIC, is_active = $5
		 WHERE ticker = $1`,
		m.Ticker, m.Name, m.Description, m.Volatility.String(), m.Active,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: stock %s", apperr.ErrNotFound, m.Ticker)
	}
	return nil
}

func (t *pgTx) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT user_id, balance::TEXT, is_active, created_at
		 FROM accounts WHERE user_id = $1 FOR UPDATE`, userID)
	return scanAccount(row, userID)
}

func (t *pgTx) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC WHERE user_id = $1`, userID, balance.String())
	return err
}

func (t *pgTx) SetAccountActive(ctx context.Context, userID string, active bool) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET is_active = $2 WHERE user_id = $1`, userID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	return nil
}

func (t *pgTx) GetPosition(ctx context.Context, userID, ticker string) (*model.Position, error) {
	var p model.Position
	var avgS string
	err := t.tx.QueryRow(ctx,
		`SELECT user_id, ticker, quantity, avg_cost::TEXT, updated_at
		 FROM positions WHERE user_id = $1 AND ticker = $2 FOR UPDATE`, userID, ticker).
		Scan(&p.UserID, &p.Ticker, &p.Quantity, &avgS, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, ticker, err)
	}
	p.AvgCost, _ = decimal.NewFromString(avgS)
	return &p, nil
}

func (t *pgTx) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (user_id, ticker, quantity, avg_cost, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)
		 ON CONFLICT (user_id, ticker)
		 DO UPDATE SET quantity = EXCLUDED.quantity, avg_cost = EXCLUDED.avg_cost, updated_at = EXCLUDED.updated_at`,
		p.UserID, p.Ticker, p.Quantity, p.AvgCost.String(), p.UpdatedAt,
	)
	return err
}

func (t *pgTx) DeletePosition(ctx context.Context, userID, ticker string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM positions WHERE user_id = $1 AND ticker = $2`, userID, ticker)
	return err
}

func (t *pgTx) AppendPriceHistory(ctx context.Context, points ...model.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`INSERT INTO price_history (ticker, price, recorded_at) VALUES ($1, $2::NUMERIC, $3)`,
			p.Ticker, p.Price.String(), p.RecordedAt)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) InsertTransaction(ctx context.Context, e *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, ticker, side, quantity, price, total, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		e.ID, e.UserID, e.Ticker, string(e.Side), e.Quantity,
		e.Price.String(), e.Total.String(), e.ExecutedAt,
	)
	return err
}

func (t *pgTx) InsertNewsEvent(ctx context.Context, e *model.NewsEvent) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO news_events (id, headline, summary, sector, magnitude, duration, sentiment, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		e.ID, e.Headline, e.Summary, e.Sector, e.Magnitude.String(),
		e.Duration, string(e.Sentiment), e.CreatedAt,
	)
	return err
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstrument(row rowScanner, ticker string) (*model.Instrument, error) {
	var m model.Instrument
	var priceS, changeS, volS string
	err := row.Scan(&m.Ticker, &m.Name, &m.Sector, &m.Description,
		&priceS, &changeS, &m.Volume, &volS,
		&m.Active, &m.LastTradeAt, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: stock %s", apperr.ErrNotFound, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("get instrument %s: %w", ticker, err)
	}
	m.Price, _ = decimal.NewFromString(priceS)
	m.Change, _ = decimal.NewFromString(changeS)
	m.Volatility, _ = decimal.NewFromString(volS)
	return &m, nil
}

func scanInstruments(rows pgx.Rows) ([]model.Instrument, error) {
	var out []model.Instrument
	for rows.Next() {
		m, err := scanInstrument(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanAccount(row rowScanner, userID string) (*model.Account, error) {
	var a model.Account
	var balS string
	err := row.Scan(&a.UserID, &balS, &a.Active, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	a.Balance, _ = decimal.NewFromString(balS)
	return &a, nil
}
