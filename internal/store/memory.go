package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aspire/market-engine/internal/apperr"
	"github.com/aspire/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// InTx holds the write lock for the whole unit and works on copies of the
// maps, so a failed unit is discarded by simply not swapping them in.
type MemoryStore struct {
	mu          sync.RWMutex
	instruments map[string]model.Instrument
	accounts    map[string]model.Account
	positions   map[positionKey]model.Position
	history     []model.PricePoint
	txns        []model.Transaction
	events      []model.NewsEvent
	nextPointID int64
}

type positionKey struct {
	userID string
	ticker string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instruments: make(map[string]model.Instrument),
		accounts:    make(map[string]model.Account),
		positions:   make(map[positionKey]model.Position),
	}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		instruments: maps.Clone(s.instruments),
		accounts:    maps.Clone(s.accounts),
		positions:   maps.Clone(s.positions),
		nextPointID: s.nextPointID,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.instruments = tx.instruments
	s.accounts = tx.accounts
	s.positions = tx.positions
	s.history = append(s.history, tx.history...)
	s.txns = append(s.txns, tx.txns...)
	s.events = append(s.events, tx.events...)
	s.nextPointID = tx.nextPointID
	return nil
}

func (s *MemoryStore) CreateInstrument(_ context.Context, inst *model.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instruments[inst.Ticker]; exists {
		return fmt.Errorf("instrument %s already exists", inst.Ticker)
	}
	s.instruments[inst.Ticker] = *inst
	return nil
}

func (s *MemoryStore) GetInstrument(_ context.Context, ticker string) (*model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instruments[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: stock %s", apperr.ErrNotFound, ticker)
	}
	return &inst, nil
}

func (s *MemoryStore) ListInstruments(_ context.Context, active bool) ([]model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Instrument, 0, len(s.instruments))
	for _, inst := range s.instruments {
		if inst.Active == active {
			out = append(out, inst)
		}
	}
	sortInstruments(out)
	return out, nil
}

func (s *MemoryStore) GetPriceHistory(_ context.Context, ticker string, since time.Time) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PricePoint
	for _, p := range s.history {
		if p.Ticker == ticker && p.RecordedAt.After(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) PrunePriceHistory(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.history[:0]
	var removed int64
	for _, p := range s.history {
		if p.RecordedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	s.history = kept
	return removed, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acct.UserID]; exists {
		return fmt.Errorf("account for user %s already exists", acct.UserID)
	}
	s.accounts[acct.UserID] = *acct
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	return &acct, nil
}

func (s *MemoryStore) TopAccounts(_ context.Context, limit int) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		if acct.Active {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Balance.Cmp(out[j].Balance); c != 0 {
			return c > 0
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for k, p := range s.positions {
		if k.userID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (s *MemoryStore) GetTransactionsByUser(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transaction
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].UserID != userID {
			continue
		}
		out = append(out, s.txns[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// NewsEvents returns every recorded news event. Test helper.
func (s *MemoryStore) NewsEvents() []model.NewsEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.NewsEvent(nil), s.events...)
}

// HistoryLen returns the number of stored price points. Test helper.
func (s *MemoryStore) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

func (s *MemoryStore) Close() error { return nil }

// memTx operates on private copies owned by one InTx call.
type memTx struct {
	instruments map[string]model.Instrument
	accounts    map[string]model.Account
	positions   map[positionKey]model.Position
	history     []model.PricePoint
	txns        []model.Transaction
	events      []model.NewsEvent
	nextPointID int64
}

func (t *memTx) GetInstrument(_ context.Context, ticker string) (*model.Instrument, error) {
	inst, ok := t.instruments[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: stock %s", apperr.ErrNotFound, ticker)
	}
	return &inst, nil
}

func (t *memTx) ListActiveInstruments(_ context.Context, sector string) ([]model.Instrument, error) {
	var out []model.Instrument
	for _, inst := range t.instruments {
		if !inst.Active || (sector != "" && inst.Sector != sector) {
			continue
		}
		out = append(out, inst)
	}
	sortInstruments(out)
	return out, nil
}

func (t *memTx) UpdateInstrument(_ context.Context, inst *model.Instrument) error {
	cur, ok := t.instruments[inst.Ticker]
	if !ok {
		return fmt.Errorf("%w: stock %s", apperr.ErrNotFound, inst.Ticker)
	}
	cur.Price = inst.Price
	cur.Change = inst.Change
	cur.Volume = inst.Volume
	cur.LastTradeAt = inst.LastTradeAt
	t.instruments[inst.Ticker] = cur
	return nil
}

func (t *memTx) UpdateListing(_ context.Context, inst *model.Instrument) error {
	cur, ok := t.instruments[inst.Ticker]
	if !ok {
		return fmt.Errorf("%w: stock %s", apperr.ErrNotFound, inst.Ticker)
	}
	cur.Name = inst.Name
	cur.Description = inst.Description
	cur.Volatility = inst.Volatility
	cur.Active = inst.Active
	t.instruments[inst.Ticker] = cur
	return nil
}

func (t *memTx) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	acct, ok := t.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	return &acct, nil
}

func (t *memTx) SetBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	acct, ok := t.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	acct.Balance = balance
	t.accounts[userID] = acct
	return nil
}

func (t *memTx) SetAccountActive(_ context.Context, userID string, active bool) error {
	acct, ok := t.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	acct.Active = active
	t.accounts[userID] = acct
	return nil
}

func (t *memTx) GetPosition(_ context.Context, userID, ticker string) (*model.Position, error) {
	pos, ok := t.positions[positionKey{userID, ticker}]
	if !ok {
		return nil, nil
	}
	return &pos, nil
}

func (t *memTx) SavePosition(_ context.Context, pos *model.Position) error {
	t.positions[positionKey{pos.UserID, pos.Ticker}] = *pos
	return nil
}

func (t *memTx) DeletePosition(_ context.Context, userID, ticker string) error {
	delete(t.positions, positionKey{userID, ticker})
	return nil
}

func (t *memTx) AppendPriceHistory(_ context.Context, points ...model.PricePoint) error {
	for _, p := range points {
		t.nextPointID++
		p.ID = t.nextPointID
		t.history = append(t.history, p)
	}
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn *model.Transaction) error {
	t.txns = append(t.txns, *txn)
	return nil
}

func (t *memTx) InsertNewsEvent(_ context.Context, e *model.NewsEvent) error {
	t.events = append(t.events, *e)
	return nil
}

func sortInstruments(list []model.Instrument) {
	sort.Slice(list, func(i, j int) bool { return list[i].Ticker < list[j].Ticker })
}
