package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/aspire/market-engine/internal/metrics"
	"github.com/aspire/market-engine/internal/model"
)

// DefaultInvalidationSettle is how long after a commit the touched keys
// are dropped a second time.
const DefaultInvalidationSettle = 500 * time.Millisecond

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and invalidate the cache once the unit
// has committed; reads check Redis first then fall back to the primary.
//
// A read that loaded the old row before the commit can still SET it after
// the first delete, so every invalidation is repeated once after settle.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	settle  time.Duration
	del     func(ctx context.Context, keys ...string)
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	s := &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		settle:  DefaultInvalidationSettle,
	}
	s.del = func(ctx context.Context, keys ...string) {
		s.rdb.Del(ctx, keys...)
	}
	return s
}

// InTx runs fn against the primary store and drops every cache key the
// unit touched after a successful commit. A rolled-back unit leaves the
// cache alone since nothing changed.
func (s *CachedStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	ct := &cachedTx{
		tickers: make(map[string]struct{}),
		users:   make(map[string]struct{}),
	}
	err := s.primary.InTx(ctx, func(tx Tx) error {
		ct.Tx = tx
		return fn(ct)
	})
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ct.tickers)+len(ct.users)+2)
	for t := range ct.tickers {
		keys = append(keys, instrumentKey(t))
	}
	if len(ct.tickers) > 0 {
		keys = append(keys, instrumentListKey(true), instrumentListKey(false))
	}
	for u := range ct.users {
		keys = append(keys, positionsKey(u), accountKey(u))
	}
	s.invalidate(ctx, keys...)
	return nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateInstrument(ctx context.Context, inst *model.Instrument) error {
	if err := s.primary.CreateInstrument(ctx, inst); err != nil {
		return err
	}
	s.invalidate(ctx, instrumentKey(inst.Ticker), instrumentListKey(true), instrumentListKey(false))
	return nil
}

func (s *CachedStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	if err := s.primary.CreateAccount(ctx, acct); err != nil {
		return err
	}
	s.invalidate(ctx, accountKey(acct.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error) {
	var inst model.Instrument
	if s.load(ctx, "instrument", instrumentKey(ticker), &inst) {
		return &inst, nil
	}
	got, err := s.primary.GetInstrument(ctx, ticker)
	if err != nil {
		return nil, err
	}
	s.save(ctx, instrumentKey(ticker), got)
	return got, nil
}

func (s *CachedStore) ListInstruments(ctx context.Context, active bool) ([]model.Instrument, error) {
	var list []model.Instrument
	if s.load(ctx, "instrument_list", instrumentListKey(active), &list) {
		return list, nil
	}
	list, err := s.primary.ListInstruments(ctx, active)
	if err != nil {
		return nil, err
	}
	s.save(ctx, instrumentListKey(active), list)
	return list, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var acct model.Account
	if s.load(ctx, "account", accountKey(userID), &acct) {
		return &acct, nil
	}
	got, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.save(ctx, accountKey(userID), got)
	return got, nil
}

func (s *CachedStore) GetPositions(ctx context.Context, userID string) ([]model.Position, error) {
	var positions []model.Position
	if s.load(ctx, "positions", positionsKey(userID), &positions) {
		return positions, nil
	}
	positions, err := s.primary.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.save(ctx, positionsKey(userID), positions)
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPriceHistory(ctx context.Context, ticker string, since time.Time) ([]model.PricePoint, error) {
	return s.primary.GetPriceHistory(ctx, ticker, since)
}

func (s *CachedStore) PrunePriceHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.primary.PrunePriceHistory(ctx, cutoff)
}

func (s *CachedStore) GetTransactionsByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return s.primary.GetTransactionsByUser(ctx, userID, limit)
}

// Close closes the primary store. The Redis client is owned by the caller.
// Migrate forwards to the primary store when it manages a schema.
func (s *CachedStore) Migrate(ctx context.Context) error {
	if m, ok := s.primary.(Migrator); ok {
		return m.Migrate(ctx)
	}
	return nil
}

func (s *CachedStore) TopAccounts(ctx context.Context, limit int) ([]model.Account, error) {
	return s.primary.TopAccounts(ctx, limit)
}

func (s *CachedStore) Close() error {
	return s.primary.Close()
}

// --- Cache helpers ---

func (s *CachedStore) load(ctx context.Context, entity, key string, dest any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil && json.Unmarshal(data, dest) == nil {
		metrics.CacheRequests.WithLabelValues(entity, "hit").Inc()
		return true
	}
	metrics.CacheRequests.WithLabelValues(entity, "miss").Inc()
	return false
}

func (s *CachedStore) save(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	s.del(ctx, keys...)
	if s.settle <= 0 {
		return
	}
	time.AfterFunc(s.settle, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.del(ctx, keys...)
	})
}

// cachedTx forwards to the primary Tx and remembers which instruments and
// users were written so their keys can be dropped after commit.
type cachedTx struct {
	Tx
	tickers map[string]struct{}
	users   map[string]struct{}
}

func (t *cachedTx) UpdateInstrument(ctx context.Context, inst *model.Instrument) error {
	t.tickers[inst.Ticker] = struct{}{}
	return t.Tx.UpdateInstrument(ctx, inst)
}

func (t *cachedTx) UpdateListing(ctx context.Context, inst *model.Instrument) error {
	t.tickers[inst.Ticker] = struct{}{}
	return t.Tx.UpdateListing(ctx, inst)
}

func (t *cachedTx) SetAccountActive(ctx context.Context, userID string, active bool) error {
	t.users[userID] = struct{}{}
	return t.Tx.SetAccountActive(ctx, userID, active)
}

func (t *cachedTx) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	t.users[userID] = struct{}{}
	return t.Tx.SetBalance(ctx, userID, balance)
}

func (t *cachedTx) SavePosition(ctx context.Context, pos *model.Position) error {
	t.users[pos.UserID] = struct{}{}
	return t.Tx.SavePosition(ctx, pos)
}

func (t *cachedTx) DeletePosition(ctx context.Context, userID, ticker string) error {
	t.users[userID] = struct{}{}
	return t.Tx.DeletePosition(ctx, userID, ticker)
}

func instrumentKey(ticker string) string { return fmt.Sprintf("instrument:%s", ticker) }
func accountKey(uid string) string       { return fmt.Sprintf("account:%s", uid) }
func positionsKey(uid string) string     { return fmt.Sprintf("positions:%s", uid) }

func instrumentListKey(active bool) string {
	if active {
		return "instruments:active"
	}
	return "instruments:inactive"
}
