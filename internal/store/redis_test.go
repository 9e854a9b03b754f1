package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspire/market-engine/internal/model"
)

// deadRedis points at a closed port so cache reads miss and writes fail fast.
func deadRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

type delRecorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *delRecorder) record(_ context.Context, keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), keys...))
}

func (r *delRecorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func TestCachedStore_InvalidatesTwiceAfterCommit(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	require.NoError(t, primary.CreateAccount(ctx, &model.Account{
		UserID: "u1", Balance: decimal.NewFromInt(1000), Active: true, CreatedAt: time.Now().UTC(),
	}))

	cs := NewCachedStore(primary, deadRedis(t), time.Minute)
	cs.settle = 20 * time.Millisecond
	rec := &delRecorder{}
	cs.del = rec.record

	require.NoError(t, cs.InTx(ctx, func(tx Tx) error {
		return tx.SetBalance(ctx, "u1", decimal.NewFromInt(750))
	}))

	first := rec.snapshot()
	require.Len(t, first, 1)
	assert.ElementsMatch(t, []string{accountKey("u1"), positionsKey("u1")}, first[0])

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, first[0], rec.snapshot()[1])

	acct, err := cs.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(750)))
}

func TestCachedStore_RollbackLeavesCacheAlone(t *testing.T) {
	ctx := context.Background()
	cs := NewCachedStore(NewMemoryStore(), deadRedis(t), time.Minute)
	cs.settle = 10 * time.Millisecond
	rec := &delRecorder{}
	cs.del = rec.record

	err := cs.InTx(ctx, func(tx Tx) error {
		return tx.SetBalance(ctx, "ghost", decimal.NewFromInt(1))
	})
	require.Error(t, err)

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}
