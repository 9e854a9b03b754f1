package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options selects and tunes the backing store.
type Options struct {
	Driver   string // postgres, sqlite or memory
	URL      string
	MaxConns int32
	MinConns int32
	CacheTTL time.Duration
}

// Migrator is implemented by stores that manage their own schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Open builds the store described by opts. When rdb is non-nil the result
// is wrapped in a CachedStore.
func Open(ctx context.Context, opts Options, rdb *redis.Client, log *zap.Logger) (Store, error) {
	var st Store
	switch opts.Driver {
	case "postgres":
		pool, err := NewPool(ctx, opts)
		if err != nil {
			return nil, err
		}
		pg := NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("connected to PostgreSQL", zap.Int32("max_conns", opts.MaxConns))
		st = pg
	case "sqlite":
		sq, err := NewSQLiteStore(opts.URL)
		if err != nil {
			return nil, err
		}
		log.Info("opened SQLite database", zap.String("dsn", opts.URL))
		st = sq
	case "memory", "":
		log.Warn("using in-memory store (data will not persist)")
		st = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}

	if rdb != nil {
		log.Info("Redis cache enabled", zap.Duration("ttl", opts.CacheTTL))
		st = NewCachedStore(st, rdb, opts.CacheTTL)
	}
	return st, nil
}

// NewPool opens a tuned pgx pool and verifies connectivity.
func NewPool(ctx context.Context, opts Options) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	poolConfig.MinConns = opts.MinConns
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return pool, nil
}

// NewRedisClient parses url, tunes the client and pings it.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}
