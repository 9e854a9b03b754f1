package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aspire/market-engine/internal/catalog"
	"github.com/aspire/market-engine/internal/config"
	"github.com/aspire/market-engine/internal/identity"
	"github.com/aspire/market-engine/internal/logger"
	"github.com/aspire/market-engine/internal/metrics"
	"github.com/aspire/market-engine/internal/news"
	"github.com/aspire/market-engine/internal/ratelimit"
	"github.com/aspire/market-engine/internal/simulator"
	"github.com/aspire/market-engine/internal/store"
	"github.com/aspire/market-engine/internal/stream"
	"github.com/aspire/market-engine/internal/trade"
)

func main() {
	configPath := flag.String("config", os.Getenv("MARKET_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("market-engine failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Redis (cache + event bus) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		var err error
		rdb, err = store.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	// --- Store ---
	st, err := store.Open(ctx, store.Options{
		Driver:   cfg.Database.Driver,
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
		CacheTTL: cfg.Redis.CacheTTL,
	}, rdb, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// --- Event fan-out ---
	hub := stream.NewHub(log)
	var bus stream.Bus
	if rdb != nil {
		bus = stream.NewRedisBus(rdb)
		log.Info("Redis event bus enabled")
	}
	bridge := stream.NewBridge(hub, bus, log, stream.WithQueueSize(cfg.Stream.QueueSize))
	ws := stream.NewServer(hub, stream.ServerOptions{
		SendBuffer:   cfg.Stream.SendBuffer,
		PingInterval: cfg.Stream.PingInterval,
		PongWait:     cfg.Stream.PongWait,
	}, log)

	// --- Domain services ---
	tradeSvc := trade.NewService(st, bridge, log)
	newsSvc := news.NewProcessor(st, bridge, log)
	catalogSvc := catalog.NewService(st, log)

	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Info("background worker stopped", zap.String("worker", name))
		}()
	}
	background("bridge", bridge.Run)
	if cfg.Simulator.Enabled {
		sim := simulator.New(st, bridge, log, cfg.Simulator.Interval)
		background("simulator", sim.Run)
	}
	retention := simulator.NewRetention(st, log, cfg.Retention.Interval, cfg.Retention.Horizon)
	background("retention", retention.Run)

	// --- HTTP router ---
	limiter := ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-User-Role")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"market-engine","clients":%d}`, hub.Len())
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", ws.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(limiter.Middleware)

			// Market catalog.
			r.Get("/stocks", catalogSvc.HandleList)
			r.Get("/stocks/{ticker}", catalogSvc.HandleGet)
			r.Get("/stocks/{ticker}/history", catalogSvc.HandleHistory)
			r.Get("/leaderboard", catalogSvc.HandleLeaderboard)

			r.Group(func(r chi.Router) {
				r.Use(identity.Middleware)

				// Trade execution and portfolio queries.
				r.Post("/trades", tradeSvc.HandleTrade)
				r.Get("/trades", tradeSvc.HandleTransactions)
				r.Get("/portfolio", tradeSvc.HandlePortfolio)

				r.Route("/admin", func(r chi.Router) {
					r.Use(identity.RequireAdmin)
					r.Post("/stocks", catalogSvc.HandleCreateInstrument)
					r.Put("/stocks/{ticker}", catalogSvc.HandleUpdateInstrument)
					r.Post("/accounts", catalogSvc.HandleCreateAccount)
					r.Delete("/accounts/{userId}", catalogSvc.HandleDeactivateAccount)
					r.Post("/events", newsSvc.HandleCreate)
				})
			})
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("market-engine listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down market-engine...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	hub.CloseAll()
	wg.Wait()
	log.Info("market-engine stopped")
	return nil
}

// requestLogger logs one line per request with zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
