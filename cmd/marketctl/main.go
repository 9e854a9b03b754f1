package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aspire/market-engine/internal/catalog"
	"github.com/aspire/market-engine/internal/config"
	"github.com/aspire/market-engine/internal/logger"
	"github.com/aspire/market-engine/internal/news"
	"github.com/aspire/market-engine/internal/simulator"
	"github.com/aspire/market-engine/internal/store"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "marketctl",
		Short:        "Operator tool for the market engine",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MARKET_CONFIG"), "path to a YAML config file")

	// migrate
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), configPath, func(st store.Store, log *zap.Logger) error {
				m, ok := st.(store.Migrator)
				if !ok {
					fmt.Println("store has no schema to migrate")
					return nil
				}
				if err := m.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("schema up to date")
				return nil
			})
		},
	}

	// seed
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "List the starter instruments and optionally provision an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("account")
			balance, _ := cmd.Flags().GetString("balance")
			return withStore(cmd.Context(), configPath, func(st store.Store, log *zap.Logger) error {
				svc := catalog.NewService(st, log)
				n, err := svc.Seed(cmd.Context(), catalog.DefaultListings)
				if err != nil {
					return err
				}
				fmt.Printf("listed %d of %d instruments\n", n, len(catalog.DefaultListings))

				if user == "" {
					return nil
				}
				amount, err := decimal.NewFromString(balance)
				if err != nil {
					return fmt.Errorf("invalid balance %q: %w", balance, err)
				}
				acct, err := svc.CreateAccount(cmd.Context(), catalog.CreateAccountRequest{UserID: user, Balance: amount})
				if err != nil {
					return err
				}
				fmt.Printf("provisioned %s with %s\n", acct.UserID, acct.Balance.StringFixed(2))
				return nil
			})
		},
	}
	seedCmd.Flags().StringP("account", "a", "", "user id to provision")
	seedCmd.Flags().StringP("balance", "b", "10000", "starting balance for --account")

	// prune
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete price history older than the retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			horizon, _ := cmd.Flags().GetDuration("horizon")
			return withStore(cmd.Context(), configPath, func(st store.Store, log *zap.Logger) error {
				n, err := simulator.NewRetention(st, log, time.Hour, horizon).Prune(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("pruned %d price points\n", n)
				return nil
			})
		},
	}
	pruneCmd.Flags().Duration("horizon", 24*time.Hour, "keep points newer than this")

	// shock
	shockCmd := &cobra.Command{
		Use:   "shock [sector] [magnitude]",
		Short: "Publish a news event through the admin API",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _ := cmd.Flags().GetString("api")
			admin, _ := cmd.Flags().GetString("admin")
			headline, _ := cmd.Flags().GetString("headline")
			summary, _ := cmd.Flags().GetString("summary")
			duration, _ := cmd.Flags().GetInt("duration")
			sentiment, _ := cmd.Flags().GetString("sentiment")

			magnitude, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid magnitude %q: %w", args[1], err)
			}
			if sentiment == "" {
				sentiment = sentimentOf(magnitude)
			}
			sector := strings.ToUpper(args[0])

			client := newAdminClient(api, admin, 10*time.Second)
			before, err := client.Stocks(cmd.Context())
			if err != nil {
				return err
			}
			res, err := client.CreateEvent(cmd.Context(), news.EventRequest{
				Headline:  headline,
				Summary:   summary,
				Sector:    sector,
				Magnitude: &magnitude,
				Duration:  duration,
				Sentiment: sentiment,
			})
			if err != nil {
				return err
			}
			after, err := client.Stocks(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("event %s affected %d instruments; %s sector total %s -> %s\n",
				res.EventID, res.AffectedCount, sector,
				sectorTotal(before, sector).StringFixed(2), sectorTotal(after, sector).StringFixed(2))
			return nil
		},
	}
	shockCmd.Flags().String("api", "http://localhost:8080", "market engine base URL")
	shockCmd.Flags().String("admin", "marketctl", "admin user id sent in X-User-ID")
	shockCmd.Flags().String("headline", "Market moving announcement", "event headline")
	shockCmd.Flags().String("summary", "Operator-issued sector adjustment.", "event summary")
	shockCmd.Flags().Int("duration", 1, "event duration")
	shockCmd.Flags().String("sentiment", "", "POSITIVE, NEGATIVE or NEUTRAL (derived from magnitude when empty)")

	rootCmd.AddCommand(migrateCmd, seedCmd, pruneCmd, shockCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// withStore loads configuration, opens the configured store without the
// cache layer and runs fn against it.
func withStore(ctx context.Context, configPath string, fn func(store.Store, *zap.Logger) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging.Level, "console")
	if err != nil {
		return err
	}
	defer log.Sync()

	// Writes go through the same cache as the server so its keys are dropped.
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = store.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

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
	return fn(st, log)
}

func sentimentOf(m decimal.Decimal) string {
	switch m.Sign() {
	case 1:
		return "POSITIVE"
	case -1:
		return "NEGATIVE"
	}
	return "NEUTRAL"
}
