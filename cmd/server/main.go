package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xliquidity/rebalance-engine/internal/auth"
	"github.com/xliquidity/rebalance-engine/internal/config"
	"github.com/xliquidity/rebalance-engine/internal/engine"
	"github.com/xliquidity/rebalance-engine/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:          "rebalancer",
		Short:        "Rebalance decision and execution engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("database-url", "", "PostgreSQL URL (empty uses the in-memory store)")
	root.PersistentFlags().String("redis-url", "", "Redis URL for the read-through cache")
	root.PersistentFlags().Duration("cache-ttl", 30*time.Second, "Redis cache TTL")
	root.PersistentFlags().Bool("migrate", true, "apply the PostgreSQL schema on start")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}

	serveCmd.Flags().String("port", "8080", "HTTP listen port")
	serveCmd.Flags().String("audit-file", "", "rotating JSONL audit file (empty disables)")
	serveCmd.Flags().Bool("require-payment", false, "gate paid reads on X-Payment-Amount >= min_payment")
	serveCmd.Flags().Duration("shutdown-timeout", 5*time.Second, "graceful shutdown timeout")
	serveCmd.Flags().String("bootstrap-authority", "", "initialize the protocol config on start with this authority, if absent")
	addProtocolFlags(serveCmd)

	root.AddCommand(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init-config",
		Short: "Initialize the protocol config once",
		RunE:  runInitConfig,
	}

	initCmd.Flags().String("authority", "", "authority principal ID (required)")
	addProtocolFlags(initCmd)

	root.AddCommand(initCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addProtocolFlags(cmd *cobra.Command) {
	cmd.Flags().String("fee-recipient", "", "fee recipient (defaults to the authority)")
	cmd.Flags().Uint16("protocol-fee-bps", 100, "protocol fee in basis points")
	cmd.Flags().Uint16("performance-fee-bps", 1000, "performance fee in basis points")
	cmd.Flags().String("min-payment", "0", "minimum external payment for paid reads")
	cmd.Flags().String("global-position-cap", engine.DefaultGlobalPositionCap.String(), "maximum declared position size")
	cmd.Flags().String("global-trade-cap", engine.DefaultGlobalTradeCap.String(), "maximum declared single trade size")
	cmd.Flags().Duration("min-rebalance-interval", engine.DefaultMinRebalanceInterval, "minimum interval between proposals on a position")
	cmd.Flags().Uint16("max-slippage-bps", engine.DefaultMaxSlippageBps, "slippage ceiling in basis points")
	cmd.Flags().Bool("audit-log-enabled", true, "emit audit events")
	cmd.Flags().Bool("approver-may-be-owner", true, "allow a position owner to approve its own decisions")
}

func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	lvl, err := cfg.Level()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openStore connects the configured store. The returned cleanup closes
// every connection it opened.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		slog.Warn("database-url not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	slog.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid redis-url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}
	return st, closeAll, nil
}

func principal(id string) auth.Principal {
	return auth.Principal{ID: id}
}

// initProtocol initializes the protocol config as authority. When
// tolerateExisting is set an existing config is not an error.
func initProtocol(ctx context.Context, eng *engine.Engine, cfg config.Config, authority string, tolerateExisting bool) error {
	params, err := cfg.Protocol.ProtocolParams()
	if err != nil {
		return err
	}
	_, err = eng.Protocol.Init(ctx, principal(authority), params)
	if tolerateExisting && errors.Is(err, engine.ErrConfigAlreadyExists) {
		slog.Info("protocol config already initialized")
		return nil
	}
	return err
}
