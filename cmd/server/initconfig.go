package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xliquidity/rebalance-engine/internal/audit"
	"github.com/xliquidity/rebalance-engine/internal/engine"
)

func runInitConfig(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	authority, _ := cmd.Flags().GetString("authority")
	if authority == "" {
		return errors.New("authority is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	eng := engine.New(engine.Options{
		Store:  st,
		Audit:  audit.NewLogSink(logger),
		Logger: logger,
	})
	if err := initProtocol(ctx, eng, cfg, authority, false); err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	stored, err := eng.Protocol.Get(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "protocol config initialized: authority=%s fee_recipient=%s protocol_fee_bps=%d performance_fee_bps=%d\n",
		stored.Authority, stored.FeeRecipient, stored.ProtocolFeeBps, stored.PerformanceFeeBps)
	return nil
}
