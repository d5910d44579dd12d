package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/xliquidity/rebalance-engine/internal/audit"
	"github.com/xliquidity/rebalance-engine/internal/auth"
	"github.com/xliquidity/rebalance-engine/internal/metrics"
	"github.com/xliquidity/rebalance-engine/internal/model"
	"github.com/xliquidity/rebalance-engine/internal/store"
)

// ExecutionCoordinator applies decisions to their positions.
type ExecutionCoordinator struct {
	*core
}

// Execute applies the decision's range to the position and marks the
// decision executed, in one transaction. Every check runs before the first
// write.
func (x *ExecutionCoordinator) Execute(ctx context.Context, caller auth.Principal, position model.PositionKey, key model.DecisionKey, slippageBps uint16) (pos *model.LiquidityPosition, dec *model.RebalanceDecision, err error) {
	defer x.observe("execute", time.Now(), &err)

	if err := authError(caller.Require()); err != nil {
		return nil, nil, err
	}
	cfg, err := x.config(ctx)
	if err != nil {
		return nil, nil, err
	}

	err = x.store.InTx(ctx, func(tx store.Tx) error {
		d, err := loadDecision(ctx, tx, key)
		if err != nil {
			return err
		}
		if d.Position != position {
			return fmt.Errorf("%w: decision %s does not belong to %s", ErrDecisionPositionMismatch, key, position)
		}
		if d.ExecutionStatus != model.ExecutionPending {
			return fmt.Errorf("%w: %s", ErrInvalidExecutionStatus, d.ExecutionStatus)
		}
		if slippageBps > cfg.MaxSlippageBps {
			return fmt.Errorf("%w: %d > %d bps", ErrSlippageTooHigh, slippageBps, cfg.MaxSlippageBps)
		}
		if d.RequiresApproval && !d.Approved() {
			return fmt.Errorf("%w: tier %s", ErrApprovalRequired, d.RiskTier)
		}
		p, err := loadPosition(ctx, tx, position)
		if err != nil {
			return err
		}

		now := x.clock.Now()
		p.TickLower = d.NewTickLower
		p.TickUpper = d.NewTickUpper
		p.PriceLower = d.NewPriceLower
		p.PriceUpper = d.NewPriceUpper
		p.RebalanceCount++
		p.LastRebalanceTime = now
		p.UpdatedAt = now

		d.ExecutionStatus = model.ExecutionExecuted
		d.ExecutedAt = &now
		d.SlippageBps = ptr(slippageBps)

		if err := tx.UpdatePosition(ctx, p); err != nil {
			return fmt.Errorf("update position: %w", err)
		}
		if err := tx.UpdateDecision(ctx, d); err != nil {
			return fmt.Errorf("update decision: %w", err)
		}
		pos, dec = p, d
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.Executions.WithLabelValues(string(dec.RiskTier)).Inc()
	x.logger.Info("rebalance executed",
		"decision", key.String(),
		"tick_lower", pos.TickLower,
		"tick_upper", pos.TickUpper,
		"rebalance_count", pos.RebalanceCount,
		"slippage_bps", slippageBps,
	)
	x.emit(ctx, cfg, audit.EventRebalanced, caller.ID, &position, ptr(key.Index), map[string]any{
		"tick_lower":      pos.TickLower,
		"tick_upper":      pos.TickUpper,
		"rebalance_count": pos.RebalanceCount,
		"slippage_bps":    slippageBps,
	})
	return pos, dec, nil
}
