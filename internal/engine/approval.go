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

// ApprovalGate records human sign-off on high and critical decisions.
type ApprovalGate struct {
	*core
}

// Approve marks a pending high or critical decision as approved by the
// caller. A decision can be approved once; later calls fail
// ErrAlreadyApproved and keep the first approver.
func (g *ApprovalGate) Approve(ctx context.Context, caller auth.Principal, key model.DecisionKey) (dec *model.RebalanceDecision, err error) {
	defer g.observe("approve", time.Now(), &err)

	if err := authError(caller.Require(auth.RoleApprover)); err != nil {
		return nil, err
	}
	cfg, err := g.config(ctx)
	if err != nil {
		return nil, err
	}

	err = g.store.InTx(ctx, func(tx store.Tx) error {
		d, err := loadDecision(ctx, tx, key)
		if err != nil {
			return err
		}
		if !d.RequiresApproval {
			return fmt.Errorf("%w: tier %s", ErrApprovalNotRequired, d.RiskTier)
		}
		if d.ExecutionStatus != model.ExecutionPending {
			return fmt.Errorf("%w: %s", ErrInvalidExecutionStatus, d.ExecutionStatus)
		}
		if d.Approved() {
			return fmt.Errorf("%w: by %s", ErrAlreadyApproved, *d.HumanApprover)
		}
		if !cfg.ApproverMayBeOwner && caller.ID == key.Position.Owner {
			return fmt.Errorf("%w: approver must differ from position owner", ErrUnauthorized)
		}

		now := g.clock.Now()
		d.HumanApprover = ptr(caller.ID)
		d.ApprovalTimestamp = &now
		if err := tx.UpdateDecision(ctx, d); err != nil {
			return fmt.Errorf("update decision: %w", err)
		}
		dec = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Approvals.WithLabelValues(string(dec.RiskTier)).Inc()
	g.logger.Info("decision approved",
		"decision", key.String(),
		"approver", caller.ID,
		"risk_tier", dec.RiskTier,
	)
	pos := key.Position
	g.emit(ctx, cfg, audit.EventHumanApprovalGranted, caller.ID, &pos, ptr(key.Index), map[string]any{
		"approver":  caller.ID,
		"risk_tier": dec.RiskTier,
	})
	return dec, nil
}
