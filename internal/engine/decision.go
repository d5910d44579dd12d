package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/xliquidity/rebalance-engine/internal/audit"
	"github.com/xliquidity/rebalance-engine/internal/auth"
	"github.com/xliquidity/rebalance-engine/internal/metrics"
	"github.com/xliquidity/rebalance-engine/internal/model"
	"github.com/xliquidity/rebalance-engine/internal/modelref"
	"github.com/xliquidity/rebalance-engine/internal/risk"
	"github.com/xliquidity/rebalance-engine/internal/store"
)

// DecisionParams describe a model proposal against a position.
type DecisionParams struct {
	Position model.PositionKey
	Index    uint32

	NewTickLower  int32
	NewTickUpper  int32
	NewPriceLower decimal.Decimal
	NewPriceUpper decimal.Decimal

	ModelVersion string
	ModelHash    common.Hash
	Scores       risk.Scores
	Reason       string
}

// DecisionEngine creates rebalance proposals and fixes their risk tier.
type DecisionEngine struct {
	*core
}

// throttled reports whether a proposal at now falls inside the minimum
// interval since the position's last rebalance or proposal.
func throttled(p *model.LiquidityPosition, now time.Time) bool {
	last := p.LastRebalanceTime
	if p.LastProposalTime.After(last) {
		last = p.LastProposalTime
	}
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < p.MinRebalanceInterval
}

// CreateDecision records a pending proposal. The caller must hold the payer
// role and the position must be active and outside its throttle window.
func (e *DecisionEngine) CreateDecision(ctx context.Context, caller auth.Principal, params DecisionParams) (dec *model.RebalanceDecision, err error) {
	defer e.observe("create_decision", time.Now(), &err)

	if err := authError(caller.Require(auth.RolePayer)); err != nil {
		return nil, err
	}
	if err := checkRange(params.NewTickLower, params.NewTickUpper, params.NewPriceLower, params.NewPriceUpper); err != nil {
		return nil, err
	}
	if err := params.Scores.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScoreOutOfRange, err)
	}
	version, err := modelref.ParseVersion(params.ModelVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelVersion, err)
	}
	cfg, err := e.config(ctx)
	if err != nil {
		return nil, err
	}

	tier := risk.Assess(params.Scores)
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		pos, err := loadPosition(ctx, tx, params.Position)
		if err != nil {
			return err
		}
		if pos.Status != model.PositionActive {
			return fmt.Errorf("%w: %s is %s", ErrReferencedPositionMissing, params.Position, pos.Status)
		}
		now := e.clock.Now()
		if throttled(pos, now) {
			return fmt.Errorf("%w: minimum interval %s", ErrRebalanceTooFrequent, pos.MinRebalanceInterval)
		}

		dec = &model.RebalanceDecision{
			Position:         params.Position,
			Index:            params.Index,
			NewTickLower:     params.NewTickLower,
			NewTickUpper:     params.NewTickUpper,
			NewPriceLower:    params.NewPriceLower,
			NewPriceUpper:    params.NewPriceUpper,
			ModelVersion:     params.ModelVersion,
			ModelHash:        params.ModelHash,
			Confidence:       params.Scores.Confidence,
			Sentiment:        params.Scores.Sentiment,
			Volatility:       params.Scores.Volatility,
			WhaleActivity:    params.Scores.WhaleActivity,
			Reason:           params.Reason,
			RiskTier:         tier,
			RequiresApproval: tier.RequiresApproval(),
			ExecutionStatus:  model.ExecutionPending,
			CreatedAt:        now,
		}
		if err := tx.InsertDecision(ctx, dec); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return fmt.Errorf("%w: %s", ErrDecisionAlreadyExists, dec.Key())
			}
			return fmt.Errorf("insert decision: %w", err)
		}

		pos.LastProposalTime = now
		pos.UpdatedAt = now
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return fmt.Errorf("update position: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DecisionsCreated.WithLabelValues(string(tier)).Inc()
	e.logger.Info("decision created",
		"decision", dec.Key().String(),
		"model_version", dec.ModelVersion,
		"model_semver", version.Semantic,
		"confidence", dec.Confidence,
		"volatility", dec.Volatility,
		"risk_tier", dec.RiskTier,
	)
	key := dec.Position
	e.emit(ctx, cfg, audit.EventDecisionCreated, caller.ID, &key, ptr(dec.Index), map[string]any{
		"model_version": dec.ModelVersion,
		"model_hash":    dec.ModelHash.Hex(),
		"risk_tier":     dec.RiskTier,
		"reason":        dec.Reason,
	})
	if dec.RequiresApproval {
		e.emit(ctx, cfg, audit.EventHumanApprovalRequired, caller.ID, &key, ptr(dec.Index), map[string]any{
			"risk_tier": dec.RiskTier,
		})
	}
	return dec, nil
}

// GetDecision returns a committed snapshot of a decision.
func (e *DecisionEngine) GetDecision(ctx context.Context, key model.DecisionKey) (*model.RebalanceDecision, error) {
	d, err := e.store.GetDecision(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDecisionNotFound, key)
	}
	return d, err
}

// ListDecisions returns the position's decisions ordered by index.
func (e *DecisionEngine) ListDecisions(ctx context.Context, position model.PositionKey) ([]model.RebalanceDecision, error) {
	return e.store.ListDecisions(ctx, position)
}
