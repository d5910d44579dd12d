package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xliquidity/rebalance-engine/internal/audit"
	"github.com/xliquidity/rebalance-engine/internal/auth"
	"github.com/xliquidity/rebalance-engine/internal/metrics"
	"github.com/xliquidity/rebalance-engine/internal/model"
	"github.com/xliquidity/rebalance-engine/internal/store"
)

// FeeDistribution is the split of one collection.
type FeeDistribution struct {
	Total       decimal.Decimal   `json:"total"`
	Protocol    decimal.Decimal   `json:"protocol"`
	Performance decimal.Decimal   `json:"performance"`
	Owner       decimal.Decimal   `json:"owner"`
	Payouts     []model.FeePayout `json:"payouts"`
}

var bpsDenominator = decimal.NewFromInt(BpsDenominator)

// bpsOf returns floor(amount * bps / 10000).
func bpsOf(amount decimal.Decimal, bps uint16) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(bps))).Div(bpsDenominator).Floor()
}

// SplitFees divides total into protocol and performance cuts, each rounded
// down, and the owner's remainder. The three legs always sum to total.
func SplitFees(total decimal.Decimal, caps model.Caps) FeeDistribution {
	protocol := bpsOf(total, caps.ProtocolFeeBps)
	performance := bpsOf(total, caps.PerformanceFeeBps)
	return FeeDistribution{
		Total:       total,
		Protocol:    protocol,
		Performance: performance,
		Owner:       total.Sub(protocol).Sub(performance),
	}
}

// FeeLedger credits and distributes fees earned by positions.
type FeeLedger struct {
	*core
}

// Accrue credits amount to a position's accrued fees. The caller must hold
// the keeper role.
func (l *FeeLedger) Accrue(ctx context.Context, caller auth.Principal, key model.PositionKey, amount decimal.Decimal) (pos *model.LiquidityPosition, err error) {
	defer l.observe("accrue_fees", time.Now(), &err)

	if err := authError(caller.Require(auth.RoleKeeper)); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	cfg, err := l.config(ctx)
	if err != nil {
		return nil, err
	}

	err = l.store.InTx(ctx, func(tx store.Tx) error {
		p, err := loadPosition(ctx, tx, key)
		if err != nil {
			return err
		}
		p.AccruedFees = p.AccruedFees.Add(amount)
		p.UpdatedAt = l.clock.Now()
		if err := tx.UpdatePosition(ctx, p); err != nil {
			return fmt.Errorf("update position: %w", err)
		}
		pos = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("fees accrued",
		"position", key.String(),
		"amount", amount.String(),
		"accrued", pos.AccruedFees.String(),
	)
	l.emit(ctx, cfg, audit.EventFeesAccrued, caller.ID, &key, nil, map[string]any{
		"amount":  amount.String(),
		"accrued": pos.AccruedFees.String(),
	})
	return pos, nil
}

// CollectFees drains an active position's accrued fees. The protocol and
// performance cuts go to the fee recipient and the remainder to the owner;
// each non-zero leg is written to the payout ledger in the same
// transaction that zeroes the balance.
func (l *FeeLedger) CollectFees(ctx context.Context, caller auth.Principal, key model.PositionKey) (dist *FeeDistribution, err error) {
	defer l.observe("collect_fees", time.Now(), &err)

	if err := authError(caller.RequireIdentity(key.Owner)); err != nil {
		return nil, err
	}
	cfg, err := l.config(ctx)
	if err != nil {
		return nil, err
	}

	err = l.store.InTx(ctx, func(tx store.Tx) error {
		p, err := loadPosition(ctx, tx, key)
		if err != nil {
			return err
		}
		if p.Status != model.PositionActive {
			return fmt.Errorf("%w: %s is %s", ErrPositionNotActive, key, p.Status)
		}
		if !p.AccruedFees.IsPositive() {
			return ErrNoFeesToCollect
		}

		now := l.clock.Now()
		d := SplitFees(p.AccruedFees, cfg.Caps())
		for _, leg := range []struct {
			kind      model.PayoutKind
			recipient string
			amount    decimal.Decimal
		}{
			{model.PayoutProtocol, cfg.FeeRecipient, d.Protocol},
			{model.PayoutPerformance, cfg.FeeRecipient, d.Performance},
			{model.PayoutOwner, p.Owner, d.Owner},
		} {
			if leg.amount.IsZero() {
				continue
			}
			payout := model.FeePayout{
				ID:        uuid.NewString(),
				Position:  key,
				Recipient: leg.recipient,
				Kind:      leg.kind,
				Amount:    leg.amount,
				Timestamp: now,
			}
			if err := tx.InsertPayout(ctx, &payout); err != nil {
				return fmt.Errorf("insert payout: %w", err)
			}
			d.Payouts = append(d.Payouts, payout)
		}

		p.TotalFeesCollected = p.TotalFeesCollected.Add(p.AccruedFees)
		p.AccruedFees = decimal.Zero
		p.UpdatedAt = now
		if err := tx.UpdatePosition(ctx, p); err != nil {
			return fmt.Errorf("update position: %w", err)
		}
		dist = &d
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range dist.Payouts {
		metrics.FeesCollected.WithLabelValues(string(p.Kind)).Add(p.Amount.InexactFloat64())
	}
	l.logger.Info("fees collected",
		"position", key.String(),
		"total", dist.Total.String(),
		"protocol", dist.Protocol.String(),
		"performance", dist.Performance.String(),
		"owner", dist.Owner.String(),
	)
	l.emit(ctx, cfg, audit.EventFeesCollected, caller.ID, &key, nil, map[string]any{
		"total":       dist.Total.String(),
		"protocol":    dist.Protocol.String(),
		"performance": dist.Performance.String(),
		"owner":       dist.Owner.String(),
	})
	return dist, nil
}

// ListPayouts returns the position's payout ledger in chronological order.
func (l *FeeLedger) ListPayouts(ctx context.Context, key model.PositionKey) ([]model.FeePayout, error) {
	return l.store.ListPayouts(ctx, key)
}
