package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xliquidity/rebalance-engine/internal/audit"
	"github.com/xliquidity/rebalance-engine/internal/auth"
	"github.com/xliquidity/rebalance-engine/internal/limits"
	"github.com/xliquidity/rebalance-engine/internal/metrics"
	"github.com/xliquidity/rebalance-engine/internal/model"
	"github.com/xliquidity/rebalance-engine/internal/store"
)

// DefaultDex is recorded when a position does not name its venue.
const DefaultDex = "raydium"

// PositionParams describe a new position.
type PositionParams struct {
	Owner  string
	Index  uint8
	TokenA string
	TokenB string
	VaultA string
	VaultB string
	Pool   string
	Dex    string

	TickLower  int32
	TickUpper  int32
	PriceLower decimal.Decimal
	PriceUpper decimal.Decimal

	MaxPositionSize decimal.Decimal
	MaxSingleTrade  decimal.Decimal
}

// SettingsUpdate changes owner-controlled position settings. Nil fields
// are left as they are.
type SettingsUpdate struct {
	Status        *model.PositionStatus
	AutoRebalance *bool
}

// PositionRegistry creates positions and enforces ownership and size caps.
type PositionRegistry struct {
	*core
}

// checkRange rejects tick or price bounds that are not strictly ordered.
func checkRange(tickLower, tickUpper int32, priceLower, priceUpper decimal.Decimal) error {
	if tickLower >= tickUpper {
		return fmt.Errorf("%w: tick_lower %d >= tick_upper %d", ErrInvalidPriceRange, tickLower, tickUpper)
	}
	if !priceLower.LessThan(priceUpper) {
		return fmt.Errorf("%w: price_lower %s >= price_upper %s", ErrInvalidPriceRange, priceLower, priceUpper)
	}
	return nil
}

func checkSizes(cfg *model.ProtocolConfig, positionSize, singleTrade decimal.Decimal) error {
	err := limits.NewSizeLimiter(cfg.GlobalPositionCap, cfg.GlobalTradeCap).CheckLimit(positionSize, singleTrade)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limits.ErrPositionSizeExceeded):
		return fmt.Errorf("%w: %s > %s", ErrExceedsMaxPositionSize, positionSize, cfg.GlobalPositionCap)
	case errors.Is(err, limits.ErrTradeSizeExceeded):
		return fmt.Errorf("%w: %s > %s", ErrExceedsMaxTradeSize, singleTrade, cfg.GlobalTradeCap)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
}

// CreatePosition registers a new active position owned by the caller.
func (r *PositionRegistry) CreatePosition(ctx context.Context, caller auth.Principal, params PositionParams) (pos *model.LiquidityPosition, err error) {
	defer r.observe("create_position", time.Now(), &err)

	if err := authError(caller.RequireIdentity(params.Owner)); err != nil {
		return nil, err
	}
	if err := checkRange(params.TickLower, params.TickUpper, params.PriceLower, params.PriceUpper); err != nil {
		return nil, err
	}
	cfg, err := r.config(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkSizes(cfg, params.MaxPositionSize, params.MaxSingleTrade); err != nil {
		return nil, err
	}

	dex := params.Dex
	if dex == "" {
		dex = DefaultDex
	}
	now := r.clock.Now()
	pos = &model.LiquidityPosition{
		Owner:                params.Owner,
		Index:                params.Index,
		TokenA:               params.TokenA,
		TokenB:               params.TokenB,
		VaultA:               params.VaultA,
		VaultB:               params.VaultB,
		Pool:                 params.Pool,
		Dex:                  dex,
		TickLower:            params.TickLower,
		TickUpper:            params.TickUpper,
		PriceLower:           params.PriceLower,
		PriceUpper:           params.PriceUpper,
		MaxPositionSize:      params.MaxPositionSize,
		MaxSingleTrade:       params.MaxSingleTrade,
		Status:               model.PositionActive,
		AutoRebalanceEnabled: true,
		MinRebalanceInterval: cfg.MinRebalanceInterval,
		AccruedFees:          decimal.Zero,
		TotalFeesCollected:   decimal.Zero,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err = r.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertPosition(ctx, pos); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return fmt.Errorf("%w: %s", ErrPositionAlreadyExists, pos.Key())
			}
			return fmt.Errorf("insert position: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PositionsCreated.Inc()
	r.logger.Info("position created",
		"position", pos.Key().String(),
		"tick_lower", pos.TickLower,
		"tick_upper", pos.TickUpper,
		"max_position_size", pos.MaxPositionSize.String(),
	)
	key := pos.Key()
	r.emit(ctx, cfg, audit.EventPositionCreated, caller.ID, &key, nil, map[string]any{
		"pool":       pos.Pool,
		"dex":        pos.Dex,
		"tick_lower": pos.TickLower,
		"tick_upper": pos.TickUpper,
	})
	return pos, nil
}

// UpdateSettings changes the status or auto-rebalance flag of a position.
// Only the owner may call it.
func (r *PositionRegistry) UpdateSettings(ctx context.Context, caller auth.Principal, key model.PositionKey, upd SettingsUpdate) (pos *model.LiquidityPosition, err error) {
	defer r.observe("update_settings", time.Now(), &err)

	if err := authError(caller.RequireIdentity(key.Owner)); err != nil {
		return nil, err
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *upd.Status)
	}
	cfg, err := r.config(ctx)
	if err != nil {
		return nil, err
	}

	err = r.store.InTx(ctx, func(tx store.Tx) error {
		p, err := loadPosition(ctx, tx, key)
		if err != nil {
			return err
		}
		if upd.Status != nil {
			p.Status = *upd.Status
		}
		if upd.AutoRebalance != nil {
			p.AutoRebalanceEnabled = *upd.AutoRebalance
		}
		p.UpdatedAt = r.clock.Now()
		if err := tx.UpdatePosition(ctx, p); err != nil {
			return fmt.Errorf("update position: %w", err)
		}
		pos = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("position updated",
		"position", key.String(),
		"status", pos.Status,
		"auto_rebalance", pos.AutoRebalanceEnabled,
	)
	r.emit(ctx, cfg, audit.EventPositionUpdated, caller.ID, &key, nil, map[string]any{
		"status":         pos.Status,
		"auto_rebalance": pos.AutoRebalanceEnabled,
	})
	return pos, nil
}

// GetPosition returns a committed snapshot of a position.
func (r *PositionRegistry) GetPosition(ctx context.Context, key model.PositionKey) (*model.LiquidityPosition, error) {
	p, err := r.store.GetPosition(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReferencedPositionMissing, key)
	}
	return p, err
}

// ListPositions returns the owner's positions ordered by index.
func (r *PositionRegistry) ListPositions(ctx context.Context, owner string) ([]model.LiquidityPosition, error) {
	return r.store.ListPositions(ctx, owner)
}
