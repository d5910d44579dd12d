package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xliquidity/rebalance-engine/internal/audit"
	"github.com/xliquidity/rebalance-engine/internal/auth"
	"github.com/xliquidity/rebalance-engine/internal/model"
	"github.com/xliquidity/rebalance-engine/internal/store"
)

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10000

// DefaultMaxSlippageBps applies when the config leaves the ceiling unset.
const DefaultMaxSlippageBps = 1000

// DefaultMinRebalanceInterval is the throttle interval callers should use
// when they have no preference.
const DefaultMinRebalanceInterval = time.Hour

// Default global caps, in the same units as declared position sizes.
var (
	DefaultGlobalPositionCap = decimal.NewFromInt(1_000_000_000_000)
	DefaultGlobalTradeCap    = decimal.NewFromInt(100_000_000_000)
)

// ProtocolParams are the values supplied when the config is initialized.
type ProtocolParams struct {
	FeeRecipient         string
	PerformanceFeeBps    uint16
	ProtocolFeeBps       uint16
	MinPayment           decimal.Decimal
	AuditLogEnabled      bool
	GlobalPositionCap    decimal.Decimal
	GlobalTradeCap       decimal.Decimal
	MinRebalanceInterval time.Duration
	MaxSlippageBps       uint16
	ApproverMayBeOwner   bool
}

func (p ProtocolParams) validate() error {
	if p.PerformanceFeeBps > BpsDenominator || p.ProtocolFeeBps > BpsDenominator ||
		int(p.PerformanceFeeBps)+int(p.ProtocolFeeBps) > BpsDenominator {
		return fmt.Errorf("%w: protocol %d + performance %d bps exceeds %d",
			ErrInvalidFeeRate, p.ProtocolFeeBps, p.PerformanceFeeBps, BpsDenominator)
	}
	if p.MaxSlippageBps > BpsDenominator {
		return fmt.Errorf("%w: ceiling %d bps", ErrSlippageTooHigh, p.MaxSlippageBps)
	}
	if p.MinPayment.IsNegative() || p.GlobalPositionCap.IsNegative() || p.GlobalTradeCap.IsNegative() {
		return fmt.Errorf("%w: caps and minimum payment must not be negative", ErrInvalidAmount)
	}
	if p.MinRebalanceInterval < 0 {
		return fmt.Errorf("%w: negative rebalance interval", ErrInvalidAmount)
	}
	return nil
}

// Protocol is the accessor for the initialize-once protocol config.
type Protocol struct {
	*core
}

// Init stores the protocol config with the caller as authority. A second
// call fails ErrConfigAlreadyExists and leaves the stored config untouched.
func (p *Protocol) Init(ctx context.Context, caller auth.Principal, params ProtocolParams) (cfg *model.ProtocolConfig, err error) {
	defer p.observe("init_config", time.Now(), &err)

	if err := authError(caller.Require()); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	if params.FeeRecipient == "" {
		params.FeeRecipient = caller.ID
	}
	if params.MaxSlippageBps == 0 {
		params.MaxSlippageBps = DefaultMaxSlippageBps
	}

	cfg = &model.ProtocolConfig{
		Version:              1,
		Authority:            caller.ID,
		FeeRecipient:         params.FeeRecipient,
		PerformanceFeeBps:    params.PerformanceFeeBps,
		ProtocolFeeBps:       params.ProtocolFeeBps,
		MinPayment:           params.MinPayment,
		AuditLogEnabled:      params.AuditLogEnabled,
		GlobalPositionCap:    params.GlobalPositionCap,
		GlobalTradeCap:       params.GlobalTradeCap,
		MinRebalanceInterval: params.MinRebalanceInterval,
		MaxSlippageBps:       params.MaxSlippageBps,
		ApproverMayBeOwner:   params.ApproverMayBeOwner,
		CreatedAt:            p.clock.Now(),
	}
	if err := p.store.InitConfig(ctx, cfg); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrConfigAlreadyExists
		}
		return nil, fmt.Errorf("init protocol config: %w", err)
	}

	p.logger.Info("protocol config initialized",
		"authority", cfg.Authority,
		"fee_recipient", cfg.FeeRecipient,
		"protocol_fee_bps", cfg.ProtocolFeeBps,
		"performance_fee_bps", cfg.PerformanceFeeBps,
	)
	p.emit(ctx, cfg, audit.EventConfigInitialized, caller.ID, nil, nil, map[string]any{
		"fee_recipient":       cfg.FeeRecipient,
		"protocol_fee_bps":    cfg.ProtocolFeeBps,
		"performance_fee_bps": cfg.PerformanceFeeBps,
	})
	return cfg, nil
}

// Get returns the stored config, or ErrConfigMissing.
func (p *Protocol) Get(ctx context.Context) (*model.ProtocolConfig, error) {
	return p.config(ctx)
}

// Caps returns the size caps and fee rates.
func (p *Protocol) Caps(ctx context.Context) (model.Caps, error) {
	cfg, err := p.config(ctx)
	if err != nil {
		return model.Caps{}, err
	}
	return cfg.Caps(), nil
}
