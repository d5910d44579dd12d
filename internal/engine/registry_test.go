package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xliquidity/rebalance-engine/internal/auth"
	"github.com/xliquidity/rebalance-engine/internal/model"
)

func TestProtocol_InitOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	second := defaultParams()
	second.ProtocolFeeBps = 9000
	_, err := h.eng.Protocol.Init(ctx, stranger, second)
	expectErr(t, err, ErrConfigAlreadyExists)

	cfg, err := h.eng.Protocol.Get(ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.Authority != "authority" || cfg.ProtocolFeeBps != 100 {
		t.Errorf("stored config mutated by second init: %+v", cfg)
	}
}

func TestProtocol_InitValidation(t *testing.T) {
	tests := []struct {
		name   string
		caller auth.Principal
		mutate func(*ProtocolParams)
		want   error
	}{
		{"unauthenticated", auth.Principal{}, func(*ProtocolParams) {}, ErrUnauthenticated},
		{"fee sum above 100%", authority, func(p *ProtocolParams) { p.ProtocolFeeBps, p.PerformanceFeeBps = 6000, 5000 }, ErrInvalidFeeRate},
		{"slippage ceiling above 100%", authority, func(p *ProtocolParams) { p.MaxSlippageBps = 10001 }, ErrSlippageTooHigh},
		{"negative cap", authority, func(p *ProtocolParams) { p.GlobalPositionCap = decimal.NewFromInt(-1) }, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newBareHarness()
			params := defaultParams()
			tt.mutate(&params)
			_, err := h.eng.Protocol.Init(context.Background(), tt.caller, params)
			expectErr(t, err, tt.want)
			if _, err := h.eng.Protocol.Get(context.Background()); !errors.Is(err, ErrConfigMissing) {
				t.Errorf("rejected init must not store config, got %v", err)
			}
		})
	}
}

func TestProtocol_Defaults(t *testing.T) {
	h := newHarness(t, func(p *ProtocolParams) {
		p.FeeRecipient = ""
		p.MaxSlippageBps = 0
	})
	cfg, err := h.eng.Protocol.Get(context.Background())
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.FeeRecipient != "authority" {
		t.Errorf("expected fee recipient to default to authority, got %q", cfg.FeeRecipient)
	}
	if cfg.MaxSlippageBps != DefaultMaxSlippageBps {
		t.Errorf("expected default slippage ceiling %d, got %d", DefaultMaxSlippageBps, cfg.MaxSlippageBps)
	}

	caps, err := h.eng.Protocol.Caps(context.Background())
	if err != nil {
		t.Fatalf("caps: %v", err)
	}
	if !caps.GlobalPositionCap.Equal(decimal.NewFromInt(1_000_000)) || caps.ProtocolFeeBps != 100 || caps.PerformanceFeeBps != 1000 {
		t.Errorf("unexpected caps: %+v", caps)
	}
}

func TestCreatePosition(t *testing.T) {
	h := newHarness(t)
	p := h.createPosition(t)

	if p.Status != model.PositionActive {
		t.Errorf("expected active, got %s", p.Status)
	}
	if p.RebalanceCount != 0 || !p.AccruedFees.IsZero() || !p.TotalFeesCollected.IsZero() {
		t.Errorf("expected zero counters, got %+v", p)
	}
	if !p.AutoRebalanceEnabled {
		t.Error("expected auto rebalance enabled")
	}
	if p.Dex != DefaultDex {
		t.Errorf("expected dex %q, got %q", DefaultDex, p.Dex)
	}
	if p.MinRebalanceInterval != time.Hour {
		t.Errorf("expected interval copied from config, got %s", p.MinRebalanceInterval)
	}
	if !p.LastRebalanceTime.IsZero() {
		t.Errorf("expected unset last_rebalance_time, got %v", p.LastRebalanceTime)
	}
	if !p.CreatedAt.Equal(h.clock.Now()) {
		t.Errorf("expected created_at from clock, got %v", p.CreatedAt)
	}
}

func TestCreatePosition_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		caller auth.Principal
		mutate func(*PositionParams)
		want   error
	}{
		{"unauthenticated", auth.Principal{}, func(*PositionParams) {}, ErrUnauthenticated},
		{"caller is not owner", stranger, func(*PositionParams) {}, ErrUnauthorized},
		{"ticks equal", owner, func(p *PositionParams) { p.TickLower, p.TickUpper = 10, 10 }, ErrInvalidPriceRange},
		{"ticks reversed", owner, func(p *PositionParams) { p.TickLower, p.TickUpper = 1000, -1000 }, ErrInvalidPriceRange},
		{"prices reversed", owner, func(p *PositionParams) { p.PriceLower, p.PriceUpper = p.PriceUpper, p.PriceLower }, ErrInvalidPriceRange},
		{"size above cap", owner, func(p *PositionParams) { p.MaxPositionSize = decimal.NewFromInt(1_000_001) }, ErrExceedsMaxPositionSize},
		{"trade above cap", owner, func(p *PositionParams) { p.MaxSingleTrade = decimal.NewFromInt(100_001) }, ErrExceedsMaxTradeSize},
		{"negative size", owner, func(p *PositionParams) { p.MaxPositionSize = decimal.NewFromInt(-5) }, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			params := positionParams()
			tt.mutate(&params)
			_, err := h.eng.Positions.CreatePosition(context.Background(), tt.caller, params)
			expectErr(t, err, tt.want)

			list, _ := h.eng.Positions.ListPositions(context.Background(), "alice")
			if len(list) != 0 {
				t.Errorf("rejected create must not store a position, found %d", len(list))
			}
		})
	}
}

func TestCreatePosition_SizeAtCapAllowed(t *testing.T) {
	h := newHarness(t)
	params := positionParams()
	params.MaxPositionSize = decimal.NewFromInt(1_000_000)
	params.MaxSingleTrade = decimal.NewFromInt(100_000)
	if _, err := h.eng.Positions.CreatePosition(context.Background(), owner, params); err != nil {
		t.Fatalf("size equal to cap should be allowed: %v", err)
	}
}

func TestCreatePosition_DuplicateKey(t *testing.T) {
	h := newHarness(t)
	h.createPosition(t)
	_, err := h.eng.Positions.CreatePosition(context.Background(), owner, positionParams())
	expectErr(t, err, ErrPositionAlreadyExists)

	params := positionParams()
	params.Index = 1
	if _, err := h.eng.Positions.CreatePosition(context.Background(), owner, params); err != nil {
		t.Fatalf("second index should succeed: %v", err)
	}
	list, err := h.eng.Positions.ListPositions(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Index != 0 || list[1].Index != 1 {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestUpdateSettings(t *testing.T) {
	h := newHarness(t)
	h.createPosition(t)
	ctx := context.Background()

	inactive := model.PositionInactive
	off := false
	p, err := h.eng.Positions.UpdateSettings(ctx, owner, posKey, SettingsUpdate{Status: &inactive, AutoRebalance: &off})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if p.Status != model.PositionInactive || p.AutoRebalanceEnabled {
		t.Errorf("settings not applied: %+v", p)
	}

	_, err = h.eng.Decisions.CreateDecision(ctx, payer, decisionParams(0, 8500, 3000))
	expectErr(t, err, ErrReferencedPositionMissing)

	_, err = h.eng.Positions.UpdateSettings(ctx, stranger, posKey, SettingsUpdate{AutoRebalance: &off})
	expectErr(t, err, ErrUnauthorized)

	bogus := model.PositionStatus("closed")
	_, err = h.eng.Positions.UpdateSettings(ctx, owner, posKey, SettingsUpdate{Status: &bogus})
	expectErr(t, err, ErrInvalidStatus)

	_, err = h.eng.Positions.UpdateSettings(ctx, owner, model.PositionKey{Owner: "alice", Index: 9}, SettingsUpdate{AutoRebalance: &off})
	expectErr(t, err, ErrReferencedPositionMissing)
}

func TestGetPosition_Missing(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.Positions.GetPosition(context.Background(), posKey)
	expectErr(t, err, ErrReferencedPositionMissing)
}
