// Package model defines the core domain types shared across the rebalance engine.
// All monetary values and scaled prices use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a liquidity position.
type PositionStatus string

const (
	PositionActive   PositionStatus = "active"
	PositionInactive PositionStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s PositionStatus) Valid() bool {
	return s == PositionActive || s == PositionInactive
}

// RiskTier is the deterministic classification assigned to a decision.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// RequiresApproval reports whether decisions of this tier need a human
// approver before they can execute.
func (t RiskTier) RequiresApproval() bool {
	return t == RiskHigh || t == RiskCritical
}

// ExecutionStatus tracks a decision from proposal to commit.
type ExecutionStatus string

const (
	ExecutionPending  ExecutionStatus = "pending"
	ExecutionExecuted ExecutionStatus = "executed"
)

// PositionKey addresses a position: one owner may hold many positions,
// distinguished by index.
type PositionKey struct {
	Owner string `json:"owner"`
	Index uint8  `json:"index"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%d", k.Owner, k.Index)
}

// DecisionKey addresses a decision under its position.
type DecisionKey struct {
	Position PositionKey `json:"position"`
	Index    uint32      `json:"index"`
}

func (k DecisionKey) String() string {
	return fmt.Sprintf("%s/%d", k.Position, k.Index)
}

// LiquidityPosition is a concentrated-liquidity allocation managed by the
// engine. Ticks and prices always satisfy lower < upper.
type LiquidityPosition struct {
	Owner  string `json:"owner"`
	Index  uint8  `json:"index"`
	TokenA string `json:"token_a"`
	TokenB string `json:"token_b"`
	VaultA string `json:"token_a_vault"`
	VaultB string `json:"token_b_vault"`
	Pool   string `json:"pool"`
	Dex    string `json:"dex"`

	TickLower  int32           `json:"current_tick_lower"`
	TickUpper  int32           `json:"current_tick_upper"`
	PriceLower decimal.Decimal `json:"current_price_lower"` // scaled fixed-point
	PriceUpper decimal.Decimal `json:"current_price_upper"`

	MaxPositionSize decimal.Decimal `json:"max_position_size"`
	MaxSingleTrade  decimal.Decimal `json:"max_single_trade"`

	Status               PositionStatus `json:"status"`
	AutoRebalanceEnabled bool           `json:"auto_rebalance_enabled"`
	MinRebalanceInterval time.Duration  `json:"min_rebalance_interval"`
	RebalanceCount       uint32         `json:"rebalance_count"`
	// LastRebalanceTime is zero until the first execution; a new position
	// has never been rebalanced and its first proposal is not throttled.
	LastRebalanceTime time.Time `json:"last_rebalance_time"`
	// LastProposalTime is zero until the first accepted proposal.
	LastProposalTime time.Time `json:"last_proposal_time"`

	AccruedFees        decimal.Decimal `json:"accrued_fees"`
	TotalFeesCollected decimal.Decimal `json:"total_fees_collected"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the position's store key.
func (p *LiquidityPosition) Key() PositionKey {
	return PositionKey{Owner: p.Owner, Index: p.Index}
}

// RebalanceDecision is a model-proposed range change. It is immutable once
// executed.
type RebalanceDecision struct {
	Position PositionKey `json:"position"`
	Index    uint32      `json:"index"`

	NewTickLower  int32           `json:"new_tick_lower"`
	NewTickUpper  int32           `json:"new_tick_upper"`
	NewPriceLower decimal.Decimal `json:"new_price_lower"`
	NewPriceUpper decimal.Decimal `json:"new_price_upper"`

	ModelVersion string      `json:"model_version"`
	ModelHash    common.Hash `json:"model_hash"`

	// Scores are basis points in [0, 10000].
	Confidence    uint16 `json:"confidence"`
	Sentiment     uint16 `json:"sentiment"`
	Volatility    uint16 `json:"volatility"`
	WhaleActivity uint16 `json:"whale_activity"`
	Reason        string `json:"reason"`

	RiskTier         RiskTier `json:"risk_tier"`
	RequiresApproval bool     `json:"requires_approval"`

	ExecutionStatus   ExecutionStatus `json:"execution_status"`
	HumanApprover     *string         `json:"human_approver,omitempty"`
	ApprovalTimestamp *time.Time      `json:"approval_timestamp,omitempty"`
	SlippageBps       *uint16         `json:"slippage_tolerance_bps,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// Key returns the decision's store key.
func (d *RebalanceDecision) Key() DecisionKey {
	return DecisionKey{Position: d.Position, Index: d.Index}
}

// Approved reports whether a human approver has signed off.
func (d *RebalanceDecision) Approved() bool {
	return d.HumanApprover != nil
}

// ProtocolConfig is the initialize-once protocol singleton.
type ProtocolConfig struct {
	Version           int             `json:"version"`
	Authority         string          `json:"authority"`
	FeeRecipient      string          `json:"fee_recipient"`
	PerformanceFeeBps uint16          `json:"performance_fee_bps"`
	ProtocolFeeBps    uint16          `json:"protocol_fee_bps"`
	MinPayment        decimal.Decimal `json:"min_payment"`
	AuditLogEnabled   bool            `json:"audit_log_enabled"`

	GlobalPositionCap decimal.Decimal `json:"global_position_cap"`
	GlobalTradeCap    decimal.Decimal `json:"global_trade_cap"`

	MinRebalanceInterval time.Duration `json:"min_rebalance_interval"`
	MaxSlippageBps       uint16        `json:"max_slippage_bps"`
	ApproverMayBeOwner   bool          `json:"approver_may_be_owner"`

	CreatedAt time.Time `json:"created_at"`
}

// Caps is the read accessor consumed by the registry and fee ledger.
type Caps struct {
	GlobalPositionCap decimal.Decimal `json:"global_position_cap"`
	GlobalTradeCap    decimal.Decimal `json:"global_trade_cap"`
	ProtocolFeeBps    uint16          `json:"protocol_fee_bps"`
	PerformanceFeeBps uint16          `json:"performance_fee_bps"`
}

// Caps returns the size caps and fee rates.
func (c *ProtocolConfig) Caps() Caps {
	return Caps{
		GlobalPositionCap: c.GlobalPositionCap,
		GlobalTradeCap:    c.GlobalTradeCap,
		ProtocolFeeBps:    c.ProtocolFeeBps,
		PerformanceFeeBps: c.PerformanceFeeBps,
	}
}

// PayoutKind labels one leg of a fee distribution.
type PayoutKind string

const (
	PayoutProtocol    PayoutKind = "protocol"
	PayoutPerformance PayoutKind = "performance"
	PayoutOwner       PayoutKind = "owner"
)

// FeePayout is an immutable record of one fee transfer.
// Once created, these are never modified or deleted.
type FeePayout struct {
	ID        string          `json:"id"`
	Position  PositionKey     `json:"position"`
	Recipient string          `json:"recipient"`
	Kind      PayoutKind      `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// AuditEvent is an append-only notification emitted after each commit.
type AuditEvent struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Position  *PositionKey   `json:"position,omitempty"`
	Decision  *uint32        `json:"decision,omitempty"`
	Principal string         `json:"principal"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
