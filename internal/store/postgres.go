package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xliquidity/rebalance-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Transactional reads take row locks (SELECT ... FOR UPDATE), so
// transactions on different positions do not block each other.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) InitConfig(ctx context.Context, c *model.ProtocolConfig) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO protocol_config (id, version, authority, fee_recipient,
		        performance_fee_bps, protocol_fee_bps, min_payment, audit_log_enabled,
		        global_position_cap, global_trade_cap, min_rebalance_interval_ns,
		        max_slippage_bps, approver_may_be_owner, created_at)
		 VALUES (1, $1, $2, $3, $4, $5, $6::NUMERIC, $7, $8::NUMERIC, $9::NUMERIC, $10, $11, $12, $13)
		 ON CONFLICT (id) DO NOTHING`,
		c.Version, c.Authority, c.FeeRecipient,
		int32(c.PerformanceFeeBps), int32(c.ProtocolFeeBps), c.MinPayment.String(), c.AuditLogEnabled,
		c.GlobalPositionCap.String(), c.GlobalTradeCap.String(), int64(c.MinRebalanceInterval),
		int32(c.MaxSlippageBps), c.ApproverMayBeOwner, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert protocol config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("protocol config: %w", ErrAlreadyExists)
	}
	return nil
}

func (s *PostgresStore) GetConfig(ctx context.Context) (*model.ProtocolConfig, error) {
	var c model.ProtocolConfig
	var perfBps, protoBps, maxSlip int32
	var intervalNs int64
	var minPayment, posCap, tradeCap string

	err := s.pool.QueryRow(ctx,
		`SELECT version, authority, fee_recipient, performance_fee_bps, protocol_fee_bps,
		        min_payment::TEXT, audit_log_enabled, global_position_cap::TEXT,
		        global_trade_cap::TEXT, min_rebalance_interval_ns, max_slippage_bps,
		        approver_may_be_owner, created_at
		 FROM protocol_config WHERE id = 1`).
		Scan(&c.Version, &c.Authority, &c.FeeRecipient, &perfBps, &protoBps,
			&minPayment, &c.AuditLogEnabled, &posCap,
			&tradeCap, &intervalNs, &maxSlip,
			&c.ApproverMayBeOwner, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, "protocol config")
	}

	c.PerformanceFeeBps = uint16(perfBps)
	c.ProtocolFeeBps = uint16(protoBps)
	c.MaxSlippageBps = uint16(maxSlip)
	c.MinRebalanceInterval = time.Duration(intervalNs)
	if err := parseDecimals(
		&c.MinPayment, minPayment,
		&c.GlobalPositionCap, posCap,
		&c.GlobalTradeCap, tradeCap,
	); err != nil {
		return nil, fmt.Errorf("protocol config: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, key model.PositionKey) (*model.LiquidityPosition, error) {
	return getPosition(ctx, s.pool, key, false)
}

func (s *PostgresStore) ListPositions(ctx context.Context, owner string) ([]model.LiquidityPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE owner = $1 ORDER BY idx`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.LiquidityPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetDecision(ctx context.Context, key model.DecisionKey) (*model.RebalanceDecision, error) {
	return getDecision(ctx, s.pool, key, false)
}

func (s *PostgresStore) ListDecisions(ctx context.Context, position model.PositionKey) ([]model.RebalanceDecision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE owner = $1 AND position_idx = $2 ORDER BY idx`,
		position.Owner, int32(position.Index))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []model.RebalanceDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}
	return decisions, rows.Err()
}

func (s *PostgresStore) ListPayouts(ctx context.Context, position model.PositionKey) ([]model.FeePayout, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, owner, position_idx, recipient, kind, amount::TEXT, timestamp
		 FROM fee_payouts WHERE owner = $1 AND position_idx = $2 ORDER BY timestamp`,
		position.Owner, int32(position.Index))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []model.FeePayout
	for rows.Next() {
		var e model.FeePayout
		var idx int32
		var kind, amount string
		if err := rows.Scan(&e.ID, &e.Position.Owner, &idx, &e.Recipient, &kind, &amount, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Position.Index = uint8(idx)
		e.Kind = model.PayoutKind(kind)
		if err := parseDecimals(&e.Amount, amount); err != nil {
			return nil, fmt.Errorf("payout %s: %w", e.ID, err)
		}
		payouts = append(payouts, e)
	}
	return payouts, rows.Err()
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&postgresTx{q: tx})
	})
}

// postgresTx runs every statement on one pgx transaction.
type postgresTx struct {
	q querier
}

func (t *postgresTx) GetPosition(ctx context.Context, key model.PositionKey) (*model.LiquidityPosition, error) {
	return getPosition(ctx, t.q, key, true)
}

func (t *postgresTx) InsertPosition(ctx context.Context, p *model.LiquidityPosition) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO positions (`+positionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14::NUMERIC,
		         $15, $16, $17, $18, $19, $20, $21::NUMERIC, $22::NUMERIC, $23, $24)`,
		p.Owner, int32(p.Index), p.TokenA, p.TokenB, p.VaultA, p.VaultB, p.Pool, p.Dex,
		p.TickLower, p.TickUpper,
		p.PriceLower.String(), p.PriceUpper.String(),
		p.MaxPositionSize.String(), p.MaxSingleTrade.String(),
		string(p.Status), p.AutoRebalanceEnabled, int64(p.MinRebalanceInterval),
		int64(p.RebalanceCount), p.LastRebalanceTime, p.LastProposalTime,
		p.AccruedFees.String(), p.TotalFeesCollected.String(),
		p.CreatedAt, p.UpdatedAt,
	)
	return insertErr(err, "position "+p.Key().String())
}

func (t *postgresTx) UpdatePosition(ctx context.Context, p *model.LiquidityPosition) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE positions
		 SET tick_lower = $3, tick_upper = $4,
		     price_lower = $5::NUMERIC, price_upper = $6::NUMERIC,
		     status = $7, auto_rebalance_enabled = $8,
		     rebalance_count = $9, last_rebalance_time = $10, last_proposal_time = $11,
		     accrued_fees = $12::NUMERIC, total_fees_collected = $13::NUMERIC,
		     updated_at = $14
		 WHERE owner = $1 AND idx = $2`,
		p.Owner, int32(p.Index),
		p.TickLower, p.TickUpper,
		p.PriceLower.String(), p.PriceUpper.String(),
		string(p.Status), p.AutoRebalanceEnabled,
		int64(p.RebalanceCount), p.LastRebalanceTime, p.LastProposalTime,
		p.AccruedFees.String(), p.TotalFeesCollected.String(),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update position %s: %w", p.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", p.Key(), ErrNotFound)
	}
	return nil
}

func (t *postgresTx) GetDecision(ctx context.Context, key model.DecisionKey) (*model.RebalanceDecision, error) {
	return getDecision(ctx, t.q, key, true)
}

func (t *postgresTx) InsertDecision(ctx context.Context, d *model.RebalanceDecision) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO decisions (`+decisionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9,
		         $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		d.Position.Owner, int32(d.Position.Index), int64(d.Index),
		d.NewTickLower, d.NewTickUpper,
		d.NewPriceLower.String(), d.NewPriceUpper.String(),
		d.ModelVersion, d.ModelHash.Bytes(),
		int32(d.Confidence), int32(d.Sentiment), int32(d.Volatility), int32(d.WhaleActivity),
		d.Reason, string(d.RiskTier), d.RequiresApproval, string(d.ExecutionStatus),
		d.HumanApprover, d.ApprovalTimestamp, slippageArg(d.SlippageBps),
		d.CreatedAt, d.ExecutedAt,
	)
	return insertErr(err, "decision "+d.Key().String())
}

func (t *postgresTx) UpdateDecision(ctx context.Context, d *model.RebalanceDecision) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE decisions
		 SET execution_status = $4, human_approver = $5, approval_timestamp = $6,
		     slippage_bps = $7, executed_at = $8
		 WHERE owner = $1 AND position_idx = $2 AND idx = $3`,
		d.Position.Owner, int32(d.Position.Index), int64(d.Index),
		string(d.ExecutionStatus), d.HumanApprover, d.ApprovalTimestamp,
		slippageArg(d.SlippageBps), d.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("update decision %s: %w", d.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("decision %s: %w", d.Key(), ErrNotFound)
	}
	return nil
}

func (t *postgresTx) InsertPayout(ctx context.Context, e *model.FeePayout) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO fee_payouts (id, owner, position_idx, recipient, kind, amount, timestamp)
		 VALUES ($1::UUID, $2, $3, $4, $5, $6::NUMERIC, $7)`,
		e.ID, e.Position.Owner, int32(e.Position.Index),
		e.Recipient, string(e.Kind), e.Amount.String(), e.Timestamp,
	)
	return insertErr(err, "payout "+e.ID)
}

// --- Row mapping ---

const positionColumns = `owner, idx, token_a, token_b, token_a_vault, token_b_vault, pool, dex,
	tick_lower, tick_upper, price_lower, price_upper, max_position_size, max_single_trade,
	status, auto_rebalance_enabled, min_rebalance_interval_ns, rebalance_count,
	last_rebalance_time, last_proposal_time, accrued_fees, total_fees_collected,
	created_at, updated_at`

// positionSelect casts NUMERIC columns to TEXT for exact decimal parsing.
const positionSelect = `owner, idx, token_a, token_b, token_a_vault, token_b_vault, pool, dex,
	tick_lower, tick_upper, price_lower::TEXT, price_upper::TEXT,
	max_position_size::TEXT, max_single_trade::TEXT,
	status, auto_rebalance_enabled, min_rebalance_interval_ns, rebalance_count,
	last_rebalance_time, last_proposal_time, accrued_fees::TEXT, total_fees_collected::TEXT,
	created_at, updated_at`

const decisionColumns = `owner, position_idx, idx, new_tick_lower, new_tick_upper,
	new_price_lower, new_price_upper, model_version, model_hash,
	confidence, sentiment, volatility, whale_activity, reason, risk_tier,
	requires_approval, execution_status, human_approver, approval_timestamp,
	slippage_bps, created_at, executed_at`

const decisionSelect = `owner, position_idx, idx, new_tick_lower, new_tick_upper,
	new_price_lower::TEXT, new_price_upper::TEXT, model_version, model_hash,
	confidence, sentiment, volatility, whale_activity, reason, risk_tier,
	requires_approval, execution_status, human_approver, approval_timestamp,
	slippage_bps, created_at, executed_at`

func getPosition(ctx context.Context, q querier, key model.PositionKey, lock bool) (*model.LiquidityPosition, error) {
	sql := `SELECT ` + positionSelect + ` FROM positions WHERE owner = $1 AND idx = $2`
	if lock {
		sql += ` FOR UPDATE`
	}
	p, err := scanPosition(q.QueryRow(ctx, sql, key.Owner, int32(key.Index)))
	if err != nil {
		return nil, notFound(err, "position "+key.String())
	}
	return p, nil
}

func scanPosition(row rowScanner) (*model.LiquidityPosition, error) {
	var p model.LiquidityPosition
	var idx int32
	var status string
	var intervalNs, count int64
	var priceLower, priceUpper, maxPos, maxTrade, accrued, collected string

	if err := row.Scan(&p.Owner, &idx, &p.TokenA, &p.TokenB, &p.VaultA, &p.VaultB, &p.Pool, &p.Dex,
		&p.TickLower, &p.TickUpper, &priceLower, &priceUpper, &maxPos, &maxTrade,
		&status, &p.AutoRebalanceEnabled, &intervalNs, &count,
		&p.LastRebalanceTime, &p.LastProposalTime, &accrued, &collected,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	p.Index = uint8(idx)
	p.Status = model.PositionStatus(status)
	p.MinRebalanceInterval = time.Duration(intervalNs)
	p.RebalanceCount = uint32(count)
	if err := parseDecimals(
		&p.PriceLower, priceLower,
		&p.PriceUpper, priceUpper,
		&p.MaxPositionSize, maxPos,
		&p.MaxSingleTrade, maxTrade,
		&p.AccruedFees, accrued,
		&p.TotalFeesCollected, collected,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func getDecision(ctx context.Context, q querier, key model.DecisionKey, lock bool) (*model.RebalanceDecision, error) {
	sql := `SELECT ` + decisionSelect + ` FROM decisions
		WHERE owner = $1 AND position_idx = $2 AND idx = $3`
	if lock {
		sql += ` FOR UPDATE`
	}
	d, err := scanDecision(q.QueryRow(ctx, sql, key.Position.Owner, int32(key.Position.Index), int64(key.Index)))
	if err != nil {
		return nil, notFound(err, "decision "+key.String())
	}
	return d, nil
}

func scanDecision(row rowScanner) (*model.RebalanceDecision, error) {
	var d model.RebalanceDecision
	var posIdx int32
	var idx int64
	var hash []byte
	var confidence, sentiment, volatility, whale int32
	var tier, status string
	var slippage *int32
	var priceLower, priceUpper string

	if err := row.Scan(&d.Position.Owner, &posIdx, &idx, &d.NewTickLower, &d.NewTickUpper,
		&priceLower, &priceUpper, &d.ModelVersion, &hash,
		&confidence, &sentiment, &volatility, &whale, &d.Reason, &tier,
		&d.RequiresApproval, &status, &d.HumanApprover, &d.ApprovalTimestamp,
		&slippage, &d.CreatedAt, &d.ExecutedAt); err != nil {
		return nil, err
	}

	d.Position.Index = uint8(posIdx)
	d.Index = uint32(idx)
	d.ModelHash = common.BytesToHash(hash)
	d.Confidence = uint16(confidence)
	d.Sentiment = uint16(sentiment)
	d.Volatility = uint16(volatility)
	d.WhaleActivity = uint16(whale)
	d.RiskTier = model.RiskTier(tier)
	d.ExecutionStatus = model.ExecutionStatus(status)
	if slippage != nil {
		bps := uint16(*slippage)
		d.SlippageBps = &bps
	}
	if err := parseDecimals(&d.NewPriceLower, priceLower, &d.NewPriceUpper, priceUpper); err != nil {
		return nil, err
	}
	return &d, nil
}

// --- Helpers ---

// parseDecimals takes alternating (*decimal.Decimal, string) pairs.
func parseDecimals(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		dst := pairs[i].(*decimal.Decimal)
		v, err := decimal.NewFromString(pairs[i+1].(string))
		if err != nil {
			return fmt.Errorf("parse numeric: %w", err)
		}
		*dst = v
	}
	return nil
}

func slippageArg(bps *uint16) *int32 {
	if bps == nil {
		return nil
	}
	v := int32(*bps)
	return &v
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func insertErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", what, ErrAlreadyExists)
	}
	return fmt.Errorf("insert %s: %w", what, err)
}
