// Package engine implements the rebalance decision and execution workflow:
// position bookkeeping, decision proposal with deterministic risk scoring,
// human approval for high-risk proposals, atomic execution, and fee
// distribution.
//
// Every state-changing operation is a single store transaction. Checks run
// inside the transaction before any write, so a rejected call leaves every
// record untouched. Audit events are emitted only after commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xliquidity/rebalance-engine/internal/audit"
	"github.com/xliquidity/rebalance-engine/internal/metrics"
	"github.com/xliquidity/rebalance-engine/internal/model"
	"github.com/xliquidity/rebalance-engine/internal/store"
)

// Clock is the single time source for throttling and timestamps. Callers
// never supply time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Options configure an Engine. Store is required.
type Options struct {
	Store  store.Store
	Clock  Clock
	Audit  audit.Sink
	Logger *slog.Logger
}

// Engine bundles the components that share one store, clock, and sink.
type Engine struct {
	Protocol  *Protocol
	Positions *PositionRegistry
	Decisions *DecisionEngine
	Approvals *ApprovalGate
	Executor  *ExecutionCoordinator
	Fees      *FeeLedger
}

// New wires the engine components.
func New(opts Options) *Engine {
	c := &core{
		store:  opts.Store,
		clock:  opts.Clock,
		sink:   opts.Audit,
		logger: opts.Logger,
	}
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	if c.sink == nil {
		c.sink = audit.Discard{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return &Engine{
		Protocol:  &Protocol{c},
		Positions: &PositionRegistry{c},
		Decisions: &DecisionEngine{c},
		Approvals: &ApprovalGate{c},
		Executor:  &ExecutionCoordinator{c},
		Fees:      &FeeLedger{c},
	}
}

// core holds the collaborators shared by every component.
type core struct {
	store  store.Store
	clock  Clock
	sink   audit.Sink
	logger *slog.Logger
}

// config loads the protocol config or fails with ErrConfigMissing.
func (c *core) config(ctx context.Context) (*model.ProtocolConfig, error) {
	cfg, err := c.store.GetConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConfigMissing
	}
	if err != nil {
		return nil, fmt.Errorf("load protocol config: %w", err)
	}
	return cfg, nil
}

// emit sends an audit event. Failures are logged and counted, never
// returned: the transaction has already committed.
func (c *core) emit(ctx context.Context, cfg *model.ProtocolConfig, name, principal string, pos *model.PositionKey, decision *uint32, payload map[string]any) {
	if cfg != nil && !cfg.AuditLogEnabled {
		return
	}
	e := model.AuditEvent{
		ID:        uuid.NewString(),
		Name:      name,
		Position:  pos,
		Decision:  decision,
		Principal: principal,
		Payload:   payload,
		Timestamp: c.clock.Now(),
	}
	if err := c.sink.Record(ctx, e); err != nil {
		metrics.AuditFailures.Inc()
		c.logger.Warn("audit sink failed", "event", name, "event_id", e.ID, "err", err)
	}
}

// observe records latency and, for rejections, the error code. Use as
// defer c.observe("op", time.Now(), &err).
func (c *core) observe(op string, start time.Time, errp *error) {
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if errp != nil && *errp != nil {
		metrics.Rejections.WithLabelValues(op, CodeOf(*errp)).Inc()
	}
}

// loadPosition reads a position inside tx, mapping not-found.
func loadPosition(ctx context.Context, tx store.Tx, key model.PositionKey) (*model.LiquidityPosition, error) {
	p, err := tx.GetPosition(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReferencedPositionMissing, key)
	}
	return p, err
}

// loadDecision reads a decision inside tx, mapping not-found.
func loadDecision(ctx context.Context, tx store.Tx, key model.DecisionKey) (*model.RebalanceDecision, error) {
	d, err := tx.GetDecision(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDecisionNotFound, key)
	}
	return d, err
}

func ptr[T any](v T) *T { return &v }
