// Package store defines the persistence interface for the rebalance engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/xliquidity/rebalance-engine/internal/model"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrAlreadyExists is returned when inserting under a key that is taken.
	ErrAlreadyExists = errors.New("store: record already exists")
)

// Store is the persistence interface. Reads outside a transaction return
// committed snapshots; every mutation goes through InTx.
type Store interface {
	// --- Protocol config ---

	// InitConfig stores the singleton config. Returns ErrAlreadyExists,
	// leaving the stored value untouched, if one is already present.
	InitConfig(ctx context.Context, cfg *model.ProtocolConfig) error

	// GetConfig returns the singleton config or ErrNotFound.
	GetConfig(ctx context.Context) (*model.ProtocolConfig, error)

	// --- Snapshot reads ---

	GetPosition(ctx context.Context, key model.PositionKey) (*model.LiquidityPosition, error)
	ListPositions(ctx context.Context, owner string) ([]model.LiquidityPosition, error)
	GetDecision(ctx context.Context, key model.DecisionKey) (*model.RebalanceDecision, error)
	ListDecisions(ctx context.Context, position model.PositionKey) ([]model.RebalanceDecision, error)

	// ListPayouts returns the immutable fee payouts for a position in
	// chronological order.
	ListPayouts(ctx context.Context, position model.PositionKey) ([]model.FeePayout, error)

	// --- Transactions ---

	// InTx runs fn as one atomic unit. If fn returns an error nothing it
	// wrote is visible afterwards. Records read through tx are locked
	// against concurrent transactions until InTx returns.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of the store inside one transaction.
type Tx interface {
	GetPosition(ctx context.Context, key model.PositionKey) (*model.LiquidityPosition, error)
	InsertPosition(ctx context.Context, p *model.LiquidityPosition) error
	UpdatePosition(ctx context.Context, p *model.LiquidityPosition) error

	GetDecision(ctx context.Context, key model.DecisionKey) (*model.RebalanceDecision, error)
	InsertDecision(ctx context.Context, d *model.RebalanceDecision) error
	UpdateDecision(ctx context.Context, d *model.RebalanceDecision) error

	InsertPayout(ctx context.Context, p *model.FeePayout) error
}
