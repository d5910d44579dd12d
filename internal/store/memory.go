package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xliquidity/rebalance-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions are serialized under one lock and stage their writes, so a
// failed transaction never touches the committed maps.
type MemoryStore struct {
	mu        sync.RWMutex
	config    *model.ProtocolConfig
	positions map[model.PositionKey]*model.LiquidityPosition
	decisions map[model.DecisionKey]*model.RebalanceDecision
	payouts   []model.FeePayout
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[model.PositionKey]*model.LiquidityPosition),
		decisions: make(map[model.DecisionKey]*model.RebalanceDecision),
	}
}

func (s *MemoryStore) InitConfig(_ context.Context, cfg *model.ProtocolConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config != nil {
		return fmt.Errorf("protocol config: %w", ErrAlreadyExists)
	}
	c := *cfg
	s.config = &c
	return nil
}

func (s *MemoryStore) GetConfig(_ context.Context) (*model.ProtocolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, fmt.Errorf("protocol config: %w", ErrNotFound)
	}
	c := *s.config
	return &c, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, key model.PositionKey) (*model.LiquidityPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[key]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", key, ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, owner string) ([]model.LiquidityPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LiquidityPosition
	for _, p := range s.positions {
		if p.Owner == owner {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result, nil
}

func (s *MemoryStore) GetDecision(_ context.Context, key model.DecisionKey) (*model.RebalanceDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.decisions[key]
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", key, ErrNotFound)
	}
	c := *d
	return &c, nil
}

func (s *MemoryStore) ListDecisions(_ context.Context, position model.PositionKey) ([]model.RebalanceDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.RebalanceDecision
	for _, d := range s.decisions {
		if d.Position == position {
			result = append(result, *d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result, nil
}

func (s *MemoryStore) ListPayouts(_ context.Context, position model.PositionKey) ([]model.FeePayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.FeePayout
	for _, e := range s.payouts {
		if e.Position == position {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		s:         s,
		positions: make(map[model.PositionKey]*model.LiquidityPosition),
		decisions: make(map[model.DecisionKey]*model.RebalanceDecision),
	}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit staged writes.
	for k, p := range tx.positions {
		s.positions[k] = p
	}
	for k, d := range tx.decisions {
		s.decisions[k] = d
	}
	s.payouts = append(s.payouts, tx.payouts...)
	return nil
}

// memoryTx stages copies of every record it writes. Reads see staged
// values first, then committed ones. Called with s.mu held.
type memoryTx struct {
	s         *MemoryStore
	positions map[model.PositionKey]*model.LiquidityPosition
	decisions map[model.DecisionKey]*model.RebalanceDecision
	payouts   []model.FeePayout
}

func (t *memoryTx) lookupPosition(key model.PositionKey) (*model.LiquidityPosition, bool) {
	if p, ok := t.positions[key]; ok {
		return p, true
	}
	p, ok := t.s.positions[key]
	return p, ok
}

func (t *memoryTx) lookupDecision(key model.DecisionKey) (*model.RebalanceDecision, bool) {
	if d, ok := t.decisions[key]; ok {
		return d, true
	}
	d, ok := t.s.decisions[key]
	return d, ok
}

func (t *memoryTx) GetPosition(_ context.Context, key model.PositionKey) (*model.LiquidityPosition, error) {
	p, ok := t.lookupPosition(key)
	if !ok {
		return nil, fmt.Errorf("position %s: %w", key, ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (t *memoryTx) InsertPosition(_ context.Context, p *model.LiquidityPosition) error {
	if _, ok := t.lookupPosition(p.Key()); ok {
		return fmt.Errorf("position %s: %w", p.Key(), ErrAlreadyExists)
	}
	c := *p
	t.positions[p.Key()] = &c
	return nil
}

func (t *memoryTx) UpdatePosition(_ context.Context, p *model.LiquidityPosition) error {
	if _, ok := t.lookupPosition(p.Key()); !ok {
		return fmt.Errorf("position %s: %w", p.Key(), ErrNotFound)
	}
	c := *p
	t.positions[p.Key()] = &c
	return nil
}

func (t *memoryTx) GetDecision(_ context.Context, key model.DecisionKey) (*model.RebalanceDecision, error) {
	d, ok := t.lookupDecision(key)
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", key, ErrNotFound)
	}
	c := *d
	return &c, nil
}

func (t *memoryTx) InsertDecision(_ context.Context, d *model.RebalanceDecision) error {
	if _, ok := t.lookupDecision(d.Key()); ok {
		return fmt.Errorf("decision %s: %w", d.Key(), ErrAlreadyExists)
	}
	if _, ok := t.lookupPosition(d.Position); !ok {
		return fmt.Errorf("position %s: %w", d.Position, ErrNotFound)
	}
	c := *d
	t.decisions[d.Key()] = &c
	return nil
}

func (t *memoryTx) UpdateDecision(_ context.Context, d *model.RebalanceDecision) error {
	if _, ok := t.lookupDecision(d.Key()); !ok {
		return fmt.Errorf("decision %s: %w", d.Key(), ErrNotFound)
	}
	c := *d
	t.decisions[d.Key()] = &c
	return nil
}

func (t *memoryTx) InsertPayout(_ context.Context, p *model.FeePayout) error {
	t.payouts = append(t.payouts, *p)
	return nil
}
