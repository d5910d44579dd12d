package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xliquidity/rebalance-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Transactions go to the primary store and invalidate every key they
// wrote once they commit; reads check Redis first then fall back to the
// primary. Transactional reads always hit the primary so row locks hold.
//
// Each cached key has a generation counter that commits increment. A reader
// notes the generation before going to the primary and fills the cache only
// if it is unchanged, so a row read before a commit is never cached after it.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InitConfig(ctx context.Context, cfg *model.ProtocolConfig) error {
	if err := s.primary.InitConfig(ctx, cfg); err != nil {
		return err
	}
	s.cache(ctx, configKey(), s.generation(ctx, configKey()), cfg)
	return nil
}

func (s *CachedStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.primary.InTx(ctx, func(tx Tx) error {
		touched = touched[:0]
		return fn(&recordingTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		// Next read will re-populate.
		s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range touched {
				pipe.Incr(ctx, generationKey(key))
			}
			pipe.Del(ctx, touched...)
			return nil
		})
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetConfig(ctx context.Context) (*model.ProtocolConfig, error) {
	var c model.ProtocolConfig
	if s.lookup(ctx, configKey(), &c) {
		return &c, nil
	}
	gen := s.generation(ctx, configKey())
	cfg, err := s.primary.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, configKey(), gen, cfg)
	return cfg, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, key model.PositionKey) (*model.LiquidityPosition, error) {
	var p model.LiquidityPosition
	if s.lookup(ctx, positionKey(key), &p) {
		return &p, nil
	}
	gen := s.generation(ctx, positionKey(key))
	pos, err := s.primary.GetPosition(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, positionKey(key), gen, pos)
	return pos, nil
}

func (s *CachedStore) GetDecision(ctx context.Context, key model.DecisionKey) (*model.RebalanceDecision, error) {
	var d model.RebalanceDecision
	if s.lookup(ctx, decisionKey(key), &d) {
		return &d, nil
	}
	gen := s.generation(ctx, decisionKey(key))
	dec, err := s.primary.GetDecision(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, decisionKey(key), gen, dec)
	return dec, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPositions(ctx context.Context, owner string) ([]model.LiquidityPosition, error) {
	return s.primary.ListPositions(ctx, owner)
}

func (s *CachedStore) ListDecisions(ctx context.Context, position model.PositionKey) ([]model.RebalanceDecision, error) {
	return s.primary.ListDecisions(ctx, position)
}

func (s *CachedStore) ListPayouts(ctx context.Context, position model.PositionKey) ([]model.FeePayout, error) {
	return s.primary.ListPayouts(ctx, position)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// generation returns the commit counter of key; a missing counter is 0.
func (s *CachedStore) generation(ctx context.Context, key string) int64 {
	n, err := s.rdb.Get(ctx, generationKey(key)).Int64()
	if err != nil {
		return 0
	}
	return n
}

// cache stores v under key if the key's generation still equals gen.
func (s *CachedStore) cache(ctx context.Context, key string, gen int64, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	genKey := generationKey(key)
	s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, genKey)
}

// recordingTx remembers the cache keys of every record written through it.
type recordingTx struct {
	Tx
	touched *[]string
}

func (t *recordingTx) InsertPosition(ctx context.Context, p *model.LiquidityPosition) error {
	*t.touched = append(*t.touched, positionKey(p.Key()))
	return t.Tx.InsertPosition(ctx, p)
}

func (t *recordingTx) UpdatePosition(ctx context.Context, p *model.LiquidityPosition) error {
	*t.touched = append(*t.touched, positionKey(p.Key()))
	return t.Tx.UpdatePosition(ctx, p)
}

func (t *recordingTx) InsertDecision(ctx context.Context, d *model.RebalanceDecision) error {
	*t.touched = append(*t.touched, decisionKey(d.Key()))
	return t.Tx.InsertDecision(ctx, d)
}

func (t *recordingTx) UpdateDecision(ctx context.Context, d *model.RebalanceDecision) error {
	*t.touched = append(*t.touched, decisionKey(d.Key()))
	return t.Tx.UpdateDecision(ctx, d)
}

func configKey() string                      { return "rebalancer:config" }
func positionKey(k model.PositionKey) string { return fmt.Sprintf("rebalancer:position:%s", k) }
func decisionKey(k model.DecisionKey) string { return fmt.Sprintf("rebalancer:decision:%s", k) }

func generationKey(key string) string { return key + ":gen" }
