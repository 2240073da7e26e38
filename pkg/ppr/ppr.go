// Package ppr bounds and validates personalized PageRank runs before handing
// them to the graph backend.
package ppr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"
)

var ErrMalformedTeleport = errors.New("malformed teleportation vector")

const (
	minDamping   = 0.70
	maxDamping   = 0.90
	sumTolerance = 1e-6
)

type Config struct {
	TopK             int
	PerSeedLimit     int
	PerNeighborLimit int

	// SeedBudget and NeighborBudget are the total edge expansions spread
	// across all seeds; LimitFloor is the smallest per-node limit.
	SeedBudget     int
	NeighborBudget int
	LimitFloor     int

	Timeout time.Duration
}

// EffectiveLimit scales a per-node fan-out limit down as the seed count grows:
// min(configured, max(floor, budget/seedCount)).
func EffectiveLimit(configured, floor, budget, seedCount int) int {
	if seedCount <= 0 {
		return configured
	}
	scaled := max(floor, budget/seedCount)
	return min(configured, scaled)
}

type Traversal struct {
	backend store.PageRankBackend
	cfg     Config
}

func NewTraversal(backend store.PageRankBackend, cfg Config) *Traversal {
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	if cfg.PerSeedLimit <= 0 {
		cfg.PerSeedLimit = 25
	}
	if cfg.PerNeighborLimit <= 0 {
		cfg.PerNeighborLimit = 10
	}
	if cfg.SeedBudget <= 0 {
		cfg.SeedBudget = 200
	}
	if cfg.NeighborBudget <= 0 {
		cfg.NeighborBudget = 100
	}
	if cfg.LimitFloor <= 0 {
		cfg.LimitFloor = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Traversal{backend: backend, cfg: cfg}
}

// Limits returns the per-seed and per-neighbour limits for seedCount seeds.
func (t *Traversal) Limits(seedCount int) (perSeed, perNeighbor int) {
	perSeed = EffectiveLimit(t.cfg.PerSeedLimit, t.cfg.LimitFloor, t.cfg.SeedBudget, seedCount)
	perNeighbor = EffectiveLimit(t.cfg.PerNeighborLimit, t.cfg.LimitFloor, t.cfg.NeighborBudget, seedCount)
	return perSeed, perNeighbor
}

// Validate checks a teleportation vector: weights in [0,1] summing to 1 and
// damping in [0.70, 0.90].
func Validate(seeds []common.WeightedSeed, damping float64) error {
	if math.IsNaN(damping) || damping < minDamping-sumTolerance || damping > maxDamping+sumTolerance {
		return fmt.Errorf("%w: damping %v", ErrMalformedTeleport, damping)
	}
	var sum float64
	for _, s := range seeds {
		if s.EntityID == "" {
			return fmt.Errorf("%w: empty entity id", ErrMalformedTeleport)
		}
		if math.IsNaN(s.Weight) || s.Weight < 0 || s.Weight > 1 {
			return fmt.Errorf("%w: weight %v for %s", ErrMalformedTeleport, s.Weight, s.EntityID)
		}
		sum += s.Weight
	}
	if math.Abs(sum-1) > sumTolerance {
		return fmt.Errorf("%w: weights sum to %v", ErrMalformedTeleport, sum)
	}
	return nil
}

// Traverse runs PPR from seeds. Zero seeds yield an empty result without a
// backend call. Backend errors and timeouts are returned unchanged.
func (t *Traversal) Traverse(ctx context.Context, tenantID string, seeds []common.WeightedSeed, damping float64) ([]common.ScoredEntity, error) {
	if tenantID == "" {
		return nil, common.ErrMissingTenant
	}
	if len(seeds) == 0 {
		return nil, nil
	}
	if err := Validate(seeds, damping); err != nil {
		return nil, err
	}

	teleport := make(map[string]float64, len(seeds))
	for _, s := range seeds {
		teleport[s.EntityID] += s.Weight
	}
	perSeed, perNeighbor := t.Limits(len(teleport))

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := t.backend.PersonalizedPageRank(ctx, store.PageRankRequest{
		TenantID:         tenantID,
		Seeds:            teleport,
		Damping:          damping,
		TopK:             t.cfg.TopK,
		PerSeedLimit:     perSeed,
		PerNeighborLimit: perNeighbor,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("[PPR] traversal done",
		"tenant", tenantID,
		"seeds", len(teleport),
		"per_seed", perSeed,
		"per_neighbor", perNeighbor,
		"results", len(res),
		"took", time.Since(start),
	)
	return res, nil
}
