// Package seed turns a query into the weighted teleportation vector of a
// personalized PageRank run. Seeds come from three tiers: entities named in
// the query, hub entities of relevant sections and members of matching
// communities.
package seed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/canonical"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"

	"golang.org/x/sync/errgroup"
)

// Seed modes.
const (
	ModeWeighted = "weighted"
	ModeFlat     = "flat"
)

// Tier names used in logs and degraded stage reports.
const (
	TierEntity     = "entity"
	TierStructural = "structural"
	TierThematic   = "thematic"
	TierSemantic   = "semantic"
)

// CommunityMatcher matches a query embedding against tenant communities.
type CommunityMatcher interface {
	MatchEmbedding(ctx context.Context, tenantID string, q *ai.QueryEmbedding, topK int) ([]common.CommunityMatch, error)
}

type Config struct {
	Mode                  string
	HubEntitiesPerSection int
	CommunityTopK         int
	MaxFlatPool           int
	SemanticTopK          int
	TierTimeout           time.Duration
}

// Request is one seed resolution. Embedding is shared with the rest of the
// retrieval run; Evidence is only read by the bottom-up structural strategy.
type Request struct {
	TenantID  string
	Query     string
	Profile   common.WeightProfile
	Embedding *ai.QueryEmbedding
	Evidence  SentenceEvidence
}

// Tiers is the outcome of seed resolution.
type Tiers struct {
	Tier1IDs    []string
	Tier2IDs    []string
	Tier3IDs    []string
	SemanticIDs []string

	WeightedSeeds    []common.WeightedSeed
	Damping          float64
	EffectiveWeights [3]float64

	StructuralSections []string
	Communities        []common.CommunityMatch
	Mode               string

	// Degraded names the tiers that failed or timed out and were treated as empty.
	Degraded []string
}

// Teleport returns the weighted seeds as an entity id to weight map.
func (t *Tiers) Teleport() map[string]float64 {
	out := make(map[string]float64, len(t.WeightedSeeds))
	for _, s := range t.WeightedSeeds {
		out[s.EntityID] += s.Weight
	}
	return out
}

type Resolver struct {
	entities    store.EntityStore
	sections    store.SectionStore
	extractor   ai.NameExtractor
	communities CommunityMatcher
	structural  StructuralStrategy
	cfg         Config
}

func NewResolver(
	entities store.EntityStore,
	sections store.SectionStore,
	extractor ai.NameExtractor,
	communities CommunityMatcher,
	structural StructuralStrategy,
	cfg Config,
) *Resolver {
	if cfg.Mode == "" {
		cfg.Mode = ModeWeighted
	}
	if cfg.HubEntitiesPerSection <= 0 {
		cfg.HubEntitiesPerSection = 5
	}
	if cfg.CommunityTopK <= 0 {
		cfg.CommunityTopK = 3
	}
	if cfg.MaxFlatPool <= 0 {
		cfg.MaxFlatPool = 50
	}
	if cfg.SemanticTopK <= 0 {
		cfg.SemanticTopK = 10
	}
	if cfg.TierTimeout <= 0 {
		cfg.TierTimeout = 10 * time.Second
	}
	return &Resolver{
		entities:    entities,
		sections:    sections,
		extractor:   extractor,
		communities: communities,
		structural:  structural,
		cfg:         cfg,
	}
}

// ResolveTiers resolves the three seed tiers concurrently, each under its own
// timeout. A failing tier is logged and treated as empty. Only missing
// tenants and invalid weights or damping are returned as errors.
func (r *Resolver) ResolveTiers(ctx context.Context, req Request) (*Tiers, error) {
	if req.TenantID == "" {
		return nil, common.ErrMissingTenant
	}
	if r.cfg.Mode == ModeWeighted {
		if err := ValidateProfile(req.Profile); err != nil {
			return nil, err
		}
	}
	if req.Embedding == nil {
		return nil, fmt.Errorf("seed resolution for tenant %s: query embedding is required", req.TenantID)
	}

	t := &Tiers{Mode: r.cfg.Mode}
	var mu sync.Mutex
	degrade := func(tier string, err error) {
		logger.Warn("[Seed] tier degraded", "tier", tier, "tenant", req.TenantID, "err", err)
		mu.Lock()
		t.Degraded = append(t.Degraded, tier)
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		tctx, cancel := context.WithTimeout(ctx, r.cfg.TierTimeout)
		defer cancel()
		ids, err := r.resolveEntityTier(tctx, req)
		if err != nil {
			degrade(TierEntity, err)
			return nil
		}
		t.Tier1IDs = ids
		return nil
	})
	g.Go(func() error {
		tctx, cancel := context.WithTimeout(ctx, r.cfg.TierTimeout)
		defer cancel()
		sections, ids, err := r.resolveStructuralTier(tctx, req)
		if err != nil {
			degrade(TierStructural, err)
			return nil
		}
		t.StructuralSections, t.Tier2IDs = sections, ids
		return nil
	})
	g.Go(func() error {
		tctx, cancel := context.WithTimeout(ctx, r.cfg.TierTimeout)
		defer cancel()
		matches, ids, err := r.resolveThematicTier(tctx, req)
		if err != nil {
			degrade(TierThematic, err)
			return nil
		}
		t.Communities, t.Tier3IDs = matches, ids
		return nil
	})
	if r.cfg.Mode == ModeFlat {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(ctx, r.cfg.TierTimeout)
			defer cancel()
			ids, err := r.resolveSemanticAddon(tctx, req)
			if err != nil {
				degrade(TierSemantic, err)
				return nil
			}
			t.SemanticIDs = ids
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(t.Degraded)

	var err error
	if r.cfg.Mode == ModeFlat {
		err = r.buildFlat(t)
	} else {
		err = r.buildWeighted(t, req.Profile)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("[Seed] resolved tiers",
		"tenant", req.TenantID,
		"mode", t.Mode,
		"tier1", len(t.Tier1IDs),
		"tier2", len(t.Tier2IDs),
		"tier3", len(t.Tier3IDs),
		"seeds", len(t.WeightedSeeds),
		"damping", t.Damping,
	)
	return t, nil
}

func (r *Resolver) resolveEntityTier(ctx context.Context, req Request) ([]string, error) {
	names, err := r.extractor.ExtractEntityNames(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	perName := make([][]string, len(names))
	var keys []string
	for i, name := range names {
		perName[i] = canonical.LookupKeys(name)
		keys = append(keys, perName[i]...)
	}
	resolved, err := r.entities.ResolveEntityKeys(ctx, req.TenantID, store.DedupeStrings(keys))
	if err != nil {
		return nil, err
	}

	var ids []string
	for i, name := range names {
		found := false
		for _, k := range perName[i] {
			if id, ok := resolved[k]; ok {
				ids = append(ids, id)
				found = true
				break
			}
		}
		if !found {
			logger.Debug("[Seed] extracted name has no entity", "tenant", req.TenantID, "name", name)
		}
	}
	return store.DedupeStrings(ids), nil
}

func (r *Resolver) resolveStructuralTier(ctx context.Context, req Request) ([]string, []string, error) {
	if r.structural == nil {
		return nil, nil, nil
	}
	sections, err := r.structural.ResolveSections(ctx, StructuralRequest{
		TenantID:  req.TenantID,
		Query:     req.Query,
		Embedding: req.Embedding,
		Evidence:  req.Evidence,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(sections) == 0 {
		return nil, nil, nil
	}
	hubs, err := r.sections.GetSectionHubEntities(ctx, req.TenantID, sections, r.cfg.HubEntitiesPerSection)
	if err != nil {
		return nil, nil, err
	}
	return sections, store.DedupeStrings(hubs), nil
}

func (r *Resolver) resolveThematicTier(ctx context.Context, req Request) ([]common.CommunityMatch, []string, error) {
	if r.communities == nil {
		return nil, nil, nil
	}
	matches, err := r.communities.MatchEmbedding(ctx, req.TenantID, req.Embedding, r.cfg.CommunityTopK)
	if err != nil {
		return nil, nil, err
	}
	var members []string
	for _, m := range matches {
		members = append(members, m.Community.MemberEntityIDs...)
	}
	return matches, store.DedupeStrings(members), nil
}

func (r *Resolver) resolveSemanticAddon(ctx context.Context, req Request) ([]string, error) {
	vec, err := req.Embedding.Get(ctx)
	if err != nil {
		return nil, err
	}
	hits, err := r.entities.SearchEntitiesByEmbedding(ctx, req.TenantID, vec, r.cfg.SemanticTopK)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

func (r *Resolver) buildWeighted(t *Tiers, profile common.WeightProfile) error {
	tiers := [3][]string{t.Tier1IDs, t.Tier2IDs, t.Tier3IDs}
	nonEmpty := [3]bool{len(tiers[0]) > 0, len(tiers[1]) > 0, len(tiers[2]) > 0}
	t.EffectiveWeights = Redistribute(profile.Weights(), nonEmpty)

	damping, err := Damping(t.EffectiveWeights[0])
	if err != nil {
		return err
	}
	t.Damping = damping

	weights := make(map[string]float64)
	var order []string
	for i, ids := range tiers {
		if len(ids) == 0 || t.EffectiveWeights[i] == 0 {
			continue
		}
		share := t.EffectiveWeights[i] / float64(len(ids))
		for _, id := range ids {
			if _, ok := weights[id]; !ok {
				order = append(order, id)
			}
			weights[id] += share
		}
	}
	t.WeightedSeeds = sortedSeeds(order, weights)
	return nil
}

// buildFlat pools the tiers in priority order entity, thematic, structural,
// semantic and truncates the lowest priority entries first.
func (r *Resolver) buildFlat(t *Tiers) error {
	var pool []string
	pool = append(pool, t.Tier1IDs...)
	pool = append(pool, t.Tier3IDs...)
	pool = append(pool, t.Tier2IDs...)
	pool = append(pool, t.SemanticIDs...)
	pool = store.DedupeStrings(pool)
	if len(pool) > r.cfg.MaxFlatPool {
		pool = pool[:r.cfg.MaxFlatPool]
	}

	t.Damping = FlatDamping
	if len(pool) == 0 {
		return nil
	}
	w := 1 / float64(len(pool))
	t.WeightedSeeds = make([]common.WeightedSeed, 0, len(pool))
	for _, id := range pool {
		t.WeightedSeeds = append(t.WeightedSeeds, common.WeightedSeed{EntityID: id, Weight: w})
	}
	return nil
}

func sortedSeeds(order []string, weights map[string]float64) []common.WeightedSeed {
	out := make([]common.WeightedSeed, 0, len(order))
	for _, id := range order {
		out = append(out, common.WeightedSeed{EntityID: id, Weight: weights[id]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Weight > out[j].Weight
	})
	return out
}
