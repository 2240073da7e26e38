// Package retrieval runs the hybrid retrieval pipeline: seed resolution and
// sentence retrieval in parallel, personalized PageRank over the seeds, and a
// merge of both evidence streams into one bundle.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/internal/util"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/community"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ppr"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/query"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/seed"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/sentence"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"
)

// Deps are the collaborators of an Orchestrator. Backend, Embedder and
// Extractor are required; everything else is optional.
type Deps struct {
	Backend   store.GraphBackend
	Embedder  ai.Embedder
	Extractor ai.NameExtractor

	Selector    ai.SectionSelector
	Reranker    ai.Reranker
	Tokens      *ai.TokenTruncator
	Synthesizer query.Synthesizer

	// Communities is shared across orchestrators when set. Otherwise one is
	// built on Backend, writing refreshed embeddings through Writer or, when
	// Writer is nil, straight to Backend.
	Communities *community.Index
	Writer      community.EmbeddingWriter
}

// Request is one retrieval run. A zero Profile selects the configured weight
// profile. Tracer and History are optional.
type Request struct {
	TenantID string
	Query    string
	Profile  common.WeightProfile
	History  []ai.ChatMessage
	Tracer   query.Tracer
}

// Answer is a synthesized answer together with the evidence it was built on.
type Answer struct {
	Text      string                 `json:"answer"`
	Citations []string               `json:"citations"`
	Bundle    *common.EvidenceBundle `json:"evidence"`
}

type Orchestrator struct {
	cfg     Config
	profile common.WeightProfile

	embedder    ai.Embedder
	communities *community.Index
	resolver    *seed.Resolver
	sentences   *sentence.Retriever
	traversal   *ppr.Traversal
	synthesizer query.Synthesizer
}

// New validates cfg and wires the pipeline.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Backend == nil || deps.Embedder == nil || deps.Extractor == nil {
		return nil, fmt.Errorf("%w: backend, embedder and extractor are required", ErrInvalidConfig)
	}
	profile, err := seed.ProfileByName(cfg.WeightProfile)
	if err != nil {
		return nil, err
	}

	idx := deps.Communities
	if idx == nil {
		writer := deps.Writer
		if writer == nil {
			writer = community.StoreWriter{Store: deps.Backend}
		}
		idx = community.NewIndex(deps.Backend, deps.Embedder, writer, cfg.CommunityOptions())
	}

	structural, err := seed.NewStructuralStrategy(cfg.StructuralStrategy, seed.StructuralDeps{
		Sections:      deps.Backend,
		Selector:      deps.Selector,
		TopK:          cfg.SectionTopK,
		MinSimilarity: cfg.SectionMinSimilarity,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &Orchestrator{
		cfg:         cfg,
		profile:     profile,
		embedder:    deps.Embedder,
		communities: idx,
		resolver:    seed.NewResolver(deps.Backend, deps.Backend, deps.Extractor, idx, structural, cfg.seedConfig()),
		sentences:   sentence.NewRetriever(deps.Backend, deps.Embedder, deps.Reranker, deps.Tokens, cfg.sentenceConfig()),
		traversal:   ppr.NewTraversal(deps.Backend, cfg.pprConfig()),
		synthesizer: deps.Synthesizer,
	}, nil
}

// Communities returns the community index used for thematic seeds.
func (o *Orchestrator) Communities() *community.Index {
	return o.communities
}

// Close waits for pending community write-backs.
func (o *Orchestrator) Close() {
	o.communities.Flush()
}

func (o *Orchestrator) resolveProfile(p common.WeightProfile) (common.WeightProfile, error) {
	if p == (common.WeightProfile{}) {
		return o.profile, nil
	}
	if p.W1 == 0 && p.W2 == 0 && p.W3 == 0 {
		return seed.ProfileByName(p.Label)
	}
	if err := seed.ValidateProfile(p); err != nil {
		return common.WeightProfile{}, err
	}
	return p, nil
}

// ResolveAndRetrieve runs the pipeline for one query.
//
// Tier failures and sentence retrieval failures or timeouts only reduce the
// evidence. A failing PageRank run is returned as *StageError. When neither
// stream found anything the bundle is marked Negative and carries empty lists.
func (o *Orchestrator) ResolveAndRetrieve(ctx context.Context, req Request) (*common.EvidenceBundle, error) {
	if req.TenantID == "" {
		return nil, ErrMissingTenant
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	profile, err := o.resolveProfile(req.Profile)
	if err != nil {
		return nil, err
	}

	ctx, usage, ownUsage := withRequestUsage(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	q := ai.NewQueryEmbedding(o.embedder, req.Query)
	evidence := startSentenceRetrieval(ctx, o.sentences, req.TenantID, q, o.cfg.SentenceTopK, o.cfg.SentenceTimeout)

	tiers, err := o.resolver.ResolveTiers(ctx, seed.Request{
		TenantID:  req.TenantID,
		Query:     req.Query,
		Profile:   profile,
		Embedding: q,
		Evidence:  evidence,
	})
	if err != nil {
		return nil, err
	}
	traceTiers(req.Tracer, tiers)
	query.RecordStage(req.Tracer, "seed", time.Since(start))

	pprStart := time.Now()
	entities, err := o.traversal.Traverse(ctx, req.TenantID, tiers.WeightedSeeds, tiers.Damping)
	if err != nil {
		logger.Error("[Retrieval] traversal failed", "tenant", req.TenantID, "seeds", len(tiers.WeightedSeeds), "err", err)
		return nil, &StageError{
			Stage:     StagePPR,
			TenantID:  req.TenantID,
			Query:     req.Query,
			SeedCount: len(tiers.WeightedSeeds),
			Err:       err,
		}
	}
	query.RecordStage(req.Tracer, StagePPR, time.Since(pprStart))

	passages, err := evidence.Wait(ctx)
	if err != nil {
		logger.Warn("[Retrieval] sentence retrieval degraded, continuing with entity evidence only",
			"tenant", req.TenantID, "err", err)
		query.RecordDegraded(req.Tracer, "sentence", err)
		passages = nil
	} else {
		query.RecordStage(req.Tracer, "sentence", evidence.took)
		if evidence.stats.RerankFallback {
			query.RecordDegraded(req.Tracer, "rerank", nil)
		}
	}

	bundle := merge(req, entities, passages, tiers.Communities)

	ids := make([]string, len(bundle.RankedEntities))
	for i, e := range bundle.RankedEntities {
		ids[i] = e.EntityID
	}
	query.RecordRankedEntities(req.Tracer, ids...)
	pids := make([]string, len(bundle.RankedPassages))
	for i, p := range bundle.RankedPassages {
		pids[i] = p.SentenceID
	}
	query.RecordConsideredPassages(req.Tracer, pids...)
	if ownUsage {
		query.RecordModelUsage(req.Tracer, usage.Metrics())
	}

	logger.Info("[Retrieval] evidence bundle ready",
		"tenant", req.TenantID,
		"mode", tiers.Mode,
		"seeds", len(tiers.WeightedSeeds),
		"entities", len(bundle.RankedEntities),
		"passages", len(bundle.RankedPassages),
		"communities", len(bundle.MatchedCommunities),
		"negative", bundle.Negative,
		"degraded", tiers.Degraded,
		"took", time.Since(start),
	)
	return bundle, nil
}

// withRequestUsage attaches a model usage counter to ctx unless one is
// already present. owned reports whether this call attached it.
func withRequestUsage(ctx context.Context) (context.Context, *ai.Usage, bool) {
	if u := ai.UsageFromContext(ctx); u != nil {
		return ctx, u, false
	}
	usage := &ai.Usage{}
	return ai.WithUsage(ctx, usage), usage, true
}

// merge concatenates both evidence streams without re-ranking across them.
func merge(req Request, entities []common.ScoredEntity, passages []common.PassageEvidence, matches []common.CommunityMatch) *common.EvidenceBundle {
	bundle := &common.EvidenceBundle{
		TenantID:           req.TenantID,
		Query:              req.Query,
		RankedEntities:     []common.ScoredEntity{},
		RankedPassages:     []common.PassageEvidence{},
		MatchedCommunities: []common.Community{},
	}
	if len(entities) == 0 && len(passages) == 0 {
		bundle.Negative = true
		return bundle
	}
	bundle.RankedEntities = append(bundle.RankedEntities, entities...)
	bundle.RankedPassages = append(bundle.RankedPassages, passages...)
	for _, m := range matches {
		bundle.MatchedCommunities = append(bundle.MatchedCommunities, m.Community)
	}
	return bundle
}

func traceTiers(t query.Tracer, tiers *seed.Tiers) {
	if t == nil {
		return
	}
	query.RecordTierIDs(t, seed.TierEntity, tiers.Tier1IDs...)
	query.RecordTierIDs(t, seed.TierStructural, tiers.Tier2IDs...)
	query.RecordTierIDs(t, seed.TierThematic, tiers.Tier3IDs...)
	if len(tiers.SemanticIDs) > 0 {
		query.RecordTierIDs(t, seed.TierSemantic, tiers.SemanticIDs...)
	}
	query.RecordSections(t, tiers.StructuralSections...)
	communities := make([]string, len(tiers.Communities))
	for i, m := range tiers.Communities {
		communities[i] = m.Community.ID
	}
	query.RecordCommunities(t, communities...)
	query.RecordSeeds(t, tiers.WeightedSeeds, tiers.Damping)
	for _, tier := range tiers.Degraded {
		query.RecordDegraded(t, tier, nil)
	}
}

// Answer retrieves evidence and synthesizes an answer from it. Negative
// bundles get the fixed no-data answer and never reach the synthesizer.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Answer, error) {
	if o.synthesizer == nil {
		return nil, ErrNoSynthesizer
	}
	ctx, usage, ownUsage := withRequestUsage(ctx)
	bundle, err := o.ResolveAndRetrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	if ownUsage {
		defer func() { query.RecordModelUsage(req.Tracer, usage.Metrics()) }()
	}
	if bundle.Negative {
		return &Answer{Text: ai.NoDataMessage, Citations: []string{}, Bundle: bundle}, nil
	}

	start := time.Now()
	text, err := o.synthesizer.Synthesize(ctx, bundle, req.History)
	if err != nil {
		return nil, &StageError{
			Stage:    StageSynthesis,
			TenantID: req.TenantID,
			Query:    req.Query,
			Err:      err,
		}
	}
	query.RecordStage(req.Tracer, StageSynthesis, time.Since(start))

	citations := util.ExtractCitations(text)
	query.RecordUsedPassages(req.Tracer, citations...)
	return &Answer{Text: text, Citations: citations, Bundle: bundle}, nil
}
