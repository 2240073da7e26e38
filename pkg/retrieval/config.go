package retrieval

import (
	"errors"
	"fmt"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/internal/util"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/community"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ppr"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/seed"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/sentence"

	"github.com/go-playground/validator"
)

var ErrInvalidConfig = errors.New("invalid retrieval config")

// Config tunes every stage of a retrieval run.
type Config struct {
	SeedMode           string `validate:"oneof=weighted flat"`
	WeightProfile      string `validate:"omitempty,oneof=entity_focused balanced thematic structural"`
	StructuralStrategy string `validate:"omitempty,oneof=embedding llm hybrid bottom_up"`

	SectionTopK           int     `validate:"gte=1"`
	SectionMinSimilarity  float64 `validate:"gte=-1,lte=1"`
	HubEntitiesPerSection int     `validate:"gte=1"`

	CommunityTopK          int           `validate:"gte=0"`
	CommunityMinSimilarity float64       `validate:"gte=-1,lte=1"`
	CommunityCacheTTL      time.Duration `validate:"gt=0"`

	FlatMaxPool  int `validate:"gte=1"`
	SemanticTopK int `validate:"gte=1"`

	SentenceTopK                int     `validate:"gte=1"`
	SentenceMinSimilarity       float64 `validate:"gte=-1,lte=1"`
	SentenceCandidateMultiplier int     `validate:"gte=1"`
	SentenceRelatedExpansion    bool
	SentenceRelatedPerSentence  int     `validate:"gte=1"`
	SentenceHopDecay            float64 `validate:"gt=0,lte=1"`
	SentenceMaxPassageTokens    int     `validate:"gte=0"`

	RerankEnabled  bool
	RerankPoolSize int `validate:"gte=1"`

	DiversifyEnabled   bool
	DiversifyMinPerDoc int     `validate:"gte=0"`
	DiversifyScoreGate float64 `validate:"gt=0,lte=1"`

	PPRTopK             int `validate:"gte=1"`
	PPRPerSeedLimit     int `validate:"gte=1"`
	PPRPerNeighborLimit int `validate:"gte=1"`
	PPRSeedBudget       int `validate:"gte=1"`
	PPRNeighborBudget   int `validate:"gte=1"`
	PPRLimitFloor       int `validate:"gte=1"`

	TierTimeout      time.Duration `validate:"gt=0"`
	SentenceTimeout  time.Duration `validate:"gt=0"`
	PPRTimeout       time.Duration `validate:"gt=0"`
	RerankTimeout    time.Duration `validate:"gt=0"`
	WriteBackTimeout time.Duration `validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		SeedMode:           seed.ModeWeighted,
		WeightProfile:      seed.ProfileBalanced.Label,
		StructuralStrategy: seed.StrategyHybrid,

		SectionTopK:           5,
		SectionMinSimilarity:  0.3,
		HubEntitiesPerSection: 5,

		CommunityTopK:          3,
		CommunityMinSimilarity: community.DefaultMinSimilarity,
		CommunityCacheTTL:      community.DefaultTTL,

		FlatMaxPool:  50,
		SemanticTopK: 10,

		SentenceTopK:                8,
		SentenceMinSimilarity:       0.2,
		SentenceCandidateMultiplier: 4,
		SentenceRelatedExpansion:    true,
		SentenceRelatedPerSentence:  3,
		SentenceHopDecay:            0.85,
		SentenceMaxPassageTokens:    400,

		RerankEnabled:  false,
		RerankPoolSize: 20,

		DiversifyEnabled:   true,
		DiversifyMinPerDoc: 2,
		DiversifyScoreGate: 0.85,

		PPRTopK:             20,
		PPRPerSeedLimit:     25,
		PPRPerNeighborLimit: 10,
		PPRSeedBudget:       200,
		PPRNeighborBudget:   100,
		PPRLimitFloor:       2,

		TierTimeout:      10 * time.Second,
		SentenceTimeout:  10 * time.Second,
		PPRTimeout:       15 * time.Second,
		RerankTimeout:    5 * time.Second,
		WriteBackTimeout: community.DefaultWriteBackTimeout,
	}
}

// ConfigFromEnv reads the retrieval config from the environment, falling back
// to DefaultConfig for unset variables.
func ConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		SeedMode:           util.GetEnvString("SEED_MODE", d.SeedMode),
		WeightProfile:      util.GetEnvString("WEIGHT_PROFILE", d.WeightProfile),
		StructuralStrategy: util.GetEnvString("STRUCTURAL_STRATEGY", d.StructuralStrategy),

		SectionTopK:           util.GetEnvInt("SECTION_TOP_K", d.SectionTopK),
		SectionMinSimilarity:  util.GetEnvFloat("SECTION_MIN_SIMILARITY", d.SectionMinSimilarity),
		HubEntitiesPerSection: util.GetEnvInt("HUB_ENTITIES_PER_SECTION", d.HubEntitiesPerSection),

		CommunityTopK:          util.GetEnvInt("COMMUNITY_TOP_K", d.CommunityTopK),
		CommunityMinSimilarity: util.GetEnvFloat("COMMUNITY_MIN_SIMILARITY", d.CommunityMinSimilarity),
		CommunityCacheTTL:      time.Duration(util.GetEnvInt("COMMUNITY_CACHE_TTL_SEC", int(d.CommunityCacheTTL/time.Second))) * time.Second,

		FlatMaxPool:  util.GetEnvInt("FLAT_MAX_POOL", d.FlatMaxPool),
		SemanticTopK: util.GetEnvInt("SEMANTIC_TOP_K", d.SemanticTopK),

		SentenceTopK:                util.GetEnvInt("SENTENCE_TOP_K", d.SentenceTopK),
		SentenceMinSimilarity:       util.GetEnvFloat("SENTENCE_MIN_SIMILARITY", d.SentenceMinSimilarity),
		SentenceCandidateMultiplier: util.GetEnvInt("SENTENCE_CANDIDATE_MULTIPLIER", d.SentenceCandidateMultiplier),
		SentenceRelatedExpansion:    util.GetEnvBool("SENTENCE_RELATED_EXPANSION", d.SentenceRelatedExpansion),
		SentenceRelatedPerSentence:  util.GetEnvInt("SENTENCE_RELATED_PER_SENTENCE", d.SentenceRelatedPerSentence),
		SentenceHopDecay:            util.GetEnvFloat("SENTENCE_HOP_DECAY", d.SentenceHopDecay),
		SentenceMaxPassageTokens:    util.GetEnvInt("SENTENCE_MAX_PASSAGE_TOKENS", d.SentenceMaxPassageTokens),

		RerankEnabled:  util.GetEnvBool("RERANK_ENABLED", d.RerankEnabled),
		RerankPoolSize: util.GetEnvInt("RERANK_POOL_SIZE", d.RerankPoolSize),

		DiversifyEnabled:   util.GetEnvBool("DIVERSIFY_ENABLED", d.DiversifyEnabled),
		DiversifyMinPerDoc: util.GetEnvInt("DIVERSIFY_MIN_PER_DOC", d.DiversifyMinPerDoc),
		DiversifyScoreGate: util.GetEnvFloat("DIVERSIFY_SCORE_GATE", d.DiversifyScoreGate),

		PPRTopK:             util.GetEnvInt("PPR_TOP_K", d.PPRTopK),
		PPRPerSeedLimit:     util.GetEnvInt("PPR_PER_SEED_LIMIT", d.PPRPerSeedLimit),
		PPRPerNeighborLimit: util.GetEnvInt("PPR_PER_NEIGHBOR_LIMIT", d.PPRPerNeighborLimit),
		PPRSeedBudget:       util.GetEnvInt("PPR_SEED_BUDGET", d.PPRSeedBudget),
		PPRNeighborBudget:   util.GetEnvInt("PPR_NEIGHBOR_BUDGET", d.PPRNeighborBudget),
		PPRLimitFloor:       util.GetEnvInt("PPR_LIMIT_FLOOR", d.PPRLimitFloor),

		TierTimeout:      util.GetEnvMillis("TIER_TIMEOUT_MS", d.TierTimeout),
		SentenceTimeout:  util.GetEnvMillis("SENTENCE_TIMEOUT_MS", d.SentenceTimeout),
		PPRTimeout:       util.GetEnvMillis("PPR_TIMEOUT_MS", d.PPRTimeout),
		RerankTimeout:    util.GetEnvMillis("RERANK_TIMEOUT_MS", d.RerankTimeout),
		WriteBackTimeout: util.GetEnvMillis("WRITEBACK_TIMEOUT_MS", d.WriteBackTimeout),
	}
}

var validate = validator.New()

// Validate checks field ranges and the relations between fields. Weight
// problems are reported as seed.ErrInvalidWeights, everything else as
// ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.PPRLimitFloor > c.PPRPerSeedLimit || c.PPRLimitFloor > c.PPRPerNeighborLimit {
		return fmt.Errorf("%w: PPR limit floor %d exceeds a per-node limit", ErrInvalidConfig, c.PPRLimitFloor)
	}
	if c.SeedMode == seed.ModeWeighted {
		p, err := seed.ProfileByName(c.WeightProfile)
		if err != nil {
			return err
		}
		if err := seed.ValidateProfile(p); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) seedConfig() seed.Config {
	return seed.Config{
		Mode:                  c.SeedMode,
		HubEntitiesPerSection: c.HubEntitiesPerSection,
		CommunityTopK:         c.CommunityTopK,
		MaxFlatPool:           c.FlatMaxPool,
		SemanticTopK:          c.SemanticTopK,
		TierTimeout:           c.TierTimeout,
	}
}

func (c Config) sentenceConfig() sentence.Config {
	return sentence.Config{
		TopK:                c.SentenceTopK,
		MinSimilarity:       c.SentenceMinSimilarity,
		CandidateMultiplier: c.SentenceCandidateMultiplier,
		RelatedExpansion:    c.SentenceRelatedExpansion,
		RelatedPerSentence:  c.SentenceRelatedPerSentence,
		HopDecay:            c.SentenceHopDecay,
		MaxPassageTokens:    c.SentenceMaxPassageTokens,
		Diversify:           c.DiversifyEnabled,
		MinPerDoc:           c.DiversifyMinPerDoc,
		ScoreGate:           c.DiversifyScoreGate,
		Rerank:              c.RerankEnabled,
		RerankPoolSize:      c.RerankPoolSize,
		RerankTimeout:       c.RerankTimeout,
	}
}

func (c Config) pprConfig() ppr.Config {
	return ppr.Config{
		TopK:             c.PPRTopK,
		PerSeedLimit:     c.PPRPerSeedLimit,
		PerNeighborLimit: c.PPRPerNeighborLimit,
		SeedBudget:       c.PPRSeedBudget,
		NeighborBudget:   c.PPRNeighborBudget,
		LimitFloor:       c.PPRLimitFloor,
		Timeout:          c.PPRTimeout,
	}
}

// CommunityOptions returns the options for a community index shared with
// this config.
func (c Config) CommunityOptions() community.Options {
	return community.Options{
		MinSimilarity:    c.CommunityMinSimilarity,
		TTL:              c.CommunityCacheTTL,
		WriteBackTimeout: c.WriteBackTimeout,
	}
}
