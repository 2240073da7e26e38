package store

import (
	"context"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
)

// Every method takes the tenant id first and must scope all reads and writes to it.

// EntityStore resolves entities by canonical key or by embedding.
type EntityStore interface {
	// ResolveEntityKeys maps canonical keys (entity keys or alias keys) to
	// entity ids. Keys without a match are absent from the result.
	ResolveEntityKeys(ctx context.Context, tenantID string, keys []string) (map[string]string, error)
	SearchEntitiesByEmbedding(ctx context.Context, tenantID string, embedding []float32, limit int) ([]ScoredID, error)
}

// SectionStore serves structural seeds.
type SectionStore interface {
	SearchSectionsByStructure(ctx context.Context, tenantID string, embedding []float32, limit int, minSimilarity float64) ([]ScoredID, error)
	ListSectionHeadings(ctx context.Context, tenantID string) ([]common.SectionHeading, error)
	// GetSectionHubEntities returns up to perSection most mentioned entities of
	// every section, ordered by section then mention count.
	GetSectionHubEntities(ctx context.Context, tenantID string, sectionIDs []string, perSection int) ([]string, error)
}

// SentenceStore serves sentence level vector evidence.
type SentenceStore interface {
	SearchSentences(ctx context.Context, tenantID string, embedding []float32, limit int, minSimilarity float64) ([]SentenceHit, error)
	GetSequentialNeighbours(ctx context.Context, tenantID string, sentenceIDs []string) (map[string]SentenceNeighbours, error)
	GetRelatedSentences(ctx context.Context, tenantID string, sentenceIDs []string, perSentence int) ([]RelatedSentence, error)
}

// CommunityStore loads communities and persists refreshed embeddings.
type CommunityStore interface {
	LoadCommunities(ctx context.Context, tenantID string) ([]common.Community, error)
	// LoadCommunitySources returns the embeddable text of every community
	// without vectors. It backs the freshness check of cached communities.
	LoadCommunitySources(ctx context.Context, tenantID string) ([]CommunitySource, error)
	// UpdateCommunityEmbeddings writes only embedding and embedding text hash.
	UpdateCommunityEmbeddings(ctx context.Context, tenantID string, updates []CommunityEmbeddingUpdate) error
}

// PageRankBackend runs weighted personalized PageRank over the entity graph.
type PageRankBackend interface {
	PersonalizedPageRank(ctx context.Context, req PageRankRequest) ([]common.ScoredEntity, error)
}

// GraphBackend is the full persistence surface used by the retrieval engine.
type GraphBackend interface {
	EntityStore
	SectionStore
	SentenceStore
	CommunityStore
	PageRankBackend
	Close()
}

// ScoredID is an id with a similarity score.
type ScoredID struct {
	ID    string
	Score float64
}

// SentenceHit is a vector search result.
type SentenceHit struct {
	Sentence common.Sentence
	Score    float64
}

// SentenceNeighbours holds the NEXT and PREV sentences of the same chunk, if any.
type SentenceNeighbours struct {
	Prev *common.Sentence
	Next *common.Sentence
}

// RelatedSentence is reached from FromID over a RELATED_TO edge.
type RelatedSentence struct {
	FromID     string
	Sentence   common.Sentence
	Similarity float64
}

// CommunitySource is the stored text a community embedding is computed from.
type CommunitySource struct {
	ID              string
	Title           string
	Summary         string
	MemberEntityIDs []string
	MemberNames     []string
}

// CommunityEmbeddingUpdate is a refreshed community vector.
type CommunityEmbeddingUpdate struct {
	CommunityID string    `json:"community_id"`
	Embedding   []float32 `json:"embedding"`
	TextHash    string    `json:"text_hash"`
}

// PageRankRequest parameterizes a PPR run.
//
// Seeds is the teleportation vector (entity id → weight, summing to 1).
// PerSeedLimit bounds the neighbours expanded from each seed, PerNeighborLimit
// the neighbours expanded from each first-hop node.
type PageRankRequest struct {
	TenantID         string
	Seeds            map[string]float64
	Damping          float64
	TopK             int
	PerSeedLimit     int
	PerNeighborLimit int
}
