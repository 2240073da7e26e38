// Package sentence retrieves sentence level vector evidence and turns it into
// ranked passages.
package sentence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"
)

type Config struct {
	TopK                int
	MinSimilarity       float64
	CandidateMultiplier int

	RelatedExpansion   bool
	RelatedPerSentence int
	HopDecay           float64

	MaxPassageTokens int

	Diversify bool
	MinPerDoc int
	ScoreGate float64

	Rerank         bool
	RerankPoolSize int // passages sent to the reranker, output is cut to topK
	RerankTimeout  time.Duration
}

// Stats describes one retrieval run.
type Stats struct {
	VectorHits     int
	RelatedHits    int
	Denoised       int
	Candidates     int
	Reranked       bool
	RerankFallback bool
}

type Retriever struct {
	sentences store.SentenceStore
	embedder  ai.Embedder
	reranker  ai.Reranker
	tokens    *ai.TokenTruncator
	cfg       Config
}

// NewRetriever creates a Retriever. reranker and tokens may be nil, which
// disables reranking and the passage token cap.
func NewRetriever(sentences store.SentenceStore, embedder ai.Embedder, reranker ai.Reranker, tokens *ai.TokenTruncator, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 4
	}
	if cfg.RelatedPerSentence <= 0 {
		cfg.RelatedPerSentence = 3
	}
	if cfg.HopDecay <= 0 {
		cfg.HopDecay = 0.85
	}
	if cfg.MinPerDoc < 0 {
		cfg.MinPerDoc = 0
	}
	if cfg.ScoreGate <= 0 {
		cfg.ScoreGate = 0.85
	}
	if cfg.RerankTimeout <= 0 {
		cfg.RerankTimeout = 5 * time.Second
	}
	if reranker == nil {
		cfg.Rerank = false
	}
	return &Retriever{
		sentences: sentences,
		embedder:  embedder,
		reranker:  reranker,
		tokens:    tokens,
		cfg:       cfg,
	}
}

func (r *Retriever) Retrieve(ctx context.Context, tenantID, query string, topK int) ([]common.PassageEvidence, error) {
	passages, _, err := r.RetrieveEmbedding(ctx, tenantID, ai.NewQueryEmbedding(r.embedder, query), topK)
	return passages, err
}

type candidate struct {
	sentence   common.Sentence
	text       string
	score      float64
	provenance string
}

// RetrieveEmbedding runs the pipeline for a shared query embedding. Failures
// of the optional stages (related expansion, neighbour expansion, rerank) are
// logged and skipped; only embedding and vector search errors are returned.
func (r *Retriever) RetrieveEmbedding(ctx context.Context, tenantID string, q *ai.QueryEmbedding, topK int) ([]common.PassageEvidence, Stats, error) {
	var stats Stats
	if tenantID == "" {
		return nil, stats, common.ErrMissingTenant
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	vec, err := q.Get(ctx)
	if err != nil {
		return nil, stats, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.sentences.SearchSentences(ctx, tenantID, vec, topK*r.cfg.CandidateMultiplier, r.cfg.MinSimilarity)
	if err != nil {
		return nil, stats, fmt.Errorf("search sentences: %w", err)
	}
	stats.VectorHits = len(hits)
	if len(hits) == 0 {
		return nil, stats, nil
	}

	byID := make(map[string]*candidate, len(hits))
	order := make([]string, 0, len(hits))
	add := func(s common.Sentence, score float64, provenance string) {
		if c, ok := byID[s.ID]; ok {
			if score > c.score {
				c.score = score
				c.provenance = provenance
			}
			return
		}
		byID[s.ID] = &candidate{sentence: s, score: score, provenance: provenance}
		order = append(order, s.ID)
	}
	for _, h := range hits {
		add(h.Sentence, h.Score, common.ProvenanceVector)
	}

	if r.cfg.RelatedExpansion {
		stats.RelatedHits = r.expandRelated(ctx, tenantID, order, byID, add)
	}

	kept := make([]*candidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		text, ok := Denoise(c.sentence)
		if !ok {
			stats.Denoised++
			continue
		}
		c.text = text
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil, stats, nil
	}

	passages := r.buildPassages(ctx, tenantID, kept)
	stats.Candidates = len(passages)
	Rank(passages)

	selected := r.selectTop(passages, topK)
	if !r.cfg.Rerank {
		return selected, stats, nil
	}

	pool := r.selectTop(passages, max(topK, r.cfg.RerankPoolSize))
	reranked, err := r.rerank(ctx, q.Query(), pool, topK)
	if err != nil {
		logger.Warn("[Sentence] rerank failed, keeping vector order", "tenant", tenantID, "err", err)
		stats.RerankFallback = true
		return selected, stats, nil
	}
	stats.Reranked = true
	return reranked, stats, nil
}

func (r *Retriever) expandRelated(
	ctx context.Context,
	tenantID string,
	seeds []string,
	byID map[string]*candidate,
	add func(common.Sentence, float64, string),
) int {
	related, err := r.sentences.GetRelatedSentences(ctx, tenantID, seeds, r.cfg.RelatedPerSentence)
	if err != nil {
		logger.Warn("[Sentence] related expansion failed", "tenant", tenantID, "err", err)
		return 0
	}
	seedScore := make(map[string]float64, len(seeds))
	for _, id := range seeds {
		seedScore[id] = byID[id].score
	}
	for _, rel := range related {
		base, ok := seedScore[rel.FromID]
		if !ok {
			continue
		}
		add(rel.Sentence, base*rel.Similarity*r.cfg.HopDecay, common.ProvenanceRelated)
	}
	return len(related)
}

// buildPassages joins every kept sentence with its NEXT and PREV neighbours
// of the same chunk. Noisy neighbours are left out.
func (r *Retriever) buildPassages(ctx context.Context, tenantID string, kept []*candidate) []common.PassageEvidence {
	ids := make([]string, len(kept))
	for i, c := range kept {
		ids[i] = c.sentence.ID
	}
	neighbours, err := r.sentences.GetSequentialNeighbours(ctx, tenantID, ids)
	if err != nil {
		logger.Warn("[Sentence] neighbour expansion failed", "tenant", tenantID, "err", err)
		neighbours = nil
	}

	out := make([]common.PassageEvidence, 0, len(kept))
	for _, c := range kept {
		parts := make([]string, 0, 3)
		n := neighbours[c.sentence.ID]
		if n.Prev != nil {
			if text, ok := Denoise(*n.Prev); ok {
				parts = append(parts, text)
			}
		}
		parts = append(parts, c.text)
		if n.Next != nil {
			if text, ok := Denoise(*n.Next); ok {
				parts = append(parts, text)
			}
		}
		text := strings.Join(parts, " ")
		if r.tokens != nil && r.cfg.MaxPassageTokens > 0 {
			text = r.tokens.Truncate(text, r.cfg.MaxPassageTokens)
		}

		out = append(out, common.PassageEvidence{
			SentenceID:    c.sentence.ID,
			Text:          text,
			DocumentID:    c.sentence.DocumentID,
			DocumentTitle: c.sentence.DocumentTitle,
			SectionID:     c.sentence.SectionID,
			SectionPath:   c.sentence.SectionPath,
			Score:         c.score,
			Provenance:    c.provenance,
		})
	}
	return out
}

func (r *Retriever) selectTop(ranked []common.PassageEvidence, k int) []common.PassageEvidence {
	if r.cfg.Diversify {
		return Diversify(ranked, k, r.cfg.MinPerDoc, r.cfg.ScoreGate)
	}
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return append([]common.PassageEvidence(nil), ranked...)
}

func (r *Retriever) rerank(ctx context.Context, query string, pool []common.PassageEvidence, topK int) ([]common.PassageEvidence, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RerankTimeout)
	defer cancel()

	docs := make([]string, len(pool))
	for i, p := range pool {
		docs[i] = p.Text
	}
	results, err := r.reranker.Rerank(ctx, query, docs, topK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("reranker returned no results for %d documents", len(docs))
	}

	out := make([]common.PassageEvidence, 0, min(topK, len(results)))
	seen := make(map[int]struct{}, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(pool) {
			return nil, fmt.Errorf("reranker returned index %d for %d documents", res.Index, len(pool))
		}
		if _, ok := seen[res.Index]; ok {
			continue
		}
		seen[res.Index] = struct{}{}
		p := pool[res.Index]
		p.Score = res.Score
		p.Provenance = common.ProvenanceReranked
		out = append(out, p)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}
