package seed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"
)

// Structural strategy names.
const (
	StrategyEmbedding = "embedding"
	StrategyLLM       = "llm"
	StrategyHybrid    = "hybrid"
	StrategyBottomUp  = "bottom_up"
)

// SentenceEvidence is the sentence retrieval running alongside seed
// resolution. Wait blocks until its passages are available.
type SentenceEvidence interface {
	Wait(ctx context.Context) ([]common.PassageEvidence, error)
}

// StructuralRequest is the input of a structural strategy.
type StructuralRequest struct {
	TenantID  string
	Query     string
	Embedding *ai.QueryEmbedding
	Evidence  SentenceEvidence
}

// StructuralStrategy selects the sections whose hub entities seed tier 2.
type StructuralStrategy interface {
	Name() string
	ResolveSections(ctx context.Context, req StructuralRequest) ([]string, error)
}

// StructuralDeps holds the collaborators a strategy may need.
type StructuralDeps struct {
	Sections      store.SectionStore
	Selector      ai.SectionSelector
	TopK          int
	MinSimilarity float64
}

// NewStructuralStrategy builds the strategy named name. The empty name selects hybrid.
func NewStructuralStrategy(name string, deps StructuralDeps) (StructuralStrategy, error) {
	if deps.TopK <= 0 {
		deps.TopK = 5
	}
	switch name {
	case StrategyEmbedding:
		return &EmbeddingStrategy{sections: deps.Sections, topK: deps.TopK, minSimilarity: deps.MinSimilarity}, nil
	case StrategyLLM:
		if deps.Selector == nil {
			return nil, fmt.Errorf("structural strategy %q needs a section selector", name)
		}
		return &LLMStrategy{sections: deps.Sections, selector: deps.Selector, topK: deps.TopK}, nil
	case StrategyHybrid, "":
		embedding := &EmbeddingStrategy{sections: deps.Sections, topK: deps.TopK, minSimilarity: deps.MinSimilarity}
		if deps.Selector == nil {
			logger.Warn("[Seed] no section selector configured, hybrid strategy uses embeddings only")
			return &HybridStrategy{strategies: []StructuralStrategy{embedding}}, nil
		}
		llm := &LLMStrategy{sections: deps.Sections, selector: deps.Selector, topK: deps.TopK}
		return &HybridStrategy{strategies: []StructuralStrategy{embedding, llm}}, nil
	case StrategyBottomUp:
		return &BottomUpStrategy{topK: deps.TopK}, nil
	}
	return nil, fmt.Errorf("unknown structural strategy %q", name)
}

// EmbeddingStrategy matches the query embedding against section heading
// embeddings. It makes no LLM call.
type EmbeddingStrategy struct {
	sections      store.SectionStore
	topK          int
	minSimilarity float64
}

func (s *EmbeddingStrategy) Name() string { return StrategyEmbedding }

func (s *EmbeddingStrategy) ResolveSections(ctx context.Context, req StructuralRequest) ([]string, error) {
	vec, err := req.Embedding.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.sections.SearchSectionsByStructure(ctx, req.TenantID, vec, s.topK, s.minSimilarity)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.ID)
	}
	return out, nil
}

// LLMStrategy asks a section selector to choose from all section headings.
type LLMStrategy struct {
	sections store.SectionStore
	selector ai.SectionSelector
	topK     int
}

func (s *LLMStrategy) Name() string { return StrategyLLM }

func (s *LLMStrategy) ResolveSections(ctx context.Context, req StructuralRequest) ([]string, error) {
	headings, err := s.sections.ListSectionHeadings(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if len(headings) == 0 {
		return nil, nil
	}
	return s.selector.SelectRelevantSections(ctx, req.Query, headings, s.topK)
}

// HybridStrategy runs its strategies concurrently and unions the results in
// strategy order. It fails only when every strategy fails.
type HybridStrategy struct {
	strategies []StructuralStrategy
}

func (s *HybridStrategy) Name() string { return StrategyHybrid }

func (s *HybridStrategy) ResolveSections(ctx context.Context, req StructuralRequest) ([]string, error) {
	results := make([][]string, len(s.strategies))
	errs := make([]error, len(s.strategies))

	var wg sync.WaitGroup
	for i, strategy := range s.strategies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = strategy.ResolveSections(ctx, req)
		}()
	}
	wg.Wait()

	var union []string
	var failed []error
	for i, strategy := range s.strategies {
		if errs[i] != nil {
			logger.Warn("[Seed] structural strategy failed", "strategy", strategy.Name(), "tenant", req.TenantID, "err", errs[i])
			failed = append(failed, errs[i])
			continue
		}
		union = append(union, results[i]...)
	}
	if len(failed) == len(s.strategies) {
		return nil, errors.Join(failed...)
	}
	return store.DedupeStrings(union), nil
}

// BottomUpStrategy takes the sections the sentence evidence came from.
// It cannot discover a section that no retrieved sentence belongs to; the
// embedding and hybrid strategies cover that case.
type BottomUpStrategy struct {
	topK int
}

func (s *BottomUpStrategy) Name() string { return StrategyBottomUp }

func (s *BottomUpStrategy) ResolveSections(ctx context.Context, req StructuralRequest) ([]string, error) {
	if req.Evidence == nil {
		return nil, nil
	}
	passages, err := req.Evidence.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for sentence evidence: %w", err)
	}
	var out []string
	seen := make(map[string]struct{})
	for _, p := range passages {
		if p.SectionID == "" {
			continue
		}
		if _, ok := seen[p.SectionID]; ok {
			continue
		}
		seen[p.SectionID] = struct{}{}
		out = append(out, p.SectionID)
		if len(out) == s.topK {
			break
		}
	}
	return out, nil
}
