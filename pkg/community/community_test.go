package community

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store/memory"
)

var vocabulary = []string{"acme", "invoice", "payment", "weather"}

// keywordEmbedder embeds text as keyword counts over a fixed vocabulary.
type keywordEmbedder struct {
	mu         sync.Mutex
	batchCalls int
	embedded   int
	dim        int
}

func (e *keywordEmbedder) vector(text string) []float32 {
	v := make([]float32, e.EmbeddingDimension())
	lower := strings.ToLower(text)
	for i, w := range vocabulary {
		if i < len(v) {
			v[i] = float32(strings.Count(lower, w))
		}
	}
	return v
}

func (e *keywordEmbedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return e.vector(string(input)), nil
}

func (e *keywordEmbedder) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	e.mu.Lock()
	e.batchCalls++
	e.embedded += len(inputs)
	e.mu.Unlock()
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = e.vector(string(in))
	}
	return out, nil
}

func (e *keywordEmbedder) EmbeddingDimension() int {
	if e.dim > 0 {
		return e.dim
	}
	return len(vocabulary)
}

type recordingWriter struct {
	mu      sync.Mutex
	updates []store.CommunityEmbeddingUpdate
	err     error
}

func (w *recordingWriter) WriteCommunityEmbeddings(ctx context.Context, tenantID string, updates []store.CommunityEmbeddingUpdate) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates = append(w.updates, updates...)
	return w.err
}

func seedCommunities(s *memory.Store) {
	s.PutCommunity("t1", common.Community{ID: "c-billing", Title: "Billing", Summary: "Acme invoice and payment handling", Rank: 2})
	s.PutCommunity("t1", common.Community{ID: "c-weather", Title: "Weather", Summary: "Weather reports", Rank: 1})
	s.PutCommunity("t1", common.Community{ID: "c-people", Title: "People", MemberNames: []string{"Acme", "Bob"}})
}

func TestEnsureEmbeddingsIsIdempotent(t *testing.T) {
	s := memory.New()
	seedCommunities(s)
	emb := &keywordEmbedder{}
	idx := NewIndex(s, emb, StoreWriter{Store: s}, DefaultOptions())

	n, err := idx.EnsureEmbeddings(context.Background(), "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 refreshed communities, got %d", n)
	}
	if emb.batchCalls != 1 {
		t.Fatalf("expected one batch call, got %d", emb.batchCalls)
	}

	n, err = idx.EnsureEmbeddings(context.Background(), "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 || emb.batchCalls != 1 {
		t.Fatalf("second pass should not embed, refreshed=%d calls=%d", n, emb.batchCalls)
	}

	idx.Flush()
	c, _ := s.Community("t1", "c-people")
	if c.EmbeddingTextHash != TextHash("People: Acme, Bob") || len(c.Embedding) != len(vocabulary) {
		t.Fatalf("write-back not persisted: %+v", c)
	}

	// A reload from the store sees the persisted embeddings as fresh.
	idx.Invalidate("t1")
	n, err = idx.EnsureEmbeddings(context.Background(), "t1")
	if err != nil || n != 0 {
		t.Fatalf("expected nothing stale after reload, refreshed=%d err=%v", n, err)
	}
}

func matchIDs(t *testing.T, idx *Index, query string, topK int) []string {
	t.Helper()
	got, err := idx.Match(context.Background(), "t1", query, topK)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.Community.ID
	}
	return ids
}

func TestSummaryEditIsReembeddedOnce(t *testing.T) {
	s := memory.New()
	seedCommunities(s)
	emb := &keywordEmbedder{}
	idx := NewIndex(s, emb, StoreWriter{Store: s}, DefaultOptions())

	if ids := matchIDs(t, idx, "invoice", 3); len(ids) != 1 || ids[0] != "c-billing" {
		t.Fatalf("expected only c-billing before the edit, got %v", ids)
	}
	idx.Flush()

	c, _ := s.Community("t1", "c-weather")
	c.Summary = "invoice invoice invoice"
	s.PutCommunity("t1", c)

	before := emb.embedded
	ids := matchIDs(t, idx, "invoice", 3)
	if emb.embedded-before != 1 {
		t.Fatalf("expected exactly one re-embedding, got %d", emb.embedded-before)
	}
	if len(ids) != 2 || ids[0] != "c-weather" || ids[1] != "c-billing" {
		t.Fatalf("edited summary not used for matching, got %v", ids)
	}
	idx.Flush()

	got, _ := s.Community("t1", "c-weather")
	if got.Summary != "invoice invoice invoice" {
		t.Fatalf("summary must never be rewritten, got %q", got.Summary)
	}
	if got.EmbeddingTextHash != TextHash(got.Summary) {
		t.Fatalf("hash not refreshed")
	}

	before = emb.embedded
	matchIDs(t, idx, "invoice", 3)
	if emb.embedded != before {
		t.Fatalf("expected idempotence after edit, embedded %d more", emb.embedded-before)
	}
}

func TestMatchFollowsCommunitySetChanges(t *testing.T) {
	s := memory.New()
	seedCommunities(s)
	idx := NewIndex(s, &keywordEmbedder{}, nil, DefaultOptions())

	if ids := matchIDs(t, idx, "payment", 3); len(ids) != 1 {
		t.Fatalf("expected one match, got %v", ids)
	}

	s.PutCommunity("t1", common.Community{ID: "c-payments", Title: "Payments", Summary: "payment payment"})
	ids := matchIDs(t, idx, "payment", 3)
	if len(ids) != 2 || ids[0] != "c-payments" {
		t.Fatalf("added community not picked up, got %v", ids)
	}
}

func TestApplySources(t *testing.T) {
	cached := []common.Community{
		{ID: "a", Summary: "x", Embedding: []float32{1}},
		{ID: "b", Summary: "y", Embedding: []float32{2}},
	}
	tests := []struct {
		name     string
		sources  []store.CommunitySource
		changed  bool
		reload   bool
		summaryA string
	}{
		{"unchanged", []store.CommunitySource{{ID: "a", Summary: "x"}, {ID: "b", Summary: "y"}}, false, false, "x"},
		{"edited", []store.CommunitySource{{ID: "a", Summary: "z"}, {ID: "b", Summary: "y"}}, true, false, "z"},
		{"removed", []store.CommunitySource{{ID: "a", Summary: "x"}}, true, true, ""},
		{"replaced", []store.CommunitySource{{ID: "a", Summary: "x"}, {ID: "c", Summary: "y"}}, true, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, changed := applySources(cached, tt.sources)
			if changed != tt.changed {
				t.Fatalf("expected changed=%v, got %v", tt.changed, changed)
			}
			if tt.reload != (changed && out == nil) {
				t.Fatalf("expected reload=%v, got %v", tt.reload, changed && out == nil)
			}
			if out != nil {
				if out[0].Summary != tt.summaryA {
					t.Fatalf("expected summary %q, got %q", tt.summaryA, out[0].Summary)
				}
				if len(out[0].Embedding) != 1 {
					t.Fatalf("embedding must be kept for the staleness check")
				}
			}
			if cached[0].Summary != "x" {
				t.Fatalf("cached slice must not be modified")
			}
		})
	}
}

func TestZeroMinSimilarityIsKept(t *testing.T) {
	s := memory.New()
	seedCommunities(s)
	opts := DefaultOptions()
	opts.MinSimilarity = 0
	idx := NewIndex(s, &keywordEmbedder{}, nil, opts)

	if idx.minSimilarity != 0 {
		t.Fatalf("configured min similarity 0 replaced by %v", idx.minSimilarity)
	}
	// Orthogonal communities score 0 and pass a zero floor.
	if ids := matchIDs(t, idx, "weather", 3); len(ids) != 3 || ids[0] != "c-weather" {
		t.Fatalf("expected every community with a zero floor, got %v", ids)
	}

	strict := NewIndex(s, &keywordEmbedder{}, nil, DefaultOptions())
	if ids := matchIDs(t, strict, "weather", 3); len(ids) != 1 {
		t.Fatalf("expected default floor to drop orthogonal communities, got %v", ids)
	}
}

func TestDimensionChangeMarksStale(t *testing.T) {
	c := common.Community{Summary: "x", Embedding: []float32{1, 2}, EmbeddingTextHash: TextHash("x")}
	if IsStale(c, 2) {
		t.Fatalf("expected fresh community")
	}
	if !IsStale(c, 3) {
		t.Fatalf("expected stale on dimension change")
	}
	c.EmbeddingTextHash = "other"
	if !IsStale(c, 2) {
		t.Fatalf("expected stale on hash mismatch")
	}
	c.Embedding = nil
	if !IsStale(c, 0) {
		t.Fatalf("expected stale without embedding")
	}
}

func TestMatch(t *testing.T) {
	s := memory.New()
	seedCommunities(s)
	idx := NewIndex(s, &keywordEmbedder{}, nil, DefaultOptions())

	tests := []struct {
		name  string
		query string
		topK  int
		want  []string
	}{
		{"best match first", "acme invoice payment", 2, []string{"c-billing", "c-people"}},
		{"topK bound", "acme invoice payment", 1, []string{"c-billing"}},
		{"weather only", "weather", 3, []string{"c-weather"}},
		{"fails closed", "unrelated words", 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := idx.Match(context.Background(), "t1", tt.query, tt.topK)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %+v", tt.want, got)
			}
			for i, id := range tt.want {
				if got[i].Community.ID != id {
					t.Fatalf("position %d: expected %s, got %s", i, id, got[i].Community.ID)
				}
			}
		})
	}
}

func TestMatchIsTenantScoped(t *testing.T) {
	s := memory.New()
	seedCommunities(s)
	idx := NewIndex(s, &keywordEmbedder{}, nil, DefaultOptions())

	got, err := idx.Match(context.Background(), "t2", "acme invoice", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no communities for another tenant, got %+v", got)
	}
}

func TestWriteBackFailureIsAbsorbed(t *testing.T) {
	s := memory.New()
	seedCommunities(s)
	w := &recordingWriter{err: errors.New("db down")}
	idx := NewIndex(s, &keywordEmbedder{}, w, DefaultOptions())

	n, err := idx.EnsureEmbeddings(context.Background(), "t1")
	if err != nil || n != 3 {
		t.Fatalf("write-back failure must not surface, refreshed=%d err=%v", n, err)
	}
	idx.Flush()
	if len(w.updates) != 3 {
		t.Fatalf("expected 3 attempted updates, got %d", len(w.updates))
	}

	// The cache still holds the refreshed vectors.
	n, _ = idx.EnsureEmbeddings(context.Background(), "t1")
	if n != 0 {
		t.Fatalf("expected cached refresh to survive write-back failure, refreshed=%d", n)
	}
}
