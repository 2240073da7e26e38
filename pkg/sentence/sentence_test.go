package sentence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store/memory"
)

func TestDenoise(t *testing.T) {
	tests := []struct {
		name string
		s    common.Sentence
		keep bool
		want string
	}{
		{"plain sentence", common.Sentence{Text: "Acme builds bridges and tunnels across the region."}, true, "Acme builds bridges and tunnels across the region."},
		{"too short", common.Sentence{Text: "Yes, it does."}, false, ""},
		{"markup heavy", common.Sentence{Text: "<td>Acme builds bridges</td> and tunnels across the region."}, false, ""},
		{"single tag stripped", common.Sentence{Text: "Acme builds <b>bridges</b and tunnels across the region."}, true, "Acme builds bridges</b and tunnels across the region."},
		{"signature", common.Sentence{Text: "Signature of the authorized representative of Acme Corp."}, false, ""},
		{"label line", common.Sentence{Text: "The following terms apply to Acme:"}, false, ""},
		{"fragment", common.Sentence{Text: "Acme Corp annual report section two"}, false, ""},
		{"long without punctuation kept", common.Sentence{Text: "Acme Corp builds bridges tunnels and roads across the whole region"}, true, "Acme Corp builds bridges tunnels and roads across the whole region"},
		{"curated bypass", common.Sentence{Text: "<td>Total</td><td>42</td>", SourceKind: common.SourceKindTableRow}, true, "Total 42"},
		{"curated empty", common.Sentence{Text: "<td></td>", SourceKind: common.SourceKindKeyValue}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, keep := Denoise(tt.s)
			if keep != tt.keep {
				t.Fatalf("keep=%v, want %v (text %q)", keep, tt.keep, got)
			}
			if keep && got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func passage(doc string, n int, score float64) common.PassageEvidence {
	return common.PassageEvidence{SentenceID: fmt.Sprintf("%s-%02d", doc, n), DocumentID: doc, Score: score}
}

func TestDiversifyReservesQualifyingDocuments(t *testing.T) {
	var pool []common.PassageEvidence
	for i := 0; i < 8; i++ {
		pool = append(pool, passage("A", i, 0.95-float64(i)*0.01))
	}
	pool = append(pool,
		passage("B", 0, 0.85), passage("B", 1, 0.80),
		passage("C", 0, 0.83), passage("C", 1, 0.70),
		passage("D", 0, 0.50),
	)
	Rank(pool)

	got := Diversify(pool, 6, 2, 0.85)
	if len(got) != 6 {
		t.Fatalf("expected 6 passages, got %d", len(got))
	}
	perDoc := map[string]int{}
	for _, p := range got {
		perDoc[p.DocumentID]++
	}
	for _, doc := range []string{"A", "B", "C"} {
		if perDoc[doc] < 2 {
			t.Fatalf("document %s got %d passages: %v", doc, perDoc[doc], perDoc)
		}
	}
	if perDoc["D"] != 0 {
		t.Fatalf("document below the gate must not be reserved: %v", perDoc)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("result not sorted: %v", got)
		}
	}

	undiversified := pool[:6]
	for _, p := range undiversified {
		if p.DocumentID != "A" {
			t.Fatalf("fixture should let A crowd out the rest without diversification")
		}
	}
}

func TestDiversifyEdgeCases(t *testing.T) {
	pool := []common.PassageEvidence{passage("A", 0, 0.9), passage("A", 1, 0.8), passage("B", 0, 0.88)}
	Rank(pool)

	if got := Diversify(pool, 0, 2, 0.85); got != nil {
		t.Fatalf("expected nil for topK 0")
	}
	if got := Diversify(pool, 5, 2, 0.85); len(got) != 3 {
		t.Fatalf("expected whole pool when smaller than topK, got %d", len(got))
	}
	got := Diversify(pool, 2, 0, 0.85)
	if got[0].SentenceID != "A-00" || got[1].SentenceID != "B-00" {
		t.Fatalf("minPerDoc 0 should keep global order, got %v", got)
	}
	// more qualifying reservations than slots: round robin by best score
	got = Diversify(pool, 2, 2, 0.5)
	if got[0].DocumentID == got[1].DocumentID {
		t.Fatalf("expected one passage per document, got %v", got)
	}
}

var vocabulary = []string{"acme", "bridge", "tunnel", "weather", "invoice"}

type keywordEmbedder struct{}

func (keywordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(vocabulary))
	lower := strings.ToLower(text)
	for i, w := range vocabulary {
		v[i] = float32(strings.Count(lower, w))
	}
	return v
}

func (e keywordEmbedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return e.vector(string(input)), nil
}

func (e keywordEmbedder) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = e.vector(string(in))
	}
	return out, nil
}

func (keywordEmbedder) EmbeddingDimension() int { return len(vocabulary) }

type scriptedReranker struct {
	calls   int
	err     error
	reverse bool
}

func (r *scriptedReranker) Rerank(ctx context.Context, query string, docs []string, topK int) ([]ai.RerankResult, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := make([]ai.RerankResult, 0, len(docs))
	for i := range docs {
		idx := i
		if r.reverse {
			idx = len(docs) - 1 - i
		}
		out = append(out, ai.RerankResult{Index: idx, Score: 1 - float64(i)*0.1})
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func sentenceStore() *memory.Store {
	s := memory.New()
	e := keywordEmbedder{}
	add := func(id, doc, chunk, text string) common.Sentence {
		return common.Sentence{ID: id, DocumentID: doc, ChunkID: chunk, SectionID: doc + "-sec", Text: text, SourceKind: common.SourceKindParagraph, Embedding: e.vector(text)}
	}
	s.AddSentences("t1",
		add("s1", "d1", "c1", "The company was founded in 1990 in Bremen, Germany."),
		add("s2", "d1", "c1", "Acme builds every bridge in the northern region."),
		add("s3", "d1", "c1", "Its engineers also maintain the old river tunnels."),
		add("s4", "d2", "c2", "Acme Acme bridge bridge?"),
		add("s5", "d2", "c3", "Weather reports for the bridge region are published daily."),
		add("s6", "d3", "c4", "An invoice was sent for the tunnel inspection last spring."),
	)
	s.AddRelatedEdge("t1", "s2", "s6", 0.9)
	s.AddSentences("t2", add("x1", "d9", "c9", "Acme builds every bridge in the southern region too."))
	return s
}

func TestRetrievePipeline(t *testing.T) {
	s := sentenceStore()
	r := NewRetriever(s, keywordEmbedder{}, nil, nil, Config{TopK: 5, MinSimilarity: 0.1, RelatedExpansion: true, HopDecay: 0.85})

	got, err := r.Retrieve(context.Background(), "t1", "acme bridge", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 || got[0].SentenceID != "s2" {
		t.Fatalf("expected s2 first, got %+v", got)
	}

	first := got[0]
	if !strings.Contains(first.Text, "founded in 1990") || !strings.Contains(first.Text, "river tunnels") {
		t.Fatalf("expected passage with prev and next sentence, got %q", first.Text)
	}
	if first.Provenance != common.ProvenanceVector {
		t.Fatalf("unexpected provenance %q", first.Provenance)
	}

	var related *common.PassageEvidence
	for i := range got {
		if got[i].SentenceID == "s4" {
			t.Fatalf("noisy fragment s4 must be denoised")
		}
		if got[i].DocumentID == "d9" {
			t.Fatalf("sentence of another tenant returned")
		}
		if got[i].SentenceID == "s6" {
			related = &got[i]
		}
	}
	if related == nil {
		t.Fatalf("expected related expansion to add s6, got %+v", got)
	}
	if related.Provenance != common.ProvenanceRelated || related.Score >= first.Score*0.9 {
		t.Fatalf("expected decayed related score, got %+v", *related)
	}
}

func TestRetrieveMissingTenant(t *testing.T) {
	r := NewRetriever(sentenceStore(), keywordEmbedder{}, nil, nil, Config{})
	if _, err := r.Retrieve(context.Background(), "", "acme", 3); !errors.Is(err, common.ErrMissingTenant) {
		t.Fatalf("expected ErrMissingTenant, got %v", err)
	}
}

func TestRetrieveNoHits(t *testing.T) {
	r := NewRetriever(sentenceStore(), keywordEmbedder{}, nil, nil, Config{MinSimilarity: 0.1})
	got, err := r.Retrieve(context.Background(), "t1", "nothing relevant here", 3)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no passages, got %v %v", got, err)
	}
}

func TestRetrieveRerank(t *testing.T) {
	ctx := context.Background()
	q := "acme bridge tunnel"

	t.Run("reorders", func(t *testing.T) {
		rr := &scriptedReranker{reverse: true}
		r := NewRetriever(sentenceStore(), keywordEmbedder{}, rr, nil, Config{MinSimilarity: 0.1, Rerank: true, RerankPoolSize: 4})
		got, _, err := r.RetrieveEmbedding(ctx, "t1", ai.NewQueryEmbedding(keywordEmbedder{}, q), 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rr.calls != 1 || len(got) != 2 {
			t.Fatalf("expected one rerank call and 2 passages, got calls=%d %+v", rr.calls, got)
		}
		if got[0].Provenance != common.ProvenanceReranked || got[0].Score != 1 {
			t.Fatalf("unexpected reranked passage %+v", got[0])
		}
	})

	t.Run("falls back on failure", func(t *testing.T) {
		rr := &scriptedReranker{err: errors.New("rerank service down")}
		r := NewRetriever(sentenceStore(), keywordEmbedder{}, rr, nil, Config{MinSimilarity: 0.1, Rerank: true})
		got, stats, err := r.RetrieveEmbedding(ctx, "t1", ai.NewQueryEmbedding(keywordEmbedder{}, q), 2)
		if err != nil {
			t.Fatalf("rerank failure must not fail retrieval: %v", err)
		}
		if !stats.RerankFallback || len(got) != 2 {
			t.Fatalf("expected fallback with 2 passages, got %+v %+v", stats, got)
		}
		if got[0].Provenance == common.ProvenanceReranked || got[0].Score < got[1].Score {
			t.Fatalf("expected pre-rerank order, got %+v", got)
		}
	})
}
