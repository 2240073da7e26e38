package memory

import (
	"context"
	"testing"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/canonical"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"
)

func TestResolveEntityKeys(t *testing.T) {
	s := New()
	ctx := context.Background()
	acme := s.AddEntity("t1", common.Entity{Name: "Acme Corp", Aliases: []string{"Acme Construction"}})
	s.AddEntity("t1", common.Entity{Name: "Globex Holdings"})
	s.AddEntity("t1", common.Entity{Name: "Globex Logistics"})

	if acme != canonical.StableID("t1", "acme corp") {
		t.Fatalf("entity id not derived from canonical key: %s", acme)
	}

	got, err := s.ResolveEntityKeys(ctx, "t1", []string{"acme", "acme construction", "globex", "missing"})
	if err != nil {
		t.Fatalf("ResolveEntityKeys() error = %v", err)
	}
	if got["acme"] != acme || got["acme construction"] != acme {
		t.Fatalf("alias keys not resolved: %v", got)
	}
	if _, ok := got["globex"]; ok {
		t.Fatal("ambiguous alias must not resolve")
	}
	if _, ok := got["missing"]; ok {
		t.Fatal("unknown key resolved")
	}
}

func TestTenantIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AddEntity("t1", common.Entity{Name: "Acme"})
	got, _ := s.ResolveEntityKeys(ctx, "t2", []string{"acme"})
	if len(got) != 0 {
		t.Fatalf("tenant t2 sees t1 entities: %v", got)
	}
	hits, _ := s.SearchSentences(ctx, "t2", []float32{1}, 5, 0)
	if len(hits) != 0 {
		t.Fatalf("unexpected hits %v", hits)
	}
}

func TestSequentialNeighbours(t *testing.T) {
	s := New()
	s.AddSentences("t1",
		common.Sentence{ID: "a", ChunkID: "c1"},
		common.Sentence{ID: "b", ChunkID: "c1"},
		common.Sentence{ID: "c", ChunkID: "c2"},
	)
	n, _ := s.GetSequentialNeighbours(context.Background(), "t1", []string{"a", "b", "c"})
	if n["a"].Prev != nil || n["a"].Next == nil || n["a"].Next.ID != "b" {
		t.Fatalf("unexpected neighbours of a: %+v", n["a"])
	}
	if n["b"].Prev == nil || n["b"].Prev.ID != "a" || n["b"].Next != nil {
		t.Fatalf("chunk boundary crossed: %+v", n["b"])
	}
	if n["c"].Prev != nil {
		t.Fatalf("chunk boundary crossed: %+v", n["c"])
	}
}

func TestRelatedSentencesLimit(t *testing.T) {
	s := New()
	s.AddSentences("t1", common.Sentence{ID: "a"}, common.Sentence{ID: "b"}, common.Sentence{ID: "c"})
	s.AddRelatedEdge("t1", "a", "b", 0.6)
	s.AddRelatedEdge("t1", "a", "c", 0.9)

	rel, _ := s.GetRelatedSentences(context.Background(), "t1", []string{"a"}, 1)
	if len(rel) != 1 || rel[0].Sentence.ID != "c" || rel[0].FromID != "a" {
		t.Fatalf("unexpected related %+v", rel)
	}
}

func TestUpdateCommunityEmbeddingsKeepsSummary(t *testing.T) {
	s := New()
	s.PutCommunity("t1", common.Community{ID: "c1", Summary: "original"})
	err := s.UpdateCommunityEmbeddings(context.Background(), "t1", []store.CommunityEmbeddingUpdate{
		{CommunityID: "c1", Embedding: []float32{1, 2}, TextHash: "h"},
	})
	if err != nil {
		t.Fatalf("UpdateCommunityEmbeddings() error = %v", err)
	}
	c, ok := s.Community("t1", "c1")
	if !ok || c.Summary != "original" || c.EmbeddingTextHash != "h" || len(c.Embedding) != 2 {
		t.Fatalf("unexpected community %+v", c)
	}
}

func TestPersonalizedPageRankLimits(t *testing.T) {
	s := New()
	for _, n := range []string{"b", "c", "d", "e"} {
		s.AddRelationship("t1", "a", n, 1)
	}
	s.AddRelationship("t1", "b", "x", 1)

	res, err := s.PersonalizedPageRank(context.Background(), store.PageRankRequest{
		TenantID:         "t1",
		Seeds:            map[string]float64{"a": 1},
		Damping:          0.85,
		TopK:             10,
		PerSeedLimit:     2,
		PerNeighborLimit: 0,
	})
	if err != nil {
		t.Fatalf("PersonalizedPageRank() error = %v", err)
	}
	// seed plus two neighbours
	if len(res) != 3 {
		t.Fatalf("expected 3 entities with fan-out 2, got %+v", res)
	}
	if res[0].EntityID != "a" {
		t.Fatalf("seed should rank first, got %+v", res)
	}
}
