package neo4j

import (
	"math"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestCosineFromIndexScore(t *testing.T) {
	tests := []struct {
		score float64
		want  float64
	}{
		{1, 1},
		{0.5, 0},
		{0, -1},
		{0.75, 0.5},
	}
	for _, tt := range tests {
		if got := cosineFromIndexScore(tt.score); math.Abs(got-tt.want) > 1e-12 {
			t.Fatalf("cosineFromIndexScore(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestRecordHelpers(t *testing.T) {
	rec := &neo4j.Record{
		Keys: []string{"id", "rank", "level", "members", "embedding", "sentence", "missing"},
		Values: []any{
			"c-1",
			0.25,
			int64(2),
			[]any{"e-1", nil, "e-2"},
			[]any{0.5, 1.0},
			map[string]any{"id": "s-1", "text": "hello", "page": int64(3), "document_id": "d-1"},
			nil,
		},
	}

	if got := getStringFromRecord(rec, "id"); got != "c-1" {
		t.Fatalf("unexpected id %q", got)
	}
	if got := getFloatFromRecord(rec, "rank"); got != 0.25 {
		t.Fatalf("unexpected rank %v", got)
	}
	if got := getIntFromRecord(rec, "level"); got != 2 {
		t.Fatalf("unexpected level %v", got)
	}
	if got := getStringsFromRecord(rec, "members"); len(got) != 2 || got[1] != "e-2" {
		t.Fatalf("unexpected members %v", got)
	}
	if got := getVectorFromRecord(rec, "embedding"); len(got) != 2 || got[0] != 0.5 {
		t.Fatalf("unexpected embedding %v", got)
	}
	sen := getSentenceFromRecord(rec, "sentence")
	if sen.ID != "s-1" || sen.Page != 3 || sen.SourceKind != "paragraph" {
		t.Fatalf("unexpected sentence %+v", sen)
	}
	if got := getStringFromRecord(rec, "missing"); got != "" {
		t.Fatalf("expected empty string for null, got %q", got)
	}
	if got := getVectorFromRecord(rec, "unknown"); got != nil {
		t.Fatalf("expected nil vector for unknown key, got %v", got)
	}
}
