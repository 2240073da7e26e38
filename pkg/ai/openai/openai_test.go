package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
)

func TestFitDimension(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		dim  int
		want int
	}{
		{"Pad", []float64{1, 2}, 4, 4},
		{"Truncate", []float64{1, 2, 3, 4, 5}, 3, 3},
		{"Exact", []float64{1, 2, 3}, 3, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := fitDimension(tc.in, tc.dim)
			if len(got) != tc.want {
				t.Fatalf("len = %d, want %d", len(got), tc.want)
			}
			if got[0] != 1 {
				t.Fatalf("first value lost: %v", got)
			}
		})
	}
}

func TestNormalizeEmbeddingInputs(t *testing.T) {
	idx, in, out := normalizeEmbeddingInputs([][]byte{[]byte("a"), []byte("  "), []byte("b")}, 3)
	if len(in) != 2 || idx[0] != 0 || idx[1] != 2 {
		t.Fatalf("unexpected mapping idx=%v in=%v", idx, in)
	}
	if len(out[1]) != 3 {
		t.Fatalf("blank input should map to zero vector, got %v", out[1])
	}
}

func TestGenerateEmbeddingsAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, 0, len(req.Input))
		// answer out of order to exercise index mapping
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(i + 1), 0.5},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "test",
			"usage":  map[string]any{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	defer srv.Close()

	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{
		EmbeddingModel: "test",
		Dimensions:     4,
		EmbeddingURL:   srv.URL,
		EmbeddingKey:   "k",
	})
	usage := &ai.Usage{}
	ctx := ai.WithUsage(context.Background(), usage)
	got, err := c.GenerateEmbeddings(ctx, [][]byte{[]byte("x"), nil, []byte("y")})
	if err != nil {
		t.Fatalf("GenerateEmbeddings() error = %v", err)
	}
	if len(got) != 3 || len(got[0]) != 4 {
		t.Fatalf("unexpected shape %v", got)
	}
	if got[0][0] != 1 || got[2][0] != 2 || got[1][0] != 0 {
		t.Fatalf("order not preserved: %v", got)
	}
	if c.GetMetrics().TotalTokens != 3 {
		t.Fatalf("metrics not recorded: %+v", c.GetMetrics())
	}
	if usage.Metrics().TotalTokens != 3 {
		t.Fatalf("request usage not recorded: %+v", usage.Metrics())
	}
	if c.EmbeddingDimension() != 4 {
		t.Fatalf("EmbeddingDimension() = %d", c.EmbeddingDimension())
	}
}
