// Package tei implements ai.Reranker against a Text Embeddings Inference
// compatible /rerank endpoint.
package tei

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
)

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	Model     string   `json:"model,omitempty"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type rerankResponse struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Reranker is an HTTP client for a TEI rerank server.
type Reranker struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

type NewRerankerParams struct {
	BaseURL string
	Model   string
	ApiKey  string
	Timeout time.Duration
}

func NewReranker(params NewRerankerParams) (*Reranker, error) {
	if params.BaseURL == "" {
		return nil, fmt.Errorf("rerank base url is required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Reranker{
		baseURL: strings.TrimRight(params.BaseURL, "/"),
		model:   params.Model,
		apiKey:  params.ApiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Rerank returns results sorted by score, best first, limited to topK.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]ai.RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{
		Query:    query,
		Texts:    documents,
		Model:    r.model,
		Truncate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded []rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	results := make([]ai.RerankResult, 0, len(decoded))
	for _, d := range decoded {
		if d.Index < 0 || d.Index >= len(documents) {
			return nil, fmt.Errorf("rerank index out of range: %d", d.Index)
		}
		results = append(results, ai.RerankResult{Index: d.Index, Score: d.Score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
