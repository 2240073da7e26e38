package ai

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"
)

// QueryEmbedding embeds one query at most once and shares the vector between
// every caller of one request. Concurrent first calls collapse into a single
// embedding request; a failed attempt is not cached.
type QueryEmbedding struct {
	embedder Embedder
	query    string

	group singleflight.Group
	mu    sync.Mutex
	vec   []float32
}

func NewQueryEmbedding(embedder Embedder, query string) *QueryEmbedding {
	return &QueryEmbedding{embedder: embedder, query: query}
}

// Precomputed wraps an already known query vector.
func Precomputed(query string, vec []float32) *QueryEmbedding {
	return &QueryEmbedding{query: query, vec: slices.Clone(vec)}
}

func (q *QueryEmbedding) Query() string {
	return q.query
}

func (q *QueryEmbedding) Get(ctx context.Context) ([]float32, error) {
	q.mu.Lock()
	vec := q.vec
	q.mu.Unlock()
	if vec != nil {
		return vec, nil
	}

	v, err, _ := q.group.Do("embed", func() (any, error) {
		emb, err := q.embedder.GenerateEmbedding(ctx, []byte(q.query))
		if err != nil {
			return nil, err
		}
		q.mu.Lock()
		q.vec = emb
		q.mu.Unlock()
		return emb, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}
