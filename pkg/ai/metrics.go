package ai

import (
	"context"
	"math"
	"sync"
)

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// Add returns the sum of m and o with the token rate recomputed.
func (m ModelMetrics) Add(o ModelMetrics) ModelMetrics {
	m.InputTokens += o.InputTokens
	m.OutputTokens += o.OutputTokens
	m.TotalTokens += o.TotalTokens
	m.DurationMs += o.DurationMs

	if m.DurationMs > 0 {
		tokensPerSecond := (float64(m.TotalTokens) * 1000.0) / float64(m.DurationMs)
		m.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
	return m
}

// Usage accumulates the model metrics of one request. Safe for concurrent use.
type Usage struct {
	mu sync.Mutex
	m  ModelMetrics
}

func (u *Usage) Add(m ModelMetrics) {
	u.mu.Lock()
	u.m = u.m.Add(m)
	u.mu.Unlock()
}

func (u *Usage) Metrics() ModelMetrics {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.m
}

type usageKey struct{}

// WithUsage returns a context whose model calls are also counted on u.
func WithUsage(ctx context.Context, u *Usage) context.Context {
	return context.WithValue(ctx, usageKey{}, u)
}

// UsageFromContext returns the Usage attached by WithUsage, or nil.
func UsageFromContext(ctx context.Context) *Usage {
	u, _ := ctx.Value(usageKey{}).(*Usage)
	return u
}

// RecordUsage adds m to the Usage of ctx, if any. Clients call it after
// every model request.
func RecordUsage(ctx context.Context, m ModelMetrics) {
	if u := UsageFromContext(ctx); u != nil {
		u.Add(m)
	}
}
