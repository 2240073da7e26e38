package ai

import (
	"context"
	"sync"
	"testing"
)

func TestModelMetricsAdd(t *testing.T) {
	m := ModelMetrics{InputTokens: 10, TotalTokens: 10, DurationMs: 500}
	m = m.Add(ModelMetrics{OutputTokens: 5, TotalTokens: 5, DurationMs: 500})
	if m.InputTokens != 10 || m.OutputTokens != 5 || m.TotalTokens != 15 || m.DurationMs != 1000 {
		t.Fatalf("unexpected sum %+v", m)
	}
	if m.TokenPerSecond != 15 {
		t.Fatalf("expected 15 tokens per second, got %v", m.TokenPerSecond)
	}
}

func TestRecordUsage(t *testing.T) {
	// Without a Usage on the context nothing is recorded.
	RecordUsage(context.Background(), ModelMetrics{TotalTokens: 1})

	usage := &Usage{}
	ctx := WithUsage(context.Background(), usage)
	if UsageFromContext(ctx) != usage {
		t.Fatalf("usage not attached")
	}

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordUsage(ctx, ModelMetrics{InputTokens: 1, TotalTokens: 1})
		}()
	}
	wg.Wait()
	if got := usage.Metrics(); got.TotalTokens != 20 || got.InputTokens != 20 {
		t.Fatalf("expected 20 recorded tokens, got %+v", got)
	}
}
