package ollama

import (
	"context"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GetMetrics returns the accumulated token usage and timing metrics.
func (c *GraphOllamaClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *GraphOllamaClient) recordChatMetrics(ctx context.Context, m api.Metrics) {
	c.modifyMetrics(ctx, ai.ModelMetrics{
		InputTokens:  m.PromptEvalCount,
		OutputTokens: m.EvalCount,
		TotalTokens:  m.PromptEvalCount + m.EvalCount,
		DurationMs:   m.TotalDuration.Milliseconds(),
	})
}

func (c *GraphOllamaClient) modifyMetrics(ctx context.Context, m ai.ModelMetrics) {
	c.metricsLock.Lock()
	c.metrics = c.metrics.Add(m)
	c.metricsLock.Unlock()

	ai.RecordUsage(ctx, m)
}
