package retrieval

import (
	"context"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/sentence"
)

// pendingEvidence is a sentence retrieval running in the background. It
// implements seed.SentenceEvidence so the bottom-up strategy can wait on it.
type pendingEvidence struct {
	done     chan struct{}
	passages []common.PassageEvidence
	stats    sentence.Stats
	err      error
	took     time.Duration
}

func startSentenceRetrieval(
	ctx context.Context,
	r *sentence.Retriever,
	tenantID string,
	q *ai.QueryEmbedding,
	topK int,
	timeout time.Duration,
) *pendingEvidence {
	p := &pendingEvidence{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		p.passages, p.stats, p.err = r.RetrieveEmbedding(ctx, tenantID, q, topK)
		p.took = time.Since(start)
	}()
	return p
}

func (p *pendingEvidence) Wait(ctx context.Context) ([]common.PassageEvidence, error) {
	select {
	case <-p.done:
		return p.passages, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
