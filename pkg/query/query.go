package query

import (
	"context"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
)

// Synthesizer writes an answer from retrieved evidence. history holds earlier
// turns of the conversation and may be empty; the current question is
// bundle.Query. Synthesizers are never called for negative bundles.
type Synthesizer interface {
	Synthesize(
		ctx context.Context,
		bundle *common.EvidenceBundle,
		history []ai.ChatMessage,
	) (string, error)
}
