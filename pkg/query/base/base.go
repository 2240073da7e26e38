package base

import (
	"context"
	"fmt"
	"strings"

	"github.com/mirojs/graphrag-orchestration-sub001/internal/util"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
)

type queryOptions struct {
	SystemPrompts []string
	Model         string
	Thinking      string
	MaxEntities   int
}

// QueryOption is a functional option for configuring synthesis.
type QueryOption func(*queryOptions)

// WithSystemPrompts returns a QueryOption that appends additional system
// prompts to guide the AI's response generation.
func WithSystemPrompts(prompts ...string) QueryOption {
	return func(o *queryOptions) {
		o.SystemPrompts = append(o.SystemPrompts, prompts...)
	}
}

// WithModel returns a QueryOption that specifies which AI model to use
// for generating responses.
func WithModel(model string) QueryOption {
	return func(o *queryOptions) {
		o.Model = model
	}
}

// WithThinking returns a QueryOption that enables extended thinking mode.
func WithThinking(thinking string) QueryOption {
	return func(o *queryOptions) {
		o.Thinking = thinking
	}
}

// WithMaxEntities limits how many ranked entities are listed in the context.
func WithMaxEntities(n int) QueryOption {
	return func(o *queryOptions) {
		o.MaxEntities = n
	}
}

// BaseQueryClient answers questions from an evidence bundle with a chat model.
type BaseQueryClient struct {
	aiClient ai.GraphAIClient
	options  queryOptions
}

// NewQueryClient creates a BaseQueryClient on top of an AI client.
//
// Example:
//
//	client := base.NewQueryClient(aiClient, base.WithModel("gpt-4.1"))
func NewQueryClient(aiC ai.GraphAIClient, opts ...QueryOption) *BaseQueryClient {
	c := BaseQueryClient{
		aiClient: aiC,
		options:  queryOptions{MaxEntities: 20},
	}
	for _, o := range opts {
		o(&c.options)
	}
	return &c
}

// Synthesize implements query.Synthesizer. Citations in the answer are
// normalized to [[id]] and citations of unknown passages are dropped.
func (c *BaseQueryClient) Synthesize(
	ctx context.Context,
	bundle *common.EvidenceBundle,
	history []ai.ChatMessage,
) (string, error) {
	if bundle == nil || bundle.Negative {
		return ai.NoDataMessage, nil
	}

	prompt := fmt.Sprintf(ai.QueryPrompt, BuildContext(bundle, c.options.MaxEntities))
	systemPrompts := []string{prompt}
	if len(c.options.SystemPrompts) > 0 {
		systemPrompts = append(systemPrompts, c.options.SystemPrompts...)
	}

	generateOpts := []ai.GenerateOption{
		ai.WithSystemPrompts(systemPrompts...),
	}
	if c.options.Model != "" {
		generateOpts = append(generateOpts, ai.WithModel(c.options.Model))
	}
	if c.options.Thinking != "" {
		generateOpts = append(generateOpts, ai.WithThinking(c.options.Thinking))
	}

	msgs := make([]ai.ChatMessage, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, ai.ChatMessage{Role: "user", Message: bundle.Query})

	resp, err := c.aiClient.GenerateChat(ctx, msgs, generateOpts...)
	if err != nil {
		return "", fmt.Errorf("Failed to generate answer from AI:\n%w", err)
	}

	known := make(map[string]struct{}, len(bundle.RankedPassages))
	for _, p := range bundle.RankedPassages {
		known[p.SentenceID] = struct{}{}
	}
	answer := util.NormalizeCitations(resp, known)
	logger.Debug("[Query] synthesized answer",
		"tenant", bundle.TenantID,
		"passages", len(bundle.RankedPassages),
		"citations", len(util.ExtractCitations(answer)),
	)
	return answer, nil
}

// BuildContext renders a bundle in the layout QueryPrompt describes.
func BuildContext(bundle *common.EvidenceBundle, maxEntities int) string {
	var b strings.Builder

	b.WriteString("Relevant Entities:\n")
	entities := bundle.RankedEntities
	if maxEntities > 0 && len(entities) > maxEntities {
		entities = entities[:maxEntities]
	}
	for _, e := range entities {
		fmt.Fprintf(&b, "%s: %.4f\n", e.EntityID, e.Score)
	}

	b.WriteString("\nEvidence Passages:\n")
	for _, p := range bundle.RankedPassages {
		title := p.DocumentTitle
		if title == "" {
			title = p.DocumentID
		}
		if p.SectionPath != "" {
			fmt.Fprintf(&b, "[[%s]] %s > %s: %s\n", p.SentenceID, title, p.SectionPath, p.Text)
		} else {
			fmt.Fprintf(&b, "[[%s]] %s: %s\n", p.SentenceID, title, p.Text)
		}
	}

	if len(bundle.MatchedCommunities) > 0 {
		b.WriteString("\nMatched Themes:\n")
		for _, c := range bundle.MatchedCommunities {
			fmt.Fprintf(&b, "%s: %s\n", c.Title, strings.TrimSpace(c.Summary))
		}
	}

	return b.String()
}
