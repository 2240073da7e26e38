package ai

import (
	"context"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
)

// ChatMessage represents a single message in a chat conversation.
//
// Role must be one of:
//   - "user"      → a user-provided message
//   - "assistant" → a message from the AI assistant
type ChatMessage struct {
	Message string `json:"message"`
	Role    string `json:"role"`
}

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Extended thinking mode configuration
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking returns a GenerateOption that enables extended thinking mode.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// Embedder turns text into vectors of a fixed dimension.
//
// EmbeddingDimension reports the dimension of vectors the embedder currently
// produces; stored vectors of another dimension are considered stale.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)
	EmbeddingDimension() int
}

// GraphAIClient defines the model operations used at query time.
type GraphAIClient interface {
	Embedder

	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error
	GenerateChat(
		ctx context.Context,
		messages []ChatMessage,
		opts ...GenerateOption,
	) (string, error)

	// GetMetrics returns the usage accumulated over the client's lifetime.
	// Per request usage is collected through WithUsage.
	GetMetrics() ModelMetrics
}

// NameExtractor finds entity surface names mentioned in a query.
type NameExtractor interface {
	ExtractEntityNames(ctx context.Context, query string) ([]string, error)
}

// SectionSelector picks section ids whose headings are relevant to a query.
type SectionSelector interface {
	SelectRelevantSections(ctx context.Context, query string, headings []common.SectionHeading, limit int) ([]string, error)
}

// RerankResult is one reranked document, Index points into the request slice.
type RerankResult struct {
	Index int
	Score float64
}

// Reranker orders documents by relevance to a query, best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)
}
