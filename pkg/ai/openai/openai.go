package openai

import (
	"context"
	"sync"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

const defaultDimensions = 4096

// GraphOpenAIClient implements ai.GraphAIClient against OpenAI compatible
// endpoints. Embeddings and chat may point at different servers.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel  string
	chatModel       string
	extractionModel string
	dimensions      int

	chatURL string
	timeout time.Duration

	embeddingLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams configures a GraphOpenAIClient.
//
// ChatModel answers questions, ExtractionModel serves structured calls
// (entity names, section selection) and defaults to ChatModel.
// Dimensions fixes the embedding length; vectors are padded or truncated to it.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel  string
	ChatModel       string
	ExtractionModel string
	Dimensions      int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	Timeout                 time.Duration
	MaxConcurrentEmbeddings int64
}

// NewGraphOpenAIClient creates a client with separate OpenAI clients for
// embeddings and chat.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		EmbeddingModel: "text-embedding-3-small",
//		ChatModel:      "gpt-4o-mini",
//		Dimensions:     1536,
//		EmbeddingKey:   os.Getenv("OPENAI_API_KEY"),
//		ChatKey:        os.Getenv("OPENAI_API_KEY"),
//	})
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) *GraphOpenAIClient {
	dims := params.Dimensions
	if dims <= 0 {
		dims = defaultDimensions
	}
	extraction := params.ExtractionModel
	if extraction == "" {
		extraction = params.ChatModel
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	parallel := params.MaxConcurrentEmbeddings
	if parallel <= 0 {
		parallel = 4
	}

	return &GraphOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		chatModel:       params.ChatModel,
		extractionModel: extraction,
		dimensions:      dims,

		chatURL: params.ChatURL,
		timeout: timeout,

		embeddingLock: semaphore.NewWeighted(parallel),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// EmbeddingDimension reports the fixed length of vectors returned by the client.
func (c *GraphOpenAIClient) EmbeddingDimension() int {
	return c.dimensions
}

// GetMetrics returns the token usage and timing accumulated by the client.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *GraphOpenAIClient) modifyMetrics(ctx context.Context, m ai.ModelMetrics) {
	c.metricsLock.Lock()
	c.metrics = c.metrics.Add(m)
	c.metricsLock.Unlock()

	ai.RecordUsage(ctx, m)
}
