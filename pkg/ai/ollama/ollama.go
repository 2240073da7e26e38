package ollama

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

const defaultDimensions = 4096

// GraphOllamaClient implements ai.GraphAIClient on a local or remote Ollama server.
type GraphOllamaClient struct {
	embeddingModel  string
	chatModel       string
	extractionModel string
	dimensions      int
	timeout         time.Duration

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel  string
	ChatModel       string
	ExtractionModel string
	Dimensions      int

	BaseURL string
	ApiKey  string

	Timeout               time.Duration
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient connects to the Ollama server at BaseURL, or the
// default from OLLAMA_HOST when empty.
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	var cli *api.Client
	if u != nil {
		cli = api.NewClient(u, httpClient)
	} else {
		cli, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

	dims := params.Dimensions
	if dims <= 0 {
		dims = defaultDimensions
	}
	parallel := params.MaxConcurrentRequests
	if parallel <= 0 {
		parallel = 2
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	extraction := params.ExtractionModel
	if extraction == "" {
		extraction = params.ChatModel
	}

	return &GraphOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		chatModel:       params.ChatModel,
		extractionModel: extraction,
		dimensions:      dims,
		timeout:         timeout,

		reqLock: semaphore.NewWeighted(parallel),

		Client: cli,
	}, nil
}

// EmbeddingDimension reports the fixed length of vectors returned by the client.
func (c *GraphOllamaClient) EmbeddingDimension() int {
	return c.dimensions
}
