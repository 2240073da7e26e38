package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/mirojs/graphrag-orchestration-sub001/internal/queue"
	"github.com/mirojs/graphrag-orchestration-sub001/internal/util"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	oai "github.com/mirojs/graphrag-orchestration-sub001/pkg/ai/ollama"
	gai "github.com/mirojs/graphrag-orchestration-sub001/pkg/ai/openai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai/tei"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/community"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/retrieval"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store/memory"
	n4j "github.com/mirojs/graphrag-orchestration-sub001/pkg/store/neo4j"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store/pgx"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rabbitmq/amqp091-go"
)

// newBackend opens the graph backend selected by GRAPH_BACKEND.
func newBackend(ctx context.Context) (store.GraphBackend, error) {
	maxParallel := util.GetEnvInt("GRAPH_DB_MAX_PARALLEL", 8)

	switch backend := util.GetEnvString("GRAPH_BACKEND", "pgx"); backend {
	case "pgx":
		databaseURL := util.GetEnv("DATABASE_URL")
		if util.GetEnvBool("RUN_MIGRATIONS", true) {
			if err := runMigrations(databaseURL); err != nil {
				return nil, err
			}
		}
		pool, err := pgx.NewPool(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		return pgx.NewGraphDBStorageWithConnection(pool,
			pgx.WithMaxParallel(maxParallel),
			pgx.WithCloser(pool.Close),
		), nil
	case "neo4j":
		repo, err := n4j.New(ctx, n4j.Params{
			URI:         util.GetEnv("NEO4J_URI"),
			Username:    util.GetEnv("NEO4J_USER"),
			Password:    util.GetEnv("NEO4J_PASSWORD"),
			Database:    util.GetEnvString("NEO4J_DATABASE", ""),
			MaxParallel: maxParallel,
		})
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "memory":
		logger.Warn("Using the in-memory graph backend, data is not persisted")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown GRAPH_BACKEND %q", backend)
	}
}

func runMigrations(databaseURL string) error {
	m, err := migrate.New("file://"+util.GetEnvString("MIGRATIONS_DIR", "migrations"), databaseURL)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// newAIClient builds the model client selected by AI_ADAPTER.
func newAIClient() (ai.GraphAIClient, error) {
	adapter := util.GetEnv("AI_ADAPTER")
	dims := util.GetEnvInt("AI_EMBED_DIM", 0)
	parallel := int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15))

	switch adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			ChatModel:       util.GetEnv("AI_CHAT_MODEL"),
			ExtractionModel: util.GetEnvString("AI_CHAT_EXTRACT_MODEL", ""),
			Dimensions:      dims,

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnvString("AI_CHAT_KEY", ""),

			MaxConcurrentRequests: parallel,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			ChatModel:       util.GetEnv("AI_CHAT_MODEL"),
			ExtractionModel: util.GetEnvString("AI_CHAT_EXTRACT_MODEL", ""),
			Dimensions:      dims,

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentEmbeddings: parallel,
		}), nil
	}
}

// newReranker returns nil when reranking is disabled.
func newReranker(cfg retrieval.Config) (ai.Reranker, error) {
	if !cfg.RerankEnabled {
		return nil, nil
	}
	r, err := tei.NewReranker(tei.NewRerankerParams{
		BaseURL: util.GetEnv("RERANK_URL"),
		Model:   util.GetEnvString("RERANK_MODEL", ""),
		ApiKey:  util.GetEnvString("RERANK_KEY", ""),
		Timeout: cfg.RerankTimeout,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// newWriter selects where refreshed community embeddings go. The returned
// close function releases the queue connection, if any.
func newWriter(backend store.GraphBackend) (community.EmbeddingWriter, func(), error) {
	switch mode := util.GetEnvString("COMMUNITY_WRITEBACK", "direct"); mode {
	case "direct":
		return community.StoreWriter{Store: backend}, func() {}, nil
	case "queue":
		conn := queue.Init()
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("open channel: %w", err)
		}
		if err := queue.SetupQueues(ch, []string{queue.CommunityEmbeddingQueue}); err != nil {
			closeQueue(ch, conn)
			return nil, nil, err
		}
		return queue.NewCommunityPublisher(ch), func() { closeQueue(ch, conn) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown COMMUNITY_WRITEBACK %q", mode)
	}
}

func closeQueue(ch *amqp091.Channel, conn *amqp091.Connection) {
	_ = ch.Close()
	_ = conn.Close()
}
