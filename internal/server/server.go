package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	mid "github.com/mirojs/graphrag-orchestration-sub001/internal/server/middleware"
	"github.com/mirojs/graphrag-orchestration-sub001/internal/storage"
	"github.com/mirojs/graphrag-orchestration-sub001/internal/util"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/query/base"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/retrieval"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// NewEcho wires middleware and routes around app.
func NewEcho(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := retrieval.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid retrieval configuration", "err", err)
	}

	backend, err := newBackend(ctx)
	if err != nil {
		logger.Fatal("Failed to open graph backend", "err", err)
	}
	defer backend.Close()

	aiClient, err := newAIClient()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}

	reranker, err := newReranker(cfg)
	if err != nil {
		logger.Fatal("Failed to create reranker", "err", err)
	}

	tokens, err := ai.NewTokenTruncator(util.GetEnvString("TIKTOKEN_ENCODING", ""))
	if err != nil {
		logger.Fatal("Failed to load tokenizer", "err", err)
	}

	writer, closeWriter, err := newWriter(backend)
	if err != nil {
		logger.Fatal("Failed to set up community write-back", "err", err)
	}
	defer closeWriter()

	synthOpts := []base.QueryOption{}
	if model := util.GetEnvString("AI_ANSWER_MODEL", ""); model != "" {
		synthOpts = append(synthOpts, base.WithModel(model))
	}

	orchestrator, err := retrieval.New(cfg, retrieval.Deps{
		Backend:     backend,
		Embedder:    aiClient,
		Extractor:   ai.NewLLMNameExtractor(aiClient),
		Selector:    ai.NewLLMSectionSelector(aiClient),
		Reranker:    reranker,
		Tokens:      tokens,
		Synthesizer: base.NewQueryClient(aiClient, synthOpts...),
		Writer:      writer,
	})
	if err != nil {
		logger.Fatal("Failed to build retrieval pipeline", "err", err)
	}

	app := &mid.App{
		Retriever:      orchestrator,
		Communities:    orchestrator.Communities(),
		MasterAPIKey:   util.GetEnvString("MASTER_API_KEY", ""),
		MasterUserRole: util.GetEnvString("MASTER_USER_ROLE", ""),
	}
	parsedMasterUserID, _ := strconv.ParseInt(util.GetEnvString("MASTER_USER_ID", "0"), 10, 32)
	app.MasterUserID = int32(parsedMasterUserID)

	if authURL := util.GetEnvString("AUTH_URL", ""); authURL != "" {
		k, err := keyfunc.NewDefault([]string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Keyfunc = k.Keyfunc
	}

	if util.GetEnvBool("TRACE_ARCHIVE_ENABLED", false) {
		s3Client, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		app.Traces = storage.NewTraceArchive(s3Client, util.GetEnv("AWS_BUCKET"))
	}

	e := NewEcho(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port, "backend", util.GetEnvString("GRAPH_BACKEND", "pgx"))
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
	orchestrator.Close()

	usage := aiClient.GetMetrics()
	logger.Info("Model usage since start",
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"total_tokens", usage.TotalTokens,
		"tokens_per_second", usage.TokenPerSecond,
	)
}
