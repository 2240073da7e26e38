package middleware

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/query"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/retrieval"
)

type AppUser struct {
	UserID      int32
	Role        string
	Permissions []string
	// Projects lists the tenants the user may query.
	Projects []string
}

// Retriever is implemented by *retrieval.Orchestrator.
type Retriever interface {
	ResolveAndRetrieve(ctx context.Context, req retrieval.Request) (*common.EvidenceBundle, error)
	Answer(ctx context.Context, req retrieval.Request) (*retrieval.Answer, error)
}

// TraceStore is implemented by *storage.TraceArchive.
type TraceStore interface {
	PutTrace(ctx context.Context, tenantID string, snap query.QueryTraceSnapshot) error
	GetTrace(ctx context.Context, tenantID, traceID string) (*query.QueryTraceSnapshot, error)
	ListTraceIDs(ctx context.Context, tenantID string) ([]string, error)
}

// CommunityRefresher is implemented by *community.Index.
type CommunityRefresher interface {
	Invalidate(tenantID string)
	EnsureEmbeddings(ctx context.Context, tenantID string) (int, error)
}

type App struct {
	Retriever   Retriever
	Communities CommunityRefresher
	// Traces is nil when trace archiving is disabled.
	Traces TraceStore
	// Keyfunc verifies bearer JWTs. Nil accepts the master key only.
	Keyfunc jwt.Keyfunc

	MasterAPIKey   string
	MasterUserID   int32
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
