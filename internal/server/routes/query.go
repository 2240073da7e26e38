package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mirojs/graphrag-orchestration-sub001/internal/server/middleware"
	serverutil "github.com/mirojs/graphrag-orchestration-sub001/internal/server/util"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/query"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/retrieval"
)

const traceArchiveTimeout = 5 * time.Second

type weightsBody struct {
	W1 float64 `json:"w1" validate:"gte=0,lte=1"`
	W2 float64 `json:"w2" validate:"gte=0,lte=1"`
	W3 float64 `json:"w3" validate:"gte=0,lte=1"`
}

type queryProjectRequest struct {
	ProjectID string           `param:"id" validate:"required"`
	Query     string           `json:"query"`
	Messages  []ai.ChatMessage `json:"messages"`
	Profile   string           `json:"profile"`
	Weights   *weightsBody     `json:"weights"`
	Trace     bool             `json:"trace"`
}

// bindQuery parses and validates the body shared by the retrieve and query
// routes and turns it into an orchestrator request. A non-empty message
// means the request is invalid.
func bindQuery(c echo.Context) (*queryProjectRequest, retrieval.Request, *query.QueryTrace, string) {
	data := new(queryProjectRequest)
	if err := c.Bind(data); err != nil {
		return nil, retrieval.Request{}, nil, "Invalid request body"
	}
	if err := c.Validate(data); err != nil {
		return nil, retrieval.Request{}, nil, "Invalid request body"
	}

	question, history := serverutil.SplitConversation(data.Query, data.Messages)
	if question == "" {
		return nil, retrieval.Request{}, nil, "query or a user message is required"
	}

	profile := common.WeightProfile{Label: data.Profile}
	if data.Weights != nil {
		profile.W1 = data.Weights.W1
		profile.W2 = data.Weights.W2
		profile.W3 = data.Weights.W3
	}

	trace := query.NewQueryTrace()
	req := retrieval.Request{
		TenantID: data.ProjectID,
		Query:    question,
		Profile:  profile,
		History:  history,
		Tracer:   trace,
	}
	return data, req, trace, ""
}

// archiveTrace stores the trace when an archive is configured. Failures are
// logged and never fail the request.
func archiveTrace(ctx context.Context, app *middleware.App, tenantID string, snap query.QueryTraceSnapshot) {
	if app.Traces == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), traceArchiveTimeout)
	defer cancel()
	if err := app.Traces.PutTrace(ctx, tenantID, snap); err != nil {
		logger.Warn("[Query] failed to archive trace", "tenant", tenantID, "trace", snap.ID, "err", err)
	}
}

// RetrieveHandler returns the evidence bundle without synthesizing an answer.
func RetrieveHandler(c echo.Context) error {
	type retrieveResponse struct {
		Evidence *common.EvidenceBundle    `json:"evidence"`
		TraceID  string                    `json:"trace_id,omitempty"`
		Trace    *query.QueryTraceSnapshot `json:"trace,omitempty"`
	}

	data, req, trace, msg := bindQuery(c)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": msg})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	bundle, err := app.Retriever.ResolveAndRetrieve(ctx, req)
	if err != nil {
		return retrievalError(c, err)
	}

	snap := trace.Snapshot()
	archiveTrace(ctx, app, req.TenantID, snap)

	resp := retrieveResponse{Evidence: bundle}
	if app.Traces != nil {
		resp.TraceID = snap.ID
	}
	if data.Trace {
		resp.Trace = &snap
	}
	return c.JSON(http.StatusOK, resp)
}

// QueryProjectHandler retrieves evidence and answers the question from it.
func QueryProjectHandler(c echo.Context) error {
	type queryProjectResponse struct {
		Message  string                    `json:"message"`
		Data     []serverutil.CitationData `json:"data"`
		Negative bool                      `json:"negative"`
		Evidence *common.EvidenceBundle    `json:"evidence,omitempty"`
		TraceID  string                    `json:"trace_id,omitempty"`
		Trace    *query.QueryTraceSnapshot `json:"trace,omitempty"`
	}

	data, req, trace, msg := bindQuery(c)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": msg})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	answer, err := app.Retriever.Answer(ctx, req)
	if err != nil {
		return retrievalError(c, err)
	}

	snap := trace.Snapshot()
	archiveTrace(ctx, app, req.TenantID, snap)

	resp := queryProjectResponse{
		Message:  answer.Text,
		Data:     serverutil.ResolveCitations(answer.Bundle, answer.Citations),
		Negative: answer.Bundle != nil && answer.Bundle.Negative,
	}
	if app.Traces != nil {
		resp.TraceID = snap.ID
	}
	if data.Trace {
		resp.Evidence = answer.Bundle
		resp.Trace = &snap
	}
	return c.JSON(http.StatusOK, resp)
}
