package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/retrieval"
)

// retrievalError maps orchestrator errors to responses. Request and
// configuration errors are the caller's fault; stage failures are not.
func retrievalError(c echo.Context, err error) error {
	var stageErr *retrieval.StageError
	switch {
	case retrieval.IsConfigError(err):
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	case errors.Is(err, retrieval.ErrNoSynthesizer):
		return c.JSON(http.StatusNotImplemented, map[string]string{"message": "Answer synthesis is not configured"})
	case errors.As(err, &stageErr):
		logger.Error("[Query] stage failed",
			"stage", stageErr.Stage,
			"tenant", stageErr.TenantID,
			"seeds", stageErr.SeedCount,
			"err", stageErr.Err,
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"message": "Internal server error",
			"stage":   stageErr.Stage,
		})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, map[string]string{"message": "Query timed out"})
	default:
		logger.Error("[Query] retrieval error", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
}
