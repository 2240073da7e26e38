package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mirojs/graphrag-orchestration-sub001/internal/server/middleware"
	"github.com/mirojs/graphrag-orchestration-sub001/internal/storage"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
)

func GetTracesHandler(c echo.Context) error {
	type getTracesParams struct {
		ProjectID string `param:"id" validate:"required"`
	}

	params := new(getTracesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	if app.Traces == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "Trace archive is disabled"})
	}

	ids, err := app.Traces.ListTraceIDs(c.Request().Context(), params.ProjectID)
	if err != nil {
		logger.Error("Failed to list traces", "tenant", params.ProjectID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, map[string][]string{"traces": ids})
}

func GetTraceHandler(c echo.Context) error {
	type getTraceParams struct {
		ProjectID string `param:"id" validate:"required"`
		TraceID   string `param:"trace_id" validate:"required"`
	}

	params := new(getTraceParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	if app.Traces == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "Trace archive is disabled"})
	}

	snap, err := app.Traces.GetTrace(c.Request().Context(), params.ProjectID, params.TraceID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTraceNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Trace not found"})
		case errors.Is(err, storage.ErrInvalidTraceKey):
			return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
		}
		logger.Error("Failed to get trace", "tenant", params.ProjectID, "trace", params.TraceID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusOK, snap)
}
