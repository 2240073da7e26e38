package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mirojs/graphrag-orchestration-sub001/internal/server/middleware"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
)

// RefreshCommunitiesHandler drops the cached communities of a project and
// re-embeds every stale one, e.g. after community summaries were rewritten.
func RefreshCommunitiesHandler(c echo.Context) error {
	type refreshParams struct {
		ProjectID string `param:"id" validate:"required"`
	}

	params := new(refreshParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	if app.Communities == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"message": "Community index is not configured"})
	}

	app.Communities.Invalidate(params.ProjectID)
	refreshed, err := app.Communities.EnsureEmbeddings(c.Request().Context(), params.ProjectID)
	if err != nil {
		logger.Error("[Community] refresh failed", "tenant", params.ProjectID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	return c.JSON(http.StatusOK, map[string]int{"refreshed": refreshed})
}
