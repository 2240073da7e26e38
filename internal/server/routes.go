package server

import (
	"github.com/mirojs/graphrag-orchestration-sub001/internal/server/middleware"
	"github.com/mirojs/graphrag-orchestration-sub001/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Project query routes
	apiRoutes.POST("/projects/:id/retrieve", routes.RetrieveHandler, middleware.RequirePermission("project.query"), middleware.RequireProjectAccess)
	apiRoutes.POST("/projects/:id/query", routes.QueryProjectHandler, middleware.RequirePermission("project.query"), middleware.RequireProjectAccess)

	// Community routes
	apiRoutes.POST("/projects/:id/communities/refresh", routes.RefreshCommunitiesHandler, middleware.RequirePermission("project.update"), middleware.RequireProjectAccess)

	// Trace routes
	apiRoutes.GET("/projects/:id/traces", routes.GetTracesHandler, middleware.RequirePermission("trace.view"), middleware.RequireProjectAccess)
	apiRoutes.GET("/projects/:id/traces/:trace_id", routes.GetTraceHandler, middleware.RequirePermission("trace.view"), middleware.RequireProjectAccess)
}
