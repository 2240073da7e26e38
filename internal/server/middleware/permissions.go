package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

func HasPermission(user *AppUser, permission string) bool {
	if user == nil {
		return false
	}
	return slices.Contains(user.Permissions, permission)
}

func IsAdmin(user *AppUser) bool {
	if user == nil {
		return false
	}
	return user.Role == "admin"
}

// CanAccessProject reports whether user may read the tenant projectID.
func CanAccessProject(user *AppUser, projectID string) bool {
	if user == nil {
		return false
	}
	if IsAdmin(user) || HasPermission(user, "project.view:all") {
		return true
	}
	return slices.Contains(user.Projects, projectID)
}

func RequirePermission(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.(*AppContext).User
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			}

			if !HasPermission(user, permission) {
				return c.JSON(http.StatusForbidden, map[string]string{"message": "Forbidden: missing permission " + permission})
			}

			return next(c)
		}
	}
}

// RequireProjectAccess rejects users that may not read the :id project.
func RequireProjectAccess(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user := c.(*AppContext).User
		if !CanAccessProject(user, c.Param("id")) {
			return c.JSON(http.StatusForbidden, map[string]string{"message": "Unauthorized"})
		}
		return next(c)
	}
}
