package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UsernameKey is the context key for storing the caller's user id
	UsernameKey ContextKey = "username"

	// UserHeader carries the caller's user id
	UserHeader = "X-User-ID"
)

// ExtractUsername stores the X-User-ID header in the request context.
// Requests without the header pass through anonymously.
//
// Accessing in handlers:
//
//	username := middleware.GetUsername(c)
func ExtractUsername() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if username := c.Request().Header.Get(UserHeader); username != "" {
				c.Set(string(UsernameKey), username)
			}
			return next(c)
		}
	}
}

// ExtractUsernameStrict rejects requests without X-User-ID
func ExtractUsernameStrict() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username := c.Request().Header.Get(UserHeader)
			if username == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "X-User-ID header is required")
			}

			c.Set(string(UsernameKey), username)
			return next(c)
		}
	}
}

// GetUsername retrieves the username from the request context.
// Returns empty string if not set.
func GetUsername(c echo.Context) string {
	username, _ := c.Get(string(UsernameKey)).(string)
	return username
}
