package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/taskplane/cmd/controlplane/container"
	"github.com/lyzr/taskplane/cmd/controlplane/middleware"
	"github.com/lyzr/taskplane/cmd/controlplane/repository"
	"github.com/lyzr/taskplane/cmd/controlplane/routes"
	"github.com/lyzr/taskplane/common/bootstrap"
	"github.com/lyzr/taskplane/common/logger"
	"github.com/lyzr/taskplane/common/server"
)

const serviceName = "controlplane"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap common components (logger, optional postgres and redis, telemetry)
	components, err := bootstrap.Setup(ctx, serviceName, bootstrap.WithSchema(repository.EnsureSchema))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap control plane: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		components.Logger.Error("failed to initialize service container", "error", err)
		os.Exit(1)
	}
	if err := serviceContainer.Start(ctx); err != nil {
		components.Logger.Error("failed to start event delivery", "error", err)
		os.Exit(1)
	}

	e := newRouter(serviceContainer)

	port := components.Config.Service.Port
	components.Logger.Info("starting control plane", "port", port)

	srv := server.New(serviceName, port, e, components.Logger)
	if err := srv.Start(ctx); err != nil {
		components.Logger.Error("server error", "error", err)
		cancel()
		components.Shutdown(context.Background())
		os.Exit(1)
	}
}

// newRouter builds the echo server with middleware, health and all routes
func newRouter(c *container.Container) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupMiddleware(e, c)
	setupHealthCheck(e, c)
	registerRoutes(e, c)
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, c *container.Container) {
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		RequestIDHandler: func(ec echo.Context, id string) {
			req := ec.Request()
			ec.SetRequest(req.WithContext(logger.ContextWithRequestID(req.Context(), id)))
		},
	}))
	e.Use(echomw.CORS())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(ec echo.Context, v echomw.RequestLoggerValues) error {
			c.Components.Logger.WithContext(ec.Request().Context()).Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))
	e.Use(middleware.ExtractUsername())

	cpCfg := c.Components.Config.ControlPlane
	if cpCfg.RateLimitPerMinute > 0 {
		limiter := middleware.NewUserRateLimiter(cpCfg.RateLimitPerMinute, cpCfg.RateLimitBurst)
		e.Use(middleware.UserRateLimitMiddleware(limiter))
	}
}

// setupHealthCheck registers the health and metrics endpoints
func setupHealthCheck(e *echo.Echo, c *container.Container) {
	e.GET("/health", func(ec echo.Context) error {
		if err := c.Components.Health(ec.Request().Context()); err != nil {
			return ec.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": serviceName,
				"error":   err.Error(),
			})
		}
		return ec.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"service":     serviceName,
			"subscribers": c.Hub.ConnectionCount(),
		})
	})

	if c.Components.Telemetry != nil {
		e.GET("/metrics", echo.WrapHandler(c.Components.Telemetry.Handler()))
	}
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterSessionRoutes(e, c)
	routes.RegisterResultRoutes(e, c)
	routes.RegisterTaskRoutes(e, c)
	routes.RegisterEventRoutes(e, c)
}
