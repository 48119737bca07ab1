package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/taskplane/common/config"
	"github.com/lyzr/taskplane/common/db"
	"github.com/lyzr/taskplane/common/logger"
	"github.com/lyzr/taskplane/common/metrics"
	rediscommon "github.com/lyzr/taskplane/common/redis"
	"github.com/lyzr/taskplane/common/telemetry"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if o.config != nil {
		cfg := *o.config
		components.Config = &cfg
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	for _, override := range o.overrides {
		override(components.Config)
	}

	// 2. Initialize logger
	if o.logger != nil {
		components.Logger = o.logger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
		"storage", components.Config.Storage.Backend,
		"content", components.Config.Storage.ContentBackend,
	)

	// 3. Initialize database (postgres storage only)
	if components.Config.Storage.Backend == "postgres" {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		// Register cleanup
		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})

		if o.schema != nil {
			components.Logger.Info("ensuring database schema")
			if err := o.schema(components.DB); err != nil {
				components.Shutdown(ctx) // Cleanup what we've initialized
				return nil, fmt.Errorf("failed to ensure schema: %w", err)
			}
		}
	}

	// 4. Initialize redis (redis content store only)
	if components.Config.Storage.ContentBackend == "redis" {
		components.Logger.Info("connecting to redis", "addr", components.Config.Redis.Addr)
		components.Redis, err = rediscommon.Dial(ctx,
			components.Config.Redis.Addr,
			components.Config.Redis.Password,
			components.Config.Redis.DB,
			components.Logger,
		)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return components.Redis.Close()
		})
	}

	// 5. Initialize telemetry (if not skipped)
	if !o.skipTelemetry {
		tcfg := components.Config.Telemetry
		pprofPort, metricsPort := 0, 0
		if tcfg.EnablePprof {
			pprofPort = tcfg.PprofPort
		}
		if tcfg.EnableMetrics {
			metricsPort = tcfg.MetricsPort
		}

		components.Logger.Info("initializing telemetry", "pprof_port", pprofPort, "metrics_port", metricsPort)
		components.Telemetry = telemetry.New(pprofPort, metricsPort, components.Logger)

		if err := components.Telemetry.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
			// Don't fail startup if telemetry fails
		}
		components.addCleanup(func() error {
			return components.Telemetry.Stop(context.Background())
		})

		components.Metrics, err = metrics.New(components.Telemetry.Registry())
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}
