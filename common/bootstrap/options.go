package bootstrap

import (
	"github.com/lyzr/taskplane/common/config"
	"github.com/lyzr/taskplane/common/db"
	"github.com/lyzr/taskplane/common/logger"
)

// Option configures Setup
type Option func(*options)

type options struct {
	config        *config.Config
	overrides     []func(*config.Config)
	logger        *logger.Logger
	skipTelemetry bool
	schema        func(*db.DB) error
}

// WithConfig uses cfg instead of loading from env
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithOverrides adjusts the loaded config before anything is dialed.
// Overrides run in the order given.
func WithOverrides(fns ...func(*config.Config)) Option {
	return func(o *options) {
		o.overrides = append(o.overrides, fns...)
	}
}

// WithMemoryStorage keeps session records and result content in process,
// whatever the configured backends are
func WithMemoryStorage() Option {
	return WithOverrides(func(cfg *config.Config) {
		cfg.Storage.Backend = "memory"
		cfg.Storage.ContentBackend = "memory"
	})
}

// WithLogger uses log instead of building one from the service config
func WithLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// WithoutTelemetry skips the metrics registry and its listeners
func WithoutTelemetry() Option {
	return func(o *options) {
		o.skipTelemetry = true
	}
}

// WithSchema runs hook once the postgres pool is up
func WithSchema(hook func(*db.DB) error) Option {
	return func(o *options) {
		o.schema = hook
	}
}
