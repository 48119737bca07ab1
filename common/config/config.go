package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lyzr/taskplane/common/clients"
	taskerrors "github.com/lyzr/taskplane/common/errors"
)

// Resolution modes for inline task dependencies
const (
	ResolutionStrict  = "strict"
	ResolutionLenient = "lenient"
)

// Config holds all service configuration
type Config struct {
	Service      ServiceConfig
	Client       ClientConfig
	Retry        RetryConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Storage      StorageConfig
	ControlPlane ControlPlaneConfig
	Telemetry    TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// ClientConfig holds the SDK side connection settings
type ClientConfig struct {
	Endpoint          string
	UserID            string
	ChannelPoolSize   int
	RequestTimeout    time.Duration
	ChunkSizeOverride int // 0 keeps the limit advertised by the service
	UploadConcurrency int
	ResolutionMode    string
}

// RetryConfig is exposed for transports that retry. Nothing in the SDK core retries.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// ContentTTL expires stored result data; 0 keeps it until purge
	ContentTTL time.Duration
}

// StorageConfig selects the control plane backends
type StorageConfig struct {
	Backend        string // "memory" or "postgres"
	ContentBackend string // "memory" or "redis"
}

// ControlPlaneConfig holds limits advertised by the development control plane
type ControlPlaneConfig struct {
	DataChunkMaxSize int
	// Per-user request budget; zero disables rate limiting
	RateLimitPerMinute int
	RateLimitBurst     int
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Client: loadClient(),
		Retry: RetryConfig{
			MaxAttempts:    getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			InitialBackoff: getEnvDuration("RETRY_INITIAL_BACKOFF", 100*time.Millisecond),
			MaxBackoff:     getEnvDuration("RETRY_MAX_BACKOFF", 5*time.Second),
			Multiplier:     getEnvFloat("RETRY_MULTIPLIER", 2.0),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "taskplane"),
			User:        getEnv("POSTGRES_USER", "taskplane"),
			Password:    getEnv("POSTGRES_PASSWORD", "taskplane"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", "localhost:6379"),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvInt("REDIS_DB", 0),
			ContentTTL: getEnvDuration("REDIS_CONTENT_TTL", 0),
		},
		Storage: StorageConfig{
			Backend:        getEnv("STORAGE_BACKEND", "memory"),
			ContentBackend: getEnv("CONTENT_BACKEND", "memory"),
		},
		ControlPlane: ControlPlaneConfig{
			DataChunkMaxSize:   getEnvInt("DATA_CHUNK_MAX_SIZE", 84*1024),
			RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
			RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 50),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// LoadClient loads and validates only the SDK settings
func LoadClient() (ClientConfig, error) {
	cfg := loadClient()
	return cfg, cfg.Validate()
}

func loadClient() ClientConfig {
	return ClientConfig{
		Endpoint:          getEnv("TASKPLANE_ENDPOINT", "http://localhost:8080"),
		UserID:            getEnv("TASKPLANE_USER_ID", ""),
		ChannelPoolSize:   getEnvInt("TASKPLANE_CHANNEL_POOL_SIZE", 4),
		RequestTimeout:    getEnvDuration("TASKPLANE_REQUEST_TIMEOUT", 30*time.Second),
		ChunkSizeOverride: getEnvInt("TASKPLANE_CHUNK_SIZE_OVERRIDE", 0),
		UploadConcurrency: getEnvInt("TASKPLANE_UPLOAD_CONCURRENCY", 8),
		ResolutionMode:    strings.ToLower(getEnv("TASKPLANE_RESOLUTION_MODE", ResolutionStrict)),
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return taskerrors.InvalidConfiguration("config", "Validate", "invalid port: %d", c.Service.Port)
	}

	if err := c.Client.Validate(); err != nil {
		return err
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return taskerrors.InvalidConfiguration("config", "Validate", "max_conns must be >= min_conns")
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return taskerrors.InvalidConfiguration("config", "Validate", "database host is required")
		}
	default:
		return taskerrors.InvalidConfiguration("config", "Validate", "unknown storage backend: %s", c.Storage.Backend)
	}

	switch c.Storage.ContentBackend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return taskerrors.InvalidConfiguration("config", "Validate", "redis address is required")
		}
	default:
		return taskerrors.InvalidConfiguration("config", "Validate", "unknown content backend: %s", c.Storage.ContentBackend)
	}

	if c.ControlPlane.DataChunkMaxSize <= 0 {
		return taskerrors.InvalidConfiguration("config", "Validate", "data chunk max size must be positive, got %d", c.ControlPlane.DataChunkMaxSize)
	}
	if c.ControlPlane.DataChunkMaxSize > clients.MaxFrameData {
		return taskerrors.InvalidConfiguration("config", "Validate", "data chunk max size %d exceeds the frame limit %d",
			c.ControlPlane.DataChunkMaxSize, clients.MaxFrameData)
	}

	return nil
}

// Validate checks the SDK settings
func (c ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return taskerrors.InvalidConfiguration("config", "Validate", "endpoint is required")
	}
	if c.ChannelPoolSize <= 0 {
		return taskerrors.InvalidConfiguration("config", "Validate", "channel pool size must be positive, got %d", c.ChannelPoolSize)
	}
	if c.ChunkSizeOverride < 0 {
		return taskerrors.InvalidConfiguration("config", "Validate", "chunk size override must not be negative, got %d", c.ChunkSizeOverride)
	}
	if c.ChunkSizeOverride > clients.MaxFrameData {
		return taskerrors.InvalidConfiguration("config", "Validate", "chunk size override %d exceeds the frame limit %d",
			c.ChunkSizeOverride, clients.MaxFrameData)
	}
	if c.UploadConcurrency <= 0 {
		return taskerrors.InvalidConfiguration("config", "Validate", "upload concurrency must be positive, got %d", c.UploadConcurrency)
	}
	if c.ResolutionMode != ResolutionStrict && c.ResolutionMode != ResolutionLenient {
		return taskerrors.InvalidConfiguration("config", "Validate", "unknown resolution mode: %s", c.ResolutionMode)
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
