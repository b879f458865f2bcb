package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the scouting report server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Video     VideoConfig
	Analysis  AnalysisConfig
	Blob      BlobConfig
	Pipeline  PipelineConfig
	Queue     QueueConfig
	Events    EventsConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port              int
	Env               string
	LogLevel          string
	RequestsPerMinute int
	// BootstrapAPIKey, when set, is stored on startup so a fresh deployment
	// has one working admin key.
	BootstrapAPIKey  string
	BootstrapOwnerID string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type VideoConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type AnalysisConfig struct {
	Engine string
	Remote RemoteAnalysisConfig
}

type RemoteAnalysisConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type BlobConfig struct {
	Backend       string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PresignExpiry time.Duration
}

type PipelineConfig struct {
	MetadataTimeout time.Duration
	AnalysisTimeout time.Duration
	RenderTimeout   time.Duration
	LeaseDuration   time.Duration
	SweepInterval   time.Duration
	QueuedGrace     time.Duration
	SweepBatch      int
}

type QueueConfig struct {
	Backend     string
	Name        string
	Concurrency int
	MaxRetry    int
	Buffer      int
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
	Insecure     bool
}

var (
	validEngines       = map[string]bool{"stub": true, "remote": true}
	validBlobBackends  = map[string]bool{"minio": true, "s3": true, "memory": true}
	validQueueBackends = map[string]bool{"asynq": true, "local": true}
)

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"server.port":                "SCOUT_PORT",
	"server.env":                 "SCOUT_ENV",
	"server.log_level":           "LOG_LEVEL",
	"server.requests_per_minute": "RATE_LIMIT_PER_MINUTE",
	"server.bootstrap_api_key":   "BOOTSTRAP_API_KEY",
	"server.bootstrap_owner_id":  "BOOTSTRAP_OWNER_ID",

	"database.url":               "DATABASE_URL",
	"database.max_open_conns":    "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DATABASE_CONN_MAX_LIFETIME",
	"database.migrations_dir":    "DATABASE_MIGRATIONS_DIR",

	"redis.url": "REDIS_URL",

	"video.base_url":  "VIDEO_SERVICE_URL",
	"video.timeout":   "VIDEO_SERVICE_TIMEOUT",
	"video.cache_ttl": "VIDEO_CACHE_TTL",

	"analysis.engine":         "ANALYSIS_ENGINE",
	"analysis.remote.url":     "ANALYSIS_REMOTE_URL",
	"analysis.remote.api_key": "ANALYSIS_REMOTE_API_KEY",
	"analysis.remote.timeout": "ANALYSIS_REMOTE_TIMEOUT",

	"blob.backend":        "BLOB_BACKEND",
	"blob.endpoint":       "BLOB_ENDPOINT",
	"blob.access_key":     "BLOB_ACCESS_KEY",
	"blob.secret_key":     "BLOB_SECRET_KEY",
	"blob.bucket":         "BLOB_BUCKET",
	"blob.region":         "BLOB_REGION",
	"blob.use_ssl":        "BLOB_USE_SSL",
	"blob.presign_expiry": "DOWNLOAD_URL_EXPIRY",

	"pipeline.metadata_timeout": "PIPELINE_METADATA_TIMEOUT",
	"pipeline.analysis_timeout": "PIPELINE_ANALYSIS_TIMEOUT",
	"pipeline.render_timeout":   "PIPELINE_RENDER_TIMEOUT",
	"pipeline.lease":            "PIPELINE_LEASE",
	"pipeline.sweep_interval":   "PIPELINE_SWEEP_INTERVAL",
	"pipeline.queued_grace":     "PIPELINE_QUEUED_GRACE",
	"pipeline.sweep_batch":      "PIPELINE_SWEEP_BATCH",

	"queue.backend":     "QUEUE_BACKEND",
	"queue.name":        "QUEUE_NAME",
	"queue.concurrency": "QUEUE_CONCURRENCY",
	"queue.max_retry":   "QUEUE_MAX_RETRY",
	"queue.buffer":      "QUEUE_BUFFER",

	"events.amqp_url": "AMQP_URL",
	"events.exchange": "AMQP_EXCHANGE",

	"telemetry.otlp_endpoint": "OTEL_EXPORTER_OTLP_ENDPOINT",
	"telemetry.service_name":  "OTEL_SERVICE_NAME",
	"telemetry.insecure":      "OTEL_EXPORTER_OTLP_INSECURE",
}

var defaults = map[string]any{
	"server.port":                8080,
	"server.env":                 "development",
	"server.log_level":           "info",
	"server.requests_per_minute": 60,
	"server.bootstrap_owner_id":  "admin",

	"database.max_open_conns":    25,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": 5 * time.Minute,
	"database.migrations_dir":    "migrations",

	"video.timeout":   30 * time.Second,
	"video.cache_ttl": 5 * time.Minute,

	"analysis.engine":         "stub",
	"analysis.remote.timeout": 2 * time.Minute,

	"blob.backend":        "minio",
	"blob.bucket":         "reports",
	"blob.region":         "us-east-1",
	"blob.presign_expiry": time.Hour,

	"pipeline.metadata_timeout": 30 * time.Second,
	"pipeline.analysis_timeout": 2 * time.Minute,
	"pipeline.render_timeout":   time.Minute,
	"pipeline.lease":            10 * time.Minute,
	"pipeline.sweep_interval":   time.Minute,
	"pipeline.queued_grace":     2 * time.Minute,
	"pipeline.sweep_batch":      50,

	"queue.backend":     "asynq",
	"queue.name":        "reports",
	"queue.concurrency": 4,
	"queue.max_retry":   3,
	"queue.buffer":      100,

	"events.exchange": "scoutreport.events",

	"telemetry.service_name": "scoutreport",
}

// secretKeys may also be supplied as files via KEY_FILE.
var secretKeys = []string{
	"DATABASE_URL",
	"BLOB_ACCESS_KEY",
	"BLOB_SECRET_KEY",
	"BOOTSTRAP_API_KEY",
	"ANALYSIS_REMOTE_API_KEY",
	"AMQP_URL",
}

// Load reads configuration from environment variables and an optional
// config.yaml, and returns a validated Config. Returns an error with a
// descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	for _, key := range secretKeys {
		readSecret(key)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:              v.GetInt("server.port"),
			Env:               v.GetString("server.env"),
			LogLevel:          strings.ToLower(v.GetString("server.log_level")),
			RequestsPerMinute: v.GetInt("server.requests_per_minute"),
			BootstrapAPIKey:   v.GetString("server.bootstrap_api_key"),
			BootstrapOwnerID:  v.GetString("server.bootstrap_owner_id"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("database.url"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			MigrationsDir:   v.GetString("database.migrations_dir"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis.url"),
		},
		Video: VideoConfig{
			BaseURL:  strings.TrimRight(v.GetString("video.base_url"), "/"),
			Timeout:  v.GetDuration("video.timeout"),
			CacheTTL: v.GetDuration("video.cache_ttl"),
		},
		Analysis: AnalysisConfig{
			Engine: v.GetString("analysis.engine"),
			Remote: RemoteAnalysisConfig{
				BaseURL: strings.TrimRight(v.GetString("analysis.remote.url"), "/"),
				APIKey:  v.GetString("analysis.remote.api_key"),
				Timeout: v.GetDuration("analysis.remote.timeout"),
			},
		},
		Blob: BlobConfig{
			Backend:       v.GetString("blob.backend"),
			Endpoint:      v.GetString("blob.endpoint"),
			AccessKey:     v.GetString("blob.access_key"),
			SecretKey:     v.GetString("blob.secret_key"),
			Bucket:        v.GetString("blob.bucket"),
			Region:        v.GetString("blob.region"),
			UseSSL:        v.GetBool("blob.use_ssl"),
			PresignExpiry: v.GetDuration("blob.presign_expiry"),
		},
		Pipeline: PipelineConfig{
			MetadataTimeout: v.GetDuration("pipeline.metadata_timeout"),
			AnalysisTimeout: v.GetDuration("pipeline.analysis_timeout"),
			RenderTimeout:   v.GetDuration("pipeline.render_timeout"),
			LeaseDuration:   v.GetDuration("pipeline.lease"),
			SweepInterval:   v.GetDuration("pipeline.sweep_interval"),
			QueuedGrace:     v.GetDuration("pipeline.queued_grace"),
			SweepBatch:      v.GetInt("pipeline.sweep_batch"),
		},
		Queue: QueueConfig{
			Backend:     v.GetString("queue.backend"),
			Name:        v.GetString("queue.name"),
			Concurrency: v.GetInt("queue.concurrency"),
			MaxRetry:    v.GetInt("queue.max_retry"),
			Buffer:      v.GetInt("queue.buffer"),
		},
		Events: EventsConfig{
			AMQPURL:  v.GetString("events.amqp_url"),
			Exchange: v.GetString("events.exchange"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: v.GetString("telemetry.otlp_endpoint"),
			ServiceName:  v.GetString("telemetry.service_name"),
			Insecure:     v.GetBool("telemetry.insecure"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Video.BaseURL == "" {
		return fmt.Errorf("VIDEO_SERVICE_URL is required")
	}
	if !isHTTPURL(c.Video.BaseURL) {
		return fmt.Errorf("VIDEO_SERVICE_URL must start with http:// or https://, got %q", c.Video.BaseURL)
	}

	if !validEngines[c.Analysis.Engine] {
		return fmt.Errorf("ANALYSIS_ENGINE must be one of stub, remote; got %q", c.Analysis.Engine)
	}
	if c.Analysis.Engine == "remote" && !isHTTPURL(c.Analysis.Remote.BaseURL) {
		return fmt.Errorf("ANALYSIS_REMOTE_URL must be an http(s) URL when ANALYSIS_ENGINE is remote")
	}

	if !validBlobBackends[c.Blob.Backend] {
		return fmt.Errorf("BLOB_BACKEND must be one of minio, s3, memory; got %q", c.Blob.Backend)
	}
	if c.Blob.Backend == "minio" && (c.Blob.Endpoint == "" || c.Blob.AccessKey == "" || c.Blob.SecretKey == "") {
		return fmt.Errorf("BLOB_ENDPOINT, BLOB_ACCESS_KEY and BLOB_SECRET_KEY are required when BLOB_BACKEND is minio")
	}
	if c.Blob.Bucket == "" {
		return fmt.Errorf("BLOB_BUCKET is required")
	}

	if !validQueueBackends[c.Queue.Backend] {
		return fmt.Errorf("QUEUE_BACKEND must be one of asynq, local; got %q", c.Queue.Backend)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be positive, got %d", c.Queue.Concurrency)
	}

	p := c.Pipeline
	if p.MetadataTimeout <= 0 || p.AnalysisTimeout <= 0 || p.RenderTimeout <= 0 {
		return fmt.Errorf("pipeline step timeouts must be positive")
	}
	if steps := p.MetadataTimeout + p.AnalysisTimeout + p.RenderTimeout; p.LeaseDuration <= steps {
		return fmt.Errorf("PIPELINE_LEASE (%s) must exceed the sum of step timeouts (%s)", p.LeaseDuration, steps)
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// readSecret reads a secret from the file named by KEY_FILE when KEY itself
// is unset.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}
