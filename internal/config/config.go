package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"local"`
	Debug       bool   `env:"DEBUG" envDefault:"false"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP surface used by `serve` (health, metrics, manual trigger)
	ServerPort      int           `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress   string        `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Database  DatabaseConfig
	Storage   StorageConfig
	LogStore  LogStoreConfig
	Secrets   SecretsConfig
	Pipeline  PipelineConfig
	Scheduler SchedulerConfig
	Otel      OtelConfig
}

// DatabaseConfig holds relational store connection settings
type DatabaseConfig struct {
	// Driver selects the relational store: "postgres" or "sqlite".
	Driver       string        `env:"DB_DRIVER" envDefault:"postgres"`
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"goldzone"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"goldzone"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	SQLitePath   string        `env:"SQLITE_PATH" envDefault:"goldzone.db"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"2"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`

	// Serverless databases may be paused; connecting pings until they answer.
	WakeUpAttempts int           `env:"DB_WAKEUP_ATTEMPTS" envDefault:"30"`
	WakeUpWait     time.Duration `env:"DB_WAKEUP_WAIT" envDefault:"10s"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// IsSQLite reports whether the local SQLite store is selected.
func (d *DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

// StorageConfig holds gold-zone table storage settings
type StorageConfig struct {
	// Backend is "s3" (S3/MinIO) or "local" (filesystem under LocalRoot).
	Backend   string `env:"STORAGE_BACKEND" envDefault:"local"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:""`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:""`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:""`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"goldzone"`
	LocalRoot string `env:"STORAGE_LOCAL_ROOT" envDefault:"./data"`
}

// LogStoreConfig holds the raw log query endpoint settings
type LogStoreConfig struct {
	Endpoint string `env:"LOGSTORE_ENDPOINT" envDefault:"https://api.loganalytics.io"`
	// Names of the secrets holding the workspace id and the bearer token.
	WorkspaceSecret string        `env:"LOGSTORE_WORKSPACE_SECRET" envDefault:"log-workspace-id"`
	TokenSecret     string        `env:"LOGSTORE_TOKEN_SECRET" envDefault:"log-query-token"`
	Table           string        `env:"LOGSTORE_TABLE" envDefault:"AppTraces"`
	RateLimit       float64       `env:"LOGSTORE_RATE_LIMIT" envDefault:"2"`
	Timeout         time.Duration `env:"LOGSTORE_TIMEOUT" envDefault:"60s"`
}

// SecretsConfig holds secret store settings
type SecretsConfig struct {
	// Secrets are read from environment variables named Prefix + NAME.
	Prefix string `env:"SECRETS_PREFIX" envDefault:"GOLDZONE_SECRET_"`
}

// PipelineConfig holds the batch job settings
type PipelineConfig struct {
	ChatbotName    string  `env:"CHATBOT_NAME" envDefault:""`
	AppName        string  `env:"APP_NAME" envDefault:""`
	AppType        string  `env:"APP_TYPE" envDefault:""`
	MappingFile    string  `env:"MAPPING_FILE" envDefault:"mapping.yaml"`
	SampleFraction float64 `env:"SAMPLE_FRACTION" envDefault:"0.8"`
	// Schema selects the dimension layout: "session" or "conversation".
	Schema string `env:"GOLDZONE_SCHEMA" envDefault:"session"`

	FactPath       string `env:"GOLDZONE_FACT_PATH" envDefault:"goldzone/fact_evaluation_dataset"`
	DimPath        string `env:"GOLDZONE_DIM_PATH" envDefault:"goldzone/dims"`
	PrepOutputPath string `env:"PREP_OUTPUT_PATH" envDefault:"evaluation/input"`
	EvalOutputPath string `env:"EVAL_OUTPUT_PATH" envDefault:"evaluation/output"`

	EvaluatorName  string `env:"EVALUATOR_NAME" envDefault:"turn_relevance"`
	MetricNames    string `env:"METRIC_NAMES" envDefault:"[]"`
	GroupBySession bool   `env:"GROUP_BY_SESSION" envDefault:"false"`
}

// SchedulerConfig holds settings for scheduled transform runs
type SchedulerConfig struct {
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`
	// Cron format with seconds: "second minute hour day-of-month month day-of-week"
	TransformSchedule string        `env:"TRANSFORM_SCHEDULE" envDefault:"0 0 2 * * *"`
	TransformLookback time.Duration `env:"TRANSFORM_LOOKBACK" envDefault:"24h"`
	RunTimeout        time.Duration `env:"TRANSFORM_TIMEOUT" envDefault:"30m"`
}

// NewConfig creates a new Config from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("db_driver", cfg.Database.Driver),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("chatbot", cfg.Pipeline.ChatbotName),
	)

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: want postgres or sqlite", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case "s3", "local":
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q: want s3 or local", c.Storage.Backend)
	}
	switch c.Pipeline.Schema {
	case "session", "conversation":
	default:
		return fmt.Errorf("invalid GOLDZONE_SCHEMA %q: want session or conversation", c.Pipeline.Schema)
	}
	if c.Pipeline.SampleFraction < 0 || c.Pipeline.SampleFraction > 1 {
		return fmt.Errorf("invalid SAMPLE_FRACTION %v: want a value in [0, 1]", c.Pipeline.SampleFraction)
	}
	return nil
}
