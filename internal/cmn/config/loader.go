package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ConfigLoader reads and merges configuration from a .env file, the
// process environment, and an optional config file.
type ConfigLoader struct {
	v          *viper.Viper
	configFile string
	warnings   []string
}

// ConfigLoaderOption defines a functional option for configuring a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigFile returns a ConfigLoaderOption that sets the configuration file path.
func WithConfigFile(configFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configFile = configFile
	}
}

// NewConfigLoader creates a ConfigLoader with the given options.
func NewConfigLoader(opts ...ConfigLoaderOption) *ConfigLoader {
	l := &ConfigLoader{v: viper.New()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load builds the Config. Missing .env and config files are not errors;
// anything unusual during loading is collected into Warnings.
func (l *ConfigLoader) Load() (*Config, error) {
	// .env values become visible to viper's env binding below.
	if err := godotenv.Load(); err == nil {
		l.warnings = append(l.warnings, "loaded environment from .env")
	}

	l.setDefaults()
	l.bindEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	cfg := l.build()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Warnings returns notes collected while loading.
func (l *ConfigLoader) Warnings() []string {
	return l.warnings
}

func (l *ConfigLoader) setDefaults() {
	v := l.v

	v.SetDefault("env", "development")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.basePath", "")
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.requestTimeout", 60*time.Second)
	v.SetDefault("server.shutdownTimeout", 10*time.Second)

	v.SetDefault("database.maxConns", 16)
	v.SetDefault("database.migrateOnStart", true)
	v.SetDefault("database.connectTimeout", 10*time.Second)

	v.SetDefault("bus.transporter", "local")
	v.SetDefault("bus.requestTimeout", 30*time.Second)
	v.SetDefault("bus.workerPoolSize", 8)

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.schedule", "@every 24h")
	v.SetDefault("retention.runsSuccessfulDays", 30)
	v.SetDefault("retention.runsFailedDays", 90)
	v.SetDefault("retention.runsCancelledDays", 14)
	v.SetDefault("retention.logsDebugDays", 7)
	v.SetDefault("retention.logsInfoDays", 30)
	v.SetDefault("retention.logsWarnDays", 60)
	v.SetDefault("retention.logsErrorDays", 90)
	v.SetDefault("retention.artifactsDays", 30)
	v.SetDefault("retention.versionsKeepRecent", 10)
	v.SetDefault("retention.versionsMinAgeDays", 7)
	v.SetDefault("retention.metricsDays", 30)
	v.SetDefault("retention.batchSize", 1000)
	v.SetDefault("retention.operationTimeout", 30*time.Minute)

	v.SetDefault("artifacts.backend", "local")
	v.SetDefault("artifacts.dir", "./data/artifacts")
	v.SetDefault("artifacts.s3.region", "us-east-1")
	v.SetDefault("artifacts.s3.useSSL", true)

	v.SetDefault("smtp.port", "587")

	v.SetDefault("openai.baseURL", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 5*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// bindEnv wires the canonical environment variable names. viper's
// automatic env handling is not used because the established names
// (DATABASE_URL, TRANSPORTER, RETENTION_*) do not share a prefix.
func (l *ConfigLoader) bindEnv() {
	bind := func(key string, envs ...string) {
		_ = l.v.BindEnv(append([]string{key}, envs...)...)
	}

	bind("env", "NODE_ENV")
	bind("server.host", "SERVER_HOST", "HOST")
	bind("server.port", "SERVER_PORT", "PORT")
	bind("server.basePath", "SERVER_BASE_PATH")
	bind("server.allowedOrigins", "SERVER_ALLOWED_ORIGINS")

	bind("database.url", "DATABASE_URL")
	bind("database.maxConns", "DATABASE_MAX_CONNS")
	bind("database.migrateOnStart", "DATABASE_MIGRATE_ON_START")

	bind("bus.transporter", "TRANSPORTER")
	bind("bus.requestTimeout", "BUS_REQUEST_TIMEOUT")
	bind("bus.workerPoolSize", "BUS_WORKER_POOL_SIZE")

	bind("retention.enabled", "RETENTION_ENABLED")
	bind("retention.schedule", "RETENTION_SCHEDULE")
	bind("retention.runsSuccessfulDays", "RETENTION_RUNS_SUCCESSFUL_DAYS")
	bind("retention.runsFailedDays", "RETENTION_RUNS_FAILED_DAYS")
	bind("retention.runsCancelledDays", "RETENTION_RUNS_CANCELLED_DAYS")
	bind("retention.logsDebugDays", "RETENTION_LOGS_DEBUG_DAYS")
	bind("retention.logsInfoDays", "RETENTION_LOGS_INFO_DAYS")
	bind("retention.logsWarnDays", "RETENTION_LOGS_WARN_DAYS")
	bind("retention.logsErrorDays", "RETENTION_LOGS_ERROR_DAYS")
	bind("retention.artifactsDays", "RETENTION_ARTIFACTS_DAYS")
	bind("retention.versionsKeepRecent", "RETENTION_VERSIONS_KEEP_RECENT")
	bind("retention.versionsMinAgeDays", "RETENTION_VERSIONS_MIN_AGE_DAYS")
	bind("retention.metricsDays", "RETENTION_METRICS_DAYS")
	bind("retention.batchSize", "RETENTION_BATCH_SIZE")

	bind("artifacts.backend", "ARTIFACT_BACKEND")
	bind("artifacts.dir", "ARTIFACT_DIR")
	bind("artifacts.s3.endpoint", "ARTIFACT_S3_ENDPOINT")
	bind("artifacts.s3.bucket", "ARTIFACT_S3_BUCKET")
	bind("artifacts.s3.accessKey", "ARTIFACT_S3_ACCESS_KEY")
	bind("artifacts.s3.secretKey", "ARTIFACT_S3_SECRET_KEY")
	bind("artifacts.s3.region", "ARTIFACT_S3_REGION")
	bind("artifacts.s3.useSSL", "ARTIFACT_S3_USE_SSL")

	bind("smtp.host", "SMTP_HOST")
	bind("smtp.port", "SMTP_PORT")
	bind("smtp.username", "SMTP_USERNAME")
	bind("smtp.password", "SMTP_PASSWORD")
	bind("smtp.from", "SMTP_FROM")

	bind("openai.apiKey", "OPENAI_API_KEY")
	bind("openai.baseURL", "OPENAI_BASE_URL")
	bind("openai.model", "OPENAI_MODEL")

	bind("telemetry.otlpEndpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	bind("telemetry.insecure", "OTEL_EXPORTER_OTLP_INSECURE")

	bind("logging.level", "LOG_LEVEL")
	bind("logging.format", "LOG_FORMAT")
}

func (l *ConfigLoader) build() *Config {
	v := l.v

	return &Config{
		Env: v.GetString("env"),
		Server: Server{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			BasePath:        strings.TrimSuffix(v.GetString("server.basePath"), "/"),
			AllowedOrigins:  v.GetStringSlice("server.allowedOrigins"),
			RequestTimeout:  v.GetDuration("server.requestTimeout"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
		},
		Database: Database{
			URL:            v.GetString("database.url"),
			MaxConns:       int32(v.GetInt("database.maxConns")),
			MigrateOnStart: v.GetBool("database.migrateOnStart"),
			ConnectTimeout: v.GetDuration("database.connectTimeout"),
		},
		Bus: Bus{
			Transporter:    v.GetString("bus.transporter"),
			RequestTimeout: v.GetDuration("bus.requestTimeout"),
			WorkerPoolSize: v.GetInt("bus.workerPoolSize"),
		},
		Retention: Retention{
			Enabled:            v.GetBool("retention.enabled"),
			Schedule:           v.GetString("retention.schedule"),
			RunsSuccessfulDays: v.GetInt("retention.runsSuccessfulDays"),
			RunsFailedDays:     v.GetInt("retention.runsFailedDays"),
			RunsCancelledDays:  v.GetInt("retention.runsCancelledDays"),
			LogsDebugDays:      v.GetInt("retention.logsDebugDays"),
			LogsInfoDays:       v.GetInt("retention.logsInfoDays"),
			LogsWarnDays:       v.GetInt("retention.logsWarnDays"),
			LogsErrorDays:      v.GetInt("retention.logsErrorDays"),
			ArtifactsDays:      v.GetInt("retention.artifactsDays"),
			VersionsKeepRecent: v.GetInt("retention.versionsKeepRecent"),
			VersionsMinAgeDays: v.GetInt("retention.versionsMinAgeDays"),
			MetricsDays:        v.GetInt("retention.metricsDays"),
			BatchSize:          v.GetInt("retention.batchSize"),
			OperationTimeout:   v.GetDuration("retention.operationTimeout"),
		},
		Artifacts: Artifacts{
			Backend: v.GetString("artifacts.backend"),
			Dir:     v.GetString("artifacts.dir"),
			S3: S3{
				Endpoint:  v.GetString("artifacts.s3.endpoint"),
				Bucket:    v.GetString("artifacts.s3.bucket"),
				AccessKey: v.GetString("artifacts.s3.accessKey"),
				SecretKey: v.GetString("artifacts.s3.secretKey"),
				Region:    v.GetString("artifacts.s3.region"),
				UseSSL:    v.GetBool("artifacts.s3.useSSL"),
			},
		},
		SMTP: SMTP{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetString("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("smtp.from"),
		},
		OpenAI: OpenAI{
			APIKey:  v.GetString("openai.apiKey"),
			BaseURL: v.GetString("openai.baseURL"),
			Model:   v.GetString("openai.model"),
			Timeout: v.GetDuration("openai.timeout"),
		},
		Telemetry: Telemetry{
			OTLPEndpoint: v.GetString("telemetry.otlpEndpoint"),
			Insecure:     v.GetBool("telemetry.insecure"),
		},
		Logging: Logging{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}
}

// Load builds a Config with default options.
func Load(opts ...ConfigLoaderOption) (*Config, error) {
	return NewConfigLoader(opts...).Load()
}
