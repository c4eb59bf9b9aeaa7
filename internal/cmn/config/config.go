// Package config loads and validates the reflux configuration from
// environment variables and an optional config file.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds everything the reflux services need at startup.
type Config struct {
	Env       string
	Server    Server
	Database  Database
	Bus       Bus
	Retention Retention
	Artifacts Artifacts
	SMTP      SMTP
	OpenAI    OpenAI
	Telemetry Telemetry
	Logging   Logging
}

// Server configures the HTTP frontend.
type Server struct {
	Host            string
	Port            int
	BasePath        string
	AllowedOrigins  []string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the host:port the server binds to.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Database configures the Postgres pool.
type Database struct {
	URL            string
	MaxConns       int32
	MigrateOnStart bool
	ConnectTimeout time.Duration
}

// Bus configures the node dispatch bus.
type Bus struct {
	// Transporter is the transport URL. Empty or "local" selects the
	// in-process transport; a redis:// URL selects the redis transport.
	Transporter    string
	RequestTimeout time.Duration
	WorkerPoolSize int
}

// IsLocal reports whether the in-process transport is selected.
func (b Bus) IsLocal() bool {
	return b.Transporter == "" || b.Transporter == "local"
}

// Retention carries the raw retention policy numbers. Bounds are
// validated by the retention service, not here.
type Retention struct {
	Enabled            bool
	Schedule           string
	RunsSuccessfulDays int
	RunsFailedDays     int
	RunsCancelledDays  int
	LogsDebugDays      int
	LogsInfoDays       int
	LogsWarnDays       int
	LogsErrorDays      int
	ArtifactsDays      int
	VersionsKeepRecent int
	VersionsMinAgeDays int
	MetricsDays        int
	BatchSize          int
	OperationTimeout   time.Duration
}

// Artifacts selects and configures the blob storage backend.
type Artifacts struct {
	Backend string // "local" or "s3"
	Dir     string
	S3      S3
}

// S3 configures the S3-compatible object store client.
type S3 struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// SMTP configures the mail node's delivery transport.
type SMTP struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// OpenAI configures the LLM chat node.
type OpenAI struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Telemetry configures tracing export.
type Telemetry struct {
	OTLPEndpoint string
	Insecure     bool
}

// Logging configures the process logger.
type Logging struct {
	Level  string
	Format string
}

// Debug reports whether debug logging is requested.
func (l Logging) Debug() bool {
	return strings.EqualFold(l.Level, "debug")
}

// IsProduction reports whether the process runs with NODE_ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks the fields required for startup.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (set DATABASE_URL)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Artifacts.Backend != "local" && c.Artifacts.Backend != "s3" {
		return fmt.Errorf("unknown artifact backend %q", c.Artifacts.Backend)
	}
	if c.Artifacts.Backend == "s3" && c.Artifacts.S3.Bucket == "" {
		return fmt.Errorf("artifact backend s3 requires a bucket (set ARTIFACT_S3_BUCKET)")
	}
	return nil
}
