package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	LegacyHIS LegacyHISConfig
	KurrentDB KurrentDBConfig
	Auth      AuthConfig
	Model     ModelConfig
	Knowledge KnowledgeConfig
	Audit     AuditConfig
	Alert     AlertConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// LegacyHISConfig holds configuration for the legacy hospital information
// system that still owns the opt-out registry at some facilities. When
// Enabled, consent lookups go to SQL Server instead of Postgres.
type LegacyHISConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	OptOutTable string
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	// Enabled controls whether analysis lifecycle events are published
	Enabled bool
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
}

type AuthConfig struct {
	// Enabled guards the administrative audit endpoints
	Enabled   bool
	JWTSecret string
}

// ModelConfig holds configuration for the foundation model endpoint.
type ModelConfig struct {
	Endpoint string
	APIKey   string
	// ModelID names the model version; recorded on every audit entry
	ModelID string
	// Temperature for risk assessments; 0 keeps output deterministic-ish
	Temperature float64
	MaxTokens   int
	// Timeout is the per-attempt deadline; a timed-out call is retried once
	Timeout time.Duration
	// MaxRetries bounds attempts on throttling-class failures
	MaxRetries int
	// RequestsPerSecond paces outbound calls below the endpoint quota
	RequestsPerSecond int
	Burst             int
}

// KnowledgeConfig holds configuration for the clinical knowledge base.
type KnowledgeConfig struct {
	URL    string
	APIKey string
	// TopK is the number of references requested per analysis
	TopK    int
	Timeout time.Duration
}

// AuditConfig holds configuration for the audit recorder.
type AuditConfig struct {
	// WriteTimeout bounds the synchronous insert attempt
	WriteTimeout time.Duration
	// RetryAttempts bounds background retries after a failed insert
	RetryAttempts int
	// RetryDelay is the base backoff between background retries
	RetryDelay time.Duration
	// QueueSize is the background retry queue capacity
	QueueSize int
	// RedactTerms lists additional literals (known clinician or facility
	// names) redacted from audit free text alongside the patient id
	RedactTerms []string
}

// AlertConfig holds configuration for operational alerting.
type AlertConfig struct {
	WebhookURL string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "clinsight"),
			Password: getEnv("DB_PASSWORD", "clinsight"),
			Database: getEnv("DB_NAME", "clinsight"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		LegacyHIS: LegacyHISConfig{
			Enabled:     getEnvBool("LEGACY_HIS_ENABLED", false),
			Host:        getEnv("LEGACY_HIS_HOST", "localhost"),
			Port:        getEnvInt("LEGACY_HIS_PORT", 1433),
			Database:    getEnv("LEGACY_HIS_DATABASE", "his"),
			User:        getEnv("LEGACY_HIS_USER", ""),
			Password:    getEnv("LEGACY_HIS_PASSWORD", ""),
			OptOutTable: getEnv("LEGACY_HIS_OPTOUT_TABLE", "dbo.AIOptOuts"),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:  getEnvBool("KURRENTDB_ENABLED", false),
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			Enabled:   getEnvBool("AUTH_ENABLED", true),
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Model: ModelConfig{
			Endpoint:          getEnv("MODEL_ENDPOINT", "http://localhost:9090"),
			APIKey:            getEnv("MODEL_API_KEY", ""),
			ModelID:           getEnv("MODEL_ID", "clinrisk-fm-v2"),
			Temperature:       getEnvFloat("MODEL_TEMPERATURE", 0.0),
			MaxTokens:         getEnvInt("MODEL_MAX_TOKENS", 2048),
			Timeout:           getEnvDuration("MODEL_TIMEOUT", 30*time.Second),
			MaxRetries:        getEnvInt("MODEL_MAX_RETRIES", 3),
			RequestsPerSecond: getEnvInt("MODEL_RPS", 10),
			Burst:             getEnvInt("MODEL_BURST", 20),
		},
		Knowledge: KnowledgeConfig{
			URL:     getEnv("KNOWLEDGE_URL", "http://localhost:9091"),
			APIKey:  getEnv("KNOWLEDGE_API_KEY", ""),
			TopK:    getEnvInt("KNOWLEDGE_TOP_K", 5),
			Timeout: getEnvDuration("KNOWLEDGE_TIMEOUT", 10*time.Second),
		},
		Audit: AuditConfig{
			WriteTimeout:  getEnvDuration("AUDIT_WRITE_TIMEOUT", 5*time.Second),
			RetryAttempts: getEnvInt("AUDIT_RETRY_ATTEMPTS", 5),
			RetryDelay:    getEnvDuration("AUDIT_RETRY_DELAY", 10*time.Second),
			QueueSize:     getEnvInt("AUDIT_QUEUE_SIZE", 1000),
			RedactTerms:   getEnvSlice("AUDIT_REDACT_TERMS", nil),
		},
		Alert: AlertConfig{
			WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		},
	}

	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" && cfg.Server.Env != "development" {
		return nil, fmt.Errorf("JWT_SECRET is required when auth is enabled")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
