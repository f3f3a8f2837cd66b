package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Deployment profiles
const (
	ProfileDefault    = "default"
	ProfileLockedDown = "prod_brutal"
)

// maxRetriesLimit is the largest retry budget a scrub may ask for
const maxRetriesLimit = 5

// minJWTSecretLength is enforced for HS256 secrets in production
const minJWTSecretLength = 32

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Privacy       PrivacyConfig
	Stores        StoreConfig
	Auditor       AuditorConfig
	AuditTrail    AuditTrailConfig
	Observability ObservabilityConfig
	Environment   string
	Profile       string
	PolicyFile    string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// AuthConfig holds bearer token settings. An empty JWTSecret disables
// authentication.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// PrivacyConfig holds pipeline limits
type PrivacyConfig struct {
	MaxChars          int
	DefaultMaxRetries int
	DefaultLanguage   string
}

// StoreConfig holds the TTL of every RAM store
type StoreConfig struct {
	EventTTL      time.Duration
	MappingTTL    time.Duration
	StatusTTL     time.Duration
	ApprovalTTL   time.Duration
	ReceiptTTL    time.Duration
	SweepInterval time.Duration
}

// AuditorConfig holds the semantic auditor's LLM endpoint
type AuditorConfig struct {
	Enabled    bool
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	MaxTokens  int
}

// AuditTrailConfig sizes the asynchronous audit trail
type AuditTrailConfig struct {
	BufferSize  int
	WorkerCount int
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables and,
// when POLICY_FILE is set, the YAML policy overlay
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Profile:     getEnv("PROFILE", ProfileDefault),
		PolicyFile:  getEnv("POLICY_FILE", ""),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 45*time.Second),
			MaxBodyBytes:    int64(getEnvAsInt("SERVER_MAX_BODY_BYTES", 1<<20)),
			CORSOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_JWT_ISSUER", ""),
			Audience:  getEnv("AUTH_JWT_AUDIENCE", ""),
		},
		Privacy: PrivacyConfig{
			MaxChars:          getEnvAsInt("PRIVACY_MAX_CHARS", 50000),
			DefaultMaxRetries: getEnvAsInt("PRIVACY_DEFAULT_MAX_RETRIES", 2),
			DefaultLanguage:   getEnv("PRIVACY_DEFAULT_LANGUAGE", "sv"),
		},
		Stores: StoreConfig{
			EventTTL:      getEnvAsDuration("EVENT_TTL", 15*time.Minute),
			MappingTTL:    getEnvAsDuration("MAPPING_TTL", 15*time.Minute),
			StatusTTL:     getEnvAsDuration("STATUS_TTL", time.Hour),
			ApprovalTTL:   getEnvAsDuration("APPROVAL_TTL", time.Hour),
			ReceiptTTL:    getEnvAsDuration("RECEIPT_TTL", 15*time.Minute),
			SweepInterval: getEnvAsDuration("STORE_SWEEP_INTERVAL", time.Minute),
		},
		Auditor: AuditorConfig{
			Enabled:    getEnvAsBool("AUDITOR_ENABLED", true),
			BaseURL:    getEnv("AUDITOR_BASE_URL", "https://api.openai.com/v1"),
			APIKey:     getEnv("AUDITOR_API_KEY", getEnv("OPENAI_API_KEY", "")),
			Model:      getEnv("AUDITOR_MODEL", "gpt-4o-mini"),
			Timeout:    getEnvAsDuration("AUDITOR_TIMEOUT", 15*time.Second),
			MaxRetries: getEnvAsInt("AUDITOR_MAX_RETRIES", 1),
			MaxTokens:  getEnvAsInt("AUDITOR_MAX_TOKENS", 200),
		},
		AuditTrail: AuditTrailConfig{
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			WorkerCount: getEnvAsInt("AUDIT_WORKERS", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.PolicyFile != "" {
		overlay, err := LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		overlay.Apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max body bytes must be positive")
	}

	switch c.Profile {
	case ProfileDefault, ProfileLockedDown:
	default:
		return fmt.Errorf("unknown profile %q (want %s or %s)", c.Profile, ProfileDefault, ProfileLockedDown)
	}

	if c.Privacy.MaxChars <= 0 {
		return fmt.Errorf("privacy max chars must be positive")
	}
	if c.Privacy.DefaultMaxRetries < 0 || c.Privacy.DefaultMaxRetries > maxRetriesLimit {
		return fmt.Errorf("privacy default max retries must be between 0 and %d", maxRetriesLimit)
	}

	ttls := map[string]time.Duration{
		"event":    c.Stores.EventTTL,
		"mapping":  c.Stores.MappingTTL,
		"status":   c.Stores.StatusTTL,
		"approval": c.Stores.ApprovalTTL,
		"receipt":  c.Stores.ReceiptTTL,
		"sweep":    c.Stores.SweepInterval,
	}
	for name, ttl := range ttls {
		if ttl <= 0 {
			return fmt.Errorf("%s ttl must be positive", name)
		}
	}

	if c.AuditorCallsAllowed() {
		if c.Auditor.BaseURL == "" {
			return fmt.Errorf("auditor base URL is required when the auditor is enabled")
		}
		if c.Auditor.Timeout <= 0 {
			return fmt.Errorf("auditor timeout must be positive")
		}
	}

	if c.AuditTrail.BufferSize < 0 || c.AuditTrail.WorkerCount <= 0 {
		return fmt.Errorf("audit trail needs a non-negative buffer and at least one worker")
	}

	if c.IsProduction() && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("AUTH_JWT_SECRET of at least %d bytes is required in production", minJWTSecretLength)
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// PolicyEnvironment is the environment name handed to the policy engine
func (c *Config) PolicyEnvironment() string {
	if c.IsProduction() {
		return "production"
	}
	return c.Environment
}

// LockedDown reports whether no traffic may leave the process
func (c *Config) LockedDown() bool {
	return c.IsProduction() && c.Profile == ProfileLockedDown
}

// AuditorCallsAllowed reports whether the semantic auditor may be wired to
// its endpoint at all
func (c *Config) AuditorCallsAllowed() bool {
	return c.Auditor.Enabled && !c.LockedDown()
}

// AuthEnabled reports whether bearer tokens are required
func (c *Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != ""
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated variable, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
