// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Session backends.
const (
	SessionMemory = "memory"
	SessionSQLite = "sqlite"
)

// NLP providers.
const (
	NLPOpenAI = "openai"
	NLPGRPC   = "grpc"
	NLPNone   = "none"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	MetricsAddr string
	FrontendURL string

	StoreDriver    string
	MeetingsPath   string
	DBPath         string
	SessionBackend string
	SessionTTL     time.Duration

	NLP NLPConfig

	DefaultRequesterEmail string
	DefaultRequesterName  string
	DisplayTimezone       string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	ConversationLog ConversationLogConfig
}

// NLPConfig selects and configures the language collaborator.
type NLPConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	GRPCAddr    string
	Timeout     time.Duration
	PromptsPath string
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromEnv reads configuration from environment variables without validating
// it, so callers can apply overrides first.
func FromEnv() *Config {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StoreJSON)),
		MeetingsPath:   getEnv("MEETINGS_PATH", "./data/meetings.json"),
		DBPath:         getEnv("DB_PATH", "./data/calgenie.db"),
		SessionBackend: strings.ToLower(getEnv("SESSION_BACKEND", SessionMemory)),
		SessionTTL:     getEnvDuration("SESSION_TTL", 60*time.Minute),
		NLP: NLPConfig{
			Provider:    strings.ToLower(getEnv("NLP_PROVIDER", NLPOpenAI)),
			APIKey:      getEnv("OPENROUTER_API_KEY", ""),
			BaseURL:     getEnv("NLP_BASE_URL", ""),
			Model:       getEnv("NLP_MODEL", ""),
			GRPCAddr:    getEnv("NLP_GRPC_ADDR", "localhost:50051"),
			Timeout:     getEnvDuration("NLP_TIMEOUT", 30*time.Second),
			PromptsPath: getEnv("PROMPTS_PATH", ""),
		},
		DefaultRequesterEmail: getEnv("DEFAULT_REQUESTER_EMAIL", "alice.johnson@example.com"),
		DefaultRequesterName:  getEnv("DEFAULT_REQUESTER_NAME", "Alice Johnson"),
		DisplayTimezone:       getEnv("DISPLAY_TIMEZONE", "UTC"),
		RateLimitRequests:     getEnvInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:       getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}
	return cfg
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StoreDriver {
	case StoreJSON:
		if c.MeetingsPath == "" {
			return fmt.Errorf("MEETINGS_PATH cannot be empty")
		}
	case StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of json, sqlite, memory; got %q", c.StoreDriver)
	}
	switch c.SessionBackend {
	case SessionMemory, SessionSQLite:
	default:
		return fmt.Errorf("SESSION_BACKEND must be %q or %q, got %q", SessionMemory, SessionSQLite, c.SessionBackend)
	}
	if c.usesSQLite() && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	switch c.NLP.Provider {
	case NLPOpenAI:
		if c.NLP.APIKey == "" {
			return fmt.Errorf("OPENROUTER_API_KEY is required when NLP_PROVIDER=%s", NLPOpenAI)
		}
	case NLPGRPC:
		if c.NLP.GRPCAddr == "" {
			return fmt.Errorf("NLP_GRPC_ADDR is required when NLP_PROVIDER=%s", NLPGRPC)
		}
	case NLPNone:
	default:
		return fmt.Errorf("NLP_PROVIDER must be one of openai, grpc, none; got %q", c.NLP.Provider)
	}
	if c.NLP.Timeout <= 0 {
		return fmt.Errorf("NLP_TIMEOUT must be > 0")
	}
	if c.DefaultRequesterEmail == "" {
		return fmt.Errorf("DEFAULT_REQUESTER_EMAIL cannot be empty")
	}
	if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
		return fmt.Errorf("DISPLAY_TIMEZONE: %w", err)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

func (c *Config) usesSQLite() bool {
	return c.StoreDriver == StoreSQLite || c.SessionBackend == SessionSQLite
}

// Location returns the display time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
