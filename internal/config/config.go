package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv string
	Port   string

	// Gateway connection. APIKey and ClientID are required unless DemoMode
	// is set; they never mix.
	GatewayBaseURL  string
	GatewayAPIKey   string
	GatewayClientID string
	GatewayTimeout  time.Duration
	TokenSkew       time.Duration
	DemoMode        bool

	// RedisURL is optional. When empty the intent store is in-memory.
	RedisURL  string
	IntentTTL time.Duration

	ReturnURL string

	PollInterval    time.Duration
	PollMaxAttempts int
	PollErrorBudget int
	AwaitTimeout    time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:          valueOrDefault(k.String("APP_ENV"), "development"),
		Port:            valueOrDefault(k.String("PORT"), "8080"),
		GatewayBaseURL:  strings.TrimRight(strings.TrimSpace(k.String("GATEWAY_BASE_URL")), "/"),
		GatewayAPIKey:   strings.TrimSpace(k.String("GATEWAY_API_KEY")),
		GatewayClientID: strings.TrimSpace(k.String("GATEWAY_CLIENT_ID")),
		GatewayTimeout:  parseDuration(k.String("GATEWAY_TIMEOUT"), "30s"),
		TokenSkew:       parseDuration(k.String("GATEWAY_TOKEN_SKEW"), "60s"),
		DemoMode:        parseBool(k.String("DEMO_MODE")),
		RedisURL:        strings.TrimSpace(k.String("REDIS_URL")),
		IntentTTL:       parseDuration(k.String("INTENT_TTL"), "24h"),
		ReturnURL:       strings.TrimSpace(k.String("PAYMENT_RETURN_URL")),
		PollInterval:    parseDuration(k.String("POLL_INTERVAL"), "3s"),
		PollMaxAttempts: parseInt(k.String("POLL_MAX_ATTEMPTS"), 20),
		PollErrorBudget: parseInt(k.String("POLL_ERROR_BUDGET"), 3),
		AwaitTimeout:    parseDuration(k.String("AWAIT_TIMEOUT"), "30s"),
	}

	hasCreds := cfg.GatewayAPIKey != "" || cfg.GatewayClientID != ""
	if cfg.DemoMode && hasCreds {
		return nil, errors.New("DEMO_MODE cannot be combined with gateway credentials")
	}
	if !cfg.DemoMode {
		if cfg.GatewayAPIKey == "" || cfg.GatewayClientID == "" {
			return nil, errors.New("GATEWAY_API_KEY and GATEWAY_CLIENT_ID are required unless DEMO_MODE=true")
		}
		if cfg.GatewayBaseURL == "" {
			return nil, errors.New("GATEWAY_BASE_URL is required unless DEMO_MODE=true")
		}
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
