// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the session server configuration.
type Config struct {
	Port              string
	FrontendURL       string
	BackendURL        string
	BackendToken      string
	BackendHealthAddr string // gRPC health endpoint of the backend, optional
	RequestTimeout    time.Duration
	PromptTimeout     time.Duration
	PollInterval      time.Duration
	SessionIdleTTL    time.Duration
}

// DevBackendConfig holds the development backend configuration.
type DevBackendConfig struct {
	Port                 string
	GRPCPort             string
	DBPath               string
	Token                string // bearer token required from callers, optional
	AnthropicAPIKey      string
	AssistantModel       string
	AssistantMaxTokens   int
	BuildStepDelay       time.Duration
	DeployBaseURL        string
	StaleDeploymentAfter time.Duration
	RateLimit            RateLimitConfig
}

// RateLimitConfig bounds prompt requests per project.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads the session server configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		FrontendURL:       getEnv("FRONTEND_URL", ""),
		BackendURL:        getEnv("BACKEND_URL", "http://localhost:8090"),
		BackendToken:      getEnv("BACKEND_TOKEN", ""),
		BackendHealthAddr: getEnv("BACKEND_HEALTH_ADDR", ""),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		PromptTimeout:     getEnvDuration("PROMPT_TIMEOUT", 90*time.Second),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 3*time.Second),
		SessionIdleTTL:    getEnvDuration("SESSION_IDLE_TTL", 60*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL cannot be empty")
	}
	if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute URL, got %q", c.BackendURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	if c.PromptTimeout < c.RequestTimeout {
		return fmt.Errorf("PROMPT_TIMEOUT must not be shorter than REQUEST_TIMEOUT")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the presentation layer.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

// LoadDevBackend reads the development backend configuration.
func LoadDevBackend() (*DevBackendConfig, error) {
	cfg := &DevBackendConfig{
		Port:                 getEnv("DEVBACKEND_PORT", "8090"),
		GRPCPort:             getEnv("GRPC_PORT", "8091"),
		DBPath:               getEnv("DB_PATH", "./data/devbackend.db"),
		Token:                getEnv("BACKEND_TOKEN", ""),
		AnthropicAPIKey:      getEnv("ANTHROPIC_API_KEY", ""),
		AssistantModel:       getEnv("ASSISTANT_MODEL", "claude-sonnet-4-20250514"),
		AssistantMaxTokens:   getEnvInt("ASSISTANT_MAX_TOKENS", 4096),
		BuildStepDelay:       getEnvDuration("BUILD_STEP_DELAY", 2*time.Second),
		DeployBaseURL:        getEnv("DEPLOY_BASE_URL", "https://preview.pocketforge.dev"),
		StaleDeploymentAfter: getEnvDuration("STALE_DEPLOYMENT_AFTER", 15*time.Minute),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("PROMPT_RATE_LIMIT", 10),
			WindowDuration:    getEnvDuration("PROMPT_RATE_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *DevBackendConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("DEVBACKEND_PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AssistantMaxTokens <= 0 {
		return fmt.Errorf("ASSISTANT_MAX_TOKENS must be > 0")
	}
	if c.BuildStepDelay < 0 {
		return fmt.Errorf("BUILD_STEP_DELAY must be >= 0")
	}
	if c.DeployBaseURL == "" {
		return fmt.Errorf("DEPLOY_BASE_URL cannot be empty")
	}
	if c.StaleDeploymentAfter <= 0 {
		return fmt.Errorf("STALE_DEPLOYMENT_AFTER must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("PROMPT_RATE_LIMIT must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("PROMPT_RATE_WINDOW must be > 0")
	}
	return nil
}

// ClientDefaults holds the terminal client's flag defaults.
type ClientDefaults struct {
	BackendURL     string
	BackendToken   string
	RequestTimeout time.Duration
	PromptTimeout  time.Duration
	PollInterval   time.Duration
}

// LoadClientDefaults reads the terminal client's defaults. Flags override
// them, so nothing is validated here.
func LoadClientDefaults() ClientDefaults {
	return ClientDefaults{
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8090"),
		BackendToken:   getEnv("BACKEND_TOKEN", ""),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		PromptTimeout:  getEnvDuration("PROMPT_TIMEOUT", 90*time.Second),
		PollInterval:   getEnvDuration("POLL_INTERVAL", 3*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
