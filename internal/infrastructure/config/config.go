package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all engine configuration.
type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Resolver  ResolverConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds the host-facing HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8600"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// AllowedOrigins restricts cross-origin API calls. Empty allows any
	// origin, which is only appropriate for development.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
}

// EngineConfig holds session engine configuration.
type EngineConfig struct {
	HostAppName  string   `envconfig:"HOST_APP_NAME" default:"embedkit-host"`
	AllowedHosts []string `envconfig:"ALLOWED_HOSTS"`
	Language     string   `envconfig:"LANGUAGE" default:"en"`
	ThemeScheme  string   `envconfig:"THEME_SCHEME" default:"light"`
	MaxCached    int      `envconfig:"MAX_CACHED_SURFACES" default:"5"`
	// CacheTTL expires cached surfaces that sat unused too long. Zero
	// disables expiry.
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"30m"`
}

// ResolverConfig holds the metadata resolver service configuration.
type ResolverConfig struct {
	BaseURL string `envconfig:"RESOLVER_URL" default:"http://localhost:8601"`
	Timeout int    `envconfig:"RESOLVER_TIMEOUT_SECONDS" default:"15"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds host API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// fileOverlay is the YAML shape of an optional config file. Only the
// list-valued and theme settings live here; scalars come from the
// environment.
type fileOverlay struct {
	HostAppName  string            `yaml:"host_app_name"`
	AllowedHosts []string          `yaml:"allowed_hosts"`
	Language     string            `yaml:"language"`
	Theme        string            `yaml:"theme"`
	ThemeParams  map[string]string `yaml:"theme_params"`
}

// ApplyFile merges an optional YAML file over the loaded config.
// Returns the theme params declared in the file, if any.
func (c *Config) ApplyFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if overlay.HostAppName != "" {
		c.Engine.HostAppName = overlay.HostAppName
	}
	if len(overlay.AllowedHosts) > 0 {
		c.Engine.AllowedHosts = overlay.AllowedHosts
	}
	if overlay.Language != "" {
		c.Engine.Language = overlay.Language
	}
	if overlay.Theme != "" {
		c.Engine.ThemeScheme = overlay.Theme
	}
	return overlay.ThemeParams, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8600",
			Host: "0.0.0.0",
		},
		Engine: EngineConfig{
			HostAppName: "embedkit-host",
			Language:    "en",
			ThemeScheme: "light",
			MaxCached:   5,
			CacheTTL:    30 * time.Minute,
		},
		Resolver: ResolverConfig{
			BaseURL: "http://localhost:8601",
			Timeout: 15,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
