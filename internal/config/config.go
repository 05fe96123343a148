// Package config loads application configuration from defaults, an optional
// YAML file and GRAPHWATCH_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "GRAPHWATCH_"

// Config is the application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Graph    GraphConfig    `koanf:"graph"`
	Webhook  WebhookConfig  `koanf:"webhook"`
	Renewal  RenewalConfig  `koanf:"renewal"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or text
}

// DatabaseConfig contains PostgreSQL configuration.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// GraphConfig contains Microsoft Graph API configuration.
type GraphConfig struct {
	BaseURL        string        `koanf:"base_url"`
	LoginURL       string        `koanf:"login_url"`
	TenantID       string        `koanf:"tenant_id"`
	ClientID       string        `koanf:"client_id"`
	ClientSecret   string        `koanf:"client_secret"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RateLimit      float64       `koanf:"rate_limit"`
}

// WebhookConfig contains notification webhook configuration.
type WebhookConfig struct {
	PublicURL    string        `koanf:"public_url"` // externally reachable base URL for Graph callbacks
	RelayURL     string        `koanf:"relay_url"`  // downstream sink; empty disables relaying
	RelayTimeout time.Duration `koanf:"relay_timeout"`
}

// RenewalConfig contains renewal scheduler configuration.
type RenewalConfig struct {
	Interval        time.Duration `koanf:"interval"`
	Lookahead       time.Duration `koanf:"lookahead"`
	ChatTTL         time.Duration `koanf:"chat_ttl"`
	MailTTL         time.Duration `koanf:"mail_ttl"`
	CronSecret      string        `koanf:"cron_secret"` // guards the on-demand renew endpoint
	TeamConcurrency int           `koanf:"team_concurrency"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "4000",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Graph: GraphConfig{
			BaseURL:        "https://graph.microsoft.com",
			LoginURL:       "https://login.microsoftonline.com",
			RequestTimeout: 10 * time.Second,
			RateLimit:      5,
		},
		Webhook: WebhookConfig{
			RelayTimeout: 10 * time.Second,
		},
		Renewal: RenewalConfig{
			Interval:        30 * time.Minute,
			Lookahead:       45 * time.Minute,
			ChatTTL:         55 * time.Minute,
			MailTTL:         4230 * time.Minute,
			TeamConcurrency: 3,
		},
	}
}

// Load reads configuration. path may be empty; a missing file at an
// explicitly given path is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// GRAPHWATCH_DATABASE__URL -> database.url
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Webhook.PublicURL == "" {
		errs = append(errs, errors.New("webhook.public_url is required"))
	}
	if c.Graph.TenantID == "" || c.Graph.ClientID == "" || c.Graph.ClientSecret == "" {
		errs = append(errs, errors.New("graph.tenant_id, graph.client_id and graph.client_secret are required"))
	}
	if c.Renewal.Interval <= 0 {
		errs = append(errs, errors.New("renewal.interval must be positive"))
	}
	if c.Renewal.Lookahead <= 0 {
		errs = append(errs, errors.New("renewal.lookahead must be positive"))
	}

	return errors.Join(errs...)
}

// ConfigPath resolves the config file path from the -config flag value or
// the GRAPHWATCH_CONFIG environment variable.
func ConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("GRAPHWATCH_CONFIG")
}
