// Package config defines the immutable fetch configuration and loads it from
// YAML or JSON files.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Sternrassler/api-fetcher/pkg/pagination"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// AuthType selects how requests are authenticated.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api_key"
	AuthOAuth2 AuthType = "oauth2"
)

// Seconds is a duration written as (fractional) seconds in config files.
type Seconds float64

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// FetchConfig holds everything one fetch call needs. It is read-only once
// loaded.
type FetchConfig struct {
	URL     string            `yaml:"url"`
	Params  map[string]any    `yaml:"params"`
	Headers map[string]string `yaml:"headers"`

	AuthType     AuthType    `yaml:"auth_type"`
	APIKey       string      `yaml:"api_key"`
	APIKeyHeader string      `yaml:"api_key_header"`
	OAuth        OAuthConfig `yaml:"oauth"`

	Pagination PaginationConfig `yaml:"pagination"`

	// RateLimitSleep is used after a 429 without a usable Retry-After.
	RateLimitSleep Seconds     `yaml:"rate_limit_sleep"`
	RequestTimeout Seconds     `yaml:"request_timeout"`
	Retry          RetryConfig `yaml:"retry"`

	Output      OutputConfig     `yaml:",inline"`
	Redis       RedisConfig      `yaml:"redis"`
	Postgres    PostgresConfig   `yaml:"postgres"`
	EmailAlerts EmailAlertConfig `yaml:"email_alerts"`
}

// OAuthConfig holds client-credentials settings.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	Scope        string `yaml:"scope"`

	// CacheToken reuses a token until it expires instead of exchanging
	// credentials before every request.
	CacheToken bool `yaml:"cache_token"`
}

// Complete reports whether the credentials needed for an exchange are set.
func (o OAuthConfig) Complete() bool {
	return o.ClientID != "" && o.ClientSecret != "" && o.TokenURL != ""
}

// Scopes splits Scope on whitespace.
func (o OAuthConfig) Scopes() []string {
	return strings.Fields(o.Scope)
}

// RetryConfig tunes the transport retry policy.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialBackoff Seconds `yaml:"initial_backoff"`
	MaxBackoff     Seconds `yaml:"max_backoff"`
}

// OutputConfig controls the file sinks.
type OutputConfig struct {
	OutputFolder string `yaml:"output_folder"`
	SaveJSON     bool   `yaml:"save_json"`
	SaveCSV      bool   `yaml:"save_csv"`
	SaveExcel    bool   `yaml:"save_excel"`
}

// RedisConfig enables the redis sink, shared throttle state and run lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	ListKey  string `yaml:"list_key"`
}

// Enabled reports whether a redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// PostgresConfig enables the postgres sink.
type PostgresConfig struct {
	URL   string `yaml:"url"`
	Table string `yaml:"table"`
}

// Enabled reports whether a connection string is configured.
func (p PostgresConfig) Enabled() bool {
	return p.URL != ""
}

// EmailAlertConfig configures failure notifications over SMTP.
type EmailAlertConfig struct {
	Enabled      bool     `yaml:"enabled"`
	From         string   `yaml:"from"`
	To           []string `yaml:"to"`
	SMTPServer   string   `yaml:"smtp_server"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUser     string   `yaml:"smtp_user"`
	SMTPPassword string   `yaml:"smtp_password"`
	UseTLS       bool     `yaml:"use_tls"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *FetchConfig {
	return &FetchConfig{
		AuthType:       AuthNone,
		APIKeyHeader:   "Authorization",
		Pagination:     DefaultPagination(),
		RateLimitSleep: 1.0,
		RequestTimeout: 30,
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 1,
			MaxBackoff:     10,
		},
		Output: OutputConfig{
			OutputFolder: "output",
			SaveJSON:     true,
			SaveCSV:      true,
			SaveExcel:    true,
		},
		Redis: RedisConfig{
			ListKey: "api_fetcher:records",
		},
		Postgres: PostgresConfig{
			Table: "api_records",
		},
		EmailAlerts: EmailAlertConfig{
			SMTPServer: "localhost",
			SMTPPort:   25,
		},
	}
}

// Load reads a YAML or JSON config file on top of Default. An empty path
// returns Default unchanged.
func Load(path string) (*FetchConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.AuthType == "" {
		cfg.AuthType = AuthNone
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "Authorization"
	}
	return cfg, nil
}

// WithAPIKeyFallback returns a copy of c whose APIKey is key when the file
// did not set one.
func (c *FetchConfig) WithAPIKeyFallback(key string) *FetchConfig {
	out := *c
	if out.APIKey == "" {
		out.APIKey = key
	}
	return &out
}

// Validate checks the settings a live fetch depends on.
func (c *FetchConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalidConfig, err)
	}
	switch c.AuthType {
	case "", AuthNone, AuthAPIKey, AuthOAuth2:
	default:
		return fmt.Errorf("%w: unknown auth_type %q", ErrInvalidConfig, c.AuthType)
	}
	if c.RateLimitSleep < 0 {
		return fmt.Errorf("%w: rate_limit_sleep must be >= 0 (got %v)", ErrInvalidConfig, float64(c.RateLimitSleep))
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry.max_attempts must be >= 1 (got %d)", ErrInvalidConfig, c.Retry.MaxAttempts)
	}
	if c.Pagination.Type == string(pagination.StrategyOffset) && c.Pagination.Limit <= 0 {
		return fmt.Errorf("%w: pagination.limit must be > 0 (got %d)", ErrInvalidConfig, c.Pagination.Limit)
	}
	if c.Pagination.MaxPages < 0 {
		return fmt.Errorf("%w: pagination.max_pages must be >= 0 (got %d)", ErrInvalidConfig, c.Pagination.MaxPages)
	}
	return nil
}

// QueryParams converts the base params to url.Values. List values become
// repeated keys and null values are dropped.
func (c *FetchConfig) QueryParams() url.Values {
	values := url.Values{}
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := c.Params[k].(type) {
		case nil:
		case []any:
			for _, item := range v {
				if item != nil {
					values.Add(k, fmt.Sprint(item))
				}
			}
		default:
			values.Set(k, fmt.Sprint(v))
		}
	}
	return values
}

// BaseHeaders converts the configured headers to an http.Header.
func (c *FetchConfig) BaseHeaders() http.Header {
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}
