// Package config defines the SDK configuration surface.
//
// A Config starts from DefaultConfig and is overlaid, in order, by a file
// (LoadFile), a map from a language binding (FromMap) and the environment
// (ApplyEnv). Validate must pass before the config is used.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config is the SDK configuration. Durations are milliseconds on the wire.
type Config struct {
	// APIKey authenticates the client (required)
	APIKey string `yaml:"apiKey" mapstructure:"apiKey"`

	// BaseURL of the API, e.g. "https://api.example.com/v1" (required)
	BaseURL string `yaml:"baseUrl" mapstructure:"baseUrl"`

	// SecretKey signs requests when set and SigningEnabled is true
	SecretKey      string `yaml:"secretKey" mapstructure:"secretKey"`
	SigningEnabled bool   `yaml:"signingEnabled" mapstructure:"signingEnabled"`

	MaxConnections int `yaml:"maxConnections" mapstructure:"maxConnections"`

	// CacheTTLMs is the default response TTL; zero disables caching
	CacheTTLMs      int `yaml:"cacheTtlMs" mapstructure:"cacheTtlMs"`
	CacheMaxEntries int `yaml:"cacheMaxEntries" mapstructure:"cacheMaxEntries"`

	RequestTimeoutMs   int     `yaml:"requestTimeoutMs" mapstructure:"requestTimeoutMs"`
	MaxRetries         int     `yaml:"maxRetries" mapstructure:"maxRetries"`
	RetryBaseDelayMs   int     `yaml:"retryBaseDelayMs" mapstructure:"retryBaseDelayMs"`
	RetryMaxDelayMs    int     `yaml:"retryMaxDelayMs" mapstructure:"retryMaxDelayMs"`
	RateLimitPerSecond float64 `yaml:"rateLimitPerSecond" mapstructure:"rateLimitPerSecond"`

	TokenRefreshMarginMs int `yaml:"tokenRefreshMarginMs" mapstructure:"tokenRefreshMarginMs"`

	MaxReconnectAttempts int    `yaml:"maxReconnectAttempts" mapstructure:"maxReconnectAttempts"`
	ReconnectBaseDelayMs int    `yaml:"reconnectBaseDelayMs" mapstructure:"reconnectBaseDelayMs"`
	ReconnectMaxDelayMs  int    `yaml:"reconnectMaxDelayMs" mapstructure:"reconnectMaxDelayMs"`
	WebSocketPath        string `yaml:"websocketPath" mapstructure:"websocketPath"`

	UserAgent string `yaml:"userAgent" mapstructure:"userAgent"`
}

// DefaultConfig returns a config with every optional setting populated.
func DefaultConfig() *Config {
	return &Config{
		SigningEnabled:       true,
		MaxConnections:       10,
		CacheTTLMs:           60_000,
		CacheMaxEntries:      1000,
		RequestTimeoutMs:     30_000,
		MaxRetries:           3,
		RetryBaseDelayMs:     200,
		RetryMaxDelayMs:      30_000,
		TokenRefreshMarginMs: 30_000,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelayMs: 500,
		ReconnectMaxDelayMs:  30_000,
		WebSocketPath:        "/ws",
		UserAgent:            "sdkruntime-go",
	}
}

// Validate checks the config. Zero is rejected for every setting that must
// be positive.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.BaseURL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.MaxConnections, validation.Required, validation.Min(1)),
		validation.Field(&c.CacheTTLMs, validation.Min(0)),
		validation.Field(&c.CacheMaxEntries, validation.Required, validation.Min(1)),
		validation.Field(&c.RequestTimeoutMs, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.RetryBaseDelayMs, validation.Required, validation.Min(1)),
		validation.Field(&c.RetryMaxDelayMs, validation.Required, validation.Min(c.RetryBaseDelayMs)),
		validation.Field(&c.RateLimitPerSecond, validation.Min(0.0)),
		validation.Field(&c.TokenRefreshMarginMs, validation.Min(0)),
		validation.Field(&c.MaxReconnectAttempts, validation.Min(0)),
		validation.Field(&c.ReconnectBaseDelayMs, validation.Required, validation.Min(1)),
		validation.Field(&c.ReconnectMaxDelayMs, validation.Required, validation.Min(c.ReconnectBaseDelayMs)),
		validation.Field(&c.WebSocketPath, validation.Required, validation.By(absolutePath)),
	)
}

// Signing reports whether requests are signed.
func (c *Config) Signing() bool {
	return c.SigningEnabled && c.SecretKey != ""
}

func (c *Config) CacheTTL() time.Duration { return ms(c.CacheTTLMs) }

func (c *Config) RequestTimeout() time.Duration { return ms(c.RequestTimeoutMs) }

func (c *Config) RetryBaseDelay() time.Duration { return ms(c.RetryBaseDelayMs) }

func (c *Config) RetryMaxDelay() time.Duration { return ms(c.RetryMaxDelayMs) }

func (c *Config) RefreshMargin() time.Duration { return ms(c.TokenRefreshMarginMs) }

func (c *Config) ReconnectBaseDelay() time.Duration { return ms(c.ReconnectBaseDelayMs) }

func (c *Config) ReconnectMaxDelay() time.Duration { return ms(c.ReconnectMaxDelayMs) }

// WebSocketURL derives the stream URL from the base URL: http becomes ws,
// https becomes wss, and the websocket path replaces the base path.
func (c *Config) WebSocketURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base URL scheme: %q", u.Scheme)
	}
	u.Path = c.WebSocketPath
	u.RawQuery = ""
	return u.String(), nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func httpURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

func absolutePath(value interface{}) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, "/") {
		return fmt.Errorf("must start with '/'")
	}
	return nil
}
