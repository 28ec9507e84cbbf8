package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// hclFile mirrors Config for HCL and HCL-JSON files. Pointers distinguish an
// absent attribute from an explicit zero.
type hclFile struct {
	APIKey               *string  `hcl:"api_key,optional"`
	BaseURL              *string  `hcl:"base_url,optional"`
	SecretKey            *string  `hcl:"secret_key,optional"`
	SigningEnabled       *bool    `hcl:"signing_enabled,optional"`
	MaxConnections       *int     `hcl:"max_connections,optional"`
	CacheTTLMs           *int     `hcl:"cache_ttl_ms,optional"`
	CacheMaxEntries      *int     `hcl:"cache_max_entries,optional"`
	RequestTimeoutMs     *int     `hcl:"request_timeout_ms,optional"`
	MaxRetries           *int     `hcl:"max_retries,optional"`
	RetryBaseDelayMs     *int     `hcl:"retry_base_delay_ms,optional"`
	RetryMaxDelayMs      *int     `hcl:"retry_max_delay_ms,optional"`
	RateLimitPerSecond   *float64 `hcl:"rate_limit_per_second,optional"`
	TokenRefreshMarginMs *int     `hcl:"token_refresh_margin_ms,optional"`
	MaxReconnectAttempts *int     `hcl:"max_reconnect_attempts,optional"`
	ReconnectBaseDelayMs *int     `hcl:"reconnect_base_delay_ms,optional"`
	ReconnectMaxDelayMs  *int     `hcl:"reconnect_max_delay_ms,optional"`
	WebSocketPath        *string  `hcl:"websocket_path,optional"`
	UserAgent            *string  `hcl:"user_agent,optional"`
}

func (f *hclFile) apply(c *Config) {
	setString(&c.APIKey, f.APIKey)
	setString(&c.BaseURL, f.BaseURL)
	setString(&c.SecretKey, f.SecretKey)
	if f.SigningEnabled != nil {
		c.SigningEnabled = *f.SigningEnabled
	}
	setInt(&c.MaxConnections, f.MaxConnections)
	setInt(&c.CacheTTLMs, f.CacheTTLMs)
	setInt(&c.CacheMaxEntries, f.CacheMaxEntries)
	setInt(&c.RequestTimeoutMs, f.RequestTimeoutMs)
	setInt(&c.MaxRetries, f.MaxRetries)
	setInt(&c.RetryBaseDelayMs, f.RetryBaseDelayMs)
	setInt(&c.RetryMaxDelayMs, f.RetryMaxDelayMs)
	if f.RateLimitPerSecond != nil {
		c.RateLimitPerSecond = *f.RateLimitPerSecond
	}
	setInt(&c.TokenRefreshMarginMs, f.TokenRefreshMarginMs)
	setInt(&c.MaxReconnectAttempts, f.MaxReconnectAttempts)
	setInt(&c.ReconnectBaseDelayMs, f.ReconnectBaseDelayMs)
	setInt(&c.ReconnectMaxDelayMs, f.ReconnectMaxDelayMs)
	setString(&c.WebSocketPath, f.WebSocketPath)
	setString(&c.UserAgent, f.UserAgent)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// LoadFile reads a config file over the defaults. The format follows the
// extension: .hcl and .json use HCL attribute names (api_key), .yaml and
// .yml use the camelCase names (apiKey).
func LoadFile(fs afero.Fs, path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("configuration file path is required")
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl", ".json":
		var f hclFile
		if err := hclsimple.Decode(filepath.Base(path), data, nil, &f); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file: %w", err)
		}
		f.apply(cfg)
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported configuration file extension: %q", ext)
	}
	return cfg, nil
}

// FromMap overlays m onto the defaults. Values may be loosely typed
// ("5" for 5) since they usually come from another language binding.
func FromMap(m map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.Merge(m); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge overlays the keys present in m onto c.
func (c *Config) Merge(m map[string]interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey               = "SDK_API_KEY"
	EnvBaseURL              = "SDK_BASE_URL"
	EnvSecretKey            = "SDK_SECRET_KEY"
	EnvMaxConnections       = "SDK_MAX_CONNECTIONS"
	EnvCacheTTLMs           = "SDK_CACHE_TTL_MS"
	EnvRequestTimeoutMs     = "SDK_REQUEST_TIMEOUT_MS"
	EnvMaxRetries           = "SDK_MAX_RETRIES"
	EnvMaxReconnectAttempts = "SDK_MAX_RECONNECT_ATTEMPTS"
	EnvUserAgent            = "SDK_USER_AGENT"
)

// ApplyEnv overrides c with any SDK_* environment variables that are set.
// Every malformed value is reported.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvAPIKey); ok {
		c.APIKey = v
	}
	if v, ok := os.LookupEnv(EnvBaseURL); ok {
		c.BaseURL = v
	}
	if v, ok := os.LookupEnv(EnvSecretKey); ok {
		c.SecretKey = v
	}
	if v, ok := os.LookupEnv(EnvUserAgent); ok {
		c.UserAgent = v
	}

	var result *multierror.Error
	ints := []struct {
		env string
		dst *int
	}{
		{EnvMaxConnections, &c.MaxConnections},
		{EnvCacheTTLMs, &c.CacheTTLMs},
		{EnvRequestTimeoutMs, &c.RequestTimeoutMs},
		{EnvMaxRetries, &c.MaxRetries},
		{EnvMaxReconnectAttempts, &c.MaxReconnectAttempts},
	}
	for _, i := range ints {
		v, ok := os.LookupEnv(i.env)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %q is not an integer", i.env, v))
			continue
		}
		*i.dst = n
	}
	return result.ErrorOrNil()
}
