// Package config provides environment-based configuration for the ads
// sync kit, with optional YAML file overlays. Every knob has a stated
// default so a zero-config setup works against the live Graph API.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// Defaults for every configurable value.
const (
	DefaultStateTTL        = 600 * time.Second
	DefaultSessionTTL      = 600 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultMaxRetries      = 3
	DefaultBackoffFactor   = 0.3
	DefaultMaxRetryDelay   = 60 * time.Second
	DefaultAPIVersion      = "v21.0"
	DefaultGraphBaseURL    = "https://graph.facebook.com"
	DefaultRateLimitCalls  = 100
	DefaultRateLimitPeriod = 3600 * time.Second
	DefaultDailyLaunches   = 50
	DefaultRefreshAhead    = 24 * time.Hour
)

// MetaConfig holds Meta app credentials and Graph API settings.
type MetaConfig struct {
	// AppID and AppSecret are the Meta app credentials. Both must be set
	// before an OAuth flow can be initiated.
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`

	// APIVersion is the Graph API version string, e.g. "v21.0".
	APIVersion string `yaml:"api_version"`

	// GraphBaseURL overrides the Graph API host. Tests point this at a
	// local fake server.
	GraphBaseURL string `yaml:"graph_base_url"`

	// RedirectBaseURL is the externally reachable base URL the OAuth
	// callback is served under.
	RedirectBaseURL string `yaml:"redirect_base_url"`
}

// OAuthConfig holds the cache TTLs for the OAuth flow.
type OAuthConfig struct {
	// StateTTL bounds how long an issued CSRF state token is accepted.
	StateTTL time.Duration `yaml:"state_ttl"`

	// SessionTTL bounds how long a pending account-selection session
	// survives after token exchange.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// RetryConfig controls the retrying API client.
type RetryConfig struct {
	// MaxRetries is the number of retry attempts after the first try.
	MaxRetries int `yaml:"max_retries"`

	// BackoffFactor scales the exponential delay:
	// delay = base * BackoffFactor * 2^attempt.
	BackoffFactor float64 `yaml:"backoff_factor"`

	// MaxDelay caps any single retry delay.
	MaxDelay time.Duration `yaml:"max_delay"`
}

// RateLimitConfig controls outbound call admission.
type RateLimitConfig struct {
	// Enabled toggles rate limiting entirely. When false every call is
	// admitted immediately.
	Enabled bool `yaml:"enabled"`

	// Calls admitted per Period, per platform.
	Calls  int           `yaml:"calls"`
	Period time.Duration `yaml:"period"`

	// Reject, when true, fails saturated calls with
	// RateLimitExceededError instead of queueing them.
	Reject bool `yaml:"reject"`

	// PerIntegration additionally tracks a window per integration id.
	PerIntegration bool `yaml:"per_integration"`
}

// QuotaConfig controls daily launch limits.
type QuotaConfig struct {
	// DailyLaunchLimits maps a platform to its daily launch budget.
	// Platforms without an entry use DefaultDailyLaunches.
	DailyLaunchLimits map[types.Platform]int `yaml:"daily_launch_limits"`

	// Timezone names the calendar-day timezone for quota rollover.
	// Empty means the host's local timezone.
	Timezone string `yaml:"timezone"`
}

// LoggingConfig holds request/error logging flags.
type LoggingConfig struct {
	LogRequests    bool `yaml:"log_requests"`
	DetailedErrors bool `yaml:"detailed_errors"`
}

// Config is the complete configuration surface.
type Config struct {
	Meta      MetaConfig      `yaml:"meta"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Quota     QuotaConfig     `yaml:"quota"`
	Logging   LoggingConfig   `yaml:"logging"`

	// RequestTimeout bounds each individual network call. Timeouts apply
	// per call, not per logical operation.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// TokenRefreshAhead is how far before expiry a silent refresh is
	// attempted ahead of an authenticated call.
	TokenRefreshAhead time.Duration `yaml:"token_refresh_ahead"`

	// EncryptionKey seals tokens at rest. Required for the durable store.
	EncryptionKey string `yaml:"encryption_key"`
}

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		Meta: MetaConfig{
			APIVersion:   DefaultAPIVersion,
			GraphBaseURL: DefaultGraphBaseURL,
		},
		OAuth: OAuthConfig{
			StateTTL:   DefaultStateTTL,
			SessionTTL: DefaultSessionTTL,
		},
		Retry: RetryConfig{
			MaxRetries:    DefaultMaxRetries,
			BackoffFactor: DefaultBackoffFactor,
			MaxDelay:      DefaultMaxRetryDelay,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Calls:   DefaultRateLimitCalls,
			Period:  DefaultRateLimitPeriod,
		},
		Quota: QuotaConfig{
			DailyLaunchLimits: map[types.Platform]int{},
		},
		RequestTimeout:    DefaultRequestTimeout,
		TokenRefreshAhead: DefaultRefreshAhead,
	}
}

// FromEnv returns the default configuration overridden by ADS_*
// environment variables.
func FromEnv() (*Config, error) {
	cfg := Default()

	cfg.Meta.AppID = envString("ADS_META_APP_ID", cfg.Meta.AppID)
	cfg.Meta.AppSecret = envString("ADS_META_APP_SECRET", cfg.Meta.AppSecret)
	cfg.Meta.APIVersion = envString("ADS_META_API_VERSION", cfg.Meta.APIVersion)
	cfg.Meta.GraphBaseURL = envString("ADS_GRAPH_BASE_URL", cfg.Meta.GraphBaseURL)
	cfg.Meta.RedirectBaseURL = envString("ADS_REDIRECT_BASE_URL", cfg.Meta.RedirectBaseURL)
	cfg.EncryptionKey = envString("ADS_ENCRYPTION_KEY", cfg.EncryptionKey)
	cfg.Quota.Timezone = envString("ADS_QUOTA_TIMEZONE", cfg.Quota.Timezone)

	var err error
	if cfg.OAuth.StateTTL, err = envSeconds("ADS_OAUTH_STATE_TTL", cfg.OAuth.StateTTL); err != nil {
		return nil, err
	}
	if cfg.OAuth.SessionTTL, err = envSeconds("ADS_SESSION_CACHE_TTL", cfg.OAuth.SessionTTL); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = envSeconds("ADS_REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.Retry.MaxRetries, err = envInt("ADS_MAX_RETRIES", cfg.Retry.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.Retry.BackoffFactor, err = envFloat("ADS_BACKOFF_FACTOR", cfg.Retry.BackoffFactor); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Enabled, err = envBool("ADS_RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Calls, err = envInt("ADS_RATE_LIMIT_CALLS", cfg.RateLimit.Calls); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Period, err = envSeconds("ADS_RATE_LIMIT_PERIOD", cfg.RateLimit.Period); err != nil {
		return nil, err
	}
	if cfg.Logging.LogRequests, err = envBool("ADS_ENABLE_REQUEST_LOGGING", cfg.Logging.LogRequests); err != nil {
		return nil, err
	}
	if cfg.Logging.DetailedErrors, err = envBool("ADS_ENABLE_DETAILED_ERRORS", cfg.Logging.DetailedErrors); err != nil {
		return nil, err
	}

	for _, p := range types.Platforms() {
		key := "ADS_DAILY_LAUNCH_LIMIT_" + strings.ToUpper(string(p))
		limit, err := envInt(key, cfg.DailyLaunchLimit(p))
		if err != nil {
			return nil, err
		}
		cfg.Quota.DailyLaunchLimits[p] = limit
	}

	return cfg, nil
}

// LoadFile reads a YAML config file over the given base configuration.
// Values present in the file win; absent values keep the base.
func LoadFile(path string, base *Config) (*Config, error) {
	if base == nil {
		base = Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := *base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// DailyLaunchLimit returns the configured daily launch limit for a
// platform, falling back to the default.
func (c *Config) DailyLaunchLimit(p types.Platform) int {
	if limit, ok := c.Quota.DailyLaunchLimits[p]; ok && limit > 0 {
		return limit
	}
	return DefaultDailyLaunches
}

// QuotaLocation resolves the quota rollover timezone.
func (c *Config) QuotaLocation() (*time.Location, error) {
	if c.Quota.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return nil, &types.ConfigurationError{Field: "quota.timezone", Reason: err.Error()}
	}
	return loc, nil
}

// ValidateMeta ensures the Meta app credentials are present. The OAuth
// flow refuses to start without them.
func (c *Config) ValidateMeta() error {
	if c.Meta.AppID == "" {
		return &types.ConfigurationError{Field: "meta.app_id", Reason: "not configured"}
	}
	if c.Meta.AppSecret == "" {
		return &types.ConfigurationError{Field: "meta.app_secret", Reason: "not configured"}
	}
	return nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}
