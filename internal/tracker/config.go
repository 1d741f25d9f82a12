package tracker

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigStore is the read side of the configuration system.
type ConfigStore interface {
	GetString(key string) string
}

// Config reads settings under one key prefix ("linear", "sync"), falling
// back to environment variables.
type Config struct {
	// Prefix is the config key prefix (e.g., "linear").
	Prefix string

	Store ConfigStore
}

// NewConfig creates a config view for prefix.
func NewConfig(prefix string, store ConfigStore) *Config {
	return &Config{Prefix: prefix, Store: store}
}

// Get looks up prefix.key in the store, then the PREFIX_KEY environment
// variable. Example: Get("api_key") with prefix "linear" reads
// "linear.api_key" and falls back to LINEAR_API_KEY.
func (c *Config) Get(key string) string {
	if c.Store != nil {
		if v := strings.TrimSpace(c.Store.GetString(c.fullKey(key))); v != "" {
			return v
		}
	}
	return strings.TrimSpace(os.Getenv(c.envVarName(key)))
}

// GetRequired is like Get but fails with a hint when the value is empty.
func (c *Config) GetRequired(key string) (string, error) {
	if v := c.Get(key); v != "" {
		return v, nil
	}
	full := c.fullKey(key)
	return "", fmt.Errorf("%s not configured\nSet %s in config.yaml\nOr: export %s=VALUE", full, full, c.envVarName(key))
}

// GetInt returns the integer value of key, or def when unset.
func (c *Config) GetInt(key string, def int) (int, error) {
	v := c.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: expected an integer, got %q", c.fullKey(key), v)
	}
	return n, nil
}

// GetDuration returns the duration value of key, or def when unset.
func (c *Config) GetDuration(key string, def time.Duration) (time.Duration, error) {
	v := c.Get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: expected a duration like 30s, got %q", c.fullKey(key), v)
	}
	return d, nil
}

func (c *Config) fullKey(key string) string {
	return c.Prefix + "." + key
}

// envVarName converts a config key to its environment variable name.
// Example: for prefix "linear" and key "api_key", returns "LINEAR_API_KEY"
func (c *Config) envVarName(key string) string {
	envKey := strings.ToUpper(c.Prefix + "_" + key)
	return strings.ReplaceAll(envKey, ".", "_")
}

// Config keys under the "sync" prefix.
const (
	KeyConcurrency  = "concurrency"
	KeyMaxAttempts  = "max_attempts"
	KeyRetryInitial = "retry_initial"
	KeyRetryMax     = "retry_max"
	KeyDoneState    = "done_state"
	KeyCallTimeout  = "timeout"
)

// EngineOptionsFromConfig reads engine settings from a "sync" config view.
// callTimeout is the tracker's own request timeout, used for each attempt.
func EngineOptionsFromConfig(cfg *Config, callTimeout time.Duration) (Options, error) {
	var opts Options
	var err error
	retry := DefaultRetryPolicy()
	if callTimeout > 0 {
		retry.CallTimeout = callTimeout
	}
	if retry.MaxAttempts, err = cfg.GetInt(KeyMaxAttempts, DefaultMaxAttempts); err != nil {
		return opts, err
	}
	if retry.MaxAttempts < 1 {
		return opts, fmt.Errorf("%s must be at least 1", cfg.fullKey(KeyMaxAttempts))
	}
	if retry.Initial, err = cfg.GetDuration(KeyRetryInitial, DefaultRetryInitial); err != nil {
		return opts, err
	}
	if retry.Max, err = cfg.GetDuration(KeyRetryMax, DefaultRetryMax); err != nil {
		return opts, err
	}
	if opts.Concurrency, err = cfg.GetInt(KeyConcurrency, DefaultConcurrency); err != nil {
		return opts, err
	}
	opts.Retry = retry
	opts.DoneState = cfg.Get(KeyDoneState)
	return opts, nil
}
