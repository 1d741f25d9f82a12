// Package config loads lm settings from config.yaml, .env files and the
// environment through a process-wide viper instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var v *viper.Viper

// EnvPrefix prefixes environment overrides: sync.max_attempts is read
// from LM_SYNC_MAX_ATTEMPTS.
const EnvPrefix = "LM"

// ConfigFileName is looked up in the home directory.
const ConfigFileName = "config.yaml"

// Keys read outside the tracker package.
const (
	KeyHome         = "home"
	KeyTracker      = "tracker"
	KeyBaseBranch   = "base_branch"
	KeyPullLimit    = "pull.limit"
	KeyPullOutput   = "pull.output"
	KeyPullFormat   = "pull.format"
	KeyDefaultTeam  = "add.team_key"
	KeyLinearAPIKey = "linear.api_key"
)

// legacyEnv maps keys to the unprefixed variables users already export.
var legacyEnv = map[string]string{
	KeyLinearAPIKey: "LINEAR_API_KEY",
	KeyHome:         "LINEAR_MANAGER_HOME",
	KeyBaseBranch:   "LINEAR_MANAGER_BASE_BRANCH",
}

// Initialize loads configuration from the default locations.
func Initialize() error {
	return InitializeWithFile("")
}

// InitializeWithFile loads configuration. When path is empty, config.yaml
// in the home directory is used if it exists; an explicit path must exist.
//
// Precedence, highest first: environment, .env files, config file, defaults.
func InitializeWithFile(path string) error {
	v = viper.New()
	v.SetConfigType("yaml")

	if err := loadDotEnv(); err != nil {
		return err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path == "" {
		candidate := filepath.Join(Home(), ConfigFileName)
		if _, err := os.Stat(candidate); err != nil {
			return nil
		}
		path = candidate
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyTracker, "linear")
	v.SetDefault(KeyPullLimit, 100)
	v.SetDefault(KeyPullFormat, "yaml")
	v.SetDefault("linear.timeout", "30s")
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.max_attempts", 4)
	v.SetDefault("sync.retry_initial", "500ms")
	v.SetDefault("sync.retry_max", "8s")
}

// loadDotEnv reads .env from the working directory and then the home
// directory. Variables already in the environment are never overwritten.
func loadDotEnv() error {
	for _, dir := range []string{".", homeFromEnv()} {
		file := filepath.Join(dir, ".env")
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// homeFromEnv resolves the home directory without viper, which is needed
// before the config file location is known.
func homeFromEnv() string {
	for _, name := range []string{EnvPrefix + "_HOME", legacyEnv[KeyHome]} {
		if h := strings.TrimSpace(os.Getenv(name)); h != "" {
			return expandHome(h)
		}
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "LinearManager"
	}
	return filepath.Join(userHome, "LinearManager")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if userHome, err := os.UserHomeDir(); err == nil {
			return filepath.Join(userHome, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Home returns the LinearManager data directory.
func Home() string {
	if v != nil {
		if h := strings.TrimSpace(v.GetString(KeyHome)); h != "" {
			return expandHome(h)
		}
	}
	return homeFromEnv()
}

// TasksDir is where manifests live by default.
func TasksDir() string {
	return filepath.Join(Home(), "tasks")
}

// WorktreesDir is where worktrees created for new tasks live.
func WorktreesDir() string {
	return filepath.Join(Home(), "worktrees")
}

// BaseBranch is the optional default base branch for new worktrees.
func BaseBranch() string {
	return strings.TrimSpace(GetString(KeyBaseBranch))
}

// ConfigFileUsed returns the loaded config file, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// ErrNotInitialized is returned by Require when Initialize was not called.
var ErrNotInitialized = errors.New("config not initialized")

// Require returns the value of key or an error naming where to set it.
func Require(key string) (string, error) {
	if v == nil {
		return "", ErrNotInitialized
	}
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		return s, nil
	}
	env := EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
	if legacy, ok := legacyEnv[key]; ok {
		env = legacy
	}
	return "", fmt.Errorf("%s not configured\nSet %s in %s\nOr: export %s=VALUE",
		key, key, filepath.Join(Home(), ConfigFileName), env)
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice configuration value
func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}

// Set sets a configuration value for this process only.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// Reader exposes the loaded configuration to packages that must not
// import this one.
type Reader struct{}

// GetString implements tracker.ConfigStore.
func (Reader) GetString(key string) string { return GetString(key) }

// ResetForTesting clears the loaded configuration.
func ResetForTesting() {
	v = nil
}
