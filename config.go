package livra

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/howk27/livra-sub000/internal/store"
)

// Config configures the Livra client.
type Config struct {
	// LocalPath is the path to the local SQLite database.
	// Defaults to ~/.livra/livra.db.
	LocalPath string `yaml:"local_path"`

	// BackendURL is the URL of the sync backend.
	// If empty, the client operates in offline-only mode.
	BackendURL string `yaml:"backend_url"`

	// APIKey authenticates with the backend.
	APIKey string `yaml:"api_key"`

	// UserID is the authenticated user whose rows this device owns.
	// Required when BackendURL is set.
	UserID string `yaml:"user_id"`

	// SyncInterval is how often the background ticker requests a sync.
	// Defaults to 5 minutes.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// AutoSync enables the background sync ticker.
	// Defaults to true.
	AutoSync bool `yaml:"auto_sync"`

	// Realtime enables the change-feed subscription.
	// Defaults to true when BackendURL is set.
	Realtime bool `yaml:"realtime"`

	// Debug enables verbose logging of all backend communications.
	Debug bool `yaml:"debug"`

	// DebugLogPath is the path to write debug logs.
	// Defaults to stderr if empty; a file path gets size-based rotation.
	DebugLogPath string `yaml:"debug_log_path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LocalPath:    store.DefaultDBPath(),
		SyncInterval: 5 * time.Minute,
		AutoSync:     true,
		Realtime:     true,
	}
}

// ConfigFromEnv reads configuration from environment variables.
//
//	LIVRA_DB_PATH    → LocalPath
//	LIVRA_URL        → BackendURL
//	LIVRA_API_KEY    → APIKey
//	LIVRA_USER_ID    → UserID
//	LIVRA_DEBUG      → Debug (any non-empty value enables)
//	LIVRA_DEBUG_LOG  → DebugLogPath
func ConfigFromEnv() Config {
	return Config{
		LocalPath:    os.Getenv("LIVRA_DB_PATH"),
		BackendURL:   os.Getenv("LIVRA_URL"),
		APIKey:       os.Getenv("LIVRA_API_KEY"),
		UserID:       os.Getenv("LIVRA_USER_ID"),
		Debug:        os.Getenv("LIVRA_DEBUG") != "",
		DebugLogPath: os.Getenv("LIVRA_DEBUG_LOG"),
		AutoSync:     true,
		Realtime:     true,
	}
}

// UnmarshalYAML decodes a config document, accepting human-friendly
// duration strings ("2m", "90s") for sync_interval.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		LocalPath    string `yaml:"local_path"`
		BackendURL   string `yaml:"backend_url"`
		APIKey       string `yaml:"api_key"`
		UserID       string `yaml:"user_id"`
		SyncInterval string `yaml:"sync_interval"`
		AutoSync     *bool  `yaml:"auto_sync"`
		Realtime     *bool  `yaml:"realtime"`
		Debug        bool   `yaml:"debug"`
		DebugLogPath string `yaml:"debug_log_path"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.LocalPath = raw.LocalPath
	c.BackendURL = raw.BackendURL
	c.APIKey = raw.APIKey
	c.UserID = raw.UserID
	c.Debug = raw.Debug
	c.DebugLogPath = raw.DebugLogPath

	c.AutoSync = raw.AutoSync == nil || *raw.AutoSync
	c.Realtime = raw.Realtime == nil || *raw.Realtime

	if raw.SyncInterval != "" {
		d, err := time.ParseDuration(raw.SyncInterval)
		if err != nil {
			return fmt.Errorf("sync_interval: %w", err)
		}
		c.SyncInterval = d
	}
	return nil
}

// LoadConfigFile reads a YAML config file into a Config.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.LocalPath == "" {
		return &ValidationError{Field: "LocalPath", Message: "required: path to SQLite database"}
	}

	if c.BackendURL != "" {
		u, err := url.Parse(c.BackendURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return &ValidationError{Field: "BackendURL", Message: "must be an http or https URL"}
		}
		if c.APIKey == "" {
			return &ValidationError{Field: "APIKey", Message: "required when BackendURL is set"}
		}
		if c.UserID == "" {
			return &ValidationError{Field: "UserID", Message: "required when BackendURL is set"}
		}
	}

	if c.SyncInterval < 0 {
		return &ValidationError{Field: "SyncInterval", Message: "must be non-negative"}
	}

	return nil
}

// IsOffline returns true if the client operates in offline-only mode.
// Offline mode is determined by BackendURL being empty.
func (c *Config) IsOffline() bool {
	return c.BackendURL == ""
}

// WithDefaults fills in default values for unset fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.LocalPath == "" {
		c.LocalPath = defaults.LocalPath
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = defaults.SyncInterval
	}
	return c
}
