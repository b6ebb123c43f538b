package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Defaults applied to connector entries that leave a value unset.
const (
	DefaultBatchSize       = 16
	DefaultPollIntervalSec = 300
	DefaultMaxRetries      = 3
)

// ConnectorConfig holds the configuration for a single Azure DevOps project.
type ConnectorConfig struct {
	// ID is the unique identifier for this connector instance. It keys the
	// keyring credential, the checkpoint and the stored documents.
	ID string `mapstructure:"id" yaml:"id"`

	// Organization is the Azure DevOps organization name.
	Organization string `mapstructure:"organization" yaml:"organization"`

	// Project is the team project whose work items are retrieved.
	Project string `mapstructure:"project" yaml:"project"`

	// BatchSize is the number of work items fetched and yielded together.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// BaseURL overrides https://dev.azure.com/{organization}, e.g. for
	// Azure DevOps Server collections.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// Enabled controls whether this connector is polled by sync --watch.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PollIntervalSec is how often (in seconds) to poll for changes.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// MaxRetries is how many times a request rate limited with HTTP 429 is
	// resent. Zero disables retrying.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// StoreConfig locates the SQLite document store.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Encoding string `mapstructure:"encoding" yaml:"encoding"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Connectors []ConnectorConfig `mapstructure:"connectors" yaml:"connectors"`
	Store      StoreConfig       `mapstructure:"store" yaml:"store"`
	Log        LogConfig         `mapstructure:"log" yaml:"log"`
}

// Connector returns the connector entry with the given ID. An empty ID
// selects the first configured connector.
func (c *AppConfig) Connector(id string) (ConnectorConfig, error) {
	if len(c.Connectors) == 0 {
		return ConnectorConfig{}, fmt.Errorf("no connectors configured")
	}
	if id == "" {
		return c.Connectors[0], nil
	}
	for _, cc := range c.Connectors {
		if cc.ID == id {
			return cc, nil
		}
	}
	return ConnectorConfig{}, fmt.Errorf("connector %q not found", id)
}

// UpsertConnector replaces the entry with the same ID or appends it.
func (c *AppConfig) UpsertConnector(cc ConnectorConfig) {
	for i := range c.Connectors {
		if c.Connectors[i].ID == cc.ID {
			c.Connectors[i] = cc
			return
		}
	}
	c.Connectors = append(c.Connectors, cc)
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/azdo-connector/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "azdo-connector", "config.yaml")
}

// DefaultStorePath returns the default SQLite database location.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "documents.db")
	}
	return filepath.Join(home, ".local", "share", "azdo-connector", "documents.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Connectors: []ConnectorConfig{},
		Store: StoreConfig{
			Path: DefaultStorePath(),
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.Store.Path = expandHome(cfg.Store.Path)

	// Apply defaults for each connector entry.
	for i := range cfg.Connectors {
		cc := &cfg.Connectors[i]
		if cc.ID == "" {
			cc.ID = cc.Organization + "-" + cc.Project
		}
		if cc.BatchSize == 0 {
			cc.BatchSize = DefaultBatchSize
		}
		if cc.PollIntervalSec == 0 {
			cc.PollIntervalSec = DefaultPollIntervalSec
		}
		if !v.IsSet(fmt.Sprintf("connectors.%d.max_retries", i)) {
			cc.MaxRetries = DefaultMaxRetries
		}
		if !cc.Enabled {
			// Viper unmarshals missing bools as false; treat unset as true.
			key := fmt.Sprintf("connectors.%d.enabled", i)
			if !v.IsSet(key) {
				cc.Enabled = true
			}
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	connectors := make([]map[string]any, 0, len(cfg.Connectors))
	for _, cc := range cfg.Connectors {
		connectors = append(connectors, map[string]any{
			"id":                cc.ID,
			"organization":      cc.Organization,
			"project":           cc.Project,
			"batch_size":        cc.BatchSize,
			"base_url":          cc.BaseURL,
			"enabled":           cc.Enabled,
			"poll_interval_sec": cc.PollIntervalSec,
			"max_retries":       cc.MaxRetries,
		})
	}

	v.Set("connectors", connectors)
	v.Set("store.path", cfg.Store.Path)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.encoding", cfg.Log.Encoding)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
