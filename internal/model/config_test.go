package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Connectors)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultStorePath(), cfg.Store.Path)
}

func TestLoadConfig_AppliesConnectorDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
connectors:
  - organization: contoso
    project: Web
  - id: api
    organization: contoso
    project: API
    batch_size: 50
    poll_interval_sec: 60
    max_retries: 0
    enabled: false
store:
  path: ~/azdo/docs.db
log:
  level: debug
  encoding: json
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Connectors, 2)

	web := cfg.Connectors[0]
	assert.Equal(t, "contoso-Web", web.ID)
	assert.Equal(t, DefaultBatchSize, web.BatchSize)
	assert.Equal(t, DefaultPollIntervalSec, web.PollIntervalSec)
	assert.True(t, web.Enabled)
	assert.Equal(t, DefaultMaxRetries, web.MaxRetries)

	api := cfg.Connectors[1]
	assert.Equal(t, "api", api.ID)
	assert.Equal(t, 50, api.BatchSize)
	assert.Equal(t, 60, api.PollIntervalSec)
	assert.False(t, api.Enabled)
	assert.Zero(t, api.MaxRetries, "explicit zero disables retrying")

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "azdo", "docs.db"), cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Encoding)
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connectors: [\n"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &AppConfig{
		Connectors: []ConnectorConfig{{
			ID:              "web",
			Organization:    "contoso",
			Project:         "Web",
			BatchSize:       20,
			BaseURL:         "https://tfs.example.com/DefaultCollection",
			Enabled:         false,
			PollIntervalSec: 120,
			MaxRetries:      1,
		}},
		Store: StoreConfig{Path: "/tmp/docs.db"},
		Log:   LogConfig{Level: "warn", Encoding: "console"},
	}

	require.NoError(t, SaveConfig(path, cfg))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestAppConfig_Connector(t *testing.T) {
	cfg := &AppConfig{}
	_, err := cfg.Connector("")
	assert.Error(t, err)

	cfg.UpsertConnector(ConnectorConfig{ID: "a", Project: "A"})
	cfg.UpsertConnector(ConnectorConfig{ID: "b", Project: "B"})
	cfg.UpsertConnector(ConnectorConfig{ID: "a", Project: "A2"})
	require.Len(t, cfg.Connectors, 2)

	first, err := cfg.Connector("")
	require.NoError(t, err)
	assert.Equal(t, "A2", first.Project)

	b, err := cfg.Connector("b")
	require.NoError(t, err)
	assert.Equal(t, "B", b.Project)

	_, err = cfg.Connector("c")
	assert.Error(t, err)
}
