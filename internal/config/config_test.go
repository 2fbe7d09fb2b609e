package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv blanks every variable Load reads so host settings cannot
// leak into the assertions.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"NODE_NAME", "PORT", "ENVIRONMENT", "LOG_LEVEL",
		"PRIMARY_TOKEN", "SECONDARY_TOKEN",
		"INTERNAL_PEER_URLS", "PUBLIC_PEER_URLS", "CORE_NETWORK_URL",
		"CORE_WORKER_INTERVAL", "CORE_WORKER_QUIET_INTERVAL", "PUBLIC_REFRESH_INTERVAL",
		"UPSTREAM_BASE_URL", "UPSTREAM_RATE_LIMIT",
		"TICKER_GROUP_FILE", "OFFICE_HOURS_ENABLED", "CONFIG_FILE",
		"BUILD_DATE", "GIT_COMMIT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaultsWithTokens(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PRIMARY_TOKEN", "p")
	t.Setenv("SECONDARY_TOKEN", "s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "aipriceaction-proxy", cfg.NodeName)
	assert.Equal(t, 8888, cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 30*time.Second, cfg.CoreWorkerInterval)
	assert.Equal(t, 300*time.Second, cfg.CoreWorkerQuietInterval)
	assert.Equal(t, 300*time.Second, cfg.PublicRefreshInterval)
	assert.Equal(t, 30, cfg.UpstreamRateLimit)
	assert.Equal(t, "ticker_group.json", cfg.TickerGroupFile)
	assert.False(t, cfg.IsFollower())
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.OfficeHours.Enabled)
	assert.Equal(t, "Asia/Ho_Chi_Minh", cfg.OfficeHours.Timezone)
	assert.Equal(t, 9, cfg.OfficeHours.StartHour)
	assert.Equal(t, 16, cfg.OfficeHours.EndHour)
}

func TestLoadRequiresTokens(t *testing.T) {
	clearConfigEnv(t)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PRIMARY_TOKEN", "p")
	t.Setenv("SECONDARY_TOKEN", "s")
	t.Setenv("NODE_NAME", "node-7")
	t.Setenv("PORT", "9000")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("INTERNAL_PEER_URLS", "http://a:8888/, http://b:8888 ,")
	t.Setenv("PUBLIC_PEER_URLS", "")
	t.Setenv("CORE_NETWORK_URL", "http://core:8888/")
	t.Setenv("CORE_WORKER_INTERVAL", "10")
	t.Setenv("PUBLIC_REFRESH_INTERVAL", "60")
	t.Setenv("UPSTREAM_RATE_LIMIT", "15")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "node-7", cfg.NodeName)
	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"http://a:8888", "http://b:8888"}, cfg.InternalPeers)
	assert.Empty(t, cfg.PublicPeers, "an explicitly empty list clears the default")
	assert.Equal(t, "http://core:8888", cfg.CoreNetworkURL)
	assert.True(t, cfg.IsFollower())
	assert.Equal(t, 10*time.Second, cfg.CoreWorkerInterval)
	assert.Equal(t, 60*time.Second, cfg.PublicRefreshInterval)
	assert.Equal(t, 15, cfg.UpstreamRateLimit)
}

func TestLoadYAMLFile(t *testing.T) {
	clearConfigEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_name: yaml-node
port: 7777
tokens:
  primary: yp
  secondary: ys
internal_peers:
  - http://peer-a:8888
office_hours:
  enabled: false
`), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "yaml-node", cfg.NodeName)
	assert.Equal(t, 7777, cfg.Port)
	assert.Equal(t, "yp", cfg.PrimaryToken)
	assert.Equal(t, "ys", cfg.SecondaryToken)
	assert.Equal(t, []string{"http://peer-a:8888"}, cfg.InternalPeers)
	assert.False(t, cfg.OfficeHours.Enabled)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PRIMARY_TOKEN", "p")
	t.Setenv("SECONDARY_TOKEN", "s")
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			NodeName:                "n",
			Port:                    8888,
			Environment:             "test",
			PrimaryToken:            "p",
			SecondaryToken:          "s",
			CoreWorkerInterval:      time.Second,
			CoreWorkerQuietInterval: time.Second,
			PublicRefreshInterval:   time.Second,
			UpstreamBaseURL:         "https://example.com/api/",
			UpstreamRateLimit:       1,
			TickerGroupFile:         "ticker_group.json",
			OfficeHours:             OfficeHoursConfig{Timezone: "UTC", StartHour: 9, EndHour: 16},
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.CoreWorkerInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.OfficeHours.StartHour = 16
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.CoreNetworkURL = "not a url"
	assert.Error(t, cfg.Validate())
}

func TestLoadTickerGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.json")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"NGAN_HANG":["VCB","bid "," vcb"],"THEP":["HPG"]}`), 0o644))

	groups, err := LoadTickerGroups(path)
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	symbols := groups.AllSymbols()
	assert.Equal(t, []string{"BID", "HPG", "VCB"}, symbols, "union is uppercased, deduplicated, sorted")
}

func TestLoadTickerGroupsErrors(t *testing.T) {
	_, err := LoadTickerGroups(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	_, err = LoadTickerGroups(path)
	assert.Error(t, err)

	path = filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	_, err = LoadTickerGroups(path)
	assert.Error(t, err)
}
