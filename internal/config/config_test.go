package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledgerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGER_DEVICE_ID", "device-1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "./data/ledger.db", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "device-1", cfg.DeviceID)
	assert.Equal(t, 30*24*time.Hour, cfg.Ledger.OverdueAfter)
	assert.False(t, cfg.SyncEnabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
db_path: /var/lib/ledger/ledger.db
user_id: user-1
remote:
  url: https://sync.example.com
  timeout: 10s
sync:
  schedule: "0 * * * *"
  retry_backoff: 2s
ledger:
  overdue_after: 168h
`)
	t.Setenv("LEDGER_DB_PATH", "/tmp/override.db")
	t.Setenv("LEDGER_ACCESS_TOKEN", "remote-token")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.DBPath, "env wins over file")
	assert.Equal(t, "user-1", cfg.UserID)
	assert.Equal(t, "https://sync.example.com", cfg.Remote.URL)
	assert.Equal(t, "remote-token", cfg.Remote.AccessToken)
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "0 * * * *", cfg.Sync.Schedule)
	assert.Equal(t, 2*time.Second, cfg.Sync.RetryBackoff)
	assert.Equal(t, 500, cfg.Sync.PullLimit, "unset keys keep defaults")
	assert.Equal(t, 168*time.Hour, cfg.Ledger.OverdueAfter)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.SyncEnabled())
}

func TestLoad_ScheduleOff(t *testing.T) {
	t.Setenv("LEDGER_SYNC_SCHEDULE", "off")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Sync.Schedule)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "db_path: [unclosed"},
		{"bad schedule", `sync: {schedule: "every tuesday"}`},
		{"remote without user", `remote: {url: "https://sync.example.com"}`},
		{"bad url", `{user_id: u, remote: {url: "not a url"}}`},
		{"bad log level", `log_level: loud`},
		{"zero pull limit", `sync: {pull_limit: 0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledgerd.yaml")
	require.NoError(t, WriteDefault(path))
	assert.Error(t, WriteDefault(path), "existing file is not overwritten")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Sync, cfg.Sync)
}
