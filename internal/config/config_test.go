package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 600*time.Second, cfg.Query.Timeout)
	assert.Equal(t, 3, cfg.Query.MaxDBThreads)
	assert.Equal(t, 10, cfg.Aquarius.MaxThreads)
	assert.Equal(t, 50000, cfg.Aquarius.QueryLimit)
	assert.Equal(t, 20*time.Minute, cfg.Aquarius.TokenTTL)
	assert.False(t, cfg.SQL.Enabled())
	assert.Empty(t, cfg.Watch.QuickLooks)
	assert.Equal(t, 96, cfg.StoreMaxHistory)
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HYDRO_SERVER_PORT", "9090")
	t.Setenv("HYDRO_QUERY_TIMEOUT", "30s")
	t.Setenv("HYDRO_QUERY_MAX_DB_THREADS", "5")
	t.Setenv("HYDRO_QUERY_INTERNAL", "true")
	t.Setenv("HYDRO_SQL_DRIVER", "pgx")
	t.Setenv("HYDRO_WATCH_QUICKLOOKS", "Lake Mead, Lees Ferry ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Query.Timeout)
	assert.Equal(t, 5, cfg.Query.MaxDBThreads)
	assert.True(t, cfg.Query.Internal)
	assert.True(t, cfg.SQL.Enabled())
	assert.Equal(t, []string{"Lake Mead", "Lees Ferry"}, cfg.Watch.QuickLooks)
}

func TestLoadRejectsBadThreads(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HYDRO_QUERY_MAX_DB_THREADS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadUserConfigMissingFile(t *testing.T) {
	cfg, err := LoadUserConfig(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultUserConfig(), cfg)
	assert.True(t, cfg.QAQC)
	assert.False(t, cfg.PeriodOffsetEnabled())
}

func TestLoadUserConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"utcOffset": "UTC-07:00", "rawData": true, "debugMode": true, "hourTimestampMethod": "eop"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadUserConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "UTC-07:00", cfg.UTCOffset)
	assert.True(t, cfg.RawData)
	assert.True(t, cfg.DebugMode)
	assert.True(t, cfg.QAQC, "absent key keeps default")
	assert.Equal(t, HourEOP, cfg.HourTimestampMethod)
	assert.True(t, cfg.PeriodOffsetEnabled())
}

func TestLoadUserConfigRejectsUnknownHourMethod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hourTimestampMethod": "MID"}`), 0o644))

	_, err := LoadUserConfig(path)
	assert.Error(t, err)
}

func TestPeriodOffsetFlag(t *testing.T) {
	u := DefaultUserConfig()
	u.PeriodOffset = true
	assert.True(t, u.PeriodOffsetEnabled())
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
