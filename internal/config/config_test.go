package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"CONFIG_PATH", "SERVER_ADDRESS", "DATABASE_PATH", "DATABASE_URL",
	"API_KEY", "API_KEY_HEADER", "RECENT_CAPACITY", "CATALOG_PATH", "TIME_ZONE",
}

// isolate runs the test in an empty directory with a clean environment
func isolate(t *testing.T) string {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:5000", cfg.ServerAddress)
		assert.True(t, filepath.IsAbs(cfg.DatabasePath))
		assert.Equal(t, "scanlog.db", filepath.Base(cfg.DatabasePath))
		assert.False(t, cfg.UsePostgres())
		assert.Empty(t, cfg.Security.APIKey)
		assert.Equal(t, "X-API-Key", cfg.Security.APIKeyHeader)
		assert.Equal(t, 50, cfg.RecentCapacity)
		assert.Equal(t, "", cfg.CatalogPath)
	})

	t.Run("json file", func(t *testing.T) {
		dir := isolate(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
			[]byte(`{"serverAddress":":6000","recentCapacity":10,"security":{"apiKey":"k"}}`), 0o644))

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ":6000", cfg.ServerAddress)
		assert.Equal(t, 10, cfg.RecentCapacity)
		assert.Equal(t, "k", cfg.Security.APIKey)
		assert.Equal(t, "X-API-Key", cfg.Security.APIKeyHeader)
	})

	t.Run("toml file from CONFIG_PATH", func(t *testing.T) {
		dir := isolate(t)
		path := filepath.Join(dir, "scanlog.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
server_address = ":7000"
catalog_path = "codes.csv"
time_zone = "Asia/Shanghai"

[security]
api_key = "from-toml"
`), 0o644))
		t.Setenv("CONFIG_PATH", path)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ":7000", cfg.ServerAddress)
		assert.Equal(t, "codes.csv", cfg.CatalogPath)
		assert.Equal(t, "from-toml", cfg.Security.APIKey)
		assert.Equal(t, "Asia/Shanghai", cfg.Location().String())
	})

	t.Run("missing CONFIG_PATH is an error", func(t *testing.T) {
		dir := isolate(t)
		t.Setenv("CONFIG_PATH", filepath.Join(dir, "nope.toml"))

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("env overrides file", func(t *testing.T) {
		dir := isolate(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
			[]byte(`{"serverAddress":":6000"}`), 0o644))
		t.Setenv("SERVER_ADDRESS", ":8000")
		t.Setenv("DATABASE_URL", "postgres://localhost/scanlog")
		t.Setenv("RECENT_CAPACITY", "7")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ":8000", cfg.ServerAddress)
		assert.True(t, cfg.UsePostgres())
		assert.Equal(t, 7, cfg.RecentCapacity)
	})

	t.Run("invalid capacity is ignored", func(t *testing.T) {
		isolate(t)
		t.Setenv("RECENT_CAPACITY", "-3")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 50, cfg.RecentCapacity)
	})

	t.Run("dotenv file", func(t *testing.T) {
		dir := isolate(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CATALOG_PATH=from-dotenv.csv\n"), 0o644))
		// godotenv does not override variables that are already set
		require.NoError(t, os.Unsetenv("CATALOG_PATH"))

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "from-dotenv.csv", cfg.CatalogPath)
	})

	t.Run("unknown time zone", func(t *testing.T) {
		isolate(t)
		t.Setenv("TIME_ZONE", "Mars/Olympus")

		_, err := Load()
		assert.Error(t, err)
	})
}
