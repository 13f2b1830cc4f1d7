package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	ServerAddress  string   `json:"serverAddress" toml:"server_address"`
	DatabasePath   string   `json:"databasePath" toml:"database_path"`
	DatabaseURL    string   `json:"databaseUrl" toml:"database_url"`
	Security       Security `json:"security" toml:"security"`
	RecentCapacity int      `json:"recentCapacity" toml:"recent_capacity"`
	CatalogPath    string   `json:"catalogPath" toml:"catalog_path"`
	TimeZone       string   `json:"timeZone" toml:"time_zone"`

	location *time.Location
}

// Security configuration. An empty APIKey leaves the API open, which is
// only sensible on the default loopback address.
type Security struct {
	APIKey       string `json:"apiKey" toml:"api_key"`
	APIKeyHeader string `json:"apiKeyHeader" toml:"api_key_header"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Location is the zone used to bucket scans into days
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress:  "127.0.0.1:5000",
		DatabasePath:   "scanlog.db",
		RecentCapacity: 50,
		Security: Security{
			APIKeyHeader: "X-API-Key",
		},
	}
}

// Load reads .env into the environment, then the config file named by
// CONFIG_PATH (config.json or config.toml by default), then applies
// environment overrides
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := defaultConfig()

	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		if err := cfg.loadFile(configPath, true); err != nil {
			return nil, err
		}
	} else {
		for _, candidate := range []string{"config.json", "config.toml"} {
			if err := cfg.loadFile(candidate, false); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges path into c. A missing file is an error only when required.
func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		c.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		c.DatabaseURL = dbURL
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		c.Security.APIKey = apiKey
	}
	if header := os.Getenv("API_KEY_HEADER"); header != "" {
		c.Security.APIKeyHeader = header
	}
	if capacity := os.Getenv("RECENT_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil && n > 0 {
			c.RecentCapacity = n
		}
	}
	if catalog := os.Getenv("CATALOG_PATH"); catalog != "" {
		c.CatalogPath = catalog
	}
	if tz := os.Getenv("TIME_ZONE"); tz != "" {
		c.TimeZone = tz
	}
}

func (c *Config) finish() error {
	if c.RecentCapacity <= 0 {
		c.RecentCapacity = 50
	}
	if c.Security.APIKeyHeader == "" {
		c.Security.APIKeyHeader = "X-API-Key"
	}

	if c.TimeZone != "" {
		loc, err := time.LoadLocation(c.TimeZone)
		if err != nil {
			return fmt.Errorf("config: time zone %q: %w", c.TimeZone, err)
		}
		c.location = loc
	}

	if !c.UsePostgres() && c.DatabasePath != "" {
		absPath, err := filepath.Abs(c.DatabasePath)
		if err != nil {
			return err
		}
		c.DatabasePath = absPath
	}
	return nil
}
