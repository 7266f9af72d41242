// Package config loads the store's preferences from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultExpireDays is the retention period applied when the preferences
// file does not set one.
const DefaultExpireDays = 180

// Config holds the preferences consumed by the store.
type Config struct {
	// Enabled gates the write operations. Reads keep working when the
	// store is disabled.
	Enabled bool `yaml:"enabled"`

	// Debug raises the log level to debug.
	Debug bool `yaml:"debug"`

	// ExpireDays is the retention period for ExpireOldEntries, in days.
	ExpireDays int `yaml:"expire_days"`

	// DBPath locates the database file.
	DBPath string `yaml:"db_path"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Enabled:    true,
		ExpireDays: DefaultExpireDays,
		DBPath:     "formhistory.sqlite",
	}
}

// Load reads a YAML preferences file over the defaults. A missing file is
// not an error: the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.ExpireDays <= 0 {
		cfg.ExpireDays = DefaultExpireDays
	}
	return cfg, nil
}

// Retention returns the configured retention period as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.ExpireDays) * 24 * time.Hour
}
