package config

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/multimig/engine"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	// DSN is the connection string of the database to migrate.
	DSN sql.Null[string]
	// Skip lists the identifiers of migrations that are recorded as applied
	// without running them.
	Skip []string
	// SkipSeedWithNoPending is passed through to the migration runner.
	SkipSeedWithNoPending sql.Null[bool]
	// Sources are the migration sources, in priority order.
	Sources []Source

	fs   vfs.FileSystem
	path string
}

// Source is the configuration of a single migration source.
type Source struct {
	// Name identifies the source in the migration history.
	Name string `json:"name"`
	// Dir is the directory with the migration files. Relative paths are
	// resolved against the directory of the configuration file.
	Dir string `json:"dir"`
	// Schema is the schema named in scripted history inserts.
	Schema string `json:"schema,omitempty"`
	// AutoMigrations enables applying the model script of the source.
	AutoMigrations bool `json:"auto_migrations,omitempty"`
}

// NewConfig creates a new Config instance with the specified filesystem
// and configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem.
// If the file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// EngineConfigs returns the migration engine configuration of every source.
func (c *Config) EngineConfigs() []engine.Config {
	cfgs := make([]engine.Config, len(c.Sources))
	for i, src := range c.Sources {
		dir := src.Dir
		if !filepath.IsAbs(dir) && c.path != "" {
			dir = filepath.Join(filepath.Dir(c.path), dir)
		}
		cfgs[i] = engine.Config{
			Name:           src.Name,
			Dir:            dir,
			Schema:         src.Schema,
			AutoMigrations: src.AutoMigrations,
		}
	}

	return cfgs
}

type cfgWrapper struct {
	DSN                   string   `json:"dsn,omitempty"`
	Skip                  []string `json:"skip,omitempty"`
	SkipSeedWithNoPending *bool    `json:"skip_seed_with_no_pending,omitempty"`
	Sources               []Source `json:"sources,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values
// to their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{Skip: c.Skip, Sources: c.Sources}

	if c.DSN.Valid {
		w.DSN = c.DSN.V
	}
	if c.SkipSeedWithNoPending.Valid {
		w.SkipSeedWithNoPending = &c.SkipSeedWithNoPending.V
	}

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types, and validates the source list.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	if w.DSN != "" {
		c.DSN = sql.Null[string]{V: w.DSN, Valid: true}
	}
	if w.SkipSeedWithNoPending != nil {
		c.SkipSeedWithNoPending = sql.Null[bool]{V: *w.SkipSeedWithNoPending, Valid: true}
	}
	c.Skip = w.Skip

	for i, src := range w.Sources {
		if src.Name == "" {
			return fmt.Errorf("source at index %d: name is required", i)
		}
		if src.Dir == "" {
			return errors.New("source " + src.Name + ": dir is required")
		}
	}
	c.Sources = w.Sources

	return nil
}
