package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	envPrefix      = "C2STORE"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# c2store configuration

# Storage backend: sqlite or memory
backend: sqlite

# Data directory (optional; overridable by --data-dir)
# data_dir:

# Schema directory (optional; overridable by --schema-dir)
# schema_dir:

# tombstone keeps deleted records as hidden tombstones; hard removes them
delete_policy: tombstone

# Events kept for late feed subscribers
feed_retention: 10000

# Reject lat/lon pairs outside [-90,90] x [-180,180]
geo_bounds: false

log_level: warn
log_format: console

sqlite:
  # immediate, on_close, or batch
  sync_strategy: immediate
  batch_size: 100
  batch_interval: 5
`

// newViper returns a viper instance with every config key defaulted and
// C2STORE_ environment overrides enabled (C2STORE_SQLITE_SYNC_STRATEGY
// for sqlite.sync_strategy).
func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("backend", types.BackendSQLite)
	v.SetDefault("data_dir", "")
	v.SetDefault("schema_dir", "")
	v.SetDefault("delete_policy", types.DeleteTombstone)
	v.SetDefault("feed_retention", types.DefaultFeedRetention)
	v.SetDefault("geo_bounds", false)
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "console")
	v.SetDefault("sqlite.sync_strategy", types.SyncImmediate)
	v.SetDefault("sqlite.batch_size", types.DefaultBatchSize)
	v.SetDefault("sqlite.batch_interval", types.DefaultBatchInterval)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads config.yaml from configDir using Viper. It creates the
// config directory and a default config.yaml on first run.
func loadConfig(configDir string) (types.Config, error) {
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return types.Config{}, fmt.Errorf("ensure default config: %w", err)
	}

	v := newViper()
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// ensureDefaultConfigFile creates configDir and a default config.yaml if
// the file does not exist.
func ensureDefaultConfigFile(configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	path := filepath.Join(configDir, configFileExt)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
