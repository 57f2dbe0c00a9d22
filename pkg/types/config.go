package types

import (
	"errors"
	"time"
)

// Config holds backend selection and engine parameters for c2store.Open.
type Config struct {
	Backend       string       `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir       string       `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	SchemaDir     string       `json:"schema_dir" yaml:"schema_dir" mapstructure:"schema_dir"`
	DeletePolicy  string       `json:"delete_policy" yaml:"delete_policy" mapstructure:"delete_policy"`
	FeedRetention int          `json:"feed_retention" yaml:"feed_retention" mapstructure:"feed_retention"`
	GeoBounds     bool         `json:"geo_bounds" yaml:"geo_bounds" mapstructure:"geo_bounds"`
	LogLevel      string       `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogFormat     string       `json:"log_format" yaml:"log_format" mapstructure:"log_format"`
	SQLiteConfig  SQLiteConfig `json:"sqlite" yaml:"sqlite" mapstructure:"sqlite"`
}

// SQLiteConfig tunes when the SQLite backend writes its JSONL files.
type SQLiteConfig struct {
	SyncStrategy  string `json:"sync_strategy" yaml:"sync_strategy" mapstructure:"sync_strategy"`
	BatchSize     int    `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	BatchInterval int    `json:"batch_interval" yaml:"batch_interval" mapstructure:"batch_interval"` // seconds
}

// Supported backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Delete policies. Both hide the record from Get and List.
const (
	DeleteTombstone = "tombstone"
	DeleteHard      = "hard"
)

// Sync strategies for the SQLite backend.
const (
	SyncImmediate = "immediate"
	SyncOnClose   = "on_close"
	SyncBatch     = "batch"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultFeedRetention = 10000
	DefaultBatchSize     = 100
	DefaultBatchInterval = 5
)

// Config validation errors.
var (
	ErrBackendEmpty         = errors.New("backend must not be empty")
	ErrBackendUnknown       = errors.New("unknown backend")
	ErrDeletePolicyUnknown  = errors.New("unknown delete policy")
	ErrSyncStrategyUnknown  = errors.New("unknown sync strategy")
	ErrBatchSizeInvalid     = errors.New("batch size must be positive")
	ErrBatchIntervalInvalid = errors.New("batch interval must be positive")
	ErrFeedRetentionInvalid = errors.New("feed retention must not be negative")
)

var knownBackends = map[string]bool{
	BackendMemory: true,
	BackendSQLite: true,
}

var knownSyncStrategies = map[string]bool{
	SyncImmediate: true,
	SyncOnClose:   true,
	SyncBatch:     true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure. Empty optional values are valid; they take
// their defaults.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	switch c.DeletePolicy {
	case "", DeleteTombstone, DeleteHard:
	default:
		return ErrDeletePolicyUnknown
	}
	if c.FeedRetention < 0 {
		return ErrFeedRetentionInvalid
	}
	return c.SQLiteConfig.Validate()
}

// WithDefaults returns a copy of c with empty optional values filled in.
func (c Config) WithDefaults() Config {
	if c.DeletePolicy == "" {
		c.DeletePolicy = DeleteTombstone
	}
	if c.FeedRetention == 0 {
		c.FeedRetention = DefaultFeedRetention
	}
	return c
}

// Validate checks the SQLite sync settings. Batch parameters are only
// checked when the batch strategy is selected.
func (s SQLiteConfig) Validate() error {
	if s.SyncStrategy != "" && !knownSyncStrategies[s.SyncStrategy] {
		return ErrSyncStrategyUnknown
	}
	if s.SyncStrategy == SyncBatch {
		if s.BatchSize < 0 {
			return ErrBatchSizeInvalid
		}
		if s.BatchInterval < 0 {
			return ErrBatchIntervalInvalid
		}
	}
	return nil
}

// GetSyncStrategy returns the effective sync strategy, defaulting to immediate.
func (s SQLiteConfig) GetSyncStrategy() string {
	if s.SyncStrategy == "" {
		return SyncImmediate
	}
	return s.SyncStrategy
}

// GetBatchSize returns the effective batch size.
func (s SQLiteConfig) GetBatchSize() int {
	if s.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}

// GetBatchInterval returns the effective batch interval.
func (s SQLiteConfig) GetBatchInterval() time.Duration {
	if s.BatchInterval <= 0 {
		return DefaultBatchInterval * time.Second
	}
	return time.Duration(s.BatchInterval) * time.Second
}
