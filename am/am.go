package am

import "time"

// Config represents the quadstore configuration
type Config struct {
	Store       StoreConfig       `mapstructure:"store"`
	BulkLoad    BulkLoadConfig    `mapstructure:"bulk_load"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Replica     ReplicaConfig     `mapstructure:"replica"`
	Query       QueryConfig       `mapstructure:"query"`
	Log         LogConfig         `mapstructure:"log"`
}

// StoreConfig configures the on-disk store
type StoreConfig struct {
	Path          string `mapstructure:"path"`            // Store directory; empty = temporary store removed on close
	Mode          string `mapstructure:"mode"`            // primary, read_only or secondary
	TermCacheSize int    `mapstructure:"term_cache_size"` // Entries in the id to term cache (default: 65536)
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"` // SQLite busy timeout (default: 5000)
	ReadPoolSize  int    `mapstructure:"read_pool_size"`  // Max concurrent snapshot connections (default: 8)
}

// BulkLoadConfig configures the non-transactional loader
type BulkLoadConfig struct {
	BatchSize int `mapstructure:"batch_size"` // Quads per committed batch (default: 10000)
}

// MaintenanceConfig configures background dictionary reclamation
type MaintenanceConfig struct {
	ReclaimIntervalSeconds int `mapstructure:"reclaim_interval_seconds"` // 0 = disabled
	ReclaimBatchSize       int `mapstructure:"reclaim_batch_size"`       // Terms deleted per statement (default: 500)
}

// ReplicaConfig configures secondary catch-up
type ReplicaConfig struct {
	PollIntervalMS    int     `mapstructure:"poll_interval_ms"`     // Fallback poll when no fs events arrive (default: 1000)
	CatchUpsPerSecond float64 `mapstructure:"catch_ups_per_second"` // Rate limit for catch-ups (default: 10)
	WatchWAL          bool    `mapstructure:"watch_wal"`            // Use fsnotify on the WAL file (default: true)
}

// QueryConfig configures query defaults
type QueryConfig struct {
	UnionDefaultGraph bool `mapstructure:"union_default_graph"`
	TimeoutSeconds    int  `mapstructure:"timeout_seconds"` // 0 = no timeout
}

// LogConfig configures logging
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// Store modes
const (
	ModePrimary   = "primary"
	ModeReadOnly  = "read_only"
	ModeSecondary = "secondary"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// ReclaimInterval returns the maintenance interval, zero when disabled.
func (c *Config) ReclaimInterval() time.Duration {
	return time.Duration(c.Maintenance.ReclaimIntervalSeconds) * time.Second
}

// PollInterval returns the secondary poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Replica.PollIntervalMS) * time.Millisecond
}

// QueryTimeout returns the default query timeout, zero when unbounded.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Query.TimeoutSeconds) * time.Second
}
