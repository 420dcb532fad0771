package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// Default values shared with code that builds a Config by hand.
const (
	DefaultTermCacheSize    = 65536
	DefaultBusyTimeoutMS    = 5000
	DefaultReadPoolSize     = 8
	DefaultBulkBatchSize    = 10000
	DefaultReclaimBatchSize = 500
	DefaultPollIntervalMS   = 1000
	DefaultCatchUpsPerSec   = 10.0
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Store defaults
	v.SetDefault("store.path", "")
	v.SetDefault("store.mode", ModePrimary)
	v.SetDefault("store.term_cache_size", DefaultTermCacheSize)
	v.SetDefault("store.busy_timeout_ms", DefaultBusyTimeoutMS)
	v.SetDefault("store.read_pool_size", DefaultReadPoolSize)

	// Bulk load defaults
	v.SetDefault("bulk_load.batch_size", DefaultBulkBatchSize)

	// Maintenance defaults
	v.SetDefault("maintenance.reclaim_interval_seconds", 0)
	v.SetDefault("maintenance.reclaim_batch_size", DefaultReclaimBatchSize)

	// Replica defaults
	v.SetDefault("replica.poll_interval_ms", DefaultPollIntervalMS)
	v.SetDefault("replica.catch_ups_per_second", DefaultCatchUpsPerSec)
	v.SetDefault("replica.watch_wal", true)

	// Query defaults
	v.SetDefault("query.union_default_graph", false)
	v.SetDefault("query.timeout_seconds", 0)

	// Log defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// BindSensitiveEnvVars explicitly binds configuration that is commonly set per deployment
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("store.path", "QUADSTORE_PATH")
	v.BindEnv("store.mode", "QUADSTORE_MODE")
	v.BindEnv("log.level", "QUADSTORE_LOG_LEVEL")
}

// Defaults returns a Config populated with default values only.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always unmarshal; a failure here is a programming error.
		panic(err)
	}
	return cfg
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Store: {Path: %q, Mode: %s}, BulkLoad: {BatchSize: %d}, Maintenance: {Interval: %ds}}",
		c.Store.Path, c.Store.Mode, c.BulkLoad.BatchSize, c.Maintenance.ReclaimIntervalSeconds)
}
