package am

import "github.com/teranos/quadstore/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Mode {
	case "", ModePrimary, ModeReadOnly, ModeSecondary:
	default:
		return errors.NewConstraintError("store.mode must be one of primary, read_only, secondary; got %q", c.Store.Mode)
	}

	// Secondaries and read-only handles need an existing store to follow
	if c.Store.Mode == ModeReadOnly || c.Store.Mode == ModeSecondary {
		if c.Store.Path == "" {
			return errors.NewConstraintError("store.path is required in %s mode", c.Store.Mode)
		}
	}

	// Sizes: 0 = use default, negative = invalid
	if c.Store.TermCacheSize < 0 {
		return errors.NewConstraintError("store.term_cache_size must be >= 0, got %d", c.Store.TermCacheSize)
	}
	if c.Store.BusyTimeoutMS < 0 {
		return errors.NewConstraintError("store.busy_timeout_ms must be >= 0, got %d", c.Store.BusyTimeoutMS)
	}
	if c.Store.ReadPoolSize < 0 {
		return errors.NewConstraintError("store.read_pool_size must be >= 0, got %d", c.Store.ReadPoolSize)
	}
	if c.BulkLoad.BatchSize < 0 {
		return errors.NewConstraintError("bulk_load.batch_size must be >= 0, got %d", c.BulkLoad.BatchSize)
	}

	// Intervals: 0 = disabled, negative = invalid
	if c.Maintenance.ReclaimIntervalSeconds < 0 {
		return errors.NewConstraintError("maintenance.reclaim_interval_seconds must be >= 0, got %d", c.Maintenance.ReclaimIntervalSeconds)
	}
	if c.Maintenance.ReclaimBatchSize < 0 {
		return errors.NewConstraintError("maintenance.reclaim_batch_size must be >= 0, got %d", c.Maintenance.ReclaimBatchSize)
	}
	if c.Replica.PollIntervalMS < 0 {
		return errors.NewConstraintError("replica.poll_interval_ms must be >= 0, got %d", c.Replica.PollIntervalMS)
	}
	if c.Replica.CatchUpsPerSecond < 0 {
		return errors.NewConstraintError("replica.catch_ups_per_second must be >= 0, got %f", c.Replica.CatchUpsPerSecond)
	}
	if c.Query.TimeoutSeconds < 0 {
		return errors.NewConstraintError("query.timeout_seconds must be >= 0, got %d", c.Query.TimeoutSeconds)
	}

	return nil
}
