package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/quadstore/errors"
)

func TestLoad_Defaults(t *testing.T) {
	// Create isolated viper instance without loading user config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	if cfg.Store.Mode != ModePrimary {
		t.Errorf("expected default mode %q, got %q", ModePrimary, cfg.Store.Mode)
	}
	if cfg.Store.TermCacheSize != DefaultTermCacheSize {
		t.Errorf("expected default term cache %d, got %d", DefaultTermCacheSize, cfg.Store.TermCacheSize)
	}
	if cfg.BulkLoad.BatchSize != DefaultBulkBatchSize {
		t.Errorf("expected default batch size %d, got %d", DefaultBulkBatchSize, cfg.BulkLoad.BatchSize)
	}
	if !cfg.Replica.WatchWAL {
		t.Error("expected WAL watching enabled by default")
	}
	if cfg.ReclaimInterval() != 0 {
		t.Errorf("expected reclamation disabled by default, got %s", cfg.ReclaimInterval())
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultCatchUpsPerSec, cfg.Replica.CatchUpsPerSecond)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	content := `
[store]
path = "/var/lib/quads"
mode = "secondary"
term_cache_size = 1024

[maintenance]
reclaim_interval_seconds = 60

[replica]
poll_interval_ms = 250
`
	require.NoError(t, os.WriteFile(path, []byte(content), DefaultFilePermissions))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/quads", cfg.Store.Path)
	assert.Equal(t, ModeSecondary, cfg.Store.Mode)
	assert.Equal(t, 1024, cfg.Store.TermCacheSize)
	assert.Equal(t, 60, cfg.Maintenance.ReclaimIntervalSeconds)
	assert.Equal(t, int64(250), cfg.PollInterval().Milliseconds())
	// Untouched keys keep their defaults
	assert.Equal(t, DefaultBulkBatchSize, cfg.BulkLoad.BatchSize)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))
}

func TestLoadFromFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("[store]\nmode = \"replica\"\n"), DefaultFilePermissions))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsConstraintError(err))
}

func TestLoad_EnvOverride(t *testing.T) {
	Reset()
	defer Reset()
	t.Setenv("QUADSTORE_BULK_LOAD_BATCH_SIZE", "42")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.BulkLoad.BatchSize)
}

func TestValidate_ZeroValues(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "empty config is valid",
			config:  Config{},
			wantErr: false,
		},
		{
			name:    "unknown mode is invalid",
			config:  Config{Store: StoreConfig{Mode: "replica"}},
			wantErr: true,
		},
		{
			name:    "secondary needs a path",
			config:  Config{Store: StoreConfig{Mode: ModeSecondary}},
			wantErr: true,
		},
		{
			name:    "read only with a path is valid",
			config:  Config{Store: StoreConfig{Mode: ModeReadOnly, Path: "/data"}},
			wantErr: false,
		},
		{
			name:    "zero reclaim interval is valid (disabled)",
			config:  Config{Maintenance: MaintenanceConfig{ReclaimIntervalSeconds: 0}},
			wantErr: false,
		},
		{
			name:    "negative reclaim interval is invalid",
			config:  Config{Maintenance: MaintenanceConfig{ReclaimIntervalSeconds: -1}},
			wantErr: true,
		},
		{
			name:    "negative batch size is invalid",
			config:  Config{BulkLoad: BulkLoadConfig{BatchSize: -5}},
			wantErr: true,
		},
		{
			name:    "negative catch up rate is invalid",
			config:  Config{Replica: ReplicaConfig{CatchUpsPerSecond: -1}},
			wantErr: true,
		},
		{
			name:    "negative query timeout is invalid",
			config:  Config{Query: QueryConfig{TimeoutSeconds: -1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
