package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/healthrec/pkg/record"
	"github.com/KevoDB/healthrec/pkg/region"
)

func TestNewDefaultConfig(t *testing.T) {
	dataDir := "/tmp/testdb"
	cfg := NewDefaultConfig(dataDir)

	assert.Equal(t, CurrentManifestVersion, cfg.Version)
	assert.Equal(t, filepath.Join(dataDir, DefaultMemoryFileName), cfg.MemoryFile)
	assert.Equal(t, uint16(region.DefaultPagesPerBucket), cfg.PagesPerBucket)
	assert.Equal(t, SyncImmediate, cfg.SyncMode)
	assert.Equal(t, record.MaxEncodedSize, cfg.MaxRecordSize)
	assert.Equal(t, region.LayoutVersion, cfg.LayoutVersion)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*Config)
		expected string
	}{
		{
			name:     "invalid version",
			mutate:   func(c *Config) { c.Version = 0 },
			expected: "invalid configuration: invalid version 0",
		},
		{
			name:     "empty memory file",
			mutate:   func(c *Config) { c.MemoryFile = "" },
			expected: "invalid configuration: memory file not specified",
		},
		{
			name:     "zero pages per bucket",
			mutate:   func(c *Config) { c.PagesPerBucket = 0 },
			expected: "invalid configuration: pages per bucket must be positive",
		},
		{
			name:     "unknown sync mode",
			mutate:   func(c *Config) { c.SyncMode = 7 },
			expected: "invalid configuration: unknown sync mode 7",
		},
		{
			name:     "foreign layout",
			mutate:   func(c *Config) { c.LayoutVersion = 99 },
			expected: "invalid configuration: layout version 99, this build reads 1",
		},
		{
			name:     "record bound above codec bound",
			mutate:   func(c *Config) { c.MaxRecordSize = record.MaxEncodedSize + 1 },
			expected: "invalid configuration: max record size must be in (0, 1024]",
		},
		{
			name:     "negative compaction ratio",
			mutate:   func(c *Config) { c.CompactionRatio = -1 },
			expected: "invalid configuration: compaction ratio must not be negative",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig("/tmp/testdb")
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.EqualError(t, err, tc.expected)
		})
	}
}

func TestConfigManifestSaveLoad(t *testing.T) {
	dataDir := t.TempDir()

	cfg := NewDefaultConfig(dataDir)
	cfg.PagesPerBucket = 4
	cfg.SyncMode = SyncNone
	cfg.CompactionRatio = 2.5
	require.NoError(t, cfg.SaveManifest(dataDir))

	_, err := os.Stat(filepath.Join(dataDir, DefaultManifestFileName+".tmp"))
	assert.True(t, os.IsNotExist(err), "temporary manifest is renamed into place")

	loaded, err := LoadConfigFromManifest(dataDir)
	require.NoError(t, err)
	assert.Equal(t, cfg.MemoryFile, loaded.MemoryFile)
	assert.Equal(t, uint16(4), loaded.PagesPerBucket)
	assert.Equal(t, SyncNone, loaded.SyncMode)
	assert.Equal(t, 2.5, loaded.CompactionRatio)

	_, err = LoadConfigFromManifest(filepath.Join(dataDir, "nonexistent"))
	assert.ErrorIs(t, err, ErrManifestNotFound)
}

func TestLoadInvalidManifest(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, DefaultManifestFileName), []byte("{not json"), 0644))

	_, err := LoadConfigFromManifest(dataDir)
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestSaveManifestRejectsInvalidConfig(t *testing.T) {
	dataDir := t.TempDir()
	cfg := NewDefaultConfig(dataDir)
	cfg.MaxRecordSize = 0

	assert.ErrorIs(t, cfg.SaveManifest(dataDir), ErrInvalidConfig)
	_, err := os.Stat(filepath.Join(dataDir, DefaultManifestFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestConfigUpdate(t *testing.T) {
	cfg := NewDefaultConfig("/tmp/testdb")

	cfg.Update(func(c *Config) {
		c.PagesPerBucket = 64
		c.CompactionMinBytes = 1 << 24
	})

	assert.Equal(t, uint16(64), cfg.PagesPerBucket)
	assert.Equal(t, uint64(1<<24), cfg.CompactionMinBytes)
}

func TestParseSyncMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SyncMode
		wantErr bool
	}{
		{"", SyncNone, false},
		{"none", SyncNone, false},
		{"immediate", SyncImmediate, false},
		{"batch", SyncNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSyncMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) SyncMode {
	t.Helper()
	m, err := ParseSyncMode(s)
	require.NoError(t, err)
	return m
}
