package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/KevoDB/healthrec/pkg/memory"
	"github.com/KevoDB/healthrec/pkg/record"
	"github.com/KevoDB/healthrec/pkg/region"
	"github.com/KevoDB/healthrec/pkg/stablemap"
)

const (
	DefaultManifestFileName = "MANIFEST"
	DefaultMemoryFileName   = "healthrec.mem"
	CurrentManifestVersion  = 1
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

type SyncMode int

const (
	// SyncNone leaves flushing to the operating system
	SyncNone SyncMode = iota
	// SyncImmediate fsyncs the memory file after every mutation
	SyncImmediate
)

func (m SyncMode) String() string {
	switch m {
	case SyncNone:
		return "none"
	case SyncImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

// ParseSyncMode parses "none" or "immediate"
func ParseSyncMode(s string) (SyncMode, error) {
	switch s {
	case "none", "":
		return SyncNone, nil
	case "immediate":
		return SyncImmediate, nil
	default:
		return SyncNone, fmt.Errorf("%w: unknown sync mode %q", ErrInvalidConfig, s)
	}
}

type Config struct {
	Version int `json:"version"`

	// Flat memory
	MemoryFile     string   `json:"memory_file"`
	PagesPerBucket uint16   `json:"pages_per_bucket"`
	SyncMode       SyncMode `json:"sync_mode"`
	LayoutVersion  int      `json:"layout_version"`

	// Records
	MaxRecordSize int `json:"max_record_size"`

	// Log compaction of the record map
	CompactionRatio    float64 `json:"compaction_ratio"`
	CompactionMinBytes uint64  `json:"compaction_min_bytes"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(dataDir string) *Config {
	return &Config{
		Version: CurrentManifestVersion,

		MemoryFile:     filepath.Join(dataDir, DefaultMemoryFileName),
		PagesPerBucket: region.DefaultPagesPerBucket,
		SyncMode:       SyncImmediate,
		LayoutVersion:  region.LayoutVersion,

		MaxRecordSize: record.MaxEncodedSize,

		CompactionRatio:    stablemap.DefaultCompactionRatio,
		CompactionMinBytes: stablemap.DefaultCompactionMinBytes,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.MemoryFile == "" {
		return fmt.Errorf("%w: memory file not specified", ErrInvalidConfig)
	}

	if c.PagesPerBucket == 0 {
		return fmt.Errorf("%w: pages per bucket must be positive", ErrInvalidConfig)
	}

	if uint64(c.PagesPerBucket)*memory.PageSize > 1<<30 {
		return fmt.Errorf("%w: bucket size above 1 GiB", ErrInvalidConfig)
	}

	if c.SyncMode != SyncNone && c.SyncMode != SyncImmediate {
		return fmt.Errorf("%w: unknown sync mode %d", ErrInvalidConfig, c.SyncMode)
	}

	if c.LayoutVersion != region.LayoutVersion {
		return fmt.Errorf("%w: layout version %d, this build reads %d", ErrInvalidConfig, c.LayoutVersion, region.LayoutVersion)
	}

	if c.MaxRecordSize <= 0 || c.MaxRecordSize > record.MaxEncodedSize {
		return fmt.Errorf("%w: max record size must be in (0, %d]", ErrInvalidConfig, record.MaxEncodedSize)
	}

	if c.CompactionRatio < 0 {
		return fmt.Errorf("%w: compaction ratio must not be negative", ErrInvalidConfig)
	}

	return nil
}

// LoadConfigFromManifest loads the configuration stored beside the memory file
func LoadConfigFromManifest(dataDir string) (*Config, error) {
	manifestPath := filepath.Join(dataDir, DefaultManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveManifest saves the configuration to the manifest file
func (c *Config) SaveManifest(dataDir string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	manifestPath := filepath.Join(dataDir, DefaultManifestFileName)
	tempPath := manifestPath + ".tmp"

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tempPath, manifestPath); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
