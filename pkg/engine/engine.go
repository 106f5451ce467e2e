// Package engine is the composition root of a healthrec store: it opens the
// flat memory, carves it into regions and wires the counter, the record map
// and the record store on top.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/KevoDB/healthrec/pkg/cell"
	"github.com/KevoDB/healthrec/pkg/common/log"
	"github.com/KevoDB/healthrec/pkg/config"
	"github.com/KevoDB/healthrec/pkg/memory"
	"github.com/KevoDB/healthrec/pkg/record"
	"github.com/KevoDB/healthrec/pkg/region"
	"github.com/KevoDB/healthrec/pkg/stablemap"
	"github.com/KevoDB/healthrec/pkg/stats"
	"github.com/KevoDB/healthrec/pkg/store"
	"github.com/KevoDB/healthrec/pkg/telemetry"
)

// Engine owns every handle of one open store
type Engine struct {
	cfg     *config.Config
	dataDir string

	mem     memory.Memory
	file    *memory.FileMemory
	regions *region.Manager
	counter *cell.Counter
	records *stablemap.Map
	store   *store.Store

	stats   *stats.AtomicCollector
	logger  log.Logger
	tel     telemetry.Telemetry
	metrics EngineMetrics

	closed atomic.Bool
}

type options struct {
	cfg    *config.Config
	logger log.Logger
	tel    telemetry.Telemetry
	clock  func() time.Time
}

// Option configures Open and OpenMemory
type Option func(*options)

// WithConfig sets the configuration used when the data directory holds no
// manifest yet. An existing manifest always wins.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger handed to every component
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTelemetry enables metrics and spans in every component
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(o *options) {
		o.tel = tel
	}
}

// WithClock sets the record store's time source
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		logger: log.GetDefaultLogger(),
		tel:    telemetry.NewNoop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open opens the store kept in dataDir, creating it when the directory is new
func Open(dataDir string, opts ...Option) (*Engine, error) {
	o := buildOptions(opts)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg, err := loadOrCreateConfig(dataDir, o.cfg)
	if err != nil {
		return nil, err
	}

	file, err := memory.OpenFile(cfg.MemoryFile)
	if err != nil {
		return nil, err
	}

	e, err := compose(cfg, dataDir, file, file, o)
	if err != nil {
		file.Close()
		return nil, err
	}
	return e, nil
}

// OpenMemory opens an empty store held in process memory
func OpenMemory(opts ...Option) (*Engine, error) {
	o := buildOptions(opts)

	cfg := o.cfg
	if cfg == nil {
		cfg = config.NewDefaultConfig("")
		cfg.MemoryFile = ":memory:"
		cfg.SyncMode = config.SyncNone
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return compose(cfg, "", memory.NewVectorMemory(), nil, o)
}

func loadOrCreateConfig(dataDir string, fallback *config.Config) (*config.Config, error) {
	cfg, err := config.LoadConfigFromManifest(dataDir)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, config.ErrManifestNotFound) {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg = fallback
	if cfg == nil {
		cfg = config.NewDefaultConfig(dataDir)
	}
	if err := cfg.SaveManifest(dataDir); err != nil {
		return nil, fmt.Errorf("failed to save configuration: %w", err)
	}
	return cfg, nil
}

// compose initializes the regions and the components living in them
func compose(cfg *config.Config, dataDir string, mem memory.Memory, file *memory.FileMemory, o *options) (*Engine, error) {
	ctx := context.Background()
	start := time.Now()

	e := &Engine{
		cfg:     cfg,
		dataDir: dataDir,
		mem:     mem,
		file:    file,
		stats:   stats.NewAtomicCollector(),
		logger:  o.logger.WithField("component", telemetry.ComponentEngine),
		tel:     o.tel,
		metrics: NewEngineMetrics(o.tel),
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{telemetry.ComponentRegion, e.initRegions},
		{"counter", e.initCounter},
		{telemetry.ComponentStableMap, e.initRecords},
		{telemetry.ComponentStore, func() error { return e.initStore(o) }},
	}
	for _, step := range steps {
		stepStart := time.Now()
		err := step.fn()
		e.metrics.RecordComponentInitialization(ctx, step.name, time.Since(stepStart), err == nil)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	e.metrics.RecordStartupMetrics(ctx, time.Since(start), int64(len(steps)))
	e.metrics.RecordMemorySize(ctx, mem.Size())
	e.logger.Info("opened store %s with %d records (last id %d) in %s",
		e.regions.StoreID(), e.records.Len(), e.counter.Get(), time.Since(start))
	return e, nil
}

func (e *Engine) initRegions() error {
	regions, err := region.Init(e.mem,
		region.WithPagesPerBucket(e.cfg.PagesPerBucket),
		region.WithLogger(e.logger))
	if err != nil {
		return err
	}
	e.regions = regions
	return nil
}

func (e *Engine) initCounter() error {
	mem, err := e.regions.Claim(region.CounterRegion, region.PurposeCounter)
	if err != nil {
		return err
	}
	counter, err := cell.NewCounter(mem)
	if err != nil {
		return err
	}
	e.counter = counter
	return nil
}

func (e *Engine) initRecords() error {
	mem, err := e.regions.Claim(region.RecordRegion, region.PurposeRecords)
	if err != nil {
		return err
	}

	opts := []stablemap.Option{
		stablemap.WithLogger(e.logger),
		stablemap.WithMetrics(stablemap.NewMetrics(e.tel)),
		stablemap.WithStats(e.stats),
		stablemap.WithCompaction(e.cfg.CompactionRatio, e.cfg.CompactionMinBytes),
	}
	// The counter shares the file, so syncing after each map write also
	// flushes the id minted just before it.
	if e.cfg.SyncMode == config.SyncImmediate && e.file != nil {
		opts = append(opts, stablemap.WithSyncer(e.file))
	}

	records, err := stablemap.Init(mem, record.MaxEncodedSize, opts...)
	if err != nil {
		return err
	}
	e.records = records
	return e.reconcileCounter()
}

// reconcileCounter moves the counter past the largest stored id. The counter
// is persisted before the record it names, so it can only fall behind when the
// counter region was damaged.
func (e *Engine) reconcileCounter() error {
	it := e.records.Iterator()
	it.SeekToLast()
	if !it.Valid() || it.Key() <= e.counter.Get() {
		return nil
	}
	e.logger.Warn("id counter %d is behind stored id %d, advancing it", e.counter.Get(), it.Key())
	return e.counter.Set(it.Key())
}

func (e *Engine) initStore(o *options) error {
	s, err := store.New(e.counter, e.records,
		store.WithClock(o.clock),
		store.WithLogger(e.logger),
		store.WithTelemetry(e.tel),
		store.WithStats(e.stats),
		store.WithMaxRecordSize(e.cfg.MaxRecordSize))
	if err != nil {
		return err
	}
	e.store = s
	return nil
}

// Store returns the record store
func (e *Engine) Store() *store.Store {
	return e.store
}

// Config returns the store configuration
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Stats returns the statistics collected since the engine was opened
func (e *Engine) Stats() map[string]interface{} {
	s := e.stats.GetStats()
	s["records"] = e.records.Len()
	s["memory_pages"] = e.mem.Size()
	return s
}

// Info describes the open store
type Info struct {
	StoreID        string          `json:"store_id"`
	DataDir        string          `json:"data_dir,omitempty"`
	MemoryFile     string          `json:"memory_file"`
	LayoutVersion  int             `json:"layout_version"`
	SyncMode       string          `json:"sync_mode"`
	PagesPerBucket uint64          `json:"pages_per_bucket"`
	MemoryPages    uint64          `json:"memory_pages"`
	BucketsInUse   int             `json:"buckets_in_use"`
	Regions        []region.Info   `json:"regions"`
	Records        int             `json:"records"`
	LastID         uint64          `json:"last_id"`
	RecordMap      stablemap.Stats `json:"record_map"`
	Fault          string          `json:"fault,omitempty"`
}

// Info returns a description of the open store
func (e *Engine) Info() Info {
	info := Info{
		StoreID:        e.regions.StoreID().String(),
		DataDir:        e.dataDir,
		MemoryFile:     e.cfg.MemoryFile,
		LayoutVersion:  e.cfg.LayoutVersion,
		SyncMode:       e.cfg.SyncMode.String(),
		PagesPerBucket: e.regions.PagesPerBucket(),
		MemoryPages:    e.mem.Size(),
		BucketsInUse:   e.regions.BucketsInUse(),
		Regions:        e.regions.Regions(),
		Records:        e.records.Len(),
		LastID:         e.counter.Get(),
		RecordMap:      e.records.Stats(),
	}
	if err := e.store.Fault(); err != nil {
		info.Fault = err.Error()
	}
	return info
}

// Close flushes and releases the memory file
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.file == nil {
		return nil
	}

	// Wait for any in-flight operation before the file goes away
	return e.store.Exclusive(func() error {
		if err := e.file.Sync(); err != nil {
			e.file.Close()
			return fmt.Errorf("failed to sync memory file: %w", err)
		}
		return e.file.Close()
	})
}
