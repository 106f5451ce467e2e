package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/KevoDB/healthrec/pkg/cell"
	"github.com/KevoDB/healthrec/pkg/memory"
	"github.com/KevoDB/healthrec/pkg/record"
	"github.com/KevoDB/healthrec/pkg/region"
	"github.com/KevoDB/healthrec/pkg/stablemap"
	"github.com/KevoDB/healthrec/pkg/stats"
)

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Backup writes a snapshot of the whole flat memory to w. Store operations
// wait until the snapshot is complete.
func (e *Engine) Backup(ctx context.Context, w io.Writer, codec memory.Codec) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	ctx, span := e.tel.StartSpan(ctx, "engine.backup")
	defer span.End()

	start := time.Now()
	cw := &countingWriter{w: w}
	err := e.store.Exclusive(func() error {
		return memory.WriteSnapshot(cw, e.mem, codec)
	})

	e.metrics.RecordBackup(ctx, codec.String(), time.Since(start), cw.n, err == nil)
	e.stats.ObserveOperation(stats.OpBackup, time.Since(start))
	if err != nil {
		span.RecordError(err)
		e.stats.TrackError("backup_error")
		return fmt.Errorf("backup failed: %w", err)
	}
	e.stats.TrackBytes(false, uint64(cw.n))

	e.logger.Info("wrote %s backup of %d pages (%d bytes)", codec, e.mem.Size(), cw.n)
	return nil
}

// Restore rebuilds the store of dataDir from a snapshot written by Backup.
// The data directory must not hold a store yet; on failure nothing is left
// behind.
func Restore(ctx context.Context, dataDir string, r io.Reader, opts ...Option) (err error) {
	o := buildOptions(opts)
	metrics := NewEngineMetrics(o.tel)
	start := time.Now()
	defer func() {
		metrics.RecordRestore(ctx, time.Since(start), err == nil)
	}()

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg, err := loadOrCreateConfig(dataDir, o.cfg)
	if err != nil {
		return err
	}

	if fi, err := os.Stat(cfg.MemoryFile); err == nil && fi.Size() > 0 {
		return fmt.Errorf("%w: %s", ErrRestoreTarget, cfg.MemoryFile)
	}

	file, err := memory.OpenFile(cfg.MemoryFile)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(cfg.MemoryFile)
		}
	}()

	if err = memory.ReadSnapshot(r, file); err != nil {
		return err
	}
	if err = verifyRestored(file); err != nil {
		return fmt.Errorf("restored snapshot does not hold a store: %w", err)
	}
	if err = file.Sync(); err != nil {
		return fmt.Errorf("failed to sync restored memory: %w", err)
	}

	o.logger.Info("restored %d pages into %s", file.Size(), cfg.MemoryFile)
	return file.Close()
}

// verifyRestored opens every layer of a restored memory without writing to it
func verifyRestored(mem memory.Memory) error {
	regions, err := region.Init(mem)
	if err != nil {
		return err
	}
	counterMem, err := regions.Region(region.CounterRegion)
	if err != nil {
		return err
	}
	if counterMem.Size() == 0 {
		return errors.New("counter region is empty")
	}
	if _, err := cell.NewCounter(counterMem); err != nil {
		return err
	}
	recordMem, err := regions.Region(region.RecordRegion)
	if err != nil {
		return err
	}
	if recordMem.Size() == 0 {
		return errors.New("record region is empty")
	}
	_, err = stablemap.Init(recordMem, record.MaxEncodedSize, stablemap.WithCompaction(0, 0))
	return err
}
