package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileMemory is a Memory persisted in a single file. The file length is
// always a whole number of pages.
type FileMemory struct {
	mu     sync.RWMutex
	file   *os.File
	path   string
	pages  uint64
	closed bool
}

// OpenFile opens or creates the memory file at path
func OpenFile(path string) (*FileMemory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create memory directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat memory file: %w", err)
	}

	if stat.Size()%PageSize != 0 {
		file.Close()
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrUnalignedFile, path, stat.Size())
	}

	return &FileMemory{
		file:  file,
		path:  path,
		pages: uint64(stat.Size()) / PageSize,
	}, nil
}

// Path returns the backing file path
func (f *FileMemory) Path() string {
	return f.path
}

// Size returns the current size in pages
func (f *FileMemory) Size() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pages
}

// Grow extends the backing file by the given number of pages
func (f *FileMemory) Grow(pages uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}

	prev := f.pages
	if prev+pages > MaxPages {
		return prev, fmt.Errorf("%w: %d + %d pages", ErrGrowLimit, prev, pages)
	}

	if err := f.file.Truncate(int64((prev + pages) * PageSize)); err != nil {
		return prev, fmt.Errorf("failed to grow memory file: %w", err)
	}
	f.pages = prev + pages
	return prev, nil
}

// ReadAt implements io.ReaderAt
func (f *FileMemory) ReadAt(p []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return 0, ErrClosed
	}
	if err := checkBounds(off, len(p), f.pages); err != nil {
		return 0, err
	}
	return f.file.ReadAt(p, off)
}

// WriteAt implements io.WriterAt
func (f *FileMemory) WriteAt(p []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return 0, ErrClosed
	}
	if err := checkBounds(off, len(p), f.pages); err != nil {
		return 0, err
	}
	return f.file.WriteAt(p, off)
}

// Sync flushes the backing file to stable storage
func (f *FileMemory) Sync() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrClosed
	}
	return f.file.Sync()
}

// Close syncs and closes the backing file
func (f *FileMemory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	if err := f.file.Sync(); err != nil {
		f.file.Close()
		return fmt.Errorf("failed to sync memory file: %w", err)
	}
	return f.file.Close()
}
