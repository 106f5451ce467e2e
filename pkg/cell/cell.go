// Package cell persists a single small value at the start of a memory.
package cell

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/KevoDB/healthrec/pkg/memory"
)

const (
	magic   = "CEL"
	version = 1

	// headerSize is magic(3) + version(1) + value length(4)
	headerSize = 8
)

var (
	// ErrCorrupt is returned when the memory does not hold a valid cell
	ErrCorrupt = errors.New("corrupt cell")
	// ErrValueTooLarge is returned when a value does not fit the addressable range of the memory
	ErrValueTooLarge = errors.New("cell value too large")
	// ErrCounterExhausted is returned by Next once the counter holds MaxUint64
	ErrCounterExhausted = errors.New("counter exhausted")
)

// Cell is a persisted byte value. The current value is cached, so reads
// never touch the memory.
type Cell struct {
	mu    sync.RWMutex
	mem   memory.Memory
	value []byte
}

// Init loads the cell stored in mem, writing def when mem is empty
func Init(mem memory.Memory, def []byte) (*Cell, error) {
	c := &Cell{mem: mem}

	if mem.Size() == 0 {
		if err := c.Set(def); err != nil {
			return nil, err
		}
		return c, nil
	}

	hdr := make([]byte, headerSize)
	if _, err := mem.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("failed to read cell header: %w", err)
	}
	if string(hdr[0:3]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, hdr[0:3])
	}
	if hdr[3] != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, hdr[3])
	}

	n := binary.LittleEndian.Uint32(hdr[4:8])
	if uint64(headerSize)+uint64(n) > memory.Bytes(mem) {
		return nil, fmt.Errorf("%w: value length %d exceeds memory", ErrCorrupt, n)
	}
	c.value = make([]byte, n)
	if _, err := mem.ReadAt(c.value, headerSize); err != nil {
		return nil, fmt.Errorf("failed to read cell value: %w", err)
	}
	return c, nil
}

// Get returns a copy of the current value
func (c *Cell) Get() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]byte, len(c.value))
	copy(out, c.value)
	return out
}

// Set persists value and makes it the current value.
// The cached value only changes once the write succeeded.
func (c *Cell) Set(value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if uint64(len(value)) > uint64(^uint32(0)) {
		return ErrValueTooLarge
	}

	buf := make([]byte, headerSize+len(value))
	copy(buf[0:3], magic)
	buf[3] = version
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(value)))
	copy(buf[headerSize:], value)

	if err := memory.EnsureCapacity(c.mem, uint64(len(buf))); err != nil {
		return fmt.Errorf("%w: %v", ErrValueTooLarge, err)
	}
	if _, err := c.mem.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("failed to write cell: %w", err)
	}

	c.value = append(c.value[:0:0], value...)
	return nil
}
