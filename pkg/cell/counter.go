package cell

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/KevoDB/healthrec/pkg/memory"
)

// Counter is a monotonically increasing u64 persisted in a cell
type Counter struct {
	mu    sync.Mutex
	cell  *Cell
	value uint64
}

// NewCounter loads the counter stored in mem, starting at zero for a fresh memory
func NewCounter(mem memory.Memory) (*Counter, error) {
	c, err := Init(mem, encodeU64(0))
	if err != nil {
		return nil, err
	}

	raw := c.Get()
	if len(raw) != 8 {
		return nil, fmt.Errorf("%w: counter value is %d bytes", ErrCorrupt, len(raw))
	}
	return &Counter{cell: c, value: binary.LittleEndian.Uint64(raw)}, nil
}

// Get returns the current value
func (c *Counter) Get() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Next increments the counter, persists it and returns the new value.
// On a persistence failure the counter is left unchanged. The counter never
// wraps: at MaxUint64 Next fails with ErrCounterExhausted.
func (c *Counter) Next() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value == math.MaxUint64 {
		return 0, ErrCounterExhausted
	}
	next := c.value + 1
	if err := c.cell.Set(encodeU64(next)); err != nil {
		return 0, fmt.Errorf("failed to persist counter: %w", err)
	}
	c.value = next
	return next, nil
}

// Set overwrites the counter. Used by restore tooling; lowering the value
// would allow ids to be reissued.
func (c *Counter) Set(v uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cell.Set(encodeU64(v)); err != nil {
		return fmt.Errorf("failed to persist counter: %w", err)
	}
	c.value = v
	return nil
}

func encodeU64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
