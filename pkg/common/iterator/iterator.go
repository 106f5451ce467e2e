package iterator

// Iterator defines the interface for iterating over ordered key-value pairs.
// Keys are record ids, so iteration order is ascending id order.
type Iterator interface {
	// SeekToFirst positions the iterator at the first key
	SeekToFirst()

	// SeekToLast positions the iterator at the last key
	SeekToLast()

	// Seek positions the iterator at the first key >= target
	Seek(target uint64) bool

	// Next advances the iterator to the next key
	Next() bool

	// Key returns the current key
	Key() uint64

	// Value returns the current value
	Value() []byte

	// Valid returns true if the iterator is positioned at a valid entry
	Valid() bool
}

// Collect drains it from the first key and returns the keys and values it visited
func Collect(it Iterator) (keys []uint64, values [][]byte) {
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, it.Key())
		values = append(values, it.Value())
	}
	return keys, values
}
