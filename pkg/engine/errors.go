package engine

import "errors"

var (
	// ErrEngineClosed is returned when operations are performed on a closed engine
	ErrEngineClosed = errors.New("engine is closed")
	// ErrRestoreTarget is returned when restoring over an existing memory file
	ErrRestoreTarget = errors.New("restore target already holds a store")
	// ErrInMemory is returned for operations that need a file-backed engine
	ErrInMemory = errors.New("engine is not file backed")
)
