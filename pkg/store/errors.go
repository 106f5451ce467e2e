package store

import (
	"errors"
	"fmt"

	"github.com/KevoDB/healthrec/pkg/record"
)

var (
	// ErrNotFound is matched by every *NotFoundError
	ErrNotFound = errors.New("patient not found")

	// ErrRecordTooLarge is returned when a record's encoding exceeds the size bound.
	// The operation has no side effect.
	ErrRecordTooLarge = record.ErrRecordTooLarge

	// ErrInvalidPayload is returned when a payload's text fields cannot be encoded
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrStorageFault marks an unrecoverable storage failure. Once a store has
	// seen one, every later operation fails with it.
	ErrStorageFault = errors.New("storage fault")
)

// NotFoundError reports an id that is absent from the store
type NotFoundError struct {
	ID uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("patient %d not found", e.ID)
}

// Is makes errors.Is(err, ErrNotFound) hold for every NotFoundError
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsNotFound reports whether err is a not-found result
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// errorType classifies err for statistics and metrics
func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRecordTooLarge):
		return "record_too_large"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrStorageFault):
		return "storage_fault"
	default:
		return "other"
	}
}
