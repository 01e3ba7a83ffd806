package cache

import "fmt"

// WriteError indicates an I/O failure while persisting an entry. The failure
// is local to a single put: any previous entry for the key is left intact.
type WriteError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("cache write failed for %q: %v", e.Key, e.Err)
}

// Unwrap implements the error unwrapping interface.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// NewWriteError creates a WriteError for key.
func NewWriteError(key string, err error) *WriteError {
	return &WriteError{Key: key, Err: err}
}

// CorruptionError indicates stored artifacts failed validation on read:
// undecodable payload, a missing sidecar, a checksum mismatch, or metadata
// inconsistent with the payload. The entry is not auto-deleted; an operator
// has to investigate.
type CorruptionError struct {
	Key    string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache entry %q is corrupt: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("cache entry %q is corrupt: %s", e.Key, e.Reason)
}

// Unwrap implements the error unwrapping interface.
func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// NewCorruptionError creates a CorruptionError for key.
func NewCorruptionError(key, reason string, err error) *CorruptionError {
	return &CorruptionError{Key: key, Reason: reason, Err: err}
}
