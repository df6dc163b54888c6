// Package journal records the intent and progress of multi-step store
// operations so that work interrupted by a crash can be resumed.
package journal

import "errors"

var (
	// ErrCorrupted indicates a corrupted entry (CRC mismatch)
	ErrCorrupted = errors.New("journal: corrupted entry")

	// ErrTruncated indicates a partially written entry
	ErrTruncated = errors.New("journal: truncated entry")

	// ErrClosed indicates an operation on a closed journal
	ErrClosed = errors.New("journal: closed")

	// ErrUnknownOperation indicates a step or commit for an operation that was never begun
	ErrUnknownOperation = errors.New("journal: unknown operation")
)
