package store

import "errors"

var (
	// ErrNotFound is returned when an entity doesn't exist or is deleted (has TTL <= now).
	ErrNotFound = errors.New("setlist: stored entity not found")

	// ErrConcurrentModification is returned when optimistic lock fails (version mismatch).
	ErrConcurrentModification = errors.New("setlist: entity was modified concurrently")

	// ErrTooManyWrites is returned when a commit needs more operations than a
	// single DynamoDB transaction accepts.
	ErrTooManyWrites = errors.New("setlist: transaction exceeds the DynamoDB item limit")

	// ErrTxDone is returned when using a transaction after Commit or Abort.
	ErrTxDone = errors.New("setlist: store transaction already finished")
)
