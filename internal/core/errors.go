package core

import (
	"errors"
	"fmt"
)

var (
	ErrIngestionInProgress = errors.New("ingestion already in progress")
	ErrDimensionsUnknown   = errors.New("vector dimensions unknown: store has none recorded and none were requested")
	ErrNotFound            = errors.New("not found")
	ErrEmbeddingConfig     = errors.New("embedding provider is not configured")
)

type DimensionMismatchError struct {
	Stored    int
	Requested int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: store has %d, requested %d (wipe the store to change models)", e.Stored, e.Requested)
}

type EmbeddingModelChangedError struct {
	Before string
	After  string
}

func (e *EmbeddingModelChangedError) Error() string {
	return fmt.Sprintf("embedding model changed from %q to %q: re-run with force to wipe and re-ingest", e.Before, e.After)
}
