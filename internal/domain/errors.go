package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration signals invalid pipeline parameters.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrUnsupportedFormat signals a media type without an extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrExtraction signals that a document could not be parsed.
	ErrExtraction = errors.New("document extraction failed")
	// ErrEmbedding signals an embedding provider failure during ingestion.
	ErrEmbedding = errors.New("embedding failed")
	// ErrEmptyIndex signals a query against an index with no chunks.
	ErrEmptyIndex = errors.New("index is empty")
	// ErrNotReady signals a question asked before any successful ingestion.
	ErrNotReady = errors.New("no document ingested yet")
	// ErrRetrieval signals that the context for a question could not be retrieved.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrSynthesis signals an answer generation failure.
	ErrSynthesis = errors.New("answer synthesis failed")
	// ErrDimensionMismatch signals vectors of differing dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// NotReadyError is returned by Ask while the session holds no index.
// LastIngestErr is set when the most recent ingestion attempt failed.
type NotReadyError struct {
	LastIngestErr error
}

func (e *NotReadyError) Error() string {
	if e.LastIngestErr != nil {
		return fmt.Sprintf("%s (last ingestion failed: %v)", ErrNotReady.Error(), e.LastIngestErr)
	}
	return ErrNotReady.Error()
}

func (e *NotReadyError) Unwrap() error { return ErrNotReady }
