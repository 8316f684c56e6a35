// Package domain holds the data model shared by the retrieval, caching and
// orchestration packages: tenants, documents, passages, citations and the
// error taxonomy every layer wraps its failures in.
package domain

import "errors"

// Sentinel errors. Callers wrap them with fmt.Errorf("...: %w", Err...) and
// test with errors.Is so the orchestrator and the HTTP layer can map a
// failure to its recovery policy without string matching.
var (
	// ErrInvalidInput reports an empty or malformed question or tenant
	// selector. Surfaced to the caller immediately and never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound reports a tenant selector that does not resolve to an
	// active tenant.
	ErrNotFound = errors.New("not found")

	// ErrEmbedding reports an embedding provider failure. Recovered locally:
	// retrieval drops the semantic method and the cache skips the write.
	ErrEmbedding = errors.New("embedding provider failure")

	// ErrGenerationTimeout reports that the answer assembler exceeded its
	// hard timeout.
	ErrGenerationTimeout = errors.New("generation timed out")

	// ErrGeneration reports any other answer assembler or model failure.
	ErrGeneration = errors.New("generation failed")

	// ErrStorage reports that the passage store or the cache storage is
	// unavailable.
	ErrStorage = errors.New("storage unavailable")
)
