package retrieval

import "errors"

// Hard failures of an answer request. None of these produce a partial
// result; the caller gets either a fully grounded answer or an error.
var (
	// ErrPlanning indicates the query-decomposition call failed.
	ErrPlanning = errors.New("query planning failed")

	// ErrRetrieval indicates a memory or knowledge search failed before
	// any prompt was assembled.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGeneration indicates the final structured-answer call failed
	// or returned a payload that did not match the expected shape.
	ErrGeneration = errors.New("answer generation failed")
)
