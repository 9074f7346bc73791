package retrieval

import (
	"github.com/sage0/sage/internal/llm"
)

// RetrievedItem is one knowledge chunk surfaced for a single query.
// Score is the original cosine similarity against the query; after
// diversity re-ranking the slice order is the rank.
type RetrievedItem struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]any
}

// SubQuery is one planned retrieval query. Filter keys are matched
// verbatim against chunk metadata; an empty filter searches everything.
type SubQuery struct {
	Query  string            `json:"query"`
	Filter map[string]string `json:"filter,omitempty"`
}

// Plan decomposes a user query into targeted sub-queries plus one query
// phrased for the memory index.
type Plan struct {
	SubQueries  []SubQuery `json:"sub_queries"`
	MemoryQuery string     `json:"memory_query"`
}

// Answer is the model's structured response. ChunkIndices reference
// positions in the knowledge list that accompanied the prompt, in the
// order it was presented; they are not persistent chunk IDs.
type Answer struct {
	Answer       string `json:"answer"`
	MemoryToSave string `json:"memory_to_save,omitempty"`
	ChunkIndices []int  `json:"chunk_indices"`
}

// Turn is one prior exchange in the conversation.
type Turn struct {
	Role    string
	Content string
}

// Result bundles everything one answer call produced: the structured
// answer, the knowledge list its indices refer to, and token usage
// summed over every model call made for the request.
type Result struct {
	Answer    Answer
	Knowledge []RetrievedItem
	Usage     llm.Usage
}
