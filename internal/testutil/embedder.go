// Package testutil provides shared testing utilities for the sage
// project: a deterministic mock embedder and a pgvector-enabled
// PostgreSQL test container.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/sage0/sage/internal/index"
)

// MockEmbedder implements ai.Embedder with deterministic output: the
// vector for a given text is derived from its hash, so equal texts get
// equal (unit-norm) vectors across runs.
//
// Thread-safe for concurrent use.
type MockEmbedder struct {
	mu        sync.Mutex
	calls     int
	batchLens []int
	err       error
}

// NewMockEmbedder creates a deterministic mock embedder.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{}
}

// FailWith makes every subsequent Embed call return err.
func (m *MockEmbedder) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how many Embed calls were made.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// BatchSizes reports the input sizes of each Embed call, in order.
func (m *MockEmbedder) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batchLens...)
}

// Name implements ai.Embedder.
func (*MockEmbedder) Name() string {
	return "mock/test-embedder"
}

// Register implements ai.Embedder.
func (*MockEmbedder) Register(api.Registry) {}

// Embed implements ai.Embedder. One embedding is returned per input
// document, in input order.
func (m *MockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.mu.Lock()
	m.calls++
	m.batchLens = append(m.batchLens, len(req.Input))
	err := m.err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		text := ""
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: DeterministicVector(text),
		})
	}
	return resp, nil
}

// DeterministicVector maps text to a unit-norm vector of index.VectorDim
// components seeded from the text's hash.
func DeterministicVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	seed := binary.BigEndian.Uint64(sum[:8])

	vec := make([]float32, index.VectorDim)
	var norm float64
	for i := range vec {
		// Simple LCG keeps components reproducible without global state.
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11))/float64(1<<52) - 1 // roughly [-1, 1)
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
