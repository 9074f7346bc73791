// Package memory provides long-term semantic memory scoped to a user
// and session.
//
// Memories are short free-text facts the answer model asked to keep.
// They live in the shared document index under a per-user/session
// namespace, so retrieval is the same nearest-neighbor search used for
// knowledge chunks.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/sage0/sage/internal/index"
)

// EmbedTimeout bounds a single embedding call.
const EmbedTimeout = 15 * time.Second

// Index is the subset of the document index the memory store needs.
type Index interface {
	Upsert(ctx context.Context, rec index.Record) error
	Search(ctx context.Context, vec []float32, q index.Query) ([]index.Match, error)
}

// Memory is one stored fact about a user.
type Memory struct {
	ID        string
	Content   string
	Score     float64
	CreatedAt time.Time
}

// Store reads and writes memories for (user, session) scopes.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	idx      Index
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a memory Store.
func NewStore(idx Index, embedder ai.Embedder, logger *slog.Logger) (*Store, error) {
	if idx == nil {
		return nil, fmt.Errorf("index is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{idx: idx, embedder: embedder, logger: logger}, nil
}

// Namespace returns the index namespace for a user/session scope.
func Namespace(userID, sessionID string) string {
	return "memory:" + userID + ":" + sessionID
}

// Search returns up to topK memories similar to query for the given
// scope, highest similarity first. An empty query returns no memories.
func (s *Store) Search(ctx context.Context, query, userID, sessionID string, topK int) ([]Memory, error) {
	if query == "" || userID == "" {
		return []Memory{}, nil
	}
	if topK <= 0 {
		topK = 5
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding memory query: %w", err)
	}

	matches, err := s.idx.Search(ctx, vec, index.Query{
		Namespace: Namespace(userID, sessionID),
		TopK:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}

	memories := make([]Memory, 0, len(matches))
	for _, m := range matches {
		memories = append(memories, Memory{
			ID:        m.ID,
			Content:   m.Content,
			Score:     m.Score,
			CreatedAt: m.CreatedAt,
		})
	}
	return memories, nil
}

// Save stores a new memory in the given scope.
func (s *Store) Save(ctx context.Context, content, userID, sessionID string) error {
	if content == "" {
		return fmt.Errorf("memory content is required")
	}
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}

	vec, err := s.embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embedding memory: %w", err)
	}

	rec := index.Record{
		ID:        uuid.NewString(),
		Namespace: Namespace(userID, sessionID),
		Content:   content,
		Vector:    vec,
		Metadata: map[string]any{
			"user_id":    userID,
			"session_id": sessionID,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.idx.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("storing memory: %w", err)
	}

	s.logger.Debug("saved memory", "user_id", userID, "session_id", sessionID, "length", len(content))
	return nil
}

// embed generates a vector embedding for the given text.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	dim := int32(index.VectorDim)

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	resp, err := s.embedder.Embed(embedCtx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Embeddings[0].Embedding, nil
}
