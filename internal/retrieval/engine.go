// Package retrieval orchestrates answering a user query: it fans out
// concurrent searches over the memory and knowledge indices, re-ranks
// knowledge candidates for diversity, assembles a grounded prompt, and
// asks the model for a structured answer with citations.
//
// Two modes exist. Quick mode runs one knowledge search alongside one
// memory search. Detailed mode first asks the model to decompose the
// question into sub-queries, then fans out one search per sub-query and
// deduplicates the combined results.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/sage0/sage/internal/index"
	"github.com/sage0/sage/internal/ingest"
	"github.com/sage0/sage/internal/memory"
	"github.com/sage0/sage/internal/mmr"
)

// Retrieval defaults. Over-fetching gives the diversity re-ranker real
// choice beyond the final k.
const (
	QuickTopK       = 5
	SubQueryTopK    = 2
	MemoryTopK      = 5
	OverfetchFactor = 4
	DefaultLambda   = 0.7

	memorySaveTimeout = 30 * time.Second
	memoryPoolSize    = 4
)

var tracer = otel.Tracer("github.com/sage0/sage/internal/retrieval")

// Index is the subset of the document index the engine reads.
type Index interface {
	Search(ctx context.Context, vec []float32, q index.Query) ([]index.Match, error)
}

// MemoryStore recalls and stores per-user facts.
type MemoryStore interface {
	Search(ctx context.Context, query, userID, sessionID string, topK int) ([]memory.Memory, error)
	Save(ctx context.Context, content, userID, sessionID string) error
}

// Engine answers queries against the knowledge and memory indices.
//
// Engine is safe for concurrent use; memory writes run on an internal
// worker pool so an answer never waits on them.
type Engine struct {
	model    ModelCaller
	embedder ai.Embedder
	idx      Index
	memories MemoryStore
	pool     *ants.Pool
	lambda   float64
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLambda sets the relevance/diversity trade-off used when re-ranking
// knowledge candidates.
func WithLambda(lambda float64) Option {
	return func(e *Engine) { e.lambda = lambda }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a retrieval engine. Call Close when done to drain
// the background memory-write pool.
func NewEngine(model ModelCaller, embedder ai.Embedder, idx Index, memories MemoryStore, opts ...Option) (*Engine, error) {
	if model == nil {
		return nil, fmt.Errorf("model caller is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if idx == nil {
		return nil, fmt.Errorf("index is required")
	}
	if memories == nil {
		return nil, fmt.Errorf("memory store is required")
	}

	pool, err := ants.NewPool(memoryPoolSize)
	if err != nil {
		return nil, fmt.Errorf("creating memory-write pool: %w", err)
	}

	e := &Engine{
		model:    model,
		embedder: embedder,
		idx:      idx,
		memories: memories,
		pool:     pool,
		lambda:   DefaultLambda,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close drains in-flight memory writes and releases the worker pool.
func (e *Engine) Close() error {
	return e.pool.ReleaseTimeout(memorySaveTimeout)
}

// AnswerQuick answers with a single knowledge search. The memory and
// knowledge searches run concurrently and are joined before the prompt
// is assembled.
func (e *Engine) AnswerQuick(ctx context.Context, query, userID, sessionID string, history []Turn) (*Result, error) {
	ctx, span := tracer.Start(ctx, "retrieval.AnswerQuick")
	defer span.End()

	var (
		memories  []memory.Memory
		knowledge []RetrievedItem
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		memories, err = e.memories.Search(egCtx, query, userID, sessionID, MemoryTopK)
		return err
	})
	eg.Go(func() error {
		var err error
		knowledge, err = e.searchKnowledge(egCtx, query, QuickTopK, nil)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	span.SetAttributes(
		attribute.Int("retrieval.memories", len(memories)),
		attribute.Int("retrieval.knowledge", len(knowledge)),
	)

	answer, usage, err := e.model.Answer(ctx, answerSystemPrompt,
		buildAnswerPrompt(query, memories, knowledge, history))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	e.saveMemory(ctx, answer.MemoryToSave, userID, sessionID)
	return &Result{Answer: answer, Knowledge: knowledge, Usage: usage}, nil
}

// AnswerDetailed answers by first planning sub-queries, then fanning out
// one memory search plus one knowledge search per sub-query. All
// searches launch together; results are deduplicated by chunk ID with
// first occurrence winning before the model sees them.
//
// Token usage in the result sums the planner and answer calls.
func (e *Engine) AnswerDetailed(ctx context.Context, query, userID, sessionID string, history []Turn, meta map[string]string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "retrieval.AnswerDetailed")
	defer span.End()

	plan, planUsage, err := e.model.Plan(ctx, planSystemPrompt, buildPlanPrompt(query, meta))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlanning, err)
	}
	span.SetAttributes(attribute.Int("retrieval.sub_queries", len(plan.SubQueries)))

	var memories []memory.Memory
	perQuery := make([][]RetrievedItem, len(plan.SubQueries))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		memories, err = e.memories.Search(egCtx, plan.MemoryQuery, userID, sessionID, MemoryTopK)
		return err
	})
	for i, sq := range plan.SubQueries {
		eg.Go(func() error {
			var err error
			perQuery[i], err = e.searchKnowledge(egCtx, sq.Query, SubQueryTopK, metadataFilter(sq.Filter))
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	knowledge := dedupe(perQuery)
	span.SetAttributes(
		attribute.Int("retrieval.memories", len(memories)),
		attribute.Int("retrieval.knowledge", len(knowledge)),
	)

	answer, answerUsage, err := e.model.Answer(ctx, answerSystemPrompt,
		buildAnswerPrompt(query, memories, knowledge, history))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	usage := planUsage
	usage.Add(answerUsage)

	e.saveMemory(ctx, answer.MemoryToSave, userID, sessionID)
	return &Result{Answer: answer, Knowledge: knowledge, Usage: usage}, nil
}

// searchKnowledge embeds the query, over-fetches nearest neighbors with
// their vectors, and re-ranks them for diversity. Returned items keep
// their original similarity scores; position is the diversity rank.
func (e *Engine) searchKnowledge(ctx context.Context, query string, k int, filter map[string]any) ([]RetrievedItem, error) {
	vec, err := e.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := e.idx.Search(ctx, vec, index.Query{
		Namespace:      ingest.KnowledgeNamespace,
		TopK:           k * OverfetchFactor,
		Filter:         filter,
		IncludeVectors: true,
	})
	if err != nil {
		return nil, fmt.Errorf("searching knowledge: %w", err)
	}
	if len(matches) == 0 {
		return []RetrievedItem{}, nil
	}

	candidates := make([][]float32, len(matches))
	for i, m := range matches {
		candidates[i] = m.Vector
	}
	order, err := mmr.Select(vec, candidates, k, e.lambda)
	if err != nil {
		return nil, fmt.Errorf("re-ranking knowledge: %w", err)
	}

	items := make([]RetrievedItem, 0, len(order))
	for _, idx := range order {
		m := matches[idx]
		items = append(items, RetrievedItem{
			ID:       m.ID,
			Score:    m.Score,
			Text:     m.Content,
			Metadata: m.Metadata,
		})
	}
	return items, nil
}

// dedupe merges per-query result lists by chunk ID. The first
// occurrence wins and insertion order is preserved, so a chunk found by
// two sub-queries is presented and cited once.
func dedupe(lists [][]RetrievedItem) []RetrievedItem {
	seen := make(map[string]struct{})
	var merged []RetrievedItem
	for _, list := range lists {
		for _, item := range list {
			if _, ok := seen[item.ID]; ok {
				continue
			}
			seen[item.ID] = struct{}{}
			merged = append(merged, item)
		}
	}
	if merged == nil {
		return []RetrievedItem{}
	}
	return merged
}

// saveMemory schedules a best-effort memory write. A failed write is
// logged, never surfaced to the caller. Nothing is written once the
// request context has been cancelled.
func (e *Engine) saveMemory(ctx context.Context, content, userID, sessionID string) {
	if content == "" || ctx.Err() != nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), memorySaveTimeout)
	err := e.pool.Submit(func() {
		defer cancel()
		if err := e.memories.Save(saveCtx, content, userID, sessionID); err != nil {
			e.logger.Warn("memory save failed", "user_id", userID, "error", err)
		}
	})
	if err != nil {
		cancel()
		e.logger.Warn("memory save not scheduled", "user_id", userID, "error", err)
	}
}

func metadataFilter(filter map[string]string) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		out[k] = v
	}
	return out
}

// embed generates a query vector.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	dim := int32(index.VectorDim)
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
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
