// Package ingest turns raw source text into linked, embedded,
// metadata-enriched chunks ready for the document index.
//
// The pipeline chunks the text, embeds every chunk in one batch call,
// extracts structured metadata concurrently per chunk when the caller
// supplies a schema, and links the chunks of a document into a
// doubly-linked chain in original order.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/sage0/sage/internal/chunk"
	"github.com/sage0/sage/internal/index"
	"github.com/sage0/sage/internal/llm"
)

var (
	// ErrUnsupportedSource indicates input that is not decodable text.
	ErrUnsupportedSource = errors.New("unsupported source type")

	// ErrExtraction indicates a failed metadata-extraction call. One
	// failed chunk fails the whole ingestion; partial results are never
	// returned.
	ErrExtraction = errors.New("metadata extraction failed")
)

// Chunk is one bounded slice of a source document with its embedding
// and neighbors. Chunks are immutable once produced.
type Chunk struct {
	ID        string
	Text      string
	Embedding []float32
	Source    string
	CreatedAt time.Time
	PrevID    string // empty for the first chunk of a document
	NextID    string // empty for the last chunk of a document
	Extracted map[string]any
}

// Extractor derives structured attributes from a chunk given a
// caller-supplied schema.
type Extractor interface {
	ExtractStructured(ctx context.Context, system, user string, schema *jsonschema.Schema) (map[string]any, llm.Usage, error)
}

// Index receives persisted chunks. Satisfied by *index.Store.
type Index interface {
	Upsert(ctx context.Context, rec index.Record) error
}

// KnowledgeNamespace is the index namespace ingested chunks land in.
const KnowledgeNamespace = "knowledge"

// Pipeline ingests documents. Configure with options; zero values fall
// back to the chunk package defaults, 8-way extraction concurrency, and
// 10 extraction calls per second.
type Pipeline struct {
	embedder    ai.Embedder
	extractor   Extractor
	idx         Index // nil = do not persist
	chunkSize   int
	overlap     int
	concurrency int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunking overrides the window size and overlap.
func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) {
		p.chunkSize = size
		p.overlap = overlap
	}
}

// WithIndex makes the pipeline persist every chunk to idx.
func WithIndex(idx Index) Option {
	return func(p *Pipeline) { p.idx = idx }
}

// WithConcurrency bounds how many metadata-extraction calls run at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n >= 1 {
			p.concurrency = n
		}
	}
}

// WithExtractionRate caps metadata-extraction calls per second across
// the whole pipeline.
func WithExtractionRate(perSecond float64) Option {
	return func(p *Pipeline) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(embedder ai.Embedder, extractor Extractor, opts ...Option) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	p := &Pipeline{
		embedder:    embedder,
		extractor:   extractor,
		chunkSize:   chunk.DefaultSize,
		overlap:     chunk.DefaultOverlap,
		concurrency: 8,
		limiter:     rate.NewLimiter(rate.Limit(10), 1),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ingest processes one document and returns its chunks in original
// order, linked into a single chain, plus the token usage of all
// metadata-extraction calls.
//
// A nil schema skips metadata extraction entirely. Any extraction
// failure aborts the whole ingestion; the caller never sees a partially
// enriched document.
func (p *Pipeline) Ingest(ctx context.Context, text, source string, schema *jsonschema.Schema, systemPrompt string) ([]Chunk, llm.Usage, error) {
	var usage llm.Usage

	normalized, err := normalizeSource(text)
	if err != nil {
		return nil, usage, err
	}

	pieces, err := chunk.Split(normalized, p.chunkSize, p.overlap)
	if err != nil {
		return nil, usage, err
	}
	if len(pieces) == 0 {
		return []Chunk{}, usage, nil
	}

	embeddings, err := p.embedBatch(ctx, pieces)
	if err != nil {
		return nil, usage, fmt.Errorf("embedding chunks: %w", err)
	}

	extracted := make([]map[string]any, len(pieces))
	if schema != nil {
		if p.extractor == nil {
			return nil, usage, fmt.Errorf("%w: no extractor configured", ErrExtraction)
		}
		usages := make([]llm.Usage, len(pieces))
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(p.concurrency)
		for i, piece := range pieces {
			eg.Go(func() error {
				if err := p.limiter.Wait(egCtx); err != nil {
					return err
				}
				attrs, u, err := p.extractor.ExtractStructured(egCtx, systemPrompt, piece, schema)
				if err != nil {
					return fmt.Errorf("chunk %d: %w", i, err)
				}
				extracted[i] = attrs
				usages[i] = u
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, usage, fmt.Errorf("%w: %w", ErrExtraction, err)
		}
		for _, u := range usages {
			usage.Add(u)
		}
	}

	chunks := p.assemble(pieces, embeddings, extracted, source)

	if p.idx != nil {
		if err := p.persist(ctx, chunks); err != nil {
			return nil, usage, err
		}
	}

	p.logger.Debug("ingested document",
		"source", source, "chunks", len(chunks), "extracted", schema != nil)
	return chunks, usage, nil
}

// embedBatch embeds all pieces in a single provider call, one vector
// per piece in input order. Per-chunk calls would serialize on network
// latency, so batching here is a requirement, not a tuning knob.
func (p *Pipeline) embedBatch(ctx context.Context, pieces []string) ([][]float32, error) {
	dim := int32(index.VectorDim)

	docs := make([]*ai.Document, len(pieces))
	for i, piece := range pieces {
		docs[i] = ai.DocumentFromText(piece, nil)
	}

	resp, err := p.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   docs,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(pieces) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Embeddings), len(pieces))
	}

	embeddings := make([][]float32, len(pieces))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding for chunk %d", i)
		}
		embeddings[i] = e.Embedding
	}
	return embeddings, nil
}

// assemble builds Chunk records and links them into a chain.
func (*Pipeline) assemble(pieces []string, embeddings [][]float32, extracted []map[string]any, source string) []Chunk {
	now := time.Now().UTC()

	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = Chunk{
			ID:        uuid.NewString(),
			Text:      piece,
			Embedding: embeddings[i],
			Source:    source,
			CreatedAt: now,
			Extracted: extracted[i],
		}
	}
	for i := range chunks {
		if i > 0 {
			chunks[i].PrevID = chunks[i-1].ID
		}
		if i < len(chunks)-1 {
			chunks[i].NextID = chunks[i+1].ID
		}
	}
	return chunks
}

// persist writes chunks to the index. Chain metadata rides along in the
// document metadata so neighbors can be walked after retrieval.
func (p *Pipeline) persist(ctx context.Context, chunks []Chunk) error {
	for _, c := range chunks {
		meta := map[string]any{
			"source": c.Source,
		}
		if c.PrevID != "" {
			meta["prev_id"] = c.PrevID
		}
		if c.NextID != "" {
			meta["next_id"] = c.NextID
		}
		for k, v := range c.Extracted {
			meta[k] = v
		}

		rec := index.Record{
			ID:        c.ID,
			Namespace: KnowledgeNamespace,
			Content:   c.Text,
			Vector:    c.Embedding,
			Metadata:  meta,
			CreatedAt: c.CreatedAt,
		}
		if err := p.idx.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("persisting chunk %q: %w", c.ID, err)
		}
	}
	return nil
}
