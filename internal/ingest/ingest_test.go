package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/sage0/sage/internal/index"
	"github.com/sage0/sage/internal/llm"
	"github.com/sage0/sage/internal/log"
	"github.com/sage0/sage/internal/testutil"
)

// mockExtractor returns fixed attributes and records concurrency.
type mockExtractor struct {
	mu       sync.Mutex
	calls    int
	inFlight int
	maxSeen  int
	err      error
	failOn   int // 1-based call number to fail on; 0 = never
}

func (m *mockExtractor) ExtractStructured(ctx context.Context, system, user string, schema *jsonschema.Schema) (map[string]any, llm.Usage, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.inFlight++
	if m.inFlight > m.maxSeen {
		m.maxSeen = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.err != nil && (m.failOn == 0 || call == m.failOn) {
		return nil, llm.Usage{}, m.err
	}
	return map[string]any{"topic": "testing"}, llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, nil
}

// mockIndex records upserted records.
type mockIndex struct {
	mu      sync.Mutex
	records []index.Record
	err     error
}

func (m *mockIndex) Upsert(_ context.Context, rec index.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func testSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	type attrs struct {
		Topic string `json:"topic"`
	}
	schema, err := jsonschema.For[attrs](nil)
	if err != nil {
		t.Fatalf("building schema: %v", err)
	}
	return schema
}

func newTestPipeline(t *testing.T, extractor Extractor, opts ...Option) (*Pipeline, *testutil.MockEmbedder) {
	t.Helper()
	embedder := testutil.NewMockEmbedder()
	opts = append([]Option{WithLogger(log.NewNop())}, opts...)
	p, err := NewPipeline(embedder, extractor, opts...)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return p, embedder
}

func TestIngestChunkingAndLinking(t *testing.T) {
	p, _ := newTestPipeline(t, nil, WithChunking(1000, 200))
	text := strings.Repeat("a", 2400)

	chunks, usage, err := p.Ingest(context.Background(), text, "doc.txt", nil, "")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if usage != (llm.Usage{}) {
		t.Errorf("usage = %+v, want zero without schema", usage)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}

	// Chain invariants: 0 -> 1 -> 2, no dangling ends.
	if chunks[0].PrevID != "" {
		t.Errorf("first chunk PrevID = %q, want empty", chunks[0].PrevID)
	}
	if chunks[len(chunks)-1].NextID != "" {
		t.Errorf("last chunk NextID = %q, want empty", chunks[len(chunks)-1].NextID)
	}
	for i := 0; i < len(chunks)-1; i++ {
		if chunks[i].NextID != chunks[i+1].ID {
			t.Errorf("chunk[%d].NextID = %q, want %q", i, chunks[i].NextID, chunks[i+1].ID)
		}
		if chunks[i+1].PrevID != chunks[i].ID {
			t.Errorf("chunk[%d].PrevID = %q, want %q", i+1, chunks[i+1].PrevID, chunks[i].ID)
		}
	}

	for i, c := range chunks {
		if c.Source != "doc.txt" {
			t.Errorf("chunk[%d].Source = %q", i, c.Source)
		}
		if len(c.Embedding) != index.VectorDim {
			t.Errorf("chunk[%d] embedding has %d dims", i, len(c.Embedding))
		}
	}
}

func TestIngestBatchesEmbeddings(t *testing.T) {
	p, embedder := newTestPipeline(t, nil, WithChunking(100, 20))

	_, _, err := p.Ingest(context.Background(), strings.Repeat("b", 500), "doc.txt", nil, "")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if got := embedder.Calls(); got != 1 {
		t.Errorf("embedder called %d times, want 1 batch call", got)
	}
	sizes := embedder.BatchSizes()
	if len(sizes) != 1 || sizes[0] < 2 {
		t.Errorf("batch sizes = %v, want one multi-document batch", sizes)
	}
}

func TestIngestExtractsMetadataPerChunk(t *testing.T) {
	extractor := &mockExtractor{}
	p, _ := newTestPipeline(t, extractor, WithChunking(100, 0), WithExtractionRate(1000))

	chunks, usage, err := p.Ingest(context.Background(), strings.Repeat("c", 300), "doc.txt", testSchema(t), "extract attributes")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if extractor.calls != 3 {
		t.Errorf("extractor called %d times, want 3", extractor.calls)
	}
	for i, c := range chunks {
		if c.Extracted["topic"] != "testing" {
			t.Errorf("chunk[%d].Extracted = %v", i, c.Extracted)
		}
	}

	want := llm.Usage{InputTokens: 30, OutputTokens: 15, TotalTokens: 45}
	if usage != want {
		t.Errorf("usage = %+v, want %+v", usage, want)
	}
}

func TestIngestNoSchemaSkipsExtraction(t *testing.T) {
	extractor := &mockExtractor{}
	p, _ := newTestPipeline(t, extractor)

	chunks, _, err := p.Ingest(context.Background(), "plain text", "doc.txt", nil, "")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if extractor.calls != 0 {
		t.Errorf("extractor called %d times, want 0", extractor.calls)
	}
	if chunks[0].Extracted != nil {
		t.Errorf("Extracted = %v, want nil", chunks[0].Extracted)
	}
}

func TestIngestExtractionFailureAbortsAll(t *testing.T) {
	extractor := &mockExtractor{err: errors.New("model unavailable"), failOn: 2}
	p, _ := newTestPipeline(t, extractor, WithChunking(100, 0), WithExtractionRate(1000))

	chunks, _, err := p.Ingest(context.Background(), strings.Repeat("d", 300), "doc.txt", testSchema(t), "")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("error = %v, want ErrExtraction", err)
	}
	if chunks != nil {
		t.Errorf("chunks = %v, want nil on failure", chunks)
	}
}

func TestIngestConcurrencyBound(t *testing.T) {
	extractor := &mockExtractor{}
	p, _ := newTestPipeline(t, extractor,
		WithChunking(10, 0), WithConcurrency(2), WithExtractionRate(100000))

	_, _, err := p.Ingest(context.Background(), strings.Repeat("e", 200), "doc.txt", testSchema(t), "")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if extractor.maxSeen > 2 {
		t.Errorf("observed %d concurrent extractions, limit is 2", extractor.maxSeen)
	}
}

func TestIngestUnsupportedSource(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	_, _, err := p.Ingest(context.Background(), string([]byte{0xff, 0xfe, 0x00, 0x01}), "blob.bin", nil, "")
	if !errors.Is(err, ErrUnsupportedSource) {
		t.Errorf("error = %v, want ErrUnsupportedSource", err)
	}
}

func TestIngestEmptyText(t *testing.T) {
	p, embedder := newTestPipeline(t, nil)

	chunks, _, err := p.Ingest(context.Background(), "", "empty.txt", nil, "")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(chunks))
	}
	if embedder.Calls() != 0 {
		t.Errorf("embedder called for empty input")
	}
}

func TestIngestPersistsToIndex(t *testing.T) {
	idx := &mockIndex{}
	p, _ := newTestPipeline(t, nil, WithChunking(100, 0), WithIndex(idx))

	chunks, _, err := p.Ingest(context.Background(), strings.Repeat("f", 250), "notes.md", nil, "")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(idx.records) != len(chunks) {
		t.Fatalf("persisted %d records, want %d", len(idx.records), len(chunks))
	}

	for i, rec := range idx.records {
		if rec.Namespace != KnowledgeNamespace {
			t.Errorf("record[%d].Namespace = %q", i, rec.Namespace)
		}
		if rec.Metadata["source"] != "notes.md" {
			t.Errorf("record[%d] missing source metadata: %v", i, rec.Metadata)
		}
	}
	// Middle chunk carries both chain pointers.
	mid := idx.records[1].Metadata
	if mid["prev_id"] != chunks[0].ID || mid["next_id"] != chunks[2].ID {
		t.Errorf("middle chunk chain metadata = %v", mid)
	}
}

func TestNormalizeSourceHTML(t *testing.T) {
	html := `<!DOCTYPE html><html><head><title>T</title></head><body>` +
		`<article><p>Go is a statically typed language built for simple, reliable software.</p>` +
		`<p>Its concurrency model is based on goroutines and channels.</p></article></body></html>`

	got, err := normalizeSource(html)
	if err != nil {
		t.Fatalf("normalizeSource() error = %v", err)
	}
	if !strings.Contains(got, "statically typed") {
		t.Errorf("extracted text missing article content: %q", got)
	}
	if strings.Contains(got, "<p>") {
		t.Errorf("extracted text still contains markup: %q", got)
	}
}

func TestNormalizeSourcePlainTextPassthrough(t *testing.T) {
	text := "just some text mentioning <code> inline"
	got, err := normalizeSource(text)
	if err != nil {
		t.Fatalf("normalizeSource() error = %v", err)
	}
	if got != text {
		t.Errorf("normalizeSource() = %q, want unchanged input", got)
	}
}
