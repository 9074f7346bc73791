package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sage0/sage/internal/index"
	"github.com/sage0/sage/internal/log"
	"github.com/sage0/sage/internal/testutil"
)

type fakeIndex struct {
	mu       sync.Mutex
	upserts  []index.Record
	matches  []index.Match
	searches []index.Query
	err      error
}

func (f *fakeIndex) Upsert(_ context.Context, rec index.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, q index.Query) ([]index.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.searches = append(f.searches, q)
	return f.matches, nil
}

func newTestStore(t *testing.T, idx *fakeIndex) (*Store, *testutil.MockEmbedder) {
	t.Helper()
	embedder := testutil.NewMockEmbedder()
	s, err := NewStore(idx, embedder, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s, embedder
}

func TestNamespace(t *testing.T) {
	got := Namespace("alice", "s1")
	want := "memory:alice:s1"
	if got != want {
		t.Errorf("Namespace() = %q, want %q", got, want)
	}
}

func TestStoreSave(t *testing.T) {
	idx := &fakeIndex{}
	s, _ := newTestStore(t, idx)

	if err := s.Save(context.Background(), "prefers concise answers", "alice", "s1"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if len(idx.upserts) != 1 {
		t.Fatalf("got %d upserts, want 1", len(idx.upserts))
	}
	rec := idx.upserts[0]
	if rec.Namespace != "memory:alice:s1" {
		t.Errorf("Namespace = %q", rec.Namespace)
	}
	if rec.Content != "prefers concise answers" {
		t.Errorf("Content = %q", rec.Content)
	}
	if rec.ID == "" {
		t.Error("ID is empty")
	}
	if len(rec.Vector) != index.VectorDim {
		t.Errorf("vector has %d dims, want %d", len(rec.Vector), index.VectorDim)
	}
	if rec.Metadata["user_id"] != "alice" || rec.Metadata["session_id"] != "s1" {
		t.Errorf("metadata = %v", rec.Metadata)
	}
}

func TestStoreSaveValidation(t *testing.T) {
	idx := &fakeIndex{}
	s, embedder := newTestStore(t, idx)

	if err := s.Save(context.Background(), "", "alice", "s1"); err == nil {
		t.Error("Save() with empty content returned nil error")
	}
	if err := s.Save(context.Background(), "fact", "", "s1"); err == nil {
		t.Error("Save() with empty user returned nil error")
	}
	if embedder.Calls() != 0 {
		t.Errorf("embedder called %d times for invalid input", embedder.Calls())
	}
}

func TestStoreSearch(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	idx := &fakeIndex{matches: []index.Match{
		{ID: "m1", Content: "likes Go", Score: 0.91, CreatedAt: created},
		{ID: "m2", Content: "works at night", Score: 0.72, CreatedAt: created},
	}}
	s, _ := newTestStore(t, idx)

	got, err := s.Search(context.Background(), "what do I like?", "alice", "s1", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d memories, want 2", len(got))
	}
	if got[0].ID != "m1" || got[0].Score != 0.91 || got[0].Content != "likes Go" {
		t.Errorf("first memory = %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v", got[0].CreatedAt)
	}

	if len(idx.searches) != 1 {
		t.Fatalf("got %d index searches, want 1", len(idx.searches))
	}
	q := idx.searches[0]
	if q.Namespace != "memory:alice:s1" {
		t.Errorf("search namespace = %q", q.Namespace)
	}
	if q.TopK != 3 {
		t.Errorf("search topK = %d, want 3", q.TopK)
	}
}

func TestStoreSearchEmptyQuery(t *testing.T) {
	idx := &fakeIndex{}
	s, embedder := newTestStore(t, idx)

	got, err := s.Search(context.Background(), "", "alice", "s1", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d memories, want 0", len(got))
	}
	if embedder.Calls() != 0 {
		t.Error("embedder called for empty query")
	}
}

func TestStoreSearchDefaultTopK(t *testing.T) {
	idx := &fakeIndex{}
	s, _ := newTestStore(t, idx)

	if _, err := s.Search(context.Background(), "anything", "alice", "s1", 0); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if idx.searches[0].TopK != 5 {
		t.Errorf("topK = %d, want default 5", idx.searches[0].TopK)
	}
}

func TestStoreEmbedFailure(t *testing.T) {
	idx := &fakeIndex{}
	s, embedder := newTestStore(t, idx)
	embedder.FailWith(errors.New("quota exceeded"))

	if err := s.Save(context.Background(), "fact", "alice", "s1"); err == nil {
		t.Error("Save() returned nil after embed failure")
	}
	if len(idx.upserts) != 0 {
		t.Error("record stored despite embed failure")
	}
	if _, err := s.Search(context.Background(), "query", "alice", "s1", 5); err == nil {
		t.Error("Search() returned nil after embed failure")
	}
}
