package index

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sage0/sage/internal/log"
)

func testVector(fill float32) []float32 {
	v := make([]float32, VectorDim)
	for i := range v {
		v[i] = fill
	}
	return v
}

func TestUpsertValidation(t *testing.T) {
	s := &Store{logger: log.NewNop()}
	ctx := context.Background()

	tests := []struct {
		name string
		rec  Record
	}{
		{"missing id", Record{Namespace: "knowledge", Vector: testVector(1)}},
		{"missing namespace", Record{ID: "a", Vector: testVector(1)}},
		{"wrong dimension", Record{ID: "a", Namespace: "knowledge", Vector: []float32{1, 2, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Upsert(ctx, tt.rec); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestUpsertDimensionMismatch(t *testing.T) {
	s := &Store{logger: log.NewNop()}
	err := s.Upsert(context.Background(), Record{ID: "a", Namespace: "n", Vector: []float32{1}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}

func TestSearchValidation(t *testing.T) {
	s := &Store{logger: log.NewNop()}
	ctx := context.Background()

	if _, err := s.Search(ctx, []float32{1, 2}, Query{Namespace: "n"}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("short vector: error = %v, want ErrDimensionMismatch", err)
	}
	if _, err := s.Search(ctx, testVector(1), Query{}); err == nil {
		t.Error("missing namespace: expected error")
	}
}

func TestBuildSearchSQL(t *testing.T) {
	vec := testVector(0.5)

	t.Run("unfiltered", func(t *testing.T) {
		sql, args, err := buildSearchSQL(vec, Query{Namespace: "knowledge"}, 5)
		if err != nil {
			t.Fatalf("buildSearchSQL() error = %v", err)
		}
		if strings.Contains(sql, "@>") {
			t.Errorf("unfiltered query must not contain JSONB filter: %s", sql)
		}
		if strings.Contains(sql, ", embedding FROM") {
			t.Errorf("vectors must not be selected without IncludeVectors: %s", sql)
		}
		if len(args) != 3 {
			t.Errorf("got %d args, want 3", len(args))
		}
		if args[len(args)-1] != 5 {
			t.Errorf("limit arg = %v, want 5", args[len(args)-1])
		}
	})

	t.Run("filtered with vectors", func(t *testing.T) {
		q := Query{
			Namespace:      "knowledge",
			Filter:         map[string]any{"source": "notes.txt"},
			IncludeVectors: true,
		}
		sql, args, err := buildSearchSQL(vec, q, 20)
		if err != nil {
			t.Fatalf("buildSearchSQL() error = %v", err)
		}
		if !strings.Contains(sql, "metadata @> $3") {
			t.Errorf("filter clause missing or misnumbered: %s", sql)
		}
		if !strings.Contains(sql, ", embedding FROM") {
			t.Errorf("embedding column missing with IncludeVectors: %s", sql)
		}
		if !strings.Contains(sql, "LIMIT $4") {
			t.Errorf("limit placeholder misnumbered: %s", sql)
		}
		if len(args) != 4 {
			t.Errorf("got %d args, want 4", len(args))
		}
	})
}
