package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/vecdex/vecdex/backend/mem"
	"github.com/vecdex/vecdex/vectordb"
)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithBasePath(t.TempDir()), WithLogf(t.Logf)}, opts...)
	svc, err := New(opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestService_StoreAndSearch(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	for chunk, embedding := range map[float64][]float32{
		10: {1, 0, 0, 0},
		11: {0, 1, 0, 0},
	} {
		err := svc.StoreEmbedding(ctx, &StoreEmbeddingRequest{
			ChunkID:   chunk,
			Embedding: embedding,
			Model:     "m1",
		})
		if err != nil {
			t.Fatalf("StoreEmbedding failed: %v", err)
		}
	}
	result, err := svc.Search(ctx, []float32{0.9, 0.1, 0, 0}, 1, WithModel("m1"))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.ChunkIDs) != 1 || result.ChunkIDs[0] != 10 {
		t.Fatalf("Search = %+v, want chunk 10", result)
	}
	want := math.Sqrt(0.01 + 0.01)
	if math.Abs(result.Distances[0]-want) > 1e-3 {
		t.Errorf("distance = %v, want ~%v", result.Distances[0], want)
	}
}

func TestService_SearchDefaultsToLastStoredModel(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	err := svc.StoreEmbedding(ctx, &StoreEmbeddingRequest{
		ChunkID:   1,
		Embedding: []float32{1, 0, 0, 0},
		Model:     "m1",
	})
	if err != nil {
		t.Fatalf("StoreEmbedding failed: %v", err)
	}
	result, err := svc.Search(ctx, []float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.ChunkIDs) != 1 || result.ChunkIDs[0] != 1 {
		t.Errorf("Search without model = %+v, want chunk 1", result)
	}
}

func TestService_SearchUnknownModelIsEmpty(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	// Nothing indexed for this model; the search degrades to an empty result.
	result, err := svc.Search(ctx, []float32{1, 0, 0, 0}, 5, WithModel("never-indexed"))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !result.Empty() {
		t.Errorf("unknown model search = %+v, want empty", result)
	}
	// No model resolvable at all behaves the same way.
	result, err = svc.Search(ctx, []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !result.Empty() {
		t.Errorf("model-less search = %+v, want empty", result)
	}
}

func TestService_SearchValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	if _, err := svc.Search(ctx, nil, 5); !vectordb.IsValidation(err) {
		t.Errorf("empty query: err = %v, want ValidationError", err)
	}
	if _, err := svc.Search(ctx, []float32{1, 2}, 5, WithModel("m1"), WithDimension(4)); !vectordb.IsValidation(err) {
		t.Errorf("dimension mismatch: err = %v, want ValidationError", err)
	}
}

func TestService_StoreValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	tests := []struct {
		name string
		req  *StoreEmbeddingRequest
	}{
		{"nil request", nil},
		{"no model", &StoreEmbeddingRequest{ChunkID: 1, Embedding: []float32{1}}},
		{"empty embedding", &StoreEmbeddingRequest{ChunkID: 1, Model: "m1"}},
		{"dimension mismatch", &StoreEmbeddingRequest{ChunkID: 1, Model: "m1", Embedding: []float32{1, 2}, Dimensions: 4}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := svc.StoreEmbedding(ctx, tc.req); !vectordb.IsValidation(err) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestService_FractionalChunkIDTruncated(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var logged []string
	logf := func(format string, args ...any) {
		mu.Lock()
		logged = append(logged, fmt.Sprintf(format, args...))
		mu.Unlock()
	}
	svc := newTestService(t, WithLogf(logf))
	err := svc.StoreEmbedding(ctx, &StoreEmbeddingRequest{
		ChunkID:   10.7,
		Embedding: []float32{1, 0, 0, 0},
		Model:     "m1",
	})
	if err != nil {
		t.Fatalf("StoreEmbedding failed: %v", err)
	}
	result, err := svc.Search(ctx, []float32{1, 0, 0, 0}, 1, WithModel("m1"))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.ChunkIDs) != 1 || result.ChunkIDs[0] != 10 {
		t.Errorf("Search = %+v, want truncated chunk 10", result)
	}
	mu.Lock()
	defer mu.Unlock()
	var found bool
	for _, line := range logged {
		if strings.Contains(line, "truncated") {
			found = true
		}
	}
	if !found {
		t.Error("fractional chunk id truncation was not logged")
	}
}

func TestService_DocumentIsolation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	err := svc.StoreEmbedding(ctx, &StoreEmbeddingRequest{
		ChunkID:    1,
		DocumentID: "doc-a",
		Embedding:  []float32{1, 0, 0, 0},
		Model:      "m1",
	})
	if err != nil {
		t.Fatalf("StoreEmbedding failed: %v", err)
	}
	result, err := svc.Search(ctx, []float32{1, 0, 0, 0}, 5, WithModel("m1"), WithDocumentID("doc-b"))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !result.Empty() {
		t.Errorf("doc-b search = %+v, want empty", result)
	}
	result, err = svc.Search(ctx, []float32{1, 0, 0, 0}, 5, WithModel("m1"), WithDocumentID("doc-a"))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.ChunkIDs) != 1 || result.ChunkIDs[0] != 1 {
		t.Errorf("doc-a search = %+v, want chunk 1", result)
	}
	// The corpus-wide index is a separate space from document-scoped ones.
	result, err = svc.Search(ctx, []float32{1, 0, 0, 0}, 5, WithModel("m1"))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !result.Empty() {
		t.Errorf("corpus search = %+v, want empty", result)
	}
}

func TestService_DeleteChunks(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	for chunk := float64(1); chunk <= 3; chunk++ {
		err := svc.StoreEmbedding(ctx, &StoreEmbeddingRequest{
			ChunkID:   chunk,
			Embedding: []float32{float32(chunk), 0, 0, 0},
			Model:     "m1",
		})
		if err != nil {
			t.Fatalf("StoreEmbedding failed: %v", err)
		}
	}
	deleted, err := svc.DeleteChunks(ctx, []int64{1, 3}, WithModel("m1"), WithDimension(4))
	if err != nil {
		t.Fatalf("DeleteChunks failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	stats, err := svc.GetIndexStats(ctx, WithModel("m1"), WithDimension(4))
	if err != nil {
		t.Fatalf("GetIndexStats failed: %v", err)
	}
	if stats.TotalVectors != 1 {
		t.Errorf("TotalVectors = %d, want 1", stats.TotalVectors)
	}
}

func TestService_DeleteDocumentIndex(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	err := svc.StoreEmbedding(ctx, &StoreEmbeddingRequest{
		ChunkID:    1,
		DocumentID: "doc-a",
		Embedding:  []float32{1, 0, 0, 0},
		Model:      "m1",
	})
	if err != nil {
		t.Fatalf("StoreEmbedding failed: %v", err)
	}
	if err := svc.DeleteDocumentIndex(ctx, "doc-a"); err != nil {
		t.Fatalf("DeleteDocumentIndex failed: %v", err)
	}
	result, err := svc.Search(ctx, []float32{1, 0, 0, 0}, 5, WithModel("m1"), WithDocumentID("doc-a"))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !result.Empty() {
		t.Errorf("search after delete = %+v, want empty", result)
	}
	if err := svc.DeleteDocumentIndex(ctx, ""); !vectordb.IsValidation(err) {
		t.Errorf("empty document id: err = %v, want ValidationError", err)
	}
}

func TestService_DeleteDocumentIndexScopedToOneDocument(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	svc, err := New(WithBasePath(base), WithLogf(t.Logf))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// One document id is a prefix of the other; deletion must only touch its own
	// index files.
	for _, doc := range []string{"a", "a_b"} {
		err := svc.StoreEmbedding(ctx, &StoreEmbeddingRequest{
			ChunkID:    1,
			DocumentID: doc,
			Embedding:  []float32{1, 0, 0, 0},
			Model:      "m1",
		})
		if err != nil {
			t.Fatalf("StoreEmbedding for %q failed: %v", doc, err)
		}
	}
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// A fresh service over the same base path sees only the files on disk.
	svc, err = New(WithBasePath(base), WithLogf(t.Logf))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	if err := svc.DeleteDocumentIndex(ctx, "a"); err != nil {
		t.Fatalf("DeleteDocumentIndex failed: %v", err)
	}
	result, err := svc.Search(ctx, []float32{1, 0, 0, 0}, 5,
		WithModel("m1"), WithDimension(4), WithDocumentID("a_b"))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.ChunkIDs) != 1 || result.ChunkIDs[0] != 1 {
		t.Errorf("document a_b search = %+v, want chunk 1 to survive deleting document a", result)
	}
	result, err = svc.Search(ctx, []float32{1, 0, 0, 0}, 5,
		WithModel("m1"), WithDimension(4), WithDocumentID("a"))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !result.Empty() {
		t.Errorf("document a search = %+v, want empty after deletion", result)
	}
}

func TestService_GetIndexStats(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	stats, err := svc.GetIndexStats(ctx, WithModel("m1"), WithDimension(4))
	if err != nil {
		t.Fatalf("GetIndexStats failed: %v", err)
	}
	if stats.IsInitialized || stats.TotalVectors != 0 {
		t.Errorf("stats for absent index = %+v", stats)
	}
	err = svc.StoreEmbedding(ctx, &StoreEmbeddingRequest{
		ChunkID:   1,
		Embedding: []float32{1, 0, 0, 0},
		Model:     "m1",
	})
	if err != nil {
		t.Fatalf("StoreEmbedding failed: %v", err)
	}
	stats, err = svc.GetIndexStats(ctx, WithModel("m1"), WithDimension(4))
	if err != nil {
		t.Fatalf("GetIndexStats failed: %v", err)
	}
	if !stats.IsInitialized || stats.TotalVectors != 1 {
		t.Errorf("stats after store = %+v", stats)
	}
}

func TestService_PoolReuse(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	for chunk := float64(1); chunk <= 3; chunk++ {
		err := svc.StoreEmbedding(ctx, &StoreEmbeddingRequest{
			ChunkID:   chunk,
			Embedding: []float32{float32(chunk), 0, 0, 0},
			Model:     "m1",
		})
		if err != nil {
			t.Fatalf("StoreEmbedding failed: %v", err)
		}
	}
	if size := svc.Pool().Size(); size != 1 {
		t.Errorf("pool size = %d, want 1 instance for one logical index", size)
	}
}

func TestService_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, WithFactory(mem.Factory), WithIndexExt(mem.Ext))
	err := svc.StoreEmbedding(ctx, &StoreEmbeddingRequest{
		ChunkID:   1,
		Embedding: []float32{0, 1, 0, 0},
		Model:     "m1",
	})
	if err != nil {
		t.Fatalf("StoreEmbedding failed: %v", err)
	}
	result, err := svc.Search(ctx, []float32{0, 1, 0, 0}, 1, WithModel("m1"))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.ChunkIDs) != 1 || result.ChunkIDs[0] != 1 {
		t.Errorf("Search = %+v, want chunk 1", result)
	}
	stats, err := svc.GetIndexStats(ctx, WithModel("m1"), WithDimension(4))
	if err != nil {
		t.Fatalf("GetIndexStats failed: %v", err)
	}
	if stats.IndexType != vectordb.IndexTypeMemory {
		t.Errorf("IndexType = %q, want %q", stats.IndexType, vectordb.IndexTypeMemory)
	}
}

func TestService_RequiresBasePath(t *testing.T) {
	if _, err := New(); !vectordb.IsValidation(err) {
		t.Errorf("New without base path: err = %v, want ValidationError", err)
	}
}
