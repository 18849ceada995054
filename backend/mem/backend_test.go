package mem

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/viant/bintly"

	"github.com/vecdex/vecdex/backend"
	"github.com/vecdex/vecdex/vectordb"
)

func newTestBackend(t *testing.T, cfg *backend.Config) *Backend {
	t.Helper()
	if cfg == nil {
		cfg = &backend.Config{BasePath: t.TempDir(), ModelName: "m1", Dimension: 4, Logf: t.Logf}
	}
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return b
}

func TestBackend_AddSearch(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)
	err := b.AddVectors(ctx, []int64{10, 11}, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})
	if err != nil {
		t.Fatalf("AddVectors failed: %v", err)
	}
	result, err := b.Search(ctx, []float32{0.9, 0.1, 0, 0}, 1)
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

func TestBackend_SearchThresholdAndClamp(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)
	err := b.AddVectors(ctx, []int64{1, 2, 3},
		[][]float32{{0, 0, 0, 1}, {0, 0, 0, 2}, {0, 0, 0, 9}})
	if err != nil {
		t.Fatalf("AddVectors failed: %v", err)
	}
	result, err := b.Search(ctx, []float32{0, 0, 0, 0}, 10, backend.WithDistanceThreshold(3))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.ChunkIDs) != 2 {
		t.Fatalf("threshold search returned %d results, want 2", len(result.ChunkIDs))
	}
	if result.ChunkIDs[0] != 1 || result.ChunkIDs[1] != 2 {
		t.Errorf("threshold search order = %v, want [1 2]", result.ChunkIDs)
	}
	result, err = b.Search(ctx, []float32{0, 0, 0, 0}, 100)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.ChunkIDs) != 3 {
		t.Errorf("k=100 returned %d results, want 3", len(result.ChunkIDs))
	}
}

func TestBackend_SearchValidation(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)
	if _, err := b.Search(ctx, nil, 5); !vectordb.IsValidation(err) {
		t.Errorf("empty query: err = %v, want ValidationError", err)
	}
	if _, err := b.Search(ctx, []float32{1, 2}, 5); !vectordb.IsValidation(err) {
		t.Errorf("short query: err = %v, want ValidationError", err)
	}
	result, err := b.Search(ctx, []float32{0, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search on empty index failed: %v", err)
	}
	if !result.Empty() {
		t.Errorf("empty index search = %+v, want empty", result)
	}
}

func TestBackend_DeleteByChunkIDs(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)
	err := b.AddVectors(ctx, []int64{7, 7, 8},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}})
	if err != nil {
		t.Fatalf("AddVectors failed: %v", err)
	}
	deleted, err := b.DeleteByChunkIDs(ctx, []int64{7})
	if err != nil {
		t.Fatalf("DeleteByChunkIDs failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	stats, err := b.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalVectors != 1 {
		t.Errorf("TotalVectors = %d, want 1", stats.TotalVectors)
	}
}

func TestBackend_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	cfg := &backend.Config{BasePath: base, ModelName: "m1", Dimension: 4, Logf: t.Logf}
	b := newTestBackend(t, cfg)
	err := b.AddVectors(ctx, []int64{1, 2}, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})
	if err != nil {
		t.Fatalf("AddVectors failed: %v", err)
	}
	if err := b.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	// A fresh instance over the same base path reloads the snapshot.
	reopened := newTestBackend(t, cfg)
	stats, err := reopened.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalVectors != 2 {
		t.Fatalf("TotalVectors after reload = %d, want 2", stats.TotalVectors)
	}
	result, err := reopened.Search(ctx, []float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.ChunkIDs) != 1 || result.ChunkIDs[0] != 1 {
		t.Errorf("Search after reload = %+v, want chunk 1", result)
	}
}

func TestBackend_BackupRestore(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	b := newTestBackend(t, &backend.Config{BasePath: base, ModelName: "m1", Dimension: 4, Logf: t.Logf})
	err := b.AddVectors(ctx, []int64{5}, [][]float32{{0, 0, 1, 0}})
	if err != nil {
		t.Fatalf("AddVectors failed: %v", err)
	}
	backupPath := base + "/backup.bin"
	if err := b.BackupIndex(ctx, backupPath); err != nil {
		t.Fatalf("BackupIndex failed: %v", err)
	}
	if err := b.ResetIndex(ctx); err != nil {
		t.Fatalf("ResetIndex failed: %v", err)
	}
	if err := b.RestoreIndex(ctx, backupPath); err != nil {
		t.Fatalf("RestoreIndex failed: %v", err)
	}
	stats, err := b.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalVectors != 1 {
		t.Errorf("TotalVectors after restore = %d, want 1", stats.TotalVectors)
	}
	if err := b.RestoreIndex(ctx, base+"/missing.bin"); !vectordb.IsNotFound(err) {
		t.Errorf("restore from absent file: err = %v, want NotFoundError", err)
	}
}

func TestBackend_DocumentIndexLifecycle(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	cfg := &backend.Config{BasePath: base, ModelName: "m1", Dimension: 4, DocumentID: "doc-1", Logf: t.Logf}
	b := newTestBackend(t, cfg)
	err := b.AddVectors(ctx, []int64{1}, [][]float32{{1, 0, 0, 0}})
	if err != nil {
		t.Fatalf("AddVectors failed: %v", err)
	}
	if err := b.SaveIndex(ctx); err != nil {
		t.Fatalf("SaveIndex failed: %v", err)
	}
	exists, err := b.DocumentIndexExists(ctx, "doc-1")
	if err != nil {
		t.Fatalf("DocumentIndexExists failed: %v", err)
	}
	if !exists {
		t.Fatal("document index missing after save")
	}
	if err := b.DeleteDocumentIndex(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteDocumentIndex failed: %v", err)
	}
	exists, err = b.DocumentIndexExists(ctx, "doc-1")
	if err != nil {
		t.Fatalf("DocumentIndexExists failed: %v", err)
	}
	if exists {
		t.Error("document index still present after delete")
	}
}

func TestBackend_DocumentSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	// The ids differ only in a character that sanitization collapses; the
	// snapshots must still live in separate files.
	cfgDot := &backend.Config{BasePath: base, ModelName: "m1", Dimension: 4, DocumentID: "a.b", Logf: t.Logf}
	cfgUnderscore := &backend.Config{BasePath: base, ModelName: "m1", Dimension: 4, DocumentID: "a_b", Logf: t.Logf}
	docDot := newTestBackend(t, cfgDot)
	docUnderscore := newTestBackend(t, cfgUnderscore)
	if err := docDot.AddVectors(ctx, []int64{1}, [][]float32{{1, 0, 0, 0}}); err != nil {
		t.Fatalf("AddVectors failed: %v", err)
	}
	if err := docUnderscore.AddVectors(ctx, []int64{2}, [][]float32{{0, 1, 0, 0}}); err != nil {
		t.Fatalf("AddVectors failed: %v", err)
	}
	if err := docDot.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if err := docUnderscore.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	reopened := newTestBackend(t, cfgDot)
	result, err := reopened.Search(ctx, []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.ChunkIDs) != 1 || result.ChunkIDs[0] != 1 {
		t.Errorf("document a.b reloaded %+v, want only chunk 1", result)
	}
}

func TestBackend_ConcurrentSearchAndReconfigure(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	b := newTestBackend(t, &backend.Config{BasePath: base, ModelName: "m1", Dimension: 4, Logf: t.Logf})
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := b.Search(ctx, []float32{1, 0, 0, 0}, 1); err != nil {
				t.Errorf("Search failed: %v", err)
				return
			}
			if _, err := b.DocumentIndexExists(ctx, "doc-1"); err != nil {
				t.Errorf("DocumentIndexExists failed: %v", err)
				return
			}
		}
	}()
	// Reconfiguring swaps b.cfg; concurrent readers must observe a consistent
	// view.
	for i := 0; i < 5; i++ {
		cfg := &backend.Config{BasePath: base, ModelName: fmt.Sprintf("m%d", i+2), Dimension: 4, Logf: t.Logf}
		if _, err := b.CreateIndex(ctx, cfg); err != nil {
			t.Fatalf("CreateIndex failed: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestSnapshot_RoundTrip(t *testing.T) {
	original := &snapshot{
		dimension: 3,
		chunkIDs:  []int64{1, 2, 42},
		vectors:   [][]float32{{1, 2, 3}, {0, 0, 0}, {-1, 0.5, 9}},
	}
	writers := bintly.NewWriters()
	writer := writers.Get()
	defer writers.Put(writer)
	if err := original.EncodeBinary(writer); err != nil {
		t.Fatalf("EncodeBinary failed: %v", err)
	}
	decoded := &snapshot{}
	if err := decoded.decode(writer.Bytes()); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.dimension != original.dimension {
		t.Errorf("dimension = %d, want %d", decoded.dimension, original.dimension)
	}
	if len(decoded.chunkIDs) != len(original.chunkIDs) {
		t.Fatalf("chunk count = %d, want %d", len(decoded.chunkIDs), len(original.chunkIDs))
	}
	for i := range original.chunkIDs {
		if decoded.chunkIDs[i] != original.chunkIDs[i] {
			t.Errorf("chunkIDs[%d] = %d, want %d", i, decoded.chunkIDs[i], original.chunkIDs[i])
		}
		for j := range original.vectors[i] {
			if decoded.vectors[i][j] != original.vectors[i][j] {
				t.Errorf("vectors[%d][%d] = %v, want %v", i, j, decoded.vectors[i][j], original.vectors[i][j])
			}
		}
	}
}

func TestSnapshot_EncodeRejectsBadVector(t *testing.T) {
	bad := &snapshot{dimension: 3, chunkIDs: []int64{1}, vectors: [][]float32{{1, 2}}}
	writers := bintly.NewWriters()
	writer := writers.Get()
	defer writers.Put(writer)
	if err := bad.EncodeBinary(writer); err == nil {
		t.Error("EncodeBinary accepted a vector narrower than the dimension")
	}
}
