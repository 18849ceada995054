// Package mem implements a pure in-memory vector index strategy. It serves
// environments where no SQLite file can be used; snapshots persist through a
// bintly-encoded index file under the shared base-path layout.
package mem

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"math"
	"sort"
	"sync"

	"github.com/viant/bintly"

	"github.com/vecdex/vecdex/backend"
	"github.com/vecdex/vecdex/vectordb"
)

// Ext is the snapshot file extension used under <base>/models and
// <base>/documents.
const Ext = "bin"

// ErrNotInitialized is returned when an operation runs before Initialize.
var ErrNotInitialized = errors.New("mem: backend not initialized")

// Backend is the in-memory Strategy.
type Backend struct {
	base *backend.Base
	cfg  backend.Config
	logf func(format string, args ...any)

	mu          sync.RWMutex
	chunkIDs    []int64
	vectors     [][]float32
	path        string
	initialized bool
}

// New creates an unopened in-memory Backend for cfg.
func New(cfg *backend.Config) (*Backend, error) {
	if cfg == nil {
		return nil, vectordb.NewValidationError("config", "nil")
	}
	if cfg.BasePath == "" {
		return nil, vectordb.NewValidationError("base path", "empty")
	}
	if cfg.ModelName == "" {
		return nil, vectordb.NewValidationError("model name", "empty")
	}
	if cfg.Dimension <= 0 {
		return nil, vectordb.NewValidationError("dimension", "%d is not positive", cfg.Dimension)
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Backend{base: backend.NewBase(cfg.BasePath, Ext), cfg: *cfg, logf: logf}, nil
}

// Factory is the backend.Factory for in-memory indexes.
func Factory(cfg *backend.Config) (backend.Strategy, error) {
	return New(cfg)
}

// Initialize loads a previous snapshot when one exists, otherwise starts
// empty.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initLocked(ctx, true)
}

// CreateIndex initializes the index for cfg and returns its snapshot path.
func (b *Backend) CreateIndex(ctx context.Context, cfg *backend.Config) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.reconfigureLocked(cfg); err != nil {
		return "", err
	}
	if err := b.initLocked(ctx, true); err != nil {
		return "", err
	}
	return b.path, nil
}

// LoadIndex opens an existing snapshot for cfg.
func (b *Backend) LoadIndex(ctx context.Context, cfg *backend.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.reconfigureLocked(cfg); err != nil {
		return err
	}
	return b.initLocked(ctx, false)
}

// SaveIndex writes the current snapshot to the index path.
func (b *Backend) SaveIndex(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}
	return b.persistLocked(ctx)
}

// AddVectors stores (chunkID, vector) pairs after validating every vector, so
// a dimension mismatch is never partially applied.
func (b *Backend) AddVectors(ctx context.Context, chunkIDs []int64, vectors [][]float32) error {
	if len(chunkIDs) != len(vectors) {
		return vectordb.NewValidationError("chunk ids", "%d ids for %d vectors", len(chunkIDs), len(vectors))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return vectordb.NewValidationError("embedding", "empty vector for chunk %d", chunkIDs[i])
		}
		if len(v) != b.cfg.Dimension {
			return vectordb.NewValidationError("embedding", "length %d does not match dimension %d", len(v), b.cfg.Dimension)
		}
	}
	for i := range vectors {
		copied := make([]float32, len(vectors[i]))
		copy(copied, vectors[i])
		b.chunkIDs = append(b.chunkIDs, chunkIDs[i])
		b.vectors = append(b.vectors, copied)
	}
	return nil
}

// Search scans every stored vector and returns the k nearest by L2 distance.
func (b *Backend) Search(ctx context.Context, query []float32, k int, opts ...backend.SearchOption) (*vectordb.SearchResult, error) {
	if len(query) == 0 {
		return nil, vectordb.NewValidationError("query vector", "empty")
	}
	options := backend.NewSearchOptions(opts...)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.initialized {
		return nil, ErrNotInitialized
	}
	if len(query) != b.cfg.Dimension {
		return nil, vectordb.NewValidationError("query vector", "length %d does not match dimension %d", len(query), b.cfg.Dimension)
	}
	if len(b.vectors) == 0 {
		return &vectordb.SearchResult{}, nil
	}
	if k <= 0 {
		k = 10
	}
	if k > len(b.vectors) {
		k = len(b.vectors)
	}
	type scored struct {
		chunkID  int64
		distance float64
	}
	candidates := make([]scored, 0, len(b.vectors))
	for i, v := range b.vectors {
		d := l2(query, v)
		if options.Threshold != nil && d > *options.Threshold {
			continue
		}
		candidates = append(candidates, scored{chunkID: b.chunkIDs[i], distance: d})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	if k > len(candidates) {
		k = len(candidates)
	}
	result := &vectordb.SearchResult{
		ChunkIDs:  make([]int64, k),
		Distances: make([]float64, k),
		Indices:   make([]int, k),
	}
	for i := 0; i < k; i++ {
		result.ChunkIDs[i] = candidates[i].chunkID
		result.Distances[i] = candidates[i].distance
		result.Indices[i] = i
	}
	return result, nil
}

// DeleteByChunkIDs removes stored vectors for the given ids and reports how
// many existed.
func (b *Backend) DeleteByChunkIDs(ctx context.Context, chunkIDs []int64) (int64, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}
	drop := make(map[int64]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		drop[id] = true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return 0, ErrNotInitialized
	}
	var deleted int64
	keptIDs := b.chunkIDs[:0]
	keptVectors := b.vectors[:0]
	for i, id := range b.chunkIDs {
		if drop[id] {
			deleted++
			continue
		}
		keptIDs = append(keptIDs, id)
		keptVectors = append(keptVectors, b.vectors[i])
	}
	b.chunkIDs = keptIDs
	b.vectors = keptVectors
	return deleted, nil
}

// Stats reports the current index state.
func (b *Backend) Stats(ctx context.Context) (*vectordb.IndexStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := &vectordb.IndexStats{
		Dimension:    b.cfg.Dimension,
		CurrentModel: b.cfg.ModelName,
	}
	if !b.initialized {
		return stats, nil
	}
	stats.TotalVectors = int64(len(b.vectors))
	stats.IndexType = vectordb.IndexTypeMemory
	stats.IsInitialized = true
	return stats, nil
}

// ResetIndex drops every stored vector but keeps the index live.
func (b *Backend) ResetIndex(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}
	b.chunkIDs = nil
	b.vectors = nil
	return nil
}

// OptimizeIndex re-persists the snapshot; in-memory scans need no compaction.
func (b *Backend) OptimizeIndex(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}
	return b.persistLocked(ctx)
}

// BackupIndex writes the current snapshot to path.
func (b *Backend) BackupIndex(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}
	payload, err := b.encodeLocked()
	if err != nil {
		return err
	}
	return b.base.Upload(ctx, path, bytes.NewReader(payload))
}

// RestoreIndex replaces the in-memory state from a snapshot at path.
func (b *Backend) RestoreIndex(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok, err := b.base.Exists(ctx, path); err != nil {
		return err
	} else if !ok {
		return &vectordb.NotFoundError{Kind: "backup file", Name: path}
	}
	if err := b.loadSnapshotLocked(ctx, path); err != nil {
		return err
	}
	b.initialized = true
	return b.persistLocked(ctx)
}

// Cleanup persists the snapshot and releases the in-memory state.
func (b *Backend) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	err := b.persistLocked(ctx)
	b.chunkIDs = nil
	b.vectors = nil
	b.initialized = false
	return err
}

// DocumentIndexExists reports whether a per-document snapshot exists for
// documentID in this vector space.
func (b *Backend) DocumentIndexExists(ctx context.Context, documentID string) (bool, error) {
	if documentID == "" {
		return false, vectordb.NewValidationError("document id", "empty")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.base.Exists(ctx, b.base.DocumentIndexPath(documentID, b.cfg.ModelName, b.cfg.Dimension))
}

// DeleteDocumentIndex removes the per-document snapshot for documentID.
func (b *Backend) DeleteDocumentIndex(ctx context.Context, documentID string) error {
	if documentID == "" {
		return vectordb.NewValidationError("document id", "empty")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if documentID == b.cfg.DocumentID {
		b.chunkIDs = nil
		b.vectors = nil
		b.initialized = false
	}
	return b.base.Remove(ctx, b.base.DocumentIndexPath(documentID, b.cfg.ModelName, b.cfg.Dimension))
}

func (b *Backend) reconfigureLocked(cfg *backend.Config) error {
	if cfg == nil {
		return nil
	}
	replacement, err := New(cfg)
	if err != nil {
		return err
	}
	b.base = replacement.base
	b.cfg = replacement.cfg
	b.logf = replacement.logf
	b.chunkIDs = nil
	b.vectors = nil
	b.initialized = false
	return nil
}

func (b *Backend) initLocked(ctx context.Context, create bool) error {
	if b.initialized {
		return nil
	}
	path := b.base.IndexPath(b.cfg.DocumentID, b.cfg.ModelName, b.cfg.Dimension)
	ok, err := b.base.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !ok && !create {
		return &vectordb.NotFoundError{Kind: "index file", Name: path}
	}
	b.path = path
	if ok {
		if err := b.loadSnapshotLocked(ctx, path); err != nil {
			return err
		}
	} else {
		b.chunkIDs = nil
		b.vectors = nil
	}
	b.initialized = true
	return nil
}

func (b *Backend) persistLocked(ctx context.Context) error {
	payload, err := b.encodeLocked()
	if err != nil {
		return err
	}
	if err := b.base.EnsureParent(b.path); err != nil {
		return err
	}
	return b.base.Upload(ctx, b.path, bytes.NewReader(payload))
}

func (b *Backend) encodeLocked() ([]byte, error) {
	snap := &snapshot{dimension: b.cfg.Dimension, chunkIDs: b.chunkIDs, vectors: b.vectors}
	writers := bintly.NewWriters()
	writer := writers.Get()
	defer writers.Put(writer)
	if err := snap.EncodeBinary(writer); err != nil {
		return nil, err
	}
	return writer.Bytes(), nil
}

func (b *Backend) loadSnapshotLocked(ctx context.Context, path string) error {
	reader, err := b.base.Open(ctx, path)
	if err != nil {
		return err
	}
	defer reader.Close()
	payload, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	snap := &snapshot{}
	if err := snap.decode(payload); err != nil {
		return &vectordb.IntegrityError{Detail: "snapshot " + path, Err: err}
	}
	if snap.dimension != b.cfg.Dimension {
		return &vectordb.IntegrityError{Detail: "snapshot dimension mismatch"}
	}
	b.chunkIDs = snap.chunkIDs
	b.vectors = snap.vectors
	return nil
}

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
