// Package backend defines the storage strategy contract shared by every
// vector index engine, so alternate storage technology can be substituted
// without changing callers.
package backend

import (
	"context"

	"github.com/vecdex/vecdex/vectordb"
)

// Config identifies one logical index and where its physical file lives.
type Config struct {
	// BasePath is the directory that holds models/ and documents/ index files.
	BasePath string
	// ModelName and Dimension identify the vector space.
	ModelName string
	Dimension int
	// DocumentID scopes the index to one document when non-empty.
	DocumentID string
	// VecModule overrides the accelerated virtual table module name.
	VecModule string
	// Logf receives operational notices; defaults to log.Printf.
	Logf func(format string, args ...any)
}

// SearchOption adjusts a Strategy search.
type SearchOption func(*SearchOptions)

// SearchOptions is the resolved form of SearchOption values.
type SearchOptions struct {
	Threshold *float64
}

// WithDistanceThreshold keeps only matches with distance <= threshold.
func WithDistanceThreshold(threshold float64) SearchOption {
	return func(o *SearchOptions) { o.Threshold = &threshold }
}

// NewSearchOptions resolves opts into a SearchOptions value.
func NewSearchOptions(opts ...SearchOption) *SearchOptions {
	options := &SearchOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Strategy is the full capability set a vector index backend implements.
// Callers borrow instances from the pool and never assume ownership.
type Strategy interface {
	// Initialize opens or creates the index for the configured key.
	Initialize(ctx context.Context) error
	// CreateIndex initializes the index for cfg and returns its physical path.
	CreateIndex(ctx context.Context, cfg *Config) (string, error)
	// LoadIndex opens an existing index for cfg; absent indexes are a
	// NotFoundError.
	LoadIndex(ctx context.Context, cfg *Config) error
	// SaveIndex flushes in-memory state to stable storage.
	SaveIndex(ctx context.Context) error
	// AddVectors stores (chunkID, vector) pairs.
	AddVectors(ctx context.Context, chunkIDs []int64, vectors [][]float32) error
	// Search returns the k nearest vectors by L2 distance, ascending.
	Search(ctx context.Context, query []float32, k int, opts ...SearchOption) (*vectordb.SearchResult, error)
	// Stats reports the current index state.
	Stats(ctx context.Context) (*vectordb.IndexStats, error)
	// ResetIndex removes every stored vector but keeps the index itself.
	ResetIndex(ctx context.Context) error
	// OptimizeIndex compacts storage; best effort.
	OptimizeIndex(ctx context.Context) error
	// BackupIndex copies the index file to path.
	BackupIndex(ctx context.Context, path string) error
	// RestoreIndex replaces the index file from path and reopens it.
	RestoreIndex(ctx context.Context, path string) error
	// Cleanup releases resources; the instance is unusable afterwards.
	Cleanup(ctx context.Context) error
	// DocumentIndexExists reports whether a per-document index file exists for
	// documentID in this strategy's vector space.
	DocumentIndexExists(ctx context.Context, documentID string) (bool, error)
	// DeleteDocumentIndex removes the per-document index file for documentID.
	// Deleting an absent index is a no-op.
	DeleteDocumentIndex(ctx context.Context, documentID string) error
}

// ChunkDeleter is implemented by strategies that can remove individual chunk
// vectors. It reports how many rows existed for the given ids; absent ids are
// a no-op.
type ChunkDeleter interface {
	DeleteByChunkIDs(ctx context.Context, chunkIDs []int64) (int64, error)
}

// Factory builds a Strategy for a config. The pool calls it at most once per
// live key.
type Factory func(cfg *Config) (Strategy, error)
