package service

// StoreEmbeddingRequest carries one chunk embedding produced by the
// embedding-generation collaborator.
type StoreEmbeddingRequest struct {
	// ChunkID identifies the chunk. Chunk ids are integral; a fractional value
	// is a caller bug and is truncated with a logged warning, never silently.
	ChunkID float64
	// DocumentID scopes the write to a per-document index when non-empty.
	DocumentID string
	// Content is the chunk text; retained by the chunk-content store, not here.
	Content string
	// Embedding is the vector representation of Content.
	Embedding []float32
	// Model names the embedding model that produced the vector.
	Model string
	// Dimensions is the vector width; defaults to len(Embedding).
	Dimensions int
	// Metadata is an opaque payload owned by the caller.
	Metadata map[string]any
}

// QueryOption adjusts Search, GetIndexStats, and DeleteChunks calls.
type QueryOption func(*queryOptions)

type queryOptions struct {
	model      string
	dimension  int
	documentID string
	threshold  *float64
}

// WithModel selects the vector space by model name.
func WithModel(model string) QueryOption {
	return func(o *queryOptions) { o.model = model }
}

// WithDimension selects the vector space width.
func WithDimension(dimension int) QueryOption {
	return func(o *queryOptions) { o.dimension = dimension }
}

// WithDocumentID scopes the operation to one document's index.
func WithDocumentID(documentID string) QueryOption {
	return func(o *queryOptions) { o.documentID = documentID }
}

// WithDistanceThreshold keeps only matches with distance <= threshold.
func WithDistanceThreshold(threshold float64) QueryOption {
	return func(o *queryOptions) { o.threshold = &threshold }
}
