package vectordb

// Index type tags recorded in the metadata catalog. The tag reflects how the
// physical table was declared, not how a particular search was served.
const (
	IndexTypeAccelerated = "vec0"
	IndexTypeBrute       = "brute"
	IndexTypeMemory      = "mem"
)

// VectorRecord is a single stored embedding row. Records are owned exclusively
// by the table they live in and are never referenced across tables.
type VectorRecord struct {
	ID        int64
	ChunkID   int64
	Embedding []float32
}

// IndexMetadata describes one logical index: a (model, dimension) pair, or a
// (document, model, dimension) triple when document scoped. TableIdentifier is
// deterministic for the key fields and matches ^[A-Za-z0-9_-]+$ because it is
// interpolated into DDL that cannot be parameterized.
type IndexMetadata struct {
	ID              int64
	ModelName       string
	Dimension       int
	DocumentID      string
	TableIdentifier string
	IndexType       string
	TotalVectors    int64
}

// SearchResult holds parallel arrays: ChunkIDs[i] matched with Distances[i]
// in non-decreasing order, and Indices[i] = i as a positional rank.
type SearchResult struct {
	ChunkIDs  []int64
	Distances []float64
	Indices   []int
}

// Empty reports whether the result carries no matches.
func (r *SearchResult) Empty() bool {
	return r == nil || len(r.ChunkIDs) == 0
}

// IndexStats summarizes the state of one logical index.
type IndexStats struct {
	TotalVectors  int64
	Dimension     int
	IndexType     string
	IsInitialized bool
	CurrentModel  string
}
