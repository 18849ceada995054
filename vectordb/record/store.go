// Package record implements CRUD and k-nearest-neighbour search against one
// physical vector table. Searches prefer the accelerated virtual table path
// and fall back to an exact brute-force scan over the vec_l2 scalar function.
package record

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/viant/sqlite-vec/vector"

	"github.com/vecdex/vecdex/vectordb"
	"github.com/vecdex/vecdex/vectordb/ident"
)

const defaultK = 10

// Store performs vector reads and writes against named tables.
type Store struct {
	db          *sql.DB
	accelerated func() bool
	logf        func(format string, args ...any)
}

// Option configures the Store.
type Option func(*Store)

// WithCapability wires the accelerated-module capability flag, typically
// table.Manager.Accelerated. Without it every search takes the brute-force
// path.
func WithCapability(accelerated func() bool) Option {
	return func(s *Store) {
		if accelerated != nil {
			s.accelerated = accelerated
		}
	}
}

// WithLogf sets the logger used for fallback notices.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(s *Store) { s.logf = logf }
}

// New creates a record Store over db.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, vectordb.NewValidationError("db", "nil")
	}
	s := &Store{db: db, accelerated: func() bool { return false }, logf: log.Printf}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddVector validates and inserts one (chunkID, embedding) pair.
func (s *Store) AddVector(ctx context.Context, tableID ident.TableIdentifier, chunkID int64, embedding []float32, dimension int) error {
	return s.AddVectors(ctx, tableID, []int64{chunkID}, [][]float32{embedding}, dimension)
}

// AddVectors inserts many (chunkID, embedding) pairs in one transaction. All
// vectors are validated before any row is written so a dimension mismatch is
// never partially applied.
func (s *Store) AddVectors(ctx context.Context, tableID ident.TableIdentifier, chunkIDs []int64, embeddings [][]float32, dimension int) error {
	if tableID.IsZero() {
		return vectordb.NewValidationError("table identifier", "empty")
	}
	if dimension <= 0 {
		return vectordb.NewValidationError("dimension", "%d is not positive", dimension)
	}
	if len(chunkIDs) != len(embeddings) {
		return vectordb.NewValidationError("chunk ids", "%d ids for %d embeddings", len(chunkIDs), len(embeddings))
	}
	if len(embeddings) == 0 {
		return nil
	}
	blobs := make([][]byte, len(embeddings))
	for i, embedding := range embeddings {
		if len(embedding) == 0 {
			return vectordb.NewValidationError("embedding", "empty vector for chunk %d", chunkIDs[i])
		}
		if len(embedding) != dimension {
			return vectordb.NewValidationError("embedding", "length %d does not match dimension %d", len(embedding), dimension)
		}
		blob, err := vector.EncodeEmbedding(embedding)
		if err != nil {
			return err
		}
		blobs[i] = blob
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s(chunk_id, embedding) VALUES(?, ?)", tableID))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range blobs {
		if _, err := stmt.ExecContext(ctx, chunkIDs[i], blobs[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteByChunkID removes rows for one chunk id and reports how many existed.
// Deleting an absent id is a no-op, not an error.
func (s *Store) DeleteByChunkID(ctx context.Context, tableID ident.TableIdentifier, chunkID int64) (int64, error) {
	return s.DeleteByChunkIDs(ctx, tableID, []int64{chunkID})
}

// DeleteByChunkIDs removes rows for the given chunk ids and reports how many
// rows existed. A missing table counts as zero deletions.
func (s *Store) DeleteByChunkIDs(ctx context.Context, tableID ident.TableIdentifier, chunkIDs []int64) (int64, error) {
	if tableID.IsZero() {
		return 0, vectordb.NewValidationError("table identifier", "empty")
	}
	if len(chunkIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunkIDs)), ",")
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE chunk_id IN (%s)", tableID, placeholders), args...)
	if err != nil {
		if vectordb.IsMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteAll removes every row from the table and reports how many existed.
func (s *Store) DeleteAll(ctx context.Context, tableID ident.TableIdentifier) (int64, error) {
	if tableID.IsZero() {
		return 0, vectordb.NewValidationError("table identifier", "empty")
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", tableID))
	if err != nil {
		if vectordb.IsMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return result.RowsAffected()
}

// Count returns the number of stored vectors. A missing table counts as zero;
// a read-only count never raises for absence.
func (s *Store) Count(ctx context.Context, tableID ident.TableIdentifier) (int64, error) {
	if tableID.IsZero() {
		return 0, vectordb.NewValidationError("table identifier", "empty")
	}
	var total int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", tableID)).Scan(&total)
	if err != nil {
		if vectordb.IsMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return total, nil
}

// SearchOption adjusts a Search call.
type SearchOption func(*searchOptions)

type searchOptions struct {
	dimension int
	threshold *float64
}

// WithDimension enables query-vector length validation.
func WithDimension(dimension int) SearchOption {
	return func(o *searchOptions) { o.dimension = dimension }
}

// WithDistanceThreshold keeps only results with distance <= threshold.
func WithDistanceThreshold(threshold float64) SearchOption {
	return func(o *searchOptions) { o.threshold = &threshold }
}

// Search returns the k nearest stored vectors by L2 distance, ascending. The
// accelerated virtual table path is tried first when the capability flag is
// set; any failure there degrades to the brute-force scan. An absent or empty
// table yields an empty result, never an error.
func (s *Store) Search(ctx context.Context, tableID ident.TableIdentifier, query []float32, k int, opts ...SearchOption) (*vectordb.SearchResult, error) {
	if tableID.IsZero() {
		return nil, vectordb.NewValidationError("table identifier", "empty")
	}
	if len(query) == 0 {
		return nil, vectordb.NewValidationError("query vector", "empty")
	}
	options := searchOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.dimension > 0 && len(query) != options.dimension {
		return nil, vectordb.NewValidationError("query vector", "length %d does not match dimension %d", len(query), options.dimension)
	}
	total, err := s.Count(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return &vectordb.SearchResult{}, nil
	}
	if k <= 0 {
		k = defaultK
	}
	if int64(k) > total {
		k = int(total)
	}
	blob, err := vector.EncodeEmbedding(query)
	if err != nil {
		return nil, err
	}
	if s.accelerated() {
		result, err := s.searchAccelerated(ctx, tableID, blob, k, options.threshold)
		if err == nil {
			return result, nil
		}
		s.logf("record: accelerated search on %s failed (%v), using brute-force scan", tableID, err)
	}
	return s.searchBrute(ctx, tableID, blob, k, options.threshold)
}

// searchAccelerated queries the virtual table, which requires the explicit
// match-count constraint (k = ?) alongside the MATCH clause. The threshold is
// applied as a wrapping subquery so filtering happens inside the statement.
func (s *Store) searchAccelerated(ctx context.Context, tableID ident.TableIdentifier, blob []byte, k int, threshold *float64) (*vectordb.SearchResult, error) {
	query := fmt.Sprintf("SELECT chunk_id, distance FROM %s WHERE embedding MATCH ? AND k = ?", tableID)
	args := []any{blob, k}
	if threshold != nil {
		query = fmt.Sprintf("SELECT chunk_id, distance FROM (%s) WHERE distance <= ?", query)
		args = append(args, *threshold)
	}
	query += " ORDER BY distance"
	return s.collect(ctx, query, args...)
}

// searchBrute orders every stored vector by the vec_l2 scalar function. The
// subquery names the distance column so the threshold filter and ordering can
// reference one computation.
func (s *Store) searchBrute(ctx context.Context, tableID ident.TableIdentifier, blob []byte, k int, threshold *float64) (*vectordb.SearchResult, error) {
	query := fmt.Sprintf("SELECT chunk_id, distance FROM (SELECT chunk_id, vec_l2(embedding, ?) AS distance FROM %s)", tableID)
	args := []any{blob}
	if threshold != nil {
		query += " WHERE distance <= ?"
		args = append(args, *threshold)
	}
	query += " ORDER BY distance LIMIT ?"
	args = append(args, k)
	result, err := s.collect(ctx, query, args...)
	if err != nil {
		if vectordb.IsMissingTable(err) {
			return &vectordb.SearchResult{}, nil
		}
		return nil, err
	}
	return result, nil
}

func (s *Store) collect(ctx context.Context, query string, args ...any) (*vectordb.SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := &vectordb.SearchResult{}
	for rows.Next() {
		var chunkID int64
		var distance float64
		if err := rows.Scan(&chunkID, &distance); err != nil {
			return nil, err
		}
		result.Indices = append(result.Indices, len(result.ChunkIDs))
		result.ChunkIDs = append(result.ChunkIDs, chunkID)
		result.Distances = append(result.Distances, distance)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
