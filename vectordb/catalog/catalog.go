// Package catalog maintains the persistent registry of logical indexes. One
// row exists per (model, dimension) pair, or per (document, model, dimension)
// when document scoped; the row is the only source of truth for whether an
// index exists and what its physical table is called.
package catalog

import (
	"context"
	"database/sql"
	"log"
	"strconv"

	"github.com/vecdex/vecdex/vectordb"
	"github.com/vecdex/vecdex/vectordb/ident"
)

const metadataSchema = `CREATE TABLE IF NOT EXISTS vec_index_metadata (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	model_name       TEXT NOT NULL,
	dimension        INTEGER NOT NULL,
	document_id      TEXT NOT NULL DEFAULT '',
	table_identifier TEXT NOT NULL UNIQUE,
	index_type       TEXT NOT NULL,
	total_vectors    INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(model_name, dimension, document_id)
);`

// Catalog persists IndexMetadata rows in SQLite.
type Catalog struct {
	db   *sql.DB
	logf func(format string, args ...any)
}

// Option configures the catalog.
type Option func(*Catalog)

// WithLogf sets the logger used for bookkeeping warnings.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(c *Catalog) { c.logf = logf }
}

// New creates a Catalog and ensures its schema exists.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Catalog, error) {
	if db == nil {
		return nil, vectordb.NewValidationError("db", "nil")
	}
	c := &Catalog{db: db, logf: log.Printf}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := db.ExecContext(ctx, metadataSchema); err != nil {
		return nil, &vectordb.SchemaError{Op: "create metadata table", Err: err}
	}
	return c, nil
}

// GetOrCreateOption adjusts a GetOrCreate call.
type GetOrCreateOption func(*getOrCreateOptions)

type getOrCreateOptions struct {
	documentID string
	tableID    ident.TableIdentifier
	indexType  string
}

// WithDocumentID scopes the metadata row to a single document.
func WithDocumentID(documentID string) GetOrCreateOption {
	return func(o *getOrCreateOptions) { o.documentID = documentID }
}

// WithTableIdentifier overrides the derived physical table name.
func WithTableIdentifier(id ident.TableIdentifier) GetOrCreateOption {
	return func(o *getOrCreateOptions) { o.tableID = id }
}

// WithIndexType records the index type tag on newly created rows.
func WithIndexType(indexType string) GetOrCreateOption {
	return func(o *getOrCreateOptions) { o.indexType = indexType }
}

// GetOrCreate returns the metadata row for (modelName, dimension[, document]),
// creating it with a zero vector counter when absent. The insert uses
// ON CONFLICT DO NOTHING followed by a re-select so concurrent calls with an
// identical key converge on one row.
func (c *Catalog) GetOrCreate(ctx context.Context, modelName string, dimension int, opts ...GetOrCreateOption) (*vectordb.IndexMetadata, error) {
	if modelName == "" {
		return nil, vectordb.NewValidationError("model name", "empty")
	}
	if dimension <= 0 {
		return nil, vectordb.NewValidationError("dimension", "%d is not positive", dimension)
	}
	options := getOrCreateOptions{indexType: vectordb.IndexTypeBrute}
	for _, opt := range opts {
		opt(&options)
	}
	meta, err := c.lookup(ctx, modelName, dimension, options.documentID)
	if err == nil {
		return meta, nil
	}
	if !vectordb.IsNotFound(err) {
		return nil, err
	}
	tableID := options.tableID
	if tableID.IsZero() {
		if options.documentID != "" {
			tableID, err = ident.ForDocument(options.documentID, modelName, dimension)
		} else {
			tableID, err = ident.ForModel(modelName, dimension)
		}
		if err != nil {
			return nil, err
		}
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO vec_index_metadata(model_name, dimension, document_id, table_identifier, index_type, total_vectors)
		 VALUES(?, ?, ?, ?, ?, 0)
		 ON CONFLICT(model_name, dimension, document_id) DO NOTHING`,
		modelName, dimension, options.documentID, tableID.String(), options.indexType)
	if err != nil {
		return nil, &vectordb.IntegrityError{Detail: "metadata insert", Err: err}
	}
	meta, err = c.lookup(ctx, modelName, dimension, options.documentID)
	if err != nil {
		if vectordb.IsNotFound(err) {
			return nil, &vectordb.IntegrityError{Detail: "metadata row vanished after insert"}
		}
		return nil, err
	}
	return meta, nil
}

// FindByTableIdentifier is the reverse lookup used when a caller only has the
// physical table name.
func (c *Catalog) FindByTableIdentifier(ctx context.Context, tableID ident.TableIdentifier) (*vectordb.IndexMetadata, error) {
	if tableID.IsZero() {
		return nil, vectordb.NewValidationError("table identifier", "empty")
	}
	row := c.db.QueryRowContext(ctx,
		`SELECT id, model_name, dimension, document_id, table_identifier, index_type, total_vectors
		 FROM vec_index_metadata WHERE table_identifier = ?`, tableID.String())
	return scanMetadata(row, tableID.String())
}

// List returns every metadata row, ordered by creation.
func (c *Catalog) List(ctx context.Context) ([]*vectordb.IndexMetadata, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, model_name, dimension, document_id, table_identifier, index_type, total_vectors
		 FROM vec_index_metadata ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*vectordb.IndexMetadata
	for rows.Next() {
		meta := &vectordb.IndexMetadata{}
		if err := rows.Scan(&meta.ID, &meta.ModelName, &meta.Dimension, &meta.DocumentID,
			&meta.TableIdentifier, &meta.IndexType, &meta.TotalVectors); err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// IncrementVectorCount adjusts the stored vector counter by delta. The counter
// never goes below zero; an underflow is clamped and logged.
func (c *Catalog) IncrementVectorCount(ctx context.Context, id int64, delta int64) error {
	result, err := c.db.ExecContext(ctx,
		`UPDATE vec_index_metadata SET total_vectors = MAX(0, total_vectors + ?) WHERE id = ?`, delta, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &vectordb.NotFoundError{Kind: "index metadata", Name: metadataName(id)}
	}
	if delta < 0 {
		var total int64
		if err := c.db.QueryRowContext(ctx, `SELECT total_vectors FROM vec_index_metadata WHERE id = ?`, id).Scan(&total); err == nil && total == 0 {
			c.logf("catalog: vector counter for metadata %d clamped at zero (delta %d)", id, delta)
		}
	}
	return nil
}

// Delete removes a metadata row. Deleting metadata does not drop the physical
// table; callers sequence both steps.
func (c *Catalog) Delete(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM vec_index_metadata WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &vectordb.NotFoundError{Kind: "index metadata", Name: metadataName(id)}
	}
	return nil
}

func (c *Catalog) lookup(ctx context.Context, modelName string, dimension int, documentID string) (*vectordb.IndexMetadata, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, model_name, dimension, document_id, table_identifier, index_type, total_vectors
		 FROM vec_index_metadata WHERE model_name = ? AND dimension = ? AND document_id = ?`,
		modelName, dimension, documentID)
	return scanMetadata(row, modelName)
}

func scanMetadata(row *sql.Row, name string) (*vectordb.IndexMetadata, error) {
	meta := &vectordb.IndexMetadata{}
	err := row.Scan(&meta.ID, &meta.ModelName, &meta.Dimension, &meta.DocumentID,
		&meta.TableIdentifier, &meta.IndexType, &meta.TotalVectors)
	if err == sql.ErrNoRows {
		return nil, &vectordb.NotFoundError{Kind: "index metadata", Name: name}
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func metadataName(id int64) string {
	return "id=" + strconv.FormatInt(id, 10)
}
