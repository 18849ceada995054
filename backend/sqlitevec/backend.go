// Package sqlitevec implements the SQLite-backed vector index strategy. Each
// logical index owns one database file holding its metadata catalog row and
// its physical vector table; only one strategy instance holds a file open at
// a time, enforced by routing all access through the instance pool.
package sqlitevec

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"

	"github.com/viant/sqlite-vec/engine"
	_ "modernc.org/sqlite" // pure Go sqlite driver

	"github.com/vecdex/vecdex/backend"
	"github.com/vecdex/vecdex/vectordb"
	"github.com/vecdex/vecdex/vectordb/catalog"
	"github.com/vecdex/vecdex/vectordb/ident"
	"github.com/vecdex/vecdex/vectordb/record"
	"github.com/vecdex/vecdex/vectordb/table"
)

// Ext is the index file extension used under <base>/models and
// <base>/documents.
const Ext = "sqlite"

// ErrNotInitialized is returned when an operation runs before Initialize.
var ErrNotInitialized = errors.New("sqlitevec: backend not initialized")

var registerFunctions sync.Once

// Backend is the SQLite-backed Strategy.
type Backend struct {
	base *backend.Base
	cfg  backend.Config
	logf func(format string, args ...any)

	mu          sync.Mutex
	db          *sql.DB
	catalog     *catalog.Catalog
	tables      *table.Manager
	records     *record.Store
	meta        *vectordb.IndexMetadata
	tableID     ident.TableIdentifier
	path        string
	initialized bool
}

// New creates an unopened Backend for cfg.
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

// Factory is the backend.Factory for SQLite-backed indexes.
func Factory(cfg *backend.Config) (backend.Strategy, error) {
	return New(cfg)
}

// Initialize opens or creates the index file and ensures the catalog row and
// physical table exist.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initLocked(ctx, true)
}

// CreateIndex initializes the index for cfg and returns its file path.
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

// LoadIndex opens an existing index for cfg without creating one.
func (b *Backend) LoadIndex(ctx context.Context, cfg *backend.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.reconfigureLocked(cfg); err != nil {
		return err
	}
	return b.initLocked(ctx, false)
}

// SaveIndex flushes pending WAL state. SQLite persists each committed write,
// so this is a best-effort checkpoint.
func (b *Backend) SaveIndex(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}
	_, _ = b.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)")
	return nil
}

// AddVectors stores (chunkID, vector) pairs and advances the catalog counter.
func (b *Backend) AddVectors(ctx context.Context, chunkIDs []int64, vectors [][]float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}
	if err := b.records.AddVectors(ctx, b.tableID, chunkIDs, vectors, b.cfg.Dimension); err != nil {
		return err
	}
	added := int64(len(chunkIDs))
	if err := b.catalog.IncrementVectorCount(ctx, b.meta.ID, added); err != nil {
		return err
	}
	b.meta.TotalVectors += added
	return nil
}

// Search returns the k nearest stored vectors by L2 distance.
func (b *Backend) Search(ctx context.Context, query []float32, k int, opts ...backend.SearchOption) (*vectordb.SearchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil, ErrNotInitialized
	}
	options := backend.NewSearchOptions(opts...)
	searchOpts := []record.SearchOption{record.WithDimension(b.cfg.Dimension)}
	if options.Threshold != nil {
		searchOpts = append(searchOpts, record.WithDistanceThreshold(*options.Threshold))
	}
	return b.records.Search(ctx, b.tableID, query, k, searchOpts...)
}

// DeleteByChunkIDs removes stored vectors and decrements the catalog counter.
// It reports how many rows existed for the given ids.
func (b *Backend) DeleteByChunkIDs(ctx context.Context, chunkIDs []int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return 0, ErrNotInitialized
	}
	deleted, err := b.records.DeleteByChunkIDs(ctx, b.tableID, chunkIDs)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		if err := b.catalog.IncrementVectorCount(ctx, b.meta.ID, -deleted); err != nil {
			return deleted, err
		}
		b.meta.TotalVectors -= deleted
		if b.meta.TotalVectors < 0 {
			b.meta.TotalVectors = 0
		}
	}
	return deleted, nil
}

// Stats reports the live state of this index. The row count comes from the
// physical table, which is authoritative over the catalog counter.
func (b *Backend) Stats(ctx context.Context) (*vectordb.IndexStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := &vectordb.IndexStats{
		Dimension:    b.cfg.Dimension,
		CurrentModel: b.cfg.ModelName,
	}
	if !b.initialized {
		return stats, nil
	}
	total, err := b.records.Count(ctx, b.tableID)
	if err != nil {
		return nil, err
	}
	stats.TotalVectors = total
	stats.IndexType = b.meta.IndexType
	stats.IsInitialized = true
	return stats, nil
}

// ResetIndex removes every stored vector but keeps the table and metadata.
func (b *Backend) ResetIndex(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}
	deleted, err := b.records.DeleteAll(ctx, b.tableID)
	if err != nil {
		return err
	}
	if deleted > 0 {
		if err := b.catalog.IncrementVectorCount(ctx, b.meta.ID, -deleted); err != nil {
			return err
		}
	}
	b.meta.TotalVectors = 0
	return nil
}

// OptimizeIndex compacts the database file.
func (b *Backend) OptimizeIndex(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}
	if _, err := b.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, "VACUUM")
	return err
}

// BackupIndex copies the index file to path after checkpointing.
func (b *Backend) BackupIndex(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}
	_, _ = b.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return b.base.Copy(ctx, b.path, path)
}

// RestoreIndex replaces the index file from path and reopens it.
func (b *Backend) RestoreIndex(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok, err := b.base.Exists(ctx, path); err != nil {
		return err
	} else if !ok {
		return &vectordb.NotFoundError{Kind: "backup file", Name: path}
	}
	if err := b.closeLocked(); err != nil {
		return err
	}
	target := b.base.IndexPath(b.cfg.DocumentID, b.cfg.ModelName, b.cfg.Dimension)
	if err := b.base.EnsureParent(target); err != nil {
		return err
	}
	if err := b.base.Copy(ctx, path, target); err != nil {
		return err
	}
	return b.initLocked(ctx, false)
}

// Cleanup closes the database handle; the instance is unusable afterwards.
func (b *Backend) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

// DocumentIndexExists reports whether a per-document index file exists for
// documentID in this vector space.
func (b *Backend) DocumentIndexExists(ctx context.Context, documentID string) (bool, error) {
	if documentID == "" {
		return false, vectordb.NewValidationError("document id", "empty")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base.Exists(ctx, b.base.DocumentIndexPath(documentID, b.cfg.ModelName, b.cfg.Dimension))
}

// DeleteDocumentIndex removes the per-document index file for documentID.
func (b *Backend) DeleteDocumentIndex(ctx context.Context, documentID string) error {
	if documentID == "" {
		return vectordb.NewValidationError("document id", "empty")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if documentID == b.cfg.DocumentID {
		if err := b.closeLocked(); err != nil {
			return err
		}
	}
	return b.base.Remove(ctx, b.base.DocumentIndexPath(documentID, b.cfg.ModelName, b.cfg.Dimension))
}

// Path returns the index file location once initialized.
func (b *Backend) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// Accelerated reports whether the virtual table module was available.
func (b *Backend) Accelerated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized && b.tables.Accelerated()
}

func (b *Backend) reconfigureLocked(cfg *backend.Config) error {
	if cfg == nil {
		return nil
	}
	replacement, err := New(cfg)
	if err != nil {
		return err
	}
	if err := b.closeLocked(); err != nil {
		return err
	}
	b.base = replacement.base
	b.cfg = replacement.cfg
	b.logf = replacement.logf
	return nil
}

func (b *Backend) initLocked(ctx context.Context, create bool) error {
	if b.initialized {
		return nil
	}
	path := b.base.IndexPath(b.cfg.DocumentID, b.cfg.ModelName, b.cfg.Dimension)
	if !create {
		ok, err := b.base.Exists(ctx, path)
		if err != nil {
			return err
		}
		if !ok {
			return &vectordb.NotFoundError{Kind: "index file", Name: path}
		}
	}
	if err := b.base.EnsureParent(path); err != nil {
		return err
	}
	registerFunctions.Do(func() {
		// Registers vec_l2/vec_cosine for connections opened afterwards.
		_ = engine.RegisterVectorFunctions(nil)
	})
	db, err := engine.Open(path)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	cat, err := catalog.New(ctx, db, catalog.WithLogf(b.logf))
	if err != nil {
		_ = db.Close()
		return err
	}
	tables, err := table.New(ctx, db, table.WithModule(b.cfg.VecModule), table.WithLogf(b.logf))
	if err != nil {
		_ = db.Close()
		return err
	}
	records, err := record.New(db, record.WithCapability(tables.Accelerated), record.WithLogf(b.logf))
	if err != nil {
		_ = db.Close()
		return err
	}
	indexType := vectordb.IndexTypeBrute
	if tables.Accelerated() {
		indexType = vectordb.IndexTypeAccelerated
	}
	metaOpts := []catalog.GetOrCreateOption{catalog.WithIndexType(indexType)}
	if b.cfg.DocumentID != "" {
		metaOpts = append(metaOpts, catalog.WithDocumentID(b.cfg.DocumentID))
	}
	meta, err := cat.GetOrCreate(ctx, b.cfg.ModelName, b.cfg.Dimension, metaOpts...)
	if err != nil {
		_ = db.Close()
		return err
	}
	tableID, err := ident.New(meta.TableIdentifier)
	if err != nil {
		_ = db.Close()
		return &vectordb.IntegrityError{Detail: "stored table identifier rejected", Err: err}
	}
	if err := tables.EnsureTable(ctx, tableID, b.cfg.Dimension); err != nil {
		_ = db.Close()
		return err
	}
	b.db = db
	b.catalog = cat
	b.tables = tables
	b.records = records
	b.meta = meta
	b.tableID = tableID
	b.path = path
	b.initialized = true
	return nil
}

func (b *Backend) closeLocked() error {
	if b.db == nil {
		b.initialized = false
		return nil
	}
	err := b.db.Close()
	b.db = nil
	b.catalog = nil
	b.tables = nil
	b.records = nil
	b.meta = nil
	b.tableID = ident.TableIdentifier{}
	b.initialized = false
	return err
}
