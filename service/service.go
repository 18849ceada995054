// Package service is the public entry point for the embedding storage and
// similarity-search engine. It resolves pooled backend instances per
// (model, dimension, optional document) key, ensures indexes exist, and
// delegates reads and writes.
package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/url"

	"github.com/vecdex/vecdex/backend"
	"github.com/vecdex/vecdex/backend/sqlitevec"
	"github.com/vecdex/vecdex/pool"
	"github.com/vecdex/vecdex/vectordb"
	"github.com/vecdex/vecdex/vectordb/ident"
)

// Option configures the Service.
type Option func(*Service)

// WithBasePath sets the index file root directory.
func WithBasePath(basePath string) Option {
	return func(s *Service) { s.basePath = basePath }
}

// WithConfig applies a loaded configuration.
func WithConfig(cfg *Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithFactory overrides the backend factory.
func WithFactory(factory backend.Factory) Option {
	return func(s *Service) { s.factory = factory }
}

// WithIndexExt overrides the index file extension used for existence probes;
// it must match the factory's backend.
func WithIndexExt(ext string) Option {
	return func(s *Service) { s.ext = ext }
}

// WithPool supplies an externally owned instance pool.
func WithPool(p *pool.Pool) Option {
	return func(s *Service) { s.pool = p }
}

// WithDefaultModel sets the vector space used when requests omit one.
func WithDefaultModel(model string, dimension int) Option {
	return func(s *Service) {
		s.defaultModel = model
		s.defaultDimension = dimension
	}
}

// WithVecModule overrides the accelerated virtual table module name.
func WithVecModule(module string) Option {
	return func(s *Service) { s.vecModule = module }
}

// WithLogf sets the operational logger.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(s *Service) { s.logf = logf }
}

// Service is the producer-facing vector store facade. The pool it owns is the
// only route to backend instances, which keeps one live instance per logical
// index.
type Service struct {
	cfg              *Config
	basePath         string
	defaultModel     string
	defaultDimension int
	vecModule        string
	ext              string
	factory          backend.Factory
	pool             *pool.Pool
	fs               afs.Service
	logf             func(format string, args ...any)

	mu               sync.RWMutex
	currentModel     string
	currentDimension int
}

// New creates a Service. A base path is required, either directly or through
// configuration.
func New(opts ...Option) (*Service, error) {
	s := &Service{logf: log.Printf, fs: afs.New()}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg != nil {
		if s.basePath == "" {
			s.basePath = s.cfg.BasePath
		}
		if s.defaultModel == "" {
			s.defaultModel = s.cfg.DefaultModel
			s.defaultDimension = s.cfg.DefaultDimension
		}
		if s.vecModule == "" {
			s.vecModule = s.cfg.VecModule
		}
		if s.factory == nil {
			factory, err := s.cfg.Factory()
			if err != nil {
				return nil, err
			}
			s.factory = factory
			s.ext = s.cfg.Ext()
		}
	}
	if s.basePath == "" {
		return nil, vectordb.NewValidationError("base path", "empty")
	}
	if s.factory == nil {
		s.factory = sqlitevec.Factory
	}
	if s.ext == "" {
		s.ext = sqlitevec.Ext
	}
	if s.pool == nil {
		s.pool = pool.New()
	}
	return s, nil
}

// StoreEmbedding validates and persists one chunk embedding in the index for
// its (model, dimension[, document]) key.
func (s *Service) StoreEmbedding(ctx context.Context, req *StoreEmbeddingRequest) error {
	if req == nil {
		return vectordb.NewValidationError("request", "nil")
	}
	model := req.Model
	if model == "" {
		model = s.defaultModel
	}
	if model == "" {
		return vectordb.NewValidationError("model name", "empty and no default configured")
	}
	dimension := req.Dimensions
	if dimension == 0 {
		dimension = len(req.Embedding)
	}
	if dimension <= 0 {
		return vectordb.NewValidationError("dimension", "%d is not positive", dimension)
	}
	if len(req.Embedding) == 0 {
		return vectordb.NewValidationError("embedding", "empty vector")
	}
	if len(req.Embedding) != dimension {
		return vectordb.NewValidationError("embedding", "length %d does not match dimension %d", len(req.Embedding), dimension)
	}
	chunkID := int64(req.ChunkID)
	if req.ChunkID != math.Trunc(req.ChunkID) {
		s.logf("service: fractional chunk id %v truncated to %d", req.ChunkID, chunkID)
	}
	key := s.key(req.DocumentID, model, dimension)
	strategy, err := s.resolve(ctx, key)
	if err != nil {
		return err
	}
	if err := strategy.AddVectors(ctx, []int64{chunkID}, [][]float32{req.Embedding}); err != nil {
		return err
	}
	s.mu.Lock()
	s.currentModel = model
	s.currentDimension = dimension
	s.mu.Unlock()
	return nil
}

// Search returns the k nearest chunk ids for the query vector. Searching a
// vector space that has never been indexed yields an empty result, not an
// error, so multi-model corpora stay resilient to partial indexing.
func (s *Service) Search(ctx context.Context, query []float32, k int, opts ...QueryOption) (*vectordb.SearchResult, error) {
	if len(query) == 0 {
		return nil, vectordb.NewValidationError("query vector", "empty")
	}
	options := s.resolveOptions(opts)
	if options.dimension == 0 {
		options.dimension = len(query)
	}
	if options.model == "" {
		return &vectordb.SearchResult{}, nil
	}
	if len(query) != options.dimension {
		return nil, vectordb.NewValidationError("query vector", "length %d does not match dimension %d", len(query), options.dimension)
	}
	key := s.key(options.documentID, options.model, options.dimension)
	if _, pooled := s.pool.Peek(key); !pooled {
		exists, err := s.indexFileExists(ctx, key)
		if err != nil {
			return nil, err
		}
		if !exists {
			return &vectordb.SearchResult{}, nil
		}
	}
	strategy, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	var searchOpts []backend.SearchOption
	if options.threshold != nil {
		searchOpts = append(searchOpts, backend.WithDistanceThreshold(*options.threshold))
	}
	return strategy.Search(ctx, query, k, searchOpts...)
}

// DeleteChunks removes stored vectors by chunk id from the resolved index and
// reports how many rows existed.
func (s *Service) DeleteChunks(ctx context.Context, chunkIDs []int64, opts ...QueryOption) (int64, error) {
	options := s.resolveOptions(opts)
	if options.model == "" || options.dimension == 0 {
		return 0, vectordb.NewValidationError("model name", "empty and no default configured")
	}
	key := s.key(options.documentID, options.model, options.dimension)
	if _, pooled := s.pool.Peek(key); !pooled {
		exists, err := s.indexFileExists(ctx, key)
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, nil
		}
	}
	strategy, err := s.resolve(ctx, key)
	if err != nil {
		return 0, err
	}
	deleter, ok := strategy.(backend.ChunkDeleter)
	if !ok {
		return 0, fmt.Errorf("service: backend does not support chunk deletion")
	}
	return deleter.DeleteByChunkIDs(ctx, chunkIDs)
}

// DeleteDocumentIndex evicts every pooled instance serving documentID and
// removes the document's index files across all models and dimensions.
func (s *Service) DeleteDocumentIndex(ctx context.Context, documentID string) error {
	if documentID == "" {
		return vectordb.NewValidationError("document id", "empty")
	}
	for _, key := range s.pool.Keys() {
		if key.DocumentID != documentID {
			continue
		}
		if err := s.pool.Evict(ctx, key); err != nil {
			s.logf("service: evicting %v: %v", key, err)
		}
	}
	// FileComponent ends with the document's hash suffix, so the prefix cannot
	// match another document's files even when one id is a prefix of another.
	prefix := fmt.Sprintf("index_doc_%s_", ident.FileComponent(documentID))
	documents := url.Join(s.basePath, "documents")
	if ok, _ := s.fs.Exists(ctx, documents); !ok {
		return nil
	}
	objects, err := s.fs.List(ctx, documents)
	if err != nil {
		return err
	}
	for _, object := range objects {
		if object.IsDir() || !strings.HasPrefix(object.Name(), prefix) {
			continue
		}
		if err := s.fs.Delete(ctx, object.URL()); err != nil {
			return err
		}
	}
	return nil
}

// GetIndexStats reports the state of the resolved index. An index that has
// never been created reports zero vectors and IsInitialized false.
func (s *Service) GetIndexStats(ctx context.Context, opts ...QueryOption) (*vectordb.IndexStats, error) {
	options := s.resolveOptions(opts)
	if options.model == "" || options.dimension == 0 {
		return &vectordb.IndexStats{}, nil
	}
	key := s.key(options.documentID, options.model, options.dimension)
	if _, pooled := s.pool.Peek(key); !pooled {
		exists, err := s.indexFileExists(ctx, key)
		if err != nil {
			return nil, err
		}
		if !exists {
			return &vectordb.IndexStats{CurrentModel: options.model, Dimension: options.dimension}, nil
		}
	}
	strategy, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return strategy.Stats(ctx)
}

// Pool exposes the instance pool for diagnostics.
func (s *Service) Pool() *pool.Pool { return s.pool }

// Close releases every pooled backend instance.
func (s *Service) Close(ctx context.Context) error {
	return s.pool.EvictAll(ctx)
}

func (s *Service) key(documentID, model string, dimension int) pool.Key {
	if documentID != "" {
		return pool.DocumentKey(documentID, model, dimension, s.basePath)
	}
	return pool.ModelKey(model, dimension, s.basePath)
}

func (s *Service) resolve(ctx context.Context, key pool.Key) (backend.Strategy, error) {
	return s.pool.Get(ctx, key, func(ctx context.Context) (backend.Strategy, error) {
		strategy, err := s.factory(&backend.Config{
			BasePath:   key.BasePath,
			ModelName:  key.Model,
			Dimension:  key.Dimension,
			DocumentID: key.DocumentID,
			VecModule:  s.vecModule,
			Logf:       s.logf,
		})
		if err != nil {
			return nil, err
		}
		if err := strategy.Initialize(ctx); err != nil {
			return nil, err
		}
		return strategy, nil
	})
}

func (s *Service) resolveOptions(opts []QueryOption) queryOptions {
	options := queryOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	s.mu.RLock()
	currentModel, currentDimension := s.currentModel, s.currentDimension
	s.mu.RUnlock()
	if options.model == "" {
		options.model = currentModel
	}
	if options.model == "" {
		options.model = s.defaultModel
	}
	if options.dimension == 0 {
		if options.model == currentModel && currentDimension > 0 {
			options.dimension = currentDimension
		} else if options.model == s.defaultModel && s.defaultDimension > 0 {
			options.dimension = s.defaultDimension
		}
	}
	return options
}

func (s *Service) indexFileExists(ctx context.Context, key pool.Key) (bool, error) {
	base := backend.NewBase(key.BasePath, s.ext)
	return base.Exists(ctx, base.IndexPath(key.DocumentID, key.Model, key.Dimension))
}
