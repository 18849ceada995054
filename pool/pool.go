// Package pool caches live backend strategy instances keyed by
// (document, model, dimension, base path). Exactly one instance exists per
// key at any time; repeated resolutions reuse the initialized object instead
// of re-opening and re-validating the index.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vecdex/vecdex/backend"
)

// Key identifies one logical index.
type Key struct {
	DocumentID string
	Model      string
	Dimension  int
	BasePath   string
}

// ModelKey builds a corpus-wide index key with no document scoping.
func ModelKey(model string, dimension int, basePath string) Key {
	return Key{Model: model, Dimension: dimension, BasePath: basePath}
}

// DocumentKey builds a per-document index key.
func DocumentKey(documentID, model string, dimension int, basePath string) Key {
	return Key{DocumentID: documentID, Model: model, Dimension: dimension, BasePath: basePath}
}

// String returns a stable textual form used for flight grouping.
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%d|%s", k.DocumentID, k.Model, k.Dimension, k.BasePath)
}

type entry struct {
	strategy   backend.Strategy
	lastAccess time.Time
}

// Pool owns the cached strategy instances. Construct one per facade; there is
// no ambient shared pool, so tests can build isolated instances.
type Pool struct {
	mu      sync.RWMutex
	entries map[Key]*entry
	flight  singleflight.Group
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{entries: map[Key]*entry{}}
}

// Builder constructs and initializes a strategy for a key on first use.
type Builder func(ctx context.Context) (backend.Strategy, error)

// Get returns the cached instance for key, building one via build when
// absent. Concurrent first-time calls for an identical key share a single
// construction through singleflight, so the metadata row and physical table
// are created once.
func (p *Pool) Get(ctx context.Context, key Key, build Builder) (backend.Strategy, error) {
	p.mu.RLock()
	cached, ok := p.entries[key]
	p.mu.RUnlock()
	if ok {
		p.touch(key)
		return cached.strategy, nil
	}
	value, err, _ := p.flight.Do(key.String(), func() (any, error) {
		p.mu.RLock()
		existing, ok := p.entries[key]
		p.mu.RUnlock()
		if ok {
			return existing.strategy, nil
		}
		strategy, err := build(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.entries[key] = &entry{strategy: strategy, lastAccess: time.Now()}
		p.mu.Unlock()
		return strategy, nil
	})
	if err != nil {
		return nil, err
	}
	p.touch(key)
	return value.(backend.Strategy), nil
}

// Peek returns the cached instance without building one.
func (p *Pool) Peek(key Key) (backend.Strategy, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cached, ok := p.entries[key]
	if !ok {
		return nil, false
	}
	return cached.strategy, true
}

// Evict removes the instance for key and releases its resources. Stale
// instances must never serve a table that no longer exists.
func (p *Pool) Evict(ctx context.Context, key Key) error {
	p.mu.Lock()
	cached, ok := p.entries[key]
	delete(p.entries, key)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return cached.strategy.Cleanup(ctx)
}

// EvictAll removes every instance; the first cleanup failure is returned
// after all entries are released.
func (p *Pool) EvictAll(ctx context.Context) error {
	p.mu.Lock()
	entries := p.entries
	p.entries = map[Key]*entry{}
	p.mu.Unlock()
	var firstErr error
	for _, cached := range entries {
		if err := cached.strategy.Cleanup(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Keys returns the live keys in no particular order.
func (p *Pool) Keys() []Key {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]Key, 0, len(p.entries))
	for key := range p.entries {
		keys = append(keys, key)
	}
	return keys
}

// Size returns the number of live instances.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// LastAccess reports when key was last resolved.
func (p *Pool) LastAccess(key Key) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cached, ok := p.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return cached.lastAccess, true
}

func (p *Pool) touch(key Key) {
	p.mu.Lock()
	if cached, ok := p.entries[key]; ok {
		cached.lastAccess = time.Now()
	}
	p.mu.Unlock()
}
