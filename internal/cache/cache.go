// Package cache provides scoped, TTL-bound caching with build deduplication
// for expensive retrieval artifacts.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Scope identifies one cache namespace. Each scope has its own capacity and
// TTL; keys never collide across scopes.
type Scope string

const (
	// ScopeLexicalIndex holds built lexical indexes keyed by corpus version.
	ScopeLexicalIndex Scope = "lexical-index"

	// ScopeReranker holds the warmed reranker handle for the process lifetime.
	ScopeReranker Scope = "reranker"

	// ScopeQueryResult memoizes clean evidence sets keyed by normalized
	// query and filter fingerprint.
	ScopeQueryResult Scope = "query-result"
)

// neverExpire stands in for "no TTL"; expirable.LRU treats TTL per cache,
// not per entry, so process-lifetime scopes get a far-future horizon.
const neverExpire = 100 * 365 * 24 * time.Hour

// Manager owns one expirable LRU per registered scope plus a singleflight
// group that guarantees at most one concurrent build per key.
type Manager struct {
	mu     sync.RWMutex
	scopes map[Scope]*expirable.LRU[string, any]
	group  singleflight.Group
	logger *slog.Logger
}

// NewManager creates an empty manager. Scopes must be registered before use.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		scopes: make(map[Scope]*expirable.LRU[string, any]),
		logger: logger,
	}
}

// Register creates a scope with the given capacity and TTL. A non-positive
// ttl means entries only leave by LRU eviction or explicit invalidation.
// Registering an existing scope replaces it and drops its entries.
func (m *Manager) Register(scope Scope, size int, ttl time.Duration) {
	if size <= 0 {
		size = 128
	}
	if ttl <= 0 {
		ttl = neverExpire
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[scope] = expirable.NewLRU[string, any](size, nil, ttl)
}

func (m *Manager) lru(scope Scope) (*expirable.LRU[string, any], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.scopes[scope]
	if !ok {
		return nil, fmt.Errorf("cache scope %q is not registered", scope)
	}
	return l, nil
}

// Get returns the cached value for key, if present and unexpired.
func (m *Manager) Get(scope Scope, key string) (any, bool) {
	l, err := m.lru(scope)
	if err != nil {
		return nil, false
	}
	return l.Get(key)
}

// Put stores a value without going through a builder. Callers use this to
// memoize only results they consider cacheable.
func (m *Manager) Put(scope Scope, key string, value any) error {
	l, err := m.lru(scope)
	if err != nil {
		return err
	}
	l.Add(key, value)
	return nil
}

// GetOrBuild returns the cached value for key, building it on a miss.
// Concurrent callers for the same scope and key share a single build; the
// winner's result (or error) is delivered to every waiter. A build error is
// never cached.
//
// The builder runs with the caller's values but without its cancellation:
// the built artifact is shared state, and one impatient caller must not
// poison the build for everyone else who is waiting on it.
func (m *Manager) GetOrBuild(ctx context.Context, scope Scope, key string, builder func(ctx context.Context) (any, error)) (any, error) {
	l, err := m.lru(scope)
	if err != nil {
		return nil, err
	}

	if v, ok := l.Get(key); ok {
		return v, nil
	}

	flightKey := string(scope) + "\x00" + key
	v, err, shared := m.group.Do(flightKey, func() (any, error) {
		// Double check: another flight may have finished between the
		// miss and acquiring the flight slot.
		if v, ok := l.Get(key); ok {
			return v, nil
		}

		started := time.Now()
		built, err := builder(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		l.Add(key, built)
		m.logger.Debug("cache_built",
			"scope", string(scope),
			"key", key,
			"duration_ms", time.Since(started).Milliseconds())
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("cache_build_shared", "scope", string(scope), "key", key)
	}
	return v, nil
}

// Invalidate drops a single key from a scope.
func (m *Manager) Invalidate(scope Scope, key string) {
	if l, err := m.lru(scope); err == nil {
		l.Remove(key)
	}
}

// InvalidateScope drops every entry in a scope.
func (m *Manager) InvalidateScope(scope Scope) {
	l, err := m.lru(scope)
	if err != nil {
		return
	}
	l.Purge()
	m.logger.Info("cache_scope_invalidated", "scope", string(scope))
}

// Len reports the number of live entries in a scope.
func (m *Manager) Len(scope Scope) int {
	l, err := m.lru(scope)
	if err != nil {
		return 0
	}
	return l.Len()
}
