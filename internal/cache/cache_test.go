package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	m := NewManager(nil)
	m.Register(ScopeQueryResult, 16, 0)
	return m
}

func TestManager_GetOrBuild_BuildsOnceAndCaches(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	var builds atomic.Int32

	builder := func(ctx context.Context) (any, error) {
		builds.Add(1)
		return "built", nil
	}

	v, err := m.GetOrBuild(ctx, ScopeQueryResult, "k1", builder)
	require.NoError(t, err)
	assert.Equal(t, "built", v)

	v, err = m.GetOrBuild(ctx, ScopeQueryResult, "k1", builder)
	require.NoError(t, err)
	assert.Equal(t, "built", v)
	assert.Equal(t, int32(1), builds.Load())
}

func TestManager_GetOrBuild_UnregisteredScopeFails(t *testing.T) {
	m := NewManager(nil)

	_, err := m.GetOrBuild(context.Background(), Scope("ghost"), "k", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestManager_GetOrBuild_ErrorsAreNotCached(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	var builds atomic.Int32

	_, err := m.GetOrBuild(ctx, ScopeQueryResult, "k", func(ctx context.Context) (any, error) {
		builds.Add(1)
		return nil, errors.New("build failed")
	})
	require.Error(t, err)

	v, err := m.GetOrBuild(ctx, ScopeQueryResult, "k", func(ctx context.Context) (any, error) {
		builds.Add(1)
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, int32(2), builds.Load())
}

func TestManager_GetOrBuild_ConcurrentCallersShareOneBuild(t *testing.T) {
	m := newTestManager()
	var builds atomic.Int32
	release := make(chan struct{})

	builder := func(ctx context.Context) (any, error) {
		builds.Add(1)
		<-release
		return "shared", nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]any, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.GetOrBuild(context.Background(), ScopeQueryResult, "hot-key", builder)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
}

func TestManager_GetOrBuild_BuilderSurvivesCallerCancellation(t *testing.T) {
	m := newTestManager()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := m.GetOrBuild(ctx, ScopeQueryResult, "k", func(ctx context.Context) (any, error) {
		// The shared build must not observe the caller's cancellation.
		require.NoError(t, ctx.Err())
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestManager_TTLExpiresEntries(t *testing.T) {
	m := NewManager(nil)
	m.Register(ScopeQueryResult, 16, 30*time.Millisecond)

	require.NoError(t, m.Put(ScopeQueryResult, "k", "v"))
	_, ok := m.Get(ScopeQueryResult, "k")
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, ok = m.Get(ScopeQueryResult, "k")
	assert.False(t, ok)
}

func TestManager_PutAndGet(t *testing.T) {
	m := newTestManager()

	_, ok := m.Get(ScopeQueryResult, "k")
	assert.False(t, ok)

	require.NoError(t, m.Put(ScopeQueryResult, "k", 42))
	v, ok := m.Get(ScopeQueryResult, "k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	assert.Error(t, m.Put(Scope("ghost"), "k", 1))
}

func TestManager_Invalidate(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.Put(ScopeQueryResult, "a", 1))
	require.NoError(t, m.Put(ScopeQueryResult, "b", 2))

	m.Invalidate(ScopeQueryResult, "a")
	_, ok := m.Get(ScopeQueryResult, "a")
	assert.False(t, ok)
	_, ok = m.Get(ScopeQueryResult, "b")
	assert.True(t, ok)

	m.InvalidateScope(ScopeQueryResult)
	assert.Equal(t, 0, m.Len(ScopeQueryResult))
}

func TestManager_ScopesAreIsolated(t *testing.T) {
	m := NewManager(nil)
	m.Register(ScopeLexicalIndex, 4, 0)
	m.Register(ScopeQueryResult, 4, 0)

	require.NoError(t, m.Put(ScopeLexicalIndex, "same-key", "index"))
	require.NoError(t, m.Put(ScopeQueryResult, "same-key", "result"))

	v, _ := m.Get(ScopeLexicalIndex, "same-key")
	assert.Equal(t, "index", v)
	v, _ = m.Get(ScopeQueryResult, "same-key")
	assert.Equal(t, "result", v)
}
