package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapCache is an in-memory Cache for exercising Remember.
type mapCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	getErr  error
	deleted []string
}

func newMapCache() *mapCache {
	return &mapCache{values: map[string][]byte{}}
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *mapCache) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, prefix)
	for k := range m.values {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.values, k)
		}
	}
	return nil
}

type tier struct {
	Slug  string `json:"slug"`
	Price int64  `json:"price"`
}

func TestRememberLoadsOnceThenServesCache(t *testing.T) {
	c := newMapCache()
	calls := 0
	load := func(context.Context) ([]tier, error) {
		calls++
		return []tier{{Slug: "annual", Price: 7500}}, nil
	}

	first, err := Remember(context.Background(), c, CatalogPrefix+"membership-types", load)
	require.NoError(t, err)
	second, err := Remember(context.Background(), c, CatalogPrefix+"membership-types", load)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestRememberFallsThroughOnCacheError(t *testing.T) {
	c := newMapCache()
	c.getErr = errors.New("connection refused")

	got, err := Remember(context.Background(), c, "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestRememberDoesNotCacheLoadErrors(t *testing.T) {
	c := newMapCache()
	_, err := Remember(context.Background(), c, "k", func(context.Context) (int, error) {
		return 0, errors.New("db down")
	})
	require.Error(t, err)
	assert.Empty(t, c.values)
}

func TestInvalidateCatalog(t *testing.T) {
	c := newMapCache()
	c.values[CatalogPrefix+"shows"] = []byte(`[]`)
	c.values["other"] = []byte(`1`)

	InvalidateCatalog(context.Background(), c)

	assert.NotContains(t, c.values, CatalogPrefix+"shows")
	assert.Contains(t, c.values, "other")
}

func TestNoopAlwaysMisses(t *testing.T) {
	var c Noop
	require.NoError(t, c.Set(context.Background(), "k", []byte("v")))
	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)
}

func TestRedisUnreachableDegradesToLoad(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// port 1 on loopback refuses connections
	r, err := NewRedis(ctx, "redis://127.0.0.1:1/0", time.Minute)
	require.NoError(t, err)
	defer r.Close()

	got, err := Remember(ctx, r, CatalogPrefix+"sponsors", func(context.Context) (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
}
