package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func testCache(l1, l2 int) (*Cache, *memStore) {
	store := newMemStore()
	c := New(Config{L1Capacity: l1, L2Capacity: l2, L3Prefix: "c:", AutoPromote: true}, store, nil)
	return c, store
}

func TestPutThenGetHitsL1(t *testing.T) {
	c, _ := testCache(2, 2)
	require.NoError(t, c.Put(context.Background(), "a", []byte("1")))

	v, ok, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, uint64(1), c.Stats().L1Hits)
}

func TestL1EvictionCascadesToL2(t *testing.T) {
	c, _ := testCache(1, 2)
	require.NoError(t, c.Put(context.Background(), "a", []byte("1")))
	require.NoError(t, c.Put(context.Background(), "b", []byte("2"))) // evicts a from L1 into L2

	_, okL1 := c.l1.get("a")
	assert.False(t, okL1)

	v, ok, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, uint64(1), c.Stats().L2Hits)
}

func TestL2EvictionWritesThroughToL3(t *testing.T) {
	c, store := testCache(1, 1)
	require.NoError(t, c.Put(context.Background(), "a", []byte("1")))
	require.NoError(t, c.Put(context.Background(), "b", []byte("2"))) // a -> L2
	require.NoError(t, c.Put(context.Background(), "d", []byte("3"))) // b -> L2, a -> L3

	raw, found, err := store.Get(context.Background(), "c:a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), raw)
}

func TestL3HitPromotesToL2AndL1(t *testing.T) {
	c, store := testCache(2, 2)
	require.NoError(t, store.Put(context.Background(), "c:x", []byte("seed")))

	v, ok, err := c.Get(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("seed"), v)
	assert.Equal(t, uint64(1), c.Stats().L3Hits)

	_, okL1 := c.l1.get("x")
	assert.True(t, okL1)
}

func TestMissRecordsStats(t *testing.T) {
	c, _ := testCache(2, 2)
	_, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestInvalidateRemovesFromL1AndL2(t *testing.T) {
	c, _ := testCache(2, 2)
	require.NoError(t, c.Put(context.Background(), "a", []byte("1")))
	c.Invalidate("a")

	_, ok := c.l1.get("a")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Invalidations)
}

func TestHitRateAndAvgLatency(t *testing.T) {
	var s Stats
	s.L1Hits = 1
	s.Misses = 1
	assert.InDelta(t, 0.5, s.HitRate(), 0.001)
	assert.InDelta(t, 10.25, s.AvgLatencyMS(), 0.001)
}

func TestTypedRoundTrip(t *testing.T) {
	c, _ := testCache(4, 4)
	typed := NewTyped[map[string]int](c)
	require.NoError(t, typed.Put(context.Background(), "k", map[string]int{"n": 7}))

	v, ok, err := typed.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, v["n"])
}
