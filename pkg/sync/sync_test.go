package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/model"
)

type fakePrimary struct {
	mu       sync.Mutex
	data     map[string][]byte
	failN    int
	calls    int
}

func newFakePrimary(failN int) *fakePrimary {
	return &fakePrimary{data: make(map[string][]byte), failN: failN}
}

func (f *fakePrimary) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return assertErr
	}
	f.data[key] = value
	return nil
}

func (f *fakePrimary) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

type fakeVector struct {
	mu   sync.Mutex
	data map[string][]float32
}

func newFakeVector() *fakeVector { return &fakeVector{data: make(map[string][]float32)} }

func (f *fakeVector) UpsertPoint(_ context.Context, _ string, id string, vector []float32, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[id] = vector
	return nil
}

func (f *fakeVector) DeletePoint(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, id)
	return nil
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

var assertErr = sentinelErr("primary write failed")

func testConfig() Config {
	return Config{MaxRetries: 3, RetryBackoffBase: time.Millisecond, MaxBatchSize: 10, MaxConcurrentOps: 8}
}

func TestUpsertCommitsOnDualSuccess(t *testing.T) {
	primary := newFakePrimary(0)
	vector := newFakeVector()
	m := New(testConfig(), primary, vector, nil)

	entity := model.SyncEntity{ID: "e1", EntityType: "code_unit", Vector: []float32{1, 2}}
	result, err := m.Upsert(context.Background(), entity)
	require.NoError(t, err)
	assert.True(t, result.Committed)
	assert.Equal(t, 1, result.Attempts)

	wal := m.WALSnapshot()
	require.Len(t, wal, 1)
	assert.Equal(t, model.WALCommitted, wal[0].Status)
}

func TestUpsertRetriesThenSucceeds(t *testing.T) {
	primary := newFakePrimary(1) // fails once, succeeds on attempt 2
	vector := newFakeVector()
	m := New(testConfig(), primary, vector, nil)

	result, err := m.Upsert(context.Background(), model.SyncEntity{ID: "e1", EntityType: "code_unit"})
	require.NoError(t, err)
	assert.True(t, result.Committed)
	assert.Equal(t, 2, result.Attempts)
}

func TestUpsertExhaustsRetriesAndFails(t *testing.T) {
	primary := newFakePrimary(100)
	vector := newFakeVector()
	m := New(testConfig(), primary, vector, nil)

	result, err := m.Upsert(context.Background(), model.SyncEntity{ID: "e1", EntityType: "code_unit"})
	require.Error(t, err)
	assert.False(t, result.Committed)
	assert.Equal(t, 3, result.Attempts)

	wal := m.WALSnapshot()
	require.Len(t, wal, 1)
	assert.Equal(t, model.WALFailed, wal[0].Status)
}

func TestBatchUpsertProcessesAllEntities(t *testing.T) {
	primary := newFakePrimary(0)
	vector := newFakeVector()
	m := New(testConfig(), primary, vector, nil)

	entities := []model.SyncEntity{
		{ID: "a", EntityType: "code_unit"},
		{ID: "b", EntityType: "code_unit"},
		{ID: "c", EntityType: "code_unit"},
	}
	results, err := m.BatchUpsert(context.Background(), entities)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Committed)
	}
}

func TestDeleteRemovesFromBothStores(t *testing.T) {
	primary := newFakePrimary(0)
	vector := newFakeVector()
	m := New(testConfig(), primary, vector, nil)

	_, err := m.Upsert(context.Background(), model.SyncEntity{ID: "e1", EntityType: "code_unit"})
	require.NoError(t, err)

	result, err := m.Delete(context.Background(), "e1", "code_unit")
	require.NoError(t, err)
	assert.True(t, result.Committed)
}

func TestIngestSinkAdaptsUpsertToErrorOnly(t *testing.T) {
	primary := newFakePrimary(0)
	vector := newFakeVector()
	m := New(testConfig(), primary, vector, nil)
	sink := IngestSink{Manager: m}

	err := sink.Upsert(context.Background(), model.SyncEntity{ID: "e1", EntityType: "code_unit"})
	assert.NoError(t, err)
}
