package consistency

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/model"
	"github.com/cortexd/cortexd/pkg/store"
	syncpkg "github.com/cortexd/cortexd/pkg/sync"
	"github.com/cortexd/cortexd/pkg/vectorindex"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/consistency.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func putEntity(t *testing.T, s *store.Store, id, contentHash string) {
	t.Helper()
	entity := model.SyncEntity{
		ID:         id,
		EntityType: "code_unit",
		Metadata:   map[string]string{"content_hash": contentHash},
	}
	raw, err := json.Marshal(entity)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "code_unit:"+id, raw))
}

func TestCheckClassifiesConsistentEntries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	idx := vectorindex.OpenInMemory()

	putEntity(t, s, "a", "h1")
	require.NoError(t, idx.UpsertPoint(ctx, "entities", "a", []float32{1}, map[string]string{"content_hash": "h1"}))

	c := New(Config{}, s, idx, nil)
	report, err := c.Check(ctx, "code_unit", "code_unit:", "entities")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[Consistent])
	assert.Equal(t, 0, report.Counts[Mismatch])
}

func TestCheckClassifiesMissingVector(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	idx := vectorindex.OpenInMemory()

	putEntity(t, s, "a", "h1")

	c := New(Config{}, s, idx, nil)
	report, err := c.Check(ctx, "code_unit", "code_unit:", "entities")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[MissingVector])
}

func TestCheckClassifiesOrphanVector(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	idx := vectorindex.OpenInMemory()

	require.NoError(t, idx.UpsertPoint(ctx, "entities", "a", []float32{1}, map[string]string{"content_hash": "h1"}))

	c := New(Config{}, s, idx, nil)
	report, err := c.Check(ctx, "code_unit", "code_unit:", "entities")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[OrphanVector])
}

func TestCheckClassifiesMismatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	idx := vectorindex.OpenInMemory()

	putEntity(t, s, "a", "h1")
	require.NoError(t, idx.UpsertPoint(ctx, "entities", "a", []float32{1}, map[string]string{"content_hash": "h2"}))

	c := New(Config{}, s, idx, nil)
	report, err := c.Check(ctx, "code_unit", "code_unit:", "entities")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[Mismatch])
}

func TestCheckAutoRepairReupsertsMissingVector(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	idx := vectorindex.OpenInMemory()
	mgr := syncpkg.New(syncpkg.Config{}, s, idx, nil)

	putEntity(t, s, "a", "h1")

	c := New(Config{AutoRepair: true, MaxRepairBatch: 10}, s, idx, mgr)
	report, err := c.Check(ctx, "code_unit", "code_unit:", "entities")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[MissingVector])

	meta, ok := idx.Metadata("entities", "a")
	require.True(t, ok)
	assert.Equal(t, "h1", meta["content_hash"])
}

func TestCheckAutoRepairDeletesOrphanVector(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	idx := vectorindex.OpenInMemory()
	mgr := syncpkg.New(syncpkg.Config{}, s, idx, nil)

	require.NoError(t, idx.UpsertPoint(ctx, "entities", "a", []float32{1}, map[string]string{"content_hash": "h1"}))

	c := New(Config{AutoRepair: true, MaxRepairBatch: 10}, s, idx, mgr)
	_, err := c.Check(ctx, "code_unit", "code_unit:", "entities")
	require.NoError(t, err)

	ids, err := idx.Scroll("entities", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCheckSampleRateZeroFindingsWhenExcluded(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	idx := vectorindex.OpenInMemory()

	putEntity(t, s, "a", "h1")

	c := New(Config{SampleRate: 0.0001}, s, idx, nil)
	report, err := c.Check(ctx, "code_unit", "code_unit:", "entities")
	require.NoError(t, err)
	assert.LessOrEqual(t, report.Sampled, report.Total)
	assert.Empty(t, report.Findings)
}

func TestFingerprintStableForSameInput(t *testing.T) {
	entity := model.SyncEntity{EntityType: "code_unit", Metadata: map[string]string{"content_hash": "h1"}}
	f1 := Fingerprint(entity)
	f2 := Fingerprint(entity)
	assert.Equal(t, f1, f2)
	assert.NotEmpty(t, f1)
}
