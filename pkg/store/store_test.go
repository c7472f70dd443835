package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/model"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("v1")))
	v, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete(ctx, "k1"))
	_, ok, err = s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutUpserts(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("v1")))
	require.NoError(t, s.Put(ctx, "k1", []byte("v2")))

	v, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
}

func TestScanPrefix(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a:1", []byte("x")))
	require.NoError(t, s.Put(ctx, "a:2", []byte("y")))
	require.NoError(t, s.Put(ctx, "b:1", []byte("z")))

	keys, err := s.ScanPrefix(ctx, "a:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a:1", "a:2"}, keys)
}

func TestReplaceUnitsMarksPriorLiveAsReplacedAndInsertsNew(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	ws := ids.NewWorkspaceID()

	first := []model.CodeUnit{{ID: "u1", WorkspaceID: ws, Path: "a.go", Kind: "func", Name: "Foo", Status: model.CodeUnitLive, ContentHash: "h1", ParsedAt: time.Now()}}
	require.NoError(t, s.ReplaceUnits(ctx, ws, "a.go", first))

	live, err := s.LiveUnits(ctx, ws, "a.go")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "u1", live[0].ID)

	second := []model.CodeUnit{{ID: "u2", WorkspaceID: ws, Path: "a.go", Kind: "func", Name: "Foo", Status: model.CodeUnitLive, ContentHash: "h2", ParsedAt: time.Now()}}
	require.NoError(t, s.ReplaceUnits(ctx, ws, "a.go", second))

	live, err = s.LiveUnits(ctx, ws, "a.go")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "u2", live[0].ID)

	replaced, err := s.ReplacedCount(ctx, ws, "a.go")
	require.NoError(t, err)
	assert.Equal(t, 1, replaced)
}

func TestReplaceUnitsIdempotentReingestGrowsReplacedMonotonically(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	ws := ids.NewWorkspaceID()

	unit := model.CodeUnit{ID: "u1", WorkspaceID: ws, Path: "a.go", Kind: "func", Name: "Foo", Status: model.CodeUnitLive, ContentHash: "h1", ParsedAt: time.Now()}
	require.NoError(t, s.ReplaceUnits(ctx, ws, "a.go", []model.CodeUnit{unit}))

	before, err := s.ReplacedCount(ctx, ws, "a.go")
	require.NoError(t, err)

	unit.ID = "u2"
	require.NoError(t, s.ReplaceUnits(ctx, ws, "a.go", []model.CodeUnit{unit}))

	after, err := s.ReplacedCount(ctx, ws, "a.go")
	require.NoError(t, err)
	assert.Greater(t, after, before)
}
