package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/model"
	"github.com/cortexd/cortexd/pkg/store"
)

func fixedParser(raw []byte, language string) ([]SyntacticEntity, error) {
	return []SyntacticEntity{
		{Kind: "func", Name: "Foo", ByteStart: 0, ByteEnd: len(raw)},
	}, nil
}

type recordingSink struct {
	upserted []model.SyncEntity
}

func (r *recordingSink) Upsert(_ context.Context, entity model.SyncEntity) error {
	r.upserted = append(r.upserted, entity)
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIngestFileStoresUnitsAndForwardsSink(t *testing.T) {
	s := openTestStore(t)
	sink := &recordingSink{}
	p := New(s, fixedParser, sink)

	dir := t.TempDir()
	path := writeFile(t, dir, "a.go", "package a\nfunc Foo() {}\n")
	ws := ids.NewWorkspaceID()

	result, err := p.IngestFile(context.Background(), ws, path)
	require.NoError(t, err)
	assert.Equal(t, 1, result.UnitsStored)
	assert.Empty(t, result.Errors)
	require.Len(t, sink.upserted, 1)
	assert.Equal(t, "code_unit", sink.upserted[0].EntityType)

	live, err := s.LiveUnits(context.Background(), ws, path)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "Foo", live[0].Name)
}

func TestReingestSameContentKeepsSameUnitID(t *testing.T) {
	s := openTestStore(t)
	p := New(s, fixedParser, nil)

	dir := t.TempDir()
	path := writeFile(t, dir, "a.go", "package a\nfunc Foo() {}\n")
	ws := ids.NewWorkspaceID()

	_, err := p.IngestFile(context.Background(), ws, path)
	require.NoError(t, err)
	first, err := s.LiveUnits(context.Background(), ws, path)
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = p.IngestFile(context.Background(), ws, path)
	require.NoError(t, err)
	second, err := s.LiveUnits(context.Background(), ws, path)
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, first[0].ID, second[0].ID)
	replaced, err := s.ReplacedCount(context.Background(), ws, path)
	require.NoError(t, err)
	assert.Equal(t, 1, replaced)
}

func TestReingestChangedContentProducesNewUnitID(t *testing.T) {
	s := openTestStore(t)
	p := New(s, fixedParser, nil)

	dir := t.TempDir()
	path := writeFile(t, dir, "a.go", "package a\nfunc Foo() {}\n")
	ws := ids.NewWorkspaceID()

	_, err := p.IngestFile(context.Background(), ws, path)
	require.NoError(t, err)
	first, _ := s.LiveUnits(context.Background(), ws, path)

	writeFile(t, dir, "a.go", "package a\nfunc Foo() { return }\n")
	_, err = p.IngestFile(context.Background(), ws, path)
	require.NoError(t, err)
	second, _ := s.LiveUnits(context.Background(), ws, path)

	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestIngestFileMissingFileReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	p := New(s, fixedParser, nil)

	_, err := p.IngestFile(context.Background(), ids.NewWorkspaceID(), filepath.Join(t.TempDir(), "missing.go"))
	assert.Error(t, err)
}

func TestDetectLanguageByExtension(t *testing.T) {
	assert.Equal(t, "go", detectLanguage("a.go"))
	assert.Equal(t, "python", detectLanguage("a.py"))
	assert.Equal(t, "text", detectLanguage("a.unknown"))
}

type fixedEmbedder struct{ vector []float32 }

func (f fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func TestWithEmbedderAttachesVectorToForwardedEntity(t *testing.T) {
	s := openTestStore(t)
	sink := &recordingSink{}
	p := New(s, fixedParser, sink).WithEmbedder(fixedEmbedder{vector: []float32{1, 2, 3}})

	dir := t.TempDir()
	path := writeFile(t, dir, "a.go", "package a\nfunc Foo() {}\n")

	_, err := p.IngestFile(context.Background(), ids.NewWorkspaceID(), path)
	require.NoError(t, err)
	require.Len(t, sink.upserted, 1)
	assert.Equal(t, []float32{1, 2, 3}, sink.upserted[0].Vector)
}

func TestWithoutEmbedderForwardsNilVector(t *testing.T) {
	s := openTestStore(t)
	sink := &recordingSink{}
	p := New(s, fixedParser, sink)

	dir := t.TempDir()
	path := writeFile(t, dir, "a.go", "package a\nfunc Foo() {}\n")

	_, err := p.IngestFile(context.Background(), ids.NewWorkspaceID(), path)
	require.NoError(t, err)
	require.Len(t, sink.upserted, 1)
	assert.Nil(t, sink.upserted[0].Vector)
}
