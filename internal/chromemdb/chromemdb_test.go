package chromemdb

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-index/internal/models"
)

func testDocs() []Document {
	return []Document{
		{ID: "a", Fingerprint: "x.txt::1", Content: "alpha", Metadata: map[string]string{"source": "x.txt"}, Embedding: []float32{1, 0, 0}},
		{ID: "b", Fingerprint: "x.txt::2", Content: "beta", Embedding: []float32{0, 1, 0}},
		{ID: "c", Fingerprint: "y.txt::1", Content: "gamma", Embedding: []float32{0, 0, 1}},
	}
}

func newManager(t *testing.T, dir string) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager(dir, Options{Collection: "chunks", EmbeddingModel: "test"}, nil)
	require.NoError(t, err)
	return m
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Exists(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, models.VectorFileName), []byte("x"), 0o644))
	assert.False(t, Exists(dir), "vector file alone is not a valid index")

	require.NoError(t, os.WriteFile(filepath.Join(dir, models.DocstoreFileName), []byte("{}"), 0o644))
	assert.True(t, Exists(dir))
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m := newManager(t, dir)
	require.NoError(t, m.CreateDocs(ctx, testDocs()))
	require.NoError(t, m.Save())
	assert.True(t, Exists(dir))
	assertOnlyArtifacts(t, dir)

	loaded, dropped, err := Load(ctx, dir, Options{Collection: "chunks"}, nil)
	require.NoError(t, err)
	assert.Empty(t, dropped)
	assert.Equal(t, 3, loaded.Count())
	assert.Equal(t, 3, loaded.Dimensions())
	assert.Equal(t, map[string]bool{"x.txt::1": true, "x.txt::2": true, "y.txt::1": true}, loaded.Fingerprints())

	res, err := loaded.SearchEmbedding(ctx, []float32{0.9, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].ID)
	assert.Equal(t, "x.txt::1", res[0].Fingerprint)
	assert.Equal(t, "alpha", res[0].Content)
	assert.Equal(t, "x.txt", res[0].Metadata["source"])
	assert.Equal(t, "b", res[1].ID)
}

func assertOnlyArtifacts(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{models.DocstoreFileName, models.VectorFileName}, names)
}

func TestSave_Permissions(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir)
	require.NoError(t, m.CreateDocs(context.Background(), testDocs()))
	require.NoError(t, m.Save())

	for _, name := range []string{models.DocstoreFileName, models.VectorFileName} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm(), name)
	}
}

func TestSave_FailureKeepsPreviousVectors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := newManager(t, dir)
	require.NoError(t, m.CreateDocs(ctx, testDocs()[:2]))
	require.NoError(t, m.Save())
	before, err := os.ReadFile(filepath.Join(dir, models.VectorFileName))
	require.NoError(t, err)

	docstore := filepath.Join(dir, models.DocstoreFileName)
	require.NoError(t, os.Remove(docstore))
	require.NoError(t, os.MkdirAll(filepath.Join(docstore, "keep"), 0o755))

	require.NoError(t, m.CreateDocs(ctx, testDocs()[2:]))
	require.Error(t, m.Save())

	after, err := os.ReadFile(filepath.Join(dir, models.VectorFileName))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assertOnlyArtifacts(t, dir)
}

func TestSearchEmbedding_ClampsToCount(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir())
	require.NoError(t, m.CreateDocs(ctx, testDocs()[:2]))

	res, err := m.SearchEmbedding(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, res, 2)

	empty := newManager(t, t.TempDir())
	res, err = empty.SearchEmbedding(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestCreateDocs_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir())
	require.NoError(t, m.CreateDocs(ctx, testDocs()[:1]))

	err := m.CreateDocs(ctx, []Document{{ID: "d", Fingerprint: "z", Content: "delta", Embedding: []float32{1, 0}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
	assert.Equal(t, 1, m.Count())

	_, err = m.SearchEmbedding(ctx, []float32{1, 0}, 1)
	assert.Error(t, err)
}

func TestDeleteDocs(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir())
	require.NoError(t, m.CreateDocs(ctx, testDocs()))

	require.NoError(t, m.DeleteDocs(ctx, "a", "b"))
	assert.Equal(t, 1, m.Count())
	assert.False(t, m.Has("a"))
	assert.True(t, m.Has("c"))
}

func TestLoad_DropsDocstoreEntriesWithoutVectors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := newManager(t, dir)
	require.NoError(t, m.CreateDocs(ctx, testDocs()))
	require.NoError(t, m.Save())

	// simulate a crash after the docstore was written but before the vector file
	path := filepath.Join(dir, models.DocstoreFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ds Docstore
	require.NoError(t, json.Unmarshal(data, &ds))
	ds.Documents["ghost"] = "z.txt::1"
	data, err = json.Marshal(ds)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, dropped, err := Load(ctx, dir, Options{Collection: "chunks"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, dropped)
	assert.NotContains(t, loaded.Fingerprints(), "z.txt::1")
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()

	_, _, err := Load(ctx, t.TempDir(), Options{}, nil)
	assert.Error(t, err, "missing artifacts")

	dir := t.TempDir()
	m := newManager(t, dir)
	require.NoError(t, m.CreateDocs(ctx, testDocs()))
	require.NoError(t, m.Save())
	_, _, err = Load(ctx, dir, Options{Collection: "other"}, nil)
	assert.Error(t, err, "collection mismatch")

	require.NoError(t, os.WriteFile(filepath.Join(dir, models.VectorFileName), []byte("garbage"), 0o644))
	_, _, err = Load(ctx, dir, Options{Collection: "chunks"}, nil)
	assert.Error(t, err, "corrupt vector file")
}
