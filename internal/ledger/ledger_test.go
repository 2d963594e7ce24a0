package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "ingested_meta.json"))
	assert.Equal(t, 0, l.Len())
	assert.False(t, l.Recovered())
}

func TestFlush_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingested_meta.json")

	l := Open(path)
	l.Add("b.txt::1", "a.txt::2")
	require.NoError(t, l.Flush())

	reopened := Open(path)
	assert.Equal(t, []string{"a.txt::2", "b.txt::1"}, reopened.Keys())
	assert.True(t, reopened.Has("a.txt::2"))
	assert.False(t, reopened.Has("c.txt::1"))
}

func TestFlush_HumanDiffableJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingested_meta.json")
	l := Open(path)
	l.Add("z::", "a::1")
	require.NoError(t, l.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"rows\": {\n    \"a::1\": true,\n    \"z::\": true\n  }\n}\n", string(data))
}

func TestOpen_CorruptFileResetsToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingested_meta.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	l := Open(path)
	assert.Equal(t, 0, l.Len())
	assert.True(t, l.Recovered())

	l.Add("a::1")
	require.NoError(t, l.Flush())
	assert.False(t, l.Recovered())
	assert.True(t, Open(path).Has("a::1"))
}

func TestOpen_IgnoresFalseEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingested_meta.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rows": {"a::1": true, "b::1": false}}`), 0o644))

	l := Open(path)
	assert.Equal(t, []string{"a::1"}, l.Keys())
}

func TestRemoveAndReplace(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "ingested_meta.json"))
	l.Add("a", "b", "c")
	l.Remove("b")
	assert.Equal(t, []string{"a", "c"}, l.Keys())

	l.Replace(map[string]bool{"x": true, "y": false})
	assert.Equal(t, []string{"x"}, l.Keys())
}

func TestFlush_FailsWhenDirectoryMissing(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "gone", "ingested_meta.json"))
	l.Add("a")
	assert.Error(t, l.Flush())
}
