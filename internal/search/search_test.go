package search

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBM25Results_ParsesJSONLAndSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.jsonl")
	content := `{"segment":"alpha text","title":"A","url":"u1","headings":"h1","docid":"seg-1"}
not json
{"segment":"beta text","title":"B","url":"u2","headings":"h2","docid":"seg-2"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	segments, meta, err := readBM25Results(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha text", "beta text"}, segments)
	require.Len(t, meta, 2)
	assert.Equal(t, "seg-1", meta[0].DocID)
	assert.Equal(t, "seg-2", meta[1].DocID)
}

func TestReadBM25Results_EmptyFileReturnsNoSegments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	segments, meta, err := readBM25Results(path)
	require.NoError(t, err)
	assert.Empty(t, segments)
	assert.Empty(t, meta)
}
