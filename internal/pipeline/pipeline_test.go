package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTopics_ParsesJSONLAndSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topics.jsonl")
	content := `{"docid":"t1","title":"Title 1","body":"Body 1"}
not json
{"docid":"t2","title":"Title 2","body":"Body 2"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	topics, err := LoadTopics(path)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "t1", topics[0].DocID)
	assert.Equal(t, "t2", topics[1].DocID)
}

func TestLoadTopics_MissingFileErrors(t *testing.T) {
	_, err := LoadTopics(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestWriteResults_WritesJSONArray(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	results := []Result{
		{ID: "t1", Report: "report one", Score: 50},
		{ID: "t2", Report: "report two", Score: 40},
	}
	require.NoError(t, WriteResults(path, results))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []Result
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Len(t, got, 2)
	assert.Contains(t, string(raw), `"id":"t1"`)
	assert.Contains(t, string(raw), `"score":40`)
}
