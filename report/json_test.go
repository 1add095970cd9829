package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bleak/results"
)

func TestWriteJSON_RoundTripsPathTree(t *testing.T) {
	tree := results.ToPathTree([]results.LeakRoot{
		{ID: 1, Paths: []results.HeapPath{{"window", "app", "_listeners"}}},
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "paths.json")
	require.NoError(t, WriteJSON(path, tree))

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var got results.PathTree
	require.NoError(t, json.Unmarshal(b, &got))
	require.Contains(t, got.Children, "window")
}

func TestWriteJSON_EmptyTreeStillWrites(t *testing.T) {
	tree := results.ToPathTree(nil)

	dir := t.TempDir()
	path := filepath.Join(dir, "leaks.json")
	require.NoError(t, WriteJSON(path, tree))

	_, err := os.Stat(path)
	require.NoError(t, err)
}
