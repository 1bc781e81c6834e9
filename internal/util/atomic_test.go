package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "insight.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]any{"paper_id": "2401.00001"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "2401.00001", got["paper_id"])
}

func TestWriteJSONLinesAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	type row struct {
		Index int `json:"index"`
	}
	require.NoError(t, WriteJSONLinesAtomic(path, []row{{0}, {1}, {2}}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(string(raw)), "\n"), 3)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriteTextAtomicOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "text.md")
	require.NoError(t, WriteTextAtomic(path, "first"))
	require.NoError(t, WriteTextAtomic(path, "second"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(raw))
}
