package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sourceA = `Procedure DoWork() Export
	Helper();
EndProcedure

Procedure Helper()
	Return;
EndProcedure
`

func newTestIndexer(t *testing.T, dir string) *Indexer {
	t.Helper()
	ix, err := New(Config{ProjectPath: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestRunParsesAndSkipsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pss"), []byte(sourceA), 0o644))

	ix, err := New(Config{ProjectPath: dir})
	require.NoError(t, err)
	stats, err := ix.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.IndexedFiles)
	require.Equal(t, 2, stats.Symbols.Methods)

	statsPath := filepath.Join(dir, ".devsupervisor", "cache_stats.json")
	require.FileExists(t, statsPath)
	require.NoError(t, ix.Close())

	// A fresh Indexer simulates a worker restart: its in-memory symbol
	// cache starts empty, and since nothing on disk changed every file
	// is a cache hit — the prior cache_stats.json snapshot must survive
	// rather than collapse to zero.
	ix2 := newTestIndexer(t, dir)
	stats2, err := ix2.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, stats.IndexedFiles, stats2.IndexedFiles)
	require.Equal(t, stats.Symbols.Methods, stats2.Symbols.Methods)
}

func TestReferencesResolveAfterRestartWithWarmCache(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pss"), []byte(sourceA), 0o644))

	ix, err := New(Config{ProjectPath: dir})
	require.NoError(t, err)
	_, err = ix.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	// A fresh Indexer against the same, unchanged project simulates a
	// worker restart with a fully warm fingerprint store: every file is
	// a cache hit. References/RenameEdit must still resolve the call
	// from DoWork to Helper via the symbol cache's call graph, not just
	// the document-symbols cache.
	ix2 := newTestIndexer(t, dir)
	_, err = ix2.Run(context.Background())
	require.NoError(t, err)

	refs, err := ix2.Query().References("a.pss", 4, 10) // "Procedure Helper()" declaration
	require.NoError(t, err)
	require.Len(t, refs, 1)

	_, ok, err := ix2.Query().RenameEdit("a.pss", 4, 10, "HelperRenamed")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRunRemovesStaleEntriesForDeletedFiles(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a.pss")
	require.NoError(t, os.WriteFile(filePath, []byte(sourceA), 0o644))

	ix := newTestIndexer(t, dir)
	_, err := ix.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, ix.Cache().Stats().Methods)

	require.NoError(t, os.Remove(filePath))
	stats, err := ix.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.Symbols.Methods)
}

func TestReindexFileUpdatesCacheSynchronously(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a.pss")
	require.NoError(t, os.WriteFile(filePath, []byte(sourceA), 0o644))

	ix := newTestIndexer(t, dir)
	_, err := ix.Run(context.Background())
	require.NoError(t, err)

	appended := sourceA + "\nProcedure Third()\nEndProcedure\n"
	require.NoError(t, os.WriteFile(filePath, []byte(appended), 0o644))
	require.NoError(t, ix.ReindexFile("a.pss"))

	require.Equal(t, 3, ix.Cache().Stats().Methods)
}
