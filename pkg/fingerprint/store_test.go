package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sampleArtifact struct {
	Methods []string
}

func TestPutGetRoundTripBeforeSave(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.PutRaw("a.pss", "h1", sampleArtifact{Methods: []string{"Foo"}}))
	require.True(t, store.Dirty())

	var got sampleArtifact
	hash, ok, err := store.GetRaw("a.pss", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "h1", hash)
	require.Equal(t, []string{"Foo"}, got.Methods)
}

func TestSaveIsNoOpWhenClean(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.False(t, store.Dirty())
	require.NoError(t, store.Save(false))
}

func TestSavePersistsAcrossOverlayReset(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, store.PutRaw("a.pss", "h1", sampleArtifact{Methods: []string{"Foo"}}))
	require.NoError(t, store.Save(false))
	require.False(t, store.Dirty())

	var got sampleArtifact
	hash, ok, err := store.GetRaw("a.pss", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "h1", hash)
	require.Equal(t, []string{"Foo"}, got.Methods)

	require.NoError(t, store.Close())
}

func TestDeleteRemovesRecord(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.PutRaw("a.pss", "h1", sampleArtifact{}))
	require.NoError(t, store.Save(false))

	store.DeleteRaw("a.pss")
	var got sampleArtifact
	_, ok, err := store.GetRaw("a.pss", &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Save(false))
	_, ok, err = store.GetRaw("a.pss", &got)
	require.NoError(t, err)
	require.False(t, ok)
}
