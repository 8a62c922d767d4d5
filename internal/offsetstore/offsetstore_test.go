package offsetstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReinitAndGetSetOff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fileoff")
	store, err := Open(path, nil)
	require.NoError(t, err)
	defer store.Close()

	err = store.Reinit([]Record{
		{Inode: 11, Offset: 100},
		{Inode: 22, Offset: 200},
	})
	require.NoError(t, err)

	off, ok := store.GetOff(11)
	require.True(t, ok)
	assert.EqualValues(t, 100, off)

	ok = store.SetOff(22, 250)
	require.True(t, ok)
	off, ok = store.GetOff(22)
	require.True(t, ok)
	assert.EqualValues(t, 250, off)

	_, ok = store.GetOff(99)
	assert.False(t, ok)
}

func TestReinitDropsStaleInodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fileoff")
	store, err := Open(path, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Reinit([]Record{{Inode: 1, Offset: 10}}))
	require.NoError(t, store.Reinit([]Record{{Inode: 2, Offset: 20}}))

	_, ok := store.GetOff(1)
	assert.False(t, ok)
	off, ok := store.GetOff(2)
	require.True(t, ok)
	assert.EqualValues(t, 20, off)
}

func TestLoadExistingMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing")
	records, err := LoadExisting(path)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLoadExistingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fileoff")
	store, err := Open(path, nil)
	require.NoError(t, err)

	require.NoError(t, store.Reinit([]Record{{Inode: 7, Offset: 777}}))
	require.NoError(t, store.Flush())
	require.NoError(t, store.Close())

	records, err := LoadExisting(path)
	require.NoError(t, err)
	assert.EqualValues(t, 777, records[7])
}
