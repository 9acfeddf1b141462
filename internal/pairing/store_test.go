package pairing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "paired_device.json")
	return NewFileStore(path), path
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	id, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, id, "fresh store must report no pairing")

	require.NoError(t, store.Save("AA:BB:CC:DD:EE:FF"))

	id, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", id)
}

func TestFileStoreSaveOverwritesSlot(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save("AA:BB:CC:DD:EE:01"))
	require.NoError(t, store.Save("AA:BB:CC:DD:EE:02"))

	id, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:02", id, "a new pairing replaces the old slot")
}

func TestFileStoreRejectsEmptyID(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Error(t, store.Save(""))
}

func TestFileStoreCorruptFileBehavesEmpty(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	id, err := store.Load()
	require.NoError(t, err, "a corrupt slot must not fail startup")
	assert.Empty(t, id)
}

func TestFileStoreClear(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save("AA:BB:CC:DD:EE:FF"))

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear(), "clear is idempotent")

	id, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestMemStore(t *testing.T) {
	store := &MemStore{}

	require.NoError(t, store.Save("ring-1"))
	id, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "ring-1", id)

	require.NoError(t, store.Clear())
	id, err = store.Load()
	require.NoError(t, err)
	assert.Empty(t, id)
}
