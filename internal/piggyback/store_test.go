package piggyback

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ReplaceAndRead(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	require.NoError(t, store.Replace("esx01", map[string][]string{
		"vm01": {"<<<uptime>>>", "100"},
		"vm02": {"<<<uptime>>>", "200"},
	}))
	require.NoError(t, store.Replace("esx02", map[string][]string{
		"vm01": {"<<<mem>>>", "MemTotal: 1 kB"},
	}))

	entries, err := store.Read("vm01", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "esx01", entries[0].Meta.Source)
	assert.Equal(t, "<<<uptime>>>\n100\n", string(entries[0].Data))
	assert.Equal(t, "esx02", entries[1].Meta.Source)
	assert.True(t, entries[1].Meta.Valid)

	// esx01 no longer reports vm02.
	require.NoError(t, store.Replace("esx01", map[string][]string{"vm01": {"<<<uptime>>>", "101"}}))
	entries, err = store.Read("vm02", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_MaxAge(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, store.Replace("esx01", map[string][]string{"vm01": {"<<<uptime>>>", "100"}}))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "vm01", "esx01"), old, old))

	entries, err := store.Read("vm01", time.Hour)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Meta.Valid)
	assert.Nil(t, entries[0].Data)
	assert.InDelta(t, (2 * time.Hour).Seconds(), entries[0].Meta.Age.Seconds(), 60)

	metas, err := store.Meta("vm01", 3*time.Hour)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.True(t, metas[0].Valid)
	assert.Equal(t, "vm01", metas[0].Target)
}

func TestStore_UnknownTarget(t *testing.T) {
	entries, err := NewStore(t.TempDir()).Read("nothing", 0)
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a_b", sanitize("a/b"))
	assert.Equal(t, "_", sanitize(".."))
}
