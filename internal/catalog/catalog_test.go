package catalog

import (
	"path/filepath"
	"testing"

	"github.com/entripy63/mix.4st.uk/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "mixcat.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestReplaceAllAndSearch(t *testing.T) {
	c := openTestCatalog(t)

	entries := []models.SearchEntry{
		{DJ: "DJSmith", File: "m1", Name: "Summer Set", Artist: "DJ Smith", Genre: "House",
			Duration: "1:00:00", Downloads: []models.Download{{File: "m1.flac", Label: "FLAC"}}},
		{DJ: "moreDJs/Guest", File: "g1", Name: "Guest Mix", Comment: "deep house special"},
		{DJ: "Zed", File: "z1", Name: "Techno Night", Genre: "Techno"},
	}
	require.NoError(t, c.ReplaceAll(entries))

	n, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("matches across columns", func(t *testing.T) {
		got, err := c.Search("house")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, entries[0], got[0])
		assert.Equal(t, "g1", got[1].File)
		assert.Equal(t, []models.Download{}, got[1].Downloads)
	})

	t.Run("matches dj", func(t *testing.T) {
		got, err := c.Search("moreDJs")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Guest Mix", got[0].Name)
	})

	t.Run("no match", func(t *testing.T) {
		got, err := c.Search("ambient")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	require.NoError(t, c.ReplaceAll(entries[2:]))
	n, err = c.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "replacement drops mixes no longer indexed")
}

func TestReopenKeepsCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixcat.db")

	c, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, c.ReplaceAll([]models.SearchEntry{{DJ: "DJ", File: "a", Name: "A"}}))
	require.NoError(t, c.Close())

	c, err = Open(path, nil)
	require.NoError(t, err)
	defer c.Close()
	n, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
