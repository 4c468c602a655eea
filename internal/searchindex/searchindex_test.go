package searchindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/entripy63/mix.4st.uk/internal/manifest"
	"github.com/entripy63/mix.4st.uk/internal/pipeline"
	"github.com/entripy63/mix.4st.uk/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir string, m models.Manifest) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, manifest.Write(dir, m))
}

func TestBuild(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "Zed"), models.Manifest{Generated: true, Mixes: []models.ManifestEntry{
		{Name: "Last", File: "last", AudioFile: "last.mp3", DurationFormatted: "0:10:00"},
	}})
	writeManifest(t, filepath.Join(root, "DJSmith"), models.Manifest{Generated: true, Mixes: []models.ManifestEntry{
		{
			Name: "Mix 1", File: "m1", AudioFile: "m1.mp3", Artist: "DJ Smith", Genre: "House",
			Duration: 3600, DurationFormatted: "1:00:00", PeaksFile: "m1.peaks.json",
			Downloads: []models.Download{{File: "m1.mp3", Label: "MP3"}},
		},
	}})
	writeManifest(t, filepath.Join(root, "moreDJs", "Guest"), models.Manifest{Generated: true, Mixes: []models.ManifestEntry{
		{Name: "Guest Mix", File: "g"},
	}})
	writeManifest(t, filepath.Join(root, ".git"), models.Manifest{Mixes: []models.ManifestEntry{{Name: "hidden"}}})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "NoManifest"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Broken"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Broken", manifest.FileName), []byte("{not json"), 0644))

	entries, err := NewBuilder("moreDJs", nil).Build(root)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, []string{"DJSmith", "Zed", "moreDJs/Guest"}, []string{entries[0].DJ, entries[1].DJ, entries[2].DJ})
	assert.Equal(t, models.SearchEntry{
		DJ: "DJSmith", File: "m1", Name: "Mix 1", Artist: "DJ Smith", Genre: "House",
		Duration: "1:00:00", AudioFile: "m1.mp3", PeaksFile: "m1.peaks.json",
		Downloads: []models.Download{{File: "m1.mp3", Label: "MP3"}},
	}, entries[0])
	assert.NotNil(t, entries[2].Downloads)
}

func TestWriteCompact(t *testing.T) {
	root := t.TempDir()
	entries := []models.SearchEntry{Entry("DJSmith", models.ManifestEntry{Name: "A & B", File: "ab"})}
	require.NoError(t, Write(root, entries))

	data, err := os.ReadFile(filepath.Join(root, FileName))
	require.NoError(t, err)
	assert.Equal(t,
		`[{"dj":"DJSmith","file":"ab","name":"A & B","artist":"","genre":"","comment":"","duration":"","audioFile":"","peaksFile":"","coverFile":"","downloads":[]}]`,
		string(data))

	require.NoError(t, Write(root, nil))
	data, err = os.ReadFile(filepath.Join(root, FileName))
	require.NoError(t, err)
	var decoded []models.SearchEntry
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Empty(t, decoded)
	assert.Equal(t, "[]", string(data))
}

func TestBuildMissingRoot(t *testing.T) {
	_, err := NewBuilder("moreDJs", nil).Build(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRunRecordsBrokenManifests(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "DJSmith"), models.Manifest{Generated: true, Mixes: []models.ManifestEntry{{Name: "A", File: "a"}}})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Broken"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Broken", manifest.FileName), []byte("[]"), 0644))

	rec := pipeline.NewRecorder("index", nil)
	entries, err := NewBuilder("moreDJs", nil).Run(root, rec)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	s := rec.Finish()
	assert.Equal(t, 1, s.Processed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, "Broken/manifest.json", s.Outcomes[0].Item)
	assert.FileExists(t, filepath.Join(root, FileName))
}
