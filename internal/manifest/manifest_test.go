package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/entripy63/mix.4st.uk/internal/decoder"
	"github.com/entripy63/mix.4st.uk/internal/decoder/decodertest"
	"github.com/entripy63/mix.4st.uk/internal/library"
	"github.com/entripy63/mix.4st.uk/internal/metadata"
	"github.com/entripy63/mix.4st.uk/internal/pipeline"
	"github.com/entripy63/mix.4st.uk/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var formats = []string{".mp3", ".flac", ".m4a", ".opus"}

func TestNaturalSort(t *testing.T) {
	names := []string{"Mix 2", "Mix 10", "Mix 1"}
	NaturalSort(names)
	assert.Equal(t, []string{"Mix 1", "Mix 2", "Mix 10"}, names)

	names = []string{"b", "A 3", "a 03", "a", "Vol 2 part 10", "Vol 2 part 9", "007"}
	NaturalSort(names)
	assert.Equal(t, []string{"007", "a", "A 3", "a 03", "b", "Vol 2 part 9", "Vol 2 part 10"}, names)
}

func TestNaturalLess(t *testing.T) {
	testCases := []struct {
		a, b     string
		expected bool
	}{
		{"Mix 2", "Mix 10", true},
		{"Mix 10", "Mix 2", false},
		{"mix", "Mix", false},
		{"Mix", "Mix 1", true},
		{"2019 Live", "Autumn", true},
		{"Set 99999999999999999999", "Set 100000000000000000000", true},
	}
	for _, tc := range testCases {
		if got := NaturalLess(tc.a, tc.b); got != tc.expected {
			t.Errorf("NaturalLess(%q, %q): expected %v, got %v", tc.a, tc.b, tc.expected, got)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	testCases := []struct {
		seconds  float64
		expected string
	}{
		{0, "0:00:00"},
		{59.9, "0:00:59"},
		{61, "0:01:01"},
		{3600, "1:00:00"},
		{7384.5, "2:03:04"},
		{-3, "0:00:00"},
		{math.Inf(1), "0:00:00"},
		{math.NaN(), "0:00:00"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, FormatDuration(tc.seconds))
	}
}

func TestGroupVariants(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, decodertest.Touch(dir,
		"b.mp3", "a.flac", "a.MP3", "a.peaks.json", "cover.jpg", ".a.mp3.123.tmp", "sub/c.mp3",
	))

	groups, bases, err := GroupVariants(dir, formats)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, bases)
	assert.Equal(t, []string{"a.MP3", "a.flac"}, groups["a"])
	assert.Equal(t, []string{"b.mp3"}, groups["b"])
}

// fixture lays out one artist directory with three mixes
func fixture(t *testing.T) (library.ArtistDir, *decodertest.Fake) {
	t.Helper()
	src := t.TempDir()
	out := t.TempDir()
	require.NoError(t, decodertest.Touch(src,
		"DJSmith-Mix10.flac", "DJSmith-Mix10.mp3",
		"DJSmith-Mix2.m4a",
		"untagged_set.opus",
		"broken.mp3",
	))
	require.NoError(t, decodertest.Touch(out, "DJSmith-Mix10.peaks.json", "DJSmith-Mix10.png", "DJSmith-Mix2.gif", "DJSmith-Mix2.jpg"))

	fake := decodertest.New()
	fake.Probes["DJSmith-Mix10.flac"] = decoder.Probe{Duration: 3725.2, Tags: decoder.Tags{
		"TITLE": "Mix 10", "ARTIST": "DJ Smith", "GENRE": "Techno",
	}}
	fake.Probes["DJSmith-Mix10.mp3"] = decoder.Probe{Duration: 3725, Tags: decoder.Tags{"title": "Wrong"}}
	fake.Probes["DJSmith-Mix2.m4a"] = decoder.Probe{Duration: 61, Tags: decoder.Tags{
		"title": "Mix 2", "comment": "warm up", "date": "2021",
	}}
	fake.Probes["untagged_set.opus"] = decoder.Probe{Duration: 10}
	fake.ProbeErrs["broken.mp3"] = errors.New("invalid data")

	return library.ArtistDir{ID: "DJSmith", Name: "DJSmith", Source: src, Output: out}, fake
}

func TestBuild(t *testing.T) {
	dir, fake := fixture(t)
	b := NewBuilder(metadata.NewReconciler(fake, nil), formats, 4, nil)

	m, err := b.Build(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, m.Generated)
	require.Len(t, m.Mixes, 3)

	assert.Equal(t, []string{"Mix 2", "Mix 10", "untagged set"}, []string{m.Mixes[0].Name, m.Mixes[1].Name, m.Mixes[2].Name})

	mix10 := m.Mixes[1]
	assert.Equal(t, models.ManifestEntry{
		Name:              "Mix 10",
		File:              "DJSmith-Mix10",
		AudioFile:         "DJSmith-Mix10.mp3",
		Duration:          3725.2,
		DurationFormatted: "1:02:05",
		Artist:            "DJ Smith",
		Downloads: []models.Download{
			{File: "DJSmith-Mix10.flac", Label: "FLAC"},
			{File: "DJSmith-Mix10.mp3", Label: "MP3"},
		},
		Genre:     "Techno",
		PeaksFile: "DJSmith-Mix10.peaks.json",
		CoverFile: "DJSmith-Mix10.png",
	}, mix10)

	mix2 := m.Mixes[0]
	assert.Equal(t, "DJSmith-Mix2.m4a", mix2.AudioFile, "no mp3 so the authoritative variant plays")
	assert.Equal(t, "DJSmith-Mix2.jpg", mix2.CoverFile)
	assert.Empty(t, mix2.PeaksFile)
	assert.Equal(t, "DJSmith", mix2.Artist)
	assert.Equal(t, "warm up", mix2.Comment)

	for _, e := range m.Mixes {
		for _, d := range e.Downloads {
			assert.FileExists(t, filepath.Join(dir.Source, d.File))
		}
	}
}

func TestRunIdempotent(t *testing.T) {
	dir, fake := fixture(t)
	b := NewBuilder(metadata.NewReconciler(fake, nil), formats, 3, nil)

	rec := pipeline.NewRecorder("manifest", nil)
	b.Run(context.Background(), []library.ArtistDir{dir}, rec)
	s := rec.Finish()
	assert.Equal(t, 1, s.Processed)
	assert.Equal(t, 1, s.Failed, "broken.mp3 is reported on its own")

	path := filepath.Join(dir.Output, FileName)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	var m models.Manifest
	require.NoError(t, json.Unmarshal(first, &m))
	assert.Len(t, m.Mixes, 3)
	assert.Contains(t, string(first), "\n  \"mixes\": [")

	b.Run(context.Background(), []library.ArtistDir{dir}, pipeline.NewRecorder("manifest", nil))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestRunSkipsDirectoryWithoutAudio(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	require.NoError(t, decodertest.Touch(src, "readme.txt"))

	b := NewBuilder(metadata.NewReconciler(decodertest.New(), nil), formats, 1, nil)
	rec := pipeline.NewRecorder("manifest", nil)
	b.Run(context.Background(), []library.ArtistDir{{ID: "Empty", Name: "Empty", Source: src, Output: out}}, rec)

	s := rec.Finish()
	assert.Equal(t, 1, s.Skipped)
	assert.NoFileExists(t, filepath.Join(out, FileName))
}

func TestRunCancelled(t *testing.T) {
	dir, fake := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := pipeline.NewRecorder("manifest", nil)
	NewBuilder(metadata.NewReconciler(fake, nil), formats, 2, nil).Run(ctx, []library.ArtistDir{dir}, rec)
	s := rec.Finish()
	assert.Equal(t, 1, s.Failed)
	assert.NoFileExists(t, filepath.Join(dir.Output, FileName))
}

func TestRunNonFiniteDuration(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, decodertest.Touch(src, "endless.mp3", "normal.mp3"))

	fake := decodertest.New()
	fake.Probes["endless.mp3"] = decoder.Probe{Duration: math.Inf(1)}
	fake.Probes["normal.mp3"] = decoder.Probe{Duration: 90}

	dir := library.ArtistDir{ID: "DJ", Name: "DJ", Source: src, Output: src}
	rec := pipeline.NewRecorder("manifest", nil)
	NewBuilder(metadata.NewReconciler(fake, nil), formats, 2, nil).Run(context.Background(), []library.ArtistDir{dir}, rec)

	s := rec.Finish()
	assert.Equal(t, 1, s.Processed)
	assert.Zero(t, s.Failed)

	data, err := os.ReadFile(filepath.Join(src, FileName))
	require.NoError(t, err)
	var m models.Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	require.Len(t, m.Mixes, 2)
	assert.Equal(t, "endless", m.Mixes[0].File)
	assert.Equal(t, 0.0, m.Mixes[0].Duration)
	assert.Equal(t, "0:00:00", m.Mixes[0].DurationFormatted)
}
