package peaks

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
	"github.com/entripy63/mix.4st.uk/internal/pipeline"
	"github.com/entripy63/mix.4st.uk/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRate(t *testing.T) {
	testCases := []struct {
		count    int
		duration float64
		expected int
	}{
		{4000, 3600, 100},
		{4000, 400, 100},
		{4000, 10, 4000},
		{4000, 0.5, 80000},
		{10, 1, 100},
	}
	for _, tc := range testCases {
		if got := SampleRate(tc.count, tc.duration); got != tc.expected {
			t.Errorf("SampleRate(%d, %v): expected %d, got %d", tc.count, tc.duration, tc.expected, got)
		}
	}
}

func TestAmplitudes(t *testing.T) {
	t.Run("scales to unit range", func(t *testing.T) {
		got := Amplitudes(decodertest.S16(0, 16384, -32768, 32767))
		assert.Equal(t, []float64{0, 0.5, 1, 32767.0 / 32768.0}, got)
	})

	t.Run("odd trailing byte ignored", func(t *testing.T) {
		pcm := append(decodertest.S16(-16384), 0x7f)
		assert.Equal(t, []float64{0.5}, Amplitudes(pcm))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Amplitudes(nil))
		assert.Empty(t, Amplitudes([]byte{1}))
	})
}

func TestDownsample(t *testing.T) {
	t.Run("max pools and normalises", func(t *testing.T) {
		got := Downsample([]float64{0.1, 0.2, 0.4, 0.3, 0.05, 0.1}, 3)
		require.Len(t, got, 3)
		assert.InDelta(t, 0.5, got[0], 1e-9)
		assert.InDelta(t, 1.0, got[1], 1e-9)
		assert.InDelta(t, 0.25, got[2], 1e-9)
	})

	t.Run("remainder chunk truncated", func(t *testing.T) {
		amps := make([]float64, 10)
		amps[9] = 1
		amps[0] = 0.5
		got := Downsample(amps, 4)
		require.Len(t, got, 4)
		assert.Equal(t, 1.0, got[0], "loudest kept chunk becomes 1.0")
	})

	t.Run("fewer samples than target", func(t *testing.T) {
		got := Downsample([]float64{0.2, 0.4}, 4000)
		assert.Equal(t, []float64{0.5, 1}, got)
	})

	t.Run("silence stays zero", func(t *testing.T) {
		got := Downsample(make([]float64, 100), 10)
		require.Len(t, got, 10)
		for _, p := range got {
			assert.Zero(t, p)
		}
	})

	t.Run("length and max on a long input", func(t *testing.T) {
		amps := make([]float64, 123457)
		for i := range amps {
			amps[i] = math.Abs(math.Sin(float64(i) / 97))
		}
		first := Downsample(amps, 4000)
		second := Downsample(amps, 4000)

		assert.LessOrEqual(t, len(first), 4000)
		maxPeak := 0.0
		for _, p := range first {
			maxPeak = math.Max(maxPeak, p)
		}
		assert.Equal(t, 1.0, maxPeak)
		assert.Equal(t, first, second)
	})
}

func TestExtract(t *testing.T) {
	fake := decodertest.New()
	fake.Probes["set.mp3"] = decoder.Probe{Duration: 10}
	fake.PCM["set.mp3"] = decodertest.S16(0, 16384, -32768, 8192)

	env, err := NewExtractor(fake, 2, nil).Extract(context.Background(), "/lib/set.mp3")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1}, env.Peaks)
	assert.Equal(t, 10.0, env.Duration)
	assert.Equal(t, decoder.MonoS16(100), fake.LastFormat("set.mp3"))
}

func TestExtractErrors(t *testing.T) {
	fake := decodertest.New()
	fake.Probes["zero.mp3"] = decoder.Probe{Duration: 0}
	fake.Probes["nan.mp3"] = decoder.Probe{Duration: math.NaN()}
	fake.Probes["empty.mp3"] = decoder.Probe{Duration: 5}
	fake.PCM["empty.mp3"] = []byte{0x01}
	fake.Probes["broken.mp3"] = decoder.Probe{Duration: 5}
	fake.DecodeErrs["broken.mp3"] = errors.New("invalid data found")

	e := NewExtractor(fake, 0, nil)

	testCases := []struct {
		file     string
		expected error
	}{
		{"missing.mp3", ErrProbeFailure},
		{"zero.mp3", ErrProbeFailure},
		{"nan.mp3", ErrProbeFailure},
		{"empty.mp3", ErrEmptyStream},
	}
	for _, tc := range testCases {
		t.Run(tc.file, func(t *testing.T) {
			_, err := e.Extract(context.Background(), tc.file)
			assert.ErrorIs(t, err, tc.expected)
		})
	}

	_, err := e.Extract(context.Background(), "broken.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid data found")
	assert.Zero(t, fake.DecodeCalls("zero.mp3"))
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName("set.flac"))
	assert.Equal(t, "set.peaks.json", filepath.Base(path))

	require.NoError(t, WriteFile(path, models.PeakEnvelope{Peaks: []float64{0.5, 1}, Duration: 12.5}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"peaks":[0.5,1],"duration":12.5}`, string(data))

	require.NoError(t, WriteFile(path, models.PeakEnvelope{Duration: 1}))
	var env models.PeakEnvelope
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &env))
	assert.NotNil(t, env.Peaks)
}

func TestGeneratorRun(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	require.NoError(t, decodertest.Touch(src, "a.mp3", "b.flac", "notes.txt"))
	require.NoError(t, os.WriteFile(filepath.Join(out, "b.peaks.json"), []byte(`{"peaks":[],"duration":1}`), 0644))

	fake := decodertest.New()
	fake.Probes["a.mp3"] = decoder.Probe{Duration: 2}
	fake.PCM["a.mp3"] = decodertest.S16(100, 200)

	dirs := []library.ArtistDir{{ID: "DJSmith", Name: "DJSmith", Source: src, Output: out}}
	opts := GeneratorOptions{Formats: []string{".mp3", ".flac"}, Workers: 2}

	gen := NewGenerator(NewExtractor(fake, 10, nil), opts, nil)
	assert.Equal(t, 2, gen.Count(dirs))

	rec := pipeline.NewRecorder("peaks", nil)
	gen.Run(context.Background(), dirs, rec)
	s := rec.Finish()
	assert.Equal(t, 1, s.Processed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 0, s.Failed)
	assert.FileExists(t, filepath.Join(out, "a.peaks.json"))
	assert.Zero(t, fake.ProbeCalls("b.flac"))

	t.Run("force regenerates", func(t *testing.T) {
		opts.Force = true
		rec := pipeline.NewRecorder("peaks", nil)
		NewGenerator(NewExtractor(fake, 10, nil), opts, nil).Run(context.Background(), dirs, rec)
		s := rec.Finish()
		assert.Equal(t, 1, s.Processed)
		assert.Equal(t, 1, s.Failed, "b.flac has no probe in the fake")
		assert.Equal(t, 1, fake.ProbeCalls("b.flac"))
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rec := pipeline.NewRecorder("peaks", nil)
		NewGenerator(NewExtractor(fake, 10, nil), opts, nil).Run(ctx, dirs, rec)
		s := rec.Finish()
		assert.Equal(t, 2, s.Failed)
	})
}
