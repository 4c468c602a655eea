// Package peaks turns audio into the fixed-length amplitude envelope the
// player draws as a waveform.
package peaks

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/entripy63/mix.4st.uk/internal/decoder"
	"github.com/entripy63/mix.4st.uk/internal/fsutil"
	"github.com/entripy63/mix.4st.uk/pkg/models"

	"github.com/sirupsen/logrus"
)

// DefaultTargetCount is the envelope length the player expects
const DefaultTargetCount = 4000

// FileSuffix is appended to a mix base name to form its peaks file
const FileSuffix = ".peaks.json"

// minSampleRate keeps very long mixes from decoding at a useless rate
const minSampleRate = 100

var (
	// ErrProbeFailure means the decoder could not report a positive duration.
	ErrProbeFailure = errors.New("probe failure")
	// ErrEmptyStream means decoding produced no samples.
	ErrEmptyStream = errors.New("empty stream")
)

// Extractor produces peak envelopes through a decoder gateway
type Extractor struct {
	gateway     decoder.Gateway
	targetCount int
	logger      *logrus.Logger
}

// NewExtractor creates an extractor; a non-positive targetCount uses the default
func NewExtractor(gw decoder.Gateway, targetCount int, logger *logrus.Logger) *Extractor {
	if targetCount < 1 {
		targetCount = DefaultTargetCount
	}
	return &Extractor{gateway: gw, targetCount: targetCount, logger: logger}
}

// Extract probes the file for its duration, decodes it to low-rate mono
// PCM and reduces the samples to at most TargetCount normalised peaks.
func (e *Extractor) Extract(ctx context.Context, path string) (models.PeakEnvelope, error) {
	probe, err := e.gateway.Probe(ctx, path)
	if err != nil {
		return models.PeakEnvelope{}, fmt.Errorf("%w: %s: %v", ErrProbeFailure, filepath.Base(path), err)
	}
	duration := probe.Duration
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return models.PeakEnvelope{}, fmt.Errorf("%w: %s: no usable duration", ErrProbeFailure, filepath.Base(path))
	}

	rate := SampleRate(e.targetCount, duration)
	pcm, err := e.gateway.Decode(ctx, path, decoder.MonoS16(rate))
	if err != nil {
		return models.PeakEnvelope{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	amplitudes := Amplitudes(pcm)
	if len(amplitudes) == 0 {
		return models.PeakEnvelope{}, fmt.Errorf("%w: %s", ErrEmptyStream, filepath.Base(path))
	}

	peaks := Downsample(amplitudes, e.targetCount)

	if e.logger != nil {
		e.logger.WithFields(logrus.Fields{
			"file":        path,
			"duration":    duration,
			"sample_rate": rate,
			"samples":     len(amplitudes),
			"peaks":       len(peaks),
		}).Debug("Extracted peaks")
	}

	return models.PeakEnvelope{Peaks: peaks, Duration: duration}, nil
}

// SampleRate picks the decode rate for an envelope of targetCount points:
// ten samples per point on average, never below 100 Hz.
func SampleRate(targetCount int, duration float64) int {
	rate := int(math.Floor(float64(targetCount) / duration * 10))
	if rate < minSampleRate {
		return minSampleRate
	}
	return rate
}

// Amplitudes maps s16le PCM to absolute amplitudes in [0,1]. A trailing
// odd byte is ignored.
func Amplitudes(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		out[i] = math.Abs(float64(s)) / 32768.0
	}
	return out
}

// Downsample max-pools amplitudes into chunks of len/targetCount samples,
// keeps at most targetCount chunks and scales so the loudest is 1.0. An
// all-silent input stays all zero.
func Downsample(amplitudes []float64, targetCount int) []float64 {
	if len(amplitudes) == 0 || targetCount < 1 {
		return []float64{}
	}

	chunkSize := len(amplitudes) / targetCount
	if chunkSize < 1 {
		chunkSize = 1
	}

	peaks := make([]float64, 0, len(amplitudes)/chunkSize+1)
	for i := 0; i < len(amplitudes); i += chunkSize {
		end := i + chunkSize
		if end > len(amplitudes) {
			end = len(amplitudes)
		}
		peak := amplitudes[i]
		for _, a := range amplitudes[i+1 : end] {
			if a > peak {
				peak = a
			}
		}
		peaks = append(peaks, peak)
	}

	if len(peaks) > targetCount {
		peaks = peaks[:targetCount]
	}

	maxPeak := 0.0
	for _, p := range peaks {
		if p > maxPeak {
			maxPeak = p
		}
	}
	if maxPeak > 0 {
		for i := range peaks {
			peaks[i] /= maxPeak
		}
	}
	return peaks
}

// FileName returns the peaks file name for an audio file name
func FileName(audioFile string) string {
	return strings.TrimSuffix(audioFile, filepath.Ext(audioFile)) + FileSuffix
}

// WriteFile stores an envelope atomically as compact JSON
func WriteFile(path string, env models.PeakEnvelope) error {
	if env.Peaks == nil {
		env.Peaks = []float64{}
	}
	return fsutil.WriteJSONAtomic(path, env, "")
}
