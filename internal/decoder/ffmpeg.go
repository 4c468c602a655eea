package decoder

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// FFmpegConfig locates the binaries and bounds each invocation
type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	Timeout     time.Duration
}

// FFmpeg implements Gateway and CoverSource with the ffprobe and ffmpeg binaries
type FFmpeg struct {
	cfg    FFmpegConfig
	logger *logrus.Logger
}

// NewFFmpeg creates an ffmpeg-backed gateway. Empty binary paths default to
// the names on PATH.
func NewFFmpeg(cfg FFmpegConfig, logger *logrus.Logger) *FFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &FFmpeg{cfg: cfg, logger: logger}
}

// CheckBinaries verifies that ffmpeg and ffprobe can be found
func (f *FFmpeg) CheckBinaries() error {
	for _, bin := range []string{f.cfg.FFmpegPath, f.cfg.FFprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found: %w", bin, err)
		}
	}
	return nil
}

// Probe reads format duration and tags with ffprobe
func (f *FFmpeg) Probe(ctx context.Context, path string) (Probe, error) {
	if err := validateFile(path); err != nil {
		return Probe{}, fmt.Errorf("probe failed: %w", err)
	}

	out, err := f.run(ctx, f.cfg.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return Probe{}, err
	}

	probe, err := parseFormatProbe(out)
	if err != nil {
		return Probe{}, fmt.Errorf("probe %s: %w", filepath.Base(path), err)
	}

	if f.logger != nil {
		f.logger.WithFields(logrus.Fields{
			"file":     path,
			"duration": probe.Duration,
			"tags":     len(probe.Tags),
		}).Debug("Probed audio file")
	}
	return probe, nil
}

// Decode pipes the whole file through ffmpeg as raw signed little-endian PCM
func (f *FFmpeg) Decode(ctx context.Context, path string, format PCMFormat) ([]byte, error) {
	if err := validateFile(path); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("%w: %d-bit PCM", ErrUnsupported, format.BitDepth)
	}
	if format.Channels < 1 || format.SampleRate < 1 {
		return nil, fmt.Errorf("invalid PCM layout: %d channels at %d Hz", format.Channels, format.SampleRate)
	}

	return f.run(ctx, f.cfg.FFmpegPath,
		"-i", path,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
		"-v", "quiet",
		"-",
	)
}

// CoverCodec reports the codec of the first video (attached picture) stream
func (f *FFmpeg) CoverCodec(ctx context.Context, path string) (string, error) {
	if err := validateFile(path); err != nil {
		return "", fmt.Errorf("cover probe failed: %w", err)
	}

	out, err := f.run(ctx, f.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "stream=codec_name,codec_type",
		"-of", "json",
		path,
	)
	if err != nil {
		return "", err
	}
	return parseCoverCodec(out)
}

// ExtractCover copies the attached picture stream to dst without re-encoding.
// The image format follows dst's extension.
func (f *FFmpeg) ExtractCover(ctx context.Context, path, dst string) error {
	if err := validateFile(path); err != nil {
		return fmt.Errorf("cover extraction failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	_, err := f.run(ctx, f.cfg.FFmpegPath,
		"-y",
		"-i", path,
		"-an",
		"-c:v", "copy",
		dst,
	)
	return err
}

// run executes a decoder binary and returns its stdout. Stderr is kept for
// the error only.
func (f *FFmpeg) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newCommandError(cmd, stderr.Bytes(), err)
	}
	return stdout.Bytes(), nil
}

// parseFormatProbe reads ffprobe -show_format -show_streams JSON. Format tags
// win; stream tags fill keys the container level lacks (Ogg/Opus keep their
// comments on the stream).
func parseFormatProbe(data []byte) (Probe, error) {
	if !gjson.ValidBytes(data) {
		return Probe{}, ErrInvalidOutput
	}

	probe := Probe{Tags: Tags{}}

	if d := gjson.GetBytes(data, "format.duration"); d.Exists() {
		if v, err := strconv.ParseFloat(strings.TrimSpace(d.String()), 64); err == nil && v > 0 && !math.IsInf(v, 0) {
			probe.Duration = v
		}
	}

	gjson.GetBytes(data, "format.tags").ForEach(func(key, value gjson.Result) bool {
		probe.Tags[key.String()] = value.String()
		return true
	})

	gjson.GetBytes(data, "streams").ForEach(func(_, stream gjson.Result) bool {
		stream.Get("tags").ForEach(func(key, value gjson.Result) bool {
			if _, ok := probe.Tags[key.String()]; !ok {
				probe.Tags[key.String()] = value.String()
			}
			return true
		})
		return true
	})

	return probe, nil
}

// parseCoverCodec picks the codec of the first video stream from ffprobe JSON
func parseCoverCodec(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", ErrInvalidOutput
	}
	codec := gjson.GetBytes(data, `streams.#(codec_type=="video").codec_name`)
	return strings.ToLower(codec.String()), nil
}
