package decoder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
)

// Native answers probes without an external process: tags come from
// dhowden/tag and durations from the container headers. It cannot decode.
type Native struct {
	logger *logrus.Logger
}

// NewNative creates an in-process prober
func NewNative(logger *logrus.Logger) *Native {
	return &Native{logger: logger}
}

// Probe reads tags and duration from the file itself
func (n *Native) Probe(ctx context.Context, path string) (Probe, error) {
	if err := validateFile(path); err != nil {
		return Probe{}, fmt.Errorf("native probe failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Probe{}, err
	}

	startTime := time.Now()
	probe := Probe{Tags: Tags{}}

	tags, tagErr := n.readTags(path)
	if tagErr == nil {
		probe.Tags = tags
	}

	duration, durErr := n.calculateDuration(path)
	if durErr == nil {
		probe.Duration = duration
	}

	if tagErr != nil && durErr != nil {
		return Probe{}, fmt.Errorf("native probe of %s: %w", filepath.Base(path), errors.Join(tagErr, durErr))
	}

	if n.logger != nil {
		n.logger.WithFields(logrus.Fields{
			"file":           path,
			"duration":       probe.Duration,
			"tags":           len(probe.Tags),
			"processingTime": time.Since(startTime),
		}).Debug("Native probe complete")
	}
	return probe, nil
}

// readTags maps the common tag accessors onto ffprobe-style lowercase keys
func (n *Native) readTags(path string) (Tags, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		return nil, err
	}

	tags := Tags{}
	set := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			tags[key] = value
		}
	}
	set("title", metadata.Title())
	set("artist", metadata.Artist())
	set("album", metadata.Album())
	set("album_artist", metadata.AlbumArtist())
	set("genre", metadata.Genre())
	set("comment", metadata.Comment())
	if year := metadata.Year(); year > 0 {
		set("date", strconv.Itoa(year))
	}
	return tags, nil
}

// EmbeddedPicture returns the attached picture and the file extension its
// bytes indicate.
func (n *Native) EmbeddedPicture(path string) ([]byte, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		return nil, "", err
	}
	picture := metadata.Picture()
	if picture == nil || len(picture.Data) == 0 {
		return nil, "", nil
	}
	return picture.Data, ImageExtension(picture.Data), nil
}

// ImageExtension guesses a file extension from image magic bytes, defaulting to .jpg
func ImageExtension(data []byte) string {
	switch {
	case len(data) >= 4 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return ".png"
	case len(data) >= 3 && data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46:
		return ".gif"
	case len(data) >= 2 && data[0] == 0x42 && data[1] == 0x4D:
		return ".bmp"
	default:
		return ".jpg"
	}
}

// calculateDuration calculates the duration of an audio file in seconds
func (n *Native) calculateDuration(filePath string) (float64, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp3":
		return n.durationMP3(filePath)
	case ".flac":
		return n.durationFLAC(filePath)
	case ".wav":
		return n.durationWAV(filePath)
	case ".m4a":
		return n.durationM4A(filePath)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
}

// durationMP3 sums frame durations; only a file with no decodable frame fails
func (n *Native) durationMP3(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 {
				return 0, fmt.Errorf("no mp3 frames: %w", err)
			}
			break // partial decode; use what we have
		}
		total += fr.Duration()
		frames++
	}
	if frames == 0 {
		return 0, fmt.Errorf("no mp3 frames")
	}
	return total.Seconds(), nil
}

// durationFLAC reads STREAMINFO
func (n *Native) durationFLAC(path string) (float64, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		return float64(si.NSamples) / float64(si.SampleRate), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

// durationWAV uses the decoded header and the PCM chunk size
func (n *Native) durationWAV(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("invalid wav header: %w", err)
	}
	return d.Seconds(), nil
}

// durationM4A reads timescale and duration from the moov/mvhd atom
func (n *Native) durationM4A(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	for {
		atom, body, err := readAtomHeader(f)
		if err != nil {
			return 0, err
		}
		if atom != "moov" {
			if body < 0 {
				return 0, fmt.Errorf("moov atom not found")
			}
			if _, err := f.Seek(body, io.SeekCurrent); err != nil {
				return 0, err
			}
			continue
		}

		for read := int64(0); body < 0 || read < body; {
			sub, subBody, err := readAtomHeader(f)
			if err != nil {
				return 0, err
			}
			if sub == "mvhd" {
				return readMVHD(f)
			}
			if subBody < 0 {
				break
			}
			if _, err := f.Seek(subBody, io.SeekCurrent); err != nil {
				return 0, err
			}
			read += 8 + subBody
		}
		return 0, fmt.Errorf("mvhd atom not found")
	}
}

// readAtomHeader returns an atom's type and the size of its body. A 32-bit
// size of 1 is followed by a 64-bit size; 0 means the atom runs to the end of
// the file and is reported as a body size of -1.
func readAtomHeader(r io.Reader) (string, int64, error) {
	head := make([]byte, 8)
	if _, err := io.ReadFull(r, head); err != nil {
		return "", 0, err
	}
	atom := string(head[4:8])
	switch size := binary.BigEndian.Uint32(head[0:4]); {
	case size == 0:
		return atom, -1, nil
	case size == 1:
		if _, err := io.ReadFull(r, head); err != nil {
			return "", 0, err
		}
		large := binary.BigEndian.Uint64(head)
		if large < 16 || large > math.MaxInt64 {
			return "", 0, fmt.Errorf("invalid atom size")
		}
		return atom, int64(large) - 16, nil
	case size < 8:
		return "", 0, fmt.Errorf("invalid atom size")
	default:
		return atom, int64(size) - 8, nil
	}
}

func readMVHD(r io.ReadSeeker) (float64, error) {
	version := make([]byte, 1)
	if _, err := io.ReadFull(r, version); err != nil {
		return 0, err
	}

	var timescale uint32
	var units uint64
	if version[0] == 1 {
		// flags(3) creation(8) modification(8) timescale(4) duration(8)
		buf := make([]byte, 3+8+8+4+8)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		timescale = binary.BigEndian.Uint32(buf[19:23])
		units = binary.BigEndian.Uint64(buf[23:31])
	} else {
		// flags(3) creation(4) modification(4) timescale(4) duration(4)
		buf := make([]byte, 3+4+4+4+4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		timescale = binary.BigEndian.Uint32(buf[11:15])
		units = uint64(binary.BigEndian.Uint32(buf[15:19]))
	}
	if timescale == 0 {
		return 0, fmt.Errorf("invalid timescale")
	}
	return float64(units) / float64(timescale), nil
}
