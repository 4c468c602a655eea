// Package decoder is the boundary to the external audio decoder. The rest of
// the module only sees the Gateway interface: a probe for container metadata
// and a decode to raw PCM. FFmpeg implements it by shelling out to
// ffprobe/ffmpeg; Native answers probes from tags and headers read in-process.
package decoder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

var (
	ErrFileNotFound  = fmt.Errorf("file not found")
	ErrFileEmpty     = fmt.Errorf("file is empty")
	ErrInvalidPath   = fmt.Errorf("invalid path")
	ErrUnsupported   = fmt.Errorf("unsupported format")
	ErrInvalidOutput = fmt.Errorf("unreadable decoder output")
)

// Probe is what the decoder reports about one audio file. Duration is zero
// when the container did not carry a usable value.
type Probe struct {
	Duration float64
	Tags     Tags
}

func (p Probe) clone() Probe {
	tags := make(Tags, len(p.Tags))
	for k, v := range p.Tags {
		tags[k] = v
	}
	return Probe{Duration: p.Duration, Tags: tags}
}

// PCMFormat selects the raw sample layout requested from Decode
type PCMFormat struct {
	Channels   int
	SampleRate int
	BitDepth   int
}

// MonoS16 is the layout the peak extractor decodes to
func MonoS16(sampleRate int) PCMFormat {
	return PCMFormat{Channels: 1, SampleRate: sampleRate, BitDepth: 16}
}

// Prober reads container metadata
type Prober interface {
	Probe(ctx context.Context, path string) (Probe, error)
}

// Gateway probes and decodes audio files
type Gateway interface {
	Prober
	// Decode returns little-endian signed PCM in the requested layout.
	Decode(ctx context.Context, path string, format PCMFormat) ([]byte, error)
}

// CoverSource finds and extracts attached pictures
type CoverSource interface {
	// CoverCodec returns the codec name of the first attached picture stream,
	// or "" when the file has none.
	CoverCodec(ctx context.Context, path string) (string, error)
	ExtractCover(ctx context.Context, path, dst string) error
}

// Tags is a raw tag mapping as reported by the container
type Tags map[string]string

// Lookup returns the first non-empty value among keys. Each key is tried as
// written first and then case-insensitively, so "title" also finds "Title".
func (t Tags) Lookup(keys ...string) string {
	var names []string
	for _, key := range keys {
		if v := strings.TrimSpace(t[key]); v != "" {
			return v
		}
		if names == nil {
			names = make([]string, 0, len(t))
			for k := range t {
				names = append(names, k)
			}
			sort.Strings(names)
		}
		for _, k := range names {
			if !strings.EqualFold(k, key) {
				continue
			}
			if v := strings.TrimSpace(t[k]); v != "" {
				return v
			}
		}
	}
	return ""
}

// CommandError wraps a failed decoder process with its command line and output
type CommandError struct {
	Cmd     string
	Output  string
	wrapped error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("decoder error: %s\nCommand: %s\nOutput: %s", e.wrapped, e.Cmd, e.Output)
}

func (e *CommandError) Unwrap() error {
	return e.wrapped
}

// newCommandError creates a CommandError with a truncated command line
func newCommandError(cmd *exec.Cmd, output []byte, err error) error {
	cmdStr := cmd.String()
	if len(cmdStr) > 200 {
		cmdStr = cmdStr[:200] + "..."
	}
	out := strings.TrimSpace(string(output))
	if len(out) > 2000 {
		out = out[len(out)-2000:]
	}
	return &CommandError{
		Cmd:     cmdStr,
		Output:  out,
		wrapped: err,
	}
}

// validateFile checks that path is a readable, non-empty regular file
func validateFile(path string) error {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("unable to access file: %s: %w", path, err)
	}

	if fileInfo.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidPath, path)
	}

	if fileInfo.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrFileEmpty, path)
	}

	return nil
}
