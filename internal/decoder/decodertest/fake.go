// Package decodertest provides an in-memory decoder.Gateway for tests.
package decodertest

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/entripy63/mix.4st.uk/internal/decoder"
)

// Fake answers probes and decodes from maps keyed by file base name.
// Unknown files fail with decoder.ErrFileNotFound.
type Fake struct {
	Probes     map[string]decoder.Probe
	ProbeErrs  map[string]error
	PCM        map[string][]byte
	DecodeErrs map[string]error
	// Covers maps a file to its attached picture codec; CoverData is what
	// ExtractCover writes.
	Covers    map[string]string
	CoverData map[string][]byte
	// CoverDelay slows CoverCodec down so concurrent callers overlap.
	CoverDelay time.Duration

	mu          sync.Mutex
	probeCalls  map[string]int
	decodeCalls map[string]int
	formats     map[string]decoder.PCMFormat
}

// New returns an empty fake
func New() *Fake {
	return &Fake{
		Probes:     map[string]decoder.Probe{},
		ProbeErrs:  map[string]error{},
		PCM:        map[string][]byte{},
		DecodeErrs: map[string]error{},
		Covers:     map[string]string{},
		CoverData:  map[string][]byte{},
	}
}

func (f *Fake) Probe(ctx context.Context, path string) (decoder.Probe, error) {
	name := filepath.Base(path)
	f.mu.Lock()
	if f.probeCalls == nil {
		f.probeCalls = map[string]int{}
	}
	f.probeCalls[name]++
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return decoder.Probe{}, err
	}
	if err, ok := f.ProbeErrs[name]; ok {
		return decoder.Probe{}, err
	}
	p, ok := f.Probes[name]
	if !ok {
		return decoder.Probe{}, fmt.Errorf("%w: %s", decoder.ErrFileNotFound, path)
	}
	tags := decoder.Tags{}
	for k, v := range p.Tags {
		tags[k] = v
	}
	return decoder.Probe{Duration: p.Duration, Tags: tags}, nil
}

func (f *Fake) Decode(ctx context.Context, path string, format decoder.PCMFormat) ([]byte, error) {
	name := filepath.Base(path)
	f.mu.Lock()
	if f.decodeCalls == nil {
		f.decodeCalls = map[string]int{}
		f.formats = map[string]decoder.PCMFormat{}
	}
	f.decodeCalls[name]++
	f.formats[name] = format
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.DecodeErrs[name]; ok {
		return nil, err
	}
	data, ok := f.PCM[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", decoder.ErrFileNotFound, path)
	}
	return append([]byte(nil), data...), nil
}

func (f *Fake) CoverCodec(ctx context.Context, path string) (string, error) {
	if f.CoverDelay > 0 {
		select {
		case <-time.After(f.CoverDelay):
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.Covers[filepath.Base(path)], nil
}

func (f *Fake) ExtractCover(ctx context.Context, path, dst string) error {
	data, ok := f.CoverData[filepath.Base(path)]
	if !ok {
		return fmt.Errorf("no cover data for %s", path)
	}
	return os.WriteFile(dst, data, 0644)
}

// ProbeCalls reports how many times name was probed
func (f *Fake) ProbeCalls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeCalls[name]
}

// DecodeCalls reports how many times name was decoded
func (f *Fake) DecodeCalls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decodeCalls[name]
}

// LastFormat returns the PCM layout of the last decode of name
func (f *Fake) LastFormat(name string) decoder.PCMFormat {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.formats[name]
}

// S16 encodes samples as signed 16-bit little-endian PCM
func S16(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// Touch creates placeholder files so directory scans find them
func Touch(dir string, names ...string) error {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			return err
		}
	}
	return nil
}
