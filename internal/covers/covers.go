// Package covers extracts embedded cover art into image files next to each
// mix, named after the mix's base name.
package covers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/entripy63/mix.4st.uk/internal/decoder"
	"github.com/entripy63/mix.4st.uk/internal/fsutil"
	"github.com/entripy63/mix.4st.uk/internal/library"
	"github.com/entripy63/mix.4st.uk/internal/manifest"
	"github.com/entripy63/mix.4st.uk/internal/metadata"
	"github.com/entripy63/mix.4st.uk/internal/pipeline"

	"github.com/sirupsen/logrus"
)

// DefaultFormats are the audio files searched for artwork
var DefaultFormats = []string{".mp3", ".m4a", ".flac", ".ogg", ".wav"}

// PictureReader reads an embedded picture without an external decoder
type PictureReader interface {
	EmbeddedPicture(path string) ([]byte, string, error)
}

// Stats counts cover outcomes
type Stats struct {
	Extracted int
	Skipped   int
	NoArt     int
	Failed    int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d extracted, %d skipped, %d without art, %d failed", s.Extracted, s.Skipped, s.NoArt, s.Failed)
}

// Extractor writes cover images for audio files
type Extractor struct {
	source   decoder.CoverSource
	fallback PictureReader
	formats  []string
	workers  int
	logger   *logrus.Logger
}

// NewExtractor creates an extractor. fallback may be nil.
func NewExtractor(source decoder.CoverSource, fallback PictureReader, formats []string, workers int, logger *logrus.Logger) *Extractor {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	return &Extractor{
		source:   source,
		fallback: fallback,
		formats:  formats,
		workers:  workers,
		logger:   logger,
	}
}

// ImageExtension maps a picture stream codec to a file extension
func ImageExtension(codec string) string {
	switch strings.ToLower(codec) {
	case "png":
		return ".png"
	case "bmp":
		return ".bmp"
	case "gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

// job is one base name in one artist directory. variants are tried in
// metadata.AuthorityOrder until one of them leaves a cover behind.
type job struct {
	id       string
	source   string
	outDir   string
	base     string
	variants []string
}

func (e *Extractor) jobsFor(dirs []library.ArtistDir, rec *pipeline.Recorder) []job {
	var jobs []job
	for _, d := range dirs {
		entries, err := os.ReadDir(d.Source)
		if err != nil {
			rec.Failed(d.ID, err)
			continue
		}
		groups := make(map[string][]string)
		var bases []string
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || fsutil.IsTempName(name) || !library.HasExtension(name, e.formats) {
				continue
			}
			base := strings.TrimSuffix(name, filepath.Ext(name))
			if _, ok := groups[base]; !ok {
				bases = append(bases, base)
			}
			groups[base] = append(groups[base], name)
		}
		sort.Strings(bases)
		for _, base := range bases {
			jobs = append(jobs, job{
				id:       d.ID,
				source:   d.Source,
				outDir:   d.Output,
				base:     base,
				variants: metadata.OrderVariants(groups[base]),
			})
		}
	}
	return jobs
}

// Run extracts covers for every mix in dirs. Variants sharing a base name
// share one cover: once a variant has produced it the rest are skipped.
func (e *Extractor) Run(ctx context.Context, dirs []library.ArtistDir, rec *pipeline.Recorder) Stats {
	jobs := e.jobsFor(dirs, rec)

	var extracted, skipped, noArt, failed atomic.Int64
	unstarted := pipeline.ForEach(ctx, e.workers, jobs, func(ctx context.Context, j job) {
		producer := ""
		for _, name := range j.variants {
			item := j.id + "/" + name
			if existing := manifest.CoverFile(j.outDir, j.base); existing != "" {
				skipped.Add(1)
				if producer != "" {
					rec.Skipped(item, "cover shared with "+producer)
				} else {
					rec.Skipped(item, "cover exists: "+existing)
				}
				continue
			}

			cover, err := e.Extract(ctx, filepath.Join(j.source, name), j.outDir)
			switch {
			case err != nil:
				failed.Add(1)
				rec.Failed(item, err)
			case cover == "":
				noArt.Add(1)
				rec.Skipped(item, "no embedded art")
			default:
				extracted.Add(1)
				producer = name
				rec.Processed(item, cover)
			}
		}
	})
	for _, j := range unstarted {
		for _, name := range j.variants {
			failed.Add(1)
			rec.Failed(j.id+"/"+name, ctx.Err())
		}
	}

	return Stats{
		Extracted: int(extracted.Load()),
		Skipped:   int(skipped.Load()),
		NoArt:     int(noArt.Load()),
		Failed:    int(failed.Load()),
	}
}

// Extract writes the cover of audio into outDir and returns the image's file
// name, or "" when the file carries no artwork.
func (e *Extractor) Extract(ctx context.Context, audio, outDir string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(audio), filepath.Ext(audio))

	codec, err := e.source.CoverCodec(ctx, audio)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if e.logger != nil {
			e.logger.WithError(err).WithField("file", audio).Debug("Cover probe failed")
		}
	}

	if codec != "" {
		name := base + ImageExtension(codec)
		err := fsutil.ProduceAtomic(filepath.Join(outDir, name), func(tmp string) error {
			return e.source.ExtractCover(ctx, audio, tmp)
		})
		if err != nil {
			return "", fmt.Errorf("failed to extract cover: %w", err)
		}
		return name, nil
	}

	if e.fallback == nil {
		if err != nil {
			return "", err
		}
		return "", nil
	}

	data, ext, perr := e.fallback.EmbeddedPicture(audio)
	if perr != nil {
		if err != nil {
			return "", err
		}
		// unreadable tags count as no artwork
		return "", nil
	}
	if len(data) == 0 {
		return "", nil
	}
	name := base + ext
	if err := fsutil.WriteFileAtomic(filepath.Join(outDir, name), data, 0644); err != nil {
		return "", err
	}
	return name, nil
}
