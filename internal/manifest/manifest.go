// Package manifest builds the per-artist manifest.json the player lists mixes
// from.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/entripy63/mix.4st.uk/internal/fsutil"
	"github.com/entripy63/mix.4st.uk/internal/library"
	"github.com/entripy63/mix.4st.uk/internal/metadata"
	"github.com/entripy63/mix.4st.uk/internal/peaks"
	"github.com/entripy63/mix.4st.uk/internal/pipeline"
	"github.com/entripy63/mix.4st.uk/pkg/models"

	"github.com/sirupsen/logrus"
)

// FileName is the manifest written into every artist output directory
const FileName = "manifest.json"

// CoverExtensions are tried in order when looking for a mix's cover image
var CoverExtensions = []string{".jpg", ".png", ".gif", ".bmp"}

// ErrNoAudio is returned for a directory without any audio variants
var ErrNoAudio = errors.New("no audio files found")

// Builder assembles manifests from reconciled mixes
type Builder struct {
	reconciler *metadata.Reconciler
	formats    []string
	workers    int
	logger     *logrus.Logger
}

// NewBuilder creates a builder. formats are the audio extensions grouped into
// mixes; workers bounds how many mixes are reconciled at once.
func NewBuilder(reconciler *metadata.Reconciler, formats []string, workers int, logger *logrus.Logger) *Builder {
	return &Builder{
		reconciler: reconciler,
		formats:    formats,
		workers:    workers,
		logger:     logger,
	}
}

// mixFailure is a base name whose variants could not be reconciled
type mixFailure struct {
	base string
	err  error
}

// GroupVariants maps each base name in dir to the file names sharing it.
// Bases are returned sorted.
func GroupVariants(dir string, formats []string) (map[string][]string, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	groups := make(map[string][]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || fsutil.IsTempName(name) || !library.HasExtension(name, formats) {
			continue
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))
		groups[base] = append(groups[base], name)
	}

	bases := make([]string, 0, len(groups))
	for base, names := range groups {
		sort.Strings(names)
		bases = append(bases, base)
	}
	sort.Strings(bases)
	return groups, bases, nil
}

// Build reconciles every mix in dir and returns the manifest. Mixes that
// cannot be reconciled are logged and left out.
func (b *Builder) Build(ctx context.Context, dir library.ArtistDir) (models.Manifest, error) {
	m, _, err := b.build(ctx, dir)
	return m, err
}

func (b *Builder) build(ctx context.Context, dir library.ArtistDir) (models.Manifest, []mixFailure, error) {
	groups, bases, err := GroupVariants(dir.Source, b.formats)
	if err != nil {
		return models.Manifest{}, nil, fmt.Errorf("failed to read %s: %w", dir.Source, err)
	}
	if len(bases) == 0 {
		return models.Manifest{}, nil, ErrNoAudio
	}

	startTime := time.Now()
	entries := make([]*models.ManifestEntry, len(bases))
	var (
		mu       sync.Mutex
		failures []mixFailure
	)

	indexes := make([]int, len(bases))
	for i := range indexes {
		indexes[i] = i
	}
	unstarted := pipeline.ForEach(ctx, b.workers, indexes, func(ctx context.Context, i int) {
		base := bases[i]
		paths := make([]string, len(groups[base]))
		for j, name := range groups[base] {
			paths[j] = filepath.Join(dir.Source, name)
		}

		mix, err := b.reconciler.Reconcile(ctx, paths, dir.Name)
		if err != nil {
			mu.Lock()
			failures = append(failures, mixFailure{base: base, err: err})
			mu.Unlock()
			return
		}
		entry := Entry(mix, dir)
		entries[i] = &entry
	})
	if len(unstarted) > 0 {
		return models.Manifest{}, nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return models.Manifest{}, nil, err
	}

	m := models.Manifest{Generated: true, Mixes: []models.ManifestEntry{}}
	for _, e := range entries {
		if e != nil {
			m.Mixes = append(m.Mixes, *e)
		}
	}
	sort.SliceStable(m.Mixes, func(i, j int) bool {
		return NaturalLess(m.Mixes[i].Name, m.Mixes[j].Name)
	})
	sort.Slice(failures, func(i, j int) bool { return failures[i].base < failures[j].base })

	if b.logger != nil {
		for _, f := range failures {
			b.logger.WithFields(logrus.Fields{
				"dir":  dir.ID,
				"base": f.base,
			}).WithError(f.err).Warn("Skipping mix without usable metadata")
		}
		b.logger.WithFields(logrus.Fields{
			"dir":            dir.ID,
			"mixes":          len(m.Mixes),
			"failed":         len(failures),
			"processingTime": time.Since(startTime),
		}).Debug("Built manifest")
	}
	return m, failures, nil
}

// Entry turns a reconciled mix into its manifest entry. Variants are looked up
// in the source directory and sibling artifacts in the output directory.
func Entry(mix metadata.Mix, dir library.ArtistDir) models.ManifestEntry {
	byExt := make(map[string]string, len(mix.Variants))
	for _, name := range mix.Variants {
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := byExt[ext]; !ok && fsutil.Exists(filepath.Join(dir.Source, name)) {
			byExt[ext] = name
		}
	}

	entry := models.ManifestEntry{
		Name:              mix.Title,
		File:              mix.Base,
		AudioFile:         mix.Source,
		Duration:          mix.Duration,
		DurationFormatted: FormatDuration(mix.Duration),
		Artist:            mix.Artist,
		Downloads:         []models.Download{},
		Genre:             mix.Genre,
		Date:              mix.Date,
		Comment:           mix.Comment,
	}
	if primary, ok := byExt[metadata.StreamingFormat]; ok {
		entry.AudioFile = primary
	}

	for _, f := range metadata.DownloadOrder {
		if name, ok := byExt[f.Ext]; ok {
			entry.Downloads = append(entry.Downloads, models.Download{File: name, Label: f.Label})
		}
	}

	if name := mix.Base + peaks.FileSuffix; fsutil.Exists(filepath.Join(dir.Output, name)) {
		entry.PeaksFile = name
	}
	entry.CoverFile = CoverFile(dir.Output, mix.Base)
	return entry
}

// CoverFile returns the first existing cover image name for base, or ""
func CoverFile(dir, base string) string {
	for _, ext := range CoverExtensions {
		if name := base + ext; fsutil.Exists(filepath.Join(dir, name)) {
			return name
		}
	}
	return ""
}

// Write stores m as dir/manifest.json, indented two spaces, atomically
func Write(dir string, m models.Manifest) error {
	if m.Mixes == nil {
		m.Mixes = []models.ManifestEntry{}
	}
	return fsutil.WriteJSONAtomic(filepath.Join(dir, FileName), m, "  ")
}

// Run builds and writes the manifest of every directory, one outcome per
// directory. A directory whose mixes all fail still gets a manifest, and each
// failed mix is recorded on its own.
func (b *Builder) Run(ctx context.Context, dirs []library.ArtistDir, rec *pipeline.Recorder) {
	for i, dir := range dirs {
		if err := ctx.Err(); err != nil {
			for _, d := range dirs[i:] {
				rec.Failed(d.ID+"/"+FileName, err)
			}
			return
		}

		item := dir.ID + "/" + FileName
		m, failures, err := b.build(ctx, dir)
		if errors.Is(err, ErrNoAudio) {
			rec.Skipped(item, err.Error())
			continue
		}
		if err != nil {
			rec.Failed(item, err)
			continue
		}
		for _, f := range failures {
			rec.Failed(dir.ID+"/"+f.base, f.err)
		}
		if err := Write(dir.Output, m); err != nil {
			rec.Failed(item, err)
			continue
		}
		rec.Processed(item, fmt.Sprintf("%d mixes", len(m.Mixes)))
	}
}
