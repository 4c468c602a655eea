// Package searchindex flattens every artist manifest under an output root
// into the single search-index.json the site searches client side.
package searchindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/entripy63/mix.4st.uk/internal/fsutil"
	"github.com/entripy63/mix.4st.uk/internal/manifest"
	"github.com/entripy63/mix.4st.uk/internal/pipeline"
	"github.com/entripy63/mix.4st.uk/pkg/models"

	"github.com/sirupsen/logrus"
)

// FileName is the index written at the output root
const FileName = "search-index.json"

// Builder collects search entries from manifests
type Builder struct {
	groupingDir string
	logger      *logrus.Logger
}

// NewBuilder creates a builder that descends one level into groupingDir
func NewBuilder(groupingDir string, logger *logrus.Logger) *Builder {
	return &Builder{groupingDir: groupingDir, logger: logger}
}

// Build reads the manifests below root in sorted directory order. A manifest
// that cannot be read or parsed is logged and skipped.
func (b *Builder) Build(root string) ([]models.SearchEntry, error) {
	return b.collect(root, nil)
}

// Run builds the index for root and writes it, recording skipped manifests
// as failures.
func (b *Builder) Run(root string, rec *pipeline.Recorder) ([]models.SearchEntry, error) {
	entries, err := b.collect(root, func(dj string, err error) {
		rec.Failed(dj+"/"+manifest.FileName, err)
	})
	if err != nil {
		return nil, err
	}
	if err := Write(root, entries); err != nil {
		rec.Failed(FileName, err)
		return entries, nil
	}
	rec.Processed(FileName, fmt.Sprintf("%d mixes", len(entries)))
	return entries, nil
}

func (b *Builder) collect(root string, onFail func(dj string, err error)) ([]models.SearchEntry, error) {
	dirs, err := sortedSubdirs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	entries := []models.SearchEntry{}
	for _, name := range dirs {
		if name == b.groupingDir {
			children, err := sortedSubdirs(filepath.Join(root, name))
			if err != nil {
				b.warn(err, name, onFail)
				continue
			}
			for _, child := range children {
				entries = b.add(entries, filepath.Join(root, name, child), name+"/"+child, onFail)
			}
			continue
		}
		entries = b.add(entries, filepath.Join(root, name), name, onFail)
	}
	return entries, nil
}

func (b *Builder) add(entries []models.SearchEntry, dir, dj string, onFail func(string, error)) []models.SearchEntry {
	path := filepath.Join(dir, manifest.FileName)
	if !fsutil.Exists(path) {
		return entries
	}

	m, err := readManifest(path)
	if err != nil {
		b.warn(err, dj, onFail)
		return entries
	}

	for _, mix := range m.Mixes {
		entries = append(entries, Entry(dj, mix))
	}
	if b.logger != nil {
		b.logger.WithFields(logrus.Fields{
			"dj":    dj,
			"mixes": len(m.Mixes),
		}).Debug("Indexed manifest")
	}
	return entries
}

func (b *Builder) warn(err error, dj string, onFail func(string, error)) {
	if b.logger != nil {
		b.logger.WithError(err).WithField("dj", dj).Warn("Skipping unreadable manifest")
	}
	if onFail != nil {
		onFail(dj, err)
	}
}

// Entry reduces a manifest entry to its searchable fields
func Entry(dj string, mix models.ManifestEntry) models.SearchEntry {
	downloads := mix.Downloads
	if downloads == nil {
		downloads = []models.Download{}
	}
	return models.SearchEntry{
		DJ:        dj,
		File:      mix.File,
		Name:      mix.Name,
		Artist:    mix.Artist,
		Genre:     mix.Genre,
		Comment:   mix.Comment,
		Duration:  mix.DurationFormatted,
		AudioFile: mix.AudioFile,
		PeaksFile: mix.PeaksFile,
		CoverFile: mix.CoverFile,
		Downloads: downloads,
	}
}

// Write stores entries as compact JSON at root/search-index.json
func Write(root string, entries []models.SearchEntry) error {
	if entries == nil {
		entries = []models.SearchEntry{}
	}
	return fsutil.WriteJSONAtomic(filepath.Join(root, FileName), entries, "")
}

func readManifest(path string) (models.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Manifest{}, err
	}
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return models.Manifest{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return m, nil
}

func sortedSubdirs(dir string) ([]string, error) {
	// os.ReadDir returns entries sorted by name
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
