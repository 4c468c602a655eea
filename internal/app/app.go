// Package app wires the configured components into the runs behind each
// mixcat command.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/entripy63/mix.4st.uk/internal/catalog"
	"github.com/entripy63/mix.4st.uk/internal/config"
	"github.com/entripy63/mix.4st.uk/internal/covers"
	"github.com/entripy63/mix.4st.uk/internal/decoder"
	"github.com/entripy63/mix.4st.uk/internal/library"
	"github.com/entripy63/mix.4st.uk/internal/logging"
	"github.com/entripy63/mix.4st.uk/internal/manifest"
	"github.com/entripy63/mix.4st.uk/internal/metadata"
	"github.com/entripy63/mix.4st.uk/internal/peaks"
	"github.com/entripy63/mix.4st.uk/internal/pipeline"
	"github.com/entripy63/mix.4st.uk/internal/presets"
	"github.com/entripy63/mix.4st.uk/internal/searchindex"
	"github.com/entripy63/mix.4st.uk/internal/watcher"
	"github.com/entripy63/mix.4st.uk/pkg/models"

	"github.com/sirupsen/logrus"
)

// Options carries the collaborators that are not plain configuration
type Options struct {
	Gateway decoder.Gateway
	Covers  decoder.CoverSource
	// Pictures reads embedded art without ffmpeg; nil disables the fallback.
	Pictures covers.PictureReader
	Progress bool
	// Out receives the end-of-run summaries.
	Out io.Writer
}

// App runs the mixcat tools against one configuration
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	opts   Options
}

// New creates an App
func New(cfg *config.Config, logger *logrus.Logger, opts Options) *App {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &App{cfg: cfg, logger: logging.OrDiscard(logger), opts: opts}
}

// Layout maps target and the configured source onto artist directories
func (a *App) Layout(target string) library.Layout {
	return library.Layout{
		Target:      target,
		Source:      a.cfg.Library.SourceDir,
		MainDJs:     a.cfg.Library.MainDJs,
		GroupingDir: a.cfg.Library.GroupingDir,
		Extensions:  a.cfg.Library.AudioFormats,
	}
}

// resolve lists artist directories for a tool, treating the peak or cover
// formats as audio so directories holding only those files are included.
func (a *App) resolve(target string, exts []string) ([]library.ArtistDir, error) {
	l := a.Layout(target)
	l.Extensions = exts
	return l.Resolve()
}

func (a *App) recorder(tool string) *pipeline.Recorder {
	rec := pipeline.NewRecorder(tool, a.logger)
	a.logger.WithFields(logrus.Fields{
		"run_id": rec.RunID(),
		"tool":   tool,
	}).Info("Run started")
	return rec
}

func (a *App) finish(rec *pipeline.Recorder) pipeline.Summary {
	s := rec.Finish()
	pipeline.PrintSummary(a.opts.Out, s)
	return s
}

// Peaks writes missing peaks files below target. force regenerates existing
// ones; count overrides the configured envelope length when positive.
func (a *App) Peaks(ctx context.Context, target string, force bool, count int) (pipeline.Summary, error) {
	dirs, err := a.resolve(target, a.cfg.Library.PeakFormats)
	if err != nil {
		return pipeline.Summary{}, err
	}
	rec := a.recorder("peaks")
	a.runPeaks(ctx, dirs, force, count, rec)
	return a.finish(rec), nil
}

func (a *App) runPeaks(ctx context.Context, dirs []library.ArtistDir, force bool, count int, rec *pipeline.Recorder) {
	if count < 1 {
		count = a.cfg.Peaks.TargetCount
	}
	gen := peaks.NewGenerator(
		peaks.NewExtractor(a.opts.Gateway, count, a.logger),
		peaks.GeneratorOptions{
			Formats: a.cfg.Library.PeakFormats,
			Force:   force || !a.cfg.Peaks.SkipExisting,
			Workers: a.cfg.WorkerCount(),
		},
		a.logger,
	)
	if a.opts.Progress {
		rec.EnableProgress(gen.Count(dirs))
	}
	gen.Run(ctx, dirs, rec)
}

// Manifests rebuilds manifest.json for every artist directory below target
func (a *App) Manifests(ctx context.Context, target string) (pipeline.Summary, error) {
	dirs, err := a.Layout(target).Resolve()
	if err != nil {
		return pipeline.Summary{}, err
	}
	rec := a.recorder("manifest")
	a.runManifests(ctx, dirs, rec)
	return a.finish(rec), nil
}

func (a *App) runManifests(ctx context.Context, dirs []library.ArtistDir, rec *pipeline.Recorder) {
	b := manifest.NewBuilder(
		metadata.NewReconciler(a.opts.Gateway, a.logger),
		a.cfg.Library.AudioFormats,
		a.cfg.WorkerCount(),
		a.logger,
	)
	b.Run(ctx, dirs, rec)
}

// Index rebuilds search-index.json at target and, when enabled, the catalog
func (a *App) Index(ctx context.Context, target string) (pipeline.Summary, error) {
	if _, err := os.Stat(target); err != nil {
		return pipeline.Summary{}, fmt.Errorf("directory %s does not exist", target)
	}
	rec := a.recorder("index")
	a.runIndex(target, rec)
	return a.finish(rec), nil
}

func (a *App) runIndex(root string, rec *pipeline.Recorder) {
	entries, err := searchindex.NewBuilder(a.cfg.Library.GroupingDir, a.logger).Run(root, rec)
	if err != nil {
		rec.Failed(searchindex.FileName, err)
		return
	}
	if !a.cfg.Catalog.Enabled {
		return
	}

	c, err := catalog.Open(a.cfg.Catalog.Path, a.logger)
	if err != nil {
		rec.Failed(a.cfg.Catalog.Path, err)
		return
	}
	defer c.Close()
	if err := c.ReplaceAll(entries); err != nil {
		rec.Failed(a.cfg.Catalog.Path, err)
		return
	}
	rec.Processed(a.cfg.Catalog.Path, fmt.Sprintf("%d mixes", len(entries)))
}

// Covers extracts missing cover images below target
func (a *App) Covers(ctx context.Context, target string) (pipeline.Summary, covers.Stats, error) {
	dirs, err := a.resolve(target, a.cfg.Library.CoverFormats)
	if err != nil {
		return pipeline.Summary{}, covers.Stats{}, err
	}
	rec := a.recorder("covers")
	stats := a.runCovers(ctx, dirs, rec)
	s := a.finish(rec)
	fmt.Fprintf(a.opts.Out, "covers: %s\n", stats)
	return s, stats, nil
}

func (a *App) runCovers(ctx context.Context, dirs []library.ArtistDir, rec *pipeline.Recorder) covers.Stats {
	if a.opts.Covers == nil {
		return covers.Stats{}
	}
	e := covers.NewExtractor(a.opts.Covers, a.opts.Pictures, a.cfg.Library.CoverFormats, a.cfg.WorkerCount(), a.logger)
	return e.Run(ctx, dirs, rec)
}

// Presets rebuilds the presets manifest. A relative presets directory is
// taken relative to target.
func (a *App) Presets(target string) (pipeline.Summary, error) {
	dir := a.cfg.Presets.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(target, dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return pipeline.Summary{}, fmt.Errorf("presets directory %s does not exist", dir)
	}

	rec := a.recorder("presets")
	item := filepath.Join(filepath.Base(dir), presets.ManifestName)
	m, err := presets.Build(dir, a.logger)
	switch {
	case errors.Is(err, presets.ErrNoPresets):
		rec.Skipped(item, err.Error())
	case err != nil:
		rec.Failed(item, err)
	default:
		if err := presets.Write(dir, m); err != nil {
			rec.Failed(item, err)
		} else {
			rec.Processed(item, fmt.Sprintf("%d presets", len(m.Presets)))
		}
	}
	return a.finish(rec), nil
}

// All runs peaks, covers and manifests for every artist directory, then
// rebuilds the search index.
func (a *App) All(ctx context.Context, target string) (pipeline.Summary, error) {
	dirs, err := a.Layout(target).Resolve()
	if err != nil {
		return pipeline.Summary{}, err
	}
	rec := a.recorder("all")
	a.runDirs(ctx, target, dirs, rec)
	return a.finish(rec), nil
}

func (a *App) runDirs(ctx context.Context, target string, dirs []library.ArtistDir, rec *pipeline.Recorder) {
	a.runPeaks(ctx, dirs, false, 0, rec)
	a.runCovers(ctx, dirs, rec)
	a.runManifests(ctx, dirs, rec)
	if ctx.Err() == nil {
		a.runIndex(target, rec)
	}
}

// Watch regenerates artifacts for artist directories as their audio changes,
// until ctx is cancelled.
func (a *App) Watch(ctx context.Context, target string) error {
	layout := a.Layout(target)
	if _, err := layout.Resolve(); err != nil {
		return err
	}

	root := target
	if a.cfg.Library.SourceDir != "" {
		root = a.cfg.Library.SourceDir
	}
	debounce := time.Duration(a.cfg.Watch.DebounceMillis) * time.Millisecond

	var session pipeline.Summary
	w := watcher.New(root, debounce, layout.IsAudio, func(ctx context.Context, changed []string) {
		session.Merge(a.Regenerate(ctx, target, changed))
	}, a.logger)
	err := w.Run(ctx)

	a.logger.WithFields(logrus.Fields{
		"items":     session.Total(),
		"processed": session.Processed,
		"skipped":   session.Skipped,
		"failed":    session.Failed,
	}).Info("Watch stopped")
	return err
}

// Regenerate reprocesses the artist directories whose source is one of
// changed, then rebuilds the search index.
func (a *App) Regenerate(ctx context.Context, target string, changed []string) pipeline.Summary {
	rec := a.recorder("watch")
	dirs, err := a.Layout(target).Resolve()
	if err != nil {
		rec.Failed(target, err)
		return a.finish(rec)
	}

	var selected []library.ArtistDir
	for _, d := range dirs {
		for _, c := range changed {
			if filepath.Clean(d.Source) == filepath.Clean(c) {
				selected = append(selected, d)
				break
			}
		}
	}
	if len(selected) == 0 {
		// every variant of a directory was removed; only the index changes
		a.runIndex(target, rec)
		return a.finish(rec)
	}
	a.runDirs(ctx, target, selected, rec)
	return a.finish(rec)
}

// Search queries the catalog database
func (a *App) Search(query string) ([]models.SearchEntry, error) {
	if _, err := os.Stat(a.cfg.Catalog.Path); err != nil {
		return nil, fmt.Errorf("catalog %s not found, run mixcat index with the catalog enabled", a.cfg.Catalog.Path)
	}
	c, err := catalog.Open(a.cfg.Catalog.Path, a.logger)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Search(query)
}
