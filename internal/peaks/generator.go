package peaks

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/entripy63/mix.4st.uk/internal/library"
	"github.com/entripy63/mix.4st.uk/internal/pipeline"

	"github.com/sirupsen/logrus"
)

// Generator writes peaks files for every audio file in a set of artist
// directories.
type Generator struct {
	extractor *Extractor
	formats   []string
	force     bool
	workers   int
	logger    *logrus.Logger
}

// GeneratorOptions configures a Generator
type GeneratorOptions struct {
	// Formats are the audio extensions peaks are generated for.
	Formats []string
	// Force regenerates peaks files that already exist.
	Force   bool
	Workers int
}

// NewGenerator creates a generator around an extractor
func NewGenerator(extractor *Extractor, opts GeneratorOptions, logger *logrus.Logger) *Generator {
	return &Generator{
		extractor: extractor,
		formats:   opts.Formats,
		force:     opts.Force,
		workers:   opts.Workers,
		logger:    logger,
	}
}

type job struct {
	source string
	output string
	item   string
	// shared are the other variants of the same mix; they map to the same
	// peaks file and are not decoded again.
	shared []string
}

// jobsFor lists one job per peaks file in directory then file name order.
// The first variant of a base name in name order is the one decoded.
func (g *Generator) jobsFor(dirs []library.ArtistDir) []job {
	var jobs []job
	for _, d := range dirs {
		entries, err := os.ReadDir(d.Source)
		if err != nil {
			if g.logger != nil {
				g.logger.WithError(err).WithField("dir", d.Source).Warn("Failed to list directory")
			}
			continue
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && library.HasExtension(e.Name(), g.formats) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		byOutput := make(map[string]int)
		for _, name := range names {
			output := filepath.Join(d.Output, FileName(name))
			item := d.ID + "/" + name
			if i, ok := byOutput[output]; ok {
				jobs[i].shared = append(jobs[i].shared, item)
				continue
			}
			byOutput[output] = len(jobs)
			jobs = append(jobs, job{source: filepath.Join(d.Source, name), output: output, item: item})
		}
	}
	return jobs
}

// Run generates peaks for dirs, recording one outcome per audio file.
// Files still queued when ctx is cancelled are recorded as failed.
func (g *Generator) Run(ctx context.Context, dirs []library.ArtistDir, rec *pipeline.Recorder) {
	jobs := g.jobsFor(dirs)

	unstarted := pipeline.ForEach(ctx, g.workers, jobs, func(ctx context.Context, j job) {
		g.process(ctx, j, rec)
		for _, item := range j.shared {
			rec.Skipped(item, "peaks shared with "+filepath.Base(j.source))
		}
	})
	for _, j := range unstarted {
		rec.Failed(j.item, ctx.Err())
		for _, item := range j.shared {
			rec.Failed(item, ctx.Err())
		}
	}
}

// Count returns how many audio files Run would record
func (g *Generator) Count(dirs []library.ArtistDir) int {
	n := 0
	for _, j := range g.jobsFor(dirs) {
		n += 1 + len(j.shared)
	}
	return n
}

func (g *Generator) process(ctx context.Context, j job, rec *pipeline.Recorder) {
	if !g.force {
		if _, err := os.Stat(j.output); err == nil {
			rec.Skipped(j.item, "peaks file exists")
			return
		}
	}

	env, err := g.extractor.Extract(ctx, j.source)
	if err != nil {
		rec.Failed(j.item, err)
		return
	}
	if err := WriteFile(j.output, env); err != nil {
		rec.Failed(j.item, err)
		return
	}
	rec.Processed(j.item, filepath.Base(j.output))
}
