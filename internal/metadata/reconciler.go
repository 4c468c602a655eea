// Package metadata reconciles the format variants of one mix into a single
// canonical record, falling back to the file name and directory when tags
// are missing.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/entripy63/mix.4st.uk/internal/decoder"

	"github.com/sirupsen/logrus"
)

// ErrNoUsableVariant is returned when no variant of a mix could be probed
var ErrNoUsableVariant = errors.New("no usable variant")

// Mix is the reconciled record for one logical recording
type Mix struct {
	Base     string
	Title    string
	Artist   string
	Duration float64
	Genre    string
	Date     string
	Comment  string
	// Source is the file name of the variant the metadata came from.
	Source string
	// Variants are the file names considered, in authority order.
	Variants []string
	// TitleFromTags is false when the title was derived from the file name.
	TitleFromTags bool
}

// Reconciler builds Mix records from probed variants
type Reconciler struct {
	prober decoder.Prober
	logger *logrus.Logger
}

// NewReconciler creates a reconciler reading metadata through prober
func NewReconciler(prober decoder.Prober, logger *logrus.Logger) *Reconciler {
	return &Reconciler{prober: prober, logger: logger}
}

// Reconcile probes variants in AuthorityOrder and builds the mix from the
// first one that answers. A variant that fails to probe is logged and the
// next one tried; if none answers, the error wraps ErrNoUsableVariant.
func (r *Reconciler) Reconcile(ctx context.Context, variants []string, directoryName string) (Mix, error) {
	if len(variants) == 0 {
		return Mix{}, fmt.Errorf("%w: no files", ErrNoUsableVariant)
	}

	ordered := OrderVariants(variants)
	names := make([]string, len(ordered))
	for i, v := range ordered {
		names[i] = filepath.Base(v)
	}
	base := strings.TrimSuffix(names[0], filepath.Ext(names[0]))

	startTime := time.Now()
	var errs []error
	for i, path := range ordered {
		probe, err := r.prober.Probe(ctx, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Mix{}, ctxErr
			}
			errs = append(errs, err)
			if r.logger != nil {
				r.logger.WithFields(logrus.Fields{
					"file":  path,
					"error": err.Error(),
				}).Warn("Failed to read metadata, trying next variant")
			}
			continue
		}

		mix := build(probe, base, names[i], directoryName)
		mix.Variants = names

		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{
				"base":           base,
				"source":         mix.Source,
				"title":          mix.Title,
				"artist":         mix.Artist,
				"duration":       mix.Duration,
				"titleFromTags":  mix.TitleFromTags,
				"processingTime": time.Since(startTime),
			}).Debug("Reconciled mix metadata")
		}
		return mix, nil
	}

	return Mix{}, fmt.Errorf("%w: %s: %w", ErrNoUsableVariant, base, errors.Join(errs...))
}

// build applies the tag fallbacks to one probe result. A duration that is
// not a positive finite number is recorded as 0.
func build(probe decoder.Probe, base, source, directoryName string) Mix {
	duration := probe.Duration
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration < 0 {
		duration = 0
	}
	mix := Mix{
		Base:     base,
		Source:   source,
		Duration: duration,
		Genre:    probe.Tags.Lookup(GenreKeys...),
		Date:     probe.Tags.Lookup(DateKeys...),
		Comment:  probe.Tags.Lookup(CommentKeys...),
	}

	mix.Title = probe.Tags.Lookup(TitleKeys...)
	mix.TitleFromTags = mix.Title != ""
	if !mix.TitleFromTags {
		mix.Title = DeriveTitle(directoryName, source)
	}

	mix.Artist = probe.Tags.Lookup(ArtistKeys...)
	if mix.Artist == "" {
		mix.Artist = directoryName
	}
	return mix
}

// OrderVariants sorts variant paths by AuthorityOrder; unknown extensions go
// last in name order.
func OrderVariants(variants []string) []string {
	ordered := append([]string(nil), variants...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri := authorityRank(strings.ToLower(filepath.Ext(ordered[i])))
		rj := authorityRank(strings.ToLower(filepath.Ext(ordered[j])))
		if ri != rj {
			return ri < rj
		}
		return ordered[i] < ordered[j]
	})
	return ordered
}
