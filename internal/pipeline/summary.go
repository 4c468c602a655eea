// Package pipeline runs per-item work on a bounded worker pool and keeps the
// outcome ledger every tool prints at the end of a run.
package pipeline

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// Status classifies what happened to one item
type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome is the result line for one item (file or directory)
type Outcome struct {
	Item   string
	Status Status
	Detail string
	Err    error
}

// Summary totals a run
type Summary struct {
	RunID     string
	Tool      string
	Processed int
	Skipped   int
	Failed    int
	Outcomes  []Outcome
	Elapsed   time.Duration
}

// Total is the number of items seen
func (s Summary) Total() int {
	return s.Processed + s.Skipped + s.Failed
}

// Merge folds another summary's counts and outcomes into s
func (s *Summary) Merge(other Summary) {
	s.Processed += other.Processed
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Outcomes = append(s.Outcomes, other.Outcomes...)
}

// Recorder collects outcomes from concurrent workers and logs each one as it
// arrives.
type Recorder struct {
	mu      sync.Mutex
	summary Summary
	started time.Time
	logger  *logrus.Logger
	bar     *progressbar.ProgressBar
}

// NewRecorder starts a run for tool with a fresh run id
func NewRecorder(tool string, logger *logrus.Logger) *Recorder {
	return &Recorder{
		summary: Summary{RunID: uuid.New().String(), Tool: tool},
		started: time.Now(),
		logger:  logger,
	}
}

// RunID identifies this run in logs
func (r *Recorder) RunID() string {
	return r.summary.RunID
}

// EnableProgress draws a progress bar for total items on stderr
func (r *Recorder) EnableProgress(total int) {
	r.EnableProgressTo(ansi.NewAnsiStderr(), total)
}

// EnableProgressTo draws a progress bar on w
func (r *Recorder) EnableProgressTo(w io.Writer, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bar = progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", r.summary.Tool)),
	)
}

// Processed records a successfully handled item
func (r *Recorder) Processed(item, detail string) {
	r.record(Outcome{Item: item, Status: StatusProcessed, Detail: detail})
}

// Skipped records an item left alone by policy
func (r *Recorder) Skipped(item, reason string) {
	r.record(Outcome{Item: item, Status: StatusSkipped, Detail: reason})
}

// Failed records an item whose processing failed
func (r *Recorder) Failed(item string, err error) {
	r.record(Outcome{Item: item, Status: StatusFailed, Err: err})
}

func (r *Recorder) record(o Outcome) {
	r.mu.Lock()
	switch o.Status {
	case StatusProcessed:
		r.summary.Processed++
	case StatusSkipped:
		r.summary.Skipped++
	case StatusFailed:
		r.summary.Failed++
	}
	r.summary.Outcomes = append(r.summary.Outcomes, o)
	if r.bar != nil {
		r.bar.Add(1)
	}
	r.mu.Unlock()

	if r.logger == nil {
		return
	}
	entry := r.logger.WithFields(logrus.Fields{
		"run_id": r.summary.RunID,
		"tool":   r.summary.Tool,
		"item":   o.Item,
		"status": string(o.Status),
	})
	switch o.Status {
	case StatusFailed:
		entry.WithError(o.Err).Warn("Item failed")
	case StatusSkipped:
		entry.WithField("reason", o.Detail).Info("Item skipped")
	default:
		entry.WithField("detail", o.Detail).Info("Item processed")
	}
}

// Summary returns the totals so far with outcomes sorted by item
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.summary
	s.Outcomes = append([]Outcome(nil), r.summary.Outcomes...)
	sort.SliceStable(s.Outcomes, func(i, j int) bool {
		return s.Outcomes[i].Item < s.Outcomes[j].Item
	})
	s.Elapsed = time.Since(r.started)
	return s
}

// Finish closes the progress bar and returns the final summary
func (r *Recorder) Finish() Summary {
	r.mu.Lock()
	if r.bar != nil {
		r.bar.Finish()
		r.bar = nil
	}
	r.mu.Unlock()
	return r.Summary()
}

// PrintSummary writes the failures and the closing count line
func PrintSummary(w io.Writer, s Summary) {
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen)

	for _, o := range s.Outcomes {
		if o.Status == StatusFailed {
			red.Fprintf(w, "  FAILED %s: %v\n", o.Item, o.Err)
		}
	}

	fmt.Fprintf(w, "\n%s summary (run %s, %s): ", s.Tool, s.RunID, s.Elapsed.Round(time.Millisecond))
	green.Fprintf(w, "%d processed", s.Processed)
	fmt.Fprint(w, ", ")
	yellow.Fprintf(w, "%d skipped", s.Skipped)
	fmt.Fprint(w, ", ")
	if s.Failed > 0 {
		red.Fprintf(w, "%d failed", s.Failed)
	} else {
		fmt.Fprintf(w, "%d failed", s.Failed)
	}
	fmt.Fprintln(w)
}
