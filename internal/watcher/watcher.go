// Package watcher watches the audio tree and reports which artist
// directories changed once activity settles down.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/entripy63/mix.4st.uk/internal/fsutil"
	"github.com/entripy63/mix.4st.uk/internal/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Handler is called with the sorted directories whose audio changed
type Handler func(ctx context.Context, dirs []string)

// Watcher debounces audio file events under a root into batches of dirty
// directories.
type Watcher struct {
	root     string
	debounce time.Duration
	isAudio  func(name string) bool
	handler  Handler
	logger   *logrus.Logger

	fs      *fsnotify.Watcher
	dirty   map[string]struct{}
	started chan struct{}
	once    sync.Once
}

// New creates a watcher over root. isAudio decides which file names count.
func New(root string, debounce time.Duration, isAudio func(name string) bool, handler Handler, logger *logrus.Logger) *Watcher {
	return &Watcher{
		root:     root,
		debounce: debounce,
		isAudio:  isAudio,
		handler:  handler,
		logger:   logging.OrDiscard(logger),
		dirty:    make(map[string]struct{}),
		started:  make(chan struct{}),
	}
}

// Started is closed once the initial directories are being watched
func (w *Watcher) Started() <-chan struct{} {
	return w.started
}

// Run watches until ctx is cancelled. The handler runs on this goroutine, so
// events arriving meanwhile are picked up by the next batch.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fs = watcher
	defer watcher.Close()

	if err := w.addDirectory(w.root); err != nil {
		return err
	}
	w.once.Do(func() { close(w.started) })
	w.logger.WithField("root", w.root).Info("File watcher started")

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("File watcher error")

		case <-timer.C:
			dirs := w.takeDirty()
			if len(dirs) == 0 {
				continue
			}
			w.logger.WithField("directories", dirs).Info("Audio changed, regenerating")
			w.handler(ctx, dirs)
		}
	}
}

// addDirectory recursively adds dir and its non-hidden subdirectories
func (w *Watcher) addDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

// handleEvent filters one event and reports whether it marked anything dirty
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if fsutil.IsTempName(name) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirectory(event.Name); err != nil {
				w.logger.WithError(err).WithField("directory", event.Name).Warn("Failed to watch new directory")
				return false
			}
			w.logger.WithField("directory", event.Name).Info("Watching new directory")
			return w.markExisting(event.Name)
		}
	}

	if !w.isAudio(name) {
		return false
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
		w.dirty[filepath.Dir(event.Name)] = struct{}{}
		return true
	}
	return false
}

// markExisting marks directories below dir that already hold audio, for
// directories moved into the tree in one piece.
func (w *Watcher) markExisting(dir string) bool {
	marked := false
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !fsutil.IsTempName(d.Name()) && w.isAudio(d.Name()) {
			w.dirty[filepath.Dir(path)] = struct{}{}
			marked = true
		}
		return nil
	})
	return marked
}

func (w *Watcher) takeDirty() []string {
	dirs := make([]string, 0, len(w.dirty))
	for d := range w.dirty {
		dirs = append(dirs, d)
	}
	w.dirty = make(map[string]struct{})
	sort.Strings(dirs)
	return dirs
}
