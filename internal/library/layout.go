// Package library maps the audio tree onto artist directories and the
// output directories their artifacts go to.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/entripy63/mix.4st.uk/internal/fsutil"
)

// ArtistDir is one directory of mixes. ID is the path relative to the output
// root ("DJSmith" or "moreDJs/Guest"); Name is the last element, which is
// also the fallback artist.
type ArtistDir struct {
	ID     string
	Name   string
	Source string
	Output string
}

// Layout describes how the source tree maps to the output tree
type Layout struct {
	// Target is the directory given on the command line; artifacts are
	// written below it.
	Target string
	// Source, when set, holds the audio separately from the artifacts.
	Source string
	// MainDJs are source directories placed at the output root; the rest go
	// under GroupingDir. Empty means the source structure is mirrored.
	MainDJs     []string
	GroupingDir string
	// Extensions are the lower-case audio extensions that make a directory
	// an artist directory.
	Extensions []string
}

// Resolve lists the artist directories to process, sorted case-insensitively
// by name within each level. Output directories are created.
func (l Layout) Resolve() ([]ArtistDir, error) {
	if !fsutil.IsDir(l.Target) {
		return nil, fmt.Errorf("directory %s does not exist", l.Target)
	}
	if l.Source != "" && !fsutil.IsDir(l.Source) {
		return nil, fmt.Errorf("source directory %s does not exist", l.Source)
	}

	if l.Source == "" {
		if l.HasAudio(l.Target) {
			name := filepath.Base(absOr(l.Target))
			return []ArtistDir{{ID: name, Name: name, Source: l.Target, Output: l.Target}}, nil
		}
		return l.scan(l.Target, l.Target, false)
	}

	dirs, err := l.scan(l.Source, l.Target, len(l.MainDJs) > 0)
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d.Output, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return dirs, nil
}

// scan walks root for artist directories. When placeByMain is set, top-level
// directories not listed in MainDJs are moved under the grouping directory.
func (l Layout) scan(root, outRoot string, placeByMain bool) ([]ArtistDir, error) {
	entries, err := subdirs(root)
	if err != nil {
		return nil, err
	}

	var dirs []ArtistDir
	for _, name := range entries {
		path := filepath.Join(root, name)

		if name == l.GroupingDir {
			children, err := subdirs(path)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				childPath := filepath.Join(path, child)
				if !l.HasAudio(childPath) {
					continue
				}
				dirs = append(dirs, ArtistDir{
					ID:     l.GroupingDir + "/" + child,
					Name:   child,
					Source: childPath,
					Output: filepath.Join(outRoot, l.GroupingDir, child),
				})
			}
			continue
		}

		if !l.HasAudio(path) {
			continue
		}
		id := name
		if placeByMain && !l.isMain(name) {
			id = l.GroupingDir + "/" + name
		}
		dirs = append(dirs, ArtistDir{
			ID:     id,
			Name:   name,
			Source: path,
			Output: filepath.Join(outRoot, filepath.FromSlash(id)),
		})
	}

	sort.SliceStable(dirs, func(i, j int) bool {
		return strings.ToLower(dirs[i].Name) < strings.ToLower(dirs[j].Name)
	})
	return dirs, nil
}

// HasAudio reports whether dir directly contains a file with one of the
// layout's extensions.
func (l Layout) HasAudio(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && l.IsAudio(e.Name()) {
			return true
		}
	}
	return false
}

// IsAudio checks a file name against the layout's extensions
func (l Layout) IsAudio(name string) bool {
	return HasExtension(name, l.Extensions)
}

func (l Layout) isMain(name string) bool {
	for _, dj := range l.MainDJs {
		if dj == name {
			return true
		}
	}
	return false
}

// HasExtension reports whether name ends in one of exts, ignoring case
func HasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// subdirs lists non-hidden subdirectory names in lexical order
func subdirs(dir string) ([]string, error) {
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

func absOr(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
