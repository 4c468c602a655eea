// Package presets lists the saved player presets in presets/manifest.json.
package presets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/entripy63/mix.4st.uk/internal/fsutil"
	"github.com/entripy63/mix.4st.uk/pkg/models"

	"github.com/sirupsen/logrus"
)

// ManifestName is the listing written into the presets directory
const ManifestName = "manifest.json"

// ErrNoPresets is returned when a directory holds no valid preset
var ErrNoPresets = errors.New("no valid presets found")

// Build reads every preset file in dir. Files without a string name and a
// streams array, or that fail to parse, are logged and skipped.
func Build(dir string, logger *logrus.Logger) (models.PresetManifest, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return models.PresetManifest{}, err
	}
	sort.Strings(files)

	m := models.PresetManifest{Presets: []models.Preset{}}
	for _, file := range files {
		name := filepath.Base(file)
		if name == ManifestName {
			continue
		}

		display, err := readPreset(file)
		if err != nil {
			if logger != nil {
				logger.WithError(err).WithField("file", name).Warn("Skipping preset")
			}
			continue
		}
		m.Presets = append(m.Presets, models.Preset{Filename: name, Name: display})
	}

	if len(m.Presets) == 0 {
		return m, ErrNoPresets
	}
	sort.SliceStable(m.Presets, func(i, j int) bool {
		return strings.ToLower(m.Presets[i].Name) < strings.ToLower(m.Presets[j].Name)
	})
	return m, nil
}

func readPreset(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var preset struct {
		Name    any `json:"name"`
		Streams any `json:"streams"`
	}
	if err := json.Unmarshal(data, &preset); err != nil {
		return "", fmt.Errorf("failed to parse: %w", err)
	}
	name, ok := preset.Name.(string)
	if !ok {
		return "", errors.New("missing name")
	}
	if _, ok := preset.Streams.([]any); !ok {
		return "", errors.New("missing streams")
	}
	return name, nil
}

// Write stores m as dir/manifest.json, indented two spaces
func Write(dir string, m models.PresetManifest) error {
	return fsutil.WriteJSONAtomic(filepath.Join(dir, ManifestName), m, "  ")
}
