package models

// PeakEnvelope is the waveform data written next to each mix as <base>.peaks.json
type PeakEnvelope struct {
	Peaks    []float64 `json:"peaks"`
	Duration float64   `json:"duration"`
}

// Download describes one downloadable format variant of a mix
type Download struct {
	File  string `json:"file"`
	Label string `json:"label"`
}

// ManifestEntry represents a mix as listed in an artist's manifest.json
type ManifestEntry struct {
	Name              string     `json:"name"`
	File              string     `json:"file"`
	AudioFile         string     `json:"audioFile"`
	Duration          float64    `json:"duration"`
	DurationFormatted string     `json:"durationFormatted"`
	Artist            string     `json:"artist"`
	Downloads         []Download `json:"downloads"`
	Genre             string     `json:"genre,omitempty"`
	Date              string     `json:"date,omitempty"`
	Comment           string     `json:"comment,omitempty"`
	PeaksFile         string     `json:"peaksFile,omitempty"`
	CoverFile         string     `json:"coverFile,omitempty"`
}

// Manifest is the per-artist catalog file
type Manifest struct {
	Generated bool            `json:"generated"`
	Mixes     []ManifestEntry `json:"mixes"`
}

// SearchEntry is one flattened row of search-index.json
type SearchEntry struct {
	DJ        string     `json:"dj"`
	File      string     `json:"file"`
	Name      string     `json:"name"`
	Artist    string     `json:"artist"`
	Genre     string     `json:"genre"`
	Comment   string     `json:"comment"`
	Duration  string     `json:"duration"` // formatted H:MM:SS
	AudioFile string     `json:"audioFile"`
	PeaksFile string     `json:"peaksFile"`
	CoverFile string     `json:"coverFile"`
	Downloads []Download `json:"downloads"`
}

// Preset is a listing row of presets/manifest.json
type Preset struct {
	Filename string `json:"filename"`
	Name     string `json:"name"`
}

// PresetManifest lists saved player presets
type PresetManifest struct {
	Presets []Preset `json:"presets"`
}
