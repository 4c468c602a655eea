package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LegacySourceConfigFile is the source/output split file used by the older generator scripts
const LegacySourceConfigFile = "audio-source-config.json"

// Config represents the application configuration
type Config struct {
	Library LibraryConfig `toml:"library" yaml:"library"`
	Peaks   PeaksConfig   `toml:"peaks" yaml:"peaks"`
	Decoder DecoderConfig `toml:"decoder" yaml:"decoder"`
	Workers WorkersConfig `toml:"workers" yaml:"workers"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Catalog CatalogConfig `toml:"catalog" yaml:"catalog"`
	Watch   WatchConfig   `toml:"watch" yaml:"watch"`
	Presets PresetsConfig `toml:"presets" yaml:"presets"`
}

// LibraryConfig describes where audio lives and where artifacts go
type LibraryConfig struct {
	SourceDir    string   `toml:"source_dir" yaml:"source_dir"`
	OutputDir    string   `toml:"output_dir" yaml:"output_dir"`
	MainDJs      []string `toml:"main_djs" yaml:"main_djs"`
	GroupingDir  string   `toml:"grouping_dir" yaml:"grouping_dir"`
	AudioFormats []string `toml:"audio_formats" yaml:"audio_formats"`
	PeakFormats  []string `toml:"peak_formats" yaml:"peak_formats"`
	CoverFormats []string `toml:"cover_formats" yaml:"cover_formats"`
}

// PeaksConfig contains waveform generation settings
type PeaksConfig struct {
	TargetCount  int  `toml:"target_count" yaml:"target_count"`
	SkipExisting bool `toml:"skip_existing" yaml:"skip_existing"`
}

// DecoderConfig contains ffmpeg/ffprobe settings
type DecoderConfig struct {
	FFmpegPath     string `toml:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath    string `toml:"ffprobe_path" yaml:"ffprobe_path"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	NativeFallback bool   `toml:"native_fallback" yaml:"native_fallback"`
}

// WorkersConfig bounds concurrent decoder invocations
type WorkersConfig struct {
	PerCPU int `toml:"per_cpu" yaml:"per_cpu"`
	Max    int `toml:"max" yaml:"max"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	File   string `toml:"file" yaml:"file"`
}

// CatalogConfig controls the optional SQLite mirror of the search index
type CatalogConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// WatchConfig contains watch mode settings
type WatchConfig struct {
	DebounceMillis int `toml:"debounce_ms" yaml:"debounce_ms"`
}

// PresetsConfig locates the player presets directory
type PresetsConfig struct {
	Dir string `toml:"dir" yaml:"dir"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Library: LibraryConfig{
			SourceDir:    "",
			OutputDir:    ".",
			MainDJs:      []string{},
			GroupingDir:  "moreDJs",
			AudioFormats: []string{".mp3", ".flac", ".m4a", ".opus"},
			PeakFormats:  []string{".mp3", ".flac", ".m4a", ".wav", ".opus"},
			CoverFormats: []string{".mp3", ".m4a", ".flac", ".ogg", ".wav"},
		},
		Peaks: PeaksConfig{
			TargetCount:  4000,
			SkipExisting: true,
		},
		Decoder: DecoderConfig{
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			TimeoutSeconds: 600,
			NativeFallback: true,
		},
		Workers: WorkersConfig{
			PerCPU: 2,
			Max:    16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Catalog: CatalogConfig{
			Enabled: false,
			Path:    "./mixcat.db",
		},
		Watch: WatchConfig{
			DebounceMillis: 2000,
		},
		Presets: PresetsConfig{
			Dir: "presets",
		},
	}
}

// LoadConfig loads configuration from a TOML or YAML file. A missing TOML
// file is created with defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(configPath))
	isYAML := ext == ".yaml" || ext == ".yml"

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if isYAML {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
		return cfg, nil
	}

	if isYAML {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# mixcat configuration
# Controls where mixes are read from, where manifests, peaks and covers are written,
# and how the ffmpeg/ffprobe decoder is invoked.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// ApplyEnv loads an optional .env file and applies MIXCAT_* overrides
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	if v := os.Getenv("MIXCAT_FFMPEG"); v != "" {
		c.Decoder.FFmpegPath = v
	}
	if v := os.Getenv("MIXCAT_FFPROBE"); v != "" {
		c.Decoder.FFprobePath = v
	}
	if v := os.Getenv("MIXCAT_SOURCE"); v != "" {
		c.Library.SourceDir = v
	}
	if v := os.Getenv("MIXCAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MIXCAT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MIXCAT_WORKERS %q: %w", v, err)
		}
		c.Workers.Max = n
	}
	return nil
}

// legacySourceConfig mirrors audio-source-config.json
type legacySourceConfig struct {
	SourceDirectory string   `json:"source_directory"`
	MainDJs         []string `json:"main_djs"`
}

// ApplyLegacySourceConfig reads audio-source-config.json from dir when no
// source directory has been configured yet. It reports whether a file was used.
func (c *Config) ApplyLegacySourceConfig(dir string) (bool, error) {
	if c.Library.SourceDir != "" {
		return false, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, LegacySourceConfigFile))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var legacy legacySourceConfig
	if err := json.Unmarshal(data, &legacy); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", LegacySourceConfigFile, err)
	}
	if legacy.SourceDirectory == "" {
		return false, nil
	}

	c.Library.SourceDir = legacy.SourceDirectory
	if len(c.Library.MainDJs) == 0 {
		c.Library.MainDJs = legacy.MainDJs
	}
	return true, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Library.OutputDir == "" {
		return fmt.Errorf("library output dir cannot be empty")
	}
	if c.Library.GroupingDir == "" || strings.ContainsAny(c.Library.GroupingDir, `/\`) {
		return fmt.Errorf("library grouping dir must be a single directory name")
	}
	if len(c.Library.AudioFormats) == 0 {
		return fmt.Errorf("at least one audio format must be specified")
	}
	for _, f := range c.Library.AudioFormats {
		if !strings.HasPrefix(f, ".") {
			return fmt.Errorf("audio format %q must start with a dot", f)
		}
	}

	if c.Peaks.TargetCount < 1 {
		return fmt.Errorf("peaks target count must be at least 1")
	}

	if c.Decoder.FFmpegPath == "" || c.Decoder.FFprobePath == "" {
		return fmt.Errorf("decoder paths cannot be empty")
	}
	if c.Decoder.TimeoutSeconds < 0 {
		return fmt.Errorf("decoder timeout must be positive")
	}

	if c.Workers.PerCPU < 1 {
		return fmt.Errorf("workers per cpu must be at least 1")
	}
	if c.Workers.Max < 0 {
		return fmt.Errorf("workers max cannot be negative")
	}

	if c.Catalog.Enabled && c.Catalog.Path == "" {
		return fmt.Errorf("catalog path cannot be empty when the catalog is enabled")
	}
	if c.Watch.DebounceMillis < 0 {
		return fmt.Errorf("watch debounce cannot be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// WorkerCount returns the size of the decoder worker pool
func (c *Config) WorkerCount() int {
	n := runtime.NumCPU() * c.Workers.PerCPU
	if c.Workers.Max > 0 && n > c.Workers.Max {
		n = c.Workers.Max
	}
	if n < 1 {
		n = 1
	}
	return n
}
