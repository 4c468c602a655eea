package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entripy63/mix.4st.uk/internal/app"
	"github.com/entripy63/mix.4st.uk/internal/config"
	"github.com/entripy63/mix.4st.uk/internal/covers"
	"github.com/entripy63/mix.4st.uk/internal/decoder"
	"github.com/entripy63/mix.4st.uk/internal/logging"
	"github.com/entripy63/mix.4st.uk/internal/pipeline"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// probeCacheTTL covers one full `mixcat all` run over a large library
const probeCacheTTL = 30 * time.Minute

// runtimeEnv is everything a subcommand needs, built once per invocation
type runtimeEnv struct {
	cfg    *config.Config
	logger *logrus.Logger
	app    *app.App
	closer []io.Closer
}

func (r *runtimeEnv) Close() {
	for i := len(r.closer) - 1; i >= 0; i-- {
		r.closer[i].Close()
	}
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

func main() {
	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd(startup *logrus.Logger) *cobra.Command {
	var (
		configPath string
		source     string
		logLevel   string
		envFile    string
		progress   bool
		env        *runtimeEnv
	)

	cmd := &cobra.Command{
		Use:          "mixcat",
		Short:        "Generate manifests, waveform peaks, covers and the search index for a mix library",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			var err error
			env, err = setup(configPath, envFile, source, logLevel, progress, cmd.OutOrStdout())
			if err != nil {
				startup.WithError(err).Fatal("Error loading configuration")
			}
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if env != nil {
				env.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./mixcat.toml", "Configuration file (TOML, or YAML by extension)")
	cmd.PersistentFlags().StringVar(&source, "source", "", "Directory holding the audio when it is kept apart from the generated files")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Environment file with MIXCAT_* overrides")
	cmd.PersistentFlags().BoolVar(&progress, "progress", false, "Show a progress bar")

	get := func() *runtimeEnv { return env }
	cmd.AddCommand(
		cmdPeaks(get),
		cmdManifest(get),
		cmdIndex(get),
		cmdCovers(get),
		cmdPresets(get),
		cmdAll(get),
		cmdWatch(get),
		cmdSearch(get),
	)
	return cmd
}

// setup loads configuration, applies environment and flag overrides and
// builds the decoder stack.
func setup(configPath, envFile, source, logLevel string, progress bool, out io.Writer) (*runtimeEnv, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		return nil, err
	}
	if source != "" {
		cfg.Library.SourceDir = source
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	env := &runtimeEnv{cfg: cfg, logger: logger, closer: []io.Closer{logCloser}}

	ffmpeg := decoder.NewFFmpeg(decoder.FFmpegConfig{
		FFmpegPath:  cfg.Decoder.FFmpegPath,
		FFprobePath: cfg.Decoder.FFprobePath,
		Timeout:     time.Duration(cfg.Decoder.TimeoutSeconds) * time.Second,
	}, logger)
	if err := ffmpeg.CheckBinaries(); err != nil {
		logger.WithError(err).Warn("ffmpeg tools not available, decoding will fail")
	}

	var gateway decoder.Gateway = ffmpeg
	var pictures covers.PictureReader
	if cfg.Decoder.NativeFallback {
		native := decoder.NewNative(logger)
		gateway = decoder.NewChain(ffmpeg, native, logger)
		pictures = native
	}
	cached := decoder.NewCached(gateway, probeCacheTTL)
	env.closer = append(env.closer, closerFunc(cached.Close))

	env.app = app.New(cfg, logger, app.Options{
		Gateway:  cached,
		Covers:   ffmpeg,
		Pictures: pictures,
		Progress: progress,
		Out:      out,
	})
	return env, nil
}

// targetDir resolves the directory argument. The legacy source config in the
// target is honoured when no source was configured.
func targetDir(env *runtimeEnv, args []string) string {
	target := env.cfg.Library.OutputDir
	if len(args) > 0 {
		target = args[0]
	}
	if used, err := env.cfg.ApplyLegacySourceConfig(target); err != nil {
		env.logger.WithError(err).Fatal("Error reading legacy source configuration")
	} else if used {
		env.logger.WithField("source_dir", env.cfg.Library.SourceDir).Info("Using source directory from " + config.LegacySourceConfigFile)
	}
	return target
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exitOnFailure exits with status 1 when any item failed
func exitOnFailure(e *runtimeEnv, s pipeline.Summary) {
	if s.Failed > 0 {
		e.Close()
		os.Exit(1)
	}
}

func cmdPeaks(env func() *runtimeEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peaks [dir]",
		Short: "Generate <mix>.peaks.json waveform files",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e := env()
			force, _ := cmd.Flags().GetBool("force")
			count, _ := cmd.Flags().GetInt("count")

			ctx, cancel := signalContext()
			defer cancel()
			s, err := e.app.Peaks(ctx, targetDir(e, args), force, count)
			if err != nil {
				e.logger.WithError(err).Fatal("Error generating peaks")
			}
			exitOnFailure(e, s)
		},
	}
	cmd.Flags().BoolP("force", "f", false, "Regenerate peaks files that already exist")
	cmd.Flags().IntP("count", "n", 0, "Number of peaks per file (default from config)")
	return cmd
}

func cmdManifest(env func() *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest [dir]",
		Short: "Generate manifest.json for every artist directory",
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			e := env()
			ctx, cancel := signalContext()
			defer cancel()
			s, err := e.app.Manifests(ctx, targetDir(e, args))
			if err != nil {
				e.logger.WithError(err).Fatal("Error generating manifests")
			}
			exitOnFailure(e, s)
		},
	}
}

func cmdIndex(env func() *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "index [dir]",
		Short: "Generate search-index.json from the artist manifests",
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			e := env()
			ctx, cancel := signalContext()
			defer cancel()
			target := e.cfg.Library.OutputDir
			if len(args) > 0 {
				target = args[0]
			}
			s, err := e.app.Index(ctx, target)
			if err != nil {
				e.logger.WithError(err).Fatal("Error generating search index")
			}
			exitOnFailure(e, s)
		},
	}
}

func cmdCovers(env func() *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "covers [dir]",
		Short: "Extract embedded cover art next to each mix",
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			e := env()
			ctx, cancel := signalContext()
			defer cancel()
			s, _, err := e.app.Covers(ctx, targetDir(e, args))
			if err != nil {
				e.logger.WithError(err).Fatal("Error extracting covers")
			}
			exitOnFailure(e, s)
		},
	}
}

func cmdPresets(env func() *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "presets [dir]",
		Short: "Generate the presets manifest",
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			e := env()
			target := "."
			if len(args) > 0 {
				target = args[0]
			}
			s, err := e.app.Presets(target)
			if err != nil {
				e.logger.WithError(err).Fatal("Error generating presets manifest")
			}
			exitOnFailure(e, s)
		},
	}
}

func cmdAll(env func() *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "all [dir]",
		Short: "Run peaks, covers, manifest and index in order",
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			e := env()
			ctx, cancel := signalContext()
			defer cancel()
			s, err := e.app.All(ctx, targetDir(e, args))
			if err != nil {
				e.logger.WithError(err).Fatal("Error processing library")
			}
			exitOnFailure(e, s)
		},
	}
}

func cmdWatch(env func() *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir]",
		Short: "Regenerate artifacts whenever audio files change",
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			e := env()
			ctx, cancel := signalContext()
			defer cancel()
			if err := e.app.Watch(ctx, targetDir(e, args)); err != nil {
				e.logger.WithError(err).Fatal("Error watching library")
			}
			e.logger.Info("Received shutdown signal")
		},
	}
}

func cmdSearch(env func() *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalog database",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e := env()
			results, err := e.app.Search(args[0])
			if err != nil {
				e.logger.WithError(err).Fatal("Error searching catalog")
			}

			out := cmd.OutOrStdout()
			bold := color.New(color.Bold)
			for _, r := range results {
				bold.Fprintf(out, "%s", r.Name)
				fmt.Fprintf(out, "  %s  [%s]  %s/%s\n", r.Artist, r.Duration, r.DJ, r.AudioFile)
			}
			fmt.Fprintf(out, "%d results\n", len(results))
		},
	}
}
