// Command buildpipe drives a pipeline.Pipeline from a .buildconfig file:
// it loads a named configuration, registers the autotools and/or flatpak
// addins depending on what the configuration asks for, requests a target
// phase, and optionally serves a buildstatus.Server alongside the run.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ide-tools/buildpipeline/addins"
	"github.com/ide-tools/buildpipeline/buildcfg"
	"github.com/ide-tools/buildpipeline/buildstatus"
	"github.com/ide-tools/buildpipeline/pipeline"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	configID   string
	srcdir     string
	builddir   string
	phase      string
	statusAddr string
	logLevel   string
	noAutoconf bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "buildpipe",
		Short:         "Run a phase-ordered build pipeline against a project",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", ".buildconfig", "file name of the INI-style build configuration file, read from srcdir (any directory part is ignored)")
	f.StringVar(&opts.configID, "config-id", "", "configuration id to use (default: the file's marked default)")
	f.StringVar(&opts.srcdir, "srcdir", "", "source directory (default: current working directory)")
	f.StringVar(&opts.builddir, "builddir", "_build", "build directory, relative to srcdir unless absolute")
	f.StringVar(&opts.phase, "phase", "install", "target phase to request (prepare/downloads/dependencies/autogen/configure/build/install/export/final)")
	f.StringVar(&opts.statusAddr, "status-addr", "", "if set, serve metrics/phase/log endpoints on this address (e.g. :8089)")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level (debug/info/warn/error)")
	f.BoolVar(&opts.noAutoconf, "no-autotools", false, "skip registering the autotools addin")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		return fmt.Errorf("parsing --log-level: %w", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	srcdir := opts.srcdir
	if srcdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		srcdir = wd
	}

	builddir := opts.builddir
	if !filepath.IsAbs(builddir) {
		builddir = filepath.Join(srcdir, builddir)
	}

	configs, defaultID, err := buildcfg.Load(filepath.Join(srcdir, filepath.Base(opts.configPath)))
	if err != nil {
		return fmt.Errorf("loading build configuration: %w", err)
	}

	id := opts.configID
	if id == "" {
		id = defaultID
	}

	config, err := selectConfiguration(configs, id)
	if err != nil {
		return err
	}

	phase, err := pipeline.ParsePhase(opts.phase)
	if err != nil {
		return fmt.Errorf("parsing --phase: %w", err)
	}

	p := pipeline.New(srcdir, builddir, config, logger)
	defer p.Close()

	p.BuildLog().Subscribe(func(stream pipeline.Stream, line string) {
		logger.Info().Str("stream", stream.String()).Msg(line)
	})

	attachLifecycleCommands(p, config)

	if !opts.noAutoconf {
		if err := p.RegisterAddin(&addins.Autotools{}); err != nil {
			return fmt.Errorf("registering autotools addin: %w", err)
		}
	}
	if config.Internal["flatpak-manifest"] != "" || config.Internal["flatpak-platform"] != "" {
		if err := p.RegisterAddin(&addins.Flatpak{}); err != nil {
			return fmt.Errorf("registering flatpak addin: %w", err)
		}
	}

	if err := p.RequestPhase(phase); err != nil {
		return fmt.Errorf("requesting phase %s: %w", phase, err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.statusAddr != "" {
		httpServer := &http.Server{Addr: opts.statusAddr, Handler: buildstatus.New(p)}
		go func() {
			logger.Info().Str("addr", opts.statusAddr).Msg("serving build status")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("status server stopped")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	}

	return p.ExecuteAsync(runCtx)
}

func selectConfiguration(configs []pipeline.Configuration, id string) (pipeline.Configuration, error) {
	if id == "" {
		if len(configs) == 0 {
			return pipeline.Configuration{}, fmt.Errorf("no configurations found")
		}
		return configs[0], nil
	}
	for _, c := range configs {
		if c.ID == id {
			return c, nil
		}
	}
	return pipeline.Configuration{}, fmt.Errorf("configuration %q not found", id)
}

// attachLifecycleCommands wires Configuration.Prebuild/Postbuild into the
// pipeline as ordinary subprocess stages: prebuild commands run
// PhasePrepare|PhaseBefore, in list order; postbuild commands run
// PhaseFinal|PhaseAfter, in list order.
func attachLifecycleCommands(p *pipeline.Pipeline, config pipeline.Configuration) {
	for i, c := range config.Prebuild {
		launcher := pipeline.NewSubprocessLauncher(c.Argv...).WithCwd(p.Srcdir())
		stage := pipeline.NewStageProcess(fmt.Sprintf("prebuild-%d", i), launcher)
		p.Attach(pipeline.PhasePrepare|pipeline.PhaseBefore, int32(i), stage)
	}
	for i, c := range config.Postbuild {
		launcher := pipeline.NewSubprocessLauncher(c.Argv...).WithCwd(p.Srcdir())
		stage := pipeline.NewStageProcess(fmt.Sprintf("postbuild-%d", i), launcher)
		p.Attach(pipeline.PhaseFinal|pipeline.PhaseAfter, int32(i), stage)
	}

	p.Attach(pipeline.PhaseFinal|pipeline.PhaseAfter, 1<<30, pipeline.NewStageFunc("buildstamp", writeBuildStamp))
}

// writeBuildStamp records the configuration id and finish time of a
// successful run, so a caller can tell at a glance when builddir was last
// brought up to date without re-running the pipeline.
func writeBuildStamp(ctx context.Context, p *pipeline.Pipeline) error {
	path := filepath.Join(p.Builddir(), ".buildstamp")
	contents := fmt.Sprintf("%s\n%s\n", p.Configuration().ID, time.Now().Format(time.RFC3339))
	return os.WriteFile(path, []byte(contents), 0o644)
}
