// Package addins ships two worked PipelineAddin implementations —
// autotools and flatpak — as exemplars of how a build-system or runtime
// plugin attaches stages to a pipeline.Pipeline. Neither is wired into the
// pipeline package itself; a caller opts in by constructing one and
// calling Pipeline.RegisterAddin.
package addins

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/ide-tools/buildpipeline/pipeline"
)

// Autotools attaches the classic autoreconf/configure/make stages: an
// AUTOGEN-phase autoreconf stage (skipped when "configure" already
// exists), an AUTOGEN-phase configure stage ordered after it (skipped when
// builddir/Makefile already exists — once a build tree is configured,
// reconfiguring it is left to an explicit invalidation rather than every
// run), and BUILD/INSTALL stages running "make"/"make install" with a
// parallelism flag derived from the pipeline's Configuration.
type Autotools struct {
	pipeline.AddinBase
}

func (a *Autotools) Load(p *pipeline.Pipeline) error {
	configurePath := filepath.Join(p.Srcdir(), "configure")

	autoreconf := pipeline.NewStageProcess("autoreconf",
		pipeline.NewSubprocessLauncher("autoreconf", "-i").WithCwd(p.Srcdir()))
	if exists(configurePath) {
		autoreconf.SetCompleted(true)
	}
	a.Track(p.Attach(pipeline.PhaseAutogen, 0, autoreconf))

	configureArgv := []string{configurePath}
	if opts := p.Configuration().ConfigOpts; opts != "" {
		configureArgv = append(configureArgv, strings.Fields(opts)...)
	}
	configure := pipeline.NewStageProcess("configure",
		pipeline.NewSubprocessLauncher(configureArgv...).WithCwd(p.Builddir()))
	if exists(filepath.Join(p.Builddir(), "Makefile")) {
		configure.SetCompleted(true)
	}
	a.Track(p.Attach(pipeline.PhaseAutogen, 1, configure))

	make := "make"
	if _, err := exec.LookPath("gmake"); err == nil {
		make = "gmake"
	}
	jobs := "-j" + strconv.Itoa(p.Configuration().ResolvedParallelism(runtime.NumCPU()))

	a.Track(p.AttachLauncher(pipeline.PhaseBuild, 0,
		pipeline.NewSubprocessLauncher(make, "all", jobs).WithCwd(p.Builddir())))
	a.Track(p.AttachLauncher(pipeline.PhaseInstall, 0,
		pipeline.NewSubprocessLauncher(make, "install", jobs).WithCwd(p.Builddir())))

	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
