package addins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ide-tools/buildpipeline/pipeline"
)

// Flatpak attaches the stages a flatpak-manifest-driven build needs:
// PREPARE-phase directory creation, GNOME SDK remote registration,
// `flatpak build-init`; a DOWNLOADS-phase transfer per platform/SDK
// runtime; a DEPENDENCIES-phase `flatpak-builder --stop-at`; and an
// EXPORT-phase `flatpak build-finish`. Everything here runs with
// FlagRunOnHost, since flatpak itself must be driven from the host rather
// than from inside whatever sandbox the build is running in.
type Flatpak struct {
	pipeline.AddinBase
}

func (f *Flatpak) Load(p *pipeline.Pipeline) error {
	config := p.Configuration()
	stagingDir := stagingDir(config)
	repoDir := repoDir(config)

	mkdirs := pipeline.NewStageMkdirs("flatpak-mkdirs")
	mkdirs.AddPath(repoDir, true, 0o750)
	mkdirs.AddPath(stagingDir, true, 0o750)
	f.Track(p.Attach(pipeline.PhasePrepare, 0, mkdirs))

	if name, url, ok := gnomeRemote(config); ok {
		f.Track(p.AttachLauncher(pipeline.PhasePrepare, 1, hostLauncher(
			"flatpak", "remote-add", "--user", "--if-not-exists", "--from", name, url,
		)))
	}

	manifestPath := filepath.Join(stagingDir, "manifest")
	buildInit := pipeline.NewStageProcess("flatpak-build-init", hostLauncher(
		"flatpak", "build-init", stagingDir,
		config.AppID, config.Internal["flatpak-sdk"], config.Internal["flatpak-platform"], config.Internal["flatpak-branch"],
	))
	f.Track(p.Attach(pipeline.PhasePrepare, 2, withExistsQuery(buildInit, manifestPath)))

	for i, id := range []string{config.Internal["flatpak-platform"], config.Internal["flatpak-sdk"]} {
		if id == "" {
			continue
		}
		transfer := &runtimeTransfer{id: id, branch: config.Internal["flatpak-branch"]}
		f.Track(p.Attach(pipeline.PhaseDownloads, int32(i),
			pipeline.NewStageTransfer(fmt.Sprintf("flatpak-download-%s", id), transfer)))
	}

	if manifest := config.Internal["flatpak-manifest"]; manifest != "" {
		f.Track(p.AttachLauncher(pipeline.PhaseDependencies, 0, hostLauncher(
			"flatpak-builder", "--ccache", "--force-clean",
			"--stop-at="+config.Internal["flatpak-module"], stagingDir, manifest,
		)))

		exportPath := filepath.Join(stagingDir, "export")
		buildFinish := pipeline.NewStageProcess("flatpak-build-finish", hostLauncher(
			"flatpak", "build-finish", stagingDir,
		))
		f.Track(p.Attach(pipeline.PhaseExport, 0, withExistsQuery(buildFinish, exportPath)))
	}

	return nil
}

func hostLauncher(argv ...string) *pipeline.SubprocessLauncher {
	return pipeline.NewSubprocessLauncher(argv...).WithFlags(pipeline.FlagRunOnHost)
}

// withExistsQuery overrides stage's Query to mark it already completed
// when path exists. Both build-init and build-finish need this, keyed on
// different paths, so it's attached here rather than duplicated into two
// stage types.
func withExistsQuery(stage *pipeline.StageProcess, path string) *pipeline.StageProcess {
	stage.StageBase.Self = queryingStage{StageProcess: stage, path: path}
	return stage
}

// queryingStage overrides Query by embedding the wrapped stage and
// shadowing just that one method, so Self dispatches Execute back to the
// wrapped *StageProcess unchanged.
type queryingStage struct {
	*pipeline.StageProcess
	path string
}

func (q queryingStage) Query(ctx context.Context, p *pipeline.Pipeline) {
	if _, err := os.Stat(q.path); err == nil {
		q.SetCompleted(true)
	}
}

// runtimeTransfer stands in for the flatpak SDK/platform download
// machinery: Wait installs or updates the named runtime on the host via
// flatpak itself.
type runtimeTransfer struct {
	id     string
	branch string
}

func (t *runtimeTransfer) Wait(ctx context.Context) error {
	branch := t.branch
	if branch == "" {
		branch = "stable"
	}
	sub, err := hostLauncher("flatpak", "install", "--user", "--or-update", "--noninteractive", t.id, branch).Spawn(ctx)
	if err != nil {
		return err
	}
	return sub.WaitCheck(ctx)
}

func stagingDir(config pipeline.Configuration) string {
	return filepath.Join(os.TempDir(), "flatpak-builder", config.ID, "staging")
}

func repoDir(config pipeline.Configuration) string {
	return filepath.Join(os.TempDir(), "flatpak-builder", config.ID, "repo")
}

// gnomeRemote reports the well-known GNOME SDK flatpak remote to register
// when the configuration targets a GNOME platform/SDK; a "master" branch
// maps to the nightly remote rather than the stable one.
func gnomeRemote(config pipeline.Configuration) (name, url string, ok bool) {
	platform := config.Internal["flatpak-platform"]
	sdk := config.Internal["flatpak-sdk"]
	isGnome := platform == "org.gnome.Platform" || platform == "org.gnome.Sdk" ||
		sdk == "org.gnome.Platform" || sdk == "org.gnome.Sdk"
	if !isGnome {
		return "", "", false
	}
	if config.Internal["flatpak-branch"] == "master" {
		return "gnome-nightly", "https://sdk.gnome.org/gnome-nightly.flatpakrepo", true
	}
	return "gnome", "https://sdk.gnome.org/gnome.flatpakrepo", true
}
