package addins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ide-tools/buildpipeline/pipeline"
)

func TestFlatpakAttachesMkdirsRemoteAndBuildInit(t *testing.T) {
	p := newTestPipeline(t, pipeline.Configuration{
		AppID: "org.example.App",
		Internal: map[string]string{
			"flatpak-platform": "org.gnome.Platform",
			"flatpak-sdk":      "org.gnome.Sdk",
			"flatpak-branch":   "stable",
		},
	})

	var f Flatpak
	require.NoError(t, f.Load(p))

	var names []string
	for _, entry := range p.Entries() {
		names = append(names, entry.Stage.Name())
	}
	assert.Contains(t, names, "flatpak-mkdirs")
	assert.Contains(t, names, "flatpak-build-init")

	var sawRemoteAdd bool
	for _, entry := range p.Entries() {
		if process, ok := entry.Stage.(*pipeline.StageProcess); ok {
			argv := process.Launcher().Argv()
			if len(argv) > 1 && argv[1] == "remote-add" {
				sawRemoteAdd = true
				assert.Contains(t, argv, "gnome")
			}
		}
	}
	assert.True(t, sawRemoteAdd, "expected a remote-add launcher for the GNOME SDK")
}

func TestFlatpakSkipsRemoteAddForNonGnomeRuntime(t *testing.T) {
	p := newTestPipeline(t, pipeline.Configuration{
		Internal: map[string]string{
			"flatpak-platform": "org.freedesktop.Platform",
			"flatpak-sdk":      "org.freedesktop.Sdk",
		},
	})

	var f Flatpak
	require.NoError(t, f.Load(p))

	for _, entry := range p.Entries() {
		if process, ok := entry.Stage.(*pipeline.StageProcess); ok {
			argv := process.Launcher().Argv()
			require.False(t, len(argv) > 1 && argv[1] == "remote-add")
		}
	}
}

func TestFlatpakAttachesOneTransferPerRuntime(t *testing.T) {
	p := newTestPipeline(t, pipeline.Configuration{
		Internal: map[string]string{
			"flatpak-platform": "org.freedesktop.Platform",
			"flatpak-sdk":      "org.freedesktop.Sdk",
		},
	})

	var f Flatpak
	require.NoError(t, f.Load(p))

	var downloads int
	for _, entry := range p.Entries() {
		if entry.Phase == pipeline.PhaseDownloads {
			downloads++
		}
	}
	assert.Equal(t, 2, downloads)
}

func TestFlatpakAttachesBuilderAndFinishOnlyWithManifest(t *testing.T) {
	p := newTestPipeline(t, pipeline.Configuration{
		Internal: map[string]string{"flatpak-manifest": "/tmp/app.json", "flatpak-module": "app"},
	})

	var f Flatpak
	require.NoError(t, f.Load(p))

	var names []string
	for _, entry := range p.Entries() {
		names = append(names, entry.Stage.Name())
	}
	assert.Contains(t, names, "flatpak-build-finish")
}

func TestFlatpakOmitsBuilderAndFinishWithoutManifest(t *testing.T) {
	p := newTestPipeline(t, pipeline.Configuration{})

	var f Flatpak
	require.NoError(t, f.Load(p))

	for _, entry := range p.Entries() {
		assert.NotEqual(t, "flatpak-build-finish", entry.Stage.Name())
	}
}

func TestQueryingStageMarksCompletedWhenPathExists(t *testing.T) {
	p := newTestPipeline(t, pipeline.Configuration{
		AppID:    "org.example.App",
		Internal: map[string]string{},
	})

	manifestDir := stagingDir(p.Configuration())
	require.NoError(t, os.MkdirAll(manifestDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(manifestDir, "manifest"), []byte("{}"), 0o644))

	var f Flatpak
	require.NoError(t, f.Load(p))

	for _, entry := range p.Entries() {
		if entry.Stage.Name() == "flatpak-build-init" {
			require.NoError(t, entry.Stage.ExecuteWithQueryAsync(context.Background(), p))
			assert.True(t, entry.Stage.Completed())
		}
	}
}
