package buildcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ide-tools/buildpipeline/pipeline"
)

const sample = `
[default]
name = Default
device = local
runtime = org.gnome.Platform
prefix = /app
app-id = org.example.App
config-opts = -Dfoo=bar
prebuild = scripts/pre.sh --fast
postbuild = scripts/post.sh
default = true

[default.environment]
CC = gcc
CFLAGS = -O2

[release]
name = Release
runtime = org.gnome.Platform
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".buildconfig")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func TestLoadParsesConfigurationsAndDefault(t *testing.T) {
	configs, defaultID, err := Load(writeSample(t))
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "default", defaultID)

	byID := map[string]pipeline.Configuration{}
	for _, c := range configs {
		byID[c.ID] = c
	}

	def := byID["default"]
	assert.Equal(t, "Default", def.DisplayName)
	assert.Equal(t, "local", def.DeviceID)
	assert.Equal(t, "org.gnome.Platform", def.RuntimeID)
	assert.Equal(t, "/app", def.Prefix)
	assert.Equal(t, "org.example.App", def.AppID)
	assert.Equal(t, "-Dfoo=bar", def.ConfigOpts)
	assert.Equal(t, []pipeline.Command{{Argv: []string{"scripts/pre.sh", "--fast"}}}, def.Prebuild)
	assert.Equal(t, []pipeline.Command{{Argv: []string{"scripts/post.sh"}}}, def.Postbuild)
	assert.Equal(t, map[string]string{"CC": "gcc", "CFLAGS": "-O2"}, def.Environment)

	release := byID["release"]
	assert.Equal(t, "Release", release.DisplayName)
	assert.Empty(t, release.Environment)
}

func TestLoadDefaultsToFirstSectionWhenNoneMarkedDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".buildconfig")
	require.NoError(t, os.WriteFile(path, []byte("[one]\nname = One\n\n[two]\nname = Two\n"), 0o644))

	configs, defaultID, err := Load(path)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "one", defaultID)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
