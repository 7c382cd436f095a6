// Package buildcfg reads a project's persisted ".buildconfig" INI file into
// a set of pipeline.Configuration values. It is a worked example of the
// configuration shape the pipeline package consumes — the pipeline itself
// never imports this package; only a caller (e.g. cmd/buildpipe) wires the
// two together.
package buildcfg

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/ide-tools/buildpipeline/pipeline"
)

const environmentSuffix = ".environment"

// Load parses path as an INI-style build configuration file. Each section
// not ending in ".environment" describes one Configuration, identified by
// its section name; a parallel "<id>.environment" section, if present,
// supplies its Environment map. It returns every parsed Configuration and
// the id marked "default = true" (the first Configuration's id if none is).
func Load(path string) ([]pipeline.Configuration, string, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading %s: %w", path, err)
	}

	var (
		configs   []pipeline.Configuration
		defaultID string
	)

	for _, section := range file.Sections() {
		name := section.Name()
		if name == ini.DefaultSection || strings.HasSuffix(name, environmentSuffix) {
			continue
		}

		config := pipeline.Configuration{
			ID:          name,
			DisplayName: section.Key("name").MustString(name),
			DeviceID:    section.Key("device").String(),
			RuntimeID:   section.Key("runtime").String(),
			Prefix:      section.Key("prefix").String(),
			ConfigOpts:  section.Key("config-opts").String(),
			AppID:       section.Key("app-id").String(),
			Prebuild:    parseCommandList(section.Key("prebuild").String()),
			Postbuild:   parseCommandList(section.Key("postbuild").String()),
			Internal:    map[string]string{},
		}

		if env, err := file.GetSection(name + environmentSuffix); err == nil {
			config.Environment = env.KeysHash()
		}

		if section.Key("default").MustBool(false) {
			defaultID = name
		}

		configs = append(configs, config)
	}

	if defaultID == "" && len(configs) > 0 {
		defaultID = configs[0].ID
	}

	return configs, defaultID, nil
}

// parseCommandList splits a comma-separated list of shell command lines
// into Commands, each argv-split on whitespace. Quoting is not supported —
// callers needing it should use prebuild/postbuild scripts instead.
func parseCommandList(raw string) []pipeline.Command {
	if raw == "" {
		return nil
	}

	var commands []pipeline.Command
	for _, line := range strings.Split(raw, ",") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		commands = append(commands, pipeline.Command{Argv: strings.Fields(line)})
	}
	return commands
}
