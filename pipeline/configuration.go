package pipeline

// Command is a single prebuild/postbuild command line, as stored in the
// persisted configuration (see the buildcfg package for the on-disk shape).
type Command struct {
	Argv []string
}

// Configuration is the runtime identity and settings an addin consumes
// when attaching stages. Reading it from disk is out of scope for this
// package (see the buildcfg package for a worked INI-backed provider) —
// only this shape is specified here.
type Configuration struct {
	ID          string
	DisplayName string
	AppID       string
	RuntimeID   string
	DeviceID    string
	Prefix      string
	ConfigOpts  string

	// Parallelism: -1 means cores+1, 0 means cores, >0 is an explicit job count.
	Parallelism int

	Environment map[string]string
	Prebuild    []Command
	Postbuild   []Command

	// Internal is a free-form bag used by addins for private keys, e.g.
	// "flatpak-platform", "flatpak-sdk", "flatpak-branch",
	// "flatpak-manifest", "flatpak-module", "memory-limit-bytes",
	// "cgroup-version" ("v1"/"v2", absent disables isolation),
	// "cgroup-path", "cgroup-cpu-shares"/"cgroup-cpu-weight",
	// "cgroup-cpu-quota", "cgroup-cpu-period", "cgroup-memory-limit-bytes".
	Internal map[string]string
}

// ResolvedParallelism interprets Parallelism against the number of
// available CPUs, following the -1/0/>0 convention documented on
// Parallelism above.
func (c Configuration) ResolvedParallelism(numCPU int) int {
	switch {
	case c.Parallelism < 0:
		return numCPU + 1
	case c.Parallelism == 0:
		return numCPU
	default:
		return c.Parallelism
	}
}
