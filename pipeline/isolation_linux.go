//go:build linux

package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/containerd/cgroups"
	"github.com/containerd/cgroups/v3/cgroup2"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func init() {
	isolationPolicyFunc = configuredIsolationPolicy
}

// configuredIsolationPolicy reads a Configuration's cgroup-version,
// cgroup-path, cgroup-cpu-shares/cgroup-cpu-weight, and
// cgroup-memory-limit-bytes Internal keys and builds the matching
// IsolationPolicy for a stage named name. An absent or empty
// cgroup-version means the caller did not ask for isolation.
func configuredIsolationPolicy(config Configuration, name string) (IsolationPolicy, bool, error) {
	version := config.Internal["cgroup-version"]
	if version == "" {
		return nil, false, nil
	}

	path := config.Internal["cgroup-path"]
	if path == "" {
		path = "/buildpipe/"
	}

	switch version {
	case "v1":
		cpuShares := uint64(1024)
		if raw, ok := config.Internal["cgroup-cpu-shares"]; ok {
			if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
				cpuShares = v
			}
		}
		memLimit := int64(-1)
		if raw, ok := config.Internal["cgroup-memory-limit-bytes"]; ok {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				memLimit = v
			}
		}
		return NewCgroupsV1IsolationPolicy(cpuShares, memLimit, name, path), true, nil

	case "v2":
		// NewCgroupsV2IsolationPolicy rejects a negative quota or memory
		// limit, so the unconfigured defaults below are a generous but
		// finite cap (one full period's worth of CPU, 1GiB of memory)
		// rather than -1-means-unlimited.
		cpuPeriod := uint64(100000)
		if raw, ok := config.Internal["cgroup-cpu-period"]; ok {
			if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
				cpuPeriod = v
			}
		}
		cpuQuota := int64(cpuPeriod)
		if raw, ok := config.Internal["cgroup-cpu-quota"]; ok {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				cpuQuota = v
			}
		}
		cpuWeight := uint64(100)
		if raw, ok := config.Internal["cgroup-cpu-weight"]; ok {
			if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
				cpuWeight = v
			}
		}
		memory := int64(1 << 30)
		if raw, ok := config.Internal["cgroup-memory-limit-bytes"]; ok {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				memory = v
			}
		}
		policy, err := NewCgroupsV2IsolationPolicy(cpuQuota, cpuPeriod, cpuWeight, memory, name, path)
		if err != nil {
			return nil, false, err
		}
		return policy, true, nil

	default:
		return nil, false, fmt.Errorf("unknown cgroup-version %q", version)
	}
}

// CgroupsV1Isolation constrains a subprocess's CPU shares and memory limit
// via a cgroups v1 hierarchy. It's offered alongside CgroupsV2Isolation for
// hosts that haven't migrated to the unified hierarchy.
type CgroupsV1Isolation struct {
	cpuShares uint64
	memLimit  int64
	name      string
	path      string

	control cgroups.Cgroup
}

// NewCgroupsV1IsolationPolicy constrains a stage's process to cpuShares
// relative CPU weight and memLimit bytes of memory, under a cgroup named
// after name at the given hierarchy path.
func NewCgroupsV1IsolationPolicy(cpuShares uint64, memLimit int64, name, path string) IsolationPolicy {
	return &CgroupsV1Isolation{cpuShares: cpuShares, memLimit: memLimit, name: name, path: path}
}

func (c *CgroupsV1Isolation) Setup(ctx context.Context, pid uint64) error {
	name := fmt.Sprintf("%s-%d-%d", c.name, time.Now().UnixNano(), rand.Intn(10000))
	control, err := cgroups.New(
		cgroups.V1,
		cgroups.StaticPath(c.path+name),
		&specs.LinuxResources{
			CPU:    &specs.LinuxCPU{Shares: &c.cpuShares},
			Memory: &specs.LinuxMemory{Limit: &c.memLimit},
		},
	)
	if err != nil {
		return fmt.Errorf("creating cgroup v1 %q: %w", name, err)
	}
	if err := control.Add(cgroups.Process{Pid: int(pid)}); err != nil {
		_ = control.Delete()
		return fmt.Errorf("adding pid %d to cgroup %q: %w", pid, name, err)
	}
	c.control = control
	return nil
}

func (c *CgroupsV1Isolation) Teardown(ctx context.Context) error {
	if c.control == nil {
		return fmt.Errorf("cgroup v1 isolation: never set up")
	}
	return c.control.Delete()
}

// CgroupsV2Isolation constrains a subprocess's CPU and memory via a
// cgroup2 manager rooted at the unified hierarchy mountpoint.
type CgroupsV2Isolation struct {
	cpuQuota  *int64
	cpuPeriod *uint64
	cpuWeight *uint64
	memory    *int64
	name      string
	path      string

	manager *cgroup2.Manager
}

// NewCgroupsV2IsolationPolicy constrains a stage's process using the
// unified cgroup hierarchy: cpuQuota/cpuPeriod bound CPU time, cpuWeight
// sets relative priority, and memory bounds RSS+cache.
func NewCgroupsV2IsolationPolicy(cpuQuota int64, cpuPeriod, cpuWeight uint64, memory int64, name, path string) (IsolationPolicy, error) {
	if cpuQuota < 0 || cpuPeriod == 0 || memory < 0 {
		return nil, fmt.Errorf("invalid cgroup v2 parameters: quota=%d period=%d memory=%d", cpuQuota, cpuPeriod, memory)
	}
	return &CgroupsV2Isolation{
		cpuQuota:  &cpuQuota,
		cpuPeriod: &cpuPeriod,
		cpuWeight: &cpuWeight,
		memory:    &memory,
		name:      name,
		path:      path,
	}, nil
}

func (c *CgroupsV2Isolation) Setup(ctx context.Context, pid uint64) error {
	name := fmt.Sprintf("%s-%d-%d", c.name, time.Now().UnixNano(), rand.Intn(10000))
	path := c.path + name

	resources := &cgroup2.Resources{
		CPU:    &cgroup2.CPU{Max: cgroup2.NewCPUMax(c.cpuQuota, c.cpuPeriod), Weight: c.cpuWeight},
		Memory: &cgroup2.Memory{Max: c.memory},
	}

	manager, err := cgroup2.NewManager("/sys/fs/cgroup", path, resources)
	if err != nil {
		return fmt.Errorf("creating cgroup2 manager %q: %w", path, err)
	}
	if err := manager.AddProc(pid); err != nil {
		_ = manager.Delete()
		return fmt.Errorf("adding pid %d to cgroup %q: %w", pid, path, err)
	}
	c.manager = manager
	return nil
}

func (c *CgroupsV2Isolation) Teardown(ctx context.Context) error {
	if c.manager == nil {
		return fmt.Errorf("cgroup v2 isolation: never set up")
	}
	return c.manager.Delete()
}
