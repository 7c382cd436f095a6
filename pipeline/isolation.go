package pipeline

import "context"

// IsolationPolicy constrains the resources (CPU, memory) available to a
// subprocess stage's child process. It is a resource-limiting mechanism,
// not a sandbox: it never isolates filesystem or network namespaces, so
// sandboxing remains out of scope for this package.
type IsolationPolicy interface {
	// Setup is called once the child has started, with its pid.
	Setup(ctx context.Context, pid uint64) error

	// Teardown releases whatever Setup allocated.
	Teardown(ctx context.Context) error
}

// isolationPolicyFunc builds an IsolationPolicy from a Configuration's
// cgroup-* Internal keys, reporting ok=false if none request one. It is nil
// on platforms without a cgroups backend, in which case isolation is
// silently skipped; see isolation_linux.go.
var isolationPolicyFunc func(config Configuration, name string) (IsolationPolicy, bool, error)

// buildIsolationPolicy resolves the isolation policy config requests for a
// stage named name, or returns a nil policy if none was requested or the
// platform has no isolation backend compiled in.
func buildIsolationPolicy(config Configuration, name string) (IsolationPolicy, error) {
	if isolationPolicyFunc == nil {
		return nil, nil
	}
	policy, ok, err := isolationPolicyFunc(config, name)
	if err != nil || !ok {
		return nil, err
	}
	return policy, nil
}
