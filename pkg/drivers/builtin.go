package drivers

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/palantir/stacktrace"

	"github.com/breakpoint-labs/havoc/pkg/log"
	"github.com/breakpoint-labs/havoc/pkg/types"
)

// CommandRunner executes one fault-injection command on the target host.
// The engine core stays free of root/kernel access; everything privileged
// funnels through here so deployments can swap in ssh, agents, or a no-op
// rehearsal runner.
type CommandRunner func(ctx context.Context, command string) error

// ShellRunner runs commands through /bin/bash on the local host
func ShellRunner(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	out, err := cmd.CombinedOutput()
	log.Infof("[Chaos]: %s", command)
	if err != nil {
		log.Error(string(out))
		return stacktrace.Propagate(err, "command failed")
	}
	return nil
}

// RegisterBuiltins installs a reference driver for every chaos type. All of
// them inject through the given runner and hand back the inverse command as
// the undo action.
func RegisterBuiltins(r *Registry, run CommandRunner) error {
	builtins := map[types.ChaosType]Driver{
		types.NetworkLatency:    networkLatencyDriver(run),
		types.CPUStress:         cpuStressDriver(run),
		types.MemoryStress:      memoryStressDriver(run),
		types.DatabaseFailure:   serviceStopDriver(run, "database"),
		types.DependencyChaos:   dependencyChaosDriver(run),
		types.DiskIOStress:      diskIOStressDriver(run),
		types.PodTermination:    podTerminationDriver(run),
		types.ServiceDisruption: serviceStopDriver(run, "service"),
	}
	for chaosType, driver := range builtins {
		if err := r.Register(chaosType, driver); err != nil {
			return err
		}
	}
	return nil
}

// networkLatencyDriver adds a netem delay qdisc on the target interface and
// tears it down on undo
func networkLatencyDriver(run CommandRunner) Driver {
	return func(ctx context.Context, exp types.Experiment) (UndoFunc, error) {
		iface := exp.Parameters.String("interface")
		if iface == "" {
			iface = "eth0"
		}
		delayMs := int(exp.Parameters.Intensity(50) * 10)
		add := fmt.Sprintf("tc qdisc add dev %s root netem delay %dms", iface, delayMs)
		if err := run(ctx, add); err != nil {
			return nil, err
		}
		undo := func() error {
			return run(context.Background(), fmt.Sprintf("tc qdisc del dev %s root netem", iface))
		}
		return undo, nil
	}
}

// cpuStressDriver spins stress-ng workers sized by intensity
func cpuStressDriver(run CommandRunner) Driver {
	return func(ctx context.Context, exp types.Experiment) (UndoFunc, error) {
		load := int(exp.Parameters.Intensity(80))
		start := fmt.Sprintf("stress-ng --cpu 0 --cpu-load %d --backoff 0 &", load)
		if err := run(ctx, start); err != nil {
			return nil, err
		}
		undo := func() error {
			return run(context.Background(), "pkill -f stress-ng")
		}
		return undo, nil
	}
}

func memoryStressDriver(run CommandRunner) Driver {
	return func(ctx context.Context, exp types.Experiment) (UndoFunc, error) {
		percent := int(exp.Parameters.Intensity(80))
		start := fmt.Sprintf("stress-ng --vm 1 --vm-bytes %d%% --vm-keep &", percent)
		if err := run(ctx, start); err != nil {
			return nil, err
		}
		undo := func() error {
			return run(context.Background(), "pkill -f stress-ng")
		}
		return undo, nil
	}
}

func diskIOStressDriver(run CommandRunner) Driver {
	return func(ctx context.Context, exp types.Experiment) (UndoFunc, error) {
		workers := int(exp.Parameters.Intensity(50)/25) + 1
		start := fmt.Sprintf("stress-ng --hdd %d --hdd-bytes 1g &", workers)
		if err := run(ctx, start); err != nil {
			return nil, err
		}
		undo := func() error {
			return run(context.Background(), "pkill -f stress-ng")
		}
		return undo, nil
	}
}

// serviceStopDriver stops the unit named in the parameters and restarts it
// on undo; covers the database-failure and service-disruption categories
func serviceStopDriver(run CommandRunner, kind string) Driver {
	return func(ctx context.Context, exp types.Experiment) (UndoFunc, error) {
		unit := exp.Parameters.String(kind)
		if unit == "" {
			unit = exp.Target
		}
		if err := run(ctx, fmt.Sprintf("systemctl stop %s", unit)); err != nil {
			return nil, err
		}
		undo := func() error {
			return run(context.Background(), fmt.Sprintf("systemctl start %s", unit))
		}
		return undo, nil
	}
}

// dependencyChaosDriver black-holes traffic towards a dependency endpoint
func dependencyChaosDriver(run CommandRunner) Driver {
	return func(ctx context.Context, exp types.Experiment) (UndoFunc, error) {
		endpoint := exp.Parameters.String("dependency")
		if endpoint == "" {
			endpoint = exp.Target
		}
		block := fmt.Sprintf("iptables -A OUTPUT -d %s -j DROP", endpoint)
		if err := run(ctx, block); err != nil {
			return nil, err
		}
		undo := func() error {
			return run(context.Background(), fmt.Sprintf("iptables -D OUTPUT -d %s -j DROP", endpoint))
		}
		return undo, nil
	}
}

// podTerminationDriver deletes the target pod; undo is a no-op since the
// replica controller is expected to reschedule it
func podTerminationDriver(run CommandRunner) Driver {
	return func(ctx context.Context, exp types.Experiment) (UndoFunc, error) {
		namespace := exp.Parameters.String("namespace")
		if namespace == "" {
			namespace = "default"
		}
		kill := fmt.Sprintf("kubectl delete pod %s -n %s --wait=false", exp.Target, namespace)
		if err := run(ctx, kill); err != nil {
			return nil, err
		}
		undo := func() error {
			log.Infof("[Rollback]: pod %s left to its controller to reschedule", exp.Target)
			return nil
		}
		return undo, nil
	}
}
