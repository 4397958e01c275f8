// Package engine drives the per-execution state machine: pre-checks,
// baseline capture, driver invocation, in-flight sampling, the duration
// wait, rollback/undo and post-analysis.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/palantir/stacktrace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/breakpoint-labs/havoc/pkg/analysis"
	"github.com/breakpoint-labs/havoc/pkg/cerrors"
	"github.com/breakpoint-labs/havoc/pkg/drivers"
	"github.com/breakpoint-labs/havoc/pkg/events"
	"github.com/breakpoint-labs/havoc/pkg/gateway"
	"github.com/breakpoint-labs/havoc/pkg/log"
	"github.com/breakpoint-labs/havoc/pkg/store"
	"github.com/breakpoint-labs/havoc/pkg/types"
	"github.com/breakpoint-labs/havoc/pkg/utils/retry"
)

const tracerName = "breakpoint-labs/havoc/engine"

// Options tune the engine's timing knobs. Zero values fall back to the
// production defaults; tests shrink them to milliseconds.
type Options struct {
	// SampleInterval is how often metricsDuring snapshots are taken
	SampleInterval time.Duration
	// MonitorInterval is the rollback-trigger evaluation tick
	MonitorInterval time.Duration
	// DefaultDuration applies when an experiment carries no duration
	DefaultDuration time.Duration
	// PreCheckRetries/PreCheckWait shape the target reachability probe
	PreCheckRetries uint
	PreCheckWait    time.Duration
}

func (o Options) withDefaults() Options {
	if o.SampleInterval == 0 {
		o.SampleInterval = 5 * time.Second
	}
	if o.MonitorInterval == 0 {
		o.MonitorInterval = 5 * time.Second
	}
	if o.DefaultDuration == 0 {
		o.DefaultDuration = 60 * time.Second
	}
	if o.PreCheckRetries == 0 {
		o.PreCheckRetries = 3
	}
	if o.PreCheckWait == 0 {
		o.PreCheckWait = 2 * time.Second
	}
	return o
}

// stopRequest preempts the duration wait of a running execution
type stopRequest struct {
	status types.ExecutionStatus
	reason string
}

// runtime is the in-flight state of one execution, owned by the engine
type runtime struct {
	cancel context.CancelFunc
	stop   chan stopRequest
	once   sync.Once
}

// request delivers at most one stop request per execution
func (rt *runtime) request(req stopRequest) bool {
	delivered := false
	rt.once.Do(func() {
		rt.stop <- req
		delivered = true
	})
	return delivered
}

// Engine executes experiments. Many executions may run concurrently and
// independently; there is no global lock serializing them.
type Engine struct {
	store    *store.Store
	registry *drivers.Registry
	gateway  gateway.MetricsGateway
	bus      *events.Bus
	opts     Options

	mu      sync.Mutex
	running map[string]*runtime
}

// New builds an engine around the shared store, driver registry, metrics
// gateway and event bus
func New(st *store.Store, reg *drivers.Registry, gw gateway.MetricsGateway, bus *events.Bus, opts Options) *Engine {
	return &Engine{
		store:    st,
		registry: reg,
		gateway:  gw,
		bus:      bus,
		opts:     opts.withDefaults(),
		running:  make(map[string]*runtime),
	}
}

// Execute creates an execution for the experiment and runs its lifecycle in
// the background, returning the pending execution record. With
// immediate=false (scheduled runs) a disabled experiment is rejected;
// immediate=true is the manual path and bypasses the enabled gate.
// Overlapping executions of the same experiment are allowed.
func (e *Engine) Execute(ctx context.Context, experimentID string, immediate bool) (types.Execution, error) {
	exp, err := e.store.GetExperiment(experimentID)
	if err != nil {
		return types.Execution{}, stacktrace.Propagate(err, "execute failed")
	}
	if !exp.Enabled && !immediate {
		return types.Execution{}, cerrors.Error{
			ErrorCode: cerrors.ErrorTypeInvalidState,
			Target:    experimentID,
			Reason:    "experiment is disabled; pass immediate to run it anyway",
		}
	}

	exec := e.store.CreateExecution(exp.ID)
	log.InfoWithValues("[Engine]: Execution created", map[string]interface{}{
		"experiment": exp.Name,
		"execution":  exec.ID,
		"type":       exp.Type,
		"target":     exp.Target,
	})

	go e.run(ctx, exp, exec.ID)
	return exec, nil
}

// StopExecution requests early termination of a running execution. It
// errors if the execution is unknown or not running, and never mutates
// state in that case.
func (e *Engine) StopExecution(executionID string) error {
	exec, err := e.store.GetExecution(executionID)
	if err != nil {
		return stacktrace.Propagate(err, "stop failed")
	}
	if exec.Status != types.StatusRunning {
		return cerrors.Error{
			ErrorCode: cerrors.ErrorTypeInvalidState,
			Target:    executionID,
			Reason:    fmt.Sprintf("cannot stop execution in status '%s'", exec.Status),
		}
	}

	e.mu.Lock()
	rt, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeInvalidState, Target: executionID, Reason: "execution is not active"}
	}

	if rt.request(stopRequest{status: types.StatusTerminated, reason: "manual_stop"}) {
		log.Infof("[Engine]: Manual stop requested for execution %s", executionID)
	}
	return nil
}

// triggerRollback is the rollback monitor's callback; it flips the wait
// into the rollback path
func (e *Engine) triggerRollback(experimentID, executionID, reason string) {
	e.mu.Lock()
	rt, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return
	}
	if rt.request(stopRequest{status: types.StatusRolledBack, reason: reason}) {
		log.ErrorWithValues("[Rollback]: Trigger breached, rolling back execution", map[string]interface{}{
			"execution": executionID,
			"reason":    reason,
		})
		ev := events.New(events.EventRollbackTriggered, experimentID, executionID, reason)
		e.bus.Publish(ev)
	}
}

// preCheck verifies the target is reachable through the metrics gateway and
// that the experiment's triggers are sane before anything is injected
func (e *Engine) preCheck(ctx context.Context, exp types.Experiment) error {
	for _, trigger := range exp.RollbackTriggers {
		if trigger.Metric == "" {
			return cerrors.Error{ErrorCode: cerrors.ErrorTypePreCheckFailure, Target: exp.ID, Reason: "rollback trigger with empty metric name"}
		}
		switch trigger.Operator {
		case "gt", "gte", "lt", "lte", "eq":
		default:
			return cerrors.Error{
				ErrorCode: cerrors.ErrorTypePreCheckFailure,
				Target:    exp.ID,
				Reason:    fmt.Sprintf("rollback trigger operator '%s' is not supported", trigger.Operator),
			}
		}
	}

	err := retry.Times(e.opts.PreCheckRetries).
		Wait(e.opts.PreCheckWait).
		TryWithContext(ctx, func(attempt uint) error {
			_, err := e.gateway.GetSnapshot(ctx, exp.Target)
			return err
		})
	if err != nil {
		return cerrors.Error{
			ErrorCode: cerrors.ErrorTypePreCheckFailure,
			Target:    exp.Target,
			Reason:    fmt.Sprintf("target is not reachable through the metrics gateway, %v", err),
		}
	}
	return nil
}

// run walks one execution through the full state machine. Every path out of
// here leaves the execution in a terminal status.
func (e *Engine) run(ctx context.Context, exp types.Experiment, executionID string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "chaos-execution")
	span.SetAttributes(
		attribute.String("experiment.id", exp.ID),
		attribute.String("experiment.type", string(exp.Type)),
		attribute.String("execution.id", executionID),
	)
	defer span.End()

	rt := &runtime{cancel: cancel, stop: make(chan stopRequest, 1)}
	e.mu.Lock()
	e.running[executionID] = rt
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, executionID)
		e.mu.Unlock()
	}()

	var (
		undo     drivers.UndoFunc
		undoOnce sync.Once
	)
	// undo is owned by this execution and invoked at most once, on every
	// path including failures and panics
	invokeUndo := func(swallow bool) {
		undoOnce.Do(func() {
			if undo == nil {
				return
			}
			log.Infof("[Rollback]: Reverting fault for execution %s", executionID)
			if err := undo(); err != nil {
				if !swallow {
					log.Errorf("[Rollback]: Undo action failed for execution %s, err: %v", executionID, err)
					return
				}
				log.Warnf("[Rollback]: Best-effort undo failed during cleanup of execution %s, err: %v", executionID, err)
			}
		})
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Engine]: Panic in execution %s: %v", executionID, r)
			invokeUndo(true)
			e.finalize(exp, executionID, types.StatusFailed, fmt.Sprintf("panic: %v", r), false)
		}
	}()

	// step 3: pre-execution checks; failure aborts before running
	if err := e.preCheck(ctx, exp); err != nil {
		log.Errorf("[PreCheck]: Checks failed for experiment %s, err: %v", exp.Name, err)
		e.failExecution(exp, executionID, err)
		return
	}
	log.Infof("[PreCheck]: Target '%s' is reachable, triggers are sane", exp.Target)

	// step 4: baseline capture, strictly before driver invocation
	before, err := e.gateway.GetSnapshot(ctx, exp.Target)
	if err != nil {
		e.failExecution(exp, executionID, stacktrace.Propagate(err, "baseline capture failed"))
		return
	}

	duration := exp.Parameters.Duration(e.opts.DefaultDuration)
	now := time.Now()
	e.store.UpdateExecution(executionID, func(exec *types.Execution) {
		exec.Status = types.StatusRunning
		exec.StartedAt = now
		exec.Results.MetricsBefore = before
	})
	e.bus.Publish(events.New(events.EventExecutionStarted, exp.ID, executionID,
		fmt.Sprintf("%s chaos started against '%s' for %s", exp.Type, exp.Target, duration)))
	log.InfoWithValues("[Chaos]: Injecting fault", map[string]interface{}{
		"execution": executionID,
		"type":      exp.Type,
		"target":    exp.Target,
		"duration":  duration.String(),
		"intensity": exp.Parameters.Intensity(0),
	})

	// step 6: driver invocation
	driver, err := e.registry.Get(exp.Type)
	if err != nil {
		e.failExecution(exp, executionID, err)
		return
	}
	undo, err = driver(ctx, exp)
	if err != nil {
		invokeUndo(true)
		e.failExecution(exp, executionID, cerrors.Error{
			ErrorCode: cerrors.ErrorTypeDriverFailure,
			Target:    string(exp.Type),
			Reason:    fmt.Sprintf("driver invocation failed, %v", err),
		})
		return
	}

	// step 5/7: rollback monitoring and in-flight sampling in parallel
	monitor := newMonitor(e.gateway, exp, executionID, e.opts.MonitorInterval, e.triggerRollback)
	go monitor.Run(ctx)
	go e.sample(ctx, exp.Target, executionID)

	// step 8: wait for duration, rollback signal or manual stop
	final := types.StatusCompleted
	reason := ""
	select {
	case <-time.After(duration):
	case req := <-rt.stop:
		final = req.status
		reason = req.reason
	case <-ctx.Done():
		final = types.StatusTerminated
		reason = "context canceled"
	}

	// step 9: stop sampler and monitor, then undo exactly once
	cancel()
	invokeUndo(final == types.StatusFailed)

	e.finalize(exp, executionID, final, reason, final != types.StatusCompleted)
}

// sample periodically records metricsDuring snapshots while running
func (e *Engine) sample(ctx context.Context, target, executionID string) {
	ticker := time.NewTicker(e.opts.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := e.gateway.GetSnapshot(ctx, target)
			if err != nil {
				log.Debugf("[Sampler]: snapshot failed for %s: %v", target, err)
				continue
			}
			e.store.UpdateExecution(executionID, func(exec *types.Execution) {
				exec.Results.MetricsDuring = append(exec.Results.MetricsDuring, snap)
			})
		}
	}
}

// finalize captures post metrics, computes impact and writes the terminal
// record. rollback=true marks the record as rolled back with the reason.
func (e *Engine) finalize(exp types.Experiment, executionID string, final types.ExecutionStatus, reason string, rollback bool) {
	// metricsAfter is captured strictly after the undo action; a gateway
	// failure here degrades the analysis but never the terminal guarantee
	after, err := e.gateway.GetSnapshot(context.Background(), exp.Target)
	if err != nil {
		log.Warnf("[Engine]: Post-chaos snapshot failed for '%s', impact analysis will be partial, err: %v", exp.Target, err)
	}

	ended := time.Now()
	transitioned := false
	e.store.UpdateExecution(executionID, func(exec *types.Execution) {
		if exec.Status.Terminal() {
			return
		}
		transitioned = true
		exec.Status = final
		exec.EndedAt = &ended

		started := exec.StartedAt
		if started.IsZero() {
			started = ended
		}
		exec.Results.MetricsAfter = after
		exec.Results.ImpactAnalysis = analysis.ComputeImpact(exec.Results.MetricsBefore, after, started, ended, analysis.BlastRadius(exp))
		exec.Results.LessonsLearned = analysis.DeriveLessons(exec.Results.ImpactAnalysis, exp)

		if rollback && reason != "" {
			exec.RollbackTriggered = true
			exec.RollbackReason = reason
		}
	})
	if !transitioned {
		return
	}

	eventType := events.EventExecutionCompleted
	if final == types.StatusTerminated {
		eventType = events.EventExecutionStopped
	}
	message := fmt.Sprintf("execution finished with status '%s'", final)
	if reason != "" {
		message = fmt.Sprintf("%s (%s)", message, reason)
	}
	e.bus.Publish(events.New(eventType, exp.ID, executionID, message))

	log.InfoWithValues("[The End]: Execution reached terminal status", map[string]interface{}{
		"execution": executionID,
		"status":    final,
		"reason":    reason,
	})
}

// failExecution records a failed terminal state with the failure reason in
// the execution metadata
func (e *Engine) failExecution(exp types.Experiment, executionID string, cause error) {
	rootCause, errorCode := cerrors.GetRootCauseAndErrorCode(cause)
	e.store.UpdateExecution(executionID, func(exec *types.Execution) {
		if exec.Metadata == nil {
			exec.Metadata = map[string]string{}
		}
		exec.Metadata["failReason"] = rootCause
		exec.Metadata["errorCode"] = string(errorCode)
	})
	e.finalize(exp, executionID, types.StatusFailed, rootCause, false)
}
