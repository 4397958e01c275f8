package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakpoint-labs/havoc/pkg/cerrors"
	"github.com/breakpoint-labs/havoc/pkg/drivers"
	"github.com/breakpoint-labs/havoc/pkg/events"
	"github.com/breakpoint-labs/havoc/pkg/gateway"
	"github.com/breakpoint-labs/havoc/pkg/store"
	"github.com/breakpoint-labs/havoc/pkg/types"
)

var testOptions = Options{
	SampleInterval:  20 * time.Millisecond,
	MonitorInterval: 10 * time.Millisecond,
	DefaultDuration: 100 * time.Millisecond,
	PreCheckRetries: 1,
	PreCheckWait:    time.Millisecond,
}

// countingDriver records invocation and undo counts
type countingDriver struct {
	invoked int32
	undone  int32
	fail    bool
}

func (d *countingDriver) drive(ctx context.Context, exp types.Experiment) (drivers.UndoFunc, error) {
	atomic.AddInt32(&d.invoked, 1)
	if d.fail {
		return nil, errors.New("injection refused")
	}
	return func() error {
		atomic.AddInt32(&d.undone, 1)
		return nil
	}, nil
}

// failingGateway refuses every call, for pre-check failure paths
type failingGateway struct{}

func (failingGateway) GetMetric(ctx context.Context, name, target string) (float64, error) {
	return 0, errors.New("gateway down")
}

func (failingGateway) GetSnapshot(ctx context.Context, target string) (types.MetricsSnapshot, error) {
	return types.MetricsSnapshot{}, errors.New("gateway down")
}

func newTestEngine(t *testing.T, gw gateway.MetricsGateway, driver *countingDriver) (*Engine, *store.Store) {
	t.Helper()
	st := store.New()
	registry := drivers.NewRegistry()
	if driver != nil {
		require.NoError(t, registry.Register(types.CPUStress, driver.drive))
	}
	return New(st, registry, gw, events.NewBus(), testOptions), st
}

func createExperiment(st *store.Store, enabled bool, duration time.Duration, triggers []types.RollbackTrigger) types.Experiment {
	return st.CreateExperiment(types.Experiment{
		Name:             "cpu-burn",
		Target:           "checkout-service",
		Type:             types.CPUStress,
		Enabled:          enabled,
		Parameters:       types.Parameters{"duration": duration, "intensity": 80},
		RollbackTriggers: triggers,
	})
}

func waitForTerminal(t *testing.T, st *store.Store, execID string) types.Execution {
	t.Helper()
	var exec types.Execution
	require.Eventually(t, func() bool {
		var err error
		exec, err = st.GetExecution(execID)
		return err == nil && exec.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond, "execution never reached a terminal status")
	return exec
}

func TestExecuteCompletesAfterDuration(t *testing.T) {
	driver := &countingDriver{}
	eng, st := newTestEngine(t, gateway.NewStatic(), driver)
	exp := createExperiment(st, true, 100*time.Millisecond, nil)

	exec, err := eng.Execute(context.Background(), exp.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, exec.Status)

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, types.StatusCompleted, final.Status)
	assert.False(t, final.RollbackTriggered)
	assert.Empty(t, final.RollbackReason)
	require.NotNil(t, final.EndedAt)
	assert.False(t, final.StartedAt.IsZero())
	assert.True(t, final.EndedAt.After(final.StartedAt) || final.EndedAt.Equal(final.StartedAt))
	assert.Equal(t, int32(1), atomic.LoadInt32(&driver.invoked))
	assert.Equal(t, int32(1), atomic.LoadInt32(&driver.undone))
	assert.NotZero(t, final.Results.MetricsBefore.Throughput)
	assert.NotZero(t, final.Results.MetricsAfter.Throughput)
}

func TestExecuteRollsBackOnThresholdBreach(t *testing.T) {
	gw := gateway.NewStatic()
	gw.SetMetric("cpu_usage", 98)

	driver := &countingDriver{}
	eng, st := newTestEngine(t, gw, driver)
	exp := createExperiment(st, true, 2*time.Second, []types.RollbackTrigger{
		{Metric: "cpu_usage", Threshold: 95, Operator: "gt"},
	})

	exec, err := eng.Execute(context.Background(), exp.ID, false)
	require.NoError(t, err)

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, types.StatusRolledBack, final.Status)
	assert.True(t, final.RollbackTriggered)
	assert.Contains(t, final.RollbackReason, "cpu_usage gt 95")
	assert.Equal(t, int32(1), atomic.LoadInt32(&driver.undone))

	// early termination: well under the configured 2s duration
	require.NotNil(t, final.EndedAt)
	assert.Less(t, final.EndedAt.Sub(final.StartedAt), 2*time.Second)
}

func TestExecuteCompletesWhenMetricsStayHealthy(t *testing.T) {
	gw := gateway.NewStatic()
	gw.SetMetric("cpu_usage", 50)

	driver := &countingDriver{}
	eng, st := newTestEngine(t, gw, driver)
	exp := createExperiment(st, true, 100*time.Millisecond, []types.RollbackTrigger{
		{Metric: "cpu_usage", Threshold: 95, Operator: "gt"},
	})

	exec, err := eng.Execute(context.Background(), exp.ID, false)
	require.NoError(t, err)

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, types.StatusCompleted, final.Status)
	assert.False(t, final.RollbackTriggered)
}

func TestManualStopTerminatesExecution(t *testing.T) {
	driver := &countingDriver{}
	eng, st := newTestEngine(t, gateway.NewStatic(), driver)
	exp := createExperiment(st, true, 5*time.Second, nil)

	exec, err := eng.Execute(context.Background(), exp.ID, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := st.GetExecution(exec.ID)
		return err == nil && current.Status == types.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, eng.StopExecution(exec.ID))

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, types.StatusTerminated, final.Status)
	assert.Equal(t, "manual_stop", final.RollbackReason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&driver.undone))
}

func TestStopExecutionRejectsNonRunning(t *testing.T) {
	driver := &countingDriver{}
	eng, st := newTestEngine(t, gateway.NewStatic(), driver)
	exp := createExperiment(st, true, 50*time.Millisecond, nil)

	exec, err := eng.Execute(context.Background(), exp.ID, false)
	require.NoError(t, err)
	final := waitForTerminal(t, st, exec.ID)

	err = eng.StopExecution(exec.ID)
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, cerrors.ErrorTypeInvalidState))

	// terminal record is untouched
	after, err := st.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, final.Status, after.Status)
	assert.Equal(t, final.EndedAt.UnixNano(), after.EndedAt.UnixNano())
}

func TestStopExecutionUnknownID(t *testing.T) {
	eng, _ := newTestEngine(t, gateway.NewStatic(), &countingDriver{})
	err := eng.StopExecution("no-such-execution")
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, cerrors.ErrorTypeExecutionNotFound))
}

func TestExecuteRejectsDisabledExperiment(t *testing.T) {
	eng, st := newTestEngine(t, gateway.NewStatic(), &countingDriver{})
	exp := createExperiment(st, false, 50*time.Millisecond, nil)

	_, err := eng.Execute(context.Background(), exp.ID, false)
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, cerrors.ErrorTypeInvalidState))

	// the manual path bypasses the enabled gate
	exec, err := eng.Execute(context.Background(), exp.ID, true)
	require.NoError(t, err)
	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, types.StatusCompleted, final.Status)
}

func TestExecuteUnknownExperiment(t *testing.T) {
	eng, _ := newTestEngine(t, gateway.NewStatic(), &countingDriver{})
	_, err := eng.Execute(context.Background(), "missing", true)
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, cerrors.ErrorTypeExperimentNotFound))
}

func TestPreCheckFailureNeverEntersRunning(t *testing.T) {
	driver := &countingDriver{}
	eng, st := newTestEngine(t, failingGateway{}, driver)
	exp := createExperiment(st, true, 50*time.Millisecond, nil)

	exec, err := eng.Execute(context.Background(), exp.ID, false)
	require.NoError(t, err)

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.True(t, final.StartedAt.IsZero(), "failed pre-check must not enter running")
	assert.Zero(t, atomic.LoadInt32(&driver.invoked), "driver must not be invoked after failed pre-checks")
	assert.Contains(t, final.Metadata["failReason"], "not reachable")
}

func TestPreCheckRejectsMalformedTrigger(t *testing.T) {
	eng, st := newTestEngine(t, gateway.NewStatic(), &countingDriver{})
	exp := createExperiment(st, true, 50*time.Millisecond, []types.RollbackTrigger{
		{Metric: "cpu_usage", Threshold: 90, Operator: "above"},
	})

	exec, err := eng.Execute(context.Background(), exp.ID, false)
	require.NoError(t, err)

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Contains(t, final.Metadata["failReason"], "above")
}

func TestDriverFailureMarksExecutionFailed(t *testing.T) {
	driver := &countingDriver{fail: true}
	eng, st := newTestEngine(t, gateway.NewStatic(), driver)
	exp := createExperiment(st, true, 50*time.Millisecond, nil)

	exec, err := eng.Execute(context.Background(), exp.ID, false)
	require.NoError(t, err)

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Contains(t, final.Metadata["failReason"], "injection refused")
}

func TestMissingDriverMarksExecutionFailed(t *testing.T) {
	st := store.New()
	eng := New(st, drivers.NewRegistry(), gateway.NewStatic(), events.NewBus(), testOptions)
	exp := createExperiment(st, true, 50*time.Millisecond, nil)

	exec, err := eng.Execute(context.Background(), exp.ID, false)
	require.NoError(t, err)

	final := waitForTerminal(t, st, exec.ID)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Contains(t, final.Metadata["failReason"], "no driver registered")
}

func TestExecutionEmitsLifecycleEvents(t *testing.T) {
	gw := gateway.NewStatic()
	gw.SetMetric("cpu_usage", 99)

	st := store.New()
	registry := drivers.NewRegistry()
	driver := &countingDriver{}
	require.NoError(t, registry.Register(types.CPUStress, driver.drive))
	bus := events.NewBus()
	sub := bus.Subscribe()
	eng := New(st, registry, gw, bus, testOptions)

	exp := createExperiment(st, true, 2*time.Second, []types.RollbackTrigger{
		{Metric: "cpu_usage", Threshold: 95, Operator: "gt"},
	})
	exec, err := eng.Execute(context.Background(), exp.ID, false)
	require.NoError(t, err)
	waitForTerminal(t, st, exec.ID)

	seen := map[events.EventType]bool{}
	deadline := time.After(time.Second)
	for !seen[events.EventExecutionCompleted] {
		select {
		case ev := <-sub:
			seen[ev.Type] = true
		case <-deadline:
			t.Fatal("timed out waiting for lifecycle events")
		}
	}
	assert.True(t, seen[events.EventExecutionStarted])
	assert.True(t, seen[events.EventRollbackTriggered])
}

func TestConcurrentExecutionsOfSameExperiment(t *testing.T) {
	driver := &countingDriver{}
	eng, st := newTestEngine(t, gateway.NewStatic(), driver)
	exp := createExperiment(st, true, 100*time.Millisecond, nil)

	first, err := eng.Execute(context.Background(), exp.ID, false)
	require.NoError(t, err)
	second, err := eng.Execute(context.Background(), exp.ID, false)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	a := waitForTerminal(t, st, first.ID)
	b := waitForTerminal(t, st, second.ID)
	assert.Equal(t, types.StatusCompleted, a.Status)
	assert.Equal(t, types.StatusCompleted, b.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&driver.undone))
}
