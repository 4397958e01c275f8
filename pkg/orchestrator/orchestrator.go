// Package orchestrator composes the store, scheduler, engine, event bus and
// sinks into the operator-facing control surface.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/palantir/stacktrace"

	"github.com/breakpoint-labs/havoc/pkg/alerting"
	"github.com/breakpoint-labs/havoc/pkg/cerrors"
	"github.com/breakpoint-labs/havoc/pkg/drivers"
	"github.com/breakpoint-labs/havoc/pkg/engine"
	"github.com/breakpoint-labs/havoc/pkg/events"
	"github.com/breakpoint-labs/havoc/pkg/gateway"
	"github.com/breakpoint-labs/havoc/pkg/log"
	"github.com/breakpoint-labs/havoc/pkg/persistence"
	"github.com/breakpoint-labs/havoc/pkg/scheduler"
	"github.com/breakpoint-labs/havoc/pkg/store"
	"github.com/breakpoint-labs/havoc/pkg/types"
)

// Orchestrator is the façade operators talk to, directly or through the
// HTTP API
type Orchestrator struct {
	store     *store.Store
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	bus       *events.Bus
	persist   persistence.Store
	alerts    alerting.Sink

	ctx    context.Context
	cancel context.CancelFunc
}

// Options carries the optional collaborators; nil fields disable the
// corresponding feature
type Options struct {
	Engine      engine.Options
	Persistence persistence.Store
	Alerts      alerting.Sink
}

// New wires the orchestrator. Persisted experiments are loaded once and
// their schedules re-armed; the alert subscriber is attached to the bus.
func New(gw gateway.MetricsGateway, registry *drivers.Registry, bus *events.Bus, opts Options) (*Orchestrator, error) {
	ctx, cancel := context.WithCancel(context.Background())

	st := store.New()
	eng := engine.New(st, registry, gw, bus, opts.Engine)

	o := &Orchestrator{
		store:   st,
		engine:  eng,
		bus:     bus,
		persist: opts.Persistence,
		alerts:  opts.Alerts,
		ctx:     ctx,
		cancel:  cancel,
	}
	o.scheduler = scheduler.New(o.scheduledRun)

	if o.alerts == nil {
		o.alerts = alerting.LogSink{}
	}
	go o.watchRollbacks(bus.Subscribe())

	if o.persist != nil {
		loaded, err := o.persist.LoadExperiments()
		if err != nil {
			cancel()
			return nil, stacktrace.Propagate(err, "could not restore experiments")
		}
		for _, exp := range loaded {
			o.store.RestoreExperiment(exp)
			o.scheduler.Schedule(exp)
		}
		if len(loaded) > 0 {
			log.Infof("[Startup]: Restored %d experiment(s) from the persistence store", len(loaded))
		}
	}

	return o, nil
}

// scheduledRun is the scheduler's hook; scheduled runs respect the enabled
// gate
func (o *Orchestrator) scheduledRun(experimentID string) {
	if _, err := o.engine.Execute(o.ctx, experimentID, false); err != nil {
		log.Errorf("[Scheduler]: Scheduled run of experiment %s failed, err: %v", experimentID, err)
	}
}

// watchRollbacks forwards rollback_triggered events to the alert sink
func (o *Orchestrator) watchRollbacks(ch <-chan events.Event) {
	for ev := range ch {
		if ev.Type != events.EventRollbackTriggered {
			continue
		}
		err := o.alerts.SendAlert("critical", fmt.Sprintf("chaos execution rolled back: %s", ev.Message), map[string]interface{}{
			"experimentId": ev.ExperimentID,
			"executionId":  ev.ExecutionID,
		})
		if err != nil {
			log.Errorf("[Alert]: Delivery failed, err: %v", err)
		}
	}
}

// validate rejects definitions the engine could never run
func validate(exp types.Experiment) error {
	if exp.Name == "" {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeInvalidState, Reason: "experiment name is required"}
	}
	if exp.Target == "" {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeInvalidState, Target: exp.Name, Reason: "experiment target is required"}
	}
	if !types.IsValidChaosType(exp.Type) {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeInvalidState, Target: exp.Name, Reason: fmt.Sprintf("unknown chaos type '%s'", exp.Type)}
	}
	if exp.Schedule != nil {
		switch exp.Schedule.Type {
		case types.ScheduleOneOff:
		case types.ScheduleRecurring:
			if exp.Schedule.Interval <= 0 {
				return cerrors.Error{ErrorCode: cerrors.ErrorTypeInvalidState, Target: exp.Name, Reason: "recurring schedule needs a positive interval"}
			}
		default:
			return cerrors.Error{ErrorCode: cerrors.ErrorTypeInvalidState, Target: exp.Name, Reason: fmt.Sprintf("unknown schedule type '%s'", exp.Schedule.Type)}
		}
	}
	return nil
}

// CreateExperiment registers a new definition, arms its schedule when
// enabled and emits experiment_created
func (o *Orchestrator) CreateExperiment(def types.Experiment) (types.Experiment, error) {
	if err := validate(def); err != nil {
		return types.Experiment{}, err
	}

	exp := o.store.CreateExperiment(def)
	o.scheduler.Schedule(exp)
	o.saveExperiment(exp)
	o.bus.Publish(events.New(events.EventExperimentCreated, exp.ID, "", exp.Name))
	log.Infof("[Store]: Experiment '%s' created with id %s", exp.Name, exp.ID)
	return exp, nil
}

// UpdateExperiment replaces the definition and re-arms or cancels its
// schedule to match
func (o *Orchestrator) UpdateExperiment(id string, def types.Experiment) (types.Experiment, error) {
	if err := validate(def); err != nil {
		return types.Experiment{}, err
	}

	exp, err := o.store.UpdateExperiment(id, def)
	if err != nil {
		return types.Experiment{}, err
	}
	// re-registering replaces any previous timer; a now-disabled
	// experiment just loses it
	o.scheduler.Schedule(exp)
	o.saveExperiment(exp)
	o.bus.Publish(events.New(events.EventExperimentUpdated, exp.ID, "", exp.Name))
	return exp, nil
}

// DeleteExperiment cancels the schedule, force-stops any running execution
// and removes the definition. Execution history stays.
func (o *Orchestrator) DeleteExperiment(id string) error {
	if _, err := o.store.GetExperiment(id); err != nil {
		return err
	}

	o.scheduler.Unschedule(id)
	for _, execID := range o.store.RunningExecutions(id) {
		if err := o.engine.StopExecution(execID); err != nil {
			log.Warnf("[Store]: Could not stop execution %s while deleting its experiment, err: %v", execID, err)
		}
	}
	if err := o.store.DeleteExperiment(id); err != nil {
		return err
	}
	if o.persist != nil {
		if err := o.persist.DeleteExperiment(id); err != nil {
			log.Errorf("[Persistence]: Delete of experiment %s failed, err: %v", id, err)
		}
	}
	o.bus.Publish(events.New(events.EventExperimentDeleted, id, "", ""))
	log.Infof("[Store]: Experiment %s deleted", id)
	return nil
}

// GetExperiment returns one definition
func (o *Orchestrator) GetExperiment(id string) (types.Experiment, error) {
	return o.store.GetExperiment(id)
}

// ListExperiments returns all definitions
func (o *Orchestrator) ListExperiments() []types.Experiment {
	return o.store.ListExperiments()
}

// RunExperiment triggers a manual, immediate execution
func (o *Orchestrator) RunExperiment(id string) (types.Execution, error) {
	return o.engine.Execute(o.ctx, id, true)
}

// StopExecution requests early termination of a running execution
func (o *Orchestrator) StopExecution(executionID string) error {
	return o.engine.StopExecution(executionID)
}

// GetExecution returns one execution record
func (o *Orchestrator) GetExecution(id string) (types.Execution, error) {
	return o.store.GetExecution(id)
}

// ListExecutions returns execution history, optionally filtered by
// experiment
func (o *Orchestrator) ListExecutions(experimentID string) []types.Execution {
	return o.store.ListExecutions(experimentID)
}

// CleanupExecutions drops terminal executions older than the retention
// window
func (o *Orchestrator) CleanupExecutions(retention time.Duration) int {
	return o.store.CleanupExecutions(time.Now().Add(-retention))
}

// Close stops the scheduler and releases the collaborators. Running
// executions are stopped through their contexts.
func (o *Orchestrator) Close() {
	o.scheduler.Stop()
	o.cancel()
	o.bus.Close()
	if o.persist != nil {
		if err := o.persist.Close(); err != nil {
			log.Errorf("[Persistence]: Close failed, err: %v", err)
		}
	}
}

func (o *Orchestrator) saveExperiment(exp types.Experiment) {
	if o.persist == nil {
		return
	}
	if err := o.persist.SaveExperiment(exp); err != nil {
		log.Errorf("[Persistence]: Save of experiment %s failed, err: %v", exp.ID, err)
	}
}
