package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/breakpoint-labs/havoc/pkg/comparator"
	"github.com/breakpoint-labs/havoc/pkg/gateway"
	"github.com/breakpoint-labs/havoc/pkg/log"
	"github.com/breakpoint-labs/havoc/pkg/types"
)

// triggerFunc is called back into the engine when a rollback trigger fires
type triggerFunc func(experimentID, executionID, reason string)

// monitor evaluates an execution's rollback triggers against the metrics
// gateway on a fixed tick, in parallel with the duration wait. It stops on
// the first fired trigger or when the execution's context ends.
type monitor struct {
	gateway     gateway.MetricsGateway
	experiment  types.Experiment
	executionID string
	interval    time.Duration
	onTrigger   triggerFunc

	// breachedSince tracks, per trigger index, when the current breach
	// streak started; used to honor confirmDuration
	breachedSince map[int]time.Time
}

func newMonitor(gw gateway.MetricsGateway, exp types.Experiment, executionID string, interval time.Duration, onTrigger triggerFunc) *monitor {
	return &monitor{
		gateway:       gw,
		experiment:    exp,
		executionID:   executionID,
		interval:      interval,
		onTrigger:     onTrigger,
		breachedSince: make(map[int]time.Time),
	}
}

// Run blocks until a trigger fires or ctx is cancelled. With no triggers
// configured there is nothing to watch.
func (m *monitor) Run(ctx context.Context) {
	if len(m.experiment.RollbackTriggers) == 0 {
		return
	}

	log.Infof("[Monitor]: Watching %d rollback trigger(s) for execution %s every %s",
		len(m.experiment.RollbackTriggers), m.executionID, m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.evaluate(ctx) {
				return
			}
		}
	}
}

// evaluate walks the triggers in order and fires the first confirmed
// breach. Returns true once monitoring should stop.
func (m *monitor) evaluate(ctx context.Context) bool {
	for i, trigger := range m.experiment.RollbackTriggers {
		value, err := m.gateway.GetMetric(ctx, trigger.Metric, m.experiment.Target)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			log.Warnf("[Monitor]: Could not fetch metric '%s' for '%s', err: %v", trigger.Metric, m.experiment.Target, err)
			continue
		}

		breached, err := comparator.Compare(value, trigger.Operator, trigger.Threshold)
		if err != nil {
			log.Errorf("[Monitor]: Trigger %d on execution %s is malformed, err: %v", i, m.executionID, err)
			continue
		}
		if !breached {
			delete(m.breachedSince, i)
			continue
		}

		// confirmDuration requires the breach to persist across ticks
		// before rolling back; zero fires immediately
		if trigger.ConfirmDuration > 0 {
			since, seen := m.breachedSince[i]
			if !seen {
				m.breachedSince[i] = time.Now()
				log.Warnf("[Monitor]: Metric '%s'=%v breached threshold %v, awaiting confirmation for %s",
					trigger.Metric, value, trigger.Threshold, trigger.ConfirmDuration)
				continue
			}
			if time.Since(since) < trigger.ConfirmDuration {
				continue
			}
		}

		reason := fmt.Sprintf("threshold_exceeded: %s %s %v", trigger.Metric, trigger.Operator, formatThreshold(trigger.Threshold))
		m.onTrigger(m.experiment.ID, m.executionID, reason)
		return true
	}
	return false
}

// formatThreshold renders thresholds the way operators write them:
// integral values without a trailing .0
func formatThreshold(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
