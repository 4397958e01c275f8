package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakpoint-labs/havoc/pkg/cerrors"
	"github.com/breakpoint-labs/havoc/pkg/types"
)

func sampleExperiment(name string) types.Experiment {
	return types.Experiment{
		Name:    name,
		Target:  "payments",
		Type:    types.NetworkLatency,
		Enabled: true,
	}
}

func TestCreateExperimentAssignsIdentity(t *testing.T) {
	s := New()
	exp := s.CreateExperiment(sampleExperiment("latency-spike"))

	assert.NotEmpty(t, exp.ID)
	assert.False(t, exp.CreatedAt.IsZero())

	got, err := s.GetExperiment(exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp, got)
}

func TestGetExperimentUnknown(t *testing.T) {
	s := New()
	_, err := s.GetExperiment("missing")
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, cerrors.ErrorTypeExperimentNotFound))
}

func TestUpdateExperimentKeepsIdentity(t *testing.T) {
	s := New()
	exp := s.CreateExperiment(sampleExperiment("latency-spike"))

	updated, err := s.UpdateExperiment(exp.ID, types.Experiment{
		ID:        "attacker-chosen",
		Name:      "latency-spike-v2",
		Target:    "payments",
		Type:      types.NetworkLatency,
		CreatedAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, exp.ID, updated.ID)
	assert.Equal(t, exp.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "latency-spike-v2", updated.Name)
}

func TestUpdateExperimentUnknown(t *testing.T) {
	s := New()
	_, err := s.UpdateExperiment("missing", sampleExperiment("x"))
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, cerrors.ErrorTypeExperimentNotFound))
}

func TestDeleteExperimentKeepsExecutionHistory(t *testing.T) {
	s := New()
	exp := s.CreateExperiment(sampleExperiment("latency-spike"))
	exec := s.CreateExecution(exp.ID)

	require.NoError(t, s.DeleteExperiment(exp.ID))
	_, err := s.GetExperiment(exp.ID)
	require.Error(t, err)

	// history survives the definition
	got, err := s.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.ID, got.ExperimentID)

	err = s.DeleteExperiment(exp.ID)
	assert.True(t, cerrors.Is(err, cerrors.ErrorTypeExperimentNotFound))
}

func TestListExperimentsOrderedByCreation(t *testing.T) {
	s := New()
	first := s.CreateExperiment(sampleExperiment("first"))
	time.Sleep(time.Millisecond)
	second := s.CreateExperiment(sampleExperiment("second"))

	list := s.ListExperiments()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestRestoreExperimentKeepsID(t *testing.T) {
	s := New()
	exp := sampleExperiment("restored")
	exp.ID = "persisted-id"
	s.RestoreExperiment(exp)

	got, err := s.GetExperiment("persisted-id")
	require.NoError(t, err)
	assert.Equal(t, "restored", got.Name)
}

func TestCreateExecutionStartsPending(t *testing.T) {
	s := New()
	exec := s.CreateExecution("exp-1")

	assert.NotEmpty(t, exec.ID)
	assert.Equal(t, types.StatusPending, exec.Status)
	assert.True(t, exec.StartedAt.IsZero())
	assert.Nil(t, exec.EndedAt)
}

func TestUpdateExecutionMutatesUnderLock(t *testing.T) {
	s := New()
	exec := s.CreateExecution("exp-1")

	err := s.UpdateExecution(exec.ID, func(e *types.Execution) {
		e.Status = types.StatusRunning
		e.StartedAt = time.Now()
	})
	require.NoError(t, err)

	got, err := s.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, got.Status)

	err = s.UpdateExecution("missing", func(e *types.Execution) {})
	assert.True(t, cerrors.Is(err, cerrors.ErrorTypeExecutionNotFound))
}

func TestListExecutionsFiltersAndOrders(t *testing.T) {
	s := New()
	a := s.CreateExecution("exp-a")
	b := s.CreateExecution("exp-b")
	c := s.CreateExecution("exp-a")

	now := time.Now()
	s.UpdateExecution(a.ID, func(e *types.Execution) { e.StartedAt = now.Add(-2 * time.Minute) })
	s.UpdateExecution(b.ID, func(e *types.Execution) { e.StartedAt = now.Add(-time.Minute) })
	s.UpdateExecution(c.ID, func(e *types.Execution) { e.StartedAt = now })

	all := s.ListExecutions("")
	require.Len(t, all, 3)
	assert.Equal(t, c.ID, all[0].ID, "newest first")

	filtered := s.ListExecutions("exp-a")
	require.Len(t, filtered, 2)
	for _, exec := range filtered {
		assert.Equal(t, "exp-a", exec.ExperimentID)
	}
}

func TestRunningExecutions(t *testing.T) {
	s := New()
	running := s.CreateExecution("exp-a")
	done := s.CreateExecution("exp-a")
	other := s.CreateExecution("exp-b")

	s.UpdateExecution(running.ID, func(e *types.Execution) { e.Status = types.StatusRunning })
	s.UpdateExecution(done.ID, func(e *types.Execution) { e.Status = types.StatusCompleted })
	s.UpdateExecution(other.ID, func(e *types.Execution) { e.Status = types.StatusRunning })

	ids := s.RunningExecutions("exp-a")
	require.Len(t, ids, 1)
	assert.Equal(t, running.ID, ids[0])
}

func TestCleanupExecutionsDropsOnlyOldTerminalRecords(t *testing.T) {
	s := New()
	old := s.CreateExecution("exp")
	fresh := s.CreateExecution("exp")
	inFlight := s.CreateExecution("exp")

	longAgo := time.Now().Add(-48 * time.Hour)
	justNow := time.Now()
	s.UpdateExecution(old.ID, func(e *types.Execution) {
		e.Status = types.StatusCompleted
		e.EndedAt = &longAgo
	})
	s.UpdateExecution(fresh.ID, func(e *types.Execution) {
		e.Status = types.StatusFailed
		e.EndedAt = &justNow
	})
	s.UpdateExecution(inFlight.ID, func(e *types.Execution) { e.Status = types.StatusRunning })

	removed := s.CleanupExecutions(time.Now().Add(-24 * time.Hour))
	assert.Equal(t, 1, removed)

	_, err := s.GetExecution(old.ID)
	assert.Error(t, err)
	_, err = s.GetExecution(fresh.ID)
	assert.NoError(t, err)
	_, err = s.GetExecution(inFlight.ID)
	assert.NoError(t, err)
}
