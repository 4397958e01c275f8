// Package store holds the in-memory registry of experiment definitions and
// execution records. The two maps are guarded independently so that the
// engine and the rollback monitor serializing writes to an execution never
// contend with experiment CRUD.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breakpoint-labs/havoc/pkg/cerrors"
	"github.com/breakpoint-labs/havoc/pkg/types"
)

// Store is the in-memory experiment and execution registry
type Store struct {
	expMu       sync.RWMutex
	experiments map[string]*types.Experiment

	execMu     sync.RWMutex
	executions map[string]*types.Execution
}

// New returns an empty store
func New() *Store {
	return &Store{
		experiments: make(map[string]*types.Experiment),
		executions:  make(map[string]*types.Execution),
	}
}

// CreateExperiment assigns a fresh id and stores the definition
func (s *Store) CreateExperiment(exp types.Experiment) types.Experiment {
	s.expMu.Lock()
	defer s.expMu.Unlock()

	exp.ID = uuid.New().String()
	exp.CreatedAt = time.Now()
	s.experiments[exp.ID] = &exp
	return exp
}

// RestoreExperiment puts a previously persisted definition back, keeping
// its original id. Used by startup loading only.
func (s *Store) RestoreExperiment(exp types.Experiment) {
	s.expMu.Lock()
	defer s.expMu.Unlock()
	s.experiments[exp.ID] = &exp
}

// UpdateExperiment replaces the stored definition for the given id
func (s *Store) UpdateExperiment(id string, exp types.Experiment) (types.Experiment, error) {
	s.expMu.Lock()
	defer s.expMu.Unlock()

	existing, ok := s.experiments[id]
	if !ok {
		return types.Experiment{}, cerrors.Error{ErrorCode: cerrors.ErrorTypeExperimentNotFound, Target: id, Reason: "no such experiment"}
	}

	// id and creation time are immutable
	exp.ID = existing.ID
	exp.CreatedAt = existing.CreatedAt
	s.experiments[id] = &exp
	return exp, nil
}

// DeleteExperiment removes the definition; execution history is retained
func (s *Store) DeleteExperiment(id string) error {
	s.expMu.Lock()
	defer s.expMu.Unlock()

	if _, ok := s.experiments[id]; !ok {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeExperimentNotFound, Target: id, Reason: "no such experiment"}
	}
	delete(s.experiments, id)
	return nil
}

// GetExperiment returns a copy of the definition
func (s *Store) GetExperiment(id string) (types.Experiment, error) {
	s.expMu.RLock()
	defer s.expMu.RUnlock()

	exp, ok := s.experiments[id]
	if !ok {
		return types.Experiment{}, cerrors.Error{ErrorCode: cerrors.ErrorTypeExperimentNotFound, Target: id, Reason: "no such experiment"}
	}
	return *exp, nil
}

// ListExperiments returns all definitions ordered by creation time
func (s *Store) ListExperiments() []types.Experiment {
	s.expMu.RLock()
	defer s.expMu.RUnlock()

	out := make([]types.Experiment, 0, len(s.experiments))
	for _, exp := range s.experiments {
		out = append(out, *exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CreateExecution stores a fresh pending execution record for the
// experiment and returns it
func (s *Store) CreateExecution(experimentID string) types.Execution {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	exec := types.Execution{
		ID:           uuid.New().String(),
		ExperimentID: experimentID,
		Status:       types.StatusPending,
		Metadata:     map[string]string{},
	}
	s.executions[exec.ID] = &exec
	return exec
}

// UpdateExecution applies mutate under the store lock, serializing the
// engine and the rollback monitor writing to the same record
func (s *Store) UpdateExecution(id string, mutate func(*types.Execution)) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	exec, ok := s.executions[id]
	if !ok {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeExecutionNotFound, Target: id, Reason: "no such execution"}
	}
	mutate(exec)
	return nil
}

// GetExecution returns a copy of the execution record
func (s *Store) GetExecution(id string) (types.Execution, error) {
	s.execMu.RLock()
	defer s.execMu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return types.Execution{}, cerrors.Error{ErrorCode: cerrors.ErrorTypeExecutionNotFound, Target: id, Reason: "no such execution"}
	}
	return *exec, nil
}

// ListExecutions returns execution records, filtered by experiment id when
// experimentID is non-empty, newest first
func (s *Store) ListExecutions(experimentID string) []types.Execution {
	s.execMu.RLock()
	defer s.execMu.RUnlock()

	out := make([]types.Execution, 0, len(s.executions))
	for _, exec := range s.executions {
		if experimentID != "" && exec.ExperimentID != experimentID {
			continue
		}
		out = append(out, *exec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// RunningExecutions returns the ids of executions currently in the running
// state for the given experiment
func (s *Store) RunningExecutions(experimentID string) []string {
	s.execMu.RLock()
	defer s.execMu.RUnlock()

	var ids []string
	for id, exec := range s.executions {
		if exec.ExperimentID == experimentID && exec.Status == types.StatusRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

// CleanupExecutions drops terminal execution records that ended before the
// cutoff and returns how many were removed
func (s *Store) CleanupExecutions(olderThan time.Time) int {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	removed := 0
	for id, exec := range s.executions {
		if exec.Status.Terminal() && exec.EndedAt != nil && exec.EndedAt.Before(olderThan) {
			delete(s.executions, id)
			removed++
		}
	}
	return removed
}
