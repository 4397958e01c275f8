// Package drivers holds the pluggable fault-injection drivers and the
// registry mapping each chaos type to one.
package drivers

import (
	"context"
	"sync"

	"github.com/breakpoint-labs/havoc/pkg/cerrors"
	"github.com/breakpoint-labs/havoc/pkg/types"
)

// UndoFunc reverts an injected fault. The engine owns it and invokes it at
// most once per execution.
type UndoFunc func() error

// Driver applies the fault for one chaos type and returns the action that
// undoes it. Called once per execution.
type Driver func(ctx context.Context, experiment types.Experiment) (UndoFunc, error)

// Registry maps chaos types to their drivers
type Registry struct {
	mu sync.RWMutex
	m  map[types.ChaosType]Driver
}

// NewRegistry returns an empty driver registry
func NewRegistry() *Registry {
	return &Registry{m: make(map[types.ChaosType]Driver)}
}

// Register installs a driver for the given chaos type. Registering an
// already-registered type or an unknown type is an error.
func (r *Registry) Register(chaosType types.ChaosType, driver Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !types.IsValidChaosType(chaosType) {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeDriverFailure, Target: string(chaosType), Reason: "unknown chaos type"}
	}
	if _, ok := r.m[chaosType]; ok {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeDriverFailure, Target: string(chaosType), Reason: "driver already registered"}
	}
	r.m[chaosType] = driver
	return nil
}

// Get returns the driver for the given chaos type
func (r *Registry) Get(chaosType types.ChaosType) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	driver, ok := r.m[chaosType]
	if !ok {
		return nil, cerrors.Error{ErrorCode: cerrors.ErrorTypeDriverFailure, Target: string(chaosType), Reason: "no driver registered for chaos type"}
	}
	return driver, nil
}

// Types lists the chaos types with a registered driver
func (r *Registry) Types() []types.ChaosType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ChaosType, 0, len(r.m))
	for t := range r.m {
		out = append(out, t)
	}
	return out
}
