package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/breakpoint-labs/havoc/pkg/types"
)

// Static is a gateway returning fixed values, for rehearsal runs and local
// development where no real metrics provider is wired. Values can be
// swapped at runtime to exercise rollback triggers.
type Static struct {
	mu       sync.RWMutex
	metrics  map[string]float64
	snapshot types.MetricsSnapshot
}

// NewStatic returns a gateway reporting a healthy idle target
func NewStatic() *Static {
	return &Static{
		metrics: map[string]float64{
			"cpu_usage":    12,
			"memory_usage": 30,
			"error_rate":   0,
			"throughput":   100,
		},
		snapshot: types.MetricsSnapshot{
			CPUPercent:    12,
			MemoryPercent: 30,
			ResponseTimes: []float64{20, 25, 22},
			ErrorRate:     0,
			Throughput:    100,
		},
	}
}

// SetMetric overrides one named metric value
func (s *Static) SetMetric(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[name] = value
}

// SetSnapshot overrides the snapshot returned for every target
func (s *Static) SetSnapshot(snap types.MetricsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

// GetMetric implements MetricsGateway
func (s *Static) GetMetric(ctx context.Context, name string, target string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics[name], nil
}

// GetSnapshot implements MetricsGateway
func (s *Static) GetSnapshot(ctx context.Context, target string) (types.MetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snapshot
	snap.Timestamp = time.Now()
	return snap, nil
}
