// Package gateway defines the boundary to the external metrics provider.
// The orchestrator never sources metric values itself; it asks the gateway
// for point-in-time values and snapshots of the system under test.
package gateway

import (
	"context"

	"github.com/breakpoint-labs/havoc/pkg/types"
)

// MetricsGateway supplies live health metrics for a target
type MetricsGateway interface {
	// GetMetric returns the current value of a single named metric,
	// e.g. "cpu_usage" or "error_rate", for the given target
	GetMetric(ctx context.Context, name string, target string) (float64, error)

	// GetSnapshot returns a full point-in-time snapshot used for the
	// before/during/after capture
	GetSnapshot(ctx context.Context, target string) (types.MetricsSnapshot, error)
}
