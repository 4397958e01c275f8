package types

import (
	"time"
)

// ChaosType is the closed set of fault categories known to the orchestrator
type ChaosType string

const (
	NetworkLatency    ChaosType = "network-latency"
	CPUStress         ChaosType = "cpu-stress"
	MemoryStress      ChaosType = "memory-stress"
	DatabaseFailure   ChaosType = "database-failure"
	DependencyChaos   ChaosType = "dependency-chaos"
	DiskIOStress      ChaosType = "disk-io-stress"
	PodTermination    ChaosType = "pod-termination"
	ServiceDisruption ChaosType = "service-disruption"
)

// ChaosTypes lists every supported chaos category
var ChaosTypes = []ChaosType{
	NetworkLatency,
	CPUStress,
	MemoryStress,
	DatabaseFailure,
	DependencyChaos,
	DiskIOStress,
	PodTermination,
	ServiceDisruption,
}

// IsValidChaosType checks the given type against the supported set
func IsValidChaosType(t ChaosType) bool {
	for _, known := range ChaosTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ExecutionStatus is the per-run state machine
// pending -> running -> {completed | failed | rolled_back | terminated}
type ExecutionStatus string

const (
	StatusPending    ExecutionStatus = "pending"
	StatusRunning    ExecutionStatus = "running"
	StatusCompleted  ExecutionStatus = "completed"
	StatusFailed     ExecutionStatus = "failed"
	StatusRolledBack ExecutionStatus = "rolled_back"
	StatusTerminated ExecutionStatus = "terminated"
)

// Terminal reports whether the status is one of the four terminal states
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack, StatusTerminated:
		return true
	}
	return false
}

// ScheduleType distinguishes one-off from recurring schedules
type ScheduleType string

const (
	ScheduleOneOff    ScheduleType = "one-off"
	ScheduleRecurring ScheduleType = "recurring"
)

// Schedule describes when the scheduler should fire an experiment.
// A one-off schedule carries StartTime, a recurring one carries Interval.
type Schedule struct {
	Type      ScheduleType  `json:"type" yaml:"type"`
	StartTime time.Time     `json:"startTime,omitempty" yaml:"startTime,omitempty"`
	Interval  time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	Enabled   bool          `json:"enabled" yaml:"enabled"`
}

// RollbackTrigger is a single metric/threshold rule evaluated by the
// rollback monitor while an execution is running. ConfirmDuration is how
// long a breach must persist before the trigger fires; zero fires on the
// first observed breach.
type RollbackTrigger struct {
	Metric          string        `json:"metric" yaml:"metric"`
	Threshold       float64       `json:"threshold" yaml:"threshold"`
	Operator        string        `json:"operator" yaml:"operator"`
	ConfirmDuration time.Duration `json:"confirmDuration,omitempty" yaml:"confirmDuration,omitempty"`
}

// Parameters is the free-form experiment parameter bag. Duration and
// intensity are common to all chaos types, everything else is type-specific.
type Parameters map[string]interface{}

// Duration returns the configured fault duration, or fallback when absent
// or unparsable. Accepts native durations, Go duration strings and raw
// millisecond counts so that values survive a JSON round trip.
func (p Parameters) Duration(fallback time.Duration) time.Duration {
	v, ok := p["duration"]
	if !ok {
		return fallback
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return fallback
		}
		return parsed
	case int:
		return time.Duration(d) * time.Millisecond
	case int64:
		return time.Duration(d) * time.Millisecond
	case float64:
		return time.Duration(d) * time.Millisecond
	}
	return fallback
}

// Intensity returns the configured intensity on the 0-100 scale
func (p Parameters) Intensity(fallback float64) float64 {
	v, ok := p["intensity"]
	if !ok {
		return fallback
	}
	switch i := v.(type) {
	case float64:
		return i
	case int:
		return float64(i)
	case int64:
		return float64(i)
	}
	return fallback
}

// String returns the named parameter as a string, empty when absent
func (p Parameters) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Experiment is a reusable fault definition with its safety triggers.
// Immutable while an execution is running, editable between runs.
type Experiment struct {
	ID               string            `json:"id" yaml:"id"`
	Name             string            `json:"name" yaml:"name"`
	Description      string            `json:"description,omitempty" yaml:"description,omitempty"`
	Target           string            `json:"target" yaml:"target"`
	Type             ChaosType         `json:"type" yaml:"type"`
	Parameters       Parameters        `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Schedule         *Schedule         `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Enabled          bool              `json:"enabled" yaml:"enabled"`
	RollbackTriggers []RollbackTrigger `json:"rollbackTriggers,omitempty" yaml:"rollbackTriggers,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"createdAt" yaml:"createdAt"`
}

// MetricsSnapshot is a point-in-time view of the target's health as
// reported by the metrics gateway
type MetricsSnapshot struct {
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	ResponseTimes []float64 `json:"responseTimes,omitempty"`
	ErrorRate     float64   `json:"errorRate"`
	Throughput    float64   `json:"throughput"`
	Timestamp     time.Time `json:"timestamp"`
}

// AvgResponseTime returns the mean of the snapshot's response-time samples
func (m MetricsSnapshot) AvgResponseTime() float64 {
	if len(m.ResponseTimes) == 0 {
		return 0
	}
	var sum float64
	for _, rt := range m.ResponseTimes {
		sum += rt
	}
	return sum / float64(len(m.ResponseTimes))
}

// ImpactAnalysis quantifies the experiment's effect from the before/after
// snapshots
type ImpactAnalysis struct {
	PerformanceDegradation float64       `json:"performanceDegradation"`
	ErrorRateIncrease      float64       `json:"errorRateIncrease"`
	AvailabilityImpact     float64       `json:"availabilityImpact"`
	RecoveryTime           time.Duration `json:"recoveryTime"`
	BlastRadius            []string      `json:"blastRadius,omitempty"`
}

// ExecutionResults holds everything captured over one run
type ExecutionResults struct {
	MetricsBefore  MetricsSnapshot   `json:"metricsBefore"`
	MetricsDuring  []MetricsSnapshot `json:"metricsDuring,omitempty"`
	MetricsAfter   MetricsSnapshot   `json:"metricsAfter"`
	ImpactAnalysis ImpactAnalysis    `json:"impactAnalysis"`
	LessonsLearned []string          `json:"lessonsLearned,omitempty"`
}

// Execution is one timed run of an experiment. Created by the engine,
// mutated only by the engine and the rollback monitor, retained as history.
type Execution struct {
	ID                string            `json:"id"`
	ExperimentID      string            `json:"experimentId"`
	Status            ExecutionStatus   `json:"status"`
	StartedAt         time.Time         `json:"startedAt,omitempty"`
	EndedAt           *time.Time        `json:"endedAt,omitempty"`
	Results           ExecutionResults  `json:"results"`
	RollbackTriggered bool              `json:"rollbackTriggered"`
	RollbackReason    string            `json:"rollbackReason,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}
