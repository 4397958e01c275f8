// Package events carries the orchestrator's lifecycle notifications to
// external observers (metrics counters, alerting).
package events

import "time"

// EventType names a lifecycle event
type EventType string

const (
	EventExperimentCreated  EventType = "experiment_created"
	EventExperimentUpdated  EventType = "experiment_updated"
	EventExperimentDeleted  EventType = "experiment_deleted"
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionStopped   EventType = "execution_stopped"
	EventRollbackTriggered  EventType = "rollback_triggered"
)

// Event is one lifecycle notification
type Event struct {
	Type         EventType              `json:"type"`
	Timestamp    time.Time              `json:"timestamp"`
	ExperimentID string                 `json:"experimentId,omitempty"`
	ExecutionID  string                 `json:"executionId,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// New builds an event stamped with the current time
func New(t EventType, experimentID, executionID, message string) Event {
	return Event{
		Type:         t,
		Timestamp:    time.Now(),
		ExperimentID: experimentID,
		ExecutionID:  executionID,
		Message:      message,
	}
}
