package pipeline

import (
	"time"

	"github.com/contentpipe/contentpipe/internal/chain"
)

// UnitState is the executor's state for one declared unit.
type UnitState string

const (
	UnitPending   UnitState = "pending"
	UnitResolving UnitState = "resolving"
	UnitRunning   UnitState = "running"
	UnitCompleted UnitState = "completed"
	UnitFailed    UnitState = "failed"
)

// EventType identifies a progress event.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventUnitState    EventType = "unit_state"
	EventStepFinished EventType = "step_finished"
	EventRunFinished  EventType = "run_finished"
)

// Event is one progress notification emitted during a run.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Chain     string    `json:"chain"`
	Unit      string    `json:"unit,omitempty"`
	Step      string    `json:"step,omitempty"`
	State     UnitState `json:"state,omitempty"`
	Success   bool      `json:"success,omitempty"`
	Error     string    `json:"error,omitempty"`
	Cost      float64   `json:"cost,omitempty"`
	Elapsed   float64   `json:"elapsed_seconds,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher receives progress events. Implementations must be safe
// for concurrent use; parallel group members publish from their workers.
type EventPublisher interface {
	PublishEvent(event Event)
}

// Recorder receives finished outcomes for metrics collection.
// Implementations must be safe for concurrent use.
type Recorder interface {
	RecordStep(chainName string, stepType chain.StepType, model string, outcome Outcome)
	RecordRun(chainName string, report *Report)
}
