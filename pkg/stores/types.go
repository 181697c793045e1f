package stores

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run id is not in the journal.
var ErrRunNotFound = errors.New("run not found")

// RunStatus represents the status of a runner invocation
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one invocation of the runner
type Run struct {
	ID          string     `json:"id"`
	PlanPath    string     `json:"plan_path"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// ExecutionRecord is a journaled step attempt
type ExecutionRecord struct {
	ID        int64         `json:"id"`
	RunID     string        `json:"run_id"`
	Counter   int           `json:"counter"`
	Step      string        `json:"step"`
	Depends   string        `json:"depends,omitempty"`
	Attempt   int           `json:"attempt"`
	Outcome   string        `json:"outcome"`
	Truthy    bool          `json:"truthy"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	LogID     string        `json:"log_id"`
	Error     string        `json:"error,omitempty"`
}

// ExecutionFilter narrows ListExecutions. Zero fields match everything.
type ExecutionFilter struct {
	RunID string
	Step  string
	Limit int
}
