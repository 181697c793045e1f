package engine

import (
	"context"
	"errors"
	"time"
)

// ErrNoState is returned by a StateStore that has nothing saved yet.
var ErrNoState = errors.New("no saved state")

// State is everything the runner persists between invocations.
type State struct {
	// Complete maps step names to their truthy outcomes.
	Complete map[string]Outcome `json:"complete"`
	// Counter is incremented once per step attempt and numbers step logs.
	Counter int `json:"counter"`
	// Kwargs is the shared context at the time of saving.
	Kwargs map[string]any `json:"kwargs"`
	// KwargsVersion is the version of Kwargs.
	KwargsVersion int `json:"kwargs_version"`
	// Tested is free-form data recorded by steps.
	Tested map[string]any `json:"tested"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Complete: map[string]Outcome{},
		Kwargs:   map[string]any{},
		Tested:   map[string]any{},
	}
}

func (s *State) normalize() {
	if s.Complete == nil {
		s.Complete = map[string]Outcome{}
	}
	if s.Kwargs == nil {
		s.Kwargs = map[string]any{}
	}
	if s.Tested == nil {
		s.Tested = map[string]any{}
	}
}

// StateStore loads and saves the runner state. Save must be durable: once
// it returns, a crash must not lose the saved state.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}

// Execution is one step attempt as recorded in the journal.
type Execution struct {
	Counter   int
	Step      string
	Depends   string
	Attempt   int
	Outcome   Outcome
	StartedAt time.Time
	Duration  time.Duration
	LogID     string
	Error     string
}

// Journal records step attempts for later inspection. It is optional and
// never consulted when deciding what to run.
type Journal interface {
	RecordExecution(ctx context.Context, runID string, exec Execution) error
}
