package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shakenfist/ostrich/pkg/emitter"
	"github.com/shakenfist/ostrich/pkg/kwargs"
)

// Action is the work a step performs. Returning an error marks the attempt
// as failed in the same way as a falsy outcome; the error text is shown to
// the operator.
type Action interface {
	Execute(ctx context.Context, em emitter.Emitter) (Outcome, error)
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, em emitter.Emitter) (Outcome, error)

// Execute calls f.
func (f ActionFunc) Execute(ctx context.Context, em emitter.Emitter) (Outcome, error) {
	return f(ctx, em)
}

// Step is a named unit of work with an optional dependency on one other
// step. Run wraps the action with retry accounting.
type Step struct {
	Name    string
	Depends string
	Action  Action

	// MaxAttempts bounds how many times the action may run.
	MaxAttempts int
	// FailingStepDelay is slept before every attempt after the first.
	FailingStepDelay time.Duration

	// OnFailure runs after an attempt that did not succeed. It never
	// joins the pending set.
	OnFailure *Step

	// Context is the snapshot the step was built from.
	Context kwargs.Context

	attempts int
}

// NewStep builds a step whose retry policy comes from the context snapshot.
func NewStep(name string, action Action, ctx kwargs.Context) (*Step, error) {
	if name == "" {
		return nil, NewPermanentError("step name is required", nil).WithCode(ErrCodeValidation)
	}
	if action == nil {
		return nil, NewPermanentError("step action is required", nil).
			WithCode(ErrCodeValidation).WithStep(name)
	}

	opts, err := ctx.Options()
	if err != nil {
		return nil, NewPermanentError("invalid step options", err).
			WithCode(ErrCodeValidation).WithStep(name)
	}

	return &Step{
		Name:             name,
		Action:           action,
		MaxAttempts:      opts.MaxAttempts,
		FailingStepDelay: opts.FailingStepDelay,
		Context:          ctx.Clone(),
	}, nil
}

// Attempts returns how many times Run has been entered.
func (s *Step) Attempts() int {
	return s.attempts
}

func (s *Step) String() string {
	depends := s.Depends
	if depends == "" {
		depends = "None"
	}
	return fmt.Sprintf("step %s, depends on %s", s.Name, depends)
}

// Run executes one attempt. It sleeps first if an earlier attempt failed
// and returns a fatal error once the attempt budget is spent. A failed
// attempt is reported as a falsy outcome with a transient error.
func (s *Step) Run(ctx context.Context, em emitter.Emitter) (Outcome, error) {
	if s.attempts > 0 {
		em.Emit(fmt.Sprintf("... not our first attempt, sleeping for %s", formatDelay(s.FailingStepDelay)))
		if err := sleep(ctx, s.FailingStepDelay); err != nil {
			return Failure(), err
		}
	}

	s.attempts++
	if s.attempts > s.MaxAttempts {
		em.Emit("... repeatedly failed step, giving up")
		return Failure(), NewFatalError("repeatedly failed step, giving up", nil).
			WithCode(ErrCodeRetriesExhausted).
			WithStep(s.Name).
			WithDetail("max_attempts", s.MaxAttempts)
	}

	em.Emit(fmt.Sprintf("Running %s", s))
	em.Emit(fmt.Sprintf("   with kwargs: %s", s.contextSummary()))
	em.Emit("")

	outcome, err := s.Action.Execute(ctx, em)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Failure(), ctxErr
		}
		em.Emit(fmt.Sprintf("... step failed: %v", err))
		return Failure(), NewTransientError("step attempt failed", err).
			WithCode(ErrCodeStepFailed).WithStep(s.Name)
	}
	return outcome, nil
}

func (s *Step) contextSummary() string {
	if len(s.Context.Values) == 0 {
		return "{}"
	}
	data, err := json.Marshal(s.Context.Values)
	if err != nil {
		return fmt.Sprintf("%v", s.Context.Values)
	}
	return string(data)
}

func formatDelay(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
