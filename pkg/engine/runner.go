package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shakenfist/ostrich/pkg/emitter"
	"github.com/shakenfist/ostrich/pkg/kwargs"
	"github.com/shakenfist/ostrich/pkg/telemetry"
)

// DuplicatePolicy decides what LoadStep does with a name that is already
// pending.
type DuplicatePolicy int

const (
	// RejectDuplicates returns a DUPLICATE_STEP error.
	RejectDuplicates DuplicatePolicy = iota
	// ReplaceDuplicates swaps in the new step and keeps the old position.
	ReplaceDuplicates
)

// FailureHook runs when an attempt of step did not succeed.
type FailureHook func(ctx context.Context, r *Runner, step *Step)

// Runner owns the pending set, the persisted state and the shared context,
// and resolves pending steps in dependency order.
type Runner struct {
	store   StateStore
	state   *State
	context kwargs.Context

	pending map[string]*Step
	order   []string

	emitter    emitter.Emitter
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
	journal    Journal
	runID      string
	duplicates DuplicatePolicy
	onFailure  FailureHook
	initial    map[string]any
}

// Option configures a Runner.
type Option func(*Runner)

// WithEmitter sets where step output goes.
func WithEmitter(em emitter.Emitter) Option {
	return func(r *Runner) { r.emitter = em }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(r *Runner) { r.logger = logger.NewComponentLogger("runner") }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// WithJournal records every attempt under runID.
func WithJournal(j Journal, runID string) Option {
	return func(r *Runner) {
		r.journal = j
		r.runID = runID
	}
}

// WithDuplicatePolicy sets how LoadStep treats a name that is already
// pending.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(r *Runner) { r.duplicates = p }
}

// WithFailureHook replaces the default handling of OnFailure steps.
func WithFailureHook(hook FailureHook) Option {
	return func(r *Runner) { r.onFailure = hook }
}

// WithInitialContext seeds the shared context when no saved state carries
// one.
func WithInitialContext(values map[string]any) Option {
	return func(r *Runner) { r.initial = values }
}

// New loads state from store and returns a Runner ready to accept steps.
func New(ctx context.Context, store StateStore, opts ...Option) (*Runner, error) {
	r := &Runner{
		store:     store,
		pending:   map[string]*Step{},
		emitter:   emitter.NewNoop(),
		logger:    telemetry.NewNopLogger(),
		onFailure: RunOnFailure,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	if r.tracer == nil {
		tracer, err := telemetry.NewTracer(telemetry.TracingConfig{}, "ostrich", "dev")
		if err != nil {
			return nil, err
		}
		r.tracer = tracer
	}

	state, err := store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoState):
		state = NewState()
	case err != nil:
		return nil, NewFatalError("failed to load state", err).WithCode(ErrCodePersistence)
	}
	state.normalize()
	r.state = state

	r.context = kwargs.Context{Version: state.KwargsVersion, Values: state.Kwargs}
	if len(r.context.Values) == 0 && len(r.initial) > 0 {
		r.context = r.context.Merge(r.initial)
	}

	r.logger.Debugf("loaded state with %d complete steps, counter %d", len(state.Complete), state.Counter)
	return r, nil
}

// LoadStep adds step to the pending set. A step whose name already has a
// truthy outcome is skipped, which makes replaying a plan after a crash
// safe.
func (r *Runner) LoadStep(step *Step) error {
	if step == nil || step.Name == "" {
		return NewPermanentError("cannot load a step without a name", nil).WithCode(ErrCodeValidation)
	}

	if r.state.Complete[step.Name].Truthy() {
		r.logger.Debugf("step %s already complete, skipping", step.Name)
		return nil
	}

	if _, exists := r.pending[step.Name]; exists {
		if r.duplicates == RejectDuplicates {
			return NewPermanentError("step is already pending", nil).
				WithCode(ErrCodeDuplicateStep).WithStep(step.Name)
		}
		r.logger.Warnf("replacing pending step %s", step.Name)
		r.pending[step.Name] = step
		return nil
	}

	r.pending[step.Name] = step
	r.order = append(r.order, step.Name)
	return nil
}

// LoadDependencyChain makes each step depend on the one before it, the
// first on depends, and loads them all.
func (r *Runner) LoadDependencyChain(steps []*Step, depends string) error {
	for _, step := range steps {
		step.Depends = depends
		if err := r.LoadStep(step); err != nil {
			return err
		}
		depends = step.Name
	}
	return nil
}

// Resolve runs pending steps until none are left. A step is runnable when
// it has no dependency or its dependency has a truthy outcome. Each pass
// visits the pending steps in the order they were loaded; a pass that runs
// nothing ends resolution, and any step still pending is a deadlock.
func (r *Runner) Resolve(ctx context.Context) error {
	ctx, span := r.tracer.StartResolveSpan(ctx, len(r.pending))
	defer span.End()

	r.dropCompleted()

	for {
		ran, completed, err := r.pass(ctx)
		r.remove(completed)
		r.metrics.RecordResolvePass()
		r.metrics.SetPendingSteps(len(r.pending))
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}
		if ran == 0 {
			break
		}
	}

	if len(r.pending) > 0 {
		outstanding := make([]string, 0, len(r.order))
		for _, name := range r.order {
			outstanding = append(outstanding, r.pending[name].String())
		}
		err := NewFatalError("resolving steps did not process all outstanding steps", nil).
			WithCode(ErrCodeDeadlock).
			WithSteps(outstanding)

		r.emitter.Emit(err.Error())
		r.logger.WithError(err).Error("unable to resolve steps")
		r.metrics.RecordFatal("deadlock")
		telemetry.RecordError(span, err)
		return err
	}

	telemetry.RecordSuccess(span)
	return nil
}

func (r *Runner) dropCompleted() {
	var done []string
	for _, name := range r.order {
		if r.state.Complete[name].Truthy() {
			done = append(done, name)
		}
	}
	r.remove(done)
}

func (r *Runner) pass(ctx context.Context) (int, []string, error) {
	ran := 0
	var completed []string

	for _, name := range append([]string(nil), r.order...) {
		step := r.pending[name]
		if step.Depends != "" && !r.state.Complete[step.Depends].Truthy() {
			continue
		}

		ran++
		outcome, err := r.execute(ctx, step)
		if err != nil {
			return ran, completed, err
		}
		if outcome.Truthy() {
			completed = append(completed, name)
		}
	}
	return ran, completed, nil
}

func (r *Runner) remove(names []string) {
	if len(names) == 0 {
		return
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
		delete(r.pending, n)
	}
	kept := r.order[:0]
	for _, n := range r.order {
		if !drop[n] {
			kept = append(kept, n)
		}
	}
	r.order = kept
}

// execute runs one attempt of step and persists the result.
func (r *Runner) execute(ctx context.Context, step *Step) (Outcome, error) {
	if p, ok := r.emitter.(emitter.ProgressReporter); ok {
		p.Progress(len(r.pending), step.Name)
	}
	r.emitter.Clear()

	counter := r.state.Counter
	logID := fmt.Sprintf("%06d-%s", counter, step.Name)
	if err := r.emitter.Logger(logID); err != nil {
		r.logger.WithError(err).Warnf("unable to open step log %s", logID)
	}

	ctx, span := r.tracer.StartStepSpan(ctx, step.Name, step.Depends, counter)
	defer span.End()

	logger := r.logger.WithStep(step.Name, step.Attempts()+1)
	started := time.Now()
	outcome, err := step.Run(ctx, r.emitter)
	duration := time.Since(started)

	r.state.Counter++

	result := telemetry.ResultFailed
	switch {
	case err != nil && !IsTransient(err):
		result = telemetry.ResultFatal
		logger.WithError(err).Error("step aborted the run")
		r.metrics.RecordFatal(reasonFor(err))
	case outcome.Truthy():
		result = telemetry.ResultSucceeded
		r.state.Complete[step.Name] = outcome
		logger.Infof("step complete: %s", outcome)
	default:
		logger.Infof("step did not succeed: %s", outcome)
	}
	r.metrics.RecordStepExecution(step.Name, result, duration)
	span.SetAttributes(telemetry.AttrStepOutcome.String(outcome.String()))

	r.record(ctx, step, counter, logID, outcome, started, duration, err)

	if saveErr := r.save(ctx); saveErr != nil {
		telemetry.RecordError(span, saveErr)
		return outcome, saveErr
	}

	if err != nil && !IsTransient(err) {
		telemetry.RecordError(span, err)
		return outcome, err
	}

	if !outcome.Truthy() && step.OnFailure != nil && r.onFailure != nil {
		r.onFailure(ctx, r, step)
	}
	return outcome, nil
}

func reasonFor(err error) string {
	var e *EngineError
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "unknown"
}

func (r *Runner) record(ctx context.Context, step *Step, counter int, logID string, outcome Outcome, started time.Time, duration time.Duration, err error) {
	if r.journal == nil {
		return
	}

	exec := Execution{
		Counter:   counter,
		Step:      step.Name,
		Depends:   step.Depends,
		Attempt:   step.Attempts(),
		Outcome:   outcome,
		StartedAt: started,
		Duration:  duration,
		LogID:     logID,
	}
	if err != nil {
		exec.Error = err.Error()
	}
	if jerr := r.journal.RecordExecution(context.WithoutCancel(ctx), r.runID, exec); jerr != nil {
		r.logger.WithError(jerr).Warn("failed to journal step execution")
	}
}

func (r *Runner) save(ctx context.Context) error {
	r.state.Kwargs = r.context.Values
	r.state.KwargsVersion = r.context.Version

	// An attempt that already ran must reach the store even when the run
	// is being cancelled.
	err := r.store.Save(context.WithoutCancel(ctx), r.state)
	r.metrics.RecordStateSave(err)
	if err != nil {
		r.metrics.RecordFatal(ErrCodePersistence)
		return NewFatalError("failed to persist state", err).WithCode(ErrCodePersistence)
	}
	return nil
}

// RunOnFailure is the default FailureHook. It runs the step's OnFailure
// step once, outside the pending set; its outcome is only logged.
func RunOnFailure(ctx context.Context, r *Runner, step *Step) {
	aux := step.OnFailure
	outcome, err := aux.Run(ctx, r.emitter)
	logger := r.logger.WithStep(aux.Name, aux.Attempts())
	if err != nil {
		logger.WithError(err).Warnf("failure handler for %s did not run cleanly", step.Name)
		return
	}
	logger.Infof("failure handler for %s finished: %s", step.Name, outcome)
}

// Complete returns a copy of the completed steps and their outcomes.
func (r *Runner) Complete() map[string]Outcome {
	out := make(map[string]Outcome, len(r.state.Complete))
	for k, v := range r.state.Complete {
		out[k] = v
	}
	return out
}

// IsComplete reports whether name has a truthy outcome.
func (r *Runner) IsComplete(name string) bool {
	return r.state.Complete[name].Truthy()
}

// Answer returns the text outcome recorded for name, usually the reply to
// a question step.
func (r *Runner) Answer(name string) string {
	return r.state.Complete[name].Text()
}

// Answers returns every text outcome keyed by step name.
func (r *Runner) Answers() map[string]string {
	out := map[string]string{}
	for k, v := range r.state.Complete {
		if v.IsText() {
			out[k] = v.Text()
		}
	}
	return out
}

// Context returns a snapshot of the shared context.
func (r *Runner) Context() kwargs.Context {
	return r.context.Clone()
}

// MergeContext applies updates to the shared context. Steps already built
// keep the snapshot they were built with.
func (r *Runner) MergeContext(updates map[string]any) kwargs.Context {
	r.context = r.context.Merge(updates)
	return r.context.Clone()
}

// Counter returns the number of step attempts made so far.
func (r *Runner) Counter() int {
	return r.state.Counter
}

// Pending returns the names of pending steps in load order.
func (r *Runner) Pending() []string {
	return append([]string(nil), r.order...)
}

// Tested returns a copy of the free-form tested map.
func (r *Runner) Tested() map[string]any {
	out := make(map[string]any, len(r.state.Tested))
	for k, v := range r.state.Tested {
		out[k] = v
	}
	return out
}

// SetTested records a value in the tested map. It is persisted with the
// next save.
func (r *Runner) SetTested(key string, value any) {
	r.state.Tested[key] = value
}

// CompletedNames returns the completed step names in sorted order.
func (r *Runner) CompletedNames() []string {
	names := make([]string, 0, len(r.state.Complete))
	for k := range r.state.Complete {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
