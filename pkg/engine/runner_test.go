package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/shakenfist/ostrich/pkg/emitter"
	"github.com/shakenfist/ostrich/pkg/kwargs"
)

// memStore keeps state in memory and counts saves.
type memStore struct {
	mu      sync.Mutex
	state   *State
	saves   int
	saveErr error
}

func (m *memStore) Load(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, ErrNoState
	}
	return cloneState(m.state), nil
}

func (m *memStore) Save(ctx context.Context, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.state = cloneState(s)
	return nil
}

func cloneState(s *State) *State {
	out := NewState()
	for k, v := range s.Complete {
		out.Complete[k] = v
	}
	out.Counter = s.Counter
	out.Kwargs = kwargs.New(s.Kwargs).Values
	out.KwargsVersion = s.KwargsVersion
	for k, v := range s.Tested {
		out.Tested[k] = v
	}
	return out
}

// trace records which actions ran, in order.
type trace struct {
	mu  sync.Mutex
	ran []string
}

func (tr *trace) add(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.ran = append(tr.ran, name)
}

func (tr *trace) names() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.ran...)
}

// scriptedAction returns outcomes in order, repeating the last one.
func scriptedAction(tr *trace, name string, outcomes ...Outcome) Action {
	calls := 0
	return ActionFunc(func(ctx context.Context, em emitter.Emitter) (Outcome, error) {
		tr.add(name)
		i := calls
		if i >= len(outcomes) {
			i = len(outcomes) - 1
		}
		calls++
		return outcomes[i], nil
	})
}

var fastRetries = kwargs.New(map[string]any{
	kwargs.KeyMaxAttempts:      3,
	kwargs.KeyFailingStepDelay: 0,
})

func newTestStep(t *testing.T, name, depends string, action Action) *Step {
	t.Helper()
	step, err := NewStep(name, action, fastRetries)
	if err != nil {
		t.Fatalf("NewStep(%s) failed: %v", name, err)
	}
	step.Depends = depends
	return step
}

func newTestRunner(t *testing.T, store *memStore, opts ...Option) *Runner {
	t.Helper()
	r, err := New(context.Background(), store, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r
}

func TestResolveChainRunsInOrder(t *testing.T) {
	tr := &trace{}
	store := &memStore{}
	rec := emitter.NewRecorder()
	r := newTestRunner(t, store, WithEmitter(rec))

	steps := []*Step{
		newTestStep(t, "a", "", scriptedAction(tr, "a", Success())),
		newTestStep(t, "b", "", scriptedAction(tr, "b", Success())),
		newTestStep(t, "c", "", scriptedAction(tr, "c", Success())),
	}
	if err := r.LoadDependencyChain(steps, ""); err != nil {
		t.Fatalf("LoadDependencyChain failed: %v", err)
	}
	if steps[1].Depends != "a" || steps[2].Depends != "b" {
		t.Fatalf("chain not linked: b->%q c->%q", steps[1].Depends, steps[2].Depends)
	}

	if err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got := tr.names(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("ran %v, want [a b c]", got)
	}
	if r.Counter() != 3 {
		t.Errorf("counter = %d, want 3", r.Counter())
	}
	if len(r.Pending()) != 0 {
		t.Errorf("pending = %v, want empty", r.Pending())
	}
	wantLogs := []string{"000000-a", "000001-b", "000002-c"}
	if got := rec.LogIDs(); !reflect.DeepEqual(got, wantLogs) {
		t.Errorf("log ids = %v, want %v", got, wantLogs)
	}
	if rec.Clears() != 3 {
		t.Errorf("clears = %d, want 3", rec.Clears())
	}
}

func TestResolveSamePassSeesCompletion(t *testing.T) {
	tr := &trace{}
	r := newTestRunner(t, &memStore{})

	// b is loaded first but cannot run until a completes; c follows a in
	// load order so it runs in the same pass.
	mustLoad(t, r, newTestStep(t, "b", "a", scriptedAction(tr, "b", Success())))
	mustLoad(t, r, newTestStep(t, "a", "", scriptedAction(tr, "a", Success())))
	mustLoad(t, r, newTestStep(t, "c", "a", scriptedAction(tr, "c", Success())))

	if err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got := tr.names(); !reflect.DeepEqual(got, []string{"a", "c", "b"}) {
		t.Errorf("ran %v, want [a c b]", got)
	}
}

func TestResolveDeadlock(t *testing.T) {
	tr := &trace{}
	r := newTestRunner(t, &memStore{})

	mustLoad(t, r, newTestStep(t, "a", "", scriptedAction(tr, "a", Success())))
	mustLoad(t, r, newTestStep(t, "orphan", "ghost", scriptedAction(tr, "orphan", Success())))

	err := r.Resolve(context.Background())
	if !IsDeadlock(err) || !IsFatal(err) {
		t.Fatalf("expected fatal deadlock, got %v", err)
	}
	if got := tr.names(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("ran %v, want [a]", got)
	}
	outstanding := OutstandingSteps(err)
	if len(outstanding) != 1 || outstanding[0] != "step orphan, depends on ghost" {
		t.Errorf("outstanding = %v", outstanding)
	}
}

func TestResumeSkipsCompletedSteps(t *testing.T) {
	tr := &trace{}
	store := &memStore{state: &State{
		Complete: map[string]Outcome{"a": Success(), "mirror": Answer("https://mirror")},
		Counter:  7,
	}}
	r := newTestRunner(t, store)

	steps := []*Step{
		newTestStep(t, "a", "", scriptedAction(tr, "a", Success())),
		newTestStep(t, "b", "", scriptedAction(tr, "b", Success())),
	}
	if err := r.LoadDependencyChain(steps, ""); err != nil {
		t.Fatalf("LoadDependencyChain failed: %v", err)
	}
	if err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got := tr.names(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("ran %v, want [b]", got)
	}
	if r.Counter() != 8 {
		t.Errorf("counter = %d, want 8", r.Counter())
	}
	if r.Answer("mirror") != "https://mirror" {
		t.Errorf("answer = %q", r.Answer("mirror"))
	}
}

func TestRetryThenSucceed(t *testing.T) {
	tr := &trace{}
	rec := emitter.NewRecorder()
	r := newTestRunner(t, &memStore{}, WithEmitter(rec))

	mustLoad(t, r, newTestStep(t, "flaky", "", scriptedAction(tr, "flaky", Failure(), Success())))

	if err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := tr.names(); len(got) != 2 {
		t.Errorf("ran %v, want two attempts", got)
	}
	if r.Counter() != 2 {
		t.Errorf("counter = %d, want 2", r.Counter())
	}
	if !strings.Contains(rec.Output(), "... not our first attempt, sleeping for 0 seconds") {
		t.Errorf("missing retry banner in %q", rec.Output())
	}
}

func TestRetriesExhaustedIsFatal(t *testing.T) {
	tr := &trace{}
	store := &memStore{}
	rec := emitter.NewRecorder()
	r := newTestRunner(t, store, WithEmitter(rec))

	mustLoad(t, r, newTestStep(t, "broken", "", scriptedAction(tr, "broken", Failure())))
	mustLoad(t, r, newTestStep(t, "after", "broken", scriptedAction(tr, "after", Success())))

	err := r.Resolve(context.Background())
	if !IsRetriesExhausted(err) {
		t.Fatalf("expected retries exhausted, got %v", err)
	}
	if got := tr.names(); len(got) != 3 {
		t.Errorf("action ran %d times, want 3", len(got))
	}
	if r.Counter() != 4 {
		t.Errorf("counter = %d, want 4", r.Counter())
	}
	if store.state.Counter != 4 {
		t.Errorf("persisted counter = %d, want 4", store.state.Counter)
	}
	if !strings.Contains(rec.Output(), "... repeatedly failed step, giving up") {
		t.Errorf("missing give up message in %q", rec.Output())
	}
}

func TestActionErrorIsRetried(t *testing.T) {
	calls := 0
	action := ActionFunc(func(ctx context.Context, em emitter.Emitter) (Outcome, error) {
		calls++
		if calls == 1 {
			return Failure(), errors.New("file vanished")
		}
		return Describe("Changed %d lines", 2), nil
	})
	rec := emitter.NewRecorder()
	r := newTestRunner(t, &memStore{}, WithEmitter(rec))
	mustLoad(t, r, newTestStep(t, "edit", "", action))

	if err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if r.Complete()["edit"].Text() != "Changed 2 lines" {
		t.Errorf("outcome = %s", r.Complete()["edit"])
	}
	if !strings.Contains(rec.Output(), "... step failed: file vanished") {
		t.Errorf("missing failure message in %q", rec.Output())
	}
}

func TestDuplicateStepRejected(t *testing.T) {
	tr := &trace{}
	r := newTestRunner(t, &memStore{})

	mustLoad(t, r, newTestStep(t, "a", "", scriptedAction(tr, "a", Success())))
	err := r.LoadStep(newTestStep(t, "a", "", scriptedAction(tr, "a2", Success())))

	if !IsPermanent(err) {
		t.Fatalf("expected permanent duplicate error, got %v", err)
	}
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != ErrCodeDuplicateStep {
		t.Errorf("expected DUPLICATE_STEP, got %v", err)
	}
}

func TestDuplicateStepReplaced(t *testing.T) {
	tr := &trace{}
	r := newTestRunner(t, &memStore{}, WithDuplicatePolicy(ReplaceDuplicates))

	mustLoad(t, r, newTestStep(t, "a", "", scriptedAction(tr, "first", Success())))
	mustLoad(t, r, newTestStep(t, "a", "", scriptedAction(tr, "second", Success())))

	if err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := tr.names(); !reflect.DeepEqual(got, []string{"second"}) {
		t.Errorf("ran %v, want [second]", got)
	}
}

func TestStateSavedAfterEveryAttempt(t *testing.T) {
	tr := &trace{}
	store := &memStore{}
	r := newTestRunner(t, store)

	mustLoad(t, r, newTestStep(t, "flaky", "", scriptedAction(tr, "flaky", Failure(), Answer("done"))))
	mustLoad(t, r, newTestStep(t, "next", "flaky", scriptedAction(tr, "next", Success())))
	r.MergeContext(map[string]any{"cwd": "/srv"})

	if err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if store.saves != 3 {
		t.Errorf("saves = %d, want 3", store.saves)
	}
	if store.state.Complete["flaky"].Text() != "done" {
		t.Errorf("persisted outcome = %s", store.state.Complete["flaky"])
	}
	if store.state.Kwargs["cwd"] != "/srv" || store.state.KwargsVersion != 1 {
		t.Errorf("persisted kwargs = %v (version %d)", store.state.Kwargs, store.state.KwargsVersion)
	}
}

func TestPersistenceFailureIsFatal(t *testing.T) {
	tr := &trace{}
	store := &memStore{saveErr: errors.New("disk full")}
	r := newTestRunner(t, store)
	mustLoad(t, r, newTestStep(t, "a", "", scriptedAction(tr, "a", Success())))

	err := r.Resolve(context.Background())
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error %q does not mention cause", err)
	}
}

func TestOnFailureRunsAfterFailedAttempt(t *testing.T) {
	tr := &trace{}
	r := newTestRunner(t, &memStore{})

	step := newTestStep(t, "playbook", "", scriptedAction(tr, "playbook", Failure(), Success()))
	step.OnFailure = newTestStep(t, "playbook-diagnose", "", scriptedAction(tr, "diagnose", Success()))
	mustLoad(t, r, step)

	if err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := []string{"playbook", "diagnose", "playbook"}
	if got := tr.names(); !reflect.DeepEqual(got, want) {
		t.Errorf("ran %v, want %v", got, want)
	}
	if r.IsComplete("playbook-diagnose") {
		t.Errorf("failure handler must not be recorded as complete")
	}
}

func TestInitialContextOnlySeedsEmptyState(t *testing.T) {
	r := newTestRunner(t, &memStore{}, WithInitialContext(map[string]any{"max_attempts": 2}))
	if v, _ := r.Context().Get("max_attempts"); v != 2 {
		t.Errorf("seeded max_attempts = %v", v)
	}

	store := &memStore{state: &State{Kwargs: map[string]any{"cwd": "/srv"}, KwargsVersion: 4}}
	r = newTestRunner(t, store, WithInitialContext(map[string]any{"max_attempts": 2}))
	if _, ok := r.Context().Get("max_attempts"); ok {
		t.Errorf("initial context must not override saved context")
	}
	if r.Context().Version != 4 {
		t.Errorf("version = %d, want 4", r.Context().Version)
	}
}

func TestMergeContextLeavesSnapshotsAlone(t *testing.T) {
	r := newTestRunner(t, &memStore{})
	r.MergeContext(map[string]any{"env": map[string]any{"A": "1"}})

	step, err := NewStep("snap", scriptedAction(&trace{}, "snap", Success()), r.Context())
	if err != nil {
		t.Fatalf("NewStep failed: %v", err)
	}
	r.MergeContext(map[string]any{"env": map[string]any{"A": "2"}})

	if got := step.Context.Values["env"].(map[string]any)["A"]; got != "1" {
		t.Errorf("snapshot env A = %v, want 1", got)
	}
	if r.Context().Version != 2 {
		t.Errorf("version = %d, want 2", r.Context().Version)
	}
}

func TestRunStagesSeesEarlierAnswers(t *testing.T) {
	tr := &trace{}
	r := newTestRunner(t, &memStore{})

	questions := NewStage("questions", func(r *Runner) ([]*Step, error) {
		return []*Step{newTestStep(t, "mirror", "", scriptedAction(tr, "mirror", Answer("yes")))}, nil
	})
	installs := NewStage("installs", func(r *Runner) ([]*Step, error) {
		if r.Answer("mirror") != "yes" {
			return nil, nil
		}
		return []*Step{
			newTestStep(t, "one", "", scriptedAction(tr, "one", Success())),
			newTestStep(t, "two", "", scriptedAction(tr, "two", Success())),
		}, nil
	})

	if err := RunStages(context.Background(), r, questions, installs); err != nil {
		t.Fatalf("RunStages failed: %v", err)
	}
	want := []string{"mirror", "one", "two"}
	if got := tr.names(); !reflect.DeepEqual(got, want) {
		t.Errorf("ran %v, want %v", got, want)
	}
}

func TestChainKeepsExplicitDependencies(t *testing.T) {
	a := &Step{Name: "a"}
	b := &Step{Name: "b", Depends: "z"}
	c := &Step{Name: "c"}

	Chain([]*Step{a, b, c}, "root")

	if a.Depends != "root" || b.Depends != "z" || c.Depends != "b" {
		t.Errorf("got a->%q b->%q c->%q", a.Depends, b.Depends, c.Depends)
	}
}

func TestCancelledContextStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	action := ActionFunc(func(ctx context.Context, em emitter.Emitter) (Outcome, error) {
		cancel()
		return Failure(), ctx.Err()
	})
	r := newTestRunner(t, &memStore{})
	mustLoad(t, r, newTestStep(t, "a", "", action))

	err := r.Resolve(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCompletionSavedDespiteCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	action := ActionFunc(func(ctx context.Context, em emitter.Emitter) (Outcome, error) {
		cancel()
		return Success(), nil
	})
	store := &memStore{}
	r := newTestRunner(t, store)
	mustLoad(t, r, newTestStep(t, "a", "", action))

	err := r.Resolve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, loadErr := store.Load(context.Background())
	if loadErr != nil {
		t.Fatalf("Load failed: %v", loadErr)
	}
	if _, ok := loaded.Complete["a"]; !ok {
		t.Fatalf("expected a to be saved as complete, got %v", loaded.Complete)
	}
}

func mustLoad(t *testing.T, r *Runner, step *Step) {
	t.Helper()
	if err := r.LoadStep(step); err != nil {
		t.Fatalf("LoadStep(%s) failed: %v", step.Name, err)
	}
}
