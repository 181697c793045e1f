package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shakenfist/ostrich/pkg/emitter"
	"github.com/shakenfist/ostrich/pkg/engine"
	"github.com/shakenfist/ostrich/pkg/kwargs"
)

// ContextMerger owns the shared context. *engine.Runner implements it.
type ContextMerger interface {
	MergeContext(updates map[string]any) kwargs.Context
}

// KwargsAction merges updates into the shared context so that steps built
// afterwards inherit them.
type KwargsAction struct {
	Target  ContextMerger
	Updates map[string]any
}

// NewKwargs builds a step that updates the shared context. A nil value in
// updates removes the key.
func NewKwargs(name string, target ContextMerger, updates map[string]any, kc kwargs.Context) (*engine.Step, error) {
	if target == nil {
		return nil, fmt.Errorf("kwargs step %s has no context to update", name)
	}
	return engine.NewStep(name, &KwargsAction{Target: target, Updates: updates}, kc)
}

func (a *KwargsAction) Execute(ctx context.Context, em emitter.Emitter) (engine.Outcome, error) {
	updated := a.Target.MergeContext(a.Updates)

	data, err := json.MarshalIndent(updated.Values, "", "    ")
	if err != nil {
		return engine.Failure(), err
	}
	em.Emit(fmt.Sprintf("Context is now version %d:", updated.Version))
	em.Emit(string(data))
	return engine.Success(), nil
}
