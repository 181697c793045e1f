package plan

import (
	"fmt"
	"time"

	"github.com/shakenfist/ostrich/pkg/engine"
	"github.com/shakenfist/ostrich/pkg/steps"
)

// Options are the environment values steps need beyond the shared
// context.
type Options struct {
	PatchesDir   string
	ArchiveDir   string
	PollInterval time.Duration
}

// EngineStages converts the plan into engine stages. Each stage renders and
// builds its steps only when the runner reaches it.
func (p *Plan) EngineStages(opts Options) []engine.Stage {
	out := make([]engine.Stage, 0, len(p.Stages))
	for _, spec := range p.Stages {
		spec := spec
		out = append(out, engine.NewStage(spec.Name, func(r *engine.Runner) ([]*engine.Step, error) {
			return buildStage(spec, r, opts)
		}))
	}
	return out
}

func buildStage(spec StageSpec, r *engine.Runner, opts Options) ([]*engine.Step, error) {
	kc := r.Context()
	data := dataFor(r.Answers(), kc, r.Tested())

	run, err := truthy(spec.When, data)
	if err != nil {
		return nil, fmt.Errorf("when: %w", err)
	}
	if !run {
		return nil, nil
	}

	env := steps.Environment{
		Context:      kc,
		Merger:       r,
		PatchesDir:   opts.PatchesDir,
		ArchiveDir:   opts.ArchiveDir,
		PollInterval: opts.PollInterval,
	}

	var built []*engine.Step
	for _, s := range spec.Steps {
		include, err := truthy(s.When, data)
		if err != nil {
			return nil, fmt.Errorf("step %s when: %w", s.Name, err)
		}
		if !include {
			continue
		}

		rendered, err := renderSpec(s, data)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", s.Name, err)
		}
		step, err := steps.Build(rendered, env)
		if err != nil {
			return nil, err
		}
		built = append(built, step)
	}
	return built, nil
}

func renderSpec(s StepSpec, data Data) (steps.Spec, error) {
	kw, err := renderMap(s.Kwargs, data)
	if err != nil {
		return steps.Spec{}, fmt.Errorf("kwargs: %w", err)
	}
	with, err := renderMap(s.With, data)
	if err != nil {
		return steps.Spec{}, fmt.Errorf("with: %w", err)
	}

	out := steps.Spec{
		Name:    s.Name,
		Type:    s.Type,
		Depends: s.Depends,
		Kwargs:  kw,
		With:    with,
	}
	if s.OnFailure != nil {
		aux, err := renderSpec(s.failureSpec(), data)
		if err != nil {
			return steps.Spec{}, fmt.Errorf("on_failure: %w", err)
		}
		out.OnFailure = &aux
	}
	return out, nil
}
