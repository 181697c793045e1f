package engine

import (
	"context"
	"fmt"
)

// Stage builds a group of steps. Steps is called only when the stage is
// reached, so a stage can read answers recorded by earlier stages.
type Stage interface {
	Name() string
	Steps(r *Runner) ([]*Step, error)
}

type funcStage struct {
	name  string
	build func(r *Runner) ([]*Step, error)
}

func (s funcStage) Name() string                     { return s.name }
func (s funcStage) Steps(r *Runner) ([]*Step, error) { return s.build(r) }

// NewStage adapts a function to the Stage interface.
func NewStage(name string, build func(r *Runner) ([]*Step, error)) Stage {
	return funcStage{name: name, build: build}
}

// Chain makes every step without an explicit dependency depend on the step
// before it, the first on depends. Steps that already name a dependency
// keep it, which lets a stage branch.
func Chain(steps []*Step, depends string) []*Step {
	for _, step := range steps {
		if step.Depends == "" {
			step.Depends = depends
		}
		depends = step.Name
	}
	return steps
}

// RunStages builds, loads and resolves each stage in turn. The first stage
// error or fatal resolver error stops the run.
func RunStages(ctx context.Context, r *Runner, stages ...Stage) error {
	for _, stage := range stages {
		logger := r.logger.WithStage(stage.Name())

		steps, err := stage.Steps(r)
		if err != nil {
			return fmt.Errorf("failed to build stage %s: %w", stage.Name(), err)
		}
		for _, step := range Chain(steps, "") {
			if err := r.LoadStep(step); err != nil {
				return fmt.Errorf("failed to load stage %s: %w", stage.Name(), err)
			}
		}

		logger.Infof("resolving stage with %d steps", len(steps))
		if err := r.Resolve(ctx); err != nil {
			return err
		}
	}
	return nil
}
