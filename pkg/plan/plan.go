// Package plan loads YAML plans of ordered stages and turns them into
// engine stages.
//
// A plan lists stages; each stage lists step specs. String values in a
// step spec are Go templates rendered when the stage is reached, so a stage
// can use answers recorded by earlier ones:
//
//	stages:
//	  - name: questions
//	    steps:
//	      - name: mirror
//	        type: question
//	        with: {title: "Git mirror?", prompt: "URL"}
//	  - name: clone
//	    steps:
//	      - name: clone-repo
//	        type: command
//	        with:
//	          command: 'git clone {{ answer "mirror" }}/repo.git'
package plan

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shakenfist/ostrich/pkg/steps"
)

// Plan is an ordered list of stages.
type Plan struct {
	Stages []StageSpec `yaml:"stages" validate:"required,min=1,dive"`
}

// StageSpec is a named group of steps. When is a template; the stage is
// skipped if it renders falsy.
type StageSpec struct {
	Name  string     `yaml:"name" validate:"required"`
	When  string     `yaml:"when,omitempty"`
	Steps []StepSpec `yaml:"steps" validate:"dive"`
}

// StepSpec declares one step.
type StepSpec struct {
	Name      string         `yaml:"name" validate:"required"`
	Type      string         `yaml:"type" validate:"required"`
	Depends   string         `yaml:"depends,omitempty"`
	When      string         `yaml:"when,omitempty"`
	Kwargs    map[string]any `yaml:"kwargs,omitempty"`
	With      map[string]any `yaml:"with,omitempty"`
	OnFailure *StepSpec      `yaml:"on_failure,omitempty" validate:"-"`
}

var validate = validator.New()

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a plan document. Unknown fields are errors.
func Parse(data []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks structure, step types, and that step names are unique
// across the whole plan. A repeated name would be skipped as already
// complete once its first use succeeded.
func (p *Plan) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}

	known := map[string]bool{}
	for _, t := range steps.Types() {
		known[t] = true
	}

	seen := map[string]string{}
	var check func(stage string, s StepSpec) error
	check = func(stage string, s StepSpec) error {
		if !known[s.Type] {
			return fmt.Errorf("stage %s: step %s has unknown type %q", stage, s.Name, s.Type)
		}
		if prev, ok := seen[s.Name]; ok {
			return fmt.Errorf("stage %s: step name %s already used in stage %s", stage, s.Name, prev)
		}
		seen[s.Name] = stage
		if s.OnFailure != nil {
			return check(stage, s.failureSpec())
		}
		return nil
	}

	stages := map[string]bool{}
	for _, stage := range p.Stages {
		if stages[stage.Name] {
			return fmt.Errorf("duplicate stage name %s", stage.Name)
		}
		stages[stage.Name] = true
		for _, s := range stage.Steps {
			if err := check(stage.Name, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s StepSpec) failureSpec() StepSpec {
	aux := *s.OnFailure
	if aux.Name == "" {
		aux.Name = s.Name + "-on-failure"
	}
	return aux
}

// StepCount returns the number of steps in the plan, excluding failure
// handlers.
func (p *Plan) StepCount() int {
	n := 0
	for _, stage := range p.Stages {
		n += len(stage.Steps)
	}
	return n
}
