// Package steps provides the concrete step types: shell commands, playbook
// timing, patches, operator questions, file and YAML edits, and shared
// context updates.
package steps

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/shakenfist/ostrich/pkg/engine"
	"github.com/shakenfist/ostrich/pkg/kwargs"
)

// Step type names accepted by Build.
const (
	TypeCommand        = "command"
	TypeAnsibleTiming  = "ansible-timing"
	TypePatch          = "patch"
	TypeQuestion       = "question"
	TypeRegexpEdit     = "regexp-edit"
	TypeBulkRegexpEdit = "bulk-regexp-edit"
	TypeFileAppend     = "file-append"
	TypeFileCreate     = "file-create"
	TypeCopyFile       = "copy-file"
	TypeYAMLAdd        = "yaml-add"
	TypeYAMLUpdate     = "yaml-update"
	TypeYAMLDelete     = "yaml-delete"
	TypeYAMLMerge      = "yaml-merge"
	TypeKwargs         = "kwargs"
)

// Spec is a declarative step definition.
type Spec struct {
	Name    string
	Type    string
	Depends string
	// Kwargs overrides the shared context for this step only.
	Kwargs map[string]any
	// With holds the type specific parameters.
	With      map[string]any
	OnFailure *Spec
}

// Environment supplies what step constructors need beyond a Spec.
type Environment struct {
	Context    kwargs.Context
	Merger     ContextMerger
	PatchesDir string
	ArchiveDir string
	// PollInterval is applied to steps that run subprocesses.
	PollInterval time.Duration
}

type commandParams struct {
	Command string `mapstructure:"command" validate:"required"`
}

type ansibleParams struct {
	Command string `mapstructure:"command" validate:"required"`
	Timings string `mapstructure:"timings" validate:"required"`
}

type patchParams struct {
	Patch string `mapstructure:"patch"`
}

type questionParams struct {
	Title  string `mapstructure:"title" validate:"required"`
	Help   string `mapstructure:"help"`
	Prompt string `mapstructure:"prompt"`
}

type regexpParams struct {
	Path    string `mapstructure:"path" validate:"required"`
	Search  string `mapstructure:"search" validate:"required"`
	Replace string `mapstructure:"replace"`
}

type bulkRegexpParams struct {
	Path         string        `mapstructure:"path" validate:"required"`
	Filter       string        `mapstructure:"filter" validate:"required"`
	Replacements []Replacement `mapstructure:"replacements" validate:"required,min=1,dive"`
}

type fileParams struct {
	Path string `mapstructure:"path" validate:"required"`
	Text string `mapstructure:"text"`
}

type copyParams struct {
	From string `mapstructure:"from" validate:"required"`
	To   string `mapstructure:"to" validate:"required"`
}

type yamlParams struct {
	File  string `mapstructure:"file" validate:"required"`
	Path  []any  `mapstructure:"path"`
	Key   any    `mapstructure:"key"`
	Value any    `mapstructure:"value"`
}

type kwargsParams struct {
	Set map[string]any `mapstructure:"set" validate:"required"`
}

var validate = validator.New()

// Types lists the step types Build understands.
func Types() []string {
	types := []string{
		TypeCommand, TypeAnsibleTiming, TypePatch, TypeQuestion,
		TypeRegexpEdit, TypeBulkRegexpEdit, TypeFileAppend, TypeFileCreate,
		TypeCopyFile, TypeYAMLAdd, TypeYAMLUpdate, TypeYAMLDelete,
		TypeYAMLMerge, TypeKwargs,
	}
	sort.Strings(types)
	return types
}

// Build constructs a step from a declarative spec.
func Build(spec Spec, env Environment) (*engine.Step, error) {
	kc := env.Context
	if len(spec.Kwargs) > 0 {
		kc = kc.Merge(spec.Kwargs)
	}

	step, err := build(spec, env, kc)
	if err != nil {
		return nil, fmt.Errorf("step %s (%s): %w", spec.Name, spec.Type, err)
	}
	step.Depends = spec.Depends
	if env.PollInterval > 0 {
		setPollInterval(step.Action, env.PollInterval)
	}

	if spec.OnFailure != nil {
		aux := *spec.OnFailure
		if aux.Name == "" {
			aux.Name = spec.Name + "-on-failure"
		}
		step.OnFailure, err = Build(aux, env)
		if err != nil {
			return nil, err
		}
	}
	return step, nil
}

func build(spec Spec, env Environment, kc kwargs.Context) (*engine.Step, error) {
	switch spec.Type {
	case TypeCommand:
		var p commandParams
		if err := decodeParams(spec.With, &p); err != nil {
			return nil, err
		}
		return NewCommand(spec.Name, p.Command, kc)

	case TypeAnsibleTiming:
		var p ansibleParams
		if err := decodeParams(spec.With, &p); err != nil {
			return nil, err
		}
		return NewAnsibleTiming(spec.Name, p.Command, p.Timings, kc)

	case TypePatch:
		var p patchParams
		if err := decodeParams(spec.With, &p); err != nil {
			return nil, err
		}
		if env.PatchesDir == "" {
			return nil, fmt.Errorf("no patches directory configured")
		}
		if p.Patch == "" {
			return NewPatch(spec.Name, env.PatchesDir, env.ArchiveDir, kc)
		}
		step, err := NewPatch(p.Patch, env.PatchesDir, env.ArchiveDir, kc)
		if err != nil {
			return nil, err
		}
		step.Name = spec.Name
		step.Action.(*PatchAction).Step = spec.Name
		return step, nil

	case TypeQuestion:
		var p questionParams
		if err := decodeParams(spec.With, &p); err != nil {
			return nil, err
		}
		return NewQuestion(spec.Name, p.Title, p.Help, p.Prompt, kc)

	case TypeRegexpEdit:
		var p regexpParams
		if err := decodeParams(spec.With, &p); err != nil {
			return nil, err
		}
		return NewRegexpEdit(spec.Name, p.Path, p.Search, p.Replace, kc)

	case TypeBulkRegexpEdit:
		var p bulkRegexpParams
		if err := decodeParams(spec.With, &p); err != nil {
			return nil, err
		}
		return NewBulkRegexpEdit(spec.Name, p.Path, p.Filter, p.Replacements, kc)

	case TypeFileAppend, TypeFileCreate:
		var p fileParams
		if err := decodeParams(spec.With, &p); err != nil {
			return nil, err
		}
		if spec.Type == TypeFileAppend {
			return NewFileAppend(spec.Name, p.Path, p.Text, kc)
		}
		return NewFileCreate(spec.Name, p.Path, p.Text, kc)

	case TypeCopyFile:
		var p copyParams
		if err := decodeParams(spec.With, &p); err != nil {
			return nil, err
		}
		return NewCopyFile(spec.Name, p.From, p.To, kc)

	case TypeYAMLAdd, TypeYAMLUpdate, TypeYAMLDelete, TypeYAMLMerge:
		var p yamlParams
		if err := decodeParams(spec.With, &p); err != nil {
			return nil, err
		}
		ops := map[string]YAMLOp{
			TypeYAMLAdd:    YAMLAdd,
			TypeYAMLUpdate: YAMLUpdate,
			TypeYAMLDelete: YAMLDelete,
			TypeYAMLMerge:  YAMLMerge,
		}
		return NewYAMLEdit(spec.Name, p.File, ops[spec.Type], p.Path, p.Key, p.Value, kc)

	case TypeKwargs:
		var p kwargsParams
		if err := decodeParams(spec.With, &p); err != nil {
			return nil, err
		}
		return NewKwargs(spec.Name, env.Merger, p.Set, kc)
	}

	return nil, fmt.Errorf("unknown step type %q", spec.Type)
}

func setPollInterval(action engine.Action, interval time.Duration) {
	switch a := action.(type) {
	case *CommandAction:
		a.PollInterval = interval
	case *AnsibleTimingAction:
		a.PollInterval = interval
	case *PatchAction:
		a.command.PollInterval = interval
	}
}

func decodeParams(in map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(in); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}
