package steps

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/shakenfist/ostrich/pkg/emitter"
	"github.com/shakenfist/ostrich/pkg/engine"
	"github.com/shakenfist/ostrich/pkg/kwargs"
	"github.com/shakenfist/ostrich/pkg/process"
)

// CommandAction runs a shell command and succeeds when it exits with an
// acceptable code.
type CommandAction struct {
	Command string
	Options kwargs.Options

	// PollInterval overrides how often output and the process tree are
	// checked.
	PollInterval time.Duration
	// OnOutput sees every line of output.
	OnOutput func(line string)
}

// NewCommand builds a command step from the context snapshot kc.
func NewCommand(name, command string, kc kwargs.Context) (*engine.Step, error) {
	action, err := newCommandAction(command, kc)
	if err != nil {
		return nil, err
	}
	return engine.NewStep(name, action, kc)
}

func newCommandAction(command string, kc kwargs.Context) (*CommandAction, error) {
	opts, err := kc.Options()
	if err != nil {
		return nil, err
	}
	return &CommandAction{Command: command, Options: opts}, nil
}

// Execute runs the command, streaming its output to em.
func (a *CommandAction) Execute(ctx context.Context, em emitter.Emitter) (engine.Outcome, error) {
	em.Emit(fmt.Sprintf("# %s", a.Command))
	em.Emit("")

	res, err := process.Run(ctx, process.Spec{
		Command:        a.Command,
		Dir:            a.Options.Cwd,
		Env:            a.Options.Env,
		TraceProcesses: a.Options.TraceProcesses,
		PollInterval:   a.PollInterval,
		OnOutput:       a.OnOutput,
	}, em)
	if err != nil {
		return engine.Failure(), err
	}

	em.Emit("")
	em.Emit("... process complete")
	em.Emit(fmt.Sprintf("... exit code %d", res.ExitCode))
	return engine.BoolOutcome(a.Options.Acceptable(res.ExitCode)), nil
}

// resolvePath anchors a relative path at cwd.
func resolvePath(path, cwd string) string {
	if path == "" || filepath.IsAbs(path) || cwd == "" {
		return path
	}
	return filepath.Join(cwd, path)
}
