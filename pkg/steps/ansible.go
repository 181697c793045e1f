package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/shakenfist/ostrich/pkg/emitter"
	"github.com/shakenfist/ostrich/pkg/engine"
	"github.com/shakenfist/ostrich/pkg/kwargs"
)

var (
	playbookRe = regexp.MustCompile(`^\[Executing "(.*)" playbook\]$`)
	runTimeRe  = regexp.MustCompile(`^Run Time = ([0-9]+) seconds$`)
)

// Timing is one [playbook, seconds] pair in the timings file.
type Timing [2]string

// AnsibleTimingAction runs a command and collects playbook run times from
// its output into a JSON timings file.
type AnsibleTimingAction struct {
	*CommandAction
	TimingsPath string

	mu       sync.Mutex
	playbook string
	timings  []Timing
}

// NewAnsibleTiming builds a command step that records playbook timings.
func NewAnsibleTiming(name, command, timingsPath string, kc kwargs.Context) (*engine.Step, error) {
	cmd, err := newCommandAction(command, kc)
	if err != nil {
		return nil, err
	}

	action := &AnsibleTimingAction{
		CommandAction: cmd,
		TimingsPath:   resolvePath(timingsPath, cmd.Options.Cwd),
	}
	cmd.OnOutput = action.observe
	return engine.NewStep(name, action, kc)
}

func (a *AnsibleTimingAction) observe(line string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if m := playbookRe.FindStringSubmatch(line); m != nil {
		a.playbook = m[1]
		return
	}
	if m := runTimeRe.FindStringSubmatch(line); m != nil && a.playbook != "" {
		a.timings = append(a.timings, Timing{a.playbook, m[1]})
	}
}

// Execute runs the command and rewrites the timings file whether or not
// the command succeeded.
func (a *AnsibleTimingAction) Execute(ctx context.Context, em emitter.Emitter) (engine.Outcome, error) {
	existing, err := LoadTimings(a.TimingsPath)
	if err != nil {
		return engine.Failure(), err
	}

	a.mu.Lock()
	a.playbook = ""
	a.timings = existing
	a.mu.Unlock()

	outcome, runErr := a.CommandAction.Execute(ctx, em)

	a.mu.Lock()
	timings := append([]Timing(nil), a.timings...)
	a.mu.Unlock()

	if err := writeTimings(a.TimingsPath, timings); err != nil {
		em.Emit(fmt.Sprintf("... failed to write timings: %v", err))
		if runErr == nil {
			runErr = err
		}
	}
	return outcome, runErr
}

// LoadTimings reads a timings file. A missing file has no timings.
func LoadTimings(path string) ([]Timing, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read timings: %w", err)
	}

	var timings []Timing
	if err := json.Unmarshal(data, &timings); err != nil {
		return nil, fmt.Errorf("failed to parse timings %s: %w", path, err)
	}
	return timings, nil
}

func writeTimings(path string, timings []Timing) error {
	if timings == nil {
		timings = []Timing{}
	}
	data, err := json.MarshalIndent(timings, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
