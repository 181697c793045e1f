package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shakenfist/ostrich/pkg/config"
	"github.com/shakenfist/ostrich/pkg/plan"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "abc123", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// setup writes a stream-mode config under a fresh state directory and
// returns its path.
func setup(t *testing.T) (cfgPath, stateDir string) {
	t.Helper()
	stateDir = t.TempDir()
	t.Setenv("OSTRICH_STATE_DIR", stateDir)

	cfgPath = filepath.Join(t.TempDir(), "config.yml")
	doc := "display:\n  mode: stream\ntelemetry:\n  service_name: ostrich\n  logging:\n    level: error\n    format: console\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))
	return cfgPath, stateDir
}

func writePlan(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ostrich test")
	assert.Contains(t, out, "commit: abc123")
}

func TestSamplePlanIsValid(t *testing.T) {
	p, err := plan.Parse([]byte(samplePlan))
	require.NoError(t, err)
	assert.Len(t, p.Stages, 3)
}

func TestRunStateHistoryAndLogs(t *testing.T) {
	cfgPath, stateDir := setup(t)
	work := t.TempDir()
	marker := filepath.Join(work, "marker")

	planPath := writePlan(t, `
stages:
  - name: only
    steps:
      - name: hello
        type: command
        with:
          command: echo hello-from-test
      - name: marker
        type: file-create
        with:
          path: `+marker+`
          text: done
`)

	out, err := execute(t, "--config", cfgPath, "run", "--plan", planPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "hello-from-test")
	assert.Contains(t, out, "complete, 2 steps done")

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "done", string(data))
	assert.FileExists(t, filepath.Join(stateDir, "state.json"))

	out, err = execute(t, "--config", cfgPath, "state", "show", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"hello": true`)
	assert.Contains(t, out, `"marker": true`)

	out, err = execute(t, "--config", cfgPath, "state", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "executions: 2")

	out, err = execute(t, "--config", cfgPath, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, planPath)

	out, err = execute(t, "--config", cfgPath, "history", "--step", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "000000-hello")

	out, err = execute(t, "--config", cfgPath, "logs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "marker")

	out, err = execute(t, "--config", cfgPath, "logs", "show", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "hello-from-test")

	// A resumed run skips both steps.
	out, err = execute(t, "--config", cfgPath, "run", "--plan", planPath)
	require.NoError(t, err, out)
	assert.NotContains(t, out, "hello-from-test")

	out, err = execute(t, "--config", cfgPath, "state", "forget", "hello", "missing")
	require.NoError(t, err)
	assert.Contains(t, out, "Forgot hello")
	assert.Contains(t, out, "missing is not complete")

	out, err = execute(t, "--config", cfgPath, "state", "show", "--json")
	require.NoError(t, err)
	assert.NotContains(t, out, `"hello"`)

	out, err = execute(t, "--config", cfgPath, "run", "--plan", planPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "hello-from-test")
}

func TestRunReportsDeadlock(t *testing.T) {
	cfgPath, _ := setup(t)
	planPath := writePlan(t, `
stages:
  - name: stuck
    steps:
      - name: waiting
        type: command
        depends: never-defined
        with:
          command: "true"
`)

	out, err := execute(t, "--config", cfgPath, "run", "--plan", planPath)
	require.Error(t, err)
	assert.Contains(t, out, "No pending step could run")
	assert.Contains(t, out, "waiting")

	out, err = execute(t, "--config", cfgPath, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "failed")
}

func TestRunRejectsBadDisplay(t *testing.T) {
	cfgPath, _ := setup(t)
	planPath := writePlan(t, "stages:\n  - name: s\n    steps: []\n")

	_, err := execute(t, "--config", cfgPath, "run", "--plan", planPath, "--display", "fancy")
	assert.Error(t, err)
}

func TestStateResetNeedsConfirmation(t *testing.T) {
	cfgPath, stateDir := setup(t)
	statePath := filepath.Join(stateDir, "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte(`{"complete": {"a": true}}`), 0o600))

	_, err := execute(t, "--config", cfgPath, "state", "reset")
	assert.Error(t, err)
	assert.FileExists(t, statePath)

	_, err = execute(t, "--config", cfgPath, "state", "reset", "--yes")
	require.NoError(t, err)
	assert.NoFileExists(t, statePath)
}

func TestInit(t *testing.T) {
	t.Setenv("OSTRICH_STATE_DIR", t.TempDir())
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ostrich.yml")
	planPath := filepath.Join(dir, "plan.yml")

	out, err := execute(t, "--config", cfgPath, "init", "--plan", planPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Wrote config")

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.DirExists(t, cfg.Logs.Dir)
	assert.FileExists(t, cfg.Journal.Path)

	_, err = plan.Load(planPath)
	require.NoError(t, err)

	_, err = execute(t, "--config", cfgPath, "init", "--plan", planPath)
	assert.Error(t, err)

	_, err = execute(t, "--config", cfgPath, "init", "--plan", planPath, "--force")
	assert.NoError(t, err)
}
