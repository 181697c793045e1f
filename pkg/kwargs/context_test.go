package kwargs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAddsAndOverwrites(t *testing.T) {
	base := New(map[string]any{"a": 1, "b": map[string]any{"x": "one"}})

	merged := base.Merge(map[string]any{
		"a": 2,
		"b": map[string]any{"y": "two"},
		"c": "new",
	})

	assert.Equal(t, 2, merged.Values["a"])
	assert.Equal(t, map[string]any{"x": "one", "y": "two"}, merged.Values["b"])
	assert.Equal(t, "new", merged.Values["c"])
	assert.Equal(t, base.Version+1, merged.Version)
}

func TestMergeNilDeletesNestedKey(t *testing.T) {
	base := New(map[string]any{"b": map[string]any{"a": 1, "c": 3}})

	merged := base.Merge(map[string]any{"b": map[string]any{"a": nil}})

	assert.Equal(t, map[string]any{"b": map[string]any{"c": 3}}, merged.Values)
}

func TestMergeDeletingAbsentKeyIsNoop(t *testing.T) {
	base := New(map[string]any{"a": 1})

	merged := base.Merge(map[string]any{"z": nil})

	assert.Equal(t, map[string]any{"a": 1}, merged.Values)
}

func TestMergeDoesNotTouchSnapshots(t *testing.T) {
	base := New(map[string]any{"env": map[string]any{"HOME": "/root"}})
	snapshot := base.Clone()

	_ = base.Merge(map[string]any{"env": map[string]any{"HOME": "/tmp", "PATH": "/bin"}})

	assert.Equal(t, map[string]any{"HOME": "/root"}, snapshot.Values["env"])
	assert.Equal(t, map[string]any{"HOME": "/root"}, base.Values["env"])
}

func TestMergeNewNestedMapDropsNils(t *testing.T) {
	merged := New(nil).Merge(map[string]any{"env": map[string]any{"A": "1", "B": nil}})
	assert.Equal(t, map[string]any{"A": "1"}, merged.Values["env"])
}

func TestOptionsDefaults(t *testing.T) {
	opts, err := New(nil).Options()
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxAttempts, opts.MaxAttempts)
	assert.Equal(t, DefaultFailingStepDelay, opts.FailingStepDelay)
	assert.Equal(t, []int{0}, opts.AcceptableExitCodes)
	assert.False(t, opts.TraceProcesses)
}

func TestOptionsDecode(t *testing.T) {
	c := New(map[string]any{
		KeyCwd:                 "/srv",
		KeyEnv:                 map[string]any{"DEBIAN_FRONTEND": "noninteractive"},
		KeyAcceptableExitCodes: []any{float64(0), float64(1)},
		KeyTraceProcesses:      "yes",
		KeyMaxAttempts:         float64(1),
		KeyFailingStepDelay:    "1m",
		"unrelated":            true,
	})

	opts, err := c.Options()
	require.NoError(t, err)

	assert.Equal(t, "/srv", opts.Cwd)
	assert.Equal(t, map[string]string{"DEBIAN_FRONTEND": "noninteractive"}, opts.Env)
	assert.Equal(t, []int{0, 1}, opts.AcceptableExitCodes)
	assert.True(t, opts.TraceProcesses)
	assert.Equal(t, 1, opts.MaxAttempts)
	assert.Equal(t, time.Minute, opts.FailingStepDelay)
	assert.True(t, opts.Acceptable(1))
	assert.False(t, opts.Acceptable(2))
}

func TestOptionsDelayInSeconds(t *testing.T) {
	opts, err := New(map[string]any{KeyFailingStepDelay: 0}).Options()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), opts.FailingStepDelay)

	opts, err = New(map[string]any{KeyFailingStepDelay: 2.5}).Options()
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, opts.FailingStepDelay)
}

func TestOptionsRejectsBadDuration(t *testing.T) {
	_, err := New(map[string]any{KeyFailingStepDelay: "soon"}).Options()
	assert.Error(t, err)
}
