package process

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedLister struct {
	snapshots [][]Info
	calls     int
}

func (s *scriptedLister) Descendants(int) ([]Info, error) {
	if s.calls >= len(s.snapshots) {
		return nil, errors.New("process vanished")
	}
	snap := s.snapshots[s.calls]
	s.calls++
	return snap, nil
}

func TestTrackerEmitsStartAndEnd(t *testing.T) {
	lister := &scriptedLister{snapshots: [][]Info{
		{{PID: 10, Cmdline: "apt-get update"}},
		{{PID: 10, Cmdline: "apt-get update"}, {PID: 11, Cmdline: "http"}},
		{{PID: 11, Cmdline: "http"}},
		{},
	}}
	sink := &captureSink{}
	tr := NewTracker(1, lister, sink, true)

	for i := 0; i < 4; i++ {
		tr.Observe()
	}

	assert.Equal(t, []string{
		"*** process started *** 10 -> apt-get update",
		"*** process started *** 11 -> http",
		"*** process ended *** 10 -> apt-get update",
		"*** process ended *** 11 -> http",
	}, sink.all())
	assert.Equal(t, 2, tr.Seen())
}

func TestTrackerSilentWithoutTrace(t *testing.T) {
	lister := &scriptedLister{snapshots: [][]Info{{{PID: 5, Cmdline: "sleep 1"}}, {}}}
	sink := &captureSink{}
	tr := NewTracker(1, lister, sink, false)

	tr.Observe()
	tr.Observe()

	assert.Empty(t, sink.all())
	assert.Equal(t, 1, tr.Seen())
}

func TestTrackerToleratesListerErrors(t *testing.T) {
	lister := &scriptedLister{snapshots: [][]Info{{{PID: 5, Cmdline: "sleep 1"}}}}
	sink := &captureSink{}
	tr := NewTracker(1, lister, sink, true)

	tr.Observe()
	tr.Observe()

	assert.Equal(t, []string{"*** process started *** 5 -> sleep 1"}, sink.all())
}

func TestTrackerNilLister(t *testing.T) {
	tr := NewTracker(1, nil, &captureSink{}, true)
	tr.Observe()
	assert.Zero(t, tr.Seen())
}

func TestRunTracesChildren(t *testing.T) {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("procfs not available")
	}

	res, sink := run(t, Spec{Command: "sleep 0.3; true", TraceProcesses: true})
	require.Equal(t, 0, res.ExitCode)

	var started, ended bool
	for _, line := range sink.all() {
		if strings.HasPrefix(line, "*** process started ***") && strings.Contains(line, "sleep 0.3") {
			started = true
		}
		if strings.HasPrefix(line, "*** process ended ***") && strings.Contains(line, "sleep 0.3") {
			ended = true
		}
	}
	assert.True(t, started, "expected a start event for the sleep")
	assert.True(t, ended, "expected an end event for the sleep")
	assert.GreaterOrEqual(t, res.Descendants, 1)
}
