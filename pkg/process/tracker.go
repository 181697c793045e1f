package process

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/procfs"
)

// Info describes one live process.
type Info struct {
	PID     int
	Cmdline string
}

// Lister enumerates the live descendants of a process.
type Lister interface {
	Descendants(root int) ([]Info, error)
}

// ProcfsLister walks /proc to find descendants.
type ProcfsLister struct {
	fs procfs.FS
}

// NewProcfsLister returns a lister backed by the default /proc mount.
func NewProcfsLister() (*ProcfsLister, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	return &ProcfsLister{fs: fs}, nil
}

// Descendants returns every process below root. Processes that exit while
// the table is being read are skipped.
func (l *ProcfsLister) Descendants(root int) ([]Info, error) {
	procs, err := l.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	children := make(map[int][]procfs.Proc)
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		children[stat.PPID] = append(children[stat.PPID], p)
	}

	var out []Info
	queue := []int{root}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]

		for _, child := range children[pid] {
			queue = append(queue, child.PID)

			args, err := child.CmdLine()
			if err != nil {
				continue
			}
			out = append(out, Info{PID: child.PID, Cmdline: strings.Join(args, " ")})
		}
	}
	return out, nil
}

// Tracker remembers the descendants seen on previous observations and
// reports processes starting and ending.
type Tracker struct {
	root   int
	lister Lister
	sink   Sink
	trace  bool
	live   map[int]string
	seen   int
}

// NewTracker creates a tracker for the tree under root. Events are only
// emitted when trace is set; a nil lister disables tracking.
func NewTracker(root int, lister Lister, sink Sink, trace bool) *Tracker {
	return &Tracker{
		root:   root,
		lister: lister,
		sink:   sink,
		trace:  trace,
		live:   make(map[int]string),
	}
}

// Observe takes one snapshot of the process tree.
func (t *Tracker) Observe() {
	if t.lister == nil {
		return
	}

	infos, err := t.lister.Descendants(t.root)
	if err != nil {
		return
	}

	current := make(map[int]bool, len(infos))
	for _, info := range infos {
		current[info.PID] = true
		if _, known := t.live[info.PID]; known {
			continue
		}
		t.live[info.PID] = info.Cmdline
		t.seen++
		if t.trace {
			t.sink.Emit(fmt.Sprintf("*** process started *** %d -> %s", info.PID, info.Cmdline))
		}
	}

	var ended []int
	for pid := range t.live {
		if !current[pid] {
			ended = append(ended, pid)
		}
	}
	sort.Ints(ended)
	for _, pid := range ended {
		if t.trace {
			t.sink.Emit(fmt.Sprintf("*** process ended *** %d -> %s", pid, t.live[pid]))
		}
		delete(t.live, pid)
	}
}

// Seen returns how many distinct descendants have been observed.
func (t *Tracker) Seen() int {
	return t.seen
}
