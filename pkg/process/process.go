// Package process runs shell commands and streams their output to an
// emitter while they execute.
//
// Standard output and standard error are read through non-blocking pipes
// multiplexed with poll(2), so a chatty process can never stall on a full
// pipe buffer. The process tree below the shell is optionally traced.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// DefaultShell interprets every command.
	DefaultShell = "/bin/sh"
	// DefaultPollInterval bounds how long a single poll waits for output.
	DefaultPollInterval = time.Second

	readChunk = 10000
)

// Sink receives process output and trace events.
type Sink interface {
	Emit(text string)
}

// Spec describes a command to run.
type Spec struct {
	Command        string
	Dir            string
	Env            map[string]string
	TraceProcesses bool
	Shell          string
	PollInterval   time.Duration

	// OnOutput, when set, is called with every complete line of output.
	OnOutput func(line string)
	// Lister overrides how descendants are discovered.
	Lister Lister
}

// Result describes a finished process.
type Result struct {
	ExitCode    int
	Duration    time.Duration
	Descendants int
}

// Run executes spec.Command with the shell and blocks until it exits and
// all of its output has been delivered to sink.
func Run(ctx context.Context, spec Spec, sink Sink) (*Result, error) {
	shell := spec.Shell
	if shell == "" {
		shell = DefaultShell
	}
	interval := spec.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	cmd := exec.CommandContext(ctx, shell, "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = Environ(spec.Env)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	defer stdoutR.Close()
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutW.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	defer stderrR.Close()

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	started := time.Now()
	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	p, err := newPump(sink, spec.OnOutput, stdoutR, stderrR)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	lister := spec.Lister
	if lister == nil {
		if l, err := NewProcfsLister(); err == nil {
			lister = l
		}
	}
	tracker := NewTracker(cmd.Process.Pid, lister, sink, spec.TraceProcesses)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	for exited := false; !exited; {
		if p.active() {
			if err := p.poll(interval); err != nil {
				_ = cmd.Process.Kill()
				<-done
				return nil, err
			}
			select {
			case waitErr = <-done:
				exited = true
			default:
			}
		} else {
			select {
			case waitErr = <-done:
				exited = true
			case <-time.After(interval):
			}
		}
		tracker.Observe()
	}

	// Output written just before exit may still be buffered in the pipes.
	p.drain()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("failed waiting for command: %w", waitErr)
	}

	return &Result{
		ExitCode:    cmd.ProcessState.ExitCode(),
		Duration:    time.Since(started),
		Descendants: tracker.Seen(),
	}, nil
}

// Environ returns the current environment with overlay applied on top.
func Environ(overlay map[string]string) []string {
	base := os.Environ()
	if len(overlay) == 0 {
		return base
	}

	env := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overlay[key]; replaced {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overlay[k])
	}
	return env
}

// stream is one non-blocking pipe and its partial trailing line. The
// first shown bytes of partial have already gone to the sink.
type stream struct {
	file    *os.File // keeps fd alive
	fd      int
	open    bool
	partial []byte
	shown   int
}

type pump struct {
	sink     Sink
	onOutput func(string)
	streams  []*stream
	buf      []byte
}

func newPump(sink Sink, onOutput func(string), files ...*os.File) (*pump, error) {
	p := &pump{sink: sink, onOutput: onOutput, buf: make([]byte, readChunk)}
	for _, f := range files {
		fd := int(f.Fd())
		if err := unix.SetNonblock(fd, true); err != nil {
			return nil, fmt.Errorf("failed to make pipe non-blocking: %w", err)
		}
		p.streams = append(p.streams, &stream{file: f, fd: fd, open: true})
	}
	return p, nil
}

func (p *pump) active() bool {
	for _, s := range p.streams {
		if s.open {
			return true
		}
	}
	return false
}

// poll waits up to timeout for output and delivers whatever is ready.
func (p *pump) poll(timeout time.Duration) error {
	var fds []unix.PollFd
	var ready []*stream
	for _, s := range p.streams {
		if s.open {
			fds = append(fds, unix.PollFd{Fd: int32(s.fd), Events: unix.POLLIN})
			ready = append(ready, s)
		}
	}

	_, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("failed to poll command output: %w", err)
	}

	for i, fd := range fds {
		if fd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			p.read(ready[i])
			continue
		}
		// Quiet for a whole round: show prompts and progress text that
		// have no newline yet.
		p.show(ready[i])
	}
	return nil
}

// show sends the unshown tail of a partial line to the sink. The line is
// still assembled in full for OnOutput.
func (p *pump) show(s *stream) {
	if len(s.partial) > s.shown {
		p.sink.Emit(string(s.partial[s.shown:]))
		s.shown = len(s.partial)
	}
}

// drain reads everything still buffered and flushes partial lines.
func (p *pump) drain() {
	for _, s := range p.streams {
		if s.open {
			p.read(s)
		}
		if len(s.partial) > 0 {
			p.deliver(string(s.partial), s.shown)
			s.partial = nil
			s.shown = 0
		}
	}
}

func (p *pump) read(s *stream) {
	for {
		n, err := unix.Read(s.fd, p.buf)
		if n > 0 {
			p.consume(s, p.buf[:n])
		}
		switch {
		case err == nil && n == 0:
			s.open = false
			return
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return
		case err != nil:
			s.open = false
			return
		}
	}
}

// consume emits every complete line in chunk, keeping the remainder.
func (p *pump) consume(s *stream, chunk []byte) {
	data := append(s.partial, chunk...)
	idx := bytes.LastIndexByte(data, '\n')
	if idx < 0 {
		s.partial = data
		return
	}

	shown := s.shown
	s.partial = append([]byte(nil), data[idx+1:]...)
	s.shown = 0
	p.deliver(string(data[:idx]), shown)
}

// deliver sends text less its first shown bytes to the sink, and every
// line of it to OnOutput.
func (p *pump) deliver(text string, shown int) {
	switch {
	case shown == 0:
		p.sink.Emit(text)
	case shown < len(text):
		p.sink.Emit(text[shown:])
	}
	if p.onOutput == nil {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		p.onOutput(line)
	}
}
