// Package emitter routes step output to the operator and to per-step log
// files.
//
// Every emitter variant shares the same contract: Clear starts a fresh
// output region for the next step, Logger opens the compressed log that
// subsequent output is appended to, Emit writes one or more lines, and
// GetStr reads a line of operator input.
package emitter

import (
	"strings"
)

// Emitter is the output sink used by the runner, steps and subprocesses.
type Emitter interface {
	// Clear starts a fresh output region.
	Clear()
	// Logger directs subsequent output to <log dir>/<id>.gz.
	Logger(id string) error
	// Emit writes text, which may contain several lines.
	Emit(text string)
	// GetStr writes prompt and reads one line of input, without the
	// line terminator.
	GetStr(prompt string) (string, error)
	// Close releases terminal and log resources.
	Close() error
}

// ProgressReporter is implemented by emitters that show resolver progress.
type ProgressReporter interface {
	Progress(pending int, running string)
}

// Noop discards everything. It is used for nested actions whose output
// should not reach the operator.
type Noop struct{}

// NewNoop returns an emitter that discards all output.
func NewNoop() *Noop {
	return &Noop{}
}

func (*Noop) Clear()                        {}
func (*Noop) Logger(string) error           { return nil }
func (*Noop) Emit(string)                   {}
func (*Noop) GetStr(string) (string, error) { return "", nil }
func (*Noop) Close() error                  { return nil }

// Sanitize replaces every non-ASCII character with a single space.
func Sanitize(line string) string {
	clean := true
	for i := 0; i < len(line); i++ {
		if line[i] >= 0x80 {
			clean = false
			break
		}
	}
	if clean {
		return line
	}

	var b strings.Builder
	b.Grow(len(line))
	for _, r := range line {
		if r >= 0x80 {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// splitLines splits text into lines after sanitising it.
func splitLines(text string) []string {
	return strings.Split(Sanitize(text), "\n")
}
