package emitter

import (
	"fmt"
	"strings"
	"sync"
)

// Recorder keeps emitted lines in memory and answers prompts from a fixed
// script. Tests and scripted runs use it in place of an operator.
type Recorder struct {
	mu      sync.Mutex
	lines   []string
	logs    []string
	clears  int
	answers []string
}

// NewRecorder returns a Recorder that answers prompts with answers in order.
func NewRecorder(answers ...string) *Recorder {
	return &Recorder{answers: answers}
}

func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
}

func (r *Recorder) Logger(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, id)
	return nil
}

func (r *Recorder) Emit(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, splitLines(text)...)
}

func (r *Recorder) GetStr(prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = append(r.lines, Sanitize(prompt))
	if len(r.answers) == 0 {
		return "", fmt.Errorf("no scripted answer for prompt %q", prompt)
	}
	answer := r.answers[0]
	r.answers = r.answers[1:]
	return answer, nil
}

func (r *Recorder) Close() error { return nil }

// Lines returns a copy of every line emitted so far.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Output returns the emitted lines joined by newlines.
func (r *Recorder) Output() string {
	return strings.Join(r.Lines(), "\n")
}

// LogIDs returns the log identifiers passed to Logger, in order.
func (r *Recorder) LogIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logs...)
}

// Clears returns how many times Clear was called.
func (r *Recorder) Clears() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clears
}
