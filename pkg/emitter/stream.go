package emitter

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Separator is written by Stream.Clear between steps.
const Separator = "-----------------------------------------------"

// Stream writes plain lines to a writer, suitable for CI logs and pipes.
type Stream struct {
	mu  sync.Mutex
	out io.Writer
	in  *bufio.Reader
	log *logFile
}

// NewStream creates a stream emitter. Step logs are written under logDir;
// an empty logDir disables them.
func NewStream(out io.Writer, in io.Reader, logDir string) *Stream {
	s := &Stream{out: out, log: newLogFile(logDir)}
	if in != nil {
		s.in = bufio.NewReader(in)
	}
	return s
}

func (s *Stream) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, Separator)
}

func (s *Stream) Logger(id string) error {
	return s.log.open(id)
}

func (s *Stream) Emit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range splitLines(text) {
		fmt.Fprintln(s.out, line)
		s.log.write(line)
	}
}

func (s *Stream) GetStr(prompt string) (string, error) {
	s.mu.Lock()
	fmt.Fprint(s.out, prompt)
	s.mu.Unlock()

	answer, err := readLine(s.in)
	if err != nil {
		return "", err
	}
	s.log.write(Sanitize(prompt + answer))
	return answer, nil
}

func (s *Stream) Close() error {
	return s.log.close()
}

func readLine(in *bufio.Reader) (string, error) {
	if in == nil {
		return "", fmt.Errorf("no input available for prompt")
	}

	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
