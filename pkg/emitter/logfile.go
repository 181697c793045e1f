package emitter

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimestampFormat prefixes every line written to a step log.
const TimestampFormat = "2006-01-02 15:04:05.000000"

// logFile appends timestamped lines to a gzip compressed step log. Each
// line is flushed so the log can be read while the step is running.
type logFile struct {
	mu   sync.Mutex
	dir  string
	now  func() time.Time
	file *os.File
	gz   *gzip.Writer
}

func newLogFile(dir string) *logFile {
	return &logFile{dir: dir, now: time.Now}
}

// open closes any current log and opens <dir>/<id>.gz for appending.
func (l *logFile) open(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.closeLocked(); err != nil {
		return err
	}
	if l.dir == "" {
		return nil
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(l.dir, id+".gz")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open step log %s: %w", path, err)
	}

	l.file = f
	l.gz = gzip.NewWriter(f)
	return nil
}

// write appends one timestamped line.
func (l *logFile) write(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gz == nil {
		return
	}
	fmt.Fprintf(l.gz, "%s %s\n", l.now().Format(TimestampFormat), line)
	_ = l.gz.Flush()
}

func (l *logFile) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *logFile) closeLocked() error {
	if l.gz == nil {
		return nil
	}

	gzErr := l.gz.Close()
	fileErr := l.file.Close()
	l.gz = nil
	l.file = nil

	if gzErr != nil {
		return fmt.Errorf("failed to finish step log: %w", gzErr)
	}
	return fileErr
}
