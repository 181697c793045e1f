package logs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/shakenfist/ostrich/pkg/telemetry"
)

// Follower streams step logs to a writer as the runner produces them.
// It starts with the newest existing log and switches to each new log as
// it is created, printing a header line before each.
type Follower struct {
	dir     string
	out     io.Writer
	logger  *telemetry.Logger
	current string
	printed int
}

// NewFollower returns a Follower for dir. A nil logger discards output.
func NewFollower(dir string, out io.Writer, logger *telemetry.Logger) *Follower {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Follower{dir: dir, out: out, logger: logger.NewComponentLogger("logs")}
}

// Follow watches the log directory until ctx is done.
func (f *Follower) Follow(ctx context.Context) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(f.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", f.dir, err)
	}

	entries, err := List(f.dir)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		if err := f.update(entries[len(entries)-1].Path); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, _, ok := ParseName(filepath.Base(event.Name)); !ok {
				continue
			}
			if err := f.update(event.Name); err != nil {
				f.logger.WithError(err).Warnf("unable to read %s", event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.WithError(err).Warn("log watcher error")
		}
	}
}

// update prints whatever path has gained since it was last read. Writes to
// an older log than the one being followed are ignored.
func (f *Follower) update(path string) error {
	if path != f.current {
		if f.current != "" && counterOf(path) < counterOf(f.current) {
			return nil
		}
		f.current = path
		f.printed = 0
		id := filepath.Base(path)
		if _, err := fmt.Fprintf(f.out, "==> %s <==\n", id[:len(id)-len(".gz")]); err != nil {
			return err
		}
	}

	data, err := Read(path)
	if err != nil {
		return err
	}
	if len(data) <= f.printed {
		return nil
	}
	if _, err := f.out.Write(data[f.printed:]); err != nil {
		return err
	}
	f.printed = len(data)
	return nil
}

func counterOf(path string) int {
	n, _, _ := ParseName(filepath.Base(path))
	return n
}
