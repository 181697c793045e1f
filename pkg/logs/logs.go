// Package logs reads the per-execution step logs written by the emitters.
// Each log is <counter>-<step>.gz in the log directory.
package logs

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

var nameRe = regexp.MustCompile(`^(\d{6,})-(.+)\.gz$`)

// Entry describes one step log.
type Entry struct {
	ID      string
	Counter int
	Step    string
	Path    string
	Size    int64
	ModTime time.Time
}

// ParseName splits a log file name into counter and step. ok is false for
// files that are not step logs.
func ParseName(name string) (counter int, step string, ok bool) {
	m := nameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return n, m[2], true
}

// List returns the step logs in dir ordered by counter. A missing
// directory has no logs.
func List(dir string) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	var entries []Entry
	for _, d := range dirents {
		if !d.Type().IsRegular() {
			continue
		}
		counter, step, ok := ParseName(d.Name())
		if !ok {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			ID:      d.Name()[:len(d.Name())-len(".gz")],
			Counter: counter,
			Step:    step,
			Path:    filepath.Join(dir, d.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Counter < entries[j].Counter
	})
	return entries, nil
}

// Find resolves ref to a log. ref may be a full log id, an execution
// counter, or a step name; a step name picks its most recent execution.
func Find(dir, ref string) (Entry, error) {
	entries, err := List(dir)
	if err != nil {
		return Entry{}, err
	}

	counter, numErr := strconv.Atoi(ref)
	var found *Entry
	for i := range entries {
		e := &entries[i]
		switch {
		case e.ID == ref:
			return *e, nil
		case numErr == nil && e.Counter == counter:
			return *e, nil
		case e.Step == ref:
			found = e
		}
	}
	if found == nil {
		return Entry{}, fmt.Errorf("no log matches %q", ref)
	}
	return *found, nil
}

// Read returns the decompressed content of a log. A log that is still being
// written ends in a partial gzip member; everything flushed so far is
// returned without error.
func Read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	_, err = io.Copy(&buf, zr)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return buf.Bytes(), fmt.Errorf("failed to read %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// Copy writes the decompressed content of a log to w.
func Copy(w io.Writer, path string) error {
	data, err := Read(path)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
