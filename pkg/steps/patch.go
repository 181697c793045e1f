package steps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shakenfist/ostrich/pkg/emitter"
	"github.com/shakenfist/ostrich/pkg/engine"
	"github.com/shakenfist/ostrich/pkg/kwargs"
)

// PatchAction applies a unified diff at the filesystem root and archives
// copies of every touched file from before and after the patch.
type PatchAction struct {
	Step        string
	PatchFile   string
	ArchiveRoot string
	Files       []string

	command *CommandAction
	now     func() time.Time
}

// NewPatch builds a step that applies <patchesDir>/<name> with
// "patch -d / -p 1". Exit codes 0 and 1 are both acceptable, since 1 means
// some hunks were already applied.
func NewPatch(name, patchesDir, archiveRoot string, kc kwargs.Context) (*engine.Step, error) {
	patchFile := filepath.Join(patchesDir, name)
	files, err := PatchedFiles(patchFile)
	if err != nil {
		return nil, err
	}

	kc = kc.Merge(map[string]any{
		kwargs.KeyCwd:                 patchesDir,
		kwargs.KeyAcceptableExitCodes: []int{0, 1},
	})
	cmd, err := newCommandAction(fmt.Sprintf("patch -d / -p 1 --verbose < %s", shellQuote(name)), kc)
	if err != nil {
		return nil, err
	}

	action := &PatchAction{
		Step:        name,
		PatchFile:   patchFile,
		ArchiveRoot: archiveRoot,
		Files:       files,
		command:     cmd,
		now:         time.Now,
	}
	return engine.NewStep(name, action, kc)
}

// PatchedFiles lists the absolute paths a -p1 patch will modify, taken from
// its "--- " header lines.
func PatchedFiles(patchFile string) ([]string, error) {
	f, err := os.Open(patchFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open patch: %w", err)
	}
	defer f.Close()

	var files []string
	seen := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "--- ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		_, rest, found := strings.Cut(fields[1], "/")
		if !found {
			continue
		}
		path := "/" + rest
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read patch: %w", err)
	}
	return files, nil
}

func (a *PatchAction) Execute(ctx context.Context, em emitter.Emitter) (engine.Outcome, error) {
	if err := a.archive("before", em); err != nil {
		return engine.Failure(), err
	}
	outcome, err := a.command.Execute(ctx, em)
	if archiveErr := a.archive("after", em); archiveErr != nil && err == nil {
		err = archiveErr
	}
	return outcome, err
}

// archiveDir is the dated directory archived copies are written to.
func (a *PatchAction) archiveDir() string {
	return filepath.Join(a.ArchiveRoot, a.now().Format("20060102"))
}

// archive copies each patched file to the archive. Existing archive copies
// are left alone so the first "before" copy survives retries, and files
// that do not exist yet are skipped.
func (a *PatchAction) archive(phase string, em emitter.Emitter) error {
	if a.ArchiveRoot == "" {
		return nil
	}

	dir := a.archiveDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create patch archive: %w", err)
	}

	for _, path := range a.Files {
		name := fmt.Sprintf("%s-%s-%s", a.Step, strings.ReplaceAll(path, "/", "_"), phase)
		dest := filepath.Join(dir, name)

		if _, err := os.Stat(dest); err == nil {
			continue
		}
		err := copyFile(path, dest)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to archive %s: %w", path, err)
		}
		em.Emit(fmt.Sprintf("... archived %s as %s", path, dest))
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// shellQuote single-quotes s for /bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
