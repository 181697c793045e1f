package steps

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/shakenfist/ostrich/pkg/emitter"
	"github.com/shakenfist/ostrich/pkg/engine"
	"github.com/shakenfist/ostrich/pkg/kwargs"
)

// RegexpEditAction substitutes a regular expression on every line of a
// file. Replacements use Go syntax, so groups are written $1 or ${name}.
type RegexpEditAction struct {
	Path    string
	Search  *regexp.Regexp
	Replace string
}

// NewRegexpEdit builds a step that edits one file in place.
func NewRegexpEdit(name, path, search, replace string, kc kwargs.Context) (*engine.Step, error) {
	opts, err := kc.Options()
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(search)
	if err != nil {
		return nil, fmt.Errorf("invalid search expression %q: %w", search, err)
	}

	action := &RegexpEditAction{
		Path:    resolvePath(path, opts.Cwd),
		Search:  re,
		Replace: replace,
	}
	return engine.NewStep(name, action, kc)
}

func (a *RegexpEditAction) Execute(ctx context.Context, em emitter.Emitter) (engine.Outcome, error) {
	changed, err := EditFile(a.Path, a.Search, a.Replace, em)
	if err != nil {
		return engine.Failure(), err
	}
	return engine.Describe("Changed %d lines", changed), nil
}

// EditFile applies search/replace to each line of path, writes the result
// back and reports the number of changed lines. A unified style listing of
// the file is emitted with changed lines marked.
func EditFile(path string, search *regexp.Regexp, replace string, em emitter.Emitter) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	content := string(data)
	trailing := strings.HasSuffix(content, "\n")
	content = strings.TrimSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	if content == "" {
		lines = nil
	}

	em.Emit(fmt.Sprintf("--- %s", path))
	em.Emit(fmt.Sprintf("+++ %s", path))

	changed := 0
	for i, line := range lines {
		updated := search.ReplaceAllString(line, replace)
		if updated != line {
			em.Emit(fmt.Sprintf("- %s", line))
			em.Emit(fmt.Sprintf("+ %s", updated))
			lines[i] = updated
			changed++
			continue
		}
		em.Emit(fmt.Sprintf("  %s", line))
	}

	if changed == 0 {
		return 0, nil
	}

	out := strings.Join(lines, "\n")
	if trailing {
		out += "\n"
	}
	if err := os.WriteFile(path, []byte(out), info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return changed, nil
}

// Replacement is one search/replace pair for a bulk edit.
type Replacement struct {
	Search  string `mapstructure:"search" yaml:"search" validate:"required"`
	Replace string `mapstructure:"replace" yaml:"replace"`
}

type compiledReplacement struct {
	search  *regexp.Regexp
	replace string
}

// BulkRegexpEditAction applies replacements to every file under a
// directory whose name matches a filter anchored at the start.
type BulkRegexpEditAction struct {
	Root         string
	Filter       *regexp.Regexp
	Replacements []compiledReplacement
}

// NewBulkRegexpEdit builds a step that edits a directory tree.
func NewBulkRegexpEdit(name, root, filter string, replacements []Replacement, kc kwargs.Context) (*engine.Step, error) {
	opts, err := kc.Options()
	if err != nil {
		return nil, err
	}

	filterRe, err := regexp.Compile("^(?:" + filter + ")")
	if err != nil {
		return nil, fmt.Errorf("invalid file filter %q: %w", filter, err)
	}

	action := &BulkRegexpEditAction{
		Root:   resolvePath(root, opts.Cwd),
		Filter: filterRe,
	}
	for _, r := range replacements {
		re, err := regexp.Compile(r.Search)
		if err != nil {
			return nil, fmt.Errorf("invalid search expression %q: %w", r.Search, err)
		}
		action.Replacements = append(action.Replacements, compiledReplacement{search: re, replace: r.Replace})
	}
	return engine.NewStep(name, action, kc)
}

func (a *BulkRegexpEditAction) Execute(ctx context.Context, em emitter.Emitter) (engine.Outcome, error) {
	var paths []string
	err := filepath.WalkDir(a.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && a.Filter.MatchString(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return engine.Failure(), fmt.Errorf("failed to walk %s: %w", a.Root, err)
	}
	sort.Strings(paths)

	quiet := emitter.NewNoop()
	touched := map[string]bool{}
	for _, path := range paths {
		for _, r := range a.Replacements {
			if err := ctx.Err(); err != nil {
				return engine.Failure(), err
			}
			changed, err := EditFile(path, r.search, r.replace, quiet)
			if err != nil {
				return engine.Failure(), err
			}
			em.Emit(fmt.Sprintf("%s -> Changed %d lines", path, changed))
			if changed > 0 {
				touched[path] = true
			}
		}
	}
	return engine.Describe("Changed %d files", len(touched)), nil
}
