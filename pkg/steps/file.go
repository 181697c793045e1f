package steps

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shakenfist/ostrich/pkg/emitter"
	"github.com/shakenfist/ostrich/pkg/engine"
	"github.com/shakenfist/ostrich/pkg/kwargs"
)

// FileAppendAction appends text to a file that must already exist.
type FileAppendAction struct {
	Path string
	Text string
}

// FileCreateAction writes a new file and refuses to overwrite one.
type FileCreateAction struct {
	Path string
	Text string
}

// CopyFileAction copies a file, replacing the destination.
type CopyFileAction struct {
	From string
	To   string
}

// NewFileAppend builds a file append step.
func NewFileAppend(name, path, text string, kc kwargs.Context) (*engine.Step, error) {
	opts, err := kc.Options()
	if err != nil {
		return nil, err
	}
	return engine.NewStep(name, &FileAppendAction{Path: resolvePath(path, opts.Cwd), Text: text}, kc)
}

// NewFileCreate builds a file create step.
func NewFileCreate(name, path, text string, kc kwargs.Context) (*engine.Step, error) {
	opts, err := kc.Options()
	if err != nil {
		return nil, err
	}
	return engine.NewStep(name, &FileCreateAction{Path: resolvePath(path, opts.Cwd), Text: text}, kc)
}

// NewCopyFile builds a copy step.
func NewCopyFile(name, from, to string, kc kwargs.Context) (*engine.Step, error) {
	opts, err := kc.Options()
	if err != nil {
		return nil, err
	}
	action := &CopyFileAction{From: resolvePath(from, opts.Cwd), To: resolvePath(to, opts.Cwd)}
	return engine.NewStep(name, action, kc)
}

func (a *FileAppendAction) Execute(ctx context.Context, em emitter.Emitter) (engine.Outcome, error) {
	if _, err := os.Stat(a.Path); errors.Is(err, os.ErrNotExist) {
		em.Emit(fmt.Sprintf("%s does not exist", a.Path))
		return engine.Failure(), nil
	}

	f, err := os.OpenFile(a.Path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return engine.Failure(), err
	}
	if _, err := f.WriteString(a.Text); err != nil {
		f.Close()
		return engine.Failure(), err
	}
	if err := f.Close(); err != nil {
		return engine.Failure(), err
	}

	em.Emit(fmt.Sprintf("Appended %d bytes to %s", len(a.Text), a.Path))
	return engine.Success(), nil
}

func (a *FileCreateAction) Execute(ctx context.Context, em emitter.Emitter) (engine.Outcome, error) {
	f, err := os.OpenFile(a.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		em.Emit(fmt.Sprintf("%s exists", a.Path))
		return engine.Failure(), nil
	}
	if err != nil {
		return engine.Failure(), err
	}
	if _, err := f.WriteString(a.Text); err != nil {
		f.Close()
		return engine.Failure(), err
	}
	if err := f.Close(); err != nil {
		return engine.Failure(), err
	}

	em.Emit(fmt.Sprintf("Created %s", a.Path))
	return engine.Success(), nil
}

func (a *CopyFileAction) Execute(ctx context.Context, em emitter.Emitter) (engine.Outcome, error) {
	if err := copyFile(a.From, a.To); err != nil {
		return engine.Failure(), err
	}
	em.Emit(fmt.Sprintf("Copied %s to %s", a.From, a.To))
	return engine.Success(), nil
}
