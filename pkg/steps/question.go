package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/shakenfist/ostrich/pkg/emitter"
	"github.com/shakenfist/ostrich/pkg/engine"
	"github.com/shakenfist/ostrich/pkg/kwargs"
)

// QuestionAction asks the operator for a line of input. The answer becomes
// the step outcome, so an empty reply asks again on the next pass.
type QuestionAction struct {
	Title  string
	Help   string
	Prompt string
}

// NewQuestion builds a question step.
func NewQuestion(name, title, help, prompt string, kc kwargs.Context) (*engine.Step, error) {
	return engine.NewStep(name, &QuestionAction{Title: title, Help: help, Prompt: prompt}, kc)
}

func (a *QuestionAction) Execute(ctx context.Context, em emitter.Emitter) (engine.Outcome, error) {
	em.Emit(a.Title)
	em.Emit(strings.Repeat("=", len(a.Title)))
	em.Emit("")
	em.Emit(a.Help)
	em.Emit("")

	prompt := ">> "
	if a.Prompt != "" {
		prompt = fmt.Sprintf("%s >> ", a.Prompt)
	}
	answer, err := em.GetStr(prompt)
	if err != nil {
		return engine.Failure(), err
	}
	return engine.Answer(answer), nil
}
