package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Outcome is the result of running a step: either a plain success flag or
// a descriptive string such as an operator's answer. A non-empty string
// counts as success. The zero Outcome is a failure.
type Outcome struct {
	value any
}

// Success is the truthy boolean outcome.
func Success() Outcome { return Outcome{value: true} }

// Failure is the falsy boolean outcome.
func Failure() Outcome { return Outcome{value: false} }

// BoolOutcome wraps a success flag.
func BoolOutcome(ok bool) Outcome { return Outcome{value: ok} }

// Answer records free text, typically an operator's reply.
func Answer(text string) Outcome { return Outcome{value: text} }

// Describe records a formatted summary such as "Changed 3 lines".
func Describe(format string, args ...any) Outcome {
	return Outcome{value: fmt.Sprintf(format, args...)}
}

// Truthy reports whether the outcome marks the step complete.
func (o Outcome) Truthy() bool {
	switch v := o.value.(type) {
	case bool:
		return v
	case string:
		return v != ""
	default:
		return false
	}
}

// Text returns the string value, or "" for boolean outcomes.
func (o Outcome) Text() string {
	if s, ok := o.value.(string); ok {
		return s
	}
	return ""
}

// IsText reports whether the outcome carries a string.
func (o Outcome) IsText() bool {
	_, ok := o.value.(string)
	return ok
}

func (o Outcome) String() string {
	switch v := o.value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case string:
		return strconv.Quote(v)
	default:
		return "false"
	}
}

// MarshalJSON encodes the outcome as a JSON boolean or string.
func (o Outcome) MarshalJSON() ([]byte, error) {
	switch v := o.value.(type) {
	case bool, string:
		return json.Marshal(v)
	default:
		return []byte("false"), nil
	}
}

// UnmarshalJSON accepts a JSON boolean or string.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case bool, string:
		o.value = v
	case nil:
		o.value = false
	default:
		return fmt.Errorf("step outcome must be a boolean or string, got %s", string(data))
	}
	return nil
}
