package kwargs

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Well known context keys.
const (
	KeyCwd                 = "cwd"
	KeyEnv                 = "env"
	KeyAcceptableExitCodes = "acceptable_exit_codes"
	KeyTraceProcesses      = "trace_processes"
	KeyMaxAttempts         = "max_attempts"
	KeyFailingStepDelay    = "failing_step_delay"
)

// Defaults applied when the context does not carry a value.
const (
	DefaultMaxAttempts      = 5
	DefaultFailingStepDelay = 30 * time.Second
)

// Options is the typed view of the keys that steps and the subprocess
// runner understand. Unknown keys are ignored.
type Options struct {
	Cwd                 string            `mapstructure:"cwd"`
	Env                 map[string]string `mapstructure:"env"`
	AcceptableExitCodes []int             `mapstructure:"acceptable_exit_codes"`
	TraceProcesses      bool              `mapstructure:"trace_processes"`
	MaxAttempts         int               `mapstructure:"max_attempts"`
	FailingStepDelay    time.Duration     `mapstructure:"failing_step_delay"`
}

// Options decodes the well known keys of the context.
func (c Context) Options() (Options, error) {
	var opts Options

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			looseBoolHook,
		),
	})
	if err != nil {
		return opts, fmt.Errorf("failed to create options decoder: %w", err)
	}
	if err := decoder.Decode(c.Values); err != nil {
		return opts, fmt.Errorf("failed to decode step options: %w", err)
	}

	if _, ok := c.Get(KeyMaxAttempts); !ok {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if _, ok := c.Get(KeyFailingStepDelay); !ok {
		opts.FailingStepDelay = DefaultFailingStepDelay
	}
	if len(opts.AcceptableExitCodes) == 0 {
		opts.AcceptableExitCodes = []int{0}
	}
	return opts, nil
}

// Acceptable reports whether code is one of the acceptable exit codes.
func (o Options) Acceptable(code int) bool {
	codes := o.AcceptableExitCodes
	if len(codes) == 0 {
		codes = []int{0}
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook accepts plain numbers as seconds, as well as Go
// duration strings such as "1m30s".
func secondsToDurationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}

	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Duration(0), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(f * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return d, nil
	}
	return data, nil
}

// looseBoolHook lets answers such as "yes" or "no" drive boolean options.
func looseBoolHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Bool || from.Kind() != reflect.String {
		return data, nil
	}

	s := strings.ToLower(strings.TrimSpace(data.(string)))
	switch s {
	case "y", "yes", "on":
		return true, nil
	case "", "n", "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean %q", data)
	}
	return b, nil
}
