package plan

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/shakenfist/ostrich/pkg/kwargs"
)

// Data is what plan templates can see.
type Data struct {
	Answers map[string]string
	Context map[string]any
	Tested  map[string]any
}

func funcs(d Data) template.FuncMap {
	return template.FuncMap{
		"answer": func(name string) string {
			return d.Answers[name]
		},
		"kwarg": func(key string) any {
			return d.Context[key]
		},
		"tested": func(key string) any {
			return d.Tested[key]
		},
		"default": func(def, v any) any {
			if v == nil || v == "" {
				return def
			}
			return v
		},
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"trim":  strings.TrimSpace,
	}
}

// renderString executes s as a template. Strings without actions are
// returned unchanged.
func renderString(s string, d Data) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	tmpl, err := template.New("value").Option("missingkey=zero").Funcs(funcs(d)).Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid template %q: %w", s, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, d); err != nil {
		return "", fmt.Errorf("failed to render %q: %w", s, err)
	}
	return b.String(), nil
}

// renderValue renders every string inside v, descending into maps and
// lists.
func renderValue(v any, d Data) (any, error) {
	switch t := v.(type) {
	case string:
		return renderString(t, d)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			r, err := renderValue(item, d)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			r, err := renderValue(item, d)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

func renderMap(m map[string]any, d Data) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	r, err := renderValue(m, d)
	if err != nil {
		return nil, err
	}
	return r.(map[string]any), nil
}

// truthy interprets a rendered condition. An empty condition is true.
func truthy(cond string, d Data) (bool, error) {
	if strings.TrimSpace(cond) == "" {
		return true, nil
	}
	out, err := renderString(cond, d)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(out)) {
	case "", "false", "no", "off", "0", "<no value>":
		return false, nil
	}
	return true, nil
}

func dataFor(answers map[string]string, kc kwargs.Context, tested map[string]any) Data {
	return Data{Answers: answers, Context: kc.Values, Tested: tested}
}
