package steps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/shakenfist/ostrich/pkg/emitter"
	"github.com/shakenfist/ostrich/pkg/engine"
	"github.com/shakenfist/ostrich/pkg/kwargs"
)

// YAMLOp is an edit applied to the node found at a YAML path.
type YAMLOp string

const (
	// YAMLAdd appends a value to a sequence.
	YAMLAdd YAMLOp = "add"
	// YAMLUpdate sets a key in a mapping.
	YAMLUpdate YAMLOp = "update"
	// YAMLDelete removes a sequence index or mapping key.
	YAMLDelete YAMLOp = "delete"
	// YAMLMerge sets every key of a map on a mapping.
	YAMLMerge YAMLOp = "merge"
)

// YAMLEditAction edits a YAML document. Path is a list of mapping keys and
// sequence indices leading to the node being edited.
type YAMLEditAction struct {
	File  string
	Op    YAMLOp
	Path  []any
	Key   any
	Value any
}

// NewYAMLEdit builds a YAML edit step.
func NewYAMLEdit(name, file string, op YAMLOp, path []any, key, value any, kc kwargs.Context) (*engine.Step, error) {
	opts, err := kc.Options()
	if err != nil {
		return nil, err
	}

	switch op {
	case YAMLAdd, YAMLUpdate, YAMLDelete:
	case YAMLMerge:
		if _, ok := value.(map[string]any); !ok {
			return nil, fmt.Errorf("yaml merge needs a mapping value, got %T", value)
		}
	default:
		return nil, fmt.Errorf("unknown yaml operation %q", op)
	}

	action := &YAMLEditAction{
		File:  resolvePath(file, opts.Cwd),
		Op:    op,
		Path:  path,
		Key:   key,
		Value: value,
	}
	return engine.NewStep(name, action, kc)
}

// Execute applies the edit and echoes the resulting document. The outcome
// is always truthy; a path that cannot be followed is an error.
func (a *YAMLEditAction) Execute(ctx context.Context, em emitter.Emitter) (engine.Outcome, error) {
	data, err := os.ReadFile(a.File)
	if err != nil {
		return engine.Failure(), err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return engine.Failure(), fmt.Errorf("failed to parse %s: %w", a.File, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return engine.Failure(), fmt.Errorf("%s is an empty document", a.File)
	}

	target, err := walkYAML(doc.Content[0], a.Path)
	if err != nil {
		return engine.Failure(), err
	}
	if err := a.apply(target); err != nil {
		return engine.Failure(), err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return engine.Failure(), err
	}
	if err := enc.Close(); err != nil {
		return engine.Failure(), err
	}

	em.Emit("YAML after changes:")
	em.Emit(buf.String())

	info, err := os.Stat(a.File)
	if err != nil {
		return engine.Failure(), err
	}
	if err := os.WriteFile(a.File, buf.Bytes(), info.Mode().Perm()); err != nil {
		return engine.Failure(), err
	}
	return engine.Success(), nil
}

func (a *YAMLEditAction) apply(target *yaml.Node) error {
	switch a.Op {
	case YAMLAdd:
		if target.Kind != yaml.SequenceNode {
			return fmt.Errorf("yaml add needs a sequence at %v", a.Path)
		}
		node, err := valueNode(a.Value)
		if err != nil {
			return err
		}
		target.Content = append(target.Content, node)

	case YAMLUpdate:
		if target.Kind != yaml.MappingNode {
			return fmt.Errorf("yaml update needs a mapping at %v", a.Path)
		}
		return setMappingKey(target, fmt.Sprint(a.Key), a.Value)

	case YAMLDelete:
		return deleteChild(target, a.Key)

	case YAMLMerge:
		if target.Kind != yaml.MappingNode {
			return fmt.Errorf("yaml merge needs a mapping at %v", a.Path)
		}
		values := a.Value.(map[string]any)
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := setMappingKey(target, k, values[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

func walkYAML(node *yaml.Node, path []any) (*yaml.Node, error) {
	for i, elem := range path {
		if node.Kind == yaml.AliasNode {
			node = node.Alias
		}

		switch node.Kind {
		case yaml.MappingNode:
			key := fmt.Sprint(elem)
			next := mappingValue(node, key)
			if next == nil {
				return nil, fmt.Errorf("yaml path %v: no key %q at element %d", path, key, i)
			}
			node = next

		case yaml.SequenceNode:
			idx, err := sequenceIndex(elem, len(node.Content))
			if err != nil {
				return nil, fmt.Errorf("yaml path %v: %w", path, err)
			}
			node = node.Content[idx]

		default:
			return nil, fmt.Errorf("yaml path %v: element %d is a scalar", path, i)
		}
	}
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	return node, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// sequenceIndex converts a path element to an index; negative indices
// count from the end.
func sequenceIndex(elem any, length int) (int, error) {
	var idx int
	switch v := elem.(type) {
	case int:
		idx = v
	case int64:
		idx = int(v)
	case float64:
		idx = int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%q is not a sequence index", v)
		}
		idx = n
	default:
		return 0, fmt.Errorf("%v is not a sequence index", elem)
	}

	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		return 0, fmt.Errorf("index %v out of range for sequence of %d", elem, length)
	}
	return idx, nil
}

func setMappingKey(node *yaml.Node, key string, value any) error {
	v, err := valueNode(value)
	if err != nil {
		return err
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			node.Content[i+1] = v
			return nil
		}
	}
	k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	node.Content = append(node.Content, k, v)
	return nil
}

func deleteChild(node *yaml.Node, key any) error {
	switch node.Kind {
	case yaml.SequenceNode:
		idx, err := sequenceIndex(key, len(node.Content))
		if err != nil {
			return err
		}
		node.Content = append(node.Content[:idx], node.Content[idx+1:]...)
		return nil

	case yaml.MappingNode:
		k := fmt.Sprint(key)
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == k {
				node.Content = append(node.Content[:i], node.Content[i+2:]...)
				return nil
			}
		}
		return fmt.Errorf("no key %q to delete", k)
	}
	return fmt.Errorf("cannot delete from a scalar")
}

func valueNode(value any) (*yaml.Node, error) {
	var n yaml.Node
	if err := n.Encode(value); err != nil {
		return nil, fmt.Errorf("failed to encode yaml value: %w", err)
	}
	return &n, nil
}
