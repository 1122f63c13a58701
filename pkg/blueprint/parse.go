package blueprint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse errors.
var (
	ErrNoFields        = errors.New("blueprint has no fields")
	ErrMissingHandle   = errors.New("field is missing a handle")
	ErrDuplicateHandle = errors.New("duplicate field handle")
	ErrUnknownType     = errors.New("unknown field type")
)

// Blueprint is an ordered list of sections. Each section is one wizard step.
type Blueprint struct {
	Handle   string
	Title    string
	Sections []Section
}

// Section groups consecutive top-level fields.
type Section struct {
	Display string
	Fields  []Field
}

// Fields returns every top-level field across sections, in order.
func (b *Blueprint) Fields() []Field {
	var out []Field
	for _, s := range b.Sections {
		out = append(out, s.Fields...)
	}
	return out
}

// Raw YAML structures for unmarshaling.

type rawBlueprint struct {
	Title    string          `yaml:"title"`
	Tabs     yaml.Node       `yaml:"tabs"`
	Sections []rawSection    `yaml:"sections"`
	Fields   []rawFieldEntry `yaml:"fields"`
}

type rawTab struct {
	Display  string       `yaml:"display"`
	Sections []rawSection `yaml:"sections"`
}

type rawSection struct {
	Display string          `yaml:"display"`
	Fields  []rawFieldEntry `yaml:"fields"`
}

type rawFieldEntry struct {
	Handle string    `yaml:"handle"`
	Field  yaml.Node `yaml:"field"`
}

type rawField struct {
	Type             string          `yaml:"type"`
	InputType        string          `yaml:"input_type"`
	Display          string          `yaml:"display"`
	Default          any             `yaml:"default"`
	Options          rawOptions      `yaml:"options"`
	Validate         rawRules        `yaml:"validate"`
	Fields           []rawFieldEntry `yaml:"fields"`
	MinRows          *int            `yaml:"min_rows"`
	MaxRows          *int            `yaml:"max_rows"`
	FixedRows        int             `yaml:"fixed_rows"`
	DynamicRowsField string          `yaml:"dynamic_rows_field"`
	Conditions       `yaml:",inline"`
}

// rawOptions keeps option order for both the map and list spellings.
type rawOptions []Option

func (o *rawOptions) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			label := val.Value
			if label == "" || val.Tag == "!!null" {
				label = key.Value
			}
			*o = append(*o, Option{Value: key.Value, Label: label})
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				*o = append(*o, Option{Value: item.Value, Label: item.Value})
			case yaml.MappingNode:
				var kv struct {
					Key   string `yaml:"key"`
					Value string `yaml:"value"`
					Label string `yaml:"label"`
				}
				if err := item.Decode(&kv); err != nil {
					return err
				}
				opt := Option{Value: kv.Key, Label: kv.Label}
				if opt.Value == "" {
					opt.Value = kv.Value
				} else if opt.Label == "" {
					opt.Label = kv.Value
				}
				if opt.Label == "" {
					opt.Label = opt.Value
				}
				*o = append(*o, opt)
			}
		}
	default:
		return fmt.Errorf("line %d: options must be a map or a list", node.Line)
	}
	return nil
}

// rawRules accepts "required|email" or a list of rules.
type rawRules []string

func (r *rawRules) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		for _, rule := range strings.Split(node.Value, "|") {
			if rule = strings.TrimSpace(rule); rule != "" {
				*r = append(*r, rule)
			}
		}
		return nil
	case yaml.SequenceNode:
		var rules []string
		if err := node.Decode(&rules); err != nil {
			return err
		}
		*r = rules
		return nil
	}
	return fmt.Errorf("line %d: validate must be a string or a list", node.Line)
}

// structural keys are decoded into typed Field members, not Config.
var structuralKeys = map[string]bool{
	"type": true, "input_type": true, "display": true, "default": true,
	"options": true, "validate": true, "fields": true, "min_rows": true,
	"max_rows": true, "fixed_rows": true, "dynamic_rows_field": true,
	"if": true, "if_any": true, "unless": true, "unless_any": true,
	"show_when": true, "show_when_any": true, "hide_when": true, "hide_when_any": true,
}

// LoadFile parses a blueprint YAML file. The handle is the file name without
// its extension.
func LoadFile(path string) (*Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	bp, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	bp.Handle = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return bp, nil
}

// Parse parses blueprint YAML bytes. Fields may be declared under tabs,
// a sections list or a flat fields list.
func Parse(data []byte) (*Blueprint, error) {
	var raw rawBlueprint
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}

	bp := &Blueprint{Title: raw.Title}

	sections, err := raw.sections()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, rs := range sections {
		section := Section{Display: rs.Display}
		for _, entry := range rs.Fields {
			field, err := convertField(entry)
			if err != nil {
				return nil, err
			}
			if seen[field.Handle] {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateHandle, field.Handle)
			}
			seen[field.Handle] = true
			section.Fields = append(section.Fields, field)
		}
		if len(section.Fields) > 0 {
			bp.Sections = append(bp.Sections, section)
		}
	}

	if len(bp.Sections) == 0 {
		return nil, ErrNoFields
	}
	return bp, nil
}

func (r *rawBlueprint) sections() ([]rawSection, error) {
	var out []rawSection

	// Tabs are a mapping; walk the node to keep declaration order.
	if r.Tabs.Kind == yaml.MappingNode {
		for i := 1; i < len(r.Tabs.Content); i += 2 {
			var tab rawTab
			if err := r.Tabs.Content[i].Decode(&tab); err != nil {
				return nil, fmt.Errorf("tab %s: %w", r.Tabs.Content[i-1].Value, err)
			}
			out = append(out, tab.Sections...)
		}
	}

	out = append(out, r.Sections...)
	if len(r.Fields) > 0 {
		out = append(out, rawSection{Fields: r.Fields})
	}
	return out, nil
}

func convertField(entry rawFieldEntry) (Field, error) {
	if entry.Handle == "" {
		return Field{}, ErrMissingHandle
	}

	var rf rawField
	var all map[string]any
	if entry.Field.Kind != 0 {
		if err := entry.Field.Decode(&rf); err != nil {
			return Field{}, fmt.Errorf("field %s: %w", entry.Handle, err)
		}
		if err := entry.Field.Decode(&all); err != nil {
			return Field{}, fmt.Errorf("field %s: %w", entry.Handle, err)
		}
	}

	if rf.Type == "" {
		rf.Type = string(TypeText)
	}
	field := Field{
		Handle:     entry.Handle,
		Type:       FieldType(rf.Type),
		InputType:  rf.InputType,
		Display:    rf.Display,
		Default:    rf.Default,
		Options:    []Option(rf.Options),
		Validate:   []string(rf.Validate),
		Conditions: rf.Conditions,
	}
	if !field.Type.Valid() {
		return Field{}, fmt.Errorf("%w %q on field %s", ErrUnknownType, rf.Type, entry.Handle)
	}

	for k, v := range all {
		if structuralKeys[k] {
			continue
		}
		if field.Config == nil {
			field.Config = make(map[string]any)
		}
		field.Config[k] = v
	}

	nested := make([]Field, 0, len(rf.Fields))
	seen := make(map[string]bool)
	for _, child := range rf.Fields {
		nf, err := convertField(child)
		if err != nil {
			return Field{}, fmt.Errorf("%s: %w", entry.Handle, err)
		}
		if nf.Type == TypeGroup || nf.Type == TypeGrid {
			// Blueprint nesting is one level deep.
			return Field{}, fmt.Errorf("%s.%s: nested %s fields are not supported", entry.Handle, nf.Handle, nf.Type)
		}
		if seen[nf.Handle] {
			return Field{}, fmt.Errorf("%w: %s.%s", ErrDuplicateHandle, entry.Handle, nf.Handle)
		}
		seen[nf.Handle] = true
		nested = append(nested, nf)
	}

	switch field.Type {
	case TypeGroup:
		field.Group = &GroupConfig{Fields: nested}
	case TypeGrid:
		field.Grid = &GridConfig{
			Fields:           nested,
			MinRows:          rf.MinRows,
			MaxRows:          rf.MaxRows,
			FixedRows:        rf.FixedRows,
			DynamicRowsField: rf.DynamicRowsField,
		}
	}

	return field, nil
}
