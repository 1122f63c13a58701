package blueprint

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Rules maps a field reference to a condition such as "equals yes".
// A blueprint may name a custom condition instead of a map; that name is kept
// under CustomRule.
type Rules map[string]any

// CustomRule is the Rules key holding a named custom condition.
const CustomRule = ""

// UnmarshalYAML accepts a mapping or a scalar custom condition name.
func (r *Rules) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*r = Rules{CustomRule: node.Value}
		return nil
	case yaml.MappingNode:
		var m map[string]any
		if err := node.Decode(&m); err != nil {
			return err
		}
		*r = Rules(m)
		return nil
	}
	return fmt.Errorf("line %d: conditions must be a map or a name", node.Line)
}

// Conditions are the show/hide rules attached to a field. The form engine
// never interprets them; it hands them to a condition evaluator.
type Conditions struct {
	If          Rules `yaml:"if"`
	IfAny       Rules `yaml:"if_any"`
	Unless      Rules `yaml:"unless"`
	UnlessAny   Rules `yaml:"unless_any"`
	ShowWhen    Rules `yaml:"show_when"`
	ShowWhenAny Rules `yaml:"show_when_any"`
	HideWhen    Rules `yaml:"hide_when"`
	HideWhenAny Rules `yaml:"hide_when_any"`
}

// Empty reports whether no rule is attached.
func (c Conditions) Empty() bool {
	return len(c.If) == 0 && len(c.IfAny) == 0 &&
		len(c.Unless) == 0 && len(c.UnlessAny) == 0 &&
		len(c.ShowWhen) == 0 && len(c.ShowWhenAny) == 0 &&
		len(c.HideWhen) == 0 && len(c.HideWhenAny) == 0
}
