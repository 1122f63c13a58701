// Package blueprint describes the fields of a CMS form blueprint.
//
// A Field is a closed variant discriminated by Type. Composite types carry
// their nested fields in Group or Grid; every other type leaves both nil.
package blueprint

// FieldType identifies the kind of blueprint field.
type FieldType string

const (
	TypeText       FieldType = "text"
	TypeTextarea   FieldType = "textarea"
	TypeSelect     FieldType = "select"
	TypeRadio      FieldType = "radio"
	TypeCheckboxes FieldType = "checkboxes"
	TypeToggle     FieldType = "toggle"
	TypeInteger    FieldType = "integer"
	TypeDate       FieldType = "date"
	TypeTime       FieldType = "time"
	TypeAssets     FieldType = "assets"
	TypeFiles      FieldType = "files"
	TypeGroup      FieldType = "group"
	TypeGrid       FieldType = "grid"
	TypeDictionary FieldType = "dictionary"
	TypeSpacer     FieldType = "spacer"
)

var knownTypes = map[FieldType]bool{
	TypeText: true, TypeTextarea: true, TypeSelect: true, TypeRadio: true,
	TypeCheckboxes: true, TypeToggle: true, TypeInteger: true, TypeDate: true,
	TypeTime: true, TypeAssets: true, TypeFiles: true, TypeGroup: true,
	TypeGrid: true, TypeDictionary: true, TypeSpacer: true,
}

// Valid reports whether t is one of the supported field types.
func (t FieldType) Valid() bool {
	return knownTypes[t]
}

// InputHidden is the input_type of fields that are never rendered.
const InputHidden = "hidden"

// Option is one value/label pair of a choice field.
type Option struct {
	Value string `json:"value" msgpack:"value"`
	Label string `json:"label" msgpack:"label"`
}

// Field is a single blueprint field.
type Field struct {
	Handle    string
	Type      FieldType
	InputType string
	Display   string

	// Default is typed per field type: string, bool, int, []any or nil.
	Default any

	Options    []Option
	Conditions Conditions

	// Validate holds the raw validation rules, e.g. "required" or "max:50".
	Validate []string

	// Config keeps the remaining fieldtype settings (max_files, allowed_extensions...).
	Config map[string]any

	Group *GroupConfig
	Grid  *GridConfig
}

// GroupConfig is the payload of a group field.
type GroupConfig struct {
	Fields []Field
}

// GridConfig is the payload of a grid field.
type GridConfig struct {
	Fields []Field

	// MinRows is nil when the blueprint leaves it unset.
	MinRows *int
	// MaxRows is nil for an unbounded grid.
	MaxRows *int
	// FixedRows greater than zero pins the row count.
	FixedRows int

	// DynamicRowsField is the handle of an integer field driving the row count.
	DynamicRowsField string
}

// Floor is the fewest rows the grid may hold: min_rows when set, otherwise 1.
// Every guard that checks row removal must use it.
func (g *GridConfig) Floor() int {
	if g.MinRows != nil {
		return *g.MinRows
	}
	return 1
}

// Ceiling returns max_rows and whether it is set.
func (g *GridConfig) Ceiling() (int, bool) {
	if g.MaxRows == nil {
		return 0, false
	}
	return *g.MaxRows, true
}

// Fixed reports whether the row count is pinned.
func (g *GridConfig) Fixed() bool {
	return g.FixedRows > 0
}

// Clamp bounds n to [Floor, Ceiling].
func (g *GridConfig) Clamp(n int) int {
	if max, ok := g.Ceiling(); ok && n > max {
		n = max
	}
	if floor := g.Floor(); n < floor {
		n = floor
	}
	return n
}

// Hidden reports whether the field is a hidden input.
func (f Field) Hidden() bool {
	return f.InputType == InputHidden
}

// Nested returns the nested fields of a group or grid, or nil.
func (f Field) Nested() []Field {
	switch {
	case f.Group != nil:
		return f.Group.Fields
	case f.Grid != nil:
		return f.Grid.Fields
	}
	return nil
}

// requiredRules are the validation rules that make a field mandatory.
var requiredRules = map[string]bool{
	"required":             true,
	"accepted":             true,
	"required_if":          true,
	"required_unless":      true,
	"required_with":        true,
	"required_with_all":    true,
	"required_without":     true,
	"required_without_all": true,
	"required_array_keys":  true,
	"filled":               true,
	"present":              true,
}

// Optional reports whether none of the field's rules require a value.
func (f Field) Optional() bool {
	for _, rule := range f.Validate {
		name := rule
		for i := 0; i < len(rule); i++ {
			if rule[i] == ':' {
				name = rule[:i]
				break
			}
		}
		if requiredRules[name] {
			return false
		}
	}
	return true
}

// IntConfig reads an integer setting from Config.
func (f Field) IntConfig(key string) (int, bool) {
	switch v := f.Config[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// StringsConfig reads a list-of-strings setting from Config.
func (f Field) StringsConfig(key string) []string {
	switch v := f.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
