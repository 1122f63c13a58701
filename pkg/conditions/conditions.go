// Package conditions evaluates Statamic-style show/hide rules against the
// current values of a form.
//
// A rule maps a field reference to a condition: "newsletter": "equals true",
// "age": ">= 18", "country": "not empty". A condition without a leading
// operator is an equality check. References are resolved relative to the
// group or grid row of the field being evaluated first, then from the root;
// "$root.handle" always resolves from the root.
package conditions

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
)

var (
	// ErrUnknownCondition is returned for a named custom condition that was
	// never registered.
	ErrUnknownCondition = errors.New("conditions: unknown custom condition")

	// ErrUnsupportedOperator is returned for an operator the evaluator does not know.
	ErrUnsupportedOperator = errors.New("conditions: unsupported operator")
)

// rootPrefix marks an absolute field reference.
const rootPrefix = "$root."

// CustomFunc is a named custom condition. It receives the field, the full
// value map and the key being evaluated.
type CustomFunc func(field blueprint.Field, values map[string]any, key string) bool

// Evaluator is the default condition evaluator. The zero value is not usable;
// use New.
type Evaluator struct {
	mu     sync.RWMutex
	custom map[string]CustomFunc
}

// New creates an evaluator with no custom conditions.
func New() *Evaluator {
	return &Evaluator{custom: make(map[string]CustomFunc)}
}

// Register adds a named custom condition, replacing any previous one.
func (e *Evaluator) Register(name string, fn CustomFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom[name] = fn
}

// mode describes how one condition key combines its rules.
type mode struct {
	any    bool
	negate bool
}

type ruleSet struct {
	rules blueprint.Rules
	mode  mode
}

// ShowField reports whether field, stored under key, is visible given values.
// When a field carries more than one condition key, the first one in the
// order if, if_any, show_when, show_when_any, unless, unless_any, hide_when,
// hide_when_any decides.
func (e *Evaluator) ShowField(field blueprint.Field, values map[string]any, key string) (bool, error) {
	c := field.Conditions
	sets := []ruleSet{
		{c.If, mode{}},
		{c.IfAny, mode{any: true}},
		{c.ShowWhen, mode{}},
		{c.ShowWhenAny, mode{any: true}},
		{c.Unless, mode{negate: true}},
		{c.UnlessAny, mode{any: true, negate: true}},
		{c.HideWhen, mode{negate: true}},
		{c.HideWhenAny, mode{any: true, negate: true}},
	}

	for _, set := range sets {
		if len(set.rules) == 0 {
			continue
		}
		pass, err := e.evaluate(set.rules, set.mode.any, field, values, key)
		if err != nil {
			return true, err
		}
		if set.mode.negate {
			return !pass, nil
		}
		return pass, nil
	}
	return true, nil
}

func (e *Evaluator) evaluate(rules blueprint.Rules, anyOf bool, field blueprint.Field, values map[string]any, key string) (bool, error) {
	if name, ok := rules[blueprint.CustomRule]; ok && len(rules) == 1 {
		return e.runCustom(fmt.Sprint(name), field, values, key)
	}

	scope := scopeOf(key)
	for ref, raw := range rules {
		cond, err := parseCondition(raw)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", ref, err)
		}
		lhs := lookup(values, scope, ref)
		ok := cond.match(lhs)
		if anyOf && ok {
			return true, nil
		}
		if !anyOf && !ok {
			return false, nil
		}
	}
	return !anyOf, nil
}

func (e *Evaluator) runCustom(name string, field blueprint.Field, values map[string]any, key string) (bool, error) {
	e.mu.RLock()
	fn, ok := e.custom[name]
	e.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownCondition, name)
	}
	return fn(field, values, key), nil
}

// scopeOf returns the key prefix shared by siblings of key: "" for top-level
// fields, "group." for group fields and "grid.3." for grid rows.
func scopeOf(key string) string {
	i := strings.LastIndexByte(key, '.')
	if i < 0 {
		return ""
	}
	return key[:i+1]
}

func lookup(values map[string]any, scope, ref string) any {
	if strings.HasPrefix(ref, rootPrefix) {
		return values[strings.TrimPrefix(ref, rootPrefix)]
	}
	if scope != "" {
		if v, ok := values[scope+ref]; ok {
			return v
		}
	}
	return values[ref]
}
