package conditions

import (
	"fmt"
	"strconv"
	"strings"
)

type operator string

const (
	opEquals      operator = "equals"
	opNot         operator = "not"
	opStrict      operator = "==="
	opNotStrict   operator = "!=="
	opContains    operator = "contains"
	opContainsAny operator = "contains_any"
	opGreater     operator = ">"
	opGreaterEq   operator = ">="
	opLess        operator = "<"
	opLessEq      operator = "<="
)

// aliases maps every accepted spelling to its operator.
var aliases = map[string]operator{
	"equals":       opEquals,
	"is":           opEquals,
	"==":           opEquals,
	"not":          opNot,
	"isnt":         opNot,
	"¬=":           opNot,
	"!=":           opNot,
	"===":          opStrict,
	"!==":          opNotStrict,
	"contains":     opContains,
	"includes":     opContains,
	"contains_any": opContainsAny,
	"includes_any": opContainsAny,
	">":            opGreater,
	">=":           opGreaterEq,
	"<":            opLess,
	"<=":           opLessEq,
}

type condition struct {
	op  operator
	rhs string
}

func parseCondition(raw any) (condition, error) {
	var text string
	switch v := raw.(type) {
	case nil:
		return condition{op: opEquals, rhs: "null"}, nil
	case string:
		text = strings.TrimSpace(v)
	default:
		return condition{op: opEquals, rhs: fmt.Sprint(v)}, nil
	}

	head, rest, found := strings.Cut(text, " ")
	if op, ok := aliases[strings.ToLower(head)]; ok {
		return condition{op: op, rhs: strings.TrimSpace(rest)}, nil
	}
	if found && strings.ContainsAny(head[:1], "<>=!") {
		return condition{}, fmt.Errorf("%w: %q", ErrUnsupportedOperator, head)
	}
	return condition{op: opEquals, rhs: text}, nil
}

func (c condition) match(lhs any) bool {
	switch c.op {
	case opEquals:
		return looseEquals(lhs, c.rhs)
	case opNot:
		return !looseEquals(lhs, c.rhs)
	case opStrict:
		return strictString(lhs) == c.rhs
	case opNotStrict:
		return strictString(lhs) != c.rhs
	case opContains:
		return contains(lhs, c.rhs)
	case opContainsAny:
		for _, item := range strings.Split(c.rhs, ",") {
			if contains(lhs, strings.TrimSpace(item)) {
				return true
			}
		}
		return false
	case opGreater, opGreaterEq, opLess, opLessEq:
		return compareNumbers(c.op, lhs, c.rhs)
	}
	return false
}

func looseEquals(lhs any, rhs string) bool {
	switch strings.ToLower(rhs) {
	case "empty":
		return isEmpty(lhs)
	case "null":
		return lhs == nil
	case "true", "false":
		want := strings.ToLower(rhs) == "true"
		switch v := lhs.(type) {
		case bool:
			return v == want
		case string:
			return strings.EqualFold(strings.TrimSpace(v), rhs)
		}
		return false
	}
	return normalize(lhs) == strings.ToLower(strings.TrimSpace(rhs))
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case bool:
		return !val
	}
	return false
}

// normalize renders a value for case-insensitive comparison. Lists are
// joined with commas.
func normalize(v any) string {
	switch val := v.(type) {
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = normalize(item)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.ToLower(strings.Join(val, ","))
	}
	return strings.ToLower(strings.TrimSpace(strictString(v)))
}

func strictString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	}
	return fmt.Sprint(v)
}

func contains(lhs any, needle string) bool {
	needle = strings.ToLower(needle)
	switch val := lhs.(type) {
	case []any:
		for _, item := range val {
			if normalize(item) == needle {
				return true
			}
		}
		return false
	case []string:
		for _, item := range val {
			if strings.ToLower(item) == needle {
				return true
			}
		}
		return false
	case nil:
		return false
	}
	return strings.Contains(normalize(lhs), needle)
}

func compareNumbers(op operator, lhs any, rhs string) bool {
	a, ok := toFloat(lhs)
	if !ok {
		return false
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(rhs), 64)
	if err != nil {
		return false
	}
	switch op {
	case opGreater:
		return a > b
	case opGreaterEq:
		return a >= b
	case opLess:
		return a < b
	case opLessEq:
		return a <= b
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
