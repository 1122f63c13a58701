package forms

import (
	"math"
	"sort"
	"strings"

	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
)

// Registry is a flat lookup of every field in a blueprint. Top-level fields
// are keyed by handle, group children by "group.nested" and grid children by
// "grid.__template__.nested".
type Registry struct {
	entries map[string]blueprint.Field
	top     []blueprint.Field
	pos     map[string]int
}

// BuildRegistry walks the field list once. Nesting is one level deep.
func BuildRegistry(fields []blueprint.Field) *Registry {
	r := &Registry{
		entries: make(map[string]blueprint.Field),
		top:     fields,
		pos:     make(map[string]int, len(fields)),
	}

	for i, f := range fields {
		r.entries[f.Handle] = f
		r.pos[f.Handle] = i

		switch {
		case f.Group != nil:
			for _, n := range f.Group.Fields {
				r.entries[GroupKey(f.Handle, n.Handle)] = n
			}
		case f.Grid != nil:
			for _, n := range f.Grid.Fields {
				r.entries[TemplateKey(f.Handle, n.Handle)] = n
			}
		}
	}
	return r
}

// Lookup returns the field registered under key. It does not fall back to
// template keys; see Resolve.
func (r *Registry) Lookup(key string) (blueprint.Field, bool) {
	f, ok := r.entries[key]
	return f, ok
}

// Resolve looks key up, retrying an indexed grid key with its template key.
func (r *Registry) Resolve(key string) (blueprint.Field, bool) {
	if f, ok := r.entries[key]; ok {
		return f, true
	}
	if tk, ok := templateFor(key); ok {
		return r.Lookup(tk)
	}
	return blueprint.Field{}, false
}

// Top returns the top-level fields in blueprint order.
func (r *Registry) Top() []blueprint.Field {
	return r.top
}

// Grid returns the configuration of a top-level grid field.
func (r *Registry) Grid(handle string) (blueprint.Field, bool) {
	i, ok := r.pos[handle]
	if !ok || r.top[i].Grid == nil {
		return blueprint.Field{}, false
	}
	return r.top[i], true
}

// ControlledGrids returns the grids whose row count follows handle.
func (r *Registry) ControlledGrids(handle string) []string {
	var out []string
	for _, f := range r.top {
		if f.Grid != nil && f.Grid.DynamicRowsField != "" && f.Grid.DynamicRowsField == handle {
			out = append(out, f.Handle)
		}
	}
	return out
}

type rank struct {
	top, row, nested int
}

// rankOf orders keys by blueprint position: top-level field, then row, then
// nested field. Unknown keys sort last.
func (r *Registry) rankOf(key string) rank {
	unknown := rank{math.MaxInt, 0, 0}

	parts := strings.Split(key, ".")
	i, ok := r.pos[parts[0]]
	if !ok {
		return unknown
	}
	f := r.top[i]

	nestedIndex := func(handle string) int {
		for j, n := range f.Nested() {
			if n.Handle == handle {
				return j
			}
		}
		return math.MaxInt
	}

	switch len(parts) {
	case 1:
		return rank{i, -1, -1}
	case 2:
		return rank{i, -1, nestedIndex(parts[1])}
	case 3:
		if _, row, nested, ok := ParseRowKey(key); ok {
			return rank{i, row, nestedIndex(nested)}
		}
	}
	return unknown
}

// SortKeys orders keys by blueprint position.
func (r *Registry) SortKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.SliceStable(out, func(a, b int) bool {
		ra, rb := r.rankOf(out[a]), r.rankOf(out[b])
		if ra != rb {
			if ra.top != rb.top {
				return ra.top < rb.top
			}
			if ra.row != rb.row {
				return ra.row < rb.row
			}
			return ra.nested < rb.nested
		}
		return out[a] < out[b]
	})
	return out
}
