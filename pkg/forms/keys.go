package forms

import (
	"strconv"
	"strings"
)

// TemplateMarker replaces the row index in registry keys of grid sub-fields.
const TemplateMarker = "__template__"

const gridCountPrefix = "_grid_count_"

// GroupKey is the value-map key of a field nested in a group.
func GroupKey(group, nested string) string {
	return group + "." + nested
}

// RowKey is the value-map key of a grid sub-field in row i.
func RowKey(grid string, row int, nested string) string {
	return grid + "." + strconv.Itoa(row) + "." + nested
}

// TemplateKey is the registry key of a grid sub-field, independent of row.
func TemplateKey(grid, nested string) string {
	return grid + "." + TemplateMarker + "." + nested
}

// CountKey is the key of a grid's row-count sentinel. It is internal state
// and never sent to the server.
func CountKey(grid string) string {
	return gridCountPrefix + grid
}

// IsCountKey reports whether key is a row-count sentinel.
func IsCountKey(key string) bool {
	return strings.HasPrefix(key, gridCountPrefix)
}

// ParseRowKey splits "grid.3.nested" into its parts.
func ParseRowKey(key string) (grid string, row int, nested string, ok bool) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", 0, "", false
	}
	row, err := strconv.Atoi(parts[1])
	if err != nil || row < 0 || parts[1] != strconv.Itoa(row) {
		return "", 0, "", false
	}
	return parts[0], row, parts[2], true
}

// templateFor maps an indexed grid key to its template key.
func templateFor(key string) (string, bool) {
	grid, _, nested, ok := ParseRowKey(key)
	if !ok {
		return "", false
	}
	return TemplateKey(grid, nested), true
}

// InputName converts a dotted value-map key to the bracketed input name the
// CMS expects: "grid.0.name" becomes "grid[0][name]".
func InputName(key string) string {
	parts := strings.Split(key, ".")
	if len(parts) == 1 {
		return key
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		b.WriteByte('[')
		b.WriteString(p)
		b.WriteByte(']')
	}
	return b.String()
}
