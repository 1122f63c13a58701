package forms

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
	"github.com/gabrielmiguelok/easyforms/pkg/events"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
)

// GridRowCount returns the current row count of a grid, or 0 for an unknown handle.
func (s *State) GridRowCount(handle string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, _ := toInt(s.values[CountKey(handle)])
	return n
}

// CanAddGridRow reports whether AddGridRow would append a row.
func (s *State) CanAddGridRow(handle string) bool {
	grid, ok := s.registry.Grid(handle)
	if !ok || grid.Grid.Fixed() {
		return false
	}
	max, bounded := grid.Grid.Ceiling()
	return !bounded || s.GridRowCount(handle) < max
}

// CanRemoveGridRow reports whether RemoveGridRow would remove a row.
func (s *State) CanRemoveGridRow(handle string) bool {
	grid, ok := s.registry.Grid(handle)
	if !ok || grid.Grid.Fixed() {
		return false
	}
	return s.GridRowCount(handle) > grid.Grid.Floor()
}

// AddGridRow appends a row of default values. It returns false when the grid
// is unknown, fixed or full.
func (s *State) AddGridRow(handle string) bool {
	grid, ok := s.registry.Grid(handle)
	if !ok {
		return false
	}

	var fx effects
	s.mu.Lock()
	count, _ := toInt(s.values[CountKey(handle)])
	max, bounded := grid.Grid.Ceiling()
	if grid.Grid.Fixed() || (bounded && count >= max) {
		s.mu.Unlock()
		return false
	}
	s.writeRowLocked(grid, count)
	s.values[CountKey(handle)] = count + 1
	fx.rows = append(fx.rows, s.rowsChangeLocked(grid, events.RowAdded, count))
	s.mu.Unlock()

	s.logger.Debug("grid row added", logging.Grid(handle), logging.Int("row", count))
	s.emit(fx)
	s.changes.Trigger()
	return true
}

// RemoveGridRow deletes row index and shifts every later row down by one. It
// returns false when the grid is unknown, at its floor, or index is out of range.
func (s *State) RemoveGridRow(handle string, index int) bool {
	grid, ok := s.registry.Grid(handle)
	if !ok {
		return false
	}

	var fx effects
	s.mu.Lock()
	count, _ := toInt(s.values[CountKey(handle)])
	if grid.Grid.Fixed() || count <= grid.Grid.Floor() || index < 0 || index >= count {
		s.mu.Unlock()
		return false
	}
	s.removeRowLocked(grid, index, count, &fx)
	fx.rows = append(fx.rows, s.rowsChangeLocked(grid, events.RowsRebuilt, index))
	s.mu.Unlock()

	s.logger.Debug("grid row removed", logging.Grid(handle), logging.Int("row", index))
	s.emit(fx)
	s.changes.Trigger()
	return true
}

// SetGridRowCount resizes a grid to n clamped to its bounds, appending default
// rows or trimming from the tail. Fixed grids are left alone.
func (s *State) SetGridRowCount(handle string, n int) bool {
	grid, ok := s.registry.Grid(handle)
	if !ok {
		return false
	}

	var fx effects
	s.mu.Lock()
	changed := s.resizeLocked(handle, n, &fx)
	s.mu.Unlock()

	if !changed {
		return false
	}
	s.logger.Debug("grid resized", logging.Grid(grid.Handle), logging.Int("rows", s.GridRowCount(handle)))
	s.emit(fx)
	s.changes.Trigger()
	return true
}

// RestoreRowCounts resizes every non-fixed grid to the row count recorded
// under its count key in data, as a snapshot from Values carries it. Rows are
// clamped to the grid bounds and filled with defaults, ready for
// LoadPrepopulatedData. It returns the number of grids resized.
func (s *State) RestoreRowCounts(data map[string]any) int {
	var fx effects
	resized := 0

	s.mu.Lock()
	for _, f := range s.registry.Top() {
		if f.Grid == nil {
			continue
		}
		n, ok := toInt(data[CountKey(f.Handle)])
		if !ok {
			continue
		}
		if s.resizeLocked(f.Handle, n, &fx) {
			resized++
		}
	}
	s.mu.Unlock()

	if resized > 0 {
		s.emit(fx)
		s.changes.Trigger()
	}
	return resized
}

// Rows returns the data of every row of a grid, keyed by nested handle.
func (s *State) Rows(handle string) []map[string]any {
	grid, ok := s.registry.Grid(handle)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rowsLocked(grid)
}

func (s *State) resizeLocked(handle string, n int, fx *effects) bool {
	grid, ok := s.registry.Grid(handle)
	if !ok || grid.Grid.Fixed() {
		return false
	}

	count, _ := toInt(s.values[CountKey(handle)])
	target := grid.Grid.Clamp(n)
	if target == count {
		return false
	}

	for i := count; i < target; i++ {
		s.writeRowLocked(grid, i)
	}
	// Trailing rows go highest first, with no renumbering.
	for i := count - 1; i >= target; i-- {
		s.deleteRowLocked(grid, i)
		fx.removed = append(fx.removed, events.RowRemoved{Handle: handle, RemovedIndex: i})
	}
	s.values[CountKey(handle)] = target
	fx.rows = append(fx.rows, s.rowsChangeLocked(grid, events.RowsRebuilt, target))
	return true
}

func (s *State) writeRowLocked(grid blueprint.Field, row int) {
	for _, n := range grid.Grid.Fields {
		s.values[RowKey(grid.Handle, row, n.Handle)] = s.resolver.Resolve(n)
	}
}

func (s *State) deleteRowLocked(grid blueprint.Field, row int) {
	prefix := grid.Handle + "." + strconv.Itoa(row) + "."
	for key := range s.values {
		if strings.HasPrefix(key, prefix) {
			delete(s.values, key)
		}
	}
}

func (s *State) removeRowLocked(grid blueprint.Field, index, count int, fx *effects) {
	s.deleteRowLocked(grid, index)

	for i := index + 1; i < count; i++ {
		prefix := grid.Handle + "." + strconv.Itoa(i) + "."
		moved := make(map[string]any)
		for key, v := range s.values {
			if strings.HasPrefix(key, prefix) {
				moved[strings.TrimPrefix(key, prefix)] = v
				delete(s.values, key)
			}
		}
		for nested, v := range moved {
			s.values[RowKey(grid.Handle, i-1, nested)] = v
		}
	}

	s.values[CountKey(grid.Handle)] = count - 1
	fx.removed = append(fx.removed, events.RowRemoved{Handle: grid.Handle, RemovedIndex: index})
}

func (s *State) rowsLocked(grid blueprint.Field) []map[string]any {
	count, _ := toInt(s.values[CountKey(grid.Handle)])
	rows := make([]map[string]any, count)
	for i := range rows {
		row := make(map[string]any, len(grid.Grid.Fields))
		for _, n := range grid.Grid.Fields {
			if v, ok := s.values[RowKey(grid.Handle, i, n.Handle)]; ok {
				row[n.Handle] = cloneValue(v)
			}
		}
		rows[i] = row
	}
	return rows
}

func (s *State) rowsChangeLocked(grid blueprint.Field, kind events.RowsKind, index int) events.RowsChange {
	return events.RowsChange{
		Handle: grid.Handle,
		Kind:   kind,
		Index:  index,
		Rows:   s.rowsLocked(grid),
	}
}

// toInt reads a row count from the loosely typed values a form holds.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}
