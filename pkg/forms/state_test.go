package forms

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
	"github.com/gabrielmiguelok/easyforms/pkg/debounce"
	"github.com/gabrielmiguelok/easyforms/pkg/events"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
)

func intPtr(n int) *int { return &n }

func passengersGrid(min, max *int) blueprint.Field {
	return blueprint.Field{
		Handle: "passengers",
		Type:   blueprint.TypeGrid,
		Grid: &blueprint.GridConfig{
			Fields: []blueprint.Field{
				{Handle: "name", Type: blueprint.TypeText},
				{Handle: "vegan", Type: blueprint.TypeToggle},
			},
			MinRows: min,
			MaxRows: max,
		},
	}
}

func newTestState(t *testing.T, fields []blueprint.Field, opts ...Option) (*State, *debounce.FakeClock) {
	t.Helper()
	clock := debounce.NewFakeClock()
	opts = append([]Option{WithClock(clock), WithLogger(logging.NopLogger{})}, opts...)
	s := NewState(fields, opts...)
	t.Cleanup(s.Close)
	return s, clock
}

// assertDense checks that the grid's keys cover rows 0..count-1 exactly.
func assertDense(t *testing.T, s *State, grid blueprint.Field) {
	t.Helper()
	count := s.GridRowCount(grid.Handle)
	values := s.Values()

	seen := 0
	for key := range values {
		if !strings.HasPrefix(key, grid.Handle+".") {
			continue
		}
		_, row, _, ok := ParseRowKey(key)
		require.True(t, ok, "malformed grid key %q", key)
		assert.Less(t, row, count, "key %q beyond row count", key)
		seen++
	}
	assert.Equal(t, count*len(grid.Grid.Fields), seen)
	for i := 0; i < count; i++ {
		for _, n := range grid.Grid.Fields {
			assert.Contains(t, values, RowKey(grid.Handle, i, n.Handle))
		}
	}
}

func TestNewState_Scalars(t *testing.T) {
	s, _ := newTestState(t, []blueprint.Field{
		{Handle: "email", Type: blueprint.TypeText, Default: ""},
		{Handle: "topics", Type: blueprint.TypeCheckboxes},
		{Handle: "newsletter", Type: blueprint.TypeToggle},
		{Handle: "cv", Type: blueprint.TypeAssets},
		{Handle: "country", Type: blueprint.TypeSelect, Default: "es"},
	})

	values := s.Values()
	assert.Equal(t, "", values["email"])
	assert.Equal(t, []any{}, values["topics"])
	assert.Equal(t, false, values["newsletter"])
	assert.Nil(t, values["cv"])
	assert.Contains(t, values, "cv")
	assert.Equal(t, "es", values["country"])
}

func TestNewState_Group(t *testing.T) {
	s, _ := newTestState(t, []blueprint.Field{{
		Handle: "address",
		Type:   blueprint.TypeGroup,
		Group: &blueprint.GroupConfig{Fields: []blueprint.Field{
			{Handle: "street", Type: blueprint.TypeText},
			{Handle: "city", Type: blueprint.TypeText, Default: "Madrid"},
		}},
	}})

	values := s.Values()
	assert.Equal(t, "", values["address.street"])
	assert.Equal(t, "Madrid", values["address.city"])
	assert.NotContains(t, values, "address")
}

func TestNewState_InitialRows(t *testing.T) {
	tests := []struct {
		name string
		grid blueprint.GridConfig
		want int
	}{
		{name: "default one row", want: 1},
		{name: "min rows", grid: blueprint.GridConfig{MinRows: intPtr(2)}, want: 2},
		{name: "min rows zero still renders one", grid: blueprint.GridConfig{MinRows: intPtr(0)}, want: 1},
		{name: "fixed rows", grid: blueprint.GridConfig{FixedRows: 4, MinRows: intPtr(1)}, want: 4},
		{name: "min clamped to max", grid: blueprint.GridConfig{MinRows: intPtr(5), MaxRows: intPtr(3)}, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.grid
			cfg.Fields = []blueprint.Field{{Handle: "name", Type: blueprint.TypeText}}
			grid := blueprint.Field{Handle: "rows", Type: blueprint.TypeGrid, Grid: &cfg}

			s, _ := newTestState(t, []blueprint.Field{grid})
			assert.Equal(t, tt.want, s.GridRowCount("rows"))
			assertDense(t, s, grid)
		})
	}
}

func TestNewState_DynamicRowsFromController(t *testing.T) {
	grid := blueprint.Field{
		Handle: "guests",
		Type:   blueprint.TypeGrid,
		Grid: &blueprint.GridConfig{
			Fields:           []blueprint.Field{{Handle: "name", Type: blueprint.TypeText}},
			MaxRows:          intPtr(4),
			DynamicRowsField: "guest_count",
		},
	}
	s, _ := newTestState(t, []blueprint.Field{
		grid,
		{Handle: "guest_count", Type: blueprint.TypeInteger, Default: 9},
	})

	assert.Equal(t, 4, s.GridRowCount("guests"), "controller value is clamped to max_rows")
	assertDense(t, s, grid)
}

// Passengers grid with min 1, max 3.
func TestGrid_AddUpToMax(t *testing.T) {
	grid := passengersGrid(intPtr(1), intPtr(3))
	s, _ := newTestState(t, []blueprint.Field{grid})

	values := s.Values()
	assert.Contains(t, values, "passengers.0.name")
	assert.Equal(t, 1, values[CountKey("passengers")])

	assert.True(t, s.AddGridRow("passengers"))
	assert.True(t, s.AddGridRow("passengers"))
	assert.Equal(t, 3, s.GridRowCount("passengers"))
	assert.False(t, s.CanAddGridRow("passengers"))

	assert.False(t, s.AddGridRow("passengers"))
	assert.Equal(t, 3, s.GridRowCount("passengers"))
	assertDense(t, s, grid)
}

func TestGrid_RemoveReindexes(t *testing.T) {
	grid := passengersGrid(nil, nil)
	s, _ := newTestState(t, []blueprint.Field{grid})
	require.True(t, s.AddGridRow("passengers"))
	require.True(t, s.AddGridRow("passengers"))

	s.SetValue("passengers.0.name", "A")
	s.SetValue("passengers.1.name", "B")
	s.SetValue("passengers.2.name", "C")
	s.SetValue("passengers.2.vegan", true)

	var removed []events.RowRemoved
	s.OnRowRemoved(func(r events.RowRemoved) { removed = append(removed, r) })

	require.True(t, s.RemoveGridRow("passengers", 1))

	values := s.Values()
	assert.Equal(t, "A", values["passengers.0.name"])
	assert.Equal(t, "C", values["passengers.1.name"])
	assert.Equal(t, true, values["passengers.1.vegan"])
	assert.NotContains(t, values, "passengers.2.name")
	assert.NotContains(t, values, "passengers.2.vegan")
	assert.Equal(t, 2, s.GridRowCount("passengers"))
	assert.Equal(t, []events.RowRemoved{{Handle: "passengers", RemovedIndex: 1}}, removed)
	assertDense(t, s, grid)
}

func TestGrid_RemoveRespectsFloor(t *testing.T) {
	t.Run("unset min defaults to one", func(t *testing.T) {
		s, _ := newTestState(t, []blueprint.Field{passengersGrid(nil, nil)})
		assert.False(t, s.CanRemoveGridRow("passengers"))
		assert.False(t, s.RemoveGridRow("passengers", 0))
		assert.Equal(t, 1, s.GridRowCount("passengers"))
	})

	t.Run("explicit min", func(t *testing.T) {
		s, _ := newTestState(t, []blueprint.Field{passengersGrid(intPtr(2), nil)})
		require.True(t, s.AddGridRow("passengers"))
		assert.True(t, s.RemoveGridRow("passengers", 0))
		assert.False(t, s.RemoveGridRow("passengers", 0))
		assert.Equal(t, 2, s.GridRowCount("passengers"))
	})

	t.Run("out of range", func(t *testing.T) {
		s, _ := newTestState(t, []blueprint.Field{passengersGrid(nil, nil)})
		require.True(t, s.AddGridRow("passengers"))
		assert.False(t, s.RemoveGridRow("passengers", 5))
		assert.False(t, s.RemoveGridRow("passengers", -1))
	})
}

func TestGrid_UnknownHandleIsNoop(t *testing.T) {
	s, _ := newTestState(t, []blueprint.Field{{Handle: "email", Type: blueprint.TypeText}})

	assert.False(t, s.AddGridRow("missing"))
	assert.False(t, s.RemoveGridRow("missing", 0))
	assert.False(t, s.SetGridRowCount("missing", 3))
	assert.False(t, s.AddGridRow("email"))
	assert.Nil(t, s.Rows("missing"))
}

func TestGrid_FixedRowsNeverChange(t *testing.T) {
	grid := blueprint.Field{
		Handle: "slots",
		Type:   blueprint.TypeGrid,
		Grid: &blueprint.GridConfig{
			Fields:    []blueprint.Field{{Handle: "time", Type: blueprint.TypeTime}},
			FixedRows: 2,
		},
	}
	s, _ := newTestState(t, []blueprint.Field{grid})

	assert.False(t, s.AddGridRow("slots"))
	assert.False(t, s.RemoveGridRow("slots", 0))
	assert.False(t, s.SetGridRowCount("slots", 5))
	assert.Equal(t, 2, s.GridRowCount("slots"))
}

func TestGrid_SetRowCount(t *testing.T) {
	grid := passengersGrid(intPtr(1), intPtr(5))
	s, _ := newTestState(t, []blueprint.Field{grid})

	var removed []int
	s.OnRowRemoved(func(r events.RowRemoved) { removed = append(removed, r.RemovedIndex) })

	assert.True(t, s.SetGridRowCount("passengers", 4))
	assert.Equal(t, 4, s.GridRowCount("passengers"))
	assertDense(t, s, grid)

	s.SetValue("passengers.0.name", "keep")
	assert.True(t, s.SetGridRowCount("passengers", 2))
	assert.Equal(t, 2, s.GridRowCount("passengers"))
	assert.Equal(t, []int{3, 2}, removed)
	assert.Equal(t, "keep", s.Values()["passengers.0.name"])
	assertDense(t, s, grid)

	assert.True(t, s.SetGridRowCount("passengers", 99))
	assert.Equal(t, 5, s.GridRowCount("passengers"))
	assert.True(t, s.SetGridRowCount("passengers", -3))
	assert.Equal(t, 1, s.GridRowCount("passengers"))
	assert.False(t, s.SetGridRowCount("passengers", 1), "unchanged count reports false")
}

func TestGrid_ControllerFieldResizes(t *testing.T) {
	grid := blueprint.Field{
		Handle: "guests",
		Type:   blueprint.TypeGrid,
		Grid: &blueprint.GridConfig{
			Fields:           []blueprint.Field{{Handle: "name", Type: blueprint.TypeText}},
			DynamicRowsField: "guest_count",
		},
	}
	s, _ := newTestState(t, []blueprint.Field{
		{Handle: "guest_count", Type: blueprint.TypeInteger, Default: 1},
		grid,
	})

	s.SetValue("guest_count", "3")
	assert.Equal(t, 3, s.GridRowCount("guests"))

	s.SetValue("guest_count", 2)
	assert.Equal(t, 2, s.GridRowCount("guests"))
	assertDense(t, s, grid)
}

func TestGrid_RandomSequenceStaysDense(t *testing.T) {
	grid := passengersGrid(intPtr(1), intPtr(6))
	s, _ := newTestState(t, []blueprint.Field{grid})

	ops := []struct {
		add   bool
		index int
	}{
		{add: true}, {add: true}, {add: true}, {index: 0}, {add: true},
		{index: 2}, {add: true}, {add: true}, {add: true}, {index: 4},
		{index: 1}, {index: 0}, {index: 0}, {index: 0}, {index: 0},
	}
	for i, op := range ops {
		if op.add {
			s.AddGridRow("passengers")
		} else {
			s.RemoveGridRow("passengers", op.index)
		}
		t.Run(fmt.Sprintf("op %d", i), func(t *testing.T) {
			assertDense(t, s, grid)
		})
	}
	assert.Equal(t, 1, s.GridRowCount("passengers"))
}

func TestGrid_RowRendererAndBus(t *testing.T) {
	bus := events.NewBus()
	var published []events.RowsChange
	_, err := bus.Subscribe(events.GridRows, func(e events.Event) {
		published = append(published, e.Payload.(events.RowsChange))
	})
	require.NoError(t, err)

	var rendered []events.RowsChange
	s, _ := newTestState(t, []blueprint.Field{passengersGrid(nil, nil)},
		WithBus(bus),
		WithRowRenderer(func(c events.RowsChange) { rendered = append(rendered, c) }),
	)

	s.SetValue("passengers.0.name", "A")
	require.True(t, s.AddGridRow("passengers"))
	require.True(t, s.RemoveGridRow("passengers", 0))

	require.Len(t, rendered, 2)
	assert.Equal(t, events.RowAdded, rendered[0].Kind)
	assert.Equal(t, 1, rendered[0].Index)
	assert.Len(t, rendered[0].Rows, 2)
	assert.Equal(t, "A", rendered[0].Rows[0]["name"])

	assert.Equal(t, events.RowsRebuilt, rendered[1].Kind)
	assert.Equal(t, []map[string]any{{"name": "", "vegan": false}}, rendered[1].Rows)
	assert.Equal(t, rendered, published)
}

func TestSetValue_IgnoresSentinelsAndMissingRows(t *testing.T) {
	s, _ := newTestState(t, []blueprint.Field{passengersGrid(nil, nil)})

	s.SetValue(CountKey("passengers"), 7)
	s.SetValue("passengers.3.name", "ghost")

	values := s.Values()
	assert.Equal(t, 1, values[CountKey("passengers")])
	assert.NotContains(t, values, "passengers.3.name")
}

func TestSetValue_IgnoresUndeclaredKeys(t *testing.T) {
	grid := passengersGrid(nil, nil)
	s, _ := newTestState(t, []blueprint.Field{grid, {Handle: "email", Type: blueprint.TypeText}})

	var got []string
	s.OnFieldChange(func(key string, value any) { got = append(got, key) })

	s.SetValue("passengers.0.bogus", "x")
	s.SetValue("unknown", "y")
	s.SetValue("email", "ada@example.com")

	values := s.Values()
	assert.NotContains(t, values, "passengers.0.bogus")
	assert.NotContains(t, values, "unknown")
	assert.Equal(t, "ada@example.com", values["email"])
	assert.Equal(t, []string{"email"}, got)
	assertDense(t, s, grid)
}

func TestSetValue_FieldListener(t *testing.T) {
	s, _ := newTestState(t, []blueprint.Field{{Handle: "email", Type: blueprint.TypeText}})

	var got []string
	cancel := s.OnFieldChange(func(key string, value any) {
		got = append(got, fmt.Sprintf("%s=%v", key, value))
	})
	s.SetValue("email", "a")
	cancel()
	s.SetValue("email", "b")

	assert.Equal(t, []string{"email=a"}, got)
}

func TestChanges_Debounced(t *testing.T) {
	s, clock := newTestState(t, []blueprint.Field{{Handle: "email", Type: blueprint.TypeText}})

	var snapshots []map[string]any
	s.OnChange(func(values map[string]any) { snapshots = append(snapshots, values) })

	clock.Advance(DefaultChangeDebounce)
	require.Len(t, snapshots, 1, "initial snapshot")

	s.SetValue("email", "a")
	clock.Advance(30 * time.Millisecond)
	s.SetValue("email", "ab")
	clock.Advance(30 * time.Millisecond)
	s.SetValue("email", "abc")
	clock.Advance(99 * time.Millisecond)
	assert.Len(t, snapshots, 1)

	clock.Advance(time.Millisecond)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "abc", snapshots[1]["email"])
}

func TestChanges_PublishedOnBus(t *testing.T) {
	bus := events.NewBus()
	var got []events.Event
	_, err := bus.Subscribe(events.FieldsChanged, func(e events.Event) { got = append(got, e) })
	require.NoError(t, err)

	s, _ := newTestState(t, []blueprint.Field{{Handle: "email", Type: blueprint.TypeText}},
		WithBus(bus), WithID("contact-1"))
	s.SetValue("email", "x@y.z")
	s.FlushChanges()

	require.Len(t, got, 1)
	assert.Equal(t, "contact-1", got[0].Form)
	assert.Equal(t, "x@y.z", got[0].Payload.(map[string]any)["email"])
}

func TestPrepopulate_ExistingKeysOnly(t *testing.T) {
	s, _ := newTestState(t, []blueprint.Field{{Handle: "known", Type: blueprint.TypeText}},
		WithPrepopulated(map[string]any{"unknown": "x", "known": "y"}))

	values := s.Values()
	assert.Equal(t, "y", values["known"])
	assert.NotContains(t, values, "unknown")
}

func TestPrepopulate_AfterMount(t *testing.T) {
	grid := passengersGrid(nil, nil)
	s, _ := newTestState(t, []blueprint.Field{grid})

	n := s.LoadPrepopulatedData(map[string]any{
		"passengers.0.name":    "Ada",
		"passengers.1.name":    "no such row",
		CountKey("passengers"): 9,
	})

	assert.Equal(t, 1, n)
	assert.Equal(t, "Ada", s.Values()["passengers.0.name"])
	assert.Equal(t, 1, s.GridRowCount("passengers"))
	assertDense(t, s, grid)
}

func TestPrepopulate_RestoresRowCounts(t *testing.T) {
	grid := passengersGrid(nil, intPtr(3))
	saved, _ := newTestState(t, []blueprint.Field{grid})
	require.True(t, saved.AddGridRow("passengers"))
	saved.SetValue("passengers.0.name", "A")
	saved.SetValue("passengers.1.name", "B")

	s, _ := newTestState(t, []blueprint.Field{grid})
	assert.Equal(t, 1, s.RestoreRowCounts(saved.Values()))
	s.LoadPrepopulatedData(saved.Values())

	values := s.Values()
	assert.Equal(t, 2, s.GridRowCount("passengers"))
	assert.Equal(t, "A", values["passengers.0.name"])
	assert.Equal(t, "B", values["passengers.1.name"])
	assertDense(t, s, grid)

	assert.Equal(t, 0, s.RestoreRowCounts(map[string]any{CountKey("passengers"): 2}))
	assert.Equal(t, 1, s.RestoreRowCounts(map[string]any{CountKey("passengers"): 9}))
	assert.Equal(t, 3, s.GridRowCount("passengers"), "clamped to max_rows")
	assertDense(t, s, grid)
}

func TestPrepopulate_ControllerFirst(t *testing.T) {
	grid := blueprint.Field{
		Handle: "guests",
		Type:   blueprint.TypeGrid,
		Grid: &blueprint.GridConfig{
			Fields:           []blueprint.Field{{Handle: "name", Type: blueprint.TypeText}},
			DynamicRowsField: "guest_count",
		},
	}
	s, _ := newTestState(t, []blueprint.Field{
		{Handle: "guest_count", Type: blueprint.TypeInteger, Default: 1},
		grid,
	})

	n := s.LoadPrepopulatedData(map[string]any{
		"guest_count":   2,
		"guests.1.name": "Grace",
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, s.GridRowCount("guests"))
	assert.Equal(t, "Grace", s.Values()["guests.1.name"])
}

func TestShouldShow(t *testing.T) {
	conditional := blueprint.Conditions{If: blueprint.Rules{"newsletter": "true"}}
	fields := []blueprint.Field{
		{Handle: "plain", Type: blueprint.TypeText},
		{Handle: "topics", Type: blueprint.TypeText, Conditions: conditional},
		{
			Handle: "passengers",
			Type:   blueprint.TypeGrid,
			Grid: &blueprint.GridConfig{Fields: []blueprint.Field{
				{Handle: "diet", Type: blueprint.TypeText, Conditions: conditional},
			}},
		},
	}

	t.Run("unknown key hidden", func(t *testing.T) {
		s, _ := newTestState(t, fields)
		assert.False(t, s.ShouldShow("nope"))
	})

	t.Run("no conditions shown", func(t *testing.T) {
		s, _ := newTestState(t, fields, WithEvaluator(EvaluatorFunc(
			func(blueprint.Field, map[string]any, string) (bool, error) { return false, nil })))
		assert.True(t, s.ShouldShow("plain"))
	})

	t.Run("delegates with values and key", func(t *testing.T) {
		var gotKey string
		s, _ := newTestState(t, fields, WithEvaluator(EvaluatorFunc(
			func(f blueprint.Field, values map[string]any, key string) (bool, error) {
				gotKey = key
				assert.Equal(t, "diet", f.Handle)
				assert.Contains(t, values, "passengers.0.diet")
				return false, nil
			})))
		assert.False(t, s.ShouldShow("passengers.0.diet"), "grid row resolves through template key")
		assert.Equal(t, "passengers.0.diet", gotKey)
	})

	t.Run("fails open", func(t *testing.T) {
		s, _ := newTestState(t, fields)
		assert.True(t, s.ShouldShow("topics"), "no evaluator")

		s, _ = newTestState(t, fields, WithEvaluator(EvaluatorFunc(
			func(blueprint.Field, map[string]any, string) (bool, error) {
				return false, errors.New("boom")
			})))
		assert.True(t, s.ShouldShow("topics"), "evaluator error")

		s, _ = newTestState(t, fields, WithEvaluator(EvaluatorFunc(
			func(blueprint.Field, map[string]any, string) (bool, error) { panic("boom") })))
		assert.True(t, s.ShouldShow("topics"), "evaluator panic")
	})
}

func TestKeysAndFields(t *testing.T) {
	s, _ := newTestState(t, []blueprint.Field{
		{Handle: "name", Type: blueprint.TypeText},
		{Handle: "tracking_id", Type: blueprint.TypeText, InputType: blueprint.InputHidden},
		passengersGrid(intPtr(2), nil),
		{Handle: "notes", Type: blueprint.TypeTextarea},
	}, WithHiddenHandles("notes"))

	assert.Equal(t, []string{
		"name",
		"tracking_id",
		"passengers.0.name", "passengers.0.vegan",
		"passengers.1.name", "passengers.1.vegan",
		"notes",
	}, s.Keys())

	var handles []string
	for _, f := range s.Fields() {
		handles = append(handles, f.Handle)
	}
	assert.Equal(t, []string{"name", "passengers"}, handles)
}

func TestValues_IsSnapshot(t *testing.T) {
	s, _ := newTestState(t, []blueprint.Field{{Handle: "topics", Type: blueprint.TypeCheckboxes}})

	values := s.Values()
	values["topics"] = append(values["topics"].([]any), "go")
	values["extra"] = 1

	fresh := s.Values()
	assert.Equal(t, []any{}, fresh["topics"])
	assert.NotContains(t, fresh, "extra")
}
