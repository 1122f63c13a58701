package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
	"github.com/gabrielmiguelok/easyforms/pkg/debounce"
	"github.com/gabrielmiguelok/easyforms/pkg/events"
	"github.com/gabrielmiguelok/easyforms/pkg/forms"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
	"github.com/gabrielmiguelok/easyforms/pkg/submit"
)

type fakeValidator struct {
	mu       sync.Mutex
	invalid  map[string]bool
	err      error
	calls    [][]string
	errors   map[string]bool
	scrolled []string
	focus    func([]string)
	block    chan struct{}
}

func newFakeValidator(invalid ...string) *fakeValidator {
	v := &fakeValidator{invalid: map[string]bool{}, errors: map[string]bool{}}
	for _, k := range invalid {
		v.invalid[k] = true
	}
	return v
}

func (v *fakeValidator) ValidateOnly(_ context.Context, keys []string) (bool, error) {
	if v.block != nil {
		<-v.block
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, keys)
	if v.err != nil {
		return false, v.err
	}
	valid := true
	for _, k := range keys {
		v.errors[k] = v.invalid[k]
		if v.invalid[k] {
			valid = false
		}
	}
	return valid, nil
}

func (v *fakeValidator) HasError(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.errors[key]
}

func (v *fakeValidator) ScrollTo(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrolled = append(v.scrolled, key)
}

func (v *fakeValidator) SetErrorFocus(fn func([]string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.focus = fn
}

func threeSections() []blueprint.Section {
	return []blueprint.Section{
		{Display: "You", Fields: []blueprint.Field{
			{Handle: "name", Type: blueprint.TypeText},
			{Handle: "email", Type: blueprint.TypeText},
			{Handle: "tracking_id", Type: blueprint.TypeText, InputType: blueprint.InputHidden},
		}},
		{Display: "Trip", Fields: []blueprint.Field{
			{Handle: "passengers", Type: blueprint.TypeGrid, Grid: &blueprint.GridConfig{
				Fields: []blueprint.Field{{Handle: "name", Type: blueprint.TypeText}},
			}},
		}},
		{Display: "Done", Fields: []blueprint.Field{
			{Handle: "notes", Type: blueprint.TypeTextarea},
		}},
	}
}

func stepEvents(t *testing.T, bus *events.Bus) *[]events.StepChanged {
	t.Helper()
	var got []events.StepChanged
	_, err := bus.Subscribe(events.StepChange, func(e events.Event) {
		got = append(got, e.Payload.(events.StepChanged))
	})
	require.NoError(t, err)
	return &got
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoSteps)

	v := newFakeValidator()
	w, err := New(threeSections(), WithValidator(v))
	require.NoError(t, err)
	assert.Equal(t, 1, w.Current())
	assert.Equal(t, 3, w.Total())
	assert.Equal(t, 33, w.Progress())
	assert.NotNil(t, v.focus, "wizard takes over error focus")

	w.Close()
	assert.Nil(t, v.focus)
}

func TestStepOf(t *testing.T) {
	w, err := New(threeSections())
	require.NoError(t, err)

	assert.Equal(t, 1, w.StepOf("email"))
	assert.Equal(t, 2, w.StepOf("passengers.3.name"))
	assert.Equal(t, 3, w.StepOf("notes"))
	assert.Equal(t, 0, w.StepOf("tracking_id"))
	assert.Equal(t, 0, w.StepOf("unknown"))

	assert.Equal(t, []string{"name", "email"}, w.StepKeys(1))
	assert.Nil(t, w.StepKeys(0))
	assert.Nil(t, w.StepKeys(4))
}

func TestStepKeys_FollowGridRows(t *testing.T) {
	keys := []string{"name", "email", "tracking_id", "passengers.0.name", "passengers.1.name", "notes"}
	w, err := New(threeSections(), WithKeys(func() []string { return keys }))
	require.NoError(t, err)

	assert.Equal(t, []string{"passengers.0.name", "passengers.1.name"}, w.StepKeys(2))
}

func TestGoNext(t *testing.T) {
	bus := events.NewBus()
	steps := stepEvents(t, bus)
	v := newFakeValidator("email")
	w, err := New(threeSections(), WithValidator(v), WithBus(bus), WithForm("booking", "form-1"),
		WithLogger(logging.NopLogger{}))
	require.NoError(t, err)

	assert.False(t, w.GoNext(context.Background()))
	assert.Equal(t, 1, w.Current())
	assert.Equal(t, [][]string{{"name", "email"}}, v.calls)
	assert.Equal(t, []string{"email"}, v.scrolled)
	assert.Empty(t, *steps)

	delete(v.invalid, "email")
	assert.True(t, w.GoNext(context.Background()))
	assert.True(t, w.GoNext(context.Background()))
	assert.Equal(t, 3, w.Current())
	assert.Equal(t, 100, w.Progress())

	assert.False(t, w.GoNext(context.Background()), "last step")
	assert.Equal(t, []events.StepChanged{
		{CurrentStep: 2, TotalSteps: 3, FormHandle: "booking"},
		{CurrentStep: 3, TotalSteps: 3, FormHandle: "booking"},
	}, *steps)
}

func TestGoNext_ValidationError(t *testing.T) {
	v := newFakeValidator()
	v.err = errors.New("network down")
	w, err := New(threeSections(), WithValidator(v), WithLogger(logging.NopLogger{}))
	require.NoError(t, err)

	assert.False(t, w.GoNext(context.Background()))
	assert.Equal(t, 1, w.Current())
	assert.False(t, w.Validating())
}

func TestGoNext_InFlightGuard(t *testing.T) {
	v := newFakeValidator()
	v.block = make(chan struct{})
	w, err := New(threeSections(), WithValidator(v))
	require.NoError(t, err)

	done := make(chan bool)
	go func() { done <- w.GoNext(context.Background()) }()

	require.Eventually(t, w.Validating, time.Second, time.Millisecond)
	assert.False(t, w.GoNext(context.Background()))

	close(v.block)
	assert.True(t, <-done)
	assert.Equal(t, 2, w.Current())
	assert.Len(t, v.calls, 1)
}

func TestGoNext_WithoutValidator(t *testing.T) {
	w, err := New(threeSections())
	require.NoError(t, err)
	assert.True(t, w.GoNext(context.Background()))
	assert.Equal(t, 2, w.Current())
}

func TestGoPrev(t *testing.T) {
	bus := events.NewBus()
	steps := stepEvents(t, bus)
	w, err := New(threeSections(), WithBus(bus))
	require.NoError(t, err)

	assert.False(t, w.GoPrev())
	require.True(t, w.GoNext(context.Background()))
	assert.True(t, w.GoPrev())
	assert.Equal(t, 1, w.Current())
	assert.Len(t, *steps, 2)
}

func TestFocusErrors(t *testing.T) {
	bus := events.NewBus()
	steps := stepEvents(t, bus)
	v := newFakeValidator()
	w, err := New(threeSections(), WithValidator(v), WithBus(bus))
	require.NoError(t, err)
	require.True(t, w.GoTo(3))

	v.focus([]string{"tracking_id", "passengers.1.name", "notes"})
	assert.Equal(t, 2, w.Current())
	assert.Equal(t, []string{"passengers.1.name"}, v.scrolled)
	assert.Equal(t, 2, (*steps)[len(*steps)-1].CurrentStep)

	v.scrolled = nil
	v.focus([]string{"tracking_id"})
	assert.Equal(t, 2, w.Current())
	assert.Equal(t, []string{"tracking_id"}, v.scrolled)
}

func TestFocusErrors_NoValidator(t *testing.T) {
	bus := events.NewBus()
	var scrolled []any
	_, err := bus.Subscribe(events.ScrollToField, func(e events.Event) { scrolled = append(scrolled, e.Payload) })
	require.NoError(t, err)

	w, err := New(threeSections(), WithBus(bus))
	require.NoError(t, err)
	w.FocusErrors([]string{"notes"})

	assert.Equal(t, 3, w.Current())
	assert.Equal(t, []any{"notes"}, scrolled)
}

// A required name on step one blocks the wizard until it is set.
func TestWizard_RequiredNameBlocksStep(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/!/forms/signup", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		only := strings.Split(r.Header.Get(submit.HeaderPrecognitionValidateOnly), ",")
		for _, key := range only {
			if key == "name" && r.FormValue("name") == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnprocessableEntity)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"errors": map[string]any{"name": []string{"The name field is required."}},
				})
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	sections := []blueprint.Section{
		{Fields: []blueprint.Field{{Handle: "name", Type: blueprint.TypeText, Validate: []string{"required"}}}},
		{Fields: []blueprint.Field{{Handle: "comment", Type: blueprint.TypeTextarea}}},
	}
	bp := &blueprint.Blueprint{Handle: "signup", Sections: sections}

	state := forms.NewState(bp.Fields(), forms.WithClock(debounce.NewFakeClock()), forms.WithLogger(logging.NopLogger{}))
	t.Cleanup(state.Close)

	cfg := submit.DefaultConfig()
	cfg.Action = srv.URL + "/!/forms/signup"
	cfg.Precognition = true
	sub, err := submit.New(cfg, submit.WithLogger(logging.NopLogger{}))
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	sub.Attach(state)

	w, err := New(bp.Sections, WithValidator(sub), WithKeys(state.Keys), WithLogger(logging.NopLogger{}))
	require.NoError(t, err)

	assert.False(t, w.GoNext(context.Background()))
	assert.Equal(t, 1, w.Current())
	assert.True(t, sub.HasError("name"))

	state.SetValue("name", "Ada")
	assert.True(t, w.GoNext(context.Background()))
	assert.Equal(t, 2, w.Current())
	assert.False(t, sub.HasError("name"))
}
