// Package wizard splits a form into steps, one per blueprint section, and
// gates forward navigation on validating the current step.
package wizard

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
	"github.com/gabrielmiguelok/easyforms/pkg/events"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
)

var ErrNoSteps = errors.New("wizard needs at least one section")

// Validator checks field keys against the CMS and owns the error map.
// *submit.Controller implements it.
type Validator interface {
	ValidateOnly(ctx context.Context, keys []string) (bool, error)
	HasError(key string) bool
	ScrollTo(key string)
	SetErrorFocus(fn func(keys []string))
}

// Controller tracks the current step. Steps are numbered from 1.
type Controller struct {
	steps      []map[string]bool
	order      [][]string
	formHandle string
	formID     string
	keys       func() []string
	validator  Validator
	bus        *events.Bus
	logger     logging.Logger

	validating atomic.Bool

	mu      sync.RWMutex
	current int
}

// Option configures a Controller.
type Option func(*Controller)

// WithValidator validates steps with v and routes submit errors to their
// step. Without one every step is valid.
func WithValidator(v Validator) Option {
	return func(c *Controller) {
		c.validator = v
	}
}

// WithKeys sets the source of the form's current value keys, so steps see
// grid rows as they come and go. Without it a step validates its top-level
// handles.
func WithKeys(fn func() []string) Option {
	return func(c *Controller) {
		c.keys = fn
	}
}

// WithBus publishes step changes on bus.
func WithBus(bus *events.Bus) Option {
	return func(c *Controller) {
		c.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithForm sets the blueprint handle carried in step-change payloads and the
// instance ID carried on events.
func WithForm(handle, id string) Option {
	return func(c *Controller) {
		c.formHandle = handle
		c.formID = id
	}
}

// New creates a wizard with one step per section. Hidden inputs belong to no
// step.
func New(sections []blueprint.Section, opts ...Option) (*Controller, error) {
	if len(sections) == 0 {
		return nil, ErrNoSteps
	}

	c := &Controller{
		logger:  logging.DefaultLogger,
		current: 1,
	}
	for _, sec := range sections {
		handles := make(map[string]bool, len(sec.Fields))
		var order []string
		for _, f := range sec.Fields {
			if f.Hidden() {
				continue
			}
			handles[f.Handle] = true
			order = append(order, f.Handle)
		}
		c.steps = append(c.steps, handles)
		c.order = append(c.order, order)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.validator != nil {
		c.validator.SetErrorFocus(c.FocusErrors)
	}
	return c, nil
}

// Current returns the current step.
func (c *Controller) Current() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Total returns the number of steps.
func (c *Controller) Total() int {
	return len(c.steps)
}

// Progress returns the completed share of the wizard as a rounded percentage.
func (c *Controller) Progress() int {
	return int(math.Round(float64(c.Current()) / float64(c.Total()) * 100))
}

// Validating reports whether a step validation is in flight.
func (c *Controller) Validating() bool {
	return c.validating.Load()
}

// StepOf returns the step a key belongs to, or 0. A key belongs to the step
// of its top-level handle, so "address.city" and "passengers.2.name" follow
// their group or grid.
func (c *Controller) StepOf(key string) int {
	handle, _, _ := strings.Cut(key, ".")
	for i, handles := range c.steps {
		if handles[handle] {
			return i + 1
		}
	}
	return 0
}

// StepKeys returns the value keys of step in form order.
func (c *Controller) StepKeys(step int) []string {
	if step < 1 || step > len(c.steps) {
		return nil
	}
	if c.keys == nil {
		return append([]string(nil), c.order[step-1]...)
	}

	var out []string
	for _, key := range c.keys() {
		if c.StepOf(key) == step {
			out = append(out, key)
		}
	}
	return out
}

// GoNext validates the current step and advances when it has no errors. On
// failure the first errored key of the step is scrolled to. It reports
// whether the step changed; a call on the last step or during another step
// validation does nothing.
func (c *Controller) GoNext(ctx context.Context) bool {
	step := c.Current()
	if step >= c.Total() {
		return false
	}
	if !c.validating.CompareAndSwap(false, true) {
		return false
	}
	defer c.validating.Store(false)

	if !c.validateStep(ctx, step) {
		return false
	}

	c.mu.Lock()
	// A submit error may have moved the wizard while we validated.
	if c.current != step {
		c.mu.Unlock()
		return false
	}
	c.current++
	c.mu.Unlock()

	c.publishStep()
	return true
}

func (c *Controller) validateStep(ctx context.Context, step int) bool {
	keys := c.StepKeys(step)
	if c.validator == nil || len(keys) == 0 {
		return true
	}

	valid, err := c.validator.ValidateOnly(ctx, keys)
	if err != nil {
		c.logger.Warn("step validation failed", logging.Int("step", step), logging.Err(err))
		return false
	}
	if valid {
		return true
	}

	for _, key := range keys {
		if c.validator.HasError(key) {
			c.validator.ScrollTo(key)
			break
		}
	}
	return false
}

// GoPrev moves back one step. It reports whether the step changed.
func (c *Controller) GoPrev() bool {
	c.mu.Lock()
	if c.current <= 1 {
		c.mu.Unlock()
		return false
	}
	c.current--
	c.mu.Unlock()

	c.publishStep()
	return true
}

// GoTo jumps to step without validation.
func (c *Controller) GoTo(step int) bool {
	if step < 1 || step > c.Total() {
		return false
	}

	c.mu.Lock()
	if c.current == step {
		c.mu.Unlock()
		return false
	}
	c.current = step
	c.mu.Unlock()

	c.publishStep()
	return true
}

// FocusErrors handles the errored keys of a full submit: the wizard jumps to
// the first step holding one of them, then scrolls to that step's first
// errored key. Keys that belong to no step are scrolled to directly.
func (c *Controller) FocusErrors(keys []string) {
	if len(keys) == 0 {
		return
	}

	for step := 1; step <= c.Total(); step++ {
		for _, key := range keys {
			if c.StepOf(key) != step {
				continue
			}
			c.GoTo(step)
			c.scrollTo(key)
			return
		}
	}
	c.scrollTo(keys[0])
}

func (c *Controller) scrollTo(key string) {
	if c.validator != nil {
		c.validator.ScrollTo(key)
		return
	}
	c.bus.Publish(events.Event{Name: events.ScrollToField, Form: c.formID, Payload: key})
}

func (c *Controller) publishStep() {
	c.bus.Publish(events.Event{
		Name: events.StepChange,
		Form: c.formID,
		Payload: events.StepChanged{
			CurrentStep: c.Current(),
			TotalSteps:  c.Total(),
			FormHandle:  c.formHandle,
		},
	})
}

// Close hands error focus back to the validator's default.
func (c *Controller) Close() {
	if c.validator != nil {
		c.validator.SetErrorFocus(nil)
	}
}
