package forms

import (
	"time"

	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
	"github.com/gabrielmiguelok/easyforms/pkg/debounce"
	"github.com/gabrielmiguelok/easyforms/pkg/events"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
)

// DefaultChangeDebounce is the quiet period before fields-changed fires.
const DefaultChangeDebounce = 100 * time.Millisecond

// Evaluator decides whether a field with conditions is visible. It is the
// CMS's condition engine; the state never interprets the rules itself.
type Evaluator interface {
	ShowField(field blueprint.Field, values map[string]any, key string) (bool, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(field blueprint.Field, values map[string]any, key string) (bool, error)

func (f EvaluatorFunc) ShowField(field blueprint.Field, values map[string]any, key string) (bool, error) {
	return f(field, values, key)
}

type stateConfig struct {
	id          string
	evaluator   Evaluator
	resolver    DefaultResolver
	bus         *events.Bus
	logger      logging.Logger
	clock       debounce.Clock
	debounce    time.Duration
	hidden      []string
	prepopulate map[string]any
	renderer    func(events.RowsChange)
}

// Option configures a State.
type Option func(*stateConfig)

// WithID sets the form instance ID. By default a UUID is generated.
func WithID(id string) Option {
	return func(c *stateConfig) {
		c.id = id
	}
}

// WithEvaluator sets the condition evaluator.
func WithEvaluator(e Evaluator) Option {
	return func(c *stateConfig) {
		c.evaluator = e
	}
}

// WithTracking sets the source for the tracking_id hidden field.
func WithTracking(src TrackingSource) Option {
	return func(c *stateConfig) {
		c.resolver.Tracking = src
	}
}

// WithTrackingHandle overrides the reserved tracking field handle.
func WithTrackingHandle(handle string) Option {
	return func(c *stateConfig) {
		c.resolver.TrackingHandle = handle
	}
}

// WithBus publishes state events on bus.
func WithBus(bus *events.Bus) Option {
	return func(c *stateConfig) {
		c.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *stateConfig) {
		c.logger = logger
	}
}

// WithClock sets the timer source for change debouncing.
func WithClock(clock debounce.Clock) Option {
	return func(c *stateConfig) {
		c.clock = clock
	}
}

// WithDebounce sets the fields-changed quiet period.
func WithDebounce(d time.Duration) Option {
	return func(c *stateConfig) {
		c.debounce = d
	}
}

// WithHiddenHandles excludes handles from the renderable field list.
func WithHiddenHandles(handles ...string) Option {
	return func(c *stateConfig) {
		c.hidden = append(c.hidden, handles...)
	}
}

// WithPrepopulated overrides initial values for keys the form already has.
func WithPrepopulated(data map[string]any) Option {
	return func(c *stateConfig) {
		c.prepopulate = data
	}
}

// WithRowRenderer receives the data of a grid after every row operation.
func WithRowRenderer(fn func(events.RowsChange)) Option {
	return func(c *stateConfig) {
		c.renderer = fn
	}
}
