// Package engine assembles one live form instance from a blueprint: the
// value state, the submission controller, the wizard when the blueprint has
// several sections, tracking capture and prepopulation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
	"github.com/gabrielmiguelok/easyforms/pkg/conditions"
	"github.com/gabrielmiguelok/easyforms/pkg/debounce"
	"github.com/gabrielmiguelok/easyforms/pkg/events"
	"github.com/gabrielmiguelok/easyforms/pkg/forms"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
	"github.com/gabrielmiguelok/easyforms/pkg/prefill"
	"github.com/gabrielmiguelok/easyforms/pkg/retry"
	"github.com/gabrielmiguelok/easyforms/pkg/submit"
	"github.com/gabrielmiguelok/easyforms/pkg/tracking"
	"github.com/gabrielmiguelok/easyforms/pkg/uploads"
	"github.com/gabrielmiguelok/easyforms/pkg/wizard"
)

var (
	ErrNoBlueprint   = errors.New("blueprint is required")
	ErrUnknownField  = errors.New("unknown field")
	ErrFormMismatch  = errors.New("prefill record belongs to another form")
	ErrNotMultiStep  = errors.New("form has a single step")
	ErrUnknownOp     = errors.New("unknown command")
	ErrMissingTarget = errors.New("command needs a key or handle")
)

// Form is one mounted form instance.
type Form struct {
	id       string
	bp       *blueprint.Blueprint
	cfg      Config
	bus      *events.Bus
	logger   logging.Logger
	tracking *tracking.Store
	retry    *retry.Config

	state  *forms.State
	submit *submit.Controller
	wizard *wizard.Controller
	detach func()
}

type options struct {
	id          string
	bus         *events.Bus
	logger      logging.Logger
	tracking    *tracking.Store
	evaluator   forms.Evaluator
	clock       debounce.Clock
	client      *http.Client
	challenger  submit.Challenger
	sleep       retry.SleepFunc
	retry       *retry.Config
	prepopulate map[string]any
}

// Option configures New.
type Option func(*options)

// WithID sets the instance ID. By default a UUID is generated.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithBus publishes the form's events on bus instead of a private one.
func WithBus(bus *events.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithLogger sets the logger of every component.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTracking captures tracked parameters into store and feeds the tracking
// hidden field from it.
func WithTracking(store *tracking.Store) Option {
	return func(o *options) { o.tracking = store }
}

// WithEvaluator replaces the built-in condition evaluator.
func WithEvaluator(e forms.Evaluator) Option {
	return func(o *options) { o.evaluator = e }
}

// WithClock drives every debounce from clock.
func WithClock(clock debounce.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithHTTPClient sets the client used to reach the CMS.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.client = client }
}

// WithChallenger sets the spam-challenge provider.
func WithChallenger(ch submit.Challenger) Option {
	return func(o *options) { o.challenger = ch }
}

// WithSleep sets how challenge polling and prefill retries wait.
func WithSleep(sleep retry.SleepFunc) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithRetry sets the backoff for prefill store reads.
func WithRetry(cfg *retry.Config) Option {
	return func(o *options) { o.retry = cfg }
}

// WithPrepopulated starts the form with data for the keys it has.
func WithPrepopulated(data map[string]any) Option {
	return func(o *options) { o.prepopulate = data }
}

// New mounts a form instance.
func New(bp *blueprint.Blueprint, cfg Config, opts ...Option) (*Form, error) {
	if bp == nil {
		return nil, ErrNoBlueprint
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	o := &options{logger: logging.DefaultLogger}
	for _, opt := range opts {
		opt(o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.bus == nil {
		o.bus = events.NewBus()
		o.bus.SetLogger(o.logger)
	}
	if o.evaluator == nil {
		o.evaluator = conditions.New()
	}
	backoff := retry.DefaultConfig()
	if o.retry != nil {
		*backoff = *o.retry
	}
	if backoff.Sleep == nil {
		backoff.Sleep = o.sleep
	}

	f := &Form{
		id:       o.id,
		bp:       bp,
		cfg:      cfg,
		bus:      o.bus,
		logger:   o.logger.With(logging.Form(o.id), logging.String("blueprint", bp.Handle)),
		tracking: o.tracking,
		retry:    backoff,
	}

	stateOpts := []forms.Option{
		forms.WithID(o.id),
		forms.WithEvaluator(o.evaluator),
		forms.WithBus(o.bus),
		forms.WithLogger(f.logger),
		forms.WithClock(o.clock),
		forms.WithDebounce(cfg.ChangeDebounce),
		forms.WithTrackingHandle(cfg.TrackingHandle),
		forms.WithHiddenHandles(cfg.HiddenHandles...),
		forms.WithPrepopulated(o.prepopulate),
	}
	if o.tracking != nil {
		if n := o.tracking.CaptureFromURL(); n > 0 {
			f.logger.Debug("tracking parameters captured", logging.Int("count", n))
		}
		stateOpts = append(stateOpts, forms.WithTracking(o.tracking))
	}
	f.state = forms.NewState(bp.Fields(), stateOpts...)

	submitOpts := []submit.Option{
		submit.WithBus(o.bus),
		submit.WithLogger(f.logger),
		submit.WithFormID(o.id),
		submit.WithClock(o.clock),
		submit.WithSleep(o.sleep),
		submit.WithChallenger(o.challenger),
	}
	if o.client != nil {
		submitOpts = append(submitOpts, submit.WithHTTPClient(o.client))
	}
	ctl, err := submit.New(cfg.Submit, submitOpts...)
	if err != nil {
		f.state.Close()
		return nil, err
	}
	f.submit = ctl
	f.detach = ctl.Attach(f.state)

	if len(bp.Sections) > 1 {
		f.wizard, err = wizard.New(bp.Sections,
			wizard.WithValidator(ctl),
			wizard.WithKeys(f.state.Keys),
			wizard.WithBus(o.bus),
			wizard.WithLogger(f.logger),
			wizard.WithForm(bp.Handle, o.id),
		)
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	f.logger.Info("form mounted",
		logging.Int("fields", len(f.state.Keys())),
		logging.Int("steps", len(bp.Sections)),
		logging.Bool("precognition", cfg.Submit.Precognition))
	return f, nil
}

// ID returns the instance ID carried on every event.
func (f *Form) ID() string { return f.id }

// Blueprint returns the mounted blueprint.
func (f *Form) Blueprint() *blueprint.Blueprint { return f.bp }

// Config returns the configuration the form was mounted with.
func (f *Form) Config() Config { return f.cfg }

// Tracking returns the tracking store, or nil.
func (f *Form) Tracking() *tracking.Store { return f.tracking }

// Bus returns the event bus of the form.
func (f *Form) Bus() *events.Bus { return f.bus }

// State returns the value state.
func (f *Form) State() *forms.State { return f.state }

// Submitter returns the submission controller.
func (f *Form) Submitter() *submit.Controller { return f.submit }

// Wizard returns the wizard, or nil for a single-section blueprint.
func (f *Form) Wizard() *wizard.Controller { return f.wizard }

// Prefill loads the record saved under key and applies it. Store reads are
// retried with backoff; a missing key is not retried. It returns the number
// of values written.
func (f *Form) Prefill(ctx context.Context, m *prefill.Manager, key string) (int, error) {
	cfg := *f.retry
	cfg.RetryIf = func(err error) bool {
		return !errors.Is(err, prefill.ErrKeyNotFound) && !errors.Is(err, prefill.ErrInvalidData)
	}

	rec, err := retry.RetryWithResult(ctx, &cfg, func(ctx context.Context) (*prefill.Record, error) {
		return m.Load(ctx, key)
	})
	if err != nil {
		return 0, fmt.Errorf("prefill %s: %w", key, err)
	}
	if rec.Form != "" && rec.Form != f.bp.Handle {
		return 0, fmt.Errorf("%w: %q", ErrFormMismatch, rec.Form)
	}

	// Saved drafts may hold more rows than a fresh instance starts with.
	f.state.RestoreRowCounts(rec.Values)
	n := f.state.LoadPrepopulatedData(rec.Values)
	f.logger.Debug("prefill applied", logging.String("key", key), logging.Int("values", n))
	return n, nil
}

// SaveDraft stores the current values under key for a later Prefill.
func (f *Form) SaveDraft(ctx context.Context, m *prefill.Manager, key string) error {
	return m.Save(ctx, key, f.bp.Handle, f.state.Values())
}

// AttachFiles validates files against the upload constraints of the field
// behind key and stores them as its value. Single-file fields keep one File;
// others keep a list.
func (f *Form) AttachFiles(key string, files ...uploads.File) error {
	field, ok := f.state.Registry().Resolve(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, key)
	}
	if !uploads.Accepts(field) {
		return fmt.Errorf("%w: %s", uploads.ErrNotUploadField, key)
	}

	limits := uploads.ConstraintsFor(field)
	if err := limits.Check(files); err != nil {
		f.logger.Debug("upload rejected", logging.Key(key), logging.Err(err))
		return err
	}

	switch {
	case len(files) == 0:
		f.state.SetValue(key, nil)
	case limits.MaxFiles == 1:
		f.state.SetValue(key, files[0])
	default:
		f.state.SetValue(key, append([]uploads.File(nil), files...))
	}
	return nil
}

// Close stops timers and detaches the components.
func (f *Form) Close() {
	if f.wizard != nil {
		f.wizard.Close()
	}
	if f.detach != nil {
		f.detach()
	}
	f.submit.Close()
	f.state.Close()
}
