// Package submit drives form submission: spam-challenge acquisition, the
// multipart POST to the CMS, interpretation of its answer, and optional
// per-field precognition validation.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabrielmiguelok/easyforms/pkg/debounce"
	"github.com/gabrielmiguelok/easyforms/pkg/events"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
	"github.com/gabrielmiguelok/easyforms/pkg/retry"
)

// Status is the phase of the submit lifecycle.
type Status int

const (
	StatusIdle Status = iota
	StatusSubmitting
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSubmitting:
		return "submitting"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

var errUnexpectedResponse = errors.New("unexpected response")

// Controller submits one form. It never returns runtime failures to the
// caller; they become its error state and a form:error event.
type Controller struct {
	cfg        Config
	formID     string
	client     *http.Client
	challenger Challenger
	bus        *events.Bus
	logger     logging.Logger
	clock      debounce.Clock
	sleep      retry.SleepFunc
	validators *debounce.Group

	// ctx bounds background validations; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	submitting atomic.Bool
	inFlight   atomic.Int32

	mu             sync.RWMutex
	data           map[string]any
	source         func() map[string]any
	order          func([]string) []string
	focus          func(keys []string)
	statusFns      []func(Status)
	errors         map[string][]string
	fatal          bool
	sessionExpired bool
	succeeded      bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) {
		c.client = client
	}
}

// WithChallenger sets the spam-challenge provider.
func WithChallenger(ch Challenger) Option {
	return func(c *Controller) {
		c.challenger = ch
	}
}

// WithBus publishes lifecycle events on bus.
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

// WithClock sets the timer source for validation debouncing.
func WithClock(clock debounce.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithSleep sets how challenge polling waits.
func WithSleep(sleep retry.SleepFunc) Option {
	return func(c *Controller) {
		c.sleep = sleep
	}
}

// WithFormID tags events with the form instance ID.
func WithFormID(id string) Option {
	return func(c *Controller) {
		c.formID = id
	}
}

// WithKeyOrder orders payload fields and errors, blueprint order usually.
func WithKeyOrder(order func([]string) []string) Option {
	return func(c *Controller) {
		c.order = order
	}
}

// New creates a controller. The config must be valid.
func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:    cfg,
		logger: logging.DefaultLogger,
		data:   make(map[string]any),
		errors: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if c.formID != "" {
		c.logger = c.logger.With(logging.Form(c.formID))
	}
	c.validators = debounce.NewGroup(cfg.ValidationDebounce, c.clock)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.focus = c.scrollToFirst
	return c, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// UpdateSubmitData replaces the data sent by the next Submit.
func (c *Controller) UpdateSubmitData(data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
}

// SetDataSource makes Submit read fresh values from fn instead of the last
// UpdateSubmitData snapshot, so a submit inside the change debounce window
// still sends the latest values.
func (c *Controller) SetDataSource(fn func() map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = fn
}

// SetErrorFocus replaces what happens with the errored keys after a failed
// submit. By default the first one is published as scroll-to-field.
func (c *Controller) SetErrorFocus(fn func(keys []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		fn = c.scrollToFirst
	}
	c.focus = fn
}

// OnStatus registers a listener for lifecycle transitions.
func (c *Controller) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusFns = append(c.statusFns, fn)
}

// Submitting reports whether a submit is in flight.
func (c *Controller) Submitting() bool {
	return c.submitting.Load()
}

// Succeeded reports whether the last submit succeeded.
func (c *Controller) Succeeded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.succeeded
}

// Fatal reports whether the last submit failed without field detail.
func (c *Controller) Fatal() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fatal
}

// SessionExpired reports whether the CMS rejected the last submit because the
// session expired.
func (c *Controller) SessionExpired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionExpired
}

// Errors returns a copy of the field error map.
func (c *Controller) Errors() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyErrors(c.errors)
}

// HasError reports whether key has at least one error message.
func (c *Controller) HasError(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.errors[key]) > 0
}

// ErrorKeys returns the errored keys in key order.
func (c *Controller) ErrorKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errorKeysLocked()
}

// Submit runs one submit attempt. It returns false when another attempt is
// already in flight and the call was dropped.
func (c *Controller) Submit(ctx context.Context) bool {
	if !c.submitting.CompareAndSwap(false, true) {
		c.logger.Debug("submit dropped, already in flight")
		return false
	}
	defer c.submitting.Store(false)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("submit panicked", logging.Any("panic", r))
			c.fail(events.Failed{Fatal: true})
		}
		c.setStatus(StatusIdle)
	}()

	c.clear()
	c.setStatus(StatusSubmitting)
	c.publish(events.FormSubmit, nil)

	var extra [][2]string
	extra = append(extra, [2]string{c.cfg.CSRFField, c.cfg.CSRFToken})
	if c.cfg.SiteKey != "" {
		token, err := c.acquireToken(ctx)
		if err != nil {
			c.logger.Warn("challenge failed", logging.Err(err))
			c.fail(events.Failed{Fatal: true})
			return true
		}
		extra = append(extra, [2]string{c.cfg.ChallengeField, token})
	}

	data := c.snapshot()
	resp, err := c.post(ctx, data, extra, nil)
	if err != nil {
		c.logger.Warn("submit request failed", logging.Err(err))
		c.fail(events.Failed{Fatal: true})
		return true
	}
	defer resp.Body.Close()

	c.logger.Info("form submitted",
		logging.Int("status", resp.StatusCode),
		logging.Duration("duration", time.Since(start)))
	c.handleResponse(resp, data)
	return true
}

func (c *Controller) snapshot() map[string]any {
	c.mu.RLock()
	source, data := c.source, c.data
	c.mu.RUnlock()

	if source != nil {
		return source()
	}
	return data
}

func (c *Controller) post(ctx context.Context, data map[string]any, extra [][2]string, headers http.Header) (*http.Response, error) {
	c.mu.RLock()
	order := c.order
	c.mu.RUnlock()

	payload, err := buildPayload(data, order, extra)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Action, payload.Body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", payload.ContentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	for k, v := range headers {
		req.Header[k] = v
	}
	return c.client.Do(req)
}

func (c *Controller) handleResponse(resp *http.Response, data map[string]any) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			c.logger.Warn("unreadable success response", logging.Err(err))
			c.fail(events.Failed{Fatal: true, Status: resp.StatusCode})
			return
		}
		if ok, _ := body["success"].(bool); !ok {
			c.fail(events.Failed{Fatal: true, Status: resp.StatusCode})
			return
		}
		c.succeed(body, data)

	case resp.StatusCode == c.cfg.SessionExpiredStatus:
		c.fail(events.Failed{SessionExpired: true, Status: resp.StatusCode})

	case resp.StatusCode >= 500:
		c.fail(events.Failed{Fatal: true, Status: resp.StatusCode})

	default:
		errs, err := decodeErrors(resp.Body)
		if err != nil || len(errs) == 0 {
			c.fail(events.Failed{Fatal: true, Status: resp.StatusCode})
			return
		}
		c.fail(events.Failed{Errors: errs, Status: resp.StatusCode})
	}
}

func (c *Controller) succeed(body, data map[string]any) {
	c.validators.Stop()

	c.mu.Lock()
	c.succeeded = true
	c.errors = make(map[string][]string)
	c.mu.Unlock()

	c.setStatus(StatusSuccess)
	c.publish(events.FormSuccess, events.Submitted{Response: body, Data: data})
}

func (c *Controller) fail(f events.Failed) {
	c.mu.Lock()
	c.fatal = f.Fatal
	c.sessionExpired = f.SessionExpired
	c.errors = copyErrors(f.Errors)
	keys := c.errorKeysLocked()
	focus := c.focus
	c.mu.Unlock()

	c.setStatus(StatusError)
	c.publish(events.FormError, f)
	if len(keys) > 0 {
		focus(keys)
	}
}

func (c *Controller) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = make(map[string][]string)
	c.fatal = false
	c.sessionExpired = false
	c.succeeded = false
}

func (c *Controller) setStatus(s Status) {
	c.mu.RLock()
	fns := append(([]func(Status))(nil), c.statusFns...)
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (c *Controller) scrollToFirst(keys []string) {
	c.publish(events.ScrollToField, keys[0])
}

// ScrollTo publishes scroll-to-field for key.
func (c *Controller) ScrollTo(key string) {
	c.publish(events.ScrollToField, key)
}

func (c *Controller) publish(name string, payload any) {
	c.bus.Publish(events.Event{Name: name, Form: c.formID, Payload: payload})
}

// decodeErrors reads {"errors": {...}} or {"error": {...}}. Messages may be
// a string or a list of strings.
func decodeErrors(r io.Reader) (map[string][]string, error) {
	var body struct {
		Error  map[string]any `json:"error"`
		Errors map[string]any `json:"errors"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, err
	}

	raw := body.Error
	if len(raw) == 0 {
		raw = body.Errors
	}
	out := make(map[string][]string, len(raw))
	for key, v := range raw {
		switch msg := v.(type) {
		case string:
			out[key] = []string{msg}
		case []any:
			for _, m := range msg {
				out[key] = append(out[key], fmt.Sprint(m))
			}
		default:
			return nil, fmt.Errorf("%w: error for %q is %T", errUnexpectedResponse, key, v)
		}
	}
	return out, nil
}

func (c *Controller) errorKeysLocked() []string {
	keys := make([]string, 0, len(c.errors))
	for k, msgs := range c.errors {
		if len(msgs) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if c.order != nil {
		keys = c.order(keys)
	}
	return keys
}

func copyErrors(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
