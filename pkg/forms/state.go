// Package forms holds the client-side state of one rendered form: the flat
// map of submitted values, field defaults, conditional visibility and the
// row lifecycle of repeatable grid fields.
package forms

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
	"github.com/gabrielmiguelok/easyforms/pkg/debounce"
	"github.com/gabrielmiguelok/easyforms/pkg/events"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
)

// State owns the submitted values of one form instance. Every mutation is
// applied under a single lock, so no consumer observes a half-moved grid.
// Listeners and events run after the lock is released.
type State struct {
	id        string
	registry  *Registry
	hidden    map[string]bool
	resolver  DefaultResolver
	evaluator Evaluator
	bus       *events.Bus
	logger    logging.Logger
	renderer  func(events.RowsChange)
	changes   *debounce.Debouncer

	mu     sync.RWMutex
	values map[string]any

	lmu           sync.RWMutex
	nextID        uint64
	changeFns     map[uint64]func(map[string]any)
	fieldFns      map[uint64]func(key string, value any)
	rowRemovedFns map[uint64]func(events.RowRemoved)
}

// effects are notifications collected under the value lock and emitted after.
type effects struct {
	removed []events.RowRemoved
	rows    []events.RowsChange
}

// NewState initializes the value map from fields and applies any
// prepopulated data.
func NewState(fields []blueprint.Field, opts ...Option) *State {
	cfg := &stateConfig{
		debounce: DefaultChangeDebounce,
		logger:   logging.DefaultLogger,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	s := &State{
		id:            cfg.id,
		registry:      BuildRegistry(fields),
		hidden:        make(map[string]bool, len(cfg.hidden)),
		resolver:      cfg.resolver,
		evaluator:     cfg.evaluator,
		bus:           cfg.bus,
		logger:        cfg.logger.With(logging.Form(cfg.id)),
		renderer:      cfg.renderer,
		values:        make(map[string]any),
		changeFns:     make(map[uint64]func(map[string]any)),
		fieldFns:      make(map[uint64]func(string, any)),
		rowRemovedFns: make(map[uint64]func(events.RowRemoved)),
	}
	for _, h := range cfg.hidden {
		s.hidden[h] = true
	}
	s.changes = debounce.New(cfg.debounce, cfg.clock, s.publishChanges)

	s.initialize()
	if len(cfg.prepopulate) > 0 {
		var fx effects
		s.mu.Lock()
		s.loadLocked(cfg.prepopulate, &fx)
		s.mu.Unlock()
		s.emit(fx)
	}

	// Consumers mounted alongside the form get one initial snapshot.
	s.changes.Trigger()
	return s
}

func (s *State) initialize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var grids []blueprint.Field
	for _, f := range s.registry.Top() {
		switch {
		case f.Group != nil:
			for _, n := range f.Group.Fields {
				s.values[GroupKey(f.Handle, n.Handle)] = s.resolver.Resolve(n)
			}
		case f.Grid != nil:
			grids = append(grids, f)
		default:
			s.values[f.Handle] = s.resolver.Resolve(f)
		}
	}

	// Grids go last so dynamic row controllers already hold their defaults.
	for _, g := range grids {
		count := s.initialRows(g.Grid)
		for i := 0; i < count; i++ {
			s.writeRowLocked(g, i)
		}
		s.values[CountKey(g.Handle)] = count
	}
}

func (s *State) initialRows(g *blueprint.GridConfig) int {
	if g.Fixed() {
		return g.FixedRows
	}
	if g.DynamicRowsField != "" {
		if n, ok := toInt(s.values[g.DynamicRowsField]); ok {
			return g.Clamp(n)
		}
	}
	n := 1
	if g.MinRows != nil && *g.MinRows > 0 {
		n = *g.MinRows
	}
	if max, ok := g.Ceiling(); ok && n > max {
		n = max
	}
	return n
}

// ID returns the form instance ID.
func (s *State) ID() string {
	return s.id
}

// Registry returns the field registry.
func (s *State) Registry() *Registry {
	return s.registry
}

// Fields returns the renderable top-level fields: hidden inputs and
// explicitly hidden handles are left out.
func (s *State) Fields() []blueprint.Field {
	var out []blueprint.Field
	for _, f := range s.registry.Top() {
		if f.Hidden() || s.hidden[f.Handle] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Value returns the value stored under key.
func (s *State) Value(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Values returns a snapshot of the value map, sentinels included.
func (s *State) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = cloneValue(v)
	}
	return out
}

// Keys returns the submittable keys in blueprint order.
func (s *State) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		if !IsCountKey(k) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return s.registry.SortKeys(keys)
}

// SetValue writes key. Only keys already in the value map are written, so
// sentinels, rows past the current row count and keys the blueprint does not
// declare are ignored. Writing a grid's dynamic row controller resizes that
// grid.
func (s *State) SetValue(key string, value any) {
	var fx effects

	s.mu.Lock()
	if !s.writableLocked(key) {
		s.mu.Unlock()
		s.logger.Debug("ignored write", logging.Key(key))
		return
	}
	s.values[key] = value
	for _, grid := range s.registry.ControlledGrids(key) {
		if n, ok := toInt(value); ok {
			s.resizeLocked(grid, n, &fx)
		}
	}
	s.mu.Unlock()

	s.emit(fx)
	s.fieldChanged(key, value)
	s.changes.Trigger()
}

func (s *State) writableLocked(key string) bool {
	if IsCountKey(key) {
		return false
	}
	_, ok := s.values[key]
	return ok
}

// ShouldShow reports whether the field behind key is visible. Unknown keys are
// hidden. A missing, failing or panicking evaluator shows the field.
func (s *State) ShouldShow(key string) bool {
	field, ok := s.registry.Resolve(key)
	if !ok {
		return false
	}
	if field.Conditions.Empty() || s.evaluator == nil {
		return true
	}
	return s.evaluate(field, key)
}

func (s *State) evaluate(field blueprint.Field, key string) (show bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("condition evaluator panicked, showing field",
				logging.Key(key), logging.Any("panic", r))
			show = true
		}
	}()

	show, err := s.evaluator.ShowField(field, s.Values(), key)
	if err != nil {
		s.logger.Debug("condition evaluator failed, showing field",
			logging.Key(key), logging.Err(err))
		return true
	}
	return show
}

// LoadPrepopulatedData overwrites keys that already exist. Unknown keys and
// row-count sentinels are dropped. Dynamic row controllers are applied first
// so rows they create can be filled by the same call. It returns the number
// of keys written.
func (s *State) LoadPrepopulatedData(data map[string]any) int {
	var fx effects

	s.mu.Lock()
	n := s.loadLocked(data, &fx)
	s.mu.Unlock()

	s.emit(fx)
	if n > 0 {
		s.changes.Trigger()
	}
	return n
}

func (s *State) loadLocked(data map[string]any, fx *effects) int {
	written := 0

	for key, value := range data {
		grids := s.registry.ControlledGrids(key)
		if len(grids) == 0 {
			continue
		}
		if _, ok := s.values[key]; !ok {
			continue
		}
		s.values[key] = value
		written++
		for _, grid := range grids {
			if n, ok := toInt(value); ok {
				s.resizeLocked(grid, n, fx)
			}
		}
	}

	for key, value := range data {
		if len(s.registry.ControlledGrids(key)) > 0 {
			continue
		}
		if _, ok := s.values[key]; !ok || IsCountKey(key) {
			s.logger.Debug("ignored prepopulated key", logging.Key(key))
			continue
		}
		s.values[key] = value
		written++
	}
	return written
}

// OnChange registers a listener for the debounced fields-changed stream. It
// receives a snapshot of the value map. The returned func unregisters it.
func (s *State) OnChange(fn func(values map[string]any)) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextID++
	id := s.nextID
	s.changeFns[id] = fn
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.changeFns, id)
	}
}

// OnFieldChange registers an undebounced listener for individual SetValue calls.
func (s *State) OnFieldChange(fn func(key string, value any)) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextID++
	id := s.nextID
	s.fieldFns[id] = fn
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.fieldFns, id)
	}
}

// OnRowRemoved registers a listener for grid row removals.
func (s *State) OnRowRemoved(fn func(events.RowRemoved)) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextID++
	id := s.nextID
	s.rowRemovedFns[id] = fn
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.rowRemovedFns, id)
	}
}

// FlushChanges delivers a pending fields-changed notification immediately.
func (s *State) FlushChanges() {
	s.changes.Flush()
}

// Close cancels any pending notification.
func (s *State) Close() {
	s.changes.Stop()
}

func (s *State) publishChanges() {
	snapshot := s.Values()

	s.lmu.RLock()
	fns := make([]func(map[string]any), 0, len(s.changeFns))
	for _, fn := range s.changeFns {
		fns = append(fns, fn)
	}
	s.lmu.RUnlock()

	for _, fn := range fns {
		fn(snapshot)
	}
	s.bus.Publish(events.Event{Name: events.FieldsChanged, Form: s.id, Payload: snapshot})
}

func (s *State) fieldChanged(key string, value any) {
	s.lmu.RLock()
	fns := make([]func(string, any), 0, len(s.fieldFns))
	for _, fn := range s.fieldFns {
		fns = append(fns, fn)
	}
	s.lmu.RUnlock()

	for _, fn := range fns {
		fn(key, value)
	}
}

func (s *State) emit(fx effects) {
	if len(fx.removed) > 0 {
		s.lmu.RLock()
		fns := make([]func(events.RowRemoved), 0, len(s.rowRemovedFns))
		for _, fn := range s.rowRemovedFns {
			fns = append(fns, fn)
		}
		s.lmu.RUnlock()

		for _, r := range fx.removed {
			for _, fn := range fns {
				fn(r)
			}
			s.bus.Publish(events.Event{Name: events.GridRowRemoved, Form: s.id, Payload: r})
		}
	}

	for _, change := range fx.rows {
		if s.renderer != nil {
			s.renderer(change)
		}
		s.bus.Publish(events.Event{Name: events.GridRows, Form: s.id, Payload: change})
	}
}
