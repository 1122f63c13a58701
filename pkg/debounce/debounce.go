// Package debounce coalesces bursts of calls into a single call after a quiet
// period. Timers come from an injectable Clock so callers can test timing
// deterministically.
package debounce

import (
	"sync"
	"time"
)

// Clock abstracts the timer source.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer runs fn once after Trigger has not been called for delay.
type Debouncer struct {
	clock Clock
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer Timer
	gen   uint64
}

// New creates a debouncer. A nil clock uses RealClock.
func New(delay time.Duration, clock Clock, fn func()) *Debouncer {
	if clock == nil {
		clock = RealClock()
	}
	return &Debouncer{clock: clock, delay: delay, fn: fn}
}

// Trigger (re)starts the quiet period.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// A Stop that lost the race with the timer leaves a stale generation.
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}

// Flush runs fn immediately if a call is pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	d.mu.Unlock()

	d.fn()
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels any pending call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// Group keeps one independent debouncer per key, so activity on one key never
// delays or cancels another key's pending call.
type Group struct {
	clock Clock
	delay time.Duration

	mu    sync.Mutex
	items map[string]*Debouncer
	fns   map[string]func()
}

// NewGroup creates a keyed debounce group.
func NewGroup(delay time.Duration, clock Clock) *Group {
	if clock == nil {
		clock = RealClock()
	}
	return &Group{
		clock: clock,
		delay: delay,
		items: make(map[string]*Debouncer),
		fns:   make(map[string]func()),
	}
}

// Trigger schedules fn for key, replacing any pending call for the same key.
func (g *Group) Trigger(key string, fn func()) {
	g.mu.Lock()
	g.fns[key] = fn
	d, ok := g.items[key]
	if !ok {
		d = New(g.delay, g.clock, func() { g.run(key) })
		g.items[key] = d
	}
	g.mu.Unlock()

	d.Trigger()
}

func (g *Group) run(key string) {
	g.mu.Lock()
	fn := g.fns[key]
	delete(g.fns, key)
	g.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Pending reports whether key has a scheduled call.
func (g *Group) Pending(key string) bool {
	g.mu.Lock()
	d, ok := g.items[key]
	g.mu.Unlock()
	return ok && d.Pending()
}

// Stop cancels every pending call.
func (g *Group) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, d := range g.items {
		d.Stop()
	}
	g.fns = make(map[string]func())
}
