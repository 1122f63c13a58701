// Package metrics counts form activity and exposes it in the Prometheus text
// format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gabrielmiguelok/easyforms/pkg/events"
)

// Metrics holds the form metrics.
type Metrics struct {
	namespace string

	SessionsActive *Gauge
	SessionsTotal  *Counter

	// CommandsTotal is labelled by op.
	CommandsTotal *CounterVec
	// CommandErrors is labelled by op.
	CommandErrors *CounterVec

	// EventsTotal is labelled by event name.
	EventsTotal   *CounterVec
	EventsDropped *Counter
}

// New creates a metrics set. Metric names are prefixed with namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		namespace:      namespace,
		SessionsActive: NewGauge("sessions_active", "Forms currently connected"),
		SessionsTotal:  NewCounter("sessions_total", "Forms mounted"),
		CommandsTotal:  NewCounterVec("commands_total", "Commands dispatched", "op"),
		CommandErrors:  NewCounterVec("command_errors_total", "Commands rejected as malformed", "op"),
		EventsTotal:    NewCounterVec("events_total", "Form events published", "event"),
		EventsDropped:  NewCounter("events_dropped_total", "Events dropped for slow clients"),
	}
}

// Observe counts every event published on bus.
func (m *Metrics) Observe(bus *events.Bus) (events.Subscription, error) {
	return bus.Subscribe(events.Wildcard, func(e events.Event) {
		m.EventsTotal.Inc(e.Name)
	})
}

// SessionOpened records a connected form.
func (m *Metrics) SessionOpened() {
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// SessionClosed records a disconnected form.
func (m *Metrics) SessionClosed() {
	m.SessionsActive.Dec()
}

// Command records one dispatched command.
func (m *Metrics) Command(op string, err error) {
	m.CommandsTotal.Inc(op)
	if err != nil {
		m.CommandErrors.Inc(op)
	}
}

// Handler returns an HTTP handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_ = m.Write(w)
	})
}

// Write writes every metric in the Prometheus text format.
func (m *Metrics) Write(w io.Writer) error {
	for _, c := range []*Counter{m.SessionsTotal, m.EventsDropped} {
		if err := m.writeHeader(w, c.name, c.help, "counter"); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_%s %d\n", m.namespace, c.name, c.Value()); err != nil {
			return err
		}
	}

	if err := m.writeHeader(w, m.SessionsActive.name, m.SessionsActive.help, "gauge"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s_%s %d\n", m.namespace, m.SessionsActive.name, m.SessionsActive.Value()); err != nil {
		return err
	}

	for _, cv := range []*CounterVec{m.CommandsTotal, m.CommandErrors, m.EventsTotal} {
		if err := m.writeHeader(w, cv.name, cv.help, "counter"); err != nil {
			return err
		}
		values := cv.Values()
		labels := make([]string, 0, len(values))
		for label := range values {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			if _, err := fmt.Fprintf(w, "%s_%s{%s=%q} %d\n", m.namespace, cv.name, cv.label, label, values[label]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Metrics) writeHeader(w io.Writer, name, help, typ string) error {
	full := m.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", full, help, full, typ)
	return err
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// NewCounter creates a new counter.
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

// NewGauge creates a new gauge.
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

// CounterVec is a counter with one label.
type CounterVec struct {
	name   string
	help   string
	label  string
	values map[string]*Counter
	mu     sync.RWMutex
}

// NewCounterVec creates a new counter vector.
func NewCounterVec(name, help, label string) *CounterVec {
	return &CounterVec{
		name:   name,
		help:   help,
		label:  label,
		values: make(map[string]*Counter),
	}
}

// WithLabel returns the counter for the given label value.
func (cv *CounterVec) WithLabel(value string) *Counter {
	cv.mu.RLock()
	c, ok := cv.values[value]
	cv.mu.RUnlock()
	if ok {
		return c
	}

	cv.mu.Lock()
	defer cv.mu.Unlock()
	if c, ok := cv.values[value]; ok {
		return c
	}
	c = NewCounter(cv.name, cv.help)
	cv.values[value] = c
	return c
}

// Inc increments the counter for the given label.
func (cv *CounterVec) Inc(label string) {
	cv.WithLabel(label).Inc()
}

// Values returns all counter values.
func (cv *CounterVec) Values() map[string]int64 {
	cv.mu.RLock()
	defer cv.mu.RUnlock()

	result := make(map[string]int64, len(cv.values))
	for label, counter := range cv.values {
		result[label] = counter.Value()
	}
	return result
}
