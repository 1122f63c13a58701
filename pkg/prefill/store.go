// Package prefill stores prepopulation data for forms: values a form should
// start with, saved by one request (a CRM lookup, a previous draft) and loaded
// when the form is mounted.
package prefill

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrStoreClosed = errors.New("store is closed")
	ErrInvalidData = errors.New("invalid data format")
)

// Store is a byte-level key/value backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value. A zero ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
	Close() error
}

// Serializer encodes records for a Store.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Record is the stored prepopulation payload.
type Record struct {
	Form    string         `json:"form" msgpack:"form"`
	Values  map[string]any `json:"values" msgpack:"values"`
	SavedAt time.Time      `json:"saved_at" msgpack:"saved_at"`
}

// Manager saves and loads Records under a key prefix.
type Manager struct {
	store      Store
	serializer Serializer
	keyPrefix  string
	defaultTTL time.Duration
	now        func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) ManagerOption {
	return func(m *Manager) {
		m.keyPrefix = prefix
	}
}

// WithDefaultTTL sets how long saved records live.
func WithDefaultTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.defaultTTL = ttl
	}
}

// WithSerializer replaces the msgpack serializer.
func WithSerializer(s Serializer) ManagerOption {
	return func(m *Manager) {
		m.serializer = s
	}
}

// NewManager creates a manager over store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		serializer: NewMsgPackSerializer(),
		keyPrefix:  "easyforms:prefill:",
		defaultTTL: 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Save stores values for form under key.
func (m *Manager) Save(ctx context.Context, key, form string, values map[string]any) error {
	data, err := m.serializer.Marshal(Record{Form: form, Values: values, SavedAt: m.now()})
	if err != nil {
		return fmt.Errorf("encode prefill %q: %w", key, err)
	}
	return m.store.Set(ctx, m.keyPrefix+key, data, m.defaultTTL)
}

// Load returns the record saved under key.
func (m *Manager) Load(ctx context.Context, key string) (*Record, error) {
	data, err := m.store.Get(ctx, m.keyPrefix+key)
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := m.serializer.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &rec, nil
}

// Delete removes the record saved under key.
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.store.Delete(ctx, m.keyPrefix+key)
}
