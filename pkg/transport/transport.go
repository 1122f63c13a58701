// Package transport bridges a mounted form to the browser. Form events are
// streamed to the client and client frames are dispatched as form commands,
// over WebSocket or, as a fallback, Server-Sent Events plus POST.
package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabrielmiguelok/easyforms/pkg/engine"
	"github.com/gabrielmiguelok/easyforms/pkg/events"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
	"github.com/gabrielmiguelok/easyforms/pkg/metrics"
)

var (
	ErrOriginNotAllowed = errors.New("origin not allowed")
	ErrSessionClosed    = errors.New("session closed")
	ErrInvalidMessage   = errors.New("invalid message format")
)

// Frame types.
const (
	FrameHello = "hello"
	FrameEvent = "event"
	FrameReply = "reply"
)

// Factory mounts the form a connection talks to.
type Factory func(r *http.Request) (*engine.Form, error)

// Frame is one server-to-client message.
type Frame struct {
	Type string `json:"t" msgpack:"t"`

	// Form is the instance ID, sent with hello.
	Form string `json:"form,omitempty" msgpack:"form,omitempty"`

	Event *events.Event `json:"event,omitempty" msgpack:"event,omitempty"`

	// Ref echoes the request a reply answers.
	Ref   string `json:"ref,omitempty" msgpack:"ref,omitempty"`
	OK    bool   `json:"ok,omitempty" msgpack:"ok,omitempty"`
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Request is one client-to-server message.
type Request struct {
	Ref     string         `json:"ref,omitempty" msgpack:"ref,omitempty"`
	Command engine.Command `json:"command" msgpack:"command"`
}

// Config holds bridge configuration.
type Config struct {
	// AllowedOrigins lists cross-origin pages allowed to connect. Same-origin
	// requests are always allowed; "*" allows every origin.
	AllowedOrigins []string

	// InsecureDevMode disables origin validation. Development only.
	InsecureDevMode bool

	WriteTimeout time.Duration

	// PingInterval is how often keepalives are sent. Zero disables them.
	PingInterval time.Duration

	// MaxMessageSize is the largest accepted client frame in bytes.
	MaxMessageSize int64

	// SendBufferSize is how many frames may wait for a slow client before
	// events are dropped.
	SendBufferSize int
}

// DefaultConfig returns secure defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 512 * 1024,
		SendBufferSize: 256,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.WriteTimeout <= 0 {
		return ErrInvalidWriteTimeout
	}
	if c.PingInterval < 0 {
		return ErrInvalidPingInterval
	}
	if c.MaxMessageSize <= 0 {
		return ErrInvalidMessageSize
	}
	if c.SendBufferSize <= 0 {
		return ErrInvalidBufferSize
	}
	return nil
}

// Configuration errors.
var (
	ErrInvalidWriteTimeout = configError("write timeout must be positive")
	ErrInvalidPingInterval = configError("ping interval must not be negative")
	ErrInvalidMessageSize  = configError("max message size must be positive")
	ErrInvalidBufferSize   = configError("send buffer size must be positive")
)

type configError string

func (e configError) Error() string { return string(e) }

// originAllowed checks the Origin header against the request host and the
// configured origins.
func (c Config) originAllowed(origin, host string) bool {
	if c.InsecureDevMode || origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Host == host {
		return true
	}

	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if a, err := url.Parse(allowed); err == nil && a.Host != "" && a.Host == u.Host {
			return true
		}
	}
	return false
}

// session connects one form to one client. Events are queued without
// blocking the publisher; a client too slow to drain the queue loses events,
// never replies.
type session struct {
	form    *engine.Form
	logger  logging.Logger
	metrics *metrics.Metrics
	subs    []events.Subscription

	out     chan Frame
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func newSession(form *engine.Form, buffer int, o handlerOptions) (*session, error) {
	s := &session{
		form:    form,
		logger:  o.logger.With(logging.Form(form.ID())),
		metrics: o.metrics,
		out:     make(chan Frame, buffer),
		done:    make(chan struct{}),
	}

	sub, err := form.Bus().Subscribe(events.Wildcard, s.forward)
	if err != nil {
		return nil, err
	}
	s.subs = append(s.subs, sub)

	if s.metrics != nil {
		sub, err := s.metrics.Observe(form.Bus())
		if err != nil {
			_ = s.subs[0].Unsubscribe()
			return nil, err
		}
		s.subs = append(s.subs, sub)
		s.metrics.SessionOpened()
	}
	return s, nil
}

func (s *session) forward(e events.Event) {
	select {
	case s.out <- Frame{Type: FrameEvent, Event: &e}:
	case <-s.done:
	default:
		if s.metrics != nil {
			s.metrics.EventsDropped.Inc()
		}
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("client too slow, dropping events",
				logging.String("event", e.Name), logging.Int("dropped", int(n)))
		}
	}
}

// send queues f, waiting for room.
func (s *session) send(ctx context.Context, f Frame) error {
	select {
	case s.out <- f:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handle dispatches req and builds its reply.
func (s *session) handle(ctx context.Context, req Request) Frame {
	reply := Frame{Type: FrameReply, Ref: req.Ref}

	ok, err := s.form.Dispatch(ctx, req.Command)
	if s.metrics != nil {
		s.metrics.Command(req.Command.Op, err)
	}
	if err != nil {
		s.logger.Debug("command rejected", logging.String("op", req.Command.Op), logging.Err(err))
		reply.Error = err.Error()
		return reply
	}
	reply.OK = ok
	return reply
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		for _, sub := range s.subs {
			_ = sub.Unsubscribe()
		}
		if s.metrics != nil {
			s.metrics.SessionClosed()
		}
		s.form.Close()
	})
}
