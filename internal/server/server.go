// Package server serves blueprints to the browser over the form transports.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
	"github.com/gabrielmiguelok/easyforms/pkg/engine"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
	"github.com/gabrielmiguelok/easyforms/pkg/metrics"
	"github.com/gabrielmiguelok/easyforms/pkg/tracking"
	"github.com/gabrielmiguelok/easyforms/pkg/transport"
)

// Config configures the server.
type Config struct {
	Addr string

	// Form configures every mounted form. Form.Submit.Action may contain
	// "{handle}", replaced by the blueprint handle.
	Form      engine.Config
	Transport transport.Config

	ShutdownTimeout time.Duration
}

// DefaultConfig returns default configuration with the EASY_FORMS_*
// environment applied.
func DefaultConfig() Config {
	return Config{
		Addr:            ":3000",
		Form:            engine.ConfigFromEnv(),
		Transport:       transport.DefaultConfig(),
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server mounts one form per connection for each registered blueprint.
type Server struct {
	config     Config
	logger     logging.Logger
	blueprints map[string]*blueprint.Blueprint
	metrics    *metrics.Metrics
	router     chi.Router
}

// New builds the routes for bps. Handles must be unique.
func New(config Config, logger logging.Logger, bps ...*blueprint.Blueprint) (*Server, error) {
	if logger == nil {
		logger = logging.DefaultLogger
	}
	if err := config.Transport.Validate(); err != nil {
		return nil, fmt.Errorf("transport config: %w", err)
	}

	s := &Server{
		config:     config,
		logger:     logger,
		blueprints: make(map[string]*blueprint.Blueprint, len(bps)),
		metrics:    metrics.New("easyforms"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(tracking.Middleware(config.Form.Tracking, logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	for _, bp := range bps {
		if bp.Handle == "" {
			return nil, blueprint.ErrMissingHandle
		}
		if _, dup := s.blueprints[bp.Handle]; dup {
			return nil, fmt.Errorf("%w: %s", blueprint.ErrDuplicateHandle, bp.Handle)
		}
		s.blueprints[bp.Handle] = bp

		if err := s.mount(r, bp); err != nil {
			return nil, err
		}
	}

	s.router = r
	return s, nil
}

func (s *Server) mount(r chi.Router, bp *blueprint.Blueprint) error {
	cfg := s.config.Form
	cfg.Submit.Action = expandAction(cfg.Submit.Action, bp.Handle)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("form %s: %w", bp.Handle, err)
	}

	factory := func(r *http.Request) (*engine.Form, error) {
		opts := []engine.Option{engine.WithLogger(s.logger)}
		if store := tracking.FromContext(r.Context()); store != nil {
			opts = append(opts, engine.WithTracking(store))
		}
		return engine.New(bp, cfg, opts...)
	}

	opts := []transport.HandlerOption{transport.WithLogger(s.logger), transport.WithMetrics(s.metrics)}
	ws, err := transport.NewWebSocketHandler(factory, s.config.Transport, opts...)
	if err != nil {
		return err
	}
	sse, err := transport.NewSSEHandler(factory, s.config.Transport, opts...)
	if err != nil {
		return err
	}

	r.Route("/forms/"+bp.Handle, func(r chi.Router) {
		r.Get("/", s.handleDescribe(bp))
		r.Get("/ws", ws.ServeHTTP)
		r.Get("/events", sse.ServeHTTP)
		r.Post("/commands", sse.HandleCommand)
	})
	return nil
}

func expandAction(action, handle string) string {
	return strings.ReplaceAll(action, "{handle}", handle)
}

// Description is what GET /forms/{handle}/ answers: the blueprint as the
// rendering layer needs it before connecting.
type Description struct {
	Handle string `json:"handle"`
	Title  string `json:"title,omitempty"`
	Steps  []Step `json:"steps"`
}

// Step is one section of a description.
type Step struct {
	Display string   `json:"display,omitempty"`
	Fields  []string `json:"fields"`
}

func describe(bp *blueprint.Blueprint) Description {
	d := Description{Handle: bp.Handle, Title: bp.Title}
	for _, section := range bp.Sections {
		step := Step{Display: section.Display, Fields: []string{}}
		for _, f := range section.Fields {
			if f.Hidden() {
				continue
			}
			step.Fields = append(step.Fields, f.Handle)
		}
		d.Steps = append(d.Steps, step)
	}
	return d
}

func (s *Server) handleDescribe(bp *blueprint.Blueprint) http.HandlerFunc {
	d := describe(bp)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d); err != nil {
			s.logger.Warn("write description", logging.Err(err))
		}
	}
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			logging.String("addr", s.config.Addr),
			logging.Int("forms", len(s.blueprints)))
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
