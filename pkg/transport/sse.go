package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gabrielmiguelok/easyforms/pkg/logging"
)

// SSEHandler is the fallback bridge for clients without WebSocket. GET
// streams the form's frames as Server-Sent Events; the first one is a hello
// carrying the form ID. Commands are POSTed to HandleCommand with that ID in
// the "form" query parameter and answered in the response body.
type SSEHandler struct {
	factory Factory
	config  Config
	opts    handlerOptions
	logger  logging.Logger
	codec   JSONCodec

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewSSEHandler creates an SSE bridge.
func NewSSEHandler(factory Factory, config Config, opts ...HandlerOption) (*SSEHandler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return &SSEHandler{
		factory:  factory,
		config:   config,
		opts:     o,
		logger:   o.logger,
		sessions: make(map[string]*session),
	}, nil
}

// cors sets CORS headers only for explicitly allowed cross-origin pages.
func (h *SSEHandler) cors(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if !h.config.originAllowed(origin, r.Host) {
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	return true
}

// ServeHTTP streams frames until the client goes away.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	if !h.cors(w, r) {
		http.Error(w, "Forbidden: Origin not allowed", http.StatusForbidden)
		return
	}

	form, err := h.factory(r)
	if err != nil {
		h.logger.Error("mount form", logging.Err(err))
		http.Error(w, "form unavailable", http.StatusInternalServerError)
		return
	}
	sess, err := newSession(form, h.config.SendBufferSize, h.opts)
	if err != nil {
		form.Close()
		http.Error(w, "form unavailable", http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.sessions[form.ID()] = sess
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, form.ID())
		h.mu.Unlock()
		sess.close()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var id int64
	write := func(f Frame) error {
		id++
		return h.writeEvent(w, flusher, id, f)
	}
	if err := write(Frame{Type: FrameHello, Form: form.ID()}); err != nil {
		return
	}

	var heartbeat <-chan time.Time
	if h.config.PingInterval > 0 {
		ticker := time.NewTicker(h.config.PingInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case f := <-sess.out:
			if err := write(f); err != nil {
				return
			}
		case <-heartbeat:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeEvent writes one frame. Event frames are named after the form event
// so EventSource listeners can subscribe per name.
func (h *SSEHandler) writeEvent(w http.ResponseWriter, flusher http.Flusher, id int64, f Frame) error {
	data, err := h.codec.Encode(f)
	if err != nil {
		return err
	}

	name := f.Type
	if f.Type == FrameEvent && f.Event != nil {
		name = f.Event.Name
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, name, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// HandleCommand dispatches one POSTed Request to the streaming session of
// the form named by the "form" query parameter.
func (h *SSEHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if !h.cors(w, r) {
		http.Error(w, "Forbidden: Origin not allowed", http.StatusForbidden)
		return
	}

	formID := r.URL.Query().Get("form")
	if formID == "" {
		http.Error(w, "form required", http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	sess, ok := h.sessions[formID]
	h.mu.RUnlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var req Request
	body := http.MaxBytesReader(w, r.Body, h.config.MaxMessageSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidMessage.Error(), http.StatusBadRequest)
		return
	}

	reply := sess.handle(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	if reply.Error != "" {
		w.WriteHeader(http.StatusBadRequest)
	}
	_ = json.NewEncoder(w).Encode(reply)
}

// Sessions returns the number of open streams.
func (h *SSEHandler) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
