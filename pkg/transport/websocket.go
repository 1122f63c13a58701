package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/gabrielmiguelok/easyforms/pkg/logging"
	"github.com/gabrielmiguelok/easyforms/pkg/metrics"
)

// WebSocketHandler mounts a form per connection and bridges it over a
// WebSocket. The codec follows the negotiated subprotocol.
type WebSocketHandler struct {
	factory Factory
	config  Config
	opts    handlerOptions
	logger  logging.Logger
}

// HandlerOption configures a handler.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	logger  logging.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the handler logger.
func WithLogger(logger logging.Logger) HandlerOption {
	return func(o *handlerOptions) {
		o.logger = logger
	}
}

// WithMetrics counts sessions, commands and events into m.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(o *handlerOptions) {
		o.metrics = m
	}
}

func applyOptions(opts []HandlerOption) handlerOptions {
	o := handlerOptions{logger: logging.DefaultLogger}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewWebSocketHandler creates a WebSocket bridge.
func NewWebSocketHandler(factory Factory, config Config, opts ...HandlerOption) (*WebSocketHandler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return &WebSocketHandler{factory: factory, config: config, opts: o, logger: o.logger}, nil
}

// acceptOptions lets coder/websocket repeat the origin check for the
// configured cross-origin hosts.
func (h *WebSocketHandler) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{
		Subprotocols:       []string{SubprotocolMsgPack, SubprotocolJSON},
		InsecureSkipVerify: h.config.InsecureDevMode,
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" {
			opts.OriginPatterns = append(opts.OriginPatterns, "*")
			continue
		}
		if u, err := url.Parse(allowed); err == nil && u.Host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, u.Host)
		}
	}
	return opts
}

// ServeHTTP upgrades the request and runs the bridge until either side
// closes.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.config.originAllowed(r.Header.Get("Origin"), r.Host) {
		h.logger.Warn("websocket origin rejected", logging.String("origin", r.Header.Get("Origin")))
		http.Error(w, "Forbidden: Origin not allowed", http.StatusForbidden)
		return
	}

	form, err := h.factory(r)
	if err != nil {
		h.logger.Error("mount form", logging.Err(err))
		http.Error(w, "form unavailable", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		form.Close()
		h.logger.Warn("accept websocket", logging.Err(err))
		return
	}
	conn.SetReadLimit(h.config.MaxMessageSize)

	sess, err := newSession(form, h.config.SendBufferSize, h.opts)
	if err != nil {
		form.Close()
		conn.Close(websocket.StatusInternalError, "session")
		return
	}
	defer sess.close()

	codec := CodecFor(conn.Subprotocol())
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess.logger.Debug("websocket connected", logging.String("codec", codec.Name()))

	go h.writeLoop(ctx, cancel, conn, codec, sess)
	if h.config.PingInterval > 0 {
		go h.pingLoop(ctx, conn)
	}

	if err := sess.send(ctx, Frame{Type: FrameHello, Form: form.ID()}); err != nil {
		return
	}
	err = h.readLoop(ctx, conn, codec, sess)

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		sess.logger.Debug("websocket closed", logging.Err(err))
	}
	conn.Close(websocket.StatusInternalError, "closing")
}

func (h *WebSocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, codec Codec, sess *session) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var req Request
		if err := codec.Decode(data, &req); err != nil {
			if err := sess.send(ctx, Frame{Type: FrameReply, Error: ErrInvalidMessage.Error()}); err != nil {
				return err
			}
			continue
		}

		if err := sess.send(ctx, sess.handle(ctx, req)); err != nil {
			return err
		}
	}
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, codec Codec, sess *session) {
	defer cancel()

	typ := websocket.MessageText
	if codec.Binary() {
		typ = websocket.MessageBinary
	}

	for {
		select {
		case f := <-sess.out:
			data, err := codec.Encode(f)
			if err != nil {
				sess.logger.Error("encode frame", logging.String("type", f.Type), logging.Err(err))
				continue
			}

			wctx, wcancel := context.WithTimeout(ctx, h.config.WriteTimeout)
			err = conn.Write(wctx, typ, data)
			wcancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.config.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
