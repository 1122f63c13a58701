package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
	"github.com/gabrielmiguelok/easyforms/pkg/engine"
	"github.com/gabrielmiguelok/easyforms/pkg/events"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
)

const contactYAML = `
title: Contact
fields:
  - handle: email
    field:
      type: text
      validate: required|email
`

func newCMS(t *testing.T) string {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/!/forms/{form}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server.URL + "/!/forms/contact"
}

func contactFactory(t *testing.T, action string) Factory {
	t.Helper()
	bp, err := blueprint.Parse([]byte(contactYAML))
	require.NoError(t, err)
	bp.Handle = "contact"

	cfg := engine.DefaultConfig()
	cfg.Submit.Action = action
	cfg.Submit.CSRFToken = "csrf"

	return func(r *http.Request) (*engine.Form, error) {
		return engine.New(bp, cfg, engine.WithLogger(logging.NopLogger{}))
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PingInterval = 0
	return cfg
}

func TestConfig_OriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		origin  string
		host    string
		allowed bool
	}{
		{name: "no origin header", origin: "", host: "example.com", allowed: true},
		{name: "same origin", origin: "https://example.com", host: "example.com", allowed: true},
		{name: "same origin with port", origin: "http://localhost:8080", host: "localhost:8080", allowed: true},
		{name: "cross-origin blocked by default", origin: "https://other-site.com", host: "example.com"},
		{name: "malformed origin", origin: "::not a url", host: "example.com"},
		{
			name:    "explicitly allowed origin",
			config:  Config{AllowedOrigins: []string{"https://trusted.com"}},
			origin:  "https://trusted.com",
			host:    "example.com",
			allowed: true,
		},
		{
			name:   "origin not in list",
			config: Config{AllowedOrigins: []string{"https://trusted.com"}},
			origin: "https://attacker.com",
			host:   "example.com",
		},
		{
			name:    "wildcard",
			config:  Config{AllowedOrigins: []string{"*"}},
			origin:  "https://anywhere.com",
			host:    "example.com",
			allowed: true,
		},
		{
			name:    "dev mode",
			config:  Config{InsecureDevMode: true},
			origin:  "https://attacker.com",
			host:    "example.com",
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.config.originAllowed(tt.origin, tt.host))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.WriteTimeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidWriteTimeout)

	cfg = DefaultConfig()
	cfg.PingInterval = -time.Second
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidPingInterval)

	cfg = DefaultConfig()
	cfg.MaxMessageSize = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidMessageSize)

	cfg = DefaultConfig()
	cfg.SendBufferSize = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidBufferSize)

	_, err := NewWebSocketHandler(nil, cfg)
	assert.ErrorIs(t, err, ErrInvalidBufferSize)
}

func TestWebSocket_RejectsInvalidOrigin(t *testing.T) {
	mounted := false
	factory := func(r *http.Request) (*engine.Form, error) {
		mounted = true
		return nil, nil
	}
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://allowed.com"}
	h, err := NewWebSocketHandler(factory, cfg, WithLogger(logging.NopLogger{}))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://attacker.com")
	req.Host = "example.com"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, mounted)
}

type client struct {
	t     *testing.T
	conn  *websocket.Conn
	codec Codec
}

func dial(t *testing.T, h http.Handler, subprotocol string) *client {
	t.Helper()
	r := chi.NewRouter()
	r.Handle("/ws", h)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{subprotocol}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	return &client{t: t, conn: conn, codec: CodecFor(conn.Subprotocol())}
}

func (c *client) send(req Request) {
	c.t.Helper()
	data, err := c.codec.Encode(req)
	require.NoError(c.t, err)

	typ := websocket.MessageText
	if c.codec.Binary() {
		typ = websocket.MessageBinary
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, typ, data))
}

func (c *client) read() Frame {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)

	var f Frame
	require.NoError(c.t, c.codec.Decode(data, &f))
	return f
}

// reply reads frames until the reply to ref, returning the event names seen
// on the way.
func (c *client) reply(ref string) (Frame, []string) {
	c.t.Helper()
	var seen []string
	for {
		f := c.read()
		switch f.Type {
		case FrameEvent:
			require.NotNil(c.t, f.Event)
			seen = append(seen, f.Event.Name)
		case FrameReply:
			if f.Ref == ref {
				return f, seen
			}
		}
	}
}

func TestWebSocket_Bridge(t *testing.T) {
	for _, subprotocol := range []string{SubprotocolJSON, SubprotocolMsgPack} {
		t.Run(subprotocol, func(t *testing.T) {
			h, err := NewWebSocketHandler(contactFactory(t, newCMS(t)), testConfig(), WithLogger(logging.NopLogger{}))
			require.NoError(t, err)
			c := dial(t, h, subprotocol)
			assert.Equal(t, subprotocol, c.conn.Subprotocol())

			hello := c.read()
			assert.Equal(t, FrameHello, hello.Type)
			assert.NotEmpty(t, hello.Form)

			c.send(Request{Ref: "1", Command: engine.Command{Op: engine.OpSet, Key: "email", Value: "ada@example.com"}})
			reply, _ := c.reply("1")
			assert.True(t, reply.OK)
			assert.Empty(t, reply.Error)

			c.send(Request{Ref: "2", Command: engine.Command{Op: engine.OpSubmit}})
			reply, seen := c.reply("2")
			assert.True(t, reply.OK)
			assert.Contains(t, seen, events.FormSubmit)
			assert.Contains(t, seen, events.FormSuccess)

			c.send(Request{Ref: "3", Command: engine.Command{Op: "explode"}})
			reply, _ = c.reply("3")
			assert.False(t, reply.OK)
			assert.Contains(t, reply.Error, engine.ErrUnknownOp.Error())
		})
	}
}

func TestWebSocket_InvalidFrame(t *testing.T) {
	h, err := NewWebSocketHandler(contactFactory(t, newCMS(t)), testConfig(), WithLogger(logging.NopLogger{}))
	require.NoError(t, err)
	c := dial(t, h, SubprotocolJSON)
	require.Equal(t, FrameHello, c.read().Type)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	reply, _ := c.reply("")
	assert.Equal(t, ErrInvalidMessage.Error(), reply.Error)
}

func TestCodecFor(t *testing.T) {
	assert.Equal(t, "msgpack", CodecFor(SubprotocolMsgPack).Name())
	assert.True(t, CodecFor(SubprotocolMsgPack).Binary())
	assert.Equal(t, "json", CodecFor(SubprotocolJSON).Name())
	assert.Equal(t, "json", CodecFor("").Name())
	assert.False(t, CodecFor("").Binary())
}

func TestCodec_FrameShape(t *testing.T) {
	in := Frame{Type: FrameEvent, Event: &events.Event{Name: events.FieldsChanged, Form: "f1"}}
	for _, codec := range []Codec{JSONCodec{}, MsgPackCodec{}} {
		data, err := codec.Encode(in)
		require.NoError(t, err)

		var out Frame
		require.NoError(t, codec.Decode(data, &out), codec.Name())
		assert.Equal(t, FrameEvent, out.Type, codec.Name())
		require.NotNil(t, out.Event, codec.Name())
		assert.Equal(t, events.FieldsChanged, out.Event.Name, codec.Name())
		assert.Equal(t, "f1", out.Event.Form, codec.Name())
	}
}
