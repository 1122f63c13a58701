package transport

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// WebSocket subprotocols, one per codec.
const (
	SubprotocolJSON    = "easyforms.json"
	SubprotocolMsgPack = "easyforms.msgpack"
)

// Codec encodes frames on the wire.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error

	// Name returns the codec name.
	Name() string

	// Binary reports whether frames are binary rather than text.
	Binary() bool
}

// JSONCodec implements Codec using JSON encoding.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (JSONCodec) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                    { return "json" }
func (JSONCodec) Binary() bool                    { return false }

// MsgPackCodec implements Codec using MessagePack encoding.
type MsgPackCodec struct{}

func (MsgPackCodec) Encode(v any) ([]byte, error)    { return msgpack.Marshal(v) }
func (MsgPackCodec) Decode(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (MsgPackCodec) Name() string                    { return "msgpack" }
func (MsgPackCodec) Binary() bool                    { return true }

// CodecFor returns the codec negotiated by subprotocol. Anything else,
// including no subprotocol, speaks JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgPack {
		return MsgPackCodec{}
	}
	return JSONCodec{}
}
