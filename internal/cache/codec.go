package cache

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"tagcache-service/internal/config"
)

// Codec serializes values at the cache boundary. The store only ever
// sees opaque bytes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// NewCodec resolves the configured codec, defaulting to JSON.
func NewCodec(kind config.Codec) Codec {
	if kind == config.CodecMsgpack {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(d []byte, v any) error { return json.Unmarshal(d, v) }
func (jsonCodec) Name() string                    { return "json" }

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error)   { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(d []byte, v any) error { return msgpack.Unmarshal(d, v) }
func (msgpackCodec) Name() string                    { return "msgpack" }
