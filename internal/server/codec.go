package server

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// JSONCodec carries ledger messages as JSON on the gRPC transport. The API
// has no protobuf definitions; the message types live in api.go.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}
