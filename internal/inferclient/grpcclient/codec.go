package grpcclient

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with google.golang.org/grpc/encoding so every RPC
// on a connection configured with grpc.CallContentSubtype(codecName) is
// framed and parsed as JSON instead of protobuf wire format. This lets the
// client talk gRPC's HTTP/2 framing and flow control without a protoc code
// generation step: message types are plain Go structs with json tags.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}
