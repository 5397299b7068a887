package server

import (
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm/wire"
)

// CodecName is the content subtype of the service: application/cbor for the
// Connect protocol and application/grpc+cbor for gRPC.
const CodecName = "cbor"

// Codec encodes service messages as canonical CBOR. It satisfies both
// connect.Codec and grpc's encoding.Codec.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) { return wire.Marshal(v) }

func (Codec) Unmarshal(data []byte, v any) error { return wire.Unmarshal(data, v) }
