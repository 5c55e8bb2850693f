package instancepb

import "encoding/json"

// Codec is a gRPC codec that encodes messages as JSON. When forced on a
// call or a server it sets the wire content-type to application/grpc+json.
// Both sides of the protocol use it, so no proto descriptors are needed.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Name returns "json", which determines the gRPC wire content-type.
func (Codec) Name() string { return "json" }
