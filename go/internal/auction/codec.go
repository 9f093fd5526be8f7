package auction

import (
	"encoding/json"
)

// jsonCodec lets connect carry plain Go structs. The service has no protobuf
// schema, so the default codecs do not apply.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
