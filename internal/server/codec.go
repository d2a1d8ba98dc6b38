package server

import "encoding/json"

// jsonCodec carries service messages as JSON, so the service needs no
// generated protobuf code. Both ends force it, whatever content-subtype the
// peer announces.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}
