package serializer

import "encoding/json"

// JSON is the default codec. Values that cannot be represented as JSON
// (channels, funcs, cyclic structures) fail with a serializer.Error.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, &Error{Serializer: "json", Op: "encode", Err: err}
	}

	return data, nil
}

func (JSON) Decode(data []byte) (any, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, &Error{Serializer: "json", Op: "decode", Err: err}
	}

	return value, nil
}
