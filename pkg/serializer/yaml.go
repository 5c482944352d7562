package serializer

import "gopkg.in/yaml.v3"

// YAML exists for human-inspectable artifacts, e.g. config snapshots
// written next to run outputs.
type YAML struct{}

func (YAML) Name() string { return "yaml" }

func (YAML) Encode(value any) ([]byte, error) {
	data, err := yaml.Marshal(value)
	if err != nil {
		return nil, &Error{Serializer: "yaml", Op: "encode", Err: err}
	}

	return data, nil
}

func (YAML) Decode(data []byte) (any, error) {
	var value any
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, &Error{Serializer: "yaml", Op: "decode", Err: err}
	}

	return value, nil
}
