// Package serializer provides the pluggable value codecs used by the
// object store and the artifact tier.
package serializer

import "fmt"

// Serializer turns arbitrary values into bytes and back. Decode returns a
// generic value (maps, slices, scalars); callers re-shape as needed.
type Serializer interface {
	Name() string
	Encode(value any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Error wraps a codec failure so callers can distinguish "value cannot be
// serialized" from storage problems.
type Error struct {
	Serializer string
	Op         string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Serializer, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var registered = map[string]Serializer{}

// Register makes a serializer available by name. Later registrations with
// the same name win, which lets deployments swap the default codec.
func Register(s Serializer) {
	registered[s.Name()] = s
}

// Get returns the serializer registered under name, or false.
func Get(name string) (Serializer, bool) {
	s, ok := registered[name]

	return s, ok
}

func init() {
	Register(JSON{})
	Register(YAML{})
}
