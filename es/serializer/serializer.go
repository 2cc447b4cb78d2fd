// Package serializer converts event payloads to and from byte representations.
//
// Two representations ship with the package: "json" (encoding/json) and
// "msgpack" (github.com/vmihailenco/msgpack/v5). Typed decoding goes through a
// TypeRegistry mapping stable type names to Go types.
package serializer

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// JSON is the representation name of the JSON codec.
	JSON = "json"

	// Msgpack is the representation name of the MessagePack codec.
	Msgpack = "msgpack"
)

var (
	// ErrUnsupportedRepresentation indicates no codec is registered for a representation.
	ErrUnsupportedRepresentation = errors.New("unsupported representation")

	// ErrUnknownType indicates a type name that is not in the registry.
	ErrUnknownType = errors.New("unknown payload type")
)

// SerializedObject is an encoded payload together with what is needed to decode it.
type SerializedObject struct {
	Type           string
	Representation string
	Data           []byte
}

// Serializer encodes payloads into a named representation and decodes them back.
type Serializer interface {
	Serialize(payload any, representation string) (SerializedObject, error)
	Deserialize(obj SerializedObject) (any, error)
}

// Codec marshals values in one representation.
type Codec interface {
	Representation() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes with encoding/json.
type JSONCodec struct{}

func (JSONCodec) Representation() string            { return JSON }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// MsgpackCodec encodes with MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Representation() string            { return Msgpack }
func (MsgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// CodecSerializer is a Serializer backed by a set of codecs and a TypeRegistry.
type CodecSerializer struct {
	codecs map[string]Codec
	types  *TypeRegistry
}

// New creates a serializer over types. Without codecs it supports JSON and MessagePack.
func New(types *TypeRegistry, codecs ...Codec) *CodecSerializer {
	if types == nil {
		types = NewTypeRegistry()
	}
	if len(codecs) == 0 {
		codecs = []Codec{JSONCodec{}, MsgpackCodec{}}
	}
	s := &CodecSerializer{codecs: make(map[string]Codec, len(codecs)), types: types}
	for _, c := range codecs {
		s.codecs[c.Representation()] = c
	}
	return s
}

// Types returns the registry used for decoding.
func (s *CodecSerializer) Types() *TypeRegistry {
	return s.types
}

// Supports reports whether representation has a codec.
func (s *CodecSerializer) Supports(representation string) bool {
	_, ok := s.codecs[representation]
	return ok
}

// Serialize implements Serializer.
func (s *CodecSerializer) Serialize(payload any, representation string) (SerializedObject, error) {
	codec, ok := s.codecs[representation]
	if !ok {
		return SerializedObject{}, fmt.Errorf("%w: %s", ErrUnsupportedRepresentation, representation)
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return SerializedObject{}, fmt.Errorf("failed to serialize %T as %s: %w", payload, representation, err)
	}
	return SerializedObject{
		Type:           s.types.NameOf(payload),
		Representation: representation,
		Data:           data,
	}, nil
}

// Deserialize implements Serializer. Registered types decode into their Go type;
// unregistered ones decode into a generic value.
func (s *CodecSerializer) Deserialize(obj SerializedObject) (any, error) {
	codec, ok := s.codecs[obj.Representation]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRepresentation, obj.Representation)
	}
	if obj.Data == nil {
		return nil, nil
	}
	target, err := s.types.New(obj.Type)
	if errors.Is(err, ErrUnknownType) {
		var generic any
		if err := codec.Unmarshal(obj.Data, &generic); err != nil {
			return nil, fmt.Errorf("failed to deserialize %s: %w", obj.Type, err)
		}
		return generic, nil
	}
	if err := codec.Unmarshal(obj.Data, target.Interface()); err != nil {
		return nil, fmt.Errorf("failed to deserialize %s: %w", obj.Type, err)
	}
	return target.Elem().Interface(), nil
}

// TypeRegistry maps stable names to Go types.
type TypeRegistry struct {
	byName map[string]reflect.Type
	byType map[reflect.Type]string
	mu     sync.RWMutex
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register binds name to the dynamic type of sample.
func (r *TypeRegistry) Register(name string, sample any) error {
	if sample == nil {
		return fmt.Errorf("cannot register nil sample for %s", name)
	}
	t := reflect.TypeOf(sample)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[name]; ok && existing != t {
		return fmt.Errorf("type name %s already registered for %s", name, existing)
	}
	r.byName[name] = t
	r.byType[t] = name
	return nil
}

// MustRegister is like Register but panics on error.
func (r *TypeRegistry) MustRegister(name string, sample any) *TypeRegistry {
	if err := r.Register(name, sample); err != nil {
		panic(err)
	}
	return r
}

// NameOf returns the registered name for v's type, or its Go type string.
func (r *TypeRegistry) NameOf(v any) string {
	if v == nil {
		return ""
	}
	t := reflect.TypeOf(v)
	r.mu.RLock()
	name, ok := r.byType[t]
	r.mu.RUnlock()
	if ok {
		return name
	}
	return t.String()
}

// New returns a pointer to a zero value of the type registered under name.
func (r *TypeRegistry) New(name string) (reflect.Value, error) {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return reflect.New(t), nil
}
