package wire

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Serializer errors.
var (
	// ErrUnknownType is returned when an object's type has no registered name,
	// or an envelope names a type the receiver does not know.
	ErrUnknownType = errors.New("unknown type")

	// ErrUndeserializable is returned when bytes cannot be decoded into an object.
	ErrUndeserializable = errors.New("undeserializable")

	// ErrUnserializable is returned when a registered object fails to encode.
	ErrUnserializable = errors.New("unserializable")

	// ErrDuplicateType is returned when a name or type is registered twice.
	ErrDuplicateType = errors.New("type already registered")
)

// Serializer converts application objects to bytes and back.
// Implementations must be safe for concurrent use.
type Serializer interface {
	Serialize(obj any) ([]byte, error)
	Deserialize(data []byte) (any, error)
}

// envelope is the outer CBOR structure of every serialized object.
type envelope struct {
	Type string          `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint"`
}

// Builtin type names registered by NewCBORSerializer.
const (
	TypeString  = "string"
	TypeBytes   = "bytes"
	TypeInt64   = "int64"
	TypeUint64  = "uint64"
	TypeFloat64 = "float64"
	TypeBool    = "bool"
)

// CBORSerializer serializes registered types as CBOR envelopes.
type CBORSerializer struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewCBORSerializer returns a serializer with the builtin scalar types
// registered.
func NewCBORSerializer() *CBORSerializer {
	s := NewEmptySerializer()
	s.MustRegister(TypeString, "")
	s.MustRegister(TypeBytes, []byte(nil))
	s.MustRegister(TypeInt64, int64(0))
	s.MustRegister(TypeUint64, uint64(0))
	s.MustRegister(TypeFloat64, float64(0))
	s.MustRegister(TypeBool, false)
	return s
}

// NewEmptySerializer returns a serializer with no types registered.
func NewEmptySerializer() *CBORSerializer {
	return &CBORSerializer{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register associates name with the dynamic type of prototype.
// Deserialize returns values of exactly that type: register T to receive T,
// *T to receive *T.
func (s *CBORSerializer) Register(name string, prototype any) error {
	if name == "" {
		return fmt.Errorf("wire: empty type name")
	}
	t := reflect.TypeOf(prototype)
	if t == nil {
		return fmt.Errorf("wire: nil prototype for %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[name]; ok {
		return fmt.Errorf("%w: name %q", ErrDuplicateType, name)
	}
	if prev, ok := s.byType[t]; ok {
		return fmt.Errorf("%w: %s as %q", ErrDuplicateType, t, prev)
	}
	s.byName[name] = t
	s.byType[t] = name
	return nil
}

// MustRegister is like Register but panics on error.
func (s *CBORSerializer) MustRegister(name string, prototype any) {
	if err := s.Register(name, prototype); err != nil {
		panic(err)
	}
}

// TypeName returns the registered name of obj's type.
func (s *CBORSerializer) TypeName(obj any) (string, bool) {
	t := reflect.TypeOf(obj)
	if t == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.byType[t]
	return name, ok
}

// Serialize encodes obj inside a typed envelope.
func (s *CBORSerializer) Serialize(obj any) ([]byte, error) {
	name, ok := s.TypeName(obj)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, obj)
	}

	body, err := Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnserializable, name, err)
	}

	data, err := Marshal(envelope{Type: name, Body: body})
	if err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrUnserializable, err)
	}
	return data, nil
}

// Deserialize decodes an envelope produced by Serialize.
func (s *CBORSerializer) Deserialize(data []byte) (any, error) {
	var env envelope
	if err := Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrUndeserializable, err)
	}
	if env.Type == "" || len(env.Body) == 0 {
		return nil, fmt.Errorf("%w: incomplete envelope", ErrUndeserializable)
	}

	s.mu.RLock()
	t, ok := s.byName[env.Type]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	ptr := reflect.New(t)
	if err := Unmarshal(env.Body, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUndeserializable, env.Type, err)
	}
	return ptr.Elem().Interface(), nil
}

var _ Serializer = (*CBORSerializer)(nil)
