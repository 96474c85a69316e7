package log

import (
	"strings"
	"time"
)

// Event is one protocol log record. CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the socket that produced the event.
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// LocalRole tells whether the local side dialed or accepted.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address when the stream is a network connection.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Exactly one of these is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Handshake   *HandshakeEvent   `cbor:"11,keyasint,omitempty"`
	Payload     *PayloadEvent     `cbor:"12,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates data flow relative to the local socket.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection converts "in"/"out" (any case) to a Direction.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(s) {
	case "in":
		return DirectionIn, true
	case "out":
		return DirectionOut, true
	}
	return 0, false
}

// Layer indicates which part of the stack captured the event.
type Layer uint8

const (
	// LayerTransport is framing and connection lifecycle.
	LayerTransport Layer = 0
	// LayerCrypto is key agreement and the symmetric cipher.
	LayerCrypto Layer = 1
	// LayerCodec is the compress/serialize pipeline.
	LayerCodec Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerCrypto:
		return "CRYPTO"
	case LayerCodec:
		return "CODEC"
	default:
		return "UNKNOWN"
	}
}

// ParseLayer converts a layer name (any case) to a Layer.
func ParseLayer(s string) (Layer, bool) {
	for _, l := range []Layer{LayerTransport, LayerCrypto, LayerCodec} {
		if strings.EqualFold(s, l.String()) {
			return l, true
		}
	}
	return 0, false
}

// Category classifies the event.
type Category uint8

const (
	CategoryFrame     Category = 0
	CategoryHandshake Category = 1
	CategoryPayload   Category = 2
	CategoryState     Category = 3
	CategoryError     Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryHandshake:
		return "HANDSHAKE"
	case CategoryPayload:
		return "PAYLOAD"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory converts a category name (any case) to a Category.
func ParseCategory(s string) (Category, bool) {
	for _, c := range []Category{CategoryFrame, CategoryHandshake, CategoryPayload, CategoryState, CategoryError} {
		if strings.EqualFold(s, c.String()) {
			return c, true
		}
	}
	return 0, false
}

// Role is the local side of the connection.
type Role uint8

const (
	RoleUnknown  Role = 0
	RoleDialer   Role = 1
	RoleAcceptor Role = 2
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleDialer:
		return "DIALER"
	case RoleAcceptor:
		return "ACCEPTOR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures one frame on the wire.
type FrameEvent struct {
	// Size is the frame size including the 4-byte length prefix.
	Size int `cbor:"1,keyasint"`

	// Data is the payload, possibly truncated.
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// HandshakeEvent captures a public key sent or received during key agreement.
type HandshakeEvent struct {
	// Curve names the key-agreement group (e.g. "x25519").
	Curve string `cbor:"1,keyasint"`

	// PublicKey is the raw exported public key.
	PublicKey []byte `cbor:"2,keyasint,omitempty"`
}

// PayloadEvent captures the outcome of the payload pipeline for one object.
type PayloadEvent struct {
	// ObjectType is the registered name of the object's type.
	ObjectType string `cbor:"1,keyasint,omitempty"`

	// SerializedSize is the size before compression.
	SerializedSize int `cbor:"2,keyasint"`

	// WireSize is the encrypted size carried in the frame.
	WireSize int `cbor:"3,keyasint"`

	// Uncompressed is set when an inbound payload failed to inflate and was
	// passed to the serializer as-is.
	Uncompressed bool `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures a connection lifecycle transition.
type StateChangeEvent struct {
	OldState string `cbor:"1,keyasint,omitempty"`
	NewState string `cbor:"2,keyasint"`
	Reason   string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context describes what was being done, e.g. "read frame".
	Context string `cbor:"3,keyasint,omitempty"`

	// Fatal is set when the error closed the connection.
	Fatal bool `cbor:"4,keyasint,omitempty"`
}
