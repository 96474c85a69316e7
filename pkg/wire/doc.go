// Package wire provides the object serializer used by the secure transport.
//
// The transport treats application objects as opaque: it only needs to turn
// an object into bytes and back. CBORSerializer does that with a registry
// of named types. Each serialized object is a two-field CBOR envelope:
//
//	{1: type name (text), 2: CBOR body}
//
// Receivers must register the same names as senders. An envelope naming an
// unregistered type fails with ErrUnknownType; bytes that are not a valid
// envelope or body fail with ErrUndeserializable.
package wire
