// Package payload composes serialization, compression and encryption into
// the pipeline that turns application objects into frame payloads.
//
//	outbound: serialize -> deflate (best compression) -> encrypt
//	inbound:  decrypt -> inflate (or keep as-is) -> deserialize
//
// Inbound inflate failure is tolerated: the decrypted bytes are handed to
// the serializer unchanged, so peers that send uncompressed payloads keep
// working. Decrypt and deserialize failures are reported as DecodeError.
package payload
