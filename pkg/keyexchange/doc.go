// Package keyexchange implements the unauthenticated key agreement that
// secures a transport connection, and the symmetric cipher it yields.
//
// Each side generates an ephemeral ECDH key pair, exports the public key,
// installs the peer's public key and derives a shared 256-bit key with
// HKDF-SHA256. The key seeds an AEAD (XChaCha20-Poly1305 by default, or
// AES-256-GCM) used for every later payload in both directions.
//
// No identity is verified here. A man in the middle can run one agreement
// with each side; peer authentication belongs to the layer above.
//
// Sealed payload format:
//
//	nonce || ciphertext || tag
//
// The nonce is random and its length depends on the AEAD (24 bytes for
// XChaCha20-Poly1305, 12 for AES-GCM).
package keyexchange
