package keyexchange

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Key agreement errors. All of them except ErrDecrypt and ErrMissingRemoteKey
// are fatal to a handshake.
var (
	ErrAlgorithmUnavailable = errors.New("key agreement algorithm unavailable")
	ErrInvalidParameters    = errors.New("invalid key agreement parameters")
	ErrInvalidKey           = errors.New("invalid key")
	ErrInvalidKeySpec       = errors.New("invalid key specification")
	ErrUnsupportedCipher    = errors.New("unsupported cipher")
	ErrMissingLocalKey      = errors.New("local key pair not generated")
	ErrMissingRemoteKey     = errors.New("missing remote key")
	ErrKeyAlreadySet        = errors.New("shared key already derived")
	ErrDecrypt              = errors.New("decryption failed")
)

// Curve names.
const (
	CurveX25519 = "x25519"
	CurveP256   = "p256"
	CurveP384   = "p384"
)

// Cipher names.
const (
	CipherXChaCha20Poly1305 = "xchacha20-poly1305"
	CipherAES256GCM         = "aes-256-gcm"
)

// KeySize is the derived symmetric key size in bytes.
const KeySize = 32

// DefaultInfo is the HKDF info label used when Config.Info is empty.
const DefaultInfo = "objlink/v1 session key"

// Cipher encrypts and decrypts payloads with the agreed key.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Agreement is one side of a key agreement. It is single-use: one local
// key pair, one remote key, one derived cipher.
type Agreement interface {
	// GenerateLocalKeyPair creates the local key pair and returns the raw
	// public key to send to the peer.
	GenerateLocalKeyPair() ([]byte, error)

	// SetRemotePublicKey installs the peer's public key and derives the
	// shared cipher.
	SetRemotePublicKey(pub []byte) error

	// Encrypt and Decrypt fail with ErrMissingRemoteKey until both steps
	// above have succeeded.
	Cipher
}

// Config selects the agreement algorithms.
type Config struct {
	// Curve is one of CurveX25519 (default), CurveP256, CurveP384.
	Curve string

	// Cipher is one of CipherXChaCha20Poly1305 (default), CipherAES256GCM.
	Cipher string

	// Info is mixed into key derivation. Both peers must use the same value.
	Info string

	// Rand is the entropy source (default crypto/rand.Reader).
	Rand io.Reader
}

// DefaultConfig returns X25519 with XChaCha20-Poly1305.
func DefaultConfig() Config {
	return Config{
		Curve:  CurveX25519,
		Cipher: CipherXChaCha20Poly1305,
		Info:   DefaultInfo,
	}
}

// Exchange is the ECDH implementation of Agreement.
type Exchange struct {
	cfg Config

	mu        sync.RWMutex
	priv      *ecdh.PrivateKey
	localPub  []byte
	remotePub []byte
	aead      cipher.AEAD
}

// New returns an Exchange. Zero fields of cfg take their defaults.
func New(cfg Config) *Exchange {
	def := DefaultConfig()
	if cfg.Curve == "" {
		cfg.Curve = def.Curve
	}
	if cfg.Cipher == "" {
		cfg.Cipher = def.Cipher
	}
	if cfg.Info == "" {
		cfg.Info = def.Info
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	return &Exchange{cfg: cfg}
}

// NewFactory returns a constructor producing a fresh Exchange per connection.
func NewFactory(cfg Config) func() Agreement {
	return func() Agreement { return New(cfg) }
}

// CurveName returns the configured curve name.
func (e *Exchange) CurveName() string {
	return e.cfg.Curve
}

// CipherName returns the configured cipher name.
func (e *Exchange) CipherName() string {
	return e.cfg.Cipher
}

// GenerateLocalKeyPair implements Agreement.
func (e *Exchange) GenerateLocalKeyPair() ([]byte, error) {
	curve, err := lookupCurve(e.cfg.Curve)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.priv != nil {
		return nil, fmt.Errorf("%w: key pair already generated", ErrInvalidParameters)
	}

	priv, err := curve.GenerateKey(e.cfg.Rand)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	e.priv = priv
	e.localPub = priv.PublicKey().Bytes()

	return bytes.Clone(e.localPub), nil
}

// SetRemotePublicKey implements Agreement.
func (e *Exchange) SetRemotePublicKey(pub []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.priv == nil {
		return ErrMissingLocalKey
	}
	if e.aead != nil {
		return ErrKeyAlreadySet
	}
	if len(pub) == 0 {
		return fmt.Errorf("%w: empty public key", ErrInvalidKeySpec)
	}

	remote, err := e.priv.Curve().NewPublicKey(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeySpec, err)
	}

	secret, err := e.priv.ECDH(remote)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	key, err := e.deriveKey(secret, pub)
	if err != nil {
		return err
	}

	aead, err := newAEAD(e.cfg.Cipher, key)
	if err != nil {
		return err
	}

	e.remotePub = bytes.Clone(pub)
	e.aead = aead
	return nil
}

// deriveKey runs HKDF-SHA256 over the ECDH secret. The info string carries
// both public keys in byte order so that each side derives the same key
// regardless of which one it holds.
func (e *Exchange) deriveKey(secret, remotePub []byte) ([]byte, error) {
	first, second := e.localPub, remotePub
	if bytes.Compare(first, second) > 0 {
		first, second = second, first
	}

	info := make([]byte, 0, len(e.cfg.Info)+len(first)+len(second))
	info = append(info, e.cfg.Info...)
	info = append(info, first...)
	info = append(info, second...)

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, fmt.Errorf("%w: key derivation: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// Ready reports whether the shared cipher has been derived.
func (e *Exchange) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.aead != nil
}

// Encrypt implements Cipher.
func (e *Exchange) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := e.cipher()
	if err != nil {
		return nil, err
	}

	ns := aead.NonceSize()
	out := make([]byte, ns, ns+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(e.cfg.Rand, out); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(out, out[:ns], plaintext, nil), nil
}

// Decrypt implements Cipher.
func (e *Exchange) Decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := e.cipher()
	if err != nil {
		return nil, err
	}

	ns := aead.NonceSize()
	if len(ciphertext) < ns+aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes is shorter than nonce and tag", ErrDecrypt, len(ciphertext))
	}

	plaintext, err := aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func (e *Exchange) cipher() (cipher.AEAD, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.aead == nil {
		return nil, ErrMissingRemoteKey
	}
	return e.aead, nil
}

func lookupCurve(name string) (ecdh.Curve, error) {
	switch name {
	case CurveX25519:
		return ecdh.X25519(), nil
	case CurveP256:
		return ecdh.P256(), nil
	case CurveP384:
		return ecdh.P384(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrAlgorithmUnavailable, name)
	}
}

func newAEAD(name string, key []byte) (cipher.AEAD, error) {
	switch name {
	case CipherXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return aead, nil
	case CipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCipher, name)
	}
}

// SupportedCurves lists the accepted Config.Curve values.
func SupportedCurves() []string {
	return []string{CurveX25519, CurveP256, CurveP384}
}

// SupportedCiphers lists the accepted Config.Cipher values.
func SupportedCiphers() []string {
	return []string{CipherXChaCha20Poly1305, CipherAES256GCM}
}

var _ Agreement = (*Exchange)(nil)
