package keyexchange

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pair runs a full agreement between two fresh exchanges.
func pair(t *testing.T, cfg Config) (*Exchange, *Exchange) {
	t.Helper()
	a, b := New(cfg), New(cfg)

	pubA, err := a.GenerateLocalKeyPair()
	require.NoError(t, err)
	pubB, err := b.GenerateLocalKeyPair()
	require.NoError(t, err)

	require.NoError(t, a.SetRemotePublicKey(pubB))
	require.NoError(t, b.SetRemotePublicKey(pubA))
	return a, b
}

func TestAgreementAllCombinations(t *testing.T) {
	for _, curve := range SupportedCurves() {
		for _, ciph := range SupportedCiphers() {
			t.Run(curve+"/"+ciph, func(t *testing.T) {
				a, b := pair(t, Config{Curve: curve, Cipher: ciph})
				assert.True(t, a.Ready())

				msg := []byte("the quick brown fox")
				sealed, err := a.Encrypt(msg)
				require.NoError(t, err)
				assert.False(t, bytes.Contains(sealed, msg))

				opened, err := b.Decrypt(sealed)
				require.NoError(t, err)
				assert.Equal(t, msg, opened)

				// Same key in the other direction.
				sealed, err = b.Encrypt(msg)
				require.NoError(t, err)
				opened, err = a.Decrypt(sealed)
				require.NoError(t, err)
				assert.Equal(t, msg, opened)
			})
		}
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	a, _ := pair(t, DefaultConfig())
	x, err := a.Encrypt([]byte("same"))
	require.NoError(t, err)
	y, err := a.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, x, y)
}

func TestEncryptEmptyPlaintext(t *testing.T) {
	a, b := pair(t, DefaultConfig())
	sealed, err := a.Encrypt(nil)
	require.NoError(t, err)
	opened, err := b.Decrypt(sealed)
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestCipherBeforeAgreement(t *testing.T) {
	e := New(DefaultConfig())

	_, err := e.Encrypt([]byte("x"))
	assert.True(t, errors.Is(err, ErrMissingRemoteKey))

	_, err = e.GenerateLocalKeyPair()
	require.NoError(t, err)

	_, err = e.Decrypt([]byte("x"))
	assert.True(t, errors.Is(err, ErrMissingRemoteKey))
	assert.False(t, e.Ready())
}

func TestUnavailableCurve(t *testing.T) {
	e := New(Config{Curve: "secp256k1"})
	_, err := e.GenerateLocalKeyPair()
	assert.True(t, errors.Is(err, ErrAlgorithmUnavailable), "got %v", err)
}

func TestGenerateTwice(t *testing.T) {
	e := New(DefaultConfig())
	_, err := e.GenerateLocalKeyPair()
	require.NoError(t, err)
	_, err = e.GenerateLocalKeyPair()
	assert.True(t, errors.Is(err, ErrInvalidParameters), "got %v", err)
}

func TestSetRemotePublicKeyErrors(t *testing.T) {
	t.Run("no local key", func(t *testing.T) {
		e := New(DefaultConfig())
		err := e.SetRemotePublicKey(make([]byte, 32))
		assert.True(t, errors.Is(err, ErrMissingLocalKey))
	})

	t.Run("empty key", func(t *testing.T) {
		e := New(DefaultConfig())
		_, _ = e.GenerateLocalKeyPair()
		assert.True(t, errors.Is(e.SetRemotePublicKey(nil), ErrInvalidKeySpec))
	})

	t.Run("wrong length", func(t *testing.T) {
		e := New(DefaultConfig())
		_, _ = e.GenerateLocalKeyPair()
		assert.True(t, errors.Is(e.SetRemotePublicKey([]byte{1, 2, 3}), ErrInvalidKeySpec))
	})

	t.Run("point not on curve", func(t *testing.T) {
		e := New(Config{Curve: CurveP256})
		_, _ = e.GenerateLocalKeyPair()
		bad := make([]byte, 65)
		bad[0] = 0x04
		bad[64] = 0x01
		assert.True(t, errors.Is(e.SetRemotePublicKey(bad), ErrInvalidKeySpec))
	})

	t.Run("low order x25519 point", func(t *testing.T) {
		e := New(DefaultConfig())
		_, _ = e.GenerateLocalKeyPair()
		err := e.SetRemotePublicKey(make([]byte, 32))
		assert.True(t, errors.Is(err, ErrInvalidKey), "got %v", err)
	})

	t.Run("curve mismatch", func(t *testing.T) {
		a := New(Config{Curve: CurveP384})
		b := New(Config{Curve: CurveX25519})
		_, _ = a.GenerateLocalKeyPair()
		pubB, err := b.GenerateLocalKeyPair()
		require.NoError(t, err)
		assert.True(t, errors.Is(a.SetRemotePublicKey(pubB), ErrInvalidKeySpec))
	})

	t.Run("unsupported cipher", func(t *testing.T) {
		a := New(Config{Cipher: "rot13"})
		b := New(DefaultConfig())
		_, _ = a.GenerateLocalKeyPair()
		pubB, _ := b.GenerateLocalKeyPair()
		assert.True(t, errors.Is(a.SetRemotePublicKey(pubB), ErrUnsupportedCipher))
		assert.False(t, a.Ready())
	})

	t.Run("key never changes", func(t *testing.T) {
		a, b := pair(t, DefaultConfig())
		other := New(DefaultConfig())
		pubOther, _ := other.GenerateLocalKeyPair()
		assert.True(t, errors.Is(a.SetRemotePublicKey(pubOther), ErrKeyAlreadySet))

		sealed, err := a.Encrypt([]byte("still b"))
		require.NoError(t, err)
		_, err = b.Decrypt(sealed)
		assert.NoError(t, err)
	})
}

func TestDecryptRejectsTampering(t *testing.T) {
	a, b := pair(t, DefaultConfig())
	sealed, err := a.Encrypt([]byte("payload"))
	require.NoError(t, err)

	tampered := bytes.Clone(sealed)
	tampered[len(tampered)-1] ^= 0x01
	_, err = b.Decrypt(tampered)
	assert.True(t, errors.Is(err, ErrDecrypt))

	_, err = b.Decrypt(sealed[:10])
	assert.True(t, errors.Is(err, ErrDecrypt))
}

func TestDifferentInfoDoesNotInteroperate(t *testing.T) {
	a := New(Config{Info: "one"})
	b := New(Config{Info: "two"})
	pubA, _ := a.GenerateLocalKeyPair()
	pubB, _ := b.GenerateLocalKeyPair()
	require.NoError(t, a.SetRemotePublicKey(pubB))
	require.NoError(t, b.SetRemotePublicKey(pubA))

	sealed, err := a.Encrypt([]byte("x"))
	require.NoError(t, err)
	_, err = b.Decrypt(sealed)
	assert.True(t, errors.Is(err, ErrDecrypt))
}

func TestPublicKeyIsCopied(t *testing.T) {
	a := New(DefaultConfig())
	b := New(DefaultConfig())
	pubA, _ := a.GenerateLocalKeyPair()
	pubB, _ := b.GenerateLocalKeyPair()
	require.NoError(t, b.SetRemotePublicKey(pubA))

	// Mutating the returned slice must not affect a's derivation.
	pubA[0] ^= 0xff
	require.NoError(t, a.SetRemotePublicKey(pubB))

	sealed, err := a.Encrypt([]byte("ok"))
	require.NoError(t, err)
	_, err = b.Decrypt(sealed)
	assert.NoError(t, err)
}

func TestConcurrentEncryptDecrypt(t *testing.T) {
	a, b := pair(t, DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sealed, err := a.Encrypt([]byte("concurrent"))
			if !assert.NoError(t, err) {
				return
			}
			_, err = b.Decrypt(sealed)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestNewFactoryReturnsFreshInstances(t *testing.T) {
	f := NewFactory(DefaultConfig())
	x, y := f(), f()
	assert.NotSame(t, x, y)
	_, err := x.GenerateLocalKeyPair()
	require.NoError(t, err)
	_, err = y.GenerateLocalKeyPair()
	assert.NoError(t, err)
}
