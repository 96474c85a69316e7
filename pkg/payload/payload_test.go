package payload

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/objlink/objlink-go/pkg/keyexchange"
	"github.com/objlink/objlink-go/pkg/log"
	"github.com/objlink/objlink-go/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	From string `cbor:"1,keyasint"`
	Body string `cbor:"2,keyasint"`
	Seq  int64  `cbor:"3,keyasint"`
}

func newSerializer(t *testing.T) *wire.CBORSerializer {
	t.Helper()
	s := wire.NewCBORSerializer()
	require.NoError(t, s.Register("message", message{}))
	return s
}

// agreedCiphers returns two ciphers sharing a key.
func agreedCiphers(t *testing.T) (keyexchange.Cipher, keyexchange.Cipher) {
	t.Helper()
	a := keyexchange.New(keyexchange.DefaultConfig())
	b := keyexchange.New(keyexchange.DefaultConfig())
	pubA, err := a.GenerateLocalKeyPair()
	require.NoError(t, err)
	pubB, err := b.GenerateLocalKeyPair()
	require.NoError(t, err)
	require.NoError(t, a.SetRemotePublicKey(pubB))
	require.NoError(t, b.SetRemotePublicKey(pubA))
	return a, b
}

// plainCipher is an identity cipher for tests that do not care about crypto.
type plainCipher struct{}

func (plainCipher) Encrypt(p []byte) ([]byte, error) { return bytes.Clone(p), nil }
func (plainCipher) Decrypt(c []byte) ([]byte, error) { return bytes.Clone(c), nil }

// failingCipher fails every call.
type failingCipher struct{ err error }

func (f failingCipher) Encrypt([]byte) ([]byte, error) { return nil, f.err }
func (f failingCipher) Decrypt([]byte) ([]byte, error) { return nil, f.err }

// rawSerializer emits bytes beginning with 0xff, which a deflate reader
// rejects immediately (reserved block type).
type rawSerializer struct{}

func (rawSerializer) Serialize(obj any) ([]byte, error) {
	s, ok := obj.(string)
	if !ok {
		return nil, wire.ErrUnknownType
	}
	return append([]byte{0xff}, s...), nil
}

func (rawSerializer) Deserialize(data []byte) (any, error) {
	if len(data) == 0 || data[0] != 0xff {
		return nil, wire.ErrUndeserializable
	}
	return string(data[1:]), nil
}

func TestCompressRoundTrip(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("a"),
		bytes.Repeat([]byte("objlink "), 4096),
		{0x00, 0xff, 0x00, 0xff},
	}
	for _, in := range inputs {
		c, err := Compress(in, flate.BestCompression)
		require.NoError(t, err)
		out, err := Decompress(c, 0)
		require.NoError(t, err)
		assert.Equal(t, len(in), len(out))
		assert.True(t, bytes.Equal(in, out))
	}
}

func TestCompressShrinksRepetitiveInput(t *testing.T) {
	in := bytes.Repeat([]byte("abcdefgh"), 1000)
	c, err := Compress(in, flate.BestCompression)
	require.NoError(t, err)
	assert.Less(t, len(c), len(in)/10)
}

func TestDecompressFailures(t *testing.T) {
	good, err := Compress([]byte(strings.Repeat("z", 1000)), flate.BestCompression)
	require.NoError(t, err)

	t.Run("reserved block type", func(t *testing.T) {
		_, err := Decompress([]byte{0xff, 0x00}, 0)
		assert.Error(t, err)
	})
	t.Run("truncated", func(t *testing.T) {
		_, err := Decompress(good[:len(good)/2], 0)
		assert.Error(t, err)
	})
	t.Run("trailing bytes", func(t *testing.T) {
		_, err := Decompress(append(bytes.Clone(good), 0x01, 0x02), 0)
		assert.Error(t, err)
	})
	t.Run("limit", func(t *testing.T) {
		_, err := Decompress(good, 100)
		assert.True(t, errors.Is(err, ErrInflatedTooLarge), "got %v", err)
	})
}

func TestCodecRoundTrip(t *testing.T) {
	a, b := agreedCiphers(t)
	s := newSerializer(t)
	enc := NewCodec(s, a, Config{})
	dec := NewCodec(s, b, Config{})

	objects := []any{
		message{From: "alice", Body: "hello", Seq: 1},
		message{From: "bob", Body: strings.Repeat("long body ", 500), Seq: 2},
		"plain string",
		int64(7),
		[]byte{1, 2, 3},
		true,
	}

	for _, obj := range objects {
		data, err := enc.Encode(obj)
		require.NoError(t, err)

		got, err := dec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, obj, got)
	}
}

func TestCodecEncodeErrors(t *testing.T) {
	s := newSerializer(t)

	t.Run("serialize", func(t *testing.T) {
		c := NewCodec(s, plainCipher{}, Config{})
		_, err := c.Encode(struct{ X int }{1})
		var ee *EncodeError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, StageSerialize, ee.Stage)
		assert.True(t, errors.Is(err, ErrEncode))
		assert.True(t, errors.Is(err, wire.ErrUnknownType))
	})

	t.Run("compress", func(t *testing.T) {
		c := NewCodec(s, plainCipher{}, Config{Level: 42})
		_, err := c.Encode("x")
		var ee *EncodeError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, StageCompress, ee.Stage)
	})

	t.Run("encrypt before agreement", func(t *testing.T) {
		c := NewCodec(s, keyexchange.New(keyexchange.DefaultConfig()), Config{})
		_, err := c.Encode("x")
		var ee *EncodeError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, StageEncrypt, ee.Stage)
		assert.True(t, errors.Is(err, keyexchange.ErrMissingRemoteKey))
	})
}

func TestCodecDecodeErrors(t *testing.T) {
	s := newSerializer(t)

	t.Run("decrypt", func(t *testing.T) {
		c := NewCodec(s, failingCipher{err: keyexchange.ErrDecrypt}, Config{})
		_, err := c.Decode([]byte("whatever"))
		var de *DecodeError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, StageDecrypt, de.Stage)
		assert.True(t, errors.Is(err, ErrDecode))
		assert.False(t, errors.Is(err, ErrEncode))
	})

	t.Run("deserialize", func(t *testing.T) {
		c := NewCodec(s, plainCipher{}, Config{})
		garbage, err := Compress([]byte{0xff, 0xee}, flate.BestCompression)
		require.NoError(t, err)
		_, err = c.Decode(garbage)
		var de *DecodeError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, StageDeserialize, de.Stage)
		assert.True(t, errors.Is(err, wire.ErrUndeserializable))
	})

	t.Run("wrong key", func(t *testing.T) {
		a, _ := agreedCiphers(t)
		_, other := agreedCiphers(t)
		data, err := NewCodec(s, a, Config{}).Encode("secret")
		require.NoError(t, err)
		_, err = NewCodec(s, other, Config{}).Decode(data)
		assert.True(t, errors.Is(err, keyexchange.ErrDecrypt))
	})
}

func TestCodecUncompressedFallback(t *testing.T) {
	var events []log.Event
	plog := log.LoggerFunc(func(e log.Event) { events = append(events, e) })

	a, b := agreedCiphers(t)
	raw, err := rawSerializer{}.Serialize("legacy peer")
	require.NoError(t, err)
	sealed, err := a.Encrypt(raw)
	require.NoError(t, err)

	c := NewCodec(rawSerializer{}, b, Config{ProtocolLogger: plog, ConnectionID: "c1"})
	got, err := c.Decode(sealed)
	require.NoError(t, err)
	assert.Equal(t, "legacy peer", got)

	require.Len(t, events, 2)
	assert.Equal(t, log.CategoryError, events[0].Category)
	assert.Equal(t, "decompress", events[0].Error.Context)
	assert.False(t, events[0].Error.Fatal)
	require.NotNil(t, events[1].Payload)
	assert.True(t, events[1].Payload.Uncompressed)
	assert.Equal(t, "c1", events[1].ConnectionID)
}

func TestCodecRequireCompressed(t *testing.T) {
	raw, err := rawSerializer{}.Serialize("legacy peer")
	require.NoError(t, err)

	c := NewCodec(rawSerializer{}, plainCipher{}, Config{RequireCompressed: true})
	_, err = c.Decode(raw)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, StageDecompress, de.Stage)
}

func TestCodecLogsPayloadTypes(t *testing.T) {
	var mu sync.Mutex
	var events []log.Event
	plog := log.LoggerFunc(func(e log.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	s := newSerializer(t)
	c := NewCodec(s, plainCipher{}, Config{ProtocolLogger: plog})
	data, err := c.Encode(message{From: "a"})
	require.NoError(t, err)
	_, err = c.Decode(data)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, log.DirectionOut, events[0].Direction)
	assert.Equal(t, "message", events[0].Payload.ObjectType)
	assert.Equal(t, len(data), events[0].Payload.WireSize)
	assert.Equal(t, log.DirectionIn, events[1].Direction)
	assert.False(t, events[1].Payload.Uncompressed)
}
