package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/objlink/objlink-go/pkg/keyexchange"
	"github.com/objlink/objlink-go/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
mode: dial
address: 127.0.0.1:9000
curve: p256
cipher: aes-256-gcm
allow_uncompressed: false
connect_timeout: 5s
log_level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, ModeDial, cfg.Mode)
	assert.Equal(t, "127.0.0.1:9000", cfg.Address)
	assert.Equal(t, keyexchange.CurveP256, cfg.Curve)
	assert.Equal(t, keyexchange.CipherAES256GCM, cfg.Cipher)
	assert.False(t, cfg.AllowUncompressed)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	// Untouched keys keep defaults.
	assert.Equal(t, uint32(transport.DefaultMaxFrameSize), cfg.MaxFrameSize)
	assert.Equal(t, keyexchange.DefaultInfo, cfg.Info)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad mode", "mode: broadcast"},
		{"dial without address", "mode: dial\naddress: \"\""},
		{"unknown curve", "curve: secp256k1"},
		{"unknown cipher", "cipher: rc4"},
		{"zero frame size", "max_frame_size: 0"},
		{"compression out of range", "compression_level: 12"},
		{"bad log level", "log_level: loud"},
		{"not yaml", "mode: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var le *LoadError
			assert.ErrorAs(t, err, &le)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Curve = "nope"
	cfg.Cipher = "nope"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "curve")
	assert.Contains(t, err.Error(), "cipher")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: listen\naddress: \":7000\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Address)
}

func TestLoadErrorsCarryPath(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, le.Error(), "missing.yaml")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("mode: nope\n"), 0o600))
	_, err = Load(bad)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, bad, le.File)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSocketConfig(t *testing.T) {
	cfg := Default()
	cfg.Curve = keyexchange.CurveP384
	cfg.AllowUncompressed = false
	cfg.MaxFrameSize = 4096

	sc := cfg.SocketConfig()
	assert.Equal(t, uint32(4096), sc.MaxFrameSize)
	assert.True(t, sc.RequireCompressed)
	require.NotNil(t, sc.NewAgreement)

	agr, ok := sc.NewAgreement().(*keyexchange.Exchange)
	require.True(t, ok)
	assert.Equal(t, keyexchange.CurveP384, agr.CurveName())
	assert.Equal(t, keyexchange.CipherXChaCha20Poly1305, agr.CipherName())
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Mode = ModeDial
	cfg.Address = "example.net:7420"

	data, err := cfg.Marshal()
	require.NoError(t, err)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestRetryPolicy(t *testing.T) {
	cfg, err := Parse([]byte("dial_attempts: 2\n"))
	require.NoError(t, err)

	p := cfg.RetryPolicy(nil)
	assert.Equal(t, 2, p.MaxAttempts)
	assert.Equal(t, transport.DefaultRetryInitial, p.Initial)

	_, err = Parse([]byte("dial_attempts: -1\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDialTimeoutZeroMeansDefault(t *testing.T) {
	cfg, err := Parse([]byte("connect_timeout: 0s\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.ConnectTimeout)
	assert.Equal(t, transport.DefaultConnectTimeout, cfg.DialTimeout())

	cfg, err = Parse([]byte("connect_timeout: 3s\n"))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.DialTimeout())
}
