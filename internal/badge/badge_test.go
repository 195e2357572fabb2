package badge_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkin/internal/badge"
)

func TestEncryptDecodeRoundTrip(t *testing.T) {
	gen := badge.NewGenerator("gate-secret")
	payload := badge.Payload{
		Reference:  "chk_1_000001",
		TicketCode: "abc123",
		EventID:    "e-1",
	}

	encrypted, err := gen.Encrypt(payload)
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "chk_1_000001", "ciphertext must not leak the reference")

	decoded, err := gen.Decode(encrypted)
	require.NoError(t, err)
	assert.Equal(t, payload, *decoded)
}

func TestEncryptIsRandomized(t *testing.T) {
	gen := badge.NewGenerator("gate-secret")
	payload := badge.Payload{Reference: "chk_1_000001"}

	first, err := gen.Encrypt(payload)
	require.NoError(t, err)
	second, err := gen.Encrypt(payload)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "fresh IV per badge")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	gen := badge.NewGenerator("gate-secret")

	_, err := gen.Decode("not base64 !!!")
	assert.Error(t, err)

	_, err = gen.Decode("c2hvcnQ=") // valid base64, shorter than one block
	assert.Error(t, err)
}

func TestDecodeWrongSecret(t *testing.T) {
	gen := badge.NewGenerator("gate-secret")
	other := badge.NewGenerator("different-secret")

	encrypted, err := gen.Encrypt(badge.Payload{Reference: "chk_1_000001"})
	require.NoError(t, err)

	decoded, err := other.Decode(encrypted)
	if err == nil {
		assert.NotEqual(t, "chk_1_000001", decoded.Reference)
	}
}

func TestGenerateProducesPNG(t *testing.T) {
	gen := badge.NewGenerator("gate-secret")

	png, err := gen.Generate(badge.Payload{Reference: "chk_1_000001", TicketCode: "abc123"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}
