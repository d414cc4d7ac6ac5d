package vault

import (
	"encoding/base64"
	"testing"

	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVault_RoundTrip(t *testing.T) {
	v, err := New("test-secret")
	require.NoError(t, err)

	tests := []struct {
		name  string
		creds domain.Credentials
	}{
		{
			name:  "oauth token set",
			creds: domain.Credentials{"access_token": "xoxb-123", "refresh_token": "xoxe-456", "expiry": "2026-09-01T00:00:00Z"},
		},
		{
			name:  "api key only",
			creds: domain.Credentials{"api_key": "sk_test_abc"},
		},
		{
			name:  "empty map",
			creds: domain.Credentials{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := v.Encrypt(tt.creds)
			require.NoError(t, err)
			assert.NotContains(t, blob, "access_token")

			got, err := v.Decrypt(blob)
			require.NoError(t, err)
			assert.Equal(t, tt.creds, got)
		})
	}
}

func TestVault_NoncesDiffer(t *testing.T) {
	v, err := New("test-secret")
	require.NoError(t, err)

	creds := domain.Credentials{"api_key": "sk_test_abc"}

	first, err := v.Encrypt(creds)
	require.NoError(t, err)
	second, err := v.Encrypt(creds)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestVault_DecryptCorruptBlob(t *testing.T) {
	v, err := New("test-secret")
	require.NoError(t, err)

	blob, err := v.Encrypt(domain.Credentials{"api_key": "sk_test_abc"})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	// Flip one byte at every position; each corruption must fail closed.
	for i := range raw {
		corrupted := make([]byte, len(raw))
		copy(corrupted, raw)
		corrupted[i] ^= 0x01

		_, err := v.Decrypt(base64.StdEncoding.EncodeToString(corrupted))
		assert.ErrorIs(t, err, domain.ErrDecryptionFailed, "byte %d", i)
	}
}

func TestVault_DecryptTruncatedBlob(t *testing.T) {
	v, err := New("test-secret")
	require.NoError(t, err)

	blob, err := v.Encrypt(domain.Credentials{"api_key": "sk_test_abc"})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	_, err = v.Decrypt(base64.StdEncoding.EncodeToString(raw[:8]))
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)

	_, err = v.Decrypt("not-base64!!!")
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestVault_WrongKeyFailsClosed(t *testing.T) {
	first, err := New("secret-one")
	require.NoError(t, err)
	second, err := New("secret-two")
	require.NoError(t, err)

	blob, err := first.Encrypt(domain.Credentials{"api_key": "sk_test_abc"})
	require.NoError(t, err)

	_, err = second.Decrypt(blob)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestVault_EphemeralKeyStillWorks(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)

	creds := domain.Credentials{"api_key": "local-dev"}
	blob, err := v.Encrypt(creds)
	require.NoError(t, err)

	got, err := v.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}
