package domain

// Credentials is the plaintext key/value credential material for one
// integration (token, refresh token, API key, expiry). It must never be
// persisted; only the vault blob is stored.
type Credentials map[string]string

// Well-known credential keys shared between the manager, adapters and the
// OAuth callback.
const (
	CredentialKey_AccessToken  = "access_token"
	CredentialKey_RefreshToken = "refresh_token"
	CredentialKey_Expiry       = "expiry"
	CredentialKey_APIKey       = "api_key"
	CredentialKey_Email        = "email"
	CredentialKey_BaseURL      = "base_url"
)

// CredentialVault turns plaintext credential maps into opaque encrypted
// blobs and back. Decrypt fails closed: a tampered or truncated blob yields
// ErrDecryptionFailed, never partial data.
type CredentialVault interface {
	Encrypt(plaintext Credentials) (string, error)
	Decrypt(blob string) (Credentials, error)
}
