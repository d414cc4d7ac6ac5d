package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hivedesk/hivedesk/internal/domain"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyDerivationSalt = "hivedesk-connector-credentials"

// Vault encrypts credential maps with ChaCha20-Poly1305. The key is derived
// once at construction via HKDF-SHA256 from the configured secret. Blobs are
// base64(nonce || ciphertext); the AEAD tag makes tampering detectable.
type Vault struct {
	aeadKey []byte
}

// New derives the encryption key from secret. An empty secret keeps the
// vault functional for local use but everything encrypted with it becomes
// undecryptable after a restart, so it logs loudly instead of crashing.
func New(secret string) (*Vault, error) {
	if secret == "" {
		ephemeral := make([]byte, 32)
		if _, err := rand.Read(ephemeral); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral vault secret: %w", err)
		}
		secret = base64.StdEncoding.EncodeToString(ephemeral)

		log.Warn().Msg("CREDENTIAL_ENCRYPTION_KEY is not set; using an ephemeral key. Stored credentials will NOT survive a restart")
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	return &Vault{aeadKey: key}, nil
}

func (v *Vault) Encrypt(plaintext domain.Credentials) (string, error) {
	payload, err := json.Marshal(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credential payload: %w", err)
	}

	aead, err := chacha20poly1305.New(v.aeadKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, payload, nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt fails closed: any tampered, truncated or foreign-key blob yields
// domain.ErrDecryptionFailed and never partial data.
func (v *Vault) Decrypt(blob string) (domain.Credentials, error) {
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid blob encoding", domain.ErrDecryptionFailed)
	}

	aead, err := chacha20poly1305.New(v.aeadKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: blob too short", domain.ErrDecryptionFailed)
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	payload, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryptionFailed, err)
	}

	var plaintext domain.Credentials
	if err := json.Unmarshal(payload, &plaintext); err != nil {
		return nil, fmt.Errorf("%w: corrupt payload", domain.ErrDecryptionFailed)
	}

	return plaintext, nil
}

func deriveKey(secret string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(keyDerivationSalt), []byte("credential-encryption-key"))

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	return key, nil
}
