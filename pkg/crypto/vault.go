package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Vault encrypts integration credentials at rest using AES-256-GCM with a
// key derived from the configured master secret via HKDF-SHA256.
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives the encryption key and prepares the AEAD cipher.
func NewVault(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("crypto: master secret required")
	}
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte("integration-credentials"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: init gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// EncryptMap seals a credential map into a base64 envelope (nonce || ciphertext).
func (v *Vault) EncryptMap(creds map[string]string) (string, error) {
	if creds == nil {
		creds = map[string]string{}
	}
	plain, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal credentials: %w", err)
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptMap opens an envelope produced by EncryptMap.
func (v *Vault) DecryptMap(envelope string) (map[string]string, error) {
	if envelope == "" {
		return map[string]string{}, nil
	}
	sealed, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode envelope: %w", err)
	}
	if len(sealed) < v.aead.NonceSize() {
		return nil, fmt.Errorf("crypto: envelope too short")
	}
	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plain, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: open envelope: %w", err)
	}
	creds := map[string]string{}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("crypto: unmarshal credentials: %w", err)
	}
	return creds, nil
}
