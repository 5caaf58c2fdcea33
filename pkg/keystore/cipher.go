package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"vaultcore/internal/vaulterr"
)

// sealWithKey encrypts plaintext with AES-256-GCM under key, prefixing
// the nonce to the returned ciphertext. Keeps the
// ciphertext as raw bytes since gorm persists it as bytea rather than
// a base64 JSON string.
func sealWithKey(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// openWithKey authenticates and decrypts a sealWithKey ciphertext.
// Any tampering of the ciphertext, including a single flipped byte,
// fails the GCM authentication check and returns decrypt_failed —
// never a silent plaintext substitution.
func openWithKey(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, vaulterr.New(vaulterr.DecryptFailed, "ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.DecryptFailed, "authentication check failed", err)
	}
	return plaintext, nil
}

// zero overwrites a key buffer in place. Called immediately after a
// decrypted private key has been consumed for signing.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
