package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/scrypt"

	"vaultcore/internal/vaulterr"
	"vaultcore/pkg/vaultconfig"
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	masterKeyLen = 32
	scryptSaltStatic = "vaultcore-master-secret-v1"
	sidecarFilePerm  = 0o600
)

// resolveMasterSecret returns the raw deployment secret string,
// generating and persisting a sidecar secret on first start when
// none is configured, and refusing to start when a configured secret
// disagrees with an existing sidecar file.
func resolveMasterSecret(cfg *vaultconfig.Config) (string, error) {
	sidecarSecret, sidecarErr := os.ReadFile(cfg.SecretSidecarPath)
	hasSidecar := sidecarErr == nil

	if cfg.MasterSecret != "" {
		if hasSidecar && string(sidecarSecret) != cfg.MasterSecret {
			return "", vaulterr.New(vaulterr.DecryptFailed,
				"configured master secret does not match existing sidecar file; refusing to start")
		}
		return cfg.MasterSecret, nil
	}

	if hasSidecar {
		return string(sidecarSecret), nil
	}

	generated, err := randomHex(32)
	if err != nil {
		return "", fmt.Errorf("generating sidecar secret: %w", err)
	}
	if err := os.WriteFile(cfg.SecretSidecarPath, []byte(generated), sidecarFilePerm); err != nil {
		return "", fmt.Errorf("persisting sidecar secret: %w", err)
	}
	return generated, nil
}

// deriveAESKey stretches the deployment secret into a 32-byte AES-256
// key with scrypt. The salt is a fixed application-level constant
// rather than a per-record random salt because the secret itself
// already lives out-of-band and is never persisted alongside
// ciphertexts derived from it.
func deriveAESKey(secret string) ([]byte, error) {
	key, err := scrypt.Key([]byte(secret), []byte(scryptSaltStatic), scryptN, scryptR, scryptP, masterKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving master key: %w", err)
	}
	return key, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
