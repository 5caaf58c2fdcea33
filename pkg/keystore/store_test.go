package keystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"vaultcore/internal/vaulterr"
	"vaultcore/pkg/vaultconfig"
)

func kindOf(err error) vaulterr.Kind {
	return vaulterr.KindOf(err)
}

func mustGenerateRawKey(t *testing.T) []byte {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return crypto.FromECDSA(priv)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &vaultconfig.Config{
		MasterSecret:      "test-master-secret-do-not-use-in-prod",
		SecretSidecarPath: filepath.Join(t.TempDir(), "sidecar.secret"),
		TenantID:          "default",
	}
	store, err := Open(db, cfg)
	require.NoError(t, err)
	return store
}

func TestPutAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	sealed, err := store.Encrypt([]byte("super-secret-key-material"))
	require.NoError(t, err)

	err = store.Put("agent-1", "0xAbC0000000000000000000000000000000dEaD", sealed, 11155111, map[string]any{"label": "trading bot"})
	require.NoError(t, err)

	rec, err := store.Get("agent-1")
	require.NoError(t, err)
	require.Equal(t, "0xabc0000000000000000000000000000000dead", rec.Address)
	require.Equal(t, int64(11155111), rec.ChainID)

	plaintext, err := store.Decrypt("agent-1")
	require.NoError(t, err)
	require.Equal(t, "super-secret-key-material", string(plaintext))
}

func TestPutRejectsDuplicateAgent(t *testing.T) {
	store := newTestStore(t)
	sealed, _ := store.Encrypt([]byte("k1"))

	require.NoError(t, store.Put("agent-1", "0x1111111111111111111111111111111111111a", sealed, 1, nil))
	err := store.Put("agent-1", "0x2222222222222222222222222222222222222b", sealed, 1, nil)
	require.Error(t, err)
	require.Equal(t, "agent_exists", string(kindOf(err)))
}

func TestPutRejectsAddressReuseAcrossAgents(t *testing.T) {
	store := newTestStore(t)
	sealed, _ := store.Encrypt([]byte("k1"))
	addr := "0x1111111111111111111111111111111111111a"

	require.NoError(t, store.Put("agent-1", addr, sealed, 1, nil))
	err := store.Put("agent-2", addr, sealed, 1, nil)
	require.Error(t, err)
	require.Equal(t, "address_reuse", string(kindOf(err)))
}

func TestDecryptFailsClosedOnTamperedCiphertext(t *testing.T) {
	store := newTestStore(t)
	sealed, err := store.Encrypt([]byte("k1"))
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	require.NoError(t, store.Put("agent-1", "0x1111111111111111111111111111111111111a", tampered, 1, nil))
	_, err = store.Decrypt("agent-1")
	require.Error(t, err)
	require.Equal(t, "decrypt_failed", string(kindOf(err)))
}

func TestAdvanceNonceIsMonotonic(t *testing.T) {
	store := newTestStore(t)
	sealed, _ := store.Encrypt([]byte("k1"))
	require.NoError(t, store.Put("agent-1", "0x1111111111111111111111111111111111111a", sealed, 1, nil))

	require.NoError(t, store.AdvanceNonce("agent-1", 5))
	require.NoError(t, store.AdvanceNonce("agent-1", 2))

	rec, err := store.Get("agent-1")
	require.NoError(t, err)
	require.NotNil(t, rec.LastNonce)
	require.Equal(t, uint64(5), *rec.LastNonce)
}

func TestExportKeystoreJSONRoundTripsThroughImport(t *testing.T) {
	store := newTestStore(t)
	rawKey := mustGenerateRawKey(t)
	sealed, err := store.Encrypt(rawKey)
	require.NoError(t, err)
	require.NoError(t, store.Put("agent-1", "0x1111111111111111111111111111111111111a", sealed, 1, nil))

	exported, err := store.ExportKeystoreJSON("agent-1", "correct-horse-battery-staple")
	require.NoError(t, err)
	require.Contains(t, exported, "ciphertext")

	recovered, err := ImportKeystoreJSON(exported, "correct-horse-battery-staple")
	require.NoError(t, err)
	require.Equal(t, rawKey, recovered)
}

func TestExportPrivateKeyDeniedWhenDisabled(t *testing.T) {
	store := newTestStore(t)
	store.cfg.AllowPlaintextExport = false
	sealed, _ := store.Encrypt([]byte("k1"))
	require.NoError(t, store.Put("agent-1", "0x1111111111111111111111111111111111111a", sealed, 1, nil))

	_, err := store.ExportPrivateKey("agent-1", "anything")
	require.Error(t, err)
	require.Equal(t, "export_denied", string(kindOf(err)))
}

func TestExportPrivateKeyDeniedOnBadConfirmationCode(t *testing.T) {
	store := newTestStore(t)
	store.cfg.AllowPlaintextExport = true
	store.cfg.PlaintextExportCode = "the-real-code"
	sealed, _ := store.Encrypt([]byte("k1"))
	require.NoError(t, store.Put("agent-1", "0x1111111111111111111111111111111111111a", sealed, 1, nil))

	_, err := store.ExportPrivateKey("agent-1", "wrong-code")
	require.Error(t, err)
	require.Equal(t, "export_denied", string(kindOf(err)))
}

func TestExportPrivateKeyDoesNotRevealAgentExistence(t *testing.T) {
	store := newTestStore(t)
	store.cfg.AllowPlaintextExport = true
	store.cfg.PlaintextExportCode = "the-real-code"

	_, err := store.ExportPrivateKey("no-such-agent", "the-real-code")
	require.Error(t, err)
	require.Equal(t, "export_denied", string(kindOf(err)))
}

func TestResolveMasterSecretFailsClosedOnSidecarMismatch(t *testing.T) {
	sidecar := filepath.Join(t.TempDir(), "sidecar.secret")
	require.NoError(t, os.WriteFile(sidecar, []byte("existing-secret-on-disk"), 0o600))

	cfg := &vaultconfig.Config{
		MasterSecret:      "a-different-secret-entirely",
		SecretSidecarPath: sidecar,
	}
	_, err := resolveMasterSecret(cfg)
	require.Error(t, err)
	require.Equal(t, "decrypt_failed", string(kindOf(err)))
}

func TestResolveMasterSecretGeneratesSidecarOnFirstRun(t *testing.T) {
	sidecar := filepath.Join(t.TempDir(), "sidecar.secret")
	cfg := &vaultconfig.Config{SecretSidecarPath: sidecar}

	secret, err := resolveMasterSecret(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	info, err := os.Stat(sidecar)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	secretAgain, err := resolveMasterSecret(cfg)
	require.NoError(t, err)
	require.Equal(t, secret, secretAgain)
}
