// Package keystore is the authenticated, at-rest encrypted store for
// agent signing keys. It owns the wallets table exclusively and is
// the only component that ever holds the master decryption key in
// memory.
package keystore

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"vaultcore/internal/models"
	"vaultcore/internal/vaulterr"
	"vaultcore/pkg/vaultconfig"
)

// Record is the sanitized, read-only view of a wallet returned to
// callers outside this package. It never carries ciphertext.
type Record struct {
	AgentID   string
	Address   string
	ChainID   int64
	LastNonce *uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the encrypted key store.
type Store struct {
	db       *gorm.DB
	aesKey   []byte
	tenantID string
	cfg      *vaultconfig.Config
}

// Open resolves the deployment master secret (generating and
// persisting a sidecar on first start when needed), derives the
// AES-256 key, and returns a Store bound to db.
func Open(db *gorm.DB, cfg *vaultconfig.Config) (*Store, error) {
	if err := db.AutoMigrate(&models.Wallet{}); err != nil {
		return nil, fmt.Errorf("migrating wallets table: %w", err)
	}
	secret, err := resolveMasterSecret(cfg)
	if err != nil {
		return nil, err
	}
	key, err := deriveAESKey(secret)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, aesKey: key, tenantID: cfg.TenantID, cfg: cfg}, nil
}

// Encrypt seals raw key bytes with the store's master key. Exposed so
// the wallet manager can prepare a ciphertext before calling Put.
func (s *Store) Encrypt(plaintext []byte) ([]byte, error) {
	return sealWithKey(s.aesKey, plaintext)
}

// Put persists a new wallet record atomically. It rejects a reused
// address under a different agent, or a duplicate agent id.
func (s *Store) Put(agentID, address string, ciphertext []byte, chainID int64, metadata map[string]any) error {
	address = strings.ToLower(address)
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existingByAgent models.Wallet
		err := tx.Where("tenant_id = ? AND agent_id = ?", s.tenantID, agentID).First(&existingByAgent).Error
		if err == nil {
			return vaulterr.New(vaulterr.AgentExists, agentID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var existingByAddr models.Wallet
		err = tx.Where("address = ?", address).First(&existingByAddr).Error
		if err == nil && existingByAddr.AgentID != agentID {
			return vaulterr.New(vaulterr.AddressReuse, address)
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		record := models.Wallet{
			TenantID:    s.tenantID,
			AgentID:     agentID,
			Address:     address,
			Ciphertext:  ciphertext,
			ChainID:     chainID,
			MetadataRaw: metaJSON,
		}
		return tx.Create(&record).Error
	})
}

// Get returns the sanitized record for agentID, or not_found.
func (s *Store) Get(agentID string) (*Record, error) {
	var w models.Wallet
	err := s.db.Where("tenant_id = ? AND agent_id = ?", s.tenantID, agentID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, vaulterr.New(vaulterr.NotFound, agentID)
	}
	if err != nil {
		return nil, err
	}
	return toRecord(w), nil
}

// Decrypt returns the plaintext private key bytes for agentID. The
// caller MUST zero the returned buffer as soon as it has been
// consumed for signing.
func (s *Store) Decrypt(agentID string) ([]byte, error) {
	var w models.Wallet
	err := s.db.Where("tenant_id = ? AND agent_id = ?", s.tenantID, agentID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, vaulterr.New(vaulterr.NotFound, agentID)
	}
	if err != nil {
		return nil, err
	}
	return openWithKey(s.aesKey, w.Ciphertext)
}

// AdvanceNonce sets last_nonce = max(last_nonce, usedNonce). This
// write is coupled to the broadcast commit by the wallet manager's
// per-address token; Store itself only guarantees the single-record
// write is atomic.
func (s *Store) AdvanceNonce(agentID string, usedNonce uint64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var w models.Wallet
		err := tx.Where("tenant_id = ? AND agent_id = ?", s.tenantID, agentID).First(&w).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return vaulterr.New(vaulterr.NotFound, agentID)
		}
		if err != nil {
			return err
		}
		next := usedNonce
		if w.LastNonce != nil && *w.LastNonce > next {
			next = *w.LastNonce
		}
		return tx.Model(&w).Update("last_nonce", next).Error
	})
}

// Quarantine marks a wallet as blocked from further broadcasts after
// a nonce-advance write failed following an accepted broadcast. Only
// operator tooling clears it.
func (s *Store) Quarantine(agentID string) error {
	res := s.db.Model(&models.Wallet{}).
		Where("tenant_id = ? AND agent_id = ?", s.tenantID, agentID).
		Update("quarantined", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return vaulterr.New(vaulterr.NotFound, agentID)
	}
	return nil
}

// IsQuarantined reports whether agentID's wallet has been quarantined.
func (s *Store) IsQuarantined(agentID string) (bool, error) {
	var w models.Wallet
	err := s.db.Where("tenant_id = ? AND agent_id = ?", s.tenantID, agentID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, vaulterr.New(vaulterr.NotFound, agentID)
	}
	if err != nil {
		return false, err
	}
	return w.Quarantined, nil
}

// List returns every (agent_id, address) pair in the store, scoped to
// this deployment's tenant.
func (s *Store) List() ([]Record, error) {
	var rows []models.Wallet
	if err := s.db.Where("tenant_id = ?", s.tenantID).Order("agent_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, w := range rows {
		out = append(out, *toRecord(w))
	}
	return out, nil
}

// ExportKeystoreJSON re-encrypts the agent's key under a
// caller-supplied passphrase using the standard Ethereum V3 keystore
// scheme (scrypt + AES-128-CTR + MAC), safe to hand to the caller by
// default.
func (s *Store) ExportKeystoreJSON(agentID, passphrase string) (string, error) {
	plaintext, err := s.Decrypt(agentID)
	if err != nil {
		return "", err
	}
	defer zero(plaintext)

	privKey, err := crypto.ToECDSA(plaintext)
	if err != nil {
		return "", vaulterr.Wrap(vaulterr.BadKey, "stored key material is not a valid secp256k1 key", err)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating keystore id: %w", err)
	}
	key := &keystore.Key{
		Id:         id,
		Address:    crypto.PubkeyToAddress(privKey.PublicKey),
		PrivateKey: privKey,
	}
	encJSON, err := keystore.EncryptKey(key, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return "", fmt.Errorf("encrypting keystore json: %w", err)
	}
	return string(encJSON), nil
}

// ImportKeystoreJSON decrypts a standard V3 keystore JSON blob under
// passphrase and returns the raw private key bytes, for the
// import_wallet path. Callers must zero the returned buffer once
// consumed.
func ImportKeystoreJSON(encryptedJSON, passphrase string) ([]byte, error) {
	key, err := keystore.DecryptKey([]byte(encryptedJSON), passphrase)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.BadKey, "failed to decrypt keystore json", err)
	}
	defer zeroECDSA(key.PrivateKey)
	return ecdsaToBytes(key.PrivateKey), nil
}

// ExportPrivateKey returns the raw hex private key for agentID,
// gated by two independent deployment switches: an enable flag and a
// caller-supplied confirmation code that must match the deployment's
// configured export code. Failing either gate returns export_denied
// without revealing whether the agent exists.
func (s *Store) ExportPrivateKey(agentID, confirmationCode string) (string, error) {
	if !s.cfg.AllowPlaintextExport {
		return "", vaulterr.New(vaulterr.ExportDenied, "plaintext export disabled")
	}
	if s.cfg.PlaintextExportCode == "" || confirmationCode == "" || confirmationCode != s.cfg.PlaintextExportCode {
		return "", vaulterr.New(vaulterr.ExportDenied, "confirmation code mismatch")
	}
	plaintext, err := s.Decrypt(agentID)
	if err != nil {
		if vaulterr.Is(err, vaulterr.NotFound) {
			return "", vaulterr.New(vaulterr.ExportDenied, "confirmation code mismatch")
		}
		return "", err
	}
	defer zero(plaintext)
	return "0x" + fmt.Sprintf("%x", plaintext), nil
}

func toRecord(w models.Wallet) *Record {
	return &Record{
		AgentID:   w.AgentID,
		Address:   w.Address,
		ChainID:   w.ChainID,
		LastNonce: w.LastNonce,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func ecdsaToBytes(k *ecdsa.PrivateKey) []byte {
	return crypto.FromECDSA(k)
}

func zeroECDSA(k *ecdsa.PrivateKey) {
	if k == nil {
		return
	}
	k.D.SetInt64(0)
}
