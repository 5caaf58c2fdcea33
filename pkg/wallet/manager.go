// Package wallet is the custodial wallet manager: it turns encrypted
// key material from pkg/keystore and chain access from pkg/chain into
// the agent-facing wallet operations — create, import, transfer,
// sign, inspect.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"vaultcore/internal/vaulterr"
	"vaultcore/pkg/chain"
	"vaultcore/pkg/keystore"
	"vaultcore/pkg/vaultconfig"
)

// Manager is the wallet-specific operational layer, rebuilt over a
// gorm-backed Store and
// a failover-aware chain.Client instead of a single web3 provider.
type Manager struct {
	store  *keystore.Store
	chain  *chain.Client
	cfg    *vaultconfig.Config
	locks  *lockRegistry
	logger *logrus.Entry
}

// New constructs a Manager. The caller owns store and chainClient's
// lifecycle.
func New(store *keystore.Store, chainClient *chain.Client, cfg *vaultconfig.Config, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		store:  store,
		chain:  chainClient,
		cfg:    cfg,
		locks:  newLockRegistry(),
		logger: logger.WithField("component", "wallet.Manager"),
	}
}

// CreateWallet generates a fresh secp256k1 keypair and stores it
// under agentID.
func (m *Manager) CreateWallet(agentID string) (string, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return m.storeNewKey(agentID, priv, "created")
}

// ImportFromPrivateKey stores an externally supplied hex-encoded
// private key under agentID.
func (m *Manager) ImportFromPrivateKey(agentID, hexKey string) (string, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return "", vaulterr.Wrap(vaulterr.BadKey, "malformed private key", err)
	}
	return m.storeNewKey(agentID, priv, "imported_from_private_key")
}

// ImportFromKeystoreJSON decrypts a standard V3 keystore blob and
// stores the recovered key under agentID.
func (m *Manager) ImportFromKeystoreJSON(agentID, encryptedJSON, passphrase string) (string, error) {
	raw, err := keystore.ImportKeystoreJSON(encryptedJSON, passphrase)
	if err != nil {
		return "", err
	}
	defer zeroBytes(raw)
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return "", vaulterr.Wrap(vaulterr.BadKey, "recovered key material is invalid", err)
	}
	return m.storeNewKey(agentID, priv, "imported_from_keystore")
}

func (m *Manager) storeNewKey(agentID string, priv *ecdsa.PrivateKey, event string) (string, error) {
	address := crypto.PubkeyToAddress(priv.PublicKey)
	sealed, err := m.store.Encrypt(crypto.FromECDSA(priv))
	if err != nil {
		return "", fmt.Errorf("sealing key material: %w", err)
	}
	chainID := m.cfg.ChainID
	if err := m.store.Put(agentID, address.Hex(), sealed, chainID, map[string]any{}); err != nil {
		return "", err
	}
	m.logger.WithFields(logrus.Fields{"agent_id": agentID, "address": address.Hex(), "event": event}).Info("wallet stored")
	return address.Hex(), nil
}

// ListWallets returns every (agent_id, address) pair known to this
// deployment.
func (m *Manager) ListWallets() ([]keystore.Record, error) {
	return m.store.List()
}

// QueryBalance returns the native balance in wei for agentID's wallet.
func (m *Manager) QueryBalance(ctx context.Context, agentID string) (*big.Int, error) {
	rec, err := m.store.Get(agentID)
	if err != nil {
		return nil, err
	}
	return m.chain.Balance(ctx, common.HexToAddress(rec.Address))
}

// withUnsealedKey decrypts agentID's key, invokes fn, and zeroes the
// key material immediately afterward regardless of outcome — the
// decrypted key never outlives a single call frame.
func (m *Manager) withUnsealedKey(agentID string, fn func(*ecdsa.PrivateKey, common.Address) error) error {
	raw, err := m.store.Decrypt(agentID)
	if err != nil {
		return err
	}
	defer zeroBytes(raw)

	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return vaulterr.Wrap(vaulterr.BadKey, "stored key material is invalid", err)
	}
	defer priv.D.SetInt64(0)

	address := crypto.PubkeyToAddress(priv.PublicKey)
	rec, err := m.store.Get(agentID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(address.Hex(), rec.Address) {
		return vaulterr.New(vaulterr.BadKey, "decrypted key does not match stored address")
	}
	return fn(priv, address)
}

func isValidAddress(addr string) bool {
	return common.IsHexAddress(addr)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// callMsgFor builds a preflight eth_call/eth_estimateGas message for a
// plain native transfer.
func callMsgFor(from, to common.Address, valueWei *big.Int) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &to, Value: valueWei}
}

// checksummed lower-cases then re-derives go-ethereum's mixed-case
// checksum representation for display purposes.
func checksummed(addr string) string {
	return common.HexToAddress(addr).Hex()
}

func newDynamicFeeTx(chainID *big.Int, nonce uint64, to common.Address, valueWei *big.Int, gasLimit uint64, tipWei, capWei *big.Int) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipWei,
		GasFeeCap: capWei,
		Gas:       gasLimit,
		To:        &to,
		Value:     valueWei,
	})
}
