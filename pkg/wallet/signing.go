package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"vaultcore/internal/vaulterr"
)

// SignatureResult carries a signature and the digest that was signed.
type SignatureResult struct {
	Signature   string
	MessageHash string
}

// VerifyResult reports whether a signature recovers to the expected
// address.
type VerifyResult struct {
	Valid            bool
	RecoveredAddress string
}

// SignMessage signs an EIP-191 personal message ("\x19Ethereum Signed
// Message:\n" + len + message) with agentID's key.
func (m *Manager) SignMessage(agentID, message string) (*SignatureResult, error) {
	var result *SignatureResult
	err := m.withUnsealedKey(agentID, func(priv *ecdsa.PrivateKey, _ common.Address) error {
		digest := accounts.TextHash([]byte(message))
		sig, signErr := crypto.Sign(digest, priv)
		if signErr != nil {
			return signErr
		}
		result = &SignatureResult{
			Signature:   "0x" + common.Bytes2Hex(sig),
			MessageHash: "0x" + common.Bytes2Hex(digest),
		}
		return nil
	})
	return result, err
}

// VerifyMessage checks that signature recovers to address for message.
func VerifyMessage(address, message, signatureHex string) (*VerifyResult, error) {
	sig, err := hexToBytes(signatureHex)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.BadKey, "malformed signature", err)
	}
	if len(sig) != 65 {
		return nil, vaulterr.New(vaulterr.BadKey, "signature must be 65 bytes")
	}
	digest := accounts.TextHash([]byte(message))
	recovered, err := recoverAddress(digest, sig)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.BadKey, "signature recovery failed", err)
	}
	return &VerifyResult{
		Valid:            equalFoldAddress(recovered, address),
		RecoveredAddress: recovered,
	}, nil
}

// SignTypedData signs an EIP-712 typed data payload with agentID's
// key.
func (m *Manager) SignTypedData(agentID string, typedData apitypes.TypedData) (*SignatureResult, error) {
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.BadKey, "invalid typed data payload", err)
	}
	var result *SignatureResult
	err = m.withUnsealedKey(agentID, func(priv *ecdsa.PrivateKey, _ common.Address) error {
		sig, signErr := crypto.Sign(digest, priv)
		if signErr != nil {
			return signErr
		}
		result = &SignatureResult{
			Signature:   "0x" + common.Bytes2Hex(sig),
			MessageHash: "0x" + common.Bytes2Hex(digest),
		}
		return nil
	})
	return result, err
}

// VerifyTypedData checks that signature recovers to address for the
// given EIP-712 typed data payload.
func VerifyTypedData(address string, typedData apitypes.TypedData, signatureHex string) (*VerifyResult, error) {
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.BadKey, "invalid typed data payload", err)
	}
	sig, err := hexToBytes(signatureHex)
	if err != nil || len(sig) != 65 {
		return nil, vaulterr.New(vaulterr.BadKey, "malformed signature")
	}
	recovered, err := recoverAddress(digest, sig)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.BadKey, "signature recovery failed", err)
	}
	return &VerifyResult{
		Valid:            equalFoldAddress(recovered, address),
		RecoveredAddress: recovered,
	}, nil
}

// ExportKeystore re-encrypts the stored key under a caller passphrase
// using the standard V3 keystore format. This path is enabled by
// default — the recipient must still know passphrase to recover the
// key.
func (m *Manager) ExportKeystore(agentID, passphrase string) (string, error) {
	return m.store.ExportKeystoreJSON(agentID, passphrase)
}

// ExportPrivateKey returns the raw private key hex, gated by the
// deployment's plaintext-export switches.
func (m *Manager) ExportPrivateKey(agentID, confirmationCode string) (string, error) {
	return m.store.ExportPrivateKey(agentID, confirmationCode)
}

// ProviderStatus reports chain connectivity and current fee levels.
type ProviderStatus struct {
	ChainID            int64
	Connected          bool
	LatestBlockNumber  uint64
	BaseFeeGwei        float64
	PriorityFeeGwei    float64
	EstimatedGasPriceGwei float64
	Endpoints          []EndpointHealth
}

// EndpointHealth is one configured RPC endpoint's reachability at the
// moment ProviderStatus was computed.
type EndpointHealth struct {
	URL     string
	OK      bool
	LatencyMS int64
	Error   string
}

func (m *Manager) ProviderStatus(ctx context.Context) (*ProviderStatus, error) {
	health := m.chain.HealthCheck(ctx)
	endpoints := make([]EndpointHealth, 0, len(health))
	connected := false
	for _, h := range health {
		endpoints = append(endpoints, EndpointHealth{URL: h.URL, OK: h.OK, LatencyMS: h.Latency.Milliseconds(), Error: h.Error})
		if h.OK {
			connected = true
		}
	}
	status := &ProviderStatus{
		ChainID:   m.chain.ChainID().Int64(),
		Connected: connected,
		Endpoints: endpoints,
	}
	if !connected {
		return status, nil
	}
	fee, err := m.chain.FeeSuggestion(ctx, 10)
	if err == nil {
		status.BaseFeeGwei = weiToGwei(fee.BaseFeeWei)
		status.PriorityFeeGwei = weiToGwei(fee.SuggestedTipWei)
		status.EstimatedGasPriceGwei = status.BaseFeeGwei + status.PriorityFeeGwei
	}
	return status, nil
}

var erc20MetadataABI = mustParseABIFragment(`[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`)

func mustParseABIFragment(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("wallet: invalid embedded ERC20 ABI fragment: " + err.Error())
	}
	return parsed
}

// ContractInspection is the ERC20-metadata-aware contract report
// returned by InspectContract.
type ContractInspection struct {
	Address        string
	IsContract     bool
	BalanceWei     *big.Int
	BytecodeLength int
	Symbol         string
	Name           string
	Decimals       uint8
	HasERC20Metadata bool
}

// InspectContract reports whether address holds contract bytecode and,
// if so, attempts to read its ERC20 symbol/name/decimals.
func (m *Manager) InspectContract(ctx context.Context, address string) (*ContractInspection, error) {
	if !isValidAddress(address) {
		return nil, vaulterr.New(vaulterr.BadAddress, "invalid contract address")
	}
	addr := common.HexToAddress(address)
	code, err := m.codeAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	balance, err := m.chain.Balance(ctx, addr)
	if err != nil {
		return nil, err
	}
	result := &ContractInspection{
		Address:        addr.Hex(),
		IsContract:     len(code) > 0,
		BalanceWei:     balance,
		BytecodeLength: len(code),
	}
	if !result.IsContract {
		return result, nil
	}

	if symbol, ok := m.callERC20String(ctx, addr, "symbol"); ok {
		result.Symbol = symbol
		result.HasERC20Metadata = true
	}
	if name, ok := m.callERC20String(ctx, addr, "name"); ok {
		result.Name = name
		result.HasERC20Metadata = true
	}
	if decimals, ok := m.callERC20Uint8(ctx, addr, "decimals"); ok {
		result.Decimals = decimals
		result.HasERC20Metadata = true
	}
	return result, nil
}

func (m *Manager) callERC20String(ctx context.Context, addr common.Address, method string) (string, bool) {
	out, err := m.callView(ctx, addr, method)
	if err != nil || len(out) == 0 {
		return "", false
	}
	var value string
	if err := erc20MetadataABI.UnpackIntoInterface(&value, method, out); err != nil {
		return "", false
	}
	return value, true
}

func (m *Manager) callERC20Uint8(ctx context.Context, addr common.Address, method string) (uint8, bool) {
	out, err := m.callView(ctx, addr, method)
	if err != nil || len(out) == 0 {
		return 0, false
	}
	var value uint8
	if err := erc20MetadataABI.UnpackIntoInterface(&value, method, out); err != nil {
		return 0, false
	}
	return value, true
}

func (m *Manager) callView(ctx context.Context, addr common.Address, method string) ([]byte, error) {
	packed, err := erc20MetadataABI.Pack(method)
	if err != nil {
		return nil, err
	}
	return m.chain.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: packed})
}

func (m *Manager) codeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return m.chain.CodeAt(ctx, addr)
}

func hexToBytes(s string) ([]byte, error) {
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

func recoverAddress(digest, sig []byte) (string, error) {
	sigCopy := make([]byte, len(sig))
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, sigCopy)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func equalFoldAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}

func weiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e9))
	out, _ := f.Float64()
	return out
}

