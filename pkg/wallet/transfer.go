package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"vaultcore/internal/vaulterr"
)

// TransferPlan is the pre-flight breakdown returned by SimulateTransfer.
type TransferPlan struct {
	From              string
	To                string
	AmountWei         *big.Int
	GasLimit          uint64
	MaxFeePerGasWei   *big.Int
	MaxPriorityFeeWei *big.Int
	EstimatedFeeWei   *big.Int
	EstimatedTotalWei *big.Int
	BalanceWei        *big.Int
	InsufficientFunds bool
}

// SimulateTransfer prices a transfer without broadcasting it or
// touching the nonce lock — safe to call at any rate.
func (m *Manager) SimulateTransfer(ctx context.Context, agentID, toAddress string, amountWei *big.Int) (*TransferPlan, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return nil, vaulterr.New(vaulterr.BadAddress, "amount must be positive")
	}
	if !isValidAddress(toAddress) {
		return nil, vaulterr.New(vaulterr.BadAddress, "invalid recipient address")
	}
	rec, err := m.store.Get(agentID)
	if err != nil {
		return nil, err
	}
	if rec.ChainID != m.chain.ChainID().Int64() {
		return nil, vaulterr.New(vaulterr.BadAddress, "wallet was created for a different chain")
	}
	from := common.HexToAddress(rec.Address)
	to := common.HexToAddress(toAddress)

	fee, err := m.chain.FeeSuggestion(ctx, 10)
	if err != nil {
		return nil, err
	}
	gasLimit, err := m.chain.EstimateGas(ctx, callMsgFor(from, to, amountWei))
	if err != nil {
		return nil, err
	}
	balance, err := m.chain.Balance(ctx, from)
	if err != nil {
		return nil, err
	}

	feeWei := new(big.Int).Mul(fee.SuggestedCapWei, new(big.Int).SetUint64(gasLimit))
	total := new(big.Int).Add(amountWei, feeWei)

	return &TransferPlan{
		From:              from.Hex(),
		To:                to.Hex(),
		AmountWei:         amountWei,
		GasLimit:          gasLimit,
		MaxFeePerGasWei:   fee.SuggestedCapWei,
		MaxPriorityFeeWei: fee.SuggestedTipWei,
		EstimatedFeeWei:   feeWei,
		EstimatedTotalWei: total,
		BalanceWei:        balance,
		InsufficientFunds: balance.Cmp(total) < 0,
	}, nil
}

// TransferResult is what ExecuteTransfer hands back. For a real
// transfer, TxHash/Nonce/GasUsed describe the broadcast transaction.
// For a dry_run call, DryRun is true and Plan carries the simulation
// payload that would have been broadcast, with no chain state ever
// touched.
type TransferResult struct {
	DryRun  bool
	Plan    *TransferPlan
	TxHash  string
	Nonce   uint64
	GasUsed uint64
}

// ExecuteTransfer runs the full signed-transfer sequence: validate
// inputs, enforce the spend threshold, take the per-address lock,
// price and size the transaction, verify balance covers amount+fees,
// and — unless dryRun — sign, broadcast, and advance the stored
// nonce. The per-address lock is held only across pricing, signing,
// and broadcast; it is released the instant the nonce has been
// advanced, before any receipt is awaited, so a slow confirmation on
// one transfer never blocks a concurrent transfer queued behind it.
// A failure after broadcast but before the nonce write quarantines
// the wallet rather than risking a double-spend on retry.
func (m *Manager) ExecuteTransfer(ctx context.Context, agentID, toAddress string, amountWei *big.Int, confirmationCode string, dryRun bool) (*TransferResult, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return nil, vaulterr.New(vaulterr.BadAddress, "amount must be positive")
	}
	if !isValidAddress(toAddress) {
		return nil, vaulterr.New(vaulterr.BadAddress, "invalid recipient address")
	}
	rec, err := m.store.Get(agentID)
	if err != nil {
		return nil, err
	}
	if rec.ChainID != m.chain.ChainID().Int64() {
		return nil, vaulterr.New(vaulterr.BadAddress, "wallet was created for a different chain")
	}
	quarantined, err := m.store.IsQuarantined(agentID)
	if err != nil {
		return nil, err
	}
	if quarantined {
		return nil, vaulterr.New(vaulterr.BroadcastAborted, "wallet is quarantined pending operator review")
	}
	if err := m.enforceSpendThreshold(amountWei, confirmationCode); err != nil {
		return nil, err
	}

	lock := m.locks.get(rec.Address)
	lock.Lock()
	hash, nonce, plan, err := m.broadcastLocked(ctx, agentID, rec.Address, toAddress, amountWei, rec.LastNonce, dryRun)
	lock.Unlock()
	if err != nil {
		return nil, err
	}
	if dryRun {
		return &TransferResult{DryRun: true, Plan: plan}, nil
	}

	receipt, err := m.chain.WaitReceipt(ctx, hash)
	if err != nil {
		// Broadcast succeeded but confirmation could not be observed;
		// quarantine so a caller retry can't double-send at this nonce.
		_ = m.store.Quarantine(agentID)
		return nil, vaulterr.Wrap(vaulterr.BroadcastAborted, "broadcast sent but receipt could not be confirmed", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, vaulterr.New(vaulterr.RPCRejected, "transaction reverted on-chain")
	}

	m.logger.WithFields(logrus.Fields{
		"agent_id": agentID, "tx_hash": hash.Hex(), "nonce": nonce,
	}).Info("transfer confirmed")

	return &TransferResult{TxHash: hash.Hex(), Nonce: nonce, GasUsed: receipt.GasUsed}, nil
}

// broadcastLocked assumes the caller already holds the per-address
// lock for rec.Address and releases nothing itself — the critical
// section runs from pricing through the nonce advance, never across
// receipt confirmation. lastNonce is the wallet's own bookkeeping of
// the most recently used nonce, nil if none has ever been recorded;
// the broadcast nonce is the greater of the RPC's pending-nonce view
// and one past that, guarding against a lagging endpoint handing back
// a nonce that has already been used. When dryRun is true, it returns
// the priced plan without signing, broadcasting, or touching the
// nonce.
func (m *Manager) broadcastLocked(ctx context.Context, agentID, fromAddr, toAddress string, amountWei *big.Int, lastNonce *uint64, dryRun bool) (common.Hash, uint64, *TransferPlan, error) {
	from := common.HexToAddress(fromAddr)
	to := common.HexToAddress(toAddress)

	nonce, err := m.chain.PendingNonce(ctx, from)
	if err != nil {
		return common.Hash{}, 0, nil, err
	}
	if lastNonce != nil && *lastNonce+1 > nonce {
		nonce = *lastNonce + 1
	}
	fee, err := m.chain.FeeSuggestion(ctx, 10)
	if err != nil {
		return common.Hash{}, 0, nil, err
	}
	gasLimit, err := m.chain.EstimateGas(ctx, callMsgFor(from, to, amountWei))
	if err != nil {
		return common.Hash{}, 0, nil, err
	}
	balance, err := m.chain.Balance(ctx, from)
	if err != nil {
		return common.Hash{}, 0, nil, err
	}
	feeWei := new(big.Int).Mul(fee.SuggestedCapWei, new(big.Int).SetUint64(gasLimit))
	total := new(big.Int).Add(amountWei, feeWei)
	if balance.Cmp(total) < 0 {
		return common.Hash{}, 0, nil, vaulterr.New(vaulterr.InsufficientFunds, "balance does not cover amount plus fees")
	}

	if dryRun {
		return common.Hash{}, 0, &TransferPlan{
			From:              from.Hex(),
			To:                to.Hex(),
			AmountWei:         amountWei,
			GasLimit:          gasLimit,
			MaxFeePerGasWei:   fee.SuggestedCapWei,
			MaxPriorityFeeWei: fee.SuggestedTipWei,
			EstimatedFeeWei:   feeWei,
			EstimatedTotalWei: total,
			BalanceWei:        balance,
			InsufficientFunds: false,
		}, nil
	}

	var signedTx *types.Transaction
	err = m.withUnsealedKey(agentID, func(priv *ecdsa.PrivateKey, addr common.Address) error {
		tx := newDynamicFeeTx(m.chain.ChainID(), nonce, to, amountWei, gasLimit, fee.SuggestedTipWei, fee.SuggestedCapWei)
		signer := types.LatestSignerForChainID(m.chain.ChainID())
		signed, signErr := types.SignTx(tx, signer, priv)
		if signErr != nil {
			return signErr
		}
		signedTx = signed
		return nil
	})
	if err != nil {
		return common.Hash{}, 0, nil, err
	}

	hash, err := m.chain.SendRaw(ctx, signedTx)
	if err != nil {
		// Rejected before acceptance: release without advancing the nonce.
		return common.Hash{}, 0, nil, err
	}

	if err := m.store.AdvanceNonce(agentID, nonce); err != nil {
		_ = m.store.Quarantine(agentID)
		return common.Hash{}, 0, nil, vaulterr.Wrap(vaulterr.BroadcastAborted, "transaction broadcast but nonce bookkeeping failed; wallet quarantined", err)
	}

	return hash, nonce, nil, nil
}

// enforceSpendThreshold blocks a transfer above the configured
// per-transaction wei threshold unless the caller supplies the
// deployment's confirmation code.
func (m *Manager) enforceSpendThreshold(amountWei *big.Int, confirmationCode string) error {
	if m.cfg.SpendThresholdWei == "" {
		return nil
	}
	threshold, ok := new(big.Int).SetString(m.cfg.SpendThresholdWei, 10)
	if !ok || amountWei.Cmp(threshold) <= 0 {
		return nil
	}
	if m.cfg.ConfirmationCode == "" || confirmationCode == "" {
		return vaulterr.New(vaulterr.ConfirmationRequired, "amount exceeds spend threshold")
	}
	if confirmationCode != m.cfg.ConfirmationCode {
		return vaulterr.New(vaulterr.ConfirmationMismatch, "confirmation code does not match")
	}
	return nil
}
