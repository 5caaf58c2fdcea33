package wallet

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultcore/internal/vaulterr"
	"vaultcore/pkg/vaultconfig"
)

func newThresholdManager(cfg *vaultconfig.Config) *Manager {
	return &Manager{cfg: cfg}
}

func TestEnforceSpendThresholdAllowsUnderThreshold(t *testing.T) {
	m := newThresholdManager(&vaultconfig.Config{SpendThresholdWei: "1000000000000000000"})
	err := m.enforceSpendThreshold(big.NewInt(500), "")
	require.NoError(t, err)
}

func TestEnforceSpendThresholdRequiresConfirmationOverLimit(t *testing.T) {
	m := newThresholdManager(&vaultconfig.Config{
		SpendThresholdWei: "100",
		ConfirmationCode:  "let-me-in",
	})
	err := m.enforceSpendThreshold(big.NewInt(1000), "")
	require.Error(t, err)
	require.Equal(t, vaulterr.ConfirmationRequired, vaulterr.KindOf(err))
}

func TestEnforceSpendThresholdRejectsWrongConfirmationCode(t *testing.T) {
	m := newThresholdManager(&vaultconfig.Config{
		SpendThresholdWei: "100",
		ConfirmationCode:  "let-me-in",
	})
	err := m.enforceSpendThreshold(big.NewInt(1000), "nope")
	require.Error(t, err)
	require.Equal(t, vaulterr.ConfirmationMismatch, vaulterr.KindOf(err))
}

func TestEnforceSpendThresholdAcceptsCorrectConfirmationCode(t *testing.T) {
	m := newThresholdManager(&vaultconfig.Config{
		SpendThresholdWei: "100",
		ConfirmationCode:  "let-me-in",
	})
	err := m.enforceSpendThreshold(big.NewInt(1000), "let-me-in")
	require.NoError(t, err)
}

func TestEnforceSpendThresholdNoOpWhenUnconfigured(t *testing.T) {
	m := newThresholdManager(&vaultconfig.Config{})
	err := m.enforceSpendThreshold(big.NewInt(1_000_000_000_000_000_000), "")
	require.NoError(t, err)
}

func TestSimulateTransferRejectsNonPositiveAmount(t *testing.T) {
	m := &Manager{}
	_, err := m.SimulateTransfer(nil, "agent-1", "0x1111111111111111111111111111111111111a", big.NewInt(0))
	require.Error(t, err)
	require.Equal(t, vaulterr.BadAddress, vaulterr.KindOf(err))
}

func TestSimulateTransferRejectsInvalidAddress(t *testing.T) {
	m := &Manager{}
	_, err := m.SimulateTransfer(nil, "agent-1", "not-an-address", big.NewInt(1))
	require.Error(t, err)
	require.Equal(t, vaulterr.BadAddress, vaulterr.KindOf(err))
}

func TestLockRegistryReturnsSameLockForSameAddress(t *testing.T) {
	r := newLockRegistry()
	a := r.get("0xabc")
	b := r.get("0xabc")
	require.Same(t, a, b)
}

func TestLockRegistryReturnsDistinctLocksForDistinctAddresses(t *testing.T) {
	r := newLockRegistry()
	a := r.get("0xabc")
	b := r.get("0xdef")
	require.NotSame(t, a, b)
}
