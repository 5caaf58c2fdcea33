package strategy

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"vaultcore/internal/models"
	"vaultcore/pkg/wallet"
)

type fakeTransferer struct {
	providerStatus *wallet.ProviderStatus
	plan           *wallet.TransferPlan
	planErr        error
	transferResult *wallet.TransferResult
	transferErr    error
	executeCalls   int
}

func (f *fakeTransferer) ProviderStatus(ctx context.Context) (*wallet.ProviderStatus, error) {
	if f.providerStatus != nil {
		return f.providerStatus, nil
	}
	return &wallet.ProviderStatus{Connected: true, BaseFeeGwei: 10}, nil
}

func (f *fakeTransferer) SimulateTransfer(ctx context.Context, agentID, toAddress string, amountWei *big.Int) (*wallet.TransferPlan, error) {
	if f.planErr != nil {
		return nil, f.planErr
	}
	if f.plan != nil {
		return f.plan, nil
	}
	return &wallet.TransferPlan{InsufficientFunds: false}, nil
}

func (f *fakeTransferer) ExecuteTransfer(ctx context.Context, agentID, toAddress string, amountWei *big.Int, confirmationCode string, dryRun bool) (*wallet.TransferResult, error) {
	f.executeCalls++
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	if f.transferResult != nil {
		return f.transferResult, nil
	}
	return &wallet.TransferResult{TxHash: "0xabc"}, nil
}

func newTestManager(t *testing.T, wallet transferer) *Manager {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Strategy{}, &models.StrategyRun{}))
	return &Manager{db: db, wallet: wallet}
}

func createEnabledStrategy(t *testing.T, m *Manager, label string) *models.Strategy {
	t.Helper()
	_, err := m.Create(CreateParams{
		Label: label, TenantID: "default", AgentID: "agent-1",
		ToAddress: "0x1111111111111111111111111111111111111a",
		AmountNative: "1000", IntervalSeconds: 60,
	})
	require.NoError(t, err)
	s, err := m.Start(label)
	require.NoError(t, err)
	return s
}

func TestTickSendsWhenDueAndFunded(t *testing.T) {
	fake := &fakeTransferer{}
	m := newTestManager(t, fake)
	createEnabledStrategy(t, m, "dca-1")

	outcome, err := m.Tick(context.Background(), "dca-1", time.Now(), false, "")
	require.NoError(t, err)
	require.Equal(t, "sent", outcome.Action)
	require.Equal(t, 1, fake.executeCalls)

	s, err := m.Status("dca-1")
	require.NoError(t, err)
	require.Equal(t, "1000", s.SpentTodayNative)
	require.NotNil(t, s.LastTxHash)
	require.NotNil(t, s.NextRunAt)
	require.True(t, s.NextRunAt.After(time.Now()))
}

func TestTickDryRunLeavesScheduleAndSpendUntouched(t *testing.T) {
	fake := &fakeTransferer{}
	m := newTestManager(t, fake)
	createEnabledStrategy(t, m, "dca-dry")

	before, err := m.Status("dca-dry")
	require.NoError(t, err)

	outcome, err := m.Tick(context.Background(), "dca-dry", time.Now(), true, "")
	require.NoError(t, err)
	require.Equal(t, "dry_run", outcome.Action)
	require.Zero(t, fake.executeCalls)

	after, err := m.Status("dca-dry")
	require.NoError(t, err)
	require.Equal(t, before.NextRunAt, after.NextRunAt)
	require.Equal(t, before.SpentTodayNative, after.SpentTodayNative)

	var runCount int64
	require.NoError(t, m.db.Model(&models.StrategyRun{}).Where("strategy_label = ?", "dca-dry").Count(&runCount).Error)
	require.Zero(t, runCount)

	// A real tick immediately after the dry run still fires normally,
	// since the dry run never consumed the due schedule slot.
	real, err := m.Tick(context.Background(), "dca-dry", time.Now(), false, "")
	require.NoError(t, err)
	require.Equal(t, "sent", real.Action)
	require.Equal(t, 1, fake.executeCalls)
}

func TestTickReportsPausedWhenDisabled(t *testing.T) {
	fake := &fakeTransferer{}
	m := newTestManager(t, fake)
	_, err := m.Create(CreateParams{Label: "dca-2", AgentID: "agent-1", ToAddress: "0x1111111111111111111111111111111111111a", AmountNative: "10", IntervalSeconds: 60})
	require.NoError(t, err)

	outcome, err := m.Tick(context.Background(), "dca-2", time.Now(), false, "")
	require.NoError(t, err)
	require.Equal(t, "paused", outcome.Action)
	require.Zero(t, fake.executeCalls)
}

func TestTickSkipsWhenInsufficientFunds(t *testing.T) {
	fake := &fakeTransferer{plan: &wallet.TransferPlan{InsufficientFunds: true}}
	m := newTestManager(t, fake)
	createEnabledStrategy(t, m, "dca-3")

	outcome, err := m.Tick(context.Background(), "dca-3", time.Now(), false, "")
	require.NoError(t, err)
	require.Equal(t, "abort", outcome.Action)
	require.Zero(t, fake.executeCalls)

	var run models.StrategyRun
	require.NoError(t, m.db.Where("strategy_label = ?", "dca-3").First(&run).Error)
	require.Equal(t, string(models.OutcomeSkippedSimulate), run.Outcome)
}

func TestTickRespectsDailyCap(t *testing.T) {
	fake := &fakeTransferer{}
	m := newTestManager(t, fake)
	cap := "500"
	_, err := m.Create(CreateParams{
		Label: "dca-4", AgentID: "agent-1", ToAddress: "0x1111111111111111111111111111111111111a",
		AmountNative: "1000", IntervalSeconds: 60, DailyCapNative: &cap,
	})
	require.NoError(t, err)
	_, err = m.Start("dca-4")
	require.NoError(t, err)

	outcome, err := m.Tick(context.Background(), "dca-4", time.Now(), false, "")
	require.NoError(t, err)
	require.Equal(t, "wait", outcome.Action)
	require.Equal(t, string(models.OutcomeSkippedCap), outcome.Reason)
	require.Zero(t, fake.executeCalls)
}

func TestTickRespectsGasCeiling(t *testing.T) {
	fake := &fakeTransferer{providerStatus: &wallet.ProviderStatus{Connected: true, BaseFeeGwei: 100}}
	m := newTestManager(t, fake)
	ceiling := "50"
	_, err := m.Create(CreateParams{
		Label: "dca-5", AgentID: "agent-1", ToAddress: "0x1111111111111111111111111111111111111a",
		AmountNative: "10", IntervalSeconds: 60, MaxBaseFeeGwei: &ceiling,
	})
	require.NoError(t, err)
	_, err = m.Start("dca-5")
	require.NoError(t, err)

	outcome, err := m.Tick(context.Background(), "dca-5", time.Now(), false, "")
	require.NoError(t, err)
	require.Equal(t, "abort", outcome.Action)
	require.Zero(t, fake.executeCalls)
}

func TestTickDailyCapTakesPrecedenceOverGasCeiling(t *testing.T) {
	fake := &fakeTransferer{providerStatus: &wallet.ProviderStatus{Connected: true, BaseFeeGwei: 100}}
	m := newTestManager(t, fake)
	cap := "500"
	ceiling := "50"
	_, err := m.Create(CreateParams{
		Label: "dca-cap-gas", AgentID: "agent-1", ToAddress: "0x1111111111111111111111111111111111111a",
		AmountNative: "1000", IntervalSeconds: 60, DailyCapNative: &cap, MaxBaseFeeGwei: &ceiling,
	})
	require.NoError(t, err)
	_, err = m.Start("dca-cap-gas")
	require.NoError(t, err)

	outcome, err := m.Tick(context.Background(), "dca-cap-gas", time.Now(), false, "")
	require.NoError(t, err)
	require.Equal(t, string(models.OutcomeSkippedCap), outcome.Reason)
	require.Zero(t, fake.executeCalls)
}

func TestTickAtLiteralTimeIsNoOpBeforeNextRun(t *testing.T) {
	fake := &fakeTransferer{}
	m := newTestManager(t, fake)
	createEnabledStrategy(t, m, "dca-literal")

	t0 := time.Now()
	first, err := m.Tick(context.Background(), "dca-literal", t0, false, "")
	require.NoError(t, err)
	require.Equal(t, "sent", first.Action)

	// A tick at t0+1s, still before the strategy's 60s interval has
	// elapsed, must be a no-op regardless of wall-clock time.
	second, err := m.Tick(context.Background(), "dca-literal", t0.Add(1*time.Second), false, "")
	require.NoError(t, err)
	require.Equal(t, "wait", second.Action)
	require.Equal(t, "not_due", second.Reason)
	require.Equal(t, 1, fake.executeCalls)

	third, err := m.Tick(context.Background(), "dca-literal", t0.Add(61*time.Second), false, "")
	require.NoError(t, err)
	require.Equal(t, "sent", third.Action)
	require.Equal(t, 2, fake.executeCalls)
}

func TestTickNotDueReturnsWait(t *testing.T) {
	fake := &fakeTransferer{}
	m := newTestManager(t, fake)
	createEnabledStrategy(t, m, "dca-6")
	_, err := m.Tick(context.Background(), "dca-6", time.Now(), false, "")
	require.NoError(t, err)

	outcome, err := m.Tick(context.Background(), "dca-6", time.Now(), false, "")
	require.NoError(t, err)
	require.Equal(t, "wait", outcome.Action)
	require.Equal(t, "not_due", outcome.Reason)
	require.Equal(t, 1, fake.executeCalls)
}

func TestDeleteRemovesStrategyAndRuns(t *testing.T) {
	fake := &fakeTransferer{}
	m := newTestManager(t, fake)
	createEnabledStrategy(t, m, "dca-7")
	_, err := m.Tick(context.Background(), "dca-7", time.Now(), false, "")
	require.NoError(t, err)

	require.NoError(t, m.Delete("dca-7"))
	_, err = m.Status("dca-7")
	require.Error(t, err)
}
