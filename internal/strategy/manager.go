// Package strategy is the persistent DCA-style recurring-transfer
// scheduler, built over gorm transactions rather than a JSON file on
// disk. A crash between broadcast and commit loses nothing beyond the
// wallet manager's own quarantine-on-doubt behavior, since the
// strategy row and its run record are written in one transaction
// after the wallet manager has already confirmed the transfer.
package strategy

import (
	"context"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"vaultcore/internal/models"
	"vaultcore/internal/vaulterr"
	"vaultcore/pkg/wallet"
)

// transferer is the subset of wallet.Manager the tick loop depends
// on. Declared here so tests can substitute a fake without touching a
// live chain client.
type transferer interface {
	ProviderStatus(ctx context.Context) (*wallet.ProviderStatus, error)
	SimulateTransfer(ctx context.Context, agentID, toAddress string, amountWei *big.Int) (*wallet.TransferPlan, error)
	ExecuteTransfer(ctx context.Context, agentID, toAddress string, amountWei *big.Int, confirmationCode string, dryRun bool) (*wallet.TransferResult, error)
}

// Manager owns the strategies and strategy_runs tables and drives the
// tick state machine against a wallet.Manager.
type Manager struct {
	db     *gorm.DB
	wallet transferer
	logger *logrus.Entry
}

// New builds a Manager, migrating its tables if needed.
func New(db *gorm.DB, walletMgr *wallet.Manager, logger *logrus.Logger) (*Manager, error) {
	if err := db.AutoMigrate(&models.Strategy{}, &models.StrategyRun{}); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{db: db, wallet: walletMgr, logger: logger.WithField("component", "strategy.Manager")}, nil
}

// CreateParams are the fields required to define a new recurring
// transfer strategy.
type CreateParams struct {
	Label            string
	TenantID         string
	AgentID          string
	ToAddress        string
	AmountNative     string
	IntervalSeconds  int64
	MaxBaseFeeGwei   *string
	DailyCapNative   *string
	ConfirmationCode *string
}

// Create registers a new, initially-disabled strategy.
func (m *Manager) Create(p CreateParams) (*models.Strategy, error) {
	s := models.Strategy{
		Label:            p.Label,
		TenantID:         p.TenantID,
		AgentID:          p.AgentID,
		Kind:             "recurring_transfer",
		ToAddress:        p.ToAddress,
		AmountNative:     p.AmountNative,
		IntervalSeconds:  p.IntervalSeconds,
		Enabled:          false,
		MaxBaseFeeGwei:   p.MaxBaseFeeGwei,
		DailyCapNative:   p.DailyCapNative,
		ConfirmationCode: p.ConfirmationCode,
		SpentTodayNative: "0",
	}
	if err := m.db.Create(&s).Error; err != nil {
		return nil, vaulterr.Wrap(vaulterr.StrategyBadState, "strategy label already exists or is invalid", err)
	}
	return &s, nil
}

// Start enables label and schedules its first run for "now".
func (m *Manager) Start(label string) (*models.Strategy, error) {
	return m.mutate(label, func(s *models.Strategy) {
		s.Enabled = true
		next := time.Now()
		s.NextRunAt = &next
	})
}

// Stop disables label. next_run_at is left as stored; a later Start
// overwrites it and schedules the first run for "now".
func (m *Manager) Stop(label string) (*models.Strategy, error) {
	return m.mutate(label, func(s *models.Strategy) {
		s.Enabled = false
	})
}

// Delete permanently removes a strategy and its run history.
func (m *Manager) Delete(label string) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("label = ?", label).Delete(&models.Strategy{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return vaulterr.New(vaulterr.StrategyNotFound, label)
		}
		return tx.Where("strategy_label = ?", label).Delete(&models.StrategyRun{}).Error
	})
}

// Status returns the current persisted state of label.
func (m *Manager) Status(label string) (*models.Strategy, error) {
	var s models.Strategy
	err := m.db.Where("label = ?", label).First(&s).Error
	if err == gorm.ErrRecordNotFound {
		return nil, vaulterr.New(vaulterr.StrategyNotFound, label)
	}
	return &s, err
}

// List returns every strategy, optionally scoped to one agent.
func (m *Manager) List(agentID string) ([]models.Strategy, error) {
	q := m.db.Order("label")
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	var out []models.Strategy
	err := q.Find(&out).Error
	return out, err
}

func (m *Manager) mutate(label string, fn func(*models.Strategy)) (*models.Strategy, error) {
	var out models.Strategy
	err := m.db.Transaction(func(tx *gorm.DB) error {
		var s models.Strategy
		if err := tx.Where("label = ?", label).First(&s).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return vaulterr.New(vaulterr.StrategyNotFound, label)
			}
			return err
		}
		fn(&s)
		out = s
		return tx.Save(&s).Error
	})
	return &out, err
}

// TickOutcome is the result of one tick_strategy call, mirroring the
// original's tick_strategy return dict shape (action + context).
type TickOutcome struct {
	Action string
	Reason string
	Detail string
	TxHash string
}

// Tick advances label's schedule by at most one transfer as of now,
// following this gate order: paused check, due check, daily cap, gas
// ceiling, simulate, execute, reschedule. At most one transaction,
// containing both the strategy's updated schedule and a strategy_runs
// row, is committed per call — a crash before commit leaves the prior
// schedule intact and the next tick simply retries. Paused, not-due
// and dry-run ticks commit nothing: a tick called with now before the
// strategy's next_run_at is always a no-op.
func (m *Manager) Tick(ctx context.Context, label string, now time.Time, dryRun bool, confirmationCode string) (*TickOutcome, error) {
	s, err := m.Status(label)
	if err != nil {
		return nil, err
	}
	if !s.Enabled {
		return &TickOutcome{Action: "paused"}, nil
	}

	resetDailyIfNeeded(s, now)

	if !due(s, now) {
		return &TickOutcome{Action: "wait", Reason: "not_due"}, nil
	}

	amount, ok := new(big.Int).SetString(s.AmountNative, 10)
	if !ok {
		return nil, vaulterr.New(vaulterr.StrategyBadState, "strategy amount is not a valid integer")
	}

	if s.DailyCapNative != nil {
		cap, ok := new(big.Int).SetString(*s.DailyCapNative, 10)
		spent, spentOK := new(big.Int).SetString(s.SpentTodayNative, 10)
		if !spentOK {
			spent = big.NewInt(0)
		}
		if ok {
			projected := new(big.Int).Add(spent, amount)
			if projected.Cmp(cap) > 0 {
				return m.recordAndReschedule(s, now, models.OutcomeSkippedCap, "daily cap reached")
			}
		}
	}

	if s.MaxBaseFeeGwei != nil {
		status, err := m.wallet.ProviderStatus(ctx)
		if err != nil {
			return nil, err
		}
		ceiling, ok := new(big.Float).SetString(*s.MaxBaseFeeGwei)
		if ok && status.BaseFeeGwei > 0 {
			current := big.NewFloat(status.BaseFeeGwei)
			if current.Cmp(ceiling) > 0 {
				return m.recordAndReschedule(s, now, models.OutcomeSkippedGas, "base fee above ceiling")
			}
		}
	}

	plan, err := m.wallet.SimulateTransfer(ctx, s.AgentID, s.ToAddress, amount)
	if err != nil {
		return m.recordAndReschedule(s, now, models.OutcomeSkippedSimulate, err.Error())
	}
	if plan.InsufficientFunds {
		return m.recordAndReschedule(s, now, models.OutcomeSkippedSimulate, "insufficient funds for amount plus fees")
	}

	if dryRun {
		// A preview tick: every gate through the funds check has passed,
		// but nothing is written — next_run_at, spent-today, and the run
		// history are left exactly as they were so a real tick right
		// after this one still fires on the strategy's normal schedule.
		return &TickOutcome{Action: "dry_run", Detail: "would send: gates passed and funds are sufficient"}, nil
	}

	if confirmationCode == "" && s.ConfirmationCode != nil {
		confirmationCode = *s.ConfirmationCode
	}
	result, err := m.wallet.ExecuteTransfer(ctx, s.AgentID, s.ToAddress, amount, confirmationCode, false)
	if err != nil {
		return m.recordFailureAndReschedule(s, now, err)
	}

	spent, spentOK := new(big.Int).SetString(s.SpentTodayNative, 10)
	if !spentOK {
		spent = big.NewInt(0)
	}
	newSpent := new(big.Int).Add(spent, amount)

	return m.commitSentTick(s, now, result.TxHash, newSpent.String())
}

func (m *Manager) commitSentTick(s *models.Strategy, now time.Time, txHash, newSpent string) (*TickOutcome, error) {
	next := scheduleNext(s, now)
	err := m.db.Transaction(func(tx *gorm.DB) error {
		s.LastRunAt = &now
		s.LastTxHash = &txHash
		s.SpentTodayNative = newSpent
		s.NextRunAt = &next
		if err := tx.Save(s).Error; err != nil {
			return err
		}
		run := models.StrategyRun{
			StrategyLabel: s.Label,
			RanAt:         now,
			Outcome:       string(models.OutcomeSent),
			TxHash:        &txHash,
		}
		return tx.Create(&run).Error
	})
	if err != nil {
		return nil, err
	}
	return &TickOutcome{Action: "sent", TxHash: txHash}, nil
}

func (m *Manager) recordAndReschedule(s *models.Strategy, now time.Time, outcome models.StrategyRunOutcome, detail string) (*TickOutcome, error) {
	next := scheduleNext(s, now)
	err := m.db.Transaction(func(tx *gorm.DB) error {
		s.NextRunAt = &next
		if err := tx.Save(s).Error; err != nil {
			return err
		}
		run := models.StrategyRun{
			StrategyLabel: s.Label,
			RanAt:         now,
			Outcome:       string(outcome),
			Detail:        detail,
		}
		return tx.Create(&run).Error
	})
	if err != nil {
		return nil, err
	}
	action := "wait"
	if outcome == models.OutcomeSkippedGas || outcome == models.OutcomeSkippedSimulate {
		action = "abort"
	}
	return &TickOutcome{Action: action, Reason: string(outcome), Detail: detail}, nil
}

func (m *Manager) recordFailureAndReschedule(s *models.Strategy, now time.Time, cause error) (*TickOutcome, error) {
	next := scheduleNext(s, now)
	err := m.db.Transaction(func(tx *gorm.DB) error {
		s.NextRunAt = &next
		if err := tx.Save(s).Error; err != nil {
			return err
		}
		run := models.StrategyRun{
			StrategyLabel: s.Label,
			RanAt:         now,
			Outcome:       string(models.OutcomeFailed),
			Detail:        cause.Error(),
		}
		return tx.Create(&run).Error
	})
	if err != nil {
		return nil, err
	}
	kind := vaulterr.KindOf(cause)
	if kind == "" {
		kind = vaulterr.BroadcastAborted
	}
	return nil, vaulterr.Wrap(kind, cause.Error(), cause)
}

// due reports whether s should fire at "now": disabled strategies are
// never due, a strategy with no prior schedule is immediately due, and
// otherwise now must have reached next_run_at.
func due(s *models.Strategy, now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.NextRunAt == nil {
		return true
	}
	return !now.Before(*s.NextRunAt)
}

// scheduleNext computes the next run time from now under a
// single-tick catch-up policy: the schedule always advances by exactly
// one interval from the current wall-clock time,
// never by stacking up missed intervals.
func scheduleNext(s *models.Strategy, now time.Time) time.Time {
	return now.Add(time.Duration(s.IntervalSeconds) * time.Second)
}

func resetDailyIfNeeded(s *models.Strategy, now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if s.SpentDay == nil || *s.SpentDay != day {
		s.SpentDay = &day
		s.SpentTodayNative = "0"
	}
}
