package models

import "time"

// Strategy is a recurring-transfer configuration owned by one agent.
// Label is globally unique and is the primary handle callers use.
type Strategy struct {
	ID               uint       `gorm:"primarykey" json:"id"`
	Label            string     `gorm:"size:255;not null;uniqueIndex" json:"label"`
	TenantID         string     `gorm:"size:128;not null;default:'default'" json:"tenant_id"`
	AgentID          string     `gorm:"size:255;not null" json:"agent_id"`
	Kind             string     `gorm:"size:64;not null;default:'recurring_transfer'" json:"kind"`
	ToAddress        string     `gorm:"size:42;not null" json:"to_address"`
	AmountNative     string     `gorm:"size:80;not null" json:"amount_native"`
	IntervalSeconds  int64      `gorm:"not null" json:"interval_seconds"`
	Enabled          bool       `gorm:"default:false" json:"enabled"`
	MaxBaseFeeGwei   *string    `gorm:"size:40" json:"max_base_fee_gwei"`
	DailyCapNative   *string    `gorm:"size:80" json:"daily_cap_native"`
	NextRunAt        *time.Time `json:"next_run_at"`
	LastRunAt        *time.Time `json:"last_run_at"`
	LastTxHash       *string    `gorm:"size:80" json:"last_tx_hash"`
	SpentDay         *string    `gorm:"size:10" json:"spent_day"`
	SpentTodayNative string     `gorm:"size:80;not null;default:'0'" json:"spent_today_native"`
	ConfirmationCode *string    `gorm:"size:128" json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Strategy) TableName() string {
	return "strategies"
}

// StrategyRunOutcome is the closed set of tick results.
type StrategyRunOutcome string

const (
	OutcomeSent            StrategyRunOutcome = "sent"
	OutcomeSkippedGas      StrategyRunOutcome = "skipped_gas"
	OutcomeSkippedCap      StrategyRunOutcome = "skipped_cap"
	OutcomeSkippedNotDue   StrategyRunOutcome = "skipped_not_due"
	OutcomeSkippedSimulate StrategyRunOutcome = "skipped_simulation"
	OutcomeFailed          StrategyRunOutcome = "failed"
)

// StrategyRun is an append-only audit child of a Strategy tick.
type StrategyRun struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	StrategyLabel string    `gorm:"size:255;not null;index" json:"strategy_label"`
	RanAt         time.Time `gorm:"not null;index" json:"ran_at"`
	Outcome       string    `gorm:"size:32;not null" json:"outcome"`
	TxHash        *string   `gorm:"size:80" json:"tx_hash"`
	Detail        string    `gorm:"type:text" json:"detail"`
}

func (StrategyRun) TableName() string {
	return "strategy_runs"
}
