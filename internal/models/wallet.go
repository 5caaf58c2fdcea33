package models

import "time"

// Wallet is the persisted record for one agent's custodial EVM
// account. Address is unique across the whole store; enforced at the
// keystore layer with a DB unique index as a backstop.
type Wallet struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	TenantID    string    `gorm:"size:128;not null;default:'default';uniqueIndex:idx_wallets_tenant_agent" json:"tenant_id"`
	AgentID     string    `gorm:"size:255;not null;uniqueIndex:idx_wallets_tenant_agent" json:"agent_id"`
	Address     string    `gorm:"size:42;not null;uniqueIndex:idx_wallets_address" json:"address"`
	Ciphertext  []byte    `gorm:"type:bytea;not null" json:"-"`
	ChainID     int64     `gorm:"not null" json:"chain_id"`
	LastNonce   *uint64   `json:"last_nonce"`
	MetadataRaw []byte    `gorm:"type:jsonb" json:"-"`
	Quarantined bool      `gorm:"default:false" json:"quarantined"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}
