package models

import (
	"time"
)

// EquitySnapshot is a per-cycle record of the version's account state.
// Equity = Cash + UnrealizedPnL by construction at write time; the cumulative
// realized, fee and funding totals are carried for reporting.
type EquitySnapshot struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	VersionID     uint      `gorm:"index:idx_snapshots_version_ts,unique;not null" json:"version_id"`
	Ts            time.Time `gorm:"index:idx_snapshots_version_ts,unique;not null" json:"ts"`
	Equity        float64   `gorm:"type:decimal(20,8);not null" json:"equity"`
	Cash          float64   `gorm:"type:decimal(20,8);not null" json:"cash"`
	UnrealizedPnL float64   `gorm:"type:decimal(20,8)" json:"unrealized_pnl"`
	RealizedPnL   float64   `gorm:"type:decimal(20,8)" json:"realized_pnl"`
	Fees          float64   `gorm:"type:decimal(20,8)" json:"fees"`
	Funding       float64   `gorm:"type:decimal(20,8)" json:"funding"` // signed
	CreatedAt     time.Time `json:"created_at"`
}

// TableName specifies the table name for EquitySnapshot model
func (EquitySnapshot) TableName() string {
	return "equity_snapshots"
}
