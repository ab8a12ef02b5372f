package models

import (
	"time"
)

// VersionPerformance holds the computed statistics for one version over its
// activity interval. Recomputed and upserted by the analytics pass, never
// hand-edited. Nullable metrics (Sharpe without enough data, profit factor
// without losers) stay nil rather than zero so the leaderboard can sort
// them last.
type VersionPerformance struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	VersionID      uint      `gorm:"uniqueIndex;not null" json:"version_id"`
	PeriodStart    time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd      time.Time `gorm:"not null" json:"period_end"`
	TotalReturnPct float64   `gorm:"type:decimal(20,8)" json:"total_return_pct"`
	DailyReturnPct float64   `gorm:"type:decimal(20,8)" json:"daily_return_pct"`
	SharpeRatio    *float64  `gorm:"type:decimal(20,8)" json:"sharpe_ratio"`
	MaxDrawdownPct float64   `gorm:"type:decimal(20,8)" json:"max_drawdown_pct"`
	WinRate        float64   `gorm:"type:decimal(20,8)" json:"win_rate"`
	ProfitFactor   *float64  `gorm:"type:decimal(20,8)" json:"profit_factor"`
	TradesPerDay   float64   `gorm:"type:decimal(20,8)" json:"trades_per_day"`
	TotalTrades    int       `json:"total_trades"`
	ReturnPolicy   string    `gorm:"size:30" json:"return_policy"`
	Degraded       bool      `gorm:"default:false" json:"degraded"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for VersionPerformance model
func (VersionPerformance) TableName() string {
	return "version_performance"
}

// DurationHours returns the scored interval length in hours.
func (p *VersionPerformance) DurationHours() float64 {
	return p.PeriodEnd.Sub(p.PeriodStart).Hours()
}
