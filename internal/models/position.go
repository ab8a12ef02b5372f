package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// ExitPlan is advisory metadata attached to a position by the decision
// source. The engine stores and reports it but never enforces it.
type ExitPlan struct {
	ProfitTarget          *float64 `json:"profit_target,omitempty"`
	StopLoss              *float64 `json:"stop_loss,omitempty"`
	InvalidationCondition string   `json:"invalidation_condition,omitempty"`
}

// Position is the persisted snapshot of an open position for a version.
// Quantity is signed: positive = long, negative = short. The authoritative
// state lives in the in-memory ledger; this row mirrors it after each cycle.
type Position struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	VersionID     uint           `gorm:"index:idx_positions_version_symbol,unique;not null" json:"version_id"`
	Symbol        string         `gorm:"index:idx_positions_version_symbol,unique;size:20;not null" json:"symbol"`
	Quantity      float64        `gorm:"type:decimal(20,8);not null" json:"quantity"`
	AvgEntry      float64        `gorm:"type:decimal(20,8);not null" json:"avg_entry"`
	Leverage      float64        `gorm:"type:decimal(10,2);not null" json:"leverage"`
	UnrealizedPnL float64        `gorm:"type:decimal(20,8)" json:"unrealized_pnl"`
	EntryTime     *time.Time     `json:"entry_time,omitempty"`
	ExitPlanJSON  *string        `gorm:"type:text" json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for Position model
func (Position) TableName() string {
	return "positions"
}

// IsLong reports whether the position is long.
func (p *Position) IsLong() bool {
	return p.Quantity > 0
}

// CalculateUnrealizedPnL calculates the unrealized PnL at the given mark price.
func (p *Position) CalculateUnrealizedPnL(markPrice float64) float64 {
	return p.Quantity * (markPrice - p.AvgEntry)
}

// ExitPlan decodes the stored exit plan, returning nil when none is set.
func (p *Position) ExitPlan() *ExitPlan {
	if p.ExitPlanJSON == nil || *p.ExitPlanJSON == "" {
		return nil
	}
	var plan ExitPlan
	if err := json.Unmarshal([]byte(*p.ExitPlanJSON), &plan); err != nil {
		return nil
	}
	return &plan
}

// SetExitPlan encodes and stores the exit plan; nil clears it.
func (p *Position) SetExitPlan(plan *ExitPlan) {
	if plan == nil {
		p.ExitPlanJSON = nil
		return
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return
	}
	s := string(data)
	p.ExitPlanJSON = &s
}
