package models

import (
	"time"
)

// FillSide represents the taker side of a fill
type FillSide string

const (
	FillSideBuy  FillSide = "buy"
	FillSideSell FillSide = "sell"
)

// Exit reasons recorded on closing fills.
const (
	ExitReasonStrategy    = "strategy"
	ExitReasonLiquidation = "liquidation"
)

// Fill is the immutable record of one executed order. The fill log is
// append-only per (version, symbol); ClientOrderID is the idempotency key,
// so replaying the same key never double-executes.
type Fill struct {
	ID            uint     `gorm:"primaryKey" json:"id"`
	VersionID     uint     `gorm:"index:idx_fills_version_symbol;not null" json:"version_id"`
	Symbol        string   `gorm:"index:idx_fills_version_symbol;size:20;not null" json:"symbol"`
	Side          FillSide `gorm:"size:10;not null" json:"side"`
	Quantity      float64  `gorm:"type:decimal(20,8);not null" json:"quantity"` // unsigned
	Price         float64  `gorm:"type:decimal(20,8);not null" json:"price"`
	Fee           float64  `gorm:"type:decimal(20,8)" json:"fee"`
	Leverage      float64  `gorm:"type:decimal(10,2)" json:"leverage"`
	ClientOrderID string   `gorm:"uniqueIndex;size:50;not null" json:"client_order_id"`
	EntryReason   string   `gorm:"size:50" json:"entry_reason,omitempty"`
	ExitReason    string   `gorm:"size:50" json:"exit_reason,omitempty"`
	ExecutedAt    time.Time `gorm:"index;not null" json:"executed_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName specifies the table name for Fill model
func (Fill) TableName() string {
	return "fills"
}

// SignedQuantity returns the quantity signed by side (buy positive).
func (f *Fill) SignedQuantity() float64 {
	if f.Side == FillSideBuy {
		return f.Quantity
	}
	return -f.Quantity
}
