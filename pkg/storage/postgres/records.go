package postgres

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountRecord is one row of the mirrored backend account table.
type AccountRecord struct {
	Login int64 `gorm:"primaryKey;autoIncrement:false"`

	Balance    decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Equity     decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Margin     decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	MarginFree decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Profit     decimal.Decimal `gorm:"type:numeric(20,4);not null"`

	Currency string `gorm:"type:varchar(8)"`
	Group    string `gorm:"column:group_name;type:text"`
	Leverage int    `gorm:"not null"`

	UpdatedAt time.Time
}

// TableName overrides the default table name for GORM.
func (AccountRecord) TableName() string {
	return "mt_accounts"
}

// PositionRecord is one open position. Side follows the backend: 0 buy,
// 1 sell; Volume is unsigned.
type PositionRecord struct {
	Ticket int64 `gorm:"primaryKey;autoIncrement:false"`
	Login  int64 `gorm:"not null;index:idx_position_login"`

	Symbol       string          `gorm:"type:varchar(32);not null"`
	Side         int             `gorm:"not null"`
	Volume       decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	PriceOpen    decimal.Decimal `gorm:"type:numeric(20,8)"`
	PriceCurrent decimal.Decimal `gorm:"type:numeric(20,8)"`
	Profit       decimal.Decimal `gorm:"type:numeric(20,4)"`
}

func (PositionRecord) TableName() string {
	return "mt_positions"
}

// DealRecord is one closed deal. Times are unix seconds.
type DealRecord struct {
	Ticket int64 `gorm:"primaryKey;autoIncrement:false"`
	Login  int64 `gorm:"not null;index:idx_deal_login_close,priority:1"`

	Symbol    string          `gorm:"type:varchar(32);not null"`
	Side      int             `gorm:"not null"`
	Volume    decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	TimeOpen  int64           `gorm:"not null"`
	TimeClose int64           `gorm:"not null;index:idx_deal_login_close,priority:2"`
	Profit    decimal.Decimal `gorm:"type:numeric(20,4)"`
}

func (DealRecord) TableName() string {
	return "mt_deals"
}
