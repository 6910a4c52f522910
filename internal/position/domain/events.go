package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 对外发布的领域事件类型
const (
	EventPositionOpened = "PositionOpened"
	EventPositionClosed = "PositionClosed"
)

// PositionOpenedEvent 开仓事件
type PositionOpenedEvent struct {
	PositionID         string    `json:"position_id"`
	Owner              string    `json:"owner"`
	Asset              string    `json:"asset"`
	Collateral         string    `json:"collateral"`
	IsLong             bool      `json:"is_long"`
	SizeUsd            string    `json:"size_usd"`
	Leverage           int64     `json:"leverage"`
	CollateralAmount   string    `json:"collateral_amount"`
	CollateralValueUsd string    `json:"collateral_value_usd"`
	EntryPrice         string    `json:"entry_price"`
	LiquidationPrice   string    `json:"liquidation_price"`
	OpenFeeUsd         string    `json:"open_fee_usd"`
	OpenedAt           time.Time `json:"opened_at"`
}

// PositionClosedEvent 平仓事件
type PositionClosedEvent struct {
	PositionID    string    `json:"position_id"`
	Owner         string    `json:"owner"`
	Asset         string    `json:"asset"`
	Collateral    string    `json:"collateral"`
	IsLong        bool      `json:"is_long"`
	SizeUsd       string    `json:"size_usd"`
	EntryPrice    string    `json:"entry_price"`
	ExitPrice     string    `json:"exit_price"`
	PnlUsd        string    `json:"pnl_usd"`
	IsProfit      bool      `json:"is_profit"`
	FundingUsd    string    `json:"funding_usd"`
	CloseFeeUsd   string    `json:"close_fee_usd"`
	PayoutAmount  string    `json:"payout_amount"`
	PoolShortfall string    `json:"pool_shortfall,omitempty"`
	ClosedAt      time.Time `json:"closed_at"`
}

// ClosedPosition 平仓后的留档记录，活跃持仓行在平仓时物理删除
type ClosedPosition struct {
	gorm.Model
	PositionID       string          `gorm:"column:position_id;type:varchar(64);uniqueIndex;not null"`
	Owner            string          `gorm:"column:owner;type:varchar(128);index;not null"`
	Asset            string          `gorm:"column:asset;type:varchar(16);not null"`
	Collateral       string          `gorm:"column:collateral;type:varchar(16);not null"`
	IsLong           bool            `gorm:"column:is_long;not null"`
	SizeUsd          decimal.Decimal `gorm:"column:size_usd;type:decimal(32,8);not null"`
	Leverage         int64           `gorm:"column:leverage;not null"`
	CollateralAmount decimal.Decimal `gorm:"column:collateral_amount;type:decimal(40,0);not null"`
	EntryPrice       decimal.Decimal `gorm:"column:entry_price;type:decimal(32,8);not null"`
	ExitPrice        decimal.Decimal `gorm:"column:exit_price;type:decimal(32,8);not null"`
	PnlUsd           decimal.Decimal `gorm:"column:pnl_usd;type:decimal(32,8);not null"`
	FundingAccrued   decimal.Decimal `gorm:"column:funding_accrued;type:decimal(32,8);not null"`
	CloseFeeUsd      decimal.Decimal `gorm:"column:close_fee_usd;type:decimal(32,8);not null"`
	PayoutAmount     decimal.Decimal `gorm:"column:payout_amount;type:decimal(40,0);not null"`
	OpenedAt         time.Time       `gorm:"column:opened_at;not null"`
	ClosedAt         time.Time       `gorm:"column:closed_at;not null"`
}

func (ClosedPosition) TableName() string { return "position_history" }

// ClosedPositionRepository 平仓留档仓储
type ClosedPositionRepository interface {
	Record(ctx context.Context, closed *ClosedPosition) error
	ListByOwner(ctx context.Context, owner string, limit int) ([]*ClosedPosition, error)
}
