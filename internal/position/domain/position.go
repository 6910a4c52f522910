// Package domain 永续合约持仓领域模型：保证金校验、盈亏、强平价与资金费累计
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrPositionNotFound    = errors.New("position not found")
	ErrPositionExists      = errors.New("position already exists for owner, asset and collateral")
	ErrInvalidArgument     = errors.New("invalid position argument")
	ErrInsufficientMargin  = errors.New("insufficient margin for requested size and leverage")
	ErrLiquidated          = errors.New("position loss exceeds collateral, liquidated")
	ErrInvalidTriggerPrice = errors.New("trigger price on wrong side of entry")
)

// Status 持仓状态
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusClosed Status = "CLOSED"
)

// Position 一笔隔离保证金持仓。
// 同一 (owner, asset, collateral) 组合同时至多一笔活跃持仓。
// CollateralAmount 以抵押资产原始整数单位计，SizeUsd 与资金费累计为美元值。
type Position struct {
	gorm.Model
	PositionID            string          `gorm:"column:position_id;type:varchar(64);uniqueIndex;not null"`
	Owner                 string          `gorm:"column:owner;type:varchar(128);uniqueIndex:idx_owner_asset_collateral;not null"`
	Asset                 string          `gorm:"column:asset;type:varchar(16);uniqueIndex:idx_owner_asset_collateral;not null"`
	Collateral            string          `gorm:"column:collateral;type:varchar(16);uniqueIndex:idx_owner_asset_collateral;not null"`
	IsLong                bool            `gorm:"column:is_long;not null"`
	SizeUsd               decimal.Decimal `gorm:"column:size_usd;type:decimal(32,8);not null"`
	Leverage              int64           `gorm:"column:leverage;not null"`
	CollateralAmount      decimal.Decimal `gorm:"column:collateral_amount;type:decimal(40,0);not null"`
	EntryPrice            decimal.Decimal `gorm:"column:entry_price;type:decimal(32,8);not null"`
	LiquidationPrice      decimal.Decimal `gorm:"column:liquidation_price;type:decimal(32,8);not null"`
	TakeProfitPrice       decimal.Decimal `gorm:"column:take_profit_price;type:decimal(32,8)"`
	StopLossPrice         decimal.Decimal `gorm:"column:stop_loss_price;type:decimal(32,8)"`
	Status                Status          `gorm:"column:status;type:varchar(16);not null"`
	OpenedAt              time.Time       `gorm:"column:opened_at;not null"`
	LastFundingSettlement time.Time       `gorm:"column:last_funding_settlement;not null"`
	FundingAccrued        decimal.Decimal `gorm:"column:funding_accrued;type:decimal(32,8);not null"`
}

func (Position) TableName() string { return "positions" }

// ApplyFunding 把一次资金费结算累计进持仓并推进结算时钟。
// amountUsd 为交易者视角的带符号金额，收取为正、支付为负。
func (p *Position) ApplyFunding(amountUsd decimal.Decimal, settledAt time.Time) {
	p.FundingAccrued = p.FundingAccrued.Add(amountUsd)
	p.LastFundingSettlement = settledAt
}

// ValidateLeverage 杠杆必须是 1 到上限之间的整数
func ValidateLeverage(leverage, max int64) error {
	if leverage < 1 || leverage > max {
		return ErrInvalidArgument
	}
	return nil
}

// ValidateMargin 保证金校验：抵押品美元价值 × 杠杆 ≥ 仓位名义额。
// 等价于要求保证金 ≥ sizeUsd / leverage，乘法形式避免除法精度损失。
func ValidateMargin(collateralValueUsd decimal.Decimal, leverage int64, sizeUsd decimal.Decimal) error {
	if collateralValueUsd.Mul(decimal.NewFromInt(leverage)).LessThan(sizeUsd) {
		return ErrInsufficientMargin
	}
	return nil
}

// ValidateTriggers 校验止盈止损价相对开仓价的方向。
// 多头：止盈必须高于开仓价，止损必须低于开仓价；空头相反。零值表示未设置。
func ValidateTriggers(isLong bool, entry, takeProfit, stopLoss decimal.Decimal) error {
	if !takeProfit.IsZero() {
		if isLong && !takeProfit.GreaterThan(entry) {
			return ErrInvalidTriggerPrice
		}
		if !isLong && !takeProfit.LessThan(entry) {
			return ErrInvalidTriggerPrice
		}
	}
	if !stopLoss.IsZero() {
		if isLong && !stopLoss.LessThan(entry) {
			return ErrInvalidTriggerPrice
		}
		if !isLong && !stopLoss.GreaterThan(entry) {
			return ErrInvalidTriggerPrice
		}
	}
	return nil
}

// ComputePnL 按当前价计算盈亏额与方向。
// 盈亏额 = sizeUsd × |current - entry| / entry；多头价涨为盈利，空头价跌为盈利。
// 返回 (盈亏额, 是否盈利)，价格未变时为 (0, false)。
func ComputePnL(isLong bool, entry, current, sizeUsd decimal.Decimal) (decimal.Decimal, bool) {
	if current.Equal(entry) {
		return decimal.Zero, false
	}
	pnl := sizeUsd.Mul(current.Sub(entry).Abs()).Div(entry)
	profit := current.GreaterThan(entry) == isLong
	return pnl, profit
}

// SignedPnL 交易者视角的带符号盈亏
func SignedPnL(isLong bool, entry, current, sizeUsd decimal.Decimal) decimal.Decimal {
	pnl, profit := ComputePnL(isLong, entry, current, sizeUsd)
	if profit {
		return pnl
	}
	return pnl.Neg()
}

// ComputeLiquidationPrice 计算强平价。
// 可承受最大亏损 = 抵押品美元价值 - 预估平仓费；
// 价格偏移 = 最大亏损 × 开仓价 / 仓位名义额；多头为开仓价减偏移（不低于零），空头为加偏移。
func ComputeLiquidationPrice(isLong bool, entry, collateralValueUsd, sizeUsd, feesUsd decimal.Decimal) decimal.Decimal {
	maxLoss := collateralValueUsd.Sub(feesUsd)
	if maxLoss.IsNegative() {
		maxLoss = decimal.Zero
	}
	offset := maxLoss.Mul(entry).Div(sizeUsd)
	if isLong {
		liq := entry.Sub(offset)
		if liq.IsNegative() {
			return decimal.Zero
		}
		return liq
	}
	return entry.Add(offset)
}

// PositionRepository 持仓仓储
type PositionRepository interface {
	Create(ctx context.Context, position *Position) error
	GetByKey(ctx context.Context, owner, assetSymbol, collateralSymbol string) (*Position, error)
	// Remove 行锁取出并删除持仓，平仓流程用它保证同一持仓不会被结算两次
	Remove(ctx context.Context, owner, assetSymbol, collateralSymbol string) (*Position, error)
	Save(ctx context.Context, position *Position) error
	// ListDueFunding 按结算时钟取出某市场到期待结算的持仓，限定批量大小
	ListDueFunding(ctx context.Context, assetSymbol string, dueBefore time.Time, limit int) ([]*Position, error)
	ListByOwner(ctx context.Context, owner string) ([]*Position, error)
	CountActive(ctx context.Context) (int64, error)
}
