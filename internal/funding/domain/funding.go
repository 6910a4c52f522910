// Package domain 资金费结算领域模型：费率快照与逐仓结算支付记录
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrPermissionDenied 非管理员调用手动结算
var ErrPermissionDenied = errors.New("caller is not a funding admin")

// RateRecord 一次资金费率重算的快照
type RateRecord struct {
	gorm.Model
	Symbol     string          `gorm:"column:symbol;type:varchar(16);index;not null"`
	Rate       decimal.Decimal `gorm:"column:rate;type:decimal(20,12);not null"`
	SpotPrice  decimal.Decimal `gorm:"column:spot_price;type:decimal(32,8);not null"`
	PerpPrice  decimal.Decimal `gorm:"column:perp_price;type:decimal(32,8);not null"`
	RecordedAt time.Time       `gorm:"column:recorded_at;index;not null"`
}

func (RateRecord) TableName() string { return "funding_rate_history" }

// Payment 对单个持仓的一次资金费结算。
// AmountUsd 为交易者视角带符号金额：收取为正、支付为负。
type Payment struct {
	gorm.Model
	PaymentID  string          `gorm:"column:payment_id;type:varchar(64);uniqueIndex;not null"`
	PositionID string          `gorm:"column:position_id;type:varchar(64);index;not null"`
	Owner      string          `gorm:"column:owner;type:varchar(128);index;not null"`
	Symbol     string          `gorm:"column:symbol;type:varchar(16);index;not null"`
	AmountUsd  decimal.Decimal `gorm:"column:amount_usd;type:decimal(32,8);not null"`
	Rate       decimal.Decimal `gorm:"column:rate;type:decimal(20,12);not null"`
	PeriodFrom time.Time       `gorm:"column:period_from;not null"`
	PeriodTo   time.Time       `gorm:"column:period_to;not null"`
}

func (Payment) TableName() string { return "funding_payments" }

// FundingSettledEvent 资金费结算事件
type FundingSettledEvent struct {
	PaymentID  string    `json:"payment_id"`
	PositionID string    `json:"position_id"`
	Owner      string    `json:"owner"`
	Symbol     string    `json:"symbol"`
	AmountUsd  string    `json:"amount_usd"`
	Rate       string    `json:"rate"`
	PeriodFrom time.Time `json:"period_from"`
	PeriodTo   time.Time `json:"period_to"`
}

// EventFundingSettled 事件类型名
const EventFundingSettled = "FundingSettled"

// ComputeTraderPayment 计算交易者视角的带符号资金费。
// 金额 = sizeUsd × |rate| × elapsed / interval，按 8 位小数截断；
// 费率为正时多头支付（负值）、空头收取（正值），费率为负时方向互换。
func ComputeTraderPayment(sizeUsd, rate decimal.Decimal, isLong bool, elapsed, interval time.Duration) decimal.Decimal {
	if rate.IsZero() || elapsed <= 0 {
		return decimal.Zero
	}

	ratio := decimal.NewFromInt(int64(elapsed / time.Second)).
		Div(decimal.NewFromInt(int64(interval / time.Second)))
	magnitude := sizeUsd.Mul(rate.Abs()).Mul(ratio).Truncate(8)

	pays := isLong == rate.IsPositive()
	if pays {
		return magnitude.Neg()
	}
	return magnitude
}

// RateRecordRepository 费率历史仓储
type RateRecordRepository interface {
	Save(ctx context.Context, record *RateRecord) error
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]*RateRecord, error)
}

// PaymentRepository 结算支付仓储
type PaymentRepository interface {
	SaveBatch(ctx context.Context, payments []*Payment) error
	ListByOwner(ctx context.Context, owner string, limit int) ([]*Payment, error)
	ListByPosition(ctx context.Context, positionID string, limit int) ([]*Payment, error)
}
