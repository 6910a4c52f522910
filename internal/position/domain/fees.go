package domain

import (
	"github.com/hemanthK-supraoracles/perpetuals/pkg/fixedpoint"
	"github.com/shopspring/decimal"
)

// FeeSchedule 开平仓手续费率，以基点计，按仓位名义额收取
type FeeSchedule struct {
	OpenBps  int64
	CloseBps int64
}

// DefaultFeeSchedule 开仓与平仓各 50 bps
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{OpenBps: 50, CloseBps: 50}
}

// Opening 开仓手续费（美元）
func (f FeeSchedule) Opening(sizeUsd decimal.Decimal) decimal.Decimal {
	return fixedpoint.Bps(sizeUsd, f.OpenBps)
}

// Closing 平仓手续费（美元）
func (f FeeSchedule) Closing(sizeUsd decimal.Decimal) decimal.Decimal {
	return fixedpoint.Bps(sizeUsd, f.CloseBps)
}
