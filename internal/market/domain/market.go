// Package domain 永续合约市场领域模型：现货/永续标记价、资金费率与未平仓量
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrMarketNotFound   = errors.New("market not found")
	ErrMarketExists     = errors.New("market already exists")
	ErrInvalidPrice     = errors.New("market prices must be positive")
	ErrPermissionDenied = errors.New("caller is not a market admin")
)

// FundingSign 资金费方向的对外投影
type FundingSign string

const (
	// FundingSignPositive 永续价高于现货，多头支付空头
	FundingSignPositive FundingSign = "POSITIVE_LONGS_PAY"
	// FundingSignNegative 永续价低于现货，空头支付多头
	FundingSignNegative FundingSign = "NEGATIVE_SHORTS_PAY"
)

// FundingParams 资金费率参数。费率按每个结算周期计，基础费率与封顶费率为比率值。
type FundingParams struct {
	BaseRate decimal.Decimal
	MaxRate  decimal.Decimal
	Interval time.Duration
}

// DefaultFundingParams 基础 0.01%、封顶 0.1%、8 小时周期
func DefaultFundingParams() FundingParams {
	return FundingParams{
		BaseRate: decimal.New(1, -4),
		MaxRate:  decimal.New(1, -3),
		Interval: 8 * time.Hour,
	}
}

// Market 单个交易资产的市场状态
type Market struct {
	gorm.Model
	Symbol            string          `gorm:"column:symbol;type:varchar(16);uniqueIndex;not null"`
	SpotPrice         decimal.Decimal `gorm:"column:spot_price;type:decimal(32,8);not null"`
	PerpPrice         decimal.Decimal `gorm:"column:perp_price;type:decimal(32,8);not null"`
	FundingRate       decimal.Decimal `gorm:"column:funding_rate;type:decimal(20,12);not null"`
	LastFundingUpdate time.Time       `gorm:"column:last_funding_update;not null"`
	TotalLongSize     decimal.Decimal `gorm:"column:total_long_size;type:decimal(32,8);not null"`
	TotalShortSize    decimal.Decimal `gorm:"column:total_short_size;type:decimal(32,8);not null"`
}

func (Market) TableName() string { return "markets" }

func NewMarket(symbol string, spot, perp decimal.Decimal, now time.Time, params FundingParams) *Market {
	return &Market{
		Symbol:            symbol,
		SpotPrice:         spot,
		PerpPrice:         perp,
		FundingRate:       CalculateFundingRate(spot, perp, params),
		LastFundingUpdate: now,
		TotalLongSize:     decimal.Zero,
		TotalShortSize:    decimal.Zero,
	}
}

// CalculateFundingRate 由现货价与永续价计算带符号资金费率。
// 溢价比例 = |perp - spot| / spot，费率 = min(基础费率 + 溢价比例, 封顶费率)，
// 永续价低于现货时取负。任一价格为零时费率为零。
func CalculateFundingRate(spot, perp decimal.Decimal, params FundingParams) decimal.Decimal {
	if spot.IsZero() || perp.IsZero() {
		return decimal.Zero
	}

	premium := perp.Sub(spot).Abs().Div(spot)
	rate := params.BaseRate.Add(premium)
	if rate.GreaterThan(params.MaxRate) {
		rate = params.MaxRate
	}

	if perp.LessThan(spot) {
		return rate.Neg()
	}
	return rate
}

// SetPrices 更新现货与永续标记价
func (m *Market) SetPrices(spot, perp decimal.Decimal) error {
	if !spot.IsPositive() || !perp.IsPositive() {
		return ErrInvalidPrice
	}
	m.SpotPrice = spot
	m.PerpPrice = perp
	return nil
}

// RefreshFundingRate 按周期节流地重算资金费率，返回是否发生了重算
func (m *Market) RefreshFundingRate(now time.Time, params FundingParams) bool {
	if now.Before(m.LastFundingUpdate.Add(params.Interval)) {
		return false
	}
	m.FundingRate = CalculateFundingRate(m.SpotPrice, m.PerpPrice, params)
	m.LastFundingUpdate = now
	return true
}

// FundingSign 当前费率的方向投影，零费率按多头支付方向报告
func (m *Market) FundingSign() FundingSign {
	if m.FundingRate.IsNegative() {
		return FundingSignNegative
	}
	return FundingSignPositive
}

// ApplyOpenInterest 开仓时按方向累加未平仓名义额
func (m *Market) ApplyOpenInterest(isLong bool, sizeUsd decimal.Decimal) {
	if isLong {
		m.TotalLongSize = m.TotalLongSize.Add(sizeUsd)
	} else {
		m.TotalShortSize = m.TotalShortSize.Add(sizeUsd)
	}
}

// ReleaseOpenInterest 平仓时按方向扣减未平仓名义额，不允许出现负值
func (m *Market) ReleaseOpenInterest(isLong bool, sizeUsd decimal.Decimal) error {
	if isLong {
		if m.TotalLongSize.LessThan(sizeUsd) {
			return errors.New("long open interest underflow")
		}
		m.TotalLongSize = m.TotalLongSize.Sub(sizeUsd)
		return nil
	}
	if m.TotalShortSize.LessThan(sizeUsd) {
		return errors.New("short open interest underflow")
	}
	m.TotalShortSize = m.TotalShortSize.Sub(sizeUsd)
	return nil
}

// MarketRepository 市场仓储
type MarketRepository interface {
	Create(ctx context.Context, market *Market) error
	GetBySymbol(ctx context.Context, symbol string) (*Market, error)
	GetBySymbolForUpdate(ctx context.Context, symbol string) (*Market, error)
	Save(ctx context.Context, market *Market) error
	ListSymbols(ctx context.Context) ([]string, error)
}
