// Package domain 流动性池领域模型：份额铸销、池余额与未平仓量准入
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/hemanthK-supraoracles/perpetuals/pkg/fixedpoint"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrPoolNotFound            = errors.New("liquidity pool not found")
	ErrPoolExists              = errors.New("liquidity pool already exists")
	ErrInvalidAmount           = errors.New("liquidity amount must be positive")
	ErrDepositTooSmall         = errors.New("deposit too small to mint shares")
	ErrInsufficientLPBalance   = errors.New("insufficient lp shares")
	ErrInsufficientPoolBalance = errors.New("insufficient pool balance")
	ErrOpenInterestExceeded    = errors.New("open interest cap exceeded")
	ErrPermissionDenied        = errors.New("caller is not a pool admin")
)

// LiquidityPool 单一抵押资产的流动性池。
// 余额与份额以原始整数单位计，未平仓量为美元名义额。
// 份额换算一律向下取整，尘差留在池内。
type LiquidityPool struct {
	gorm.Model
	Collateral        string          `gorm:"column:collateral;type:varchar(16);uniqueIndex;not null"`
	TotalBalance      decimal.Decimal `gorm:"column:total_balance;type:decimal(40,0);not null"`
	TotalLpShares     decimal.Decimal `gorm:"column:total_lp_shares;type:decimal(40,0);not null"`
	TotalOpenInterest decimal.Decimal `gorm:"column:total_open_interest;type:decimal(32,8);not null"`
}

func (LiquidityPool) TableName() string { return "liquidity_pools" }

func NewLiquidityPool(collateral string) *LiquidityPool {
	return &LiquidityPool{
		Collateral:        collateral,
		TotalBalance:      decimal.Zero,
		TotalLpShares:     decimal.Zero,
		TotalOpenInterest: decimal.Zero,
	}
}

// SharesForDeposit 计算注入 amount 应铸造的份额。
// 空池按 1:1 铸造，否则按 amount × totalShares / totalBalance 向下取整。
func (p *LiquidityPool) SharesForDeposit(amount decimal.Decimal) decimal.Decimal {
	if p.TotalLpShares.IsZero() || p.TotalBalance.IsZero() {
		return amount
	}
	return fixedpoint.MulDivFloor(amount, p.TotalLpShares, p.TotalBalance)
}

// PayoutForShares 计算销毁 shares 应付出的余额：shares × totalBalance / totalShares 向下取整
func (p *LiquidityPool) PayoutForShares(shares decimal.Decimal) decimal.Decimal {
	if p.TotalLpShares.IsZero() {
		return decimal.Zero
	}
	return fixedpoint.MulDivFloor(shares, p.TotalBalance, p.TotalLpShares)
}

// SharePrice 每份额对应的余额，空池为 1
func (p *LiquidityPool) SharePrice() decimal.Decimal {
	if p.TotalLpShares.IsZero() {
		return decimal.NewFromInt(1)
	}
	return p.TotalBalance.Div(p.TotalLpShares)
}

// Deposit 注入流动性并铸造份额，返回铸造数量
func (p *LiquidityPool) Deposit(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	shares := p.SharesForDeposit(amount)
	if shares.IsZero() {
		return decimal.Zero, ErrDepositTooSmall
	}
	p.TotalBalance = p.TotalBalance.Add(amount)
	p.TotalLpShares = p.TotalLpShares.Add(shares)
	return shares, nil
}

// Redeem 销毁份额并付出对应余额，返回付出数量
func (p *LiquidityPool) Redeem(shares decimal.Decimal) (decimal.Decimal, error) {
	if !shares.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if shares.GreaterThan(p.TotalLpShares) {
		return decimal.Zero, ErrInsufficientLPBalance
	}
	payout := p.PayoutForShares(shares)
	if payout.GreaterThan(p.TotalBalance) {
		return decimal.Zero, ErrInsufficientPoolBalance
	}
	p.TotalBalance = p.TotalBalance.Sub(payout)
	p.TotalLpShares = p.TotalLpShares.Sub(shares)
	return payout, nil
}

// AdmitOpenInterest 开仓准入：累计未平仓量不得超过池余额的美元价值
func (p *LiquidityPool) AdmitOpenInterest(sizeUsd, poolBalanceUsd decimal.Decimal) error {
	if p.TotalOpenInterest.Add(sizeUsd).GreaterThan(poolBalanceUsd) {
		return ErrOpenInterestExceeded
	}
	p.TotalOpenInterest = p.TotalOpenInterest.Add(sizeUsd)
	return nil
}

// ReleaseOpenInterest 平仓时释放未平仓量
func (p *LiquidityPool) ReleaseOpenInterest(sizeUsd decimal.Decimal) error {
	if p.TotalOpenInterest.LessThan(sizeUsd) {
		return errors.New("pool open interest underflow")
	}
	p.TotalOpenInterest = p.TotalOpenInterest.Sub(sizeUsd)
	return nil
}

// CreditFees 手续费入池
func (p *LiquidityPool) CreditFees(amount decimal.Decimal) {
	p.TotalBalance = p.TotalBalance.Add(amount)
}

// DebitPayout 从池中支付交易者盈利，余额不足时按余额封顶，返回实际支付额
func (p *LiquidityPool) DebitPayout(amount decimal.Decimal) decimal.Decimal {
	paid := amount
	if paid.GreaterThan(p.TotalBalance) {
		paid = p.TotalBalance
	}
	p.TotalBalance = p.TotalBalance.Sub(paid)
	return paid
}

// CreditLoss 交易者亏损入池
func (p *LiquidityPool) CreditLoss(amount decimal.Decimal) {
	p.TotalBalance = p.TotalBalance.Add(amount)
}

// ProviderShare 单个提供者在某池中的份额持有
type ProviderShare struct {
	gorm.Model
	Collateral string          `gorm:"column:collateral;type:varchar(16);uniqueIndex:idx_collateral_provider;not null"`
	Provider   string          `gorm:"column:provider;type:varchar(128);uniqueIndex:idx_collateral_provider;not null"`
	Shares     decimal.Decimal `gorm:"column:shares;type:decimal(40,0);not null"`
}

func (ProviderShare) TableName() string { return "pool_provider_shares" }

func NewProviderShare(collateral, provider string) *ProviderShare {
	return &ProviderShare{
		Collateral: collateral,
		Provider:   provider,
		Shares:     decimal.Zero,
	}
}

// Add 增持份额
func (s *ProviderShare) Add(shares decimal.Decimal) {
	s.Shares = s.Shares.Add(shares)
}

// Burn 销毁份额，持有不足时拒绝
func (s *ProviderShare) Burn(shares decimal.Decimal) error {
	if s.Shares.LessThan(shares) {
		return ErrInsufficientLPBalance
	}
	s.Shares = s.Shares.Sub(shares)
	return nil
}

// 对外发布的领域事件类型
const (
	EventLiquidityAdded   = "LiquidityAdded"
	EventLiquidityRemoved = "LiquidityRemoved"
)

// LiquidityAddedEvent 注入流动性事件
type LiquidityAddedEvent struct {
	Collateral   string    `json:"collateral"`
	Provider     string    `json:"provider"`
	Amount       string    `json:"amount"`
	SharesMinted string    `json:"shares_minted"`
	At           time.Time `json:"at"`
}

// LiquidityRemovedEvent 赎回流动性事件
type LiquidityRemovedEvent struct {
	Collateral   string    `json:"collateral"`
	Provider     string    `json:"provider"`
	SharesBurned string    `json:"shares_burned"`
	Payout       string    `json:"payout"`
	At           time.Time `json:"at"`
}

// PoolRepository 流动性池仓储
type PoolRepository interface {
	Create(ctx context.Context, pool *LiquidityPool) error
	GetByCollateral(ctx context.Context, collateral string) (*LiquidityPool, error)
	GetByCollateralForUpdate(ctx context.Context, collateral string) (*LiquidityPool, error)
	Save(ctx context.Context, pool *LiquidityPool) error
}

// ShareRepository 提供者份额仓储
type ShareRepository interface {
	GetOrCreateForUpdate(ctx context.Context, collateral, provider string) (*ProviderShare, error)
	GetByProvider(ctx context.Context, collateral, provider string) (*ProviderShare, error)
	Save(ctx context.Context, share *ProviderShare) error
	CountProviders(ctx context.Context, collateral string) (int64, error)
}
