// Package domain 资产托管账本领域模型
package domain

import (
	"context"
	"errors"

	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound     = errors.New("custody account not found")
	ErrInsufficientBalance = errors.New("insufficient custody balance")
	ErrInvalidAmount       = errors.New("transfer amount must be positive")
	ErrPermissionDenied    = errors.New("caller is not a custody admin")
)

// 系统账户地址。escrow 保管活跃仓位的保证金，pool 国库保管各抵押资产的流动性。
const EscrowAddress = "sys.escrow"

// PoolTreasuryAddress 返回某抵押资产对应的流动性池国库地址
func PoolTreasuryAddress(sym asset.Symbol) string {
	return "sys.pool." + sym.String()
}

// Account 某地址持有某资产的余额，余额以原始整数单位计
type Account struct {
	gorm.Model
	Address string          `gorm:"column:address;type:varchar(128);uniqueIndex:idx_address_asset;not null"`
	Asset   string          `gorm:"column:asset;type:varchar(16);uniqueIndex:idx_address_asset;not null"`
	Balance decimal.Decimal `gorm:"column:balance;type:decimal(40,0);not null"`
}

func (Account) TableName() string { return "custody_accounts" }

func NewAccount(address string, sym asset.Symbol) *Account {
	return &Account{
		Address: address,
		Asset:   sym.String(),
		Balance: decimal.Zero,
	}
}

// Credit 入账
func (a *Account) Credit(amount decimal.Decimal) {
	a.Balance = a.Balance.Add(amount)
}

// Debit 出账，余额不足时拒绝
func (a *Account) Debit(amount decimal.Decimal) error {
	if a.Balance.LessThan(amount) {
		return ErrInsufficientBalance
	}
	a.Balance = a.Balance.Sub(amount)
	return nil
}

// Transfer 账本内的一次资金移动记录
type Transfer struct {
	gorm.Model
	TransferID  string          `gorm:"column:transfer_id;type:varchar(64);uniqueIndex;not null"`
	FromAddress string          `gorm:"column:from_address;type:varchar(128);index;not null"`
	ToAddress   string          `gorm:"column:to_address;type:varchar(128);index;not null"`
	Asset       string          `gorm:"column:asset;type:varchar(16);not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(40,0);not null"`
	Reason      string          `gorm:"column:reason;type:varchar(64)"`
}

func (Transfer) TableName() string { return "custody_transfers" }

// AccountRepository 托管账户仓储
type AccountRepository interface {
	// GetOrCreateForUpdate 行锁读取账户，不存在时创建零余额账户
	GetOrCreateForUpdate(ctx context.Context, address string, sym asset.Symbol) (*Account, error)
	GetByAddressAndAsset(ctx context.Context, address string, sym asset.Symbol) (*Account, error)
	ListByAddress(ctx context.Context, address string) ([]*Account, error)
	Save(ctx context.Context, account *Account) error
	RecordTransfer(ctx context.Context, transfer *Transfer) error
}
