// Package domain 预言机报价领域模型
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrQuoteNotFound    = errors.New("oracle quote not found")
	ErrStalePrice       = errors.New("oracle quote is stale")
	ErrInvalidPrice     = errors.New("oracle price must be positive")
	ErrPermissionDenied = errors.New("caller is not an oracle admin")
)

// Quote 某一资产的最新美元报价
type Quote struct {
	gorm.Model
	Symbol     string          `gorm:"column:symbol;type:varchar(16);uniqueIndex;not null"`
	Price      decimal.Decimal `gorm:"column:price;type:decimal(32,8);not null"`
	ObservedAt time.Time       `gorm:"column:observed_at;not null"`
	UpdatedBy  string          `gorm:"column:updated_by;type:varchar(128)"`
}

func (Quote) TableName() string { return "oracle_quotes" }

// CheckFresh 校验报价是否仍在有效窗口内
func (q *Quote) CheckFresh(now time.Time, window time.Duration) error {
	if q.ObservedAt.Add(window).Before(now) {
		return ErrStalePrice
	}
	return nil
}

// QuoteRepository 报价仓储
type QuoteRepository interface {
	Upsert(ctx context.Context, quote *Quote) error
	GetBySymbol(ctx context.Context, symbol string) (*Quote, error)
}
