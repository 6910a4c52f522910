// Package mysql 预言机报价 MySQL 仓储实现
package mysql

import (
	"context"
	"errors"

	"github.com/hemanthK-supraoracles/perpetuals/internal/oracle/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
	"gorm.io/gorm"
)

type quoteRepository struct {
	db *db.DB
}

func NewQuoteRepository(database *db.DB) domain.QuoteRepository {
	return &quoteRepository{db: database}
}

func (r *quoteRepository) Upsert(ctx context.Context, quote *domain.Quote) error {
	return r.db.UpsertWithConflict(ctx, quote,
		[]string{"symbol"},
		[]string{"price", "observed_at", "updated_by", "updated_at"},
	)
}

func (r *quoteRepository) GetBySymbol(ctx context.Context, symbol string) (*domain.Quote, error) {
	var quote domain.Quote
	err := db.FromContext(ctx, r.db.DB).Where("symbol = ?", symbol).First(&quote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &quote, nil
}
