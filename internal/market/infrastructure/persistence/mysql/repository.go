// Package mysql 市场 MySQL 仓储实现
package mysql

import (
	"context"
	"errors"

	"github.com/hemanthK-supraoracles/perpetuals/internal/market/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type marketRepository struct {
	db *db.DB
}

func NewMarketRepository(database *db.DB) domain.MarketRepository {
	return &marketRepository{db: database}
}

func (r *marketRepository) Create(ctx context.Context, market *domain.Market) error {
	err := db.FromContext(ctx, r.db.DB).Create(market).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrMarketExists
	}
	return err
}

func (r *marketRepository) GetBySymbol(ctx context.Context, symbol string) (*domain.Market, error) {
	var market domain.Market
	err := db.FromContext(ctx, r.db.DB).Where("symbol = ?", symbol).First(&market).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMarketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &market, nil
}

func (r *marketRepository) GetBySymbolForUpdate(ctx context.Context, symbol string) (*domain.Market, error) {
	var market domain.Market
	err := db.FromContext(ctx, r.db.DB).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("symbol = ?", symbol).
		First(&market).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMarketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &market, nil
}

func (r *marketRepository) Save(ctx context.Context, market *domain.Market) error {
	return db.FromContext(ctx, r.db.DB).Save(market).Error
}

func (r *marketRepository) ListSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := db.FromContext(ctx, r.db.DB).
		Model(&domain.Market{}).
		Order("symbol ASC").
		Pluck("symbol", &symbols).Error
	return symbols, err
}
