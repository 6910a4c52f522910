// Package mysql 流动性池 MySQL 仓储实现
package mysql

import (
	"context"
	"errors"

	"github.com/hemanthK-supraoracles/perpetuals/internal/pool/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type poolRepository struct {
	db *db.DB
}

func NewPoolRepository(database *db.DB) domain.PoolRepository {
	return &poolRepository{db: database}
}

func (r *poolRepository) Create(ctx context.Context, pool *domain.LiquidityPool) error {
	err := db.FromContext(ctx, r.db.DB).Create(pool).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrPoolExists
	}
	return err
}

func (r *poolRepository) GetByCollateral(ctx context.Context, collateral string) (*domain.LiquidityPool, error) {
	var pool domain.LiquidityPool
	err := db.FromContext(ctx, r.db.DB).Where("collateral = ?", collateral).First(&pool).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPoolNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (r *poolRepository) GetByCollateralForUpdate(ctx context.Context, collateral string) (*domain.LiquidityPool, error) {
	var pool domain.LiquidityPool
	err := db.FromContext(ctx, r.db.DB).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("collateral = ?", collateral).
		First(&pool).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPoolNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (r *poolRepository) Save(ctx context.Context, pool *domain.LiquidityPool) error {
	return db.FromContext(ctx, r.db.DB).Save(pool).Error
}

type shareRepository struct {
	db *db.DB
}

func NewShareRepository(database *db.DB) domain.ShareRepository {
	return &shareRepository{db: database}
}

func (r *shareRepository) GetOrCreateForUpdate(ctx context.Context, collateral, provider string) (*domain.ProviderShare, error) {
	tx := db.FromContext(ctx, r.db.DB)

	var share domain.ProviderShare
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("collateral = ? AND provider = ?", collateral, provider).
		First(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		share = *domain.NewProviderShare(collateral, provider)
		if err := tx.Create(&share).Error; err != nil {
			return nil, err
		}
		return &share, nil
	}
	if err != nil {
		return nil, err
	}
	return &share, nil
}

func (r *shareRepository) GetByProvider(ctx context.Context, collateral, provider string) (*domain.ProviderShare, error) {
	var share domain.ProviderShare
	err := db.FromContext(ctx, r.db.DB).
		Where("collateral = ? AND provider = ?", collateral, provider).
		First(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInsufficientLPBalance
	}
	if err != nil {
		return nil, err
	}
	return &share, nil
}

func (r *shareRepository) Save(ctx context.Context, share *domain.ProviderShare) error {
	return db.FromContext(ctx, r.db.DB).Save(share).Error
}

func (r *shareRepository) CountProviders(ctx context.Context, collateral string) (int64, error) {
	var count int64
	err := db.FromContext(ctx, r.db.DB).
		Model(&domain.ProviderShare{}).
		Where("collateral = ? AND shares > 0", collateral).
		Count(&count).Error
	return count, err
}
