// Package mysql 持仓 MySQL 仓储实现
package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/hemanthK-supraoracles/perpetuals/internal/position/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type positionRepository struct {
	db *db.DB
}

func NewPositionRepository(database *db.DB) domain.PositionRepository {
	return &positionRepository{db: database}
}

func (r *positionRepository) Create(ctx context.Context, position *domain.Position) error {
	err := db.FromContext(ctx, r.db.DB).Create(position).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrPositionExists
	}
	return err
}

func (r *positionRepository) GetByKey(ctx context.Context, owner, assetSymbol, collateralSymbol string) (*domain.Position, error) {
	var position domain.Position
	err := db.FromContext(ctx, r.db.DB).
		Where("owner = ? AND asset = ? AND collateral = ?", owner, assetSymbol, collateralSymbol).
		First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

// Remove 行锁取出持仓并物理删除，同一键在平仓后可立即重新开仓
func (r *positionRepository) Remove(ctx context.Context, owner, assetSymbol, collateralSymbol string) (*domain.Position, error) {
	tx := db.FromContext(ctx, r.db.DB)

	var position domain.Position
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner = ? AND asset = ? AND collateral = ?", owner, assetSymbol, collateralSymbol).
		First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Unscoped().Delete(&position).Error; err != nil {
		return nil, err
	}
	return &position, nil
}

func (r *positionRepository) Save(ctx context.Context, position *domain.Position) error {
	return db.FromContext(ctx, r.db.DB).Save(position).Error
}

func (r *positionRepository) ListDueFunding(ctx context.Context, assetSymbol string, dueBefore time.Time, limit int) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := db.FromContext(ctx, r.db.DB).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("asset = ? AND last_funding_settlement <= ?", assetSymbol, dueBefore).
		Order("last_funding_settlement ASC").
		Limit(limit).
		Find(&positions).Error
	return positions, err
}

func (r *positionRepository) ListByOwner(ctx context.Context, owner string) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := db.FromContext(ctx, r.db.DB).
		Where("owner = ?", owner).
		Order("opened_at DESC").
		Find(&positions).Error
	return positions, err
}

func (r *positionRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := db.FromContext(ctx, r.db.DB).
		Model(&domain.Position{}).
		Count(&count).Error
	return count, err
}

type closedPositionRepository struct {
	db *db.DB
}

func NewClosedPositionRepository(database *db.DB) domain.ClosedPositionRepository {
	return &closedPositionRepository{db: database}
}

func (r *closedPositionRepository) Record(ctx context.Context, closed *domain.ClosedPosition) error {
	return db.FromContext(ctx, r.db.DB).Create(closed).Error
}

func (r *closedPositionRepository) ListByOwner(ctx context.Context, owner string, limit int) ([]*domain.ClosedPosition, error) {
	var records []*domain.ClosedPosition
	err := db.FromContext(ctx, r.db.DB).
		Where("owner = ?", owner).
		Order("closed_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
