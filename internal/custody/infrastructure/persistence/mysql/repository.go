// Package mysql 托管账本 MySQL 仓储实现
package mysql

import (
	"context"
	"errors"

	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	"github.com/hemanthK-supraoracles/perpetuals/internal/custody/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type accountRepository struct {
	db *db.DB
}

func NewAccountRepository(database *db.DB) domain.AccountRepository {
	return &accountRepository{db: database}
}

func (r *accountRepository) GetOrCreateForUpdate(ctx context.Context, address string, sym asset.Symbol) (*domain.Account, error) {
	tx := db.FromContext(ctx, r.db.DB)

	var account domain.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("address = ? AND asset = ?", address, sym.String()).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = *domain.NewAccount(address, sym)
		if err := tx.Create(&account).Error; err != nil {
			return nil, err
		}
		return &account, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByAddressAndAsset(ctx context.Context, address string, sym asset.Symbol) (*domain.Account, error) {
	var account domain.Account
	err := db.FromContext(ctx, r.db.DB).
		Where("address = ? AND asset = ?", address, sym.String()).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) ListByAddress(ctx context.Context, address string) ([]*domain.Account, error) {
	var accounts []*domain.Account
	err := db.FromContext(ctx, r.db.DB).
		Where("address = ?", address).
		Order("asset ASC").
		Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) Save(ctx context.Context, account *domain.Account) error {
	return db.FromContext(ctx, r.db.DB).Save(account).Error
}

func (r *accountRepository) RecordTransfer(ctx context.Context, transfer *domain.Transfer) error {
	return db.FromContext(ctx, r.db.DB).Create(transfer).Error
}
