// Package mysql 资金费历史 MySQL 仓储实现
package mysql

import (
	"context"
	"time"

	"github.com/hemanthK-supraoracles/perpetuals/internal/funding/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
	"github.com/shopspring/decimal"
)

// RateRecordRepository 费率历史仓储实现，同时满足市场上下文的 RateRecorder 端口
type RateRecordRepository struct {
	db *db.DB
}

func NewRateRecordRepository(database *db.DB) *RateRecordRepository {
	return &RateRecordRepository{db: database}
}

func (r *RateRecordRepository) Save(ctx context.Context, record *domain.RateRecord) error {
	return db.FromContext(ctx, r.db.DB).Create(record).Error
}

// RecordRate 满足市场上下文的费率记录端口
func (r *RateRecordRepository) RecordRate(ctx context.Context, symbol string, rate, spot, perp decimal.Decimal, at time.Time) error {
	return r.Save(ctx, &domain.RateRecord{
		Symbol:     symbol,
		Rate:       rate,
		SpotPrice:  spot,
		PerpPrice:  perp,
		RecordedAt: at,
	})
}

func (r *RateRecordRepository) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.RateRecord, error) {
	var records []*domain.RateRecord
	err := db.FromContext(ctx, r.db.DB).
		Where("symbol = ?", symbol).
		Order("recorded_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

type paymentRepository struct {
	db *db.DB
}

func NewPaymentRepository(database *db.DB) domain.PaymentRepository {
	return &paymentRepository{db: database}
}

func (r *paymentRepository) SaveBatch(ctx context.Context, payments []*domain.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	return r.db.BatchInsert(ctx, payments, len(payments))
}

func (r *paymentRepository) ListByOwner(ctx context.Context, owner string, limit int) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	err := db.FromContext(ctx, r.db.DB).
		Where("owner = ?", owner).
		Order("id DESC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *paymentRepository) ListByPosition(ctx context.Context, positionID string, limit int) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	err := db.FromContext(ctx, r.db.DB).
		Where("position_id = ?", positionID).
		Order("id DESC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}
