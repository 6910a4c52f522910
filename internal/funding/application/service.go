package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/hemanthK-supraoracles/perpetuals/internal/funding/domain"
	marketdomain "github.com/hemanthK-supraoracles/perpetuals/internal/market/domain"
	"github.com/hemanthK-supraoracles/perpetuals/internal/outbox"
	positiondomain "github.com/hemanthK-supraoracles/perpetuals/internal/position/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/idgen"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/metrics"
)

// Service 资金费结算服务。按市场分批扫描到期持仓，
// 每批一个事务，批量受限，崩溃后可从上次推进的结算时钟继续。
type Service struct {
	markets   marketdomain.MarketRepository
	positions positiondomain.PositionRepository
	payments  domain.PaymentRepository
	rates     domain.RateRecordRepository
	publisher outbox.Publisher
	tx        db.Transactor
	admins    map[string]struct{}
	params    marketdomain.FundingParams
	batchSize int
	topic     string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewService(
	markets marketdomain.MarketRepository,
	positions positiondomain.PositionRepository,
	payments domain.PaymentRepository,
	rates domain.RateRecordRepository,
	publisher outbox.Publisher,
	tx db.Transactor,
	admins []string,
	params marketdomain.FundingParams,
	batchSize int,
	topic string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	adminSet := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		adminSet[a] = struct{}{}
	}
	return &Service{
		markets:   markets,
		positions: positions,
		payments:  payments,
		rates:     rates,
		publisher: publisher,
		tx:        tx,
		admins:    adminSet,
		params:    params,
		batchSize: batchSize,
		topic:     topic,
		metrics:   m,
		logger:    logger.With("module", "funding"),
	}
}

// TriggerCollection 管理员手动触发一批结算，后台循环不走此入口
func (s *Service) TriggerCollection(ctx context.Context, caller, symbol string) (int, error) {
	if _, ok := s.admins[caller]; !ok {
		return 0, domain.ErrPermissionDenied
	}
	return s.CollectFundingPayments(ctx, symbol)
}

// CollectFundingPayments 对单个市场执行一批资金费结算，返回本批处理的持仓数。
// 费率重算（到期时）、持仓结算、支付留档与事件写入在同一事务内提交。
func (s *Service) CollectFundingPayments(ctx context.Context, symbol string) (int, error) {
	var processed, charged int

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		market, err := s.markets.GetBySymbolForUpdate(ctx, symbol)
		if err != nil {
			return err
		}

		now := time.Now()
		if market.RefreshFundingRate(now, s.params) {
			if err := s.markets.Save(ctx, market); err != nil {
				return err
			}
			record := &domain.RateRecord{
				Symbol:     market.Symbol,
				Rate:       market.FundingRate,
				SpotPrice:  market.SpotPrice,
				PerpPrice:  market.PerpPrice,
				RecordedAt: now,
			}
			if err := s.rates.Save(ctx, record); err != nil {
				return err
			}
		}

		due, err := s.positions.ListDueFunding(ctx, symbol, now.Add(-s.params.Interval), s.batchSize)
		if err != nil {
			return err
		}

		batch := make([]*domain.Payment, 0, len(due))
		for _, pos := range due {
			periodFrom := pos.LastFundingSettlement
			amount := domain.ComputeTraderPayment(
				pos.SizeUsd, market.FundingRate, pos.IsLong, now.Sub(periodFrom), s.params.Interval)

			pos.ApplyFunding(amount, now)
			if err := s.positions.Save(ctx, pos); err != nil {
				return err
			}

			if amount.IsZero() {
				continue
			}
			batch = append(batch, &domain.Payment{
				PaymentID:  idgen.GenIDString(),
				PositionID: pos.PositionID,
				Owner:      pos.Owner,
				Symbol:     symbol,
				AmountUsd:  amount,
				Rate:       market.FundingRate,
				PeriodFrom: periodFrom,
				PeriodTo:   now,
			})
		}

		if err := s.payments.SaveBatch(ctx, batch); err != nil {
			return err
		}
		for _, p := range batch {
			event := domain.FundingSettledEvent{
				PaymentID:  p.PaymentID,
				PositionID: p.PositionID,
				Owner:      p.Owner,
				Symbol:     p.Symbol,
				AmountUsd:  p.AmountUsd.String(),
				Rate:       p.Rate.String(),
				PeriodFrom: p.PeriodFrom,
				PeriodTo:   p.PeriodTo,
			}
			if err := s.publisher.Publish(ctx, s.topic, p.Owner, domain.EventFundingSettled, event); err != nil {
				return err
			}
		}

		processed = len(due)
		charged = len(batch)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if s.metrics != nil && charged > 0 {
		s.metrics.FundingPaymentsTotal.Add(float64(charged))
	}
	if processed > 0 {
		s.logger.InfoContext(ctx, "funding batch settled",
			"symbol", symbol, "positions", processed, "payments", charged)
	}
	return processed, nil
}

// SweepMarket 反复结算直到该市场无到期持仓
func (s *Service) SweepMarket(ctx context.Context, symbol string) (int, error) {
	total := 0
	for {
		processed, err := s.CollectFundingPayments(ctx, symbol)
		if err != nil {
			return total, err
		}
		total += processed
		if processed < s.batchSize {
			return total, nil
		}
	}
}

// SweepAll 扫描全部市场
func (s *Service) SweepAll(ctx context.Context) error {
	symbols, err := s.markets.ListSymbols(ctx)
	if err != nil {
		return err
	}

	for _, symbol := range symbols {
		if _, err := s.SweepMarket(ctx, symbol); err != nil {
			s.logger.ErrorContext(ctx, "market sweep failed", "symbol", symbol, "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.FundingSweepsTotal.Inc()
	}
	return nil
}

// Run 阻塞运行后台结算循环，直到 ctx 取消
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "funding sweep loop started", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "funding sweep loop stopped")
			return nil
		case <-ticker.C:
			if err := s.SweepAll(ctx); err != nil {
				s.logger.ErrorContext(ctx, "funding sweep pass failed", "error", err)
			}
		}
	}
}

// PaymentView 资金费结算记录视图
type PaymentView struct {
	PaymentID  string `json:"payment_id"`
	PositionID string `json:"position_id"`
	Symbol     string `json:"symbol"`
	AmountUsd  string `json:"amount_usd"`
	Rate       string `json:"rate"`
	PeriodFrom string `json:"period_from"`
	PeriodTo   string `json:"period_to"`
}

// ListPayments 查询某地址的资金费结算历史
func (s *Service) ListPayments(ctx context.Context, owner string, limit int) ([]PaymentView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	payments, err := s.payments.ListByOwner(ctx, owner, limit)
	if err != nil {
		return nil, err
	}

	views := make([]PaymentView, 0, len(payments))
	for _, p := range payments {
		views = append(views, PaymentView{
			PaymentID:  p.PaymentID,
			PositionID: p.PositionID,
			Symbol:     p.Symbol,
			AmountUsd:  p.AmountUsd.String(),
			Rate:       p.Rate.String(),
			PeriodFrom: p.PeriodFrom.UTC().Format(time.RFC3339),
			PeriodTo:   p.PeriodTo.UTC().Format(time.RFC3339),
		})
	}
	return views, nil
}

// RateHistoryView 费率历史视图
type RateHistoryView struct {
	Symbol     string `json:"symbol"`
	Rate       string `json:"rate"`
	SpotPrice  string `json:"spot_price"`
	PerpPrice  string `json:"perp_price"`
	RecordedAt string `json:"recorded_at"`
}

// ListRateHistory 查询某市场的费率历史
func (s *Service) ListRateHistory(ctx context.Context, symbol string, limit int) ([]RateHistoryView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	records, err := s.rates.ListBySymbol(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}

	views := make([]RateHistoryView, 0, len(records))
	for _, r := range records {
		views = append(views, RateHistoryView{
			Symbol:     r.Symbol,
			Rate:       r.Rate.String(),
			SpotPrice:  r.SpotPrice.String(),
			PerpPrice:  r.PerpPrice.String(),
			RecordedAt: r.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	return views, nil
}
