package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	"github.com/hemanthK-supraoracles/perpetuals/internal/oracle/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/cache"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/fixedpoint"
	"github.com/shopspring/decimal"
)

// Service 预言机应用服务：管理员写入报价，其他上下文读取新鲜价格
type Service struct {
	quotes    domain.QuoteRepository
	cache     *cache.LocalCache
	admins    map[string]struct{}
	staleness time.Duration
	logger    *slog.Logger
}

func NewService(quotes domain.QuoteRepository, localCache *cache.LocalCache, admins []string, staleness time.Duration, logger *slog.Logger) *Service {
	adminSet := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		adminSet[a] = struct{}{}
	}
	return &Service{
		quotes:    quotes,
		cache:     localCache,
		admins:    adminSet,
		staleness: staleness,
		logger:    logger.With("module", "oracle"),
	}
}

type SetPriceCmd struct {
	Caller   string
	Symbol   string
	PriceRaw string
}

// SetPrice 管理员写入某资产的美元报价（8 位小数定点字符串）
func (s *Service) SetPrice(ctx context.Context, cmd SetPriceCmd) error {
	if _, ok := s.admins[cmd.Caller]; !ok {
		return domain.ErrPermissionDenied
	}

	sym, err := asset.Parse(cmd.Symbol)
	if err != nil {
		return err
	}

	price, err := fixedpoint.ParseRaw(cmd.PriceRaw, fixedpoint.PriceDecimals)
	if err != nil {
		return fmt.Errorf("parse price: %w", err)
	}
	if !price.IsPositive() {
		return domain.ErrInvalidPrice
	}

	quote := &domain.Quote{
		Symbol:     sym.String(),
		Price:      price,
		ObservedAt: time.Now(),
		UpdatedBy:  cmd.Caller,
	}
	if err := s.quotes.Upsert(ctx, quote); err != nil {
		return fmt.Errorf("upsert quote: %w", err)
	}

	if s.cache != nil {
		s.cache.Delete(quoteCacheKey(sym))
	}

	s.logger.InfoContext(ctx, "oracle price updated",
		"symbol", sym.String(), "price", price.String(), "updated_by", cmd.Caller)
	return nil
}

// CurrentPrice 返回最新报价与观测时间，不做新鲜度校验
func (s *Service) CurrentPrice(ctx context.Context, sym asset.Symbol) (decimal.Decimal, time.Time, error) {
	quote, err := s.lookup(ctx, sym)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	return quote.Price, quote.ObservedAt, nil
}

// FreshPrice 返回最新报价，超过新鲜度窗口时返回 ErrStalePrice
func (s *Service) FreshPrice(ctx context.Context, sym asset.Symbol) (decimal.Decimal, error) {
	quote, err := s.lookup(ctx, sym)
	if err != nil {
		return decimal.Zero, err
	}
	if err := quote.CheckFresh(time.Now(), s.staleness); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s observed at %s", err, sym, quote.ObservedAt.Format(time.RFC3339))
	}
	if !quote.Price.IsPositive() {
		return decimal.Zero, domain.ErrInvalidPrice
	}
	return quote.Price, nil
}

func (s *Service) lookup(ctx context.Context, sym asset.Symbol) (*domain.Quote, error) {
	key := quoteCacheKey(sym)

	if s.cache != nil {
		var cached domain.Quote
		if err := s.cache.GetJSON(key, &cached); err == nil {
			return &cached, nil
		}
	}

	quote, err := s.quotes.GetBySymbol(ctx, sym.String())
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.SetJSON(key, quote)
	}
	return quote, nil
}

func quoteCacheKey(sym asset.Symbol) string {
	return "oracle:quote:" + sym.String()
}
