package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	"github.com/hemanthK-supraoracles/perpetuals/internal/market/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/cache"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/fixedpoint"
	"github.com/shopspring/decimal"
)

// RateRecorder 资金费率历史记录端口，由资金费上下文实现
type RateRecorder interface {
	RecordRate(ctx context.Context, symbol string, rate, spot, perp decimal.Decimal, at time.Time) error
}

const statsCacheTTL = 2 * time.Second

// Service 市场应用服务：市场生命周期、价格更新与行情查询
type Service struct {
	markets domain.MarketRepository
	rates   RateRecorder
	cache   *cache.RedisCache
	tx      db.Transactor
	admins  map[string]struct{}
	params  domain.FundingParams
	logger  *slog.Logger
}

func NewService(
	markets domain.MarketRepository,
	rates RateRecorder,
	redisCache *cache.RedisCache,
	tx db.Transactor,
	admins []string,
	params domain.FundingParams,
	logger *slog.Logger,
) *Service {
	adminSet := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		adminSet[a] = struct{}{}
	}
	return &Service{
		markets: markets,
		rates:   rates,
		cache:   redisCache,
		tx:      tx,
		admins:  adminSet,
		params:  params,
		logger:  logger.With("module", "market"),
	}
}

type InitializeMarketCmd struct {
	Caller  string
	Symbol  string
	SpotRaw string
	PerpRaw string
}

// InitializeMarket 管理员创建交易市场并设定初始价格
func (s *Service) InitializeMarket(ctx context.Context, cmd InitializeMarketCmd) error {
	if _, ok := s.admins[cmd.Caller]; !ok {
		return domain.ErrPermissionDenied
	}

	sym, err := asset.ParseTradable(cmd.Symbol)
	if err != nil {
		return err
	}
	spot, perp, err := parsePrices(cmd.SpotRaw, cmd.PerpRaw)
	if err != nil {
		return err
	}

	now := time.Now()
	market := domain.NewMarket(sym.String(), spot, perp, now, s.params)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.markets.GetBySymbol(ctx, sym.String()); err == nil {
			return domain.ErrMarketExists
		} else if !errors.Is(err, domain.ErrMarketNotFound) {
			return err
		}
		if err := s.markets.Create(ctx, market); err != nil {
			return err
		}
		return s.rates.RecordRate(ctx, market.Symbol, market.FundingRate, spot, perp, now)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "market initialized",
		"symbol", market.Symbol,
		"spot", spot.String(), "perp", perp.String(),
		"funding_rate", market.FundingRate.String())
	return nil
}

type UpdatePricesCmd struct {
	Caller  string
	Symbol  string
	SpotRaw string
	PerpRaw string
}

// UpdatePrices 管理员更新标记价格；若距上次资金费率更新已满一个周期则顺带重算费率
func (s *Service) UpdatePrices(ctx context.Context, cmd UpdatePricesCmd) error {
	if _, ok := s.admins[cmd.Caller]; !ok {
		return domain.ErrPermissionDenied
	}

	sym, err := asset.ParseTradable(cmd.Symbol)
	if err != nil {
		return err
	}
	spot, perp, err := parsePrices(cmd.SpotRaw, cmd.PerpRaw)
	if err != nil {
		return err
	}

	var refreshed bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		market, err := s.markets.GetBySymbolForUpdate(ctx, sym.String())
		if err != nil {
			return err
		}
		if err := market.SetPrices(spot, perp); err != nil {
			return err
		}
		now := time.Now()
		refreshed = market.RefreshFundingRate(now, s.params)
		if err := s.markets.Save(ctx, market); err != nil {
			return err
		}
		if refreshed {
			return s.rates.RecordRate(ctx, market.Symbol, market.FundingRate, spot, perp, now)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, statsCacheKey(sym.String()))
	}

	s.logger.InfoContext(ctx, "market prices updated",
		"symbol", sym.String(), "spot", spot.String(), "perp", perp.String(), "rate_refreshed", refreshed)
	return nil
}

// MarketStats 市场行情视图，价格为 8 位小数原始整数单位
type MarketStats struct {
	Symbol            string `json:"symbol"`
	SpotPrice         string `json:"spot_price"`
	PerpPrice         string `json:"perp_price"`
	FundingRate       string `json:"funding_rate"`
	FundingSign       string `json:"funding_sign"`
	TotalLongSize     string `json:"total_long_size"`
	TotalShortSize    string `json:"total_short_size"`
	LastFundingUpdate string `json:"last_funding_update"`
	NextFundingAt     string `json:"next_funding_at"`
}

// GetMarketStats 查询市场行情，带短 TTL Redis 缓存
func (s *Service) GetMarketStats(ctx context.Context, symbol string) (*MarketStats, error) {
	sym, err := asset.ParseTradable(symbol)
	if err != nil {
		return nil, err
	}

	key := statsCacheKey(sym.String())
	if s.cache != nil {
		var cached MarketStats
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	market, err := s.markets.GetBySymbol(ctx, sym.String())
	if err != nil {
		return nil, err
	}

	stats := &MarketStats{
		Symbol:            market.Symbol,
		SpotPrice:         fixedpoint.RawString(market.SpotPrice, fixedpoint.PriceDecimals),
		PerpPrice:         fixedpoint.RawString(market.PerpPrice, fixedpoint.PriceDecimals),
		FundingRate:       market.FundingRate.String(),
		FundingSign:       string(market.FundingSign()),
		TotalLongSize:     fixedpoint.RawString(market.TotalLongSize, fixedpoint.PriceDecimals),
		TotalShortSize:    fixedpoint.RawString(market.TotalShortSize, fixedpoint.PriceDecimals),
		LastFundingUpdate: market.LastFundingUpdate.UTC().Format(time.RFC3339),
		NextFundingAt:     market.LastFundingUpdate.Add(s.params.Interval).UTC().Format(time.RFC3339),
	}

	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, stats, statsCacheTTL)
	}
	return stats, nil
}

// FundingRateView 资金费率视图。RateUnits 为 1e6 定点刻度下的费率绝对值。
type FundingRateView struct {
	Symbol         string `json:"symbol"`
	RateUnits      int64  `json:"rate_units"`
	Rate           string `json:"rate"`
	Sign           string `json:"sign"`
	TotalLongSize  string `json:"total_long_size"`
	TotalShortSize string `json:"total_short_size"`
	NextFundingAt  string `json:"next_funding_at"`
}

// GetFundingRate 查询当前资金费率与方向
func (s *Service) GetFundingRate(ctx context.Context, symbol string) (*FundingRateView, error) {
	sym, err := asset.ParseTradable(symbol)
	if err != nil {
		return nil, err
	}

	market, err := s.markets.GetBySymbol(ctx, sym.String())
	if err != nil {
		return nil, err
	}

	return &FundingRateView{
		Symbol:         market.Symbol,
		RateUnits:      fixedpoint.RatioToPrecisionUnits(market.FundingRate.Abs()),
		Rate:           market.FundingRate.String(),
		Sign:           string(market.FundingSign()),
		TotalLongSize:  fixedpoint.RawString(market.TotalLongSize, fixedpoint.PriceDecimals),
		TotalShortSize: fixedpoint.RawString(market.TotalShortSize, fixedpoint.PriceDecimals),
		NextFundingAt:  market.LastFundingUpdate.Add(s.params.Interval).UTC().Format(time.RFC3339),
	}, nil
}

// ListSymbols 返回全部已创建市场的交易资产
func (s *Service) ListSymbols(ctx context.Context) ([]string, error) {
	return s.markets.ListSymbols(ctx)
}

func parsePrices(spotRaw, perpRaw string) (decimal.Decimal, decimal.Decimal, error) {
	spot, err := fixedpoint.ParseRaw(spotRaw, fixedpoint.PriceDecimals)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse spot price: %w", err)
	}
	perp, err := fixedpoint.ParseRaw(perpRaw, fixedpoint.PriceDecimals)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse perp price: %w", err)
	}
	if !spot.IsPositive() || !perp.IsPositive() {
		return decimal.Zero, decimal.Zero, domain.ErrInvalidPrice
	}
	return spot, perp, nil
}

func statsCacheKey(symbol string) string {
	return "market:stats:" + symbol
}
