package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	custodydomain "github.com/hemanthK-supraoracles/perpetuals/internal/custody/domain"
	"github.com/hemanthK-supraoracles/perpetuals/internal/outbox"
	"github.com/hemanthK-supraoracles/perpetuals/internal/pool/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/cache"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/fixedpoint"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/metrics"
	"github.com/shopspring/decimal"
)

// CustodyService 托管账本端口
type CustodyService interface {
	Transfer(ctx context.Context, from, to string, sym asset.Symbol, amount decimal.Decimal, reason string) error
}

const statsCacheTTL = 2 * time.Second

// Service 流动性池应用服务：池生命周期、注入与赎回
type Service struct {
	pools     domain.PoolRepository
	shares    domain.ShareRepository
	custody   CustodyService
	publisher outbox.Publisher
	cache     *cache.RedisCache
	tx        db.Transactor
	admins    map[string]struct{}
	topic     string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewService(
	pools domain.PoolRepository,
	shares domain.ShareRepository,
	custody CustodyService,
	publisher outbox.Publisher,
	redisCache *cache.RedisCache,
	tx db.Transactor,
	admins []string,
	topic string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	adminSet := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		adminSet[a] = struct{}{}
	}
	return &Service{
		pools:     pools,
		shares:    shares,
		custody:   custody,
		publisher: publisher,
		cache:     redisCache,
		tx:        tx,
		admins:    adminSet,
		topic:     topic,
		metrics:   m,
		logger:    logger.With("module", "pool"),
	}
}

type InitializePoolCmd struct {
	Caller     string
	Collateral string
}

// InitializePool 管理员为某抵押资产创建流动性池
func (s *Service) InitializePool(ctx context.Context, cmd InitializePoolCmd) error {
	if _, ok := s.admins[cmd.Caller]; !ok {
		return domain.ErrPermissionDenied
	}

	sym, err := asset.ParseCollateral(cmd.Collateral)
	if err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.pools.GetByCollateral(ctx, sym.String()); err == nil {
			return domain.ErrPoolExists
		} else if !errors.Is(err, domain.ErrPoolNotFound) {
			return err
		}
		return s.pools.Create(ctx, domain.NewLiquidityPool(sym.String()))
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "liquidity pool initialized", "collateral", sym.String())
	return nil
}

type AddLiquidityCmd struct {
	Provider   string
	Collateral string
	AmountRaw  string
}

// AddLiquidityResult 注入结果
type AddLiquidityResult struct {
	SharesMinted string `json:"shares_minted"`
	SharePrice   string `json:"share_price"`
}

// AddLiquidity 向池中注入抵押资产并按当前份额价铸造份额
func (s *Service) AddLiquidity(ctx context.Context, cmd AddLiquidityCmd) (*AddLiquidityResult, error) {
	sym, err := asset.ParseCollateral(cmd.Collateral)
	if err != nil {
		return nil, err
	}
	amount, err := fixedpoint.ParseUnits(cmd.AmountRaw)
	if err != nil {
		return nil, err
	}

	var result *AddLiquidityResult
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pool, err := s.pools.GetByCollateralForUpdate(ctx, sym.String())
		if err != nil {
			return err
		}

		minted, err := pool.Deposit(amount)
		if err != nil {
			return err
		}

		treasury := custodydomain.PoolTreasuryAddress(sym)
		if err := s.custody.Transfer(ctx, cmd.Provider, treasury, sym, amount, "add liquidity"); err != nil {
			return err
		}

		share, err := s.shares.GetOrCreateForUpdate(ctx, sym.String(), cmd.Provider)
		if err != nil {
			return err
		}
		share.Add(minted)
		if err := s.shares.Save(ctx, share); err != nil {
			return err
		}
		if err := s.pools.Save(ctx, pool); err != nil {
			return err
		}

		event := domain.LiquidityAddedEvent{
			Collateral:   sym.String(),
			Provider:     cmd.Provider,
			Amount:       amount.String(),
			SharesMinted: minted.String(),
			At:           time.Now(),
		}
		if err := s.publisher.Publish(ctx, s.topic, sym.String(), domain.EventLiquidityAdded, event); err != nil {
			return err
		}

		result = &AddLiquidityResult{
			SharesMinted: minted.String(),
			SharePrice:   pool.SharePrice().String(),
		}
		s.observePool(pool)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx, sym.String())
	if s.metrics != nil {
		s.metrics.LiquidityEventsTotal.WithLabelValues("add").Inc()
	}
	s.logger.InfoContext(ctx, "liquidity added",
		"collateral", sym.String(), "provider", cmd.Provider,
		"amount", amount.String(), "shares", result.SharesMinted)
	return result, nil
}

type RemoveLiquidityCmd struct {
	Provider   string
	Collateral string
	SharesRaw  string
}

// RemoveLiquidityResult 赎回结果
type RemoveLiquidityResult struct {
	SharesBurned string `json:"shares_burned"`
	Payout       string `json:"payout"`
}

// RemoveLiquidity 销毁份额并按当前份额价赎回抵押资产
func (s *Service) RemoveLiquidity(ctx context.Context, cmd RemoveLiquidityCmd) (*RemoveLiquidityResult, error) {
	sym, err := asset.ParseCollateral(cmd.Collateral)
	if err != nil {
		return nil, err
	}
	sharesToBurn, err := fixedpoint.ParseUnits(cmd.SharesRaw)
	if err != nil {
		return nil, err
	}

	var result *RemoveLiquidityResult
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pool, err := s.pools.GetByCollateralForUpdate(ctx, sym.String())
		if err != nil {
			return err
		}

		share, err := s.shares.GetOrCreateForUpdate(ctx, sym.String(), cmd.Provider)
		if err != nil {
			return err
		}
		if err := share.Burn(sharesToBurn); err != nil {
			return err
		}

		payout, err := pool.Redeem(sharesToBurn)
		if err != nil {
			return err
		}

		treasury := custodydomain.PoolTreasuryAddress(sym)
		if payout.IsPositive() {
			if err := s.custody.Transfer(ctx, treasury, cmd.Provider, sym, payout, "remove liquidity"); err != nil {
				return err
			}
		}

		if err := s.shares.Save(ctx, share); err != nil {
			return err
		}
		if err := s.pools.Save(ctx, pool); err != nil {
			return err
		}

		event := domain.LiquidityRemovedEvent{
			Collateral:   sym.String(),
			Provider:     cmd.Provider,
			SharesBurned: sharesToBurn.String(),
			Payout:       payout.String(),
			At:           time.Now(),
		}
		if err := s.publisher.Publish(ctx, s.topic, sym.String(), domain.EventLiquidityRemoved, event); err != nil {
			return err
		}

		result = &RemoveLiquidityResult{
			SharesBurned: sharesToBurn.String(),
			Payout:       payout.String(),
		}
		s.observePool(pool)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx, sym.String())
	if s.metrics != nil {
		s.metrics.LiquidityEventsTotal.WithLabelValues("remove").Inc()
	}
	s.logger.InfoContext(ctx, "liquidity removed",
		"collateral", sym.String(), "provider", cmd.Provider,
		"shares", cmd.SharesRaw, "payout", result.Payout)
	return result, nil
}

// PoolStats 池状态视图
type PoolStats struct {
	Collateral        string `json:"collateral"`
	TotalBalance      string `json:"total_balance"`
	TotalLpShares     string `json:"total_lp_shares"`
	SharePrice        string `json:"share_price"`
	TotalOpenInterest string `json:"total_open_interest"`
	ProviderCount     int64  `json:"provider_count"`
}

// GetPoolStats 查询池状态，带短 TTL Redis 缓存
func (s *Service) GetPoolStats(ctx context.Context, collateral string) (*PoolStats, error) {
	sym, err := asset.ParseCollateral(collateral)
	if err != nil {
		return nil, err
	}

	key := statsCacheKey(sym.String())
	if s.cache != nil {
		var cached PoolStats
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	pool, err := s.pools.GetByCollateral(ctx, sym.String())
	if err != nil {
		return nil, err
	}
	providers, err := s.shares.CountProviders(ctx, sym.String())
	if err != nil {
		return nil, err
	}

	stats := &PoolStats{
		Collateral:        pool.Collateral,
		TotalBalance:      pool.TotalBalance.String(),
		TotalLpShares:     pool.TotalLpShares.String(),
		SharePrice:        pool.SharePrice().String(),
		TotalOpenInterest: pool.TotalOpenInterest.String(),
		ProviderCount:     providers,
	}

	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, stats, statsCacheTTL)
	}
	return stats, nil
}

// GetProviderShares 查询某提供者在某池的份额
func (s *Service) GetProviderShares(ctx context.Context, collateral, provider string) (string, error) {
	sym, err := asset.ParseCollateral(collateral)
	if err != nil {
		return "", err
	}
	share, err := s.shares.GetByProvider(ctx, sym.String(), provider)
	if err != nil {
		return "", err
	}
	return share.Shares.String(), nil
}

func (s *Service) observePool(pool *domain.LiquidityPool) {
	if s.metrics == nil {
		return
	}
	balance, _ := pool.TotalBalance.Float64()
	s.metrics.PoolBalance.WithLabelValues(pool.Collateral).Set(balance)
}

func (s *Service) invalidateStats(ctx context.Context, collateral string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, statsCacheKey(collateral))
	}
}

func statsCacheKey(collateral string) string {
	return "pool:stats:" + collateral
}
