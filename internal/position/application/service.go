package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	custodydomain "github.com/hemanthK-supraoracles/perpetuals/internal/custody/domain"
	fundingdomain "github.com/hemanthK-supraoracles/perpetuals/internal/funding/domain"
	marketdomain "github.com/hemanthK-supraoracles/perpetuals/internal/market/domain"
	oracledomain "github.com/hemanthK-supraoracles/perpetuals/internal/oracle/domain"
	"github.com/hemanthK-supraoracles/perpetuals/internal/outbox"
	pooldomain "github.com/hemanthK-supraoracles/perpetuals/internal/pool/domain"
	"github.com/hemanthK-supraoracles/perpetuals/internal/position/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/fixedpoint"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/idgen"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/metrics"
	"github.com/shopspring/decimal"
)

// PriceService 预言机价格端口，返回新鲜度校验后的报价
type PriceService interface {
	FreshPrice(ctx context.Context, sym asset.Symbol) (decimal.Decimal, error)
}

// CustodyService 托管账本端口
type CustodyService interface {
	Transfer(ctx context.Context, from, to string, sym asset.Symbol, amount decimal.Decimal, reason string) error
}

// Service 持仓应用服务。开仓与平仓把市场、流动性池、托管账本
// 和资金费结算编排进单个数据库事务。
type Service struct {
	positions domain.PositionRepository
	closed    domain.ClosedPositionRepository
	markets   marketdomain.MarketRepository
	pools     pooldomain.PoolRepository
	payments  fundingdomain.PaymentRepository
	custody   CustodyService
	oracle    PriceService
	publisher outbox.Publisher
	tx        db.Transactor
	fees      domain.FeeSchedule
	params    marketdomain.FundingParams
	maxLev    int64
	topic     string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewService(
	positions domain.PositionRepository,
	closed domain.ClosedPositionRepository,
	markets marketdomain.MarketRepository,
	pools pooldomain.PoolRepository,
	payments fundingdomain.PaymentRepository,
	custody CustodyService,
	oracle PriceService,
	publisher outbox.Publisher,
	tx db.Transactor,
	fees domain.FeeSchedule,
	params marketdomain.FundingParams,
	maxLeverage int64,
	topic string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		positions: positions,
		closed:    closed,
		markets:   markets,
		pools:     pools,
		payments:  payments,
		custody:   custody,
		oracle:    oracle,
		publisher: publisher,
		tx:        tx,
		fees:      fees,
		params:    params,
		maxLev:    maxLeverage,
		topic:     topic,
		metrics:   m,
		logger:    logger.With("module", "position"),
	}
}

type OpenPositionCmd struct {
	Owner         string
	Asset         string
	Collateral    string
	IsLong        bool
	SizeUsdRaw    string
	Leverage      int64
	CollateralRaw string
	TakeProfitRaw string
	StopLossRaw   string
}

// OpenPositionResult 开仓结果，价格与美元额为 8 位小数原始整数单位
type OpenPositionResult struct {
	PositionID       string `json:"position_id"`
	EntryPrice       string `json:"entry_price"`
	LiquidationPrice string `json:"liquidation_price"`
	SizeUsd          string `json:"size_usd"`
	CollateralAmount string `json:"collateral_amount"`
	OpenFeeUsd       string `json:"open_fee_usd"`
}

// OpenPosition 开仓。锁定市场与池，校验保证金、触发价与未平仓量准入，
// 把抵押品和开仓费划入系统账户后落地持仓，全程单事务。
func (s *Service) OpenPosition(ctx context.Context, cmd OpenPositionCmd) (*OpenPositionResult, error) {
	result, err := s.openPosition(ctx, cmd)
	if err != nil {
		s.reportError(ctx, "open position", err,
			"owner", cmd.Owner, "asset", cmd.Asset, "collateral", cmd.Collateral)
		return nil, err
	}
	return result, nil
}

func (s *Service) openPosition(ctx context.Context, cmd OpenPositionCmd) (*OpenPositionResult, error) {
	sym, err := asset.ParseTradable(cmd.Asset)
	if err != nil {
		return nil, err
	}
	collatSym, err := asset.ParseCollateral(cmd.Collateral)
	if err != nil {
		return nil, err
	}
	sizeUsd, err := fixedpoint.ParseRaw(cmd.SizeUsdRaw, fixedpoint.PriceDecimals)
	if err != nil {
		return nil, err
	}
	if !sizeUsd.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	if err := domain.ValidateLeverage(cmd.Leverage, s.maxLev); err != nil {
		return nil, err
	}
	collateralUnits, err := fixedpoint.ParseUnits(cmd.CollateralRaw)
	if err != nil {
		return nil, err
	}
	if !collateralUnits.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	takeProfit, err := parseOptionalPrice(cmd.TakeProfitRaw)
	if err != nil {
		return nil, err
	}
	stopLoss, err := parseOptionalPrice(cmd.StopLossRaw)
	if err != nil {
		return nil, err
	}

	var result *OpenPositionResult
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		market, err := s.markets.GetBySymbolForUpdate(ctx, sym.String())
		if err != nil {
			return err
		}
		pool, err := s.pools.GetByCollateralForUpdate(ctx, collatSym.String())
		if err != nil {
			return err
		}

		if _, err := s.positions.GetByKey(ctx, cmd.Owner, sym.String(), collatSym.String()); err == nil {
			return domain.ErrPositionExists
		} else if !errors.Is(err, domain.ErrPositionNotFound) {
			return err
		}

		entryPrice, err := s.oracle.FreshPrice(ctx, sym)
		if err != nil {
			return err
		}
		collatPrice, err := s.oracle.FreshPrice(ctx, collatSym)
		if err != nil {
			return err
		}

		collateralValueUsd := fixedpoint.ScaleFromUnits(collateralUnits, collatSym.Decimals()).Mul(collatPrice)
		if err := domain.ValidateMargin(collateralValueUsd, cmd.Leverage, sizeUsd); err != nil {
			return err
		}
		if err := domain.ValidateTriggers(cmd.IsLong, entryPrice, takeProfit, stopLoss); err != nil {
			return err
		}

		poolBalanceUsd := fixedpoint.ScaleFromUnits(pool.TotalBalance, collatSym.Decimals()).Mul(collatPrice)
		if err := pool.AdmitOpenInterest(sizeUsd, poolBalanceUsd); err != nil {
			return err
		}

		openFeeUsd := s.fees.Opening(sizeUsd)
		closeFeeEstimate := s.fees.Closing(sizeUsd)
		liqPrice := domain.ComputeLiquidationPrice(cmd.IsLong, entryPrice, collateralValueUsd, sizeUsd, closeFeeEstimate)

		if err := s.custody.Transfer(ctx, cmd.Owner, custodydomain.EscrowAddress, collatSym, collateralUnits, "open position collateral"); err != nil {
			return err
		}
		feeUnits := usdToUnits(openFeeUsd, collatPrice, collatSym.Decimals())
		if feeUnits.IsPositive() {
			treasury := custodydomain.PoolTreasuryAddress(collatSym)
			if err := s.custody.Transfer(ctx, cmd.Owner, treasury, collatSym, feeUnits, "open fee"); err != nil {
				return err
			}
			pool.CreditFees(feeUnits)
		}

		market.ApplyOpenInterest(cmd.IsLong, sizeUsd)
		if err := s.markets.Save(ctx, market); err != nil {
			return err
		}
		if err := s.pools.Save(ctx, pool); err != nil {
			return err
		}

		now := time.Now()
		position := &domain.Position{
			PositionID:            idgen.GenIDString(),
			Owner:                 cmd.Owner,
			Asset:                 sym.String(),
			Collateral:            collatSym.String(),
			IsLong:                cmd.IsLong,
			SizeUsd:               sizeUsd,
			Leverage:              cmd.Leverage,
			CollateralAmount:      collateralUnits,
			EntryPrice:            entryPrice,
			LiquidationPrice:      liqPrice,
			TakeProfitPrice:       takeProfit,
			StopLossPrice:         stopLoss,
			Status:                domain.StatusActive,
			OpenedAt:              now,
			LastFundingSettlement: now,
			FundingAccrued:        decimal.Zero,
		}
		if err := s.positions.Create(ctx, position); err != nil {
			return err
		}

		event := domain.PositionOpenedEvent{
			PositionID:         position.PositionID,
			Owner:              position.Owner,
			Asset:              position.Asset,
			Collateral:         position.Collateral,
			IsLong:             position.IsLong,
			SizeUsd:            sizeUsd.String(),
			Leverage:           position.Leverage,
			CollateralAmount:   collateralUnits.String(),
			CollateralValueUsd: collateralValueUsd.String(),
			EntryPrice:         entryPrice.String(),
			LiquidationPrice:   liqPrice.String(),
			OpenFeeUsd:         openFeeUsd.String(),
			OpenedAt:           now,
		}
		if err := s.publisher.Publish(ctx, s.topic, position.Owner, domain.EventPositionOpened, event); err != nil {
			return err
		}

		result = &OpenPositionResult{
			PositionID:       position.PositionID,
			EntryPrice:       fixedpoint.RawString(entryPrice, fixedpoint.PriceDecimals),
			LiquidationPrice: fixedpoint.RawString(liqPrice, fixedpoint.PriceDecimals),
			SizeUsd:          fixedpoint.RawString(sizeUsd, fixedpoint.PriceDecimals),
			CollateralAmount: collateralUnits.String(),
			OpenFeeUsd:       fixedpoint.RawString(openFeeUsd, fixedpoint.PriceDecimals),
		}
		s.observeState(market, pool)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PositionsOpenedTotal.Inc()
		if active, err := s.positions.CountActive(ctx); err == nil {
			s.metrics.PositionsActive.Set(float64(active))
		}
	}
	s.logger.InfoContext(ctx, "position opened",
		"position_id", result.PositionID, "owner", cmd.Owner,
		"asset", sym.String(), "collateral", collatSym.String(),
		"is_long", cmd.IsLong, "size_usd", sizeUsd.String(), "leverage", cmd.Leverage)
	return result, nil
}

type ClosePositionCmd struct {
	Owner      string
	Asset      string
	Collateral string
}

// ClosePositionResult 平仓结果。Payout 为交易者收到的抵押资产原始整数单位，
// PoolShortfall 为池余额不足未能支付的部分。
type ClosePositionResult struct {
	PositionID    string `json:"position_id"`
	ExitPrice     string `json:"exit_price"`
	PnlUsd        string `json:"pnl_usd"`
	FundingUsd    string `json:"funding_usd"`
	CloseFeeUsd   string `json:"close_fee_usd"`
	Payout        string `json:"payout"`
	PoolShortfall string `json:"pool_shortfall"`
}

// ClosePosition 平仓。取出持仓（同一持仓不会被结算两次）、补结到期资金费、
// 按净额与池清算并归还抵押品，全程单事务。亏损超过抵押品净值时拒绝并报告强平。
func (s *Service) ClosePosition(ctx context.Context, cmd ClosePositionCmd) (*ClosePositionResult, error) {
	result, err := s.closePosition(ctx, cmd)
	if err != nil {
		s.reportError(ctx, "close position", err,
			"owner", cmd.Owner, "asset", cmd.Asset, "collateral", cmd.Collateral)
		return nil, err
	}
	return result, nil
}

func (s *Service) closePosition(ctx context.Context, cmd ClosePositionCmd) (*ClosePositionResult, error) {
	sym, err := asset.ParseTradable(cmd.Asset)
	if err != nil {
		return nil, err
	}
	collatSym, err := asset.ParseCollateral(cmd.Collateral)
	if err != nil {
		return nil, err
	}

	var result *ClosePositionResult
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		position, err := s.positions.Remove(ctx, cmd.Owner, sym.String(), collatSym.String())
		if err != nil {
			return err
		}
		market, err := s.markets.GetBySymbolForUpdate(ctx, sym.String())
		if err != nil {
			return err
		}
		pool, err := s.pools.GetByCollateralForUpdate(ctx, collatSym.String())
		if err != nil {
			return err
		}

		exitPrice, err := s.oracle.FreshPrice(ctx, sym)
		if err != nil {
			return err
		}
		collatPrice, err := s.oracle.FreshPrice(ctx, collatSym)
		if err != nil {
			return err
		}

		now := time.Now()
		if elapsed := now.Sub(position.LastFundingSettlement); elapsed >= s.params.Interval {
			if err := s.settleDueFunding(ctx, position, market, elapsed, now); err != nil {
				return err
			}
		}

		pnl, isProfit := domain.ComputePnL(position.IsLong, position.EntryPrice, exitPrice, position.SizeUsd)
		closeFeeUsd := s.fees.Closing(position.SizeUsd)
		collateralValueUsd := fixedpoint.ScaleFromUnits(position.CollateralAmount, collatSym.Decimals()).Mul(collatPrice)

		if !isProfit && pnl.GreaterThan(collateralValueUsd.Sub(closeFeeUsd)) {
			return domain.ErrLiquidated
		}

		signedPnl := pnl
		if !isProfit {
			signedPnl = pnl.Neg()
		}
		netUsd := signedPnl.Add(position.FundingAccrued).Sub(closeFeeUsd)

		dec := collatSym.Decimals()
		treasury := custodydomain.PoolTreasuryAddress(collatSym)
		payoutUnits := decimal.Zero
		shortfallUnits := decimal.Zero

		switch {
		case netUsd.IsPositive():
			netUnits := usdToUnits(netUsd, collatPrice, dec)
			paid := pool.DebitPayout(netUnits)
			shortfallUnits = netUnits.Sub(paid)
			if paid.IsPositive() {
				if err := s.custody.Transfer(ctx, treasury, cmd.Owner, collatSym, paid, "close pnl payout"); err != nil {
					return err
				}
			}
			if err := s.custody.Transfer(ctx, custodydomain.EscrowAddress, cmd.Owner, collatSym, position.CollateralAmount, "close collateral return"); err != nil {
				return err
			}
			payoutUnits = position.CollateralAmount.Add(paid)
			if shortfallUnits.IsPositive() {
				s.logger.WarnContext(ctx, "pool balance short on payout",
					"position_id", position.PositionID, "collateral", collatSym.String(),
					"shortfall", shortfallUnits.String())
			}
		case netUsd.IsNegative():
			lossUnits := usdToUnits(netUsd.Neg(), collatPrice, dec)
			charge := lossUnits
			if charge.GreaterThan(position.CollateralAmount) {
				charge = position.CollateralAmount
			}
			if charge.IsPositive() {
				if err := s.custody.Transfer(ctx, custodydomain.EscrowAddress, treasury, collatSym, charge, "close loss settlement"); err != nil {
					return err
				}
				pool.CreditLoss(charge)
			}
			remainder := position.CollateralAmount.Sub(charge)
			if remainder.IsPositive() {
				if err := s.custody.Transfer(ctx, custodydomain.EscrowAddress, cmd.Owner, collatSym, remainder, "close collateral return"); err != nil {
					return err
				}
			}
			payoutUnits = remainder
		default:
			if err := s.custody.Transfer(ctx, custodydomain.EscrowAddress, cmd.Owner, collatSym, position.CollateralAmount, "close collateral return"); err != nil {
				return err
			}
			payoutUnits = position.CollateralAmount
		}

		if err := market.ReleaseOpenInterest(position.IsLong, position.SizeUsd); err != nil {
			return err
		}
		if err := pool.ReleaseOpenInterest(position.SizeUsd); err != nil {
			return err
		}
		if err := s.markets.Save(ctx, market); err != nil {
			return err
		}
		if err := s.pools.Save(ctx, pool); err != nil {
			return err
		}

		record := &domain.ClosedPosition{
			PositionID:       position.PositionID,
			Owner:            position.Owner,
			Asset:            position.Asset,
			Collateral:       position.Collateral,
			IsLong:           position.IsLong,
			SizeUsd:          position.SizeUsd,
			Leverage:         position.Leverage,
			CollateralAmount: position.CollateralAmount,
			EntryPrice:       position.EntryPrice,
			ExitPrice:        exitPrice,
			PnlUsd:           signedPnl,
			FundingAccrued:   position.FundingAccrued,
			CloseFeeUsd:      closeFeeUsd,
			PayoutAmount:     payoutUnits,
			OpenedAt:         position.OpenedAt,
			ClosedAt:         now,
		}
		if err := s.closed.Record(ctx, record); err != nil {
			return err
		}

		event := domain.PositionClosedEvent{
			PositionID:    position.PositionID,
			Owner:         position.Owner,
			Asset:         position.Asset,
			Collateral:    position.Collateral,
			IsLong:        position.IsLong,
			SizeUsd:       position.SizeUsd.String(),
			EntryPrice:    position.EntryPrice.String(),
			ExitPrice:     exitPrice.String(),
			PnlUsd:        signedPnl.String(),
			IsProfit:      isProfit,
			FundingUsd:    position.FundingAccrued.String(),
			CloseFeeUsd:   closeFeeUsd.String(),
			PayoutAmount:  payoutUnits.String(),
			PoolShortfall: shortfallUnits.String(),
			ClosedAt:      now,
		}
		if err := s.publisher.Publish(ctx, s.topic, position.Owner, domain.EventPositionClosed, event); err != nil {
			return err
		}

		result = &ClosePositionResult{
			PositionID:    position.PositionID,
			ExitPrice:     fixedpoint.RawString(exitPrice, fixedpoint.PriceDecimals),
			PnlUsd:        signedPnl.String(),
			FundingUsd:    position.FundingAccrued.String(),
			CloseFeeUsd:   fixedpoint.RawString(closeFeeUsd, fixedpoint.PriceDecimals),
			Payout:        payoutUnits.String(),
			PoolShortfall: shortfallUnits.String(),
		}
		s.observeState(market, pool)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PositionsClosedTotal.Inc()
		if active, err := s.positions.CountActive(ctx); err == nil {
			s.metrics.PositionsActive.Set(float64(active))
		}
	}
	s.logger.InfoContext(ctx, "position closed",
		"position_id", result.PositionID, "owner", cmd.Owner,
		"asset", sym.String(), "pnl_usd", result.PnlUsd, "payout", result.Payout)
	return result, nil
}

// settleDueFunding 平仓前补结到期的资金费
func (s *Service) settleDueFunding(ctx context.Context, position *domain.Position, market *marketdomain.Market, elapsed time.Duration, now time.Time) error {
	amount := fundingdomain.ComputeTraderPayment(
		position.SizeUsd, market.FundingRate, position.IsLong, elapsed, s.params.Interval)
	periodFrom := position.LastFundingSettlement
	position.ApplyFunding(amount, now)
	if amount.IsZero() {
		return nil
	}

	payment := &fundingdomain.Payment{
		PaymentID:  idgen.GenIDString(),
		PositionID: position.PositionID,
		Owner:      position.Owner,
		Symbol:     position.Asset,
		AmountUsd:  amount,
		Rate:       market.FundingRate,
		PeriodFrom: periodFrom,
		PeriodTo:   now,
	}
	if err := s.payments.SaveBatch(ctx, []*fundingdomain.Payment{payment}); err != nil {
		return err
	}

	event := fundingdomain.FundingSettledEvent{
		PaymentID:  payment.PaymentID,
		PositionID: payment.PositionID,
		Owner:      payment.Owner,
		Symbol:     payment.Symbol,
		AmountUsd:  payment.AmountUsd.String(),
		Rate:       payment.Rate.String(),
		PeriodFrom: payment.PeriodFrom,
		PeriodTo:   payment.PeriodTo,
	}
	return s.publisher.Publish(ctx, s.topic, payment.Owner, fundingdomain.EventFundingSettled, event)
}

// PositionView 持仓视图，含按当前价标记的未实现盈亏
type PositionView struct {
	PositionID       string `json:"position_id"`
	Owner            string `json:"owner"`
	Asset            string `json:"asset"`
	Collateral       string `json:"collateral"`
	IsLong           bool   `json:"is_long"`
	SizeUsd          string `json:"size_usd"`
	Leverage         int64  `json:"leverage"`
	CollateralAmount string `json:"collateral_amount"`
	EntryPrice       string `json:"entry_price"`
	CurrentPrice     string `json:"current_price"`
	LiquidationPrice string `json:"liquidation_price"`
	TakeProfitPrice  string `json:"take_profit_price"`
	StopLossPrice    string `json:"stop_loss_price"`
	UnrealizedPnlUsd string `json:"unrealized_pnl_usd"`
	FundingAccrued   string `json:"funding_accrued"`
	OpenedAt         string `json:"opened_at"`
}

// GetPosition 查询单笔持仓并按新鲜价标记未实现盈亏
func (s *Service) GetPosition(ctx context.Context, owner, assetStr, collateralStr string) (*PositionView, error) {
	sym, err := asset.ParseTradable(assetStr)
	if err != nil {
		return nil, err
	}
	collatSym, err := asset.ParseCollateral(collateralStr)
	if err != nil {
		return nil, err
	}

	position, err := s.positions.GetByKey(ctx, owner, sym.String(), collatSym.String())
	if err != nil {
		return nil, err
	}
	currentPrice, err := s.oracle.FreshPrice(ctx, sym)
	if err != nil {
		return nil, err
	}

	view := newPositionView(position)
	view.CurrentPrice = fixedpoint.RawString(currentPrice, fixedpoint.PriceDecimals)
	view.UnrealizedPnlUsd = domain.SignedPnL(position.IsLong, position.EntryPrice, currentPrice, position.SizeUsd).String()
	return view, nil
}

// ListPositions 查询某地址的全部活跃持仓
func (s *Service) ListPositions(ctx context.Context, owner string) ([]*PositionView, error) {
	positions, err := s.positions.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	views := make([]*PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, newPositionView(p))
	}
	return views, nil
}

// ClosedPositionView 平仓留档视图
type ClosedPositionView struct {
	PositionID   string `json:"position_id"`
	Asset        string `json:"asset"`
	Collateral   string `json:"collateral"`
	IsLong       bool   `json:"is_long"`
	SizeUsd      string `json:"size_usd"`
	EntryPrice   string `json:"entry_price"`
	ExitPrice    string `json:"exit_price"`
	PnlUsd       string `json:"pnl_usd"`
	FundingUsd   string `json:"funding_usd"`
	CloseFeeUsd  string `json:"close_fee_usd"`
	PayoutAmount string `json:"payout_amount"`
	OpenedAt     string `json:"opened_at"`
	ClosedAt     string `json:"closed_at"`
}

// ListClosedPositions 查询某地址的平仓历史
func (s *Service) ListClosedPositions(ctx context.Context, owner string, limit int) ([]ClosedPositionView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	records, err := s.closed.ListByOwner(ctx, owner, limit)
	if err != nil {
		return nil, err
	}

	views := make([]ClosedPositionView, 0, len(records))
	for _, r := range records {
		views = append(views, ClosedPositionView{
			PositionID:   r.PositionID,
			Asset:        r.Asset,
			Collateral:   r.Collateral,
			IsLong:       r.IsLong,
			SizeUsd:      fixedpoint.RawString(r.SizeUsd, fixedpoint.PriceDecimals),
			EntryPrice:   fixedpoint.RawString(r.EntryPrice, fixedpoint.PriceDecimals),
			ExitPrice:    fixedpoint.RawString(r.ExitPrice, fixedpoint.PriceDecimals),
			PnlUsd:       r.PnlUsd.String(),
			FundingUsd:   r.FundingAccrued.String(),
			CloseFeeUsd:  fixedpoint.RawString(r.CloseFeeUsd, fixedpoint.PriceDecimals),
			PayoutAmount: r.PayoutAmount.String(),
			OpenedAt:     r.OpenedAt.UTC().Format(time.RFC3339),
			ClosedAt:     r.ClosedAt.UTC().Format(time.RFC3339),
		})
	}
	return views, nil
}

func newPositionView(p *domain.Position) *PositionView {
	return &PositionView{
		PositionID:       p.PositionID,
		Owner:            p.Owner,
		Asset:            p.Asset,
		Collateral:       p.Collateral,
		IsLong:           p.IsLong,
		SizeUsd:          fixedpoint.RawString(p.SizeUsd, fixedpoint.PriceDecimals),
		Leverage:         p.Leverage,
		CollateralAmount: p.CollateralAmount.String(),
		EntryPrice:       fixedpoint.RawString(p.EntryPrice, fixedpoint.PriceDecimals),
		LiquidationPrice: fixedpoint.RawString(p.LiquidationPrice, fixedpoint.PriceDecimals),
		TakeProfitPrice:  fixedpoint.RawString(p.TakeProfitPrice, fixedpoint.PriceDecimals),
		StopLossPrice:    fixedpoint.RawString(p.StopLossPrice, fixedpoint.PriceDecimals),
		FundingAccrued:   p.FundingAccrued.String(),
		OpenedAt:         p.OpenedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Service) observeState(market *marketdomain.Market, pool *pooldomain.LiquidityPool) {
	if s.metrics == nil {
		return
	}
	s.metrics.OpenInterest.WithLabelValues(market.Symbol, "long").Set(market.TotalLongSize.InexactFloat64())
	s.metrics.OpenInterest.WithLabelValues(market.Symbol, "short").Set(market.TotalShortSize.InexactFloat64())
	s.metrics.PoolBalance.WithLabelValues(pool.Collateral).Set(pool.TotalBalance.InexactFloat64())
}

// reportError 已知业务拒绝记 Warn 并计数，其余按内部故障记 Error
func (s *Service) reportError(ctx context.Context, op string, err error, fields ...any) {
	fields = append(fields, "error", err)
	if reason := rejectionReason(err); reason != "" {
		if s.metrics != nil {
			s.metrics.TradeRejectionsTotal.WithLabelValues(reason).Inc()
		}
		s.logger.WarnContext(ctx, op+" rejected", fields...)
		return
	}
	s.logger.ErrorContext(ctx, op+" failed", fields...)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientMargin):
		return "insufficient_margin"
	case errors.Is(err, pooldomain.ErrOpenInterestExceeded):
		return "open_interest_cap"
	case errors.Is(err, oracledomain.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, domain.ErrPositionExists):
		return "already_exists"
	case errors.Is(err, domain.ErrLiquidated):
		return "liquidated"
	case errors.Is(err, custodydomain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidTriggerPrice),
		errors.Is(err, asset.ErrUnknown),
		errors.Is(err, fixedpoint.ErrMalformed):
		return "invalid_argument"
	default:
		return ""
	}
}

func parseOptionalPrice(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return fixedpoint.ParseRaw(raw, fixedpoint.PriceDecimals)
}

func usdToUnits(usd, price decimal.Decimal, decimals int32) decimal.Decimal {
	return fixedpoint.ToRaw(usd.Div(price), decimals)
}
