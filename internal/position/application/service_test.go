package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	custodydomain "github.com/hemanthK-supraoracles/perpetuals/internal/custody/domain"
	fundingdomain "github.com/hemanthK-supraoracles/perpetuals/internal/funding/domain"
	marketdomain "github.com/hemanthK-supraoracles/perpetuals/internal/market/domain"
	oracledomain "github.com/hemanthK-supraoracles/perpetuals/internal/oracle/domain"
	pooldomain "github.com/hemanthK-supraoracles/perpetuals/internal/pool/domain"
	"github.com/hemanthK-supraoracles/perpetuals/internal/position/application"
	"github.com/hemanthK-supraoracles/perpetuals/internal/position/domain"
	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- In-memory fakes ---

type fakeTx struct{}

func (fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakePositions struct {
	byKey map[string]*domain.Position
}

func newFakePositions() *fakePositions {
	return &fakePositions{byKey: make(map[string]*domain.Position)}
}

func posKey(owner, assetSymbol, collateralSymbol string) string {
	return owner + "/" + assetSymbol + "/" + collateralSymbol
}

func (f *fakePositions) Create(_ context.Context, p *domain.Position) error {
	k := posKey(p.Owner, p.Asset, p.Collateral)
	if _, ok := f.byKey[k]; ok {
		return domain.ErrPositionExists
	}
	f.byKey[k] = p
	return nil
}

func (f *fakePositions) GetByKey(_ context.Context, owner, assetSymbol, collateralSymbol string) (*domain.Position, error) {
	p, ok := f.byKey[posKey(owner, assetSymbol, collateralSymbol)]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	return p, nil
}

func (f *fakePositions) Remove(_ context.Context, owner, assetSymbol, collateralSymbol string) (*domain.Position, error) {
	k := posKey(owner, assetSymbol, collateralSymbol)
	p, ok := f.byKey[k]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	delete(f.byKey, k)
	return p, nil
}

func (f *fakePositions) Save(_ context.Context, p *domain.Position) error {
	f.byKey[posKey(p.Owner, p.Asset, p.Collateral)] = p
	return nil
}

func (f *fakePositions) ListDueFunding(_ context.Context, _ string, _ time.Time, _ int) ([]*domain.Position, error) {
	return nil, nil
}

func (f *fakePositions) ListByOwner(_ context.Context, owner string) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, p := range f.byKey {
		if p.Owner == owner {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePositions) CountActive(_ context.Context) (int64, error) {
	return int64(len(f.byKey)), nil
}

type fakeClosed struct {
	records []*domain.ClosedPosition
}

func (f *fakeClosed) Record(_ context.Context, c *domain.ClosedPosition) error {
	f.records = append(f.records, c)
	return nil
}

func (f *fakeClosed) ListByOwner(_ context.Context, owner string, _ int) ([]*domain.ClosedPosition, error) {
	var out []*domain.ClosedPosition
	for _, c := range f.records {
		if c.Owner == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeMarkets struct {
	bySymbol map[string]*marketdomain.Market
}

func (f *fakeMarkets) Create(_ context.Context, m *marketdomain.Market) error {
	f.bySymbol[m.Symbol] = m
	return nil
}

func (f *fakeMarkets) GetBySymbol(_ context.Context, symbol string) (*marketdomain.Market, error) {
	m, ok := f.bySymbol[symbol]
	if !ok {
		return nil, marketdomain.ErrMarketNotFound
	}
	return m, nil
}

func (f *fakeMarkets) GetBySymbolForUpdate(ctx context.Context, symbol string) (*marketdomain.Market, error) {
	return f.GetBySymbol(ctx, symbol)
}

func (f *fakeMarkets) Save(_ context.Context, _ *marketdomain.Market) error { return nil }

func (f *fakeMarkets) ListSymbols(_ context.Context) ([]string, error) {
	var out []string
	for s := range f.bySymbol {
		out = append(out, s)
	}
	return out, nil
}

type fakePools struct {
	byCollateral map[string]*pooldomain.LiquidityPool
}

func (f *fakePools) Create(_ context.Context, p *pooldomain.LiquidityPool) error {
	f.byCollateral[p.Collateral] = p
	return nil
}

func (f *fakePools) GetByCollateral(_ context.Context, collateral string) (*pooldomain.LiquidityPool, error) {
	p, ok := f.byCollateral[collateral]
	if !ok {
		return nil, pooldomain.ErrPoolNotFound
	}
	return p, nil
}

func (f *fakePools) GetByCollateralForUpdate(ctx context.Context, collateral string) (*pooldomain.LiquidityPool, error) {
	return f.GetByCollateral(ctx, collateral)
}

func (f *fakePools) Save(_ context.Context, _ *pooldomain.LiquidityPool) error { return nil }

type fakePayments struct {
	saved []*fundingdomain.Payment
}

func (f *fakePayments) SaveBatch(_ context.Context, payments []*fundingdomain.Payment) error {
	f.saved = append(f.saved, payments...)
	return nil
}

func (f *fakePayments) ListByOwner(_ context.Context, _ string, _ int) ([]*fundingdomain.Payment, error) {
	return f.saved, nil
}

func (f *fakePayments) ListByPosition(_ context.Context, _ string, _ int) ([]*fundingdomain.Payment, error) {
	return f.saved, nil
}

type transferRecord struct {
	From   string
	To     string
	Asset  string
	Amount decimal.Decimal
	Reason string
}

type fakeCustody struct {
	transfers []transferRecord
}

func (f *fakeCustody) Transfer(_ context.Context, from, to string, sym asset.Symbol, amount decimal.Decimal, reason string) error {
	f.transfers = append(f.transfers, transferRecord{
		From: from, To: to, Asset: sym.String(), Amount: amount, Reason: reason,
	})
	return nil
}

type fakeOracle struct {
	prices map[asset.Symbol]decimal.Decimal
	stale  bool
}

func (f *fakeOracle) FreshPrice(_ context.Context, sym asset.Symbol) (decimal.Decimal, error) {
	if f.stale {
		return decimal.Zero, oracledomain.ErrStalePrice
	}
	price, ok := f.prices[sym]
	if !ok {
		return decimal.Zero, oracledomain.ErrQuoteNotFound
	}
	return price, nil
}

type publishedEvent struct {
	Topic     string
	Key       string
	EventType string
}

type fakePublisher struct {
	events []publishedEvent
}

func (f *fakePublisher) Publish(_ context.Context, topic, key, eventType string, _ interface{}) error {
	f.events = append(f.events, publishedEvent{Topic: topic, Key: key, EventType: eventType})
	return nil
}

// --- Test environment ---

type env struct {
	svc       *application.Service
	positions *fakePositions
	closed    *fakeClosed
	markets   *fakeMarkets
	pools     *fakePools
	payments  *fakePayments
	custody   *fakeCustody
	oracle    *fakeOracle
	publisher *fakePublisher
}

func newTestEnv(t *testing.T) *env {
	t.Helper()

	params := marketdomain.DefaultFundingParams()
	market := marketdomain.NewMarket("BTC", d(50000), d(50000), time.Now(), params)
	pool := pooldomain.NewLiquidityPool("USDC")
	// 2000 USDC of seeded liquidity in raw units
	pool.TotalBalance = d(2000000000)
	pool.TotalLpShares = d(2000000000)

	e := &env{
		positions: newFakePositions(),
		closed:    &fakeClosed{},
		markets:   &fakeMarkets{bySymbol: map[string]*marketdomain.Market{"BTC": market}},
		pools:     &fakePools{byCollateral: map[string]*pooldomain.LiquidityPool{"USDC": pool}},
		payments:  &fakePayments{},
		custody:   &fakeCustody{},
		oracle: &fakeOracle{prices: map[asset.Symbol]decimal.Decimal{
			asset.BTC:  d(50000),
			asset.USDC: d(1),
		}},
		publisher: &fakePublisher{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.svc = application.NewService(
		e.positions, e.closed, e.markets, e.pools, e.payments,
		e.custody, e.oracle, e.publisher, fakeTx{},
		domain.DefaultFeeSchedule(), params, 50, "perpetuals.events", nil, logger)
	return e
}

// openCmd builds a valid command: 1000 USD long BTC at 10x
// backed by 200 USDC of collateral.
func openCmd() application.OpenPositionCmd {
	return application.OpenPositionCmd{
		Owner:         "0xtrader",
		Asset:         "BTC",
		Collateral:    "USDC",
		IsLong:        true,
		SizeUsdRaw:    "100000000000",
		Leverage:      10,
		CollateralRaw: "200000000",
	}
}

func closeCmd() application.ClosePositionCmd {
	return application.ClosePositionCmd{Owner: "0xtrader", Asset: "BTC", Collateral: "USDC"}
}

// --- Open tests ---

func TestOpenPosition_Success(t *testing.T) {
	e := newTestEnv(t)

	result, err := e.svc.OpenPosition(context.Background(), openCmd())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.EntryPrice != "5000000000000" {
		t.Errorf("expected entry 5000000000000, got %s", result.EntryPrice)
	}
	// max loss = 200 - 5 = 195, offset = 195*50000/1000 = 9750, liq = 40250
	if result.LiquidationPrice != "4025000000000" {
		t.Errorf("expected liquidation 4025000000000, got %s", result.LiquidationPrice)
	}
	if result.OpenFeeUsd != "500000000" {
		t.Errorf("expected open fee 5 USD, got %s", result.OpenFeeUsd)
	}

	p, err := e.positions.GetByKey(context.Background(), "0xtrader", "BTC", "USDC")
	if err != nil {
		t.Fatalf("position not stored: %v", err)
	}
	if !p.SizeUsd.Equal(d(1000)) || p.Leverage != 10 || !p.IsLong {
		t.Errorf("unexpected position state: size=%s leverage=%d long=%v", p.SizeUsd, p.Leverage, p.IsLong)
	}
	if !p.FundingAccrued.IsZero() {
		t.Errorf("new position must start without accrued funding, got %s", p.FundingAccrued)
	}

	if len(e.custody.transfers) != 2 {
		t.Fatalf("expected 2 custody transfers, got %d", len(e.custody.transfers))
	}
	escrow := e.custody.transfers[0]
	if escrow.To != custodydomain.EscrowAddress || !escrow.Amount.Equal(d(200000000)) {
		t.Errorf("unexpected escrow transfer: %+v", escrow)
	}
	fee := e.custody.transfers[1]
	if fee.To != "sys.pool.USDC" || !fee.Amount.Equal(d(5000000)) {
		t.Errorf("unexpected fee transfer: %+v", fee)
	}

	pool := e.pools.byCollateral["USDC"]
	if !pool.TotalOpenInterest.Equal(d(1000)) {
		t.Errorf("expected pool OI 1000, got %s", pool.TotalOpenInterest)
	}
	if !pool.TotalBalance.Equal(d(2005000000)) {
		t.Errorf("expected fee credited to pool, got %s", pool.TotalBalance)
	}
	if !e.markets.bySymbol["BTC"].TotalLongSize.Equal(d(1000)) {
		t.Errorf("expected market long OI 1000, got %s", e.markets.bySymbol["BTC"].TotalLongSize)
	}

	if len(e.publisher.events) != 1 || e.publisher.events[0].EventType != domain.EventPositionOpened {
		t.Errorf("expected one PositionOpened event, got %+v", e.publisher.events)
	}
}

func TestOpenPosition_Duplicate(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.svc.OpenPosition(context.Background(), openCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := e.svc.OpenPosition(context.Background(), openCmd())
	if !errors.Is(err, domain.ErrPositionExists) {
		t.Errorf("expected ErrPositionExists, got %v", err)
	}
}

func TestOpenPosition_InsufficientMargin(t *testing.T) {
	e := newTestEnv(t)
	cmd := openCmd()
	// 100 USDC at 10x covers only 1000 USD, ask for 1500
	cmd.CollateralRaw = "100000000"
	cmd.SizeUsdRaw = "150000000000"

	_, err := e.svc.OpenPosition(context.Background(), cmd)
	if !errors.Is(err, domain.ErrInsufficientMargin) {
		t.Errorf("expected ErrInsufficientMargin, got %v", err)
	}
	if len(e.custody.transfers) != 0 {
		t.Errorf("rejected open must not move funds, got %d transfers", len(e.custody.transfers))
	}
}

func TestOpenPosition_OpenInterestCap(t *testing.T) {
	e := newTestEnv(t)
	// pool holds 500 USDC, cannot back a 1000 USD position
	e.pools.byCollateral["USDC"].TotalBalance = d(500000000)

	_, err := e.svc.OpenPosition(context.Background(), openCmd())
	if !errors.Is(err, pooldomain.ErrOpenInterestExceeded) {
		t.Errorf("expected ErrOpenInterestExceeded, got %v", err)
	}
}

func TestOpenPosition_StalePrice(t *testing.T) {
	e := newTestEnv(t)
	e.oracle.stale = true

	_, err := e.svc.OpenPosition(context.Background(), openCmd())
	if !errors.Is(err, oracledomain.ErrStalePrice) {
		t.Errorf("expected ErrStalePrice, got %v", err)
	}
}

func TestOpenPosition_InvalidLeverage(t *testing.T) {
	e := newTestEnv(t)
	cmd := openCmd()
	cmd.Leverage = 51

	_, err := e.svc.OpenPosition(context.Background(), cmd)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestOpenPosition_TriggerOnWrongSide(t *testing.T) {
	e := newTestEnv(t)
	cmd := openCmd()
	// take profit below entry on a long
	cmd.TakeProfitRaw = "4900000000000"

	_, err := e.svc.OpenPosition(context.Background(), cmd)
	if !errors.Is(err, domain.ErrInvalidTriggerPrice) {
		t.Errorf("expected ErrInvalidTriggerPrice, got %v", err)
	}
}

// --- Close tests ---

func TestClosePosition_Profit(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.svc.OpenPosition(context.Background(), openCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.oracle.prices[asset.BTC] = d(55000)

	result, err := e.svc.ClosePosition(context.Background(), closeCmd())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.PnlUsd != "100" {
		t.Errorf("expected pnl 100, got %s", result.PnlUsd)
	}
	// payout = 200 USDC collateral + (100 - 5) USD of pnl net of fee
	if result.Payout != "295000000" {
		t.Errorf("expected payout 295000000, got %s", result.Payout)
	}
	if result.PoolShortfall != "0" {
		t.Errorf("expected no shortfall, got %s", result.PoolShortfall)
	}

	if _, err := e.positions.GetByKey(context.Background(), "0xtrader", "BTC", "USDC"); !errors.Is(err, domain.ErrPositionNotFound) {
		t.Errorf("position should be removed after close, got %v", err)
	}
	if len(e.closed.records) != 1 {
		t.Fatalf("expected one history record, got %d", len(e.closed.records))
	}
	if !e.closed.records[0].PnlUsd.Equal(d(100)) {
		t.Errorf("history pnl mismatch: %s", e.closed.records[0].PnlUsd)
	}

	pool := e.pools.byCollateral["USDC"]
	// 2000 seed + 5 open fee - 95 payout = 1910 USDC
	if !pool.TotalBalance.Equal(d(1910000000)) {
		t.Errorf("expected pool balance 1910000000, got %s", pool.TotalBalance)
	}
	if !pool.TotalOpenInterest.IsZero() {
		t.Errorf("expected pool OI drained, got %s", pool.TotalOpenInterest)
	}
	if !e.markets.bySymbol["BTC"].TotalLongSize.IsZero() {
		t.Errorf("expected market OI drained, got %s", e.markets.bySymbol["BTC"].TotalLongSize)
	}
}

func TestClosePosition_Loss(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.svc.OpenPosition(context.Background(), openCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.oracle.prices[asset.BTC] = d(45000)

	result, err := e.svc.ClosePosition(context.Background(), closeCmd())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.PnlUsd != "-100" {
		t.Errorf("expected pnl -100, got %s", result.PnlUsd)
	}
	// 200 USDC collateral minus 105 USDC of loss and fee
	if result.Payout != "95000000" {
		t.Errorf("expected payout 95000000, got %s", result.Payout)
	}

	pool := e.pools.byCollateral["USDC"]
	// 2000 seed + 5 open fee + 105 charge = 2110 USDC
	if !pool.TotalBalance.Equal(d(2110000000)) {
		t.Errorf("expected pool balance 2110000000, got %s", pool.TotalBalance)
	}
}

func TestClosePosition_AtEntryChargesOnlyFee(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.svc.OpenPosition(context.Background(), openCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := e.svc.ClosePosition(context.Background(), closeCmd())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.PnlUsd != "0" {
		t.Errorf("expected zero pnl, got %s", result.PnlUsd)
	}
	// collateral back minus the 5 USD close fee
	if result.Payout != "195000000" {
		t.Errorf("expected payout 195000000, got %s", result.Payout)
	}
}

func TestClosePosition_LiquidatedWhenLossExceedsCollateral(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.svc.OpenPosition(context.Background(), openCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// loss = 1000 * 10000/50000 = 200 > 195 of collateral net of fee
	e.oracle.prices[asset.BTC] = d(40000)

	_, err := e.svc.ClosePosition(context.Background(), closeCmd())
	if !errors.Is(err, domain.ErrLiquidated) {
		t.Errorf("expected ErrLiquidated, got %v", err)
	}
}

func TestClosePosition_ExactlyAtLiquidationBoundary(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.svc.OpenPosition(context.Background(), openCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// loss = 1000 * 9750/50000 = 195, exactly the collateral net of fee
	e.oracle.prices[asset.BTC] = d(40250)

	result, err := e.svc.ClosePosition(context.Background(), closeCmd())
	if err != nil {
		t.Fatalf("boundary close should settle, got %v", err)
	}
	if result.Payout != "0" {
		t.Errorf("expected zero payout at boundary, got %s", result.Payout)
	}
}

func TestClosePosition_PoolShortfall(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.svc.OpenPosition(context.Background(), openCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// drain the pool below the owed payout
	e.pools.byCollateral["USDC"].TotalBalance = d(50000000)
	e.oracle.prices[asset.BTC] = d(55000)

	result, err := e.svc.ClosePosition(context.Background(), closeCmd())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// owed 95 USDC, pool held 50
	if result.PoolShortfall != "45000000" {
		t.Errorf("expected shortfall 45000000, got %s", result.PoolShortfall)
	}
	if result.Payout != "250000000" {
		t.Errorf("expected payout 250000000, got %s", result.Payout)
	}
	if !e.pools.byCollateral["USDC"].TotalBalance.IsZero() {
		t.Errorf("expected pool drained, got %s", e.pools.byCollateral["USDC"].TotalBalance)
	}
}

func TestClosePosition_SettlesDueFunding(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.svc.OpenPosition(context.Background(), openCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := e.positions.GetByKey(context.Background(), "0xtrader", "BTC", "USDC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.LastFundingSettlement = time.Now().Add(-8 * time.Hour)
	e.markets.bySymbol["BTC"].FundingRate = d(0.001)

	result, err := e.svc.ClosePosition(context.Background(), closeCmd())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// long pays 1000 * 0.001 over one full interval
	if result.FundingUsd != "-1" {
		t.Errorf("expected funding -1, got %s", result.FundingUsd)
	}
	// collateral 200 minus 5 fee minus 1 funding
	if result.Payout != "194000000" {
		t.Errorf("expected payout 194000000, got %s", result.Payout)
	}
	if len(e.payments.saved) != 1 {
		t.Fatalf("expected one funding payment, got %d", len(e.payments.saved))
	}
	if !e.payments.saved[0].AmountUsd.Equal(d(-1)) {
		t.Errorf("expected payment -1, got %s", e.payments.saved[0].AmountUsd)
	}

	var sawFunding bool
	for _, ev := range e.publisher.events {
		if ev.EventType == fundingdomain.EventFundingSettled {
			sawFunding = true
		}
	}
	if !sawFunding {
		t.Error("expected FundingSettled event")
	}
}

func TestClosePosition_NotFound(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.svc.ClosePosition(context.Background(), closeCmd())
	if !errors.Is(err, domain.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

// --- View tests ---

func TestGetPosition_MarksUnrealizedPnl(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.svc.OpenPosition(context.Background(), openCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.oracle.prices[asset.BTC] = d(55000)

	view, err := e.svc.GetPosition(context.Background(), "0xtrader", "BTC", "USDC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.UnrealizedPnlUsd != "100" {
		t.Errorf("expected unrealized pnl 100, got %s", view.UnrealizedPnlUsd)
	}
	if view.CurrentPrice != "5500000000000" {
		t.Errorf("expected current price 5500000000000, got %s", view.CurrentPrice)
	}
}

func TestListClosedPositions(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.svc.OpenPosition(context.Background(), openCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.svc.ClosePosition(context.Background(), closeCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	views, err := e.svc.ListClosedPositions(context.Background(), "0xtrader", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected one record, got %d", len(views))
	}
	if views[0].Asset != "BTC" || views[0].Collateral != "USDC" {
		t.Errorf("unexpected record: %+v", views[0])
	}
}
