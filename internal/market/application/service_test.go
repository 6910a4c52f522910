package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	"github.com/hemanthK-supraoracles/perpetuals/internal/market/application"
	"github.com/hemanthK-supraoracles/perpetuals/internal/market/domain"
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

type fakeMarkets struct {
	bySymbol map[string]*domain.Market
}

func (f *fakeMarkets) Create(_ context.Context, m *domain.Market) error {
	f.bySymbol[m.Symbol] = m
	return nil
}

func (f *fakeMarkets) GetBySymbol(_ context.Context, symbol string) (*domain.Market, error) {
	m, ok := f.bySymbol[symbol]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return m, nil
}

func (f *fakeMarkets) GetBySymbolForUpdate(ctx context.Context, symbol string) (*domain.Market, error) {
	return f.GetBySymbol(ctx, symbol)
}

func (f *fakeMarkets) Save(_ context.Context, _ *domain.Market) error { return nil }

func (f *fakeMarkets) ListSymbols(_ context.Context) ([]string, error) {
	var out []string
	for s := range f.bySymbol {
		out = append(out, s)
	}
	return out, nil
}

type recordedRate struct {
	Symbol string
	Rate   decimal.Decimal
}

type fakeRates struct {
	recorded []recordedRate
}

func (f *fakeRates) RecordRate(_ context.Context, symbol string, rate, _, _ decimal.Decimal, _ time.Time) error {
	f.recorded = append(f.recorded, recordedRate{Symbol: symbol, Rate: rate})
	return nil
}

// --- Test environment ---

type env struct {
	svc     *application.Service
	markets *fakeMarkets
	rates   *fakeRates
}

func newTestEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		markets: &fakeMarkets{bySymbol: make(map[string]*domain.Market)},
		rates:   &fakeRates{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.svc = application.NewService(
		e.markets, e.rates, nil, fakeTx{},
		[]string{"0xadmin"}, domain.DefaultFundingParams(), logger)
	return e
}

func initCmd() application.InitializeMarketCmd {
	return application.InitializeMarketCmd{
		Caller:  "0xadmin",
		Symbol:  "BTC",
		SpotRaw: "5000000000000", // 50000.00000000
		PerpRaw: "5000000000000",
	}
}

// --- Initialize tests ---

func TestInitializeMarket(t *testing.T) {
	e := newTestEnv(t)
	if err := e.svc.InitializeMarket(context.Background(), initCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := e.markets.bySymbol["BTC"]
	if !ok {
		t.Fatal("market not created")
	}
	if !m.SpotPrice.Equal(d(50000)) || !m.PerpPrice.Equal(d(50000)) {
		t.Errorf("unexpected prices: spot=%s perp=%s", m.SpotPrice, m.PerpPrice)
	}
	// equal prices carry the base rate
	if !m.FundingRate.Equal(d(0.0001)) {
		t.Errorf("expected initial base rate 0.0001, got %s", m.FundingRate)
	}
	if len(e.rates.recorded) != 1 {
		t.Fatalf("expected one rate record, got %d", len(e.rates.recorded))
	}
	if !e.rates.recorded[0].Rate.Equal(d(0.0001)) {
		t.Errorf("expected recorded rate 0.0001, got %s", e.rates.recorded[0].Rate)
	}
}

func TestInitializeMarket_NonAdmin(t *testing.T) {
	e := newTestEnv(t)
	cmd := initCmd()
	cmd.Caller = "0xstranger"
	if err := e.svc.InitializeMarket(context.Background(), cmd); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestInitializeMarket_Duplicate(t *testing.T) {
	e := newTestEnv(t)
	if err := e.svc.InitializeMarket(context.Background(), initCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.svc.InitializeMarket(context.Background(), initCmd()); !errors.Is(err, domain.ErrMarketExists) {
		t.Errorf("expected ErrMarketExists, got %v", err)
	}
}

func TestInitializeMarket_ZeroPrice(t *testing.T) {
	e := newTestEnv(t)
	cmd := initCmd()
	cmd.SpotRaw = "0"
	if err := e.svc.InitializeMarket(context.Background(), cmd); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestInitializeMarket_UnknownSymbol(t *testing.T) {
	e := newTestEnv(t)
	cmd := initCmd()
	cmd.Symbol = "DOGE"
	if err := e.svc.InitializeMarket(context.Background(), cmd); !errors.Is(err, asset.ErrUnknown) {
		t.Errorf("expected ErrUnknown, got %v", err)
	}
}

// --- Price update tests ---

func TestUpdatePrices_NoRefreshWithinInterval(t *testing.T) {
	e := newTestEnv(t)
	if err := e.svc.InitializeMarket(context.Background(), initCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recordsAfterInit := len(e.rates.recorded)

	err := e.svc.UpdatePrices(context.Background(), application.UpdatePricesCmd{
		Caller:  "0xadmin",
		Symbol:  "BTC",
		SpotRaw: "5000000000000",
		PerpRaw: "5015000000000", // 50150, premium 0.003
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := e.markets.bySymbol["BTC"]
	if !m.PerpPrice.Equal(d(50150)) {
		t.Errorf("expected perp price stored, got %s", m.PerpPrice)
	}
	if !m.FundingRate.Equal(d(0.0001)) {
		t.Errorf("rate must not refresh within the interval, got %s", m.FundingRate)
	}
	if len(e.rates.recorded) != recordsAfterInit {
		t.Errorf("no new rate record expected, got %d", len(e.rates.recorded))
	}
}

func TestUpdatePrices_RefreshesDueRate(t *testing.T) {
	e := newTestEnv(t)
	if err := e.svc.InitializeMarket(context.Background(), initCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := e.markets.bySymbol["BTC"]
	m.LastFundingUpdate = time.Now().Add(-9 * time.Hour)

	err := e.svc.UpdatePrices(context.Background(), application.UpdatePricesCmd{
		Caller:  "0xadmin",
		Symbol:  "BTC",
		SpotRaw: "5000000000000",
		PerpRaw: "5015000000000",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// premium 150/50000 = 0.003 caps the rate at 0.001
	if !m.FundingRate.Equal(d(0.001)) {
		t.Errorf("expected capped rate 0.001, got %s", m.FundingRate)
	}
	last := e.rates.recorded[len(e.rates.recorded)-1]
	if !last.Rate.Equal(d(0.001)) {
		t.Errorf("expected recorded rate 0.001, got %s", last.Rate)
	}
}

func TestUpdatePrices_NonAdmin(t *testing.T) {
	e := newTestEnv(t)
	if err := e.svc.InitializeMarket(context.Background(), initCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := e.svc.UpdatePrices(context.Background(), application.UpdatePricesCmd{
		Caller:  "0xstranger",
		Symbol:  "BTC",
		SpotRaw: "5000000000000",
		PerpRaw: "5015000000000",
	})
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

// --- View tests ---

func TestGetMarketStats(t *testing.T) {
	e := newTestEnv(t)
	if err := e.svc.InitializeMarket(context.Background(), initCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := e.svc.GetMarketStats(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.SpotPrice != "5000000000000" {
		t.Errorf("expected raw spot 5000000000000, got %s", stats.SpotPrice)
	}
	if stats.FundingSign != string(domain.FundingSignPositive) {
		t.Errorf("expected positive sign, got %s", stats.FundingSign)
	}
	if stats.TotalLongSize != "0" {
		t.Errorf("expected zero long size, got %s", stats.TotalLongSize)
	}
}

func TestGetFundingRate(t *testing.T) {
	e := newTestEnv(t)
	if err := e.svc.InitializeMarket(context.Background(), initCmd()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := e.markets.bySymbol["BTC"]
	m.FundingRate = d(-0.001)

	view, err := e.svc.GetFundingRate(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.RateUnits != 1000 {
		t.Errorf("expected 1000 precision units, got %d", view.RateUnits)
	}
	if view.Sign != string(domain.FundingSignNegative) {
		t.Errorf("expected negative sign, got %s", view.Sign)
	}
	if view.Rate != "-0.001" {
		t.Errorf("expected signed rate -0.001, got %s", view.Rate)
	}
}

func TestGetMarketStats_NotFound(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.svc.GetMarketStats(context.Background(), "BTC"); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}
}
