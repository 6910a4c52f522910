package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Share math tests ---

func TestDeposit_EmptyPoolMintsOneToOne(t *testing.T) {
	p := NewLiquidityPool("USDC")
	shares, err := p.Deposit(d(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shares.Equal(d(1000)) {
		t.Errorf("expected 1000 shares for first deposit, got %s", shares)
	}
	if !p.SharePrice().Equal(d(1)) {
		t.Errorf("expected share price 1, got %s", p.SharePrice())
	}
}

func TestDeposit_ProportionalAfterGrowth(t *testing.T) {
	p := NewLiquidityPool("USDC")
	if _, err := p.Deposit(d(1000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// trader loss grows the pool without minting shares
	p.CreditLoss(d(100))

	shares, err := p.Deposit(d(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1000 * 1000 / 1100 = 909.09 floored to 909
	if !shares.Equal(d(909)) {
		t.Errorf("expected 909 shares, got %s", shares)
	}
	if !p.TotalBalance.Equal(d(2100)) {
		t.Errorf("expected balance 2100, got %s", p.TotalBalance)
	}
	if !p.TotalLpShares.Equal(d(1909)) {
		t.Errorf("expected 1909 total shares, got %s", p.TotalLpShares)
	}
}

func TestSharePrice_EmptyPoolIsOne(t *testing.T) {
	p := NewLiquidityPool("USDC")
	if !p.SharePrice().Equal(d(1)) {
		t.Errorf("expected share price 1 for empty pool, got %s", p.SharePrice())
	}
}

func TestDeposit_RejectsNonPositive(t *testing.T) {
	p := NewLiquidityPool("USDC")
	if _, err := p.Deposit(decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := p.Deposit(d(-10)); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

func TestDeposit_TooSmallToMint(t *testing.T) {
	p := &LiquidityPool{
		Collateral:    "USDC",
		TotalBalance:  d(1000),
		TotalLpShares: d(1),
	}
	// 999 * 1 / 1000 floors to zero shares
	if _, err := p.Deposit(d(999)); !errors.Is(err, ErrDepositTooSmall) {
		t.Errorf("expected ErrDepositTooSmall, got %v", err)
	}
	if !p.TotalBalance.Equal(d(1000)) {
		t.Errorf("rejected deposit must not change balance, got %s", p.TotalBalance)
	}
}

func TestRedeem_ProportionalPayout(t *testing.T) {
	p := NewLiquidityPool("USDC")
	if _, err := p.Deposit(d(1000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.CreditLoss(d(100))

	// 500 * 1100 / 1000 = 550
	payout, err := p.Redeem(d(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !payout.Equal(d(550)) {
		t.Errorf("expected payout 550, got %s", payout)
	}
	if !p.TotalBalance.Equal(d(550)) {
		t.Errorf("expected balance 550, got %s", p.TotalBalance)
	}
	if !p.TotalLpShares.Equal(d(500)) {
		t.Errorf("expected 500 shares left, got %s", p.TotalLpShares)
	}
}

func TestRedeem_FullRoundTrip(t *testing.T) {
	p := NewLiquidityPool("USDC")
	shares, err := p.Deposit(d(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payout, err := p.Redeem(shares)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !payout.Equal(d(1000)) {
		t.Errorf("expected full deposit back, got %s", payout)
	}
	if !p.TotalBalance.IsZero() || !p.TotalLpShares.IsZero() {
		t.Errorf("expected drained pool, balance=%s shares=%s", p.TotalBalance, p.TotalLpShares)
	}
}

func TestRedeem_MoreThanTotalShares(t *testing.T) {
	p := NewLiquidityPool("USDC")
	if _, err := p.Deposit(d(1000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Redeem(d(1001)); !errors.Is(err, ErrInsufficientLPBalance) {
		t.Errorf("expected ErrInsufficientLPBalance, got %v", err)
	}
}

// --- Open interest admission tests ---

func TestAdmitOpenInterest_WithinCap(t *testing.T) {
	p := NewLiquidityPool("USDC")
	p.TotalOpenInterest = d(9500)
	if err := p.AdmitOpenInterest(d(500), d(10000)); err != nil {
		t.Errorf("admission at exact cap should pass, got %v", err)
	}
	if !p.TotalOpenInterest.Equal(d(10000)) {
		t.Errorf("expected OI 10000, got %s", p.TotalOpenInterest)
	}
}

func TestAdmitOpenInterest_ExceedsCap(t *testing.T) {
	p := NewLiquidityPool("USDC")
	p.TotalOpenInterest = d(9500)
	if err := p.AdmitOpenInterest(d(600), d(10000)); !errors.Is(err, ErrOpenInterestExceeded) {
		t.Errorf("expected ErrOpenInterestExceeded, got %v", err)
	}
	if !p.TotalOpenInterest.Equal(d(9500)) {
		t.Errorf("rejected admission must not change OI, got %s", p.TotalOpenInterest)
	}
}

func TestReleaseOpenInterest_Underflow(t *testing.T) {
	p := NewLiquidityPool("USDC")
	p.TotalOpenInterest = d(100)
	if err := p.ReleaseOpenInterest(d(200)); err == nil {
		t.Error("expected underflow error")
	}
}

// --- Settlement balance tests ---

func TestDebitPayout_ClampsAtBalance(t *testing.T) {
	p := NewLiquidityPool("USDC")
	p.TotalBalance = d(100)

	paid := p.DebitPayout(d(150))
	if !paid.Equal(d(100)) {
		t.Errorf("expected payout clamped to 100, got %s", paid)
	}
	if !p.TotalBalance.IsZero() {
		t.Errorf("expected drained balance, got %s", p.TotalBalance)
	}
}

func TestDebitPayout_FullAmountWhenCovered(t *testing.T) {
	p := NewLiquidityPool("USDC")
	p.TotalBalance = d(1000)

	paid := p.DebitPayout(d(150))
	if !paid.Equal(d(150)) {
		t.Errorf("expected full payout 150, got %s", paid)
	}
	if !p.TotalBalance.Equal(d(850)) {
		t.Errorf("expected balance 850, got %s", p.TotalBalance)
	}
}

func TestCreditFeesAndLoss(t *testing.T) {
	p := NewLiquidityPool("USDC")
	p.CreditFees(d(5))
	p.CreditLoss(d(95))
	if !p.TotalBalance.Equal(d(100)) {
		t.Errorf("expected balance 100, got %s", p.TotalBalance)
	}
	if !p.TotalLpShares.IsZero() {
		t.Errorf("credits must not mint shares, got %s", p.TotalLpShares)
	}
}

// --- Provider share tests ---

func TestProviderShare_AddAndBurn(t *testing.T) {
	s := NewProviderShare("USDC", "0xprovider")
	s.Add(d(1000))
	if err := s.Burn(d(400)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Shares.Equal(d(600)) {
		t.Errorf("expected 600 shares, got %s", s.Shares)
	}
}

func TestProviderShare_BurnMoreThanHeld(t *testing.T) {
	s := NewProviderShare("USDC", "0xprovider")
	s.Add(d(100))
	if err := s.Burn(d(101)); !errors.Is(err, ErrInsufficientLPBalance) {
		t.Errorf("expected ErrInsufficientLPBalance, got %v", err)
	}
}
