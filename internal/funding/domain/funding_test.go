package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

const interval = 8 * time.Hour

// --- Payment direction tests ---

func TestComputeTraderPayment_LongPaysPositiveRate(t *testing.T) {
	got := ComputeTraderPayment(d(1000), d(0.001), true, interval, interval)
	if !got.Equal(d(-1)) {
		t.Errorf("long under positive rate should pay 1, got %s", got)
	}
}

func TestComputeTraderPayment_ShortReceivesPositiveRate(t *testing.T) {
	got := ComputeTraderPayment(d(1000), d(0.001), false, interval, interval)
	if !got.Equal(d(1)) {
		t.Errorf("short under positive rate should receive 1, got %s", got)
	}
}

func TestComputeTraderPayment_LongReceivesNegativeRate(t *testing.T) {
	got := ComputeTraderPayment(d(1000), d(-0.001), true, interval, interval)
	if !got.Equal(d(1)) {
		t.Errorf("long under negative rate should receive 1, got %s", got)
	}
}

func TestComputeTraderPayment_ShortPaysNegativeRate(t *testing.T) {
	got := ComputeTraderPayment(d(1000), d(-0.001), false, interval, interval)
	if !got.Equal(d(-1)) {
		t.Errorf("short under negative rate should pay 1, got %s", got)
	}
}

// --- Proration tests ---

func TestComputeTraderPayment_ProratesByElapsed(t *testing.T) {
	got := ComputeTraderPayment(d(1000), d(0.001), true, 4*time.Hour, interval)
	if !got.Equal(d(-0.5)) {
		t.Errorf("half interval should charge half, got %s", got)
	}
}

func TestComputeTraderPayment_OverdueChargesFullElapsed(t *testing.T) {
	got := ComputeTraderPayment(d(1000), d(0.001), true, 12*time.Hour, interval)
	if !got.Equal(d(-1.5)) {
		t.Errorf("overdue settlement should charge 1.5 intervals, got %s", got)
	}
}

// --- Degenerate input tests ---

func TestComputeTraderPayment_ZeroRate(t *testing.T) {
	got := ComputeTraderPayment(d(1000), decimal.Zero, true, interval, interval)
	if !got.IsZero() {
		t.Errorf("zero rate should yield zero payment, got %s", got)
	}
}

func TestComputeTraderPayment_ZeroElapsed(t *testing.T) {
	got := ComputeTraderPayment(d(1000), d(0.001), true, 0, interval)
	if !got.IsZero() {
		t.Errorf("zero elapsed should yield zero payment, got %s", got)
	}
}

func TestComputeTraderPayment_TruncatesToPriceScale(t *testing.T) {
	// 0.003 * 0.000000001 = 3e-12, truncated to 8 decimals is zero
	got := ComputeTraderPayment(d(0.003), d(0.000000001), true, interval, interval)
	if !got.IsZero() {
		t.Errorf("sub-cent dust should truncate to zero, got %s", got)
	}
}

func TestComputeTraderPayment_TruncationDropsNinthDecimal(t *testing.T) {
	// 123.456789 * 0.001 = 0.123456789, truncated to 0.12345678
	got := ComputeTraderPayment(d(123.456789), d(0.001), false, interval, interval)
	if !got.Equal(d(0.12345678)) {
		t.Errorf("expected 0.12345678, got %s", got)
	}
}
