package collaboration

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFeeCalculatorSplit(t *testing.T) {
	calc := DefaultFeeCalculator()

	cases := []struct {
		amount string
		fee    string
		payout string
	}{
		{"1000.00", "100.00", "900.00"},
		{"33.33", "3.33", "30.00"},
		{"0.05", "0.01", "0.04"},
		{"0.01", "0.00", "0.01"},
		{"19.99", "2.00", "17.99"},
	}
	for _, tc := range cases {
		t.Run(tc.amount, func(t *testing.T) {
			split, err := calc.Split(decimal.RequireFromString(tc.amount))
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			if !split.PlatformFee.Equal(decimal.RequireFromString(tc.fee)) {
				t.Errorf("fee = %s, want %s", split.PlatformFee, tc.fee)
			}
			if !split.InfluencerPayout.Equal(decimal.RequireFromString(tc.payout)) {
				t.Errorf("payout = %s, want %s", split.InfluencerPayout, tc.payout)
			}
		})
	}
}

func TestFeeCalculatorSumsExactly(t *testing.T) {
	calc := DefaultFeeCalculator()
	for cents := int64(1); cents <= 20000; cents++ {
		amount := decimal.New(cents, -2)
		split, err := calc.Split(amount)
		if err != nil {
			t.Fatalf("Split(%s): %v", amount, err)
		}
		if !split.PlatformFee.Add(split.InfluencerPayout).Equal(amount) {
			t.Fatalf("%s: fee %s + payout %s != amount", amount, split.PlatformFee, split.InfluencerPayout)
		}
		if split.PlatformFee.IsNegative() || split.InfluencerPayout.IsNegative() {
			t.Fatalf("%s: negative component", amount)
		}
	}
}

func TestFeeCalculatorRejectsInvalidAmounts(t *testing.T) {
	calc := DefaultFeeCalculator()
	for _, raw := range []string{"0", "-10.00", "10.001"} {
		if _, err := calc.Split(decimal.RequireFromString(raw)); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Split(%s) err = %v, want ErrInvalidAmount", raw, err)
		}
	}
}

func TestNewFeeCalculatorRange(t *testing.T) {
	if _, err := NewFeeCalculator(decimal.RequireFromString("1")); err == nil {
		t.Fatal("expected rate 1 to be rejected")
	}
	if _, err := NewFeeCalculator(decimal.RequireFromString("-0.1")); err == nil {
		t.Fatal("expected negative rate to be rejected")
	}
	calc, err := NewFeeCalculator(decimal.RequireFromString("0.15"))
	if err != nil {
		t.Fatalf("NewFeeCalculator: %v", err)
	}
	split, err := calc.Split(decimal.RequireFromString("200.00"))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !split.PlatformFee.Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("fee = %s, want 30.00", split.PlatformFee)
	}
}
