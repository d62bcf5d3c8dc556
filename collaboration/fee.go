package collaboration

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCommissionRate is the platform's share of every agreed amount.
var DefaultCommissionRate = decimal.RequireFromString("0.10")

// FeeSplit divides an agreed amount between the platform and the influencer.
// PlatformFee + InfluencerPayout == Amount exactly.
type FeeSplit struct {
	Amount           decimal.Decimal
	PlatformFee      decimal.Decimal
	InfluencerPayout decimal.Decimal
}

// FeeCalculator applies a fixed commission rate.
type FeeCalculator struct {
	rate decimal.Decimal
}

// NewFeeCalculator builds a calculator for rate, which must be in [0, 1).
func NewFeeCalculator(rate decimal.Decimal) (FeeCalculator, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return FeeCalculator{}, fmt.Errorf("collaboration: commission rate %s out of range", rate)
	}
	return FeeCalculator{rate: rate}, nil
}

// DefaultFeeCalculator uses DefaultCommissionRate.
func DefaultFeeCalculator() FeeCalculator {
	return FeeCalculator{rate: DefaultCommissionRate}
}

// Rate returns the configured commission rate.
func (c FeeCalculator) Rate() decimal.Decimal { return c.rate }

// Split computes fee = round(amount * rate, 2) and payout = amount - fee.
// Amounts must be positive and carry at most two decimal places.
func (c FeeCalculator) Split(amount decimal.Decimal) (FeeSplit, error) {
	if !amount.IsPositive() {
		return FeeSplit{}, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, amount)
	}
	if !amount.Equal(amount.Round(2)) {
		return FeeSplit{}, fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, amount)
	}
	fee := amount.Mul(c.rate).Round(2)
	return FeeSplit{
		Amount:           amount,
		PlatformFee:      fee,
		InfluencerPayout: amount.Sub(fee),
	}, nil
}
