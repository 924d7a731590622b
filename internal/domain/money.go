package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// AmountScale is the fixed number of fractional digits for movement amounts.
const AmountScale = 2

var (
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrAmountScale       = errors.New("amount must have at most two decimal places")
)

// ValidateAmount checks that amount is strictly positive and representable
// with two fractional digits.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return ErrAmountScale
	}
	return nil
}

// NormalizeAmount fixes the exponent of a validated amount to the ledger scale
// so equal values compare and serialize identically.
func NormalizeAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(AmountScale)
}

// FormatAmount renders an amount with exactly two fractional digits.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(AmountScale)
}
