package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateAmount(t *testing.T) {
	cases := []struct {
		name string
		in   string
		err  error
	}{
		{name: "whole", in: "100", err: nil},
		{name: "cents", in: "10.55", err: nil},
		{name: "trailing_zeros", in: "10.500", err: nil},
		{name: "zero", in: "0", err: ErrNonPositiveAmount},
		{name: "negative", in: "-5.00", err: ErrNonPositiveAmount},
		{name: "sub_cent", in: "0.001", err: ErrAmountScale},
		{name: "three_places", in: "12.345", err: ErrAmountScale},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tc.in))
			assert.ErrorIs(t, err, tc.err)
			if tc.err == nil {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeAndFormatAmount(t *testing.T) {
	d := NormalizeAmount(decimal.RequireFromString("10.5"))
	assert.Equal(t, "10.50", FormatAmount(d))
	assert.True(t, d.Equal(decimal.NewFromFloat(10.5)))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusCompleted))
	assert.True(t, CanTransition("pending", "failed"))
	assert.False(t, CanTransition(StatusCompleted, StatusFailed))
	assert.False(t, CanTransition(StatusFailed, StatusPending))
	assert.False(t, CanTransition(StatusPending, StatusPending))
	assert.False(t, CanTransition("UNKNOWN", StatusCompleted))
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(StatusPending))
	assert.True(t, IsTerminal(StatusCompleted))
	assert.True(t, IsTerminal(StatusFailed))
}
