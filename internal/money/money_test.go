package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantizePrice(t *testing.T) {
	tests := []struct {
		name        string
		price       float64
		tick        float64
		expected    float64
		shouldError bool
	}{
		{name: "rounds down to tick", price: 100.123, tick: 0.01, expected: 100.12},
		{name: "half rounds up", price: 100.125, tick: 0.01, expected: 100.13},
		{name: "rounds up to tick", price: 100.128, tick: 0.01, expected: 100.13},
		{name: "exact multiple unchanged", price: 100.12, tick: 0.01, expected: 100.12},
		{name: "coarse tick", price: 23451.7, tick: 0.5, expected: 23451.5},
		{name: "sub-cent tick", price: 0.0812345, tick: 0.0001, expected: 0.0812},
		{name: "zero tick rejected", price: 100, tick: 0, shouldError: true},
		{name: "negative tick rejected", price: 100, tick: -0.01, shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QuantizePrice(tt.price, tt.tick)
			if tt.shouldError {
				assert.ErrorIs(t, err, ErrInvalidTick)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuantizeQty(t *testing.T) {
	tests := []struct {
		name        string
		qty         float64
		step        float64
		expected    float64
		shouldError bool
	}{
		{name: "truncates down", qty: 0.1299, step: 0.001, expected: 0.129},
		{name: "never rounds up", qty: 0.12999, step: 0.001, expected: 0.129},
		{name: "exact multiple unchanged", qty: 0.3, step: 0.1, expected: 0.3},
		{name: "below one step is zero", qty: 0.0004, step: 0.001, expected: 0},
		{name: "integer step", qty: 17.9, step: 1, expected: 17},
		{name: "zero step rejected", qty: 1, step: 0, shouldError: true},
		{name: "negative step rejected", qty: 1, step: -1, shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QuantizeQty(tt.qty, tt.step)
			if tt.shouldError {
				assert.ErrorIs(t, err, ErrInvalidStep)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCeilQty(t *testing.T) {
	tests := []struct {
		name        string
		qty         float64
		step        float64
		expected    float64
		shouldError bool
	}{
		{name: "rounds up", qty: 0.1291, step: 0.001, expected: 0.13},
		{name: "exact multiple unchanged", qty: 0.129, step: 0.001, expected: 0.129},
		{name: "below one step becomes one step", qty: 0.0004, step: 0.001, expected: 0.001},
		{name: "zero step rejected", qty: 1, step: 0, shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CeilQty(tt.qty, tt.step)
			if tt.shouldError {
				assert.ErrorIs(t, err, ErrInvalidStep)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNotional(t *testing.T) {
	// 0.1*3 accumulates error in plain float64 arithmetic
	assert.Equal(t, 0.3, Notional(0.1, 3))
	assert.Equal(t, 25.0, Notional(0.5, 50))
	assert.Equal(t, 0.0, Notional(0, 100))
}

func TestRoundCurrency(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		expected float64
	}{
		{name: "two decimals kept", amount: 10.12, expected: 10.12},
		{name: "half rounds away from zero", amount: 10.005, expected: 10.01},
		{name: "negative half rounds away", amount: -10.005, expected: -10.01},
		{name: "truncates noise", amount: 99.99999999, expected: 100.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RoundCurrency(tt.amount))
		})
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.2346, Round(1.23456789, 4))
	assert.Equal(t, 0.123457, Round(0.123456789, 6))
	assert.Equal(t, 100.0, Round(99.99999, 3))
}
