// Package money provides exact decimal arithmetic for prices, quantities
// and currency amounts. Values cross package boundaries as float64; the
// decimal conversions stay inside these helpers.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

func init() {
	decimal.DivisionPrecision = 28
}

var (
	// ErrInvalidTick indicates a non-positive price increment
	ErrInvalidTick = errors.New("tick size must be positive")

	// ErrInvalidStep indicates a non-positive quantity increment
	ErrInvalidStep = errors.New("step size must be positive")
)

// QuantizePrice rounds a price to the nearest tick, half away from zero.
func QuantizePrice(price, tick float64) (float64, error) {
	if tick <= 0 {
		return 0, ErrInvalidTick
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	steps := p.Div(t).Round(0)
	return steps.Mul(t).InexactFloat64(), nil
}

// QuantizeQty truncates a quantity down to a whole number of steps. Sizing
// must never round exposure up.
func QuantizeQty(qty, step float64) (float64, error) {
	if step <= 0 {
		return 0, ErrInvalidStep
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	steps := q.Div(s).Floor()
	return steps.Mul(s).InexactFloat64(), nil
}

// CeilQty rounds a quantity up to a whole number of steps. Only the order
// builder's minimum bump uses this; regular sizing always rounds down.
func CeilQty(qty, step float64) (float64, error) {
	if step <= 0 {
		return 0, ErrInvalidStep
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	steps := q.Div(s).Ceil()
	return steps.Mul(s).InexactFloat64(), nil
}

// Notional returns qty*price without float accumulation error.
func Notional(qty, price float64) float64 {
	return decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price)).InexactFloat64()
}

// RoundCurrency rounds a currency amount to 2 decimals, half away from zero.
func RoundCurrency(amount float64) float64 {
	return decimal.NewFromFloat(amount).Round(2).InexactFloat64()
}

// Round rounds to the given number of decimal places, half away from zero.
// Decision traces use 4 places for prices and scores, 6 for sizes.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
