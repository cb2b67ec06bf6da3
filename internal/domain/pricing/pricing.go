// Package pricing computes laundry order prices.
//
// All functions are pure and operate on exact decimals. Rounding to cents
// happens only in Display and MinorUnits so that combined computations never
// accumulate rounding error.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// PricePerKg is the wash-and-fold rate.
	PricePerKg = decimal.RequireFromString("4.19")
	// MinimumCharge is the floor applied to the weight component.
	MinimumCharge = decimal.RequireFromString("38.00")
	// FirstTimeRate is the multiplier applied to the weight component for
	// first-time customers (20% off).
	FirstTimeRate = decimal.RequireFromString("0.8")
	// BlanketPrice is the flat price per blanket.
	BlanketPrice = decimal.RequireFromString("15.00")
	// PillowPrice is the flat price per pillow.
	PillowPrice = decimal.RequireFromString("7.00")
)

// Upper bounds of a single booking. The largest total they allow stays far
// below MaxMinorUnits.
var (
	MaxWeight = decimal.NewFromInt(1000)
	MaxItems  = 500
)

// MaxMinorUnits is the largest amount, in cents, a checkout session accepts.
const MaxMinorUnits = 99_999_999

var (
	// ErrNegativeInput is returned by Validate for negative weight or counts.
	ErrNegativeInput = errors.New("weight and item counts must not be negative")
	// ErrInputTooLarge is returned by Validate for weight or counts above
	// the booking limits.
	ErrInputTooLarge = errors.New("weight or item count exceeds the booking limit")
	// ErrAmountOutOfRange is returned by MinorUnits for amounts a checkout
	// session cannot carry.
	ErrAmountOutOfRange = errors.New("amount out of range")
)

// Validate rejects inputs the engine must never see. Callers run it before
// any pricing function; the engine itself does not clamp.
func Validate(weight decimal.Decimal, blankets, pillows int) error {
	if weight.IsNegative() || blankets < 0 || pillows < 0 {
		return ErrNegativeInput
	}
	if weight.GreaterThan(MaxWeight) || blankets > MaxItems || pillows > MaxItems {
		return ErrInputTooLarge
	}
	return nil
}

// ByWeight returns max(weight*4.19, 38.00), discounted by 20% for first-time
// customers.
func ByWeight(weight decimal.Decimal, firstTime bool) decimal.Decimal {
	price := decimal.Max(weight.Mul(PricePerKg), MinimumCharge)
	if firstTime {
		price = price.Mul(FirstTimeRate)
	}
	return price
}

// SpecialItems prices items charged per piece. No discount applies.
func SpecialItems(blankets, pillows int) decimal.Decimal {
	b := BlanketPrice.Mul(decimal.NewFromInt(int64(blankets)))
	p := PillowPrice.Mul(decimal.NewFromInt(int64(pillows)))
	return b.Add(p)
}

// Total is the full order price. The first-time discount only touches the
// weight component.
func Total(weight decimal.Decimal, blankets, pillows int, firstTime bool) decimal.Decimal {
	return ByWeight(weight, firstTime).Add(SpecialItems(blankets, pillows))
}

// Breakdown itemizes a price for display.
type Breakdown struct {
	WeightCharge decimal.Decimal // before discount
	Discount     decimal.Decimal
	SpecialItems decimal.Decimal
	Total        decimal.Decimal
	FirstTime    bool
}

// Quote computes the itemized price for the given inputs.
func Quote(weight decimal.Decimal, blankets, pillows int, firstTime bool) Breakdown {
	full := ByWeight(weight, false)
	charged := ByWeight(weight, firstTime)
	special := SpecialItems(blankets, pillows)
	return Breakdown{
		WeightCharge: full,
		Discount:     full.Sub(charged),
		SpecialItems: special,
		Total:        charged.Add(special),
		FirstTime:    firstTime,
	}
}

// Display formats a price with currency precision.
func Display(price decimal.Decimal) string {
	return price.StringFixed(2)
}

// MinorUnits converts a price to cents, rounding half away from zero.
// Negative amounts and amounts above MaxMinorUnits are rejected.
func MinorUnits(price decimal.Decimal) (int64, error) {
	cents := price.Round(2).Shift(2)
	if cents.IsNegative() || cents.GreaterThan(decimal.NewFromInt(MaxMinorUnits)) {
		return 0, errors.Wrapf(ErrAmountOutOfRange, "%s", Display(price))
	}
	return cents.IntPart(), nil
}
