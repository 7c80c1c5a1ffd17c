package minimizer

import (
	"fmt"
	"math"
)

// Bound is an optional box constraint on one parameter.
type Bound struct {
	Low     float64
	High    float64
	HasLow  bool
	HasHigh bool
}

// Unbounded returns a Bound with neither side set.
func Unbounded() Bound { return Bound{} }

// Between returns a Bound constraining a parameter to [low, high].
func Between(low, high float64) Bound {
	return Bound{Low: low, High: high, HasLow: true, HasHigh: true}
}

// AtLeast returns a Bound with only a lower side.
func AtLeast(low float64) Bound { return Bound{Low: low, HasLow: true} }

// AtMost returns a Bound with only an upper side.
func AtMost(high float64) Bound { return Bound{High: high, HasHigh: true} }

// Validate reports a configuration error when both sides are set and cross,
// or when a set side is NaN.
func (b Bound) Validate() error {
	if (b.HasLow && math.IsNaN(b.Low)) || (b.HasHigh && math.IsNaN(b.High)) {
		return fmt.Errorf("bound has NaN side: %w", ErrConfiguration)
	}
	if b.HasLow && b.HasHigh && b.Low > b.High {
		return fmt.Errorf("bound low %g > high %g: %w", b.Low, b.High, ErrConfiguration)
	}
	return nil
}

// Clamp moves x onto the nearest side it crosses.
func (b Bound) Clamp(x float64) float64 {
	if b.HasLow && x < b.Low {
		return b.Low
	}
	if b.HasHigh && x > b.High {
		return b.High
	}
	return x
}

// Contains reports whether x satisfies the bound.
func (b Bound) Contains(x float64) bool {
	if b.HasLow && x < b.Low {
		return false
	}
	if b.HasHigh && x > b.High {
		return false
	}
	return true
}

func (b Bound) String() string {
	lo, hi := "-inf", "+inf"
	if b.HasLow {
		lo = fmt.Sprintf("%g", b.Low)
	}
	if b.HasHigh {
		hi = fmt.Sprintf("%g", b.High)
	}
	return "[" + lo + ", " + hi + "]"
}
