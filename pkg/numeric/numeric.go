// Package numeric implements checked 256-bit arithmetic and the
// deterministic factor-application primitive used throughout trade math.
package numeric

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("numeric: overflow")
	ErrDivisionByZero = errors.New("numeric: division by zero")
	ErrNegative       = errors.New("numeric: negative result")
	ErrInvalidFactor  = errors.New("numeric: factor must be in [0, 1)")
)

// factorDecimals fixes the precision of the rational decomposition used by
// ApplyFactor so that the same float64 always yields the same integer
// result regardless of platform.
const factorDecimals = 18

var factorDen = uint256.NewInt(1_000_000_000_000_000_000) // 10^18

// CheckedAdd returns a+b, or ErrOverflow if the sum does not fit in 256 bits.
func CheckedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// CheckedSub returns a-b, or ErrNegative if b > a.
func CheckedSub(a, b *uint256.Int) (*uint256.Int, error) {
	if a.Lt(b) {
		return nil, ErrNegative
	}
	return new(uint256.Int).Sub(a, b), nil
}

// CheckedMul returns a*b, or ErrOverflow if the product does not fit in 256
// bits.
func CheckedMul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// CheckedDiv returns a/b (truncating), or ErrDivisionByZero if b is zero.
func CheckedDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

// CeilDiv returns ceil(a/b) = (a+b-1)/b, checked for overflow and division
// by zero. This matches the rounding the settlement contract uses when it
// derives executed buy amounts from executed sell amounts.
func CeilDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	if a.IsZero() {
		return uint256.NewInt(0), nil
	}
	numerator, err := CheckedAdd(a, b)
	if err != nil {
		return nil, err
	}
	one := uint256.NewInt(1)
	numerator, err = CheckedSub(numerator, one)
	if err != nil {
		return nil, err
	}
	return CheckedDiv(numerator, b)
}

// DecomposeFactor turns a float64 in [0, 1) into a deterministic rational
// (num, den) with den = 10^18, so that ApplyFactor yields identical results
// across platforms regardless of floating point environment.
func DecomposeFactor(f float64) (num, den *uint256.Int, err error) {
	if math.IsNaN(f) || f < 0 || f >= 1 {
		return nil, nil, ErrInvalidFactor
	}
	scaled := math.Floor(f * 1e18)
	if scaled < 0 || scaled > math.MaxInt64 {
		return nil, nil, ErrInvalidFactor
	}
	return uint256.NewInt(uint64(scaled)), factorDen, nil
}

// ApplyFactor computes floor(amount * f) using the deterministic rational
// decomposition of f, checked for overflow.
func ApplyFactor(amount *uint256.Int, f float64) (*uint256.Int, error) {
	num, den, err := DecomposeFactor(f)
	if err != nil {
		return nil, err
	}
	product, err := CheckedMul(amount, num)
	if err != nil {
		return nil, err
	}
	return CheckedDiv(product, den)
}

// ApplyFactorRational is like ApplyFactor but takes an already-decomposed
// possibly-greater-than-one factor expressed as num/den, used by the
// surplus/volume fee rescaling formulas (factor/(1-factor) can exceed 1).
func ApplyFactorRational(amount, num, den *uint256.Int) (*uint256.Int, error) {
	product, err := CheckedMul(amount, num)
	if err != nil {
		return nil, err
	}
	return CheckedDiv(product, den)
}

// ApplyRescaledFactor applies a non-negative factor that is not necessarily
// < 1 (e.g. factor/(1-factor) from the fee-rescaling derivations in
// trademath, which can legitimately exceed 1 for factor > 0.5). It uses the
// same fixed 10^18 precision as ApplyFactor.
func ApplyRescaledFactor(amount *uint256.Int, f float64) (*uint256.Int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil, ErrInvalidFactor
	}
	scaled := math.Floor(f * 1e18)
	if scaled < 0 || scaled > math.MaxInt64 {
		return nil, ErrOverflow
	}
	num := uint256.NewInt(uint64(scaled))
	return ApplyFactorRational(amount, num, factorDen)
}
