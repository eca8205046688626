package math

import (
	"errors"
	"math/big"
	"sync"
)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10_000

// DefaultBaseUnit is the price denominator used when a book does not set one:
// a price is quote units per 1e9 base units.
const DefaultBaseUnit int64 = 1_000_000_000

// ErrOverflow is returned when a result does not fit an int64 amount.
var ErrOverflow = errors.New("numerical overflow")

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow.
// The result comes from the pool; release it with Release.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// Release returns an intermediate to the pool.
func Release(v *big.Int) {
	putInt128(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// DivideInt128 performs numerator / denominator with rounding. Operands are
// non-negative amounts; ErrOverflow is returned if the quotient leaves int64.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) (int64, error) {
	if denominator <= 0 {
		return 0, errors.New("non-positive denominator")
	}
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	quotient.QuoRem(numerator, denom, remainder)

	switch roundingMode {
	case RoundHalfEven:
		// remainder*2 vs denominator
		twice := getInt128()
		twice.Lsh(remainder, 1)
		cmp := twice.Cmp(denom)
		putInt128(twice)
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, big.NewInt(1))
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			quotient.Add(quotient, big.NewInt(1))
		}
	case RoundDown:
	}

	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	return quotient.Int64(), nil
}

// QuoteAmount converts a base amount at a price into quote units:
// matched * price / baseUnit, rounded down so escrow is never over-drawn.
func QuoteAmount(matched, price, baseUnit int64) (int64, error) {
	if baseUnit <= 0 {
		baseUnit = DefaultBaseUnit
	}
	product := MultiplyInt128(matched, price)
	defer putInt128(product)
	return DivideInt128(product, baseUnit, RoundDown)
}

// FeeAmount is quote * feeBps / 10000, rounded down.
func FeeAmount(quote int64, feeBps uint16) (int64, error) {
	if feeBps == 0 || quote == 0 {
		return 0, nil
	}
	product := MultiplyInt128(quote, int64(feeBps))
	defer putInt128(product)
	return DivideInt128(product, BpsDenominator, RoundDown)
}

// ComputeAvgPrice returns the volume weighted average price of fills,
// with banker's rounding. Zero volume yields zero.
func ComputeAvgPrice(quantities, prices []int64) (int64, error) {
	num := getInt128()
	defer putInt128(num)
	var volume int64
	for i := range quantities {
		term := MultiplyInt128(quantities[i], prices[i])
		num.Add(num, term)
		putInt128(term)
		volume += quantities[i]
		if volume < 0 {
			return 0, ErrOverflow
		}
	}
	if volume == 0 {
		return 0, nil
	}
	return DivideInt128(num, volume, RoundHalfEven)
}

// AddChecked adds two non-negative amounts, failing instead of wrapping.
func AddChecked(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrOverflow
	}
	return s, nil
}
