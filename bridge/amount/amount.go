package amount

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrZeroResult is returned when a nonzero amount would be scaled down to nothing.
	ErrZeroResult = errors.New("converted amount rounds to zero")
	// ErrInvalidAmount is returned for negative or fractional amounts.
	ErrInvalidAmount = errors.New("amount must be a non-negative integer")
	// ErrAmountOverflow is returned for amounts that do not fit into 128 bits.
	ErrAmountOverflow = errors.New("amount overflows uint128")
)

// MaxUint128 is the largest amount a packet may carry.
var MaxUint128 = decimal.NewFromBigInt(
	new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)),
	0,
)

// Parse reads a base-10 integer amount and validates it.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Validate checks that d is an unsigned integer below 2^128.
func Validate(d decimal.Decimal) error {
	if d.Sign() < 0 || !d.IsInteger() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, d.String())
	}
	if d.GreaterThan(MaxUint128) {
		return fmt.Errorf("%w: %s", ErrAmountOverflow, d.String())
	}
	return nil
}

// FromUint64 converts a uint64 into an integer decimal.
func FromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// ConvertRemoteToLocal scales an amount expressed with remoteDecimals into
// localDecimals, i.e. floor(amount * 10^local / 10^remote).
func ConvertRemoteToLocal(amount decimal.Decimal, remoteDecimals, localDecimals uint8) (decimal.Decimal, error) {
	return rescale(amount, int32(localDecimals)-int32(remoteDecimals))
}

// ConvertLocalToRemote is the inverse of ConvertRemoteToLocal.
func ConvertLocalToRemote(amount decimal.Decimal, remoteDecimals, localDecimals uint8) (decimal.Decimal, error) {
	return rescale(amount, int32(remoteDecimals)-int32(localDecimals))
}

func rescale(amount decimal.Decimal, exp int32) (decimal.Decimal, error) {
	if err := Validate(amount); err != nil {
		return decimal.Zero, err
	}
	out := amount.Shift(exp).Truncate(0)
	if out.IsZero() && !amount.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s shifted by %d", ErrZeroResult, amount.String(), exp)
	}
	return out, nil
}

// Ratio is a fee fraction applied to an amount.
type Ratio struct {
	Numerator   uint64 `json:"nominator" toml:"nominator"`
	Denominator uint64 `json:"denominator" toml:"denominator"`
}

// DeductFee returns floor(amount * numerator / denominator).
// A zero denominator means no fee.
func DeductFee(r Ratio, amount decimal.Decimal) decimal.Decimal {
	if r.Denominator == 0 {
		return decimal.Zero
	}
	q, _ := amount.Mul(FromUint64(r.Numerator)).QuoRem(FromUint64(r.Denominator), 0)
	return q
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
