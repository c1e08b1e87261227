// Package units holds the decimal helpers used for gas and token math.
// Nothing here touches float64: every amount is a decimal.Decimal or *big.Int.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits kept by divisions.
const Precision int32 = 36

// EthDecimals is the decimals count of the native asset.
const EthDecimals = 18

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
	gwei    = decimal.New(1, 9)
)

// CalcTokenAmount converts a minimal-unit amount to a decimal amount.
func CalcTokenAmount(value decimal.Decimal, decimals int) decimal.Decimal {
	if decimals <= 0 {
		return value
	}
	return value.Shift(int32(-decimals))
}

// ToMinimalUnits is the inverse of CalcTokenAmount, truncated to an integer.
func ToMinimalUnits(amount decimal.Decimal, decimals int) decimal.Decimal {
	return amount.Shift(int32(decimals)).Truncate(0)
}

// Div divides with Precision fractional digits.
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, Precision)
}

// Mean returns the arithmetic mean of values. Empty input yields zero.
func Mean(values ...decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return Div(sum, decimal.NewFromInt(int64(len(values))))
}

// Midpoint is (a+b)/2.
func Midpoint(a, b decimal.Decimal) decimal.Decimal {
	return Div(a.Add(b), two)
}

// Percent returns p/100.
func Percent(p decimal.Decimal) decimal.Decimal {
	return Div(p, hundred)
}

// Fixed18 rounds to 18 fractional digits, the resolution of wei.
func Fixed18(d decimal.Decimal) decimal.Decimal {
	return d.Round(EthDecimals)
}

// GweiToWei converts a gwei decimal string such as "41.5" to wei.
func GweiToWei(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse gwei %q: %w", s, err)
	}
	return d.Mul(gwei).Truncate(0), nil
}

// ParseQuantity accepts "0x"-prefixed hex or base-10 integer strings.
func ParseQuantity(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		h := s[2:]
		if h == "" {
			return decimal.Zero, nil
		}
		bi, ok := new(big.Int).SetString(h, 16)
		if !ok {
			return decimal.Zero, fmt.Errorf("bad hex quantity %q", s)
		}
		return decimal.NewFromBigInt(bi, 0), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad quantity %q: %w", s, err)
	}
	return d, nil
}

// BigInt returns the integer part of d, or zero for negative input.
func BigInt(d decimal.Decimal) *big.Int {
	if d.Sign() <= 0 {
		return new(big.Int)
	}
	return d.Truncate(0).BigInt()
}
