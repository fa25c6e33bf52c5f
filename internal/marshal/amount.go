package marshal

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"
)

// Decimals is the number of fractional digits of every fungible asset:
// one whole unit is 10^8 minor units.
const Decimals = 8

// Amount is a non-negative count of minor units at arbitrary precision.
// The zero value is zero. Amounts are immutable; arithmetic returns new values.
type Amount struct {
	v *big.Int
}

// NewAmount validates and copies a minor-unit count.
func NewAmount(minor *big.Int) (Amount, error) {
	if minor == nil {
		return Amount{}, invalid("amount is required")
	}
	if minor.Sign() < 0 {
		return Amount{}, invalid("amount must not be negative: %s", minor.String())
	}
	return Amount{v: new(big.Int).Set(minor)}, nil
}

// AmountFromUint64 returns an amount of n minor units.
func AmountFromUint64(n uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(n)}
}

// ParseAmount parses a display string with Decimals fractional digits.
func ParseAmount(s string) (Amount, error) {
	minor, err := Parse(s, Decimals)
	if err != nil {
		return Amount{}, err
	}
	return Amount{v: minor}, nil
}

func (a Amount) int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// BigInt returns a copy of the minor-unit count.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(a.int())
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.int().Sign() == 0
}

// Cmp compares a and b.
func (a Amount) Cmp(b Amount) int {
	return a.int().Cmp(b.int())
}

// Equal reports whether a and b hold the same count.
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.int(), b.int())}
}

// Sub returns a-b, or a VALIDATION error when b exceeds a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Cmp(b) < 0 {
		return Amount{}, invalid("amount %s is smaller than %s", a.String(), b.String())
	}
	return Amount{v: new(big.Int).Sub(a.int(), b.int())}, nil
}

// String returns the minor-unit count in base 10.
func (a Amount) String() string {
	return a.int().String()
}

// Display formats the amount in whole units with Decimals precision.
func (a Amount) Display() string {
	return Format(a.int(), Decimals)
}

// Sum adds amounts at full precision.
func Sum(amounts ...Amount) Amount {
	total := new(big.Int)
	for _, a := range amounts {
		total.Add(total, a.int())
	}
	return Amount{v: total}
}

// Format renders minor units as a decimal string, dividing by 10^decimals
// and trimming trailing zero fractional digits.
func Format(minor *big.Int, decimals int) string {
	if minor == nil {
		minor = new(big.Int)
	}
	return decimal.NewFromBigInt(minor, -int32(decimals)).String()
}

// Parse converts a decimal display string into minor units. It rejects
// signs, exponents, empty parts and more than decimals fractional digits.
func Parse(s string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, invalid("decimals must not be negative")
	}
	whole, frac, hasPoint := strings.Cut(s, ".")
	if whole == "" || !isDigits(whole) {
		return nil, invalid("amount %q is not a decimal number", s)
	}
	if hasPoint && (frac == "" || !isDigits(frac)) {
		return nil, invalid("amount %q is not a decimal number", s)
	}
	if len(frac) > decimals {
		return nil, invalid("amount %q has more than %d fractional digits", s, decimals)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, invalid("amount %q is not a decimal number", s)
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}

// EncodeAmount encodes an amount as a nat.
func EncodeAmount(a Amount) (*structpb.Value, error) {
	return EncodeNat(a.int())
}

// DecodeAmount decodes a nat as an amount.
func DecodeAmount(v *structpb.Value) (Amount, error) {
	n, err := DecodeNat(v)
	if err != nil {
		return Amount{}, err
	}
	return Amount{v: n}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
