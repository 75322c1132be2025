// Package amount implements the fixed-point money/quantity type shared by
// every component that touches prices, quantities, cash, or fees.
package amount

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// Decimals is the number of fractional decimal digits: an Amount is a
// signed integer in units of 10^-Decimals.
const (
	Decimals = 8
)

var scaleBig = big.NewInt(100_000_000)
var bpsBig = big.NewInt(10_000)

// Amount is an exact signed fixed-point number with 8 decimal digits.
// The zero value is zero.
type Amount struct {
	v *big.Int
}

// InvalidAmount is returned when a decimal string cannot be parsed.
type InvalidAmount struct {
	Input string
	Cause string
}

func (e *InvalidAmount) Error() string {
	return fmt.Sprintf("invalid amount %q: %s", e.Input, e.Cause)
}

// Zero is the additive identity.
func Zero() Amount { return Amount{v: big.NewInt(0)} }

// FromRaw constructs an Amount directly from its 10^-8 integer units.
func FromRaw(units int64) Amount { return Amount{v: big.NewInt(units)} }

var bigIntPool = sync.Pool{New: func() interface{} { return new(big.Int) }}

func get() *big.Int  { return bigIntPool.Get().(*big.Int) }
func put(v *big.Int) { v.SetInt64(0); bigIntPool.Put(v) }

func (a Amount) big() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return a.v
}

// Parse reads a decimal string ("123.45000000", "-1", "0.1") into an Amount.
// It rejects more than 8 fractional digits or any non-numeric content.
func Parse(s string) (Amount, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, &InvalidAmount{Input: orig, Cause: "empty"}
	}

	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}
	if s == "" {
		return Amount{}, &InvalidAmount{Input: orig, Cause: "no digits"}
	}

	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	if hasFrac {
		if len(fracPart) > Decimals {
			return Amount{}, &InvalidAmount{Input: orig, Cause: "more than 8 fractional digits"}
		}
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isAllDigits(intPart) || (hasFrac && !isAllDigits(fracPart)) {
		return Amount{}, &InvalidAmount{Input: orig, Cause: "non-numeric"}
	}

	fracPart = fracPart + strings.Repeat("0", Decimals-len(fracPart))

	combined := intPart + fracPart
	v, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return Amount{}, &InvalidAmount{Input: orig, Cause: "malformed digits"}
	}
	if neg {
		v.Neg(v)
	}
	return Amount{v: v}, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String formats the Amount as a fixed 8-decimal-digit string.
func (a Amount) String() string {
	v := a.big()
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	digits := abs.String()
	for len(digits) <= Decimals {
		digits = "0" + digits
	}
	intPart := digits[:len(digits)-Decimals]
	fracPart := digits[len(digits)-Decimals:]

	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%s", sign, intPart, fracPart)
}

// Raw returns the underlying 10^-8 integer units, when they fit in an int64.
// Panics if the value overflows int64 — callers dealing with values this
// large should use the big.Int-backed operations directly.
func (a Amount) Raw() int64 {
	if !a.big().IsInt64() {
		panic(fmt.Sprintf("amount %s overflows int64", a.String()))
	}
	return a.big().Int64()
}

// Float64 renders an approximate value for metrics and logging. Never use
// it for anything that feeds back into deterministic state.
func (a Amount) Float64() float64 {
	f := new(big.Float).SetInt(a.big())
	f.Quo(f, new(big.Float).SetInt(scaleBig))
	out, _ := f.Float64()
	return out
}

func (a Amount) Add(b Amount) Amount {
	r := new(big.Int).Add(a.big(), b.big())
	return Amount{v: r}
}

func (a Amount) Sub(b Amount) Amount {
	r := new(big.Int).Sub(a.big(), b.big())
	return Amount{v: r}
}

func (a Amount) Neg() Amount {
	return Amount{v: new(big.Int).Neg(a.big())}
}

// Mul computes (a*b)/10^8, truncating toward zero — price*quantity semantics.
func (a Amount) Mul(b Amount) Amount {
	prod := get()
	prod.Mul(a.big(), b.big())
	q := truncDiv(prod, scaleBig)
	put(prod)
	return Amount{v: q}
}

// Div computes (a*10^8)/b, truncating toward zero.
func (a Amount) Div(b Amount) Amount {
	num := get()
	num.Mul(a.big(), scaleBig)
	q := truncDiv(num, b.big())
	put(num)
	return Amount{v: q}
}

// MulBps computes (a*bps)/10000, truncating toward zero.
func (a Amount) MulBps(bps int64) Amount {
	num := get()
	num.Mul(a.big(), big.NewInt(bps))
	q := truncDiv(num, bpsBig)
	put(num)
	return Amount{v: q}
}

// truncDiv divides num/den truncating toward zero (Go's big.Int.Quo already
// truncates toward zero, unlike DivMod/Div which floor).
func truncDiv(num, den *big.Int) *big.Int {
	q := new(big.Int)
	q.Quo(num, den)
	return q
}

func (a Amount) Cmp(b Amount) int { return a.big().Cmp(b.big()) }

func (a Amount) Abs() Amount { return Amount{v: new(big.Int).Abs(a.big())} }

func Min(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func Max(a, b Amount) Amount {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func (a Amount) IsZero() bool     { return a.big().Sign() == 0 }
func (a Amount) IsPositive() bool { return a.big().Sign() > 0 }
func (a Amount) IsNegative() bool { return a.big().Sign() < 0 }

// MarshalJSON renders the Amount as its fixed-8-decimal string form, matching
// the wire representation used throughout the action and event surfaces.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
