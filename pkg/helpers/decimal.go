// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"fmt"
	"math/big"
)

// Decimal is an arbitrary-precision non-negative decimal amount that
// preserves its original string representation for serialization while
// supporting exact comparison and arithmetic via math/big.Rat.
//
// Decimal never reformats its input: "100.990" and "100.99" compare equal
// but marshal back out using whichever string they were parsed from.
type Decimal struct {
	raw string
	rat *big.Rat
}

// ParseDecimal parses a canonical decimal string into a Decimal.
// Accepts any string math/big.Rat.SetString parses; negative values are
// rejected.
func ParseDecimal(s string) (Decimal, error) {
	if s == "" {
		return Decimal{}, fmt.Errorf("empty amount string")
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Decimal{}, fmt.Errorf("invalid amount: %s", s)
	}
	if r.Sign() < 0 {
		return Decimal{}, fmt.Errorf("amount must not be negative: %s", s)
	}
	return Decimal{raw: s, rat: r}, nil
}

// MustParseDecimal parses s and panics on error. Intended for constants
// and genesis fixtures, not for handling untrusted input.
func MustParseDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns the original canonical string this Decimal was parsed
// from, unchanged.
func (d Decimal) String() string {
	return d.raw
}

// IsZero reports whether the amount is exactly zero.
func (d Decimal) IsZero() bool {
	return d.rat == nil || d.rat.Sign() == 0
}

// IsInteger reports whether the amount has no fractional part.
func (d Decimal) IsInteger() bool {
	if d.rat == nil {
		return true
	}
	return d.rat.IsInt()
}

// Cmp compares two Decimals: -1 if d < o, 0 if equal, 1 if d > o.
func (d Decimal) Cmp(o Decimal) int {
	dr, or := ratOf(d), ratOf(o)
	return dr.Cmp(or)
}

// Add returns d + o as a new Decimal, formatted to its minimal decimal
// string (trailing zeros trimmed).
func (d Decimal) Add(o Decimal) Decimal {
	sum := new(big.Rat).Add(ratOf(d), ratOf(o))
	return fromRat(sum)
}

// Sub returns d - o as a new Decimal. The result may be negative; callers
// enforcing the non-negative balance invariant must check Sign themselves.
func (d Decimal) Sub(o Decimal) Decimal {
	diff := new(big.Rat).Sub(ratOf(d), ratOf(o))
	return fromRat(diff)
}

// Sign returns -1, 0, or 1 depending on the sign of the amount.
func (d Decimal) Sign() int {
	if d.rat == nil {
		return 0
	}
	return d.rat.Sign()
}

func ratOf(d Decimal) *big.Rat {
	if d.rat == nil {
		return new(big.Rat)
	}
	return d.rat
}

// fromRat renders a *big.Rat as a trimmed decimal string. Used only for
// values computed in-process (sums, differences); values read from the
// wire keep their original string via ParseDecimal.
func fromRat(r *big.Rat) Decimal {
	s := r.RatString()
	if !r.IsInt() {
		// RatString renders non-integers as "num/den"; expand to a decimal
		// string with enough precision for exact display when the
		// denominator is a power of ten (the common case for money), and
		// fall back to FloatString with generous precision otherwise.
		num := r.Num()
		den := r.Denom()
		if isPowerOfTen(den) {
			s = decimalFromFraction(num, den)
		} else {
			s = r.FloatString(18)
			s = trimTrailingZeros(s)
		}
	}
	rr, _ := new(big.Rat).SetString(s)
	return Decimal{raw: s, rat: rr}
}

func isPowerOfTen(n *big.Int) bool {
	ten := big.NewInt(10)
	m := new(big.Int).Set(n)
	if m.Sign() <= 0 {
		return false
	}
	for m.Cmp(big.NewInt(1)) > 0 {
		q, r := new(big.Int).QuoRem(m, ten, new(big.Int))
		if r.Sign() != 0 {
			return false
		}
		m = q
	}
	return true
}

func decimalFromFraction(num, den *big.Int) string {
	decimals := 0
	d := new(big.Int).Set(den)
	ten := big.NewInt(10)
	for d.Cmp(big.NewInt(1)) > 0 {
		d.Quo(d, ten)
		decimals++
	}
	neg := num.Sign() < 0
	n := new(big.Int).Abs(num)
	s := fmt.Sprintf("%0*d", decimals+1, n)
	whole := s[:len(s)-decimals]
	frac := s[len(s)-decimals:]
	frac = trimTrailingZeroChars(frac)
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

func trimTrailingZeros(s string) string {
	dot := -1
	for i, c := range s {
		if c == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return s
	}
	for len(s) > dot+1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}

func trimTrailingZeroChars(s string) string {
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return s
}

// StakeAmount is a signed arbitrary-precision integer, used for stake
// aggregation where intermediate sums may go negative (net of unstakes)
// before the minimum-stake filter is applied.
type StakeAmount struct {
	val *big.Int
}

// ZeroStake returns a StakeAmount of zero.
func ZeroStake() StakeAmount {
	return StakeAmount{val: big.NewInt(0)}
}

// StakeFromDecimal converts a Decimal amount (expected to be integral) into
// a StakeAmount. Returns an error if the amount has a fractional part.
func StakeFromDecimal(d Decimal) (StakeAmount, error) {
	if !d.IsInteger() {
		return StakeAmount{}, fmt.Errorf("the value must be an integer")
	}
	r := ratOf(d)
	i := new(big.Int).Quo(r.Num(), r.Denom())
	return StakeAmount{val: i}, nil
}

// StakeFromInt64 builds a StakeAmount from a fixed integer. Used for the
// MINIMUM_STAKE threshold and in tests.
func StakeFromInt64(v int64) StakeAmount {
	return StakeAmount{val: big.NewInt(v)}
}

// Add returns s + o.
func (s StakeAmount) Add(o StakeAmount) StakeAmount {
	return StakeAmount{val: new(big.Int).Add(intOf(s), intOf(o))}
}

// Sub returns s - o.
func (s StakeAmount) Sub(o StakeAmount) StakeAmount {
	return StakeAmount{val: new(big.Int).Sub(intOf(s), intOf(o))}
}

// Cmp compares two StakeAmounts: -1, 0, or 1.
func (s StakeAmount) Cmp(o StakeAmount) int {
	return intOf(s).Cmp(intOf(o))
}

// Sign returns -1, 0, or 1.
func (s StakeAmount) Sign() int {
	return intOf(s).Sign()
}

// String renders the stake as a base-10 integer string.
func (s StakeAmount) String() string {
	return intOf(s).String()
}

// BigInt exposes the underlying *big.Int for the modular reduction and
// running-sum walk in proof_of_stake.
func (s StakeAmount) BigInt() *big.Int {
	return new(big.Int).Set(intOf(s))
}

func intOf(s StakeAmount) *big.Int {
	if s.val == nil {
		return big.NewInt(0)
	}
	return s.val
}
