// Package rational implements exact rational time bases and the timestamp
// rescaling used to move packet timing between containers with different
// clock resolutions.
package rational

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// NoPTS is the sentinel for an unknown timestamp. Rescaling with PassMinMax
// returns it unchanged.
const NoPTS int64 = math.MinInt64

// ErrZeroDenominator is returned when a rational would have a zero denominator.
var ErrZeroDenominator = errors.New("rational: zero denominator")

// Rational is a num/den pair with den > 0. The zero value is invalid; build
// values with New or MustNew.
type Rational struct {
	num int
	den int
}

// New returns num/den with the sign carried on the numerator. A zero
// denominator is reported as ErrZeroDenominator.
func New(num, den int) (Rational, error) {
	if den == 0 {
		return Rational{}, fmt.Errorf("%w: %d/0", ErrZeroDenominator, num)
	}
	if den < 0 {
		num, den = -num, -den
	}
	return Rational{num: num, den: den}, nil
}

// MustNew is New for constants; it panics on a zero denominator.
func MustNew(num, den int) Rational {
	r, err := New(num, den)
	if err != nil {
		panic(err)
	}
	return r
}

// Parse reads "num/den" or a plain integer ("30" means 30/1).
func Parse(s string) (Rational, error) {
	s = strings.TrimSpace(s)
	numStr, denStr, found := strings.Cut(s, "/")
	if !found {
		denStr = "1"
	}
	num, err := strconv.Atoi(strings.TrimSpace(numStr))
	if err != nil {
		return Rational{}, fmt.Errorf("rational: parse %q: %w", s, err)
	}
	den, err := strconv.Atoi(strings.TrimSpace(denStr))
	if err != nil {
		return Rational{}, fmt.Errorf("rational: parse %q: %w", s, err)
	}
	return New(num, den)
}

// Num returns the numerator.
func (r Rational) Num() int { return r.num }

// Den returns the denominator.
func (r Rational) Den() int { return r.den }

// Valid reports whether r was built with a non-zero denominator.
func (r Rational) Valid() bool { return r.den > 0 }

// IsZero reports whether the numerator is zero.
func (r Rational) IsZero() bool { return r.num == 0 }

// Inverse swaps numerator and denominator. A stream's time base is derived
// from its frame rate this way, so a zero frame rate is an error.
func (r Rational) Inverse() (Rational, error) {
	return New(r.den, r.num)
}

// Float64 returns the value as a float, for display only.
func (r Rational) Float64() float64 {
	if r.den == 0 {
		return 0
	}
	return float64(r.num) / float64(r.den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.num, r.den)
}

// Rounding selects how Rescale rounds inexact results.
type Rounding int

// Rounding modes. PassMinMax is a flag that may be OR-ed with any mode.
const (
	RoundZero    Rounding = 0 // toward zero
	RoundInf     Rounding = 1 // away from zero
	RoundDown    Rounding = 2 // toward -infinity
	RoundUp      Rounding = 3 // toward +infinity
	RoundNearInf Rounding = 5 // to nearest, halfway cases away from zero

	PassMinMax Rounding = 8192
)

// Rescale converts v from the from time base to the to time base, i.e. it
// computes v * from / to with the requested rounding. With PassMinMax the
// extreme int64 values (including NoPTS) are returned unchanged. Results that
// do not fit in an int64, or an invalid target, yield NoPTS.
func Rescale(v int64, from, to Rational, rnd Rounding) int64 {
	if rnd&PassMinMax != 0 && (v == math.MinInt64 || v == math.MaxInt64) {
		return v
	}
	b := int64(from.num) * int64(to.den)
	c := int64(to.num) * int64(from.den)
	return rescaleRnd(v, b, c, rnd&^PassMinMax)
}

// RescaleQ is Rescale with round-to-nearest and no sentinel pass-through,
// the rounding used for durations.
func RescaleQ(v int64, from, to Rational) int64 {
	return Rescale(v, from, to, RoundNearInf)
}

func rescaleRnd(a, b, c int64, mode Rounding) int64 {
	if c == 0 {
		return NoPTS
	}
	if c < 0 {
		b, c = -b, -c
	}

	n := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	d := big.NewInt(c)
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))

	if r.Sign() != 0 {
		away := false
		switch mode {
		case RoundInf:
			away = true
		case RoundDown:
			away = n.Sign() < 0
		case RoundUp:
			away = n.Sign() > 0
		case RoundNearInf:
			twice := new(big.Int).Abs(r)
			twice.Lsh(twice, 1)
			away = twice.Cmp(d) >= 0
		}
		if away {
			if n.Sign() < 0 {
				q.Sub(q, big.NewInt(1))
			} else {
				q.Add(q, big.NewInt(1))
			}
		}
	}

	if !q.IsInt64() {
		return NoPTS
	}
	return q.Int64()
}

// Compare orders timestamp a in time base ta against b in time base tb,
// returning -1, 0 or +1.
func Compare(a int64, ta Rational, b int64, tb Rational) int {
	left := new(big.Int).Mul(big.NewInt(a), big.NewInt(int64(ta.num)*int64(tb.den)))
	right := new(big.Int).Mul(big.NewInt(b), big.NewInt(int64(tb.num)*int64(ta.den)))
	return left.Cmp(right)
}
