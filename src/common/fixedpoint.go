package common

// Fixed is a 17.14 fixed-point number, the representation the 4BSD
// scheduler uses for load_avg and recent_cpu. The low 14 bits are the
// fractional part.
type Fixed int64

const fixedShift = 14

// FixedFromInt converts an integer to fixed-point.
func FixedFromInt(n int) Fixed { return Fixed(n) << fixedShift }

// Add returns f+g.
func (f Fixed) Add(g Fixed) Fixed { return f + g }

// Sub returns f-g.
func (f Fixed) Sub(g Fixed) Fixed { return f - g }

// AddInt returns f+n.
func (f Fixed) AddInt(n int) Fixed { return f + FixedFromInt(n) }

// SubInt returns f-n.
func (f Fixed) SubInt(n int) Fixed { return f - FixedFromInt(n) }

// MulInt returns f*n.
func (f Fixed) MulInt(n int) Fixed { return f * Fixed(n) }

// DivInt returns f/n.
func (f Fixed) DivInt(n int) Fixed { return f / Fixed(n) }

// Mul returns f*g, shifting out the doubled fraction bits that
// fixed*fixed multiplication produces.
func (f Fixed) Mul(g Fixed) Fixed {
	return Fixed((int64(f) * int64(g)) >> fixedShift)
}

// Div returns f/g, pre-shifting the dividend so the quotient keeps its
// fraction bits.
func (f Fixed) Div(g Fixed) Fixed {
	return Fixed((int64(f) << fixedShift) / int64(g))
}

// ToIntTrunc rounds toward zero.
func (f Fixed) ToIntTrunc() int { return int(f) / (1 << fixedShift) }

// ToIntRound rounds to the nearest integer: add 0.5 then truncate on
// positives, subtract 0.5 then truncate on negatives.
func (f Fixed) ToIntRound() int {
	const half = 1 << (fixedShift - 1)
	if f >= 0 {
		return int(f+half) / (1 << fixedShift)
	}
	return int(f-half) / (1 << fixedShift)
}
