// Package x87 converts between the 80-bit x87 extended precision format and
// arbitrary precision decimals.
//
// The conversion goes through a 19 significant digit scientific rendering, so
// it is lossy in general: two distinct 80-bit values may decode to the same
// decimal, and a decimal that needs more than 64 bits of mantissa is rounded
// (half to even) when encoded. Callers that need bit-exact round trips must
// keep the original bytes alongside the decoded value.
package x87

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// Size is the encoded size of an extended value in bytes.
const Size = 10

// SignificantDigits is the number of significant digits used when rendering
// an extended value as decimal text.
const SignificantDigits = 19

const (
	exponentBias = 16383
	exponentMax  = 0x7FFF
	mantissaBits = 64

	// smallest denormal is 2^-16445
	denormalShift = exponentBias + mantissaBits - 2

	// decimal exponents outside this window are overflow or flush to zero
	maxDecimalExponent = 4933
	minDecimalExponent = -4952
)

var (
	ErrOverflow = errors.New("value does not fit in an 80-bit extended float")
	ErrSyntax   = errors.New("invalid decimal value")
)

// Bits is a little-endian x87 extended value as stored on disk.
type Bits [Size]byte

// ---------------------------------------------------------------------------
// Field access
// ---------------------------------------------------------------------------

// Mantissa returns the 64-bit mantissa including the explicit integer bit.
func (b Bits) Mantissa() uint64 {
	return binary.LittleEndian.Uint64(b[0:8])
}

// Exponent returns the biased 15-bit exponent.
func (b Bits) Exponent() uint16 {
	return binary.LittleEndian.Uint16(b[8:10]) & exponentMax
}

// Negative reports whether the sign bit is set.
func (b Bits) Negative() bool {
	return b[9]&0x80 != 0
}

// IsInf reports whether b encodes an infinity.
func (b Bits) IsInf() bool {
	return b.Exponent() == exponentMax && b.Mantissa()<<1 == 0
}

// IsNaN reports whether b encodes a NaN.
func (b Bits) IsNaN() bool {
	return b.Exponent() == exponentMax && b.Mantissa()<<1 != 0
}

func pack(neg bool, exp uint16, mant uint64) Bits {
	var b Bits
	binary.LittleEndian.PutUint64(b[0:8], mant)
	se := exp & exponentMax
	if neg {
		se |= 0x8000
	}
	binary.LittleEndian.PutUint16(b[8:10], se)
	return b
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Float returns the exact binary value of b. Infinities are returned as
// big.Float infinities; NaN has no big.Float counterpart and reports ok=false.
func (b Bits) Float() (f *big.Float, ok bool) {
	if b.IsNaN() {
		return nil, false
	}
	f = new(big.Float).SetPrec(mantissaBits)
	if b.IsInf() {
		f.SetInf(b.Negative())
		return f, true
	}

	mant := b.Mantissa()
	exp := int(b.Exponent())
	if exp == 0 {
		// denormal: no implicit scaling of the integer bit
		exp = 1
	}
	f.SetUint64(mant)
	f.SetMantExp(f, exp-exponentBias-(mantissaBits-1))
	if b.Negative() {
		f.Neg(f)
	}
	return f, true
}

// Text renders b in scientific notation with 19 significant digits and the
// mantissa's trailing zeros trimmed, keeping at least one fractional digit.
func (b Bits) Text() string {
	f, ok := b.Float()
	if !ok {
		return "NaN"
	}
	if f.IsInf() {
		if f.Signbit() {
			return "-Inf"
		}
		return "+Inf"
	}
	return trimMantissa(f.Text('e', SignificantDigits-1))
}

// trimMantissa removes trailing zeros before the exponent marker, leaving one
// zero directly after the decimal point.
func trimMantissa(s string) string {
	e := strings.IndexByte(s, 'e')
	if e < 0 {
		return s
	}
	mant, exp := s[:e], s[e:]
	dot := strings.IndexByte(mant, '.')
	if dot < 0 {
		return s
	}
	end := len(mant)
	for end > dot+2 && mant[end-1] == '0' {
		end--
	}
	return mant[:end] + exp
}

// Decode converts b to a decimal. NaN and infinities map to the matching
// apd forms.
func Decode(b Bits) (*apd.Decimal, error) {
	switch {
	case b.IsNaN():
		return &apd.Decimal{Form: apd.NaN, Negative: b.Negative()}, nil
	case b.IsInf():
		return &apd.Decimal{Form: apd.Infinite, Negative: b.Negative()}, nil
	}
	d, _, err := apd.NewFromString(b.Text())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// quietNaN is the default x87 NaN: exponent all ones, integer and quiet bits set.
const quietNaN uint64 = 0xC000000000000000

// Encode converts d to the nearest extended value.
func Encode(d *apd.Decimal) (Bits, error) {
	switch d.Form {
	case apd.NaN, apd.NaNSignaling:
		return pack(d.Negative, exponentMax, quietNaN), nil
	case apd.Infinite:
		return pack(d.Negative, exponentMax, 1<<63), nil
	}
	return EncodeString(d.String())
}

// EncodeString parses a finite decimal literal (plain or scientific) and
// converts it to the nearest extended value.
func EncodeString(s string) (Bits, error) {
	neg, digits, exp, err := splitDecimal(s)
	if err != nil {
		return Bits{}, err
	}
	if digits == "" {
		return pack(neg, 0, 0), nil
	}
	adjusted := exp + len(digits) - 1
	if adjusted > maxDecimalExponent {
		return Bits{}, fmt.Errorf("%w: %s", ErrOverflow, s)
	}
	if adjusted < minDecimalExponent {
		return pack(neg, 0, 0), nil
	}

	r, ok := new(big.Rat).SetString(digits + "e" + strconv.Itoa(exp))
	if !ok {
		return Bits{}, fmt.Errorf("%w: %s", ErrSyntax, s)
	}
	return encodeRat(neg, r, s)
}

func encodeRat(neg bool, r *big.Rat, src string) (Bits, error) {
	f := new(big.Float).SetPrec(mantissaBits).SetMode(big.ToNearestEven).SetRat(r)
	mant := new(big.Float)
	exp := f.MantExp(mant)
	biased := exp + exponentBias - 1

	if biased >= exponentMax {
		return Bits{}, fmt.Errorf("%w: %s", ErrOverflow, src)
	}
	if biased >= 1 {
		m, _ := new(big.Float).SetMantExp(mant, mantissaBits).Uint64()
		return pack(neg, uint16(biased), m), nil
	}

	// Denormal range: round directly at the fixed 2^-16445 scale to avoid
	// rounding twice.
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(new(big.Int).Lsh(big.NewInt(1), denormalShift)))
	m := roundHalfEven(scaled)
	if m.BitLen() > mantissaBits-1 {
		// rounded up into the smallest normal
		return pack(neg, 1, m.Uint64()), nil
	}
	return pack(neg, 0, m.Uint64()), nil
}

// FromFloat64 widens v to extended precision. The conversion is exact.
func FromFloat64(v float64) Bits {
	neg := math.Signbit(v)
	switch {
	case math.IsNaN(v):
		return pack(neg, exponentMax, quietNaN)
	case math.IsInf(v, 0):
		return pack(neg, exponentMax, 1<<63)
	case v == 0:
		return pack(neg, 0, 0)
	}
	frac, exp := math.Frexp(math.Abs(v))
	m := uint64(math.Ldexp(frac, mantissaBits))
	return pack(neg, uint16(exp+exponentBias-1), m)
}

func roundHalfEven(r *big.Rat) *big.Int {
	q, rem := new(big.Int).QuoRem(r.Num(), r.Denom(), new(big.Int))
	twice := new(big.Int).Lsh(rem, 1)
	switch twice.Cmp(r.Denom()) {
	case 1:
		q.Add(q, big.NewInt(1))
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}
	return q
}

// splitDecimal breaks a decimal literal into sign, significant digits (no
// leading zeros, empty for zero) and the power of ten applied to them.
func splitDecimal(s string) (neg bool, digits string, exp int, err error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return false, "", 0, fmt.Errorf("%w: empty", ErrSyntax)
	}
	switch t[0] {
	case '-':
		neg = true
		t = t[1:]
	case '+':
		t = t[1:]
	}
	if i := strings.IndexAny(t, "eE"); i >= 0 {
		exp, err = strconv.Atoi(t[i+1:])
		if err != nil {
			return false, "", 0, fmt.Errorf("%w: %s", ErrSyntax, s)
		}
		t = t[:i]
	}
	intPart, frac := t, ""
	if i := strings.IndexByte(t, '.'); i >= 0 {
		intPart, frac = t[:i], t[i+1:]
	}
	if intPart == "" && frac == "" {
		return false, "", 0, fmt.Errorf("%w: %s", ErrSyntax, s)
	}
	all := intPart + frac
	for _, c := range all {
		if c < '0' || c > '9' {
			return false, "", 0, fmt.Errorf("%w: %s", ErrSyntax, s)
		}
	}
	exp -= len(frac)
	digits = strings.TrimLeft(all, "0")
	if digits == "" {
		return neg, "", 0, nil
	}
	// trailing zeros only move the exponent
	trimmed := strings.TrimRight(digits, "0")
	exp += len(digits) - len(trimmed)
	return neg, trimmed, exp, nil
}
