package script

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/cockroachdb/apd/v3"
	textunicode "golang.org/x/text/encoding/unicode"

	"github.com/chazu/ifps/pkg/x87"
)

// ---------------------------------------------------------------------------
// TypedData: a constant value tagged with its type
// ---------------------------------------------------------------------------

// TypedData is a typed constant. The Go type of Value depends on the base
// code of Type:
//
//	S8 int8, U8 and Char uint8, S16 int16, U16 and WideChar uint16,
//	S32 int32, U32 uint32, S64 int64, Single float32, Double float64,
//	Extended *ExtendedValue, Currency CurrencyValue,
//	PChar, String, WideString and UnicodeString string,
//	ProcPtr Function, Set *SetValue,
//	Type Type, Function Function, Instruction *Instruction (nil allowed).
//
// ANSI strings (PChar, String) hold the raw bytes; wide strings hold UTF-8.
type TypedData struct {
	Type  Type
	Value any
}

// typeIndexSize is the size of the type index that precedes every value.
const typeIndexSize = 4

var utf16le = textunicode.UTF16(textunicode.LittleEndian, textunicode.IgnoreBOM)

// NewTypedData checks that v has the Go type expected for t and returns the
// tagged value.
func NewTypedData(t Type, v any) (*TypedData, error) {
	if t == nil {
		return nil, unsupported("typed data without a type")
	}
	if !valueMatches(t, v) {
		return nil, unsupported("value of type %T does not match type code %s", v, t.Code())
	}
	return &TypedData{Type: t, Value: v}, nil
}

func valueMatches(t Type, v any) bool {
	switch t.Code() {
	case TypeS8:
		_, ok := v.(int8)
		return ok
	case TypeU8, TypeChar:
		_, ok := v.(uint8)
		return ok
	case TypeS16:
		_, ok := v.(int16)
		return ok
	case TypeU16, TypeWideChar:
		_, ok := v.(uint16)
		return ok
	case TypeS32:
		_, ok := v.(int32)
		return ok
	case TypeU32:
		_, ok := v.(uint32)
		return ok
	case TypeS64:
		_, ok := v.(int64)
		return ok
	case TypeSingle:
		_, ok := v.(float32)
		return ok
	case TypeDouble:
		_, ok := v.(float64)
		return ok
	case TypeExtended:
		e, ok := v.(*ExtendedValue)
		return ok && e != nil && e.Value != nil
	case TypeCurrency:
		c, ok := v.(CurrencyValue)
		return ok && c.Value != nil
	case TypePChar, TypeString, TypeWideString, TypeUnicodeString:
		_, ok := v.(string)
		return ok
	case TypeProcPtr, TypeFunction:
		f, ok := v.(Function)
		return ok && f != nil
	case TypeSet:
		st, ok := t.(*SetType)
		sv, ok2 := v.(*SetValue)
		return ok && ok2 && sv != nil && sv.Len() == st.BitSize
	case TypeType:
		ty, ok := v.(Type)
		return ok && ty != nil
	case TypeInstruction:
		_, ok := v.(*Instruction)
		return ok || v == nil
	}
	return false
}

// ---------------------------------------------------------------------------
// Value wrappers
// ---------------------------------------------------------------------------

// ExtendedValue is an 80-bit float held as a decimal. Values read from a file
// keep their original bytes, which are written back unchanged as long as
// Value still compares equal to the decoded decimal.
type ExtendedValue struct {
	Value *apd.Decimal

	raw     *x87.Bits
	decoded *apd.Decimal
}

// NewExtended wraps a decimal as an extended value.
func NewExtended(d *apd.Decimal) *ExtendedValue {
	return &ExtendedValue{Value: d}
}

func decodeExtended(b x87.Bits) (*ExtendedValue, error) {
	d, err := x87.Decode(b)
	if err != nil {
		return nil, err
	}
	raw := b
	return &ExtendedValue{Value: d, raw: &raw, decoded: new(apd.Decimal).Set(d)}, nil
}

func (e *ExtendedValue) bits() (x87.Bits, error) {
	if e.raw != nil && sameDecimal(e.Value, e.decoded) {
		return *e.raw, nil
	}
	b, err := x87.Encode(e.Value)
	if err != nil {
		return x87.Bits{}, unsupported("extended %s: %v", e.Value, err)
	}
	return b, nil
}

func sameDecimal(a, b *apd.Decimal) bool {
	if a.Form != b.Form || a.Negative != b.Negative {
		return false
	}
	if a.Form != apd.Finite {
		return true
	}
	return a.Cmp(b) == 0 && a.Exponent == b.Exponent
}

func (e *ExtendedValue) String() string {
	return plainDecimal(e.Value)
}

// currencyScale is the number of implied decimal places of a currency value.
const currencyScale = 4

// CurrencyValue is a fixed-point value stored on disk as int64 / 10000.
type CurrencyValue struct {
	Value *apd.Decimal
}

// NewCurrency returns the currency value for a raw scaled integer.
func NewCurrency(scaled int64) CurrencyValue {
	scale := int32(currencyScale)
	for scale > 0 && scaled != 0 && scaled%10 == 0 {
		scaled /= 10
		scale--
	}
	return CurrencyValue{Value: apd.New(scaled, -scale)}
}

// Scaled returns the value as a count of 1/10000 units.
func (c CurrencyValue) Scaled() (int64, error) {
	var q apd.Decimal
	ctx := apd.BaseContext.WithPrecision(40)
	if _, err := ctx.Quantize(&q, c.Value, -currencyScale); err != nil {
		return 0, unsupported("currency %s: %v", c.Value, err)
	}
	q.Exponent = 0
	v, err := q.Int64()
	if err != nil {
		return 0, unsupported("currency %s out of range: %v", c.Value, err)
	}
	return v, nil
}

func (c CurrencyValue) String() string {
	return plainDecimal(c.Value)
}

// plainDecimal renders d without exponent unless the magnitude is extreme.
func plainDecimal(d *apd.Decimal) string {
	s := d.String()
	i := strings.IndexAny(s, "Ee")
	if i < 0 || d.Form != apd.Finite {
		return s
	}
	adj, err := strconv.Atoi(s[i+1:])
	if err != nil || adj < -28 || adj > 28 {
		return s
	}
	return d.Text('f')
}

// SetValue is a fixed-width bit set, packed least significant bit first.
type SetValue struct {
	n    int
	data []byte
}

// NewSetValue returns an empty set of n bits.
func NewSetValue(n int) *SetValue {
	return &SetValue{n: n, data: make([]byte, (n+7)/8)}
}

// Len returns the width of the set in bits.
func (s *SetValue) Len() int { return s.n }

// Has reports whether bit i is set.
func (s *SetValue) Has(i int) bool {
	if i < 0 || i >= s.n {
		return false
	}
	return s.data[i/8]&(1<<(i%8)) != 0
}

// Put sets or clears bit i. Out of range bits are ignored.
func (s *SetValue) Put(i int, v bool) {
	if i < 0 || i >= s.n {
		return
	}
	if v {
		s.data[i/8] |= 1 << (i % 8)
	} else {
		s.data[i/8] &^= 1 << (i % 8)
	}
}

// Bytes returns the packed representation.
func (s *SetValue) Bytes() []byte { return s.data }

func (s *SetValue) String() string {
	var sb strings.Builder
	sb.WriteString("0b")
	for i := s.n - 1; i >= 0; i-- {
		if s.Has(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func decodeTypedData(r *reader, s *Script) (*TypedData, error) {
	t, err := readTypeRef(r, s)
	if err != nil {
		return nil, err
	}
	v, err := decodeValue(r, s, t)
	if err != nil {
		return nil, err
	}
	return &TypedData{Type: t, Value: v}, nil
}

func decodeValue(r *reader, s *Script, t Type) (any, error) {
	switch t.Code() {
	case TypeS8:
		b, err := r.readByte()
		return int8(b), err
	case TypeU8, TypeChar:
		return r.readByte()
	case TypeS16:
		v, err := r.readUint16()
		return int16(v), err
	case TypeU16, TypeWideChar:
		return r.readUint16()
	case TypeS32:
		return r.readInt32()
	case TypeU32:
		return r.readUint32()
	case TypeS64:
		v, err := r.readUint64()
		return int64(v), err
	case TypeSingle:
		return r.readFloat32()
	case TypeDouble:
		return r.readFloat64()
	case TypeExtended:
		b, err := r.readBytes(x87.Size)
		if err != nil {
			return nil, err
		}
		var bits x87.Bits
		copy(bits[:], b)
		ext, err := decodeExtended(bits)
		if err != nil {
			return nil, r.errorf("invalid extended value", err)
		}
		return ext, nil
	case TypeCurrency:
		v, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		return NewCurrency(int64(v)), nil
	case TypePChar, TypeString:
		return r.readLString()
	case TypeWideString, TypeUnicodeString:
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		if uint64(n)*2 > uint64(r.remaining()) {
			return nil, r.errorf("wide string length exceeds data", ErrUnexpectedEOF)
		}
		b, err := r.readBytes(int(n) * 2)
		if err != nil {
			return nil, err
		}
		str, err := utf16le.NewDecoder().Bytes(b)
		if err != nil {
			return nil, r.errorf("invalid wide string", err)
		}
		return string(str), nil
	case TypeProcPtr:
		at := r.pos()
		idx, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		if uint64(idx) >= uint64(len(s.Functions)) {
			return nil, &FormatError{Offset: r.base + at, Msg: fmt.Sprintf("function index %d", idx), Err: ErrInvalidIndex}
		}
		return s.Functions[idx], nil
	case TypeSet:
		st, ok := t.(*SetType)
		if !ok {
			return nil, r.errorf("set value without a set type", ErrUnsupportedValue)
		}
		b, err := r.readBytes(st.ByteSize())
		if err != nil {
			return nil, err
		}
		sv := &SetValue{n: st.BitSize, data: append([]byte(nil), b...)}
		return sv, nil
	}
	return nil, r.errorf(fmt.Sprintf("no value encoding for type %s", t.Code()), ErrUnsupportedValue)
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func (d *TypedData) encode(buf *bytes.Buffer, ctx *saveContext) error {
	idx, err := ctx.typeIndex(d.Type)
	if err != nil {
		return err
	}
	WriteUint32(buf, idx)
	return d.encodeValue(buf, ctx)
}

func (d *TypedData) encodeValue(buf *bytes.Buffer, ctx *saveContext) error {
	if !valueMatches(d.Type, d.Value) {
		return unsupported("value of type %T does not match type code %s", d.Value, d.Type.Code())
	}
	switch v := d.Value.(type) {
	case int8:
		buf.WriteByte(byte(v))
	case uint8:
		buf.WriteByte(v)
	case int16:
		WriteUint16(buf, uint16(v))
	case uint16:
		WriteUint16(buf, v)
	case int32:
		WriteInt32(buf, v)
	case uint32:
		WriteUint32(buf, v)
	case int64:
		WriteUint64(buf, uint64(v))
	case float32:
		WriteUint32(buf, math.Float32bits(v))
	case float64:
		WriteUint64(buf, math.Float64bits(v))
	case *ExtendedValue:
		b, err := v.bits()
		if err != nil {
			return err
		}
		buf.Write(b[:])
	case CurrencyValue:
		scaled, err := v.Scaled()
		if err != nil {
			return err
		}
		WriteUint64(buf, uint64(scaled))
	case string:
		switch d.Type.Code() {
		case TypeWideString, TypeUnicodeString:
			b, err := utf16le.NewEncoder().String(v)
			if err != nil {
				return unsupported("wide string: %v", err)
			}
			WriteUint32(buf, uint32(len(b)/2))
			buf.WriteString(b)
		default:
			writeLString(buf, v)
		}
	case Function:
		if d.Type.Code() != TypeProcPtr {
			return unsupported("function reference cannot be written as a value")
		}
		idx, err := ctx.functionIndex(v)
		if err != nil {
			return err
		}
		WriteUint32(buf, idx)
	case *SetValue:
		st := d.Type.(*SetType)
		b := make([]byte, st.ByteSize())
		copy(b, v.data)
		buf.Write(b)
	default:
		return unsupported("no value encoding for type %s", d.Type.Code())
	}
	return nil
}

// Size returns the encoded size including the type index. Pseudo type
// references count only the 4-byte index.
func (d *TypedData) Size() int {
	switch d.Type.Code() {
	case TypeS8, TypeU8, TypeChar:
		return typeIndexSize + 1
	case TypeS16, TypeU16, TypeWideChar:
		return typeIndexSize + 2
	case TypeS32, TypeU32, TypeSingle, TypeProcPtr:
		return typeIndexSize + 4
	case TypeS64, TypeDouble, TypeCurrency:
		return typeIndexSize + 8
	case TypeExtended:
		return typeIndexSize + x87.Size
	case TypePChar, TypeString:
		s, _ := d.Value.(string)
		return typeIndexSize + 4 + len(s)
	case TypeWideString, TypeUnicodeString:
		s, _ := d.Value.(string)
		return typeIndexSize + 4 + 2*utf16Len(s)
	case TypeSet:
		if st, ok := d.Type.(*SetType); ok {
			return typeIndexSize + st.ByteSize()
		}
	case TypeType, TypeInstruction, TypeFunction:
		return typeIndexSize
	}
	return typeIndexSize
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// String renders the value the way the disassembler prints immediates.
func (d *TypedData) String() string {
	name := TypeName(d.Type)
	switch d.Type.Code() {
	case TypeType:
		t, _ := d.Value.(Type)
		return TypeName(t)
	case TypeInstruction:
		insn, _ := d.Value.(*Instruction)
		if insn == nil {
			return "null"
		}
		return fmt.Sprintf("loc_%x", insn.Offset)
	case TypeProcPtr:
		f, _ := d.Value.(Function)
		return fmt.Sprintf("%s(%s)", name, FunctionName(f))
	case TypeFunction:
		f, _ := d.Value.(Function)
		return FunctionName(f)
	case TypePChar, TypeString:
		s, _ := d.Value.(string)
		return fmt.Sprintf("%s(%s)", name, quoteLiteral(latin1Runes(s)))
	case TypeWideString, TypeUnicodeString:
		s, _ := d.Value.(string)
		return fmt.Sprintf("%s(%s)", name, quoteLiteral([]rune(s)))
	case TypeChar:
		c, _ := d.Value.(uint8)
		return fmt.Sprintf("%s(%s)", name, quoteLiteral([]rune{rune(c)}))
	case TypeWideChar:
		c, _ := d.Value.(uint16)
		return fmt.Sprintf("%s(%s)", name, quoteLiteral([]rune{rune(c)}))
	case TypeSingle:
		f, _ := d.Value.(float32)
		return fmt.Sprintf("%s(%s)", name, formatFloat(float64(f), 32))
	case TypeDouble:
		f, _ := d.Value.(float64)
		return fmt.Sprintf("%s(%s)", name, formatFloat(f, 64))
	}
	return fmt.Sprintf("%s(%v)", name, d.Value)
}

func latin1Runes(s string) []rune {
	rs := make([]rune, len(s))
	for i := 0; i < len(s); i++ {
		rs[i] = rune(s[i])
	}
	return rs
}

// quoteLiteral renders rs as a double-quoted literal with C-style escapes.
func quoteLiteral(rs []rune) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, c := range rs {
		switch c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case 0:
			sb.WriteString(`\0`)
		case '\a':
			sb.WriteString(`\a`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\v':
			sb.WriteString(`\v`)
		default:
			switch {
			case (c >= 0x20 && c <= 0x7e) || !unicode.IsControl(c):
				sb.WriteRune(c)
			case c < 0x100:
				fmt.Fprintf(&sb, `\x%02x`, c)
			default:
				fmt.Fprintf(&sb, `\u%04x`, c)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func formatFloat(v float64, bitSize int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	abs := math.Abs(v)
	if v != 0 && (abs < 1e-4 || abs >= 1e15) {
		return strconv.FormatFloat(v, 'E', -1, bitSize)
	}
	return strconv.FormatFloat(v, 'f', -1, bitSize)
}

// ImmediateOf wraps a Go scalar or string in a TypedData backed by a fresh
// primitive type. The type is not part of any script; register it in
// Script.Types before saving.
func ImmediateOf(v any) (*TypedData, error) {
	var code TypeCode
	switch v.(type) {
	case int8:
		code = TypeS8
	case uint8:
		code = TypeU8
	case int16:
		code = TypeS16
	case uint16:
		code = TypeU16
	case int32:
		code = TypeS32
	case uint32:
		code = TypeU32
	case int64:
		code = TypeS64
	case float32:
		code = TypeSingle
	case float64:
		code = TypeDouble
	case *ExtendedValue:
		code = TypeExtended
	case CurrencyValue:
		code = TypeCurrency
	case string:
		code = TypeUnicodeString
	default:
		return nil, unsupported("no primitive type for %T", v)
	}
	t, err := NewPrimitiveType(code)
	if err != nil {
		return nil, err
	}
	return NewTypedData(t, v)
}
