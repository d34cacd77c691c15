package script

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Type: closed set of type table entries
// ---------------------------------------------------------------------------

// Type is a type table entry. The set of implementations is closed:
// *PrimitiveType, *ArrayType, *StaticArrayType, *RecordType, *ClassType,
// *ComInterfaceType, *FuncPtrType, *SetType and the *PseudoType operand tags.
type Type interface {
	Code() TypeCode
	Header() *TypeHeader
	String() string

	encodePayload(buf *bytes.Buffer, ctx *saveContext) error
}

// TypeHeader holds the fields shared by every type.
type TypeHeader struct {
	Name       string
	Exported   bool
	Attributes []*CustomAttribute

	alias nameAlias
}

// Header returns the shared header.
func (h *TypeHeader) Header() *TypeHeader { return h }

func (h *TypeHeader) prefix() string {
	if h.Exported {
		return ".type(export) "
	}
	return ".type "
}

// nameAlias remembers the on-disk name of an entry renamed on load so that
// an untouched entry saves under its original name.
type nameAlias struct {
	display string
	wire    string
}

func (a nameAlias) resolve(name string) string {
	if a.display != "" && name == a.display {
		return a.wire
	}
	return name
}

// TypeName returns the name of t, or "" for nil.
func TypeName(t Type) string {
	if t == nil {
		return ""
	}
	return t.Header().Name
}

// ---------------------------------------------------------------------------
// Variants
// ---------------------------------------------------------------------------

// PrimitiveType is a scalar type with no payload.
type PrimitiveType struct {
	TypeHeader
	code TypeCode
}

// NewPrimitiveType creates a primitive type named after its code.
func NewPrimitiveType(code TypeCode) (*PrimitiveType, error) {
	if !code.IsPrimitive() {
		return nil, unsupported("type code %s is not primitive", code)
	}
	return &PrimitiveType{TypeHeader: TypeHeader{Name: code.String()}, code: code}, nil
}

func (t *PrimitiveType) Code() TypeCode { return t.code }

func (t *PrimitiveType) String() string {
	return fmt.Sprintf("%sprimitive(%s) %s", t.prefix(), t.code, t.Name)
}

func (t *PrimitiveType) encodePayload(*bytes.Buffer, *saveContext) error { return nil }

// ArrayType is a dynamic array of Elem.
type ArrayType struct {
	TypeHeader
	Elem Type
}

func (t *ArrayType) Code() TypeCode { return TypeArray }

func (t *ArrayType) String() string {
	return fmt.Sprintf("%sarray(%s) %s", t.prefix(), TypeName(t.Elem), t.Name)
}

func (t *ArrayType) encodePayload(buf *bytes.Buffer, ctx *saveContext) error {
	idx, err := ctx.typeIndex(t.Elem)
	if err != nil {
		return err
	}
	WriteUint32(buf, idx)
	return nil
}

// maxStaticArraySize bounds the element count so the byte size of a static
// array of pointers fits in 32 bits.
const maxStaticArraySize = math.MaxUint32 / 4

// StaticArrayType is a fixed-size array. StartIndex is only persisted from
// file version 23.
type StaticArrayType struct {
	TypeHeader
	Elem       Type
	Size       int32
	StartIndex int32
}

func (t *StaticArrayType) Code() TypeCode { return TypeStaticArray }

func (t *StaticArrayType) String() string {
	return fmt.Sprintf("%sarray(%s,%d,%d) %s", t.prefix(), TypeName(t.Elem), t.Size, t.StartIndex, t.Name)
}

func (t *StaticArrayType) encodePayload(buf *bytes.Buffer, ctx *saveContext) error {
	idx, err := ctx.typeIndex(t.Elem)
	if err != nil {
		return err
	}
	if int64(t.Size) > maxStaticArraySize {
		return unsupported("static array length 0x%x too large, maximum 0x%x", t.Size, maxStaticArraySize)
	}
	WriteUint32(buf, idx)
	WriteInt32(buf, t.Size)
	if ctx.version >= VersionMinStaticArrayStart {
		WriteInt32(buf, t.StartIndex)
	}
	return nil
}

// RecordType is an ordered list of unnamed fields. FieldNames is optional
// and only used for display.
type RecordType struct {
	TypeHeader
	Fields     []Type
	FieldNames []string
}

func (t *RecordType) Code() TypeCode { return TypeRecord }

var recordNameStripper = strings.NewReplacer(" ", "", ",", "", "(", "", ")", "")

func (t *RecordType) String() string {
	var sb strings.Builder
	sb.WriteString(t.prefix())
	sb.WriteString("record(")
	for i, f := range t.Fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(TypeName(f))
		if i < len(t.FieldNames) {
			if name := recordNameStripper.Replace(t.FieldNames[i]); name != "" {
				sb.WriteByte(' ')
				sb.WriteString(name)
			}
		}
	}
	sb.WriteString(") ")
	sb.WriteString(t.Name)
	return sb.String()
}

func (t *RecordType) encodePayload(buf *bytes.Buffer, ctx *saveContext) error {
	WriteUint32(buf, uint32(len(t.Fields)))
	for i, f := range t.Fields {
		idx, err := ctx.typeIndex(f)
		if err != nil {
			return fmt.Errorf("record field %d: %w", i, err)
		}
		WriteUint32(buf, idx)
	}
	return nil
}

// ClassType refers to a host class by name.
type ClassType struct {
	TypeHeader
	InternalName string
}

func (t *ClassType) Code() TypeCode { return TypeClass }

func (t *ClassType) String() string {
	return fmt.Sprintf("%sclass(%s) %s", t.prefix(), t.InternalName, t.Name)
}

func (t *ClassType) encodePayload(buf *bytes.Buffer, _ *saveContext) error {
	writeLString(buf, strings.ToUpper(t.InternalName))
	return nil
}

// ComInterfaceType is a COM interface identified by GUID.
type ComInterfaceType struct {
	TypeHeader
	GUID uuid.UUID
}

func (t *ComInterfaceType) Code() TypeCode { return TypeInterface }

func (t *ComInterfaceType) String() string {
	return fmt.Sprintf("%sinterface(%q) %s", t.prefix(), t.GUID.String(), t.Name)
}

func (t *ComInterfaceType) encodePayload(buf *bytes.Buffer, _ *saveContext) error {
	b := guidToWire(t.GUID)
	buf.Write(b[:])
	return nil
}

// guidFromWire converts the on-disk GUID layout (first three groups
// little-endian) to RFC 4122 byte order.
func guidFromWire(b []byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], b)
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	return u
}

func guidToWire(u uuid.UUID) [16]byte {
	var b [16]byte
	copy(b[:], u[:])
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	return b
}

// FuncPtrType is a procedure pointer signature.
type FuncPtrType struct {
	TypeHeader
	HasReturn bool
	Args      []ArgumentDirection
}

func (t *FuncPtrType) Code() TypeCode { return TypeProcPtr }

func (t *FuncPtrType) String() string {
	var sb strings.Builder
	sb.WriteString(t.prefix())
	sb.WriteString("funcptr(")
	if t.HasReturn {
		sb.WriteString("returnsval")
	} else {
		sb.WriteString("void")
	}
	sb.WriteByte('(')
	for i, a := range t.Args {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(a.String())
	}
	sb.WriteString(")) ")
	sb.WriteString(t.Name)
	return sb.String()
}

func (t *FuncPtrType) encodePayload(buf *bytes.Buffer, _ *saveContext) error {
	n := len(t.Args) + 1
	if n > 0xff {
		return unsupported("%d function pointer arguments present, the maximum is 254", len(t.Args))
	}
	WriteUint32(buf, uint32(n))
	WriteBool(buf, t.HasReturn)
	for _, a := range t.Args {
		WriteBool(buf, a == ArgumentOut)
	}
	return nil
}

// maxSetBits is the largest set width.
const maxSetBits = 256

// SetType is a bit set of BitSize bits.
type SetType struct {
	TypeHeader
	BitSize int
}

// NewSetType creates a set type, validating its width.
func NewSetType(bits int) (*SetType, error) {
	if bits < 0 || bits > maxSetBits {
		return nil, unsupported("set size %d out of range 0..%d", bits, maxSetBits)
	}
	return &SetType{BitSize: bits}, nil
}

// ByteSize is the packed size of a value of this set.
func (t *SetType) ByteSize() int {
	return (t.BitSize + 7) / 8
}

func (t *SetType) Code() TypeCode { return TypeSet }

func (t *SetType) String() string {
	return fmt.Sprintf("%sset(%d) %s", t.prefix(), t.BitSize, t.Name)
}

func (t *SetType) encodePayload(buf *bytes.Buffer, _ *saveContext) error {
	if t.BitSize < 0 || t.BitSize > maxSetBits {
		return unsupported("set size %d out of range", t.BitSize)
	}
	WriteUint32(buf, uint32(t.BitSize))
	return nil
}

// PseudoType tags operands that refer to types, functions or instructions,
// or whose type is unknown. Pseudo types are never persisted as records.
type PseudoType struct {
	TypeHeader
	code TypeCode
}

var (
	TypeRef        = &PseudoType{code: TypeType}
	FunctionRef    = &PseudoType{code: TypeFunction}
	InstructionRef = &PseudoType{code: TypeInstruction}
	UnknownType    = &PseudoType{code: TypeUnknown}
)

func (t *PseudoType) Code() TypeCode { return t.code }

func (t *PseudoType) String() string {
	return fmt.Sprintf("%s%s", t.prefix(), t.code)
}

func (t *PseudoType) encodePayload(*bytes.Buffer, *saveContext) error {
	return unsupported("pseudo type %s cannot be saved in the type table", t.code)
}

// ---------------------------------------------------------------------------
// Type table codec
// ---------------------------------------------------------------------------

// decodeType reads one type record. Element references must point at types
// already present in s.Types.
func decodeType(r *reader, s *Script) (Type, error) {
	b, err := r.readByte()
	if err != nil {
		return nil, err
	}
	exported := b&exportedFlag != 0
	code := TypeCode(b &^ exportedFlag)

	t, err := decodeTypePayload(r, s, code)
	if err != nil {
		return nil, err
	}
	h := t.Header()
	if exported {
		name, err := r.readLString()
		if err != nil {
			return nil, fmt.Errorf("failed to read type name: %w", err)
		}
		h.Name = name
		h.Exported = true
	}
	if s.FileVersion >= VersionMinAttributes {
		attrs, err := decodeAttributes(r, s)
		if err != nil {
			return nil, err
		}
		h.Attributes = attrs
	}
	return t, nil
}

func decodeTypePayload(r *reader, s *Script, code TypeCode) (Type, error) {
	if code.IsPrimitive() {
		return &PrimitiveType{TypeHeader: TypeHeader{Name: code.String()}, code: code}, nil
	}
	switch code {
	case TypeClass:
		name, err := r.readLString()
		if err != nil {
			return nil, err
		}
		return &ClassType{TypeHeader: TypeHeader{Name: name}, InternalName: name}, nil

	case TypeProcPtr:
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		b, err := r.readBytes(int(n & 0xff))
		if err != nil {
			return nil, err
		}
		t := &FuncPtrType{}
		if len(b) > 0 {
			t.HasReturn = b[0] != 0
			t.Args = make([]ArgumentDirection, 0, len(b)-1)
			for _, f := range b[1:] {
				if f == 1 {
					t.Args = append(t.Args, ArgumentOut)
				} else {
					t.Args = append(t.Args, ArgumentIn)
				}
			}
		}
		return t, nil

	case TypeInterface:
		b, err := r.readBytes(16)
		if err != nil {
			return nil, err
		}
		return &ComInterfaceType{GUID: guidFromWire(b)}, nil

	case TypeSet:
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		if n > maxSetBits {
			return nil, r.errorf(fmt.Sprintf("set size %d out of range", n), nil)
		}
		return &SetType{BitSize: int(n)}, nil

	case TypeStaticArray:
		elem, err := readTypeRef(r, s)
		if err != nil {
			return nil, err
		}
		size, err := r.readInt32()
		if err != nil {
			return nil, err
		}
		if int64(size) > maxStaticArraySize {
			return nil, r.errorf(fmt.Sprintf("static array length 0x%x too large", size), nil)
		}
		t := &StaticArrayType{Elem: elem, Size: size}
		if s.FileVersion >= VersionMinStaticArrayStart {
			if t.StartIndex, err = r.readInt32(); err != nil {
				return nil, err
			}
		}
		return t, nil

	case TypeArray:
		elem, err := readTypeRef(r, s)
		if err != nil {
			return nil, err
		}
		return &ArrayType{Elem: elem}, nil

	case TypeRecord:
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		if uint64(n)*4 > uint64(r.remaining()) {
			return nil, r.errorf("record field count out of range", ErrInvalidIndex)
		}
		t := &RecordType{Fields: make([]Type, 0, n)}
		for i := uint32(0); i < n; i++ {
			f, err := readTypeRef(r, s)
			if err != nil {
				return nil, fmt.Errorf("record field %d: %w", i, err)
			}
			t.Fields = append(t.Fields, f)
		}
		return t, nil
	}
	return nil, r.errorf(fmt.Sprintf("invalid type code %d", byte(code)), nil)
}

// readTypeRef reads a uint32 type table index.
func readTypeRef(r *reader, s *Script) (Type, error) {
	at := r.pos()
	idx, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if uint64(idx) >= uint64(len(s.Types)) {
		return nil, &FormatError{Offset: r.base + at, Msg: fmt.Sprintf("type index %d", idx), Err: ErrInvalidIndex}
	}
	return s.Types[idx], nil
}

// encodeType writes one type record.
func encodeType(buf *bytes.Buffer, t Type, ctx *saveContext) error {
	h := t.Header()
	code := byte(t.Code())
	if h.Exported {
		code |= exportedFlag
	}
	buf.WriteByte(code)
	if err := t.encodePayload(buf, ctx); err != nil {
		return err
	}
	if h.Exported {
		writeLString(buf, strings.ToUpper(h.alias.resolve(h.Name)))
	}
	if ctx.version >= VersionMinAttributes {
		return encodeAttributes(buf, h.Attributes, ctx)
	}
	return nil
}
