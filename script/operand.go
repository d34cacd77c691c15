package script

import (
	"bytes"
	"fmt"
)

// OperandKind is the shape byte of a value operand.
type OperandKind byte

const (
	OperandVariable OperandKind = iota
	OperandImmediate
	OperandIndexedImmediate
	OperandIndexedVariable
)

func (k OperandKind) String() string {
	switch k {
	case OperandVariable:
		return "variable"
	case OperandImmediate:
		return "immediate"
	case OperandIndexedImmediate:
		return "indexed-immediate"
	case OperandIndexedVariable:
		return "indexed-variable"
	}
	return fmt.Sprintf("OperandKind(%d)", byte(k))
}

// Operand is one instruction operand. Which fields are set depends on Kind:
//
//	OperandVariable          Var
//	OperandImmediate         Imm
//	OperandIndexedImmediate  Var[Index]
//	OperandIndexedVariable   Var[IndexVar]
//
// Branch targets, call targets and type arguments are immediates whose type
// is one of the reference pseudo types.
type Operand struct {
	Kind     OperandKind
	Var      Variable
	Imm      *TypedData
	Index    uint32
	IndexVar Variable
}

// Var returns a variable operand.
func Var(v Variable) Operand {
	return Operand{Kind: OperandVariable, Var: v}
}

// Imm returns an immediate operand.
func Imm(d *TypedData) Operand {
	return Operand{Kind: OperandImmediate, Imm: d}
}

// Elem returns an array element operand with a constant index.
func Elem(arr Variable, idx uint32) Operand {
	return Operand{Kind: OperandIndexedImmediate, Var: arr, Index: idx}
}

// ElemVar returns an array element operand indexed by another variable.
func ElemVar(arr, idx Variable) Operand {
	return Operand{Kind: OperandIndexedVariable, Var: arr, IndexVar: idx}
}

// TypeOperand refers to a type table entry.
func TypeOperand(t Type) Operand {
	return Imm(&TypedData{Type: TypeRef, Value: t})
}

// FunctionOperand refers to a function table entry.
func FunctionOperand(f Function) Operand {
	return Imm(&TypedData{Type: FunctionRef, Value: f})
}

// TargetOperand refers to an instruction. A nil target is only valid in
// exception handler slots.
func TargetOperand(insn *Instruction) Operand {
	return Imm(&TypedData{Type: InstructionRef, Value: insn})
}

// refCode returns the pseudo type code of an immediate reference, or 0.
func (o Operand) refCode() TypeCode {
	if o.Kind != OperandImmediate || o.Imm == nil || o.Imm.Type == nil {
		return 0
	}
	if c := o.Imm.Type.Code(); c.IsReference() {
		return c
	}
	return 0
}

// Target returns the instruction an instruction reference points at.
func (o Operand) Target() *Instruction {
	if o.refCode() != TypeInstruction {
		return nil
	}
	insn, _ := o.Imm.Value.(*Instruction)
	return insn
}

// Similar reports whether other may replace o in place: same kind, and for
// immediates either the same reference pseudo type or two known value types.
func (o Operand) Similar(other Operand) bool {
	if o.Kind != other.Kind {
		return false
	}
	if o.Kind != OperandImmediate {
		return true
	}
	if o.Imm == nil || other.Imm == nil || o.Imm.Type == nil || other.Imm.Type == nil {
		return false
	}
	a, b := o.Imm.Type.Code(), other.Imm.Type.Code()
	if a.IsReference() || b.IsReference() {
		return a == b
	}
	return a != TypeUnknown && b != TypeUnknown
}

// Size returns the encoded size including the shape byte. Reference
// immediates count only their 4-byte index.
func (o Operand) Size() int {
	switch o.Kind {
	case OperandVariable:
		return 1 + variableSize
	case OperandImmediate:
		if o.Imm == nil || o.Imm.Type == nil {
			return 1
		}
		if o.refCode() != 0 {
			return o.Imm.Size()
		}
		return 1 + o.Imm.Size()
	case OperandIndexedImmediate:
		return 1 + variableSize + 4
	case OperandIndexedVariable:
		return 1 + 2*variableSize
	}
	return 1
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandVariable:
		return variableName(o.Var)
	case OperandImmediate:
		if o.Imm == nil {
			return ""
		}
		return o.Imm.String()
	case OperandIndexedImmediate:
		return fmt.Sprintf("%s[%d]", variableName(o.Var), o.Index)
	case OperandIndexedVariable:
		return fmt.Sprintf("%s[%s]", variableName(o.Var), variableName(o.IndexVar))
	}
	return ""
}

func variableName(v Variable) string {
	if isNilVariable(v) {
		return ""
	}
	return v.VarName()
}

// decodeOperand reads a value operand: a shape byte then its payload.
func decodeOperand(r *reader, s *Script, fn *ScriptFunction) (Operand, error) {
	b, err := r.readByte()
	if err != nil {
		return Operand{}, err
	}
	switch OperandKind(b) {
	case OperandVariable:
		v, err := decodeVariable(r, s, fn)
		return Var(v), err
	case OperandImmediate:
		d, err := decodeTypedData(r, s)
		return Imm(d), err
	case OperandIndexedImmediate:
		v, err := decodeVariable(r, s, fn)
		if err != nil {
			return Operand{}, err
		}
		idx, err := r.readUint32()
		return Elem(v, idx), err
	case OperandIndexedVariable:
		v, err := decodeVariable(r, s, fn)
		if err != nil {
			return Operand{}, err
		}
		idx, err := decodeVariable(r, s, fn)
		return ElemVar(v, idx), err
	}
	r.offset--
	return Operand{}, r.errorf(fmt.Sprintf("invalid operand shape %d", b), nil)
}

// encode writes a value operand.
func (o Operand) encode(buf *bytes.Buffer, ctx *saveContext) error {
	switch o.Kind {
	case OperandVariable:
		if o.Var == nil {
			return unsupported("variable operand without a variable")
		}
		buf.WriteByte(byte(o.Kind))
		return o.Var.encodeIndex(buf, ctx)
	case OperandImmediate:
		if o.Imm == nil {
			return unsupported("immediate operand without a value")
		}
		if c := o.refCode(); c != 0 {
			return unsupported("immediate operand is of incorrect type %s", c)
		}
		buf.WriteByte(byte(o.Kind))
		return o.Imm.encode(buf, ctx)
	case OperandIndexedImmediate:
		if o.Var == nil {
			return unsupported("indexed operand without an array")
		}
		buf.WriteByte(byte(o.Kind))
		if err := o.Var.encodeIndex(buf, ctx); err != nil {
			return err
		}
		WriteUint32(buf, o.Index)
		return nil
	case OperandIndexedVariable:
		if o.Var == nil || o.IndexVar == nil {
			return unsupported("indexed operand without an array or index")
		}
		buf.WriteByte(byte(o.Kind))
		if err := o.Var.encodeIndex(buf, ctx); err != nil {
			return err
		}
		return o.IndexVar.encodeIndex(buf, ctx)
	}
	return unsupported("invalid operand shape %d", byte(o.Kind))
}
