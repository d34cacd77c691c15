package script

import (
	"bytes"
	"fmt"
	"math"
)

// noTarget marks an empty exception handler slot.
const noTarget = math.MaxUint32

// pendingTarget is a decoded branch target offset awaiting resolution to an
// instruction.
type pendingTarget uint32

func pendingOperand(off uint32) Operand {
	return Imm(&TypedData{Type: InstructionRef, Value: pendingTarget(off)})
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// decodeBody decodes the code region of fn and resolves its branch targets.
func decodeBody(r *reader, s *Script, fn *ScriptFunction, cutoff int) error {
	fn.Instructions = fn.Instructions[:0]
	for !r.eof() {
		insn, err := decodeInstruction(r, s, fn, cutoff)
		if err != nil {
			return fmt.Errorf("function %s: %w", fn.Name, err)
		}
		fn.Instructions = append(fn.Instructions, insn)
	}

	table := make(map[uint32]*Instruction, len(fn.Instructions))
	for _, insn := range fn.Instructions {
		table[insn.Offset] = insn
	}
	for _, insn := range fn.Instructions {
		for i, op := range insn.Operands {
			if op.Kind != OperandImmediate || op.Imm == nil {
				continue
			}
			off, ok := op.Imm.Value.(pendingTarget)
			if !ok {
				continue
			}
			target, ok := table[uint32(off)]
			if !ok {
				return &FormatError{
					Offset: r.base + int(insn.Offset),
					Msg:    fmt.Sprintf("function %s: %s branches to 0x%x, which is not an instruction", fn.Name, insn.Code, uint32(off)),
				}
			}
			insn.Operands[i] = TargetOperand(target)
			target.Referenced = true
		}
	}
	return nil
}

func decodeInstruction(r *reader, s *Script, fn *ScriptFunction, cutoff int) (*Instruction, error) {
	insn := &Instruction{Offset: uint32(r.pos())}
	first, err := r.readByte()
	if err != nil {
		return nil, err
	}
	insn.raw = first

	switch c := Code(first); c {
	case CodeCalculate, CodeCompare, CodePopEH:
		sub, err := r.readByte()
		if err != nil {
			return nil, err
		}
		insn.rawSub = sub
		insn.Code = familyCode(c, sub)
	case CodeSetFlag:
		// the sub-opcode follows the operand
		insn.Code = CodeUnknownSF
	case CodeSetStackType:
		if s.FileVersion >= cutoff {
			insn.Code = CodeUnknown1
		} else {
			insn.Code = CodeSetStackType
		}
	default:
		if _, ok := opcodeInfoTable[c]; ok {
			insn.Code = c
		} else {
			insn.Code = CodeUnknown1
		}
	}
	if err := decodeOperands(r, s, fn, insn); err != nil {
		return nil, fmt.Errorf("%s at 0x%x: %w", insn.Code, insn.Offset, err)
	}
	if insn.Code.IsUnknown() {
		log.Debugf("unknown opcode 0x%02x 0x%02x at 0x%x in %s", insn.raw, insn.rawSub, insn.Offset, fn.Name)
	}
	return insn, nil
}

// branchTarget turns a relative branch offset into a body offset. base is the
// position after the offset field, or for jnz and jz the end of the
// instruction.
func branchTarget(rel uint32, base int) uint32 {
	return rel + uint32(base)
}

func decodeOperands(r *reader, s *Script, fn *ScriptFunction, insn *Instruction) error {
	value := func() (Operand, error) { return decodeOperand(r, s, fn) }
	values := func(n int) error {
		for i := 0; i < n; i++ {
			op, err := value()
			if err != nil {
				return err
			}
			insn.Operands = append(insn.Operands, op)
		}
		return nil
	}

	switch insn.Code.OperandType() {
	case InlineNone:
		return nil

	case InlineValue:
		return values(1)

	case InlineValueValue:
		return values(2)

	case InlineCmpValue:
		return values(3)

	case InlineBrTarget:
		rel, err := r.readUint32()
		if err != nil {
			return err
		}
		insn.Operands = []Operand{pendingOperand(branchTarget(rel, r.pos()))}
		return nil

	case InlineBrTargetValue:
		rel, err := r.readUint32()
		if err != nil {
			return err
		}
		op, err := value()
		if err != nil {
			return err
		}
		insn.Operands = []Operand{pendingOperand(branchTarget(rel, r.pos())), op}
		return nil

	case InlineFunction:
		at := r.pos()
		idx, err := r.readUint32()
		if err != nil {
			return err
		}
		if uint64(idx) >= uint64(len(s.Functions)) {
			return &FormatError{Offset: r.base + at, Msg: fmt.Sprintf("function index %d", idx), Err: ErrInvalidIndex}
		}
		insn.Operands = []Operand{FunctionOperand(s.Functions[idx])}
		return nil

	case InlineType:
		t, err := readTypeRef(r, s)
		if err != nil {
			return err
		}
		insn.Operands = []Operand{TypeOperand(t)}
		return nil

	case InlineCmpValueType:
		if err := values(2); err != nil {
			return err
		}
		at := r.pos()
		op, err := value()
		if err != nil {
			return err
		}
		if op.Kind != OperandImmediate {
			insn.Operands = append(insn.Operands, op)
			return nil
		}
		if idx, ok := op.Imm.Value.(uint32); ok {
			if uint64(idx) >= uint64(len(s.Types)) {
				return &FormatError{Offset: r.base + at, Msg: fmt.Sprintf("type index %d", idx), Err: ErrInvalidIndex}
			}
			insn.carrier = op.Imm.Type
			op = TypeOperand(s.Types[idx])
		}
		insn.Operands = append(insn.Operands, op)
		return nil

	case InlineEH:
		var rels [4]uint32
		for i := range rels {
			v, err := r.readUint32()
			if err != nil {
				return err
			}
			rels[i] = v
		}
		end := r.pos()
		insn.Operands = make([]Operand, 4)
		for i, rel := range rels {
			if rel == noTarget {
				insn.Operands[i] = TargetOperand(nil)
			} else {
				insn.Operands[i] = pendingOperand(branchTarget(rel, end))
			}
		}
		return nil

	case InlineTypeVariable:
		t, err := readTypeRef(r, s)
		if err != nil {
			return err
		}
		v, err := decodeVariable(r, s, fn)
		if err != nil {
			return err
		}
		insn.Operands = []Operand{TypeOperand(t), Var(v)}
		return nil

	case InlineValueSF:
		if err := values(1); err != nil {
			return err
		}
		sub, err := r.readByte()
		if err != nil {
			return err
		}
		insn.rawSub = sub
		insn.Code = familyCode(CodeSetFlag, sub)
		return nil
	}
	return fmt.Errorf("unhandled operand type %d", insn.Code.OperandType())
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func (insn *Instruction) need(n int) error {
	if len(insn.Operands) < n {
		return unsupported("%s at 0x%x has %d operands, needs %d", insn.Code, insn.Offset, len(insn.Operands), n)
	}
	return nil
}

// immValue returns the value of immediate operand i.
func (insn *Instruction) immValue(i int) (any, error) {
	op := insn.Operands[i]
	if op.Kind != OperandImmediate || op.Imm == nil {
		return nil, unsupported("%s at 0x%x operand %d is not an immediate", insn.Code, insn.Offset, i)
	}
	return op.Imm.Value, nil
}

// relTarget returns the encoded displacement of a branch operand.
func (insn *Instruction) relTarget(op Operand, table map[*Instruction]uint32) (uint32, error) {
	t := op.Target()
	if t == nil {
		return noTarget, nil
	}
	off, ok := table[t]
	if !ok {
		return 0, fmt.Errorf("%w: %s at 0x%x", ErrDanglingReference, insn.Code, insn.Offset)
	}
	return off - insn.Offset - uint32(insn.Size()), nil
}

// encode writes insn. table holds the final offsets of the instructions of
// the enclosing function.
func (insn *Instruction) encode(buf *bytes.Buffer, ctx *saveContext, table map[*Instruction]uint32) error {
	code := insn.Code
	sf := code.OperandType() == InlineValueSF
	switch {
	case code == CodeUnknown1:
		buf.WriteByte(insn.raw)
	case code.IsUnknown():
		buf.WriteByte(byte(code.family()))
		if !sf {
			buf.WriteByte(insn.rawSub)
		}
	case code.family() != 0:
		buf.WriteByte(byte(code >> 8))
		if !sf {
			buf.WriteByte(byte(code))
		}
	default:
		buf.WriteByte(byte(code))
	}

	ops := insn.Operands
	switch code.OperandType() {
	case InlineNone:
		return nil

	case InlineValue, InlineValueValue, InlineCmpValue:
		n := map[OperandType]int{InlineValue: 1, InlineValueValue: 2, InlineCmpValue: 3}[code.OperandType()]
		if err := insn.need(n); err != nil {
			return err
		}
		for _, op := range ops[:n] {
			if err := op.encode(buf, ctx); err != nil {
				return err
			}
		}
		return nil

	case InlineBrTarget, InlineBrTargetValue:
		n := 1
		if code.OperandType() == InlineBrTargetValue {
			n = 2
		}
		if err := insn.need(n); err != nil {
			return err
		}
		if ops[0].Target() == nil {
			return fmt.Errorf("%w: %s at 0x%x has no target", ErrDanglingReference, code, insn.Offset)
		}
		rel, err := insn.relTarget(ops[0], table)
		if err != nil {
			return err
		}
		WriteUint32(buf, rel)
		if n == 2 {
			return ops[1].encode(buf, ctx)
		}
		return nil

	case InlineFunction:
		if err := insn.need(1); err != nil {
			return err
		}
		v, err := insn.immValue(0)
		if err != nil {
			return err
		}
		f, _ := v.(Function)
		idx, err := ctx.functionIndex(f)
		if err != nil {
			return err
		}
		WriteUint32(buf, idx)
		return nil

	case InlineType:
		if err := insn.need(1); err != nil {
			return err
		}
		v, err := insn.immValue(0)
		if err != nil {
			return err
		}
		t, _ := v.(Type)
		idx, err := ctx.typeIndex(t)
		if err != nil {
			return err
		}
		WriteUint32(buf, idx)
		return nil

	case InlineCmpValueType:
		if err := insn.need(3); err != nil {
			return err
		}
		for _, op := range ops[:2] {
			if err := op.encode(buf, ctx); err != nil {
				return err
			}
		}
		if !isRef(ops[2], TypeType) {
			return ops[2].encode(buf, ctx)
		}
		return insn.encodeTypeAsValue(buf, ctx)

	case InlineEH:
		if err := insn.need(4); err != nil {
			return err
		}
		for _, op := range ops[:4] {
			rel, err := insn.relTarget(op, table)
			if err != nil {
				return err
			}
			WriteUint32(buf, rel)
		}
		return nil

	case InlineTypeVariable:
		if err := insn.need(2); err != nil {
			return err
		}
		v, err := insn.immValue(0)
		if err != nil {
			return err
		}
		t, _ := v.(Type)
		idx, err := ctx.typeIndex(t)
		if err != nil {
			return err
		}
		WriteUint32(buf, idx)
		if ops[1].Kind != OperandVariable || ops[1].Var == nil {
			return unsupported("%s at 0x%x has no variable", code, insn.Offset)
		}
		return ops[1].Var.encodeIndex(buf, ctx)

	case InlineValueSF:
		if err := insn.need(1); err != nil {
			return err
		}
		if err := ops[0].encode(buf, ctx); err != nil {
			return err
		}
		if code.IsUnknown() {
			buf.WriteByte(insn.rawSub)
		} else {
			buf.WriteByte(byte(code))
		}
		return nil
	}
	return unsupported("unhandled operand type %d", code.OperandType())
}

// encodeTypeAsValue writes the type operand of `is` as a U32 immediate
// holding the type index.
func (insn *Instruction) encodeTypeAsValue(buf *bytes.Buffer, ctx *saveContext) error {
	v, err := insn.immValue(2)
	if err != nil {
		return err
	}
	t, _ := v.(Type)
	idx, err := ctx.typeIndex(t)
	if err != nil {
		return err
	}
	carrier := insn.carrier
	if carrier != nil {
		if _, err := ctx.typeIndex(carrier); err != nil {
			carrier = nil
		}
	}
	if carrier == nil {
		if carrier = ctx.firstOfCode(TypeU32); carrier == nil {
			return fmt.Errorf("is at 0x%x: %w", insn.Offset, unreferenced("type", "U32"))
		}
	}
	buf.WriteByte(byte(OperandImmediate))
	return (&TypedData{Type: carrier, Value: idx}).encode(buf, ctx)
}
