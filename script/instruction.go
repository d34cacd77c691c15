package script

import (
	"fmt"
	"strings"
)

// Instruction is one decoded instruction of a script function body.
// Instructions are referenced by identity: branch operands point at the
// target *Instruction, and Replace rewrites an instruction in place so those
// references stay valid.
type Instruction struct {
	Code     Code
	Operands []Operand

	// Offset is the position within the function body. It is recomputed
	// on save.
	Offset uint32
	// Referenced is set when another instruction branches here.
	Referenced bool

	// raw and rawSub are the opcode bytes an unknown opcode was read from.
	raw    byte
	rawSub byte
	// carrier is the U32 type an `is` type operand was read with.
	carrier Type
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// NewInstruction creates an instruction after checking the operands against
// the opcode's operand shape.
func NewInstruction(code Code, ops ...Operand) (*Instruction, error) {
	if code.IsUnknown() {
		return nil, fmt.Errorf("cannot create instruction with unknown opcode %s", code)
	}
	if _, ok := opcodeInfoTable[code]; !ok {
		return nil, fmt.Errorf("invalid opcode 0x%04x", uint16(code))
	}
	if err := checkOperands(code, ops); err != nil {
		return nil, err
	}
	insn := &Instruction{Code: code, Operands: ops}
	for _, op := range ops {
		if t := op.Target(); t != nil {
			t.Referenced = true
		}
	}
	return insn, nil
}

func isValueOperand(op Operand) bool {
	switch op.Kind {
	case OperandVariable, OperandIndexedImmediate:
		return !isNilVariable(op.Var)
	case OperandImmediate:
		return op.Imm != nil && op.Imm.Type != nil && op.refCode() == 0
	case OperandIndexedVariable:
		return !isNilVariable(op.Var) && !isNilVariable(op.IndexVar)
	}
	return false
}

func isRef(op Operand, code TypeCode) bool {
	return op.refCode() == code
}

// checkOperands validates ops against the operand shape of code.
func checkOperands(code Code, ops []Operand) error {
	want := func(n int) error {
		if len(ops) != n {
			return fmt.Errorf("%s takes %d operands, got %d", code, n, len(ops))
		}
		return nil
	}
	bad := func(i int, what string) error {
		return fmt.Errorf("%s operand %d must be %s", code, i, what)
	}

	switch code.OperandType() {
	case InlineNone:
		return want(0)
	case InlineValue, InlineValueSF:
		if err := want(1); err != nil {
			return err
		}
		if !isValueOperand(ops[0]) {
			return bad(0, "a value")
		}
	case InlineBrTarget:
		if err := want(1); err != nil {
			return err
		}
		if ops[0].Target() == nil {
			return bad(0, "a branch target")
		}
	case InlineValueValue:
		if err := want(2); err != nil {
			return err
		}
		for i := range ops {
			if !isValueOperand(ops[i]) {
				return bad(i, "a value")
			}
		}
	case InlineBrTargetValue:
		if err := want(2); err != nil {
			return err
		}
		if ops[0].Target() == nil {
			return bad(0, "a branch target")
		}
		if !isValueOperand(ops[1]) {
			return bad(1, "a value")
		}
	case InlineFunction:
		if err := want(1); err != nil {
			return err
		}
		if !isRef(ops[0], TypeFunction) {
			return bad(0, "a function")
		}
		if f, _ := ops[0].Imm.Value.(Function); f == nil {
			return bad(0, "a function")
		}
	case InlineType:
		if err := want(1); err != nil {
			return err
		}
		if !isRef(ops[0], TypeType) {
			return bad(0, "a type")
		}
		if t, _ := ops[0].Imm.Value.(Type); t == nil {
			return bad(0, "a type")
		}
	case InlineCmpValue:
		if err := want(3); err != nil {
			return err
		}
		for i := range ops {
			if !isValueOperand(ops[i]) {
				return bad(i, "a value")
			}
		}
	case InlineCmpValueType:
		if err := want(3); err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			if !isValueOperand(ops[i]) {
				return bad(i, "a value")
			}
		}
		if !isRef(ops[2], TypeType) && !isValueOperand(ops[2]) {
			return bad(2, "a type or a value")
		}
	case InlineEH:
		if err := want(4); err != nil {
			return err
		}
		for i := range ops {
			if !isRef(ops[i], TypeInstruction) {
				return bad(i, "a branch target or nil")
			}
		}
	case InlineTypeVariable:
		if err := want(2); err != nil {
			return err
		}
		if !isRef(ops[0], TypeType) {
			return bad(0, "a type")
		}
		if t, _ := ops[0].Imm.Value.(Type); t == nil {
			return bad(0, "a type")
		}
		if ops[1].Kind != OperandVariable || isNilVariable(ops[1].Var) {
			return bad(1, "a variable")
		}
	}
	return nil
}

// NewBranch creates jump, jf, popjump or poppopjump to target.
func NewBranch(code Code, target *Instruction) (*Instruction, error) {
	return NewInstruction(code, TargetOperand(target))
}

// NewCondBranch creates jnz or jz to target, testing cond.
func NewCondBranch(code Code, target *Instruction, cond Operand) (*Instruction, error) {
	return NewInstruction(code, TargetOperand(target), cond)
}

// NewCall creates a call to f.
func NewCall(f Function) (*Instruction, error) {
	return NewInstruction(CodeCall, FunctionOperand(f))
}

// NewPushType creates a pushtype of t.
func NewPushType(t Type) (*Instruction, error) {
	return NewInstruction(CodePushType, TypeOperand(t))
}

// NewStartEH creates a starteh with the given handler targets. Any of
// finally, catch and catchFinally may be nil.
func NewStartEH(finally, catch, catchFinally, end *Instruction) *Instruction {
	insn := &Instruction{Code: CodeStartEH, Operands: []Operand{
		TargetOperand(finally),
		TargetOperand(catch),
		TargetOperand(catchFinally),
		TargetOperand(end),
	}}
	for _, t := range []*Instruction{finally, catch, catchFinally, end} {
		if t != nil {
			t.Referenced = true
		}
	}
	return insn
}

// NewTryFinally starts a try/finally block.
func NewTryFinally(finally, end *Instruction) *Instruction {
	return NewStartEH(finally, nil, nil, end)
}

// NewTryCatch starts a try/catch block.
func NewTryCatch(catch, end *Instruction) *Instruction {
	return NewStartEH(nil, catch, nil, end)
}

// NewTryCatchFinally starts a try/catch block followed by a finally block.
func NewTryCatchFinally(catch, finally, end *Instruction) *Instruction {
	return NewStartEH(nil, catch, finally, end)
}

// NewSetStackType creates a setstacktype. The opcode is only understood by
// older runtimes.
func NewSetStackType(t Type, v Variable) (*Instruction, error) {
	return NewInstruction(CodeSetStackType, TypeOperand(t), Var(v))
}

// ---------------------------------------------------------------------------
// Mutation
// ---------------------------------------------------------------------------

// SetOperand replaces operand i with an operand of a compatible shape.
func (insn *Instruction) SetOperand(i int, op Operand) error {
	if i < 0 || i >= len(insn.Operands) {
		return fmt.Errorf("%s has no operand %d", insn.Code, i)
	}
	if !insn.Operands[i].Similar(op) {
		return fmt.Errorf("%s operand %d: %s operand cannot replace %s operand", insn.Code, i, op.Kind, insn.Operands[i].Kind)
	}
	insn.Operands[i] = op
	if t := op.Target(); t != nil {
		t.Referenced = true
	}
	return nil
}

// Replace overwrites insn with the contents of other. Use it instead of
// swapping list elements so that branches to insn keep pointing at it.
func (insn *Instruction) Replace(other *Instruction) {
	insn.Code = other.Code
	insn.Operands = other.Operands
	insn.Offset = other.Offset
	insn.Referenced = other.Referenced
	insn.raw = other.raw
	insn.rawSub = other.rawSub
	insn.carrier = other.carrier
}

// ---------------------------------------------------------------------------
// Layout
// ---------------------------------------------------------------------------

// isTypeOperandSize is the size of an `is` type operand written as a U32
// immediate: shape byte, type index, value.
const isTypeOperandSize = 1 + typeIndexSize + 4

func (insn *Instruction) operandSize(i int) int {
	if i >= len(insn.Operands) {
		return 0
	}
	return insn.Operands[i].Size()
}

// Size returns the encoded size of the instruction.
func (insn *Instruction) Size() int {
	n := insn.Code.Size()
	switch insn.Code.OperandType() {
	case InlineValue, InlineValueSF:
		n += insn.operandSize(0)
	case InlineBrTarget:
		n += 4
	case InlineValueValue:
		n += insn.operandSize(0) + insn.operandSize(1)
	case InlineBrTargetValue:
		n += 4 + insn.operandSize(1)
	case InlineFunction, InlineType:
		n += 4
	case InlineCmpValue:
		n += insn.operandSize(0) + insn.operandSize(1) + insn.operandSize(2)
	case InlineCmpValueType:
		n += insn.operandSize(0) + insn.operandSize(1)
		if len(insn.Operands) > 2 && isRef(insn.Operands[2], TypeType) {
			n += isTypeOperandSize
		} else {
			n += insn.operandSize(2)
		}
	case InlineEH:
		n += 4 * 4
	case InlineTypeVariable:
		n += 4 + variableSize
	}
	return n
}

// markTargets checks that every branch target of insn belongs to the same
// function and flags the targets as referenced.
func (insn *Instruction) markTargets(table map[*Instruction]uint32) error {
	var slots int
	nullable := false
	switch insn.Code.OperandType() {
	case InlineBrTarget, InlineBrTargetValue:
		slots = 1
	case InlineEH:
		slots = 4
		nullable = true
	default:
		return nil
	}
	for i := 0; i < slots && i < len(insn.Operands); i++ {
		t := insn.Operands[i].Target()
		if t == nil {
			if nullable {
				continue
			}
			return fmt.Errorf("%w: %s at 0x%x has no target", ErrDanglingReference, insn.Code, insn.Offset)
		}
		if _, ok := table[t]; !ok {
			return fmt.Errorf("%w: %s at 0x%x", ErrDanglingReference, insn.Code, insn.Offset)
		}
		t.Referenced = true
	}
	return nil
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// String renders the instruction, preceded by a label line if it is a branch
// target.
func (insn *Instruction) String() string {
	return insn.text(false)
}

func (insn *Instruction) text(indent bool) string {
	var sb strings.Builder
	if insn.Referenced {
		fmt.Fprintf(&sb, "loc_%x:\n", insn.Offset)
	}
	if indent {
		sb.WriteByte('\t')
	}
	sb.WriteString(insn.Code.String())
	for i, op := range insn.Operands {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(op.String())
	}
	return sb.String()
}
