package script

import "fmt"

// Code identifies an opcode. One-byte opcodes use the low byte only; the
// two-byte families put the family byte in the high byte and the sub-opcode
// in the low byte.
type Code uint16

const (
	// ========================================================================
	// One-byte opcodes
	// ========================================================================

	CodeAssign       Code = 0x00
	CodeCalculate    Code = 0x01 // family: second byte selects the ALU op
	CodePush         Code = 0x02
	CodePushVar      Code = 0x03
	CodePop          Code = 0x04
	CodeCall         Code = 0x05
	CodeJump         Code = 0x06
	CodeJumpNZ       Code = 0x07
	CodeJumpZ        Code = 0x08
	CodeRet          Code = 0x09
	CodeSetStackType Code = 0x0A
	CodePushType     Code = 0x0B
	CodeCompare      Code = 0x0C // family: second byte selects the comparison
	CodeCallVar      Code = 0x0D
	CodeSetPtr       Code = 0x0E
	CodeSetZ         Code = 0x0F
	CodeNeg          Code = 0x10
	CodeSetFlag      Code = 0x11 // family: second byte follows the operand
	CodeJumpF        Code = 0x12
	CodeStartEH      Code = 0x13
	CodePopEH        Code = 0x14 // family: second byte selects the block end
	CodeNot          Code = 0x15
	CodeCpval        Code = 0x16
	CodeInc          Code = 0x17
	CodeDec          Code = 0x18
	CodePopJump      Code = 0x19
	CodePopPopJump   Code = 0x1A
	CodeNop          Code = 0xFF

	// ========================================================================
	// Calculate family (0x01 xx)
	// ========================================================================

	CodeAdd Code = CodeCalculate<<8 | 0
	CodeSub Code = CodeCalculate<<8 | 1
	CodeMul Code = CodeCalculate<<8 | 2
	CodeDiv Code = CodeCalculate<<8 | 3
	CodeMod Code = CodeCalculate<<8 | 4
	CodeShl Code = CodeCalculate<<8 | 5
	CodeShr Code = CodeCalculate<<8 | 6
	CodeAnd Code = CodeCalculate<<8 | 7
	CodeOr  Code = CodeCalculate<<8 | 8
	CodeXor Code = CodeCalculate<<8 | 9

	// ========================================================================
	// Compare family (0x0C xx)
	// ========================================================================

	CodeGe Code = CodeCompare<<8 | 0
	CodeLe Code = CodeCompare<<8 | 1
	CodeGt Code = CodeCompare<<8 | 2
	CodeLt Code = CodeCompare<<8 | 3
	CodeNe Code = CodeCompare<<8 | 4
	CodeEq Code = CodeCompare<<8 | 5
	CodeIn Code = CodeCompare<<8 | 6
	CodeIs Code = CodeCompare<<8 | 7

	// ========================================================================
	// SetFlag family (0x11 operand xx)
	// ========================================================================

	CodeSetFlagNZ Code = CodeSetFlag<<8 | 0
	CodeSetFlagZ  Code = CodeSetFlag<<8 | 1

	// ========================================================================
	// PopEH family (0x14 xx)
	// ========================================================================

	CodeEndTry     Code = CodePopEH<<8 | 0
	CodeEndFinally Code = CodePopEH<<8 | 1
	CodeEndCatch   Code = CodePopEH<<8 | 2
	CodeEndCF      Code = CodePopEH<<8 | 3

	// ========================================================================
	// Unknown opcodes: decoding never fails on these, the raw bytes are kept
	// ========================================================================

	CodeUnknown1     Code = 0xFF00
	CodeUnknownALU   Code = 0xFF01
	CodeUnknownCMP   Code = 0xFF02
	CodeUnknownSF    Code = 0xFF03
	CodeUnknownPopEH Code = 0xFF04
)

// OperandType is the operand shape of an opcode.
type OperandType byte

const (
	InlineNone          OperandType = iota
	InlineValue                     // one value operand
	InlineBrTarget                  // one branch target
	InlineValueValue                // two value operands
	InlineBrTargetValue             // branch target then a value
	InlineFunction                  // function index
	InlineType                      // type index
	InlineCmpValue                  // destination and two values
	InlineCmpValueType              // destination, value and a type
	InlineEH                        // four nullable branch targets
	InlineTypeVariable              // type index and a variable
	InlineValueSF                   // one value, opcode's second byte after it
)

// FlowControl describes how an opcode affects control flow.
type FlowControl byte

const (
	FlowNext FlowControl = iota
	FlowCall
	FlowBranch
	FlowCondBranch
	FlowReturn
)

// StackBehaviour describes the stack effect of an opcode.
type StackBehaviour byte

const (
	Push0 StackBehaviour = iota
	Push1
	Pop0
	Pop1
	Pop2
	VarPop
)

// OpcodeInfo provides metadata about each opcode.
type OpcodeInfo struct {
	Name        string
	OperandType OperandType
	FlowControl FlowControl
	Push        StackBehaviour
	Pop         StackBehaviour
}

// opcodeInfoTable is the opcode catalog. It is never modified after package
// initialization.
var opcodeInfoTable = map[Code]OpcodeInfo{
	CodeAssign:       {"assign", InlineValueValue, FlowNext, Push0, Pop0},
	CodePush:         {"push", InlineValue, FlowNext, Push1, Pop0},
	CodePushVar:      {"pushvar", InlineValue, FlowNext, Push1, Pop0},
	CodePop:          {"pop", InlineNone, FlowNext, Push0, Pop1},
	CodeCall:         {"call", InlineFunction, FlowCall, Push0, Pop0},
	CodeJump:         {"jump", InlineBrTarget, FlowBranch, Push0, Pop0},
	CodeJumpNZ:       {"jnz", InlineBrTargetValue, FlowCondBranch, Push0, Pop0},
	CodeJumpZ:        {"jz", InlineBrTargetValue, FlowCondBranch, Push0, Pop0},
	CodeRet:          {"ret", InlineNone, FlowReturn, Push0, VarPop},
	CodeSetStackType: {"setstacktype", InlineTypeVariable, FlowNext, Push0, Pop0},
	CodePushType:     {"pushtype", InlineType, FlowNext, Push1, Pop0},
	CodeCallVar:      {"callvar", InlineValue, FlowCall, Push1, Pop0},
	CodeSetPtr:       {"setptr", InlineValueValue, FlowNext, Push0, Pop0},
	CodeSetZ:         {"setz", InlineValue, FlowNext, Push0, Pop0},
	CodeNeg:          {"neg", InlineValue, FlowNext, Push0, Pop0},
	CodeJumpF:        {"jf", InlineBrTarget, FlowNext, Push0, Pop0},
	CodeStartEH:      {"starteh", InlineEH, FlowNext, Push0, Pop0},
	CodeNot:          {"not", InlineValue, FlowNext, Push0, Pop0},
	CodeCpval:        {"cpval", InlineValueValue, FlowNext, Push0, Pop0},
	CodeInc:          {"inc", InlineValue, FlowNext, Push0, Pop0},
	CodeDec:          {"dec", InlineValue, FlowNext, Push0, Pop0},
	CodePopJump:      {"popjump", InlineBrTarget, FlowBranch, Push0, Pop1},
	CodePopPopJump:   {"poppopjump", InlineBrTarget, FlowBranch, Push0, Pop2},
	CodeNop:          {"nop", InlineNone, FlowNext, Push0, Pop0},

	CodeAdd: {"add", InlineValueValue, FlowNext, Push0, Pop0},
	CodeSub: {"sub", InlineValueValue, FlowNext, Push0, Pop0},
	CodeMul: {"mul", InlineValueValue, FlowNext, Push0, Pop0},
	CodeDiv: {"div", InlineValueValue, FlowNext, Push0, Pop0},
	CodeMod: {"mod", InlineValueValue, FlowNext, Push0, Pop0},
	CodeShl: {"shl", InlineValueValue, FlowNext, Push0, Pop0},
	CodeShr: {"shr", InlineValueValue, FlowNext, Push0, Pop0},
	CodeAnd: {"and", InlineValueValue, FlowNext, Push0, Pop0},
	CodeOr:  {"or", InlineValueValue, FlowNext, Push0, Pop0},
	CodeXor: {"xor", InlineValueValue, FlowNext, Push0, Pop0},

	CodeGe: {"ge", InlineCmpValue, FlowNext, Push0, Pop0},
	CodeLe: {"le", InlineCmpValue, FlowNext, Push0, Pop0},
	CodeGt: {"gt", InlineCmpValue, FlowNext, Push0, Pop0},
	CodeLt: {"lt", InlineCmpValue, FlowNext, Push0, Pop0},
	CodeNe: {"ne", InlineCmpValue, FlowNext, Push0, Pop0},
	CodeEq: {"eq", InlineCmpValue, FlowNext, Push0, Pop0},
	CodeIn: {"in", InlineCmpValue, FlowNext, Push0, Pop0},
	CodeIs: {"is", InlineCmpValueType, FlowNext, Push0, Pop0},

	CodeSetFlagNZ: {"sfnz", InlineValueSF, FlowNext, Push0, Pop0},
	CodeSetFlagZ:  {"sfz", InlineValueSF, FlowNext, Push0, Pop0},

	CodeEndTry:     {"endtry", InlineNone, FlowNext, Push0, Pop0},
	CodeEndFinally: {"endfinally", InlineNone, FlowNext, Push0, Pop0},
	CodeEndCatch:   {"endcatch", InlineNone, FlowNext, Push0, Pop0},
	CodeEndCF:      {"endcf", InlineNone, FlowNext, Push0, Pop0},

	CodeUnknown1:     {"UNKNOWN1", InlineNone, FlowNext, Push0, Pop0},
	CodeUnknownALU:   {"UNKNOWN_ALU", InlineNone, FlowNext, Push0, Pop0},
	CodeUnknownCMP:   {"UNKNOWN_CMP", InlineNone, FlowNext, Push0, Pop0},
	CodeUnknownSF:    {"UNKNOWN_SF", InlineValueSF, FlowNext, Push0, Pop0},
	CodeUnknownPopEH: {"UNKNOWN_POPEH", InlineNone, FlowNext, Push0, Pop0},
}

// codesByName maps mnemonics back to codes.
var codesByName = func() map[string]Code {
	m := make(map[string]Code, len(opcodeInfoTable))
	for c, info := range opcodeInfoTable {
		m[info.Name] = c
	}
	return m
}()

// Info returns metadata for an opcode. Codes missing from the catalog report
// a placeholder name and no operands.
func (c Code) Info() OpcodeInfo {
	if info, ok := opcodeInfoTable[c]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%04X)", uint16(c))}
}

// String returns the mnemonic.
func (c Code) String() string {
	return c.Info().Name
}

// OperandType returns the operand shape of the opcode.
func (c Code) OperandType() OperandType {
	return c.Info().OperandType
}

// family returns the family byte of a two-byte opcode, or 0.
func (c Code) family() Code {
	switch c {
	case CodeUnknownALU:
		return CodeCalculate
	case CodeUnknownCMP:
		return CodeCompare
	case CodeUnknownSF:
		return CodeSetFlag
	case CodeUnknownPopEH:
		return CodePopEH
	}
	switch hi := c >> 8; hi {
	case CodeCalculate, CodeCompare, CodeSetFlag, CodePopEH:
		return hi
	}
	return 0
}

// IsUnknown reports whether c is one of the unknown-opcode sentinels.
func (c Code) IsUnknown() bool {
	return c >= CodeUnknown1 && c <= CodeUnknownPopEH
}

// Size returns the number of opcode bytes.
func (c Code) Size() int {
	if c.family() != 0 {
		return 2
	}
	return 1
}

// LookupCode returns the opcode for a mnemonic.
func LookupCode(name string) (Code, bool) {
	c, ok := codesByName[name]
	return c, ok
}

// familyCode maps a family byte and sub-opcode to a catalog code, or the
// family's unknown sentinel.
func familyCode(family Code, sub byte) Code {
	c := family<<8 | Code(sub)
	if _, ok := opcodeInfoTable[c]; ok {
		return c
	}
	switch family {
	case CodeCalculate:
		return CodeUnknownALU
	case CodeCompare:
		return CodeUnknownCMP
	case CodeSetFlag:
		return CodeUnknownSF
	}
	return CodeUnknownPopEH
}
