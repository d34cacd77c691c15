package script

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Function: closed set of function table entries
// ---------------------------------------------------------------------------

// Function is a function table entry, either *ScriptFunction or
// *ExternalFunction.
type Function interface {
	Header() *FunctionHeader
	String() string

	encodeRecord(buf *bytes.Buffer, ctx *saveContext) error
}

// Function record flags.
const (
	funcExternal      = 1 << 0
	funcExported      = 1 << 1
	funcHasAttributes = 1 << 2
)

// FunctionHeader holds the fields shared by every function. A nil
// ReturnType means the function returns nothing; a nil Arguments slice means
// the signature is unknown.
type FunctionHeader struct {
	Name       string
	Exported   bool
	ReturnType Type
	Arguments  []Argument
	Attributes []*CustomAttribute

	alias nameAlias
}

// Header returns the shared header.
func (h *FunctionHeader) Header() *FunctionHeader { return h }

// IsVoid reports whether the function has no return value.
func (h *FunctionHeader) IsVoid() bool { return h.ReturnType == nil }

func (h *FunctionHeader) argumentList() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, a := range h.Arguments {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(a.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// FunctionName returns the name of f, or "" for nil.
func FunctionName(f Function) string {
	if f == nil {
		return ""
	}
	return f.Header().Name
}

// ArgumentDirection says whether an argument is passed by value or by
// reference.
type ArgumentDirection byte

const (
	ArgumentIn ArgumentDirection = iota
	ArgumentOut
)

func (d ArgumentDirection) String() string {
	if d == ArgumentOut {
		return "__out"
	}
	return "__in"
}

// Argument is one declared function argument. A nil Type is unknown.
type Argument struct {
	Type      Type
	Direction ArgumentDirection
	Name      string
}

func (a Argument) String() string {
	typ := "__unknown"
	if a.Type != nil {
		typ = a.Type.Header().Name
	}
	if a.Name == "" {
		return a.Direction.String() + " " + typ
	}
	return a.Direction.String() + " " + typ + " " + a.Name
}

// decodeFunction reads one function record, including its attributes.
func decodeFunction(r *reader, s *Script) (Function, error) {
	flags, err := r.readByte()
	if err != nil {
		return nil, err
	}
	exported := flags&funcExported != 0

	var f Function
	if flags&funcExternal != 0 {
		f, err = decodeExternalFunction(r, exported)
	} else {
		f, err = decodeScriptFunction(r, s, exported)
	}
	if err != nil {
		return nil, err
	}
	if flags&funcHasAttributes != 0 {
		attrs, err := decodeAttributes(r, s)
		if err != nil {
			return nil, err
		}
		f.Header().Attributes = attrs
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// ScriptFunction
// ---------------------------------------------------------------------------

// Script function declarations mark each argument with one of these.
const (
	declArgIn  = '@'
	declArgOut = '!'
)

// ScriptFunction is a function implemented in bytecode.
type ScriptFunction struct {
	FunctionHeader
	Instructions []*Instruction

	codeOffset uint32
	codeLength uint32
}

// NewScriptFunction creates an empty script function with no arguments.
func NewScriptFunction(name string, ret Type) *ScriptFunction {
	return &ScriptFunction{FunctionHeader: FunctionHeader{Name: name, ReturnType: ret, Arguments: []Argument{}}}
}

func decodeScriptFunction(r *reader, s *Script, exported bool) (*ScriptFunction, error) {
	f := &ScriptFunction{FunctionHeader: FunctionHeader{Exported: exported}}
	var err error
	if f.codeOffset, err = r.readUint32(); err != nil {
		return nil, err
	}
	if f.codeLength, err = r.readUint32(); err != nil {
		return nil, err
	}
	if !exported {
		f.Name = fmt.Sprintf("func_%x", f.codeOffset)
		f.Arguments = []Argument{}
		return f, nil
	}

	if f.Name, err = r.readLString(); err != nil {
		return nil, fmt.Errorf("failed to read function name: %w", err)
	}
	decl, err := r.readLString()
	if err != nil {
		return nil, fmt.Errorf("failed to read declaration of %s: %w", f.Name, err)
	}
	fields := strings.Split(decl, " ")
	if ret, err := strconv.Atoi(fields[0]); err == nil && ret >= 0 {
		if ret >= len(s.Types) {
			return nil, r.errorf(fmt.Sprintf("return type %d of %s", ret, f.Name), ErrInvalidIndex)
		}
		f.ReturnType = s.Types[ret]
	}
	f.Arguments = make([]Argument, 0, len(fields)-1)
	for i, field := range fields[1:] {
		if field == "" {
			return nil, r.errorf(fmt.Sprintf("empty argument %d in declaration of %s", i+1, f.Name), nil)
		}
		arg := Argument{Direction: ArgumentOut, Name: fmt.Sprintf("Arg%d", i+1)}
		if field[0] == declArgIn {
			arg.Direction = ArgumentIn
		}
		if idx, err := strconv.Atoi(field[1:]); err == nil && idx >= 0 {
			if idx >= len(s.Types) {
				return nil, r.errorf(fmt.Sprintf("argument %d type %d of %s", i+1, idx, f.Name), ErrInvalidIndex)
			}
			arg.Type = s.Types[idx]
		}
		f.Arguments = append(f.Arguments, arg)
	}
	return f, nil
}

func (f *ScriptFunction) declaration(ctx *saveContext) (string, error) {
	ret := int64(-1)
	if f.ReturnType != nil {
		idx, err := ctx.typeIndex(f.ReturnType)
		if err != nil {
			return "", fmt.Errorf("return type of %s: %w", f.Name, err)
		}
		ret = int64(idx)
	}
	var sb strings.Builder
	sb.WriteString(strconv.FormatInt(ret, 10))
	for i, a := range f.Arguments {
		idx := int64(-1)
		if a.Type != nil {
			n, err := ctx.typeIndex(a.Type)
			if err != nil {
				return "", fmt.Errorf("argument %d of %s: %w", i+1, f.Name, err)
			}
			idx = int64(n)
		}
		sb.WriteByte(' ')
		if a.Direction == ArgumentIn {
			sb.WriteByte(declArgIn)
		} else {
			sb.WriteByte(declArgOut)
		}
		sb.WriteString(strconv.FormatInt(idx, 10))
	}
	return sb.String(), nil
}

// encodeRecord writes the function record with a zero offset/length pair;
// the writer patches the pair once the body has been laid out.
func (f *ScriptFunction) encodeRecord(buf *bytes.Buffer, ctx *saveContext) error {
	var flags byte
	if f.Exported {
		flags |= funcExported
	}
	if len(f.Attributes) != 0 {
		flags |= funcHasAttributes
	}
	buf.WriteByte(flags)
	WriteUint32(buf, 0)
	WriteUint32(buf, 0)
	if !f.Exported {
		return nil
	}
	decl, err := f.declaration(ctx)
	if err != nil {
		return err
	}
	writeLString(buf, strings.ToUpper(f.alias.resolve(f.Name)))
	writeLString(buf, decl)
	return nil
}

func (f *ScriptFunction) String() string {
	var sb strings.Builder
	sb.WriteString(".function")
	if f.Exported {
		sb.WriteString("(export)")
	}
	sb.WriteByte(' ')
	if f.ReturnType == nil {
		sb.WriteString("void ")
	} else {
		sb.WriteString(f.ReturnType.Header().Name)
		sb.WriteByte(' ')
	}
	sb.WriteString(f.Name)
	sb.WriteString(f.argumentList())
	return sb.String()
}

// ArgumentVariable returns the variable for declared argument i, named after
// the argument.
func (f *ScriptFunction) ArgumentVariable(i int) (*ArgumentVariable, error) {
	if i < 0 || i >= len(f.Arguments) {
		return nil, fmt.Errorf("argument %d of %s out of range", i, f.Name)
	}
	idx := i
	if !f.IsVoid() {
		idx++
	}
	v, err := newArgumentVariable(idx, f.IsVoid())
	if err != nil {
		return nil, err
	}
	v.Name = f.Arguments[i].Name
	return v, nil
}

// ArgumentVariableNamed is ArgumentVariable with an explicit display name.
func (f *ScriptFunction) ArgumentVariableNamed(i int, name string) (*ArgumentVariable, error) {
	v, err := f.ArgumentVariable(i)
	if err != nil {
		return nil, err
	}
	v.Name = name
	return v, nil
}

// ReturnVariable returns the variable holding the result. It fails for void
// functions.
func (f *ScriptFunction) ReturnVariable() (*ArgumentVariable, error) {
	if f.IsVoid() {
		return nil, fmt.Errorf("function %s returns void", f.Name)
	}
	return newArgumentVariable(0, false)
}

// LocalVariable returns the variable for local slot i (0-based).
func (f *ScriptFunction) LocalVariable(i int) (*LocalVariable, error) {
	return NewLocal(i)
}

// InstructionsSize returns the encoded size of the function body.
func (f *ScriptFunction) InstructionsSize() int {
	n := 0
	for _, insn := range f.Instructions {
		n += insn.Size()
	}
	return n
}

// UpdateInstructionOffsets lays out the body from offset zero and returns
// its total length.
func (f *ScriptFunction) UpdateInstructionOffsets() uint32 {
	var off uint32
	for _, insn := range f.Instructions {
		insn.Offset = off
		off += uint32(insn.Size())
	}
	return off
}

// UpdateInstructionCrossReferences refreshes offsets if two instructions
// share one, then marks every branch target as referenced.
func (f *ScriptFunction) UpdateInstructionCrossReferences() error {
	_, err := f.crossReferences()
	return err
}

// crossReferences returns the instructions of f keyed by identity, with
// offsets guaranteed to be distinct.
func (f *ScriptFunction) crossReferences() (map[*Instruction]uint32, error) {
	relaid := false
	for {
		table := make(map[*Instruction]uint32, len(f.Instructions))
		seen := make(map[uint32]bool, len(f.Instructions))
		clash := false
		for _, insn := range f.Instructions {
			if seen[insn.Offset] {
				clash = true
				break
			}
			seen[insn.Offset] = true
			table[insn] = insn.Offset
		}
		if clash {
			// a fresh layout only clashes if one instruction is listed twice
			if relaid {
				return nil, fmt.Errorf("function %s lists an instruction more than once", f.Name)
			}
			f.UpdateInstructionOffsets()
			relaid = true
			continue
		}
		for _, insn := range f.Instructions {
			insn.Referenced = false
		}
		for _, insn := range f.Instructions {
			if err := insn.markTargets(table); err != nil {
				return nil, fmt.Errorf("function %s: %w", f.Name, err)
			}
		}
		return table, nil
	}
}
