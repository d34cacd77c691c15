package script

import (
	"bytes"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// Packed variable index layout: globals below maxGlobals, then arguments
// counting down from localBase and locals counting up from it.
const (
	maxGlobals = 0x40000000
	maxArgs    = 0x20000000
	localBase  = maxGlobals + maxArgs
)

// VariableKind distinguishes the three variable spaces.
type VariableKind byte

const (
	VariableGlobal VariableKind = iota
	VariableLocal
	VariableArgument
)

// Variable is an operand-addressable variable: *GlobalVariable,
// *LocalVariable or *ArgumentVariable.
type Variable interface {
	Kind() VariableKind
	VarName() string

	encodeIndex(buf *bytes.Buffer, ctx *saveContext) error
}

// isNilVariable reports whether v is nil or holds a nil pointer.
func isNilVariable(v Variable) bool {
	switch v := v.(type) {
	case nil:
		return true
	case *GlobalVariable:
		return v == nil
	case *LocalVariable:
		return v == nil
	case *ArgumentVariable:
		return v == nil
	}
	return false
}

// variableSize is the encoded size of a packed variable index.
const variableSize = 4

// GlobalVariable is an entry of the global variable table. Globals are
// referenced by identity; the index written on save is the global's position
// in Script.GlobalVariables.
type GlobalVariable struct {
	Type     Type
	Exported bool
	Name     string
}

// NewGlobal creates a global of type t. Only exported globals persist their
// name.
func NewGlobal(t Type, name string) *GlobalVariable {
	return &GlobalVariable{Type: t, Name: name}
}

func (v *GlobalVariable) Kind() VariableKind { return VariableGlobal }
func (v *GlobalVariable) VarName() string    { return v.Name }

func (v *GlobalVariable) encodeIndex(buf *bytes.Buffer, ctx *saveContext) error {
	idx, err := ctx.globalIndex(v)
	if err != nil {
		return err
	}
	WriteUint32(buf, idx)
	return nil
}

func (v *GlobalVariable) String() string {
	imp := ""
	if v.Exported {
		imp = "(import)"
	}
	return fmt.Sprintf(".global%s %s %s", imp, TypeName(v.Type), v.Name)
}

func decodeGlobal(r *reader, s *Script, index int) (*GlobalVariable, error) {
	t, err := readTypeRef(r, s)
	if err != nil {
		return nil, err
	}
	flags, err := r.readByte()
	if err != nil {
		return nil, err
	}
	v := &GlobalVariable{Type: t, Name: fmt.Sprintf("Global%d", index)}
	if flags&1 != 0 {
		if v.Name, err = r.readLString(); err != nil {
			return nil, fmt.Errorf("failed to read global %d name: %w", index, err)
		}
		v.Exported = true
	}
	return v, nil
}

func encodeGlobal(buf *bytes.Buffer, v *GlobalVariable, ctx *saveContext) error {
	idx, err := ctx.typeIndex(v.Type)
	if err != nil {
		return fmt.Errorf("global %s: %w", v.Name, err)
	}
	WriteUint32(buf, idx)
	WriteBool(buf, v.Exported)
	if v.Exported {
		writeLString(buf, strings.ToUpper(v.Name))
	}
	return nil
}

// LocalVariable is a stack slot of the running function. Index is the
// on-disk slot number, which is one more than the 0-based local number.
type LocalVariable struct {
	Index int
	Name  string
}

// NewLocal returns the variable for 0-based local i.
func NewLocal(i int) (*LocalVariable, error) {
	if i < 0 || i >= maxGlobals-1 {
		return nil, fmt.Errorf("local variable %d out of range", i)
	}
	return newLocal(i + 1), nil
}

func newLocal(index int) *LocalVariable {
	return &LocalVariable{Index: index, Name: fmt.Sprintf("Var%d", index)}
}

func (v *LocalVariable) Kind() VariableKind { return VariableLocal }
func (v *LocalVariable) VarName() string    { return v.Name }

func (v *LocalVariable) encodeIndex(buf *bytes.Buffer, _ *saveContext) error {
	if v == nil {
		return fmt.Errorf("%w: nil local variable", ErrUnreferencedObject)
	}
	WriteUint32(buf, uint32(localBase+v.Index))
	return nil
}

// ArgumentVariable is a parameter slot of the running function. Index 0 of a
// function with a result is the result itself.
type ArgumentVariable struct {
	Index int
	Name  string
}

func newArgumentVariable(index int, void bool) (*ArgumentVariable, error) {
	if index < 0 || index >= maxArgs {
		return nil, fmt.Errorf("argument %d out of range", index)
	}
	v := &ArgumentVariable{Index: index}
	switch {
	case !void && index == 0:
		v.Name = "RetVal"
	case void:
		v.Name = fmt.Sprintf("Arg%d", index+1)
	default:
		v.Name = fmt.Sprintf("Arg%d", index)
	}
	return v, nil
}

func (v *ArgumentVariable) Kind() VariableKind { return VariableArgument }
func (v *ArgumentVariable) VarName() string    { return v.Name }

func (v *ArgumentVariable) encodeIndex(buf *bytes.Buffer, _ *saveContext) error {
	if v == nil {
		return fmt.Errorf("%w: nil argument", ErrUnreferencedObject)
	}
	WriteUint32(buf, uint32(localBase-v.Index-1))
	return nil
}

// decodeVariable reads a packed variable index in the context of fn.
func decodeVariable(r *reader, s *Script, fn *ScriptFunction) (Variable, error) {
	at := r.pos()
	idx, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if idx < maxGlobals {
		if int(idx) >= len(s.GlobalVariables) {
			return nil, &FormatError{Offset: r.base + at, Msg: fmt.Sprintf("global variable %d", idx), Err: ErrInvalidIndex}
		}
		return s.GlobalVariables[idx], nil
	}
	slot := int64(idx) - localBase
	if slot >= 0 {
		return newLocal(int(slot)), nil
	}
	return newArgumentVariable(int(-slot-1), fn.IsVoid())
}
