package script

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Save context
// ---------------------------------------------------------------------------

// saveContext maps every registered object to its table index for one save.
// Keys are compared by identity.
type saveContext struct {
	version   int
	types     map[Type]uint32
	typeList  []Type
	functions map[Function]uint32
	globals   map[*GlobalVariable]uint32
}

func newSaveContext(s *Script) (*saveContext, error) {
	ctx := &saveContext{
		version:   s.FileVersion,
		types:     make(map[Type]uint32, len(s.Types)),
		typeList:  s.Types,
		functions: make(map[Function]uint32, len(s.Functions)),
		globals:   make(map[*GlobalVariable]uint32, len(s.GlobalVariables)),
	}
	for i, t := range s.Types {
		if t == nil {
			return nil, fmt.Errorf("type %d is nil", i)
		}
		if _, dup := ctx.types[t]; dup {
			return nil, fmt.Errorf("type %s is listed more than once", TypeName(t))
		}
		ctx.types[t] = uint32(i)
	}
	for i, f := range s.Functions {
		if f == nil {
			return nil, fmt.Errorf("function %d is nil", i)
		}
		if _, dup := ctx.functions[f]; dup {
			return nil, fmt.Errorf("function %s is listed more than once", FunctionName(f))
		}
		ctx.functions[f] = uint32(i)
	}
	for i, v := range s.GlobalVariables {
		if v == nil {
			return nil, fmt.Errorf("global variable %d is nil", i)
		}
		if _, dup := ctx.globals[v]; dup {
			return nil, fmt.Errorf("global variable %s is listed more than once", v.Name)
		}
		ctx.globals[v] = uint32(i)
	}
	return ctx, nil
}

func (ctx *saveContext) typeIndex(t Type) (uint32, error) {
	if t == nil {
		return 0, fmt.Errorf("%w: nil type", ErrUnreferencedObject)
	}
	idx, ok := ctx.types[t]
	if !ok {
		return 0, unreferenced("type", TypeName(t))
	}
	return idx, nil
}

func (ctx *saveContext) functionIndex(f Function) (uint32, error) {
	if f == nil {
		return 0, fmt.Errorf("%w: nil function", ErrUnreferencedObject)
	}
	idx, ok := ctx.functions[f]
	if !ok {
		return 0, unreferenced("function", FunctionName(f))
	}
	return idx, nil
}

func (ctx *saveContext) globalIndex(v *GlobalVariable) (uint32, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: nil global variable", ErrUnreferencedObject)
	}
	idx, ok := ctx.globals[v]
	if !ok {
		return 0, unreferenced("global variable", v.Name)
	}
	return idx, nil
}

// firstOfCode returns the first registered primitive type of code, or nil.
func (ctx *saveContext) firstOfCode(code TypeCode) Type {
	for _, t := range ctx.typeList {
		if p, ok := t.(*PrimitiveType); ok && p.Code() == code {
			return t
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Script saving
// ---------------------------------------------------------------------------

// Save encodes the script. Function bodies are laid out afresh, so
// instruction offsets and referenced flags are updated as a side effect.
func (s *Script) Save() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.encode(&buf); err != nil {
		return nil, err
	}
	log.Debugf("saved version %d script: %d bytes", s.FileVersion, buf.Len())
	return buf.Bytes(), nil
}

// SaveTo encodes the script and writes it to w. Nothing is written if
// encoding fails.
func (s *Script) SaveTo(w io.Writer) error {
	data, err := s.Save()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (s *Script) encode(buf *bytes.Buffer) error {
	if s.FileVersion < VersionLowest || s.FileVersion > VersionHighest {
		return unsupported("file version %d", s.FileVersion)
	}
	ctx, err := newSaveContext(s)
	if err != nil {
		return err
	}

	entry := int32(-1)
	if s.EntryPoint != nil {
		idx, err := ctx.functionIndex(s.EntryPoint)
		if err != nil {
			return fmt.Errorf("entry point: %w", err)
		}
		entry = int32(idx)
	}
	buf.Write(magic[:])
	WriteInt32(buf, int32(s.FileVersion))
	WriteInt32(buf, int32(len(s.Types)))
	WriteInt32(buf, int32(len(s.Functions)))
	WriteInt32(buf, int32(len(s.GlobalVariables)))
	WriteInt32(buf, entry)
	WriteInt32(buf, 0)

	for i, t := range s.Types {
		if err := encodeType(buf, t, ctx); err != nil {
			return fmt.Errorf("type %d (%s): %w", i, TypeName(t), err)
		}
	}

	// record start of each script function for the body patch
	records := make(map[*ScriptFunction]int)
	for i, f := range s.Functions {
		if sf, ok := f.(*ScriptFunction); ok {
			records[sf] = buf.Len()
		}
		if err := f.encodeRecord(buf, ctx); err != nil {
			return fmt.Errorf("function %d (%s): %w", i, FunctionName(f), err)
		}
		if attrs := f.Header().Attributes; len(attrs) != 0 {
			if err := encodeAttributes(buf, attrs, ctx); err != nil {
				return fmt.Errorf("function %d (%s): %w", i, FunctionName(f), err)
			}
		}
	}

	for i, v := range s.GlobalVariables {
		if err := encodeGlobal(buf, v, ctx); err != nil {
			return fmt.Errorf("global variable %d: %w", i, err)
		}
	}

	for _, f := range s.Functions {
		sf, ok := f.(*ScriptFunction)
		if !ok {
			continue
		}
		body, err := sf.encodeBody(ctx)
		if err != nil {
			return fmt.Errorf("function %s: %w", sf.Name, err)
		}
		sf.codeOffset = uint32(buf.Len())
		sf.codeLength = uint32(len(body))
		buf.Write(body)

		// the offset/length pair follows the flags byte
		slot := buf.Bytes()[records[sf]+1:]
		binary.LittleEndian.PutUint32(slot, sf.codeOffset)
		binary.LittleEndian.PutUint32(slot[4:], sf.codeLength)
	}
	return nil
}

// encodeBody lays out and encodes the instructions of f.
func (f *ScriptFunction) encodeBody(ctx *saveContext) ([]byte, error) {
	size := f.UpdateInstructionOffsets()
	table, err := f.crossReferences()
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	body.Grow(int(size))
	for _, insn := range f.Instructions {
		start := body.Len()
		if err := insn.encode(&body, ctx, table); err != nil {
			return nil, fmt.Errorf("%s at 0x%x: %w", insn.Code, insn.Offset, err)
		}
		if n := body.Len() - start; n != insn.Size() {
			return nil, fmt.Errorf("%s at 0x%x encoded to %d bytes, expected %d", insn.Code, insn.Offset, n, insn.Size())
		}
	}
	return body.Bytes(), nil
}
