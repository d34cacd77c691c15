package script

import (
	"bytes"
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Script loading
// ---------------------------------------------------------------------------

// Load decodes a compiled script with default options.
func Load(data []byte) (*Script, error) {
	return LoadWithOptions(data, LoadOptions{})
}

// LoadFrom reads rd to the end and decodes the result.
func LoadFrom(rd io.Reader) (*Script, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Load(data)
}

// LoadWithOptions decodes a compiled script. Tables are read in file order:
// types, function records, globals, then each script function body from the
// code region its record points at.
func LoadWithOptions(data []byte, opts LoadOptions) (*Script, error) {
	r := newReader(data)

	sig, err := r.readBytes(len(magic))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(sig, magic[:]) {
		return nil, &FormatError{Offset: 0, Msg: fmt.Sprintf("signature %q", sig), Err: ErrInvalidMagic}
	}
	version, err := r.readInt32()
	if err != nil {
		return nil, err
	}
	if version < VersionLowest || version > VersionHighest {
		return nil, &FormatError{Offset: 4, Msg: fmt.Sprintf("version %d", version), Err: ErrVersion}
	}
	s := New(int(version))

	// every record is at least one byte, a global at least five
	numTypes, err := r.readCount("type", 1)
	if err != nil {
		return nil, err
	}
	numFuncs, err := r.readCount("function", 1)
	if err != nil {
		return nil, err
	}
	numVars, err := r.readCount("global variable", 5)
	if err != nil {
		return nil, err
	}
	entry, err := r.readInt32()
	if err != nil {
		return nil, err
	}
	if _, err := r.readInt32(); err != nil { // import table size, unused
		return nil, err
	}
	log.Debugf("loading version %d script: %d types, %d functions, %d globals", version, numTypes, numFuncs, numVars)

	// Types
	names := newNameTable()
	s.Types = make([]Type, 0, numTypes)
	for i := 0; i < numTypes; i++ {
		t, err := decodeType(r, s)
		if err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
		h := t.Header()
		wire := h.Name
		if h.Name == "" {
			h.Name = fmt.Sprintf("Type%d", i)
		}
		h.Name = names.claim(h.Name)
		if h.Name != wire {
			h.alias = nameAlias{display: h.Name, wire: wire}
		}
		s.Types = append(s.Types, t)
	}

	// Function records
	names = newNameTable()
	s.Functions = make([]Function, 0, numFuncs)
	for i := 0; i < numFuncs; i++ {
		f, err := decodeFunction(r, s)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		h := f.Header()
		if name := names.claim(h.Name); name != h.Name {
			h.alias = nameAlias{display: name, wire: h.Name}
			h.Name = name
		}
		s.Functions = append(s.Functions, f)
	}

	// Globals
	s.GlobalVariables = make([]*GlobalVariable, 0, numVars)
	for i := 0; i < numVars; i++ {
		v, err := decodeGlobal(r, s, i)
		if err != nil {
			return nil, fmt.Errorf("global variable %d: %w", i, err)
		}
		s.GlobalVariables = append(s.GlobalVariables, v)
	}

	// Bodies
	cutoff := opts.cutoff()
	for i, f := range s.Functions {
		sf, ok := f.(*ScriptFunction)
		if !ok {
			continue
		}
		body, err := r.slice(sf.codeOffset, sf.codeLength)
		if err != nil {
			return nil, fmt.Errorf("function %d (%s): %w", i, sf.Name, err)
		}
		if err := decodeBody(body, s, sf, cutoff); err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
	}

	if entry >= 0 && int(entry) < len(s.Functions) {
		s.EntryPoint = s.Functions[entry]
	}
	return s, nil
}

// nameTable hands out unique display names. The second entry named Foo
// becomes Foo_2, the third Foo_3.
type nameTable struct {
	used  map[string]bool
	count map[string]int
}

func newNameTable() *nameTable {
	return &nameTable{used: make(map[string]bool), count: make(map[string]int)}
}

func (n *nameTable) claim(name string) string {
	if !n.used[name] {
		n.used[name] = true
		return name
	}
	for {
		n.count[name]++
		candidate := fmt.Sprintf("%s_%d", name, n.count[name]+1)
		if !n.used[candidate] {
			n.used[candidate] = true
			return candidate
		}
	}
}
