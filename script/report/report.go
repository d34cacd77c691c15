// Package report summarises the structure of a compiled script as a
// deterministic CBOR document. Two scripts with the same tables and bodies
// produce byte-identical reports, so reports can be hashed and compared.
package report

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/ifps/script"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("report: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// FunctionKind distinguishes script functions from imports.
type FunctionKind uint8

const (
	KindScript   FunctionKind = 1
	KindExternal FunctionKind = 2
)

// Report is the structural summary of one script file.
type Report struct {
	Version   int        `cbor:"1,keyasint"`
	FileSize  int        `cbor:"2,keyasint,omitempty"`
	FileHash  [32]byte   `cbor:"3,keyasint"`
	Entry     string     `cbor:"4,keyasint,omitempty"`
	Types     []Type     `cbor:"5,keyasint"`
	Functions []Function `cbor:"6,keyasint"`
	Globals   []Global   `cbor:"7,keyasint"`
}

// Type describes one type table entry.
type Type struct {
	Name        string   `cbor:"1,keyasint"`
	Code        string   `cbor:"2,keyasint"`
	Exported    bool     `cbor:"3,keyasint"`
	Declaration string   `cbor:"4,keyasint"`
	Attributes  []string `cbor:"5,keyasint,omitempty"`
}

// Function describes one function table entry. Body fields are set for
// script functions only.
type Function struct {
	Name         string       `cbor:"1,keyasint"`
	Kind         FunctionKind `cbor:"2,keyasint"`
	Exported     bool         `cbor:"3,keyasint"`
	Signature    string       `cbor:"4,keyasint"`
	Attributes   []string     `cbor:"5,keyasint,omitempty"`
	CodeSize     int          `cbor:"6,keyasint,omitempty"`
	Instructions int          `cbor:"7,keyasint,omitempty"`
	Unknown      int          `cbor:"8,keyasint,omitempty"` // opcodes outside the catalog
	Calls        []string     `cbor:"9,keyasint,omitempty"`
	BodyHash     [32]byte     `cbor:"10,keyasint"` // sha256 of the body listing
}

// Global describes one global variable.
type Global struct {
	Name     string `cbor:"1,keyasint"`
	Type     string `cbor:"2,keyasint"`
	Exported bool   `cbor:"3,keyasint"`
}

// Build summarises s. File fields are left empty.
func Build(s *script.Script) *Report {
	r := &Report{
		Version:   s.FileVersion,
		Entry:     script.FunctionName(s.EntryPoint),
		Types:     make([]Type, 0, len(s.Types)),
		Functions: make([]Function, 0, len(s.Functions)),
		Globals:   make([]Global, 0, len(s.GlobalVariables)),
	}
	for _, t := range s.Types {
		h := t.Header()
		r.Types = append(r.Types, Type{
			Name:        h.Name,
			Code:        t.Code().String(),
			Exported:    h.Exported,
			Declaration: t.String(),
			Attributes:  attributeStrings(h.Attributes),
		})
	}
	for _, f := range s.Functions {
		r.Functions = append(r.Functions, buildFunction(f))
	}
	for _, g := range s.GlobalVariables {
		r.Globals = append(r.Globals, Global{Name: g.Name, Type: script.TypeName(g.Type), Exported: g.Exported})
	}
	return r
}

// FromFile loads data and summarises it, including the file size and hash.
func FromFile(data []byte, opts script.LoadOptions) (*Report, error) {
	s, err := script.LoadWithOptions(data, opts)
	if err != nil {
		return nil, err
	}
	r := Build(s)
	r.FileSize = len(data)
	r.FileHash = sha256.Sum256(data)
	return r, nil
}

func buildFunction(f script.Function) Function {
	h := f.Header()
	fr := Function{
		Name:       h.Name,
		Exported:   h.Exported,
		Signature:  f.String(),
		Attributes: attributeStrings(h.Attributes),
	}
	sf, ok := f.(*script.ScriptFunction)
	if !ok {
		fr.Kind = KindExternal
		return fr
	}
	fr.Kind = KindScript
	fr.Instructions = len(sf.Instructions)

	digest := sha256.New()
	seen := make(map[string]bool)
	for _, insn := range sf.Instructions {
		fr.CodeSize += insn.Size()
		if insn.Code.IsUnknown() {
			fr.Unknown++
		}
		fmt.Fprintln(digest, insn.String())
		if insn.Code != script.CodeCall || len(insn.Operands) == 0 || insn.Operands[0].Imm == nil {
			continue
		}
		if callee, ok := insn.Operands[0].Imm.Value.(script.Function); ok {
			name := script.FunctionName(callee)
			if !seen[name] {
				seen[name] = true
				fr.Calls = append(fr.Calls, name)
			}
		}
	}
	copy(fr.BodyHash[:], digest.Sum(nil))
	return fr
}

func attributeStrings(attrs []*script.CustomAttribute) []string {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.String()
	}
	return out
}

// Marshal serializes r to canonical CBOR.
func Marshal(r *Report) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// Unmarshal deserializes a report from CBOR bytes.
func Unmarshal(data []byte) (*Report, error) {
	var r Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("report: unmarshal: %w", err)
	}
	return &r, nil
}
