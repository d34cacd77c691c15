package script

// File versions understood by the loader.
const (
	VersionLowest  = 12
	VersionHighest = 23

	// VersionMinAttributes is the first version with custom attributes on
	// types and the attribute flag on functions.
	VersionMinAttributes = 21
	// VersionMaxSetStackType is the last version whose runtime implements
	// setstacktype.
	VersionMaxSetStackType = 22
	// VersionMinStaticArrayStart is the first version storing a start
	// index for static arrays.
	VersionMinStaticArrayStart = 23
)

// DefaultSetStackTypeCutoff is the first file version in which opcode 0x0A
// is decoded as an unknown opcode instead of setstacktype.
const DefaultSetStackTypeCutoff = VersionMaxSetStackType

// magic is the file signature.
var magic = [4]byte{'I', 'F', 'P', 'S'}

// Script is an in-memory compiled script. Types, functions and globals are
// referenced by identity throughout the model; their table positions are
// only assigned when saving.
type Script struct {
	FileVersion int
	// EntryPoint may be nil.
	EntryPoint      Function
	Types           []Type
	Functions       []Function
	GlobalVariables []*GlobalVariable
}

// New creates an empty script of the given file version.
func New(version int) *Script {
	return &Script{FileVersion: version}
}

// LoadOptions adjusts decoding.
type LoadOptions struct {
	// SetStackTypeCutoff is the first file version in which 0x0A decodes
	// as an unknown opcode. Zero selects DefaultSetStackTypeCutoff.
	SetStackTypeCutoff int
}

func (o LoadOptions) cutoff() int {
	if o.SetStackTypeCutoff == 0 {
		return DefaultSetStackTypeCutoff
	}
	return o.SetStackTypeCutoff
}

// ScriptFunctions returns the functions implemented in bytecode, in table
// order.
func (s *Script) ScriptFunctions() []*ScriptFunction {
	var out []*ScriptFunction
	for _, f := range s.Functions {
		if sf, ok := f.(*ScriptFunction); ok {
			out = append(out, sf)
		}
	}
	return out
}

// FindFunction returns the first function named name, or nil.
func (s *Script) FindFunction(name string) Function {
	for _, f := range s.Functions {
		if f.Header().Name == name {
			return f
		}
	}
	return nil
}

// FindType returns the first type named name, or nil.
func (s *Script) FindType(name string) Type {
	for _, t := range s.Types {
		if t.Header().Name == name {
			return t
		}
	}
	return nil
}
