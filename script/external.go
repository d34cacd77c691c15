package script

import (
	"bytes"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Calling conventions
// ---------------------------------------------------------------------------

// CallingConvention is the native calling convention of an import.
type CallingConvention byte

const (
	CallRegister CallingConvention = iota
	CallPascal
	CallCDecl
	CallStdcall
)

func (c CallingConvention) String() string {
	switch c {
	case CallRegister:
		return "__fastcall"
	case CallPascal:
		return "__pascal"
	case CallCDecl:
		return "__cdecl"
	case CallStdcall:
		return "__stdcall"
	}
	return ""
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// Declaration prefixes that select the import kind.
const (
	declDLL   = "dll:"
	declClass = "class:"
	declCOM   = "intf:."
)

// Class method imports use these one-byte bodies for the two built-ins.
const (
	classCastToType = '+'
	classSetNil     = '-'
	classSeparator  = '|'
	classProperty   = '@'
)

// Declaration describes how an external function is bound: *DLLDeclaration,
// *ClassDeclaration, *COMDeclaration or *InternalDeclaration.
type Declaration interface {
	// DeclName is the name implied by the declaration, or "".
	DeclName() string
	String() string

	encodeBody(buf *bytes.Buffer) error
}

// DLLDeclaration imports a procedure from a DLL.
type DLLDeclaration struct {
	DLL               string
	Proc              string
	Convention        CallingConvention
	DelayLoad         bool
	AlteredSearchPath bool
}

func (d *DLLDeclaration) DeclName() string { return d.DLL + "!" + d.Proc }

func (d *DLLDeclaration) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `dll("%s","%s"`, escapeQuotes(d.DLL), escapeQuotes(d.Proc))
	if d.DelayLoad {
		sb.WriteString(", delayload")
	}
	if d.AlteredSearchPath {
		sb.WriteString(", alteredsearchpath")
	}
	sb.WriteString(") ")
	sb.WriteString(d.Convention.String())
	return sb.String()
}

func (d *DLLDeclaration) encodeBody(buf *bytes.Buffer) error {
	if strings.IndexByte(d.DLL, 0) >= 0 || strings.IndexByte(d.Proc, 0) >= 0 {
		return unsupported("dll import %s contains a NUL byte", d.DeclName())
	}
	buf.WriteString(declDLL)
	buf.WriteString(d.DLL)
	buf.WriteByte(0)
	buf.WriteString(d.Proc)
	buf.WriteByte(0)
	buf.WriteByte(byte(d.Convention))
	WriteBool(buf, d.DelayLoad)
	WriteBool(buf, d.AlteredSearchPath)
	return nil
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// ClassDeclaration imports a method or property of a host class.
type ClassDeclaration struct {
	Class      string
	Func       string
	Property   bool
	Convention CallingConvention
}

// builtin returns the one-byte body for the built-in class helpers.
func (d *ClassDeclaration) builtin() (byte, bool) {
	if d.Class != "Class" {
		return 0, false
	}
	switch d.Func {
	case "CastToType":
		return classCastToType, true
	case "SetNil":
		return classSetNil, true
	}
	return 0, false
}

func (d *ClassDeclaration) DeclName() string { return d.Class + "->" + d.Func }

func (d *ClassDeclaration) String() string {
	prop := ""
	if d.Property {
		prop = ", property"
	}
	return fmt.Sprintf("class(%s, %s%s) %s", d.Class, d.Func, prop, d.Convention)
}

func (d *ClassDeclaration) encodeBody(buf *bytes.Buffer) error {
	buf.WriteString(declClass)
	if b, ok := d.builtin(); ok {
		buf.WriteByte(b)
		return nil
	}
	if strings.IndexByte(d.Class, classSeparator) >= 0 || strings.IndexByte(d.Func, classSeparator) >= 0 {
		return unsupported("class import %s contains '|'", d.DeclName())
	}
	buf.WriteString(d.Class)
	buf.WriteByte(classSeparator)
	buf.WriteString(d.Func)
	if d.Property {
		buf.WriteByte(classProperty)
	}
	buf.WriteByte(classSeparator)
	buf.WriteByte(byte(d.Convention))
	return nil
}

// COMDeclaration calls a COM interface method by vtable slot.
type COMDeclaration struct {
	VTableIndex uint32
	Convention  CallingConvention
}

func (d *COMDeclaration) DeclName() string {
	return fmt.Sprintf("CoInterface->vtbl[%d]", d.VTableIndex)
}

func (d *COMDeclaration) String() string {
	return fmt.Sprintf("com(%d) %s", d.VTableIndex, d.Convention)
}

func (d *COMDeclaration) encodeBody(buf *bytes.Buffer) error {
	buf.WriteString(declCOM)
	WriteUint32(buf, d.VTableIndex)
	buf.WriteByte(byte(d.Convention))
	return nil
}

// InternalDeclaration is a function registered by the host runtime.
type InternalDeclaration struct{}

func (d *InternalDeclaration) DeclName() string { return "" }

func (d *InternalDeclaration) String() string { return "internal" }

func (d *InternalDeclaration) encodeBody(*bytes.Buffer) error { return nil }

// decodeDeclaration reads a declaration blob and the argument list that
// trails it.
func decodeDeclaration(r *reader) (Declaration, bool, []Argument, error) {
	var decl Declaration
	var err error
	rest := r.data[r.offset:]
	switch {
	case bytes.HasPrefix(rest, []byte(declDLL)):
		r.offset += len(declDLL)
		decl, err = decodeDLLDeclaration(r)
	case bytes.HasPrefix(rest, []byte(declClass)):
		r.offset += len(declClass)
		if r.remaining() == 1 {
			return decodeBuiltinClass(r)
		}
		decl, err = decodeClassDeclaration(r)
	case bytes.HasPrefix(rest, []byte(declCOM)):
		r.offset += len(declCOM)
		d := &COMDeclaration{}
		if d.VTableIndex, err = r.readUint32(); err == nil {
			var cc byte
			cc, err = r.readByte()
			d.Convention = CallingConvention(cc)
		}
		decl = d
	default:
		decl = &InternalDeclaration{}
	}
	if err != nil {
		return nil, false, nil, err
	}
	hasReturn, args, err := decodeExternalArgs(r)
	if err != nil {
		return nil, false, nil, err
	}
	return decl, hasReturn, args, nil
}

func decodeDLLDeclaration(r *reader) (*DLLDeclaration, error) {
	d := &DLLDeclaration{}
	var err error
	if d.DLL, err = r.readTerminated(0); err != nil {
		return nil, err
	}
	if d.Proc, err = r.readTerminated(0); err != nil {
		return nil, err
	}
	b, err := r.readBytes(3)
	if err != nil {
		return nil, err
	}
	d.Convention = CallingConvention(b[0])
	d.DelayLoad = b[1] != 0
	d.AlteredSearchPath = b[2] != 0
	return d, nil
}

func decodeBuiltinClass(r *reader) (Declaration, bool, []Argument, error) {
	b, _ := r.readByte()
	d := &ClassDeclaration{Class: "Class", Convention: CallPascal}
	switch b {
	case classCastToType:
		d.Func = "CastToType"
		return d, true, []Argument{{Direction: ArgumentOut}, {Direction: ArgumentOut}}, nil
	case classSetNil:
		d.Func = "SetNil"
		return d, true, []Argument{{Direction: ArgumentOut}}, nil
	}
	r.offset--
	return nil, false, nil, r.errorf(fmt.Sprintf("unknown special class import 0x%02x", b), nil)
}

func decodeClassDeclaration(r *reader) (*ClassDeclaration, error) {
	d := &ClassDeclaration{}
	var err error
	if d.Class, err = r.readTerminated(classSeparator); err != nil {
		return nil, err
	}
	if d.Func, err = r.readTerminated(classSeparator); err != nil {
		return nil, err
	}
	if n := len(d.Func); n > 0 && d.Func[n-1] == classProperty {
		d.Func = d.Func[:n-1]
		d.Property = true
	}
	cc, err := r.readByte()
	if err != nil {
		return nil, err
	}
	d.Convention = CallingConvention(cc)
	return d, nil
}

// decodeExternalArgs reads a return flag byte followed by one direction byte
// per argument, up to the end of the declaration.
func decodeExternalArgs(r *reader) (bool, []Argument, error) {
	ret, err := r.readByte()
	if err != nil {
		return false, nil, err
	}
	args := make([]Argument, r.remaining())
	for i := range args {
		b, _ := r.readByte()
		if b != 0 {
			args[i].Direction = ArgumentOut
		}
	}
	return ret != 0, args, nil
}

// ---------------------------------------------------------------------------
// ExternalFunction
// ---------------------------------------------------------------------------

// maxExternalName is the longest name an import record can carry.
const maxExternalName = 0xff

// ExternalFunction is a function implemented by the host: a DLL import, a
// class method, a COM method or a runtime builtin. Only exported imports
// carry a Declaration.
type ExternalFunction struct {
	FunctionHeader
	Declaration Declaration
}

// NewExternalFunction creates an exported import bound by decl.
func NewExternalFunction(name string, decl Declaration) *ExternalFunction {
	return &ExternalFunction{
		FunctionHeader: FunctionHeader{Name: name, Exported: true, Arguments: []Argument{}},
		Declaration:    decl,
	}
}

func decodeExternalFunction(r *reader, exported bool) (*ExternalFunction, error) {
	f := &ExternalFunction{FunctionHeader: FunctionHeader{Exported: exported}}
	n, err := r.readByte()
	if err != nil {
		return nil, err
	}
	name, err := r.readBytes(int(n))
	if err != nil {
		return nil, fmt.Errorf("failed to read import name: %w", err)
	}
	f.Name = string(name)
	if !exported {
		return f, nil
	}

	size, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	dr, err := r.readSub(size)
	if err != nil {
		return nil, fmt.Errorf("failed to read declaration of %s: %w", f.Name, err)
	}
	decl, hasReturn, args, err := decodeDeclaration(dr)
	if err != nil {
		return nil, fmt.Errorf("declaration of import %q: %w", f.Name, err)
	}
	f.Declaration = decl
	f.Arguments = args
	if hasReturn {
		f.ReturnType = UnknownType
	}
	if f.Name == "" {
		f.Name = decl.DeclName()
	}
	return f, nil
}

// storesName reports whether the record must carry the function name, which
// is the case unless the declaration already implies it.
func (f *ExternalFunction) storesName(name string) bool {
	if f.Declaration == nil {
		return true
	}
	dn := f.Declaration.DeclName()
	return dn == "" || dn != name
}

func (f *ExternalFunction) encodeRecord(buf *bytes.Buffer, ctx *saveContext) error {
	flags := byte(funcExternal)
	if f.Exported {
		if f.Declaration == nil {
			return unsupported("exported import %s has no declaration", f.Name)
		}
		flags |= funcExported
	}
	if len(f.Attributes) != 0 {
		flags |= funcHasAttributes
	}
	buf.WriteByte(flags)

	name := f.alias.resolve(f.Name)
	if f.storesName(name) {
		wire := strings.ToUpper(name)
		if len(wire) > maxExternalName {
			wire = wire[:maxExternalName]
		}
		buf.WriteByte(byte(len(wire)))
		buf.WriteString(wire)
	} else {
		buf.WriteByte(0)
	}
	if !f.Exported {
		return nil
	}

	var body bytes.Buffer
	if err := f.Declaration.encodeBody(&body); err != nil {
		return err
	}
	if !isBuiltinClass(f.Declaration) {
		WriteBool(&body, f.ReturnType != nil)
		for _, a := range f.Arguments {
			WriteBool(&body, a.Direction == ArgumentOut)
		}
	}
	if uint64(body.Len()) > math.MaxUint32 {
		return unsupported("declaration of %s is larger than 4 GiB", f.Name)
	}
	WriteUint32(buf, uint32(body.Len()))
	buf.Write(body.Bytes())
	return nil
}

// isBuiltinClass reports whether decl is one of the one-byte class helpers,
// whose signature is implied and not stored.
func isBuiltinClass(decl Declaration) bool {
	cd, ok := decl.(*ClassDeclaration)
	if !ok {
		return false
	}
	_, builtin := cd.builtin()
	return builtin
}

func (f *ExternalFunction) String() string {
	var sb strings.Builder
	sb.WriteString(".function")
	if f.Exported {
		sb.WriteString("(import)")
	}
	sb.WriteString(" external ")
	if f.Declaration != nil {
		sb.WriteString(f.Declaration.String())
	}
	if f.ReturnType != nil {
		sb.WriteString(" returnsval ")
	} else {
		sb.WriteString(" void ")
	}
	sb.WriteString(f.Name)
	if f.Declaration != nil {
		sb.WriteString(f.argumentList())
	}
	return sb.String()
}
