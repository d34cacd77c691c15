package report

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/ifps/script"
)

// sampleScript builds a script with a helper called twice from Main and one
// DLL import.
func sampleScript(t *testing.T) *script.Script {
	t.Helper()
	u32, err := script.NewPrimitiveType(script.TypeU32)
	if err != nil {
		t.Fatal(err)
	}
	s := script.New(23)
	s.Types = []script.Type{u32}

	counter := script.NewGlobal(u32, "Counter")
	counter.Exported = true
	s.GlobalVariables = []*script.GlobalVariable{counter}

	helper := script.NewScriptFunction("Helper", nil)
	ret, err := script.NewInstruction(script.CodeRet)
	if err != nil {
		t.Fatal(err)
	}
	helper.Instructions = []*script.Instruction{ret}

	imp := script.NewExternalFunction("Beep", &script.DLLDeclaration{DLL: "kernel32.dll", Proc: "Beep", Convention: script.CallStdcall})

	main := script.NewScriptFunction("Main", nil)
	main.Exported = true
	for _, callee := range []script.Function{helper, imp, helper} {
		call, err := script.NewCall(callee)
		if err != nil {
			t.Fatalf("NewCall failed: %v", err)
		}
		main.Instructions = append(main.Instructions, call)
	}
	mainRet, _ := script.NewInstruction(script.CodeRet)
	main.Instructions = append(main.Instructions, mainRet)

	s.Functions = []script.Function{main, helper, imp}
	s.EntryPoint = main
	return s
}

func TestBuild(t *testing.T) {
	r := Build(sampleScript(t))

	if r.Version != 23 || r.Entry != "Main" {
		t.Errorf("Version, Entry = %d, %q", r.Version, r.Entry)
	}
	if len(r.Types) != 1 || r.Types[0].Code != "U32" || r.Types[0].Declaration != ".type primitive(U32) U32" {
		t.Errorf("Types = %+v", r.Types)
	}
	if len(r.Globals) != 1 || r.Globals[0] != (Global{Name: "Counter", Type: "U32", Exported: true}) {
		t.Errorf("Globals = %+v", r.Globals)
	}
	if len(r.Functions) != 3 {
		t.Fatalf("got %d functions, want 3", len(r.Functions))
	}

	main := r.Functions[0]
	if main.Kind != KindScript || !main.Exported {
		t.Errorf("Main kind, exported = %d, %v", main.Kind, main.Exported)
	}
	if main.Instructions != 4 || main.CodeSize != 5+5+5+1 {
		t.Errorf("Main instructions, size = %d, %d", main.Instructions, main.CodeSize)
	}
	if !reflect.DeepEqual(main.Calls, []string{"Helper", "Beep"}) {
		t.Errorf("Main calls = %v, want [Helper Beep]", main.Calls)
	}

	imp := r.Functions[2]
	if imp.Kind != KindExternal || imp.CodeSize != 0 || imp.BodyHash != ([32]byte{}) {
		t.Errorf("import = %+v", imp)
	}
	if r.Functions[1].BodyHash == main.BodyHash {
		t.Error("different bodies should hash differently")
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	a, err := Marshal(Build(sampleScript(t)))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Marshal(Build(sampleScript(t)))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("reports of identical scripts differ")
	}

	got, err := Unmarshal(a)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, Build(sampleScript(t))) {
		t.Errorf("Unmarshal(Marshal(r)) = %+v", got)
	}
}

func TestFromFile(t *testing.T) {
	data, err := sampleScript(t).Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	r, err := FromFile(data, script.LoadOptions{})
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if r.FileSize != len(data) || r.FileHash != sha256.Sum256(data) {
		t.Errorf("file size, hash = %d, %x", r.FileSize, r.FileHash)
	}
	// names come back as stored on disk
	if r.Entry != "MAIN" || r.Functions[2].Name != "BEEP" {
		t.Errorf("Entry = %q, import = %q", r.Entry, r.Functions[2].Name)
	}

	if _, err := FromFile([]byte("not a script"), script.LoadOptions{}); !errors.Is(err, script.ErrFormat) {
		t.Errorf("FromFile(garbage) error = %v, want ErrFormat", err)
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("Unmarshal should fail on malformed CBOR")
	}
}
