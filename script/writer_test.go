package script

import (
	"bytes"
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Test Helpers: Building scripts in memory
// ---------------------------------------------------------------------------

type testModel struct {
	s      *Script
	u32    *PrimitiveType
	str    *PrimitiveType
	global *GlobalVariable
	main   *ScriptFunction
}

func newTestModel(t *testing.T) *testModel {
	t.Helper()
	u32, err := NewPrimitiveType(TypeU32)
	if err != nil {
		t.Fatalf("NewPrimitiveType failed: %v", err)
	}
	str, err := NewPrimitiveType(TypeUnicodeString)
	if err != nil {
		t.Fatalf("NewPrimitiveType failed: %v", err)
	}
	m := &testModel{
		s:      New(23),
		u32:    u32,
		str:    str,
		global: NewGlobal(u32, "Counter"),
		main:   NewScriptFunction("Main", nil),
	}
	m.main.Exported = true
	m.s.Types = []Type{u32, str}
	m.s.GlobalVariables = []*GlobalVariable{m.global}
	m.s.Functions = []Function{m.main}
	m.s.EntryPoint = m.main
	return m
}

func (m *testModel) u32Imm(v uint32) Operand {
	return Imm(&TypedData{Type: m.u32, Value: v})
}

func mustInsn(t *testing.T, code Code, ops ...Operand) *Instruction {
	t.Helper()
	insn, err := NewInstruction(code, ops...)
	if err != nil {
		t.Fatalf("NewInstruction(%s) failed: %v", code, err)
	}
	return insn
}

// ---------------------------------------------------------------------------
// Round Trip Tests
// ---------------------------------------------------------------------------

func TestSaveLoadRoundTrip(t *testing.T) {
	m := newTestModel(t)
	ret := mustInsn(t, CodeRet)
	m.main.Instructions = []*Instruction{
		mustInsn(t, CodeAssign, Var(m.global), m.u32Imm(1)),
		mustInsn(t, CodeAdd, Var(m.global), m.u32Imm(2)),
		mustInsn(t, CodeJumpZ, TargetOperand(ret), Var(m.global)),
		mustInsn(t, CodePush, Imm(&TypedData{Type: m.str, Value: "héllo"})),
		mustInsn(t, CodePop),
		ret,
	}

	data := mustSave(t, m.s)
	s := mustLoad(t, data)

	again := mustSave(t, s)
	if !bytes.Equal(again, data) {
		t.Errorf("second save differs:\n got %x\nwant %x", again, data)
	}
	if got, want := mustLoad(t, again).Disassemble(), s.Disassemble(); got != want {
		t.Errorf("disassembly changed across save/load:\n got:\n%s\nwant:\n%s", got, want)
	}

	insns := mainBody(t, s)
	if insns[2].Operands[0].Target() != insns[5] {
		t.Error("jz should target the ret")
	}
	if got, _ := insns[3].Operands[0].Imm.Value.(string); got != "héllo" {
		t.Errorf("wide string = %q, want héllo", got)
	}
	if s.GlobalVariables[0].Name != "Global0" {
		t.Errorf("unexported global loads as %q, want Global0", s.GlobalVariables[0].Name)
	}
	if s.Functions[0].Header().Name != "MAIN" {
		t.Errorf("exported function loads as %q, want MAIN", s.Functions[0].Header().Name)
	}
}

func TestSaveRelaysOffsetsAfterInsert(t *testing.T) {
	s := mustLoad(t, buildScript(23, []byte{0x06, 1, 0, 0, 0, 0xFF, 0x09}))
	sf := s.Functions[0].(*ScriptFunction)
	target := sf.Instructions[2]

	// insert a push in front of the jump target
	push, err := NewInstruction(CodePush, Imm(&TypedData{Type: s.Types[0], Value: uint32(3)}))
	if err != nil {
		t.Fatalf("NewInstruction failed: %v", err)
	}
	sf.Instructions = []*Instruction{sf.Instructions[0], sf.Instructions[1], push, target}

	s2 := mustLoad(t, mustSave(t, s))
	insns := mainBody(t, s2)
	if got := insns[0].Operands[0].Target(); got != insns[3] || got.Code != CodeRet {
		t.Errorf("jump target = %v, want the ret at index 3", got)
	}
	if target.Offset != 16 {
		t.Errorf("target offset = %d, want 16", target.Offset)
	}
}

func TestSaveTo(t *testing.T) {
	m := newTestModel(t)
	m.main.Instructions = []*Instruction{mustInsn(t, CodeRet)}

	var buf bytes.Buffer
	if err := m.s.SaveTo(&buf); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), mustSave(t, m.s)) {
		t.Error("SaveTo and Save disagree")
	}

	// a failing save writes nothing
	buf.Reset()
	m.s.FileVersion = 99
	if err := m.s.SaveTo(&buf); err == nil {
		t.Fatal("SaveTo should fail for version 99")
	}
	if buf.Len() != 0 {
		t.Errorf("failed SaveTo wrote %d bytes", buf.Len())
	}
}

// ---------------------------------------------------------------------------
// Reference Error Tests
// ---------------------------------------------------------------------------

func TestSaveUnreferencedObjects(t *testing.T) {
	stray, _ := NewPrimitiveType(TypeS32)
	other := NewScriptFunction("Other", nil)

	tests := []struct {
		name  string
		setup func(m *testModel)
	}{
		{"immediate type", func(m *testModel) {
			m.main.Instructions = []*Instruction{
				mustInsn(t, CodePush, Imm(&TypedData{Type: stray, Value: int32(1)})),
			}
		}},
		{"global", func(m *testModel) {
			m.main.Instructions = []*Instruction{
				mustInsn(t, CodePushVar, Var(NewGlobal(m.u32, "Stray"))),
			}
		}},
		{"call target", func(m *testModel) {
			m.main.Instructions = []*Instruction{mustInsn(t, CodeCall, FunctionOperand(other))}
		}},
		{"nil global", func(m *testModel) {
			m.main.Instructions = []*Instruction{
				{Code: CodePushVar, Operands: []Operand{Var((*GlobalVariable)(nil))}},
			}
		}},
		{"nil local", func(m *testModel) {
			m.main.Instructions = []*Instruction{
				{Code: CodeAssign, Operands: []Operand{Var(m.global), Var((*LocalVariable)(nil))}},
			}
		}},
		{"nil index variable", func(m *testModel) {
			m.main.Instructions = []*Instruction{
				{Code: CodePush, Operands: []Operand{ElemVar(m.global, (*ArgumentVariable)(nil))}},
			}
		}},
		{"entry point", func(m *testModel) {
			m.s.EntryPoint = other
		}},
		{"global type", func(m *testModel) {
			m.global.Type = stray
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t)
			tt.setup(m)
			_, err := m.s.Save()
			if !errors.Is(err, ErrUnreferencedObject) {
				t.Fatalf("Save error = %v, want ErrUnreferencedObject", err)
			}
			if !errors.Is(err, ErrUnresolvedReference) {
				t.Errorf("error %v should match ErrUnresolvedReference", err)
			}
		})
	}
}

func TestSaveMalformedOperands(t *testing.T) {
	tests := []struct {
		name string
		insn func(m *testModel) *Instruction
	}{
		{"call with variable", func(m *testModel) *Instruction {
			return &Instruction{Code: CodeCall, Operands: []Operand{Var(m.global)}}
		}},
		{"pushtype with variable", func(m *testModel) *Instruction {
			return &Instruction{Code: CodePushType, Operands: []Operand{Var(m.global)}}
		}},
		{"setstacktype with variable type", func(m *testModel) *Instruction {
			return &Instruction{Code: CodeSetStackType, Operands: []Operand{Var(m.global), Var(m.global)}}
		}},
		{"setstacktype with immediate variable", func(m *testModel) *Instruction {
			return &Instruction{Code: CodeSetStackType, Operands: []Operand{TypeOperand(m.u32), m.u32Imm(1)}}
		}},
		{"is with empty type operand", func(m *testModel) *Instruction {
			return &Instruction{Code: CodeIs, Operands: []Operand{Var(m.global), Var(m.global), {Kind: OperandImmediate}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t)
			m.main.Instructions = []*Instruction{tt.insn(m), mustInsn(t, CodeRet)}
			if _, err := m.s.Save(); !errors.Is(err, ErrUnsupportedValue) {
				t.Fatalf("Save error = %v, want ErrUnsupportedValue", err)
			}
		})
	}
}

func TestSetOperandThenSave(t *testing.T) {
	m := newTestModel(t)
	call := mustInsn(t, CodeCall, FunctionOperand(m.main))
	m.main.Instructions = []*Instruction{call, mustInsn(t, CodeRet)}
	if err := call.SetOperand(0, Var(m.global)); err == nil {
		t.Fatal("SetOperand should reject a variable for a call")
	}
	call.Operands[0] = Var(m.global)
	if _, err := m.s.Save(); !errors.Is(err, ErrUnsupportedValue) {
		t.Fatalf("Save error = %v, want ErrUnsupportedValue", err)
	}
}

func TestSaveDanglingBranch(t *testing.T) {
	m := newTestModel(t)
	other := NewScriptFunction("Other", nil)
	foreign := mustInsn(t, CodeRet)
	other.Instructions = []*Instruction{foreign}
	m.s.Functions = append(m.s.Functions, other)

	m.main.Instructions = []*Instruction{
		mustInsn(t, CodeJump, TargetOperand(foreign)),
		mustInsn(t, CodeRet),
	}
	_, err := m.s.Save()
	if !errors.Is(err, ErrDanglingReference) {
		t.Fatalf("Save error = %v, want ErrDanglingReference", err)
	}
	if !errors.Is(err, ErrUnresolvedReference) {
		t.Errorf("error %v should match ErrUnresolvedReference", err)
	}
}

func TestSaveDuplicateTableEntry(t *testing.T) {
	m := newTestModel(t)
	m.s.Types = append(m.s.Types, m.u32)
	if _, err := m.s.Save(); err == nil {
		t.Fatal("Save should reject a type listed twice")
	}
}

func TestSaveIsTypeOperandCarrier(t *testing.T) {
	m := newTestModel(t)
	target, _ := NewPrimitiveType(TypeS32)
	m.s.Types = []Type{m.str, target}
	is := mustInsn(t, CodeIs, Var(m.global), Var(m.global), TypeOperand(target))
	m.main.Instructions = []*Instruction{is, mustInsn(t, CodeRet)}
	m.s.GlobalVariables[0].Type = m.str

	// no U32 type to carry the index
	if _, err := m.s.Save(); !errors.Is(err, ErrUnreferencedObject) {
		t.Fatalf("Save error = %v, want ErrUnreferencedObject", err)
	}

	m.s.Types = append(m.s.Types, m.u32)
	s := mustLoad(t, mustSave(t, m.s))
	got := mainBody(t, s)[0]
	if ty, _ := got.Operands[2].Imm.Value.(Type); ty != s.Types[1] {
		t.Errorf("type operand = %v, want S32", got.Operands[2])
	}
	if got.Size() != 21 {
		t.Errorf("Size() = %d, want 21", got.Size())
	}
}

func TestSaveExtendedKeepsRawBytes(t *testing.T) {
	// 0.1 as an x87 extended
	raw := []byte{0xCD, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xFB, 0x3F}

	b := newTestScriptBuilder()
	b.writeHeader(23, 1, 1, 0, 0)
	b.writeType(23, TypeExtended, "")
	slot := b.writeScriptFunction("MAIN", "-1")
	body := append([]byte{0x02, 0x01, 0, 0, 0, 0}, raw...)
	body = append(body, 0x04, 0x09)
	b.writeBody(slot, body)
	data := b.bytes()

	s := mustLoad(t, data)
	if out := mustSave(t, s); !bytes.Equal(out, data) {
		t.Errorf("re-save differs:\n got %x\nwant %x", out, data)
	}

	// a changed value is encoded afresh
	ext := mainBody(t, s)[0].Operands[0].Imm.Value.(*ExtendedValue)
	ext.Value.SetFinite(25, -1)
	out := mustSave(t, s)
	want := []byte{0, 0, 0, 0, 0, 0, 0, 0xA0, 0x00, 0x40}
	if got := out[len(out)-12 : len(out)-2]; !bytes.Equal(got, want) {
		t.Errorf("encoded 2.5 = %x, want %x", got, want)
	}
}

func TestSaveRejectsBadVersion(t *testing.T) {
	for _, v := range []int{0, 11, 24} {
		m := newTestModel(t)
		m.s.FileVersion = v
		if _, err := m.s.Save(); !errors.Is(err, ErrUnsupportedValue) {
			t.Errorf("version %d: Save error = %v, want ErrUnsupportedValue", v, err)
		}
	}
}
