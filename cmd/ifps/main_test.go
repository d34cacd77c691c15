package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/ifps/manifest"
	"github.com/chazu/ifps/script"
	"github.com/chazu/ifps/script/report"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

// writeTestScript saves a one-function script to dir/name and returns the
// path.
func writeTestScript(t *testing.T, dir, name string) string {
	t.Helper()
	u32, err := script.NewPrimitiveType(script.TypeU32)
	if err != nil {
		t.Fatal(err)
	}
	s := script.New(23)
	s.Types = []script.Type{u32}

	main := script.NewScriptFunction("Main", nil)
	main.Exported = true
	push, err := script.NewInstruction(script.CodePush, script.Imm(&script.TypedData{Type: u32, Value: uint32(7)}))
	if err != nil {
		t.Fatal(err)
	}
	pop, _ := script.NewInstruction(script.CodePop)
	ret, _ := script.NewInstruction(script.CodeRet)
	main.Instructions = []*script.Instruction{push, pop, ret}
	s.Functions = []script.Function{main}
	s.EntryPoint = main

	data, err := s.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testEnv() (*env, *bytes.Buffer) {
	var out bytes.Buffer
	return &env{m: manifest.Default(), stdout: &out}, &out
}

// ---------------------------------------------------------------------------
// Command Tests
// ---------------------------------------------------------------------------

func TestDasmCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeTestScript(t, dir, "setup.bin")
	e, _ := testEnv()

	if err := run(e, []string{"dasm", path}); err != nil {
		t.Fatalf("dasm: %v", err)
	}
	text, err := os.ReadFile(filepath.Join(dir, "setup.txt"))
	if err != nil {
		t.Fatalf("listing not written: %v", err)
	}
	if !strings.HasPrefix(string(text), ".version 23\n\n.entry MAIN\n") {
		t.Errorf("listing starts with %q", text[:min(len(text), 40)])
	}

	outDir := filepath.Join(dir, "listings")
	if err := run(e, []string{"dasm", "-o", outDir, path}); err != nil {
		t.Fatalf("dasm -o: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "setup.txt")); err != nil {
		t.Errorf("listing not written to -o dir: %v", err)
	}
}

func TestDasmToStdout(t *testing.T) {
	path := writeTestScript(t, t.TempDir(), "a.bin")
	e, out := testEnv()

	if err := run(e, []string{"dasm", "-o", "-", path}); err != nil {
		t.Fatalf("dasm: %v", err)
	}
	if !strings.Contains(out.String(), "\tpush U32(7) ; StackCount = 1\n") {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestResaveCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeTestScript(t, dir, "in.bin")
	outPath := filepath.Join(dir, "out.bin")
	e, _ := testEnv()

	if err := run(e, []string{"resave", "-version", "22", "-o", outPath, path}); err != nil {
		t.Fatalf("resave: %v", err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	s, err := script.Load(data)
	if err != nil {
		t.Fatalf("resaved script does not load: %v", err)
	}
	if s.FileVersion != 22 {
		t.Errorf("FileVersion = %d, want 22", s.FileVersion)
	}

	// unchanged version reproduces the input
	var buf bytes.Buffer
	e.stdout = &buf
	if err := run(e, []string{"resave", path}); err != nil {
		t.Fatalf("resave: %v", err)
	}
	orig, _ := os.ReadFile(path)
	if !bytes.Equal(buf.Bytes(), orig) {
		t.Error("resave without changes should reproduce the input")
	}
}

func TestInfoCommand(t *testing.T) {
	path := writeTestScript(t, t.TempDir(), "a.bin")
	e, out := testEnv()

	if err := run(e, []string{"info", path}); err != nil {
		t.Fatalf("info: %v", err)
	}
	for _, want := range []string{"version:      23", "entry:        MAIN", "functions:    1 (0 imports)", "instructions: 3"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("info output missing %q:\n%s", want, out.String())
		}
	}
}

func TestReportCommand(t *testing.T) {
	path := writeTestScript(t, t.TempDir(), "a.bin")
	e, out := testEnv()

	if err := run(e, []string{"report", path}); err != nil {
		t.Fatalf("report: %v", err)
	}
	r, err := report.Unmarshal(out.Bytes())
	if err != nil {
		t.Fatalf("output is not a report: %v", err)
	}
	if r.Entry != "MAIN" || len(r.Functions) != 1 || r.Functions[0].Instructions != 3 {
		t.Errorf("report = %+v", r)
	}
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeTestScript(t, dir, "a.bin")
	bad := filepath.Join(dir, "bad.bin")
	if err := os.WriteFile(bad, []byte("IFPS\x63\x00\x00\x00"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"frobnicate"}},
		{"dasm without files", []string{"dasm"}},
		{"resave two files", []string{"resave", path, path}},
		{"resave bad version", []string{"resave", "-version", "30", path}},
		{"info missing file", []string{"info", filepath.Join(dir, "missing.bin")}},
		{"report malformed script", []string{"report", bad}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := testEnv()
			if err := run(e, tt.args); err == nil {
				t.Error("command should fail")
			}
		})
	}
}
