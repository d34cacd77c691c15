package script

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Disassembly Tests
// ---------------------------------------------------------------------------

func TestDisassemble(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{
			name: "minimal",
			data: buildScript(23, minimalBody),
			want: ".version 23\n\n" +
				".entry MAIN\n\n" +
				".type primitive(U32) U32\n" +
				".type(export) primitive(S32) FOO\n\n" +
				".global U32 Global0\n\n" +
				".function(export) void MAIN()\n" +
				"\tpush U32(7) ; StackCount = 1\n" +
				"\tpop ; StackCount = 0\n" +
				"\tret\n" +
				"\n\n",
		},
		{
			name: "labels",
			data: buildScript(23, []byte{0x06, 1, 0, 0, 0, 0xFF, 0x09}),
			want: ".version 23\n\n" +
				".entry MAIN\n\n" +
				".type primitive(U32) U32\n" +
				".type(export) primitive(S32) FOO\n\n" +
				".global U32 Global0\n\n" +
				".function(export) void MAIN()\n" +
				"\tjump loc_6\n" +
				"\tnop\n" +
				"loc_6:\n" +
				"\tret\n" +
				"\n\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustLoad(t, tt.data).Disassemble()
			if got != tt.want {
				t.Errorf("Disassemble() =\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestDisassembleEmpty(t *testing.T) {
	if got := New(VersionHighest).Disassemble(); got != ".version 23\n\n\n" {
		t.Errorf("Disassemble() = %q", got)
	}
}

func TestDisassembleStackCount(t *testing.T) {
	// pushvar Global0, pushvar Global0, poppopjump +0, ret
	body := []byte{
		0x03, 0x00, 0, 0, 0, 0,
		0x03, 0x00, 0, 0, 0, 0,
		0x1A, 0, 0, 0, 0,
		0x09,
	}
	got := mustLoad(t, buildScript(23, body)).Disassemble()

	for _, want := range []string{
		"\tpushvar Global0 ; StackCount = 1\n",
		"\tpushvar Global0 ; StackCount = 2\n",
		"\tpoppopjump loc_11 ; StackCount = 0\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Disassemble() missing %q in:\n%s", want, got)
		}
	}
}
