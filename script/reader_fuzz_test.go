package script

import (
	"bytes"
	"testing"
)

// FuzzLoad feeds arbitrary bytes to the loader. Anything that loads must
// disassemble, and anything that saves must load back to the same bytes.
func FuzzLoad(f *testing.F) {
	f.Add(buildScript(23, minimalBody))
	f.Add(buildScript(20, minimalBody))
	f.Add(buildScript(23, []byte{0x06, 1, 0, 0, 0, 0xFF, 0x09}))
	f.Add(buildScript(23, []byte{0x13, 0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 0x09}))
	f.Add(buildImportScript("X", declBytes("class:+")))
	f.Add(buildImportScript("MESSAGEBOXW", declBytes("dll:user32.dll\x00MessageBoxW\x00", "\x03\x00\x00", "\x01\x00")))
	f.Add([]byte("IFPS"))

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Load(data)
		if err != nil {
			return
		}
		_ = s.Disassemble()

		out, err := s.Save()
		if err != nil {
			return
		}
		s2, err := Load(out)
		if err != nil {
			t.Fatalf("saved script does not load: %v", err)
		}
		again, err := s2.Save()
		if err != nil {
			t.Fatalf("reloaded script does not save: %v", err)
		}
		if !bytes.Equal(again, out) {
			t.Fatalf("save is not stable:\n got %x\nwant %x", again, out)
		}
	})
}
