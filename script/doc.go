// Package script reads, models and writes compiled IFPS scripts, the
// bytecode format of the Pascal Script runtime, for file versions 12
// through 23.
//
// A loaded Script is an object graph: operands point at the types,
// functions, globals and instructions they use, so entries can be added,
// removed or reordered freely. Table indices and branch offsets are
// recomputed by Save.
//
//	s, err := script.Load(data)
//	if err != nil {
//		return err
//	}
//	fmt.Print(s.Disassemble())
//	out, err := s.Save()
//
// Opcodes the catalog does not know are kept with their raw bytes and
// written back unchanged.
package script
