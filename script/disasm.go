package script

import (
	"fmt"
	"strings"
)

// Disassemble renders the whole script as text.
func (s *Script) Disassemble() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, ".version %d\n\n", s.FileVersion)
	if s.EntryPoint != nil {
		fmt.Fprintf(&sb, ".entry %s\n\n", s.EntryPoint.Header().Name)
	}

	for _, t := range s.Types {
		for _, a := range t.Header().Attributes {
			sb.WriteString(a.String())
			sb.WriteByte('\n')
		}
		sb.WriteString(t.String())
		sb.WriteByte('\n')
	}
	if len(s.Types) != 0 {
		sb.WriteByte('\n')
	}

	for _, v := range s.GlobalVariables {
		sb.WriteString(v.String())
		sb.WriteByte('\n')
	}
	if len(s.GlobalVariables) != 0 {
		sb.WriteByte('\n')
	}

	for _, f := range s.Functions {
		for _, a := range f.Header().Attributes {
			sb.WriteString(a.String())
			sb.WriteByte('\n')
		}
		sb.WriteString(f.String())
		sb.WriteByte('\n')
		if sf, ok := f.(*ScriptFunction); ok {
			disassembleBody(&sb, sf)
		}
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return sb.String()
}

// disassembleBody writes one line per instruction, annotated with the
// running stack depth whenever an instruction changes it.
func disassembleBody(sb *strings.Builder, f *ScriptFunction) {
	depth := 0
	for _, insn := range f.Instructions {
		sb.WriteString(insn.text(true))
		info := insn.Code.Info()
		changed := true
		switch {
		case info.Push == Push1:
			depth++
		case info.Pop == Pop1:
			depth--
		case info.Pop == Pop2:
			depth -= 2
		default:
			changed = false
		}
		if changed {
			fmt.Fprintf(sb, " ; StackCount = %d", depth)
		}
		sb.WriteByte('\n')
	}
}
