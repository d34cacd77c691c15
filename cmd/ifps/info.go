package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/chazu/ifps/script"
)

// handleInfoCommand processes the `ifps info` subcommand, printing a short
// summary of each script.
func handleInfoCommand(e *env, args []string) error {
	fs := newFlagSet("info")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("info requires at least one script")
	}

	for i, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		s, err := script.LoadWithOptions(data, e.m.LoadOptions())
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if i > 0 {
			fmt.Fprintln(e.stdout)
		}
		printInfo(e, path, len(data), s)
	}
	return nil
}

func printInfo(e *env, path string, size int, s *script.Script) {
	var insns, code, unknown int
	funcs := s.ScriptFunctions()
	for _, f := range funcs {
		insns += len(f.Instructions)
		for _, insn := range f.Instructions {
			code += insn.Size()
			if insn.Code.IsUnknown() {
				unknown++
			}
		}
	}
	imports := len(s.Functions) - len(funcs)

	w := e.stdout
	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "  size:         %s\n", humanize.Bytes(uint64(size)))
	fmt.Fprintf(w, "  version:      %d\n", s.FileVersion)
	if s.EntryPoint != nil {
		fmt.Fprintf(w, "  entry:        %s\n", s.EntryPoint.Header().Name)
	}
	fmt.Fprintf(w, "  types:        %s\n", humanize.Comma(int64(len(s.Types))))
	fmt.Fprintf(w, "  functions:    %s (%s imports)\n", humanize.Comma(int64(len(s.Functions))), humanize.Comma(int64(imports)))
	fmt.Fprintf(w, "  globals:      %s\n", humanize.Comma(int64(len(s.GlobalVariables))))
	fmt.Fprintf(w, "  instructions: %s in %s of code\n", humanize.Comma(int64(insns)), humanize.Bytes(uint64(code)))
	if unknown > 0 {
		fmt.Fprintf(w, "  unknown:      %s opcodes kept as raw bytes\n", humanize.Comma(int64(unknown)))
	}
}
