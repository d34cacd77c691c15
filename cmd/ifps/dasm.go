package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/ifps/script"
)

// handleDasmCommand processes the `ifps dasm` subcommand.
// Usage:
//
//	ifps dasm a.bin b.bin        # a.txt, b.txt next to the inputs or in [output] dir
//	ifps dasm -o listings a.bin  # custom output dir
//	ifps dasm -o - a.bin         # listing on stdout
func handleDasmCommand(e *env, args []string) error {
	fs := newFlagSet("dasm")
	outDir := fs.String("o", "", "Output directory, or - for stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("dasm requires at least one script")
	}

	m := *e.m
	if *outDir != "" && *outDir != "-" {
		abs, err := filepath.Abs(*outDir)
		if err != nil {
			return err
		}
		m.Output.Dir = abs
		if err := os.MkdirAll(abs, 0755); err != nil {
			return err
		}
	}

	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		s, err := script.LoadWithOptions(data, m.LoadOptions())
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		text := s.Disassemble()

		if *outDir == "-" {
			fmt.Fprint(e.stdout, text)
			continue
		}
		out := m.OutputPath(path, m.Output.Extension)
		if err := os.WriteFile(out, []byte(text), 0644); err != nil {
			return err
		}
		log.Infof("%s -> %s", path, out)
	}
	return nil
}
