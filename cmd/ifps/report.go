package main

import (
	"fmt"
	"os"

	"github.com/chazu/ifps/script/report"
)

// handleReportCommand processes the `ifps report` subcommand.
// Usage:
//
//	ifps report -o setup.cbor setup.bin
func handleReportCommand(e *env, args []string) error {
	fs := newFlagSet("report")
	out := fs.String("o", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("report takes exactly one script")
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	r, err := report.FromFile(data, e.m.LoadOptions())
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	enc, err := report.Marshal(r)
	if err != nil {
		return err
	}
	return writeBinary(e, *out, enc)
}
