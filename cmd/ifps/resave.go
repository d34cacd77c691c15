package main

import (
	"fmt"
	"os"

	"github.com/chazu/ifps/script"
)

// handleResaveCommand processes the `ifps resave` subcommand. The script is
// loaded and saved again, optionally under a different file version.
// Usage:
//
//	ifps resave -o out.bin in.bin
//	ifps resave -version 22 in.bin > out.bin
func handleResaveCommand(e *env, args []string) error {
	fs := newFlagSet("resave")
	out := fs.String("o", "", "Output file (default stdout)")
	version := fs.Int("version", e.m.Script.TargetVersion, "File version to write (0 keeps the input version)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("resave takes exactly one script")
	}
	if v := *version; v != 0 && (v < script.VersionLowest || v > script.VersionHighest) {
		return fmt.Errorf("version %d outside %d..%d", v, script.VersionLowest, script.VersionHighest)
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := script.LoadWithOptions(data, e.m.LoadOptions())
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if *version != 0 && *version != s.FileVersion {
		log.Infof("%s: version %d -> %d", path, s.FileVersion, *version)
		s.FileVersion = *version
	}

	saved, err := s.Save()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return writeBinary(e, *out, saved)
}
