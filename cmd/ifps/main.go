// ifps CLI - inspect, disassemble and rewrite compiled IFPS scripts
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/ifps/manifest"
)

var log = commonlog.GetLogger("ifps")

// env is the state shared by all subcommands.
type env struct {
	m      *manifest.Manifest
	stdout io.Writer
}

type command struct {
	name    string
	summary string
	run     func(e *env, args []string) error
}

var commands = []command{
	{"dasm", "write a disassembly listing for each script", handleDasmCommand},
	{"resave", "load a script and save it again", handleResaveCommand},
	{"info", "print table counts and sizes", handleInfoCommand},
	{"report", "write a canonical CBOR structure report", handleReportCommand},
}

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (1 = info, 2 = debug)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ifps [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		for _, c := range commands {
			fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.summary)
		}
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ifps dasm setup.bin                 # write setup.txt\n")
		fmt.Fprintf(os.Stderr, "  ifps resave -version 22 -o out.bin in.bin\n")
		fmt.Fprintf(os.Stderr, "  ifps -v 2 info *.bin                # with debug logging\n")
		fmt.Fprintf(os.Stderr, "\nSettings are read from the nearest ifps.toml.\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default()
	} else {
		log.Infof("using %s", m.Dir)
	}

	if err := run(&env{m: m, stdout: os.Stdout}, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches args[0] to its subcommand.
func run(e *env, args []string) error {
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(e, args[1:])
		}
	}
	return fmt.Errorf("unknown command %q (try -h)", args[0])
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// writeBinary writes data to path, or to stdout when path is empty or "-".
// Binary output is never sent to a terminal.
func writeBinary(e *env, path string, data []byte) error {
	if path == "" || path == "-" {
		if isTerminal(e.stdout) {
			return fmt.Errorf("refusing to write binary output to a terminal, use -o")
		}
		_, err := e.stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	log.Infof("wrote %s", path)
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}
