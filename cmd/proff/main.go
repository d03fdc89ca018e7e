// Command proff is the interpreter's CLI: spec.md §6's "external
// interfaces" plus the run/repl split SPEC_FULL.md §4.10 describes.
// Grounded on cmd/viewcore/objref.go's runXxx(cmd *cobra.Command, args
// []string) handler shape (cobra.Command, subcommand flags read via
// cmd.Flags()) and, for the REPL, on original_source/src/main.rs's
// rustyline::Editor loop, ported to this teacher's own
// github.com/chzyer/readline dependency.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/nilern/proff/internal/interp"
	"github.com/nilern/proff/internal/parser"
	"github.com/nilern/proff/internal/value"
)

func init() {
	// internal/interp never imports internal/parser (interp.go's doc
	// comment: "only main needs to know a parser exists at all") so the
	// link happens here, the one place that is allowed to know both.
	interp.ParserFunc = parser.Parse
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

func main() {
	var heapBytes int

	root := &cobra.Command{
		Use:   "proff",
		Short: "proff is a small register-machine interpreter",
	}
	root.PersistentFlags().IntVar(&heapBytes, "heap-bytes", 16*1024*1024,
		"maximum heap size in bytes")

	runCmd := &cobra.Command{
		Use:   "run [file]",
		Short: "parse, flatten, assemble and run a program",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runRun(cmd, args, heapBytes)
		},
	}

	replCmd := &cobra.Command{
		Use:   "repl",
		Short: "read-eval-print loop",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runRepl(cmd, args, heapBytes)
		},
	}

	root.AddCommand(runCmd, replCmd)
	if err := root.Execute(); err != nil {
		exitf("%v\n", err)
	}
}

// runRun implements `proff run [file]` (spec.md §6: read program text,
// print the parsed AST in debug form, then the result or the error,
// exit code 0 on success). "-" or no argument reads stdin.
func runRun(cmd *cobra.Command, args []string, heapBytes int) {
	var src []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		src, err = io.ReadAll(os.Stdin)
	} else {
		src, err = os.ReadFile(args[0])
	}
	if err != nil {
		exitf("proff: %v\n", err)
	}

	tree, err := parser.Parse(string(src))
	if err != nil {
		exitf("proff: parse error: %v\n", err)
	}
	fmt.Printf("%#v\n", tree)

	it := interp.New(heapBytes)
	defer it.Close()

	result, err := it.RunSource(string(src))
	if err != nil {
		fmt.Fprintf(os.Stderr, "proff: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(formatResult(it, result))
}

// runRepl implements `proff repl`: each line is parsed, flattened,
// assembled and run independently (original_source/src/main.rs does the
// same — one Lexer/parse call per readline() iteration) against a
// shared interpreter, so definitions persist only within a line, not
// across lines (spec.md places persistent top-level bindings across
// REPL turns out of scope; a single line's Block already supports
// `def`-then-use).
func runRepl(cmd *cobra.Command, args []string, heapBytes int) {
	it := interp.New(heapBytes)
	defer it.Close()

	rl, err := readline.New("prf> ")
	if err != nil {
		exitf("proff: %v\n", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			exitf("proff: %v\n", err)
		}
		if line == "" {
			continue
		}

		result, err := it.RunSource(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "proff: %v\n", err)
			continue
		}
		fmt.Println(formatResult(it, result))
	}
}

// formatResult renders a top-level result the way spec.md §6 expects: a
// human-readable form of the value, not the raw machine word.
func formatResult(it *interp.Interp, r value.Ref) string {
	v := it.View(r)
	switch v.Kind {
	case value.KindInt:
		return fmt.Sprintf("%d", v.Int)
	case value.KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case value.KindChar:
		return fmt.Sprintf("%q", v.Char)
	case value.KindBool:
		return fmt.Sprintf("%t", v.Bool)
	default:
		return fmt.Sprintf("#<object %#x>", uint64(r))
	}
}
