// Package interp is proff's interpreter facade: spec.md's C10. It owns
// the heap generation, the type registry, and the VM, and provides the
// GC-retry protocol spec.md §4.3 describes as allocate. Run does not go
// through allocate: the assembler panics when the heap is full, and the
// VM returns an error when a closure allocation fails.
// Grounded on original_source/src/main.rs's top-level driver (the shape
// "read a program, run it, report the value or the error") and on
// interpreter/src/gce/mod.rs's Generation-owns-everything layering.
package interp

import (
	"errors"
	"fmt"

	"github.com/nilern/proff/internal/ast"
	"github.com/nilern/proff/internal/bytecode"
	"github.com/nilern/proff/internal/flatten"
	"github.com/nilern/proff/internal/heap"
	"github.com/nilern/proff/internal/value"
	"github.com/nilern/proff/internal/vm"
)

// ErrOutOfMemory is returned when an allocation still fails after one
// retry following a collection: spec.md's GC-retry protocol.
var ErrOutOfMemory = errors.New("interp: out of memory")

// RuntimeError wraps a vm error (bounds/type) with the fact that it
// happened at program run time, so callers can distinguish it from a
// parse or flatten error.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string { return "proff: runtime error: " + e.Err.Error() }
func (e *RuntimeError) Unwrap() error { return e.Err }

// Interp is the interpreter facade. It is not safe for concurrent use.
type Interp struct {
	gen *heap.Generation
	reg *value.Registry
}

// New constructs a ready-to-run interpreter: a heap capped at
// maxHeapBytes, with the type registry bootstrapped (spec.md's
// new(max_heap_bytes)).
func New(maxHeapBytes int) *Interp {
	gen := heap.NewGeneration(maxHeapBytes)
	reg := value.NewRegistry(gen)
	return &Interp{gen: gen, reg: reg}
}

// Close releases the interpreter's heap.
func (it *Interp) Close() error {
	return it.gen.Close()
}

// View classifies a result Ref using this interpreter's type registry,
// so a caller (the CLI) can render it without reaching into internals.
func (it *Interp) View(r value.Ref) value.View {
	return r.View(it.reg)
}

func (it *Interp) h() value.Heap {
	return value.Heap{Gen: it.gen, Reg: it.reg}
}

// allocate wraps a single allocate+initialize step in the GC-retry
// protocol spec.md §4.3 describes: try once, on failure collect using
// roots (plus every registered Type object, so the registry's types
// survive the sweep), retry exactly once, else fail with
// ErrOutOfMemory. attempt reports failure by returning ok=false, as the
// alloc helpers in internal/value do.
func (it *Interp) allocate(roots []value.Ref, attempt func() (value.Ref, bool)) (ref value.Ref, err error) {
	if r, ok := attempt(); ok {
		return r, nil
	}

	words := make([]heap.Word, len(roots))
	for i, r := range roots {
		words[i] = heap.Word(r)
	}
	for t := value.TypeType; t <= value.TypeByteArray; t++ {
		words = append(words, heap.Word(it.reg.Get(t)))
	}
	it.gen.MarkAndSweep(words, it.reg)

	if r, ok := attempt(); ok {
		return r, nil
	}
	return value.Null, ErrOutOfMemory
}

// Run assembles prog (the output of flatten) into a top-level code
// object, starts a VM over it, and executes to completion: spec.md's
// run(program) → Result<ValueRef, Error>.
func (it *Interp) Run(prog *flatten.Program) (value.Ref, error) {
	asm, err := compile(prog)
	if err != nil {
		return value.Null, err
	}

	top := asm.Assemble(it.h())

	machine, err := vm.New(it.h(), top)
	if err != nil {
		return value.Null, &RuntimeError{Err: err}
	}

	result, err := machine.Run()
	if err != nil {
		if errors.Is(err, vm.ErrBounds) || errors.Is(err, vm.ErrType) {
			return value.Null, &RuntimeError{Err: err}
		}
		return value.Null, err
	}
	return result, nil
}

// RunSource parses, flattens, and runs src in one step: the CLI's
// primary entry point.
func (it *Interp) RunSource(src string) (value.Ref, error) {
	prog, err := parseAndFlatten(src)
	if err != nil {
		return value.Null, err
	}
	return it.Run(prog)
}

// parseAndFlatten is overridden by internal/parser at link time via the
// ParserFunc hook (kept here, not in internal/parser, to avoid
// internal/interp depending on the concrete parser implementation —
// only main needs to know a parser exists at all).
var ParserFunc func(src string) (ast.Node, error)

func parseAndFlatten(src string) (*flatten.Program, error) {
	if ParserFunc == nil {
		return nil, fmt.Errorf("interp: no parser registered")
	}
	tree, err := ParserFunc(src)
	if err != nil {
		return nil, err
	}
	return flatten.Flatten(tree), nil
}

// compile lowers a flatten.Program into an Assembler tree: proff's
// missing "codegen" stage, not named as its own component in spec.md
// (C7 ends at flatten's Expr tree, C8 begins at Assembler) but needed
// to connect the two. Grounded on bytecode.rs's test fixtures (fact,
// tailfact), which hand-assemble exactly this shape of program.
func compile(prog *flatten.Program) (*bytecode.Assembler, error) {
	c := newCompiler(prog)
	return c.compileProgram()
}
