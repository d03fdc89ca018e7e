package interp

import (
	"testing"

	"github.com/nilern/proff/internal/flatten"
	"github.com/nilern/proff/internal/parser"
)

// run is the end-to-end tests' shared driver: parse, flatten,
// run, and report the final result as an int64 for comparison. Bypasses
// RunSource's ParserFunc indirection (a cmd/proff-only wiring concern)
// and calls parser.Parse directly, since this test lives alongside the
// rest of the pipeline it's exercising.
func run(t *testing.T, src string) int64 {
	t.Helper()
	it := New(1 << 20)
	defer it.Close()

	tree, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse(%q): %v", src, err)
	}
	prog := flatten.Flatten(tree)
	result, err := it.Run(prog)
	if err != nil {
		t.Fatalf("run(%q): %v", src, err)
	}
	n, ok := result.AsInt()
	if !ok {
		t.Fatalf("run(%q) = %v, want an int", src, result)
	}
	return n
}

func TestFactRecursion(t *testing.T) {
	const src = `def fact = fn { (n) => if n < 2 then 1 else n * self(n - 1) };
fact(5)`
	if got := run(t, src); got != 120 {
		t.Fatalf("fact(5) = %d, want 120", got)
	}
}

func TestTailfactAccumulatorRecursion(t *testing.T) {
	const src = `def tailfact = fn { (n, acc) => if n < 2 then acc else self(n - 1, n * acc) };
tailfact(5, 1)`
	if got := run(t, src); got != 120 {
		t.Fatalf("tailfact(5, 1) = %d, want 120", got)
	}
}

func TestArithmeticPrimitives(t *testing.T) {
	const src = `(2 + 3) * 4 - 1`
	if got := run(t, src); got != 19 {
		t.Fatalf("(2+3)*4-1 = %d, want 19", got)
	}
}

func TestBlockScoping(t *testing.T) {
	const src = `def x = 1;
{ def x = 2; x }`
	if got := run(t, src); got != 2 {
		t.Fatalf("inner block's own x shadowed the outer one incorrectly: got %d, want 2", got)
	}
}

func TestClosureCapturesEnclosingDef(t *testing.T) {
	const src = `def x = 41;
def addX = fn { (y) => x + y };
addX(1)`
	if got := run(t, src); got != 42 {
		t.Fatalf("closure failed to capture the enclosing def: got %d, want 42", got)
	}
}
