package compiler

import (
	"testing"

	"dryad/internal/ast"
	"dryad/internal/lexer"
	"dryad/internal/parser"
)

type compilerTestCase struct {
	input string
}

func TestCompilerSmoke(t *testing.T) {
	tests := []compilerTestCase{
		{"1 + 2"},
		{"let x = 1; x = x + 1"},
		{"let x = 0; while (x < 10) { x = x + 1; }"},
		{"for (x in [1, 2, 3]) { print(x); }"},
		{"fn add(a, b) { return a + b; } add(1, 2)"},
		{"let f = (x) => x * 2; f(21)"},
		{`class Animal { name: string; fn init(name) { this.name = name; } fn speak() { return this.name; } }`},
		{`class Dog extends Animal { fn speak() { return super.speak() + "!"; } }`},
		{"try { throw \"boom\"; } catch (e) { print(e); } finally { print(\"done\"); }"},
		{`"hello ${1 + 1} world"`},
		{"[1, 2, 3][0]"},
		{"{ \"a\": 1, \"b\": 2 }"},
		{"(1, 2, 3)"},
		// Note: end-to-end execution semantics are exercised in
		// vm_test.go; this file only asserts that every construct the
		// parser accepts also compiles without error.
	}

	runCompilerTests(t, tests)
}

func TestCompilerRejectsMisplacedControlFlow(t *testing.T) {
	tests := []compilerTestCase{
		{"break"},
		{"continue"},
		{"return 1"},
		{"this"},
	}
	for _, tt := range tests {
		program := parse(tt.input)
		_, errs := Compile(program, "<test>")
		if len(errs) == 0 {
			t.Errorf("expected compile error for %q, got none", tt.input)
		}
	}
}

func parse(input string) *ast.Program {
	l := lexer.New(input)
	p := parser.New(l)
	return p.ParseProgram()
}

func runCompilerTests(t *testing.T, tests []compilerTestCase) {
	for _, tt := range tests {
		t.Logf("Compiling: %s", tt.input)
		program := parse(tt.input)
		_, errs := Compile(program, "<test>")
		if len(errs) > 0 {
			t.Fatalf("compiler errors for input %q: %v", tt.input, errs)
		}
	}
}
