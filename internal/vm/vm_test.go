package vm

import (
	"testing"

	"dryad/internal/ast"
	"dryad/internal/compiler"
	"dryad/internal/lexer"
	"dryad/internal/parser"
	"dryad/internal/value"
)

func parseSource(t *testing.T, src string) *ast.Program {
	t.Helper()
	l := lexer.New(src)
	p := parser.New(l)
	prog := p.ParseProgram()
	if len(p.Errors()) > 0 {
		t.Fatalf("parser errors for %q: %v", src, p.Errors())
	}
	return prog
}

func run(t *testing.T, src string) (value.Value, *VM) {
	t.Helper()
	prog := parseSource(t, src)
	c, errs := compiler.Compile(prog, "<test>")
	if len(errs) > 0 {
		t.Fatalf("compiler errors for %q: %v", src, errs)
	}
	m := New()
	if err := m.Interpret(c); err != nil {
		t.Fatalf("runtime error for %q: %v", src, err)
	}
	return m.LastValue(), m
}

func runExpectError(t *testing.T, src string) error {
	t.Helper()
	prog := parseSource(t, src)
	c, errs := compiler.Compile(prog, "<test>")
	if len(errs) > 0 {
		t.Fatalf("compiler errors for %q: %v", src, errs)
	}
	m := New()
	err := m.Interpret(c)
	if err == nil {
		t.Fatalf("expected a runtime error for %q, got none", src)
	}
	return err
}

func isInf(f float64) bool { return f > 1e308 || f < -1e308 }

func TestArithmeticAndStackBalance(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{"1 + 2", 3},
		{"(5 + 10 * 2 + 15 / 3) * 2 + -10", 50},
		{"10 % 3", 1},
		{"7 & 3", 3},
		{"1 | 4", 5},
		{"5 ^ 1", 4},
		{"1 << 4", 16},
		{"-1 >>> 28", 15},
	}
	for _, tt := range tests {
		got, m := run(t, tt.src)
		if got.Type != value.Number || got.AsNumber() != tt.want {
			t.Errorf("%q: got %v, want %v", tt.src, got, tt.want)
		}
		if m.stackTop != 1 {
			t.Errorf("%q: left stackTop=%d, want 1 (residual values leaked)", tt.src, m.stackTop)
		}
	}
}

func TestDivisionByZeroIsInfinity(t *testing.T) {
	got, _ := run(t, "1 / 0")
	if got.Type != value.Number || !isInf(got.AsNumber()) {
		t.Errorf("1/0: got %v, want +Inf", got)
	}
}

func TestModuloByZeroRaises(t *testing.T) {
	runExpectError(t, "1 % 0")
}

func TestTruthiness(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"!!0", false},
		{"!!1", true},
		{"!!\"\"", false},
		{"!!\"x\"", true},
		{"!!null", false},
		{"!!false", false},
		{"!![1]", true},
	}
	for _, tt := range tests {
		got, _ := run(t, tt.src)
		if got.Type != value.Bool || got.AsBool() != tt.want {
			t.Errorf("%q: got %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestStringConcatCoercion(t *testing.T) {
	got, _ := run(t, `"n=" + 1`)
	if got.Type != value.String || got.AsString() != "n=1" {
		t.Errorf("got %v", got)
	}
}

func TestClosureCapturesUpvalue(t *testing.T) {
	src := `
		fn makeCounter() {
			let n = 0;
			fn inc() {
				n = n + 1;
				return n;
			}
			return inc;
		}
		let c = makeCounter();
		c();
		c();
		c()
	`
	got, m := run(t, src)
	if got.Type != value.Number || got.AsNumber() != 3 {
		t.Errorf("got %v, want 3", got)
	}
	if m.stackTop != 1 {
		t.Errorf("left stackTop=%d, want 1", m.stackTop)
	}
}

func TestForEachOverArray(t *testing.T) {
	src := `
		let total = 0;
		for (x in [1, 2, 3, 4]) {
			total = total + x;
		}
		total
	`
	got, _ := run(t, src)
	if got.Type != value.Number || got.AsNumber() != 10 {
		t.Errorf("got %v, want 10", got)
	}
}

func TestForEachBreakAndContinue(t *testing.T) {
	src := `
		let total = 0;
		for (x in [1, 2, 3, 4, 5, 6]) {
			if (x == 5) { break; }
			if (x % 2 == 0) { continue; }
			total = total + x;
		}
		total
	`
	got, _ := run(t, src)
	// 1 and 3 counted; 2 and 4 skipped by continue; loop halts at 5.
	if got.Type != value.Number || got.AsNumber() != 4 {
		t.Errorf("got %v, want 4", got)
	}
}

func TestForEachOverObjectYieldsKeys(t *testing.T) {
	src := `
		for (k in { "a": 1, "b": 2 }) {
			print(k);
		}
		1
	`
	// Smoke-checks that iterating a map compiles and completes without a
	// type error; key contents are covered by heap's own map tests.
	got, _ := run(t, src)
	if got.Type != value.Number || got.AsNumber() != 1 {
		t.Errorf("got %v, want 1", got)
	}
}

func TestWhileLoop(t *testing.T) {
	src := `
		let x = 0;
		while (x < 10) {
			x = x + 1;
		}
		x
	`
	got, _ := run(t, src)
	if got.Type != value.Number || got.AsNumber() != 10 {
		t.Errorf("got %v, want 10", got)
	}
}

func TestFinallyRunsOnNormalPath(t *testing.T) {
	src := `
		let log = "";
		try {
			log = log + "a";
		} finally {
			log = log + "f";
		}
		log
	`
	got, _ := run(t, src)
	if got.Type != value.String || got.AsString() != "af" {
		t.Errorf("got %v, want \"af\"", got)
	}
}

func TestFinallyRunsWhenCaught(t *testing.T) {
	src := `
		let log = "";
		try {
			throw "boom";
		} catch (e) {
			log = log + "c";
		} finally {
			log = log + "f";
		}
		log
	`
	got, _ := run(t, src)
	if got.Type != value.String || got.AsString() != "cf" {
		t.Errorf("got %v, want \"cf\"", got)
	}
}

func TestFinallyRunsWhenUncaughtPropagates(t *testing.T) {
	src := `
		let log = "";
		fn inner() {
			try {
				throw "boom";
			} finally {
				log = log + "f";
			}
		}
		try {
			inner();
		} catch (e) {
			log = log + "c";
		}
		log
	`
	got, _ := run(t, src)
	if got.Type != value.String || got.AsString() != "fc" {
		t.Errorf("got %v, want \"fc\"", got)
	}
}

func TestFinallyRunsOnReturnInsideTry(t *testing.T) {
	src := `
		let log = "";
		fn f() {
			try {
				return 1;
			} finally {
				log = log + "f";
			}
		}
		let result = f();
		log + result
	`
	got, _ := run(t, src)
	if got.Type != value.String || got.AsString() != "f1" {
		t.Errorf("got %v, want \"f1\"", got)
	}
}

func TestFinallyRunsOnReturnInsideTryWithCatch(t *testing.T) {
	src := `
		let log = "";
		fn f() {
			try {
				return 1;
			} catch (e) {
				log = log + "c";
			} finally {
				log = log + "f";
			}
		}
		let result = f();
		log + result
	`
	got, _ := run(t, src)
	if got.Type != value.String || got.AsString() != "f1" {
		t.Errorf("got %v, want \"f1\"", got)
	}
}

func TestFinallyRunsWhenCatchBodyThrows(t *testing.T) {
	src := `
		let log = "";
		fn inner() {
			try {
				throw "boom";
			} catch (e) {
				throw "rethrown";
			} finally {
				log = log + "f";
			}
		}
		try {
			inner();
		} catch (e) {
			log = log + "c";
		}
		log
	`
	got, _ := run(t, src)
	if got.Type != value.String || got.AsString() != "fc" {
		t.Errorf("got %v, want \"fc\"", got)
	}
}

func TestClassConstructorAndMethod(t *testing.T) {
	src := `
		class Animal {
			fn init(name) { this.name = name; }
			fn speak() { return this.name + " makes a sound"; }
		}
		let a = Animal("Rex");
		a.speak()
	`
	got, _ := run(t, src)
	if got.Type != value.String || got.AsString() != "Rex makes a sound" {
		t.Errorf("got %v", got)
	}
}

func TestClassInheritanceAndSuper(t *testing.T) {
	src := `
		class Animal {
			fn init(name) { this.name = name; }
			fn speak() { return this.name; }
		}
		class Dog extends Animal {
			fn speak() { return super.speak() + "!"; }
		}
		let d = Dog("Fido");
		d.speak()
	`
	got, _ := run(t, src)
	if got.Type != value.String || got.AsString() != "Fido!" {
		t.Errorf("got %v, want \"Fido!\"", got)
	}
}

func TestClassOverrideDispatchesToMostDerived(t *testing.T) {
	src := `
		class A { fn who() { return "A"; } fn greet() { return this.who(); } }
		class B extends A { fn who() { return "B"; } }
		let b = B();
		b.greet()
	`
	got, _ := run(t, src)
	if got.Type != value.String || got.AsString() != "B" {
		t.Errorf("got %v, want \"B\"", got)
	}
}

func TestStaticMethodRejectsInstanceAccess(t *testing.T) {
	src := `
		class Util {
			static fn double(x) { return x * 2; }
		}
		let u = Util();
		u.double(3)
	`
	runExpectError(t, src)
}

func TestInstanceMethodRejectsStaticAccess(t *testing.T) {
	src := `
		class Greeter {
			fn init(name) { this.name = name; }
			fn greet() { return this.name; }
		}
		Greeter.greet()
	`
	runExpectError(t, src)
}

func TestStaticMethodCallableOnClass(t *testing.T) {
	src := `
		class Util {
			static fn double(x) { return x * 2; }
		}
		Util.double(21)
	`
	got, _ := run(t, src)
	if got.Type != value.Number || got.AsNumber() != 42 {
		t.Errorf("got %v, want 42", got)
	}
}

func TestArityErrorOnTooFewArguments(t *testing.T) {
	src := `
		fn add(a, b) { return a + b; }
		add(1)
	`
	runExpectError(t, src)
}

func TestExtraArgumentsAreDiscarded(t *testing.T) {
	src := `
		fn add(a, b) { return a + b; }
		add(1, 2, 3, 4)
	`
	got, _ := run(t, src)
	if got.Type != value.Number || got.AsNumber() != 3 {
		t.Errorf("got %v, want 3", got)
	}
}

func TestIndexAndPropertyAssignment(t *testing.T) {
	src := `
		let arr = [1, 2, 3];
		arr[1] = 99;
		let obj = { "a": 1 };
		obj["b"] = 2;
		arr[1] + obj["b"]
	`
	got, _ := run(t, src)
	if got.Type != value.Number || got.AsNumber() != 101 {
		t.Errorf("got %v, want 101", got)
	}
}

func TestOutOfBoundsIndexRaises(t *testing.T) {
	runExpectError(t, "[1, 2][5]")
}

func TestMutexLockUnlockRoundTrip(t *testing.T) {
	src := `
		let m = mutex();
		m.lock();
		m.unlock();
		1
	`
	got, _ := run(t, src)
	if got.Type != value.Number || got.AsNumber() != 1 {
		t.Errorf("got %v, want 1", got)
	}
}
