// Command dryad runs Dryad source files and hosts the interactive
// REPL, grounded on the teacher's cmd/noxy/main.go: the same
// --disassembly/--version/--help flag surface, the same
// buffer-until-block-closes REPL loop, and the same
// print-bare-expression REPL convenience. Rewired onto the current
// compiler.Compile/vm.NewWithConfig API and extended with native
// registration and isatty-gated prompt coloring.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/mattn/go-isatty"

	"dryad/internal/aot"
	"dryad/internal/ast"
	"dryad/internal/compiler"
	"dryad/internal/debugserver"
	"dryad/internal/lexer"
	"dryad/internal/natives"
	"dryad/internal/parser"
	"dryad/internal/token"
	"dryad/internal/vm"
)

const Version = "v0.1.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("Recovered from panic:", r)
			debug.PrintStack()
		}
	}()

	showDisassembly := flag.Bool("disassembly", false, "Show bytecode disassembly")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")
	debugAddr := flag.String("debug-addr", "", "Listen address for the debug server (disabled if empty)")
	aotTarget := flag.String("aot-target", "", "Compile ahead-of-time for this target instead of interpreting (x86_64, arm64)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dryad [options] [file]\n\nOptions:\n")
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  --%s\n\t%s\n", f.Name, f.Usage)
		})
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}

	if *showVersion {
		fmt.Printf("Dryad %s\n", Version)
		return
	}

	args := flag.Args()

	if len(args) < 1 {
		startREPL(*showDisassembly, *debugAddr)
		return
	}

	filename := args[0]
	content, err := os.ReadFile(filename)
	if err != nil {
		fmt.Printf("Error reading file: %s\n", err)
		os.Exit(1)
	}

	if *aotTarget != "" {
		compileAOT(filename, string(content), *aotTarget)
		return
	}

	runWithConfig(filename, string(content), filepath.Dir(filename), *showDisassembly, *debugAddr)
}

func compileAOT(filename, input, target string) {
	backend, ok := aot.Lookup(target)
	if !ok {
		fmt.Printf("unknown AOT target %q (available: x86_64, arm64)\n", target)
		os.Exit(1)
	}

	l := lexer.New(input)
	p := parser.New(l)
	program := p.ParseProgram()
	if len(p.Errors()) > 0 {
		for _, msg := range p.Errors() {
			fmt.Println(msg)
		}
		os.Exit(1)
	}

	c, errs := compiler.Compile(program, filename)
	if len(errs) > 0 {
		for _, msg := range errs {
			fmt.Printf("Compiler error: %s\n", msg)
		}
		os.Exit(1)
	}

	_, err := backend.CompileModule(&aot.Module{Name: filename, Chunk: c})
	if err != nil {
		fmt.Printf("AOT compile (%s, %s): %s\n", backend.Name(), backend.TargetTriple(), err)
		os.Exit(1)
	}
}

func newConfiguredVM(rootPath, debugAddr string) *vm.VM {
	cfg := vm.DefaultConfig()
	cfg.RootPath = rootPath
	cfg.DebugAddr = debugAddr
	machine := vm.NewWithConfig(cfg)
	natives.RegisterAll(machine)

	if debugAddr != "" {
		state := debugserver.NewState(machine.Globals, machine.HeapSummary)
		machine.SetDebugHook(state)
		srv := debugserver.NewServer(state, debugAddr)
		go func() {
			if err := srv.Start(); err != nil {
				fmt.Printf("debug server stopped: %s\n", err)
			}
		}()
	}

	return machine
}

// replPrompt colorizes the prompt only when stdout is a real
// terminal, checked with isatty the way a REPL banner decides whether
// ANSI escapes are safe to emit.
func replPrompt(primary bool) string {
	useColor := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	label := "... "
	if primary {
		label = ">>> "
	}
	if !useColor {
		return label
	}
	return "\x1b[36m" + label + "\x1b[0m"
}

func startREPL(showDisasm bool, debugAddr string) {
	fmt.Printf("Dryad REPL %s\n", Version)
	fmt.Println("Type 'exit' to quit.")

	machine := newConfiguredVM(".", debugAddr)
	scanner := bufio.NewScanner(os.Stdin)

	var inputBuffer string

	for {
		fmt.Print(replPrompt(inputBuffer == ""))
		os.Stdout.Sync()

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if strings.TrimSpace(line) == "exit" {
			break
		}

		if strings.TrimSpace(line) == "" && inputBuffer == "" {
			continue
		}

		if inputBuffer == "" {
			inputBuffer = line
		} else {
			inputBuffer += "\n" + line
		}

		l := lexer.New(inputBuffer)
		p := parser.New(l)
		program := p.ParseProgram()

		if len(p.Errors()) > 0 {
			isIncomplete := false
			for _, msg := range p.Errors() {
				if strings.Contains(msg, "found end of file") || strings.Contains(msg, "found EOF") {
					isIncomplete = true
					break
				}
			}
			if isIncomplete {
				continue
			}
			for _, msg := range p.Errors() {
				fmt.Println(msg)
			}
			inputBuffer = ""
			continue
		}

		// REPL convenience: a single bare expression statement prints
		// its value, matching the teacher's "1 + 1" -> "print(1 + 1)" rewrite.
		if len(program.Statements) == 1 {
			if exprStmt, ok := program.Statements[0].(*ast.ExpressionStmt); ok {
				callExpr := &ast.CallExpression{
					Token: token.Token{Type: token.IDENTIFIER, Literal: "print"},
					Function: &ast.Identifier{
						Token: token.Token{Type: token.IDENTIFIER, Literal: "print"},
						Value: "print",
					},
					Arguments: []ast.Expression{exprStmt.Expression},
				}
				program.Statements[0] = &ast.ExpressionStmt{
					Token:      exprStmt.Token,
					Expression: callExpr,
				}
			}
		}

		c, errs := compiler.Compile(program, "REPL")
		if len(errs) > 0 {
			for _, msg := range errs {
				fmt.Printf("Compiler error: %s\n", msg)
			}
			inputBuffer = ""
			continue
		}

		if showDisasm {
			c.DisassembleAll("REPL")
		}

		if err := machine.Interpret(c); err != nil {
			fmt.Printf("Runtime error: %s\n", err)
		}

		inputBuffer = ""
	}
}

func runWithConfig(filename, input, rootPath string, showDisasm bool, debugAddr string) {
	l := lexer.New(input)
	p := parser.New(l)
	program := p.ParseProgram()

	if len(p.Errors()) > 0 {
		for _, msg := range p.Errors() {
			fmt.Println(msg)
		}
		os.Exit(1)
	}

	c, errs := compiler.Compile(program, filename)
	if len(errs) > 0 {
		for _, msg := range errs {
			fmt.Printf("Compiler error: %s\n", msg)
		}
		os.Exit(1)
	}

	if showDisasm {
		fmt.Printf("Disassembly:\n")
		c.DisassembleAll("main")
		fmt.Printf("\nExecution:\n")
	}

	machine := newConfiguredVM(rootPath, debugAddr)
	if err := machine.Interpret(c); err != nil {
		fmt.Printf("Runtime error: %s\n", err)
		os.Exit(1)
	}
}
