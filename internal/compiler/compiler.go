// Package compiler turns an ast.Program into a chunk.Chunk: a single
// depth-first walk that resolves names (local, then upvalue, then
// global — spec §4.3), tracks lexical scope depth for local lifetime,
// and emits the opcode vocabulary chunk.go defines. Generalized from
// the teacher's internal/compiler/compiler.go, whose Local/Upvalue/Loop
// bookkeeping and addLocal/resolveLocal/resolveUpvalue/addUpvalue/
// beginScope/endScope/emitJump/patchJump/emitLoop/makeConstant idiom
// this keeps; its static type checker does not survive, since this
// language's values carry their own runtime type tag instead.
package compiler

import (
	"fmt"

	"dryad/internal/ast"
	"dryad/internal/chunk"
	"dryad/internal/value"
)

// FuncKind distinguishes what kind of callable body a Compiler is
// assembling, which governs whether `return`, `this`, `super` and a
// bare `break`/`continue` are legal at the top level of this frame.
type FuncKind int

const (
	KindScript FuncKind = iota
	KindFunction
	KindLambda
	KindMethod
	KindConstructor
)

// Local is one compile-time stack slot: a name, the scope depth it was
// declared at, whether a nested closure captures it (forcing
// OP_CLOSE_UPVALUE on scope exit) and whether `const` forbids
// reassignment.
type Local struct {
	Name       string
	Depth      int
	IsCaptured bool
	IsConst    bool
}

// loopCtx tracks the jump-patch bookkeeping a break/continue inside a
// loop body needs: where a continue loops back to, the not-yet-patched
// forward jumps a break left behind, the scope depth to unwind locals
// back to before either jumps, and how many enclosing try/finally
// blocks were already active when the loop started (so a break/continue
// only re-runs the finally blocks it actually jumps out of, not ones
// that merely enclose the whole loop).
type loopCtx struct {
	continueTarget int
	breakJumps     []int
	depth          int
	finallyDepth   int
}

// Compiler is one activation of the single-pass compile walk — one
// per script, function, lambda, method or constructor body, chained
// through enclosing the way the teacher's Compiler chains through its
// own field of the same name.
type Compiler struct {
	enclosing *Compiler
	chunk     *chunk.Chunk
	kind      FuncKind

	locals     []Local
	upvalues   []chunk.UpvalueDirective
	scopeDepth int
	loops      []*loopCtx

	// finallyStack holds the finally block of every try statement whose
	// protected body or catch body compilation is currently underway,
	// innermost last. return/break/continue splice these in (spec §7:
	// finally must run on every exit path) before emitting the actual
	// exit, since jumping out of a try/catch bytecode-wise never passes
	// back through the block's own inline finally copy.
	finallyStack []*ast.BlockStatement

	constGlobals map[string]bool

	thisAllowed  bool
	superAllowed bool

	line     int
	fileName string
	errors   []string
}

// New creates the top-level script Compiler.
func New(fileName string) *Compiler {
	c := &Compiler{
		chunk:        chunk.New("<script>", fileName),
		kind:         KindScript,
		fileName:     fileName,
		constGlobals: make(map[string]bool),
	}
	c.locals = append(c.locals, Local{Name: ""})
	return c
}

func newChild(parent *Compiler, name string, kind FuncKind, thisAllowed, superAllowed bool) *Compiler {
	c := &Compiler{
		enclosing:    parent,
		chunk:        chunk.New(name, parent.fileName),
		kind:         kind,
		fileName:     parent.fileName,
		constGlobals: parent.constGlobals,
		thisAllowed:  thisAllowed,
		superAllowed: superAllowed,
	}
	if thisAllowed {
		c.locals = append(c.locals, Local{Name: "this"})
	} else {
		c.locals = append(c.locals, Local{Name: ""})
	}
	return c
}

// Compile walks program and returns the finished top-level chunk
// alongside any compile errors collected along the way. When the last
// statement is a bare expression, its value is the script's result;
// otherwise the script returns null.
func Compile(program *ast.Program, fileName string) (*chunk.Chunk, []string) {
	c := New(fileName)
	for i, stmt := range program.Statements {
		if es, ok := stmt.(*ast.ExpressionStmt); ok && es.Expression != nil && i == len(program.Statements)-1 {
			c.compileExpression(es.Expression)
			c.emitOp(chunk.OpReturn)
			return c.chunk, c.errors
		}
		c.compileStatement(stmt)
	}
	c.emitOp(chunk.OpNull)
	c.emitOp(chunk.OpReturn)
	return c.chunk, c.errors
}

func (c *Compiler) errorf(format string, args ...interface{}) {
	c.errors = append(c.errors, fmt.Sprintf("line %d: %s", c.line, fmt.Sprintf(format, args...)))
}

// --- emission helpers, grounded on the teacher's emitByte/emitBytes/
// emitJump/patchJump/emitLoop/makeConstant/emitConstant idiom. ---

func (c *Compiler) emitByte(b byte) int { return c.chunk.Write(b, c.line) }

func (c *Compiler) emitOp(op chunk.OpCode) int { return c.chunk.WriteOp(op, c.line) }

func (c *Compiler) emitOpByte(op chunk.OpCode, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

func (c *Compiler) emitOpShort(op chunk.OpCode, v uint16) int {
	c.emitOp(op)
	return c.chunk.WriteUint16(v, c.line)
}

// emitJump writes op followed by a placeholder 2-byte offset, returning
// the offset of the placeholder for a later patchJump.
func (c *Compiler) emitJump(op chunk.OpCode) int {
	c.emitOp(op)
	return c.chunk.WriteUint16(0xFFFF, c.line)
}

func (c *Compiler) patchJump(offset int) {
	jumpLen := len(c.chunk.Code) - offset - 2
	if jumpLen < 0 || jumpLen > 0xFFFF {
		c.errorf("jump too large to encode")
		return
	}
	c.chunk.PatchUint16(offset, uint16(jumpLen))
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(chunk.OpLoop)
	pos := len(c.chunk.Code)
	offset := pos + 2 - loopStart
	if offset < 0 || offset > 0xFFFF {
		c.errorf("loop body too large to encode")
		offset = 0
	}
	c.chunk.WriteUint16(uint16(offset), c.line)
}

func (c *Compiler) makeConstant(v value.Value) byte {
	idx := c.chunk.AddConstant(v)
	if idx > 255 {
		c.errorf("too many constants in one chunk")
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitOpByte(chunk.OpConstant, c.makeConstant(v))
}

func (c *Compiler) nameConstant(name string) byte {
	return c.makeConstant(value.NewString(name))
}

// --- scope & locals ---

func (c *Compiler) beginScope() { c.scopeDepth++ }

func (c *Compiler) endScope() {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].Depth > c.scopeDepth {
		if c.locals[len(c.locals)-1].IsCaptured {
			c.emitOp(chunk.OpCloseUpvalue)
		} else {
			c.emitOp(chunk.OpPop)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (c *Compiler) addLocal(name string, isConst bool) {
	for i := len(c.locals) - 1; i >= 0; i-- {
		l := c.locals[i]
		if l.Depth < c.scopeDepth {
			break
		}
		if l.Name == name {
			c.errorf("%q is already declared in this scope", name)
			return
		}
	}
	c.locals = append(c.locals, Local{Name: name, Depth: c.scopeDepth, IsConst: isConst})
}

func (c *Compiler) resolveLocal(name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].Name == name {
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(index byte, isLocal bool) int {
	for i, u := range c.upvalues {
		if u.Index == index && u.IsLocal == isLocal {
			return i
		}
	}
	c.upvalues = append(c.upvalues, chunk.UpvalueDirective{IsLocal: isLocal, Index: index})
	return len(c.upvalues) - 1
}

func (c *Compiler) resolveUpvalue(name string) int {
	if c.enclosing == nil {
		return -1
	}
	if idx := c.enclosing.resolveLocal(name); idx != -1 {
		c.enclosing.locals[idx].IsCaptured = true
		return c.addUpvalue(byte(idx), true)
	}
	if idx := c.enclosing.resolveUpvalue(name); idx != -1 {
		return c.addUpvalue(byte(idx), false)
	}
	return -1
}

func (c *Compiler) loadVariable(name string) {
	if idx := c.resolveLocal(name); idx != -1 {
		c.emitOpByte(chunk.OpLoadLocal, byte(idx))
		return
	}
	if idx := c.resolveUpvalue(name); idx != -1 {
		c.emitOpByte(chunk.OpLoadUpvalue, byte(idx))
		return
	}
	c.emitOpByte(chunk.OpLoadGlobal, c.nameConstant(name))
}

// storeVariable emits the appropriately-scoped store, leaving the
// stored value on the stack (statement-level callers pop it
// themselves; assignment-expression callers keep it).
func (c *Compiler) storeVariable(name string) {
	if idx := c.resolveLocal(name); idx != -1 {
		if c.locals[idx].IsConst {
			c.errorf("cannot assign to const %q", name)
		}
		c.emitOpByte(chunk.OpStoreLocal, byte(idx))
		return
	}
	if idx := c.resolveUpvalue(name); idx != -1 {
		c.emitOpByte(chunk.OpStoreUpvalue, byte(idx))
		return
	}
	if c.constGlobals[name] {
		c.errorf("cannot assign to const %q", name)
	}
	c.emitOpByte(chunk.OpStoreGlobal, c.nameConstant(name))
}

func (c *Compiler) defineVariable(name string, global, isConst bool) {
	if global {
		if isConst {
			c.constGlobals[name] = true
		}
		c.emitOpByte(chunk.OpDefineGlobal, c.nameConstant(name))
		return
	}
	c.addLocal(name, isConst)
}

// --- statements ---

func (c *Compiler) compileBlockStatements(stmts []ast.Statement) {
	for _, s := range stmts {
		c.compileStatement(s)
	}
}

// compileBlock runs stmts in a fresh child scope.
func (c *Compiler) compileBlock(b *ast.BlockStatement) {
	c.beginScope()
	c.compileBlockStatements(b.Statements)
	c.endScope()
}

func (c *Compiler) compileStatement(node ast.Statement) {
	switch n := node.(type) {
	case *ast.LetStmt:
		c.compileLetStmt(n)
	case *ast.AssignStmt:
		c.compileAssignStmt(n)
	case *ast.ReturnStmt:
		c.compileReturnStmt(n)
	case *ast.BreakStmt:
		c.compileBreak()
	case *ast.ContinueStmt:
		c.compileContinue()
	case *ast.ExpressionStmt:
		if n.Expression != nil {
			c.compileExpression(n.Expression)
			c.emitOp(chunk.OpPop)
		}
	case *ast.BlockStatement:
		c.compileBlock(n)
	case *ast.IfStatement:
		c.compileIfStatement(n)
	case *ast.WhileStatement:
		c.compileWhileStatement(n)
	case *ast.ForEachStatement:
		c.compileForEachStatement(n)
	case *ast.FunctionStatement:
		c.compileFunctionStatement(n)
	case *ast.ClassDeclaration:
		c.compileClassDeclaration(n)
	case *ast.TryStatement:
		c.compileTryStatement(n)
	case *ast.ThrowStatement:
		c.compileExpression(n.Value)
		c.emitOp(chunk.OpThrow)
	case *ast.UseStmt:
		// Emits no code; the named module is not loaded.
	case *ast.ImportStmt:
		c.compileImportStmt(n)
	case *ast.ExportStmt:
		c.compileStatement(n.Decl)
	case *ast.StructStatement:
		// Structural types are compile-time-only metadata in this
		// dynamically-typed runtime; nothing executable to emit.
	case *ast.FieldDeclaration, *ast.MethodDeclaration:
		c.errorf("field/method declarations are only valid inside a class body")
	default:
		c.errorf("compiler: unsupported statement %T", node)
	}
}

func (c *Compiler) compileLetStmt(n *ast.LetStmt) {
	if n.Value != nil {
		c.compileExpression(n.Value)
	} else {
		c.emitOp(chunk.OpNull)
	}
	global := c.scopeDepth == 0 || n.IsGlobal
	c.defineVariable(n.Name.Value, global, n.IsConst)
}

func (c *Compiler) compileAssignStmt(n *ast.AssignStmt) {
	switch t := n.Target.(type) {
	case *ast.Identifier:
		c.compileExpression(n.Value)
		c.storeVariable(t.Value)
		c.emitOp(chunk.OpPop)
	case *ast.IndexExpression:
		c.compileExpression(t.Left)
		c.compileExpression(t.Index)
		c.compileExpression(n.Value)
		c.emitOp(chunk.OpIndexSet)
		c.emitOp(chunk.OpPop)
	case *ast.MemberAccessExpression:
		c.compileExpression(t.Left)
		c.compileExpression(n.Value)
		c.emitOpByte(chunk.OpPropertySet, c.nameConstant(t.Member))
		c.emitOp(chunk.OpPop)
	default:
		c.errorf("invalid assignment target %T", n.Target)
	}
}

func (c *Compiler) compileReturnStmt(n *ast.ReturnStmt) {
	if c.kind == KindScript {
		c.errorf("'return' outside of a function")
	}
	if n.ReturnValue != nil {
		c.compileExpression(n.ReturnValue)
	} else {
		c.emitOp(chunk.OpNull)
	}
	c.runFinallyBlocks(0)
	c.emitOp(chunk.OpReturn)
}

// runFinallyBlocks splices an inline copy of every registered finally
// block down to (but not including) index from onto the bytecode
// stream, innermost first — the same bytecode compileBlock already
// emits for a try's normal-completion path, just re-emitted at an
// early-exit site so finally runs there too (spec §7). Each copy nets
// zero stack effect, so this is safe to insert above a pending return
// value or in the middle of a break/continue's unwind sequence.
func (c *Compiler) runFinallyBlocks(from int) {
	for i := len(c.finallyStack) - 1; i >= from; i-- {
		c.compileBlock(c.finallyStack[i])
	}
}

// unwindLocalsAbove pops (or closes) every local declared deeper than
// depth without removing them from the compiler's own bookkeeping —
// used by break/continue, which jump out of scopes the normal
// endScope() walk never runs for this control path.
func (c *Compiler) unwindLocalsAbove(depth int) {
	for i := len(c.locals) - 1; i >= 0 && c.locals[i].Depth > depth; i-- {
		if c.locals[i].IsCaptured {
			c.emitOp(chunk.OpCloseUpvalue)
		} else {
			c.emitOp(chunk.OpPop)
		}
	}
}

func (c *Compiler) compileBreak() {
	if len(c.loops) == 0 {
		c.errorf("'break' outside of a loop")
		return
	}
	loop := c.loops[len(c.loops)-1]
	c.runFinallyBlocks(loop.finallyDepth)
	c.unwindLocalsAbove(loop.depth)
	jump := c.emitJump(chunk.OpJump)
	loop.breakJumps = append(loop.breakJumps, jump)
}

func (c *Compiler) compileContinue() {
	if len(c.loops) == 0 {
		c.errorf("'continue' outside of a loop")
		return
	}
	loop := c.loops[len(c.loops)-1]
	c.runFinallyBlocks(loop.finallyDepth)
	c.unwindLocalsAbove(loop.depth)
	c.emitLoop(loop.continueTarget)
}

func (c *Compiler) compileIfStatement(n *ast.IfStatement) {
	c.compileExpression(n.Condition)
	elseJump := c.emitJump(chunk.OpJumpIfFalse)
	c.compileBlock(n.Consequence)
	endJump := c.emitJump(chunk.OpJump)
	c.patchJump(elseJump)
	if n.Alternative != nil {
		c.compileBlock(n.Alternative)
	}
	c.patchJump(endJump)
}

func (c *Compiler) pushLoop(continueTarget int) {
	c.loops = append(c.loops, &loopCtx{
		continueTarget: continueTarget,
		depth:          c.scopeDepth,
		finallyDepth:   len(c.finallyStack),
	})
}

func (c *Compiler) popLoop() {
	loop := c.loops[len(c.loops)-1]
	c.loops = c.loops[:len(c.loops)-1]
	for _, j := range loop.breakJumps {
		c.patchJump(j)
	}
}

func (c *Compiler) compileWhileStatement(n *ast.WhileStatement) {
	loopStart := len(c.chunk.Code)
	c.compileExpression(n.Condition)
	exitJump := c.emitJump(chunk.OpJumpIfFalse)
	c.pushLoop(loopStart)
	c.compileBlock(n.Body)
	c.emitLoop(loopStart)
	c.patchJump(exitJump)
	c.popLoop()
}

// compileForEachStatement lowers a for-in loop to the IterNew/IterNext/
// Loop sequence (spec §4.3): the iterator lives in a hidden local so
// each iteration can reload and re-store it without re-evaluating the
// iterable expression. OP_ITER_NEXT's non-exhausted fallthrough leaves
// [value, newIterator] on the stack (newIterator on top) so a single
// OP_STORE_LOCAL + OP_POP updates the hidden slot and leaves the
// per-iteration value for the loop variable's local.
func (c *Compiler) compileForEachStatement(n *ast.ForEachStatement) {
	c.beginScope()
	c.compileExpression(n.Iterable)
	c.emitOp(chunk.OpIterNew)
	c.addLocal("<iter>", false)
	iterSlot := byte(len(c.locals) - 1)

	continueTarget := len(c.chunk.Code)
	c.emitOpByte(chunk.OpLoadLocal, iterSlot)
	exitJump := c.emitJump(chunk.OpIterNext)
	c.emitOpByte(chunk.OpStoreLocal, iterSlot)
	c.emitOp(chunk.OpPop)

	c.pushLoop(continueTarget)
	c.beginScope()
	c.addLocal(n.Iterator.Value, false)
	c.compileBlockStatements(n.Body.Statements)
	c.endScope()
	c.emitLoop(continueTarget)
	c.patchJump(exitJump)
	c.popLoop()

	c.endScope()
}

func (c *Compiler) compileImportStmt(n *ast.ImportStmt) {
	// The target module is not loaded or compiled. A whole-module
	// import binds Alias to null; a named import binds each name to the
	// current value of the variable of that name already in scope.
	global := c.scopeDepth == 0
	if len(n.Names) == 0 {
		c.emitOp(chunk.OpNull)
		c.defineVariable(n.Alias, global, false)
		return
	}
	for _, name := range n.Names {
		c.loadVariable(name)
		c.defineVariable(name, global, false)
	}
}

// --- functions, lambdas & closures ---

// compileFunctionBody compiles params+body into a fresh child chunk
// and emits the OP_CLOSURE instruction (plus its upvalue directives)
// that builds the resulting Lambda value into the parent c.
func (c *Compiler) compileFunctionBody(name string, params []*ast.Identifier, body *ast.BlockStatement, kind FuncKind, isAsync, thisAllowed, superAllowed bool) {
	child := newChild(c, name, kind, thisAllowed, superAllowed)
	child.line = c.line
	for _, p := range params {
		child.addLocal(p.Value, false)
	}
	child.compileBlockStatements(body.Statements)
	child.emitOp(chunk.OpNull)
	child.emitOp(chunk.OpReturn)

	c.errors = append(c.errors, child.errors...)

	subIdx := c.chunk.AddSubChunk(child.chunk)
	paramNames := make([]string, len(params))
	for i, p := range params {
		paramNames[i] = p.Value
	}
	fk := value.FuncSync
	if isAsync {
		fk = value.FuncAsync
	}
	fd := &value.FuncDescriptor{
		Name:       name,
		Params:     paramNames,
		ChunkIndex: subIdx,
		Chunk:      child.chunk,
		Kind:       fk,
	}
	constIdx := c.makeConstant(value.NewFunc(fd))
	c.emitOp(chunk.OpClosure)
	c.emitByte(constIdx)
	c.emitByte(byte(len(child.upvalues)))
	for _, u := range child.upvalues {
		if u.IsLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(u.Index)
	}
}

func (c *Compiler) compileFunctionStatement(n *ast.FunctionStatement) {
	global := c.scopeDepth == 0
	if !global {
		c.addLocal(n.Name, false)
	}
	c.compileFunctionBody(n.Name, n.Parameters, n.Body, KindFunction, n.IsAsync, false, false)
	if global {
		c.emitOpByte(chunk.OpDefineGlobal, c.nameConstant(n.Name))
	}
}

// --- classes ---

const constructorName = "init"

func fieldsNeedingInit(fields []*ast.FieldDeclaration) []*ast.FieldDeclaration {
	var out []*ast.FieldDeclaration
	for _, f := range fields {
		if !f.IsStatic {
			out = append(out, f)
		}
	}
	return out
}

// prependFieldDefaults builds `super()` (if the class has a parent)
// followed by `this.field = default` statements for every non-static
// field, in declaration order — the "constructor as reserved-sentinel
// method with field defaults prepended" design spec §4.3 calls for.
// It runs ahead of both an explicit and a synthesized init body.
func prependFieldDefaults(fields []*ast.FieldDeclaration, hasParent bool) []ast.Statement {
	var out []ast.Statement
	if hasParent {
		out = append(out, &ast.ExpressionStmt{
			Expression: &ast.CallExpression{Function: &ast.SuperExpression{}},
		})
	}
	for _, f := range fieldsNeedingInit(fields) {
		var def ast.Expression = &ast.NullLiteral{}
		if f.Default != nil {
			def = f.Default
		}
		out = append(out, &ast.AssignStmt{
			Target: &ast.MemberAccessExpression{Left: &ast.ThisExpression{}, Member: f.Name},
			Value:  def,
		})
	}
	return out
}

// compileClassDeclaration emits Class/Inherit/Method (spec §4.2): the
// class value is built once and kept resident on the stack (as a local
// in a nested scope, or reloaded after a global define) for the whole
// member-compilation sequence, so every OP_METHOD/static-field-init
// site sees it as a plain top-of-stack value.
func (c *Compiler) compileClassDeclaration(n *ast.ClassDeclaration) {
	global := c.scopeDepth == 0
	nameConst := c.nameConstant(n.Name)
	c.emitOpByte(chunk.OpClass, nameConst)

	if global {
		c.emitOpByte(chunk.OpDefineGlobal, nameConst)
		c.loadVariable(n.Name)
	} else {
		c.addLocal(n.Name, false)
	}
	// Stack: [..., classVal]

	if n.HasParent {
		c.loadVariable(n.Parent)
		c.emitOp(chunk.OpInherit)
	}

	hasExplicitInit := false
	seenMethods := map[string]bool{}
	for _, m := range n.Methods {
		if m.Name == constructorName {
			hasExplicitInit = true
		}
		if seenMethods[m.Name] {
			c.errorf("method %q declared more than once in class %q", m.Name, n.Name)
		}
		seenMethods[m.Name] = true
	}
	needsImplicitInit := !hasExplicitInit && (len(fieldsNeedingInit(n.Fields)) > 0 || n.HasParent)

	for _, f := range n.Fields {
		if !f.IsStatic {
			continue
		}
		c.emitOp(chunk.OpDup)
		if f.Default != nil {
			c.compileExpression(f.Default)
		} else {
			c.emitOp(chunk.OpNull)
		}
		c.emitOpByte(chunk.OpPropertySet, c.nameConstant(f.Name))
		c.emitOp(chunk.OpPop)
	}

	for _, m := range n.Methods {
		c.compileMethod(m, n.Fields, n.HasParent)
	}
	if needsImplicitInit {
		c.compileImplicitConstructor(n.Fields, n.HasParent)
	}

	if global {
		c.emitOp(chunk.OpPop) // discard the reloaded reference; the global binding already holds it.
	}
	// Non-global: classVal stays resident as the declared local.
}

func (c *Compiler) compileMethod(m *ast.MethodDeclaration, fields []*ast.FieldDeclaration, hasParent bool) {
	isCtor := m.Name == constructorName
	kind := KindMethod
	thisAllowed := !m.IsStatic
	if isCtor {
		kind = KindConstructor
		thisAllowed = true
	}

	body := m.Body
	if isCtor {
		prelude := prependFieldDefaults(fields, hasParent)
		body = &ast.BlockStatement{Statements: append(append([]ast.Statement{}, prelude...), m.Body.Statements...)}
	}

	c.compileFunctionBody(m.Name, m.Parameters, body, kind, m.IsAsync, thisAllowed, thisAllowed && hasParent)
	// Stack: [..., classVal, lambdaVal]

	mk := chunk.MethodInstance
	if isCtor {
		mk = chunk.MethodConstructor
	} else if m.IsStatic {
		mk = chunk.MethodStatic
	}
	flags := chunk.NewMethodFlags(mk, m.IsAsync, m.Visibility == "private")
	c.emitOpByte(chunk.OpMethod, c.nameConstant(m.Name))
	c.emitByte(byte(flags))
	// OP_METHOD pops [classVal, lambdaVal] and pushes classVal back.
}

func (c *Compiler) compileImplicitConstructor(fields []*ast.FieldDeclaration, hasParent bool) {
	body := &ast.BlockStatement{Statements: prependFieldDefaults(fields, hasParent)}
	c.compileFunctionBody(constructorName, nil, body, KindConstructor, false, true, hasParent)
	flags := chunk.NewMethodFlags(chunk.MethodConstructor, false, false)
	c.emitOpByte(chunk.OpMethod, c.nameConstant(constructorName))
	c.emitByte(byte(flags))
}

// --- try/catch/finally ---

// compileTryStatement dispatches to one of three shapes depending on
// which of catch/finally are present. Every shape guarantees finally
// runs on every exit path (spec §7): normal completion, a throw the
// catch handles, an uncaught throw, and — via runFinallyBlocks spliced
// in by compileReturnStmt/compileBreak/compileContinue — a return,
// break or continue out of the protected body or catch body.
func (c *Compiler) compileTryStatement(n *ast.TryStatement) {
	switch {
	case n.Catch == nil && n.Finally == nil:
		c.compileBlock(n.Body)
	case n.Finally == nil:
		c.compileTryCatch(n)
	case n.Catch == nil:
		c.compileTryFinallyOnly(n)
	default:
		c.compileTryCatchFinally(n)
	}
}

// compileTryCatch handles try/catch with no finally: unchanged from a
// plain single-handler try.
func (c *Compiler) compileTryCatch(n *ast.TryStatement) {
	catchStart := c.emitJump(chunk.OpTryBegin)
	c.compileBlock(n.Body)
	c.emitOp(chunk.OpPopHandler)
	afterAll := c.emitJump(chunk.OpJump)

	c.patchJump(catchStart)
	// Stack at the catch entry point: [..., thrownValue]
	c.beginScope()
	if n.Catch.Binding != nil {
		c.addLocal(n.Catch.Binding.Value, false)
	} else {
		c.emitOp(chunk.OpPop)
	}
	c.compileBlockStatements(n.Catch.Body.Statements)
	c.endScope()
	c.emitOp(chunk.OpTryEnd)

	c.patchJump(afterAll)
}

// compileTryFinallyOnly handles try/finally with no catch: one
// handler whose catch entry binds the thrown value, runs finally
// inline, and re-raises. The body compiles with finally registered on
// finallyStack so a return/break/continue inside it also runs finally
// first.
func (c *Compiler) compileTryFinallyOnly(n *ast.TryStatement) {
	catchStart := c.emitJump(chunk.OpTryBegin)
	c.finallyStack = append(c.finallyStack, n.Finally)
	c.compileBlock(n.Body)
	c.finallyStack = c.finallyStack[:len(c.finallyStack)-1]
	c.emitOp(chunk.OpPopHandler)
	c.compileBlock(n.Finally)
	afterAll := c.emitJump(chunk.OpJump)

	c.patchJump(catchStart)
	c.beginScope()
	c.addLocal("<exc>", false)
	c.compileBlockStatements(n.Finally.Statements)
	c.loadVariable("<exc>")
	c.emitOp(chunk.OpThrow)
	c.endScope()
	c.emitOp(chunk.OpTryEnd)

	c.patchJump(afterAll)
}

// compileTryCatchFinally handles try/catch/finally together using two
// nested handlers rather than one: an inner handler protects only the
// body and routes a throw to the user's catch, an outer handler
// protects body-plus-catch and routes anything that escapes either of
// them (including a throw from inside the catch body itself, which the
// inner handler is one-shot and already consumed by then) to an inline
// finally-then-rethrow, exactly like compileTryFinallyOnly's synthesized
// catch. Both handlers stay registered until whichever path actually
// completes, so finally always runs exactly once.
func (c *Compiler) compileTryCatchFinally(n *ast.TryStatement) {
	outerCatchStart := c.emitJump(chunk.OpTryBegin)

	innerCatchStart := c.emitJump(chunk.OpTryBegin)
	c.finallyStack = append(c.finallyStack, n.Finally)
	c.compileBlock(n.Body)
	c.emitOp(chunk.OpPopHandler)
	innerAfter := c.emitJump(chunk.OpJump)

	c.patchJump(innerCatchStart)
	c.beginScope()
	if n.Catch.Binding != nil {
		c.addLocal(n.Catch.Binding.Value, false)
	} else {
		c.emitOp(chunk.OpPop)
	}
	c.compileBlockStatements(n.Catch.Body.Statements)
	c.endScope()
	c.emitOp(chunk.OpTryEnd)

	c.patchJump(innerAfter)
	c.finallyStack = c.finallyStack[:len(c.finallyStack)-1]

	// Reached either by the body completing normally (handler popped
	// above) or by the catch body completing normally after handling a
	// thrown value (the inner handler was already consumed by the
	// unwind that jumped here) — either way the outer handler is still
	// registered and finally has not run yet.
	c.emitOp(chunk.OpPopHandler)
	c.compileBlock(n.Finally)
	outerAfter := c.emitJump(chunk.OpJump)

	c.patchJump(outerCatchStart)
	// Reached only if the body or the catch body threw without being
	// caught by the inner handler (body: no such case reaches here,
	// it has a catch; catch body itself throwing is the case this
	// handler exists for).
	c.beginScope()
	c.addLocal("<exc>", false)
	c.compileBlockStatements(n.Finally.Statements)
	c.loadVariable("<exc>")
	c.emitOp(chunk.OpThrow)
	c.endScope()
	c.emitOp(chunk.OpTryEnd)

	c.patchJump(outerAfter)
}

// --- expressions ---

var infixOps = map[string]chunk.OpCode{
	"+": chunk.OpAdd, "-": chunk.OpSub, "*": chunk.OpMul, "/": chunk.OpDiv, "%": chunk.OpMod,
	"==": chunk.OpEq, "!=": chunk.OpNe, "<": chunk.OpLt, "<=": chunk.OpLe, ">": chunk.OpGt, ">=": chunk.OpGe,
	"&": chunk.OpBitAnd, "|": chunk.OpBitOr, "^": chunk.OpBitXor,
	"<<": chunk.OpShl, ">>": chunk.OpShr, "<<<": chunk.OpShl3, ">>>": chunk.OpShr3,
	"&&": chunk.OpAnd, "||": chunk.OpOr,
}

func (c *Compiler) compileExpression(node ast.Expression) {
	switch n := node.(type) {
	case *ast.IntegerLiteral:
		c.emitConstant(value.NewNumber(float64(n.Value)))
	case *ast.FloatLiteral:
		c.emitConstant(value.NewNumber(n.Value))
	case *ast.StringLiteral:
		c.emitConstant(value.NewString(n.Value))
	case *ast.BytesLiteral:
		// No distinct Bytes value variant; bytes
		// literals carry their raw payload as a String value.
		c.emitConstant(value.NewString(n.Value))
	case *ast.NullLiteral:
		c.emitOp(chunk.OpNull)
	case *ast.Boolean:
		if n.Value {
			c.emitOp(chunk.OpTrue)
		} else {
			c.emitOp(chunk.OpFalse)
		}
	case *ast.ZerosLiteral:
		c.loadVariable("__zeros__")
		c.compileExpression(n.Size)
		c.emitOpByte(chunk.OpCall, 1)
	case *ast.TemplateStringExpression:
		c.compileTemplateString(n)
	case *ast.Identifier:
		c.loadVariable(n.Value)
	case *ast.ThisExpression:
		if !c.thisAllowed {
			c.errorf("'this' used outside a method")
		}
		c.loadVariable("this")
	case *ast.SuperExpression:
		if !c.superAllowed {
			c.errorf("'super' used outside a subclass method")
		}
		if n.Method == "" {
			c.errorf("'super' is only valid as a call or '.method' access")
			c.emitOp(chunk.OpNull)
			return
		}
		c.emitOpByte(chunk.OpGetSuper, c.nameConstant(n.Method))
	case *ast.PrefixExpression:
		c.compilePrefixExpression(n)
	case *ast.InfixExpression:
		c.compileExpression(n.Left)
		c.compileExpression(n.Right)
		op, ok := infixOps[n.Operator]
		if !ok {
			c.errorf("unsupported operator %q", n.Operator)
			return
		}
		c.emitOp(op)
	case *ast.CallExpression:
		c.compileCallExpression(n)
	case *ast.ArrayLiteral:
		for _, e := range n.Elements {
			c.compileExpression(e)
		}
		c.emitOpShort(chunk.OpMakeArray, uint16(len(n.Elements)))
	case *ast.TupleLiteral:
		for _, e := range n.Elements {
			c.compileExpression(e)
		}
		c.emitOpShort(chunk.OpMakeTuple, uint16(len(n.Elements)))
	case *ast.MapLiteral:
		for i := range n.Keys {
			c.compileExpression(n.Keys[i])
			c.compileExpression(n.Values[i])
		}
		c.emitOpShort(chunk.OpMakeObject, uint16(len(n.Keys)))
	case *ast.IndexExpression:
		c.compileExpression(n.Left)
		c.compileExpression(n.Index)
		c.emitOp(chunk.OpIndexGet)
	case *ast.MemberAccessExpression:
		c.compileExpression(n.Left)
		c.emitOpByte(chunk.OpPropertyGet, c.nameConstant(n.Member))
	case *ast.LambdaExpression:
		c.compileFunctionBody("<lambda>", n.Parameters, n.Body, KindLambda, false, c.thisAllowed, c.superAllowed)
	case *ast.AwaitExpression:
		c.compileExpression(n.Value)
		c.emitOp(chunk.OpAwait)
	case *ast.ThreadCallExpression:
		c.compileExpression(n.Callee)
		for _, a := range n.Arguments {
			c.compileExpression(a)
		}
		c.emitOpShort(chunk.OpSpawnThread, uint16(len(n.Arguments)))
	case *ast.MutexExpression:
		c.emitOp(chunk.OpMutexNew)
	default:
		c.errorf("compiler: unsupported expression %T", node)
	}
}

func (c *Compiler) compileTemplateString(n *ast.TemplateStringExpression) {
	if len(n.Parts) == 0 {
		c.emitConstant(value.NewString(""))
		return
	}
	for i, p := range n.Parts {
		if p.Expr != nil {
			c.compileExpression(p.Expr)
		} else {
			c.emitConstant(value.NewString(p.Text))
		}
		if i > 0 {
			c.emitOp(chunk.OpAdd)
		}
	}
}

func (c *Compiler) compilePrefixExpression(n *ast.PrefixExpression) {
	c.compileExpression(n.Right)
	switch n.Operator {
	case "-":
		c.emitOp(chunk.OpNeg)
	case "!":
		c.emitOp(chunk.OpNot)
	case "~":
		// No dedicated bitwise-NOT opcode; `~x` lowers to `x ^ -1`,
		// which the VM's 32-bit-truncated XOR gives the same result as
		// a one's-complement.
		c.emitConstant(value.NewNumber(-1))
		c.emitOp(chunk.OpBitXor)
	default:
		c.errorf("unsupported prefix operator %q", n.Operator)
	}
}

func (c *Compiler) compileCallExpression(n *ast.CallExpression) {
	if se, ok := n.Function.(*ast.SuperExpression); ok {
		if !c.superAllowed {
			c.errorf("'super' used outside a subclass method")
		}
		name := se.Method
		if name == "" {
			name = constructorName
		}
		for _, a := range n.Arguments {
			c.compileExpression(a)
		}
		c.emitOp(chunk.OpSuperInvoke)
		c.emitByte(c.nameConstant(name))
		c.emitByte(byte(len(n.Arguments)))
		return
	}
	if mae, ok := n.Function.(*ast.MemberAccessExpression); ok {
		c.compileExpression(mae.Left)
		for _, a := range n.Arguments {
			c.compileExpression(a)
		}
		c.emitOp(chunk.OpInvoke)
		c.emitByte(c.nameConstant(mae.Member))
		c.emitByte(byte(len(n.Arguments)))
		return
	}
	c.compileExpression(n.Function)
	for _, a := range n.Arguments {
		c.compileExpression(a)
	}
	c.emitOpByte(chunk.OpCall, byte(len(n.Arguments)))
}
