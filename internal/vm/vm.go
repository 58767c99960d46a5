// Package vm implements the stack-based virtual machine (spec §4.4):
// an operand stack, a call-frame stack, an exception-handler stack,
// an open-upvalues list and the heap they all share. Generalized from
// the teacher's internal/vm/vm.go, whose frames-as-fixed-array,
// run(minFrameCount)-for-reentrancy, and push/pop/peek idiom this
// keeps; the teacher's sprawling SharedState (net/db handle tables)
// is narrowed to what this language's native modules actually need.
package vm

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"dryad/internal/chunk"
	"dryad/internal/heap"
	"dryad/internal/value"
)

const (
	StackMax  = 2048
	FramesMax = 64
)

// Config generalizes the teacher's VMConfig{RootPath} with the
// additional knobs SPEC_FULL.md's ambient-stack section calls for.
type Config struct {
	RootPath  string
	StackMax  int
	FramesMax int
	DebugAddr string
}

func DefaultConfig() Config {
	return Config{RootPath: ".", StackMax: StackMax, FramesMax: FramesMax}
}

// RuntimeErrorKind mirrors spec §7's taxonomy.
type RuntimeErrorKind int

const (
	ErrType RuntimeErrorKind = iota
	ErrArgument
	ErrIndex
	ErrProperty
	ErrArity
	ErrDivByZero
	ErrNotCallable
	ErrNameNotFound
	ErrStackOverflow
	ErrHeap
	ErrIo
	ErrNetwork
	ErrSystem
	ErrCrypto
)

func (k RuntimeErrorKind) String() string {
	switch k {
	case ErrType:
		return "TypeError"
	case ErrArgument:
		return "ArgumentError"
	case ErrIndex:
		return "IndexError"
	case ErrProperty:
		return "PropertyError"
	case ErrArity:
		return "ArityError"
	case ErrDivByZero:
		return "DivByZeroError"
	case ErrNotCallable:
		return "NotCallableError"
	case ErrNameNotFound:
		return "NameNotFoundError"
	case ErrStackOverflow:
		return "StackOverflowError"
	case ErrHeap:
		return "HeapError"
	case ErrIo:
		return "IoError"
	case ErrNetwork:
		return "NetworkError"
	case ErrSystem:
		return "SystemError"
	case ErrCrypto:
		return "CryptoError"
	default:
		return "RuntimeError"
	}
}

// RuntimeError renders in the teacher/original's voice (see
// SPEC_FULL.md): a bracketed file:line prefix around a Portuguese
// message, matching dryad_runtime::errors::RuntimeError's Display.
type RuntimeError struct {
	Kind    RuntimeErrorKind
	Message string
	File    string
	Line    int
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("[%s:line %d] %s: %s", e.File, e.Line, e.Kind, e.Message)
}

// CallFrame is one activation record (spec §4.4): DefiningClass lets
// OP_GET_SUPER/OP_SUPER_INVOKE resolve `super` purely from runtime
// frame state rather than a compile-time synthetic upvalue — it is
// the HeapID of the class whose method body this
// frame is executing, zero for plain functions/lambdas.
type CallFrame struct {
	Chunk         *chunk.Chunk
	IP            int
	Base          int
	Upvalues      []*value.Upvalue
	DefiningClass value.HeapID
	IsInitializer bool
}

// ExceptionHandler is one entry of the handler stack (spec §4.4).
type ExceptionHandler struct {
	FrameIndex int
	CatchIP    int
	StackDepth int
}

type openUpvalueEntry struct {
	slot int
	uv   *value.Upvalue
}

// VM is the stack machine of spec §4.4.
type VM struct {
	stack    [StackMax]value.Value
	stackTop int

	frames       [FramesMax]*CallFrame
	frameCount   int
	currentFrame *CallFrame

	handlers []*ExceptionHandler
	openUps  []*openUpvalueEntry

	shared  *sharedState
	natives map[string]value.NativeFunc

	heap *heap.Heap

	Config      Config
	CurrentFile string

	debugHook DebugHook

	result value.Value
}

// DebugHook is consulted once per dispatched instruction when set
// (spec §6 / SUPPLEMENTED FEATURES debug protocol). Check may block —
// a Paused or Stepping debug server blocks the calling goroutine until
// a Continue/Step command resumes it — so a VM with no attached
// debugger must never pay for a hook at all, which is why this is a
// nil-checked optional rather than always-on bookkeeping.
type DebugHook interface {
	Check(file string, line int)
}

// SetDebugHook attaches a debug server's state so the dispatch loop
// reports its location before every instruction. cmd/dryad wires this
// when --debug-addr is set.
func (vm *VM) SetDebugHook(h DebugHook) { vm.debugHook = h }

// sharedState is what a thread spawned via OP_SPAWN_THREAD shares
// with its parent (spec §5's "process-wide" globals and mutex
// registry): the global bindings behind mu and the mutex/promise
// handle tables behind handleMu. Narrowed from the teacher's SharedState, which
// additionally carried net/db connection tables this language's
// natives own instead (see DESIGN.md).
type sharedState struct {
	mu      sync.RWMutex
	globals map[string]value.Value

	handleMu sync.Mutex
	nextID   uint64
	mutexes  map[uint64]*sync.Mutex
	promises map[uint64]chan value.Value
}

func newSharedState() *sharedState {
	return &sharedState{
		globals:  make(map[string]value.Value),
		mutexes:  make(map[uint64]*sync.Mutex),
		promises: make(map[uint64]chan value.Value),
	}
}

func (s *sharedState) nextHandleID() uint64 {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	s.nextID++
	return s.nextID
}

func New() *VM { return NewWithConfig(DefaultConfig()) }

func NewWithConfig(cfg Config) *VM {
	vm := &VM{
		shared:  newSharedState(),
		natives: make(map[string]value.NativeFunc),
		heap:    heap.New(),
		Config:  cfg,
	}
	vm.registerBuiltins()
	return vm
}

// fork spins up a sibling VM for OP_SPAWN_THREAD: same heap, same
// shared globals/mutex/promise registry, fresh stack and frames —
// the "Thread" of spec §5 runs concurrently against shared state the
// way sibling goroutines over a common heap do in the teacher.
func (vm *VM) fork() *VM {
	return &VM{
		shared:      vm.shared,
		natives:     vm.natives,
		heap:        vm.heap,
		Config:      vm.Config,
		CurrentFile: vm.CurrentFile,
	}
}

// Heap exposes the VM's object arena, e.g. for the debug server's
// GetHeap command (spec §6).
func (vm *VM) Heap() *heap.Heap { return vm.heap }

// LastValue returns the value the most recently interpreted chunk's
// top-level script frame returned.
func (vm *VM) LastValue() value.Value { return vm.result }

func (vm *VM) DefineNative(name string, fn value.NativeFunc) {
	vm.natives[name] = fn
	vm.SetGlobal(name, value.NewNative(&value.NativeDescriptor{Name: name, Fn: fn}))
}

func (vm *VM) SetGlobal(name string, v value.Value) {
	vm.shared.mu.Lock()
	vm.shared.globals[name] = v
	vm.shared.mu.Unlock()
}

func (vm *VM) GetGlobal(name string) (value.Value, bool) {
	vm.shared.mu.RLock()
	defer vm.shared.mu.RUnlock()
	v, ok := vm.shared.globals[name]
	return v, ok
}

// Globals renders every global binding's display string, keyed by
// name — the debug server's GetVariables command (spec §6) has
// nothing richer to report than what Value.String() already gives.
func (vm *VM) Globals() map[string]string {
	vm.shared.mu.RLock()
	defer vm.shared.mu.RUnlock()
	out := make(map[string]string, len(vm.shared.globals))
	for name, v := range vm.shared.globals {
		out[name] = v.String()
	}
	return out
}

// HeapSummary renders one display line per live heap object — the
// debug server's GetHeap command (spec §6).
func (vm *VM) HeapSummary() []string {
	return vm.heap.Summary()
}

func (vm *VM) nextHandleID() uint64 { return vm.shared.nextHandleID() }

func (vm *VM) lockMutex(h *value.MutexHandle) {
	vm.shared.handleMu.Lock()
	m, ok := vm.shared.mutexes[h.ID]
	if !ok {
		m = &sync.Mutex{}
		vm.shared.mutexes[h.ID] = m
	}
	vm.shared.handleMu.Unlock()
	m.Lock()
	h.Locked = true
}

func (vm *VM) unlockMutex(h *value.MutexHandle) {
	vm.shared.handleMu.Lock()
	m, ok := vm.shared.mutexes[h.ID]
	vm.shared.handleMu.Unlock()
	if !ok {
		return
	}
	h.Locked = false
	m.Unlock()
}

// promiseChannel returns (creating if absent) the completion channel
// OP_AWAIT blocks on and the spawned thread's goroutine signals
// through exactly once (spec §5).
func (vm *VM) promiseChannel(id uint64) chan value.Value {
	vm.shared.handleMu.Lock()
	defer vm.shared.handleMu.Unlock()
	ch, ok := vm.shared.promises[id]
	if !ok {
		ch = make(chan value.Value, 1)
		vm.shared.promises[id] = ch
	}
	return ch
}

// registerBuiltins installs the handful of globals the compiler's
// lowering relies on existing (print, the __zeros__ helper
// ast.ZerosLiteral compiles to — see internal/compiler/compiler.go).
func (vm *VM) registerBuiltins() {
	vm.DefineNative("print", func(args []value.Value) (value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		fmt.Println(strings.Join(parts, " "))
		return value.NewNull(), nil
	})
	vm.DefineNative("__zeros__", func(args []value.Value) (value.Value, error) {
		n := 0
		if len(args) > 0 {
			n = int(args[0].AsNumber())
		}
		if n < 0 {
			n = 0
		}
		elems := make([]value.Value, n)
		for i := range elems {
			elems[i] = value.NewNull()
		}
		id := vm.heap.Alloc(&heap.ArrayObj{Elems: elems})
		return value.NewArray(id), nil
	})
}

// --- top-level entry points ---

// Interpret runs a compiled script chunk to completion and returns
// any runtime error; the script's final value (spec §4.4's "effects
// and a final value") is then available from LastValue.
func (vm *VM) Interpret(c *chunk.Chunk) error {
	vm.stack[0] = value.NewNull()
	vm.stackTop = 1
	frame := &CallFrame{Chunk: c, Base: 0}
	vm.frames[0] = frame
	vm.frameCount = 1
	vm.currentFrame = frame
	vm.handlers = vm.handlers[:0]
	vm.CurrentFile = c.FileName
	return vm.run(0)
}

// --- stack primitives ---

func (vm *VM) push(v value.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) readByte() byte {
	b := vm.currentFrame.Chunk.Code[vm.currentFrame.IP]
	vm.currentFrame.IP++
	return b
}

func (vm *VM) readShort() uint16 {
	v := vm.currentFrame.Chunk.ReadUint16(vm.currentFrame.IP)
	vm.currentFrame.IP += 2
	return v
}

func (vm *VM) readConstant() value.Value {
	return vm.currentFrame.Chunk.Constants[vm.readByte()]
}

// --- upvalues ---

func (vm *VM) captureUpvalue(slot int) *value.Upvalue {
	for _, e := range vm.openUps {
		if e.slot == slot {
			return e.uv
		}
	}
	uv := &value.Upvalue{Location: &vm.stack[slot]}
	vm.openUps = append(vm.openUps, &openUpvalueEntry{slot: slot, uv: uv})
	return uv
}

// closeUpvaluesFrom promotes every open upvalue at or above fromSlot
// into its heap cell, matching spec §4.4's "closes all open upvalues
// ≥ base_slot" on frame return and OP_CLOSE_UPVALUE on scope exit.
func (vm *VM) closeUpvaluesFrom(fromSlot int) {
	kept := vm.openUps[:0]
	for _, e := range vm.openUps {
		if e.slot >= fromSlot {
			e.uv.Close()
		} else {
			kept = append(kept, e)
		}
	}
	vm.openUps = kept
}

// --- error raising & exception unwinding ---

func (vm *VM) errLine() int {
	return vm.currentFrame.Chunk.LineAt(vm.currentFrame.IP - 1)
}

// fail constructs a RuntimeError, converts it to an Exception (spec
// §7 "propagation"), and routes it through the same unwind path as a
// user Throw. Returns nil if a handler caught it (the caller should
// `continue` its dispatch loop), or the terminating error otherwise.
func (vm *VM) fail(kind RuntimeErrorKind, format string, args ...interface{}) error {
	re := &RuntimeError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		File:    vm.currentFrame.Chunk.FileName,
		Line:    vm.errLine(),
	}
	excVal := value.NewException(&value.ExceptionValue{Message: re.Error()})
	if vm.unwindToHandler(excVal) {
		return nil
	}
	return vm.uncaughtError(excVal)
}

func (vm *VM) unwindToHandler(excVal value.Value) bool {
	for len(vm.handlers) > 0 {
		h := vm.handlers[len(vm.handlers)-1]
		vm.handlers = vm.handlers[:len(vm.handlers)-1]
		if h.FrameIndex >= vm.frameCount {
			continue // handler belonged to a frame already returned
		}
		for vm.frameCount-1 > h.FrameIndex {
			vm.closeUpvaluesFrom(vm.frames[vm.frameCount-1].Base)
			vm.frameCount--
		}
		vm.currentFrame = vm.frames[vm.frameCount-1]
		vm.closeUpvaluesFrom(h.StackDepth)
		vm.stackTop = h.StackDepth
		vm.push(excVal)
		vm.currentFrame.IP = h.CatchIP
		return true
	}
	return false
}

// uncaughtError formats a call-stack trace the way the teacher's
// runtimeError does, terminating Interpret/run.
func (vm *VM) uncaughtError(excVal value.Value) error {
	var b strings.Builder
	fmt.Fprintf(&b, "uncaught exception: %s\n", excVal.AsException().Message)
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := vm.frames[i]
		fmt.Fprintf(&b, "  at %s:%d\n", f.Chunk.FileName, f.Chunk.LineAt(f.IP-1))
	}
	return fmt.Errorf("%s", b.String())
}

// --- the dispatch loop ---

// run executes until the frame stack drops to minFrameCount, which
// is 0 for a top-level Interpret and frameCount-at-entry for a
// reentrant call the VM itself makes (spec §4.4's iterator protocol
// invoking a user "next" method needs exactly this reentrancy).
func (vm *VM) run(minFrameCount int) error {
	for {
		if vm.frameCount <= minFrameCount {
			return nil
		}
		frame := vm.currentFrame
		if vm.debugHook != nil {
			vm.debugHook.Check(vm.CurrentFile, frame.Chunk.LineAt(frame.IP))
		}
		op := chunk.OpCode(frame.Chunk.Code[frame.IP])
		frame.IP++

		switch op {
		case chunk.OpConstant:
			vm.push(vm.readConstant())
		case chunk.OpTrue:
			vm.push(value.NewBool(true))
		case chunk.OpFalse:
			vm.push(value.NewBool(false))
		case chunk.OpNull:
			vm.push(value.NewNull())

		case chunk.OpLoadLocal:
			vm.push(vm.stack[frame.Base+int(vm.readByte())])
		case chunk.OpStoreLocal:
			vm.stack[frame.Base+int(vm.readByte())] = vm.peek(0)
		case chunk.OpLoadUpvalue:
			vm.push(frame.Upvalues[vm.readByte()].Get())
		case chunk.OpStoreUpvalue:
			frame.Upvalues[vm.readByte()].Set(vm.peek(0))

		case chunk.OpLoadGlobal:
			name := vm.readConstant().AsString()
			v, ok := vm.GetGlobal(name)
			if !ok {
				if err := vm.fail(ErrNameNotFound, "variável indefinida '%s'", name); err != nil {
					return err
				}
				continue
			}
			vm.push(v)
		case chunk.OpStoreGlobal:
			name := vm.readConstant().AsString()
			if _, ok := vm.GetGlobal(name); !ok {
				if err := vm.fail(ErrNameNotFound, "variável indefinida '%s'", name); err != nil {
					return err
				}
				continue
			}
			vm.SetGlobal(name, vm.peek(0))
		case chunk.OpDefineGlobal:
			name := vm.readConstant().AsString()
			vm.SetGlobal(name, vm.pop())

		case chunk.OpAdd:
			b, a := vm.pop(), vm.pop()
			if a.Type == value.String || b.Type == value.String {
				vm.push(value.NewString(a.String() + b.String()))
				continue
			}
			if a.Type != value.Number || b.Type != value.Number {
				if err := vm.fail(ErrType, "operandos inválidos para '+'"); err != nil {
					return err
				}
				continue
			}
			vm.push(value.NewNumber(a.AsNumber() + b.AsNumber()))
		case chunk.OpSub, chunk.OpMul, chunk.OpDiv:
			if err := vm.arith(op); err != nil {
				return err
			}
		case chunk.OpMod:
			b, a := vm.pop(), vm.pop()
			if a.Type != value.Number || b.Type != value.Number {
				if err := vm.fail(ErrType, "operandos inválidos para '%%'"); err != nil {
					return err
				}
				continue
			}
			if b.AsNumber() == 0 {
				if err := vm.fail(ErrDivByZero, "módulo por zero"); err != nil {
					return err
				}
				continue
			}
			vm.push(value.NewNumber(math.Mod(a.AsNumber(), b.AsNumber())))
		case chunk.OpNeg:
			a := vm.pop()
			if a.Type != value.Number {
				if err := vm.fail(ErrType, "operando inválido para negação"); err != nil {
					return err
				}
				continue
			}
			vm.push(value.NewNumber(-a.AsNumber()))
		case chunk.OpNot:
			vm.push(value.NewBool(!vm.pop().IsTruthy()))
		case chunk.OpEq:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(value.Equal(a, b)))
		case chunk.OpNe:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(!value.Equal(a, b)))
		case chunk.OpLt, chunk.OpLe, chunk.OpGt, chunk.OpGe:
			if err := vm.compare(op); err != nil {
				return err
			}
		case chunk.OpBitAnd, chunk.OpBitOr, chunk.OpBitXor, chunk.OpShl, chunk.OpShr, chunk.OpShl3, chunk.OpShr3:
			if err := vm.bitwise(op); err != nil {
				return err
			}
		case chunk.OpAnd:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(a.IsTruthy() && b.IsTruthy()))
		case chunk.OpOr:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(a.IsTruthy() || b.IsTruthy()))

		case chunk.OpJump:
			rel := vm.readShort()
			frame.IP += int(rel)
		case chunk.OpJumpIfFalse:
			rel := vm.readShort()
			if !vm.pop().IsTruthy() {
				frame.IP += int(rel)
			}
		case chunk.OpJumpIfTrue:
			rel := vm.readShort()
			if vm.pop().IsTruthy() {
				frame.IP += int(rel)
			}
		case chunk.OpLoop:
			rel := vm.readShort()
			frame.IP -= int(rel)

		case chunk.OpCall, chunk.OpTailCall:
			argc := int(vm.readByte())
			if err := vm.callValue(vm.peek(argc), argc); err != nil {
				return err
			}
		case chunk.OpReturn, chunk.OpReturnNil:
			if op == chunk.OpReturnNil {
				vm.push(value.NewNull())
			}
			if vm.doReturn() {
				return nil
			}

		case chunk.OpClosure:
			vm.execClosure()

		case chunk.OpMakeArray:
			n := int(vm.readShort())
			elems := make([]value.Value, n)
			for i := n - 1; i >= 0; i-- {
				elems[i] = vm.pop()
			}
			id := vm.heap.Alloc(&heap.ArrayObj{Elems: elems})
			vm.push(value.NewArray(id))
		case chunk.OpMakeTuple:
			n := int(vm.readShort())
			elems := make([]value.Value, n)
			for i := n - 1; i >= 0; i-- {
				elems[i] = vm.pop()
			}
			id := vm.heap.Alloc(&heap.TupleObj{Elems: elems})
			vm.push(value.NewTuple(id))
		case chunk.OpMakeObject:
			n := int(vm.readShort())
			type pair struct{ k, v value.Value }
			pairs := make([]pair, n)
			for i := n - 1; i >= 0; i-- {
				v := vm.pop()
				k := vm.pop()
				pairs[i] = pair{k, v}
			}
			m := heap.NewMapObj()
			for _, p := range pairs {
				m.Set(p.k.AsString(), p.v)
			}
			id := vm.heap.Alloc(m)
			vm.push(value.NewObject(id))

		case chunk.OpIndexGet:
			if err := vm.execIndexGet(); err != nil {
				return err
			}
		case chunk.OpIndexSet:
			if err := vm.execIndexSet(); err != nil {
				return err
			}
		case chunk.OpPropertyGet:
			name := vm.readConstant().AsString()
			if err := vm.execPropertyGet(name); err != nil {
				return err
			}
		case chunk.OpPropertySet:
			name := vm.readConstant().AsString()
			if err := vm.execPropertySet(name); err != nil {
				return err
			}

		case chunk.OpClass:
			name := vm.readConstant().AsString()
			id := vm.heap.Alloc(heap.NewClassObj(name))
			vm.push(value.NewClass(id))
		case chunk.OpInherit:
			if err := vm.execInherit(); err != nil {
				return err
			}
		case chunk.OpMethod:
			name := vm.readConstant().AsString()
			flags := chunk.MethodFlags(vm.readByte())
			vm.execMethod(name, flags)
		case chunk.OpInvoke:
			name := vm.readConstant().AsString()
			argc := int(vm.readByte())
			if err := vm.execInvoke(name, argc); err != nil {
				return err
			}
		case chunk.OpSuperInvoke:
			name := vm.readConstant().AsString()
			argc := int(vm.readByte())
			if err := vm.execSuperInvoke(name, argc); err != nil {
				return err
			}
		case chunk.OpGetSuper:
			name := vm.readConstant().AsString()
			if err := vm.execGetSuper(name); err != nil {
				return err
			}

		case chunk.OpThrow:
			excVal := vm.pop()
			if excVal.Type != value.Exception {
				payload := excVal
				excVal = value.NewException(&value.ExceptionValue{Message: payload.String(), Payload: &payload})
			}
			if vm.unwindToHandler(excVal) {
				continue
			}
			return vm.uncaughtError(excVal)
		case chunk.OpTryBegin:
			rel := vm.readShort()
			vm.handlers = append(vm.handlers, &ExceptionHandler{
				FrameIndex: vm.frameCount - 1,
				CatchIP:    frame.IP + int(rel),
				StackDepth: vm.stackTop,
			})
		case chunk.OpTryEnd:
			// The handler for this protected region was already popped
			// either by OpPopHandler (normal path) or by the unwind that
			// jumped here (throw path); nothing to do.
		case chunk.OpPopHandler:
			if len(vm.handlers) > 0 {
				vm.handlers = vm.handlers[:len(vm.handlers)-1]
			}

		case chunk.OpIterNew:
			if err := vm.execIterNew(); err != nil {
				return err
			}
		case chunk.OpIterNext:
			if err := vm.execIterNext(); err != nil {
				return err
			}

		case chunk.OpAwait:
			if err := vm.execAwait(); err != nil {
				return err
			}
		case chunk.OpSpawnThread:
			argc := int(vm.readShort())
			vm.execSpawnThread(argc)
		case chunk.OpMutexNew:
			id := vm.nextHandleID()
			vm.push(value.NewMutex(&value.MutexHandle{ID: id}))
		case chunk.OpMutexLock:
			m := vm.pop()
			if m.Type == value.Mutex {
				vm.lockMutex(m.AsMutex())
			}
		case chunk.OpMutexUnlock:
			m := vm.pop()
			if m.Type == value.Mutex {
				vm.unlockMutex(m.AsMutex())
			}

		case chunk.OpPrint:
			fmt.Println(vm.pop().String())
		case chunk.OpPop:
			vm.pop()
		case chunk.OpDup:
			vm.push(vm.peek(0))
		case chunk.OpSwap:
			a, b := vm.pop(), vm.pop()
			vm.push(a)
			vm.push(b)
		case chunk.OpNop:
			// no-op
		case chunk.OpCloseUpvalue:
			vm.closeUpvaluesFrom(vm.stackTop - 1)
			vm.pop()

		default:
			if err := vm.fail(ErrType, "opcode desconhecido %s", op); err != nil {
				return err
			}
		}
	}
}

func (vm *VM) arith(op chunk.OpCode) error {
	b, a := vm.pop(), vm.pop()
	if a.Type != value.Number || b.Type != value.Number {
		return vm.fail(ErrType, "operandos inválidos para operação aritmética")
	}
	var r float64
	switch op {
	case chunk.OpSub:
		r = a.AsNumber() - b.AsNumber()
	case chunk.OpMul:
		r = a.AsNumber() * b.AsNumber()
	case chunk.OpDiv:
		r = a.AsNumber() / b.AsNumber()
	}
	vm.push(value.NewNumber(r))
	return nil
}

func (vm *VM) compare(op chunk.OpCode) error {
	b, a := vm.pop(), vm.pop()
	var r bool
	switch {
	case a.Type == value.Number && b.Type == value.Number:
		an, bn := a.AsNumber(), b.AsNumber()
		switch op {
		case chunk.OpLt:
			r = an < bn
		case chunk.OpLe:
			r = an <= bn
		case chunk.OpGt:
			r = an > bn
		case chunk.OpGe:
			r = an >= bn
		}
	case a.Type == value.String && b.Type == value.String:
		as, bs := a.AsString(), b.AsString()
		switch op {
		case chunk.OpLt:
			r = as < bs
		case chunk.OpLe:
			r = as <= bs
		case chunk.OpGt:
			r = as > bs
		case chunk.OpGe:
			r = as >= bs
		}
	default:
		return vm.fail(ErrType, "operandos incomparáveis")
	}
	vm.push(value.NewBool(r))
	return nil
}

// bitwise truncates both operands to 32-bit (spec §4.4). Shl/Shr are
// signed; Shl3/Shr3 are the unsigned "symmetric" shift variants spec
// §9's open question (c) resolves as 32-bit logical shifts.
func (vm *VM) bitwise(op chunk.OpCode) error {
	b, a := vm.pop(), vm.pop()
	if a.Type != value.Number || b.Type != value.Number {
		return vm.fail(ErrType, "operandos inválidos para operação bit a bit")
	}
	ai, bi := int32(int64(a.AsNumber())), int32(int64(b.AsNumber()))
	var r int32
	switch op {
	case chunk.OpBitAnd:
		r = ai & bi
	case chunk.OpBitOr:
		r = ai | bi
	case chunk.OpBitXor:
		r = ai ^ bi
	case chunk.OpShl:
		r = ai << uint32(bi&31)
	case chunk.OpShr:
		r = ai >> uint32(bi&31)
	case chunk.OpShl3:
		r = int32(uint32(ai) << uint32(bi&31))
	case chunk.OpShr3:
		r = int32(uint32(ai) >> uint32(bi&31))
	}
	vm.push(value.NewNumber(float64(r)))
	return nil
}

// --- call protocol (spec §4.4) ---

// pushFrame establishes a new activation record. base is the stack
// slot the callee itself (or `this`, for a method) occupies — params
// and locals are addressed relative to it, matching how the compiler
// numbers slot 0 in compileFunctionBody/newChild.
func (vm *VM) pushFrame(c *chunk.Chunk, base int, upvalues []*value.Upvalue, definingClass value.HeapID, isInit bool) error {
	if vm.frameCount >= len(vm.frames) {
		return vm.fail(ErrStackOverflow, "estouro de pilha de chamadas")
	}
	frame := &CallFrame{Chunk: c, Base: base, Upvalues: upvalues, DefiningClass: definingClass, IsInitializer: isInit}
	vm.frames[vm.frameCount] = frame
	vm.frameCount++
	vm.currentFrame = frame
	return nil
}

// adjustArity enforces spec §9 Open Question (a)'s resolution: too
// few arguments is an ArityError; extra arguments are silently
// discarded by trimming the operand stack before the frame is built.
func (vm *VM) adjustArity(nparams, calleeSlot, argc int) error {
	if argc < nparams {
		return vm.fail(ErrArity, "esperado %d argumento(s), recebido %d", nparams, argc)
	}
	if argc > nparams {
		vm.stackTop -= argc - nparams
	}
	return nil
}

// insertBelow splices v in below the top n stack values — used by
// OP_SUPER_INVOKE, whose compiled call site pushes only the
// arguments, to place `this` where the call protocol expects to find
// the receiver.
func (vm *VM) insertBelow(n int, v value.Value) {
	pos := vm.stackTop - n
	for i := vm.stackTop; i > pos; i-- {
		vm.stack[i] = vm.stack[i-1]
	}
	vm.stack[pos] = v
	vm.stackTop++
}

// callValue dispatches OP_CALL's callee, already sitting at
// stackTop-argc-1 alongside its arguments, to the right call-protocol
// path for its variant (spec §4.4).
func (vm *VM) callValue(callee value.Value, argc int) error {
	calleeSlot := vm.stackTop - argc - 1
	switch callee.Type {
	case value.Lambda:
		lam, _ := vm.heap.Lambda(callee.AsHeapID())
		if err := vm.adjustArity(len(lam.Params), calleeSlot, argc); err != nil {
			return err
		}
		bodyChunk, _ := lam.Body.(*chunk.Chunk)
		return vm.pushFrame(bodyChunk, calleeSlot, lam.CapturedUpvalues, 0, false)
	case value.Func:
		fd := callee.AsFunc()
		if err := vm.adjustArity(len(fd.Params), calleeSlot, argc); err != nil {
			return err
		}
		bodyChunk, _ := fd.Chunk.(*chunk.Chunk)
		return vm.pushFrame(bodyChunk, calleeSlot, nil, 0, false)
	case value.BoundMethod:
		b := callee.AsBoundMethod()
		vm.stack[calleeSlot] = value.NewInstanceRef(b.Receiver)
		if err := vm.adjustArity(len(b.Method.Params), calleeSlot, argc); err != nil {
			return err
		}
		bodyChunk, _ := b.Method.Chunk.(*chunk.Chunk)
		return vm.pushFrame(bodyChunk, calleeSlot, b.Upvalues, b.DefiningClass, b.Method.Name == initMethodName)
	case value.Class:
		return vm.callClass(callee.AsHeapID(), calleeSlot, argc)
	case value.Native:
		return vm.callNative(callee.AsNative(), calleeSlot, argc)
	default:
		return vm.fail(ErrNotCallable, "valor do tipo '%s' não é chamável", callee.Type)
	}
}

// callClass implements `new`-less construction (spec §3: calling a
// Class value instantiates it): allocate the InstanceObj, then either
// run its constructor as a normal method frame (doReturn's
// IsInitializer substitution hands back `this` regardless of the
// body's own return) or, for a class with no constructor at all,
// finish the call immediately.
func (vm *VM) callClass(classID value.HeapID, calleeSlot, argc int) error {
	inst := &heap.InstanceObj{ClassID: classID, Fields: heap.NewMapObj()}
	instID := vm.heap.Alloc(inst)
	vm.stack[calleeSlot] = value.NewInstanceRef(instID)

	md, definingClass, ok := vm.heap.ResolveMethod(classID, initMethodName)
	if !ok {
		if err := vm.adjustArity(0, calleeSlot, argc); err != nil {
			return err
		}
		vm.stackTop = calleeSlot + 1
		return nil
	}
	return vm.callMethodDescriptor(md, definingClass, calleeSlot, argc, true)
}

func (vm *VM) callNative(nd *value.NativeDescriptor, calleeSlot, argc int) error {
	args := make([]value.Value, argc)
	copy(args, vm.stack[calleeSlot+1:vm.stackTop])
	result, err := nd.Fn(args)
	if err != nil {
		vm.stackTop = calleeSlot
		return vm.fail(ErrSystem, "%s", err.Error())
	}
	vm.stackTop = calleeSlot
	vm.push(result)
	return nil
}

// doReturn completes the current frame: an initializer's result is
// always `this` (slot 0), never the constructor body's own return
// value (spec §3 "constructors implicitly return the new instance").
// Reports whether the whole interpreter run is done (frame stack
// emptied).
func (vm *VM) doReturn() bool {
	result := vm.pop()
	frame := vm.currentFrame
	if frame.IsInitializer {
		result = vm.stack[frame.Base]
	}
	vm.closeUpvaluesFrom(frame.Base)
	vm.stackTop = frame.Base
	vm.frameCount--
	if vm.frameCount == 0 {
		vm.result = result
		return true
	}
	vm.currentFrame = vm.frames[vm.frameCount-1]
	vm.push(result)
	return false
}

// execClosure implements OP_CLOSURE: build a Lambda heap object by
// capturing the directives the compiler emitted, either lifting a
// live stack slot of the enclosing frame into an open upvalue or
// reusing one the enclosing closure already captured.
func (vm *VM) execClosure() {
	fd := vm.readConstant().AsFunc()
	count := int(vm.readByte())
	ups := make([]*value.Upvalue, count)
	frame := vm.currentFrame
	for i := 0; i < count; i++ {
		isLocal := vm.readByte() != 0
		idx := int(vm.readByte())
		if isLocal {
			ups[i] = vm.captureUpvalue(frame.Base + idx)
		} else {
			ups[i] = frame.Upvalues[idx]
		}
	}
	bodyChunk, _ := fd.Chunk.(*chunk.Chunk)
	lam := &heap.LambdaObj{Params: fd.Params, BodyChunkID: fd.ChunkIndex, Body: bodyChunk, CapturedUpvalues: ups}
	id := vm.heap.Alloc(lam)
	vm.push(value.NewLambda(id))
}
