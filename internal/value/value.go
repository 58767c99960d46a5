// Package value defines the tagged value representation shared by the
// compiler and the VM: the Value union itself, inline callable
// descriptors, and the small concurrency handles (Thread, Mutex,
// Promise). Heap-referenced compounds (Array, Tuple, Object, Lambda,
// Class, Instance) are described in package heap and referenced here
// only by HeapID.
package value

import (
	"fmt"
	"strconv"
)

// Type tags the active variant of a Value.
type Type uint8

const (
	Number Type = iota
	Bool
	Null
	String
	Array
	Tuple
	Object
	Lambda
	Class
	Instance
	Func
	BoundMethod
	Native
	Thread
	Mutex
	Promise
	Exception
	// Iterator is not a surface-language type (no literal produces one)
	// — it is the opaque cursor OP_ITER_NEW/OP_ITER_NEXT pass between
	// themselves through a local slot while lowering a for-in loop
	// (spec §4.3).
	Iterator
)

func (t Type) String() string {
	switch t {
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Null:
		return "null"
	case String:
		return "string"
	case Array:
		return "array"
	case Tuple:
		return "tuple"
	case Object:
		return "object"
	case Lambda:
		return "lambda"
	case Class:
		return "class"
	case Instance:
		return "instance"
	case Func:
		return "function"
	case BoundMethod:
		return "bound_method"
	case Native:
		return "native"
	case Thread:
		return "thread"
	case Mutex:
		return "mutex"
	case Promise:
		return "promise"
	case Exception:
		return "exception"
	case Iterator:
		return "iterator"
	default:
		return "unknown"
	}
}

// HeapID addresses a HeapObject owned by a heap.Heap. Zero is never a
// live id; the heap allocator starts at 1.
type HeapID uint64

// FuncKind distinguishes the three callable dispatch policies the spec
// models as a single sum-type (§3, §9): a plain function, one awaited
// through a Promise, and one handed to SpawnThread.
type FuncKind uint8

const (
	FuncSync FuncKind = iota
	FuncAsync
	FuncThread
)

func (k FuncKind) String() string {
	switch k {
	case FuncAsync:
		return "async function"
	case FuncThread:
		return "thread function"
	default:
		return "function"
	}
}

// FuncDescriptor is the inline (non-heap) representation of
// Function/AsyncFunction/ThreadFunction described in spec §3.
type FuncDescriptor struct {
	Name       string
	Params     []string
	ChunkIndex int
	Chunk      interface{} // *chunk.Chunk; interface{} avoids an import cycle, mirrors the teacher's ObjFunction.Chunk field
	Kind       FuncKind
	Visibility string // "public" | "private"; metadata only, see SPEC_FULL.md
	IsStatic   bool
}

// MethodBinding pairs a live instance with the method descriptor
// resolved against its class — the "bound method" of the glossary.
// DefiningClass is the class that actually owns Method (which may be
// an ancestor of the receiver's own class), so a further `super.m()`
// reached through this binding still resolves one link further up.
type MethodBinding struct {
	Receiver      HeapID
	Method        *FuncDescriptor
	DefiningClass HeapID
	Upvalues      []*Upvalue
}

// NativeFunc is the signature natives register under (spec §6). It
// receives the already-evaluated arguments and returns a value or a
// Go error, which the VM converts to an Exception and routes through
// the normal unwind path.
type NativeFunc func(args []Value) (Value, error)

type NativeDescriptor struct {
	Name string
	Fn   NativeFunc
}

// ThreadHandle, MutexHandle and PromiseHandle are the small
// concurrency handles of spec §3; they are cheap enough to live
// inline in a Value rather than behind a HeapID.
type ThreadHandle struct {
	ID      uint64
	Running bool
}

type MutexHandle struct {
	ID     uint64
	Locked bool
}

type PromiseHandle struct {
	ID       uint64
	Resolved bool
	Value    *Value
}

// ExceptionValue is the payload of the first-class Exception variant
// (spec §3): both a normal value and, when thrown, the carrier
// unwound through the handler stack.
type ExceptionValue struct {
	Message string
	Payload *Value
}

// Value is a tagged union. Only the field matching Type is meaningful;
// the others are zero. This generalizes the teacher's flat
// Type/AsBool/AsInt/AsFloat/Obj struct to the full variant set of spec §3.
type Value struct {
	Type Type

	num float64
	b   bool
	str string
	id  HeapID

	fn     *FuncDescriptor
	bound  *MethodBinding
	native *NativeDescriptor
	thread *ThreadHandle
	mutex  *MutexHandle
	prom   *PromiseHandle
	exc    *ExceptionValue
}

func NewNumber(n float64) Value { return Value{Type: Number, num: n} }
func NewBool(b bool) Value      { return Value{Type: Bool, b: b} }
func NewNull() Value            { return Value{Type: Null} }
func NewString(s string) Value  { return Value{Type: String, str: s} }
func NewArray(id HeapID) Value  { return Value{Type: Array, id: id} }
func NewTuple(id HeapID) Value  { return Value{Type: Tuple, id: id} }
func NewObject(id HeapID) Value { return Value{Type: Object, id: id} }
func NewLambda(id HeapID) Value { return Value{Type: Lambda, id: id} }
func NewClass(id HeapID) Value  { return Value{Type: Class, id: id} }
func NewInstanceRef(id HeapID) Value { return Value{Type: Instance, id: id} }
func NewIterator(id HeapID) Value    { return Value{Type: Iterator, id: id} }

func NewFunc(fd *FuncDescriptor) Value       { return Value{Type: Func, fn: fd} }
func NewBoundMethod(b *MethodBinding) Value  { return Value{Type: BoundMethod, bound: b} }
func NewNative(nd *NativeDescriptor) Value   { return Value{Type: Native, native: nd} }
func NewThread(h *ThreadHandle) Value        { return Value{Type: Thread, thread: h} }
func NewMutex(h *MutexHandle) Value          { return Value{Type: Mutex, mutex: h} }
func NewPromise(h *PromiseHandle) Value       { return Value{Type: Promise, prom: h} }
func NewException(e *ExceptionValue) Value   { return Value{Type: Exception, exc: e} }

func (v Value) AsNumber() float64             { return v.num }
func (v Value) AsBool() bool                  { return v.b }
func (v Value) AsString() string              { return v.str }
func (v Value) AsHeapID() HeapID              { return v.id }
func (v Value) AsFunc() *FuncDescriptor       { return v.fn }
func (v Value) AsBoundMethod() *MethodBinding { return v.bound }
func (v Value) AsNative() *NativeDescriptor   { return v.native }
func (v Value) AsThread() *ThreadHandle       { return v.thread }
func (v Value) AsMutex() *MutexHandle         { return v.mutex }
func (v Value) AsPromise() *PromiseHandle     { return v.prom }
func (v Value) AsException() *ExceptionValue  { return v.exc }

// IsHeapRef reports whether the value carries a HeapID that must be
// dereferenced through a heap.Heap to inspect.
func (v Value) IsHeapRef() bool {
	switch v.Type {
	case Array, Tuple, Object, Lambda, Class, Instance, Iterator:
		return true
	default:
		return false
	}
}

// IsTruthy implements spec §3's truthiness table: false, null, 0, ""
// and every Exception are falsy, a Promise is truthy only once
// resolved and a Thread only while running; every heap reference and
// every other scalar is truthy.
func (v Value) IsTruthy() bool {
	switch v.Type {
	case Bool:
		return v.b
	case Null:
		return false
	case Number:
		return v.num != 0
	case String:
		return v.str != ""
	case Exception:
		return false
	case Promise:
		return v.prom.Resolved
	case Thread:
		return v.thread.Running
	default:
		return true
	}
}

// Equal implements spec §3's equality: structural for scalars, HeapID
// identity for heap-referenced variants.
func Equal(a, b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case Number:
		return a.num == b.num
	case Bool:
		return a.b == b.b
	case Null:
		return true
	case String:
		return a.str == b.str
	case Array, Tuple, Object, Lambda, Class, Instance, Iterator:
		return a.id == b.id
	case Thread:
		return a.thread.ID == b.thread.ID
	case Mutex:
		return a.mutex.ID == b.mutex.ID
	case Promise:
		return a.prom.ID == b.prom.ID
	case Exception:
		return a.exc.Message == b.exc.Message
	default:
		return false
	}
}

// String renders a Value for `print` and string-concatenation
// contexts, matching the display conventions in
// original_source's dryad_runtime::value::Value::to_string.
func (v Value) String() string {
	switch v.Type {
	case Number:
		if v.num == float64(int64(v.num)) {
			return strconv.FormatInt(int64(v.num), 10)
		}
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case Bool:
		return strconv.FormatBool(v.b)
	case Null:
		return "null"
	case String:
		return v.str
	case Array:
		return fmt.Sprintf("[array (heap:%d)]", v.id)
	case Tuple:
		return fmt.Sprintf("(tuple (heap:%d))", v.id)
	case Object:
		return fmt.Sprintf("(object (heap:%d))", v.id)
	case Lambda:
		return fmt.Sprintf("(lambda (heap:%d))", v.id)
	case Class:
		return fmt.Sprintf("class (heap:%d)", v.id)
	case Instance:
		return fmt.Sprintf("instance (heap:%d)", v.id)
	case Func:
		return fmt.Sprintf("%s %s", v.fn.Kind, v.fn.Name)
	case BoundMethod:
		return fmt.Sprintf("<bound method %s>", v.bound.Method.Name)
	case Native:
		return fmt.Sprintf("<native fn %s>", v.native.Name)
	case Thread:
		return fmt.Sprintf("Thread(id: %d, running: %t)", v.thread.ID, v.thread.Running)
	case Mutex:
		return fmt.Sprintf("Mutex(id: %d, locked: %t)", v.mutex.ID, v.mutex.Locked)
	case Promise:
		return fmt.Sprintf("Promise(id: %d, resolved: %t)", v.prom.ID, v.prom.Resolved)
	case Exception:
		return fmt.Sprintf("Exception: %s", v.exc.Message)
	case Iterator:
		return fmt.Sprintf("<iterator (heap:%d)>", v.id)
	default:
		return "unknown"
	}
}

// Upvalue is a captured outer-scope variable cell (glossary: Upvalue).
// While open it aliases a live stack slot through Location; Close
// snapshots the slot into Closed and flips the flag, after which
// every subsequent access reads the cell instead of the stack. Next
// is not set by the VM, which tracks open upvalues in its own openUps
// slice and closes the ones at or above a frame's base on return
// (spec §4.4).
type Upvalue struct {
	Location *Value
	Closed   Value
	IsClosed bool
	Next     *Upvalue
}

func (u *Upvalue) Get() Value {
	if u.IsClosed {
		return u.Closed
	}
	return *u.Location
}

func (u *Upvalue) Set(v Value) {
	if u.IsClosed {
		u.Closed = v
		return
	}
	*u.Location = v
}

func (u *Upvalue) Close() {
	u.Closed = *u.Location
	u.IsClosed = true
	u.Location = nil
}
