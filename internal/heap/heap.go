// Package heap implements the VM's object arena (spec §3 Heap): a
// process-local mapping from monotonically-allocated HeapID to
// HeapObject. Cycles are permitted; this arena never frees an object
// mid-run, matching spec's conservative deallocation strategy — the
// arena lives as long as the VM and is dropped whole at teardown.
package heap

import (
	"fmt"

	"dryad/internal/value"
)

// HeapObject is implemented by every compound runtime object
// addressed through a value.HeapID.
type HeapObject interface {
	isHeapObject()
}

// ArrayObj backs the Array value variant: a mutable, ordered sequence.
type ArrayObj struct {
	Elems []value.Value
}

func (*ArrayObj) isHeapObject() {}

// TupleObj backs the Tuple value variant. Structurally immutable:
// nothing in the VM mutates Elems in place once built (spec §3).
type TupleObj struct {
	Elems []value.Value
}

func (*TupleObj) isHeapObject() {}

// MapObj is the shared backing store for Object and Instance values:
// a string-keyed map that preserves insertion order. Keys holds
// insertion order; Index gives O(1) lookup into Values.
type MapObj struct {
	Keys   []string
	Index  map[string]int
	Values []value.Value
}

func NewMapObj() *MapObj {
	return &MapObj{Index: make(map[string]int)}
}

func (*MapObj) isHeapObject() {}

func (m *MapObj) Get(key string) (value.Value, bool) {
	i, ok := m.Index[key]
	if !ok {
		return value.Value{}, false
	}
	return m.Values[i], true
}

func (m *MapObj) Set(key string, v value.Value) {
	if i, ok := m.Index[key]; ok {
		m.Values[i] = v
		return
	}
	m.Index[key] = len(m.Keys)
	m.Keys = append(m.Keys, key)
	m.Values = append(m.Values, v)
}

func (m *MapObj) Delete(key string) bool {
	i, ok := m.Index[key]
	if !ok {
		return false
	}
	m.Keys = append(m.Keys[:i], m.Keys[i+1:]...)
	m.Values = append(m.Values[:i], m.Values[i+1:]...)
	delete(m.Index, key)
	for k := i; k < len(m.Keys); k++ {
		m.Index[m.Keys[k]] = k
	}
	return true
}

// LambdaObj backs the Lambda value variant: a closure's captured
// environment plus a reference to its compiled body.
type LambdaObj struct {
	Params          []string
	BodyChunkID     int
	Body            interface{} // *chunk.Chunk; interface{} avoids an import cycle with package chunk
	CapturedUpvalues []*value.Upvalue
}

func (*LambdaObj) isHeapObject() {}

// FieldDescriptor describes one declared class field: its visibility,
// whether it is static, and its (optional) default-value initializer
// expression — carried as an opaque AST node so package heap does not
// import package ast.
type FieldDescriptor struct {
	Visibility string // "public" | "private"
	IsStatic   bool
	Default    interface{} // ast.Expression, nil if absent
}

// MethodKind distinguishes the three kinds the compiler emits
// `Method(name_k, kind)` for (spec §4.2).
type MethodKind uint8

const (
	MethodInstance MethodKind = iota
	MethodStatic
	MethodConstructor
)

type MethodDescriptor struct {
	Name       string
	Kind       MethodKind
	Visibility string
	IsAsync    bool
	Params     []string
	Body       interface{} // *chunk.Chunk
}

// ClassObj backs the Class value variant.
type ClassObj struct {
	Name          string
	Parent        value.HeapID // 0 if none
	HasParent     bool
	Fields        map[string]*FieldDescriptor
	FieldOrder    []string
	Methods       map[string]*MethodDescriptor
	StaticStorage *MapObj
}

func NewClassObj(name string) *ClassObj {
	return &ClassObj{
		Name:          name,
		Fields:        make(map[string]*FieldDescriptor),
		Methods:       make(map[string]*MethodDescriptor),
		StaticStorage: NewMapObj(),
	}
}

func (*ClassObj) isHeapObject() {}

// InstanceObj backs the Instance value variant. ClassID never
// changes after creation (spec §3 invariant).
type InstanceObj struct {
	ClassID value.HeapID
	Fields  *MapObj
}

func (*InstanceObj) isHeapObject() {}

// IteratorKind distinguishes what OP_ITER_NEW captured: the four
// built-in sequence shapes spec §4.3's "iteration protocol" enumerates,
// plus a user-defined iterator object that answers to the same
// informal `next`/`done` contract.
type IteratorKind uint8

const (
	IterArray IteratorKind = iota
	IterTuple
	IterString
	IterMapKeys
	IterUser
)

// IteratorObj backs the opaque cursor value OP_ITER_NEW produces and
// OP_ITER_NEXT advances. Immutable per step: IterNext allocates a new
// IteratorObj with Index+1 rather than mutating this one in place, so
// an iterator captured by a closure mid-loop still sees the state at
// capture time.
type IteratorObj struct {
	Kind     IteratorKind
	Elems    []value.Value // IterArray / IterTuple snapshot, or IterMapKeys' keys in insertion order
	StrRunes []rune        // IterString
	Index    int
	UserRecv value.Value // IterUser: the instance/value whose "next" method is invoked
}

func (*IteratorObj) isHeapObject() {}

func (h *Heap) Iterator(id value.HeapID) (*IteratorObj, bool) {
	o, ok := h.Get(id)
	if !ok {
		return nil, false
	}
	a, ok := o.(*IteratorObj)
	return a, ok
}

// Heap is the VM-owned arena described in spec §3.
type Heap struct {
	objects map[value.HeapID]HeapObject
	nextID  value.HeapID
}

func New() *Heap {
	return &Heap{
		objects: make(map[value.HeapID]HeapObject),
		nextID:  1,
	}
}

// Alloc assigns a fresh HeapID to obj and returns it.
func (h *Heap) Alloc(obj HeapObject) value.HeapID {
	id := h.nextID
	h.nextID++
	h.objects[id] = obj
	return id
}

// Get dereferences id. Returns (nil, false) for a dangling id, which
// should never occur given the invariant in spec §3 but is reported
// rather than panicking so a caller can raise a Heap RuntimeError.
func (h *Heap) Get(id value.HeapID) (HeapObject, bool) {
	obj, ok := h.objects[id]
	return obj, ok
}

func (h *Heap) Array(id value.HeapID) (*ArrayObj, bool) {
	o, ok := h.Get(id)
	if !ok {
		return nil, false
	}
	a, ok := o.(*ArrayObj)
	return a, ok
}

func (h *Heap) Tuple(id value.HeapID) (*TupleObj, bool) {
	o, ok := h.Get(id)
	if !ok {
		return nil, false
	}
	a, ok := o.(*TupleObj)
	return a, ok
}

func (h *Heap) Map(id value.HeapID) (*MapObj, bool) {
	o, ok := h.Get(id)
	if !ok {
		return nil, false
	}
	a, ok := o.(*MapObj)
	return a, ok
}

func (h *Heap) Lambda(id value.HeapID) (*LambdaObj, bool) {
	o, ok := h.Get(id)
	if !ok {
		return nil, false
	}
	a, ok := o.(*LambdaObj)
	return a, ok
}

func (h *Heap) Class(id value.HeapID) (*ClassObj, bool) {
	o, ok := h.Get(id)
	if !ok {
		return nil, false
	}
	a, ok := o.(*ClassObj)
	return a, ok
}

func (h *Heap) Instance(id value.HeapID) (*InstanceObj, bool) {
	o, ok := h.Get(id)
	if !ok {
		return nil, false
	}
	a, ok := o.(*InstanceObj)
	return a, ok
}

// Len reports the number of live objects; used by tests asserting no
// runaway growth (the debug server's GetHeap command reports Summary).
func (h *Heap) Len() int {
	return len(h.objects)
}

// Summary renders one short description per live object, keyed by
// HeapID — the debug server's GetHeap command (spec §6) has no
// smaller-grained notion of "inspect this object" to offer over the
// wire, so a flat label list is what it reports.
func (h *Heap) Summary() []string {
	out := make([]string, 0, len(h.objects))
	for id, obj := range h.objects {
		switch o := obj.(type) {
		case *ArrayObj:
			out = append(out, fmt.Sprintf("#%d array(len=%d)", id, len(o.Elems)))
		case *TupleObj:
			out = append(out, fmt.Sprintf("#%d tuple(len=%d)", id, len(o.Elems)))
		case *MapObj:
			out = append(out, fmt.Sprintf("#%d object(keys=%d)", id, len(o.Keys)))
		case *LambdaObj:
			out = append(out, fmt.Sprintf("#%d lambda(params=%d)", id, len(o.Params)))
		case *ClassObj:
			out = append(out, fmt.Sprintf("#%d class(%s)", id, o.Name))
		case *InstanceObj:
			out = append(out, fmt.Sprintf("#%d instance(class=#%d)", id, o.ClassID))
		case *IteratorObj:
			out = append(out, fmt.Sprintf("#%d iterator(index=%d)", id, o.Index))
		default:
			out = append(out, fmt.Sprintf("#%d object", id))
		}
	}
	return out
}

// ResolveMethod walks the class chain starting at classID looking for
// name, returning the defining ClassObj alongside the method so
// callers can tell a subclass override from the inherited original
// (spec §8 "class dispatch").
func (h *Heap) ResolveMethod(classID value.HeapID, name string) (*MethodDescriptor, value.HeapID, bool) {
	for {
		class, ok := h.Class(classID)
		if !ok {
			return nil, 0, false
		}
		if m, ok := class.Methods[name]; ok {
			return m, classID, true
		}
		if !class.HasParent {
			return nil, 0, false
		}
		classID = class.Parent
	}
}

// ResolveField walks the class chain looking for a declared field
// (used to find static fields/defaults, not instance field values
// which live in InstanceObj.Fields directly).
func (h *Heap) ResolveField(classID value.HeapID, name string) (*FieldDescriptor, value.HeapID, bool) {
	for {
		class, ok := h.Class(classID)
		if !ok {
			return nil, 0, false
		}
		if f, ok := class.Fields[name]; ok {
			return f, classID, true
		}
		if !class.HasParent {
			return nil, 0, false
		}
		classID = class.Parent
	}
}
