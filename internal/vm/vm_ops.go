// Opcode handlers too large for the main dispatch switch in vm.go:
// property/index access, class construction and method dispatch,
// iteration, and the concurrency primitives. Split out purely for
// readability — the teacher keeps everything in one vm.go file, but
// its file is a fraction of this one opcode vocabulary's size.
package vm

import (
	"dryad/internal/chunk"
	"dryad/internal/heap"
	"dryad/internal/value"
)

const initMethodName = "init"

// --- indexing ---

func (vm *VM) execIndexGet() error {
	idx := vm.pop()
	recv := vm.pop()
	switch recv.Type {
	case value.Array:
		arr, _ := vm.heap.Array(recv.AsHeapID())
		i := int(idx.AsNumber())
		if i < 0 || i >= len(arr.Elems) {
			return vm.fail(ErrIndex, "índice fora dos limites: %d", i)
		}
		vm.push(arr.Elems[i])
	case value.Tuple:
		t, _ := vm.heap.Tuple(recv.AsHeapID())
		i := int(idx.AsNumber())
		if i < 0 || i >= len(t.Elems) {
			return vm.fail(ErrIndex, "índice fora dos limites: %d", i)
		}
		vm.push(t.Elems[i])
	case value.String:
		runes := []rune(recv.AsString())
		i := int(idx.AsNumber())
		if i < 0 || i >= len(runes) {
			return vm.fail(ErrIndex, "índice fora dos limites: %d", i)
		}
		vm.push(value.NewString(string(runes[i])))
	case value.Object:
		m, _ := vm.heap.Map(recv.AsHeapID())
		if v, ok := m.Get(idx.String()); ok {
			vm.push(v)
		} else {
			vm.push(value.NewNull())
		}
	case value.Instance:
		inst, _ := vm.heap.Instance(recv.AsHeapID())
		if v, ok := inst.Fields.Get(idx.String()); ok {
			vm.push(v)
		} else {
			vm.push(value.NewNull())
		}
	default:
		return vm.fail(ErrType, "tipo '%s' não suporta indexação", recv.Type)
	}
	return nil
}

func (vm *VM) execIndexSet() error {
	v := vm.pop()
	idx := vm.pop()
	recv := vm.pop()
	switch recv.Type {
	case value.Array:
		arr, _ := vm.heap.Array(recv.AsHeapID())
		i := int(idx.AsNumber())
		if i < 0 || i >= len(arr.Elems) {
			return vm.fail(ErrIndex, "índice fora dos limites: %d", i)
		}
		arr.Elems[i] = v
	case value.Object:
		m, _ := vm.heap.Map(recv.AsHeapID())
		m.Set(idx.String(), v)
	default:
		return vm.fail(ErrType, "tipo '%s' não suporta atribuição indexada", recv.Type)
	}
	vm.push(v)
	return nil
}

// --- properties, classes & methods ---

// asBoundMethod wraps a resolved instance/static method into the
// BoundMethod value a plain OP_CALL or a stored reference can later
// invoke; Upvalues is carried through so a method that itself closes
// over an enclosing scope (the class body's own lexical scope) still
// sees its captures once called back through a property read.
func asBoundMethod(md *heap.MethodDescriptor, receiver, definingClass value.HeapID) value.Value {
	lam := md.Body.(*heap.LambdaObj)
	fd := &value.FuncDescriptor{Name: md.Name, Params: md.Params, Chunk: lam.Body, Kind: value.FuncSync}
	return value.NewBoundMethod(&value.MethodBinding{
		Receiver:      receiver,
		Method:        fd,
		DefiningClass: definingClass,
		Upvalues:      lam.CapturedUpvalues,
	})
}

func (vm *VM) execPropertyGet(name string) error {
	recv := vm.pop()
	switch recv.Type {
	case value.Instance:
		inst, _ := vm.heap.Instance(recv.AsHeapID())
		if v, ok := inst.Fields.Get(name); ok {
			vm.push(v)
			return nil
		}
		md, definingClass, ok := vm.heap.ResolveMethod(inst.ClassID, name)
		if !ok {
			return vm.fail(ErrProperty, "propriedade '%s' não encontrada", name)
		}
		if md.Kind == heap.MethodStatic {
			return vm.fail(ErrProperty, "'%s' não é estático", name)
		}
		vm.push(asBoundMethod(md, recv.AsHeapID(), definingClass))
		return nil
	case value.Class:
		cls, _ := vm.heap.Class(recv.AsHeapID())
		if v, ok := cls.StaticStorage.Get(name); ok {
			vm.push(v)
			return nil
		}
		md, definingClass, ok := vm.heap.ResolveMethod(recv.AsHeapID(), name)
		if !ok {
			return vm.fail(ErrProperty, "propriedade '%s' não encontrada", name)
		}
		if md.Kind != heap.MethodStatic {
			return vm.fail(ErrProperty, "'%s' não é estático", name)
		}
		vm.push(asBoundMethod(md, recv.AsHeapID(), definingClass))
		return nil
	case value.Object:
		m, _ := vm.heap.Map(recv.AsHeapID())
		if v, ok := m.Get(name); ok {
			vm.push(v)
		} else {
			vm.push(value.NewNull())
		}
		return nil
	default:
		return vm.fail(ErrType, "tipo '%s' não suporta acesso a propriedades", recv.Type)
	}
}

func (vm *VM) execPropertySet(name string) error {
	v := vm.pop()
	recv := vm.pop()
	switch recv.Type {
	case value.Instance:
		inst, _ := vm.heap.Instance(recv.AsHeapID())
		inst.Fields.Set(name, v)
	case value.Class:
		cls, _ := vm.heap.Class(recv.AsHeapID())
		cls.StaticStorage.Set(name, v)
	case value.Object:
		m, _ := vm.heap.Map(recv.AsHeapID())
		m.Set(name, v)
	default:
		return vm.fail(ErrType, "tipo '%s' não suporta atribuição de propriedade", recv.Type)
	}
	vm.push(v)
	return nil
}

func (vm *VM) execInherit() error {
	parentVal := vm.pop()
	if parentVal.Type != value.Class {
		return vm.fail(ErrType, "superclasse deve ser uma classe")
	}
	classVal := vm.peek(0)
	cls, _ := vm.heap.Class(classVal.AsHeapID())
	cls.Parent = parentVal.AsHeapID()
	cls.HasParent = true
	return nil
}

func (vm *VM) execMethod(name string, flags chunk.MethodFlags) {
	lambdaVal := vm.pop()
	lam, _ := vm.heap.Lambda(lambdaVal.AsHeapID())
	classVal := vm.peek(0)
	cls, _ := vm.heap.Class(classVal.AsHeapID())
	cls.Methods[name] = &heap.MethodDescriptor{
		Name:       name,
		Kind:       heap.MethodKind(flags.Kind()),
		Visibility: flags.Visibility(),
		IsAsync:    flags.IsAsync(),
		Params:     lam.Params,
		Body:       lam,
	}
}

// callMethodDescriptor establishes a new frame for a resolved method,
// splicing the receiver already sitting at calleeSlot in as `this`.
func (vm *VM) callMethodDescriptor(md *heap.MethodDescriptor, definingClass value.HeapID, calleeSlot, argc int, isInit bool) error {
	lam := md.Body.(*heap.LambdaObj)
	if err := vm.adjustArity(len(md.Params), calleeSlot, argc); err != nil {
		return err
	}
	bodyChunk, _ := lam.Body.(*chunk.Chunk)
	return vm.pushFrame(bodyChunk, calleeSlot, lam.CapturedUpvalues, definingClass, isInit)
}

func (vm *VM) execInvoke(name string, argc int) error {
	calleeSlot := vm.stackTop - argc - 1
	recv := vm.stack[calleeSlot]
	switch recv.Type {
	case value.Mutex:
		switch name {
		case "lock":
			vm.lockMutex(recv.AsMutex())
		case "unlock":
			vm.unlockMutex(recv.AsMutex())
		default:
			return vm.fail(ErrProperty, "mutex não possui o método '%s'", name)
		}
		vm.stackTop = calleeSlot
		vm.push(value.NewNull())
		return nil
	case value.Instance:
		inst, _ := vm.heap.Instance(recv.AsHeapID())
		if fv, ok := inst.Fields.Get(name); ok {
			vm.stack[calleeSlot] = fv
			return vm.callValue(fv, argc)
		}
		md, definingClass, ok := vm.heap.ResolveMethod(inst.ClassID, name)
		if !ok {
			return vm.fail(ErrProperty, "propriedade '%s' não encontrada", name)
		}
		if md.Kind == heap.MethodStatic {
			return vm.fail(ErrProperty, "'%s' não é estático", name)
		}
		return vm.callMethodDescriptor(md, definingClass, calleeSlot, argc, false)
	case value.Class:
		cls, _ := vm.heap.Class(recv.AsHeapID())
		if sv, ok := cls.StaticStorage.Get(name); ok {
			vm.stack[calleeSlot] = sv
			return vm.callValue(sv, argc)
		}
		md, definingClass, ok := vm.heap.ResolveMethod(recv.AsHeapID(), name)
		if !ok {
			return vm.fail(ErrProperty, "propriedade '%s' não encontrada", name)
		}
		if md.Kind != heap.MethodStatic {
			return vm.fail(ErrProperty, "'%s' não é estático", name)
		}
		return vm.callMethodDescriptor(md, definingClass, calleeSlot, argc, false)
	default:
		return vm.fail(ErrType, "tipo '%s' não suporta chamada de método", recv.Type)
	}
}

func (vm *VM) execSuperInvoke(name string, argc int) error {
	this := vm.stack[vm.currentFrame.Base]
	cls, ok := vm.heap.Class(vm.currentFrame.DefiningClass)
	if !ok || !cls.HasParent {
		return vm.fail(ErrProperty, "'super' usado sem superclasse")
	}
	md, definingClass, ok := vm.heap.ResolveMethod(cls.Parent, name)
	if !ok {
		return vm.fail(ErrProperty, "método '%s' não encontrado na superclasse", name)
	}
	vm.insertBelow(argc, this)
	calleeSlot := vm.stackTop - argc - 1
	return vm.callMethodDescriptor(md, definingClass, calleeSlot, argc, name == initMethodName)
}

func (vm *VM) execGetSuper(name string) error {
	this := vm.stack[vm.currentFrame.Base]
	cls, ok := vm.heap.Class(vm.currentFrame.DefiningClass)
	if !ok || !cls.HasParent {
		return vm.fail(ErrProperty, "'super' usado sem superclasse")
	}
	md, definingClass, ok := vm.heap.ResolveMethod(cls.Parent, name)
	if !ok {
		return vm.fail(ErrProperty, "método '%s' não encontrado na superclasse", name)
	}
	vm.push(asBoundMethod(md, this.AsHeapID(), definingClass))
	return nil
}

// --- iteration ---

func (vm *VM) execIterNew() error {
	iterable := vm.pop()
	var obj *heap.IteratorObj
	switch iterable.Type {
	case value.Array:
		arr, _ := vm.heap.Array(iterable.AsHeapID())
		snapshot := make([]value.Value, len(arr.Elems))
		copy(snapshot, arr.Elems)
		obj = &heap.IteratorObj{Kind: heap.IterArray, Elems: snapshot}
	case value.Tuple:
		t, _ := vm.heap.Tuple(iterable.AsHeapID())
		snapshot := make([]value.Value, len(t.Elems))
		copy(snapshot, t.Elems)
		obj = &heap.IteratorObj{Kind: heap.IterTuple, Elems: snapshot}
	case value.String:
		obj = &heap.IteratorObj{Kind: heap.IterString, StrRunes: []rune(iterable.AsString())}
	case value.Object:
		m, _ := vm.heap.Map(iterable.AsHeapID())
		keys := make([]value.Value, len(m.Keys))
		for i, k := range m.Keys {
			keys[i] = value.NewString(k)
		}
		obj = &heap.IteratorObj{Kind: heap.IterMapKeys, Elems: keys}
	case value.Instance:
		obj = &heap.IteratorObj{Kind: heap.IterUser, UserRecv: iterable}
	default:
		return vm.fail(ErrType, "tipo '%s' não é iterável", iterable.Type)
	}
	id := vm.heap.Alloc(obj)
	vm.push(value.NewIterator(id))
	return nil
}

func (vm *VM) execIterNext() error {
	rel := vm.readShort()
	iterVal := vm.pop()
	iterObj, ok := vm.heap.Iterator(iterVal.AsHeapID())
	if !ok {
		return vm.fail(ErrType, "iterador inválido")
	}
	switch iterObj.Kind {
	case heap.IterArray, heap.IterTuple, heap.IterMapKeys:
		if iterObj.Index >= len(iterObj.Elems) {
			vm.currentFrame.IP += int(rel)
			return nil
		}
		v := iterObj.Elems[iterObj.Index]
		nid := vm.heap.Alloc(&heap.IteratorObj{Kind: iterObj.Kind, Elems: iterObj.Elems, Index: iterObj.Index + 1})
		vm.push(v)
		vm.push(value.NewIterator(nid))
	case heap.IterString:
		if iterObj.Index >= len(iterObj.StrRunes) {
			vm.currentFrame.IP += int(rel)
			return nil
		}
		v := value.NewString(string(iterObj.StrRunes[iterObj.Index]))
		nid := vm.heap.Alloc(&heap.IteratorObj{Kind: heap.IterString, StrRunes: iterObj.StrRunes, Index: iterObj.Index + 1})
		vm.push(v)
		vm.push(value.NewIterator(nid))
	case heap.IterUser:
		bound, err := vm.resolveCallable(iterObj.UserRecv, "next")
		if err != nil {
			return err
		}
		result, err := vm.callAndRun(bound, nil)
		if err != nil {
			return err
		}
		tup, ok := vm.heap.Tuple(result.AsHeapID())
		if !ok || len(tup.Elems) < 2 {
			return vm.fail(ErrType, "next() deve retornar uma tupla (concluido, valor)")
		}
		if tup.Elems[0].IsTruthy() {
			vm.currentFrame.IP += int(rel)
			return nil
		}
		vm.push(tup.Elems[1])
		vm.push(iterVal)
	default:
		return vm.fail(ErrType, "iterador desconhecido")
	}
	return nil
}

// resolveCallable looks up a zero-arg method by name on recv without
// going through the stack-splicing OP_INVOKE path — used by the
// iterator protocol's reentrant call into a user "next" method.
func (vm *VM) resolveCallable(recv value.Value, name string) (value.Value, error) {
	if recv.Type != value.Instance {
		return value.Value{}, vm.fail(ErrType, "tipo '%s' não suporta '%s'", recv.Type, name)
	}
	inst, _ := vm.heap.Instance(recv.AsHeapID())
	md, definingClass, ok := vm.heap.ResolveMethod(inst.ClassID, name)
	if !ok {
		return value.Value{}, vm.fail(ErrProperty, "método '%s' não encontrado", name)
	}
	return asBoundMethod(md, recv.AsHeapID(), definingClass), nil
}

// callAndRun drives a callee to completion from outside the main
// dispatch loop, returning the single value it leaves on the stack.
// Used for the iterator protocol's reentrant "next" dispatch and for
// a spawned thread's entry call (spec §4.4, §5).
func (vm *VM) callAndRun(callee value.Value, args []value.Value) (value.Value, error) {
	depth := vm.frameCount
	vm.push(callee)
	for _, a := range args {
		vm.push(a)
	}
	if err := vm.callValue(callee, len(args)); err != nil {
		return value.Value{}, err
	}
	if vm.frameCount > depth {
		if err := vm.run(depth); err != nil {
			return value.Value{}, err
		}
	}
	return vm.pop(), nil
}

// --- concurrency ---

func (vm *VM) execAwait() error {
	v := vm.pop()
	if v.Type != value.Promise {
		vm.push(v)
		return nil
	}
	p := v.AsPromise()
	if !p.Resolved {
		resolved := <-vm.promiseChannel(p.ID)
		p.Resolved = true
		p.Value = &resolved
	}
	vm.push(*p.Value)
	return nil
}

// execSpawnThread implements spec §5's Thread/Promise model by
// collapsing it to one step: rather than yielding a
// Thread handle that later produces a Promise, SpawnThread hands back
// the Promise directly, with a sibling goroutine racing to resolve it
// over the shared heap and global registry.
func (vm *VM) execSpawnThread(argc int) {
	calleeSlot := vm.stackTop - argc - 1
	callee := vm.stack[calleeSlot]
	args := make([]value.Value, argc)
	copy(args, vm.stack[calleeSlot+1:vm.stackTop])
	vm.stackTop = calleeSlot

	id := vm.nextHandleID()
	ch := vm.promiseChannel(id)
	child := vm.fork()
	go func() {
		result, err := child.callAndRun(callee, args)
		if err != nil {
			result = value.NewException(&value.ExceptionValue{Message: err.Error()})
		}
		ch <- result
	}()
	vm.push(value.NewPromise(&value.PromiseHandle{ID: id}))
}
