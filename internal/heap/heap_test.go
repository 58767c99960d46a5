package heap

import (
	"testing"

	"dryad/internal/value"
)

func TestMapObjPreservesInsertionOrder(t *testing.T) {
	m := NewMapObj()
	m.Set("b", value.NewNumber(2))
	m.Set("a", value.NewNumber(1))
	m.Set("b", value.NewNumber(20))

	if got := m.Keys; len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("expected insertion order [b a], got %v", got)
	}
	v, ok := m.Get("b")
	if !ok || v.AsNumber() != 20 {
		t.Fatalf("expected updated value 20 for b, got %v", v)
	}
}

func TestMapObjDelete(t *testing.T) {
	m := NewMapObj()
	m.Set("a", value.NewNumber(1))
	m.Set("b", value.NewNumber(2))
	m.Set("c", value.NewNumber(3))

	if !m.Delete("b") {
		t.Fatal("expected delete of existing key to succeed")
	}
	if _, ok := m.Get("b"); ok {
		t.Fatal("deleted key should not resolve")
	}
	if got := m.Keys; len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("expected remaining keys [a c], got %v", got)
	}
}

func TestResolveMethodWalksParentChain(t *testing.T) {
	h := New()

	parent := NewClassObj("Animal")
	parent.Methods["speak"] = &MethodDescriptor{Name: "speak", Kind: MethodInstance}
	parentID := h.Alloc(parent)

	child := NewClassObj("Dog")
	child.HasParent = true
	child.Parent = parentID
	child.Methods["bark"] = &MethodDescriptor{Name: "bark", Kind: MethodInstance}
	childID := h.Alloc(child)

	m, owner, ok := h.ResolveMethod(childID, "speak")
	if !ok || m.Name != "speak" || owner != parentID {
		t.Fatalf("expected speak resolved on parent, got %v %v %v", m, owner, ok)
	}

	m, owner, ok = h.ResolveMethod(childID, "bark")
	if !ok || owner != childID {
		t.Fatalf("expected bark resolved on child, got %v %v %v", m, owner, ok)
	}

	_, _, ok = h.ResolveMethod(childID, "missing")
	if ok {
		t.Fatal("expected missing method to not resolve")
	}
}

func TestAllocAssignsMonotonicIDs(t *testing.T) {
	h := New()
	a := h.Alloc(&ArrayObj{})
	b := h.Alloc(&ArrayObj{})
	if b <= a {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", a, b)
	}
	if h.Len() != 2 {
		t.Fatalf("expected 2 live objects, got %d", h.Len())
	}
}
