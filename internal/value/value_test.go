package value

import "testing"

func TestIsTruthy(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"false", NewBool(false), false},
		{"true", NewBool(true), true},
		{"null", NewNull(), false},
		{"zero", NewNumber(0), false},
		{"nonzero", NewNumber(-1), true},
		{"empty string", NewString(""), false},
		{"nonempty string", NewString("x"), true},
		{"array ref", NewArray(1), true},
		{"exception", NewException(&ExceptionValue{Message: "boom"}), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.v.IsTruthy(); got != c.want {
				t.Errorf("IsTruthy() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestEqualHeapIdentity(t *testing.T) {
	a := NewArray(5)
	b := NewArray(5)
	c := NewArray(6)
	if !Equal(a, b) {
		t.Errorf("expected arrays with same HeapID to be equal")
	}
	if Equal(a, c) {
		t.Errorf("expected arrays with different HeapID to be unequal")
	}
}

func TestUpvalueOpenThenClose(t *testing.T) {
	slot := NewNumber(1)
	u := &Upvalue{Location: &slot}
	slot = NewNumber(2)
	if got := u.Get().AsNumber(); got != 2 {
		t.Fatalf("open upvalue should read live slot, got %v", got)
	}
	u.Close()
	slot = NewNumber(3)
	if got := u.Get().AsNumber(); got != 2 {
		t.Fatalf("closed upvalue should keep snapshot, got %v", got)
	}
}
