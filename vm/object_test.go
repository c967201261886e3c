package vm

import "testing"

func TestObjectInlineSlots(t *testing.T) {
	class := &Class{Name: "Point"}
	obj := NewObjectWithSlots(class, []Value{FromSmallInt(1), FromSmallInt(2)})

	if got := obj.GetSlot(0); got != FromSmallInt(1) {
		t.Fatalf("slot 0 = %v, want 1", got)
	}
	if got := obj.GetSlot(3); got != Nil {
		t.Fatalf("unset inline slot should default to Nil, got %v", got)
	}

	obj.SetSlot(1, FromSmallInt(99))
	if got := obj.GetSlot(1); got != FromSmallInt(99) {
		t.Fatalf("slot 1 after set = %v, want 99", got)
	}
}

func TestObjectOverflowSlots(t *testing.T) {
	class := &Class{Name: "Wide"}
	slots := make([]Value, 6)
	for i := range slots {
		slots[i] = FromSmallInt(int64(i))
	}
	obj := NewObjectWithSlots(class, slots)

	if obj.NumSlots() != 6 {
		t.Fatalf("NumSlots = %d, want 6", obj.NumSlots())
	}
	if got := obj.GetSlot(5); got != FromSmallInt(5) {
		t.Fatalf("overflow slot 5 = %v, want 5", got)
	}
	obj.SetSlot(4, FromSmallInt(40))
	if got := obj.GetSlot(4); got != FromSmallInt(40) {
		t.Fatalf("overflow slot 4 after set = %v, want 40", got)
	}
}

func TestObjectGetSlotOutOfRangePanics(t *testing.T) {
	obj := NewObject(&Class{Name: "Empty"}, 0)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for an out-of-range slot index")
		}
	}()
	obj.GetSlot(10)
}

func TestObjectToValueRoundTrip(t *testing.T) {
	class := &Class{Name: "Boxed"}
	obj := NewObject(class, 0)
	v := obj.ToValue()
	if !v.IsObject() {
		t.Fatalf("ToValue should produce an object Value")
	}
	if got := ObjectFromValue(v); got != obj {
		t.Fatalf("ObjectFromValue did not recover the original pointer")
	}
	if got := MustObjectFromValue(v); got != obj {
		t.Fatalf("MustObjectFromValue did not recover the original pointer")
	}
	if ObjectFromValue(FromSmallInt(1)) != nil {
		t.Fatalf("ObjectFromValue on a non-object Value should return nil")
	}
}

func TestClassDataOfReflectsObjectClass(t *testing.T) {
	class := &Class{ClassID: 3, Serial: 2}
	obj := NewObject(class, 0)

	cd, ok := classDataOf(obj.ToValue())
	if !ok || cd.ClassID != 3 || cd.Serial != 2 {
		t.Fatalf("classDataOf = %v, %v, want (3, 2, true)", cd, ok)
	}

	if _, ok := classDataOf(FromSmallInt(1)); ok {
		t.Fatalf("classDataOf on a non-object should report false")
	}
}

func TestObjectClassNameAndSetClass(t *testing.T) {
	a := &Class{Name: "A"}
	b := &Class{Name: "B"}
	obj := NewObject(a, 0)
	if got := obj.ClassName(); got != "A" {
		t.Fatalf("ClassName = %q, want A", got)
	}
	obj.SetClass(b)
	if got := obj.ClassPtr(); got != b {
		t.Fatalf("SetClass did not take effect")
	}
}
