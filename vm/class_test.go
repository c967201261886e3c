package vm

import "testing"

func TestClassInstVarIndexAcrossInheritance(t *testing.T) {
	base := NewClassWithInstVars("Base", nil, []string{"x", "y"})
	sub := NewClassWithInstVars("Sub", base, []string{"z"})

	if idx := base.InstVarIndex("x"); idx != 0 {
		t.Fatalf("Base x index = %d, want 0", idx)
	}
	if idx := sub.InstVarIndex("x"); idx != 0 {
		t.Fatalf("Sub x index (inherited) = %d, want 0", idx)
	}
	if idx := sub.InstVarIndex("z"); idx != 2 {
		t.Fatalf("Sub z index = %d, want 2", idx)
	}
	if idx := sub.InstVarIndex("nope"); idx != -1 {
		t.Fatalf("missing ivar should return -1, got %d", idx)
	}
	if names := sub.AllInstVarNames(); len(names) != 3 {
		t.Fatalf("AllInstVarNames = %v, want 3 entries", names)
	}
}

func TestClassSubclassSuperclassRelation(t *testing.T) {
	root := NewClass("Root", nil)
	mid := NewClass("Mid", root)
	leaf := NewClass("Leaf", mid)

	if !leaf.IsSubclassOf(root) {
		t.Fatalf("leaf should be a subclass of root")
	}
	if !root.IsSuperclassOf(leaf) {
		t.Fatalf("root should be a superclass of leaf")
	}
	if leaf.IsSubclassOf(NewClass("Unrelated", nil)) {
		t.Fatalf("leaf should not be a subclass of an unrelated class")
	}
	if got := leaf.Depth(); got != 2 {
		t.Fatalf("depth = %d, want 2", got)
	}
}

func TestClassMethodLookupWalksSuperclasses(t *testing.T) {
	st := NewSymbolTable()
	animal := NewClass("Animal", nil)
	animal.AddMethod0(st, "speak", func(vm interface{}, receiver Value) Value { return FromSmallInt(1) })

	dog := NewClass("Dog", animal)
	dog.AddMethod0(st, "bark", func(vm interface{}, receiver Value) Value { return FromSmallInt(2) })

	if !dog.HasMethod(st, "bark") {
		t.Fatalf("dog should directly define bark")
	}
	if dog.HasMethod(st, "speak") {
		t.Fatalf("has_method should not consider inherited methods own")
	}

	m := dog.LookupMethod(st, "speak")
	if m == nil {
		t.Fatalf("lookup_method should find speak via the superclass chain")
	}
	if m.Invoke(nil, Nil, nil) != FromSmallInt(1) {
		t.Fatalf("resolved speak did not invoke the Animal implementation")
	}

	if dog.LookupMethod(st, "fly") != nil {
		t.Fatalf("lookup of an undefined selector should return nil")
	}
}

func TestClassBumpSerialInvalidatesSpecializations(t *testing.T) {
	env, _ := newTestEnv()
	c := NewClass("Counter", nil)
	NewClassTable().Register(c)

	code := NewCompiledCode(env, "m", "f.mag", "Counter", []byte{byte(OpReturnSelf)}, nil, nil, 0, 0, false, 1, "", nil)
	if _, err := code.internalize(); err != nil {
		t.Fatalf("internalize: %v", err)
	}

	before := c.ClassData()
	code.AddSpecialized(before, func(code *CompiledCode, receiver Value, args []Value) (Value, error) {
		return FromSmallInt(1), nil
	}, nil)

	c.BumpSerial()
	after := c.ClassData()
	if after.Serial == before.Serial {
		t.Fatalf("BumpSerial did not change the class's serial")
	}
	if _, ok := code.FindSpecialized(after); ok {
		t.Fatalf("specialization for the old serial should not match the new one")
	}
	if _, ok := code.FindSpecialized(before); !ok {
		t.Fatalf("the old entry itself should still be present until overwritten")
	}
}

func TestClassTableRegisterAssignsStableClassID(t *testing.T) {
	ct := NewClassTable()
	c := NewClass("Widget", nil)
	ct.Register(c)
	if c.ClassID == 0 {
		t.Fatalf("Register should assign a non-zero ClassID")
	}
	id := c.ClassID

	old := ct.Register(c)
	if old != c {
		t.Fatalf("re-registering the same class should return itself as the previous occupant")
	}
	if c.ClassID != id {
		t.Fatalf("ClassID changed on re-registration: %d -> %d", id, c.ClassID)
	}
}

func TestClassVariablesSharedWithDeclaringClass(t *testing.T) {
	base := NewClass("Base", nil)
	base.ClassVars = []string{"count"}
	base.SetClassVar("count", FromSmallInt(0))

	sub := NewClass("Sub", base)
	if !sub.HasClassVar("count") {
		t.Fatalf("subclass should see an inherited class variable")
	}
	sub.SetClassVar("count", FromSmallInt(7))
	if got := base.GetClassVar("count"); got != FromSmallInt(7) {
		t.Fatalf("setting an inherited class variable from a subclass should affect the declaring class, got %v", got)
	}
}
