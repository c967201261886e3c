package vm

import (
	"unsafe"
)

// Object represents a heap-allocated instance.
//
// Objects use a hybrid slot layout optimized for common cases:
//   - 4 inline slots for objects with <=4 instance variables (most objects)
//   - Overflow slice for objects with >4 instance variables
//
// This avoids slice allocation overhead for the common case while
// still supporting objects of arbitrary size.
type Object struct {
	class *Class // the class this object is an instance of

	// Inline slots for the first 4 instance variables.
	slot0 Value
	slot1 Value
	slot2 Value
	slot3 Value

	// Overflow for objects with >4 instance variables.
	// Only allocated when needed.
	overflow []Value
}

// NumInlineSlots is the number of slots stored directly in the Object struct.
const NumInlineSlots = 4

// Class identifies a receiver's shape for dispatch purposes.
//
// ClassID is assigned once, at registration, and never changes. Serial
// bumps every time the class's instance-variable layout changes; a
// specialization keyed on a stale serial is no longer valid for lookups.
// This is a forward declaration; the full implementation lives in
// class.go.
type Class struct {
	Name       string       // Class name
	Namespace  string       // Namespace (empty for default)
	Superclass *Class       // Parent class (nil for the root)
	Methods    *MethodTable // Instance-side method table
	InstVars   []string     // Instance variable names
	NumSlots   int          // Total number of slots needed

	ClassVars    []string     // Class variable names
	ClassMethods *MethodTable // Class-side (metaclass) method table

	ClassID uint32 // assigned at ClassTable.Register, stable for the class's lifetime
	Serial  uint32 // bumped by BumpSerial on shape change
}

// ClassData returns the (class_id, class_serial) pair a specialization
// cache keys on.
func (c *Class) ClassData() ClassData {
	return ClassData{ClassID: c.ClassID, Serial: c.Serial}
}

// ---------------------------------------------------------------------------
// Object creation
// ---------------------------------------------------------------------------

// NewObject creates a new Object with the given class and slot count.
// All slots are initialized to Nil.
func NewObject(class *Class, numSlots int) *Object {
	obj := &Object{class: class}

	obj.slot0 = Nil
	obj.slot1 = Nil
	obj.slot2 = Nil
	obj.slot3 = Nil

	if numSlots > NumInlineSlots {
		obj.overflow = make([]Value, numSlots-NumInlineSlots)
		for i := range obj.overflow {
			obj.overflow[i] = Nil
		}
	}

	return obj
}

// NewObjectWithSlots creates a new Object and initializes its slots.
func NewObjectWithSlots(class *Class, slots []Value) *Object {
	obj := &Object{class: class}

	n := len(slots)
	if n > 0 {
		obj.slot0 = slots[0]
	} else {
		obj.slot0 = Nil
	}
	if n > 1 {
		obj.slot1 = slots[1]
	} else {
		obj.slot1 = Nil
	}
	if n > 2 {
		obj.slot2 = slots[2]
	} else {
		obj.slot2 = Nil
	}
	if n > 3 {
		obj.slot3 = slots[3]
	} else {
		obj.slot3 = Nil
	}

	if n > NumInlineSlots {
		obj.overflow = make([]Value, n-NumInlineSlots)
		copy(obj.overflow, slots[NumInlineSlots:])
	}

	return obj
}

// ---------------------------------------------------------------------------
// Slot access
// ---------------------------------------------------------------------------

// GetSlot returns the value at the given slot index.
// Panics if index is out of range: a request for a slot the object
// doesn't have is a programming error, not a runtime condition.
func (obj *Object) GetSlot(index int) Value {
	switch index {
	case 0:
		return obj.slot0
	case 1:
		return obj.slot1
	case 2:
		return obj.slot2
	case 3:
		return obj.slot3
	default:
		overflowIdx := index - NumInlineSlots
		if overflowIdx < 0 || overflowIdx >= len(obj.overflow) {
			panic("Object.GetSlot: index out of range")
		}
		return obj.overflow[overflowIdx]
	}
}

// SetSlot sets the value at the given slot index.
func (obj *Object) SetSlot(index int, value Value) {
	switch index {
	case 0:
		obj.slot0 = value
	case 1:
		obj.slot1 = value
	case 2:
		obj.slot2 = value
	case 3:
		obj.slot3 = value
	default:
		overflowIdx := index - NumInlineSlots
		if overflowIdx < 0 || overflowIdx >= len(obj.overflow) {
			panic("Object.SetSlot: index out of range")
		}
		obj.overflow[overflowIdx] = value
	}
}

// NumSlots returns the total number of slots in this object.
func (obj *Object) NumSlots() int {
	return NumInlineSlots + len(obj.overflow)
}

// ClassPtr returns the object's class.
func (obj *Object) ClassPtr() *Class {
	return obj.class
}

// SetClass sets the object's class (used during class-change operations).
func (obj *Object) SetClass(c *Class) {
	obj.class = c
}

// ---------------------------------------------------------------------------
// Value conversion helpers
// ---------------------------------------------------------------------------

// ToValue converts an Object pointer to a NaN-boxed Value.
func (obj *Object) ToValue() Value {
	return FromObjectPtr(unsafe.Pointer(obj))
}

// ObjectFromValue extracts an Object pointer from a NaN-boxed Value.
// Returns nil if the value is not an object.
func ObjectFromValue(v Value) *Object {
	if !v.IsObject() {
		return nil
	}
	return (*Object)(v.ObjectPtr())
}

// MustObjectFromValue extracts an Object pointer from a NaN-boxed Value.
// Panics if the value is not an object.
func MustObjectFromValue(v Value) *Object {
	if !v.IsObject() {
		panic("MustObjectFromValue: not an object")
	}
	return (*Object)(v.ObjectPtr())
}

// classDataOf returns the ClassData for a receiver Value, if it is an
// object with a class assigned. This is what specializedDispatch keys
// its cache lookup on.
func classDataOf(v Value) (ClassData, bool) {
	obj := ObjectFromValue(v)
	if obj == nil || obj.class == nil {
		return ClassData{}, false
	}
	return obj.class.ClassData(), true
}

// ---------------------------------------------------------------------------
// Slot iteration
// ---------------------------------------------------------------------------

// ForEachSlot calls fn for each slot in the object, the inline slots
// first and then the overflow slots.
func (obj *Object) ForEachSlot(fn func(index int, value Value)) {
	fn(0, obj.slot0)
	fn(1, obj.slot1)
	fn(2, obj.slot2)
	fn(3, obj.slot3)
	for i, v := range obj.overflow {
		fn(NumInlineSlots+i, v)
	}
}

// AllSlots returns all slot values as a slice.
// This allocates; use ForEachSlot for allocation-free iteration.
func (obj *Object) AllSlots() []Value {
	slots := make([]Value, obj.NumSlots())
	slots[0] = obj.slot0
	slots[1] = obj.slot1
	slots[2] = obj.slot2
	slots[3] = obj.slot3
	copy(slots[NumInlineSlots:], obj.overflow)
	return slots
}

// ---------------------------------------------------------------------------
// Debugging
// ---------------------------------------------------------------------------

// ClassName returns the name of the object's class, or "?" if unset.
func (obj *Object) ClassName() string {
	if obj.class == nil {
		return "?"
	}
	return obj.class.Name
}
