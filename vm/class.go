package vm

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Class: instance-variable layout and method tables
// ---------------------------------------------------------------------------
//
// Note: the Class struct is forward-declared in object.go. This file
// holds the full implementation.

var bucketSerial atomic.Uint64

func nextBucketSerial() uint64 { return bucketSerial.Add(1) }

var classIDCounter atomic.Uint32

// InstVarIndex returns the slot index for an instance variable by name,
// or -1 if not found.
func (c *Class) InstVarIndex(name string) int {
	for i, n := range c.InstVars {
		if n == name {
			return c.instVarOffset() + i
		}
	}
	if c.Superclass != nil {
		return c.Superclass.InstVarIndex(name)
	}
	return -1
}

// instVarOffset returns the starting slot index for this class's
// instance variables, accounting for inherited ones.
func (c *Class) instVarOffset() int {
	if c.Superclass == nil {
		return 0
	}
	return c.Superclass.NumSlots
}

// AllInstVarNames returns all instance variable names, including
// inherited ones, in superclass-to-subclass order.
func (c *Class) AllInstVarNames() []string {
	if c.Superclass == nil {
		return c.InstVars
	}
	inherited := c.Superclass.AllInstVarNames()
	result := make([]string, len(inherited)+len(c.InstVars))
	copy(result, inherited)
	copy(result[len(inherited):], c.InstVars)
	return result
}

// IsSubclassOf returns true if c is other or a descendant of other.
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.Superclass {
		if current == other {
			return true
		}
	}
	return false
}

// IsSuperclassOf returns true if c is other or an ancestor of other.
func (c *Class) IsSuperclassOf(other *Class) bool {
	return other.IsSubclassOf(c)
}

// BumpSerial increments the class's shape serial. Call this whenever
// the instance-variable layout changes (adding/removing an ivar);
// existing specializations keyed on the old serial stop matching, which
// is exactly what should happen since their cached executors assumed
// the old slot layout.
func (c *Class) BumpSerial() uint32 {
	return atomic.AddUint32(&c.Serial, 1)
}

// ---------------------------------------------------------------------------
// Class variables
// ---------------------------------------------------------------------------

var classVarStorage = make(map[*Class]map[string]Value)
var classVarMu sync.RWMutex

// HasClassVar reports whether c or a superclass declares name.
func (c *Class) HasClassVar(name string) bool {
	return c.findClassVarOwner(name) != nil
}

func (c *Class) findClassVarOwner(name string) *Class {
	for current := c; current != nil; current = current.Superclass {
		for _, cv := range current.ClassVars {
			if cv == name {
				return current
			}
		}
	}
	return nil
}

// GetClassVar returns the value of a class variable, walking up the
// hierarchy to find the declaring class.
func (c *Class) GetClassVar(name string) Value {
	owner := c.findClassVarOwner(name)
	if owner == nil {
		return Nil
	}

	classVarMu.RLock()
	defer classVarMu.RUnlock()
	if values, ok := classVarStorage[owner]; ok {
		if val, ok := values[name]; ok {
			return val
		}
	}
	return Nil
}

// SetClassVar sets a class variable's value, walking up the hierarchy
// to find the declaring class. If undeclared anywhere, stores it on c.
func (c *Class) SetClassVar(name string, value Value) {
	owner := c.findClassVarOwner(name)
	if owner == nil {
		owner = c
	}

	classVarMu.Lock()
	defer classVarMu.Unlock()
	if classVarStorage[owner] == nil {
		classVarStorage[owner] = make(map[string]Value)
	}
	classVarStorage[owner][name] = value
}

// AllClassVarNames returns all class variable names, including
// inherited ones (shadowed names appear once, at their declaring
// level).
func (c *Class) AllClassVarNames() []string {
	if c.Superclass == nil {
		return c.ClassVars
	}
	inherited := c.Superclass.AllClassVarNames()
	seen := make(map[string]bool, len(inherited))
	for _, name := range inherited {
		seen[name] = true
	}
	result := make([]string, len(inherited))
	copy(result, inherited)
	for _, name := range c.ClassVars {
		if !seen[name] {
			result = append(result, name)
		}
	}
	return result
}

// ---------------------------------------------------------------------------
// Instance creation
// ---------------------------------------------------------------------------

// NewInstance creates a new instance of this class with all slots nil.
func (c *Class) NewInstance() *Object {
	return NewObject(c, c.NumSlots)
}

// NewInstanceWithSlots creates a new instance with initial slot values.
func (c *Class) NewInstanceWithSlots(slots []Value) *Object {
	return NewObjectWithSlots(c, slots)
}

// ---------------------------------------------------------------------------
// Method registration and lookup
// ---------------------------------------------------------------------------

// AddMethod registers an instance-side method under name, public by
// default. The name is interned in symbols if not already.
func (c *Class) AddMethod(symbols *SymbolTable, name string, method Method) {
	c.AddMethodVisibility(symbols, name, method, VisibilityPublic)
}

// AddMethodVisibility registers an instance-side method with an
// explicit visibility.
func (c *Class) AddMethodVisibility(symbols *SymbolTable, name string, method Method, vis Visibility) {
	sym := symbols.Intern(name)
	c.Methods.Store(sym, uint64(sym), method, c.FullName(), nextBucketSerial(), vis)
}

// AddMethod0 registers a zero-argument primitive method.
func (c *Class) AddMethod0(symbols *SymbolTable, name string, fn Method0Func) {
	c.AddMethod(symbols, name, NewMethod0(name, fn))
}

// AddMethod1 registers a one-argument primitive method.
func (c *Class) AddMethod1(symbols *SymbolTable, name string, fn Method1Func) {
	c.AddMethod(symbols, name, NewMethod1(name, fn))
}

// AddMethod2 registers a two-argument primitive method.
func (c *Class) AddMethod2(symbols *SymbolTable, name string, fn Method2Func) {
	c.AddMethod(symbols, name, NewMethod2(name, fn))
}

// AddMethod3 registers a three-argument primitive method.
func (c *Class) AddMethod3(symbols *SymbolTable, name string, fn Method3Func) {
	c.AddMethod(symbols, name, NewMethod3(name, fn))
}

// AddMethod4 registers a four-argument primitive method.
func (c *Class) AddMethod4(symbols *SymbolTable, name string, fn Method4Func) {
	c.AddMethod(symbols, name, NewMethod4(name, fn))
}

// AddMethod8 registers an eight-argument primitive method.
func (c *Class) AddMethod8(symbols *SymbolTable, name string, fn Method8Func) {
	c.AddMethod(symbols, name, NewMethod8(name, fn))
}

// AddPrimitiveMethod registers a variable-arity primitive method.
func (c *Class) AddPrimitiveMethod(symbols *SymbolTable, name string, fn PrimitiveFunc) {
	c.AddMethod(symbols, name, NewPrimitiveMethod(name, fn))
}

// LookupMethod resolves name by walking c and its superclasses, stopping
// at the first class whose own method table has a bucket for it.
func (c *Class) LookupMethod(symbols *SymbolTable, name string) Method {
	sym, ok := symbols.Lookup(name)
	if !ok {
		return nil
	}
	for current := c; current != nil; current = current.Superclass {
		if b, ok := current.Methods.Lookup(sym); ok {
			return b.Method()
		}
	}
	return nil
}

// HasMethod reports whether c itself (not a superclass) defines name.
func (c *Class) HasMethod(symbols *SymbolTable, name string) bool {
	sym, ok := symbols.Lookup(name)
	if !ok {
		return false
	}
	return c.Methods.HasName(sym)
}

// ---------------------------------------------------------------------------
// Class-side (metaclass) method registration
// ---------------------------------------------------------------------------

// AddClassMethod registers a class-side method.
func (c *Class) AddClassMethod(symbols *SymbolTable, name string, method Method) {
	sym := symbols.Intern(name)
	c.ClassMethods.Store(sym, uint64(sym), method, c.FullName(), nextBucketSerial(), VisibilityPublic)
}

// AddClassMethod0 registers a zero-argument class-side method.
func (c *Class) AddClassMethod0(symbols *SymbolTable, name string, fn Method0Func) {
	c.AddClassMethod(symbols, name, NewMethod0(name, fn))
}

// AddClassMethod1 registers a one-argument class-side method.
func (c *Class) AddClassMethod1(symbols *SymbolTable, name string, fn Method1Func) {
	c.AddClassMethod(symbols, name, NewMethod1(name, fn))
}

// AddClassMethod2 registers a two-argument class-side method.
func (c *Class) AddClassMethod2(symbols *SymbolTable, name string, fn Method2Func) {
	c.AddClassMethod(symbols, name, NewMethod2(name, fn))
}

// LookupClassMethod resolves a class-side selector by walking the
// class-method chain (the metaclass hierarchy mirrors the instance
// hierarchy).
func (c *Class) LookupClassMethod(symbols *SymbolTable, name string) Method {
	sym, ok := symbols.Lookup(name)
	if !ok {
		return nil
	}
	for current := c; current != nil; current = current.Superclass {
		if b, ok := current.ClassMethods.Lookup(sym); ok {
			return b.Method()
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// ClassTable: global class registry
// ---------------------------------------------------------------------------

// ClassTable is a thread-safe registry of classes by name, responsible
// for assigning each class its ClassID on first registration.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewClassTable creates a new empty class table.
func NewClassTable() *ClassTable {
	return &ClassTable{classes: make(map[string]*Class)}
}

// Register adds a class to the table, assigning it a ClassID if it
// doesn't already have one. Returns the previous class registered under
// this name, if any.
func (ct *ClassTable) Register(c *Class) *Class {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if c.ClassID == 0 {
		c.ClassID = classIDCounter.Add(1)
	}

	key := ct.classKey(c)
	old := ct.classes[key]
	ct.classes[key] = c
	return old
}

// Lookup finds a class by unqualified or already-qualified name.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// LookupInNamespace finds a class by name within a namespace.
func (ct *ClassTable) LookupInNamespace(namespace, name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	key := name
	if namespace != "" {
		key = namespace + "::" + name
	}
	return ct.classes[key]
}

// Has reports whether a class is registered under name.
func (ct *ClassTable) Has(name string) bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	_, ok := ct.classes[name]
	return ok
}

// All returns every registered class.
func (ct *ClassTable) All() []*Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	result := make([]*Class, 0, len(ct.classes))
	for _, c := range ct.classes {
		result = append(result, c)
	}
	return result
}

// Len returns the number of registered classes.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.classes)
}

func (ct *ClassTable) classKey(c *Class) string {
	if c.Namespace == "" {
		return c.Name
	}
	return c.Namespace + "::" + c.Name
}

// ---------------------------------------------------------------------------
// Class creation
// ---------------------------------------------------------------------------

// NewClass creates a class with the given name and superclass. Its
// instance- and class-side method tables are created fresh (this core's
// MethodTable doesn't chain parent lookups internally the way the
// teacher's VTable did -- LookupMethod walks Superclass explicitly
// instead, so a class's own table only ever holds what it directly
// defines or aliases).
func NewClass(name string, superclass *Class) *Class {
	var numSlots int
	if superclass != nil {
		numSlots = superclass.NumSlots
	}
	return &Class{
		Name:         name,
		Superclass:   superclass,
		NumSlots:     numSlots,
		Methods:      NewMethodTable(minBins),
		ClassMethods: NewMethodTable(minBins),
	}
}

// NewClassWithInstVars creates a class with the given instance
// variables appended after any inherited ones.
func NewClassWithInstVars(name string, superclass *Class, instVars []string) *Class {
	c := NewClass(name, superclass)
	c.InstVars = instVars
	c.NumSlots += len(instVars)
	return c
}

// NewClassInNamespace creates a class within a namespace.
func NewClassInNamespace(namespace, name string, superclass *Class) *Class {
	c := NewClass(name, superclass)
	c.Namespace = namespace
	return c
}

// ---------------------------------------------------------------------------
// Naming and hierarchy
// ---------------------------------------------------------------------------

// FullName returns the fully qualified class name.
func (c *Class) FullName() string {
	if c.Namespace == "" {
		return c.Name
	}
	return c.Namespace + "::" + c.Name
}

// String implements the Stringer interface.
func (c *Class) String() string {
	return c.FullName()
}

// Superclasses returns every ancestor, nearest first.
func (c *Class) Superclasses() []*Class {
	var result []*Class
	for current := c.Superclass; current != nil; current = current.Superclass {
		result = append(result, current)
	}
	return result
}

// Depth returns the inheritance depth (0 for a root class).
func (c *Class) Depth() int {
	depth := 0
	for current := c.Superclass; current != nil; current = current.Superclass {
		depth++
	}
	return depth
}
