package vm

import (
	"sync"
	"testing"
)

func symAt(t *testing.T, st *SymbolTable, name string) Symbol {
	t.Helper()
	return st.Intern(name)
}

func TestMethodTableStoreLookupRemove(t *testing.T) {
	st := NewSymbolTable()
	tbl := NewMethodTable(4)
	plus := symAt(t, st, "+")

	if _, ok := tbl.Lookup(plus); ok {
		t.Fatalf("expected no entry before store")
	}

	m1 := NewMethod1("+", func(vm interface{}, receiver, arg Value) Value { return receiver })
	if !tbl.Store(plus, uint64(plus), m1, "Integer", 1, VisibilityPublic) {
		t.Fatalf("store returned false")
	}

	b, ok := tbl.Lookup(plus)
	if !ok {
		t.Fatalf("expected entry after store")
	}
	if b.Visibility() != VisibilityPublic {
		t.Fatalf("visibility = %v, want public", b.Visibility())
	}

	m2 := NewMethod1("+", func(vm interface{}, receiver, arg Value) Value { return arg })
	if !tbl.Store(plus, uint64(plus), m2, "Integer", 2, VisibilityProtected) {
		t.Fatalf("overwrite store returned false")
	}
	b, ok = tbl.Lookup(plus)
	if !ok || b.Visibility() != VisibilityProtected || b.Serial() != 2 {
		t.Fatalf("overwrite did not take effect: %+v ok=%v", b, ok)
	}
	if !tbl.HasName(plus) {
		t.Fatalf("has_name false after store")
	}

	removed, ok := tbl.Remove(plus)
	if !ok || removed != m2 {
		t.Fatalf("remove did not return the stored method")
	}
	if tbl.HasName(plus) {
		t.Fatalf("has_name true after remove")
	}
	if _, ok := tbl.Remove(plus); ok {
		t.Fatalf("second remove should report false")
	}
}

func TestMethodTableResizesAtLoadFactorOne(t *testing.T) {
	st := NewSymbolTable()
	tbl := NewMethodTable(16)
	if got := tbl.Bins(); got != 16 {
		t.Fatalf("initial bins = %d, want 16", got)
	}

	for i := 0; i < 15; i++ {
		sym := symAt(t, st, "pre"+string(rune('a'+i)))
		tbl.Store(sym, uint64(sym), NewMethod0("pre", func(vm interface{}, receiver Value) Value { return receiver }), "X", uint64(i), VisibilityPublic)
	}
	if got := tbl.Bins(); got != 16 {
		t.Fatalf("bins after 15 stores = %d, want 16 (no resize yet)", got)
	}
	tbl = NewMethodTable(16)

	for i := 0; i < 16; i++ {
		sym := symAt(t, st, "sel"+string(rune('a'+i)))
		tbl.Store(sym, uint64(sym), NewMethod0("sel", func(vm interface{}, receiver Value) Value { return receiver }), "X", uint64(i), VisibilityPublic)
	}

	if got := tbl.Bins(); got != 32 {
		t.Fatalf("bins after 16 stores = %d, want 32 (one resize)", got)
	}
	if got := tbl.Len(); got != 16 {
		t.Fatalf("len = %d, want 16", got)
	}

	for i := 0; i < 16; i++ {
		sym, ok := st.Lookup("sel" + string(rune('a'+i)))
		if !ok {
			t.Fatalf("symbol sel%c missing from symbol table", 'a'+i)
		}
		if !tbl.HasName(sym) {
			t.Fatalf("entry for sel%c lost across resize", 'a'+i)
		}
	}
}

func TestMethodTableDuplicateIsIndependent(t *testing.T) {
	st := NewSymbolTable()
	tbl := NewMethodTable(4)
	foo := symAt(t, st, "foo")
	tbl.Store(foo, uint64(foo), NewMethod0("foo", func(vm interface{}, receiver Value) Value { return receiver }), "X", 1, VisibilityPublic)

	dup := tbl.Duplicate()
	if !dup.HasName(foo) {
		t.Fatalf("duplicate missing entry present in original")
	}

	dup.Remove(foo)
	if dup.HasName(foo) {
		t.Fatalf("duplicate still has entry after its own remove")
	}
	if !tbl.HasName(foo) {
		t.Fatalf("removing from duplicate affected the original")
	}

	bar := symAt(t, st, "bar")
	tbl.Store(bar, uint64(bar), NewMethod0("bar", func(vm interface{}, receiver Value) Value { return receiver }), "X", 2, VisibilityPublic)
	if dup.HasName(bar) {
		t.Fatalf("storing into the original affected the duplicate")
	}
}

func TestMethodTableAlias(t *testing.T) {
	classes := NewClassTable()
	st := NewSymbolTable()

	base := NewClass("Base", nil)
	classes.Register(base)
	original := symAt(t, st, "greet")
	base.AddMethod(st, "greet", NewMethod0("greet", func(vm interface{}, receiver Value) Value { return receiver }))

	resolver := NewInheritanceResolver(classes)
	newName := symAt(t, st, "hello")
	if !base.Methods.Alias(newName, VisibilityPublic, original, "Base", resolver) {
		t.Fatalf("alias failed to resolve an existing selector")
	}
	if !base.Methods.HasName(newName) {
		t.Fatalf("alias did not install the new name")
	}

	missing := symAt(t, st, "nope")
	if base.Methods.Alias(symAt(t, st, "also-nope"), VisibilityPublic, missing, "Base", resolver) {
		t.Fatalf("alias succeeded for an unresolvable selector")
	}
}

func TestMethodTableConcurrentStoreAndLookup(t *testing.T) {
	st := NewSymbolTable()
	tbl := NewMethodTable(4)
	const n = 200

	syms := make([]Symbol, n)
	for i := 0; i < n; i++ {
		syms[i] = symAt(t, st, "m"+string(rune('A'+i%26))+string(rune('0'+i/26)))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tbl.Store(syms[i], uint64(syms[i]), NewMethod0("m", func(vm interface{}, receiver Value) Value { return receiver }), "X", uint64(i), VisibilityPublic)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if !tbl.HasName(syms[i]) {
			t.Fatalf("entry %d missing after concurrent stores", i)
		}
	}
	if got := tbl.Len(); got != uint32(n) {
		t.Fatalf("len = %d, want %d", got, n)
	}
}
