package vm

import "testing"

func TestValueSmallIntRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, -1, MaxSmallInt, MinSmallInt} {
		v := FromSmallInt(n)
		if !v.IsSmallInt() {
			t.Fatalf("FromSmallInt(%d) did not produce a small int Value", n)
		}
		if got := v.SmallInt(); got != n {
			t.Errorf("SmallInt() = %d, want %d", got, n)
		}
	}
	if _, ok := TryFromSmallInt(MaxSmallInt + 1); ok {
		t.Fatalf("TryFromSmallInt should reject values outside the 48-bit range")
	}
}

func TestValueFloatRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 1.5, -3.25, 1e300} {
		v := FromFloat64(f)
		if !v.IsFloat() {
			t.Fatalf("FromFloat64(%v) did not produce a float Value", f)
		}
		if got := v.Float64(); got != f {
			t.Errorf("Float64() = %v, want %v", got, f)
		}
	}
}

func TestValueSpecials(t *testing.T) {
	if !Nil.IsNil() || !True.IsTrue() || !False.IsFalse() {
		t.Fatalf("special value predicates disagree with the constants themselves")
	}
	if Nil.IsTruthy() || False.IsTruthy() {
		t.Fatalf("nil and false must be falsy")
	}
	if !True.IsTruthy() || !FromSmallInt(0).IsTruthy() {
		t.Fatalf("everything except nil and false must be truthy, including 0")
	}
}

func TestValueSymbolRoundTrip(t *testing.T) {
	v := FromSymbolID(42)
	if !v.IsSymbol() {
		t.Fatalf("FromSymbolID did not produce a symbol Value")
	}
	if got := v.SymbolID(); got != 42 {
		t.Fatalf("SymbolID() = %d, want 42", got)
	}
}

func TestValueCellMutation(t *testing.T) {
	v := NewCell(FromSmallInt(1))
	if !v.IsCell() {
		t.Fatalf("NewCell did not produce a cell Value")
	}
	if got := v.CellGet(); got != FromSmallInt(1) {
		t.Fatalf("CellGet() = %v, want 1", got)
	}
	v.CellSet(FromSmallInt(2))
	if got := v.CellGet(); got != FromSmallInt(2) {
		t.Fatalf("CellGet() after CellSet = %v, want 2", got)
	}
}

func TestValueTypePredicatesAreMutuallyExclusive(t *testing.T) {
	values := []Value{FromSmallInt(1), FromFloat64(1.5), Nil, True, False, FromSymbolID(1), FromBlockID(1)}
	for _, v := range values {
		count := 0
		for _, is := range []bool{v.IsSmallInt(), v.IsFloat(), v.IsSpecial(), v.IsSymbol(), v.IsBlock(), v.IsCell(), v.IsObject()} {
			if is {
				count++
			}
		}
		if count != 1 {
			t.Errorf("value %x matched %d type predicates, want exactly 1", uint64(v), count)
		}
	}
}
