package vm

import "testing"

func TestMarkCompiledCodeRelocatesLiteralObjects(t *testing.T) {
	env, _ := newTestEnv()
	liveClass := &Class{Name: "Live"}
	original := NewObject(liveClass, 0)
	relocated := NewObject(liveClass, 0)

	code := NewCompiledCode(env, "m", "f.mag", "X", []byte{byte(OpReturnSelf)}, []Value{original.ToValue(), FromSmallInt(5)}, nil, 0, 0, false, 1, "", nil)
	if _, err := code.internalize(); err != nil {
		t.Fatalf("internalize: %v", err)
	}

	var wbCalls int
	mark := func(ref interface{}) interface{} {
		if ref == (interface{})(original) {
			return relocated
		}
		return ref
	}
	wb := func(container interface{}, newRef interface{}) { wbCalls++ }

	MarkCompiledCode(code, mark, wb)

	if ObjectFromValue(code.Literals[0]) != relocated {
		t.Fatalf("literal 0 was not rewritten to the relocated object")
	}
	if code.Literals[1] != FromSmallInt(5) {
		t.Fatalf("non-object literal should be left untouched")
	}
	if wbCalls != 1 {
		t.Fatalf("write barrier called %d times, want 1", wbCalls)
	}
}

func TestMarkCompiledCodeVisitsJITDataAndSpecializations(t *testing.T) {
	env, _ := newTestEnv()
	code := NewCompiledCode(env, "m", "f.mag", "X", []byte{byte(OpReturnSelf)}, nil, nil, 0, 0, false, 1, "", nil)
	mc, err := code.internalize()
	if err != nil {
		t.Fatalf("internalize: %v", err)
	}
	mc.JITData = "mc-data"
	code.AddSpecialized(ClassData{ClassID: 1, Serial: 1}, echoExecutor, "spec-data")

	seen := map[string]bool{}
	mark := func(ref interface{}) interface{} {
		if s, ok := ref.(string); ok {
			seen[s] = true
		}
		return ref
	}
	MarkCompiledCode(code, mark, func(interface{}, interface{}) {})

	if !seen["mc-data"] || !seen["spec-data"] {
		t.Fatalf("mark visited %v, want both mc-data and spec-data", seen)
	}
}

func TestMarkEmbeddedReferencesRewritesBytecodeInPlace(t *testing.T) {
	env, _ := newTestEnv()
	bytecode := make([]byte, 16)
	liveClass := &Class{Name: "Embedded"}
	original := NewObject(liveClass, 0)
	relocated := NewObject(liveClass, 0)
	encodeEmbeddedValue(bytecode[4:12], original.ToValue())

	code := NewCompiledCode(env, "m", "f.mag", "X", bytecode, nil, nil, 0, 0, false, 1, "", nil)
	env.Builder = &stubBuilder{fallback: echoExecutor}
	mc, err := code.internalize()
	if err != nil {
		t.Fatalf("internalize: %v", err)
	}
	mc.References = []int{4}

	mark := func(ref interface{}) interface{} {
		if ref == (interface{})(original) {
			return relocated
		}
		return ref
	}
	MarkCompiledCode(code, mark, func(interface{}, interface{}) {})

	got := decodeEmbeddedValue(code.Bytecode[4:12])
	if ObjectFromValue(got) != relocated {
		t.Fatalf("embedded reference was not rewritten in place")
	}
}
