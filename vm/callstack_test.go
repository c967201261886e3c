package vm

import (
	"context"
	"testing"
)

func TestCallStackPushPopDepth(t *testing.T) {
	cs := NewCallStack()
	if cs.Depth() != 0 {
		t.Fatalf("fresh stack should be empty")
	}

	env, _ := newTestEnv()
	outer := NewCompiledCode(env, "outer", "f.mag", "X", nil, nil, nil, 0, 0, false, 1, "", nil)
	inner := NewCompiledCode(env, "inner", "f.mag", "X", nil, nil, nil, 0, 0, false, 1, "", nil)

	cs.Push(outer, FromSmallInt(1))
	cs.Push(inner, FromSmallInt(2))
	if cs.Depth() != 2 {
		t.Fatalf("depth = %d, want 2", cs.Depth())
	}

	top, ok := cs.GetFrame(context.Background(), 0)
	if !ok || top.Code != inner || top.Receiver != FromSmallInt(2) {
		t.Fatalf("depth-0 frame = %+v, want inner/2", top)
	}
	parent, ok := cs.GetFrame(context.Background(), 1)
	if !ok || parent.Code != outer {
		t.Fatalf("depth-1 frame = %+v, want outer", parent)
	}
	if _, ok := cs.GetFrame(context.Background(), 2); ok {
		t.Fatalf("depth 2 should not exist on a 2-frame stack")
	}

	cs.Pop()
	if cs.Depth() != 1 {
		t.Fatalf("depth after pop = %d, want 1", cs.Depth())
	}
	cs.Pop()
	if cs.Depth() != 0 {
		t.Fatalf("depth after popping everything = %d, want 0", cs.Depth())
	}
	cs.Pop() // popping an empty stack must not panic
}

func TestCallStackSetIP(t *testing.T) {
	cs := NewCallStack()
	env, _ := newTestEnv()
	code := NewCompiledCode(env, "m", "f.mag", "X", nil, nil, nil, 0, 0, false, 1, "", nil)
	cs.Push(code, Nil)
	cs.SetIP(12)

	frame, ok := cs.GetFrame(context.Background(), 0)
	if !ok || frame.IP != 12 {
		t.Fatalf("frame IP = %d, want 12", frame.IP)
	}
}
