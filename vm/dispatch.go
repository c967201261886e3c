// Package vm implements a concurrent method-dispatch table and the
// code-object representation methods are compiled into: symbol-keyed
// MethodTable lookup, lazily-internalized CompiledCode with a
// specialization cache, and the GC interop needed to keep a code
// object's embedded references valid across a collection.
package vm

import "context"

// Visibility records who is allowed to send a selector.
type Visibility uint8

const (
	VisibilityPublic Visibility = iota
	VisibilityPrivate
	VisibilityProtected
	VisibilityUndef
)

func (v Visibility) String() string {
	switch v {
	case VisibilityPublic:
		return "public"
	case VisibilityPrivate:
		return "private"
	case VisibilityProtected:
		return "protected"
	default:
		return "undef"
	}
}

// ClassData is the (class_id, class_serial) pair a specialization is
// keyed on. A zero ClassID marks an empty specialization-cache slot.
type ClassData struct {
	ClassID uint32
	Serial  uint32
}

func (cd ClassData) empty() bool { return cd.ClassID == 0 }

// FaultKind distinguishes the three kinds of failure this core reports:
// a failed validation, a plain absence (not an error), and a violated
// internal invariant.
type FaultKind int

const (
	// FaultValidation means bytecode verification or a similar check
	// failed. No state was mutated.
	FaultValidation FaultKind = iota
	// FaultAbsent means the requested thing (name, ip, frame) does not
	// exist. This is a normal outcome, not an error condition.
	FaultAbsent
	// FaultInternal means an internal invariant was violated by the
	// caller (e.g. specialization requested before internalization).
	FaultInternal
)

// Fault is the error type every operation that can fail returns.
type Fault struct {
	Kind    FaultKind
	Message string
}

func (f *Fault) Error() string { return f.Message }

func faultf(kind FaultKind, msg string) *Fault {
	return &Fault{Kind: kind, Message: msg}
}

// Verifier validates a CompiledCode's bytecode before it is ever
// interpreted or compiled to machine code. Invoked at most once per
// code object, during internalize.
type Verifier interface {
	Verify(code *CompiledCode) error
}

// MachineCodeBuilder constructs the internal MachineCode form of a
// CompiledCode once its bytecode has been verified.
type MachineCodeBuilder interface {
	Build(code *CompiledCode) (*MachineCode, error)
}

// PrimitiveResolver binds a CompiledCode whose Primitive field names an
// installable fast path to an Executor, and reports whether resolution
// succeeded. On success the returned Executor becomes the machine code's
// fallback.
type PrimitiveResolver interface {
	ResolvePrimitive(code *CompiledCode) (Executor, bool)
}

// ModuleResolver walks a module or class's method-table chain along the
// inheritance hierarchy, used by MethodTable.Alias to resolve the
// original name it is aliasing.
type ModuleResolver interface {
	Resolve(module string, name Symbol) (*Bucket, bool)
}

// Frame is a single call-stack entry, as much of it as of_sender/current
// need to look at.
type Frame struct {
	Code     *CompiledCode
	Receiver Value
	IP       int
}

// CallStackAccessor exposes the interpreter's call stack by depth, depth
// 0 being the currently executing frame. Backs of_sender/current.
type CallStackAccessor interface {
	GetFrame(ctx context.Context, depth int) (Frame, bool)
}

// MarkFunc is the garbage collector's mark callback: present a reference
// for marking, get back its possibly-relocated replacement, or nil if
// the reference was already dead. GC mark callbacks only run during
// stop-the-world marking.
type MarkFunc func(ref interface{}) interface{}

// WriteBarrier is called after a live reference is written into a
// location the collector wasn't already tracking (e.g. a rewritten
// opcode operand), so the collector can keep its write-barrier
// bookkeeping consistent.
type WriteBarrier func(container interface{}, newRef interface{})
