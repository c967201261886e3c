package vm

import "context"

// Executor is the callable form a CompiledCode dispatches through.
// Every one of the three built-in executors (default, specialized,
// primitive-failed) has this shape, as does any primitive or compiled
// artifact a MachineCode's fallback points at.
type Executor func(code *CompiledCode, receiver Value, args []Value) (Value, error)

// MachineCode is the internal, internalized form of a CompiledCode's
// bytecode: built once by a MachineCodeBuilder and published via
// CompiledCode.internalize. It never changes identity after that first
// publication except through an explicit duplicate.
type MachineCode struct {
	// Fallback is the executor internalize installs as the code's
	// executor, and the one specializedDispatch uses on a cache miss when
	// no unspecialized executor is set. During internalize it is set to a
	// resolved primitive's executor if resolve_primitive succeeded,
	// otherwise it keeps whatever the MachineCodeBuilder put there, and
	// if that is nil it becomes noInterpreterFallback.
	Fallback Executor

	// Debugging is true once at least one breakpoint is set; it selects
	// the debugging interpreter variant over the normal one.
	Debugging bool

	// References lists byte offsets within Code's bytecode where a
	// tagged object reference is embedded directly in the opcode
	// stream (e.g. an inlined literal). The GC mark callback visits
	// each of these during a stop-the-world pass.
	References []int

	// JITData is opaque data a JIT backend may attach; the GC mark
	// callback marks it without interpreting it.
	JITData interface{}

	// JITEligible is set once at least one specialization has been
	// registered; it's informational only in this core (no compiler
	// backend consumes it here) but mirrors the state a real JIT
	// would gate on.
	JITEligible bool

	// Interpreter is the embedder-supplied call-stack accessor that
	// primitiveFailed consults on a specialization-cache miss. Only its
	// current frame is read; no bytecode is interpreted through it.
	Interpreter CallStackAccessor
}

// defaultDispatch is the executor every CompiledCode starts with (and
// is reset to by duplicate). It internalizes the code on first call,
// then hands off to whatever executor internalize installed.
func defaultDispatch(code *CompiledCode, receiver Value, args []Value) (Value, error) {
	if _, err := code.internalize(); err != nil {
		return Nil, err
	}
	ex := code.loadExecutor()
	return ex(code, receiver, args)
}

// specializedDispatch is installed once a specialization is registered
// and no primitive was resolved. It looks the receiver's class up in
// the specialization cache; on a hit it calls the cached executor, on a
// miss it falls through to the unspecialized executor if one was set,
// and otherwise to the machine code's fallback.
func specializedDispatch(code *CompiledCode, receiver Value, args []Value) (Value, error) {
	mc := code.machineCode.Load()
	if mc == nil {
		return Nil, faultf(FaultInternal, "specializedDispatch: code not internalized")
	}

	if cd, ok := classDataOf(receiver); ok {
		if ex, jitData, ok := code.specializations.find(cd); ok {
			_ = jitData
			return ex(code, receiver, args)
		}
	}

	if unspec := code.loadUnspecialized(); unspec != nil {
		return unspec(code, receiver, args)
	}

	if mc.Fallback == nil {
		return Nil, faultf(FaultInternal, "specializedDispatch: no fallback available")
	}
	return mc.Fallback(code, receiver, args)
}

// primitiveFailed is what a resolved primitive's executor falls back to
// when it declines a particular receiver (e.g. wrong argument shape).
// It repeats the specialization-cache lookup and calls the cached
// executor on a hit. On a miss it does not recurse back into the
// primitive that declined, and it does not run the bytecode either:
// there is no interpreter in this core, so a miss always returns a
// fault (FaultAbsent when Interpreter has no active frame, FaultInternal
// otherwise).
func primitiveFailed(code *CompiledCode, receiver Value, args []Value) (Value, error) {
	mc := code.machineCode.Load()
	if mc == nil {
		return Nil, faultf(FaultInternal, "primitiveFailed: code not internalized")
	}

	if cd, ok := classDataOf(receiver); ok {
		if ex, _, ok := code.specializations.find(cd); ok {
			return ex(code, receiver, args)
		}
	}

	if mc.Interpreter == nil {
		return Nil, faultf(FaultInternal, "primitiveFailed: no interpreter entry available")
	}
	frame, ok := mc.Interpreter.GetFrame(context.Background(), 0)
	if !ok {
		return Nil, faultf(FaultAbsent, "primitiveFailed: no active frame to interpret against")
	}
	return Nil, faultf(FaultInternal, "primitiveFailed: interpretation of "+frame.Code.Name+" is outside this core's scope")
}
