package vm

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// Environment holds the process-wide, read-only collaborators every
// CompiledCode consults: a bytecode verifier, a machine-code builder, a
// primitive resolver, and a call-stack accessor. An embedder supplies
// concrete instances; this package provides no verifier or builder, but
// does offer CallStack (callstack.go) as a call-stack accessor and the
// gRPC-backed resolver in primitiveresolver.go.
type Environment struct {
	Verifier   Verifier
	Builder    MachineCodeBuilder
	Primitives PrimitiveResolver
	CallStack  CallStackAccessor
}

// CompiledCode is a compiled method or block body: its bytecode and
// metadata, plus everything needed to dispatch calls against it once a
// concrete receiver class is known.
type CompiledCode struct {
	// hard lock: serializes internalize and breakpoint administration.
	// Lookups and ordinary calls never take it.
	mu sync.Mutex

	env *Environment

	Bytecode     []byte
	Literals     []Value
	Name         string
	File         string
	Scope        string
	LocalCount   int
	LocalNames   []string
	RequiredArgs int
	TotalArgs    int
	Splat        bool
	StackSize    int
	Primitive    string

	// Lines is an alternating [ip, line, ip, line, ...] encoding, sorted
	// by ip. A nil/empty Lines means no line information is available.
	Lines []int

	machineCode   atomic.Pointer[MachineCode]
	executor      atomic.Pointer[Executor]
	unspecialized atomic.Pointer[Executor]

	specializations specializationCache

	breakpoints map[int]interface{} // guarded by mu
}

// NewCompiledCode creates a CompiledCode in its initial state: no
// machine code, executor defaulted to defaultDispatch.
func NewCompiledCode(env *Environment, name, file, scope string, bytecode []byte, literals []Value, localNames []string, requiredArgs, totalArgs int, splat bool, stackSize int, primitive string, lines []int) *CompiledCode {
	c := &CompiledCode{
		env:          env,
		Name:         name,
		File:         file,
		Scope:        scope,
		Bytecode:     bytecode,
		Literals:     literals,
		LocalNames:   localNames,
		LocalCount:   len(localNames),
		RequiredArgs: requiredArgs,
		TotalArgs:    totalArgs,
		Splat:        splat,
		StackSize:    stackSize,
		Primitive:    primitive,
		Lines:        lines,
	}
	c.storeExecutor(defaultDispatch)
	return c
}

func (c *CompiledCode) storeExecutor(ex Executor) { c.executor.Store(&ex) }

func (c *CompiledCode) loadExecutor() Executor {
	if p := c.executor.Load(); p != nil {
		return *p
	}
	return defaultDispatch
}

func (c *CompiledCode) loadUnspecialized() Executor {
	if p := c.unspecialized.Load(); p != nil {
		return *p
	}
	return nil
}

// Duplicate returns an independent copy: same metadata, but with
// machine_code absent and executor reset to defaultDispatch, so the new
// copy re-internalizes (and re-resolves primitives) on its own terms.
func (c *CompiledCode) Duplicate() *CompiledCode {
	c.mu.Lock()
	defer c.mu.Unlock()

	dup := &CompiledCode{
		env:          c.env,
		Name:         c.Name,
		File:         c.File,
		Scope:        c.Scope,
		Bytecode:     append([]byte(nil), c.Bytecode...),
		Literals:     append([]Value(nil), c.Literals...),
		LocalNames:   append([]string(nil), c.LocalNames...),
		LocalCount:   c.LocalCount,
		RequiredArgs: c.RequiredArgs,
		TotalArgs:    c.TotalArgs,
		Splat:        c.Splat,
		StackSize:    c.StackSize,
		Primitive:    c.Primitive,
		Lines:        append([]int(nil), c.Lines...),
	}
	dup.storeExecutor(defaultDispatch)
	return dup
}

// internalize is the one-time, thread-safe transition from "just
// bytecode" to "has machine code": acquire-load the published machine
// code and return it if present, otherwise take the hard lock, re-check
// (a concurrent internalizer may have already won), verify, build,
// resolve a primitive if the code names one, publish with a
// release-store, and point the executor at whatever the build decided.
func (c *CompiledCode) internalize() (*MachineCode, error) {
	if mc := c.machineCode.Load(); mc != nil {
		return mc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if mc := c.machineCode.Load(); mc != nil {
		return mc, nil
	}

	if c.env == nil || c.env.Verifier == nil || c.env.Builder == nil {
		return nil, faultf(FaultInternal, "compiledcode: "+c.Name+" has no verifier/builder configured")
	}

	if err := c.env.Verifier.Verify(c); err != nil {
		return nil, faultf(FaultValidation, "compiledcode: "+c.Name+" failed verification: "+err.Error())
	}

	mc, err := c.env.Builder.Build(c)
	if err != nil {
		return nil, faultf(FaultValidation, "compiledcode: "+c.Name+" failed to build machine code: "+err.Error())
	}

	if c.Primitive != "" && c.env.Primitives != nil {
		if ex, ok := c.env.Primitives.ResolvePrimitive(c); ok {
			mc.Fallback = ex
		}
	}
	if mc.Fallback == nil {
		mc.Fallback = noInterpreterFallback
	}

	c.machineCode.Store(mc)
	c.storeExecutor(mc.Fallback)
	return mc, nil
}

// noInterpreterFallback is what a CompiledCode falls back to when
// neither a primitive resolved nor the builder installed anything:
// there is no bytecode interpreter in this core (spec.md §1 places it
// out of scope), so calling one surfaces as an absence, not a crash.
func noInterpreterFallback(code *CompiledCode, receiver Value, args []Value) (Value, error) {
	return Nil, faultf(FaultAbsent, "compiledcode: "+code.Name+" has no installed executor (interpreter is outside this core)")
}

// Call invokes the code against receiver with args, going through
// whichever executor is currently installed.
func (c *CompiledCode) Call(receiver Value, args []Value) (Value, error) {
	return c.loadExecutor()(c, receiver, args)
}

// Invoke satisfies the Method interface so a CompiledCode can sit in a
// MethodTable bucket exactly like a Go-native primitive.
func (c *CompiledCode) Invoke(vm interface{}, receiver Value, args []Value) Value {
	v, _ := c.Call(receiver, args)
	return v
}

// MachineCode returns the code's internalized form, or nil if
// internalize has never run (or hasn't won the race yet).
func (c *CompiledCode) MachineCode() *MachineCode {
	return c.machineCode.Load()
}

// StartLine returns the method's starting source line, or -1 if no
// line information was recorded.
func (c *CompiledCode) StartLine() int {
	if len(c.Lines) < 2 {
		return -1
	}
	return c.Lines[1]
}

// Line maps a bytecode offset to the source line it originated from by
// scanning the alternating [ip, line] pairs for the entry whose range
// contains ip, falling back to the last recorded line if ip is past the
// final entry's range. Returns -3 if no line information exists at all.
func (c *CompiledCode) Line(ip int) int {
	n := len(c.Lines)
	if n == 0 {
		return -3
	}
	for i := 0; i < n; i += 2 {
		startIP, line := c.Lines[i], c.Lines[i+1]
		if i+2 < n {
			if startIP <= ip && ip < c.Lines[i+2] {
				return line
			}
		} else if ip >= startIP {
			return line
		}
	}
	return c.Lines[n-1]
}

// ---------------------------------------------------------------------------
// Specialization
// ---------------------------------------------------------------------------

// AddSpecialized registers an executor for receivers of class cd. The
// code must already be internalized; calling this before internalize
// is a programming error (logged, not mutated). Once registered, and
// provided no primitive was resolved, the executor becomes
// specializedDispatch.
func (c *CompiledCode) AddSpecialized(cd ClassData, ex Executor, jitData interface{}) error {
	mc := c.machineCode.Load()
	if mc == nil {
		warnf("add_specialized on %s ignored: not yet internalized", c.Name)
		return faultf(FaultInternal, "compiledcode: "+c.Name+" cannot specialize before internalization")
	}

	c.specializations.add(cd, ex, jitData)
	mc.JITEligible = true

	if c.Primitive == "" {
		c.storeExecutor(specializedDispatch)
	}
	return nil
}

// SetUnspecialized installs the fallback executor used for receiver
// classes that don't have their own specialization. When the cache is
// still entirely empty and no primitive was resolved, this also becomes
// the code's top-level executor directly, skipping the cache scan
// specializedDispatch would otherwise do on every call.
func (c *CompiledCode) SetUnspecialized(ex Executor, jitData interface{}) error {
	if c.machineCode.Load() == nil {
		return faultf(FaultInternal, "compiledcode: "+c.Name+" cannot set unspecialized executor before internalization")
	}

	wrapped := ex
	c.unspecialized.Store(&wrapped)

	if c.specializations.empty() && c.Primitive == "" {
		c.storeExecutor(ex)
	}
	return nil
}

// FindSpecialized looks cd up in the specialization cache without any
// side effects (no promotion, no fallthrough).
func (c *CompiledCode) FindSpecialized(cd ClassData) (Executor, bool) {
	ex, _, ok := c.specializations.find(cd)
	return ex, ok
}

// CanSpecialize reports whether the cache still has room for another
// entry.
func (c *CompiledCode) CanSpecialize() bool {
	return c.specializations.canSpecialize()
}

// ---------------------------------------------------------------------------
// Breakpoints
// ---------------------------------------------------------------------------

// SetBreakpoint marks ip as a breakpoint, attaching userData. Requires
// internalization (to validate ip against the bytecode) and switches
// the machine code to its debugging variant.
func (c *CompiledCode) SetBreakpoint(ip int, userData interface{}) error {
	mc, err := c.internalize()
	if err != nil {
		return err
	}
	if ip < 0 || ip >= len(c.Bytecode) {
		return faultf(FaultAbsent, "compiledcode: breakpoint ip out of range")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.breakpoints == nil {
		c.breakpoints = make(map[int]interface{})
	}
	c.breakpoints[ip] = userData
	mc.Debugging = true
	return nil
}

// ClearBreakpoint removes the breakpoint at ip, if any. If no
// breakpoints remain afterward, the machine code reverts to its normal
// (non-debugging) variant.
func (c *CompiledCode) ClearBreakpoint(ip int) error {
	mc, err := c.internalize()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.breakpoints, ip)
	if len(c.breakpoints) == 0 {
		mc.Debugging = false
	}
	return nil
}

// IsBreakpoint reports whether ip currently has a breakpoint set.
func (c *CompiledCode) IsBreakpoint(ip int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.breakpoints[ip]
	return ok
}

// ---------------------------------------------------------------------------
// Script execution and introspection
// ---------------------------------------------------------------------------

// ExecuteScript runs the code as a top-level program against root.
// Unlike the coarse format-and-abort behavior this pattern is often
// given, a raised exception is returned to the caller rather than
// terminating the process: a library core must not be able to take its
// host down.
func (c *CompiledCode) ExecuteScript(root Value) (Value, error) {
	val, err := c.Call(root, nil)
	if err != nil {
		return Nil, faultf(FaultInternal, "compiledcode: script "+c.Name+" raised: "+err.Error())
	}
	return val, nil
}

// OfSender returns the CompiledCode of the frame that called into this
// one's currently-executing activation, or false if there is no
// enclosing frame (e.g. this is the outermost activation).
func (c *CompiledCode) OfSender(ctx context.Context) (*CompiledCode, bool) {
	if c.env == nil || c.env.CallStack == nil {
		return nil, false
	}
	frame, ok := c.env.CallStack.GetFrame(ctx, 1)
	if !ok {
		return nil, false
	}
	return frame.Code, true
}

// Current returns the CompiledCode of the currently executing
// activation according to env's call-stack accessor.
func Current(ctx context.Context, env *Environment) (*CompiledCode, bool) {
	if env == nil || env.CallStack == nil {
		return nil, false
	}
	frame, ok := env.CallStack.GetFrame(ctx, 0)
	if !ok {
		return nil, false
	}
	return frame.Code, true
}

// Disassemble returns a listing of the code's bytecode, each
// instruction annotated with the source line it maps to.
func (c *CompiledCode) Disassemble() string {
	r := NewBytecodeReader(c.Bytecode)
	var out string
	for r.HasMore() {
		pos := r.Position()
		instr := DisassembleInstruction(r)
		if out != "" {
			out += "\n"
		}
		out += instr + "  ; line " + strconv.Itoa(c.Line(pos))
	}
	return out
}

// String implements the Stringer interface.
func (c *CompiledCode) String() string {
	if c.Scope == "" {
		return c.Name
	}
	return c.Scope + ">>" + c.Name
}
