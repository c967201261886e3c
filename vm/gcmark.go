package vm

// MarkCompiledCode is the GC mark callback for a CompiledCode. It marks
// the code's own owned references (literals), its machine code and the
// machine code's jit_data, every specialization's jit_data, and rewrites
// any embedded object references in the opcode stream in place.
//
// This must only be called during stop-the-world marking: rewriting
// opcode bytes after they've been published (internalize already ran,
// or a specialization already dispatched through them) is only safe
// because nothing else can be reading or writing them concurrently with
// the collector.
func MarkCompiledCode(c *CompiledCode, mark MarkFunc, wb WriteBarrier) {
	for i, lit := range c.Literals {
		if !lit.IsObject() {
			continue
		}
		relocated := mark(ObjectFromValue(lit))
		if relocated == nil {
			continue
		}
		obj, ok := relocated.(*Object)
		if !ok {
			continue
		}
		newVal := obj.ToValue()
		c.Literals[i] = newVal
		wb(c, newVal)
	}

	mc := c.machineCode.Load()
	if mc == nil {
		return
	}

	mark(mc)
	if mc.JITData != nil {
		mc.JITData = mark(mc.JITData)
	}
	c.specializations.forEachJITData(func(data interface{}) {
		mark(data)
	})

	markEmbeddedReferences(c, mc, mark, wb)
}

// markEmbeddedReferences visits every byte offset MachineCode.References
// names, treats the value sitting there as a tagged object reference
// embedded directly in the opcode stream (e.g. an inlined literal
// operand that was never routed through the Literals table), and
// rewrites it in place if the collector relocated it.
//
// An indirection table -- opcodes store an index, the collector rewrites
// only the table -- would avoid ever mutating published bytecode, at the
// cost of one extra indirection per access. This core takes the direct
// approach the spec describes and leans on the stop-the-world invariant
// instead.
func markEmbeddedReferences(c *CompiledCode, mc *MachineCode, mark MarkFunc, wb WriteBarrier) {
	for _, offset := range mc.References {
		if offset < 0 || offset+8 > len(c.Bytecode) {
			continue
		}
		v := decodeEmbeddedValue(c.Bytecode[offset : offset+8])
		if !v.IsObject() {
			continue
		}
		relocated := mark(ObjectFromValue(v))
		if relocated == nil {
			continue
		}
		obj, ok := relocated.(*Object)
		if !ok {
			continue
		}
		newVal := obj.ToValue()
		encodeEmbeddedValue(c.Bytecode[offset:offset+8], newVal)
		wb(c, newVal)
	}
}

func decodeEmbeddedValue(b []byte) Value {
	var bits uint64
	for i := 7; i >= 0; i-- {
		bits = bits<<8 | uint64(b[i])
	}
	return Value(bits)
}

func encodeEmbeddedValue(b []byte, v Value) {
	bits := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(bits)
		bits >>= 8
	}
}
