package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Opcode set
// ---------------------------------------------------------------------------
//
// CompiledCode stores its body as a flat byte stream and needs just
// enough of an encoding to disassemble it, walk it for the line map, and
// let the GC mark callback find byte offsets holding embedded
// references. The actual interpreter that executes this stream, and the
// full instruction set it offers the compiler, lives outside this core
// (see MachineCode); this is a minimal, stable encoding that any such
// interpreter's front end can still compile down to and that this core
// can inspect without depending on it.

// Opcode identifies a single instruction in a CompiledCode's byte stream.
type Opcode byte

// Stack shuffling.
const (
	OpNOP Opcode = 0x00
	OpPOP Opcode = 0x01 // discard top of stack
	OpDUP Opcode = 0x02 // duplicate top of stack
)

// Constant and self pushes.
const (
	OpPushNil     Opcode = 0x10
	OpPushTrue    Opcode = 0x11
	OpPushFalse   Opcode = 0x12
	OpPushSelf    Opcode = 0x13
	OpPushInt8    Opcode = 0x14 // inline signed 8-bit operand
	OpPushInt32   Opcode = 0x15 // inline signed 32-bit operand
	OpPushLiteral Opcode = 0x16 // 16-bit index into CompiledCode.Literals
	OpPushFloat   Opcode = 0x17 // inline float64 operand (8 bytes)
)

// Variable access, scoped the way a method activation frame is: temps
// and arguments share an index space, instance variables are addressed
// by slot, globals by a 16-bit table index.
const (
	OpPushTemp    Opcode = 0x20
	OpPushIvar    Opcode = 0x21
	OpPushGlobal  Opcode = 0x22
	OpStoreTemp   Opcode = 0x23
	OpStoreIvar   Opcode = 0x24
	OpStoreGlobal Opcode = 0x25
)

// Message sends. The dispatch machinery this core implements (MethodTable,
// CompiledCode's specialization cache) is what a SEND ultimately drives;
// the opcode itself only carries the selector and argument count needed
// to set that dispatch up.
const (
	OpSend      Opcode = 0x30 // 16-bit selector index, 8-bit argc
	OpSendSuper Opcode = 0x31 // same operands, bypasses the receiver's own class
)

// Control flow. Jump targets are relative 16-bit offsets from the byte
// immediately following the operand, matching BytecodeBuilder's label
// patching below.
const (
	OpJump      Opcode = 0x40
	OpJumpTrue  Opcode = 0x41 // pop, jump if truthy
	OpJumpFalse Opcode = 0x42 // pop, jump if falsy
)

// Returns.
const (
	OpReturnTop   Opcode = 0x50 // return the value on top of the stack
	OpReturnSelf  Opcode = 0x51
	OpReturnNil   Opcode = 0x52
	OpBlockReturn Opcode = 0x53 // non-local return out of an enclosing block
)

// OpcodeInfo describes how to decode and disassemble one opcode.
type OpcodeInfo struct {
	Name         string
	OperandBytes int
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNOP: {"NOP", 0},
	OpPOP: {"POP", 0},
	OpDUP: {"DUP", 0},

	OpPushNil:     {"PUSH_NIL", 0},
	OpPushTrue:    {"PUSH_TRUE", 0},
	OpPushFalse:   {"PUSH_FALSE", 0},
	OpPushSelf:    {"PUSH_SELF", 0},
	OpPushInt8:    {"PUSH_INT8", 1},
	OpPushInt32:   {"PUSH_INT32", 4},
	OpPushLiteral: {"PUSH_LITERAL", 2},
	OpPushFloat:   {"PUSH_FLOAT", 8},

	OpPushTemp:    {"PUSH_TEMP", 1},
	OpPushIvar:    {"PUSH_IVAR", 1},
	OpPushGlobal:  {"PUSH_GLOBAL", 2},
	OpStoreTemp:   {"STORE_TEMP", 1},
	OpStoreIvar:   {"STORE_IVAR", 1},
	OpStoreGlobal: {"STORE_GLOBAL", 2},

	OpSend:      {"SEND", 3},
	OpSendSuper: {"SEND_SUPER", 3},

	OpJump:      {"JUMP", 2},
	OpJumpTrue:  {"JUMP_TRUE", 2},
	OpJumpFalse: {"JUMP_FALSE", 2},

	OpReturnTop:   {"RETURN_TOP", 0},
	OpReturnSelf:  {"RETURN_SELF", 0},
	OpReturnNil:   {"RETURN_NIL", 0},
	OpBlockReturn: {"BLOCK_RETURN", 0},
}

// Info reports an opcode's decoding metadata. An opcode absent from the
// table (one this core has never been told about) still decodes to a
// zero-operand placeholder rather than panicking, since disassembly must
// tolerate bytecode produced by a newer encoder.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("OP_%02X", byte(op))}
}

// Name returns the opcode's disassembly mnemonic.
func (op Opcode) Name() string { return op.Info().Name }

// OperandBytes returns the number of bytes following the opcode byte.
func (op Opcode) OperandBytes() int { return op.Info().OperandBytes }

func (op Opcode) String() string { return op.Name() }

// ---------------------------------------------------------------------------
// BytecodeBuilder
// ---------------------------------------------------------------------------

// BytecodeBuilder assembles a byte stream one instruction at a time.
// Nothing here is specific to any one CompiledCode; it's shared
// plumbing for whatever produces the Bytecode field (a compiler, a
// decoded image, or a test fixture).
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates an empty builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the assembled stream.
func (b *BytecodeBuilder) Bytes() []byte { return b.bytes }

// Len returns the number of bytes assembled so far.
func (b *BytecodeBuilder) Len() int { return len(b.bytes) }

// Emit appends a bare opcode with no operand.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitByte appends an opcode with a single unsigned byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitInt8 appends an opcode with a signed byte operand.
func (b *BytecodeBuilder) EmitInt8(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
}

// EmitUint16 appends an opcode with a little-endian 16-bit operand.
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitInt32 appends an opcode with a little-endian signed 32-bit operand.
func (b *BytecodeBuilder) EmitInt32(op Opcode, operand int32) {
	b.bytes = append(b.bytes, byte(op))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(operand))
	b.bytes = append(b.bytes, buf[:]...)
}

// EmitFloat64 appends an opcode with an inline float64 operand.
func (b *BytecodeBuilder) EmitFloat64(op Opcode, operand float64) {
	b.bytes = append(b.bytes, byte(op))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(operand))
	b.bytes = append(b.bytes, buf[:]...)
}

// EmitSend appends a SEND or SEND_SUPER instruction.
func (b *BytecodeBuilder) EmitSend(op Opcode, selector uint16, argc uint8) {
	b.bytes = append(b.bytes, byte(op), byte(selector), byte(selector>>8), argc)
}

// Label is a forward or backward jump target within a BytecodeBuilder's
// stream.
type Label struct {
	resolved bool
	position int
	refs     []int // operand positions still waiting on this label
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark fixes label at the builder's current position, patching every
// forward reference recorded against it so far. A label can only be
// marked once.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		offset := label.position - (ref + 2)
		b.bytes[ref] = byte(offset)
		b.bytes[ref+1] = byte(offset >> 8)
	}
	label.refs = nil
}

// EmitJump appends a jump instruction targeting label. If label is
// already marked this is a backward jump and the offset is computed
// immediately; otherwise the operand position is queued for Mark to
// patch once the target is known.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		offset := label.position - (len(b.bytes) + 2)
		b.bytes = append(b.bytes, byte(offset), byte(offset>>8))
		return
	}
	label.refs = append(label.refs, len(b.bytes))
	b.bytes = append(b.bytes, 0, 0)
}

// ---------------------------------------------------------------------------
// BytecodeReader
// ---------------------------------------------------------------------------

// BytecodeReader walks a byte stream instruction by instruction, used
// for both disassembly and for locating instruction boundaries when the
// GC mark callback needs to reason about offsets.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader positioned at the start of bc.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read offset.
func (r *BytecodeReader) Position() int { return r.pos }

// HasMore reports whether any bytes remain unread.
func (r *BytecodeReader) HasMore() bool { return r.pos < len(r.bytes) }

// ReadOpcode reads the opcode byte at the current position.
func (r *BytecodeReader) ReadOpcode() Opcode {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	op := Opcode(r.bytes[r.pos])
	r.pos++
	return op
}

// ReadByte reads a single unsigned byte operand.
func (r *BytecodeReader) ReadByte() byte {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	v := r.bytes[r.pos]
	r.pos++
	return v
}

// ReadInt8 reads a signed byte operand.
func (r *BytecodeReader) ReadInt8() int8 { return int8(r.ReadByte()) }

// ReadUint16 reads a little-endian 16-bit operand.
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadInt16 reads a little-endian signed 16-bit operand.
func (r *BytecodeReader) ReadInt16() int16 { return int16(r.ReadUint16()) }

// ReadInt32 reads a little-endian signed 32-bit operand.
func (r *BytecodeReader) ReadInt32() int32 {
	if r.pos+4 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return int32(v)
}

// ReadFloat64 reads an inline float64 operand.
func (r *BytecodeReader) ReadFloat64() float64 {
	if r.pos+8 > len(r.bytes) {
		panic("bytecode underflow")
	}
	bits := binary.LittleEndian.Uint64(r.bytes[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits)
}

// Skip advances the read position by n bytes without interpreting them.
func (r *BytecodeReader) Skip(n int) { r.pos += n }

// Seek moves the read position directly, used by the disassembler's
// instruction-boundary scan and by callers re-reading from a saved IP.
func (r *BytecodeReader) Seek(pos int) { r.pos = pos }

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction decodes one instruction at r's current
// position, advances past it, and formats it for display.
func DisassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()

	switch op {
	case OpNOP, OpPOP, OpDUP,
		OpPushNil, OpPushTrue, OpPushFalse, OpPushSelf,
		OpReturnTop, OpReturnSelf, OpReturnNil, OpBlockReturn:
		return fmt.Sprintf("%04d  %s", pos, info.Name)

	case OpPushInt8:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadInt8())

	case OpPushInt32:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadInt32())

	case OpPushFloat:
		return fmt.Sprintf("%04d  %s %f", pos, info.Name, r.ReadFloat64())

	case OpPushTemp, OpPushIvar, OpStoreTemp, OpStoreIvar:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadByte())

	case OpPushLiteral, OpPushGlobal, OpStoreGlobal:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadUint16())

	case OpJump, OpJumpTrue, OpJumpFalse:
		offset := r.ReadInt16()
		target := r.Position() + int(offset)
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, target)

	case OpSend, OpSendSuper:
		selector := r.ReadUint16()
		argc := r.ReadByte()
		return fmt.Sprintf("%04d  %s selector=%d argc=%d", pos, info.Name, selector, argc)

	default:
		r.Skip(info.OperandBytes)
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
}

// Disassemble formats an entire byte stream, one instruction per line.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var out string
	for r.HasMore() {
		if out != "" {
			out += "\n"
		}
		out += DisassembleInstruction(r)
	}
	return out
}
