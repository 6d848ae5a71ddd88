package value

import "loxvm/internal/memory"

// MaxConstants is the size of a chunk's constant pool: constants are
// addressed by a single byte operand.
const MaxConstants = 256

// Chunk is a function's bytecode: opcodes and operands, a parallel table
// mapping each byte to its source line, and a constant pool.
type Chunk struct {
	Code      []byte
	Lines     []int
	Constants []Value

	tracker memory.Tracker
}

// Init attaches the chunk to an allocation tracker. A chunk built without
// Init is untracked.
func (c *Chunk) Init(t memory.Tracker) {
	c.tracker = t
}

// Write appends one byte of code attributed to line.
func (c *Chunk) Write(b byte, line int) {
	c.Code = memory.Append(c.tracker, c.Code, b)
	c.Lines = memory.Append(c.tracker, c.Lines, line)
}

// AddConstant appends v to the constant pool and returns its index. The
// caller must keep v reachable until it is stored.
func (c *Chunk) AddConstant(v Value) int {
	c.Constants = memory.Append(c.tracker, c.Constants, v)
	return len(c.Constants) - 1
}

// Count is the number of bytes of code.
func (c *Chunk) Count() int {
	return len(c.Code)
}

// Line returns the source line of the byte at offset, or 0 when out of range.
func (c *Chunk) Line(offset int) int {
	if offset < 0 || offset >= len(c.Lines) {
		return 0
	}
	return c.Lines[offset]
}

// Free releases all three arrays.
func (c *Chunk) Free() {
	c.Code = memory.Release(c.tracker, c.Code)
	c.Lines = memory.Release(c.tracker, c.Lines)
	c.Constants = memory.Release(c.tracker, c.Constants)
}
