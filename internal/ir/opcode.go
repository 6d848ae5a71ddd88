// Package ir defines the bytecode instruction set, its disassembler and the
// on-disk image format for compiled scripts.
package ir

import "fmt"

// OpCode is a one-byte instruction. Operands follow inline: one byte for
// constant, slot and argument-count operands, two big-endian bytes for jump
// offsets.
type OpCode byte

const (
	OpConstant     OpCode = iota // A = constant index; push constants[A]
	OpNil                        // push nil
	OpTrue                       // push true
	OpFalse                      // push false
	OpPop                        // pop one value
	OpGetLocal                   // A = frame slot; push slots[A]
	OpSetLocal                   // A = frame slot; slots[A] = top (no pop)
	OpGetGlobal                  // A = name constant
	OpDefineGlobal               // A = name constant; pops the value
	OpSetGlobal                  // A = name constant; fails on undefined name
	OpGetUpvalue                 // A = upvalue index
	OpSetUpvalue                 // A = upvalue index
	OpGetProperty                // A = name constant; field, else bound method
	OpSetProperty                // A = name constant
	OpGetSuper                   // A = name constant; pops superclass, binds to receiver

	OpEqual
	OpGreater
	OpLess
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpNot
	OpNegate

	OpPrint

	OpJump        // AB = forward offset from the next instruction
	OpJumpIfFalse // AB = forward offset; condition is left on the stack
	OpLoop        // AB = backward offset from the next instruction

	OpCall         // A = argument count
	OpInvoke       // A = method name constant, B = argument count
	OpSuperInvoke  // A = method name constant, B = argument count; pops superclass
	OpClosure      // A = function constant, then (isLocal, index) per upvalue
	OpCloseUpvalue // close the upvalue for the top slot and pop it
	OpReturn

	OpClass   // A = name constant
	OpInherit // copies superclass methods into the subclass below it
	OpMethod  // A = name constant; binds top closure into the class below it
)

var opNames = [...]string{
	OpConstant:     "OP_CONSTANT",
	OpNil:          "OP_NIL",
	OpTrue:         "OP_TRUE",
	OpFalse:        "OP_FALSE",
	OpPop:          "OP_POP",
	OpGetLocal:     "OP_GET_LOCAL",
	OpSetLocal:     "OP_SET_LOCAL",
	OpGetGlobal:    "OP_GET_GLOBAL",
	OpDefineGlobal: "OP_DEFINE_GLOBAL",
	OpSetGlobal:    "OP_SET_GLOBAL",
	OpGetUpvalue:   "OP_GET_UPVALUE",
	OpSetUpvalue:   "OP_SET_UPVALUE",
	OpGetProperty:  "OP_GET_PROPERTY",
	OpSetProperty:  "OP_SET_PROPERTY",
	OpGetSuper:     "OP_GET_SUPER",
	OpEqual:        "OP_EQUAL",
	OpGreater:      "OP_GREATER",
	OpLess:         "OP_LESS",
	OpAdd:          "OP_ADD",
	OpSubtract:     "OP_SUBTRACT",
	OpMultiply:     "OP_MULTIPLY",
	OpDivide:       "OP_DIVIDE",
	OpNot:          "OP_NOT",
	OpNegate:       "OP_NEGATE",
	OpPrint:        "OP_PRINT",
	OpJump:         "OP_JUMP",
	OpJumpIfFalse:  "OP_JUMP_IF_FALSE",
	OpLoop:         "OP_LOOP",
	OpCall:         "OP_CALL",
	OpInvoke:       "OP_INVOKE",
	OpSuperInvoke:  "OP_SUPER_INVOKE",
	OpClosure:      "OP_CLOSURE",
	OpCloseUpvalue: "OP_CLOSE_UPVALUE",
	OpReturn:       "OP_RETURN",
	OpClass:        "OP_CLASS",
	OpInherit:      "OP_INHERIT",
	OpMethod:       "OP_METHOD",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("OP_UNKNOWN(%d)", byte(op))
}

// Valid reports whether op is a defined instruction.
func (op OpCode) Valid() bool {
	return int(op) < len(opNames)
}

// Operand layout of an instruction, excluding the closure upvalue pairs.
type OperandKind uint8

const (
	OperandNone     OperandKind = iota
	OperandByte                 // slot, upvalue index or argument count
	OperandConstant             // constant pool index
	OperandJump                 // 16-bit offset
	OperandInvoke               // constant index then argument count
	OperandClosure              // constant index then two bytes per upvalue
)

// Operands returns the operand layout of op.
func (op OpCode) Operands() OperandKind {
	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal,
		OpGetProperty, OpSetProperty, OpGetSuper, OpClass, OpMethod:
		return OperandConstant
	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		return OperandByte
	case OpJump, OpJumpIfFalse, OpLoop:
		return OperandJump
	case OpInvoke, OpSuperInvoke:
		return OperandInvoke
	case OpClosure:
		return OperandClosure
	}
	return OperandNone
}

// Width is the encoded size of an instruction with the given operand layout,
// not counting closure upvalue pairs.
func (k OperandKind) Width() int {
	switch k {
	case OperandByte, OperandConstant:
		return 2
	case OperandJump, OperandInvoke:
		return 3
	case OperandClosure:
		return 2
	}
	return 1
}

// ReadShort decodes the big-endian 16-bit operand at code[i:i+2].
func ReadShort(code []byte, i int) int {
	return int(code[i])<<8 | int(code[i+1])
}
