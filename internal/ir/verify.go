package ir

import (
	"fmt"

	"loxvm/internal/value"
)

// stackUse describes how an instruction touches the operand stack: it reads
// the top `in` slots and changes the height by `delta`.
type stackUse struct {
	in    int
	delta int
}

func stackEffect(op OpCode, code []byte, offset int) stackUse {
	switch op {
	case OpConstant, OpNil, OpTrue, OpFalse, OpGetGlobal, OpGetUpvalue,
		OpGetLocal, OpClass, OpClosure:
		return stackUse{0, 1}
	case OpPop, OpDefineGlobal, OpPrint, OpCloseUpvalue, OpReturn:
		return stackUse{1, -1}
	case OpSetLocal, OpSetGlobal, OpSetUpvalue, OpJumpIfFalse,
		OpGetProperty, OpNot, OpNegate:
		return stackUse{1, 0}
	case OpSetProperty, OpGetSuper, OpEqual, OpGreater, OpLess,
		OpAdd, OpSubtract, OpMultiply, OpDivide, OpInherit, OpMethod:
		return stackUse{2, -1}
	case OpCall:
		n := int(code[offset+1])
		return stackUse{n + 1, -n}
	case OpInvoke:
		n := int(code[offset+2])
		return stackUse{n + 1, -n}
	case OpSuperInvoke:
		n := int(code[offset+2])
		return stackUse{n + 2, -n - 1}
	}
	return stackUse{}
}

// Verify checks that fn's chunk can run without the VM reading outside its
// code, constants, upvalues or stack frame. It checks:
//   - known opcodes with complete operands
//   - constant indexes in range with the kind each opcode expects
//   - upvalue indexes below the function's upvalue count
//   - jumps that land on an instruction inside the chunk
//   - a stack height that is the same on every path to an instruction, never
//     drops into the callee slot, and covers every local slot accessed
//   - no path that runs off the end of the code
func Verify(fn *value.Function) error {
	chunk := &fn.Chunk
	code := chunk.Code
	bad := func(offset int, format string, args ...any) error {
		return fmt.Errorf("%w: %s at offset %d: %s", ErrBadImage, fn, offset, fmt.Sprintf(format, args...))
	}
	constant := func(offset int) (value.Value, error) {
		idx := int(code[offset+1])
		if idx >= len(chunk.Constants) {
			return value.Value{}, bad(offset, "constant %d out of range", idx)
		}
		return chunk.Constants[idx], nil
	}

	if len(code) == 0 {
		return bad(0, "empty chunk")
	}

	// First pass: decode every instruction in order.
	size := make([]int, len(code))
	for offset := 0; offset < len(code); {
		op := OpCode(code[offset])
		if !op.Valid() {
			return bad(offset, "unknown opcode %d", code[offset])
		}
		kind := op.Operands()
		width := kind.Width()
		if offset+width > len(code) {
			return bad(offset, "truncated %s", op)
		}
		switch kind {
		case OperandConstant, OperandInvoke:
			c, err := constant(offset)
			if err != nil {
				return err
			}
			if op != OpConstant && !c.IsString() {
				return bad(offset, "%s needs a name constant", op)
			}
		case OperandByte:
			if (op == OpGetUpvalue || op == OpSetUpvalue) && int(code[offset+1]) >= fn.UpvalueCount {
				return bad(offset, "upvalue %d out of range", code[offset+1])
			}
		case OperandJump:
			if target := jumpTarget(op, code, offset); target < 0 || target >= len(code) {
				return bad(offset, "jump target %d outside chunk", target)
			}
		case OperandClosure:
			c, err := constant(offset)
			if err != nil {
				return err
			}
			if !c.IsFunction() {
				return bad(offset, "closure over non-function constant")
			}
			pairs := c.AsFunction().UpvalueCount
			if offset+width+2*pairs > len(code) {
				return bad(offset, "truncated upvalue list")
			}
			for i := 0; i < pairs; i++ {
				isLocal, index := code[offset+width+2*i], int(code[offset+width+2*i+1])
				switch {
				case isLocal > 1:
					return bad(offset, "upvalue %d has local flag %d", i, isLocal)
				case isLocal == 0 && index >= fn.UpvalueCount:
					return bad(offset, "captured upvalue %d out of range", index)
				}
			}
			width += 2 * pairs
		}
		size[offset] = width
		offset += width
	}

	// Second pass: follow control flow from the entry with the callee and
	// its arguments already on the stack.
	height := make([]int, len(code))
	for i := range height {
		height[i] = -1
	}
	height[0] = 1 + fn.Arity
	work := []int{0}
	visit := func(from, to, h int) error {
		switch {
		case to >= len(code):
			return bad(from, "execution runs off the end of the chunk")
		case size[to] == 0:
			return bad(from, "jump into the middle of an instruction")
		case height[to] == -1:
			height[to] = h
			work = append(work, to)
		case height[to] != h:
			return bad(to, "stack height %d on one path and %d on another", height[to], h)
		}
		return nil
	}

	for len(work) > 0 {
		offset := work[len(work)-1]
		work = work[:len(work)-1]
		op := OpCode(code[offset])
		h := height[offset]

		use := stackEffect(op, code, offset)
		if h-use.in < 1 {
			return bad(offset, "%s needs %d stack values but has %d", op, use.in, h-1)
		}
		switch op {
		case OpGetLocal, OpSetLocal:
			if slot := int(code[offset+1]); slot >= h {
				return bad(offset, "local slot %d above stack height %d", slot, h)
			}
		case OpClosure:
			pairs := (size[offset] - op.Operands().Width()) / 2
			for i := 0; i < pairs; i++ {
				at := offset + 2 + 2*i
				if code[at] == 1 && int(code[at+1]) >= h {
					return bad(offset, "captured local %d above stack height %d", code[at+1], h)
				}
			}
		}

		next := offset + size[offset]
		h += use.delta
		var err error
		switch op {
		case OpReturn:
		case OpJump, OpLoop:
			err = visit(offset, jumpTarget(op, code, offset), h)
		case OpJumpIfFalse:
			if err = visit(offset, jumpTarget(op, code, offset), h); err == nil {
				err = visit(offset, next, h)
			}
		default:
			err = visit(offset, next, h)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func jumpTarget(op OpCode, code []byte, offset int) int {
	if op == OpLoop {
		return offset + 3 - ReadShort(code, offset+1)
	}
	return offset + 3 + ReadShort(code, offset+1)
}
