package ir

import (
	"fmt"
	"io"

	"loxvm/internal/value"
)

// DisassembleFunction writes the listing of fn followed by every function in
// its constant pool, depth first.
func DisassembleFunction(w io.Writer, fn *value.Function) {
	DisassembleChunk(w, &fn.Chunk, fn.String())
	for _, c := range fn.Chunk.Constants {
		if c.IsFunction() {
			fmt.Fprintln(w)
			DisassembleFunction(w, c.AsFunction())
		}
	}
}

// DisassembleChunk writes a human-readable listing of chunk.
func DisassembleChunk(w io.Writer, chunk *value.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < chunk.Count(); {
		offset = DisassembleInstruction(w, chunk, offset)
	}
}

// DisassembleInstruction writes the instruction at offset and returns the
// offset of the next one.
func DisassembleInstruction(w io.Writer, chunk *value.Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && chunk.Line(offset) == chunk.Line(offset-1) {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", chunk.Line(offset))
	}

	code := chunk.Code
	op := OpCode(code[offset])
	if !op.Valid() {
		fmt.Fprintf(w, "Unknown opcode %d\n", code[offset])
		return offset + 1
	}
	if offset+op.Operands().Width() > len(code) {
		fmt.Fprintf(w, "%s <truncated>\n", op)
		return len(code)
	}

	switch op.Operands() {
	case OperandNone:
		fmt.Fprintln(w, op)
		return offset + 1
	case OperandByte:
		fmt.Fprintf(w, "%-16s %4d\n", op, code[offset+1])
		return offset + 2
	case OperandConstant:
		idx := int(code[offset+1])
		fmt.Fprintf(w, "%-16s %4d '%s'\n", op, idx, constantText(chunk, idx))
		return offset + 2
	case OperandJump:
		jump := ReadShort(code, offset+1)
		sign := 1
		if op == OpLoop {
			sign = -1
		}
		fmt.Fprintf(w, "%-16s %4d -> %d\n", op, offset, offset+3+sign*jump)
		return offset + 3
	case OperandInvoke:
		idx := int(code[offset+1])
		fmt.Fprintf(w, "%-16s (%d args) %4d '%s'\n", op, code[offset+2], idx, constantText(chunk, idx))
		return offset + 3
	case OperandClosure:
		idx := int(code[offset+1])
		fmt.Fprintf(w, "%-16s %4d %s\n", op, idx, constantText(chunk, idx))
		offset += 2
		if idx >= len(chunk.Constants) || !chunk.Constants[idx].IsFunction() {
			return offset
		}
		fn := chunk.Constants[idx].AsFunction()
		for j := 0; j < fn.UpvalueCount && offset+1 < len(code); j++ {
			kind := "upvalue"
			if code[offset] == 1 {
				kind = "local"
			}
			fmt.Fprintf(w, "%04d      |                     %s %d\n", offset, kind, code[offset+1])
			offset += 2
		}
		return offset
	}
	return offset + 1
}

func constantText(chunk *value.Chunk, idx int) string {
	if idx >= len(chunk.Constants) {
		return "<bad constant>"
	}
	return chunk.Constants[idx].String()
}
