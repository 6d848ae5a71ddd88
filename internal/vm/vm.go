// Package vm executes compiled functions on a stack machine. Each VM owns
// its heap, globals and stack; separate VMs share nothing.
package vm

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"loxvm/internal/compiler"
	"loxvm/internal/config"
	"loxvm/internal/heap"
	"loxvm/internal/ir"
	"loxvm/internal/value"
)

// slotsPerFrame is the stack space reserved for each frame: a function can
// address at most 256 locals.
const slotsPerFrame = 256

// Frame represents a function call frame.
type Frame struct {
	Clo  *value.Closure
	IP   int // Instruction pointer: index into Clo.Function.Chunk.Code
	Base int // Stack index of slot 0: the callee or receiver
}

func (f *Frame) readByte() byte {
	b := f.Clo.Function.Chunk.Code[f.IP]
	f.IP++
	return b
}

func (f *Frame) readShort() int {
	v := ir.ReadShort(f.Clo.Function.Chunk.Code, f.IP)
	f.IP += 2
	return v
}

func (f *Frame) readConstant() value.Value {
	return f.Clo.Function.Chunk.Constants[f.readByte()]
}

func (f *Frame) readString() *value.String {
	return f.readConstant().AsString()
}

// VM is a bytecode interpreter. It is not safe for concurrent use.
type VM struct {
	id   string
	heap *heap.Heap

	// The stack never grows: open upvalues point into it.
	stack      []value.Value
	sp         int
	frames     []Frame
	frameCount int

	globals      value.Table
	initString   *value.String
	openUpvalues *value.Upvalue

	stdout     io.Writer
	stderr     io.Writer
	trace      io.Writer
	errColor   *color.Color
	traceColor *color.Color

	start       time.Time
	log         commonlog.Logger
	removeRoots func()
}

// New returns a VM with the clock and str natives defined.
func New(opts ...Option) *VM {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	framesMax := o.cfg.VM.FramesMax
	if framesMax <= 0 {
		framesMax = config.DefaultFramesMax
	}

	id := uuid.NewString()
	vm := &VM{
		id:         id,
		heap:       heap.New(o.cfg.GC, id),
		stack:      make([]value.Value, framesMax*slotsPerFrame),
		frames:     make([]Frame, framesMax),
		stdout:     o.stdout,
		stderr:     o.stderr,
		trace:      o.trace,
		errColor:   color.New(color.FgRed, color.Bold),
		traceColor: color.New(color.FgHiBlack),
		start:      time.Now(),
		log:        commonlog.GetLogger("loxvm.vm"),
	}
	if o.useColor() {
		vm.errColor.EnableColor()
		vm.traceColor.EnableColor()
	} else {
		vm.errColor.DisableColor()
		vm.traceColor.DisableColor()
	}

	vm.globals.Init(vm.heap)
	vm.removeRoots = vm.heap.AddRoots(vm)
	vm.initString = vm.heap.CopyString("init")
	vm.defineStdlib()

	vm.log.Debugf("[%s] started: %d frames, %d stack slots", id, framesMax, len(vm.stack))
	return vm
}

// ID identifies the VM in log lines.
func (vm *VM) ID() string { return vm.id }

// Heap returns the heap every object of this VM lives in.
func (vm *VM) Heap() *heap.Heap { return vm.heap }

// Free releases every object. The VM must not be used afterwards.
func (vm *VM) Free() {
	vm.resetStack()
	vm.globals.Free()
	vm.initString = nil
	vm.removeRoots()

	stats := vm.heap.Stats()
	vm.heap.FreeAll()
	vm.log.Debugf("[%s] freed: %d collections, %d objects released at exit",
		vm.id, stats.Collections, stats.Objects)
}

// MarkRoots implements heap.RootSource.
func (vm *VM) MarkRoots(h *heap.Heap) {
	for _, v := range vm.stack[:vm.sp] {
		h.MarkValue(v)
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(vm.frames[i].Clo)
	}
	for u := vm.openUpvalues; u != nil; u = u.NextOpen {
		h.MarkObject(u)
	}
	h.MarkTable(&vm.globals)
	h.MarkObject(vm.initString)
}

// push/pop

func (vm *VM) push(v value.Value) {
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() value.Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.sp-1-distance]
}

// Interpret compiles source and runs it. Compile diagnostics are written to
// the diagnostic writer and returned as a *compiler.Error; failures while
// running are returned as a *RuntimeError.
func (vm *VM) Interpret(source string) error {
	fn, err := compiler.Compile(vm.heap, source)
	if err != nil {
		vm.errColor.Fprintln(vm.stderr, err.Error())
		return err
	}
	return vm.Run(fn)
}

// Run executes a compiled top-level function, such as one loaded from a
// bytecode image. Globals persist across runs.
func (vm *VM) Run(fn *value.Function) error {
	// Collections happen only between instructions while running.
	prev := vm.heap.SetDeferred(true)
	defer vm.heap.SetDeferred(prev)

	vm.push(value.FromObj(fn))
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(value.FromObj(closure))
	if err := vm.call(closure, 0); err != nil {
		return err
	}
	return vm.run()
}

func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]

	for {
		vm.heap.Safepoint()
		if vm.trace != nil {
			vm.traceInstruction(frame)
		}

		op := ir.OpCode(frame.readByte())
		// No instruction grows the stack by more than one slot.
		if vm.sp == len(vm.stack) {
			return vm.runtimeError("Stack overflow.")
		}

		switch op {
		case ir.OpConstant:
			vm.push(frame.readConstant())
		case ir.OpNil:
			vm.push(value.Nil())
		case ir.OpTrue:
			vm.push(value.Bool(true))
		case ir.OpFalse:
			vm.push(value.Bool(false))
		case ir.OpPop:
			vm.pop()

		case ir.OpGetLocal:
			slot := int(frame.readByte())
			vm.push(vm.stack[frame.Base+slot])
		case ir.OpSetLocal:
			slot := int(frame.readByte())
			vm.stack[frame.Base+slot] = vm.peek(0)

		case ir.OpGetGlobal:
			name := frame.readString()
			v, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.push(v)
		case ir.OpDefineGlobal:
			name := frame.readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()
		case ir.OpSetGlobal:
			name := frame.readString()
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}

		case ir.OpGetUpvalue:
			slot := frame.readByte()
			vm.push(frame.Clo.Upvalues[slot].Get())
		case ir.OpSetUpvalue:
			slot := frame.readByte()
			frame.Clo.Upvalues[slot].Set(vm.peek(0))

		case ir.OpGetProperty:
			if !vm.peek(0).IsInstance() {
				return vm.runtimeError("Only instances have properties.")
			}
			instance := vm.peek(0).AsInstance()
			name := frame.readString()
			if field, ok := instance.Fields.Get(name); ok {
				vm.pop()
				vm.push(field)
			} else if err := vm.bindMethod(instance.Class, name); err != nil {
				return err
			}
		case ir.OpSetProperty:
			if !vm.peek(1).IsInstance() {
				return vm.runtimeError("Only instances have fields.")
			}
			instance := vm.peek(1).AsInstance()
			instance.Fields.Set(frame.readString(), vm.peek(0))
			v := vm.pop()
			vm.pop()
			vm.push(v)
		case ir.OpGetSuper:
			name := frame.readString()
			if !vm.peek(0).IsClass() {
				return vm.runtimeError("Superclass must be a class.")
			}
			superclass := vm.pop().AsClass()
			if err := vm.bindMethod(superclass, name); err != nil {
				return err
			}

		case ir.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case ir.OpGreater, ir.OpLess, ir.OpSubtract, ir.OpMultiply, ir.OpDivide:
			if err := vm.binaryOp(op); err != nil {
				return err
			}
		case ir.OpAdd:
			if err := vm.add(); err != nil {
				return err
			}
		case ir.OpNot:
			vm.push(value.Bool(vm.pop().IsFalsey()))
		case ir.OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.push(value.Number(-vm.pop().AsNumber()))

		case ir.OpPrint:
			fmt.Fprintln(vm.stdout, vm.pop().String())

		case ir.OpJump:
			offset := frame.readShort()
			frame.IP += offset
		case ir.OpJumpIfFalse:
			offset := frame.readShort()
			if vm.peek(0).IsFalsey() {
				frame.IP += offset
			}
		case ir.OpLoop:
			offset := frame.readShort()
			frame.IP -= offset

		case ir.OpCall:
			argCount := int(frame.readByte())
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]
		case ir.OpInvoke:
			method := frame.readString()
			argCount := int(frame.readByte())
			if err := vm.invoke(method, argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]
		case ir.OpSuperInvoke:
			method := frame.readString()
			argCount := int(frame.readByte())
			if !vm.peek(0).IsClass() {
				return vm.runtimeError("Superclass must be a class.")
			}
			superclass := vm.pop().AsClass()
			if err := vm.invokeFromClass(superclass, method, argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case ir.OpClosure:
			fn := frame.readConstant().AsFunction()
			closure := vm.heap.NewClosure(fn)
			vm.push(value.FromObj(closure))
			for i := range closure.Upvalues {
				isLocal := frame.readByte()
				index := int(frame.readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.Base + index)
				} else {
					closure.Upvalues[i] = frame.Clo.Upvalues[index]
				}
			}
		case ir.OpCloseUpvalue:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()

		case ir.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.Base)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.sp = frame.Base
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case ir.OpClass:
			vm.push(value.FromObj(vm.heap.NewClass(frame.readString())))
		case ir.OpInherit:
			superclass := vm.peek(1)
			if !superclass.IsClass() {
				return vm.runtimeError("Superclass must be a class.")
			}
			if !vm.peek(0).IsClass() {
				return vm.runtimeError("Only classes can inherit.")
			}
			subclass := vm.peek(0).AsClass()
			subclass.Methods.AddAll(&superclass.AsClass().Methods)
			vm.pop()
		case ir.OpMethod:
			name := frame.readString()
			if !vm.peek(1).IsClass() || !vm.peek(0).IsClosure() {
				return vm.runtimeError("Only classes have methods.")
			}
			class := vm.peek(1).AsClass()
			class.Methods.Set(name, vm.peek(0))
			vm.pop()

		default:
			return vm.runtimeError("Unknown opcode %d.", byte(op))
		}
	}
}

func (vm *VM) binaryOp(op ir.OpCode) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("Operands of '%s' must be numbers.", operatorSymbol(op))
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	switch op {
	case ir.OpGreater:
		vm.push(value.Bool(a > b))
	case ir.OpLess:
		vm.push(value.Bool(a < b))
	case ir.OpSubtract:
		vm.push(value.Number(a - b))
	case ir.OpMultiply:
		vm.push(value.Number(a * b))
	case ir.OpDivide:
		vm.push(value.Number(a / b))
	}
	return nil
}

func (vm *VM) add() error {
	switch {
	case vm.peek(0).IsString() && vm.peek(1).IsString():
		b := vm.peek(0).AsString()
		a := vm.peek(1).AsString()
		// Both operands stay on the stack until the result exists.
		result := vm.heap.Concat(a, b)
		vm.pop()
		vm.pop()
		vm.push(value.FromObj(result))
	case vm.peek(0).IsNumber() && vm.peek(1).IsNumber():
		b := vm.pop().AsNumber()
		a := vm.pop().AsNumber()
		vm.push(value.Number(a + b))
	default:
		return vm.runtimeError("Operands of '+' must be two numbers or two strings.")
	}
	return nil
}

// operatorSymbol is the source operator a binary opcode was compiled from.
// <= and >= compile to a negated > and <, so they report as > and <.
func operatorSymbol(op ir.OpCode) string {
	switch op {
	case ir.OpGreater:
		return ">"
	case ir.OpLess:
		return "<"
	case ir.OpSubtract:
		return "-"
	case ir.OpMultiply:
		return "*"
	case ir.OpDivide:
		return "/"
	case ir.OpAdd:
		return "+"
	}
	return op.String()
}

func (vm *VM) traceInstruction(frame *Frame) {
	fmt.Fprint(vm.trace, "          ")
	for _, v := range vm.stack[:vm.sp] {
		fmt.Fprintf(vm.trace, "[ %s ]", v)
	}
	fmt.Fprintln(vm.trace)
	ir.DisassembleInstruction(vm.trace, &frame.Clo.Function.Chunk, frame.IP)
}
