package vm

import (
	"errors"
	"fmt"
)

// ErrRuntime is wrapped by every error a program raises while running.
var ErrRuntime = errors.New("runtime error")

// TraceLine is one frame of a runtime error's stack trace.
type TraceLine struct {
	Line     int
	Function string
}

func (t TraceLine) String() string {
	return fmt.Sprintf("[line %d] in %s", t.Line, t.Function)
}

// RuntimeError aborts the current top-level run. Trace lists the active
// frames innermost first.
type RuntimeError struct {
	Message string
	Trace   []TraceLine
}

func (e *RuntimeError) Error() string { return e.Message }

func (e *RuntimeError) Unwrap() error { return ErrRuntime }

// runtimeError reports the error with a trace of the active frames, then
// resets the stack so the VM can run again.
func (vm *VM) runtimeError(format string, args ...any) error {
	err := &RuntimeError{Message: fmt.Sprintf(format, args...)}
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		fn := f.Clo.Function
		err.Trace = append(err.Trace, TraceLine{
			Line:     fn.Chunk.Line(f.IP - 1),
			Function: fn.DisplayName(),
		})
	}

	vm.errColor.Fprintln(vm.stderr, err.Message)
	for _, t := range err.Trace {
		vm.traceColor.Fprintln(vm.stderr, t.String())
	}

	vm.resetStack()
	return err
}

func (vm *VM) resetStack() {
	vm.sp = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}
