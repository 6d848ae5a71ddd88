package vm

import (
	"fmt"
	"time"

	"loxvm/internal/value"
)

// DefineNative binds fn to the global name. Both objects stay on the stack
// until the global holds them.
func (vm *VM) DefineNative(name string, fn value.NativeFn) {
	vm.push(value.FromObj(vm.heap.CopyString(name)))
	vm.push(value.FromObj(vm.heap.NewNative(name, fn)))
	vm.globals.Set(vm.peek(1).AsString(), vm.peek(0))
	vm.pop()
	vm.pop()
}

func (vm *VM) defineStdlib() {
	vm.DefineNative("clock", vm.clockNative)
	vm.DefineNative("str", vm.strNative)
}

func checkArity(args []value.Value, arity int) error {
	if len(args) != arity {
		return fmt.Errorf("Expected %d arguments but got %d.", arity, len(args))
	}
	return nil
}

// clockNative returns the seconds elapsed since the VM was created.
func (vm *VM) clockNative(args []value.Value) (value.Value, error) {
	if err := checkArity(args, 0); err != nil {
		return value.Nil(), err
	}
	return value.Number(time.Since(vm.start).Seconds()), nil
}

// strNative returns the printed form of its argument as a string.
func (vm *VM) strNative(args []value.Value) (value.Value, error) {
	if err := checkArity(args, 1); err != nil {
		return value.Nil(), err
	}
	if args[0].IsString() {
		return args[0], nil
	}
	return value.FromObj(vm.heap.CopyString(args[0].String())), nil
}
