package vm

import "loxvm/internal/value"

// callValue calls the value argCount slots below the top of the stack with
// the arguments above it.
func (vm *VM) callValue(callee value.Value, argCount int) error {
	if callee.IsObj() {
		switch o := callee.AsObj().(type) {
		case *value.BoundMethod:
			vm.stack[vm.sp-argCount-1] = o.Receiver
			return vm.call(o.Method, argCount)
		case *value.Class:
			vm.stack[vm.sp-argCount-1] = value.FromObj(vm.heap.NewInstance(o))
			if initializer, ok := o.Methods.Get(vm.initString); ok {
				return vm.call(initializer.AsClosure(), argCount)
			}
			if argCount != 0 {
				return vm.runtimeError("Expected 0 arguments but got %d.", argCount)
			}
			return nil
		case *value.Closure:
			return vm.call(o, argCount)
		case *value.Native:
			return vm.callNative(o, argCount)
		}
	}
	return vm.runtimeError("Can only call functions and classes.")
}

// call pushes a frame for closure. Its base is the callee slot, so local 0
// is the receiver for methods and the closure itself otherwise.
func (vm *VM) call(closure *value.Closure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
	}
	if vm.frameCount == len(vm.frames) {
		return vm.runtimeError("Stack overflow.")
	}

	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.Clo = closure
	frame.IP = 0
	frame.Base = vm.sp - argCount - 1
	return nil
}

func (vm *VM) callNative(native *value.Native, argCount int) error {
	args := vm.stack[vm.sp-argCount : vm.sp]
	result, err := native.Fn(args)
	if err != nil {
		return vm.runtimeError("%s", err.Error())
	}
	vm.sp -= argCount + 1
	vm.push(result)
	return nil
}

// invoke looks name up on the receiver and calls it without materializing a
// bound method. A field holding a callable shadows a method of the same name.
func (vm *VM) invoke(name *value.String, argCount int) error {
	receiver := vm.peek(argCount)
	if !receiver.IsInstance() {
		return vm.runtimeError("Only instances have methods.")
	}
	instance := receiver.AsInstance()

	if field, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.sp-argCount-1] = field
		return vm.callValue(field, argCount)
	}
	return vm.invokeFromClass(instance.Class, name, argCount)
}

func (vm *VM) invokeFromClass(class *value.Class, name *value.String, argCount int) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name.Chars)
	}
	return vm.call(method.AsClosure(), argCount)
}

// bindMethod replaces the receiver on top of the stack with its method name
// bound to it.
func (vm *VM) bindMethod(class *value.Class, name *value.String) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name.Chars)
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), method.AsClosure())
	vm.pop()
	vm.push(value.FromObj(bound))
	return nil
}
