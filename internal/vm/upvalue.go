package vm

import "loxvm/internal/value"

// captureUpvalue returns the open upvalue for the stack slot, creating it if
// no closure has captured the slot yet. The open list is sorted by slot,
// highest first.
func (vm *VM) captureUpvalue(slot int) *value.Upvalue {
	var prev *value.Upvalue
	upvalue := vm.openUpvalues
	for upvalue != nil && upvalue.Slot > slot {
		prev = upvalue
		upvalue = upvalue.NextOpen
	}
	if upvalue != nil && upvalue.Slot == slot {
		return upvalue
	}

	created := vm.heap.NewUpvalue(&vm.stack[slot], slot)
	created.NextOpen = upvalue
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the stack slot last.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= last {
		upvalue := vm.openUpvalues
		vm.openUpvalues = upvalue.NextOpen
		upvalue.Close()
	}
}
