package heap

import (
	"github.com/tliron/commonlog"

	"loxvm/internal/memory"
	"loxvm/internal/value"
)

// MarkValue marks v if it holds an object.
func (h *Heap) MarkValue(v value.Value) {
	if v.IsObj() {
		h.MarkObject(v.AsObj())
	}
}

// MarkObject marks o and queues it for tracing. Nil and already marked
// objects are ignored.
func (h *Heap) MarkObject(o value.Obj) {
	if isNil(o) || o.Marked() {
		return
	}
	o.SetMarked(true)
	h.gray = memory.Append[value.Obj](nil, h.gray, o)
}

// MarkTable marks every key and value in t.
func (h *Heap) MarkTable(t *value.Table) {
	t.Each(func(key *value.String, v value.Value) {
		h.MarkObject(key)
		h.MarkValue(v)
	})
}

// isNil catches typed nil pointers stored in the interface, such as a
// function with no name or a closure slot not yet filled.
func isNil(o value.Obj) bool {
	switch o := o.(type) {
	case nil:
		return true
	case *value.String:
		return o == nil
	case *value.Function:
		return o == nil
	case *value.Native:
		return o == nil
	case *value.Closure:
		return o == nil
	case *value.Upvalue:
		return o == nil
	case *value.Class:
		return o == nil
	case *value.Instance:
		return o == nil
	case *value.BoundMethod:
		return o == nil
	}
	return false
}

// Collect runs a full mark-and-sweep cycle. It is a no-op when called from
// inside a collection.
func (h *Heap) Collect() {
	if h.collecting {
		return
	}
	h.collecting = true
	defer func() { h.collecting = false }()

	before := h.bytesAllocated
	objectsBefore := h.objectCount

	for _, r := range h.roots {
		r.MarkRoots(h)
	}
	h.traceReferences()
	internedFreed := h.strings.RemoveUnmarked()
	h.sweep()

	next := int(float64(h.bytesAllocated) * h.growFactor)
	if next < h.minHeap {
		next = h.minHeap
	}
	h.nextGC = next

	h.stats.Collections++
	h.stats.FreedObjects += objectsBefore - h.objectCount
	h.stats.LastFreedBytes = before - h.bytesAllocated

	if h.log.AllowLevel(commonlog.Debug) {
		h.log.Debugf("[%s] gc #%d: collected %d bytes (from %d to %d), %d objects, %d interned strings dropped, next at %d",
			h.label, h.stats.Collections, before-h.bytesAllocated, before, h.bytesAllocated,
			objectsBefore-h.objectCount, internedFreed, h.nextGC)
	}
}

func (h *Heap) traceReferences() {
	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray[len(h.gray)-1] = nil
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}
}

func (h *Heap) blacken(o value.Obj) {
	switch o := o.(type) {
	case *value.String, *value.Native:
	case *value.Upvalue:
		h.MarkValue(o.Closed)
	case *value.Function:
		h.MarkObject(o.Name)
		for _, c := range o.Chunk.Constants {
			h.MarkValue(c)
		}
	case *value.Closure:
		h.MarkObject(o.Function)
		for _, u := range o.Upvalues {
			h.MarkObject(u)
		}
	case *value.Class:
		h.MarkObject(o.Name)
		h.MarkTable(&o.Methods)
	case *value.Instance:
		h.MarkObject(o.Class)
		h.MarkTable(&o.Fields)
	case *value.BoundMethod:
		h.MarkValue(o.Receiver)
		h.MarkObject(o.Method)
	}
}

func (h *Heap) sweep() {
	var previous value.Obj
	obj := h.objects
	for obj != nil {
		if obj.Marked() {
			obj.SetMarked(false)
			previous = obj
			obj = obj.Next()
			continue
		}
		unreached := obj
		obj = obj.Next()
		if previous != nil {
			previous.SetNext(obj)
		} else {
			h.objects = obj
		}
		h.free(unreached)
	}
}
