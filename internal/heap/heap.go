// Package heap owns every object the VM allocates. Objects are linked into a
// single allocation list, strings are interned, and a mark-and-sweep
// collector reclaims objects no registered root can reach.
package heap

import (
	"unsafe"

	"github.com/tliron/commonlog"

	"loxvm/internal/config"
	"loxvm/internal/memory"
	"loxvm/internal/value"
)

// RootSource marks the objects it holds live. The VM and an in-flight
// compilation both register one.
type RootSource interface {
	MarkRoots(h *Heap)
}

// Stats is a snapshot of collector state.
type Stats struct {
	Collections    int
	BytesAllocated int
	NextGC         int
	Objects        int
	FreedObjects   int
	LastFreedBytes int
}

// Heap is not safe for concurrent use.
type Heap struct {
	objects value.Obj
	strings value.Table
	gray    []value.Obj
	roots   []RootSource

	bytesAllocated int
	nextGC         int
	growFactor     float64
	minHeap        int
	stress         bool

	// deferred suppresses collection on allocation; the VM polls Safepoint
	// between instructions instead.
	deferred   bool
	collecting bool

	objectCount int
	stats       Stats

	label string
	log   commonlog.Logger
}

// New returns an empty heap paced by cfg. label tags log lines.
func New(cfg config.GC, label string) *Heap {
	h := &Heap{
		nextGC:     cfg.InitialThreshold,
		growFactor: cfg.GrowFactor,
		minHeap:    cfg.MinHeap,
		stress:     cfg.Stress,
		label:      label,
		log:        commonlog.GetLogger("loxvm.gc"),
	}
	if h.nextGC <= 0 {
		h.nextGC = config.DefaultInitialThreshold
	}
	if h.growFactor < 1 {
		h.growFactor = config.DefaultGrowFactor
	}
	h.strings.Init(h)
	return h
}

// Track implements memory.Tracker.
func (h *Heap) Track(delta int) {
	h.bytesAllocated += delta
}

// BytesAllocated is the current accounted heap size.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// ObjectCount is the number of objects on the allocation list.
func (h *Heap) ObjectCount() int { return h.objectCount }

// Stats returns a snapshot of collector counters.
func (h *Heap) Stats() Stats {
	s := h.stats
	s.BytesAllocated = h.bytesAllocated
	s.NextGC = h.nextGC
	s.Objects = h.objectCount
	return s
}

// AddRoots registers src and returns a function that unregisters it.
func (h *Heap) AddRoots(src RootSource) (remove func()) {
	h.roots = append(h.roots, src)
	return func() {
		for i, r := range h.roots {
			if r == src {
				h.roots = append(h.roots[:i], h.roots[i+1:]...)
				return
			}
		}
	}
}

// SetDeferred switches between collecting on allocation (false) and
// collecting only at Safepoint (true). It returns the previous mode.
func (h *Heap) SetDeferred(d bool) bool {
	prev := h.deferred
	h.deferred = d
	return prev
}

// ShouldCollect reports whether the pacing threshold has been crossed.
func (h *Heap) ShouldCollect() bool {
	return h.stress || h.bytesAllocated > h.nextGC
}

// Safepoint collects if the threshold has been crossed. Callers must have
// every live object reachable from a registered root.
func (h *Heap) Safepoint() {
	if h.ShouldCollect() {
		h.Collect()
	}
}

// allocate accounts size bytes for o and links it into the allocation list.
// Outside deferred mode a collection may run first; o itself is not yet
// linked, so everything it references must already be rooted.
func (h *Heap) allocate(o value.Obj, size int) {
	h.bytesAllocated += size
	if !h.deferred && h.ShouldCollect() {
		h.Collect()
	}
	o.SetNext(h.objects)
	h.objects = o
	h.objectCount++
}

// NewFunction returns a blank function whose chunk is accounted to h.
func (h *Heap) NewFunction() *value.Function {
	fn := &value.Function{}
	fn.Chunk.Init(h)
	h.allocate(fn, int(unsafe.Sizeof(*fn)))
	return fn
}

func (h *Heap) NewNative(name string, fn value.NativeFn) *value.Native {
	n := &value.Native{Name: name, Fn: fn}
	h.allocate(n, int(unsafe.Sizeof(*n)))
	return n
}

// NewClosure returns a closure over fn with UpvalueCount empty upvalue
// slots. fn must be rooted by the caller.
func (h *Heap) NewClosure(fn *value.Function) *value.Closure {
	n := fn.UpvalueCount
	var upvalues []*value.Upvalue
	if n > 0 {
		upvalues = memory.Reallocate[*value.Upvalue](h, nil, n)[:n]
	}
	c := &value.Closure{Function: fn, Upvalues: upvalues}
	h.allocate(c, int(unsafe.Sizeof(*c)))
	return c
}

// NewUpvalue returns an open upvalue for the stack slot at index slot.
func (h *Heap) NewUpvalue(location *value.Value, slot int) *value.Upvalue {
	u := value.NewOpenUpvalue(location, slot)
	h.allocate(u, int(unsafe.Sizeof(*u)))
	return u
}

func (h *Heap) NewClass(name *value.String) *value.Class {
	c := &value.Class{Name: name}
	c.Methods.Init(h)
	h.allocate(c, int(unsafe.Sizeof(*c)))
	return c
}

func (h *Heap) NewInstance(class *value.Class) *value.Instance {
	i := &value.Instance{Class: class}
	i.Fields.Init(h)
	h.allocate(i, int(unsafe.Sizeof(*i)))
	return i
}

func (h *Heap) NewBoundMethod(receiver value.Value, method *value.Closure) *value.BoundMethod {
	b := &value.BoundMethod{Receiver: receiver, Method: method}
	h.allocate(b, int(unsafe.Sizeof(*b)))
	return b
}

// FreeAll releases every object and the intern table. The heap is empty
// afterwards and may be reused.
func (h *Heap) FreeAll() {
	obj := h.objects
	for obj != nil {
		next := obj.Next()
		h.free(obj)
		obj = next
	}
	h.objects = nil
	h.strings.Free()
	h.gray = nil
}

func (h *Heap) free(o value.Obj) {
	switch o := o.(type) {
	case *value.String:
		h.bytesAllocated -= int(unsafe.Sizeof(*o)) + len(o.Chars)
	case *value.Function:
		o.Chunk.Free()
		h.bytesAllocated -= int(unsafe.Sizeof(*o))
	case *value.Native:
		h.bytesAllocated -= int(unsafe.Sizeof(*o))
	case *value.Closure:
		o.Upvalues = memory.Release(h, o.Upvalues)
		h.bytesAllocated -= int(unsafe.Sizeof(*o))
	case *value.Upvalue:
		h.bytesAllocated -= int(unsafe.Sizeof(*o))
	case *value.Class:
		o.Methods.Free()
		h.bytesAllocated -= int(unsafe.Sizeof(*o))
	case *value.Instance:
		o.Fields.Free()
		h.bytesAllocated -= int(unsafe.Sizeof(*o))
	case *value.BoundMethod:
		h.bytesAllocated -= int(unsafe.Sizeof(*o))
	}
	o.SetNext(nil)
	h.objectCount--
}
