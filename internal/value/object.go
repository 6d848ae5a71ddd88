package value

import "fmt"

// ObjKind tags the variant of a heap object.
type ObjKind uint8

const (
	ObjString ObjKind = iota
	ObjFunction
	ObjNative
	ObjClosure
	ObjUpvalue
	ObjClass
	ObjInstance
	ObjBoundMethod
)

func (k ObjKind) String() string {
	switch k {
	case ObjString:
		return "string"
	case ObjFunction:
		return "function"
	case ObjNative:
		return "native"
	case ObjClosure:
		return "closure"
	case ObjUpvalue:
		return "upvalue"
	case ObjClass:
		return "class"
	case ObjInstance:
		return "instance"
	case ObjBoundMethod:
		return "bound method"
	default:
		return fmt.Sprintf("ObjKind(%d)", uint8(k))
	}
}

// Header is embedded in every heap object. next links the object into the
// heap's allocation list, which is the only path the sweeper walks.
type Header struct {
	marked bool
	next   Obj
}

func (h *Header) Marked() bool       { return h.marked }
func (h *Header) SetMarked(m bool)   { h.marked = m }
func (h *Header) Next() Obj          { return h.next }
func (h *Header) SetNext(o Obj)      { h.next = o }
func (h *Header) header() *Header    { return h }

// Obj is a heap object. The set of implementations is closed: only types
// embedding Header satisfy it.
type Obj interface {
	Kind() ObjKind
	String() string
	Marked() bool
	SetMarked(bool)
	Next() Obj
	SetNext(Obj)
	header() *Header
}

// String is an immutable, interned byte sequence.
type String struct {
	Header
	Chars string
	Hash  uint32
}

func (s *String) Kind() ObjKind  { return ObjString }
func (s *String) String() string { return s.Chars }

// HashString is 32-bit FNV-1a.
func HashString(s string) uint32 {
	hash := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// Function is a compiled function body. Name is nil for the top-level
// script.
type Function struct {
	Header
	Arity        int
	UpvalueCount int
	Chunk        Chunk
	Name         *String
}

func (f *Function) Kind() ObjKind { return ObjFunction }

func (f *Function) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return "<fn " + f.Name.Chars + ">"
}

// DisplayName is the name used in stack traces.
func (f *Function) DisplayName() string {
	if f.Name == nil {
		return "script"
	}
	return f.Name.Chars + "()"
}

// NativeFn is a host function. args aliases the VM stack and must not be
// retained after the call returns. Arity is checked by the function itself.
type NativeFn func(args []Value) (Value, error)

type Native struct {
	Header
	Name string
	Fn   NativeFn
}

func (n *Native) Kind() ObjKind  { return ObjNative }
func (n *Native) String() string { return "<native fn>" }

type Closure struct {
	Header
	Function *Function
	Upvalues []*Upvalue
}

func (c *Closure) Kind() ObjKind  { return ObjClosure }
func (c *Closure) String() string { return c.Function.String() }

// Upvalue is a captured variable. While open, Location points at the live
// stack slot numbered Slot and NextOpen links it into the VM's open list.
// Close copies the slot into Closed and repoints Location at it.
type Upvalue struct {
	Header
	Location *Value
	Slot     int
	Closed   Value
	NextOpen *Upvalue
	open     bool
}

// NewOpenUpvalue returns an upvalue referencing the stack slot at index slot.
func NewOpenUpvalue(location *Value, slot int) *Upvalue {
	return &Upvalue{Location: location, Slot: slot, open: true}
}

func (u *Upvalue) Kind() ObjKind  { return ObjUpvalue }
func (u *Upvalue) String() string { return "upvalue" }
func (u *Upvalue) IsOpen() bool   { return u.open }
func (u *Upvalue) Get() Value     { return *u.Location }
func (u *Upvalue) Set(v Value)    { *u.Location = v }

// Close detaches the upvalue from the stack. Closing a closed upvalue is a
// no-op.
func (u *Upvalue) Close() {
	if !u.open {
		return
	}
	u.Closed = *u.Location
	u.Location = &u.Closed
	u.NextOpen = nil
	u.open = false
}

type Class struct {
	Header
	Name    *String
	Methods Table
}

func (c *Class) Kind() ObjKind  { return ObjClass }
func (c *Class) String() string { return c.Name.Chars }

type Instance struct {
	Header
	Class  *Class
	Fields Table
}

func (i *Instance) Kind() ObjKind  { return ObjInstance }
func (i *Instance) String() string { return i.Class.Name.Chars + " instance" }

// BoundMethod pairs a method closure with the receiver it was read from.
type BoundMethod struct {
	Header
	Receiver Value
	Method   *Closure
}

func (b *BoundMethod) Kind() ObjKind  { return ObjBoundMethod }
func (b *BoundMethod) String() string { return b.Method.Function.String() }
