package value

import (
	"fmt"
	"math"
	"strconv"
)

// Kind is the type of a value at runtime.
type Kind uint8

const (
	// KindNil is the zero Kind so that the zero Value is nil.
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObj
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindObj:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a universal value for the VM. It is a small tagged union: the
// payload of a bool or number lives in num, the payload of a heap reference
// lives in obj.
type Value struct {
	kind Kind
	num  float64
	obj  Obj
}

// Constructors

func Nil() Value {
	return Value{}
}

func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, num: 1}
	}
	return Value{kind: KindBool}
}

func Number(n float64) Value {
	return Value{kind: KindNumber, num: n}
}

// FromObj wraps a heap reference.
func FromObj(o Obj) Value {
	if o == nil {
		panic("value: FromObj(nil)")
	}
	return Value{kind: KindObj, obj: o}
}

// Queries

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsObj() bool    { return v.kind == KindObj }

// IsObjKind reports whether v references a heap object of kind k.
func (v Value) IsObjKind(k ObjKind) bool {
	return v.kind == KindObj && v.obj.Kind() == k
}

func (v Value) IsString() bool      { return v.IsObjKind(ObjString) }
func (v Value) IsFunction() bool    { return v.IsObjKind(ObjFunction) }
func (v Value) IsNative() bool      { return v.IsObjKind(ObjNative) }
func (v Value) IsClosure() bool     { return v.IsObjKind(ObjClosure) }
func (v Value) IsClass() bool       { return v.IsObjKind(ObjClass) }
func (v Value) IsInstance() bool    { return v.IsObjKind(ObjInstance) }
func (v Value) IsBoundMethod() bool { return v.IsObjKind(ObjBoundMethod) }

// IsFalsey reports whether v is nil or false. Every other value, including
// 0 and the empty string, is truthy.
func (v Value) IsFalsey() bool {
	return v.kind == KindNil || (v.kind == KindBool && v.num == 0)
}

// Projections. Each one requires the matching kind and panics otherwise;
// callers check the kind first.

func (v Value) AsBool() bool {
	v.expect(KindBool)
	return v.num != 0
}

func (v Value) AsNumber() float64 {
	v.expect(KindNumber)
	return v.num
}

func (v Value) AsObj() Obj {
	v.expect(KindObj)
	return v.obj
}

func (v Value) AsString() *String           { return v.AsObj().(*String) }
func (v Value) AsFunction() *Function       { return v.AsObj().(*Function) }
func (v Value) AsNative() *Native           { return v.AsObj().(*Native) }
func (v Value) AsClosure() *Closure         { return v.AsObj().(*Closure) }
func (v Value) AsClass() *Class             { return v.AsObj().(*Class) }
func (v Value) AsInstance() *Instance       { return v.AsObj().(*Instance) }
func (v Value) AsBoundMethod() *BoundMethod { return v.AsObj().(*BoundMethod) }

func (v Value) expect(k Kind) {
	if v.kind != k {
		panic(fmt.Sprintf("value: expected %s, got %s", k, v.kind))
	}
}

// Equal compares by value for nil, bools and numbers and by identity for
// heap objects. Interned strings make identity equal to content equality.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool, KindNumber:
		return a.num == b.num
	case KindObj:
		return a.obj == b.obj
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case KindNumber:
		return FormatNumber(v.num)
	case KindObj:
		return v.obj.String()
	default:
		return "<invalid>"
	}
}

// FormatNumber renders n in the shortest %g form.
func FormatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "nan"
	case math.IsInf(n, 1):
		return "inf"
	case math.IsInf(n, -1):
		return "-inf"
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}
