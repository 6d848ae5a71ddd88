package value

import (
	"math"
	"testing"
)

func TestEqual(t *testing.T) {
	s1 := &String{Chars: "a", Hash: HashString("a")}
	s2 := &String{Chars: "a", Hash: HashString("a")}

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"nil", Nil(), Nil(), true},
		{"true", Bool(true), Bool(true), true},
		{"true false", Bool(true), Bool(false), false},
		{"numbers", Number(1.5), Number(1.5), true},
		{"different numbers", Number(1), Number(2), false},
		{"nan", Number(math.NaN()), Number(math.NaN()), false},
		{"nil vs false", Nil(), Bool(false), false},
		{"zero vs false", Number(0), Bool(false), false},
		{"same object", FromObj(s1), FromObj(s1), true},
		{"distinct objects same content", FromObj(s1), FromObj(s2), false},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: Equal(%v, %v) = %v, want %v", tt.name, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIsFalsey(t *testing.T) {
	empty := &String{Chars: ""}
	tests := []struct {
		v    Value
		want bool
	}{
		{Nil(), true},
		{Bool(false), true},
		{Bool(true), false},
		{Number(0), false},
		{FromObj(empty), false},
	}
	for _, tt := range tests {
		if got := tt.v.IsFalsey(); got != tt.want {
			t.Errorf("IsFalsey(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestString(t *testing.T) {
	name := &String{Chars: "Point"}
	class := &Class{Name: name}
	fnName := &String{Chars: "add"}
	fn := &Function{Name: fnName}
	closure := &Closure{Function: fn}

	tests := []struct {
		v    Value
		want string
	}{
		{Nil(), "nil"},
		{Bool(true), "true"},
		{Bool(false), "false"},
		{Number(75025), "75025"},
		{Number(2.5), "2.5"},
		{Number(-0.125), "-0.125"},
		{Number(1e21), "1e+21"},
		{Number(math.Inf(1)), "inf"},
		{FromObj(name), "Point"},
		{FromObj(class), "Point"},
		{FromObj(&Instance{Class: class}), "Point instance"},
		{FromObj(fn), "<fn add>"},
		{FromObj(&Function{}), "<script>"},
		{FromObj(closure), "<fn add>"},
		{FromObj(&BoundMethod{Receiver: Nil(), Method: closure}), "<fn add>"},
		{FromObj(&Native{Name: "clock"}), "<native fn>"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestProjectionPanicsOnKindMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected AsNumber on a bool to panic")
		}
	}()
	_ = Bool(true).AsNumber()
}

func TestObjKindQueries(t *testing.T) {
	v := FromObj(&Closure{Function: &Function{}})
	if !v.IsClosure() || v.IsFunction() || v.IsString() {
		t.Fatalf("closure kind queries wrong")
	}
	if v.AsClosure().Function == nil {
		t.Fatalf("AsClosure lost the function")
	}
	if Number(1).IsClosure() {
		t.Fatalf("number reported as closure")
	}
}

func TestUpvalueCloseIsIdempotent(t *testing.T) {
	slot := Number(1)
	u := NewOpenUpvalue(&slot, 3)
	if !u.IsOpen() {
		t.Fatalf("new upvalue should be open")
	}
	u.Set(Number(2))
	if slot.AsNumber() != 2 {
		t.Fatalf("open upvalue should write through to the slot")
	}
	u.Close()
	slot = Number(99)
	if u.Get().AsNumber() != 2 {
		t.Fatalf("closed upvalue should hold its snapshot, got %v", u.Get())
	}
	u.Close()
	if u.Get().AsNumber() != 2 || u.IsOpen() {
		t.Fatalf("second Close changed the upvalue")
	}
}
