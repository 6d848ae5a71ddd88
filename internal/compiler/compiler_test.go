package compiler_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"loxvm/internal/compiler"
	"loxvm/internal/config"
	"loxvm/internal/heap"
	"loxvm/internal/ir"
	"loxvm/internal/value"
)

func newHeap(t *testing.T, stress bool) *heap.Heap {
	t.Helper()
	cfg := config.Default().GC
	cfg.Stress = stress
	h := heap.New(cfg, "compiler-test")
	t.Cleanup(h.FreeAll)
	return h
}

func mustCompile(t *testing.T, h *heap.Heap, src string) *value.Function {
	t.Helper()
	fn, err := compiler.Compile(h, src)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	return fn
}

func op(o ir.OpCode) byte { return byte(o) }

func TestCompile_Bytecode(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []byte
	}{
		{
			"arithmetic",
			"print 1 + 2 * 3;",
			[]byte{
				op(ir.OpConstant), 0, op(ir.OpConstant), 1, op(ir.OpConstant), 2,
				op(ir.OpMultiply), op(ir.OpAdd), op(ir.OpPrint),
				op(ir.OpNil), op(ir.OpReturn),
			},
		},
		{
			"comparison desugaring",
			"print 1 <= 2;",
			[]byte{
				op(ir.OpConstant), 0, op(ir.OpConstant), 1,
				op(ir.OpGreater), op(ir.OpNot), op(ir.OpPrint),
				op(ir.OpNil), op(ir.OpReturn),
			},
		},
		{
			"local scope",
			"{ var a = 1; print a; }",
			[]byte{
				op(ir.OpConstant), 0, op(ir.OpGetLocal), 1, op(ir.OpPrint),
				op(ir.OpPop),
				op(ir.OpNil), op(ir.OpReturn),
			},
		},
		{
			"global",
			"var a = 1; a = 2;",
			[]byte{
				op(ir.OpConstant), 1, op(ir.OpDefineGlobal), 0,
				op(ir.OpConstant), 2, op(ir.OpSetGlobal), 0, op(ir.OpPop),
				op(ir.OpNil), op(ir.OpReturn),
			},
		},
		{
			"if",
			"if (true) print 1;",
			[]byte{
				op(ir.OpTrue),
				op(ir.OpJumpIfFalse), 0, 7,
				op(ir.OpPop),
				op(ir.OpConstant), 0, op(ir.OpPrint),
				op(ir.OpJump), 0, 1,
				op(ir.OpPop),
				op(ir.OpNil), op(ir.OpReturn),
			},
		},
		{
			"while",
			"while (false) print 1;",
			[]byte{
				op(ir.OpFalse),
				op(ir.OpJumpIfFalse), 0, 7,
				op(ir.OpPop),
				op(ir.OpConstant), 0, op(ir.OpPrint),
				op(ir.OpLoop), 0, 11,
				op(ir.OpPop),
				op(ir.OpNil), op(ir.OpReturn),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := mustCompile(t, newHeap(t, false), tt.src)
			if !bytes.Equal(fn.Chunk.Code, tt.want) {
				var listing bytes.Buffer
				ir.DisassembleChunk(&listing, &fn.Chunk, tt.name)
				t.Fatalf("bytecode mismatch\n got %v\nwant %v\n%s", fn.Chunk.Code, tt.want, listing.String())
			}
		})
	}
}

func TestCompile_ScriptFunction(t *testing.T) {
	fn := mustCompile(t, newHeap(t, false), "")
	if fn.Name != nil || fn.Arity != 0 {
		t.Fatalf("script = %s arity %d", fn, fn.Arity)
	}
	if fn.String() != "<script>" {
		t.Fatalf("String() = %q", fn.String())
	}
}

func functionConstants(fn *value.Function) []*value.Function {
	var out []*value.Function
	for _, c := range fn.Chunk.Constants {
		if c.IsFunction() {
			out = append(out, c.AsFunction())
		}
	}
	return out
}

func TestCompile_Closures(t *testing.T) {
	src := `
fun outer(a, b) {
  var x = 1;
  fun middle() {
    fun inner() { return x + a; }
    return inner;
  }
  return middle;
}`
	script := mustCompile(t, newHeap(t, false), src)
	outer := functionConstants(script)[0]
	if outer.Name.Chars != "outer" || outer.Arity != 2 || outer.UpvalueCount != 0 {
		t.Fatalf("outer = %s arity %d upvalues %d", outer, outer.Arity, outer.UpvalueCount)
	}
	middle := functionConstants(outer)[0]
	if middle.UpvalueCount != 2 {
		t.Fatalf("middle captures %d upvalues, want 2", middle.UpvalueCount)
	}
	inner := functionConstants(middle)[0]
	if inner.UpvalueCount != 2 {
		t.Fatalf("inner captures %d upvalues, want 2", inner.UpvalueCount)
	}

	// outer closes over locals: the closure for middle captures slots 3 (x)
	// and 1 (a) of outer, in first-use order.
	code := outer.Chunk.Code
	i := bytes.IndexByte(code, op(ir.OpClosure))
	if i < 0 {
		t.Fatalf("no closure instruction in outer")
	}
	got := code[i+2 : i+6]
	if !bytes.Equal(got, []byte{1, 3, 1, 1}) {
		t.Fatalf("middle upvalue descriptors = %v, want [1 3 1 1]", got)
	}
}

func TestCompile_InitializerReturnsThis(t *testing.T) {
	script := mustCompile(t, newHeap(t, false), "class A { init() {} }")
	initFn := functionConstants(script)[0]
	code := initFn.Chunk.Code
	want := []byte{op(ir.OpGetLocal), 0, op(ir.OpReturn)}
	if !bytes.Equal(code, want) {
		t.Fatalf("init body = %v, want %v", code, want)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"redeclared local", "{ var a; var a; }", "[line 1] Error at 'a': Already a variable with this name in this scope."},
		{"top-level return", "return 1;", "[line 1] Error at 'return': Can't return from top-level code."},
		{"initializer value", "class A { init() { return 1; } }", "[line 1] Error at 'return': Can't return a value from an initializer."},
		{"self inherit", "class A < A {}", "[line 1] Error at 'A': A class can't inherit from itself."},
		{"this outside class", "print this;", "[line 1] Error at 'this': Can't use 'this' outside of a class."},
		{"super outside class", "print super.x;", "[line 1] Error at 'super': Can't use 'super' outside of a class."},
		{"super without superclass", "class A { m() { super.m(); } }", "[line 1] Error at 'super': Can't use 'super' in a class with no superclass."},
		{"invalid assignment", "1 = 2;", "[line 1] Error at '=': Invalid assignment target."},
		{"invalid compound target", "var a; var b; a + b = 3;", "[line 1] Error at '=': Invalid assignment target."},
		{"missing semicolon", "print 1", "[line 1] Error at end: Expect ';' after value."},
		{"missing expression", "\n\nprint ;", "[line 3] Error at ';': Expect expression."},
		{"scan error", "print @;", "[line 1] Error: Unexpected character."},
		{"unterminated string", "var s = \"open;", "[line 1] Error: Unterminated string."},
		{"missing class brace", "class A", "[line 1] Error at end: Expect '{' before class body."},
		{"missing property name", "var a; a.1;", "[line 1] Error at '1': Expect property name after '.'."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := compiler.Compile(newHeap(t, false), tt.src)
			if fn != nil {
				t.Fatalf("expected no function on failure")
			}
			if err == nil {
				t.Fatalf("expected compile error")
			}
			if !errors.Is(err, compiler.ErrCompile) {
				t.Fatalf("error does not wrap ErrCompile: %v", err)
			}
			var cerr *compiler.Error
			if !errors.As(err, &cerr) {
				t.Fatalf("error is %T, want *compiler.Error", err)
			}
			if got := cerr.Diagnostics[0].String(); got != tt.want {
				t.Fatalf("first diagnostic\n got %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestCompile_SynchronizesAfterError(t *testing.T) {
	_, err := compiler.Compile(newHeap(t, false), "print ;\nvar ok = 1;\nprint ;")
	var cerr *compiler.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *compiler.Error, got %v", err)
	}
	want := "[line 1] Error at ';': Expect expression.\n[line 3] Error at ';': Expect expression."
	if cerr.Error() != want {
		t.Fatalf("diagnostics\n got %q\nwant %q", cerr.Error(), want)
	}
}

func TestCompile_Limits(t *testing.T) {
	var consts strings.Builder
	for i := 0; i <= value.MaxConstants; i++ {
		fmt.Fprintf(&consts, "print %d;\n", i)
	}

	var locals strings.Builder
	locals.WriteString("{\n")
	for i := 0; i < 256; i++ {
		fmt.Fprintf(&locals, "var v%d;\n", i)
	}
	locals.WriteString("}\n")

	params := make([]string, 256)
	for i := range params {
		params[i] = fmt.Sprintf("p%d", i)
	}

	args := make([]string, 256)
	for i := range args {
		args[i] = "nil"
	}

	var bigJump strings.Builder
	bigJump.WriteString("if (true) {\n")
	for i := 0; i < 11000; i++ {
		bigJump.WriteString("nil; nil; nil;\n")
	}
	bigJump.WriteString("}\n")

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"constants", consts.String(), "Too many constants in one chunk."},
		{"locals", locals.String(), "Too many local variables in function."},
		{"parameters", "fun f(" + strings.Join(params, ", ") + ") {}", "Can't have more than 255 parameters."},
		{"arguments", "fun f() {} f(" + strings.Join(args, ", ") + ");", "Can't have more than 255 arguments."},
		{"jump", bigJump.String(), "Too much code to jump over."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compiler.Compile(newHeap(t, false), tt.src)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q, got %v", tt.want, err)
			}
		})
	}
}

type rooted struct{ fn *value.Function }

func (r *rooted) MarkRoots(h *heap.Heap) { h.MarkObject(r.fn) }

func TestCompile_UnderStressGC(t *testing.T) {
	src := `
class Greeter {
  init(name) { this.name = name; }
  greet() { return "hello " + this.name; }
}
fun make(n) {
  var label = "item";
  fun get() { return label + n; }
  return get;
}
var g = Greeter("world");
print g.greet();
`
	h := newHeap(t, true)
	fn := mustCompile(t, h, src)
	r := &rooted{fn: fn}
	defer h.AddRoots(r)()

	h.Collect()

	var names []string
	for _, c := range fn.Chunk.Constants {
		if c.IsString() {
			names = append(names, c.AsString().Chars)
		}
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"Greeter", "make", "g", "greet"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("constant %q lost after collection: %v", want, names)
		}
	}
	// Interned strings in nested functions survive and stay canonical.
	greeter := functionConstants(fn)
	if len(greeter) != 3 {
		t.Fatalf("script holds %d functions, want 3", len(greeter))
	}
	for _, f := range greeter {
		if f.Name == nil || h.CopyString(f.Name.Chars) != f.Name {
			t.Fatalf("function name not interned: %v", f.Name)
		}
	}
}
