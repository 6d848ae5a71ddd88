package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loxvm/internal/compiler"
	"loxvm/internal/config"
	"loxvm/internal/heap"
	"loxvm/internal/ir"
	"loxvm/internal/vm"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// execute runs the root command with a config file that disables colour.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cfg := writeFile(t, t.TempDir(), config.FileName, "[vm]\ncolor = \"off\"\n")

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append(args, "--config", cfg))
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	ok := writeFile(t, dir, "ok.lox", `fun greet(n) { return "hi " + n; } print greet("there");`)
	runtimeErr := writeFile(t, dir, "boom.lox", "var a = 1;\nprint -nil;")
	compileErr := writeFile(t, dir, "bad.lox", "print ;")

	tests := []struct {
		name       string
		file       string
		wantOut    string
		wantStderr string
		wantCode   int
	}{
		{"success", ok, "hi there\n", "", 0},
		{"runtime error", runtimeErr, "", "Operand must be a number.\n[line 2] in script\n", exitRuntime},
		{"compile error", compileErr, "", "[line 1] Error at ';': Expect expression.\n", exitData},
		{"missing file", filepath.Join(dir, "missing.lox"), "", "", exitIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := execute(t, "run", tt.file)
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("run: %v", err)
				}
			} else if code := exitCode(err); code != tt.wantCode {
				t.Fatalf("exit code = %d (%v), want %d", code, err, tt.wantCode)
			}
			if stdout != tt.wantOut {
				t.Fatalf("stdout = %q, want %q", stdout, tt.wantOut)
			}
			if tt.wantStderr != "" && stderr != tt.wantStderr {
				t.Fatalf("stderr = %q, want %q", stderr, tt.wantStderr)
			}
		})
	}
}

func TestRun_ConfigNextToScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, config.FileName, "[vm]\ncolor = \"off\"\nframes-max = 8\n")
	script := writeFile(t, dir, "deep.lox", "fun depth(n) { if (n == 0) return 0; return 1 + depth(n - 1); }\nprint depth(10);")

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs([]string{"run", script, "--config", ""})
	err := rootCmd.Execute()

	if code := exitCode(err); code != exitRuntime {
		t.Fatalf("exit code = %d (%v), want %d", code, err, exitRuntime)
	}
	if !strings.HasPrefix(stderr.String(), "Stack overflow.\n") {
		t.Fatalf("stderr = %q, want a stack overflow under frames-max 8", stderr.String())
	}
	if settings.Path != filepath.Join(dir, config.FileName) {
		t.Fatalf("loaded %q, want the file beside the script", settings.Path)
	}
}

func TestConfigSearchDir(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, "."},
		{[]string{"prog.lox"}, "."},
		{[]string{filepath.Join("scripts", "a", "prog.lox"), "other.lox"}, filepath.Join("scripts", "a")},
	}
	for _, tt := range tests {
		if got := configSearchDir(tt.args); got != tt.want {
			t.Errorf("configSearchDir(%q) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestBuildThenRunImage(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "counter.lox", `fun makeCounter() { var i = 0; fun inc() { i = i + 1; return i; } return inc; }
var c = makeCounter();
c();
print c();`)
	out := filepath.Join(dir, "counter"+ir.ImageExt)

	stdout, _, err := execute(t, "build", src, "-o", out, "--disasm")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{"== <script> ==", "== <fn makeCounter> ==", "== <fn inc> ==", "OP_CLOSURE"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("disassembly missing %q:\n%s", want, stdout)
		}
	}

	stdout, _, err = execute(t, "run", out)
	if err != nil {
		t.Fatalf("run image: %v", err)
	}
	if stdout != "2\n" {
		t.Fatalf("image printed %q, want 2", stdout)
	}
}

func TestBuild_CompileError(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "bad.lox", "var = 1;")
	out := filepath.Join(dir, "bad"+ir.ImageExt)

	_, stderr, err := execute(t, "build", src, "-o", out)
	if exitCode(err) != exitData {
		t.Fatalf("exit code = %d (%v), want %d", exitCode(err), err, exitData)
	}
	if !strings.Contains(stderr, "Expect variable name.") {
		t.Fatalf("stderr = %q", stderr)
	}
	if _, err := os.Stat(out); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("image written for failed build: %v", err)
	}
}

func TestRun_CorruptImage(t *testing.T) {
	path := writeFile(t, t.TempDir(), "junk"+ir.ImageExt, "not an image")
	_, _, err := execute(t, "run", path)
	if code := exitCode(err); code != exitData {
		t.Fatalf("exit code = %d (%v), want %d", code, err, exitData)
	}
	if !errors.Is(err, ir.ErrBadImage) {
		t.Fatalf("error does not wrap ErrBadImage: %v", err)
	}
}

func TestCheckFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.lox", "print 1;")
	bad := writeFile(t, dir, "bad.lox", "print ;\nprint 2")
	gc := config.Default().GC

	var stdout, stderr bytes.Buffer
	err := checkFiles(context.Background(), &stdout, &stderr, gc, []string{good, bad, good}, 2)
	if !errors.Is(err, compiler.ErrCompile) {
		t.Fatalf("expected compile failure, got %v", err)
	}
	if exitCode(err) != exitData {
		t.Fatalf("exit code = %d", exitCode(err))
	}
	wantOut := good + ": ok\n" + good + ": ok\n"
	if stdout.String() != wantOut {
		t.Fatalf("stdout = %q, want %q", stdout.String(), wantOut)
	}
	wantErr := bad + ": [line 1] Error at ';': Expect expression.\n" +
		bad + ": [line 2] Error at end: Expect ';' after value.\n"
	if stderr.String() != wantErr {
		t.Fatalf("stderr = %q, want %q", stderr.String(), wantErr)
	}

	stdout.Reset()
	stderr.Reset()
	if err := checkFiles(context.Background(), &stdout, &stderr, gc, []string{good}, 0); err != nil {
		t.Fatalf("check good file: %v", err)
	}

	err = checkFiles(context.Background(), &stdout, &stderr, gc, []string{filepath.Join(dir, "nope.lox")}, 1)
	if exitCode(err) != exitIO {
		t.Fatalf("missing file exit code = %d (%v)", exitCode(err), err)
	}
}

func TestReadEvalLoop(t *testing.T) {
	var out, diag bytes.Buffer
	m := vm.New(vm.WithStdout(&out), vm.WithStderr(&diag), vm.WithColor(false))
	defer m.Free()

	in := strings.NewReader("var a = 1;\nprint a + 1;\nprint b;\nprint a;\n")
	if err := readEvalLoop(m, in, &out, "> "); err != nil {
		t.Fatalf("readEvalLoop: %v", err)
	}
	if out.String() != "> > 2\n> > 1\n> \n" {
		t.Fatalf("session output = %q", out.String())
	}
	if !strings.Contains(diag.String(), "Undefined variable 'b'.") {
		t.Fatalf("diagnostics = %q", diag.String())
	}
}

func TestVersion_JSON(t *testing.T) {
	stdout, _, err := execute(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var payload versionPayload
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if payload.Tool != "loxvm" || payload.ImageVersion != ir.ImageVersion {
		t.Fatalf("payload = %+v", payload)
	}
	versionFormat = "pretty"
}

func TestExitCode(t *testing.T) {
	h := heap.New(config.Default().GC, "exit-code")
	defer h.FreeAll()
	_, compileErr := compiler.Compile(h, "print")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"compile", compileErr, exitData},
		{"runtime", &vm.RuntimeError{Message: "boom"}, exitRuntime},
		{"bad image", ir.ErrBadImage, exitData},
		{"explicit", withExit(exitIO, errors.New("disk")), exitIO},
		{"usage", errors.New("unknown flag"), exitUsage},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("%s: exitCode = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestLogVerbosity(t *testing.T) {
	for v, want := range map[int]int{0: -2, 1: 1, 2: 2, 5: 2} {
		if got := logVerbosity(v); got != want {
			t.Errorf("logVerbosity(%d) = %d, want %d", v, got, want)
		}
	}
}
