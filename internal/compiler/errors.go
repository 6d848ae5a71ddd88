package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCompile is wrapped by every error Compile returns.
var ErrCompile = errors.New("compile error")

// Diagnostic is one reported compile error.
type Diagnostic struct {
	Line int
	// Where is " at 'lexeme'", " at end", or empty for scan errors.
	Where   string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[line %d] Error%s: %s", d.Line, d.Where, d.Message)
}

// Error lists every diagnostic reported while compiling one source text.
type Error struct {
	Diagnostics []Diagnostic
}

func (e *Error) Error() string {
	lines := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		lines[i] = d.String()
	}
	return strings.Join(lines, "\n")
}

func (e *Error) Unwrap() error { return ErrCompile }
