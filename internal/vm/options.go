package vm

import (
	"io"
	"os"

	"golang.org/x/term"

	"loxvm/internal/config"
)

// Option configures a VM built by New.
type Option func(*options)

type options struct {
	cfg    config.Config
	stdout io.Writer
	stderr io.Writer
	trace  io.Writer
	color  *bool
}

func defaultOptions() options {
	return options{
		cfg:    config.Default(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// WithConfig sets GC pacing, frame depth and the colour mode.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithStdout redirects the output of print statements.
func WithStdout(w io.Writer) Option {
	return func(o *options) { o.stdout = w }
}

// WithStderr redirects diagnostics: compile errors, runtime errors and their
// stack traces.
func WithStderr(w io.Writer) Option {
	return func(o *options) { o.stderr = w }
}

// WithColor forces coloured diagnostics on or off, overriding the config.
func WithColor(on bool) Option {
	return func(o *options) { o.color = &on }
}

// WithTrace writes the stack and each instruction to w before it executes.
func WithTrace(w io.Writer) Option {
	return func(o *options) { o.trace = w }
}

func (o *options) useColor() bool {
	if o.color != nil {
		return *o.color
	}
	switch o.cfg.VM.Color {
	case "on":
		return true
	case "off":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := o.stderr.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
