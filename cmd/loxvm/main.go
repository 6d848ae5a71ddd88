package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/term"

	"loxvm/internal/compiler"
	"loxvm/internal/config"
	"loxvm/internal/ir"
	"loxvm/internal/vm"
)

// Exit codes follow sysexits.h.
const (
	exitUsage   = 64
	exitData    = 65
	exitRuntime = 70
	exitIO      = 74
)

var rootCmd = &cobra.Command{
	Use:   "loxvm [script]",
	Short: "Bytecode virtual machine for the Lox scripting language",
	Long: `loxvm compiles Lox source to bytecode and runs it on a stack VM with a
mark-and-sweep garbage collector. Without arguments it starts a REPL.`,
	Args:              cobra.MaximumNArgs(1),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadSettings,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return repl(cmd)
		}
		return runFile(cmd, args[0])
	},
}

// settings is the resolved configuration shared by every command.
var settings config.Config

func init() {
	rootCmd.Version = version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize diagnostics (auto|on|off)")
	rootCmd.PersistentFlags().String("config", "", "path to loxvm.toml (default: search upward from the working directory)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "increase log verbosity (-vv logs every GC cycle)")
	rootCmd.PersistentFlags().Bool("stress-gc", false, "collect garbage before every allocation and instruction")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Compile and runtime errors have already been reported.
		if !errors.Is(err, compiler.ErrCompile) && !errors.Is(err, vm.ErrRuntime) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(exitCode(err))
	}
}

func loadSettings(cmd *cobra.Command, args []string) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Resolve(path, configSearchDir(args))
	if err != nil {
		return withExit(exitIO, err)
	}

	if cmd.Flags().Changed("color") {
		cfg.VM.Color, _ = cmd.Flags().GetString("color")
	}
	if stress, _ := cmd.Flags().GetBool("stress-gc"); stress {
		cfg.GC.Stress = true
	}
	verbose, _ := cmd.Flags().GetCount("verbose")
	cfg.Log.Verbosity += verbose
	if err := cfg.Validate(); err != nil {
		return err
	}

	commonlog.Configure(logVerbosity(cfg.Log.Verbosity), nil)
	if cfg.Path != "" {
		commonlog.GetLogger("loxvm").Infof("using configuration %s", cfg.Path)
	}
	settings = cfg
	return nil
}

// configSearchDir is where the upward search for loxvm.toml starts: the
// directory of the first script argument, else the working directory.
func configSearchDir(args []string) string {
	if len(args) > 0 {
		return filepath.Dir(args[0])
	}
	return "."
}

// logVerbosity maps the configured verbosity onto commonlog levels: 0 logs
// errors, 1 info, 2 and above debug.
func logVerbosity(v int) int {
	switch {
	case v <= 0:
		return -2
	case v == 1:
		return 1
	default:
		return 2
	}
}

// useColor resolves the colour mode against the terminal f writes to.
func useColor(f *os.File) bool {
	switch settings.VM.Color {
	case "on":
		return true
	case "off":
		return false
	}
	return os.Getenv("NO_COLOR") == "" && isTerminal(f)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// newVM builds a VM for the resolved settings that writes to the command's
// output streams.
func newVM(cmd *cobra.Command, opts ...vm.Option) *vm.VM {
	opts = append([]vm.Option{
		vm.WithConfig(settings),
		vm.WithStdout(cmd.OutOrStdout()),
		vm.WithStderr(cmd.ErrOrStderr()),
		vm.WithColor(useColor(os.Stderr)),
	}, opts...)
	return vm.New(opts...)
}

func diagColor() *color.Color {
	c := color.New(color.FgRed, color.Bold)
	if useColor(os.Stderr) {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExit(code int, err error) error {
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, compiler.ErrCompile), errors.Is(err, ir.ErrBadImage):
		return exitData
	case errors.Is(err, vm.ErrRuntime):
		return exitRuntime
	default:
		return exitUsage
	}
}
