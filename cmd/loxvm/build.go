package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"loxvm/internal/compiler"
	"loxvm/internal/heap"
	"loxvm/internal/ir"
)

var buildCmd = &cobra.Command{
	Use:   "build [flags] <file.lox>",
	Short: "Compile a script into a bytecode image",
	Long: `Compile a script and write its bytecode to a .loxc image that "loxvm run"
executes without recompiling.`,
	Args: cobra.ExactArgs(1),
	RunE: buildImage,
}

func init() {
	buildCmd.Flags().StringP("output", "o", "", "output file (default: <input>"+ir.ImageExt+")")
	buildCmd.Flags().Bool("disasm", false, "print a disassembly of every compiled function")
}

func buildImage(cmd *cobra.Command, args []string) error {
	input := args[0]
	out, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	if out == "" {
		out = strings.TrimSuffix(input, filepath.Ext(input)) + ir.ImageExt
	}
	if out == input {
		return fmt.Errorf("build: output would overwrite input %q", input)
	}

	source, err := os.ReadFile(input)
	if err != nil {
		return withExit(exitIO, fmt.Errorf("could not open file %q: %w", input, err))
	}

	h := heap.New(settings.GC, "build")
	defer h.FreeAll()

	fn, err := compiler.Compile(h, string(source))
	if err != nil {
		diagColor().Fprintln(cmd.ErrOrStderr(), err.Error())
		return err
	}

	if disasm, _ := cmd.Flags().GetBool("disasm"); disasm {
		ir.DisassembleFunction(cmd.OutOrStdout(), fn)
	}

	if err := ir.WriteImageFile(out, fn); err != nil {
		return withExit(exitIO, fmt.Errorf("failed to write bytecode: %w", err))
	}
	return nil
}
