package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"loxvm/internal/ir"
	"loxvm/internal/vm"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <file.lox|file.loxc>",
	Short: "Compile and execute a script or run a bytecode image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFile(cmd, args[0])
	},
}

func init() {
	runCmd.Flags().Bool("trace", false, "print the stack and each instruction before it executes")
	runCmd.Flags().Bool("stats", false, "print garbage collector statistics after the run")
}

func runFile(cmd *cobra.Command, path string) error {
	var opts []vm.Option
	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		opts = append(opts, vm.WithTrace(cmd.ErrOrStderr()))
	}
	m := newVM(cmd, opts...)
	defer m.Free()

	var err error
	if filepath.Ext(path) == ir.ImageExt {
		err = runImage(m, path)
	} else {
		err = runSource(m, path)
	}

	if stats, _ := cmd.Flags().GetBool("stats"); stats {
		s := m.Heap().Stats()
		fmt.Fprintf(cmd.ErrOrStderr(), "gc: %d collections, %d objects freed, %d live objects, %d bytes allocated, next collection at %d bytes\n",
			s.Collections, s.FreedObjects, s.Objects, s.BytesAllocated, s.NextGC)
	}
	return err
}

func runSource(m *vm.VM, path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return withExit(exitIO, fmt.Errorf("could not open file %q: %w", path, err))
	}
	return m.Interpret(string(source))
}

func runImage(m *vm.VM, path string) error {
	fn, err := ir.ReadImageFile(path, m.Heap())
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return withExit(exitIO, fmt.Errorf("could not open file %q: %w", path, err))
		}
		return withExit(exitData, fmt.Errorf("failed to read bytecode: %w", err))
	}
	return m.Run(fn)
}
