package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"loxvm/internal/vm"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Read and evaluate lines interactively",
	Long: `Start an interactive session. Every line is compiled and run on the same VM,
so globals defined on one line are visible on the next. Errors are reported and
the session continues.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return repl(cmd)
	},
}

func repl(cmd *cobra.Command) error {
	m := newVM(cmd)
	defer m.Free()

	in := cmd.InOrStdin()
	prompt := ""
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		prompt = "> "
	}
	return readEvalLoop(m, in, cmd.OutOrStdout(), prompt)
}

// readEvalLoop interprets in line by line until EOF. Compile and runtime
// errors have already been reported by the VM and do not end the session.
func readEvalLoop(m *vm.VM, in io.Reader, out io.Writer, prompt string) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			if prompt != "" {
				fmt.Fprintln(out)
			}
			return scanner.Err()
		}
		_ = m.Interpret(scanner.Text())
	}
}
