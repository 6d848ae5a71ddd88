package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"loxvm/internal/compiler"
	"loxvm/internal/config"
	"loxvm/internal/heap"
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] <file.lox>...",
	Short: "Compile scripts without running them and report errors",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := cmd.Flags().GetInt("jobs")
		if err != nil {
			return fmt.Errorf("failed to get jobs flag: %w", err)
		}
		return checkFiles(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), settings.GC, args, jobs)
	},
}

func init() {
	checkCmd.Flags().Int("jobs", 0, "files compiled in parallel (default: GOMAXPROCS)")
}

type checkResult struct {
	path string
	err  error
}

// checkFiles compiles every file on its own heap, in parallel, and reports
// the results in argument order.
func checkFiles(ctx context.Context, stdout, stderr io.Writer, gc config.GC, files []string, jobs int) error {
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	results := make([]checkResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(files)))
	for i, path := range files {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			results[i] = checkResult{path: path, err: checkFile(gc, path)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	red := diagColor()
	var failed, ioFailed int
	for _, r := range results {
		var cerr *compiler.Error
		switch {
		case r.err == nil:
			fmt.Fprintf(stdout, "%s: ok\n", r.path)
		case errors.As(r.err, &cerr):
			failed++
			for _, d := range cerr.Diagnostics {
				red.Fprintf(stderr, "%s: %s\n", r.path, d)
			}
		default:
			ioFailed++
			red.Fprintf(stderr, "%s: %v\n", r.path, r.err)
		}
	}

	switch {
	case ioFailed > 0:
		return withExit(exitIO, fmt.Errorf("%d of %d files could not be read", ioFailed, len(files)))
	case failed > 0:
		return fmt.Errorf("%d of %d files failed to compile: %w", failed, len(files), compiler.ErrCompile)
	}
	return nil
}

func checkFile(gc config.GC, path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	h := heap.New(gc, path)
	defer h.FreeAll()
	_, err = compiler.Compile(h, string(source))
	return err
}
