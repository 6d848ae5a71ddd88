package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"loxvm/internal/ir"
)

// Overridden at build time via -ldflags.
var (
	version   = "0.1.0"
	gitCommit = ""
	buildDate = ""
)

type versionPayload struct {
	Tool         string `json:"tool"`
	Version      string `json:"version"`
	ImageVersion uint8  `json:"image_version"`
	GoVersion    string `json:"go_version"`
	GitCommit    string `json:"git_commit,omitempty"`
	BuildDate    string `json:"build_date,omitempty"`
}

var versionFormat string

func init() {
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := versionPayload{
			Tool:         "loxvm",
			Version:      version,
			ImageVersion: ir.ImageVersion,
			GoVersion:    runtime.Version(),
			GitCommit:    gitCommit,
			BuildDate:    buildDate,
		}
		switch strings.ToLower(versionFormat) {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		case "pretty":
			renderVersionPretty(cmd.OutOrStdout(), payload)
			return nil
		default:
			return fmt.Errorf("unsupported format %q (must be pretty or json)", versionFormat)
		}
	},
}

func renderVersionPretty(w io.Writer, p versionPayload) {
	name := color.New(color.FgCyan, color.Bold)
	num := color.New(color.FgGreen, color.Bold)
	for _, c := range []*color.Color{name, num} {
		if useColor(os.Stdout) {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	fmt.Fprintf(w, "%s %s\n", name.Sprint(p.Tool), num.Sprint(p.Version))
	fmt.Fprintf(w, "  bytecode image format v%d\n", p.ImageVersion)
	fmt.Fprintf(w, "  built with %s\n", p.GoVersion)
	if p.GitCommit != "" {
		fmt.Fprintf(w, "  commit %s\n", p.GitCommit)
	}
	if p.BuildDate != "" {
		fmt.Fprintf(w, "  built on %s\n", p.BuildDate)
	}
}
