package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	writeFile(t, path, `
[gc]
initial-threshold = 4096
stress = true

[vm]
frames-max = 128
color = "off"

[log]
verbosity = 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GC.InitialThreshold != 4096 || !cfg.GC.Stress {
		t.Fatalf("gc section not applied: %+v", cfg.GC)
	}
	if cfg.GC.GrowFactor != DefaultGrowFactor {
		t.Fatalf("unset key lost its default: %+v", cfg.GC)
	}
	if cfg.VM.FramesMax != 128 || cfg.VM.Color != "off" {
		t.Fatalf("vm section not applied: %+v", cfg.VM)
	}
	if cfg.Log.Verbosity != 2 {
		t.Fatalf("log section not applied: %+v", cfg.Log)
	}
	if cfg.Path != path {
		t.Fatalf("Path = %q", cfg.Path)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "[gc]\nthreshold = 1\n", "unknown key"},
		{"bad factor", "[gc]\ngrow-factor = 0.5\n", "grow-factor"},
		{"bad frames", "[vm]\nframes-max = 0\n", "frames-max"},
		{"bad color", "[vm]\ncolor = \"maybe\"\n", "color"},
		{"syntax", "[gc\n", "failed to parse TOML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			writeFile(t, path, tt.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestResolve_SearchesUpward(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), "[vm]\nframes-max = 32\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg, err := Resolve("", nested)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.VM.FramesMax != 32 {
		t.Fatalf("expected config from parent directory, got %+v", cfg.VM)
	}
}

func TestResolve_FallsBackToDefaults(t *testing.T) {
	cfg, err := Resolve("", t.TempDir())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Path != "" && filepath.Base(cfg.Path) != FileName {
		t.Fatalf("unexpected path %q", cfg.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("resolved config invalid: %v", err)
	}
}
