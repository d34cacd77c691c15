package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/ifps/script"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[script]
target-version = 21
setstacktype-cutoff = 20

[output]
dir = "out"
extension = ".ifpsasm"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Script.TargetVersion != 21 {
		t.Errorf("target-version = %d, want 21", m.Script.TargetVersion)
	}
	if m.Script.SetStackTypeCutoff != 20 {
		t.Errorf("setstacktype-cutoff = %d, want 20", m.Script.SetStackTypeCutoff)
	}
	if m.Output.Dir != "out" {
		t.Errorf("output dir = %q, want out", m.Output.Dir)
	}
	if m.Output.Extension != ".ifpsasm" {
		t.Errorf("output extension = %q, want .ifpsasm", m.Output.Extension)
	}
	if opts := m.LoadOptions(); opts.SetStackTypeCutoff != 20 {
		t.Errorf("LoadOptions().SetStackTypeCutoff = %d, want 20", opts.SetStackTypeCutoff)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[script]\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Script.TargetVersion != 0 {
		t.Errorf("default target-version = %d, want 0", m.Script.TargetVersion)
	}
	if m.Script.SetStackTypeCutoff != script.DefaultSetStackTypeCutoff {
		t.Errorf("default setstacktype-cutoff = %d, want %d", m.Script.SetStackTypeCutoff, script.DefaultSetStackTypeCutoff)
	}
	if m.Output.Extension != ".txt" {
		t.Errorf("default extension = %q, want .txt", m.Output.Extension)
	}

	d := Default()
	if d.Script.SetStackTypeCutoff != m.Script.SetStackTypeCutoff || d.Output.Extension != m.Output.Extension {
		t.Errorf("Default() = %+v, want the same defaults as an empty file", d)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"target version too low", "[script]\ntarget-version = 11\n", "target-version 11"},
		{"target version too high", "[script]\ntarget-version = 24\n", "target-version 24"},
		{"cutoff out of range", "[script]\nsetstacktype-cutoff = 99\n", "setstacktype-cutoff 99"},
		{"syntax", "[script\n", "parse error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("Load should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[script]\ntarget-version = 23\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Script.TargetVersion != 23 {
		t.Errorf("target-version = %d, want 23", m.Script.TargetVersion)
	}
	if want, _ := filepath.Abs(dir); m.Dir != want {
		t.Errorf("Dir = %q, want %q", m.Dir, want)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no ifps.toml exists")
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		name string
		m    *Manifest
		want string
	}{
		{"next to input", &Manifest{}, filepath.Join("scripts", "setup.txt")},
		{"relative dir", &Manifest{Dir: "/proj", Output: OutputConfig{Dir: "out"}}, filepath.Join("/proj", "out", "setup.txt")},
		{"absolute dir", &Manifest{Dir: "/proj", Output: OutputConfig{Dir: "/tmp/x"}}, filepath.Join("/tmp/x", "setup.txt")},
		{"no manifest dir", &Manifest{Output: OutputConfig{Dir: "out"}}, filepath.Join("out", "setup.txt")},
	}
	for _, tt := range tests {
		if got := tt.m.OutputPath(filepath.Join("scripts", "setup.bin"), ".txt"); got != tt.want {
			t.Errorf("%s: OutputPath() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
