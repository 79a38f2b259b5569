package runtime

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	scripterrors "github.com/wippyai/script-runtime/errors"
)

func TestFileLoaderNormalize(t *testing.T) {
	tests := []struct {
		name string
		base string
		ref  string
		want string
	}{
		{"sibling", "src/main.js", "./util.js", "src/util.js"},
		{"parent", "src/deep/main.js", "../shared.js", "src/shared.js"},
		{"builtin untouched", "src/main.js", "std", "std"},
		{"bare name untouched", "src/main.js", "lodash", "lodash"},
		{"absolute-ish untouched", "src/main.js", "/etc/x.js", "/etc/x.js"},
		{"dot chain collapses", "a/b/c.js", "./../d.js", "a/d.js"},
		{"base without dir", "main.js", "./util.js", "util.js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FileLoader{}.Normalize(tt.base, tt.ref)
			if err != nil {
				t.Fatalf("Normalize(%q, %q): %v", tt.base, tt.ref, err)
			}
			if got != tt.want {
				t.Fatalf("Normalize(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
			}
		})
	}
}

func TestFileLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "mod.js")
	if err := os.WriteFile(name, []byte("export let x = 1;\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := FileLoader{}.Load(name)
	if err != nil {
		t.Fatalf("Load(%q): %v", name, err)
	}
	if string(src) != "export let x = 1;\n" {
		t.Fatalf("Load(%q) = %q", name, src)
	}
}

func TestFileLoaderLoadMissing(t *testing.T) {
	_, err := FileLoader{}.Load(filepath.Join(t.TempDir(), "absent.js"))
	if err == nil {
		t.Fatal("expected error for a missing module")
	}
	var se *scripterrors.Error
	if !errors.As(err, &se) {
		t.Fatalf("error is not a structured error: %v", err)
	}
	if se.Kind != scripterrors.KindIO {
		t.Fatalf("Kind = %v, want %v", se.Kind, scripterrors.KindIO)
	}
}
