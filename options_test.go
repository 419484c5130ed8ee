package loom

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInputHandlerProcess(t *testing.T) {
	readAll := func(t *testing.T, h *InputHandler) string {
		t.Helper()
		r, err := h.Process(context.Background())
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		b, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		return string(b)
	}

	t.Run("OrderIsFilesStringsArgs", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "in.txt")
		if err := os.WriteFile(path, []byte("file "), 0o644); err != nil {
			t.Fatal(err)
		}
		h := &InputHandler{
			Files:   []string{path},
			Strings: []string{"string "},
			Args:    []string{"arg"},
		}
		if got := readAll(t, h); got != "file string arg" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("DashReadsStdin", func(t *testing.T) {
		h := &InputHandler{
			Files: []string{"-"},
			Stdin: strings.NewReader("piped"),
		}
		if got := readAll(t, h); got != "piped" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("DashWithoutStdinIsEmpty", func(t *testing.T) {
		h := &InputHandler{Files: []string{"-"}}
		if got := readAll(t, h); got != "" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("MissingFileErrors", func(t *testing.T) {
		h := &InputHandler{Files: []string{"/does/not/exist"}}
		if _, err := h.Process(context.Background()); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
