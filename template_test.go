package loom

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type mapStore map[string]string

func (m mapStore) Lookup(name string) (string, error) {
	if text, ok := m[name]; ok {
		return text, nil
	}
	return "", newError(KindTemplateNotFound, os.ErrNotExist)
}

func TestRenderer(t *testing.T) {
	t.Run("SubstitutesPromptAndVars", func(t *testing.T) {
		r := NewRenderer(mapStore{"greet": "{{.Greeting}}, here is the text: {{.Prompt}}"})
		got, err := r.Render("greet", "chunk body", map[string]string{"Greeting": "Hello"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "Hello, here is the text: chunk body"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("NoUnresolvedMarkers", func(t *testing.T) {
		r := NewRenderer(mapStore{"t": "a={{.A}} b={{.B}} p={{.Prompt}}"})
		got, err := r.Render("t", "x", map[string]string{"A": "1", "B": "2"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(got, "{{") || strings.Contains(got, "<no value>") {
			t.Errorf("output contains unresolved placeholder: %q", got)
		}
	})

	t.Run("MissingKey", func(t *testing.T) {
		r := NewRenderer(mapStore{"t": "needs {{.Missing}}"})
		_, err := r.Render("t", "x", nil)
		if err == nil {
			t.Fatal("expected error")
		}
		if got := KindOf(err); got != KindMissingTemplateKey {
			t.Errorf("expected KindMissingTemplateKey, got %v", got)
		}
		if !strings.Contains(err.Error(), "Missing") {
			t.Errorf("error should name the missing key: %v", err)
		}
	})

	t.Run("DefaultsAreNotRequired", func(t *testing.T) {
		r := NewRenderer(mapStore{
			"or":      `style: {{or .Style "terse"}}`,
			"default": `style: {{.Style | default "terse"}}`,
		})
		for _, name := range []string{"or", "default"} {
			got, err := r.Render(name, "x", nil)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", name, err)
			}
			if got != "style: terse" {
				t.Errorf("%s: got %q", name, got)
			}
		}
	})

	t.Run("ConditionalFieldsRenderEmpty", func(t *testing.T) {
		r := NewRenderer(mapStore{"t": "{{if .A}}[{{.B}}]{{end}}"})
		got, err := r.Render("t", "x", map[string]string{"A": "yes"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "[]" {
			t.Errorf("got %q, want %q", got, "[]")
		}
	})

	t.Run("ConditionKeyIsOptional", func(t *testing.T) {
		r := NewRenderer(mapStore{"t": "{{if .Flag}}on{{else}}off{{end}}"})
		got, err := r.Render("t", "x", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "off" {
			t.Errorf("got %q, want %q", got, "off")
		}
	})

	t.Run("OverridesBeatDefaults", func(t *testing.T) {
		r := NewRenderer(mapStore{"t": `{{or .Style "terse"}}`})
		got, err := r.Render("t", "x", map[string]string{"Style": "verbose"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "verbose" {
			t.Errorf("got %q, want %q", got, "verbose")
		}
	})

	t.Run("TemplateMayIgnorePrompt", func(t *testing.T) {
		r := NewRenderer(mapStore{"t": "static text"})
		got, err := r.Render("t", "ignored chunk", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "static text" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("UnknownTemplate", func(t *testing.T) {
		r := NewRenderer(mapStore{})
		_, err := r.Render("nope", "x", nil)
		if got := KindOf(err); got != KindTemplateNotFound {
			t.Errorf("expected KindTemplateNotFound, got %v", got)
		}
	})
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "custom.tmpl"), []byte("custom: {{.Prompt}}"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewFileStore(dir)
	defer s.Close()

	t.Run("ReadsFile", func(t *testing.T) {
		text, err := s.Lookup("custom")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if text != "custom: {{.Prompt}}" {
			t.Errorf("got %q", text)
		}
	})

	t.Run("CachesLookups", func(t *testing.T) {
		if _, err := s.Lookup("custom"); err != nil {
			t.Fatal(err)
		}
		// Removing the file should not matter while the entry is cached.
		if err := os.Remove(filepath.Join(dir, "custom.tmpl")); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Lookup("custom"); err != nil {
			t.Errorf("expected cached hit, got %v", err)
		}
	})

	t.Run("FallsBackToBuiltin", func(t *testing.T) {
		text, err := s.Lookup("assist")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(text, PromptKey) {
			t.Errorf("builtin should reference the prompt key: %q", text)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.Lookup("does-not-exist")
		if got := KindOf(err); got != KindTemplateNotFound {
			t.Errorf("expected KindTemplateNotFound, got %v", got)
		}
	})

	t.Run("ListIncludesFilesAndBuiltins", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(dir, "extra.tmpl"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		names := s.List()
		want := map[string]bool{"extra": true, "assist": true, "raw": true, "summarize": true}
		for name := range want {
			var found bool
			for _, n := range names {
				if n == name {
					found = true
				}
			}
			if !found {
				t.Errorf("List() missing %q: %v", name, names)
			}
		}
	})
}
