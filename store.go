package loom

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// TemplateExt is the extension template files carry on disk.
const TemplateExt = ".tmpl"

// builtinTemplates are available even without a template directory. A file
// with the same name shadows the built-in.
var builtinTemplates = map[string]string{
	"raw":    "{{.Prompt}}",
	"assist": "Human: {{.Prompt}}\nAssistant:",
	"summarize": "{{if .Previous}}Running summary so far:\n{{.Previous}}\n\n{{end}}" +
		"Summarize the following text:\n\n{{.Prompt}}\n\nSummary:",
}

// FileStore resolves template names against a directory of *.tmpl files,
// falling back to the built-in set. Lookups are cached briefly so a long
// chunked run does not re-read the same file per chunk.
type FileStore struct {
	dir   string
	cache *ttlcache.Cache[string, string]
}

// NewFileStore returns a FileStore rooted at dir. An empty dir serves only
// the built-in templates.
func NewFileStore(dir string) *FileStore {
	cache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](30 * time.Second),
	)
	go cache.Start()
	return &FileStore{dir: expandTilde(dir), cache: cache}
}

// Lookup implements TemplateStore.
func (s *FileStore) Lookup(name string) (string, error) {
	name = strings.TrimSuffix(name, TemplateExt)
	if item := s.cache.Get(name); item != nil {
		return item.Value(), nil
	}

	if s.dir != "" {
		b, err := os.ReadFile(filepath.Join(s.dir, name+TemplateExt))
		if err == nil {
			s.cache.Set(name, string(b), ttlcache.DefaultTTL)
			return string(b), nil
		}
		if !os.IsNotExist(err) {
			return "", newError(KindTemplateNotFound, fmt.Errorf("template %q: %w", name, err))
		}
	}

	if text, ok := builtinTemplates[name]; ok {
		return text, nil
	}
	return "", newError(KindTemplateNotFound, fmt.Errorf("no template named %q in %s or built-ins", name, s.dir))
}

// List returns the names of all resolvable templates, built-ins included.
func (s *FileStore) List() []string {
	names := map[string]bool{}
	for name := range builtinTemplates {
		names[name] = true
	}
	if s.dir != "" {
		matches, _ := filepath.Glob(filepath.Join(s.dir, "*"+TemplateExt))
		for _, m := range matches {
			names[strings.TrimSuffix(filepath.Base(m), TemplateExt)] = true
		}
	}
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close stops the cache janitor.
func (s *FileStore) Close() {
	s.cache.Stop()
}
